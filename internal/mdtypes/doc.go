// Package mdtypes provides the shared value types for the molecular dynamics
// update-constrain pipeline:
//
//   - [Vec3]: 3-vector for positions, velocities and forces
//   - [Tensor]: 3x3 matrix for the virial and velocity scaling
//   - the sentinel error set shared by all pipeline packages
//
// Quantities use GROMACS-flavored units: nm, ps, amu, kJ/mol.
package mdtypes
