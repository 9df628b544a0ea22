// Package topology describes the constraint structure of a particle system:
// fixed-length bonds for the iterative solver and rigid three-site waters for
// the analytic solver, plus per-atom masses and temperature-coupling groups.
package topology

import (
	"fmt"

	"github.com/san-kum/mdstep/internal/mdtypes"
)

// Bond is a fixed-distance constraint between two atoms.
type Bond struct {
	I, J   int
	Length float64
}

// Water is a rigid triatomic group: one oxygen and two hydrogens held at the
// target O-H and H-H distances.
type Water struct {
	O, H1, H2 int
}

// Topology is the constraint summary for one system. DOH and DHH are the
// target distances shared by every rigid water.
type Topology struct {
	NumAtoms int
	Masses   []float64
	// TempGroup maps each atom to a temperature-coupling group. Nil means
	// a single group 0.
	TempGroup []int
	Bonds     []Bond
	Waters    []Water
	DOH, DHH  float64
}

// Validate checks structural consistency. A failure here is a programming
// error in the topology builder, reported as ErrBadTopology.
func (t *Topology) Validate() error {
	if t.NumAtoms <= 0 {
		return fmt.Errorf("%w: atom count %d", mdtypes.ErrBadTopology, t.NumAtoms)
	}
	if len(t.Masses) != t.NumAtoms {
		return fmt.Errorf("%w: %d masses for %d atoms", mdtypes.ErrBadTopology, len(t.Masses), t.NumAtoms)
	}
	for i, m := range t.Masses {
		if m <= 0 {
			return fmt.Errorf("%w: atom %d has mass %g", mdtypes.ErrBadTopology, i, m)
		}
	}
	if t.TempGroup != nil && len(t.TempGroup) != t.NumAtoms {
		return fmt.Errorf("%w: %d temperature groups for %d atoms", mdtypes.ErrBadTopology, len(t.TempGroup), t.NumAtoms)
	}
	for k, b := range t.Bonds {
		if b.I == b.J {
			return fmt.Errorf("%w: bond %d is a self-constraint on atom %d", mdtypes.ErrBadTopology, k, b.I)
		}
		if !t.validAtom(b.I) || !t.validAtom(b.J) {
			return fmt.Errorf("%w: bond %d references atom outside [0,%d)", mdtypes.ErrBadTopology, k, t.NumAtoms)
		}
		if b.Length <= 0 {
			return fmt.Errorf("%w: bond %d has length %g", mdtypes.ErrBadTopology, k, b.Length)
		}
	}
	for k, w := range t.Waters {
		if !t.validAtom(w.O) || !t.validAtom(w.H1) || !t.validAtom(w.H2) {
			return fmt.Errorf("%w: water %d references atom outside [0,%d)", mdtypes.ErrBadTopology, k, t.NumAtoms)
		}
		if w.O == w.H1 || w.O == w.H2 || w.H1 == w.H2 {
			return fmt.Errorf("%w: water %d repeats an atom", mdtypes.ErrBadTopology, k)
		}
	}
	if len(t.Waters) > 0 && (t.DOH <= 0 || t.DHH <= 0) {
		return fmt.Errorf("%w: waters present but target distances are %g/%g", mdtypes.ErrBadTopology, t.DOH, t.DHH)
	}
	return nil
}

func (t *Topology) validAtom(i int) bool {
	return i >= 0 && i < t.NumAtoms
}

// AtomData is the per-particle data source consumed at rebind time. It may
// reflect a reordered or resized particle set after a neighbor search.
type AtomData struct {
	Masses    []float64
	TempGroup []int
}

// NumAtoms returns the particle count the buffers must cover.
func (a *AtomData) NumAtoms() int {
	return len(a.Masses)
}

// FromTopology derives atom data with the topology's original ordering.
func FromTopology(t *Topology) *AtomData {
	groups := t.TempGroup
	if groups == nil {
		groups = make([]int, t.NumAtoms)
	}
	return &AtomData{Masses: t.Masses, TempGroup: groups}
}
