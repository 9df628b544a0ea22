// Package forces provides the host-side force provider for the demo driver:
// Lennard-Jones interactions between oxygen sites with minimum-image
// periodic boundaries. Constrained bonds carry no force terms; the
// constraint solvers hold them rigid.
package forces

import (
	"github.com/san-kum/mdstep/internal/mdtypes"
	"github.com/san-kum/mdstep/internal/pbc"
)

type LennardJones struct {
	Sigma   float64
	Epsilon float64
	Cutoff  float64

	// Sites lists the atoms carrying the LJ interaction (the oxygens).
	Sites []int
}

// SPC-like oxygen parameters in nm / kJ/mol.
const (
	DefaultSigma   = 0.3166
	DefaultEpsilon = 0.650
	DefaultCutoff  = 0.9
)

func NewLennardJones(sites []int) *LennardJones {
	return &LennardJones{
		Sigma:   DefaultSigma,
		Epsilon: DefaultEpsilon,
		Cutoff:  DefaultCutoff,
		Sites:   sites,
	}
}

// Compute accumulates pair forces into f and returns the potential energy.
// f is zeroed first.
func (lj *LennardJones) Compute(x []mdtypes.Vec3, f []mdtypes.Vec3, cell *pbc.Cell) float64 {
	for i := range f {
		f[i] = mdtypes.Vec3{}
	}

	sigma2 := lj.Sigma * lj.Sigma
	cutoff2 := lj.Cutoff * lj.Cutoff
	energy := 0.0

	for a := 0; a < len(lj.Sites); a++ {
		i := lj.Sites[a]
		for b := a + 1; b < len(lj.Sites); b++ {
			j := lj.Sites[b]

			d := cell.Dist(x[i], x[j])
			r2 := d.Norm2()
			if r2 >= cutoff2 || r2 == 0 {
				continue
			}

			sr2 := sigma2 / r2
			sr6 := sr2 * sr2 * sr2
			sr12 := sr6 * sr6

			energy += 4 * lj.Epsilon * (sr12 - sr6)
			// dV/dr projected back onto the displacement.
			fScale := 24 * lj.Epsilon * (2*sr12 - sr6) / r2

			fv := d.Scale(fScale)
			f[i] = f[i].Add(fv)
			f[j] = f[j].Sub(fv)
		}
	}
	return energy
}
