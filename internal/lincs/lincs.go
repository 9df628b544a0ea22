// Package lincs implements the iterative linear constraint solver: trial
// positions are projected back onto the fixed-bond-length manifold using the
// constraint directions of the pre-step positions, in the manner of
// LINCS-family solvers. The projection runs iterations*(1+order) sweeps, the
// expansion order playing the role of the series correction, then keeps
// sweeping until coupled chains converge below tolerance.
package lincs

import (
	"fmt"
	"math"

	"github.com/san-kum/mdstep/internal/device"
	"github.com/san-kum/mdstep/internal/mdtypes"
	"github.com/san-kum/mdstep/internal/pbc"
	"github.com/san-kum/mdstep/internal/topology"
)

const (
	DefaultIterations = 1
	DefaultOrder      = 4

	// Bonds sharing an atom converge only linearly per sweep, so the nominal
	// sweep count is a floor, not a ceiling: sweeping continues until the
	// worst relative squared-length deviation observed in a pass drops below
	// this bound, capped by the extra-sweep budget.
	convergenceTol = 1e-12
	maxExtraSweeps = 64
)

type Lincs struct {
	stream     *device.Stream
	iterations int
	order      int
	bonds      *device.Buffer[topology.Bond]
	delta      *device.Buffer[mdtypes.Vec3]
	invMass    *device.Buffer[float64]
}

// New creates a solver bound to stream. Nonpositive iteration or order
// values fall back to the defaults.
func New(stream *device.Stream, iterations, order int) *Lincs {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if order <= 0 {
		order = DefaultOrder
	}
	return &Lincs{
		stream:     stream,
		iterations: iterations,
		order:      order,
		bonds:      device.NewBuffer[topology.Bond](),
		delta:      device.NewBuffer[mdtypes.Vec3](),
	}
}

// Bind rebuilds the solver's constraint list for a new particle ordering and
// points it at the pipeline-owned inverse masses.
func (l *Lincs) Bind(top *topology.Topology, invMass *device.Buffer[float64]) error {
	if err := l.bonds.Upload(top.Bonds); err != nil {
		return err
	}
	if err := l.delta.EnsureCapacity(invMass.Len()); err != nil {
		return fmt.Errorf("constraint scratch: %w", err)
	}
	l.invMass = invMass
	return nil
}

// NumConstraints reports the bound bond count.
func (l *Lincs) NumConstraints() int { return l.bonds.Len() }

// Apply enqueues the constraint pass: xp is corrected in place against the
// reference positions x. When updateVelocities is set, each atom's total
// correction scaled by invdt is added to v. When computeVirial is set, the
// unscaled contribution -(g r ⊗ r) per applied correction is accumulated
// into virial; the orchestrator owns the final 0.5/dt² scaling.
func (l *Lincs) Apply(
	x, xp, v *device.Buffer[mdtypes.Vec3],
	cell *pbc.Cell,
	invdt float64,
	updateVelocities, computeVirial bool,
	virial *mdtypes.Tensor,
) {
	l.stream.Launch(func() {
		l.kernel(x.Data(), xp.Data(), v.Data(), cell, invdt, updateVelocities, computeVirial, virial)
	})
}

func (l *Lincs) kernel(x, xp, v []mdtypes.Vec3, cell *pbc.Cell, invdt float64, updateVelocities, computeVirial bool, virial *mdtypes.Tensor) {
	bonds := l.bonds.Data()
	if len(bonds) == 0 {
		return
	}
	inv := l.invMass.Data()
	delta := l.delta.Data()
	for i := range delta {
		delta[i] = mdtypes.Vec3{}
	}

	minSweeps := l.iterations * (1 + l.order)
	for s := 0; s < minSweeps+maxExtraSweeps; s++ {
		worst := 0.0
		for _, b := range bonds {
			r := cell.Dist(x[b.I], x[b.J])
			rp := cell.Dist(xp[b.I], xp[b.J])
			d2 := b.Length * b.Length
			diff := rp.Norm2() - d2
			if dev := math.Abs(diff) / d2; dev > worst {
				worst = dev
			}
			rpr := rp.Dot(r)
			if rpr == 0 {
				// Trial bond perpendicular to the reference direction;
				// projection undefined, leave for the next sweep.
				continue
			}
			g := diff / (2 * (inv[b.I] + inv[b.J]) * rpr)

			ci := r.Scale(-g * inv[b.I])
			cj := r.Scale(g * inv[b.J])
			xp[b.I] = xp[b.I].Add(ci)
			xp[b.J] = xp[b.J].Add(cj)
			delta[b.I] = delta[b.I].Add(ci)
			delta[b.J] = delta[b.J].Add(cj)

			if computeVirial {
				for d1 := 0; d1 < 3; d1++ {
					for d2 := 0; d2 < 3; d2++ {
						virial[d1][d2] -= g * r[d1] * r[d2]
					}
				}
			}
		}
		if s+1 >= minSweeps && worst < convergenceTol {
			break
		}
	}

	if updateVelocities {
		for i := range delta {
			v[i] = v[i].Add(delta[i].Scale(invdt))
		}
	}
}

// Release frees the solver-owned device arrays.
func (l *Lincs) Release() {
	l.bonds.Release()
	l.delta.Release()
}
