// Package settle implements the analytic rigid-body constraint solver for
// three-site waters, after Miyamoto and Kollman. Each group is repositioned
// in a single non-iterative pass: the constrained triangle is rotated into
// the canonical frame defined by the pre-step geometry and the trial center
// of mass, so the O-H and H-H distances are exact on exit.
package settle

import (
	"fmt"
	"math"

	"github.com/san-kum/mdstep/internal/device"
	"github.com/san-kum/mdstep/internal/mdtypes"
	"github.com/san-kum/mdstep/internal/pbc"
	"github.com/san-kum/mdstep/internal/topology"
)

// params is the canonical water geometry: mass fractions and the distances
// of O (ra) and of the H pair (rb along the axis, rc off-axis) from the
// center of mass.
type params struct {
	mO, mH     float64
	wO, wH     float64 // mass fractions
	ra, rb, rc float64
}

type Settle struct {
	stream *device.Stream
	p      params
	waters *device.Buffer[topology.Water]
}

// New derives the canonical geometry from the topology's target distances
// and the masses of the first water's sites. Topologies without waters get
// an inert solver.
func New(stream *device.Stream, top *topology.Topology) (*Settle, error) {
	s := &Settle{stream: stream, waters: device.NewBuffer[topology.Water]()}
	if len(top.Waters) == 0 {
		return s, nil
	}

	w := top.Waters[0]
	mO := top.Masses[w.O]
	mH := top.Masses[w.H1]
	if top.Masses[w.H2] != mH {
		return nil, fmt.Errorf("%w: asymmetric hydrogen masses %g/%g", mdtypes.ErrBadTopology, mH, top.Masses[w.H2])
	}

	rc := top.DHH / 2
	h2 := top.DOH*top.DOH - rc*rc
	if h2 <= 0 {
		return nil, fmt.Errorf("%w: dHH %g incompatible with dOH %g", mdtypes.ErrBadTopology, top.DHH, top.DOH)
	}
	height := math.Sqrt(h2)
	invM := 1 / (mO + 2*mH)

	s.p = params{
		mO: mO,
		mH: mH,
		wO: mO * invM,
		wH: mH * invM,
		ra: height * 2 * mH * invM,
		rb: height * mO * invM,
		rc: rc,
	}
	return s, nil
}

// Bind rebuilds the rigid-group list for a new particle ordering.
func (s *Settle) Bind(top *topology.Topology) error {
	return s.waters.Upload(top.Waters)
}

// NumGroups reports the bound rigid group count.
func (s *Settle) NumGroups() int { return s.waters.Len() }

// Apply enqueues the rigid constraint pass with the same contract as the
// linear solver: xp corrected in place against the reference x, velocity
// correction scaled by invdt, unscaled virial accumulation.
func (s *Settle) Apply(
	x, xp, v *device.Buffer[mdtypes.Vec3],
	cell *pbc.Cell,
	invdt float64,
	updateVelocities, computeVirial bool,
	virial *mdtypes.Tensor,
) {
	s.stream.Launch(func() {
		s.kernel(x.Data(), xp.Data(), v.Data(), cell, invdt, updateVelocities, computeVirial, virial)
	})
}

func (s *Settle) kernel(x, xp, v []mdtypes.Vec3, cell *pbc.Cell, invdt float64, updateVelocities, computeVirial bool, virial *mdtypes.Tensor) {
	for _, w := range s.waters.Data() {
		s.solve(w, x, xp, v, cell, invdt, updateVelocities, computeVirial, virial)
	}
}

func clampUnit(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}

func (s *Settle) solve(w topology.Water, x, xp, v []mdtypes.Vec3, cell *pbc.Cell, invdt float64, updateVelocities, computeVirial bool, virial *mdtypes.Tensor) {
	p := &s.p

	// Reference geometry relative to the oxygen, minimum image.
	b0 := cell.Dist(x[w.H1], x[w.O])
	c0 := cell.Dist(x[w.H2], x[w.O])

	// Trial sites relative to the trial center of mass. The hydrogens are
	// folded next to the oxygen first so a group straddling the boundary
	// stays compact.
	oP := xp[w.O]
	h1P := oP.Add(cell.Dist(xp[w.H1], oP))
	h2P := oP.Add(cell.Dist(xp[w.H2], oP))
	com := oP.Scale(p.wO).Add(h1P.Scale(p.wH)).Add(h2P.Scale(p.wH))

	a1 := oP.Sub(com)
	b1 := h1P.Sub(com)
	c1 := h2P.Sub(com)

	// Canonical axes: n0 normal to the reference plane, n1 in the plane
	// perpendicular to the trial oxygen, n2 completing the frame.
	n0 := b0.Cross(c0).Normalized()
	n1 := a1.Cross(n0).Normalized()
	n2 := n0.Cross(n1)

	rot := func(u mdtypes.Vec3) mdtypes.Vec3 {
		return mdtypes.Vec3{u.Dot(n1), u.Dot(n2), u.Dot(n0)}
	}
	b0p := rot(b0)
	c0p := rot(c0)
	a1p := rot(a1)
	b1p := rot(b1)
	c1p := rot(c1)

	// First rotation: tilt out of the reference plane (phi, psi).
	sinphi := clampUnit(a1p[2] / p.ra)
	cosphi := math.Sqrt(1 - sinphi*sinphi)
	sinpsi := 0.0
	if cosphi != 0 {
		sinpsi = clampUnit((b1p[2] - c1p[2]) / (2 * p.rc * cosphi))
	}
	cospsi := math.Sqrt(1 - sinpsi*sinpsi)

	ya2 := p.ra * cosphi
	xb2 := -p.rc * cospsi
	yb2 := -p.rb*cosphi - p.rc*sinpsi*sinphi
	yc2 := -p.rb*cosphi + p.rc*sinpsi*sinphi
	za2 := p.ra * sinphi
	zb2 := -p.rb*sinphi + p.rc*sinpsi*cosphi
	zc2 := -p.rb*sinphi - p.rc*sinpsi*cosphi

	// Second rotation: in-plane angle theta matching the reference
	// orientation.
	alpha := xb2*(b0p[0]-c0p[0]) + b0p[1]*yb2 + c0p[1]*yc2
	beta := xb2*(c0p[1]-b0p[1]) + b0p[0]*yb2 + c0p[0]*yc2
	gamma := b0p[0]*b1p[1] - b1p[0]*b0p[1] + c0p[0]*c1p[1] - c1p[0]*c0p[1]

	a2b2 := alpha*alpha + beta*beta
	under := a2b2 - gamma*gamma
	if under < 0 {
		under = 0
	}
	sintheta := (alpha*gamma - beta*math.Sqrt(under)) / a2b2
	sintheta = clampUnit(sintheta)
	costheta := math.Sqrt(1 - sintheta*sintheta)

	a3 := mdtypes.Vec3{-ya2 * sintheta, ya2 * costheta, za2}
	b3 := mdtypes.Vec3{xb2*costheta - yb2*sintheta, xb2*sintheta + yb2*costheta, zb2}
	c3 := mdtypes.Vec3{-xb2*costheta - yc2*sintheta, -xb2*sintheta + yc2*costheta, zc2}

	back := func(u mdtypes.Vec3) mdtypes.Vec3 {
		return n1.Scale(u[0]).Add(n2.Scale(u[1])).Add(n0.Scale(u[2])).Add(com)
	}
	oNew := back(a3)
	h1New := back(b3)
	h2New := back(c3)

	dO := oNew.Sub(oP)
	dH1 := h1New.Sub(h1P)
	dH2 := h2New.Sub(h2P)

	// Preserve each site's own periodic image: apply displacements to the
	// stored trial positions rather than the folded copies.
	xp[w.O] = xp[w.O].Add(dO)
	xp[w.H1] = xp[w.H1].Add(dH1)
	xp[w.H2] = xp[w.H2].Add(dH2)

	if updateVelocities {
		v[w.O] = v[w.O].Add(dO.Scale(invdt))
		v[w.H1] = v[w.H1].Add(dH1.Scale(invdt))
		v[w.H2] = v[w.H2].Add(dH2.Scale(invdt))
	}

	if computeVirial {
		accum := func(m float64, d, ref mdtypes.Vec3) {
			for d1 := 0; d1 < 3; d1++ {
				for d2 := 0; d2 < 3; d2++ {
					virial[d1][d2] -= m * d[d1] * ref[d2]
				}
			}
		}
		accum(p.mO, dO, oP.Sub(com))
		accum(p.mH, dH1, h1P.Sub(com))
		accum(p.mH, dH2, h2P.Sub(com))
	}
}

// Release frees the solver-owned device arrays.
func (s *Settle) Release() {
	s.waters.Release()
}
