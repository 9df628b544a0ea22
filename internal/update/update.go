// Package update sequences the per-step GPU pipeline: leap-frog integration,
// linear bond constraints, rigid water constraints, virial bookkeeping and
// the final commit of constrained positions, all on one in-order device
// stream.
package update

import (
	"fmt"

	"github.com/san-kum/mdstep/internal/device"
	"github.com/san-kum/mdstep/internal/leapfrog"
	"github.com/san-kum/mdstep/internal/lincs"
	"github.com/san-kum/mdstep/internal/mdtypes"
	"github.com/san-kum/mdstep/internal/pbc"
	"github.com/san-kum/mdstep/internal/settle"
	"github.com/san-kum/mdstep/internal/topology"
)

// Params carries the static run parameters the solvers need at construction.
type Params struct {
	// LincsIterations and LincsOrder control the linear solver's coupled
	// iteration count and expansion order. Zero selects the defaults.
	LincsIterations int
	LincsOrder      int
}

// Pipeline is the step orchestrator. It owns the trial-position and
// inverse-mass device buffers, references the caller's position, velocity
// and force buffers between rebinds, and is not safe for concurrent use.
type Pipeline struct {
	stream *device.Stream

	integrator *leapfrog.LeapFrog
	bondSolver *lincs.Lincs
	rigid      *settle.Settle

	// Caller-owned, referenced between Bind calls.
	x, v, f *device.Buffer[mdtypes.Vec3]

	// Pipeline-owned scratch: trial positions and derived inverse masses.
	xp      *device.Buffer[mdtypes.Vec3]
	invMass *device.Buffer[float64]

	numAtoms int
	cell     pbc.Cell
	cellSet  bool
	bound    bool
}

// New constructs the pipeline and its three solvers bound to stream, or to
// the default stream when stream is nil. The topology summary must be
// structurally consistent.
func New(p Params, top *topology.Topology, stream *device.Stream) (*Pipeline, error) {
	if err := top.Validate(); err != nil {
		return nil, fmt.Errorf("construct pipeline: %w", err)
	}
	if stream == nil {
		stream = device.Default()
	}
	rigid, err := settle.New(stream, top)
	if err != nil {
		return nil, fmt.Errorf("construct pipeline: %w", err)
	}
	return &Pipeline{
		stream:     stream,
		integrator: leapfrog.New(stream),
		bondSolver: lincs.New(stream, p.LincsIterations, p.LincsOrder),
		rigid:      rigid,
		xp:         device.NewBuffer[mdtypes.Vec3](),
		invMass:    device.NewBuffer[float64](),
	}, nil
}

// Bind attaches the device buffers for the current particle ordering and
// rebuilds every solver's internal structures. The trial and inverse-mass
// buffers grow as needed and never shrink. Bind leaves the pipeline in the
// boundary-unset state; SetBox must be called before the next Advance.
//
// Precondition failures leave the previous binding intact.
func (p *Pipeline) Bind(
	x, v, f *device.Buffer[mdtypes.Vec3],
	top *topology.Topology,
	atoms *topology.AtomData,
	numTempGroups int,
) error {
	if x == nil || v == nil || f == nil {
		return fmt.Errorf("bind: %w", mdtypes.ErrNilBuffer)
	}
	n := atoms.NumAtoms()
	if n <= 0 {
		return fmt.Errorf("bind: %w: %d atoms", mdtypes.ErrSizeMismatch, n)
	}
	for _, b := range []*device.Buffer[mdtypes.Vec3]{x, v, f} {
		if b.Len() < n {
			return fmt.Errorf("bind: %w: buffer %d < atoms %d", mdtypes.ErrSizeMismatch, b.Len(), n)
		}
	}

	if err := p.xp.EnsureCapacity(n); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := p.invMass.EnsureCapacity(n); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	inv := p.invMass.Data()
	for i, m := range atoms.Masses {
		inv[i] = 1 / m
	}

	if err := p.integrator.Bind(p.invMass, atoms.TempGroup, numTempGroups); err != nil {
		return fmt.Errorf("bind integrator: %w", err)
	}
	if err := p.bondSolver.Bind(top, p.invMass); err != nil {
		return fmt.Errorf("bind linear solver: %w", err)
	}
	if err := p.rigid.Bind(top); err != nil {
		return fmt.Errorf("bind rigid solver: %w", err)
	}

	p.x, p.v, p.f = x, v, f
	p.numAtoms = n
	p.bound = true
	p.cellSet = false
	return nil
}

// SetBox converts the box description into the compact device form shared by
// the integrator and both constraint solvers. Idempotent.
func (p *Pipeline) SetBox(box pbc.Box) {
	p.cell = pbc.Convert(box)
	p.cellSet = true
}

// Advance enqueues one full step on the stream:
//
//  1. zero the step virial
//  2. leap-frog: trial positions into scratch, velocities in place
//  3. linear constraints on the trial positions
//  4. rigid constraints, after the linear solver so the analytic pass sees
//     only rigid-group-internal deviation
//  5. scale the accumulated virial by 0.5/dt²
//  6. commit the constrained trial positions over the primary buffer
//
// The call returns after enqueueing; only when computeVirial is set does it
// synchronize the stream to read the tensor back. Disabled coupling flags
// are exact no-ops.
func (p *Pipeline) Advance(
	dt float64,
	updateVelocities, computeVirial bool,
	virial *mdtypes.Tensor,
	doTempCouple bool, tcScale []float64,
	doPressureCouple bool, dtPressureCouple float64,
	velocityScaling mdtypes.Tensor,
) error {
	if !p.bound {
		return fmt.Errorf("advance: %w", mdtypes.ErrNotBound)
	}
	if !p.cellSet {
		return fmt.Errorf("advance: %w", mdtypes.ErrBoxNotSet)
	}
	if dt <= 0 {
		return fmt.Errorf("advance: timestep %g must be positive", dt)
	}
	if computeVirial && virial == nil {
		return fmt.Errorf("advance: %w: virial output", mdtypes.ErrNilBuffer)
	}

	invdt := 1 / dt
	stepVirial := &mdtypes.Tensor{}

	p.integrator.Integrate(p.x, p.xp, p.v, p.f, dt,
		doTempCouple, tcScale, doPressureCouple, dtPressureCouple, velocityScaling)
	p.bondSolver.Apply(p.x, p.xp, p.v, &p.cell, invdt, updateVelocities, computeVirial, stepVirial)
	p.rigid.Apply(p.x, p.xp, p.v, &p.cell, invdt, updateVelocities, computeVirial, stepVirial)

	x, xp, n := p.x, p.xp, p.numAtoms
	p.stream.Launch(func() {
		copy(x.Data()[:n], xp.Data()[:n])
	})

	if computeVirial {
		p.stream.Synchronize()
		// Both solvers report position-displacement contributions; the
		// conversion to a stress contribution divides by dt² with the
		// conventional one-half.
		stepVirial.Scale(0.5 * invdt * invdt)
		*virial = *stepVirial
	}
	return nil
}

// Synchronize blocks until every enqueued step has completed on the stream.
func (p *Pipeline) Synchronize() {
	p.stream.Synchronize()
}

// NumAtoms reports the bound particle count.
func (p *Pipeline) NumAtoms() int { return p.numAtoms }

// Close releases the pipeline-owned device buffers and the solvers' internal
// arrays. The caller's position, velocity and force buffers are untouched.
func (p *Pipeline) Close() {
	p.stream.Synchronize()
	p.integrator.Release()
	p.bondSolver.Release()
	p.rigid.Release()
	p.xp.Release()
	p.invMass.Release()
	p.bound = false
	p.cellSet = false
}
