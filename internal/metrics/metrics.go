// Package metrics provides observables sampled from the step loop:
// instantaneous temperature, the constraint contribution to pressure, and
// the RMS constraint deviation.
package metrics

import (
	"math"

	"github.com/san-kum/mdstep/internal/mdtypes"
	"github.com/san-kum/mdstep/internal/topology"
)

// Sample is one step's observable inputs.
type Sample struct {
	Time   float64
	X, V   []mdtypes.Vec3
	Virial mdtypes.Tensor
}

type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

// Temperature computes the instantaneous kinetic temperature, with the
// constrained degrees of freedom removed from the count.
type Temperature struct {
	masses  []float64
	dof     float64
	current float64
}

func NewTemperature(masses []float64, numConstraints int) *Temperature {
	dof := 3*len(masses) - numConstraints
	if dof < 1 {
		dof = 1
	}
	return &Temperature{masses: masses, dof: float64(dof)}
}

func (t *Temperature) Name() string { return "temperature" }

func (t *Temperature) Observe(s Sample) {
	ke := 0.0
	for i, m := range t.masses {
		ke += 0.5 * m * s.V[i].Norm2()
	}
	t.current = 2 * ke / (t.dof * mdtypes.KB)
}

func (t *Temperature) Value() float64 { return t.current }
func (t *Temperature) Reset()         { t.current = 0 }

// ConstraintPressure reports the constraint-virial contribution to the
// pressure, virial trace over 3V.
type ConstraintPressure struct {
	volume  float64
	current float64
}

func NewConstraintPressure(volume float64) *ConstraintPressure {
	return &ConstraintPressure{volume: volume}
}

func (p *ConstraintPressure) Name() string { return "constraint_pressure" }

func (p *ConstraintPressure) Observe(s Sample) {
	if p.volume <= 0 {
		return
	}
	p.current = s.Virial.Trace() / (3 * p.volume)
}

func (p *ConstraintPressure) Value() float64 { return p.current }
func (p *ConstraintPressure) Reset()         { p.current = 0 }

// ConstraintRMSD measures how far the committed positions sit from the
// constraint manifold; a healthy pipeline keeps this at solver tolerance.
type ConstraintRMSD struct {
	top     *topology.Topology
	current float64
}

func NewConstraintRMSD(top *topology.Topology) *ConstraintRMSD {
	return &ConstraintRMSD{top: top}
}

func (c *ConstraintRMSD) Name() string { return "constraint_rmsd" }

func (c *ConstraintRMSD) Observe(s Sample) {
	sum := 0.0
	n := 0
	add := func(got, want float64) {
		d := got - want
		sum += d * d
		n++
	}
	for _, b := range c.top.Bonds {
		add(s.X[b.J].Sub(s.X[b.I]).Norm(), b.Length)
	}
	for _, w := range c.top.Waters {
		add(s.X[w.H1].Sub(s.X[w.O]).Norm(), c.top.DOH)
		add(s.X[w.H2].Sub(s.X[w.O]).Norm(), c.top.DOH)
		add(s.X[w.H2].Sub(s.X[w.H1]).Norm(), c.top.DHH)
	}
	if n == 0 {
		c.current = 0
		return
	}
	c.current = math.Sqrt(sum / float64(n))
}

func (c *ConstraintRMSD) Value() float64 { return c.current }
func (c *ConstraintRMSD) Reset()         { c.current = 0 }
