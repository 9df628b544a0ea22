// Package runner is the host-side simulation driver: it owns the primary
// device buffers, feeds forces to the update-constrain pipeline each step
// and samples observables from the committed state.
package runner

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/mdstep/internal/config"
	"github.com/san-kum/mdstep/internal/device"
	"github.com/san-kum/mdstep/internal/forces"
	"github.com/san-kum/mdstep/internal/mdtypes"
	"github.com/san-kum/mdstep/internal/metrics"
	"github.com/san-kum/mdstep/internal/pbc"
	"github.com/san-kum/mdstep/internal/topology"
	"github.com/san-kum/mdstep/internal/update"
)

// StepInfo is one step's observable summary, passed to the run callback.
type StepInfo struct {
	Step        int
	Time        float64
	Temperature float64
	Pressure    float64
	RMSD        float64
	Energy      float64
}

type Result struct {
	StepsTaken   int
	Times        []float64
	Temperatures []float64
	Pressures    []float64
	Energies     []float64
}

type Runner struct {
	cfg    *config.Config
	top    *topology.Topology
	stream *device.Stream

	pipeline *update.Pipeline
	field    *forces.LennardJones
	cell     pbc.Cell

	x, v, f *device.Buffer[mdtypes.Vec3]
	hostX   []mdtypes.Vec3
	hostV   []mdtypes.Vec3
	hostF   []mdtypes.Vec3

	temp     *metrics.Temperature
	pressure *metrics.ConstraintPressure
	rmsd     *metrics.ConstraintRMSD
}

func New(cfg *config.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runner config: %w", err)
	}

	top, pos := BuildWaterBox(cfg.Waters, cfg.Box)
	vel := MaxwellVelocities(top, cfg.Temperature, cfg.Seed)

	r := &Runner{
		cfg:    cfg,
		top:    top,
		stream: device.NewStream(),
		x:      device.NewBuffer[mdtypes.Vec3](),
		v:      device.NewBuffer[mdtypes.Vec3](),
		f:      device.NewBuffer[mdtypes.Vec3](),
		hostX:  make([]mdtypes.Vec3, top.NumAtoms),
		hostV:  make([]mdtypes.Vec3, top.NumAtoms),
		hostF:  make([]mdtypes.Vec3, top.NumAtoms),
	}

	if err := r.x.Upload(pos); err != nil {
		return nil, err
	}
	if err := r.v.Upload(vel); err != nil {
		return nil, err
	}
	copy(r.hostV, vel)
	if err := r.f.EnsureCapacity(top.NumAtoms); err != nil {
		return nil, err
	}

	params := update.Params{
		LincsIterations: cfg.Lincs.Iterations,
		LincsOrder:      cfg.Lincs.Order,
	}
	pipeline, err := update.New(params, top, r.stream)
	if err != nil {
		return nil, err
	}
	r.pipeline = pipeline

	numTempGroups := 0
	if cfg.TempCouple {
		numTempGroups = 1
	}
	if err := pipeline.Bind(r.x, r.v, r.f, top, topology.FromTopology(top), numTempGroups); err != nil {
		return nil, err
	}

	box := pbc.Orthorhombic(cfg.Box[0], cfg.Box[1], cfg.Box[2])
	pipeline.SetBox(box)
	r.cell = pbc.Convert(box)

	sites := make([]int, len(top.Waters))
	for i, w := range top.Waters {
		sites[i] = w.O
	}
	r.field = forces.NewLennardJones(sites)
	if cfg.LJ.Sigma > 0 {
		r.field.Sigma = cfg.LJ.Sigma
	}
	if cfg.LJ.Epsilon > 0 {
		r.field.Epsilon = cfg.LJ.Epsilon
	}
	if cfg.LJ.Cutoff > 0 {
		r.field.Cutoff = cfg.LJ.Cutoff
	}

	r.temp = metrics.NewTemperature(top.Masses, NumConstraints(top))
	r.pressure = metrics.NewConstraintPressure(box.Volume())
	r.rmsd = metrics.NewConstraintRMSD(top)
	return r, nil
}

// Topology exposes the built system for inspection.
func (r *Runner) Topology() *topology.Topology { return r.top }

// Run advances the configured number of steps. The callback, when non-nil,
// receives every step's summary and may stop the run early by returning
// false.
func (r *Runner) Run(ctx context.Context, callback func(StepInfo) bool) (*Result, error) {
	cfg := r.cfg
	result := &Result{
		Times:        make([]float64, 0, cfg.Steps),
		Temperatures: make([]float64, 0, cfg.Steps),
		Pressures:    make([]float64, 0, cfg.Steps),
		Energies:     make([]float64, 0, cfg.Steps),
	}

	for step := 0; step < cfg.Steps; step++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := r.x.Download(r.hostX); err != nil {
			return result, err
		}
		energy := r.field.Compute(r.hostX, r.hostF, &r.cell)
		if err := r.f.Upload(r.hostF); err != nil {
			return result, err
		}

		doTemp := false
		var lambdas []float64
		if cfg.TempCouple {
			doTemp = true
			lambdas = []float64{r.couplingFactor()}
		}

		var vir mdtypes.Tensor
		err := r.pipeline.Advance(cfg.Dt, true, true, &vir,
			doTemp, lambdas, false, 0, mdtypes.Identity())
		if err != nil {
			return result, err
		}

		if err := r.x.Download(r.hostX); err != nil {
			return result, err
		}
		if err := r.v.Download(r.hostV); err != nil {
			return result, err
		}

		sample := metrics.Sample{
			Time:   float64(step+1) * cfg.Dt,
			X:      r.hostX,
			V:      r.hostV,
			Virial: vir,
		}
		r.temp.Observe(sample)
		r.pressure.Observe(sample)
		r.rmsd.Observe(sample)

		info := StepInfo{
			Step:        step,
			Time:        sample.Time,
			Temperature: r.temp.Value(),
			Pressure:    r.pressure.Value(),
			RMSD:        r.rmsd.Value(),
			Energy:      energy,
		}

		result.StepsTaken++
		result.Times = append(result.Times, info.Time)
		result.Temperatures = append(result.Temperatures, info.Temperature)
		result.Pressures = append(result.Pressures, info.Pressure)
		result.Energies = append(result.Energies, info.Energy)

		if callback != nil && !callback(info) {
			return result, nil
		}
	}
	return result, nil
}

// couplingFactor computes the Berendsen velocity scale toward the target
// temperature from the current kinetic state.
func (r *Runner) couplingFactor() float64 {
	ke := 0.0
	for i, m := range r.top.Masses {
		ke += 0.5 * m * r.hostV[i].Norm2()
	}
	dof := float64(3*r.top.NumAtoms - NumConstraints(r.top))
	current := 2 * ke / (dof * mdtypes.KB)
	if current <= 0 {
		return 1
	}
	lambda2 := 1 + r.cfg.Dt/r.cfg.TauT*(r.cfg.Temperature/current-1)
	if lambda2 < 0.64 {
		lambda2 = 0.64 // cap scaling at 20% per step to keep startup stable
	}
	return math.Sqrt(lambda2)
}

// Close releases the pipeline-owned device memory and the runner's stream.
func (r *Runner) Close() {
	r.pipeline.Close()
	r.x.Release()
	r.v.Release()
	r.f.Release()
	r.stream.Close()
}
