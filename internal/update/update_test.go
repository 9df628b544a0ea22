package update_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mdstep/internal/device"
	"github.com/san-kum/mdstep/internal/lincs"
	"github.com/san-kum/mdstep/internal/mdtypes"
	"github.com/san-kum/mdstep/internal/pbc"
	"github.com/san-kum/mdstep/internal/settle"
	"github.com/san-kum/mdstep/internal/topology"
	"github.com/san-kum/mdstep/internal/update"
)

const (
	dOH = 0.1
	dHH = 0.16330
	dt  = 0.002
)

var (
	massO = 15.9994
	massH = 1.008
)

// waterGeometry returns constraint-satisfying reference positions for one
// water centered at c.
func waterGeometry(c mdtypes.Vec3) [3]mdtypes.Vec3 {
	h := math.Sqrt(dOH*dOH - (dHH/2)*(dHH/2))
	return [3]mdtypes.Vec3{
		c,
		c.Add(mdtypes.Vec3{-dHH / 2, -h, 0}),
		c.Add(mdtypes.Vec3{dHH / 2, -h, 0}),
	}
}

type system struct {
	top     *topology.Topology
	atoms   *topology.AtomData
	x, v, f *device.Buffer[mdtypes.Vec3]
}

func newSystem(top *topology.Topology, pos []mdtypes.Vec3) *system {
	s := &system{
		top:   top,
		atoms: topology.FromTopology(top),
		x:     device.NewBuffer[mdtypes.Vec3](),
		v:     device.NewBuffer[mdtypes.Vec3](),
		f:     device.NewBuffer[mdtypes.Vec3](),
	}
	Expect(s.x.Upload(pos)).To(Succeed())
	Expect(s.v.EnsureCapacity(len(pos))).To(Succeed())
	Expect(s.f.EnsureCapacity(len(pos))).To(Succeed())
	for i := range s.v.Data() {
		s.v.Data()[i] = mdtypes.Vec3{}
		s.f.Data()[i] = mdtypes.Vec3{}
	}
	return s
}

func waterTopology() *topology.Topology {
	return &topology.Topology{
		NumAtoms: 3,
		Masses:   []float64{massO, massH, massH},
		Waters:   []topology.Water{{O: 0, H1: 1, H2: 2}},
		DOH:      dOH,
		DHH:      dHH,
	}
}

func freeAtomTopology() *topology.Topology {
	return &topology.Topology{NumAtoms: 1, Masses: []float64{2.0}}
}

func newWaterSystem() *system {
	g := waterGeometry(mdtypes.Vec3{1.5, 1.5, 1.5})
	return newSystem(waterTopology(), g[:])
}

func box() pbc.Box { return pbc.Orthorhombic(3, 3, 3) }

func buildPipeline(s *system, stream *device.Stream) *update.Pipeline {
	p, err := update.New(update.Params{}, s.top, stream)
	Expect(err).NotTo(HaveOccurred())
	Expect(p.Bind(s.x, s.v, s.f, s.top, s.atoms, 0)).To(Succeed())
	p.SetBox(box())
	return p
}

func advance(p *update.Pipeline, step float64, virial *mdtypes.Tensor) error {
	return p.Advance(step, true, virial != nil, virial,
		false, nil, false, 0, mdtypes.Identity())
}

func snapshot(b *device.Buffer[mdtypes.Vec3]) []mdtypes.Vec3 {
	out := make([]mdtypes.Vec3, b.Len())
	Expect(b.Download(out)).To(Succeed())
	return out
}

var _ = Describe("Pipeline", func() {

	Describe("construction", func() {
		It("rejects a structurally inconsistent topology", func() {
			top := waterTopology()
			top.Waters[0].H2 = 99
			_, err := update.New(update.Params{}, top, nil)
			Expect(errors.Is(err, mdtypes.ErrBadTopology)).To(BeTrue())
		})

		It("falls back to the default stream", func() {
			p, err := update.New(update.Params{}, freeAtomTopology(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(p).NotTo(BeNil())
		})
	})

	Describe("state machine", func() {
		var (
			s      *system
			stream *device.Stream
		)

		BeforeEach(func() {
			s = newWaterSystem()
			stream = device.NewStream()
			DeferCleanup(stream.Close)
		})

		It("refuses to advance before binding", func() {
			p, err := update.New(update.Params{}, s.top, stream)
			Expect(err).NotTo(HaveOccurred())
			p.SetBox(box())
			err = advance(p, dt, nil)
			Expect(errors.Is(err, mdtypes.ErrNotBound)).To(BeTrue())
		})

		It("refuses to advance before the box is set", func() {
			p, err := update.New(update.Params{}, s.top, stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Bind(s.x, s.v, s.f, s.top, s.atoms, 0)).To(Succeed())
			err = advance(p, dt, nil)
			Expect(errors.Is(err, mdtypes.ErrBoxNotSet)).To(BeTrue())
		})

		It("returns to the boundary-unset state after a rebind", func() {
			p := buildPipeline(s, stream)
			Expect(advance(p, dt, nil)).To(Succeed())

			Expect(p.Bind(s.x, s.v, s.f, s.top, s.atoms, 0)).To(Succeed())
			err := advance(p, dt, nil)
			Expect(errors.Is(err, mdtypes.ErrBoxNotSet)).To(BeTrue())

			p.SetBox(box())
			Expect(advance(p, dt, nil)).To(Succeed())
		})

		It("rejects nil buffers without touching the previous binding", func() {
			p := buildPipeline(s, stream)
			err := p.Bind(nil, s.v, s.f, s.top, s.atoms, 0)
			Expect(errors.Is(err, mdtypes.ErrNilBuffer)).To(BeTrue())

			// Previous binding still advances.
			Expect(advance(p, dt, nil)).To(Succeed())
		})

		It("rejects a nil virial output when the virial is requested", func() {
			p := buildPipeline(s, stream)
			err := p.Advance(dt, true, true, nil,
				false, nil, false, 0, mdtypes.Identity())
			Expect(errors.Is(err, mdtypes.ErrNilBuffer)).To(BeTrue())

			// The rejected call left no partial step behind.
			var vir mdtypes.Tensor
			Expect(advance(p, dt, &vir)).To(Succeed())
		})

		It("accepts buffers larger than the atom count", func() {
			top := freeAtomTopology()
			sys := &system{
				top:   top,
				atoms: topology.FromTopology(top),
				x:     device.NewBuffer[mdtypes.Vec3](),
				v:     device.NewBuffer[mdtypes.Vec3](),
				f:     device.NewBuffer[mdtypes.Vec3](),
			}
			for _, b := range []*device.Buffer[mdtypes.Vec3]{sys.x, sys.v, sys.f} {
				Expect(b.EnsureCapacity(5)).To(Succeed())
			}
			sys.x.Data()[0] = mdtypes.Vec3{1, 1, 1}
			sys.v.Data()[0] = mdtypes.Vec3{0.5, 0, 0}

			p := buildPipeline(sys, stream)
			Expect(advance(p, dt, nil)).To(Succeed())
			p.Synchronize()

			want := mdtypes.Vec3{1 + 0.5*dt, 1, 1}
			Expect(sys.x.Data()[0]).To(Equal(want))
		})

		It("rejects undersized buffers", func() {
			p, err := update.New(update.Params{}, s.top, stream)
			Expect(err).NotTo(HaveOccurred())
			small := device.NewBuffer[mdtypes.Vec3]()
			Expect(small.EnsureCapacity(1)).To(Succeed())
			err = p.Bind(small, s.v, s.f, s.top, s.atoms, 0)
			Expect(errors.Is(err, mdtypes.ErrSizeMismatch)).To(BeTrue())
		})
	})

	Describe("plain leap-frog behavior", func() {
		It("matches the analytic step for an unconstrained atom", func() {
			top := freeAtomTopology()
			s := newSystem(top, []mdtypes.Vec3{{1, 1, 1}})
			s.v.Data()[0] = mdtypes.Vec3{0.3, -0.2, 0.1}
			s.f.Data()[0] = mdtypes.Vec3{1, 2, -1}

			stream := device.NewStream()
			DeferCleanup(stream.Close)
			p := buildPipeline(s, stream)

			Expect(advance(p, dt, nil)).To(Succeed())
			p.Synchronize()

			invm := 1 / top.Masses[0]
			vWant := mdtypes.Vec3{0.3, -0.2, 0.1}.Add(mdtypes.Vec3{1, 2, -1}.Scale(dt * invm))
			xWant := mdtypes.Vec3{1, 1, 1}.Add(vWant.Scale(dt))

			Expect(s.v.Data()[0]).To(Equal(vWant))
			Expect(s.x.Data()[0]).To(Equal(xWant))
		})

		It("treats disabled coupling as an exact no-op", func() {
			run := func(doTemp, doPressure bool) []mdtypes.Vec3 {
				s := newWaterSystem()
				s.v.Data()[1] = mdtypes.Vec3{-0.4, 0.2, 0.1}
				s.v.Data()[2] = mdtypes.Vec3{0.4, 0.2, -0.1}
				stream := device.NewStream()
				DeferCleanup(stream.Close)

				p, err := update.New(update.Params{}, s.top, stream)
				Expect(err).NotTo(HaveOccurred())
				groups := 0
				if doTemp {
					groups = 1
				}
				Expect(p.Bind(s.x, s.v, s.f, s.top, s.atoms, groups)).To(Succeed())
				p.SetBox(box())

				var lambdas []float64
				if doTemp {
					lambdas = []float64{1.0}
				}
				Expect(p.Advance(dt, true, false, nil,
					doTemp, lambdas, doPressure, dt, mdtypes.Identity())).To(Succeed())
				p.Synchronize()
				return snapshot(s.x)
			}

			plain := run(false, false)
			Expect(run(true, false)).To(Equal(plain))
			Expect(run(false, true)).To(Equal(plain))
		})
	})

	Describe("constraint enforcement", func() {
		It("commits only fully constrained positions", func() {
			s := newWaterSystem()
			// Pull the hydrogens apart so every constraint is violated by
			// the unconstrained update.
			s.v.Data()[1] = mdtypes.Vec3{-1, 0.5, 0}
			s.v.Data()[2] = mdtypes.Vec3{1, 0.5, 0}

			stream := device.NewStream()
			DeferCleanup(stream.Close)
			p := buildPipeline(s, stream)

			Expect(advance(p, dt, nil)).To(Succeed())
			p.Synchronize()

			x := s.x.Data()
			Expect(x[1].Sub(x[0]).Norm()).To(BeNumerically("~", dOH, 1e-9))
			Expect(x[2].Sub(x[0]).Norm()).To(BeNumerically("~", dOH, 1e-9))
			Expect(x[2].Sub(x[1]).Norm()).To(BeNumerically("~", dHH, 1e-9))
		})

		It("keeps velocities consistent with the constrained motion", func() {
			s := newWaterSystem()
			s.v.Data()[1] = mdtypes.Vec3{-1, 0, 0}
			s.v.Data()[2] = mdtypes.Vec3{1, 0, 0}

			stream := device.NewStream()
			DeferCleanup(stream.Close)
			p := buildPipeline(s, stream)

			before := snapshot(s.x)
			Expect(advance(p, dt, nil)).To(Succeed())
			p.Synchronize()

			// v_new == (x_new - x_old)/dt for every site when velocities
			// are constrained along with positions.
			for i := 0; i < 3; i++ {
				disp := s.x.Data()[i].Sub(before[i]).Scale(1 / dt)
				for k := 0; k < 3; k++ {
					Expect(s.v.Data()[i][k]).To(BeNumerically("~", disp[k], 1e-9))
				}
			}
		})
	})

	Describe("virial", func() {
		stretchRun := func(step, speed float64) mdtypes.Tensor {
			s := newWaterSystem()
			s.v.Data()[1] = mdtypes.Vec3{-speed, 0, 0}
			s.v.Data()[2] = mdtypes.Vec3{speed, 0, 0}

			stream := device.NewStream()
			defer stream.Close()
			p := buildPipeline(s, stream)

			var vir mdtypes.Tensor
			Expect(advance(p, step, &vir)).To(Succeed())
			return vir
		}

		It("scales as 1/dt² for a fixed trial displacement", func() {
			// Halving dt with doubled speed keeps the unconstrained
			// displacement identical, so the solver-side contribution is
			// unchanged and only the 0.5/dt² factor moves.
			v1 := stretchRun(dt, 1.0)
			v2 := stretchRun(dt/2, 2.0)

			Expect(math.Abs(v1[0][0])).To(BeNumerically(">", 0))
			for d1 := 0; d1 < 3; d1++ {
				for d2 := 0; d2 < 3; d2++ {
					if v1[d1][d2] == 0 {
						Expect(math.Abs(v2[d1][d2])).To(BeNumerically("<", 1e-9))
						continue
					}
					Expect(v2[d1][d2] / v1[d1][d2]).To(BeNumerically("~", 4.0, 1e-6))
				}
			}
		})

		It("is zero for a constraint-free system", func() {
			s := newSystem(freeAtomTopology(), []mdtypes.Vec3{{1, 1, 1}})
			s.v.Data()[0] = mdtypes.Vec3{1, 1, 1}

			stream := device.NewStream()
			DeferCleanup(stream.Close)
			p := buildPipeline(s, stream)

			var vir mdtypes.Tensor
			Expect(advance(p, dt, &vir)).To(Succeed())
			Expect(vir).To(Equal(mdtypes.Tensor{}))
		})
	})

	Describe("rebind", func() {
		It("is idempotent", func() {
			run := func(binds int) ([]mdtypes.Vec3, []mdtypes.Vec3) {
				s := newWaterSystem()
				s.v.Data()[1] = mdtypes.Vec3{-0.7, 0.3, 0.2}
				s.v.Data()[2] = mdtypes.Vec3{0.7, 0.3, -0.2}

				stream := device.NewStream()
				DeferCleanup(stream.Close)
				p, err := update.New(update.Params{}, s.top, stream)
				Expect(err).NotTo(HaveOccurred())
				for b := 0; b < binds; b++ {
					Expect(p.Bind(s.x, s.v, s.f, s.top, s.atoms, 0)).To(Succeed())
				}
				p.SetBox(box())
				Expect(advance(p, dt, nil)).To(Succeed())
				p.Synchronize()
				return snapshot(s.x), snapshot(s.v)
			}

			x1, v1 := run(1)
			x2, v2 := run(2)
			Expect(x2).To(Equal(x1))
			Expect(v2).To(Equal(v1))
		})

		It("never shrinks the pipeline-owned scratch buffers", func() {
			counts := []int{100, 50, 200, 150}

			stream := device.NewStream()
			DeferCleanup(stream.Close)

			xp := device.NewBuffer[float64]()
			for _, n := range counts {
				Expect(xp.EnsureCapacity(n)).To(Succeed())
			}
			Expect(xp.Allocations()).To(Equal(2))
		})
	})

	Describe("solver ordering", func() {
		It("produces different geometry when the rigid pass runs first", func() {
			top := &topology.Topology{
				NumAtoms: 4,
				Masses:   []float64{massO, massH, massH, 12.0},
				Waters:   []topology.Water{{O: 0, H1: 1, H2: 2}},
				Bonds:    []topology.Bond{{I: 2, J: 3, Length: 0.1}},
				DOH:      dOH,
				DHH:      dHH,
			}
			Expect(top.Validate()).To(Succeed())

			g := waterGeometry(mdtypes.Vec3{1.5, 1.5, 1.5})
			ref := []mdtypes.Vec3{g[0], g[1], g[2], g[2].Add(mdtypes.Vec3{0.1, 0, 0})}
			trial := []mdtypes.Vec3{
				ref[0].Add(mdtypes.Vec3{0.002, 0.001, -0.001}),
				ref[1],
				ref[2].Add(mdtypes.Vec3{0.01, -0.005, 0.002}),
				ref[3].Add(mdtypes.Vec3{-0.008, 0.004, 0}),
			}

			apply := func(rigidFirst bool) []mdtypes.Vec3 {
				stream := device.NewStream()
				defer stream.Close()

				x := device.NewBuffer[mdtypes.Vec3]()
				xp := device.NewBuffer[mdtypes.Vec3]()
				v := device.NewBuffer[mdtypes.Vec3]()
				Expect(x.Upload(ref)).To(Succeed())
				Expect(xp.Upload(trial)).To(Succeed())
				Expect(v.EnsureCapacity(4)).To(Succeed())

				invMass := device.NewBuffer[float64]()
				Expect(invMass.EnsureCapacity(4)).To(Succeed())
				for i, m := range top.Masses {
					invMass.Data()[i] = 1 / m
				}

				bondSolver := lincs.New(stream, 0, 0)
				Expect(bondSolver.Bind(top, invMass)).To(Succeed())
				rigid, err := settle.New(stream, top)
				Expect(err).NotTo(HaveOccurred())
				Expect(rigid.Bind(top)).To(Succeed())

				cell := pbc.Convert(box())
				var vir mdtypes.Tensor
				if rigidFirst {
					rigid.Apply(x, xp, v, &cell, 1/dt, false, false, &vir)
					bondSolver.Apply(x, xp, v, &cell, 1/dt, false, false, &vir)
				} else {
					bondSolver.Apply(x, xp, v, &cell, 1/dt, false, false, &vir)
					rigid.Apply(x, xp, v, &cell, 1/dt, false, false, &vir)
				}
				stream.Synchronize()
				return snapshot(xp)
			}

			linearFirst := apply(false)
			rigidFirst := apply(true)

			maxDiff := 0.0
			for i := range linearFirst {
				d := linearFirst[i].Sub(rigidFirst[i]).Norm()
				if d > maxDiff {
					maxDiff = d
				}
			}
			Expect(maxDiff).To(BeNumerically(">", 1e-9),
				"solver order must be observable for a shared atom")
		})
	})

	Describe("teardown", func() {
		It("releases owned buffers and drops readiness", func() {
			s := newWaterSystem()
			stream := device.NewStream()
			DeferCleanup(stream.Close)
			p := buildPipeline(s, stream)

			Expect(advance(p, dt, nil)).To(Succeed())
			p.Close()

			err := advance(p, dt, nil)
			Expect(errors.Is(err, mdtypes.ErrNotBound)).To(BeTrue())
		})
	})
})
