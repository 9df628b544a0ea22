package runner

import (
	"math"
	"math/rand"

	"github.com/san-kum/mdstep/internal/mdtypes"
	"github.com/san-kum/mdstep/internal/topology"
)

// SPC-like rigid water geometry and masses.
const (
	MassO = 15.9994
	MassH = 1.008
	DOH   = 0.1
	DHH   = 0.16330
)

// BuildWaterBox places n rigid waters on a cubic lattice inside the box and
// returns the topology with constraint-satisfying initial positions.
func BuildWaterBox(n int, box [3]float64) (*topology.Topology, []mdtypes.Vec3) {
	grid := int(math.Ceil(math.Cbrt(float64(n))))
	spacing := [3]float64{box[0] / float64(grid), box[1] / float64(grid), box[2] / float64(grid)}

	top := &topology.Topology{
		NumAtoms: 3 * n,
		Masses:   make([]float64, 3*n),
		Waters:   make([]topology.Water, n),
		DOH:      DOH,
		DHH:      DHH,
	}

	hx := DHH / 2
	hy := math.Sqrt(DOH*DOH - hx*hx)

	pos := make([]mdtypes.Vec3, 3*n)
	w := 0
	for ix := 0; ix < grid && w < n; ix++ {
		for iy := 0; iy < grid && w < n; iy++ {
			for iz := 0; iz < grid && w < n; iz++ {
				o := mdtypes.Vec3{
					(float64(ix) + 0.5) * spacing[0],
					(float64(iy) + 0.5) * spacing[1],
					(float64(iz) + 0.5) * spacing[2],
				}
				base := 3 * w
				pos[base] = o
				pos[base+1] = o.Add(mdtypes.Vec3{-hx, -hy, 0})
				pos[base+2] = o.Add(mdtypes.Vec3{hx, -hy, 0})

				top.Masses[base] = MassO
				top.Masses[base+1] = MassH
				top.Masses[base+2] = MassH
				top.Waters[w] = topology.Water{O: base, H1: base + 1, H2: base + 2}
				w++
			}
		}
	}
	return top, pos
}

// MaxwellVelocities draws initial velocities from the Maxwell-Boltzmann
// distribution at temperature T and removes the net momentum drift.
func MaxwellVelocities(top *topology.Topology, temp float64, seed int64) []mdtypes.Vec3 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]mdtypes.Vec3, top.NumAtoms)

	for i, m := range top.Masses {
		sigma := math.Sqrt(mdtypes.KB * temp / m)
		v[i] = mdtypes.Vec3{
			rng.NormFloat64() * sigma,
			rng.NormFloat64() * sigma,
			rng.NormFloat64() * sigma,
		}
	}

	var p mdtypes.Vec3
	total := 0.0
	for i, m := range top.Masses {
		p = p.Add(v[i].Scale(m))
		total += m
	}
	drift := p.Scale(1 / total)
	for i := range v {
		v[i] = v[i].Sub(drift)
	}
	return v
}

// NumConstraints counts the scalar constraints the topology imposes, for
// degree-of-freedom accounting.
func NumConstraints(top *topology.Topology) int {
	return len(top.Bonds) + 3*len(top.Waters)
}
