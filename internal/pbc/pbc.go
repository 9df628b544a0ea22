// Package pbc converts a general simulation-box description into the compact
// triclinic form the device kernels use for minimum-image arithmetic.
package pbc

import (
	"math"

	"github.com/san-kum/mdstep/internal/mdtypes"
)

// Box is the host-side boundary description: three box vectors in
// lower-triangular triclinic form plus the number of periodic dimensions.
type Box struct {
	// Vectors holds the box vectors a, b, c as rows. Triclinic boxes have
	// b and c with nonzero off-diagonal components; the upper triangle is
	// ignored.
	Vectors [3]mdtypes.Vec3

	// Dims is the number of periodic dimensions, 0 through 3.
	Dims int
}

// Orthorhombic builds a rectangular fully periodic box.
func Orthorhombic(lx, ly, lz float64) Box {
	return Box{
		Vectors: [3]mdtypes.Vec3{{lx, 0, 0}, {0, ly, 0}, {0, 0, lz}},
		Dims:    3,
	}
}

// Volume returns the box volume (product of the diagonal for the
// lower-triangular representation).
func (b Box) Volume() float64 {
	return b.Vectors[0][0] * b.Vectors[1][1] * b.Vectors[2][2]
}

// Cell is the compact device-friendly form of a periodic box: the six
// lower-triangular components and the precomputed inverse diagonal.
type Cell struct {
	Dims                   int
	AX, BX, BY, CX, CY, CZ float64
	InvAX, InvBY, InvCZ    float64
}

// Convert derives the compact cell from a box description. Pure and
// stateless; malformed boxes (zero diagonal with periodic dims) are an
// upstream precondition violation, not handled here.
func Convert(b Box) Cell {
	dims := b.Dims
	if dims < 0 {
		dims = 0
	}
	if dims > 3 {
		dims = 3
	}
	c := Cell{
		Dims: dims,
		AX:   b.Vectors[0][0],
		BX:   b.Vectors[1][0],
		BY:   b.Vectors[1][1],
		CX:   b.Vectors[2][0],
		CY:   b.Vectors[2][1],
		CZ:   b.Vectors[2][2],
	}
	if c.AX != 0 {
		c.InvAX = 1 / c.AX
	}
	if c.BY != 0 {
		c.InvBY = 1 / c.BY
	}
	if c.CZ != 0 {
		c.InvCZ = 1 / c.CZ
	}
	return c
}

// MinImage returns the minimum-image form of the displacement d. Shifts are
// applied in z, y, x order so triclinic off-diagonal components fold
// correctly. The shift uses a floor so a component landing exactly on the
// half-boundary resolves to the lower image, keeping results in [-L/2, L/2).
func (c *Cell) MinImage(d mdtypes.Vec3) mdtypes.Vec3 {
	if c.Dims >= 3 {
		s := math.Floor(d[2]*c.InvCZ + 0.5)
		d[2] -= s * c.CZ
		d[1] -= s * c.CY
		d[0] -= s * c.CX
	}
	if c.Dims >= 2 {
		s := math.Floor(d[1]*c.InvBY + 0.5)
		d[1] -= s * c.BY
		d[0] -= s * c.BX
	}
	if c.Dims >= 1 {
		s := math.Floor(d[0]*c.InvAX + 0.5)
		d[0] -= s * c.AX
	}
	return d
}

// Dist returns the minimum-image displacement from b to a.
func (c *Cell) Dist(a, b mdtypes.Vec3) mdtypes.Vec3 {
	return c.MinImage(a.Sub(b))
}
