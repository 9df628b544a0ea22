package mdtypes

import "math"

// KB is the Boltzmann constant in kJ/(mol·K).
const KB = 0.0083144621

type Vec3 [3]float64

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{v[0] * f, v[1] * f, v[2] * f}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

func (v Vec3) Norm2() float64 {
	return v.Dot(v)
}

func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Norm2())
}

func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{}
	}
	return v.Scale(1 / n)
}

func (v Vec3) IsValid() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Tensor is a 3x3 matrix, used for the virial and for velocity scaling.
type Tensor [3][3]float64

func Identity() Tensor {
	return Tensor{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func (t *Tensor) Clear() {
	*t = Tensor{}
}

func (t *Tensor) AddScaled(o Tensor, f float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] += o[i][j] * f
		}
	}
}

func (t *Tensor) Scale(f float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] *= f
		}
	}
}

func (t Tensor) Trace() float64 {
	return t[0][0] + t[1][1] + t[2][2]
}

func (t Tensor) MulVec(v Vec3) Vec3 {
	return Vec3{
		t[0][0]*v[0] + t[0][1]*v[1] + t[0][2]*v[2],
		t[1][0]*v[0] + t[1][1]*v[1] + t[1][2]*v[2],
		t[2][0]*v[0] + t[2][1]*v[1] + t[2][2]*v[2],
	}
}

func (t Tensor) IsIdentity() bool {
	return t == Identity()
}
