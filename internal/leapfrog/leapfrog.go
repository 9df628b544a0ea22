// Package leapfrog implements the device-side leap-frog update: velocities
// advanced half-step-staggered by the current forces, trial positions written
// to a separate buffer for the constraint solvers to correct.
package leapfrog

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/san-kum/mdstep/internal/device"
	"github.com/san-kum/mdstep/internal/mdtypes"
)

// Kernels with fewer atoms than this run serially inside the stream op.
const parallelThreshold = 64

type LeapFrog struct {
	stream    *device.Stream
	invMass   *device.Buffer[float64]
	groups    *device.Buffer[int]
	lambdas   *device.Buffer[float64]
	numGroups int
	workers   int
}

func New(stream *device.Stream) *LeapFrog {
	return &LeapFrog{
		stream:  stream,
		groups:  device.NewBuffer[int](),
		lambdas: device.NewBuffer[float64](),
		workers: runtime.NumCPU(),
	}
}

// Bind points the integrator at the pipeline-owned inverse mass buffer and
// rebuilds the per-atom temperature-group mapping for the current ordering.
func (lf *LeapFrog) Bind(invMass *device.Buffer[float64], tempGroup []int, numGroups int) error {
	if numGroups < 0 {
		return fmt.Errorf("%w: %d temperature groups", mdtypes.ErrBadTopology, numGroups)
	}
	lf.invMass = invMass
	lf.numGroups = numGroups
	if numGroups > 0 {
		if len(tempGroup) != invMass.Len() {
			return fmt.Errorf("%w: %d group indices for %d atoms", mdtypes.ErrBadTopology, len(tempGroup), invMass.Len())
		}
		for i, g := range tempGroup {
			if g < 0 || g >= numGroups {
				return fmt.Errorf("%w: atom %d in group %d of %d", mdtypes.ErrBadTopology, i, g, numGroups)
			}
		}
		if err := lf.groups.Upload(tempGroup); err != nil {
			return err
		}
		return lf.lambdas.EnsureCapacity(numGroups)
	}
	lf.groups.Release()
	return nil
}

// Integrate enqueues one leap-frog step on the stream: updates v in place and
// writes unconstrained trial positions into xp. When doTempCouple is false the
// lambda path is skipped entirely, likewise the scaling matrix when
// doPressureCouple is false, so disabled coupling is an exact no-op. The
// caller folds the coupling period into the scaling matrix; dtPressureCouple
// travels with the call for parity with the host-side contract.
func (lf *LeapFrog) Integrate(
	x, xp, v, f *device.Buffer[mdtypes.Vec3],
	dt float64,
	doTempCouple bool, tcScale []float64,
	doPressureCouple bool, dtPressureCouple float64, scaling mdtypes.Tensor,
) {
	if doTempCouple {
		// Stage the host factors before the asynchronous launch; the caller
		// may reuse its slice immediately after Integrate returns.
		copy(lf.lambdas.Data(), tcScale)
	}
	lf.stream.Launch(func() {
		lf.kernel(x.Data(), xp.Data(), v.Data(), f.Data(), dt, doTempCouple, doPressureCouple, scaling)
	})
}

func (lf *LeapFrog) kernel(x, xp, v, f []mdtypes.Vec3, dt float64, doTempCouple, doPressureCouple bool, scaling mdtypes.Tensor) {
	// Caller buffers may exceed the bound atom count; the inverse-mass
	// buffer is sized to it exactly.
	inv := lf.invMass.Data()
	n := len(inv)
	if n < parallelThreshold {
		lf.updateRange(0, n, x, xp, v, f, inv, dt, doTempCouple, doPressureCouple, scaling)
		return
	}

	var wg sync.WaitGroup
	chunk := (n + lf.workers - 1) / lf.workers
	for w := 0; w < lf.workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			lf.updateRange(start, end, x, xp, v, f, inv, dt, doTempCouple, doPressureCouple, scaling)
		}(start, end)
	}
	wg.Wait()
}

func (lf *LeapFrog) updateRange(start, end int, x, xp, v, f []mdtypes.Vec3, inv []float64, dt float64, doTempCouple, doPressureCouple bool, scaling mdtypes.Tensor) {
	var groups []int
	var lambdas []float64
	if doTempCouple {
		groups = lf.groups.Data()
		lambdas = lf.lambdas.Data()
	}
	for i := start; i < end; i++ {
		vi := v[i]
		if doTempCouple {
			vi = vi.Scale(lambdas[groups[i]])
		}
		if doPressureCouple {
			vi = scaling.MulVec(vi)
		}
		vi = vi.Add(f[i].Scale(dt * inv[i]))
		v[i] = vi
		xp[i] = x[i].Add(vi.Scale(dt))
	}
}

// Release frees the integrator-owned device arrays.
func (lf *LeapFrog) Release() {
	lf.groups.Release()
	lf.lambdas.Release()
}
