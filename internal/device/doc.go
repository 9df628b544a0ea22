// Package device models the accelerator resources the update-constrain
// pipeline runs on:
//
//   - [Stream]: an in-order command queue; kernels launched on the same
//     stream execute sequentially and asynchronously to the host
//   - [Buffer]: an owned device array with grow-only capacity tracking
//
// A single default stream is used when the caller does not supply one:
//
//	s := device.Default()
//	s.Launch(func() { ... })
//	s.Synchronize()
//
// Streams are not safe for concurrent Launch from multiple goroutines when
// ordering between the launches matters; the pipeline serializes access.
package device
