package device

import "sync"

// Stream is an in-order command queue. Operations launched on a stream run on
// a single worker goroutine in launch order, so consecutive kernels see each
// other's writes without explicit synchronization, mirroring the in-stream
// ordering guarantee of an accelerator queue.
type Stream struct {
	ops    chan func()
	closed sync.Once
}

const streamDepth = 256

func NewStream() *Stream {
	s := &Stream{ops: make(chan func(), streamDepth)}
	go s.worker()
	return s
}

var (
	defaultStream     *Stream
	defaultStreamOnce sync.Once
)

// Default returns the process-wide default stream, creating it on first use.
func Default() *Stream {
	defaultStreamOnce.Do(func() {
		defaultStream = NewStream()
	})
	return defaultStream
}

func (s *Stream) worker() {
	for op := range s.ops {
		op()
	}
}

// Launch enqueues op and returns without waiting for it to run. Launch only
// blocks when the queue is full.
func (s *Stream) Launch(op func()) {
	s.ops <- op
}

// Synchronize blocks until every previously launched operation has completed.
func (s *Stream) Synchronize() {
	done := make(chan struct{})
	s.ops <- func() { close(done) }
	<-done
}

// Close drains the queue and stops the worker. The stream must not be used
// after Close. The default stream is never closed.
func (s *Stream) Close() {
	s.closed.Do(func() {
		s.Synchronize()
		close(s.ops)
	})
}
