package lazy

import (
	"sync/atomic"

	"github.com/sourcegraph/conc"
)

// Signal is a join barrier: Wait returns once every function started with
// Go has finished. A panic in any of them is re-raised by Wait.
type Signal struct {
	wg      conc.WaitGroup
	pending atomic.Int64
}

// NewSignal creates an idle barrier.
func NewSignal() *Signal {
	return &Signal{}
}

// Go runs fn as one pending participant of the barrier.
func (s *Signal) Go(fn func()) {
	s.pending.Add(1)
	s.wg.Go(func() {
		defer s.pending.Add(-1)
		fn()
	})
}

// Pending reports how many participants have not finished yet.
func (s *Signal) Pending() int {
	return int(s.pending.Load())
}

// Wait blocks until all participants are done.
func (s *Signal) Wait() {
	s.wg.Wait()
}
