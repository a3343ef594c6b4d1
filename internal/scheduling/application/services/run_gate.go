package services

import (
	"fmt"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// DefaultRunQueueSize bounds how many engine runs may execute concurrently.
const DefaultRunQueueSize = 4

// RunGate bounds concurrent engine runs. Acquisition never blocks: when the
// gate is full the caller gets ErrBusy and decides whether to queue the work
// elsewhere or reject it.
type RunGate struct {
	slots chan struct{}
}

// NewRunGate creates a gate with the given capacity. Non-positive sizes
// fall back to the default.
func NewRunGate(size int) *RunGate {
	if size <= 0 {
		size = DefaultRunQueueSize
	}
	return &RunGate{slots: make(chan struct{}, size)}
}

// Acquire claims a slot. The returned release function must be called
// exactly once; it is safe to defer.
func (g *RunGate) Acquire() (func(), error) {
	select {
	case g.slots <- struct{}{}:
		released := false
		return func() {
			if !released {
				released = true
				<-g.slots
			}
		}, nil
	default:
		return nil, fmt.Errorf("%w: engine run queue full", domain.ErrBusy)
	}
}

// InUse reports the number of held slots.
func (g *RunGate) InUse() int { return len(g.slots) }
