package hellotriangle

import (
	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// FrameFence pairs a fence with the next value to signal and the event the
// CPU blocks on.
type FrameFence struct {
	fence hal.Fence
	value uint64
	event *hal.Event
}

// NewFrameFence creates a fence at 0 whose first signal is 1.
func NewFrameFence(dev hal.Device) (*FrameFence, error) {
	f, err := dev.CreateFence(0)
	if err != nil {
		return nil, errors.Wrap(err, "create fence")
	}
	return &FrameFence{fence: f, value: 1, event: hal.NewEvent()}, nil
}

// Value is the value the next SignalAndWait will signal.
func (f *FrameFence) Value() uint64 { return f.value }

// Fence returns the underlying fence.
func (f *FrameFence) Fence() hal.Fence { return f.fence }

// SignalAndWait enqueues a signal of the current value on q, advances the
// value and blocks until the GPU reaches the signaled value. It returns the
// signaled value.
func (f *FrameFence) SignalAndWait(q hal.CommandQueue) (uint64, error) {
	v := f.value
	if err := q.Signal(f.fence, v); err != nil {
		return v, errors.Wrapf(err, "signal fence %d", v)
	}
	f.value++

	if f.fence.CompletedValue() < v {
		if err := f.fence.SetEventOnCompletion(v, f.event); err != nil {
			return v, errors.Wrapf(err, "wait for fence %d", v)
		}
		f.event.Wait()
	}
	return v, nil
}

func (f *FrameFence) Release() {
	if f.fence != nil {
		f.fence.Release()
		f.fence = nil
	}
}
