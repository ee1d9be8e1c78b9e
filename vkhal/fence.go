package vkhal

import (
	"sync"

	"github.com/andewx/hellotriangle/hal"
)

type pendingSignal struct {
	value uint64
	seq   uint64
}

type pendingWait struct {
	value uint64
	ev    *hal.Event
}

// fence emulates a value fence. Each Signal becomes a queue submission and
// the value completes when that submission's native fence does.
type fence struct {
	dev *Device

	mu        sync.Mutex
	queue     *commandQueue
	completed uint64
	pending   []pendingSignal
	waits     []pendingWait
}

func (f *fence) signaled(q *commandQueue, value, seq uint64) {
	f.mu.Lock()
	f.queue = q
	f.pending = append(f.pending, pendingSignal{value: value, seq: seq})
	var ready []pendingWait
	kept := f.waits[:0]
	for _, w := range f.waits {
		if value >= w.value {
			ready = append(ready, w)
		} else {
			kept = append(kept, w)
		}
	}
	f.waits = kept
	f.mu.Unlock()

	for _, w := range ready {
		q.notify(seq, w.ev)
	}
}

func (f *fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateLocked()
}

func (f *fence) updateLocked() uint64 {
	if f.queue == nil {
		return f.completed
	}
	done := f.queue.completed()
	kept := f.pending[:0]
	for _, p := range f.pending {
		if p.seq <= done {
			if p.value > f.completed {
				f.completed = p.value
			}
			continue
		}
		kept = append(kept, p)
	}
	f.pending = kept
	return f.completed
}

// SetEventOnCompletion sets ev right away when value has been reached.
// Otherwise the first pending signal at or past value is waited on, or the
// wait is parked until such a signal is enqueued.
func (f *fence) SetEventOnCompletion(value uint64, ev *hal.Event) error {
	f.mu.Lock()
	if f.updateLocked() >= value {
		f.mu.Unlock()
		ev.Set()
		return nil
	}
	for _, p := range f.pending {
		if p.value >= value {
			q, seq := f.queue, p.seq
			f.mu.Unlock()
			q.notify(seq, ev)
			return nil
		}
	}
	f.waits = append(f.waits, pendingWait{value: value, ev: ev})
	f.mu.Unlock()
	return nil
}

// Release drops parked waits. The native fences belong to the queue.
func (f *fence) Release() {
	f.mu.Lock()
	f.waits = nil
	f.pending = nil
	f.mu.Unlock()
}
