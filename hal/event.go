package hal

// Event is an auto-reset wait handle. Set wakes exactly one Wait; a Set with
// no waiter is remembered until the next Wait. Setting an already set event
// is a no-op.
type Event struct {
	ch chan struct{}
}

// NewEvent returns an unset event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}, 1)}
}

// Set signals the event. It never blocks and is safe to call from any
// goroutine.
func (e *Event) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the event is set, then resets it. There is no timeout.
func (e *Event) Wait() {
	<-e.ch
}

// IsSet reports whether a Set is pending without consuming it.
func (e *Event) IsSet() bool {
	return len(e.ch) > 0
}
