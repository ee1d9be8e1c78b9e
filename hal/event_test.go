package hal

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventSetBeforeWait(t *testing.T) {
	ev := NewEvent()
	ev.Set()
	assert.True(t, ev.IsSet())
	ev.Wait()
	assert.False(t, ev.IsSet(), "wait resets the event")
}

func TestEventSetIsIdempotent(t *testing.T) {
	ev := NewEvent()
	ev.Set()
	ev.Set()
	ev.Wait()
	assert.False(t, ev.IsSet())
}

func TestEventWakesWaiter(t *testing.T) {
	ev := NewEvent()
	done := make(chan struct{})
	go func() {
		ev.Wait()
		close(done)
	}()
	ev.Set()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestAdapterFlags(t *testing.T) {
	assert.True(t, AdapterFlagSoftware.Has(AdapterFlagSoftware))
	assert.False(t, AdapterFlagNone.Has(AdapterFlagSoftware))
	assert.Equal(t, 12, FormatR32G32B32Float.Size())
	assert.Equal(t, 16, FormatR32G32B32A32Float.Size())
}

func TestSetLoggerNilRestoresDefault(t *testing.T) {
	SetLogger(nil)
	assert.NotNil(t, Logger())
	assert.False(t, Logger().Enabled(context.Background(), slog.LevelError))
}
