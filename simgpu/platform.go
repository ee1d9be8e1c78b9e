package simgpu

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// Window is a headless window. Once its queue is empty it reports a paint
// message per peek until Frames paints were delivered, then a destroy.
type Window struct {
	width, height int
	frames        int

	mu        sync.Mutex
	userData  any
	shown     bool
	queue     []hal.Message
	paints    int
	destroyed bool
}

func (w *Window) Size() (int, int) { return w.width, w.height }

func (w *Window) SetUserData(v any) {
	w.mu.Lock()
	w.userData = v
	w.mu.Unlock()
}

func (w *Window) UserData() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.userData
}

func (w *Window) Show() {
	w.mu.Lock()
	w.shown = true
	w.mu.Unlock()
}

// Shown reports whether Show was called.
func (w *Window) Shown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shown
}

// Paints returns the number of paint messages delivered.
func (w *Window) Paints() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paints
}

// Post queues a message.
func (w *Window) Post(msg hal.Message) {
	w.mu.Lock()
	msg.Window = w
	w.queue = append(w.queue, msg)
	w.mu.Unlock()
}

func (w *Window) PeekMessage() (hal.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) > 0 {
		m := w.queue[0]
		w.queue = w.queue[1:]
		return m, true
	}
	if !w.shown || w.destroyed {
		return hal.Message{}, false
	}
	if w.paints < w.frames {
		w.paints++
		return hal.Message{Kind: hal.EventPaint, Window: w}, true
	}
	w.destroyed = true
	return hal.Message{Kind: hal.EventDestroy, Window: w}, true
}

func (w *Window) PostQuitMessage(code int) {
	w.Post(hal.Message{Kind: hal.EventQuit, WParam: uintptr(code)})
}

// Platform creates headless windows and simulated factories.
type Platform struct {
	// Frames is the number of paints each window delivers before it closes.
	Frames  int
	Options Options

	mu      sync.Mutex
	window  *Window
	factory *Factory
}

// NewPlatform returns a platform whose windows paint frames times.
func NewPlatform(frames int, opts Options) *Platform {
	return &Platform{Frames: frames, Options: opts}
}

func (p *Platform) CreateWindow(desc hal.WindowDesc, proc func(hal.Message), param any) (hal.Window, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, errors.Errorf("simgpu: invalid window size %dx%d", desc.Width, desc.Height)
	}
	w := &Window{width: desc.Width, height: desc.Height, frames: p.Frames}
	p.mu.Lock()
	p.window = w
	p.mu.Unlock()
	if proc != nil {
		proc(hal.Message{Kind: hal.EventCreate, Window: w, LParam: param})
	}
	return w, nil
}

func (p *Platform) NewFactory(w hal.Window, debug bool) (hal.Factory, error) {
	if _, ok := w.(*Window); !ok {
		return nil, errors.New("simgpu: window was not created by this platform")
	}
	hf := NewFactory(p.Options)
	p.mu.Lock()
	p.factory = Unwrap(hf)
	p.mu.Unlock()
	hal.Logger().Debug("simgpu: factory created", "debug", debug, "adapters", len(p.factory.adapters))
	return hf, nil
}

// Window returns the last window created.
func (p *Platform) Window() *Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window
}

// Factory returns the last factory created.
func (p *Platform) Factory() *Factory {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.factory
}

func (p *Platform) Release() {}
