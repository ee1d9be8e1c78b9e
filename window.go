package hellotriangle

import (
	"runtime"

	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// HandlerFunc handles one window message.
type HandlerFunc func(msg hal.Message)

// WindowProc dispatches messages by kind. Kinds without a handler go to
// DefWindowProc.
type WindowProc map[hal.EventKind]HandlerFunc

// Renderer is what a window drives on paint.
type Renderer interface {
	OnUpdate()
	OnRender() error
}

// DefWindowProc is the default handling for a message, which is none.
func DefWindowProc(hal.Message) {}

// NewWindowProc returns the sample's handlers: create attaches the create
// parameter to the window, paint renders through it, destroy quits with 0.
func NewWindowProc() WindowProc {
	return WindowProc{
		hal.EventCreate: func(msg hal.Message) {
			msg.Window.SetUserData(msg.LParam)
		},
		hal.EventPaint: func(msg hal.Message) {
			r, ok := msg.Window.UserData().(Renderer)
			if !ok {
				return
			}
			r.OnUpdate()
			if err := r.OnRender(); err != nil {
				Logger().Warn("render failed", "err", err)
			}
		},
		hal.EventDestroy: func(msg hal.Message) {
			msg.Window.PostQuitMessage(0)
		},
	}
}

// Dispatch calls the handler registered for msg.Kind.
func (p WindowProc) Dispatch(msg hal.Message) {
	if h, ok := p[msg.Kind]; ok && h != nil {
		h(msg)
		return
	}
	DefWindowProc(msg)
}

// RunMessageLoop pumps w until EventQuit and returns the low byte of its
// WParam.
func RunMessageLoop(w hal.Window, proc WindowProc) byte {
	var msg hal.Message
	for msg.Kind != hal.EventQuit {
		m, ok := w.PeekMessage()
		if !ok {
			runtime.Gosched()
			continue
		}
		msg = m
		if msg.Kind != hal.EventQuit {
			proc.Dispatch(msg)
		}
	}
	return byte(msg.WParam)
}

// Run creates the window, initializes a controller in it and pumps messages
// until quit. If initialization fails the window is never shown and the
// code is 0.
func Run(cfg Config, platform hal.Platform) (byte, error) {
	ctrl := NewController(cfg, platform)
	proc := NewWindowProc()
	w, err := platform.CreateWindow(hal.WindowDesc{Title: cfg.Title, Width: cfg.Width, Height: cfg.Height}, proc.Dispatch, ctrl)
	if err != nil {
		return 0, errors.Wrap(err, "create window")
	}
	if err := ctrl.OnInit(w); err != nil {
		return 0, errors.Wrap(err, "initialize")
	}
	w.Show()
	code := RunMessageLoop(w, proc)
	ctrl.OnDestroy()
	return code, nil
}
