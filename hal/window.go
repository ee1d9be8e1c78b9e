package hal

// EventKind is the kind of a window message.
type EventKind int

const (
	EventNone EventKind = iota
	// EventCreate is delivered while the window is being created. LParam
	// carries the create parameter.
	EventCreate
	// EventPaint asks the window to redraw.
	EventPaint
	// EventDestroy is delivered when the window is closed.
	EventDestroy
	// EventQuit ends the message loop. WParam carries the exit code.
	EventQuit
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventPaint:
		return "paint"
	case EventDestroy:
		return "destroy"
	case EventQuit:
		return "quit"
	}
	return "none"
}

// Message is one window message.
type Message struct {
	Kind   EventKind
	Window Window
	WParam uintptr
	LParam any
}

// WindowDesc describes a window to create.
type WindowDesc struct {
	Title  string
	Width  int
	Height int
}

// Window is a native window that owns a message queue.
type Window interface {
	Surface
	SetUserData(v any)
	UserData() any
	Show()
	// PeekMessage removes and returns the next message. ok is false when
	// nothing is pending.
	PeekMessage() (msg Message, ok bool)
	// PostQuitMessage queues EventQuit with code as WParam.
	PostQuitMessage(code int)
}

// Platform creates windows and GPU factories.
type Platform interface {
	// CreateWindow creates a window and delivers EventCreate, with param as
	// LParam, to proc before it returns.
	CreateWindow(desc WindowDesc, proc func(Message), param any) (Window, error)
	// NewFactory creates the GPU factory for the window. debug enables the
	// backend's validation layers where it has any.
	NewFactory(w Window, debug bool) (Factory, error)
	Release()
}
