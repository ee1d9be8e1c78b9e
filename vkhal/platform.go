package vkhal

import (
	"sync"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

// Window is a GLFW window without a client API. Once its queue is empty
// it reports a paint per peek while shown, and a destroy once the user
// closes it or Frames paints were delivered.
type Window struct {
	handle *glfw.Window
	frames int

	userData  any
	shown     bool
	queue     []hal.Message
	paints    int
	destroyed bool
}

// Size is the framebuffer size in pixels.
func (w *Window) Size() (int, int) { return w.handle.GetFramebufferSize() }

func (w *Window) SetUserData(v any) { w.userData = v }
func (w *Window) UserData() any     { return w.userData }

func (w *Window) Show() {
	w.handle.Show()
	w.shown = true
}

func (w *Window) post(msg hal.Message) {
	msg.Window = w
	w.queue = append(w.queue, msg)
}

func (w *Window) PeekMessage() (hal.Message, bool) {
	glfw.PollEvents()
	if len(w.queue) > 0 {
		m := w.queue[0]
		w.queue = w.queue[1:]
		return m, true
	}
	if !w.shown || w.destroyed {
		return hal.Message{}, false
	}
	if w.handle.ShouldClose() || (w.frames > 0 && w.paints >= w.frames) {
		w.destroyed = true
		return hal.Message{Kind: hal.EventDestroy, Window: w}, true
	}
	w.paints++
	return hal.Message{Kind: hal.EventPaint, Window: w}, true
}

func (w *Window) PostQuitMessage(code int) {
	w.post(hal.Message{Kind: hal.EventQuit, WParam: uintptr(code)})
}

// PlatformOptions configure a Platform.
type PlatformOptions struct {
	// Frames closes each window after that many paints. Zero paints until
	// the user closes the window.
	Frames int
	// Visible shows windows on creation.
	Visible bool
}

// Platform creates GLFW windows and Vulkan factories for them. It must be
// used from the main OS thread.
type Platform struct {
	opts    PlatformOptions
	windows []*Window
}

var initLoader sync.Once

// NewPlatform initializes GLFW.
func NewPlatform(opts PlatformOptions) (*Platform, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "glfw init")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.Wrap(hal.ErrUnsupported, "glfw found no vulkan loader")
	}
	return &Platform{opts: opts}, nil
}

func (p *Platform) CreateWindow(desc hal.WindowDesc, proc func(hal.Message), param any) (hal.Window, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, errors.Errorf("vkhal: invalid window size %dx%d", desc.Width, desc.Height)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	visible := glfw.False
	if p.opts.Visible {
		visible = glfw.True
	}
	glfw.WindowHint(glfw.Visible, visible)
	handle, err := glfw.CreateWindow(desc.Width, desc.Height, desc.Title, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create window")
	}
	w := &Window{handle: handle, frames: p.opts.Frames}
	handle.SetRefreshCallback(func(*glfw.Window) {
		if w.shown && !w.destroyed {
			w.post(hal.Message{Kind: hal.EventPaint})
		}
	})
	p.windows = append(p.windows, w)
	if proc != nil {
		proc(hal.Message{Kind: hal.EventCreate, Window: w, LParam: param})
	}
	return w, nil
}

// NewFactory loads the Vulkan entry points through GLFW on first use and
// creates a factory whose surface is the window.
func (p *Platform) NewFactory(win hal.Window, debug bool) (hal.Factory, error) {
	w, ok := win.(*Window)
	if !ok {
		return nil, errors.New("vkhal: window was not created by this platform")
	}
	var initErr error
	initLoader.Do(func() {
		vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
		initErr = vk.Init()
	})
	if initErr != nil {
		return nil, errors.Wrap(initErr, "load vulkan")
	}
	f, err := NewFactory(FactoryDesc{
		AppName:            "hellotriangle",
		InstanceExtensions: w.handle.GetRequiredInstanceExtensions(),
		Debug:              debug,
		Surface:            w,
		CreateSurface: func(instance vk.Instance) (vk.Surface, error) {
			ptr, err := w.handle.CreateWindowSurface(instance, nil)
			if err != nil {
				return vk.NullSurface, errors.Wrap(err, "create window surface")
			}
			return vk.SurfaceFromPointer(ptr), nil
		},
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Release destroys every window and terminates GLFW.
func (p *Platform) Release() {
	for _, w := range p.windows {
		w.handle.Destroy()
	}
	p.windows = nil
	glfw.Terminate()
}
