package hellotriangle

import (
	"github.com/andewx/hellotriangle/hal"
)

// FrameCount is the number of swap chain images.
const FrameCount = 2

// Controller owns every GPU object of the sample and renders one frame per
// paint message. All methods must be called from the message loop thread.
type Controller struct {
	cfg      Config
	platform hal.Platform
	window   hal.Window

	factory          hal.Factory
	adapter          hal.Adapter
	device           hal.Device
	queue            hal.CommandQueue
	swapChain        hal.SwapChain
	rtvHeap          hal.DescriptorHeap
	renderTargets    [FrameCount]hal.Resource
	allocator        hal.CommandAllocator
	rootSignature    hal.RootSignature
	pipelineState    hal.PipelineState
	commandList      hal.GraphicsCommandList
	vertexBuffer     hal.Resource
	vertexBufferView hal.VertexBufferView
	fence            *FrameFence

	viewport   hal.Viewport
	scissor    hal.Rect
	frameIndex int
	frames     uint64

	releases    []func()
	initialized bool
}

// NewController returns a controller that will create its factory from
// platform. Nothing is created until OnInit.
func NewController(cfg Config, platform hal.Platform) *Controller {
	return &Controller{
		cfg:      cfg,
		platform: platform,
		viewport: hal.Viewport{Width: float32(cfg.Width), Height: float32(cfg.Height), MaxDepth: 1},
		scissor:  hal.Rect{Right: cfg.Width, Bottom: cfg.Height},
	}
}

// own registers release to run when the controller is closed. Releases run
// in reverse registration order.
func (c *Controller) own(release func()) {
	c.releases = append(c.releases, release)
}

// OnInit creates the pipeline objects and assets for w. On failure the
// objects created so far are released.
func (c *Controller) OnInit(w hal.Window) error {
	c.window = w
	if err := c.LoadPipeline(); err != nil {
		c.Close()
		return err
	}
	if err := c.LoadAssets(); err != nil {
		c.Close()
		return err
	}
	c.initialized = true
	return nil
}

// OnDestroy waits for the GPU to finish with every resource and releases
// them.
func (c *Controller) OnDestroy() {
	if c.initialized {
		if err := c.WaitForPreviousFrame(); err != nil {
			Logger().Error("wait for gpu on destroy", "err", err)
		}
	}
	c.Close()
}

// Close releases everything the controller owns without waiting for the GPU.
func (c *Controller) Close() {
	for i := len(c.releases) - 1; i >= 0; i-- {
		c.releases[i]()
	}
	c.releases = nil
	c.initialized = false
	*c = Controller{cfg: c.cfg, platform: c.platform, viewport: c.viewport, scissor: c.scissor, frames: c.frames}
}

// Config is the configuration the controller was built with.
func (c *Controller) Config() Config { return c.cfg }

// FrameIndex is the swap chain image the next frame renders into.
func (c *Controller) FrameIndex() int { return c.frameIndex }

// FenceValue is the value the next frame will signal.
func (c *Controller) FenceValue() uint64 {
	if c.fence == nil {
		return 0
	}
	return c.fence.Value()
}

// CompletedFenceValue is the last value the GPU reached.
func (c *Controller) CompletedFenceValue() uint64 {
	if c.fence == nil {
		return 0
	}
	return c.fence.Fence().CompletedValue()
}

// Frames is the number of frames fully rendered and waited for.
func (c *Controller) Frames() uint64 { return c.frames }

// Adapter is the hardware adapter the device runs on.
func (c *Controller) Adapter() hal.Adapter { return c.adapter }

// SwapChain is the swap chain bound to the window.
func (c *Controller) SwapChain() hal.SwapChain { return c.swapChain }

// Initialized reports whether OnInit completed.
func (c *Controller) Initialized() bool { return c.initialized }
