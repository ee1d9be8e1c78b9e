package hellotriangle

import (
	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// LoadPipeline creates the factory, device, queue, swap chain, render
// target views and command allocator.
func (c *Controller) LoadPipeline() error {
	if c.window == nil {
		return errors.Wrap(ErrNotInitialized, "load pipeline without a window")
	}
	factory, err := c.platform.NewFactory(c.window, c.cfg.Debug)
	if err != nil {
		return errors.Wrap(err, "create factory")
	}
	c.factory = factory
	c.own(factory.Release)

	adapter, err := GetHardwareAdapter(factory, c.cfg.HighPerformanceAdapter)
	if err != nil {
		return err
	}
	c.adapter = adapter
	desc := adapter.Desc()
	Logger().Info("adapter selected",
		"adapter", desc.Description,
		"vendor", desc.VendorID,
		"device", desc.DeviceID,
		"video_memory", desc.DedicatedVideoMemory)

	device, err := factory.CreateDevice(adapter, MinimumFeatureLevel)
	if err != nil {
		return errors.Wrap(err, "create device")
	}
	c.device = device
	c.own(device.Release)

	queue, err := device.CreateCommandQueue(hal.CommandQueueDesc{Type: hal.CommandListTypeDirect})
	if err != nil {
		return errors.Wrap(err, "create command queue")
	}
	c.queue = queue
	c.own(queue.Release)

	sc, err := factory.CreateSwapChainForSurface(queue, c.window, hal.SwapChainDesc{
		BufferCount: FrameCount,
		Width:       c.cfg.Width,
		Height:      c.cfg.Height,
		Format:      hal.FormatR8G8B8A8Unorm,
		SwapEffect:  hal.SwapEffectFlipDiscard,
		SampleCount: 1,
	})
	if err != nil {
		return errors.Wrap(err, "create swap chain")
	}
	c.swapChain = sc
	c.own(sc.Release)
	c.frameIndex = sc.CurrentBackBufferIndex()
	Logger().Info("swap chain created", "width", c.cfg.Width, "height", c.cfg.Height, "buffers", FrameCount)

	heap, err := device.CreateDescriptorHeap(hal.DescriptorHeapDesc{Type: hal.DescriptorHeapTypeRTV, NumDescriptors: FrameCount})
	if err != nil {
		return errors.Wrap(err, "create rtv heap")
	}
	c.rtvHeap = heap
	c.own(heap.Release)

	for n := 0; n < FrameCount; n++ {
		res, err := sc.Buffer(n)
		if err != nil {
			return errors.Wrapf(err, "get swap chain buffer %d", n)
		}
		c.renderTargets[n] = res
		c.own(res.Release)
		if err := device.CreateRenderTargetView(res, heap, n); err != nil {
			return errors.Wrapf(err, "create render target view %d", n)
		}
	}

	alloc, err := device.CreateCommandAllocator(hal.CommandListTypeDirect)
	if err != nil {
		return errors.Wrap(err, "create command allocator")
	}
	c.allocator = alloc
	c.own(alloc.Release)
	return nil
}
