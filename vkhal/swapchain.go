package vkhal

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

// swapImage is a back buffer. The swap chain owns it; Release is a no-op.
type swapImage struct {
	chain  *SwapChain
	index  int
	handle vk.Image
	memory vk.DeviceMemory
	format vk.Format
	extent vk.Extent2D
	// used is false until the first barrier, while the contents are undefined.
	used bool
}

func (img *swapImage) Size() int { return int(img.extent.Width * img.extent.Height * 4) }

func (img *swapImage) Map() ([]byte, error) {
	return nil, errors.Wrap(hal.ErrInvalidState, "back buffers cannot be mapped")
}

func (img *swapImage) Unmap()   {}
func (img *swapImage) Release() {}

// SwapChain keeps BufferCount back buffers in ring order, independent of
// how many images the surface swapchain has. Present copies the current
// back buffer into the next surface image and advances the ring.
type SwapChain struct {
	queue  *commandQueue
	dev    *Device
	handle vk.Swapchain
	format vk.SurfaceFormat
	extent vk.Extent2D

	buffers []*swapImage
	current int

	images      []vk.Image
	pool        vk.CommandPool
	cmds        []vk.CommandBuffer
	cmdSeq      []uint64
	acquired    []vk.Semaphore
	rendered    []vk.Semaphore
	nextAcquire int
	presented   int
}

func newSwapChain(q *commandQueue, surface vk.Surface, desc hal.SwapChainDesc) (_ *SwapChain, err error) {
	if desc.BufferCount < 2 {
		return nil, errors.Wrapf(hal.ErrUnsupported, "flip swap chains need at least 2 buffers, got %d", desc.BufferCount)
	}
	if desc.SampleCount > 1 {
		return nil, errors.Wrap(hal.ErrUnsupported, "multisampled swap chains")
	}
	backFormat, err := vkFormat(desc.Format)
	if err != nil || !(desc.Format == hal.FormatR8G8B8A8Unorm || desc.Format == hal.FormatB8G8R8A8Unorm) {
		return nil, errors.Wrapf(hal.ErrUnsupported, "swap chain format %d", desc.Format)
	}

	dev := q.dev
	gpu := dev.adapter.gpu
	sc := &SwapChain{queue: q, dev: dev}
	defer func() {
		if err != nil {
			sc.Release()
		}
	}()

	var caps vk.SurfaceCapabilities
	if ret := vk.GetPhysicalDeviceSurfaceCapabilities(gpu, surface, &caps); isError(ret) {
		return nil, errors.Wrap(newError(ret), "query surface capabilities")
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(gpu, surface, &formatCount, nil)
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(gpu, surface, &formatCount, formats)
	if formatCount == 0 {
		return nil, errors.Wrap(hal.ErrUnsupported, "surface reports no formats")
	}
	sc.format = chooseSurfaceFormat(formats[:formatCount], backFormat)

	// A current extent of MaxUint32 lets the swapchain pick its size.
	if caps.CurrentExtent.Width == vk.MaxUint32 {
		sc.extent = vk.Extent2D{
			Width:  clampUint32(uint32(desc.Width), caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
			Height: clampUint32(uint32(desc.Height), caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
		}
	} else {
		sc.extent = caps.CurrentExtent
	}

	imageCount := uint32(desc.BufferCount)
	if imageCount < caps.MinImageCount {
		imageCount = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	preTransform := vk.SurfaceTransformIdentityBit
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&preTransform == 0 {
		preTransform = caps.CurrentTransform
	}
	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}
	if caps.SupportedUsageFlags&vk.ImageUsageFlags(vk.ImageUsageTransferDstBit) == 0 {
		return nil, errors.Wrap(hal.ErrUnsupported, "surface images cannot be copied into")
	}

	// FIFO is the one present mode every implementation has.
	ret := vk.CreateSwapchain(dev.handle, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.format.Format,
		ImageColorSpace:  sc.format.ColorSpace,
		ImageExtent:      sc.extent,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
		PreTransform:     preTransform,
		CompositeAlpha:   compositeAlpha,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		PresentMode:      vk.PresentModeFifo,
		OldSwapchain:     vk.NullSwapchain,
		Clipped:          vk.True,
	}, nil, &sc.handle)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create swapchain")
	}

	var count uint32
	vk.GetSwapchainImages(dev.handle, sc.handle, &count, nil)
	sc.images = make([]vk.Image, count)
	vk.GetSwapchainImages(dev.handle, sc.handle, &count, sc.images)

	if err := sc.createPresentCommands(); err != nil {
		return nil, err
	}
	for i := 0; i < desc.BufferCount; i++ {
		img, err := sc.createBackBuffer(i, backFormat)
		if err != nil {
			return nil, errors.Wrapf(err, "create back buffer %d", i)
		}
		sc.buffers = append(sc.buffers, img)
	}
	hal.Logger().Info("vulkan swapchain created",
		"width", sc.extent.Width, "height", sc.extent.Height,
		"surface_images", count, "back_buffers", desc.BufferCount,
		"surface_format", sc.format.Format)
	return sc, nil
}

// chooseSurfaceFormat prefers the back buffer format, then any 8-bit UNORM
// format, then the first one offered. The present blit converts between them.
func chooseSurfaceFormat(formats []vk.SurfaceFormat, want vk.Format) vk.SurfaceFormat {
	for i := range formats {
		formats[i].Deref()
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: want, ColorSpace: formats[0].ColorSpace}
	}
	for _, f := range formats {
		if f.Format == want {
			return f
		}
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm || f.Format == vk.FormatR8g8b8a8Unorm {
			return f
		}
	}
	return formats[0]
}

func clampUint32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (sc *SwapChain) createPresentCommands() error {
	dev := sc.dev.handle
	ret := vk.CreateCommandPool(dev, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: sc.dev.adapter.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &sc.pool)
	if isError(ret) {
		return errors.Wrap(newError(ret), "create present command pool")
	}
	n := len(sc.images)
	sc.cmds = make([]vk.CommandBuffer, n)
	sc.cmdSeq = make([]uint64, n)
	ret = vk.AllocateCommandBuffers(dev, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        sc.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(n),
	}, sc.cmds)
	if isError(ret) {
		return errors.Wrap(newError(ret), "allocate present command buffers")
	}

	// One more acquire semaphore than images, so the next acquire never
	// reuses one an earlier submit may still be waiting on.
	sc.acquired = make([]vk.Semaphore, n+1)
	sc.rendered = make([]vk.Semaphore, n)
	for _, list := range [][]vk.Semaphore{sc.acquired, sc.rendered} {
		for i := range list {
			ret := vk.CreateSemaphore(dev, &vk.SemaphoreCreateInfo{
				SType: vk.StructureTypeSemaphoreCreateInfo,
			}, nil, &list[i])
			if isError(ret) {
				return errors.Wrap(newError(ret), "create semaphore")
			}
		}
	}
	return nil
}

func (sc *SwapChain) createBackBuffer(index int, format vk.Format) (*swapImage, error) {
	dev := sc.dev
	img := &swapImage{chain: sc, index: index, format: format, extent: sc.extent}
	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit)
	ret := vk.CreateImage(dev.handle, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        format,
		Extent:        vk.Extent3D{Width: sc.extent.Width, Height: sc.extent.Height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img.handle)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create image")
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev.handle, img.handle, &memReqs)
	memReqs.Deref()
	memType, err := dev.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		memType, err = dev.findMemoryType(memReqs.MemoryTypeBits, 0)
	}
	if err != nil {
		vk.DestroyImage(dev.handle, img.handle, nil)
		return nil, err
	}
	ret = vk.AllocateMemory(dev.handle, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &img.memory)
	if isError(ret) {
		vk.DestroyImage(dev.handle, img.handle, nil)
		return nil, errors.Wrap(newError(ret), "allocate image memory")
	}
	vk.BindImageMemory(dev.handle, img.handle, img.memory, 0)
	return img, nil
}

func (sc *SwapChain) BufferCount() int { return len(sc.buffers) }

func (sc *SwapChain) CurrentBackBufferIndex() int { return sc.current }

func (sc *SwapChain) Buffer(index int) (hal.Resource, error) {
	if index < 0 || index >= len(sc.buffers) {
		return nil, errors.Wrapf(hal.ErrInvalidState, "swap chain buffer %d of %d", index, len(sc.buffers))
	}
	return sc.buffers[index], nil
}

// Presented is the number of successful presents.
func (sc *SwapChain) Presented() int { return sc.presented }

// Present acquires a surface image, blits the current back buffer into it
// and queues it for display. The back buffer must be in the present state.
// The surface always runs in FIFO mode, so any valid interval waits for
// vertical blank.
func (sc *SwapChain) Present(syncInterval int) error {
	if syncInterval < 0 || syncInterval > 4 {
		return errors.Wrapf(hal.ErrInvalidState, "sync interval %d", syncInterval)
	}
	q := sc.queue
	q.mu.Lock()
	defer q.mu.Unlock()

	acquired := sc.acquired[sc.nextAcquire]
	var index uint32
	ret := vk.AcquireNextImage(sc.dev.handle, sc.handle, vk.MaxUint64, acquired, vk.NullFence, &index)
	if ret != vk.Success && ret != vk.Suboptimal {
		return errors.Wrap(newError(ret), "acquire swapchain image")
	}
	sc.nextAcquire = (sc.nextAcquire + 1) % len(sc.acquired)

	q.waitLocked(sc.cmdSeq[index])
	cmd := sc.cmds[index]
	if err := sc.recordCopy(cmd, sc.buffers[sc.current], sc.images[index]); err != nil {
		return err
	}
	seq, err := q.submitLocked([]vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{acquired},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{sc.rendered[index]},
	}})
	if err != nil {
		return err
	}
	sc.cmdSeq[index] = seq

	ret = vk.QueuePresent(q.handle, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sc.rendered[index]},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{index},
	})
	if ret != vk.Success && ret != vk.Suboptimal {
		return errors.Wrap(newError(ret), "queue present")
	}
	sc.presented++
	sc.current = (sc.current + 1) % len(sc.buffers)
	return nil
}

// recordCopy records the blit from a back buffer, which sits in
// TRANSFER_SRC after its present barrier, into a surface image.
func (sc *SwapChain) recordCopy(cmd vk.CommandBuffer, src *swapImage, dst vk.Image) error {
	vk.ResetCommandBuffer(cmd, 0)
	ret := vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if isError(ret) {
		return errors.Wrap(newError(ret), "begin present commands")
	}

	color := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	toDst := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutTransferDstOptimal,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               dst,
		SubresourceRange:    color,
	}
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toDst})

	// A back buffer that was never rendered has no contents to copy.
	if src.used {
		layers := vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		}
		corner := vk.Offset3D{X: int32(sc.extent.Width), Y: int32(sc.extent.Height), Z: 1}
		vk.CmdBlitImage(cmd,
			src.handle, vk.ImageLayoutTransferSrcOptimal,
			dst, vk.ImageLayoutTransferDstOptimal,
			1, []vk.ImageBlit{{
				SrcSubresource: layers,
				SrcOffsets:     [2]vk.Offset3D{{}, corner},
				DstSubresource: layers,
				DstOffsets:     [2]vk.Offset3D{{}, corner},
			}}, vk.FilterNearest)
	}

	toPresent := toDst
	toPresent.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
	toPresent.DstAccessMask = 0
	toPresent.OldLayout = vk.ImageLayoutTransferDstOptimal
	toPresent.NewLayout = vk.ImageLayoutPresentSrc
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toPresent})

	if ret := vk.EndCommandBuffer(cmd); isError(ret) {
		return errors.Wrap(newError(ret), "end present commands")
	}
	return nil
}

// Release waits for the queue, then destroys the back buffers, the present
// commands and the swapchain.
func (sc *SwapChain) Release() {
	dev := sc.dev.handle
	if dev == nil {
		return
	}
	vk.QueueWaitIdle(sc.queue.handle)
	for _, img := range sc.buffers {
		vk.DestroyImage(dev, img.handle, nil)
		vk.FreeMemory(dev, img.memory, nil)
	}
	sc.buffers = nil
	for _, s := range append(sc.acquired, sc.rendered...) {
		if s != vk.NullSemaphore {
			vk.DestroySemaphore(dev, s, nil)
		}
	}
	sc.acquired, sc.rendered = nil, nil
	if sc.pool != nil {
		vk.DestroyCommandPool(dev, sc.pool, nil)
		sc.pool = nil
	}
	if sc.handle != vk.NullSwapchain {
		vk.DestroySwapchain(dev, sc.handle, nil)
		sc.handle = vk.NullSwapchain
	}
}
