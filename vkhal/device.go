package vkhal

import (
	"sync"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

// Device is a logical device on one adapter with a single graphics queue.
type Device struct {
	factory *Factory
	adapter *adapter
	handle  vk.Device

	mu     sync.Mutex
	queue  *commandQueue
	passes map[vk.Format]vk.RenderPass
}

func newDevice(f *Factory, ad *adapter) (*Device, error) {
	exts, err := DeviceExtensions(ad.gpu)
	if err != nil {
		return nil, err
	}
	// Portability implementations must enable the subset extension when they
	// expose it.
	enabled := checkExisting(exts, []string{"VK_KHR_swapchain", "VK_KHR_portability_subset"}).enabled

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: ad.family,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	var device vk.Device
	ret := vk.CreateDevice(ad.gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
		EnabledLayerCount:       uint32(len(f.layers)),
		PpEnabledLayerNames:     f.layers,
	}, nil, &device)
	if isError(ret) {
		return nil, errors.Wrapf(newError(ret), "create device on %s", ad.desc.Description)
	}
	return &Device{
		factory: f,
		adapter: ad,
		handle:  device,
		passes:  make(map[vk.Format]vk.RenderPass),
	}, nil
}

// Handle returns the native device.
func (d *Device) Handle() vk.Device { return d.handle }

// CreateCommandQueue returns the device's only queue. Direct and copy lists
// both run on the graphics family.
func (d *Device) CreateCommandQueue(desc hal.CommandQueueDesc) (hal.CommandQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue != nil {
		return nil, errors.Wrap(hal.ErrUnsupported, "device exposes a single queue")
	}
	var q vk.Queue
	vk.GetDeviceQueue(d.handle, d.adapter.family, 0, &q)
	d.queue = newCommandQueue(d, q)
	return d.queue, nil
}

func vkFormat(f hal.Format) (vk.Format, error) {
	switch f {
	case hal.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm, nil
	case hal.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm, nil
	case hal.FormatR32G32Float:
		return vk.FormatR32g32Sfloat, nil
	case hal.FormatR32G32B32Float:
		return vk.FormatR32g32b32Sfloat, nil
	case hal.FormatR32G32B32A32Float:
		return vk.FormatR32g32b32a32Sfloat, nil
	}
	return vk.FormatUndefined, errors.Wrapf(hal.ErrUnsupported, "format %d", f)
}

// renderPass returns the cached single-subpass pass for a color format.
// The attachment is loaded and stored in the color attachment layout, so
// barriers recorded on the list own every layout change.
func (d *Device) renderPass(format vk.Format) (vk.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pass, ok := d.passes[format]; ok {
		return pass, nil
	}
	attachments := []vk.AttachmentDescription{{
		Format:         format,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpLoad,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
		FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
	}}
	colorRefs := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	subpasses := []vk.SubpassDescription{{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    colorRefs,
	}}
	var pass vk.RenderPass
	ret := vk.CreateRenderPass(d.handle, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
	}, nil, &pass)
	if isError(ret) {
		return vk.RenderPass(vk.NullHandle), errors.Wrap(newError(ret), "create render pass")
	}
	d.passes[format] = pass
	return pass, nil
}

// findMemoryType returns a memory type allowed by typeBits with all of want.
func (d *Device) findMemoryType(typeBits uint32, want vk.MemoryPropertyFlags) (uint32, error) {
	props := d.adapter.memory
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		memType := props.MemoryTypes[i]
		memType.Deref()
		if memType.PropertyFlags&want == want {
			return i, nil
		}
	}
	return 0, errors.Wrapf(hal.ErrUnsupported, "no memory type with flags %#x", uint32(want))
}

type descriptorHeap struct {
	dev   *Device
	slots []*renderTargetView
}

// renderTargetView is an image view plus the framebuffer that binds it.
type renderTargetView struct {
	image       *swapImage
	view        vk.ImageView
	framebuffer vk.Framebuffer
	pass        vk.RenderPass
}

func (h *descriptorHeap) NumDescriptors() int { return len(h.slots) }

func (h *descriptorHeap) slot(index int) (*renderTargetView, error) {
	if index < 0 || index >= len(h.slots) || h.slots[index] == nil {
		return nil, errors.Wrapf(hal.ErrInvalidState, "no render target view at %d", index)
	}
	return h.slots[index], nil
}

func (h *descriptorHeap) destroySlot(i int) {
	rtv := h.slots[i]
	if rtv == nil {
		return
	}
	vk.DestroyFramebuffer(h.dev.handle, rtv.framebuffer, nil)
	vk.DestroyImageView(h.dev.handle, rtv.view, nil)
	h.slots[i] = nil
}

func (h *descriptorHeap) Release() {
	for i := range h.slots {
		h.destroySlot(i)
	}
}

func (d *Device) CreateDescriptorHeap(desc hal.DescriptorHeapDesc) (hal.DescriptorHeap, error) {
	if desc.Type != hal.DescriptorHeapTypeRTV || desc.NumDescriptors <= 0 {
		return nil, errors.Wrapf(hal.ErrUnsupported, "descriptor heap type %d with %d descriptors", desc.Type, desc.NumDescriptors)
	}
	return &descriptorHeap{dev: d, slots: make([]*renderTargetView, desc.NumDescriptors)}, nil
}

func (d *Device) CreateRenderTargetView(res hal.Resource, heap hal.DescriptorHeap, index int) error {
	img, ok := res.(*swapImage)
	if !ok {
		return errors.Wrap(hal.ErrUnsupported, "render target views need a swap chain image")
	}
	h, ok := heap.(*descriptorHeap)
	if !ok || index < 0 || index >= len(h.slots) {
		return errors.Wrapf(hal.ErrInvalidState, "render target view slot %d", index)
	}
	pass, err := d.renderPass(img.format)
	if err != nil {
		return err
	}

	var view vk.ImageView
	ret := vk.CreateImageView(d.handle, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.handle,
		ViewType: vk.ImageViewType2d,
		Format:   img.format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &view)
	if isError(ret) {
		return errors.Wrap(newError(ret), "create image view")
	}

	var fb vk.Framebuffer
	ret = vk.CreateFramebuffer(d.handle, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{view},
		Width:           img.extent.Width,
		Height:          img.extent.Height,
		Layers:          1,
	}, nil, &fb)
	if isError(ret) {
		vk.DestroyImageView(d.handle, view, nil)
		return errors.Wrap(newError(ret), "create framebuffer")
	}

	h.destroySlot(index)
	h.slots[index] = &renderTargetView{image: img, view: view, framebuffer: fb, pass: pass}
	return nil
}

func (d *Device) CreateCommandAllocator(t hal.CommandListType) (hal.CommandAllocator, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.handle, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.adapter.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create command pool")
	}
	return &commandAllocator{dev: d, pool: pool, kind: t}, nil
}

func (d *Device) CreateCommandList(t hal.CommandListType, allocator hal.CommandAllocator, pso hal.PipelineState) (hal.GraphicsCommandList, error) {
	alloc, ok := allocator.(*commandAllocator)
	if !ok || alloc.kind != t {
		return nil, errors.Wrap(hal.ErrInvalidState, "command list type does not match its allocator")
	}
	cl := &commandList{dev: d, kind: t}
	if err := cl.Reset(alloc, pso); err != nil {
		return nil, err
	}
	return cl, nil
}

func (d *Device) CreateFence(initialValue uint64) (hal.Fence, error) {
	return &fence{dev: d, completed: initialValue}, nil
}

// Release waits for the GPU, then destroys the cached render passes and the
// device. Objects created from the device must be released first.
func (d *Device) Release() {
	if d.handle == nil {
		return
	}
	vk.DeviceWaitIdle(d.handle)
	for format, pass := range d.passes {
		vk.DestroyRenderPass(d.handle, pass, nil)
		delete(d.passes, format)
	}
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
}
