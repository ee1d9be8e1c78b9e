package vkhal

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

// commandAllocator wraps a command pool. lastSeq is the queue submission
// that last carried a list recorded from it.
type commandAllocator struct {
	dev       *Device
	pool      vk.CommandPool
	kind      hal.CommandListType
	lastSeq   uint64
	recording *commandList
}

func (a *commandAllocator) Reset() error {
	if a.recording != nil {
		return errors.Wrap(hal.ErrAllocatorInUse, "a command list is still recording")
	}
	if q := a.dev.queue; q != nil {
		if done := q.completed(); done < a.lastSeq {
			return errors.Wrapf(hal.ErrAllocatorInUse, "submission %d still executing, queue at %d", a.lastSeq, done)
		}
	}
	if ret := vk.ResetCommandPool(a.dev.handle, a.pool, 0); isError(ret) {
		return errors.Wrap(newError(ret), "reset command pool")
	}
	return nil
}

func (a *commandAllocator) Release() {
	if a.pool != vk.NullCommandPool {
		vk.DestroyCommandPool(a.dev.handle, a.pool, nil)
		a.pool = vk.NullCommandPool
	}
}

// barrierScope is how a resource state reads in a Vulkan barrier.
type barrierScope struct {
	layout vk.ImageLayout
	access vk.AccessFlags
	stage  vk.PipelineStageFlags
}

// imageScope maps a state of a back buffer. Present is the layout the
// presentation blit reads from.
func imageScope(s hal.ResourceState) barrierScope {
	switch s {
	case hal.ResourceStateRenderTarget:
		return barrierScope{
			layout: vk.ImageLayoutColorAttachmentOptimal,
			access: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			stage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
	case hal.ResourceStateCopyDest:
		return barrierScope{
			layout: vk.ImageLayoutTransferDstOptimal,
			access: vk.AccessFlags(vk.AccessTransferWriteBit),
			stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		}
	case hal.ResourceStateCopySource, hal.ResourceStatePresent:
		return barrierScope{
			layout: vk.ImageLayoutTransferSrcOptimal,
			access: vk.AccessFlags(vk.AccessTransferReadBit),
			stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		}
	}
	return barrierScope{
		layout: vk.ImageLayoutGeneral,
		access: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		stage:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
	}
}

func bufferScope(s hal.ResourceState) barrierScope {
	switch s {
	case hal.ResourceStateVertexAndConstantBuffer, hal.ResourceStateGenericRead:
		return barrierScope{
			access: vk.AccessFlags(vk.AccessVertexAttributeReadBit),
			stage:  vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		}
	case hal.ResourceStateCopyDest:
		return barrierScope{
			access: vk.AccessFlags(vk.AccessTransferWriteBit),
			stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		}
	case hal.ResourceStateCopySource:
		return barrierScope{
			access: vk.AccessFlags(vk.AccessTransferReadBit),
			stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		}
	}
	return barrierScope{
		access: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		stage:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
	}
}

// commandList records into one command buffer allocated from its current
// allocator's pool.
type commandList struct {
	dev   *Device
	kind  hal.CommandListType
	alloc *commandAllocator
	buf   vk.CommandBuffer

	recording bool
	// err is the first recording error. Close reports it.
	err error

	pso      *pipelineState
	rootSig  *rootSignature
	target   *renderTargetView
	open     *renderTargetView
	topology hal.PrimitiveTopology
	vbStride int
	vbBound  bool
}

func (cl *commandList) Reset(allocator hal.CommandAllocator, pso hal.PipelineState) error {
	if cl.recording {
		return errors.Wrap(hal.ErrInvalidState, "command list reset while recording")
	}
	a, ok := allocator.(*commandAllocator)
	if !ok || a.dev != cl.dev {
		return errors.Wrap(hal.ErrInvalidState, "allocator does not belong to this device")
	}
	if a.kind != cl.kind {
		return errors.Wrap(hal.ErrInvalidState, "allocator type does not match command list type")
	}
	if a.recording != nil {
		return errors.Wrap(hal.ErrAllocatorInUse, "allocator already backs a recording list")
	}
	var p *pipelineState
	if pso != nil {
		if p, ok = pso.(*pipelineState); !ok {
			return errors.Wrap(hal.ErrInvalidState, "pipeline does not belong to this backend")
		}
	}

	if cl.alloc != a {
		cl.freeBuffer()
		bufs := make([]vk.CommandBuffer, 1)
		ret := vk.AllocateCommandBuffers(cl.dev.handle, &vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        a.pool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}, bufs)
		if isError(ret) {
			return errors.Wrap(newError(ret), "allocate command buffer")
		}
		cl.alloc, cl.buf = a, bufs[0]
	}
	ret := vk.BeginCommandBuffer(cl.buf, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if isError(ret) {
		return errors.Wrap(newError(ret), "begin command buffer")
	}

	a.recording = cl
	cl.recording, cl.err = true, nil
	cl.pso, cl.rootSig, cl.target, cl.open = nil, nil, nil, nil
	cl.topology, cl.vbStride, cl.vbBound = hal.PrimitiveTopologyUndefined, 0, false
	if p != nil {
		cl.bindPipeline(p)
	}
	return nil
}

func (cl *commandList) freeBuffer() {
	if cl.alloc != nil && cl.alloc.pool != vk.NullCommandPool && cl.buf != nil {
		vk.FreeCommandBuffers(cl.dev.handle, cl.alloc.pool, 1, []vk.CommandBuffer{cl.buf})
	}
	cl.alloc, cl.buf = nil, nil
}

func (cl *commandList) bindPipeline(p *pipelineState) {
	vk.CmdBindPipeline(cl.buf, vk.PipelineBindPointGraphics, p.pipeline)
	cl.pso = p
}

func (cl *commandList) Close() error {
	if !cl.recording {
		return errors.Wrap(hal.ErrInvalidState, "command list is not recording")
	}
	cl.endPass()
	cl.recording = false
	cl.alloc.recording = nil
	if ret := vk.EndCommandBuffer(cl.buf); isError(ret) {
		cl.fail(errors.Wrap(newError(ret), "end command buffer"))
	}
	return cl.err
}

func (cl *commandList) Release() {
	if cl.recording {
		cl.alloc.recording = nil
		cl.recording = false
	}
	cl.freeBuffer()
}

func (cl *commandList) fail(err error) {
	if cl.err == nil {
		cl.err = err
	}
}

// usable reports whether commands can still be recorded.
func (cl *commandList) usable() bool {
	if !cl.recording {
		cl.fail(errors.Wrap(hal.ErrInvalidState, "command recorded into a closed list"))
		return false
	}
	return cl.err == nil
}

// beginPass opens the render pass of rtv, closing any other open pass.
func (cl *commandList) beginPass(rtv *renderTargetView) {
	if cl.open == rtv {
		return
	}
	cl.endPass()
	vk.CmdBeginRenderPass(cl.buf, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rtv.pass,
		Framebuffer: rtv.framebuffer,
		RenderArea: vk.Rect2D{
			Extent: rtv.image.extent,
		},
	}, vk.SubpassContentsInline)
	cl.open = rtv
}

func (cl *commandList) endPass() {
	if cl.open != nil {
		vk.CmdEndRenderPass(cl.buf)
		cl.open = nil
	}
}

func (cl *commandList) ResourceBarrier(barriers ...hal.ResourceBarrier) {
	if !cl.usable() {
		return
	}
	var (
		images    []vk.ImageMemoryBarrier
		buffers   []vk.BufferMemoryBarrier
		srcStages vk.PipelineStageFlags
		dstStages vk.PipelineStageFlags
	)
	for _, b := range barriers {
		if b.Before == b.After {
			cl.fail(errors.Wrapf(hal.ErrInvalidState, "barrier from %s to itself", b.Before))
			return
		}
		switch r := b.Resource.(type) {
		case *swapImage:
			src, dst := imageScope(b.Before), imageScope(b.After)
			if !r.used {
				src.layout = vk.ImageLayoutUndefined
				r.used = true
			}
			images = append(images, vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       src.access,
				DstAccessMask:       dst.access,
				OldLayout:           src.layout,
				NewLayout:           dst.layout,
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               r.handle,
				SubresourceRange: vk.ImageSubresourceRange{
					AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
					LevelCount: 1,
					LayerCount: 1,
				},
			})
			srcStages |= src.stage
			dstStages |= dst.stage
		case *buffer:
			src, dst := bufferScope(b.Before), bufferScope(b.After)
			buffers = append(buffers, vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       src.access,
				DstAccessMask:       dst.access,
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Buffer:              r.handle,
				Size:                vk.DeviceSize(r.size),
			})
			srcStages |= src.stage
			dstStages |= dst.stage
		default:
			cl.fail(errors.Wrap(hal.ErrInvalidState, "barrier on a resource from another backend"))
			return
		}
	}
	if len(images)+len(buffers) == 0 {
		return
	}
	cl.endPass()
	vk.CmdPipelineBarrier(cl.buf, srcStages, dstStages, 0,
		0, nil,
		uint32(len(buffers)), buffers,
		uint32(len(images)), images)
}

func (cl *commandList) SetGraphicsRootSignature(rs hal.RootSignature) {
	if !cl.usable() {
		return
	}
	sig, ok := rs.(*rootSignature)
	if !ok || sig.dev != cl.dev {
		cl.fail(errors.Wrap(hal.ErrInvalidState, "root signature does not belong to this device"))
		return
	}
	cl.rootSig = sig
}

// RSSetViewports sets viewport 0 flipped vertically, so NDC +Y points up
// and the viewport origin stays at the top left.
func (cl *commandList) RSSetViewports(viewports ...hal.Viewport) {
	if !cl.usable() || len(viewports) == 0 {
		return
	}
	vp := viewports[0]
	vk.CmdSetViewport(cl.buf, 0, 1, []vk.Viewport{{
		X:        vp.TopLeftX,
		Y:        vp.TopLeftY + vp.Height,
		Width:    vp.Width,
		Height:   -vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (cl *commandList) RSSetScissorRects(rects ...hal.Rect) {
	if !cl.usable() || len(rects) == 0 {
		return
	}
	vk.CmdSetScissor(cl.buf, 0, 1, []vk.Rect2D{scissorRect(rects[0])})
}

// scissorRect converts a right/bottom exclusive rect, clamping negative
// origins and empty extents.
func scissorRect(r hal.Rect) vk.Rect2D {
	left, top := max(r.Left, 0), max(r.Top, 0)
	return vk.Rect2D{
		Offset: vk.Offset2D{X: int32(left), Y: int32(top)},
		Extent: vk.Extent2D{
			Width:  uint32(max(r.Right-left, 0)),
			Height: uint32(max(r.Bottom-top, 0)),
		},
	}
}

func (cl *commandList) view(heap hal.DescriptorHeap, index int) *renderTargetView {
	h, ok := heap.(*descriptorHeap)
	if !ok || h.dev != cl.dev {
		cl.fail(errors.Wrap(hal.ErrInvalidState, "descriptor heap does not belong to this device"))
		return nil
	}
	rtv, err := h.slot(index)
	if err != nil {
		cl.fail(err)
		return nil
	}
	return rtv
}

func (cl *commandList) OMSetRenderTargets(heap hal.DescriptorHeap, index int) {
	if !cl.usable() {
		return
	}
	if rtv := cl.view(heap, index); rtv != nil {
		if cl.open != nil && cl.open != rtv {
			cl.endPass()
		}
		cl.target = rtv
	}
}

func (cl *commandList) ClearRenderTargetView(heap hal.DescriptorHeap, index int, color [4]float32) {
	if !cl.usable() {
		return
	}
	rtv := cl.view(heap, index)
	if rtv == nil {
		return
	}
	cl.beginPass(rtv)
	vk.CmdClearAttachments(cl.buf, 1, []vk.ClearAttachment{{
		AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
		ColorAttachment: 0,
		ClearValue:      vk.NewClearValue(color[:]),
	}}, 1, []vk.ClearRect{{
		Rect:       vk.Rect2D{Extent: rtv.image.extent},
		LayerCount: 1,
	}})
}

func (cl *commandList) IASetPrimitiveTopology(topology hal.PrimitiveTopology) {
	if !cl.usable() {
		return
	}
	cl.topology = topology
}

func (cl *commandList) IASetVertexBuffers(startSlot int, views ...hal.VertexBufferView) {
	if !cl.usable() || len(views) == 0 {
		return
	}
	if startSlot != 0 || len(views) != 1 {
		cl.fail(errors.Wrapf(hal.ErrUnsupported, "%d vertex buffers at slot %d", len(views), startSlot))
		return
	}
	v := views[0]
	b, ok := v.Buffer.(*buffer)
	if !ok || b.dev != cl.dev {
		cl.fail(errors.Wrap(hal.ErrInvalidState, "vertex buffer does not belong to this device"))
		return
	}
	if v.SizeInBytes <= 0 || v.SizeInBytes > b.size || v.StrideInBytes <= 0 {
		cl.fail(errors.Wrapf(hal.ErrInvalidState, "vertex buffer view of %d bytes, stride %d", v.SizeInBytes, v.StrideInBytes))
		return
	}
	vk.CmdBindVertexBuffers(cl.buf, 0, 1, []vk.Buffer{b.handle}, []vk.DeviceSize{0})
	cl.vbStride, cl.vbBound = v.StrideInBytes, true
}

// checkDraw reports the first reason the bound state cannot draw.
func (cl *commandList) checkDraw() error {
	switch {
	case cl.pso == nil:
		return errors.Wrap(hal.ErrInvalidState, "draw without a pipeline")
	case cl.rootSig == nil || cl.rootSig != cl.pso.rootSig:
		return errors.Wrap(hal.ErrInvalidState, "draw with a root signature the pipeline was not built for")
	case cl.target == nil:
		return errors.Wrap(hal.ErrInvalidState, "draw without a render target")
	case cl.topology != hal.PrimitiveTopologyTriangleList:
		return errors.Wrapf(hal.ErrUnsupported, "topology %d", cl.topology)
	case cl.pso.stride > 0 && !cl.vbBound:
		return errors.Wrap(hal.ErrInvalidState, "draw without a vertex buffer")
	case cl.pso.stride > 0 && cl.vbStride != cl.pso.stride:
		return errors.Wrapf(hal.ErrInvalidState, "vertex stride %d, pipeline expects %d", cl.vbStride, cl.pso.stride)
	}
	return nil
}

func (cl *commandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	if !cl.usable() {
		return
	}
	if err := cl.checkDraw(); err != nil {
		cl.fail(err)
		return
	}
	cl.beginPass(cl.target)
	vk.CmdDraw(cl.buf, vertexCountPerInstance, instanceCount, startVertex, startInstance)
}

func (cl *commandList) CopyBufferRegion(dst hal.Resource, dstOffset int, src hal.Resource, srcOffset, size int) {
	if !cl.usable() {
		return
	}
	d, ok1 := dst.(*buffer)
	s, ok2 := src.(*buffer)
	if !ok1 || !ok2 || d.dev != cl.dev || s.dev != cl.dev {
		cl.fail(errors.Wrap(hal.ErrInvalidState, "buffer copy between resources of another device"))
		return
	}
	if size <= 0 || dstOffset < 0 || srcOffset < 0 || dstOffset+size > d.size || srcOffset+size > s.size {
		cl.fail(errors.Wrapf(hal.ErrInvalidState, "copy of %d bytes out of range", size))
		return
	}
	cl.endPass()
	vk.CmdCopyBuffer(cl.buf, s.handle, d.handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}
