package hellotriangle

import (
	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// LoadAssets creates the root signature, pipeline state, command list,
// vertex buffer and frame fence.
func (c *Controller) LoadAssets() error {
	rs, err := c.device.CreateRootSignature(hal.RootSignatureDesc{AllowInputAssemblerInputLayout: true})
	if err != nil {
		return errors.Wrap(err, "create root signature")
	}
	c.rootSignature = rs
	c.own(rs.Release)

	vs, ps, err := LoadShaders(c.cfg)
	if err != nil {
		return err
	}
	pso, err := c.device.CreateGraphicsPipelineState(hal.GraphicsPipelineStateDesc{
		RootSignature:     rs,
		VS:                vs,
		PS:                ps,
		InputLayout:       InputLayout,
		Rasterizer:        hal.RasterizerDesc{FillMode: hal.FillModeSolid, CullMode: hal.CullModeNone},
		SampleMask:        ^uint32(0),
		PrimitiveTopology: hal.PrimitiveTopologyTriangleList,
		RTVFormats:        []hal.Format{hal.FormatR8G8B8A8Unorm},
		SampleCount:       1,
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline state")
	}
	c.pipelineState = pso
	c.own(pso.Release)

	cl, err := c.device.CreateCommandList(hal.CommandListTypeDirect, c.allocator, pso)
	if err != nil {
		return errors.Wrap(err, "create command list")
	}
	c.commandList = cl
	c.own(cl.Release)

	if err := c.uploadVertices(EncodeVertices(TriangleVertices(c.cfg.Aspect()))); err != nil {
		return err
	}

	fence, err := NewFrameFence(c.device)
	if err != nil {
		return err
	}
	c.fence = fence
	c.own(fence.Release)
	return nil
}

// uploadVertices copies data into a default heap vertex buffer through a
// staging buffer. It consumes the open command list and waits for the copy.
func (c *Controller) uploadVertices(data []byte) error {
	staging, err := c.device.CreateCommittedResource(hal.BufferDesc{
		Size:         len(data),
		HeapType:     hal.HeapTypeUpload,
		InitialState: hal.ResourceStateGenericRead,
	})
	if err != nil {
		return errors.Wrap(err, "create staging buffer")
	}
	defer staging.Release()
	mem, err := staging.Map()
	if err != nil {
		return errors.Wrap(err, "map staging buffer")
	}
	copy(mem, data)
	staging.Unmap()

	vb, err := c.device.CreateCommittedResource(hal.BufferDesc{
		Size:         len(data),
		HeapType:     hal.HeapTypeDefault,
		InitialState: hal.ResourceStateCopyDest,
	})
	if err != nil {
		return errors.Wrap(err, "create vertex buffer")
	}
	c.vertexBuffer = vb
	c.own(vb.Release)

	c.commandList.CopyBufferRegion(vb, 0, staging, 0, len(data))
	c.commandList.ResourceBarrier(hal.Transition(vb, hal.ResourceStateCopyDest, hal.ResourceStateVertexAndConstantBuffer))
	if err := c.commandList.Close(); err != nil {
		return errors.Wrap(err, "close upload command list")
	}
	if err := c.queue.ExecuteCommandLists(c.commandList); err != nil {
		return errors.Wrap(err, "execute upload")
	}

	// The upload has its own fence so the frame fence only counts frames.
	upload, err := NewFrameFence(c.device)
	if err != nil {
		return err
	}
	defer upload.Release()
	if _, err := upload.SignalAndWait(c.queue); err != nil {
		return errors.Wrap(err, "wait for upload")
	}

	c.vertexBufferView = hal.VertexBufferView{
		Buffer:        vb,
		SizeInBytes:   len(data),
		StrideInBytes: VertexStride,
	}
	Logger().Debug("vertex buffer uploaded", "bytes", len(data))
	return nil
}
