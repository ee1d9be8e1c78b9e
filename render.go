package hellotriangle

import (
	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// OnUpdate is the per-frame update hook. The triangle is static.
func (c *Controller) OnUpdate() {}

// OnRender records, submits and presents one frame, then waits for it.
// When recording fails the frame is dropped and nothing is submitted.
func (c *Controller) OnRender() error {
	if !c.initialized {
		return ErrNotInitialized
	}
	if err := c.PopulateCommandList(); err != nil {
		Logger().Warn("frame dropped", "frame", c.frames, "err", err)
		return err
	}
	if err := c.queue.ExecuteCommandLists(c.commandList); err != nil {
		return errors.Wrap(err, "execute command list")
	}
	if err := c.swapChain.Present(c.cfg.SyncInterval); err != nil {
		return errors.Wrap(err, "present")
	}
	if err := c.WaitForPreviousFrame(); err != nil {
		return err
	}
	c.frames++
	return nil
}

// PopulateCommandList records the frame into the command list. The
// allocator can only be reset once the GPU is done with the previous frame.
func (c *Controller) PopulateCommandList() error {
	if err := c.allocator.Reset(); err != nil {
		return errors.Wrap(err, "reset command allocator")
	}
	cl := c.commandList
	if err := cl.Reset(c.allocator, c.pipelineState); err != nil {
		return errors.Wrap(err, "reset command list")
	}

	rt := c.renderTargets[c.frameIndex]
	cl.ResourceBarrier(hal.Transition(rt, hal.ResourceStatePresent, hal.ResourceStateRenderTarget))
	cl.SetGraphicsRootSignature(c.rootSignature)
	cl.RSSetViewports(c.viewport)
	cl.RSSetScissorRects(c.scissor)
	cl.OMSetRenderTargets(c.rtvHeap, c.frameIndex)

	cl.ClearRenderTargetView(c.rtvHeap, c.frameIndex, c.cfg.ClearColor)
	cl.IASetPrimitiveTopology(hal.PrimitiveTopologyTriangleList)
	cl.IASetVertexBuffers(0, c.vertexBufferView)
	cl.DrawInstanced(3, 1, 0, 0)

	cl.ResourceBarrier(hal.Transition(rt, hal.ResourceStateRenderTarget, hal.ResourceStatePresent))
	return errors.Wrap(cl.Close(), "close command list")
}

// WaitForPreviousFrame signals the frame fence and blocks until the GPU has
// reached it, then picks up the next back buffer index.
func (c *Controller) WaitForPreviousFrame() error {
	if c.fence == nil {
		return ErrNotInitialized
	}
	v, err := c.fence.SignalAndWait(c.queue)
	if err != nil {
		return err
	}
	c.frameIndex = c.swapChain.CurrentBackBufferIndex()
	Logger().Debug("frame complete", "fence", v, "frame_index", c.frameIndex)
	return nil
}
