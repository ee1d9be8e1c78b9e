package simgpu

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// execState is the pipeline state while one command list executes.
type execState struct {
	dev      *Device
	pso      *pipelineState
	rootSig  *rootSignature
	viewport *hal.Viewport
	scissor  *hal.Rect
	rt       *texture
	topology hal.PrimitiveTopology
	vbs      map[int]hal.VertexBufferView
}

type command func(st *execState) error

type commandAllocator struct {
	*releaser
	gpu *GPU
	typ hal.CommandListType

	mu        sync.Mutex
	lastSeq   uint64
	recording *commandList
}

func (a *commandAllocator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recording != nil {
		return errors.Wrap(hal.ErrAllocatorInUse, "a command list is still recording")
	}
	if done := a.gpu.Completed(); done < a.lastSeq {
		return errors.Wrapf(hal.ErrAllocatorInUse, "submission %d still executing, gpu at %d", a.lastSeq, done)
	}
	return nil
}

func (a *commandAllocator) submitted(seq uint64) {
	a.mu.Lock()
	if seq > a.lastSeq {
		a.lastSeq = seq
	}
	a.mu.Unlock()
}

func (d *Device) CreateCommandAllocator(t hal.CommandListType) (hal.CommandAllocator, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	r, _ := d.newReleaser("command-allocator")
	return &commandAllocator{releaser: r, gpu: d.gpu, typ: t}, nil
}

type commandList struct {
	*releaser
	dev   *Device
	typ   hal.CommandListType
	alloc *commandAllocator
	pso   *pipelineState

	recording bool
	cmds      []command
	// err is the first recording error. Close reports it.
	err error
}

func (d *Device) CreateCommandList(t hal.CommandListType, allocator hal.CommandAllocator, pso hal.PipelineState) (hal.GraphicsCommandList, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	r, _ := d.newReleaser("command-list")
	cl := &commandList{releaser: r, dev: d, typ: t}
	if err := cl.begin(allocator, pso); err != nil {
		r.Release()
		return nil, err
	}
	return cl, nil
}

func (cl *commandList) begin(allocator hal.CommandAllocator, pso hal.PipelineState) error {
	a, ok := allocator.(*commandAllocator)
	if !ok {
		return errors.Wrap(hal.ErrInvalidState, "allocator is not a simulated allocator")
	}
	if a.typ != cl.typ {
		return errors.Wrap(hal.ErrInvalidState, "allocator type does not match command list type")
	}
	var p *pipelineState
	if pso != nil {
		if p, ok = pso.(*pipelineState); !ok {
			return errors.Wrap(hal.ErrInvalidState, "pipeline is not a simulated pipeline")
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recording != nil {
		return errors.Wrap(hal.ErrAllocatorInUse, "allocator already backs a recording list")
	}
	a.recording = cl
	cl.alloc, cl.pso = a, p
	cl.recording, cl.cmds, cl.err = true, nil, nil
	return nil
}

func (cl *commandList) Reset(allocator hal.CommandAllocator, pso hal.PipelineState) error {
	if cl.recording {
		return errors.Wrap(hal.ErrInvalidState, "command list reset while recording")
	}
	return cl.begin(allocator, pso)
}

func (cl *commandList) Close() error {
	if !cl.recording {
		return errors.Wrap(hal.ErrInvalidState, "command list is not recording")
	}
	cl.recording = false
	cl.alloc.mu.Lock()
	cl.alloc.recording = nil
	cl.alloc.mu.Unlock()
	return cl.err
}

func (cl *commandList) fail(err error) {
	if cl.err == nil {
		cl.err = err
	}
}

func (cl *commandList) record(c command) {
	if !cl.recording {
		cl.fail(errors.Wrap(hal.ErrInvalidState, "command recorded into a closed list"))
		return
	}
	cl.cmds = append(cl.cmds, c)
}

// stateOf returns the GPU timeline state slot of a resource.
func stateOf(res hal.Resource) (*hal.ResourceState, string, error) {
	switch r := res.(type) {
	case *buffer:
		return &r.state, r.name, nil
	case *texture:
		return &r.state, r.name, nil
	}
	return nil, "", errors.Wrap(hal.ErrInvalidState, "resource is not a simulated resource")
}

func (cl *commandList) ResourceBarrier(barriers ...hal.ResourceBarrier) {
	for _, b := range barriers {
		if b.Before == b.After {
			cl.fail(errors.Wrapf(hal.ErrInvalidState, "barrier from %s to itself", b.Before))
			return
		}
		b := b
		cl.record(func(st *execState) error {
			s, name, err := stateOf(b.Resource)
			if err != nil {
				return err
			}
			if *s != b.Before {
				return errors.Wrapf(hal.ErrInvalidState, "%s is %s, barrier expects %s", name, *s, b.Before)
			}
			*s = b.After
			st.dev.mu.Lock()
			st.dev.barriers = append(st.dev.barriers, BarrierRecord{Resource: name, Before: b.Before, After: b.After})
			st.dev.mu.Unlock()
			return nil
		})
	}
}

func (cl *commandList) SetGraphicsRootSignature(rs hal.RootSignature) {
	sig, ok := rs.(*rootSignature)
	if !ok {
		cl.fail(errors.Wrap(hal.ErrInvalidState, "root signature is not a simulated root signature"))
		return
	}
	cl.record(func(st *execState) error {
		st.rootSig = sig
		return nil
	})
}

func (cl *commandList) RSSetViewports(viewports ...hal.Viewport) {
	if len(viewports) == 0 {
		return
	}
	vp := viewports[0]
	cl.record(func(st *execState) error {
		st.viewport = &vp
		return nil
	})
}

func (cl *commandList) RSSetScissorRects(rects ...hal.Rect) {
	if len(rects) == 0 {
		return
	}
	r := rects[0]
	cl.record(func(st *execState) error {
		st.scissor = &r
		return nil
	})
}

func (cl *commandList) rtv(heap hal.DescriptorHeap, index int) (*descriptorHeap, bool) {
	h, ok := heap.(*descriptorHeap)
	if !ok || index < 0 || index >= len(h.slots) {
		cl.fail(errors.Wrapf(hal.ErrInvalidState, "invalid render target descriptor %d", index))
		return nil, false
	}
	return h, true
}

func (cl *commandList) OMSetRenderTargets(heap hal.DescriptorHeap, index int) {
	h, ok := cl.rtv(heap, index)
	if !ok {
		return
	}
	cl.record(func(st *execState) error {
		tex := h.slots[index]
		if tex == nil {
			return errors.Wrapf(hal.ErrInvalidState, "descriptor %d holds no view", index)
		}
		st.rt = tex
		return nil
	})
}

func (cl *commandList) ClearRenderTargetView(heap hal.DescriptorHeap, index int, color [4]float32) {
	h, ok := cl.rtv(heap, index)
	if !ok {
		return
	}
	cl.record(func(st *execState) error {
		tex := h.slots[index]
		if tex == nil {
			return errors.Wrapf(hal.ErrInvalidState, "descriptor %d holds no view", index)
		}
		if tex.state != hal.ResourceStateRenderTarget {
			return errors.Wrapf(hal.ErrInvalidState, "clear of %s in state %s", tex.name, tex.state)
		}
		fill(tex.img, color)
		return nil
	})
}

func (cl *commandList) IASetPrimitiveTopology(topology hal.PrimitiveTopology) {
	cl.record(func(st *execState) error {
		st.topology = topology
		return nil
	})
}

func (cl *commandList) IASetVertexBuffers(startSlot int, views ...hal.VertexBufferView) {
	vs := append([]hal.VertexBufferView(nil), views...)
	cl.record(func(st *execState) error {
		for i, v := range vs {
			st.vbs[startSlot+i] = v
		}
		return nil
	})
}

func (cl *commandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	cl.record(func(st *execState) error {
		return st.draw(vertexCountPerInstance, instanceCount, startVertex)
	})
}

func (cl *commandList) CopyBufferRegion(dst hal.Resource, dstOffset int, src hal.Resource, srcOffset, size int) {
	d, ok1 := dst.(*buffer)
	s, ok2 := src.(*buffer)
	if !ok1 || !ok2 {
		cl.fail(errors.Wrap(hal.ErrInvalidState, "buffer copy between non-buffer resources"))
		return
	}
	if size < 0 || dstOffset < 0 || srcOffset < 0 || dstOffset+size > len(d.data) || srcOffset+size > len(s.data) {
		cl.fail(errors.Wrapf(hal.ErrInvalidState, "copy of %d bytes out of range", size))
		return
	}
	cl.record(func(st *execState) error {
		if d.state != hal.ResourceStateCopyDest {
			return errors.Wrapf(hal.ErrInvalidState, "copy into %s in state %s", d.name, d.state)
		}
		if s.state != hal.ResourceStateGenericRead && s.state != hal.ResourceStateCopySource {
			return errors.Wrapf(hal.ErrInvalidState, "copy from %s in state %s", s.name, s.state)
		}
		copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		return nil
	})
}

type queue struct {
	*releaser
	dev *Device
	typ hal.CommandListType
}

func (d *Device) CreateCommandQueue(desc hal.CommandQueueDesc) (hal.CommandQueue, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	r, _ := d.newReleaser("command-queue")
	return &queue{releaser: r, dev: d, typ: desc.Type}, nil
}

func (q *queue) ExecuteCommandLists(lists ...hal.GraphicsCommandList) error {
	if err := q.dev.removed(); err != nil {
		return err
	}
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok {
			return errors.Wrap(hal.ErrInvalidState, "command list is not a simulated list")
		}
		if cl.recording {
			return errors.Wrap(hal.ErrInvalidState, "executing a list that was not closed")
		}
		if q.typ == hal.CommandListTypeCopy && cl.typ != hal.CommandListTypeCopy {
			return errors.Wrap(hal.ErrInvalidState, "direct list on a copy queue")
		}
		cmds := append([]command(nil), cl.cmds...)
		pso := cl.pso
		dev := q.dev
		seq := q.dev.gpu.enqueue(func() error {
			st := &execState{dev: dev, pso: pso, vbs: map[int]hal.VertexBufferView{}}
			for _, c := range cmds {
				if err := c(st); err != nil {
					return err
				}
			}
			return nil
		})
		cl.alloc.submitted(seq)
	}
	return nil
}

func (q *queue) Signal(f hal.Fence, value uint64) error {
	if err := q.dev.removed(); err != nil {
		return err
	}
	fe, ok := f.(*fence)
	if !ok {
		return errors.Wrap(hal.ErrInvalidState, "fence is not a simulated fence")
	}
	q.dev.gpu.enqueue(func() error {
		fe.signal(value)
		return nil
	})
	return nil
}
