package vkhal

import (
	"sync"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

// submission is one vkQueueSubmit and the native fence it signals.
type submission struct {
	seq     uint64
	fence   vk.Fence
	waiters int
	retired bool
}

// commandQueue serializes every submit and present on the native queue.
// Each submit carries a native fence from a recycled pool, so GPU progress
// is a submission sequence number.
type commandQueue struct {
	dev    *Device
	handle vk.Queue

	mu       sync.Mutex
	seq      uint64
	done     uint64
	inflight []*submission
	free     []vk.Fence
	waiting  sync.WaitGroup
}

func newCommandQueue(d *Device, q vk.Queue) *commandQueue {
	return &commandQueue{dev: d, handle: q}
}

func (q *commandQueue) newFence() (vk.Fence, error) {
	if n := len(q.free); n > 0 {
		f := q.free[n-1]
		q.free = q.free[:n-1]
		return f, nil
	}
	var fence vk.Fence
	ret := vk.CreateFence(q.dev.handle, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence)
	if isError(ret) {
		return fence, errors.Wrap(newError(ret), "create fence")
	}
	return fence, nil
}

func (q *commandQueue) recycle(s *submission) {
	vk.ResetFences(q.dev.handle, 1, []vk.Fence{s.fence})
	q.free = append(q.free, s.fence)
}

// submitLocked submits infos and returns the sequence number of the
// submission. infos may be empty.
func (q *commandQueue) submitLocked(infos []vk.SubmitInfo) (uint64, error) {
	fence, err := q.newFence()
	if err != nil {
		return 0, err
	}
	if ret := vk.QueueSubmit(q.handle, uint32(len(infos)), infos, fence); isError(ret) {
		q.free = append(q.free, fence)
		return 0, errors.Wrap(newError(ret), "queue submit")
	}
	q.seq++
	q.inflight = append(q.inflight, &submission{seq: q.seq, fence: fence})
	return q.seq, nil
}

// completed polls the in-flight fences in order and returns the highest
// sequence number the GPU has finished.
func (q *commandQueue) completed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pollLocked()
}

func (q *commandQueue) pollLocked() uint64 {
	for len(q.inflight) > 0 {
		s := q.inflight[0]
		if vk.GetFenceStatus(q.dev.handle, s.fence) != vk.Success {
			break
		}
		q.done = s.seq
		q.inflight = q.inflight[1:]
		s.retired = true
		if s.waiters == 0 {
			q.recycle(s)
		}
	}
	return q.done
}

// waitLocked blocks until submission seq has finished.
func (q *commandQueue) waitLocked(seq uint64) {
	if q.pollLocked() >= seq {
		return
	}
	for _, s := range q.inflight {
		if s.seq >= seq {
			vk.WaitForFences(q.dev.handle, 1, []vk.Fence{s.fence}, vk.True, vk.MaxUint64)
			break
		}
	}
	q.pollLocked()
}

// notify sets ev once submission seq has finished. The native wait runs on
// its own goroutine.
func (q *commandQueue) notify(seq uint64, ev *hal.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pollLocked() >= seq {
		ev.Set()
		return
	}
	var s *submission
	for _, in := range q.inflight {
		if in.seq >= seq {
			s = in
			break
		}
	}
	if s == nil {
		// seq was never handed out.
		ev.Set()
		return
	}
	s.waiters++
	q.waiting.Add(1)
	go func() {
		defer q.waiting.Done()
		vk.WaitForFences(q.dev.handle, 1, []vk.Fence{s.fence}, vk.True, vk.MaxUint64)
		q.mu.Lock()
		s.waiters--
		if s.retired && s.waiters == 0 {
			q.recycle(s)
		}
		q.mu.Unlock()
		ev.Set()
	}()
}

func (q *commandQueue) ExecuteCommandLists(lists ...hal.GraphicsCommandList) error {
	bufs := make([]vk.CommandBuffer, 0, len(lists))
	var owned []*commandList
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok {
			return errors.Wrap(hal.ErrInvalidState, "command list does not belong to this backend")
		}
		if cl.recording {
			return errors.Wrap(hal.ErrInvalidState, "execute of a command list that is still recording")
		}
		if cl.err != nil {
			return errors.Wrap(cl.err, "execute of a command list that failed to record")
		}
		bufs = append(bufs, cl.buf)
		owned = append(owned, cl)
	}
	if len(bufs) == 0 {
		return nil
	}

	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(bufs)),
		PCommandBuffers:    bufs,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	seq, err := q.submitLocked([]vk.SubmitInfo{info})
	if err != nil {
		return err
	}
	for _, cl := range owned {
		cl.alloc.lastSeq = seq
	}
	return nil
}

// Signal submits an empty batch whose native fence stands for value.
func (q *commandQueue) Signal(f hal.Fence, value uint64) error {
	fc, ok := f.(*fence)
	if !ok || fc.dev != q.dev {
		return errors.Wrap(hal.ErrInvalidState, "fence does not belong to this device")
	}
	q.mu.Lock()
	seq, err := q.submitLocked(nil)
	q.mu.Unlock()
	if err != nil {
		return err
	}
	fc.signaled(q, value, seq)
	return nil
}

// Release waits for the queue and every native waiter, then destroys the
// fence pool.
func (q *commandQueue) Release() {
	vk.QueueWaitIdle(q.handle)
	q.waiting.Wait()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pollLocked()
	for _, s := range q.inflight {
		vk.DestroyFence(q.dev.handle, s.fence, nil)
	}
	for _, f := range q.free {
		vk.DestroyFence(q.dev.handle, f, nil)
	}
	q.inflight, q.free = nil, nil
}
