// Package simgpu is a simulated GPU backend for package hal.
//
// Submitted work runs on a GPU goroutine, in queue order, against software
// resources: resource states are tracked and checked on the GPU timeline,
// allocator reuse is checked against GPU progress, and draws are rasterized
// into image.RGBA swap chain images. A GPU can be paused so tests control
// exactly when work completes.
package simgpu

import (
	"sync"
)

type op func() error

// GPU executes queued work. The zero value is not usable; use NewGPU.
type GPU struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ops    []queued
	paused bool
	closed bool

	submitted uint64
	completed uint64

	fault func(error)
}

type queued struct {
	seq uint64
	run op
}

// NewGPU starts a GPU goroutine. A paused GPU accepts work but executes
// nothing until Resume or Drain.
func NewGPU(paused bool) *GPU {
	g := &GPU{paused: paused}
	g.cond = sync.NewCond(&g.mu)
	go g.loop()
	return g
}

func (g *GPU) loop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		for !g.closed && (g.paused || len(g.ops) == 0) {
			g.cond.Wait()
		}
		if g.closed && (g.paused || len(g.ops) == 0) {
			return
		}
		g.step()
	}
}

// step runs one op. g.mu must be held.
func (g *GPU) step() {
	q := g.ops[0]
	g.ops = g.ops[1:]
	if err := q.run(); err != nil && g.fault != nil {
		g.fault(err)
	}
	g.completed = q.seq
	g.cond.Broadcast()
}

func (g *GPU) enqueue(run op) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted++
	g.ops = append(g.ops, queued{seq: g.submitted, run: run})
	g.cond.Broadcast()
	return g.submitted
}

// Pause stops execution after the op in progress.
func (g *GPU) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

// Resume lets the GPU goroutine run again.
func (g *GPU) Resume() {
	g.mu.Lock()
	g.paused = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Drain executes every queued op on the calling goroutine, paused or not.
func (g *GPU) Drain() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.ops) > 0 {
		g.step()
	}
}

// Idle blocks until every submitted op has completed. It must not be called
// on a paused GPU with work queued.
func (g *GPU) Idle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.completed < g.submitted {
		g.cond.Wait()
	}
}

// Pending returns the number of queued ops.
func (g *GPU) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ops)
}

// Completed returns the sequence number of the last executed op.
func (g *GPU) Completed() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completed
}

// Close stops the GPU goroutine once the queue is empty. A paused GPU stops
// right away and its queued ops are dropped.
func (g *GPU) Close() {
	g.mu.Lock()
	g.closed = true
	g.cond.Broadcast()
	g.mu.Unlock()
}
