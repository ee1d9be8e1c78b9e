package simgpu

import (
	"image"
	"sync"

	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// SwapChain is a flip-model ring of image.RGBA buffers.
type SwapChain struct {
	dev     *Device
	images  []*texture
	current int

	mu        sync.Mutex
	presented []int
	last      *image.RGBA
}

func newSwapChain(d *Device, w, h, n int) *SwapChain {
	sc := &SwapChain{dev: d}
	for i := 0; i < n; i++ {
		r, name := d.newReleaser("swap-chain-buffer")
		sc.images = append(sc.images, &texture{
			releaser: r,
			name:     name,
			img:      image.NewRGBA(image.Rect(0, 0, w, h)),
			state:    hal.ResourceStatePresent,
		})
	}
	return sc
}

func (sc *SwapChain) BufferCount() int { return len(sc.images) }

func (sc *SwapChain) CurrentBackBufferIndex() int { return sc.current }

// Buffer returns image index. Releasing it or the swap chain releases the
// image.
func (sc *SwapChain) Buffer(index int) (hal.Resource, error) {
	if index < 0 || index >= len(sc.images) {
		return nil, errors.Wrapf(hal.ErrNotFound, "swap chain buffer %d", index)
	}
	return sc.images[index], nil
}

// Present queues image CurrentBackBufferIndex for display and advances the
// index. The image must be in the present state when the GPU reaches it.
func (sc *SwapChain) Present(syncInterval int) error {
	if err := sc.dev.removed(); err != nil {
		return err
	}
	if syncInterval < 0 || syncInterval > 4 {
		return errors.Wrapf(hal.ErrInvalidState, "sync interval %d", syncInterval)
	}
	idx := sc.current
	tex := sc.images[idx]
	onPresent := sc.dev.factory.opts.OnPresent
	sc.dev.gpu.enqueue(func() error {
		if tex.state != hal.ResourceStatePresent {
			return errors.Wrapf(hal.ErrInvalidState, "present of %s in state %s", tex.name, tex.state)
		}
		frame := image.NewRGBA(tex.img.Bounds())
		copy(frame.Pix, tex.img.Pix)
		sc.mu.Lock()
		sc.presented = append(sc.presented, idx)
		sc.last = frame
		sc.mu.Unlock()
		if onPresent != nil {
			onPresent(idx, frame)
		}
		return nil
	})
	sc.current = (sc.current + 1) % len(sc.images)
	return nil
}

// Presented returns the buffer indices presented so far, in order.
func (sc *SwapChain) Presented() []int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]int(nil), sc.presented...)
}

// LastFrame returns a copy of the most recently presented image, or nil.
func (sc *SwapChain) LastFrame() *image.RGBA {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.last
}

func (sc *SwapChain) Release() {
	for _, t := range sc.images {
		t.Release()
	}
}
