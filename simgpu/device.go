package simgpu

import (
	"fmt"
	"image"
	"sync"

	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

const spirvMagic = 0x07230203

// BarrierRecord is one transition executed on the GPU timeline.
type BarrierRecord struct {
	Resource string
	Before   hal.ResourceState
	After    hal.ResourceState
}

// Device is the simulated hal.Device.
type Device struct {
	factory *Factory
	adapter *adapter
	gpu     *GPU

	mu       sync.Mutex
	live     map[string]int
	released bool
	// fault is the first GPU timeline error. It removes the device.
	fault    error
	barriers []BarrierRecord
	draws    int
	names    int
}

func newDevice(f *Factory, a *adapter) *Device {
	d := &Device{factory: f, adapter: a, gpu: f.gpu, live: map[string]int{}}
	f.gpu.mu.Lock()
	prev := f.gpu.fault
	f.gpu.fault = func(err error) {
		d.setFault(err)
		if prev != nil {
			prev(err)
		}
	}
	f.gpu.mu.Unlock()
	return d
}

func (d *Device) setFault(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fault == nil {
		d.fault = errors.Wrap(hal.ErrDeviceRemoved, err.Error())
		hal.Logger().Error("simgpu: device removed", "err", err)
	}
}

// Err returns the error that removed the device, or nil.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

func (d *Device) track(kind string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live[kind]++
	d.names++
	return fmt.Sprintf("%s#%d", kind, d.names)
}

func (d *Device) untrack(kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live[kind]--
	if d.live[kind] == 0 {
		delete(d.live, kind)
	}
}

// Live returns the number of unreleased objects per kind, the device
// itself included under "device".
func (d *Device) Live() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.live)+1)
	for k, v := range d.live {
		out[k] = v
	}
	if !d.released {
		out["device"] = 1
	}
	return out
}

// Barriers returns every transition executed so far.
func (d *Device) Barriers() []BarrierRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]BarrierRecord(nil), d.barriers...)
}

// Draws returns the number of executed draw calls.
func (d *Device) Draws() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draws
}

// GPU returns the executor the device submits to.
func (d *Device) GPU() *GPU { return d.gpu }

func (d *Device) removed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return errors.Wrap(hal.ErrInvalidState, "device released")
	}
	return d.fault
}

func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true
	hal.Logger().Debug("simgpu: device released", "leaked", d.live)
}

// releaser makes Release idempotent for every object kind.
type releaser struct {
	dev  *Device
	kind string
	once sync.Once
}

func (r *releaser) Release() {
	r.once.Do(func() { r.dev.untrack(r.kind) })
}

func (d *Device) newReleaser(kind string) (*releaser, string) {
	return &releaser{dev: d, kind: kind}, d.track(kind)
}

type descriptorHeap struct {
	*releaser
	slots []*texture
}

func (h *descriptorHeap) NumDescriptors() int { return len(h.slots) }

func (d *Device) CreateDescriptorHeap(desc hal.DescriptorHeapDesc) (hal.DescriptorHeap, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	if desc.Type != hal.DescriptorHeapTypeRTV {
		return nil, errors.Wrapf(hal.ErrUnsupported, "descriptor heap type %d", desc.Type)
	}
	if desc.NumDescriptors <= 0 {
		return nil, errors.Wrap(hal.ErrInvalidState, "descriptor heap needs at least one descriptor")
	}
	r, _ := d.newReleaser("descriptor-heap")
	return &descriptorHeap{releaser: r, slots: make([]*texture, desc.NumDescriptors)}, nil
}

func (d *Device) CreateRenderTargetView(res hal.Resource, heap hal.DescriptorHeap, index int) error {
	if err := d.removed(); err != nil {
		return err
	}
	tex, ok := res.(*texture)
	if !ok {
		return errors.Wrap(hal.ErrInvalidState, "render target view of a non-image resource")
	}
	h, ok := heap.(*descriptorHeap)
	if !ok {
		return errors.Wrap(hal.ErrInvalidState, "heap is not a simulated descriptor heap")
	}
	if index < 0 || index >= len(h.slots) {
		return errors.Wrapf(hal.ErrInvalidState, "descriptor %d out of range [0,%d)", index, len(h.slots))
	}
	h.slots[index] = tex
	return nil
}

type rootSignature struct {
	*releaser
	desc hal.RootSignatureDesc
}

func (d *Device) CreateRootSignature(desc hal.RootSignatureDesc) (hal.RootSignature, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	r, _ := d.newReleaser("root-signature")
	return &rootSignature{releaser: r, desc: desc}, nil
}

// vertexLayout is where the rasterizer finds each attribute.
type vertexLayout struct {
	position hal.InputElementDesc
	color    *hal.InputElementDesc
}

type pipelineState struct {
	*releaser
	desc   hal.GraphicsPipelineStateDesc
	layout vertexLayout
}

func checkShader(stage string, bc hal.ShaderBytecode) error {
	if len(bc.Code) == 0 || bc.Code[0] != spirvMagic {
		return errors.Wrapf(hal.ErrInvalidState, "%s: not a SPIR-V module", stage)
	}
	if bc.EntryPoint == "" {
		return errors.Wrapf(hal.ErrInvalidState, "%s: no entry point", stage)
	}
	return nil
}

func (d *Device) CreateGraphicsPipelineState(desc hal.GraphicsPipelineStateDesc) (hal.PipelineState, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	rs, ok := desc.RootSignature.(*rootSignature)
	if !ok {
		return nil, errors.Wrap(hal.ErrInvalidState, "pipeline needs a root signature")
	}
	if len(desc.InputLayout) > 0 && !rs.desc.AllowInputAssemblerInputLayout {
		return nil, errors.Wrap(hal.ErrInvalidState, "root signature does not allow an input layout")
	}
	if err := checkShader("vertex shader", desc.VS); err != nil {
		return nil, err
	}
	if err := checkShader("pixel shader", desc.PS); err != nil {
		return nil, err
	}
	if len(desc.RTVFormats) != 1 {
		return nil, errors.Wrapf(hal.ErrUnsupported, "%d render targets", len(desc.RTVFormats))
	}
	if desc.PrimitiveTopology != hal.PrimitiveTopologyTriangleList {
		return nil, errors.Wrap(hal.ErrUnsupported, "only triangle topology is rasterized")
	}
	var layout vertexLayout
	found := false
	for _, e := range desc.InputLayout {
		switch e.SemanticName {
		case "POSITION":
			if e.Format != hal.FormatR32G32Float && e.Format != hal.FormatR32G32B32Float && e.Format != hal.FormatR32G32B32A32Float {
				return nil, errors.Wrapf(hal.ErrUnsupported, "position format %d", e.Format)
			}
			layout.position = e
			found = true
		case "COLOR":
			if e.Format != hal.FormatR32G32B32A32Float {
				return nil, errors.Wrapf(hal.ErrUnsupported, "color format %d", e.Format)
			}
			c := e
			layout.color = &c
		}
	}
	if !found {
		return nil, errors.Wrap(hal.ErrInvalidState, "input layout has no POSITION element")
	}
	r, _ := d.newReleaser("pipeline-state")
	return &pipelineState{releaser: r, desc: desc, layout: layout}, nil
}

// buffer is a committed linear resource.
type buffer struct {
	*releaser
	name   string
	heap   hal.HeapType
	data   []byte
	mapped bool
	// state is only touched on the GPU timeline.
	state hal.ResourceState
}

func (b *buffer) Size() int { return len(b.data) }

func (b *buffer) Map() ([]byte, error) {
	if b.heap != hal.HeapTypeUpload {
		return nil, errors.Wrap(hal.ErrInvalidState, "only upload heap buffers can be mapped")
	}
	b.mapped = true
	return b.data, nil
}

func (b *buffer) Unmap() { b.mapped = false }

func (d *Device) CreateCommittedResource(desc hal.BufferDesc) (hal.Resource, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	if desc.Size <= 0 {
		return nil, errors.Wrap(hal.ErrInvalidState, "buffer size must be positive")
	}
	if desc.HeapType == hal.HeapTypeUpload && desc.InitialState != hal.ResourceStateGenericRead {
		return nil, errors.Wrap(hal.ErrInvalidState, "upload heap buffers must start in generic-read")
	}
	r, name := d.newReleaser("buffer")
	return &buffer{releaser: r, name: name, heap: desc.HeapType, data: make([]byte, desc.Size), state: desc.InitialState}, nil
}

// texture is a swap chain image.
type texture struct {
	*releaser
	name  string
	img   *image.RGBA
	state hal.ResourceState
}

func (t *texture) Size() int { return len(t.img.Pix) }

func (t *texture) Map() ([]byte, error) {
	return nil, errors.Wrap(hal.ErrInvalidState, "swap chain images cannot be mapped")
}

func (t *texture) Unmap() {}

type fence struct {
	*releaser
	mu        sync.Mutex
	completed uint64
	waiters   []fenceWaiter
	before    func(uint64)
}

type fenceWaiter struct {
	value uint64
	ev    *hal.Event
}

func (f *fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *fence) SetEventOnCompletion(value uint64, ev *hal.Event) error {
	if ev == nil {
		return errors.Wrap(hal.ErrInvalidState, "nil event")
	}
	if f.before != nil {
		f.before(value)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed >= value {
		ev.Set()
		return nil
	}
	f.waiters = append(f.waiters, fenceWaiter{value: value, ev: ev})
	return nil
}

// signal runs on the GPU timeline.
func (f *fence) signal(value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = value
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w.value <= value {
			w.ev.Set()
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
}

func (d *Device) CreateFence(initialValue uint64) (hal.Fence, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	r, _ := d.newReleaser("fence")
	return &fence{releaser: r, completed: initialValue, before: d.factory.opts.BeforeFenceWait}, nil
}
