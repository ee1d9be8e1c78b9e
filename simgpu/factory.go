package simgpu

import (
	"image"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

// AdapterSpec describes one simulated adapter.
type AdapterSpec struct {
	Description string
	VendorID    uint32
	DeviceID    uint32
	VideoMemory uint64
	Software    bool
	// Discrete adapters sort first for the high-performance preference and
	// last for minimum power.
	Discrete bool
	// MaxLevel is the highest feature level the adapter supports.
	MaxLevel hal.FeatureLevel
}

// DefaultAdapters is a software rasterizer followed by one hardware adapter.
var DefaultAdapters = []AdapterSpec{
	{Description: "Simulated Software Rasterizer", VendorID: 0x1414, DeviceID: 0x8c, Software: true, MaxLevel: hal.FeatureLevel12_1},
	{Description: "Simulated GPU", VendorID: 0x10de, DeviceID: 0x2484, VideoMemory: 8 << 30, Discrete: true, MaxLevel: hal.FeatureLevel12_1},
}

// Options configure a simulated factory.
type Options struct {
	// Adapters in platform order. DefaultAdapters when nil.
	Adapters []AdapterSpec
	// NoPreference hides the preference-ordered enumeration.
	NoPreference bool
	// GPU executes submitted work. A free-running GPU is started when nil.
	GPU *GPU
	// OnPresent is called on the GPU timeline with each presented image.
	OnPresent func(index int, img *image.RGBA)
	// BeforeFenceWait is called at the start of SetEventOnCompletion.
	BeforeFenceWait func(value uint64)
}

type adapter struct {
	spec  AdapterSpec
	index int
}

func (a *adapter) Desc() hal.AdapterDesc {
	d := hal.AdapterDesc{
		Description:          a.spec.Description,
		VendorID:             a.spec.VendorID,
		DeviceID:             a.spec.DeviceID,
		DedicatedVideoMemory: a.spec.VideoMemory,
	}
	if a.spec.Software {
		d.Flags |= hal.AdapterFlagSoftware
	}
	return d
}

// Factory is the simulated hal.Factory.
type Factory struct {
	opts     Options
	adapters []*adapter
	gpu      *GPU
	ownsGPU  bool

	mu      sync.Mutex
	probes  []string
	devices []*Device
	chains  []*SwapChain
}

// preferenceFactory adds preference-ordered enumeration.
type preferenceFactory struct {
	*Factory
}

func (f preferenceFactory) EnumAdapterByGPUPreference(index int, pref hal.GPUPreference) (hal.Adapter, error) {
	ordered := make([]*adapter, len(f.adapters))
	copy(ordered, f.adapters)
	switch pref {
	case hal.GPUPreferenceHighPerformance:
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].spec.Discrete && !ordered[j].spec.Discrete })
	case hal.GPUPreferenceMinimumPower:
		sort.SliceStable(ordered, func(i, j int) bool { return !ordered[i].spec.Discrete && ordered[j].spec.Discrete })
	}
	if index < 0 || index >= len(ordered) {
		return nil, hal.ErrNotFound
	}
	return ordered[index], nil
}

// NewFactory creates a simulated factory. The result implements
// hal.PreferenceFactory unless opts.NoPreference is set.
func NewFactory(opts Options) hal.Factory {
	f := newFactory(opts)
	if opts.NoPreference {
		return f
	}
	return preferenceFactory{f}
}

func newFactory(opts Options) *Factory {
	specs := opts.Adapters
	if specs == nil {
		specs = DefaultAdapters
	}
	f := &Factory{opts: opts, gpu: opts.GPU}
	for i, s := range specs {
		f.adapters = append(f.adapters, &adapter{spec: s, index: i})
	}
	if f.gpu == nil {
		f.gpu = NewGPU(false)
		f.ownsGPU = true
	}
	return f
}

// Unwrap returns the concrete factory behind a hal.Factory made by NewFactory.
func Unwrap(f hal.Factory) *Factory {
	switch v := f.(type) {
	case *Factory:
		return v
	case preferenceFactory:
		return v.Factory
	}
	return nil
}

func (f *Factory) EnumAdapters(index int) (hal.Adapter, error) {
	if index < 0 || index >= len(f.adapters) {
		return nil, hal.ErrNotFound
	}
	return f.adapters[index], nil
}

func (f *Factory) lookup(a hal.Adapter) (*adapter, error) {
	ad, ok := a.(*adapter)
	if !ok || ad.index >= len(f.adapters) || f.adapters[ad.index] != ad {
		return nil, errors.Wrap(hal.ErrInvalidState, "adapter does not belong to this factory")
	}
	return ad, nil
}

func checkLevel(ad *adapter, level hal.FeatureLevel) error {
	if ad.spec.MaxLevel < level {
		return errors.Wrapf(hal.ErrUnsupported, "%s: feature level %#x", ad.spec.Description, uint32(level))
	}
	return nil
}

func (f *Factory) CheckDeviceSupport(a hal.Adapter, level hal.FeatureLevel) error {
	ad, err := f.lookup(a)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.probes = append(f.probes, ad.spec.Description)
	f.mu.Unlock()
	return checkLevel(ad, level)
}

func (f *Factory) CreateDevice(a hal.Adapter, level hal.FeatureLevel) (hal.Device, error) {
	ad, err := f.lookup(a)
	if err != nil {
		return nil, err
	}
	if err := checkLevel(ad, level); err != nil {
		return nil, err
	}
	d := newDevice(f, ad)
	f.mu.Lock()
	f.devices = append(f.devices, d)
	f.mu.Unlock()
	hal.Logger().Debug("simgpu: device created", "adapter", ad.spec.Description)
	return d, nil
}

func (f *Factory) CreateSwapChainForSurface(q hal.CommandQueue, s hal.Surface, desc hal.SwapChainDesc) (hal.SwapChain, error) {
	cq, ok := q.(*queue)
	if !ok {
		return nil, errors.Wrap(hal.ErrInvalidState, "queue is not a simulated queue")
	}
	if desc.BufferCount < 2 {
		return nil, errors.Wrapf(hal.ErrUnsupported, "flip model needs at least 2 buffers, got %d", desc.BufferCount)
	}
	if desc.Format != hal.FormatR8G8B8A8Unorm && desc.Format != hal.FormatB8G8R8A8Unorm {
		return nil, errors.Wrapf(hal.ErrUnsupported, "swap chain format %d", desc.Format)
	}
	if desc.SampleCount > 1 {
		return nil, errors.Wrap(hal.ErrUnsupported, "flip model swap chains cannot be multisampled")
	}
	w, h := desc.Width, desc.Height
	if w == 0 || h == 0 {
		w, h = s.Size()
	}
	sc := newSwapChain(cq.dev, w, h, desc.BufferCount)
	f.mu.Lock()
	f.chains = append(f.chains, sc)
	f.mu.Unlock()
	return sc, nil
}

// Probes returns adapter descriptions in CheckDeviceSupport call order.
func (f *Factory) Probes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probes...)
}

// Device returns the most recently created device, or nil.
func (f *Factory) Device() *Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.devices) == 0 {
		return nil
	}
	return f.devices[len(f.devices)-1]
}

// SwapChain returns the most recently created swap chain, or nil.
func (f *Factory) SwapChain() *SwapChain {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chains) == 0 {
		return nil
	}
	return f.chains[len(f.chains)-1]
}

// GPU returns the executor behind every device of the factory.
func (f *Factory) GPU() *GPU { return f.gpu }

func (f *Factory) Release() {
	if f.ownsGPU {
		f.gpu.Close()
	}
}
