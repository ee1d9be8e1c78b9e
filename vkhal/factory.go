// Package vkhal implements the hal interfaces on Vulkan through
// github.com/vulkan-go/vulkan, with windows and surfaces from GLFW.
//
// Command lists record straight into Vulkan command buffers. A render pass
// is opened lazily by the first clear or draw after a render target is bound
// and ends at the next barrier, copy or Close. Back buffers are images owned
// by the swap chain; Present blits the current one into an acquired surface
// image. Fences are emulated with native fences, one per queue submission.
package vkhal

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// FactoryDesc configures the instance behind a Factory.
type FactoryDesc struct {
	AppName string
	// InstanceExtensions the window system needs, such as the ones GLFW reports.
	InstanceExtensions []string
	// Debug enables the validation layer and a debug report callback when
	// the loader has them.
	Debug bool
	// Surface is the window swap chains are created for.
	Surface hal.Surface
	// CreateSurface makes the native surface for Surface on instance.
	CreateSurface func(instance vk.Instance) (vk.Surface, error)
}

// Factory owns the Vulkan instance, the window surface and the adapters
// found on it. It implements hal.PreferenceFactory.
type Factory struct {
	instance      vk.Instance
	surface       vk.Surface
	window        hal.Surface
	debugCallback vk.DebugReportCallback
	layers        []string
	adapters      []*adapter
}

// NewFactory creates the instance, the surface and the adapter list.
// vk.Init must have run.
func NewFactory(desc FactoryDesc) (_ *Factory, err error) {
	f := &Factory{window: desc.Surface}
	defer func() {
		if err != nil {
			f.Release()
		}
	}()
	defer checkErr(&err)

	actualExtensions, err := InstanceExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate instance extensions")
	}
	wanted := append([]string(nil), desc.InstanceExtensions...)
	if desc.Debug {
		wanted = append(wanted, "VK_EXT_debug_report")
	}
	extensions := checkExisting(actualExtensions, wanted)
	for _, name := range extensions.missing {
		hal.Logger().Warn("vulkan instance extension missing", "extension", name)
	}

	var layers extensionSet
	if desc.Debug {
		actualLayers, err := ValidationLayers()
		if err != nil {
			return nil, errors.Wrap(err, "enumerate validation layers")
		}
		layers = checkExisting(actualLayers, []string{validationLayer})
		for _, name := range layers.missing {
			hal.Logger().Warn("vulkan validation layer missing", "layer", name)
		}
	}
	f.layers = layers.enabled

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   safeString(desc.AppName),
			PEngineName:        safeString("hellotriangle"),
		},
		EnabledExtensionCount:   uint32(len(extensions.enabled)),
		PpEnabledExtensionNames: extensions.enabled,
		EnabledLayerCount:       uint32(len(f.layers)),
		PpEnabledLayerNames:     f.layers,
	}, nil, &instance)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create instance")
	}
	f.instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return nil, errors.Wrap(err, "load instance functions")
	}

	if desc.Debug && hasName(extensions.enabled, "VK_EXT_debug_report") {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}, nil, &f.debugCallback)
		if isError(ret) {
			return nil, errors.Wrap(newError(ret), "create debug report callback")
		}
	}

	if desc.CreateSurface != nil {
		surface, err := desc.CreateSurface(instance)
		if err != nil {
			return nil, errors.Wrap(err, "create window surface")
		}
		f.surface = surface
	}

	var gpuCount uint32
	if ret := vk.EnumeratePhysicalDevices(instance, &gpuCount, nil); isError(ret) {
		return nil, errors.Wrap(newError(ret), "enumerate physical devices")
	}
	gpus := make([]vk.PhysicalDevice, gpuCount)
	if ret := vk.EnumeratePhysicalDevices(instance, &gpuCount, gpus); isError(ret) {
		return nil, errors.Wrap(newError(ret), "enumerate physical devices")
	}
	for i, gpu := range gpus[:gpuCount] {
		a := newAdapter(gpu, i)
		if f.surface != vk.NullSurface {
			a.findQueueFamily(f.surface)
		}
		f.adapters = append(f.adapters, a)
		hal.Logger().Debug("vulkan adapter", "index", i, "name", a.desc.Description, "type", a.props.DeviceType)
	}
	return f, nil
}

func hasName(list []string, name string) bool {
	for _, n := range list {
		if n == name || n == safeString(name) {
			return true
		}
	}
	return false
}

func (f *Factory) EnumAdapters(index int) (hal.Adapter, error) {
	if index < 0 || index >= len(f.adapters) {
		return nil, hal.ErrNotFound
	}
	return f.adapters[index], nil
}

// EnumAdapterByGPUPreference orders discrete GPUs first for
// high performance and integrated GPUs first for minimum power.
func (f *Factory) EnumAdapterByGPUPreference(index int, pref hal.GPUPreference) (hal.Adapter, error) {
	ordered := orderAdapters(f.adapters, pref)
	if index < 0 || index >= len(ordered) {
		return nil, hal.ErrNotFound
	}
	return ordered[index], nil
}

func (f *Factory) lookup(a hal.Adapter) (*adapter, error) {
	ad, ok := a.(*adapter)
	if !ok || ad.index >= len(f.adapters) || f.adapters[ad.index] != ad {
		return nil, errors.Wrap(hal.ErrInvalidState, "adapter does not belong to this factory")
	}
	return ad, nil
}

// CheckDeviceSupport reports whether the adapter reaches the API version
// for level, has a queue family that draws and presents, and offers the
// swapchain extension.
func (f *Factory) CheckDeviceSupport(a hal.Adapter, level hal.FeatureLevel) error {
	ad, err := f.lookup(a)
	if err != nil {
		return err
	}
	if ad.props.ApiVersion < levelVersion(level) {
		return errors.Wrapf(hal.ErrUnsupported, "%s: api version %d below level %#x", ad.desc.Description, ad.props.ApiVersion, uint32(level))
	}
	if !ad.present {
		return errors.Wrapf(hal.ErrUnsupported, "%s: no queue family with graphics and present", ad.desc.Description)
	}
	exts, err := DeviceExtensions(ad.gpu)
	if err != nil {
		return err
	}
	if set := checkExisting(exts, []string{"VK_KHR_swapchain"}); len(set.missing) > 0 {
		return errors.Wrapf(hal.ErrUnsupported, "%s: missing %v", ad.desc.Description, set.missing)
	}
	return nil
}

func (f *Factory) CreateDevice(a hal.Adapter, level hal.FeatureLevel) (hal.Device, error) {
	if err := f.CheckDeviceSupport(a, level); err != nil {
		return nil, err
	}
	ad, _ := f.lookup(a)
	return newDevice(f, ad)
}

func (f *Factory) CreateSwapChainForSurface(queue hal.CommandQueue, surface hal.Surface, desc hal.SwapChainDesc) (hal.SwapChain, error) {
	q, ok := queue.(*commandQueue)
	if !ok {
		return nil, errors.Wrap(hal.ErrInvalidState, "queue does not belong to this backend")
	}
	if surface != f.window || f.surface == vk.NullSurface {
		return nil, errors.Wrap(hal.ErrUnsupported, "surface was not created by this factory")
	}
	return newSwapChain(q, f.surface, desc)
}

func (f *Factory) Release() {
	if f.surface != vk.NullSurface {
		vk.DestroySurface(f.instance, f.surface, nil)
		f.surface = vk.NullSurface
	}
	if f.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(f.instance, f.debugCallback, nil)
		f.debugCallback = vk.NullDebugReportCallback
	}
	if f.instance != nil {
		vk.DestroyInstance(f.instance, nil)
		f.instance = nil
	}
	f.adapters = nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	log := hal.Logger()
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		log.Error(pMessage, "layer", pLayerPrefix, "code", messageCode)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0,
		flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		log.Warn(pMessage, "layer", pLayerPrefix, "code", messageCode)
	default:
		log.Debug(pMessage, "layer", pLayerPrefix, "code", messageCode)
	}
	return vk.Bool32(vk.False)
}
