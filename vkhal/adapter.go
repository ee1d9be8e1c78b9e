package vkhal

import (
	"sort"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

// adapter is one physical device as the factory saw it at enumeration.
type adapter struct {
	gpu     vk.PhysicalDevice
	props   vk.PhysicalDeviceProperties
	memory  vk.PhysicalDeviceMemoryProperties
	desc    hal.AdapterDesc
	index   int
	family  uint32
	present bool
}

func (a *adapter) Desc() hal.AdapterDesc { return a.desc }

func newAdapter(gpu vk.PhysicalDevice, index int) *adapter {
	a := &adapter{gpu: gpu, index: index}
	vk.GetPhysicalDeviceProperties(gpu, &a.props)
	a.props.Deref()
	vk.GetPhysicalDeviceMemoryProperties(gpu, &a.memory)
	a.memory.Deref()

	var local uint64
	for i := uint32(0); i < a.memory.MemoryHeapCount; i++ {
		heap := a.memory.MemoryHeaps[i]
		heap.Deref()
		if heap.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			local += uint64(heap.Size)
		}
	}
	a.desc = hal.AdapterDesc{
		Description:          vk.ToString(a.props.DeviceName[:]),
		VendorID:             a.props.VendorID,
		DeviceID:             a.props.DeviceID,
		DedicatedVideoMemory: local,
	}
	if a.props.DeviceType == vk.PhysicalDeviceTypeCpu {
		a.desc.Flags |= hal.AdapterFlagSoftware
	}
	return a
}

// findQueueFamily picks the first family with graphics that can also present
// to surface.
func (a *adapter) findQueueFamily(surface vk.Surface) bool {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(a.gpu, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(a.gpu, &count, families)

	for i := uint32(0); i < count; i++ {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
			continue
		}
		var supportsPresent vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(a.gpu, i, surface, &supportsPresent)
		if supportsPresent.B() {
			a.family = i
			a.present = true
			return true
		}
	}
	return false
}

// levelVersion is the Vulkan API version a feature level needs. 11_x needs
// 1.1 for the flipped viewport.
func levelVersion(level hal.FeatureLevel) uint32 {
	switch {
	case level >= hal.FeatureLevel12_1:
		return uint32(vk.MakeVersion(1, 3, 0))
	case level >= hal.FeatureLevel12_0:
		return uint32(vk.MakeVersion(1, 2, 0))
	}
	return uint32(vk.MakeVersion(1, 1, 0))
}

// typeRank orders device types for a preference. Lower sorts first.
func typeRank(t vk.PhysicalDeviceType, pref hal.GPUPreference) int {
	order := []vk.PhysicalDeviceType{
		vk.PhysicalDeviceTypeDiscreteGpu,
		vk.PhysicalDeviceTypeIntegratedGpu,
		vk.PhysicalDeviceTypeVirtualGpu,
		vk.PhysicalDeviceTypeOther,
		vk.PhysicalDeviceTypeCpu,
	}
	if pref == hal.GPUPreferenceMinimumPower {
		order[0], order[1] = order[1], order[0]
	}
	for i, o := range order {
		if o == t {
			return i
		}
	}
	return len(order)
}

func orderAdapters(list []*adapter, pref hal.GPUPreference) []*adapter {
	ordered := make([]*adapter, len(list))
	copy(ordered, list)
	if pref == hal.GPUPreferenceUnspecified {
		return ordered
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return typeRank(ordered[i].props.DeviceType, pref) < typeRank(ordered[j].props.DeviceType, pref)
	})
	return ordered
}
