package vkhal

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

func adaptersOf(types ...vk.PhysicalDeviceType) []*adapter {
	list := make([]*adapter, len(types))
	for i, t := range types {
		list[i] = &adapter{index: i}
		list[i].props.DeviceType = t
	}
	return list
}

func indices(list []*adapter) []int {
	out := make([]int, len(list))
	for i, a := range list {
		out[i] = a.index
	}
	return out
}

func TestOrderAdapters(t *testing.T) {
	list := adaptersOf(
		vk.PhysicalDeviceTypeCpu,
		vk.PhysicalDeviceTypeIntegratedGpu,
		vk.PhysicalDeviceTypeDiscreteGpu,
		vk.PhysicalDeviceTypeIntegratedGpu,
		vk.PhysicalDeviceTypeVirtualGpu,
	)
	tests := []struct {
		pref hal.GPUPreference
		want []int
	}{
		{hal.GPUPreferenceUnspecified, []int{0, 1, 2, 3, 4}},
		{hal.GPUPreferenceHighPerformance, []int{2, 1, 3, 4, 0}},
		{hal.GPUPreferenceMinimumPower, []int{1, 3, 2, 4, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.pref.String(), func(t *testing.T) {
			got := indices(orderAdapters(list, tt.pref))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("orderAdapters (-want +got):\n%s", diff)
			}
		})
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, indices(list), "input is not reordered")
}

func TestTypeRankPutsCPULast(t *testing.T) {
	for _, pref := range []hal.GPUPreference{hal.GPUPreferenceHighPerformance, hal.GPUPreferenceMinimumPower} {
		cpu := typeRank(vk.PhysicalDeviceTypeCpu, pref)
		for _, other := range []vk.PhysicalDeviceType{
			vk.PhysicalDeviceTypeDiscreteGpu,
			vk.PhysicalDeviceTypeIntegratedGpu,
			vk.PhysicalDeviceTypeVirtualGpu,
			vk.PhysicalDeviceTypeOther,
		} {
			assert.Less(t, typeRank(other, pref), cpu, "%s %d", pref, other)
		}
	}
}

func TestLevelVersion(t *testing.T) {
	assert.Equal(t, uint32(vk.MakeVersion(1, 1, 0)), levelVersion(hal.FeatureLevel11_0))
	assert.Equal(t, uint32(vk.MakeVersion(1, 1, 0)), levelVersion(hal.FeatureLevel11_1))
	assert.Equal(t, uint32(vk.MakeVersion(1, 2, 0)), levelVersion(hal.FeatureLevel12_0))
	assert.Equal(t, uint32(vk.MakeVersion(1, 3, 0)), levelVersion(hal.FeatureLevel12_1))
}

func TestCheckExisting(t *testing.T) {
	set := checkExisting(
		[]string{"VK_KHR_surface", "VK_KHR_xcb_surface"},
		[]string{"VK_KHR_surface", "VK_EXT_debug_report", "VK_KHR_surface"},
	)
	assert.Equal(t, []string{"VK_KHR_surface\x00"}, set.enabled)
	assert.Equal(t, []string{"VK_EXT_debug_report"}, set.missing)
}

func TestSafeString(t *testing.T) {
	assert.Equal(t, "\x00", safeString(""))
	assert.Equal(t, "main\x00", safeString("main"))
	assert.Equal(t, "main\x00", safeString("main\x00"))
	assert.Equal(t, []string{"a\x00", "b\x00"}, safeStrings([]string{"a", "b\x00"}))
	assert.True(t, hasName([]string{"VK_KHR_swapchain\x00"}, "VK_KHR_swapchain"))
}

func TestChooseSurfaceFormat(t *testing.T) {
	srgb := vk.ColorSpaceSrgbNonlinear
	bgra := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: srgb}
	rgba := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: srgb}
	srgbFormat := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: srgb}

	assert.Equal(t, rgba.Format, chooseSurfaceFormat([]vk.SurfaceFormat{bgra, rgba}, vk.FormatR8g8b8a8Unorm).Format)
	assert.Equal(t, bgra.Format, chooseSurfaceFormat([]vk.SurfaceFormat{srgbFormat, bgra}, vk.FormatR8g8b8a8Unorm).Format)
	assert.Equal(t, srgbFormat.Format, chooseSurfaceFormat([]vk.SurfaceFormat{srgbFormat}, vk.FormatR8g8b8a8Unorm).Format)

	undefined := chooseSurfaceFormat([]vk.SurfaceFormat{{Format: vk.FormatUndefined, ColorSpace: srgb}}, vk.FormatR8g8b8a8Unorm)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, undefined.Format)
}

func TestClampUint32(t *testing.T) {
	assert.Equal(t, uint32(2), clampUint32(1, 2, 4))
	assert.Equal(t, uint32(3), clampUint32(3, 2, 4))
	assert.Equal(t, uint32(4), clampUint32(9, 2, 4))
}

func TestVkFormat(t *testing.T) {
	f, err := vkFormat(hal.FormatR32G32B32Float)
	assert.NoError(t, err)
	assert.Equal(t, vk.FormatR32g32b32Sfloat, f)
	_, err = vkFormat(hal.FormatUnknown)
	assert.ErrorIs(t, err, hal.ErrUnsupported)
}

func TestImageScope(t *testing.T) {
	tests := []struct {
		state  hal.ResourceState
		layout vk.ImageLayout
	}{
		{hal.ResourceStateRenderTarget, vk.ImageLayoutColorAttachmentOptimal},
		{hal.ResourceStatePresent, vk.ImageLayoutTransferSrcOptimal},
		{hal.ResourceStateCopySource, vk.ImageLayoutTransferSrcOptimal},
		{hal.ResourceStateCopyDest, vk.ImageLayoutTransferDstOptimal},
		{hal.ResourceStateCommon, vk.ImageLayoutGeneral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.layout, imageScope(tt.state).layout, tt.state.String())
	}
	vertex := bufferScope(hal.ResourceStateVertexAndConstantBuffer)
	assert.Equal(t, vk.AccessFlags(vk.AccessVertexAttributeReadBit), vertex.access)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageVertexInputBit), vertex.stage)
}

func TestScissorRect(t *testing.T) {
	r := scissorRect(hal.Rect{Left: -4, Top: 2, Right: 100, Bottom: 50})
	assert.Equal(t, vk.Offset2D{X: 0, Y: 2}, r.Offset)
	assert.Equal(t, vk.Extent2D{Width: 100, Height: 48}, r.Extent)

	empty := scissorRect(hal.Rect{Left: 10, Right: 5})
	assert.Equal(t, uint32(0), empty.Extent.Width)
}

func TestVertexInput(t *testing.T) {
	attrs, stride, err := vertexInput([]hal.InputElementDesc{
		{SemanticName: "POSITION", Format: hal.FormatR32G32B32Float},
		{SemanticName: "COLOR", Format: hal.FormatR32G32B32A32Float, ByteOffset: 12},
	})
	assert.NoError(t, err)
	assert.Equal(t, 28, stride)
	if assert.Len(t, attrs, 2) {
		assert.Equal(t, uint32(1), attrs[1].Location)
		assert.Equal(t, uint32(12), attrs[1].Offset)
		assert.Equal(t, vk.FormatR32g32b32a32Sfloat, attrs[1].Format)
	}

	_, _, err = vertexInput([]hal.InputElementDesc{{Format: hal.FormatR8G8B8A8Unorm}})
	assert.ErrorIs(t, err, hal.ErrUnsupported)
	_, _, err = vertexInput([]hal.InputElementDesc{{Format: hal.FormatR32G32Float, InputSlot: 1}})
	assert.ErrorIs(t, err, hal.ErrUnsupported)
}

func TestNewErrorMapsDeviceLost(t *testing.T) {
	assert.NoError(t, newError(vk.Success))
	assert.ErrorIs(t, newError(vk.ErrorDeviceLost), hal.ErrDeviceRemoved)
	assert.ErrorIs(t, newError(vk.ErrorExtensionNotPresent), hal.ErrUnsupported)
	assert.Error(t, newError(vk.ErrorOutOfHostMemory))
}
