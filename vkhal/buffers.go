package vkhal

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

// buffer is a committed buffer with its own memory allocation.
type buffer struct {
	dev    *Device
	handle vk.Buffer
	memory vk.DeviceMemory
	size   int
	heap   hal.HeapType
	mapped bool
}

// CreateCommittedResource creates a vertex-capable buffer. Upload buffers
// are host visible and coherent and must start in GenericRead.
func (d *Device) CreateCommittedResource(desc hal.BufferDesc) (hal.Resource, error) {
	if desc.Size <= 0 {
		return nil, errors.Wrapf(hal.ErrInvalidState, "buffer size %d", desc.Size)
	}
	usage := vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	var props vk.MemoryPropertyFlags
	switch desc.HeapType {
	case hal.HeapTypeUpload:
		if desc.InitialState != hal.ResourceStateGenericRead {
			return nil, errors.Wrapf(hal.ErrInvalidState, "upload buffers start in %s, not %s", hal.ResourceStateGenericRead, desc.InitialState)
		}
		usage |= vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
		props = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	case hal.HeapTypeDefault:
		usage |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
		props = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	default:
		return nil, errors.Wrapf(hal.ErrUnsupported, "heap type %d", desc.HeapType)
	}

	b := &buffer{dev: d, size: desc.Size, heap: desc.HeapType}
	ret := vk.CreateBuffer(d.handle, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b.handle)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create buffer")
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, b.handle, &memReqs)
	memReqs.Deref()

	memType, err := d.findMemoryType(memReqs.MemoryTypeBits, props)
	if err != nil && desc.HeapType == hal.HeapTypeDefault {
		// Some implementations only expose host-visible memory.
		memType, err = d.findMemoryType(memReqs.MemoryTypeBits, 0)
	}
	if err != nil {
		b.Release()
		return nil, err
	}
	ret = vk.AllocateMemory(d.handle, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &b.memory)
	if isError(ret) {
		b.Release()
		return nil, errors.Wrap(newError(ret), "allocate buffer memory")
	}
	if ret := vk.BindBufferMemory(d.handle, b.handle, b.memory, 0); isError(ret) {
		b.Release()
		return nil, errors.Wrap(newError(ret), "bind buffer memory")
	}
	return b, nil
}

func (b *buffer) Size() int { return b.size }

func (b *buffer) Map() ([]byte, error) {
	if b.heap != hal.HeapTypeUpload {
		return nil, errors.Wrap(hal.ErrInvalidState, "only upload buffers can be mapped")
	}
	var pData unsafe.Pointer
	if ret := vk.MapMemory(b.dev.handle, b.memory, 0, vk.DeviceSize(b.size), 0, &pData); isError(ret) {
		return nil, errors.Wrap(newError(ret), "map buffer memory")
	}
	b.mapped = true
	return unsafe.Slice((*byte)(pData), b.size), nil
}

func (b *buffer) Unmap() {
	if b.mapped {
		vk.UnmapMemory(b.dev.handle, b.memory)
		b.mapped = false
	}
}

func (b *buffer) Release() {
	b.Unmap()
	if b.handle != nil {
		vk.DestroyBuffer(b.dev.handle, b.handle, nil)
		b.handle = nil
	}
	if b.memory != nil {
		vk.FreeMemory(b.dev.handle, b.memory, nil)
		b.memory = nil
	}
}
