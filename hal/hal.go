// Package hal declares the backend-neutral GPU objects the render surface
// controller is written against. The shapes follow an explicit, D3D12-like
// model: a factory enumerates adapters, a device creates every other object,
// command lists are recorded against an allocator and submitted to a queue,
// and CPU/GPU progress is tracked with a value fence.
//
// Backends live in sibling packages (vkhal, simgpu).
package hal

// GPUPreference orders adapters in PreferenceFactory enumeration.
type GPUPreference int

const (
	GPUPreferenceUnspecified GPUPreference = iota
	GPUPreferenceMinimumPower
	GPUPreferenceHighPerformance
)

func (p GPUPreference) String() string {
	switch p {
	case GPUPreferenceMinimumPower:
		return "minimum-power"
	case GPUPreferenceHighPerformance:
		return "high-performance"
	}
	return "unspecified"
}

// FeatureLevel is the minimum capability level a device is created at.
type FeatureLevel uint32

const (
	FeatureLevel11_0 FeatureLevel = 0xb000
	FeatureLevel11_1 FeatureLevel = 0xb100
	FeatureLevel12_0 FeatureLevel = 0xc000
	FeatureLevel12_1 FeatureLevel = 0xc100
)

// AdapterFlags describe an adapter.
type AdapterFlags uint32

const (
	AdapterFlagNone     AdapterFlags = 0
	AdapterFlagSoftware AdapterFlags = 1 << 1
)

// Has reports whether all bits of flag are set.
func (f AdapterFlags) Has(flag AdapterFlags) bool {
	return f&flag == flag
}

// AdapterDesc describes a physical or virtual graphics device.
type AdapterDesc struct {
	Description          string
	VendorID             uint32
	DeviceID             uint32
	DedicatedVideoMemory uint64
	Flags                AdapterFlags
}

// Adapter is a graphics device exposed by the platform.
type Adapter interface {
	Desc() AdapterDesc
}

// Surface is the window a swap chain presents into.
type Surface interface {
	Size() (width, height int)
}

// Factory enumerates adapters and creates devices and swap chains.
type Factory interface {
	// EnumAdapters returns the adapter at index in platform order,
	// or ErrNotFound past the last one.
	EnumAdapters(index int) (Adapter, error)
	// CheckDeviceSupport probes whether a device could be created on the
	// adapter at the given level. No device is created.
	CheckDeviceSupport(adapter Adapter, level FeatureLevel) error
	CreateDevice(adapter Adapter, level FeatureLevel) (Device, error)
	CreateSwapChainForSurface(queue CommandQueue, surface Surface, desc SwapChainDesc) (SwapChain, error)
	Release()
}

// PreferenceFactory is implemented by factories that can enumerate adapters
// ordered by a GPU preference.
type PreferenceFactory interface {
	Factory
	EnumAdapterByGPUPreference(index int, pref GPUPreference) (Adapter, error)
}

// CommandListType selects the queue family a list or allocator belongs to.
type CommandListType int

const (
	CommandListTypeDirect CommandListType = iota
	CommandListTypeCopy
)

// CommandQueueDesc describes a command queue.
type CommandQueueDesc struct {
	Type CommandListType
}

// Format is a pixel or vertex element format.
type Format int

const (
	FormatUnknown Format = iota
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatR32G32Float
	FormatR32G32B32Float
	FormatR32G32B32A32Float
)

// Size returns the byte size of one element of the format.
func (f Format) Size() int {
	switch f {
	case FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm:
		return 4
	case FormatR32G32Float:
		return 8
	case FormatR32G32B32Float:
		return 12
	case FormatR32G32B32A32Float:
		return 16
	}
	return 0
}

// SwapEffect controls what happens to a presented buffer.
type SwapEffect int

const (
	SwapEffectFlipDiscard SwapEffect = iota
	SwapEffectFlipSequential
)

// SwapChainDesc describes a swap chain.
type SwapChainDesc struct {
	BufferCount int
	Width       int
	Height      int
	Format      Format
	SwapEffect  SwapEffect
	SampleCount int
}

// SwapChain is a ring of presentable images.
type SwapChain interface {
	BufferCount() int
	// CurrentBackBufferIndex is the image the next frame renders into.
	CurrentBackBufferIndex() int
	Buffer(index int) (Resource, error)
	Present(syncInterval int) error
	Release()
}

// DescriptorHeapType selects what a descriptor heap holds.
type DescriptorHeapType int

const (
	DescriptorHeapTypeRTV DescriptorHeapType = iota
)

// DescriptorHeapDesc describes a descriptor heap.
type DescriptorHeapDesc struct {
	Type           DescriptorHeapType
	NumDescriptors int
}

// DescriptorHeap is a fixed-size table of views.
type DescriptorHeap interface {
	NumDescriptors() int
	Release()
}

// HeapType selects the memory a buffer lives in.
type HeapType int

const (
	// HeapTypeDefault is GPU-local and not CPU visible.
	HeapTypeDefault HeapType = iota
	// HeapTypeUpload is CPU visible and used for staging.
	HeapTypeUpload
)

// ResourceState is the usage a resource is in on the GPU timeline.
type ResourceState int

const (
	ResourceStateCommon ResourceState = iota
	ResourceStatePresent
	ResourceStateRenderTarget
	ResourceStateCopyDest
	ResourceStateCopySource
	ResourceStateVertexAndConstantBuffer
	ResourceStateGenericRead
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStatePresent:
		return "present"
	case ResourceStateRenderTarget:
		return "render-target"
	case ResourceStateCopyDest:
		return "copy-dest"
	case ResourceStateCopySource:
		return "copy-source"
	case ResourceStateVertexAndConstantBuffer:
		return "vertex-and-constant-buffer"
	case ResourceStateGenericRead:
		return "generic-read"
	}
	return "common"
}

// BufferDesc describes a committed buffer resource.
type BufferDesc struct {
	Size         int
	HeapType     HeapType
	InitialState ResourceState
}

// Resource is a GPU buffer or image.
type Resource interface {
	Size() int
	// Map returns CPU-visible memory. Only upload-heap buffers can be mapped.
	Map() ([]byte, error)
	Unmap()
	Release()
}

// ResourceBarrier is a state transition of one resource.
type ResourceBarrier struct {
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

// Transition builds a transition barrier.
func Transition(res Resource, before, after ResourceState) ResourceBarrier {
	return ResourceBarrier{Resource: res, Before: before, After: after}
}

// Viewport maps normalized device coordinates to the render target.
type Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

// Rect is a pixel rectangle, right and bottom exclusive.
type Rect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// PrimitiveTopology selects how vertices are assembled.
type PrimitiveTopology int

const (
	PrimitiveTopologyUndefined PrimitiveTopology = iota
	PrimitiveTopologyTriangleList
)

// VertexBufferView binds a vertex buffer range.
type VertexBufferView struct {
	Buffer        Resource
	SizeInBytes   int
	StrideInBytes int
}

// RootSignatureDesc describes the shader binding layout.
// An empty desc binds nothing.
type RootSignatureDesc struct {
	AllowInputAssemblerInputLayout bool
}

// RootSignature is an immutable binding layout.
type RootSignature interface {
	Release()
}

// ShaderBytecode is a compiled shader stage.
type ShaderBytecode struct {
	// Code holds SPIR-V words.
	Code       []uint32
	EntryPoint string
}

// InputElementDesc describes one vertex attribute.
type InputElementDesc struct {
	SemanticName string
	Format       Format
	InputSlot    int
	ByteOffset   int
}

// FillMode and CullMode configure rasterization.
type FillMode int

const (
	FillModeSolid FillMode = iota
	FillModeWireframe
)

type CullMode int

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
)

// RasterizerDesc is the fixed-function raster state.
type RasterizerDesc struct {
	FillMode FillMode
	CullMode CullMode
}

// BlendDesc is the output merger blend state for render target 0.
type BlendDesc struct {
	BlendEnable bool
}

// GraphicsPipelineStateDesc describes a pipeline state object.
type GraphicsPipelineStateDesc struct {
	RootSignature     RootSignature
	VS                ShaderBytecode
	PS                ShaderBytecode
	InputLayout       []InputElementDesc
	Rasterizer        RasterizerDesc
	Blend             BlendDesc
	DepthEnable       bool
	StencilEnable     bool
	SampleMask        uint32
	PrimitiveTopology PrimitiveTopology
	RTVFormats        []Format
	SampleCount       int
}

// PipelineState is an immutable compiled draw configuration.
type PipelineState interface {
	Release()
}

// CommandAllocator backs the memory of recorded command lists. It may only
// be reset once the GPU has finished every list recorded from it.
type CommandAllocator interface {
	Reset() error
	Release()
}

// GraphicsCommandList records GPU work. It is created in the recording state.
type GraphicsCommandList interface {
	// Reset starts recording again with pso bound. pso may be nil.
	Reset(allocator CommandAllocator, pso PipelineState) error
	ResourceBarrier(barriers ...ResourceBarrier)
	SetGraphicsRootSignature(rs RootSignature)
	RSSetViewports(viewports ...Viewport)
	RSSetScissorRects(rects ...Rect)
	OMSetRenderTargets(heap DescriptorHeap, index int)
	ClearRenderTargetView(heap DescriptorHeap, index int, color [4]float32)
	IASetPrimitiveTopology(topology PrimitiveTopology)
	IASetVertexBuffers(startSlot int, views ...VertexBufferView)
	DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32)
	CopyBufferRegion(dst Resource, dstOffset int, src Resource, srcOffset, size int)
	Close() error
	Release()
}

// CommandQueue executes command lists and fence signals in submission order.
type CommandQueue interface {
	ExecuteCommandLists(lists ...GraphicsCommandList) error
	// Signal enqueues a command that sets fence to value once all prior
	// work on the queue has completed.
	Signal(fence Fence, value uint64) error
	Release()
}

// Fence is a GPU/CPU synchronization counter signaled by submitted work.
type Fence interface {
	CompletedValue() uint64
	// SetEventOnCompletion sets ev once the completed value reaches value.
	// If it already has, ev is set before SetEventOnCompletion returns.
	SetEventOnCompletion(value uint64, ev *Event) error
	Release()
}

// Device owns every other GPU object.
type Device interface {
	CreateCommandQueue(desc CommandQueueDesc) (CommandQueue, error)
	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	CreateRenderTargetView(res Resource, heap DescriptorHeap, index int) error
	CreateCommandAllocator(t CommandListType) (CommandAllocator, error)
	CreateCommandList(t CommandListType, allocator CommandAllocator, pso PipelineState) (GraphicsCommandList, error)
	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreateGraphicsPipelineState(desc GraphicsPipelineStateDesc) (PipelineState, error)
	CreateCommittedResource(desc BufferDesc) (Resource, error)
	CreateFence(initialValue uint64) (Fence, error)
	Release()
}
