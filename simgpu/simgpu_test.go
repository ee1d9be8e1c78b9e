package simgpu

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/hellotriangle/hal"
)

var testShader = hal.ShaderBytecode{Code: []uint32{spirvMagic, 0x00010000}, EntryPoint: "main"}

func newTestDevice(t *testing.T, gpu *GPU) (*Factory, *Device) {
	t.Helper()
	f := Unwrap(NewFactory(Options{GPU: gpu}))
	a, err := f.EnumAdapters(1)
	require.NoError(t, err)
	d, err := f.CreateDevice(a, hal.FeatureLevel11_0)
	require.NoError(t, err)
	t.Cleanup(func() {
		d.Release()
		f.Release()
	})
	return f, d.(*Device)
}

func TestEnumAdapterByGPUPreference(t *testing.T) {
	hf := NewFactory(Options{Adapters: []AdapterSpec{
		{Description: "integrated", MaxLevel: hal.FeatureLevel12_0},
		{Description: "discrete", Discrete: true, MaxLevel: hal.FeatureLevel12_0},
	}})
	defer hf.Release()
	pf, ok := hf.(hal.PreferenceFactory)
	require.True(t, ok)

	names := func(pref hal.GPUPreference) []string {
		var out []string
		for i := 0; ; i++ {
			a, err := pf.EnumAdapterByGPUPreference(i, pref)
			if err != nil {
				assert.ErrorIs(t, err, hal.ErrNotFound)
				return out
			}
			out = append(out, a.Desc().Description)
		}
	}
	assert.Empty(t, cmp.Diff([]string{"discrete", "integrated"}, names(hal.GPUPreferenceHighPerformance)))
	assert.Empty(t, cmp.Diff([]string{"integrated", "discrete"}, names(hal.GPUPreferenceMinimumPower)))
}

func TestNoPreferenceFactory(t *testing.T) {
	hf := NewFactory(Options{NoPreference: true})
	defer hf.Release()
	_, ok := hf.(hal.PreferenceFactory)
	assert.False(t, ok)
	a, err := hf.EnumAdapters(0)
	require.NoError(t, err)
	assert.True(t, a.Desc().Flags.Has(hal.AdapterFlagSoftware))
}

func TestCheckDeviceSupportLevel(t *testing.T) {
	f := Unwrap(NewFactory(Options{Adapters: []AdapterSpec{{Description: "old", MaxLevel: hal.FeatureLevel11_0}}}))
	defer f.Release()
	a, err := f.EnumAdapters(0)
	require.NoError(t, err)
	assert.NoError(t, f.CheckDeviceSupport(a, hal.FeatureLevel11_0))
	assert.ErrorIs(t, f.CheckDeviceSupport(a, hal.FeatureLevel12_0), hal.ErrUnsupported)
	assert.Equal(t, []string{"old", "old"}, f.Probes())
}

func TestFenceSignalOrder(t *testing.T) {
	gpu := NewGPU(true)
	defer gpu.Close()
	_, d := newTestDevice(t, gpu)
	q, err := d.CreateCommandQueue(hal.CommandQueueDesc{})
	require.NoError(t, err)
	f, err := d.CreateFence(0)
	require.NoError(t, err)

	require.NoError(t, q.Signal(f, 1))
	require.NoError(t, q.Signal(f, 2))
	ev := hal.NewEvent()
	require.NoError(t, f.SetEventOnCompletion(2, ev))
	assert.False(t, ev.IsSet())
	assert.Equal(t, uint64(0), f.CompletedValue())

	gpu.Drain()
	assert.Equal(t, uint64(2), f.CompletedValue())
	assert.True(t, ev.IsSet())

	// Already reached: the event is set right away.
	ev2 := hal.NewEvent()
	require.NoError(t, f.SetEventOnCompletion(1, ev2))
	assert.True(t, ev2.IsSet())
}

func TestFenceWakesBlockedWaiter(t *testing.T) {
	gpu := NewGPU(true)
	defer gpu.Close()
	_, d := newTestDevice(t, gpu)
	q, _ := d.CreateCommandQueue(hal.CommandQueueDesc{})
	f, _ := d.CreateFence(0)
	require.NoError(t, q.Signal(f, 1))
	ev := hal.NewEvent()
	require.NoError(t, f.SetEventOnCompletion(1, ev))

	done := make(chan struct{})
	go func() {
		ev.Wait()
		close(done)
	}()
	gpu.Resume()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestAllocatorResetWhileInFlight(t *testing.T) {
	gpu := NewGPU(true)
	defer gpu.Close()
	_, d := newTestDevice(t, gpu)
	q, _ := d.CreateCommandQueue(hal.CommandQueueDesc{})
	alloc, err := d.CreateCommandAllocator(hal.CommandListTypeDirect)
	require.NoError(t, err)
	cl, err := d.CreateCommandList(hal.CommandListTypeDirect, alloc, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, alloc.Reset(), hal.ErrAllocatorInUse, "list still recording")
	require.NoError(t, cl.Close())
	require.NoError(t, q.ExecuteCommandLists(cl))
	assert.ErrorIs(t, alloc.Reset(), hal.ErrAllocatorInUse, "submission not executed")

	gpu.Drain()
	assert.NoError(t, alloc.Reset())
	assert.NoError(t, cl.Reset(alloc, nil))
	assert.ErrorIs(t, cl.Reset(alloc, nil), hal.ErrInvalidState)
}

func TestExecuteOpenListFails(t *testing.T) {
	_, d := newTestDevice(t, nil)
	q, _ := d.CreateCommandQueue(hal.CommandQueueDesc{})
	alloc, _ := d.CreateCommandAllocator(hal.CommandListTypeDirect)
	cl, _ := d.CreateCommandList(hal.CommandListTypeDirect, alloc, nil)
	assert.ErrorIs(t, q.ExecuteCommandLists(cl), hal.ErrInvalidState)
}

func TestWrongBarrierRemovesDevice(t *testing.T) {
	gpu := NewGPU(true)
	defer gpu.Close()
	f, d := newTestDevice(t, gpu)
	q, _ := d.CreateCommandQueue(hal.CommandQueueDesc{})
	sc, err := f.CreateSwapChainForSurface(q, &Window{width: 4, height: 4}, hal.SwapChainDesc{BufferCount: 2, Format: hal.FormatR8G8B8A8Unorm})
	require.NoError(t, err)
	img, _ := sc.Buffer(0)
	alloc, _ := d.CreateCommandAllocator(hal.CommandListTypeDirect)
	cl, _ := d.CreateCommandList(hal.CommandListTypeDirect, alloc, nil)
	// Swap chain images start presentable, not as render targets.
	cl.ResourceBarrier(hal.Transition(img, hal.ResourceStateRenderTarget, hal.ResourceStatePresent))
	require.NoError(t, cl.Close())
	require.NoError(t, q.ExecuteCommandLists(cl))
	gpu.Drain()

	assert.ErrorIs(t, d.Err(), hal.ErrDeviceRemoved)
	assert.ErrorIs(t, sc.Present(1), hal.ErrDeviceRemoved)
	assert.Empty(t, d.Barriers())
}

func TestBarrierToSameStateFailsClose(t *testing.T) {
	_, d := newTestDevice(t, nil)
	buf, _ := d.CreateCommittedResource(hal.BufferDesc{Size: 16, HeapType: hal.HeapTypeDefault, InitialState: hal.ResourceStateCopyDest})
	alloc, _ := d.CreateCommandAllocator(hal.CommandListTypeDirect)
	cl, _ := d.CreateCommandList(hal.CommandListTypeDirect, alloc, nil)
	cl.ResourceBarrier(hal.Transition(buf, hal.ResourceStateCopyDest, hal.ResourceStateCopyDest))
	assert.ErrorIs(t, cl.Close(), hal.ErrInvalidState)
}

func TestUploadAndDraw(t *testing.T) {
	gpu := NewGPU(false)
	defer gpu.Close()
	f, d := newTestDevice(t, gpu)
	q, _ := d.CreateCommandQueue(hal.CommandQueueDesc{})
	sc, err := f.CreateSwapChainForSurface(q, &Window{width: 64, height: 64}, hal.SwapChainDesc{BufferCount: 2, Format: hal.FormatR8G8B8A8Unorm})
	require.NoError(t, err)
	heap, _ := d.CreateDescriptorHeap(hal.DescriptorHeapDesc{NumDescriptors: 2})
	for i := 0; i < 2; i++ {
		img, _ := sc.Buffer(i)
		require.NoError(t, d.CreateRenderTargetView(img, heap, i))
	}
	rs, _ := d.CreateRootSignature(hal.RootSignatureDesc{AllowInputAssemblerInputLayout: true})
	pso, err := d.CreateGraphicsPipelineState(hal.GraphicsPipelineStateDesc{
		RootSignature: rs,
		VS:            testShader,
		PS:            testShader,
		InputLayout: []hal.InputElementDesc{
			{SemanticName: "POSITION", Format: hal.FormatR32G32Float},
			{SemanticName: "COLOR", Format: hal.FormatR32G32B32A32Float, ByteOffset: 8},
		},
		PrimitiveTopology: hal.PrimitiveTopologyTriangleList,
		RTVFormats:        []hal.Format{hal.FormatR8G8B8A8Unorm},
	})
	require.NoError(t, err)

	// A full-screen white triangle pair covering the left half.
	verts := [][6]float32{
		{-1, 1, 1, 1, 1, 1}, {0, 1, 1, 1, 1, 1}, {-1, -1, 1, 1, 1, 1},
		{0, 1, 1, 1, 1, 1}, {0, -1, 1, 1, 1, 1}, {-1, -1, 1, 1, 1, 1},
	}
	data := make([]byte, 0, len(verts)*24)
	for _, v := range verts {
		for _, c := range v {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(c))
		}
	}
	upload, _ := d.CreateCommittedResource(hal.BufferDesc{Size: len(data), HeapType: hal.HeapTypeUpload, InitialState: hal.ResourceStateGenericRead})
	mem, err := upload.Map()
	require.NoError(t, err)
	copy(mem, data)
	upload.Unmap()
	vb, _ := d.CreateCommittedResource(hal.BufferDesc{Size: len(data), HeapType: hal.HeapTypeDefault, InitialState: hal.ResourceStateCopyDest})
	_, err = vb.Map()
	assert.ErrorIs(t, err, hal.ErrInvalidState)

	alloc, _ := d.CreateCommandAllocator(hal.CommandListTypeDirect)
	cl, _ := d.CreateCommandList(hal.CommandListTypeDirect, alloc, pso)
	img, _ := sc.Buffer(0)
	cl.CopyBufferRegion(vb, 0, upload, 0, len(data))
	cl.ResourceBarrier(hal.Transition(vb, hal.ResourceStateCopyDest, hal.ResourceStateVertexAndConstantBuffer))
	cl.SetGraphicsRootSignature(rs)
	cl.RSSetViewports(hal.Viewport{Width: 64, Height: 64, MaxDepth: 1})
	cl.RSSetScissorRects(hal.Rect{Right: 64, Bottom: 64})
	cl.ResourceBarrier(hal.Transition(img, hal.ResourceStatePresent, hal.ResourceStateRenderTarget))
	cl.OMSetRenderTargets(heap, 0)
	cl.ClearRenderTargetView(heap, 0, [4]float32{0, 0, 0, 1})
	cl.IASetPrimitiveTopology(hal.PrimitiveTopologyTriangleList)
	cl.IASetVertexBuffers(0, hal.VertexBufferView{Buffer: vb, SizeInBytes: len(data), StrideInBytes: 24})
	cl.DrawInstanced(6, 1, 0, 0)
	cl.ResourceBarrier(hal.Transition(img, hal.ResourceStateRenderTarget, hal.ResourceStatePresent))
	require.NoError(t, cl.Close())
	require.NoError(t, q.ExecuteCommandLists(cl))
	require.NoError(t, sc.Present(1))
	assert.Equal(t, 1, sc.CurrentBackBufferIndex())
	gpu.Idle()

	require.NoError(t, d.Err())
	frame := Unwrap(f).SwapChain().LastFrame()
	require.NotNil(t, frame)
	assert.Equal(t, uint8(255), frame.RGBAAt(10, 32).R)
	assert.Equal(t, uint8(0), frame.RGBAAt(50, 32).R)
	assert.Equal(t, uint8(255), frame.RGBAAt(50, 32).A)
	assert.Equal(t, 1, d.Draws())
	assert.Equal(t, []int{0}, Unwrap(f).SwapChain().Presented())
}

func TestLiveObjects(t *testing.T) {
	_, d := newTestDevice(t, nil)
	heap, _ := d.CreateDescriptorHeap(hal.DescriptorHeapDesc{NumDescriptors: 1})
	fe, _ := d.CreateFence(0)
	assert.Equal(t, map[string]int{"device": 1, "descriptor-heap": 1, "fence": 1}, d.Live())
	heap.Release()
	heap.Release()
	fe.Release()
	d.Release()
	assert.Empty(t, d.Live())
}

func TestHeadlessWindowMessages(t *testing.T) {
	p := NewPlatform(2, Options{})
	var created bool
	w, err := p.CreateWindow(hal.WindowDesc{Width: 8, Height: 8}, func(m hal.Message) {
		created = m.Kind == hal.EventCreate && m.LParam == "param"
	}, "param")
	require.NoError(t, err)
	assert.True(t, created)

	_, ok := w.PeekMessage()
	assert.False(t, ok, "nothing is delivered before the window is shown")
	w.Show()
	var kinds []hal.EventKind
	for i := 0; i < 4; i++ {
		m, ok := w.PeekMessage()
		if !ok {
			break
		}
		kinds = append(kinds, m.Kind)
		if m.Kind == hal.EventDestroy {
			w.PostQuitMessage(3)
		}
	}
	assert.Equal(t, []hal.EventKind{hal.EventPaint, hal.EventPaint, hal.EventDestroy, hal.EventQuit}, kinds)
}
