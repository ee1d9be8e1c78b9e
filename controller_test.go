package hellotriangle

import (
	"image/color"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/hellotriangle/hal"
	"github.com/andewx/hellotriangle/simgpu"
)

// oneIntegratedAdapter is a machine with a software rasterizer and a single
// non-discrete hardware adapter.
var oneIntegratedAdapter = []simgpu.AdapterSpec{
	{Description: "software", Software: true, MaxLevel: hal.FeatureLevel12_1},
	{Description: "integrated", MaxLevel: hal.FeatureLevel12_0},
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BasePath = "."
	cfg.Backend = BackendSim
	return cfg
}

// initController creates a window on p and initializes a controller in it.
func initController(t *testing.T, cfg Config, p *simgpu.Platform) *Controller {
	t.Helper()
	c := NewController(cfg, p)
	proc := NewWindowProc()
	w, err := p.CreateWindow(hal.WindowDesc{Title: cfg.Title, Width: cfg.Width, Height: cfg.Height}, proc.Dispatch, c)
	require.NoError(t, err)
	require.NoError(t, c.OnInit(w))
	t.Cleanup(c.OnDestroy)
	return c
}

func near(t *testing.T, want, got color.RGBA, tol int, msgAndArgs ...any) {
	t.Helper()
	d := func(a, b uint8) int {
		if a > b {
			return int(a - b)
		}
		return int(b - a)
	}
	if d(want.R, got.R) > tol || d(want.G, got.G) > tol || d(want.B, got.B) > tol || d(want.A, got.A) > tol {
		assert.Fail(t, "color mismatch", append([]any{"want %v, got %v", want, got}, msgAndArgs...)...)
	}
}

func TestRunRendersTriangle(t *testing.T) {
	cfg := testConfig()
	p := simgpu.NewPlatform(2, simgpu.Options{Adapters: oneIntegratedAdapter})

	code, err := Run(cfg, p)
	require.NoError(t, err)
	assert.Equal(t, byte(0), code)
	assert.True(t, p.Window().Shown())
	assert.Equal(t, 2, p.Window().Paints())

	dev := p.Factory().Device()
	require.NoError(t, dev.Err())
	assert.Equal(t, 2, dev.Draws())
	assert.Empty(t, dev.Live(), "everything is released after destroy")

	frame := p.Factory().SwapChain().LastFrame()
	require.NotNil(t, frame)
	assert.Equal(t, 1280, frame.Bounds().Dx())
	assert.Equal(t, 720, frame.Bounds().Dy())

	clearColor := color.RGBA{R: 0, G: 51, B: 102, A: 255}
	assert.Equal(t, clearColor, frame.RGBAAt(0, 0))
	assert.Equal(t, clearColor, frame.RGBAAt(1279, 719))
	assert.Equal(t, clearColor, frame.RGBAAt(640, 600), "below the triangle")

	aspect := cfg.Aspect()
	verts := TriangleVertices(aspect)
	var cx, cy float32
	for _, v := range verts {
		cx += v.Position[0] / 3
		cy += v.Position[1] / 3
	}
	px, py := NDCToPixel(cx, cy, cfg.Width, cfg.Height)
	near(t, color.RGBA{R: 85, G: 85, B: 85, A: 255}, frame.RGBAAt(px, py), 3, "centroid")

	// Sample each vertex a tenth of the way toward the centroid, where
	// its own color dominates the interpolation.
	sample := func(v Vertex) color.RGBA {
		vx, vy := NDCToPixel(v.Position[0], v.Position[1], cfg.Width, cfg.Height)
		return frame.RGBAAt(vx+(px-vx)/10, vy+(py-vy)/10)
	}

	top := sample(verts[0])
	assert.Greater(t, top.R, uint8(200), "top vertex is red")
	assert.Less(t, top.G, uint8(40))
	assert.Less(t, top.B, uint8(40))

	right := sample(verts[1])
	assert.Greater(t, right.G, uint8(200), "bottom right vertex is green")
	assert.Less(t, right.R, uint8(40))
	assert.Less(t, right.B, uint8(40))

	left := sample(verts[2])
	assert.Greater(t, left.B, uint8(200), "bottom left vertex is blue")
	assert.Less(t, left.R, uint8(40))
	assert.Less(t, left.G, uint8(40))

	// Just outside each bottom vertex is background.
	rx, ry := NDCToPixel(verts[1].Position[0], verts[1].Position[1], cfg.Width, cfg.Height)
	assert.Equal(t, clearColor, frame.RGBAAt(rx+20, ry))
	lx, ly := NDCToPixel(verts[2].Position[0], verts[2].Position[1], cfg.Width, cfg.Height)
	assert.Equal(t, clearColor, frame.RGBAAt(lx-20, ly))
}

func TestControllerAccessorsFollowLifecycle(t *testing.T) {
	p := simgpu.NewPlatform(0, simgpu.Options{})
	cfg := testConfig()
	c := NewController(cfg, p)
	assert.False(t, c.Initialized())
	assert.Nil(t, c.Adapter())
	assert.Nil(t, c.SwapChain())

	proc := NewWindowProc()
	w, err := p.CreateWindow(hal.WindowDesc{Title: cfg.Title, Width: cfg.Width, Height: cfg.Height}, proc.Dispatch, c)
	require.NoError(t, err)
	require.NoError(t, c.OnInit(w))
	assert.True(t, c.Initialized())
	assert.NotNil(t, c.Adapter())
	assert.NotNil(t, c.SwapChain())
	assert.Equal(t, cfg, c.Config())

	c.OnDestroy()
	assert.False(t, c.Initialized())
	assert.Equal(t, cfg, c.Config(), "config survives destroy")
}

func TestAdapterSelectionOnIntegratedMachine(t *testing.T) {
	p := simgpu.NewPlatform(0, simgpu.Options{Adapters: oneIntegratedAdapter})
	cfg := testConfig()
	cfg.HighPerformanceAdapter = true
	c := initController(t, cfg, p)
	assert.Equal(t, "integrated", c.Adapter().Desc().Description)
	assert.Equal(t, []string{"integrated"}, p.Factory().Probes(), "software adapters are never probed")
}

func TestFenceCounterTracksFrames(t *testing.T) {
	p := simgpu.NewPlatform(0, simgpu.Options{})
	c := initController(t, testConfig(), p)
	assert.Equal(t, uint64(1), c.FenceValue())

	for n := uint64(1); n <= 5; n++ {
		require.NoError(t, c.OnRender())
		assert.Equal(t, n+1, c.FenceValue())
		assert.GreaterOrEqual(t, c.CompletedFenceValue(), n)
		assert.GreaterOrEqual(t, c.FrameIndex(), 0)
		assert.Less(t, c.FrameIndex(), FrameCount)
		assert.Equal(t, c.SwapChain().CurrentBackBufferIndex(), c.FrameIndex())
	}
	assert.Equal(t, uint64(5), c.Frames())
	assert.Equal(t, []int{0, 1, 0, 1, 0}, p.Factory().SwapChain().Presented())
}

func TestBufferTransitionsAlternate(t *testing.T) {
	p := simgpu.NewPlatform(0, simgpu.Options{})
	c := initController(t, testConfig(), p)
	for i := 0; i < 4; i++ {
		require.NoError(t, c.OnRender())
	}

	bs := p.Factory().Device().Barriers()
	require.NotEmpty(t, bs)
	assert.Equal(t, hal.ResourceStateCopyDest, bs[0].Before, "vertex upload comes first")
	assert.Equal(t, hal.ResourceStateVertexAndConstantBuffer, bs[0].After)

	perImage := map[string][]hal.ResourceState{}
	var order []string
	for _, b := range bs[1:] {
		if _, ok := perImage[b.Resource]; !ok {
			order = append(order, b.Resource)
			perImage[b.Resource] = []hal.ResourceState{b.Before}
		}
		seq := perImage[b.Resource]
		require.Equal(t, seq[len(seq)-1], b.Before, "barrier on %s does not start from its current state", b.Resource)
		perImage[b.Resource] = append(seq, b.After)
	}
	require.Len(t, order, FrameCount)
	want := []hal.ResourceState{
		hal.ResourceStatePresent, hal.ResourceStateRenderTarget, hal.ResourceStatePresent,
		hal.ResourceStateRenderTarget, hal.ResourceStatePresent,
	}
	for _, name := range order {
		if diff := cmp.Diff(want, perImage[name]); diff != "" {
			t.Errorf("%s transitions (-want +got):\n%s", name, diff)
		}
	}
}

func TestWaitForPreviousFrameBlocksUntilGPU(t *testing.T) {
	gpu := simgpu.NewGPU(false)
	t.Cleanup(gpu.Close)
	p := simgpu.NewPlatform(0, simgpu.Options{GPU: gpu})
	c := initController(t, testConfig(), p)

	gpu.Pause()
	captured := c.FenceValue()
	go func() {
		time.Sleep(20 * time.Millisecond)
		gpu.Resume()
	}()
	require.NoError(t, c.WaitForPreviousFrame())
	assert.GreaterOrEqual(t, c.CompletedFenceValue(), captured)
	assert.Equal(t, captured+1, c.FenceValue())
}

func TestWaitForPreviousFrameCompletesBeforeRegistration(t *testing.T) {
	// The GPU never runs on its own. Work only completes when a wait is
	// being registered, after the completion check has already failed.
	gpu := simgpu.NewGPU(true)
	t.Cleanup(gpu.Close)
	var registrations int
	p := simgpu.NewPlatform(0, simgpu.Options{
		GPU: gpu,
		BeforeFenceWait: func(uint64) {
			registrations++
			gpu.Drain()
		},
	})
	c := initController(t, testConfig(), p)
	before := registrations

	done := make(chan error, 1)
	go func() { done <- c.OnRender() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after the GPU completed early")
	}
	assert.Equal(t, before+1, registrations)
	assert.Equal(t, uint64(1), c.CompletedFenceValue())
	assert.Equal(t, uint64(2), c.FenceValue())
	assert.Zero(t, gpu.Pending())
}

func TestAllocatorResetWhileFrameInFlight(t *testing.T) {
	gpu := simgpu.NewGPU(false)
	t.Cleanup(gpu.Close)
	p := simgpu.NewPlatform(0, simgpu.Options{GPU: gpu})
	c := initController(t, testConfig(), p)

	gpu.Pause()
	require.NoError(t, c.PopulateCommandList())
	require.NoError(t, c.queue.ExecuteCommandLists(c.commandList))
	err := c.PopulateCommandList()
	assert.ErrorIs(t, err, hal.ErrAllocatorInUse)

	gpu.Resume()
	require.NoError(t, c.WaitForPreviousFrame())
	assert.NoError(t, c.PopulateCommandList())
	require.NoError(t, c.queue.ExecuteCommandLists(c.commandList))
	require.NoError(t, c.WaitForPreviousFrame())
}

func TestInitFailureReleasesEverything(t *testing.T) {
	cfg := testConfig()
	cfg.ShaderFile = "shaders/missing.wgsl"
	p := simgpu.NewPlatform(1, simgpu.Options{})

	code, err := Run(cfg, p)
	require.Error(t, err)
	assert.Equal(t, byte(0), code)
	assert.False(t, p.Window().Shown())

	dev := p.Factory().Device()
	require.NotNil(t, dev)
	assert.Empty(t, dev.Live())
}

func TestNoHardwareAdapter(t *testing.T) {
	p := simgpu.NewPlatform(1, simgpu.Options{Adapters: []simgpu.AdapterSpec{
		{Description: "software", Software: true, MaxLevel: hal.FeatureLevel12_1},
	}})
	code, err := Run(testConfig(), p)
	assert.ErrorIs(t, err, ErrNoHardwareAdapter)
	assert.Equal(t, byte(0), code)
	assert.Nil(t, p.Factory().Device())
}

func TestOnRenderBeforeInit(t *testing.T) {
	c := NewController(testConfig(), simgpu.NewPlatform(0, simgpu.Options{}))
	assert.ErrorIs(t, c.OnRender(), ErrNotInitialized)
	assert.ErrorIs(t, c.WaitForPreviousFrame(), ErrNotInitialized)
	c.OnDestroy()
}
