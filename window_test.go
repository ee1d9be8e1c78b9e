package hellotriangle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/hellotriangle/hal"
	"github.com/andewx/hellotriangle/simgpu"
)

type countingRenderer struct {
	updates, renders int
}

func (r *countingRenderer) OnUpdate()       { r.updates++ }
func (r *countingRenderer) OnRender() error { r.renders++; return nil }

func TestWindowProcCreateAndPaint(t *testing.T) {
	p := simgpu.NewPlatform(3, simgpu.Options{})
	proc := NewWindowProc()
	r := &countingRenderer{}
	w, err := p.CreateWindow(hal.WindowDesc{Width: 4, Height: 4}, proc.Dispatch, r)
	require.NoError(t, err)
	assert.Same(t, r, w.UserData())

	w.Show()
	code := RunMessageLoop(w, proc)
	assert.Equal(t, byte(0), code)
	assert.Equal(t, 3, r.updates)
	assert.Equal(t, 3, r.renders)
}

func TestPaintWithoutRendererIsIgnored(t *testing.T) {
	p := simgpu.NewPlatform(1, simgpu.Options{})
	proc := NewWindowProc()
	w, err := p.CreateWindow(hal.WindowDesc{Width: 4, Height: 4}, proc.Dispatch, nil)
	require.NoError(t, err)
	w.Show()
	assert.NotPanics(t, func() { RunMessageLoop(w, proc) })
}

func TestRunMessageLoopExitCodeIsLowByte(t *testing.T) {
	p := simgpu.NewPlatform(0, simgpu.Options{})
	proc := NewWindowProc()
	proc[hal.EventDestroy] = func(msg hal.Message) { msg.Window.PostQuitMessage(300) }
	w, err := p.CreateWindow(hal.WindowDesc{Width: 4, Height: 4}, proc.Dispatch, nil)
	require.NoError(t, err)
	w.Show()
	assert.Equal(t, byte(300&0xff), RunMessageLoop(w, proc))
}

func TestUnhandledKindsGoToDefault(t *testing.T) {
	proc := WindowProc{}
	assert.NotPanics(t, func() {
		proc.Dispatch(hal.Message{Kind: hal.EventPaint})
		proc.Dispatch(hal.Message{Kind: hal.EventNone})
	})
}

func TestSetLoggerNil(t *testing.T) {
	SetLogger(nil)
	assert.NotNil(t, Logger())
}
