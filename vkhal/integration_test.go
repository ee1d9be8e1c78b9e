//go:build vulkan

package vkhal_test

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/hellotriangle"
	"github.com/andewx/hellotriangle/vkhal"
)

func init() {
	runtime.LockOSThread()
}

// Needs a Vulkan driver and a display.
func TestRunRendersFrames(t *testing.T) {
	p, err := vkhal.NewPlatform(vkhal.PlatformOptions{Frames: 5})
	if err != nil {
		t.Skipf("no vulkan platform: %v", err)
	}
	defer p.Release()

	base, err := filepath.Abs("..")
	require.NoError(t, err)
	cfg := hellotriangle.DefaultConfig()
	cfg.BasePath = base
	cfg.Width, cfg.Height = 320, 240
	cfg.Debug = true

	code, err := hellotriangle.Run(cfg, p)
	require.NoError(t, err)
	assert.Equal(t, byte(0), code)
}
