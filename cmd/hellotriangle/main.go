// Command hellotriangle opens a window and renders one static triangle
// through the Vulkan backend, or headless through the simulated GPU.
package main

import (
	"image"
	"image/png"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/andewx/hellotriangle"
	"github.com/andewx/hellotriangle/hal"
	"github.com/andewx/hellotriangle/simgpu"
	"github.com/andewx/hellotriangle/vkhal"
)

func init() {
	// GLFW and the message loop must stay on the main thread.
	runtime.LockOSThread()
}

type options struct {
	config   string
	backend  string
	highPerf bool
	debug    bool
	logLevel string
	frames   int
	snapshot string
}

func main() {
	var (
		opts options
		code byte
	)
	cmd := &cobra.Command{
		Use:           "hellotriangle",
		Short:         "Render a single triangle",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			code, err = run(cfg, opts)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.config, "config", "", "TOML or YAML config file")
	flags.StringVar(&opts.backend, "backend", hellotriangle.BackendVulkan, "vulkan or sim")
	flags.BoolVar(&opts.highPerf, "high-performance", false, "prefer the high-performance adapter")
	flags.BoolVar(&opts.debug, "debug", false, "enable validation layers")
	flags.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.IntVar(&opts.frames, "frames", 3, "paints before the window closes (sim backend)")
	flags.StringVar(&opts.snapshot, "snapshot", "", "write the last presented frame as PNG (sim backend)")

	hellotriangle.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := cmd.Execute(); err != nil {
		hellotriangle.Logger().Error("hellotriangle failed", "err", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(int(code))
}

// resolveConfig layers defaults, the config file and explicitly set flags,
// then fixes the base path and installs the logger.
func resolveConfig(cmd *cobra.Command, opts options) (hellotriangle.Config, error) {
	cfg := hellotriangle.DefaultConfig()
	if opts.config != "" {
		var err error
		if cfg, err = hellotriangle.LoadConfig(opts.config); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = opts.backend
	}
	if flags.Changed("high-performance") {
		cfg.HighPerformanceAdapter = opts.highPerf
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	base, err := hellotriangle.ResolveBasePath()
	if err != nil {
		return cfg, err
	}
	cfg.BasePath = base
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid config")
	}
	if opts.snapshot != "" && cfg.Backend != hellotriangle.BackendSim {
		return cfg, errors.New("--snapshot needs --backend sim")
	}

	level, _ := cfg.Level()
	hellotriangle.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

// run renders on the configured backend. An initialization failure is
// logged and reported as exit code 0, the way the window loop would.
func run(cfg hellotriangle.Config, opts options) (byte, error) {
	var (
		platform hal.Platform
		mu       sync.Mutex
		last     *image.RGBA
	)
	switch cfg.Backend {
	case hellotriangle.BackendSim:
		platform = simgpu.NewPlatform(opts.frames, simgpu.Options{
			OnPresent: func(_ int, img *image.RGBA) {
				mu.Lock()
				last = img
				mu.Unlock()
			},
		})
	default:
		p, err := vkhal.NewPlatform(vkhal.PlatformOptions{Visible: true})
		if err != nil {
			return 1, err
		}
		platform = p
	}
	defer platform.Release()

	code, err := hellotriangle.Run(cfg, platform)
	if err != nil {
		hellotriangle.Logger().Error("initialization failed", "err", err)
		return code, nil
	}
	if opts.snapshot != "" {
		mu.Lock()
		frame := last
		mu.Unlock()
		if err := writePNG(opts.snapshot, frame); err != nil {
			return code, err
		}
	}
	return code, nil
}

func writePNG(path string, img *image.RGBA) error {
	if img == nil {
		return errors.New("no frame was presented")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrap(err, "encode snapshot")
	}
	return errors.Wrap(f.Close(), "close snapshot")
}
