package hellotriangle

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	BackendVulkan = "vulkan"
	BackendSim    = "sim"
)

// Config holds everything the controller reads. BasePath is set once at
// process start and is never read from a file.
type Config struct {
	BasePath string `toml:"-" yaml:"-"`

	Title                  string     `toml:"title" yaml:"title"`
	Width                  int        `toml:"width" yaml:"width"`
	Height                 int        `toml:"height" yaml:"height"`
	ShaderFile             string     `toml:"shader_file" yaml:"shader_file"`
	HighPerformanceAdapter bool       `toml:"high_performance_adapter" yaml:"high_performance_adapter"`
	ClearColor             [4]float32 `toml:"clear_color" yaml:"clear_color"`
	SyncInterval           int        `toml:"sync_interval" yaml:"sync_interval"`
	Debug                  bool       `toml:"debug" yaml:"debug"`
	LogLevel               string     `toml:"log_level" yaml:"log_level"`
	Backend                string     `toml:"backend" yaml:"backend"`
}

// DefaultConfig returns the settings of the stock sample.
func DefaultConfig() Config {
	return Config{
		Title:        "Vulkan Hello Triangle",
		Width:        1280,
		Height:       720,
		ShaderFile:   filepath.Join("shaders", "shaders.wgsl"),
		ClearColor:   [4]float32{0, 0.2, 0.4, 1},
		SyncInterval: 1,
		LogLevel:     "info",
		Backend:      BackendVulkan,
	}
}

// ResolveBasePath returns the directory holding the running executable.
func ResolveBasePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(err, "locate executable")
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// LoadConfig reads a TOML or YAML file over the defaults. The format is
// picked by extension.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return cfg, errors.Errorf("config %s: unknown extension %q", path, ext)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// AssetPath returns name resolved against BasePath.
func (c Config) AssetPath(name string) string {
	return filepath.Join(c.BasePath, name)
}

// Aspect is width over height.
func (c Config) Aspect() float32 {
	return float32(c.Width) / float32(c.Height)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return l, nil
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("window size %dx%d must be positive", c.Width, c.Height)
	}
	for i, v := range c.ClearColor {
		if v < 0 || v > 1 {
			return errors.Errorf("clear color component %d is %v, want [0,1]", i, v)
		}
	}
	if c.SyncInterval < 0 || c.SyncInterval > 4 {
		return errors.Errorf("sync interval %d, want [0,4]", c.SyncInterval)
	}
	if c.ShaderFile == "" {
		return errors.New("shader file is empty")
	}
	if c.Backend != BackendVulkan && c.Backend != BackendSim {
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}
