package hellotriangle

import (
	"os"

	"github.com/gogpu/naga"
	"github.com/pkg/errors"

	"github.com/andewx/hellotriangle/hal"
)

const (
	VertexEntryPoint   = "vs_main"
	FragmentEntryPoint = "fs_main"
)

// CompileShader compiles WGSL source to SPIR-V words.
func CompileShader(src string) ([]uint32, error) {
	spirv, err := naga.Compile(src)
	if err != nil {
		return nil, errors.Wrap(err, "compile shader")
	}
	if len(spirv)%4 != 0 {
		return nil, errors.Errorf("compile shader: %d bytes is not a whole number of words", len(spirv))
	}
	// SPIR-V words are little endian.
	code := make([]uint32, len(spirv)/4)
	for i := range code {
		code[i] = uint32(spirv[i*4]) |
			uint32(spirv[i*4+1])<<8 |
			uint32(spirv[i*4+2])<<16 |
			uint32(spirv[i*4+3])<<24
	}
	return code, nil
}

// LoadShaders reads cfg.ShaderFile under cfg.BasePath and returns the
// vertex and pixel stages. Both share one module.
func LoadShaders(cfg Config) (vs, ps hal.ShaderBytecode, err error) {
	path := cfg.AssetPath(cfg.ShaderFile)
	src, err := os.ReadFile(path)
	if err != nil {
		return vs, ps, errors.Wrap(err, "read shader")
	}
	code, err := CompileShader(string(src))
	if err != nil {
		return vs, ps, errors.Wrap(err, path)
	}
	Logger().Debug("shader compiled", "path", path, "words", len(code))
	return hal.ShaderBytecode{Code: code, EntryPoint: VertexEntryPoint},
		hal.ShaderBytecode{Code: code, EntryPoint: FragmentEntryPoint}, nil
}
