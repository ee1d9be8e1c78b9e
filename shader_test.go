package hellotriangle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spirvMagic = 0x07230203

func TestLoadShaders(t *testing.T) {
	vs, ps, err := LoadShaders(testConfig())
	require.NoError(t, err)
	require.NotEmpty(t, vs.Code)
	assert.Equal(t, uint32(spirvMagic), vs.Code[0])
	assert.Equal(t, VertexEntryPoint, vs.EntryPoint)
	assert.Equal(t, FragmentEntryPoint, ps.EntryPoint)
	assert.Equal(t, vs.Code, ps.Code, "both stages come from one module")
}

func TestLoadShadersMissingFile(t *testing.T) {
	cfg := testConfig()
	cfg.BasePath = t.TempDir()
	_, _, err := LoadShaders(cfg)
	assert.Error(t, err)
}

func TestCompileShaderRejectsInvalidSource(t *testing.T) {
	_, err := CompileShader("fn vs_main( -> {")
	assert.Error(t, err)
}
