package hellotriangle

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriangleVertices(t *testing.T) {
	aspect := float32(16) / 9
	vs := TriangleVertices(aspect)
	require.Len(t, vs, 3)
	assert.Equal(t, [3]float32{0, 0.25 * aspect, 0}, vs[0].Position)
	assert.Equal(t, [3]float32{0.25, -0.25 * aspect, 0}, vs[1].Position)
	assert.Equal(t, [3]float32{-0.25, -0.25 * aspect, 0}, vs[2].Position)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, vs[0].Color)
	assert.Equal(t, [4]float32{0, 1, 0, 1}, vs[1].Color)
	assert.Equal(t, [4]float32{0, 0, 1, 1}, vs[2].Color)
}

func TestEncodeVertices(t *testing.T) {
	vs := TriangleVertices(2)
	data := EncodeVertices(vs)
	require.Len(t, data, 3*VertexStride)
	assert.Equal(t, 84, len(data))

	at := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(data[off:])) }
	assert.Equal(t, float32(0.5), at(4), "second vertex of the first position")
	assert.Equal(t, float32(1), at(12), "red channel follows the position")
	assert.Equal(t, float32(0.25), at(VertexStride))
	assert.Equal(t, float32(1), at(2*VertexStride+12+8), "blue channel of the last vertex")

	// The input layout agrees with the encoding.
	assert.Equal(t, 0, InputLayout[0].ByteOffset)
	assert.Equal(t, InputLayout[0].Format.Size(), InputLayout[1].ByteOffset)
	assert.Equal(t, VertexStride, InputLayout[1].ByteOffset+InputLayout[1].Format.Size())
}

func TestNDCToPixel(t *testing.T) {
	x, y := NDCToPixel(-1, 1, 1280, 720)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
	x, y = NDCToPixel(0, 0, 1280, 720)
	assert.Equal(t, 640, x)
	assert.Equal(t, 360, y)
}
