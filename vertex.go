package hellotriangle

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"

	"github.com/andewx/hellotriangle/hal"
)

// Vertex is one element of the vertex buffer.
type Vertex struct {
	Position [3]float32
	Color    [4]float32
}

// VertexStride is the byte size of an encoded Vertex.
const VertexStride = 7 * 4

// InputLayout describes Vertex to the input assembler.
var InputLayout = []hal.InputElementDesc{
	{SemanticName: "POSITION", Format: hal.FormatR32G32B32Float, InputSlot: 0, ByteOffset: 0},
	{SemanticName: "COLOR", Format: hal.FormatR32G32B32A32Float, InputSlot: 0, ByteOffset: 12},
}

// TriangleVertices returns the sample triangle for a viewport of the given
// aspect ratio: red on top, green bottom right, blue bottom left.
func TriangleVertices(aspect float32) []Vertex {
	h := 0.25 * aspect
	return []Vertex{
		{Position: [3]float32{0, h, 0}, Color: [4]float32{1, 0, 0, 1}},
		{Position: [3]float32{0.25, -h, 0}, Color: [4]float32{0, 1, 0, 1}},
		{Position: [3]float32{-0.25, -h, 0}, Color: [4]float32{0, 0, 1, 1}},
	}
}

// EncodeVertices packs vertices little endian, VertexStride bytes each.
func EncodeVertices(vs []Vertex) []byte {
	out := make([]byte, 0, len(vs)*VertexStride)
	for _, v := range vs {
		for _, f := range v.Position {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
		for _, f := range v.Color {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
	}
	return out
}

// NDCToPixel maps a normalized device coordinate to the pixel holding it in
// a width x height target with y growing down. It locates the triangle in
// snapshots and rendered frames.
func NDCToPixel(x, y float32, width, height int) (px, py int) {
	fx := (x + 1) * float32(width) / 2
	fy := (1 - y) * float32(height) / 2
	return int(math32.Floor(fx)), int(math32.Floor(fy))
}
