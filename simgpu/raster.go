package simgpu

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"golang.org/x/image/vector"

	"github.com/andewx/hellotriangle/hal"
)

func toByte(c float32) uint8 {
	return uint8(math32.Floor(math32.Max(0, math32.Min(1, c))*255 + 0.5))
}

func fill(img *image.RGBA, c [4]float32) {
	px := color.RGBA{R: toByte(c[0]), G: toByte(c[1]), B: toByte(c[2]), A: toByte(c[3])}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, px)
		}
	}
}

// rasterVertex is a vertex after the viewport transform.
type rasterVertex struct {
	x, y  float32
	color [4]float32
}

func readFloats(data []byte, offset, n int) ([4]float32, error) {
	var out [4]float32
	if offset < 0 || offset+4*n > len(data) {
		return out, errors.Wrapf(hal.ErrInvalidState, "vertex fetch at %d past end of buffer", offset)
	}
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset+4*i:]))
	}
	return out, nil
}

// fetch reads vertex i and applies the viewport transform. Positions pass
// through the vertex stage unchanged.
func (st *execState) fetch(view hal.VertexBufferView, data []byte, i int) (rasterVertex, error) {
	base := i * view.StrideInBytes
	if base+view.StrideInBytes > view.SizeInBytes {
		return rasterVertex{}, errors.Wrapf(hal.ErrInvalidState, "vertex %d outside the bound view", i)
	}
	lay := st.pso.layout
	pos, err := readFloats(data, base+lay.position.ByteOffset, lay.position.Format.Size()/4)
	if err != nil {
		return rasterVertex{}, err
	}
	col := [4]float32{1, 1, 1, 1}
	if lay.color != nil {
		if col, err = readFloats(data, base+lay.color.ByteOffset, 4); err != nil {
			return rasterVertex{}, err
		}
	}
	vp := st.viewport
	return rasterVertex{
		x:     vp.TopLeftX + (pos[0]+1)*vp.Width/2,
		y:     vp.TopLeftY + (1-pos[1])*vp.Height/2,
		color: col,
	}, nil
}

func (st *execState) draw(vertexCount, instanceCount, startVertex uint32) error {
	switch {
	case st.pso == nil:
		return errors.Wrap(hal.ErrInvalidState, "draw without a pipeline")
	case st.rootSig == nil:
		return errors.Wrap(hal.ErrInvalidState, "draw without a root signature")
	case st.rt == nil:
		return errors.Wrap(hal.ErrInvalidState, "draw without a render target")
	case st.viewport == nil:
		return errors.Wrap(hal.ErrInvalidState, "draw without a viewport")
	case st.scissor == nil:
		return errors.Wrap(hal.ErrInvalidState, "draw without a scissor rect")
	case st.topology != hal.PrimitiveTopologyTriangleList:
		return errors.Wrap(hal.ErrInvalidState, "draw with a non-triangle topology")
	}
	if st.rt.state != hal.ResourceStateRenderTarget {
		return errors.Wrapf(hal.ErrInvalidState, "draw into %s in state %s", st.rt.name, st.rt.state)
	}
	view, ok := st.vbs[st.pso.layout.position.InputSlot]
	if !ok {
		return errors.Wrap(hal.ErrInvalidState, "draw without a vertex buffer")
	}
	vb, ok := view.Buffer.(*buffer)
	if !ok {
		return errors.Wrap(hal.ErrInvalidState, "vertex buffer is not a simulated buffer")
	}
	if vb.state != hal.ResourceStateVertexAndConstantBuffer && vb.state != hal.ResourceStateGenericRead {
		return errors.Wrapf(hal.ErrInvalidState, "vertex fetch from %s in state %s", vb.name, vb.state)
	}

	clip := st.rt.img.Bounds().Intersect(image.Rect(st.scissor.Left, st.scissor.Top, st.scissor.Right, st.scissor.Bottom))
	for inst := uint32(0); inst < instanceCount; inst++ {
		for v := uint32(0); v+3 <= vertexCount; v += 3 {
			var tri [3]rasterVertex
			for k := range tri {
				rv, err := st.fetch(view, vb.data, int(startVertex+v)+k)
				if err != nil {
					return err
				}
				tri[k] = rv
			}
			if cullTriangle(st.pso.desc.Rasterizer.CullMode, tri) {
				continue
			}
			drawTriangle(st.rt.img, clip, tri)
		}
	}
	st.dev.mu.Lock()
	st.dev.draws++
	st.dev.mu.Unlock()
	return nil
}

// edge is twice the signed area of (a, b, p), in pixel space where y grows
// down.
func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

// cullTriangle reports whether tri is discarded. Clockwise on screen is the
// front face.
func cullTriangle(mode hal.CullMode, tri [3]rasterVertex) bool {
	area := edge(tri[0].x, tri[0].y, tri[1].x, tri[1].y, tri[2].x, tri[2].y)
	front := area > 0
	switch mode {
	case hal.CullModeBack:
		return !front
	case hal.CullModeFront:
		return front
	}
	return false
}

// drawTriangle covers the triangle with an anti-aliased mask and shades each
// covered pixel with barycentric interpolated vertex colors.
func drawTriangle(dst *image.RGBA, clip image.Rectangle, tri [3]rasterVertex) {
	area := edge(tri[0].x, tri[0].y, tri[1].x, tri[1].y, tri[2].x, tri[2].y)
	if area == 0 || clip.Empty() {
		return
	}
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.MoveTo(tri[0].x-float32(b.Min.X), tri[0].y-float32(b.Min.Y))
	z.LineTo(tri[1].x-float32(b.Min.X), tri[1].y-float32(b.Min.Y))
	z.LineTo(tri[2].x-float32(b.Min.X), tri[2].y-float32(b.Min.Y))
	z.ClosePath()
	mask := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		for x := clip.Min.X; x < clip.Max.X; x++ {
			cov := mask.AlphaAt(x-b.Min.X, y-b.Min.Y).A
			if cov == 0 {
				continue
			}
			px, py := float32(x)+0.5, float32(y)+0.5
			w0 := clamp01(edge(tri[1].x, tri[1].y, tri[2].x, tri[2].y, px, py) / area)
			w1 := clamp01(edge(tri[2].x, tri[2].y, tri[0].x, tri[0].y, px, py) / area)
			w2 := clamp01(1 - w0 - w1)
			a := float32(cov) / 255
			old := dst.RGBAAt(x, y)
			var out [4]uint8
			prev := [4]uint8{old.R, old.G, old.B, old.A}
			for c := 0; c < 4; c++ {
				s := w0*tri[0].color[c] + w1*tri[1].color[c] + w2*tri[2].color[c]
				out[c] = toByte(s*a + float32(prev[c])/255*(1-a))
			}
			dst.SetRGBA(x, y, color.RGBA{R: out[0], G: out[1], B: out[2], A: out[3]})
		}
	}
}

func clamp01(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}
