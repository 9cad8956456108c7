package gpuflow

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
)

// Read returns a snapshot of buf once the work writing it has completed.
// fence must belong to the latest submission using buf, or to a later one,
// and a successful Wait must have been observed on both fence and that
// submission's fence. Otherwise Read fails with ErrPrematureRead. buf must
// be host visible.
func Read(buf *Buffer, fence *Fence) (View, error) {
	if buf == nil {
		return View{}, invalidf("read of nil buffer")
	}
	if err := buf.check(); err != nil {
		return View{}, err
	}
	if !buf.hostVisible {
		return View{}, invalidf("read of device-local buffer %q", buf.label)
	}
	if fence == nil {
		return View{}, fmt.Errorf("%w: no fence for buffer %q", ErrPrematureRead, buf.label)
	}
	if fence.dc != buf.dc {
		return View{}, invalidf("fence %d belongs to another device", fence.id)
	}

	switch fence.State() {
	case FenceLost:
		return View{}, fence.err
	case FencePending:
		return View{}, fmt.Errorf("%w: fence %d pending", ErrPrematureRead, fence.id)
	}
	switch {
	case !fence.Observed():
		return View{}, fmt.Errorf("%w: fence %d signaled but not waited on", ErrPrematureRead, fence.id)
	case buf.Busy():
		return View{}, fmt.Errorf("%w: buffer %q used by a pending submission", ErrPrematureRead, buf.label)
	}
	if last := buf.lastUse.Load(); last != nil {
		switch {
		case fence.id < last.id:
			return View{}, fmt.Errorf("%w: buffer %q last used by fence %d, not %d",
				ErrPrematureRead, buf.label, last.id, fence.id)
		case !last.Observed():
			return View{}, fmt.Errorf("%w: buffer %q last used by fence %d, which was not waited on",
				ErrPrematureRead, buf.label, last.id)
		}
	}

	data := make([]byte, buf.size)
	if err := buf.raw.Read(0, data); err != nil {
		err = mapDriverErr(err, ErrInvalidOperation)
		buf.dc.noteLost(err)
		return View{}, err
	}
	return View{data: data}, nil
}

// View is a read-only snapshot of buffer contents. Multi-byte values are
// little-endian. Indexed accessors panic when out of range, like slice
// indexing.
type View struct {
	data []byte
}

// Len returns the size in bytes.
func (v View) Len() int { return len(v.data) }

// Bytes returns a copy of the contents.
func (v View) Bytes() []byte { return append([]byte(nil), v.data...) }

// Uint32 returns the i-th 32-bit unsigned integer.
func (v View) Uint32(i int) uint32 {
	return binary.LittleEndian.Uint32(v.data[i*4:])
}

// Float32 returns the i-th 32-bit float.
func (v View) Float32(i int) float32 {
	return math.Float32frombits(v.Uint32(i))
}

// Uint32s decodes the contents as 32-bit unsigned integers. Trailing
// bytes are ignored.
func (v View) Uint32s() []uint32 {
	out := make([]uint32, len(v.data)/4)
	for i := range out {
		out[i] = v.Uint32(i)
	}
	return out
}

// Float32s decodes the contents as 32-bit floats.
func (v View) Float32s() []float32 {
	out := make([]float32, len(v.data)/4)
	for i := range out {
		out[i] = v.Float32(i)
	}
	return out
}

// Pixels interprets the contents as a tightly packed width x height image
// of the given format.
func (v View) Pixels(width, height int, format Format) (PixelView, error) {
	bpp := format.BytesPerPixel()
	switch {
	case bpp == 0:
		return PixelView{}, invalidf("pixels of unknown format %v", format)
	case width <= 0 || height <= 0:
		return PixelView{}, invalidf("pixels of size %dx%d", width, height)
	case width*height*bpp != len(v.data):
		return PixelView{}, invalidf("%dx%d %v pixels need %d bytes, view has %d",
			width, height, format, width*height*bpp, len(v.data))
	}
	return PixelView{Width: width, Height: height, Stride: width * bpp, Format: format, data: v.data}, nil
}

// PixelView is a View read as an image. Rows are contiguous and Stride
// bytes apart.
type PixelView struct {
	Width, Height int
	Stride        int
	Format        Format

	data []byte
}

// At returns the texel at (x, y).
func (p PixelView) At(x, y int) Color {
	bpp := p.Format.BytesPerPixel()
	o := y*p.Stride + x*bpp
	return p.Format.Decode(p.data[o : o+bpp])
}

// Raw returns the bytes of the texel at (x, y).
func (p PixelView) Raw(x, y int) []byte {
	bpp := p.Format.BytesPerPixel()
	o := y*p.Stride + x*bpp
	return append([]byte(nil), p.data[o:o+bpp]...)
}

// RGBA converts the pixels to an 8-bit RGBA image.
func (p PixelView) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	if p.Format == FormatRGBA8Unorm {
		for y := 0; y < p.Height; y++ {
			copy(img.Pix[y*img.Stride:], p.data[y*p.Stride:y*p.Stride+p.Width*4])
		}
		return img
	}
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			FormatRGBA8Unorm.Encode(img.Pix[y*img.Stride+x*4:], p.At(x, y))
		}
	}
	return img
}
