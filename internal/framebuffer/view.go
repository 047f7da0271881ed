// Package framebuffer wraps raw decoded frame memory as a read-only image.
package framebuffer

import (
	"fmt"
	"image"
	"image/color"
)

// BytesPerPixel is the size of one packed 8-bit RGB pixel (no alpha).
const BytesPerPixel = 3

// PackedStride returns the row size of a packed RGB frame of the given width,
// rounded up to a 4-byte boundary.
func PackedStride(width int) int {
	return (width*BytesPerPixel + 3) &^ 3
}

// View is an image.Image over packed RGB bytes. It does not own pix and never
// writes to it; the view is valid only while the underlying frame is held.
type View struct {
	pix    []byte
	rect   image.Rectangle
	stride int
}

// New wraps pix as a width x height image with the given row stride.
func New(pix []byte, width, height, stride int) (*View, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("framebuffer: invalid dimensions %dx%d", width, height)
	}
	if stride < width*BytesPerPixel {
		return nil, fmt.Errorf("framebuffer: stride %d shorter than row of %d bytes", stride, width*BytesPerPixel)
	}
	need := stride*(height-1) + width*BytesPerPixel
	if len(pix) < need {
		return nil, fmt.Errorf("framebuffer: buffer of %d bytes too small for %dx%d (stride %d, need %d)",
			len(pix), width, height, stride, need)
	}
	return &View{
		pix:    pix,
		rect:   image.Rect(0, 0, width, height),
		stride: stride,
	}, nil
}

func (v *View) ColorModel() color.Model {
	return color.RGBAModel
}

func (v *View) Bounds() image.Rectangle {
	return v.rect
}

func (v *View) At(x, y int) color.Color {
	return v.RGBAAt(x, y)
}

// RGBAAt returns the pixel at (x, y), or transparent black outside the bounds.
func (v *View) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{X: x, Y: y}.In(v.rect)) {
		return color.RGBA{}
	}
	i := v.stride*y + x*BytesPerPixel
	return color.RGBA{R: v.pix[i], G: v.pix[i+1], B: v.pix[i+2], A: 0xFF}
}

// Stride returns the row size in bytes used by the view.
func (v *View) Stride() int {
	return v.stride
}

// RGBA copies the view into a new *image.RGBA (alpha 255), which encoders
// handle on their fast path.
func (v *View) RGBA() *image.RGBA {
	w, h := v.rect.Dx(), v.rect.Dy()
	img := image.NewRGBA(v.rect)
	for y := 0; y < h; y++ {
		src := v.pix[y*v.stride : y*v.stride+w*BytesPerPixel]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			dst[x*4+0] = src[x*3+0]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xFF
		}
	}
	return img
}
