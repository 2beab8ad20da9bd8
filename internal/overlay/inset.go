// Package overlay draws the style thumbnail inset and the HUD label on top
// of composited frames.
package overlay

import (
	stdimage "image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"

	"github.com/gogpu/styletransfer/image"
)

// Inset defaults.
const (
	DefaultInsetSize   = 128
	DefaultInsetBorder = 4
	DefaultInsetOffset = 30
)

// Thumbnail scales src to size x size. Filtering happens on linear-light
// values so dark and bright regions average the way they look.
func Thumbnail(src *image.ImageBuf, size int) *image.ImageBuf {
	if src == nil || size <= 0 {
		return nil
	}
	w, h := src.Bounds()

	linear := stdimage.NewRGBA64(stdimage.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			r, g, b, _ := src.GetRGBA(x, y)
			c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
			lr, lg, lb := c.LinearRgb()
			linear.SetRGBA64(x, y, color.RGBA64{
				R: unit16(lr), G: unit16(lg), B: unit16(lb), A: 0xffff,
			})
		}
	}

	scaled := stdimage.NewRGBA64(stdimage.Rect(0, 0, size, size))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), linear, linear.Bounds(), draw.Src, nil)

	out, err := image.NewImageBuf(size, size, image.FormatRGBA8)
	if err != nil {
		return nil
	}
	for y := range size {
		for x := range size {
			p := scaled.RGBA64At(x, y)
			r, g, b := colorful.LinearRgb(
				float64(p.R)/0xffff, float64(p.G)/0xffff, float64(p.B)/0xffff,
			).Clamped().RGB255()
			_ = out.SetRGBA(x, y, r, g, b, 255)
		}
	}
	return out
}

func unit16(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xffff
	}
	return uint16(v*0xffff + 0.5)
}

// Inset is a bordered thumbnail anchored to the bottom-left corner of the
// frame.
type Inset struct {
	thumb   *image.ImageBuf
	size    int
	border  int
	offsetX int
	offsetY int
}

// NewInset prepares an inset of the given outer size showing style. The
// thumbnail fills the area inside a white border of border pixels.
// Returns nil if the border leaves no room for the thumbnail.
func NewInset(style *image.ImageBuf, size, border, offsetX, offsetY int) *Inset {
	inner := size - 2*border
	if style == nil || inner <= 0 {
		return nil
	}
	return &Inset{
		thumb:   Thumbnail(style, inner),
		size:    size,
		border:  border,
		offsetX: offsetX,
		offsetY: offsetY,
	}
}

// NewDefaultInset is NewInset with the default size, border and offset.
func NewDefaultInset(style *image.ImageBuf) *Inset {
	return NewInset(style, DefaultInsetSize, DefaultInsetBorder, DefaultInsetOffset, DefaultInsetOffset)
}

// Rect returns the outer rectangle of the inset in a frame of height h.
func (in *Inset) Rect(h int) stdimage.Rectangle {
	y1 := h - in.offsetY
	return stdimage.Rect(in.offsetX, y1-in.size, in.offsetX+in.size, y1)
}

// Draw paints the inset onto dst, clipped to its bounds. dst must be RGBA8;
// other formats are left untouched.
func (in *Inset) Draw(dst *image.ImageBuf) {
	view := dst.NRGBA()
	if in == nil || view == nil {
		return
	}
	outer := in.Rect(dst.Height())
	draw.Draw(view, outer, stdimage.NewUniform(color.White), stdimage.Point{}, draw.Src)

	inner := outer.Inset(in.border)
	draw.Draw(view, inner, in.thumb.NRGBA(), stdimage.Point{}, draw.Src)
}
