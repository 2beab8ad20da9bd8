package image

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
)

// ErrEmptyImage is returned when a decoded image has no pixels.
var ErrEmptyImage = errors.New("image: empty image")

// LoadPNG loads a PNG image from the given file path as RGBA8.
func LoadPNG(path string) (*ImageBuf, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("image: open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return DecodePNG(f)
}

// DecodePNG decodes a PNG image from a reader.
func DecodePNG(r io.Reader) (*ImageBuf, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image: decode PNG: %w", err)
	}
	buf := FromStdImage(img)
	if buf == nil {
		return nil, ErrEmptyImage
	}
	return buf, nil
}

// SavePNG saves the image as a PNG file.
func (b *ImageBuf) SavePNG(path string) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("image: create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return b.EncodePNG(f)
}

// EncodePNG encodes the image as PNG to a writer.
func (b *ImageBuf) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, b.ToStdImage()); err != nil {
		return fmt.Errorf("image: encode PNG: %w", err)
	}
	return nil
}

// FromStdImage creates an RGBA8 ImageBuf from a standard library image.Image.
// Returns nil for an empty image.
func FromStdImage(img image.Image) *ImageBuf {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	buf, err := NewImageBuf(width, height, FormatRGBA8)
	if err != nil {
		return nil
	}

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := range height {
			srcStart := (y+bounds.Min.Y-nrgba.Rect.Min.Y)*nrgba.Stride + (bounds.Min.X-nrgba.Rect.Min.X)*4
			copy(buf.RowBytes(y), nrgba.Pix[srcStart:srcStart+width*4])
		}
		return buf
	}

	for y := range height {
		for x := range width {
			c := img.At(bounds.Min.X+x, bounds.Min.Y+y)
			r, g, b, a := c.RGBA()
			_ = buf.SetRGBA(x, y, byte(r>>8), byte(g>>8), byte(b>>8), byte(a>>8))
		}
	}

	return buf
}

// ToStdImage converts the ImageBuf to an *image.NRGBA.
// Half-float buffers are clamped to [0, 1].
func (b *ImageBuf) ToStdImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.width, b.height))

	if b.format == FormatRGBA8 {
		for y := range b.height {
			copy(img.Pix[y*img.Stride:], b.RowBytes(y))
		}
		return img
	}

	for y := range b.height {
		for x := range b.width {
			r, g, bl, a := b.GetRGBA(x, y)
			i := y*img.Stride + x*4
			img.Pix[i] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = bl
			img.Pix[i+3] = a
		}
	}
	return img
}

// NRGBA returns an *image.NRGBA sharing the buffer's memory, for drawing
// with image/draw style APIs. Returns nil for half-float buffers.
func (b *ImageBuf) NRGBA() *image.NRGBA {
	if b.format != FormatRGBA8 {
		return nil
	}
	return &image.NRGBA{
		Pix:    b.data,
		Stride: b.stride,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}
