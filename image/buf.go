package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Common errors for image operations.
var (
	// ErrInvalidDimensions is returned when width or height is non-positive.
	ErrInvalidDimensions = errors.New("image: invalid dimensions")

	// ErrInvalidFormat is returned when the format is not recognized.
	ErrInvalidFormat = errors.New("image: invalid format")

	// ErrDataTooSmall is returned when provided data is smaller than required.
	ErrDataTooSmall = errors.New("image: data buffer too small")

	// ErrOutOfBounds is returned when pixel coordinates are outside image bounds.
	ErrOutOfBounds = errors.New("image: coordinates out of bounds")

	// ErrSizeMismatch is returned when two buffers must share dimensions and format.
	ErrSizeMismatch = errors.New("image: size or format mismatch")
)

// ImageBuf is a tightly packed pixel buffer.
//
// Thread safety: ImageBuf is safe for concurrent read access. Concurrent
// writes must touch disjoint rows.
type ImageBuf struct {
	data   []byte
	width  int
	height int
	stride int
	format Format
}

// NewImageBuf creates a new zeroed image buffer.
func NewImageBuf(width, height int, format Format) (*ImageBuf, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	if !format.IsValid() {
		return nil, ErrInvalidFormat
	}

	stride := format.RowBytes(width)
	return &ImageBuf{
		data:   make([]byte, stride*height),
		width:  width,
		height: height,
		stride: stride,
		format: format,
	}, nil
}

// FromRaw creates an ImageBuf from existing data without copying.
// The caller must ensure data remains valid for the lifetime of the ImageBuf.
func FromRaw(data []byte, width, height int, format Format) (*ImageBuf, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	if !format.IsValid() {
		return nil, ErrInvalidFormat
	}

	stride := format.RowBytes(width)
	if len(data) < stride*height {
		return nil, ErrDataTooSmall
	}

	return &ImageBuf{
		data:   data[:stride*height],
		width:  width,
		height: height,
		stride: stride,
		format: format,
	}, nil
}

// Clone creates a deep copy of the image buffer.
func (b *ImageBuf) Clone() *ImageBuf {
	newData := make([]byte, len(b.data))
	copy(newData, b.data)

	return &ImageBuf{
		data:   newData,
		width:  b.width,
		height: b.height,
		stride: b.stride,
		format: b.format,
	}
}

// CopyFrom overwrites b with the pixels of src.
// Both buffers must have the same dimensions and format.
func (b *ImageBuf) CopyFrom(src *ImageBuf) error {
	if !b.SameShape(src) {
		return fmt.Errorf("%w: %dx%d %s <- %dx%d %s", ErrSizeMismatch,
			b.width, b.height, b.format, src.width, src.height, src.format)
	}
	copy(b.data, src.data)
	return nil
}

// SameShape reports whether o has the same dimensions and format as b.
func (b *ImageBuf) SameShape(o *ImageBuf) bool {
	return o != nil && b.width == o.width && b.height == o.height && b.format == o.format
}

// Width returns the image width in pixels.
func (b *ImageBuf) Width() int {
	return b.width
}

// Height returns the image height in pixels.
func (b *ImageBuf) Height() int {
	return b.height
}

// Stride returns the number of bytes per row.
func (b *ImageBuf) Stride() int {
	return b.stride
}

// Format returns the pixel format.
func (b *ImageBuf) Format() Format {
	return b.format
}

// Bounds returns the image dimensions as (width, height).
func (b *ImageBuf) Bounds() (int, int) {
	return b.width, b.height
}

// Data returns the raw pixel data slice.
func (b *ImageBuf) Data() []byte {
	return b.data
}

// RowBytes returns a slice of the pixel data for row y.
// Returns nil if y is out of bounds.
func (b *ImageBuf) RowBytes(y int) []byte {
	if y < 0 || y >= b.height {
		return nil
	}
	start := y * b.stride
	return b.data[start : start+b.format.RowBytes(b.width)]
}

// PixelOffset returns the byte offset of pixel (x, y) in the data slice.
// Returns -1 if coordinates are out of bounds.
func (b *ImageBuf) PixelOffset(x, y int) int {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return -1
	}
	return y*b.stride + x*b.format.BytesPerPixel()
}

// GetRGBA returns the color at (x, y) as (r, g, b, a) in 0-255 range.
// Half-float buffers are clamped to [0, 1] and scaled.
// Returns (0,0,0,0) if coordinates are out of bounds.
func (b *ImageBuf) GetRGBA(x, y int) (r, g, bl, a uint8) {
	offset := b.PixelOffset(x, y)
	if offset < 0 {
		return 0, 0, 0, 0
	}

	switch b.format {
	case FormatRGBA8:
		p := b.data[offset : offset+4]
		return p[0], p[1], p[2], p[3]
	case FormatRGBA16F:
		c0, c1, c2, c3 := b.getHalf(offset)
		return unitToByte(c0), unitToByte(c1), unitToByte(c2), unitToByte(c3)
	default:
		return 0, 0, 0, 0
	}
}

// SetRGBA sets the color at (x, y) from (r, g, b, a) in 0-255 range.
// Returns ErrOutOfBounds if coordinates are outside image bounds.
func (b *ImageBuf) SetRGBA(x, y int, r, g, bl, a uint8) error {
	offset := b.PixelOffset(x, y)
	if offset < 0 {
		return ErrOutOfBounds
	}

	switch b.format {
	case FormatRGBA8:
		b.data[offset] = r
		b.data[offset+1] = g
		b.data[offset+2] = bl
		b.data[offset+3] = a
	case FormatRGBA16F:
		b.setHalf(offset, float32(r)/255, float32(g)/255, float32(bl)/255, float32(a)/255)
	}
	return nil
}

// GetFloat4 returns the four channels at (x, y) as floats.
// 8-bit channels are normalized to [0, 1].
func (b *ImageBuf) GetFloat4(x, y int) (c0, c1, c2, c3 float32) {
	offset := b.PixelOffset(x, y)
	if offset < 0 {
		return 0, 0, 0, 0
	}

	if b.format == FormatRGBA16F {
		return b.getHalf(offset)
	}
	p := b.data[offset : offset+4]
	return float32(p[0]) / 255, float32(p[1]) / 255, float32(p[2]) / 255, float32(p[3]) / 255
}

// SetFloat4 stores four channels at (x, y).
// For 8-bit buffers the values are clamped to [0, 1] and rounded.
func (b *ImageBuf) SetFloat4(x, y int, c0, c1, c2, c3 float32) error {
	offset := b.PixelOffset(x, y)
	if offset < 0 {
		return ErrOutOfBounds
	}

	if b.format == FormatRGBA16F {
		b.setHalf(offset, c0, c1, c2, c3)
		return nil
	}
	b.data[offset] = unitToByte(c0)
	b.data[offset+1] = unitToByte(c1)
	b.data[offset+2] = unitToByte(c2)
	b.data[offset+3] = unitToByte(c3)
	return nil
}

func (b *ImageBuf) getHalf(offset int) (c0, c1, c2, c3 float32) {
	p := b.data[offset : offset+8]
	c0 = float16.Frombits(binary.LittleEndian.Uint16(p[0:])).Float32()
	c1 = float16.Frombits(binary.LittleEndian.Uint16(p[2:])).Float32()
	c2 = float16.Frombits(binary.LittleEndian.Uint16(p[4:])).Float32()
	c3 = float16.Frombits(binary.LittleEndian.Uint16(p[6:])).Float32()
	return c0, c1, c2, c3
}

func (b *ImageBuf) setHalf(offset int, c0, c1, c2, c3 float32) {
	p := b.data[offset : offset+8]
	binary.LittleEndian.PutUint16(p[0:], float16.Fromfloat32(c0).Bits())
	binary.LittleEndian.PutUint16(p[2:], float16.Fromfloat32(c1).Bits())
	binary.LittleEndian.PutUint16(p[4:], float16.Fromfloat32(c2).Bits())
	binary.LittleEndian.PutUint16(p[6:], float16.Fromfloat32(c3).Bits())
}

// Clear sets all bytes to zero.
func (b *ImageBuf) Clear() {
	clear(b.data)
}

// Fill sets all pixels to the given RGBA color.
func (b *ImageBuf) Fill(r, g, bl, a uint8) {
	for y := range b.height {
		for x := range b.width {
			_ = b.SetRGBA(x, y, r, g, bl, a)
		}
	}
}

// FillFloat4 sets every pixel to the given channel values. For 8-bit
// buffers the values are clamped to [0, 1] and rounded.
func (b *ImageBuf) FillFloat4(c0, c1, c2, c3 float32) {
	if b.width == 0 || b.height == 0 {
		return
	}
	bpp := b.format.BytesPerPixel()
	_ = b.SetFloat4(0, 0, c0, c1, c2, c3)
	first := b.data[:bpp]
	for y := range b.height {
		row := b.data[y*b.stride : y*b.stride+b.width*bpp]
		for off := 0; off < len(row); off += bpp {
			copy(row[off:off+bpp], first)
		}
	}
}

// Float32Size is the size in bytes of one pixel in the Float32Bytes layout.
const Float32Size = 16

// Float32Bytes returns the pixels as four little-endian float32 channels
// each, row by row with no padding: the layout of a storage buffer of
// vec4<f32>. 8-bit channels are normalized to [0, 1].
func (b *ImageBuf) Float32Bytes() []byte {
	p := make([]byte, b.width*b.height*Float32Size)
	i := 0
	for y := range b.height {
		for x := range b.width {
			c0, c1, c2, c3 := b.GetFloat4(x, y)
			binary.LittleEndian.PutUint32(p[i:], math.Float32bits(c0))
			binary.LittleEndian.PutUint32(p[i+4:], math.Float32bits(c1))
			binary.LittleEndian.PutUint32(p[i+8:], math.Float32bits(c2))
			binary.LittleEndian.PutUint32(p[i+12:], math.Float32bits(c3))
			i += Float32Size
		}
	}
	return p
}

// SetFloat32Bytes stores pixels from the Float32Bytes layout. For 8-bit
// buffers the values are clamped to [0, 1] and rounded.
func (b *ImageBuf) SetFloat32Bytes(p []byte) error {
	if len(p) < b.width*b.height*Float32Size {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrDataTooSmall, b.width*b.height*Float32Size, len(p))
	}
	i := 0
	for y := range b.height {
		for x := range b.width {
			offset := b.PixelOffset(x, y)
			c0 := math.Float32frombits(binary.LittleEndian.Uint32(p[i:]))
			c1 := math.Float32frombits(binary.LittleEndian.Uint32(p[i+4:]))
			c2 := math.Float32frombits(binary.LittleEndian.Uint32(p[i+8:]))
			c3 := math.Float32frombits(binary.LittleEndian.Uint32(p[i+12:]))
			if b.format == FormatRGBA16F {
				b.setHalf(offset, c0, c1, c2, c3)
			} else {
				b.data[offset] = unitToByte(c0)
				b.data[offset+1] = unitToByte(c1)
				b.data[offset+2] = unitToByte(c2)
				b.data[offset+3] = unitToByte(c3)
			}
			i += Float32Size
		}
	}
	return nil
}

// ByteSize returns the total size of the image data in bytes.
func (b *ImageBuf) ByteSize() int {
	return len(b.data)
}

func unitToByte(v float32) uint8 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
