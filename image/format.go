// Package image provides the CPU-side frame buffers used by the style
// transfer pipeline: 8-bit colour anchors and half-precision depth+motion
// (SDMV) buffers.
package image

import "github.com/gogpu/gputypes"

// Format represents a pixel storage format.
type Format uint8

const (
	// FormatRGBA8 is 32-bit RGBA, 4 bytes per pixel.
	// Anchor colour buffers, camera frames and B-frames use it.
	FormatRGBA8 Format = iota

	// FormatRGBA16F is four IEEE 754 half-precision floats, 8 bytes per pixel.
	// SDMV buffers store depth, motion x, motion y and the halo mask.
	FormatRGBA16F

	// formatCount is the number of formats (for internal use).
	formatCount
)

// FormatInfo contains metadata about a pixel format.
type FormatInfo struct {
	// BytesPerPixel is the number of bytes per pixel.
	BytesPerPixel int

	// Channels is the number of channels.
	Channels int

	// BitsPerChannel is the number of bits per channel.
	BitsPerChannel int

	// IsFloat indicates floating-point channel storage.
	IsFloat bool

	// Texture is the matching GPU texture format.
	Texture gputypes.TextureFormat
}

var formatInfoTable = [formatCount]FormatInfo{
	FormatRGBA8: {
		BytesPerPixel:  4,
		Channels:       4,
		BitsPerChannel: 8,
		Texture:        gputypes.TextureFormatRGBA8Unorm,
	},
	FormatRGBA16F: {
		BytesPerPixel:  8,
		Channels:       4,
		BitsPerChannel: 16,
		IsFloat:        true,
		Texture:        gputypes.TextureFormatRGBA16Float,
	},
}

// Info returns the FormatInfo for this format.
func (f Format) Info() FormatInfo {
	if f >= formatCount {
		return FormatInfo{}
	}
	return formatInfoTable[f]
}

// BytesPerPixel returns the number of bytes per pixel for this format.
func (f Format) BytesPerPixel() int {
	return f.Info().BytesPerPixel
}

// Channels returns the number of channels.
func (f Format) Channels() int {
	return f.Info().Channels
}

// IsFloat reports whether channels are stored as floats.
func (f Format) IsFloat() bool {
	return f.Info().IsFloat
}

// TextureFormat returns the GPU texture format with the same layout.
func (f Format) TextureFormat() gputypes.TextureFormat {
	return f.Info().Texture
}

// String returns a string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatRGBA16F:
		return "RGBA16F"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the format is a valid known format.
func (f Format) IsValid() bool {
	return f < formatCount
}

// RowBytes calculates the number of bytes needed for a row of the given width.
func (f Format) RowBytes(width int) int {
	return width * f.BytesPerPixel()
}

// ImageBytes calculates the total number of bytes needed for an image.
func (f Format) ImageBytes(width, height int) int {
	return f.RowBytes(width) * height
}
