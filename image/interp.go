package image

import "math"

// InterpolationMode defines how buffer sampling is performed.
type InterpolationMode uint8

const (
	// InterpNearest selects the closest pixel (no interpolation).
	InterpNearest InterpolationMode = iota

	// InterpBilinear performs linear interpolation between 4 neighboring pixels.
	InterpBilinear
)

// String returns a string representation of the interpolation mode.
func (m InterpolationMode) String() string {
	switch m {
	case InterpNearest:
		return "Nearest"
	case InterpBilinear:
		return "Bilinear"
	default:
		return "Unknown"
	}
}

// Sample samples the buffer at pixel-space coordinates (px, py), where the
// center of pixel (x, y) is (x+0.5, y+0.5). Out-of-bounds coordinates are
// clamped to the edge.
func Sample(img *ImageBuf, px, py float64, mode InterpolationMode) (c0, c1, c2, c3 float32) {
	switch mode {
	case InterpNearest:
		return SampleNearest(img, px, py)
	case InterpBilinear:
		return SampleBilinear(img, px, py)
	default:
		return 0, 0, 0, 0
	}
}

// SampleNearest performs nearest-neighbor sampling at pixel-space coordinates.
func SampleNearest(img *ImageBuf, px, py float64) (c0, c1, c2, c3 float32) {
	w, h := img.Bounds()
	x := clamp(int(math.Floor(px)), 0, w-1)
	y := clamp(int(math.Floor(py)), 0, h-1)
	return img.GetFloat4(x, y)
}

// SampleBilinear performs bilinear interpolation at pixel-space coordinates.
func SampleBilinear(img *ImageBuf, px, py float64) (c0, c1, c2, c3 float32) {
	w, h := img.Bounds()

	fx := px - 0.5
	fy := py - 0.5

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	tx := float32(fx - float64(x0))
	ty := float32(fy - float64(y0))

	x1 := clamp(x0+1, 0, w-1)
	y1 := clamp(y0+1, 0, h-1)
	x0 = clamp(x0, 0, w-1)
	y0 = clamp(y0, 0, h-1)

	a0, a1, a2, a3 := img.GetFloat4(x0, y0)
	b0, b1, b2, b3 := img.GetFloat4(x1, y0)
	d0, d1, d2, d3 := img.GetFloat4(x0, y1)
	e0, e1, e2, e3 := img.GetFloat4(x1, y1)

	c0 = lerp2D(a0, b0, d0, e0, tx, ty)
	c1 = lerp2D(a1, b1, d1, e1, tx, ty)
	c2 = lerp2D(a2, b2, d2, e2, tx, ty)
	c3 = lerp2D(a3, b3, d3, e3, tx, ty)
	return c0, c1, c2, c3
}

// clamp clamps an integer value to [minVal, maxVal].
func clamp(val, minVal, maxVal int) int {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

// lerp performs linear interpolation between a and b.
func lerp(a, b, t float32) float32 {
	return a*(1-t) + b*t
}

// lerp2D performs bilinear interpolation on a 2x2 grid.
func lerp2D(v00, v10, v01, v11, tx, ty float32) float32 {
	v0 := lerp(v00, v10, tx)
	v1 := lerp(v01, v11, tx)
	return lerp(v0, v1, ty)
}
