// Package interop converts between display buffers and network tensors.
//
// The network works on sRGB values in [0, 1], so conversion is a plain
// rescale: no colour-space math happens here beyond the scale and bias the
// caller passes through.
package interop

import (
	"errors"
	"fmt"

	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/inference"
	"github.com/gogpu/styletransfer/internal/parallel"
)

// Conversion errors.
var (
	// ErrChannels is returned when a tensor has no colour channels.
	ErrChannels = errors.New("interop: tensor needs at least 1 channel")

	// ErrEmptyTensor is returned when a tensor has no pixels.
	ErrEmptyTensor = errors.New("interop: empty tensor")
)

// UnitScale leaves network output unscaled.
var UnitScale = [4]float32{1, 1, 1, 1}

// PostNetworkBias is added to every network output channel before display.
var PostNetworkBias = [4]float32{0.4850196, 0.4579569, 0.4076039, 0}

// Converter moves frames in and out of the network.
type Converter interface {
	// ToNetworkInput returns a new 3-channel CHW tensor holding src.
	ToNetworkInput(src *image.ImageBuf) *inference.Tensor

	// ToDisplayBuffer writes t*scale+bias into dst. A single-channel
	// tensor is shown as grey. Alpha is taken from channel 3 when present
	// and is 1 otherwise. A tensor of a different size is resampled
	// nearest-neighbour.
	ToDisplayBuffer(t *inference.Tensor, dst *image.ImageBuf, scale, bias [4]float32) error
}

// CPU is the reference Converter.
type CPU struct {
	workers *parallel.WorkerPool
}

// NewCPU creates a converter running rows on workers (nil runs inline).
func NewCPU(workers *parallel.WorkerPool) *CPU {
	return &CPU{workers: workers}
}

// ToNetworkInput implements Converter.
func (c *CPU) ToNetworkInput(src *image.ImageBuf) *inference.Tensor {
	w, h := src.Bounds()
	t := inference.NewTensor(3, h, w)
	plane := w * h
	c.workers.ForRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := range w {
				r, g, b, _ := src.GetFloat4(x, y)
				i := y*w + x
				t.Data[i] = r
				t.Data[plane+i] = g
				t.Data[2*plane+i] = b
			}
		}
	})
	return t
}

// ToDisplayBuffer implements Converter.
func (c *CPU) ToDisplayBuffer(t *inference.Tensor, dst *image.ImageBuf, scale, bias [4]float32) error {
	if t == nil || t.Channels < 1 {
		return ErrChannels
	}
	if t.Width < 1 || t.Height < 1 {
		return ErrEmptyTensor
	}
	if len(t.Data) < t.Len() {
		return fmt.Errorf("interop: tensor %v: %w", t, image.ErrDataTooSmall)
	}
	w, h := dst.Bounds()

	c.workers.ForRows(h, func(y0, y1 int) {
		var px [4]float32
		for y := y0; y < y1; y++ {
			ty := y * t.Height / h
			for x := range w {
				tx := x * t.Width / w
				for ch := range 3 {
					px[ch] = t.At(min(ch, t.Channels-1), ty, tx)*scale[ch] + bias[ch]
				}
				px[3] = 1
				if t.Channels > 3 {
					px[3] = t.At(3, ty, tx)*scale[3] + bias[3]
				}
				_ = dst.SetFloat4(x, y, px[0], px[1], px[2], px[3])
			}
		}
	})
	return nil
}
