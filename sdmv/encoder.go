// Package sdmv builds the screen-space depth and motion vector (SDMV)
// buffer attached to each anchor.
//
// The buffer is RGBA16F: depth in channel 0 (0 near, 1 far plane), motion
// in channels 1 and 2 (pixels, pointing from the current position back to
// where the surface was one frame earlier) and a halo mask in channel 3.
// Encode dilates depth and motion outward from foreground silhouettes so
// the compositor reprojects a margin around moving objects with the
// object's own motion, hiding disocclusion tears.
package sdmv

import (
	"errors"
	"fmt"

	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/internal/logging"
	"github.com/gogpu/styletransfer/internal/parallel"
	"github.com/gogpu/styletransfer/shader"
)

// DefaultSkyDepth is the depth at or beyond which a pixel counts as sky.
const DefaultSkyDepth = 0.999

// ErrAuxFormat is returned when the auxiliary buffer is not RGBA16F.
var ErrAuxFormat = errors.New("sdmv: aux buffer must be RGBA16F")

// Encoder dilates SDMV buffers. It keeps no state between calls; the
// scratch pool only recycles memory.
//
// Encoder is safe for concurrent use on distinct buffers.
type Encoder struct {
	workers  *parallel.WorkerPool
	accel    Accelerator
	scratch  *image.Pool
	skyDepth float32
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithWorkers runs rows on p. Without it rows run on the caller.
func WithWorkers(p *parallel.WorkerPool) Option {
	return func(e *Encoder) { e.workers = p }
}

// WithSkyDepth sets the sky depth threshold.
func WithSkyDepth(d float32) Option {
	return func(e *Encoder) { e.skyDepth = d }
}

// Accelerator runs the dilation kernel on a device. Dilate writes the
// result back into aux; any error leaves aux untouched and the Encoder
// runs the CPU path.
type Accelerator interface {
	Dilate(aux *image.ImageBuf, p shader.DilateParams) error
}

// WithAccelerator tries a on every Encode before the CPU path.
func WithAccelerator(a Accelerator) Option {
	return func(e *Encoder) { e.accel = a }
}

// NewEncoder creates an Encoder.
func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		scratch:  image.NewPool(2),
		skyDepth: DefaultSkyDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Release drops the pooled scratch buffers. Call it after a resolution
// change so buffers of the old size are not kept alive.
func (e *Encoder) Release() {
	e.scratch.Drain()
}

// Encode dilates aux in place. Each pixel takes the depth and motion of the
// nearest-to-camera sample within halo pixels (foreground pixels) or
// skyHalo pixels (sky pixels); channel 3 is set to 1 where the value was
// taken from a neighbour and 0 otherwise. A radius of 0 disables dilation
// for that class of pixels.
//
// color only fixes the expected shape; it is not modified.
func (e *Encoder) Encode(color, aux *image.ImageBuf, halo, skyHalo int) error {
	if aux.Format() != image.FormatRGBA16F {
		return ErrAuxFormat
	}
	if color.Width() != aux.Width() || color.Height() != aux.Height() {
		return fmt.Errorf("%w: color %dx%d, aux %dx%d", image.ErrSizeMismatch,
			color.Width(), color.Height(), aux.Width(), aux.Height())
	}
	halo = max(halo, 0)
	skyHalo = max(skyHalo, 0)

	w, h := aux.Bounds()
	if e.accel != nil {
		err := e.accel.Dilate(aux, shader.DilateParams{
			Width:    uint32(w),       //nolint:gosec // image dimensions are positive
			Height:   uint32(h),       //nolint:gosec // image dimensions are positive
			Halo:     uint32(halo),    //nolint:gosec // clamped to >= 0
			SkyHalo:  uint32(skyHalo), //nolint:gosec // clamped to >= 0
			SkyDepth: e.skyDepth,
		})
		if err == nil {
			logging.L().Debug("sdmv: encoded on device", "width", w, "height", h, "halo", halo, "skyHalo", skyHalo)
			return nil
		}
		if !errors.Is(err, shader.ErrFallbackToCPU) {
			logging.L().Warn("sdmv: device dilation failed, using CPU", "err", err)
		}
	}

	fg := e.dilate(aux, halo)
	sky := fg
	if skyHalo != halo {
		sky = e.dilate(aux, skyHalo)
	}

	e.workers.ForRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := range w {
				d, mx, my, _ := aux.GetFloat4(x, y)
				src := fg
				if d >= e.skyDepth {
					src = sky
				}
				if src == nil {
					_ = aux.SetFloat4(x, y, d, mx, my, 0)
					continue
				}
				nd, nmx, nmy, mask := src.GetFloat4(x, y)
				_ = aux.SetFloat4(x, y, nd, nmx, nmy, mask)
			}
		}
	})

	e.scratch.Put(fg)
	if sky != fg {
		e.scratch.Put(sky)
	}

	logging.L().Debug("sdmv: encoded", "width", w, "height", h, "halo", halo, "skyHalo", skyHalo)
	return nil
}

// dilate runs a separable square min-depth filter of radius r over src and
// returns a pooled buffer holding the winning depth and motion with the
// neighbour flag in channel 3. Returns nil when r is 0.
func (e *Encoder) dilate(src *image.ImageBuf, r int) *image.ImageBuf {
	if r == 0 {
		return nil
	}
	w, h := src.Bounds()
	tmp := e.scratch.Get(w, h, image.FormatRGBA16F)
	out := e.scratch.Get(w, h, image.FormatRGBA16F)

	e.workers.ForRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := range w {
				bx := x
				bd, _, _, _ := src.GetFloat4(x, y)
				for nx := max(x-r, 0); nx <= min(x+r, w-1); nx++ {
					if d, _, _, _ := src.GetFloat4(nx, y); d < bd {
						bd, bx = d, nx
					}
				}
				d, mx, my, _ := src.GetFloat4(bx, y)
				_ = tmp.SetFloat4(x, y, d, mx, my, flag(bx != x))
			}
		}
	})

	e.workers.ForRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := range w {
				by := y
				bd, _, _, _ := tmp.GetFloat4(x, y)
				for ny := max(y-r, 0); ny <= min(y+r, h-1); ny++ {
					if d, _, _, _ := tmp.GetFloat4(x, ny); d < bd {
						bd, by = d, ny
					}
				}
				d, mx, my, moved := tmp.GetFloat4(x, by)
				_ = out.SetFloat4(x, y, d, mx, my, max(moved, flag(by != y)))
			}
		}
	})

	e.scratch.Put(tmp)
	return out
}

func flag(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
