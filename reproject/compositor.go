// Package reproject synthesizes displayed B-frames from two anchors by
// motion-compensated blending.
package reproject

import (
	"errors"
	"fmt"

	"github.com/gogpu/styletransfer/anchor"
	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/internal/logging"
	"github.com/gogpu/styletransfer/internal/overlay"
	"github.com/gogpu/styletransfer/internal/parallel"
	"github.com/gogpu/styletransfer/shader"
)

// NoPrevious is the prevAlpha sentinel for frames with no previous B-frame
// in the current cycle.
const NoPrevious = -1.0

// ErrNoNewer is returned when Composite is given no newer anchor.
var ErrNoNewer = errors.New("reproject: newer anchor is required")

// Compositor produces B-frames. Apart from the optional overlays it keeps
// no state between calls.
type Compositor struct {
	workers *parallel.WorkerPool
	accel   Accelerator
	inset   *overlay.Inset
	label   *overlay.Label
	hud     string
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithWorkers runs rows on p.
func WithWorkers(p *parallel.WorkerPool) Option {
	return func(c *Compositor) { c.workers = p }
}

// Accelerator runs the B-frame kernel on a device. BFrame writes out
// only on success; on error the Compositor runs the CPU path.
type Accelerator interface {
	BFrame(older, newer *anchor.Frame, p shader.BFrameParams, out *image.ImageBuf) error
}

// WithAccelerator tries a for every blended B-frame before the CPU path.
func WithAccelerator(a Accelerator) Option {
	return func(c *Compositor) { c.accel = a }
}

// New creates a Compositor.
func New(opts ...Option) *Compositor {
	c := &Compositor{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetInset sets the style thumbnail drawn on every output. Nil removes it.
func (c *Compositor) SetInset(in *overlay.Inset) {
	c.inset = in
}

// SetLabel sets the HUD line drawn on every output. An empty text or nil
// label removes it.
func (c *Compositor) SetLabel(l *overlay.Label, text string) {
	c.label = l
	c.hud = text
}

// Composite writes the B-frame at alpha between older (alpha 0 side of the
// blend) and newer into out.
//
// An older anchor that is nil or invalid copies newer's colour exactly.
// Otherwise newer is sampled backward along its motion scaled by 1-alpha
// and older forward along its motion scaled by alpha, and the samples are
// weighted alpha and 1-alpha, so alpha 0 shows older and alpha 1 shows
// newer. Between the ends, a sample whose anchor marks it as halo defers
// to the other anchor. Pixels within borderHalo of the frame edge, or
// whose samples land there, keep the unreprojected colour of the anchor
// nearer in time. On the first frames after a rotation (prevAlpha is
// NoPrevious or greater than alpha) the result is pulled halfway toward
// that same unreprojected colour to hide the seam.
//
// Only out is written.
func (c *Compositor) Composite(older, newer *anchor.Frame, alpha, prevAlpha float64, borderHalo int, out *image.ImageBuf) error {
	if newer == nil {
		return ErrNoNewer
	}
	if !out.SameShape(newer.Color) {
		return fmt.Errorf("reproject: output: %w", image.ErrSizeMismatch)
	}

	if older == nil || !older.Valid {
		_ = out.CopyFrom(newer.Color)
		c.decorate(out)
		return nil
	}
	if !older.Color.SameShape(newer.Color) {
		return fmt.Errorf("reproject: older anchor: %w", image.ErrSizeMismatch)
	}

	alpha = min(max(alpha, 0), 1)
	seam := prevAlpha == NoPrevious || prevAlpha > alpha
	b := blend{
		older:  older,
		newer:  newer,
		alpha:  float32(alpha),
		seam:   seam,
		border: max(borderHalo, 0),
	}
	w, h := out.Bounds()
	b.w, b.h = w, h

	if c.accel != nil {
		err := c.accel.BFrame(older, newer, shader.BFrameParams{
			Width:  uint32(w),        //nolint:gosec // image dimensions are positive
			Height: uint32(h),        //nolint:gosec // image dimensions are positive
			Border: uint32(b.border), //nolint:gosec // clamped to >= 0
			Seam:   seam,
			Alpha:  b.alpha,
		}, out)
		if err == nil {
			logging.L().Debug("reproject: composited on device", "alpha", alpha, "prevAlpha", prevAlpha, "seam", seam)
			c.decorate(out)
			return nil
		}
		if !errors.Is(err, shader.ErrFallbackToCPU) {
			logging.L().Warn("reproject: device composite failed, using CPU", "err", err)
		}
	}

	c.workers.ForRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := range w {
				r, g, bl, a := b.pixel(x, y)
				_ = out.SetFloat4(x, y, r, g, bl, a)
			}
		}
	})

	logging.L().Debug("reproject: composited", "alpha", alpha, "prevAlpha", prevAlpha, "seam", seam)
	c.decorate(out)
	return nil
}

func (c *Compositor) decorate(out *image.ImageBuf) {
	c.inset.Draw(out)
	if c.label != nil {
		c.label.Draw(out, c.hud)
	}
}

type blend struct {
	older, newer *anchor.Frame
	alpha        float32
	seam         bool
	border       int
	w, h         int
}

func (b *blend) inside(px, py float32) bool {
	lo := float32(b.border)
	return px >= lo && py >= lo && px < float32(b.w-b.border) && py < float32(b.h-b.border)
}

// base is the unreprojected colour of the anchor nearer to alpha.
func (b *blend) base(x, y int) (r, g, bl, a float32) {
	if b.alpha < 0.5 {
		return b.older.Color.GetFloat4(x, y)
	}
	return b.newer.Color.GetFloat4(x, y)
}

func (b *blend) pixel(x, y int) (r, g, bl, a float32) {
	cx, cy := float32(x)+0.5, float32(y)+0.5
	if !b.inside(cx, cy) {
		return b.base(x, y)
	}

	_, nmx, nmy, _ := b.newer.Aux.GetFloat4(x, y)
	_, omx, omy, _ := b.older.Aux.GetFloat4(x, y)

	back := 1 - b.alpha
	// Motion points from a pixel to where its surface was one anchor
	// earlier.
	nx, ny := cx-back*nmx, cy-back*nmy
	ox, oy := cx+b.alpha*omx, cy+b.alpha*omy
	if !b.inside(nx, ny) || !b.inside(ox, oy) {
		return b.base(x, y)
	}

	s0, s1, s2, s3 := image.SampleBilinear(b.newer.Color, float64(nx), float64(ny))
	t0, t1, t2, t3 := image.SampleBilinear(b.older.Color, float64(ox), float64(oy))
	_, _, _, nHalo := image.SampleNearest(b.newer.Aux, float64(nx), float64(ny))
	_, _, _, oHalo := image.SampleNearest(b.older.Aux, float64(ox), float64(oy))

	// An anchor shown unwarped at either end of the cycle never defers.
	wn := b.alpha
	switch {
	case b.alpha <= 0 || b.alpha >= 1:
	case nHalo > 0.5 && oHalo <= 0.5:
		wn = 0
	case oHalo > 0.5 && nHalo <= 0.5:
		wn = 1
	}
	wo := 1 - wn

	r = wn*s0 + wo*t0
	g = wn*s1 + wo*t1
	bl = wn*s2 + wo*t2
	a = wn*s3 + wo*t3

	if b.seam {
		br, bg, bb, ba := b.base(x, y)
		r, g, bl, a = (r+br)/2, (g+bg)/2, (bl+bb)/2, (a+ba)/2
	}
	return r, g, bl, a
}
