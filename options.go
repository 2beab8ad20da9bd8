package styletransfer

import (
	"golang.org/x/text/language"

	"github.com/gogpu/styletransfer/interop"
	"github.com/gogpu/styletransfer/scheduler"
)

// Option configures a Pipeline during creation.
//
// Example:
//
//	// Defaults: style transfer on, upsampling x4, inset shown, no HUD.
//	p, err := styletransfer.New(1280, 720, styles, prep)
//
//	// Upsample x8 with an English HUD line and 4 pixel-kernel workers.
//	p, err := styletransfer.New(1280, 720, styles, prep,
//	    styletransfer.WithFactor(8),
//	    styletransfer.WithHUD(language.English),
//	    styletransfer.WithWorkers(4))
type Option func(*options)

// options holds optional configuration for Pipeline creation.
type options struct {
	factor     int
	enabled    bool
	upsampling bool
	borderHalo int
	parallel   bool
	workers    int
	inset      bool
	hud        *language.Tag
	costs      []float64
	scale      [4]float32
	bias       [4]float32
	converter  interop.Converter
	gpu        bool
}

// DefaultFactor is the upsample factor used without WithFactor.
const DefaultFactor = 4

// defaultOptions returns the default pipeline options.
func defaultOptions() options {
	return options{
		factor:     DefaultFactor,
		enabled:    true,
		upsampling: true,
		borderHalo: scheduler.DefaultBorderHalo,
		inset:      true,
		scale:      interop.UnitScale,
		bias:       interop.PostNetworkBias,
	}
}

// WithFactor sets the initial upsample factor, clamped to
// [scheduler.MinFactor, scheduler.MaxFactor].
func WithFactor(f int) Option {
	return func(o *options) {
		o.factor = scheduler.ClampFactor(f)
	}
}

// WithEnabled sets whether style transfer starts active.
func WithEnabled(on bool) Option {
	return func(o *options) {
		o.enabled = on
	}
}

// WithUpsampling sets whether temporal upsampling starts active. Without
// it every frame runs the whole network synchronously.
func WithUpsampling(on bool) Option {
	return func(o *options) {
		o.upsampling = on
	}
}

// WithBorderHalo sets the frame-edge margin kept unreprojected, in
// pixels. Negative values are ignored.
func WithBorderHalo(px int) Option {
	return func(o *options) {
		if px >= 0 {
			o.borderHalo = px
		}
	}
}

// WithWorkers runs pixel kernels on n goroutines. n <= 0 uses GOMAXPROCS.
// Without it kernels run on the calling goroutine.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.parallel = true
		o.workers = n
	}
}

// WithInset sets whether the active style's thumbnail is drawn in the
// bottom-left corner while style transfer is on.
func WithInset(on bool) Option {
	return func(o *options) {
		o.inset = on
	}
}

// WithHUD draws the upsample factor line in the top-left corner, with
// numbers formatted for tag.
func WithHUD(tag language.Tag) Option {
	return func(o *options) {
		o.hud = &tag
	}
}

// WithCosts sets the relative per-layer cost used for every style's graph.
// A table that does not match a graph falls back to uniform weights.
func WithCosts(weights []float64) Option {
	return func(o *options) {
		o.costs = append([]float64(nil), weights...)
	}
}

// WithScale sets the per-channel scale applied to network output.
func WithScale(scale [4]float32) Option {
	return func(o *options) {
		o.scale = scale
	}
}

// WithBias sets the per-channel bias added to network output. The default
// is interop.PostNetworkBias.
func WithBias(bias [4]float32) Option {
	return func(o *options) {
		o.bias = bias
	}
}

// WithConverter replaces the image/tensor converter.
func WithConverter(c interop.Converter) Option {
	return func(o *options) {
		o.converter = c
	}
}

// WithGPU runs SDMV dilation and B-frame synthesis on a Vulkan device when
// one is present. Without a hardware adapter the pipeline stays on the CPU.
func WithGPU(on bool) Option {
	return func(o *options) {
		o.gpu = on
	}
}
