package styletransfer

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/styletransfer/anchor"
	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/inference"
	"github.com/gogpu/styletransfer/internal/gpu"
	"github.com/gogpu/styletransfer/internal/logging"
	"github.com/gogpu/styletransfer/internal/overlay"
	"github.com/gogpu/styletransfer/internal/parallel"
	"github.com/gogpu/styletransfer/interop"
	"github.com/gogpu/styletransfer/reproject"
	"github.com/gogpu/styletransfer/scheduler"
	"github.com/gogpu/styletransfer/sdmv"
	"github.com/gogpu/styletransfer/style"
)

// Pipeline errors.
var (
	// ErrNoPreparer is returned by New without a Preparer.
	ErrNoPreparer = errors.New("styletransfer: no preparer")

	// ErrDisabled is returned by NextStyle while style transfer is off.
	ErrDisabled = errors.New("styletransfer: style transfer is disabled")

	// ErrClosed is returned by Render after Close.
	ErrClosed = errors.New("styletransfer: pipeline closed")
)

// Preparer builds the network graph for a style. It stands in for model
// loading, layer stripping and baking the style conditioning.
type Preparer interface {
	Prepare(p style.Profile) (inference.Graph, error)
}

// PreparerFunc adapts a function to Preparer.
type PreparerFunc func(p style.Profile) (inference.Graph, error)

// Prepare implements Preparer.
func (f PreparerFunc) Prepare(p style.Profile) (inference.Graph, error) {
	return f(p)
}

// Result describes one rendered frame.
type Result struct {
	scheduler.FrameResult

	// Direct is set when upsampling is off and the whole network ran on
	// this frame.
	Direct bool

	// Collapsed is set once an internal error has switched the pipeline to
	// plain passthrough. See Pipeline.Err.
	Collapsed bool
}

// Pipeline is the host-facing renderer: it owns a Scheduler, prepares a
// graph per style and applies runtime controls.
//
// Pipeline is not safe for concurrent use; call it from the render loop.
type Pipeline struct {
	opts   options
	styles *style.Set
	prep   Preparer

	sched   *scheduler.Scheduler
	conv    interop.Converter
	comp    *reproject.Compositor
	workers *parallel.WorkerPool
	device  *gpu.Device

	// graph is the most recently prepared graph. The scheduler may still
	// be running the previous one until its next rotation.
	graph   inference.Graph
	direct  *inference.Session
	scratch *image.ImageBuf

	enabled    bool
	upsampling bool

	// active is the style index whose graph the scheduler runs; staged is
	// the one it will switch to at the next rotation, or -1.
	active int
	staged int

	insets map[int]*overlay.Inset
	label  *overlay.Label

	err    error
	closed bool
}

// New creates a pipeline for width x height frames, preparing the active
// style of styles with prep.
func New(width, height int, styles *style.Set, prep Preparer, opts ...Option) (*Pipeline, error) {
	if styles == nil {
		return nil, style.ErrNoStyles
	}
	if prep == nil {
		return nil, ErrNoPreparer
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pipeline{
		opts:       o,
		styles:     styles,
		prep:       prep,
		conv:       o.converter,
		enabled:    o.enabled,
		upsampling: o.upsampling,
		active:     styles.Index(),
		staged:     -1,
		insets:     make(map[int]*overlay.Inset),
	}
	if o.parallel {
		p.workers = parallel.NewWorkerPool(o.workers)
	}
	if p.conv == nil {
		p.conv = interop.NewCPU(p.workers)
	}
	encOpts := []sdmv.Option{sdmv.WithWorkers(p.workers)}
	compOpts := []reproject.Option{reproject.WithWorkers(p.workers)}
	var mirror scheduler.RingMirror
	if o.gpu {
		dev, err := gpu.Open()
		if err != nil {
			logging.L().Info("styletransfer: GPU unavailable, using CPU", "err", err)
		} else {
			p.device = dev
			mirror = dev
			encOpts = append(encOpts, sdmv.WithAccelerator(dev))
			compOpts = append(compOpts, reproject.WithAccelerator(dev))
		}
	}
	p.comp = reproject.New(compOpts...)
	if o.hud != nil {
		p.label = overlay.NewLabel(*o.hud)
	}

	cur := styles.Current()
	g, err := prep.Prepare(cur)
	if err != nil {
		p.release()
		return nil, fmt.Errorf("styletransfer: prepare %q: %w", cur.Name, err)
	}
	p.graph = g
	p.direct = inference.NewSession(g)

	p.sched, err = scheduler.New(scheduler.Config{
		Width:       width,
		Height:      height,
		Graph:       g,
		Costs:       o.costs,
		Converter:   p.conv,
		Encoder:     sdmv.NewEncoder(encOpts...),
		Compositor:  p.comp,
		Mirror:      mirror,
		Factor:      o.factor,
		Enabled:     o.enabled,
		HaloSize:    cur.HaloSize,
		SkyHaloSize: cur.SkyHaloSize,
		BorderHalo:  o.borderHalo,
		Scale:       o.scale,
		Bias:        o.bias,
	})
	if err != nil {
		closeGraph(g)
		p.release()
		return nil, err
	}

	logging.L().Info("styletransfer: pipeline created",
		"width", width, "height", height, "style", cur.Name,
		"factor", p.sched.Factor(), "upsampling", o.upsampling, "enabled", o.enabled,
		"gpu", p.device != nil)
	return p, nil
}

// Render produces the displayed frame for in into out, which must be RGBA8
// at the size of in.Color.
//
// Only invalid arguments are returned as errors. Any other failure is
// logged, kept for Err, and switches the pipeline to passthrough.
func (p *Pipeline) Render(in scheduler.Frame, out *image.ImageBuf) (Result, error) {
	switch {
	case p.closed:
		return Result{}, ErrClosed
	case in.Color == nil:
		return Result{}, scheduler.ErrNoInput
	case !out.SameShape(in.Color):
		return Result{}, fmt.Errorf("styletransfer: output: %w", image.ErrSizeMismatch)
	}

	if p.err != nil {
		return p.passthrough(in, out)
	}

	var (
		res Result
		err error
	)
	if p.upsampling {
		res, err = p.renderUpsampled(in, out)
	} else {
		res, err = p.renderDirect(in, out)
	}
	if err != nil {
		p.collapse(err)
		return p.passthrough(in, out)
	}
	return res, nil
}

func (p *Pipeline) renderUpsampled(in scheduler.Frame, out *image.ImageBuf) (Result, error) {
	// Overlays must describe the state the scheduler will be in after any
	// controls staged for this frame's rotation.
	boundary := p.sched.Index() == 0
	if w, h := p.sched.Ring().Size(); w != in.Color.Width() || h != in.Color.Height() {
		boundary = true
	}
	enabled, factor, idx := p.sched.Enabled(), p.sched.Factor(), p.active
	if boundary {
		enabled, factor = p.sched.PendingEnabled(), p.sched.PendingFactor()
		if p.staged >= 0 {
			idx = p.staged
		}
	}
	p.decorate(enabled, factor, idx)

	fr, err := p.sched.Step(in, out)
	if err != nil {
		return Result{FrameResult: fr}, err
	}
	if fr.StyleApplied && p.staged >= 0 {
		p.active, p.staged = p.staged, -1
	}
	return Result{FrameResult: fr}, nil
}

// renderDirect runs the whole network on in and shows the result at once.
func (p *Pipeline) renderDirect(in scheduler.Frame, out *image.ImageBuf) (Result, error) {
	res := Result{Direct: true}
	res.Factor = 1
	res.TimeScale = 1
	res.State = scheduler.StateSteady

	src := in.Color
	if p.enabled {
		n, err := p.runGraph(in.Color)
		if err != nil {
			return res, err
		}
		res.Layers, res.Cost = n, 1
		src = p.scratch
	} else {
		res.Passthrough = true
	}

	p.decorate(p.enabled, 1, p.styles.Index())
	frame := &anchor.Frame{Color: src, Valid: true}
	return res, p.comp.Composite(nil, frame, 0, reproject.NoPrevious, 0, out)
}

// runGraph evaluates the latest graph on src synchronously into scratch.
func (p *Pipeline) runGraph(src *image.ImageBuf) (int, error) {
	if p.scratch == nil || !p.scratch.SameShape(src) {
		buf, err := image.NewImageBuf(src.Width(), src.Height(), image.FormatRGBA8)
		if err != nil {
			return 0, err
		}
		p.scratch = buf
	}

	s := p.direct
	defer s.Reset()
	if err := s.Begin(p.conv.ToNetworkInput(src)); err != nil {
		return 0, err
	}
	if err := s.Drain(); err != nil {
		return 0, err
	}
	t, err := s.PeekOutput()
	if err != nil {
		return 0, err
	}
	if err := p.conv.ToDisplayBuffer(t, p.scratch, p.opts.scale, p.opts.bias); err != nil {
		return 0, err
	}
	return s.LayerCount(), nil
}

// decorate configures the compositor overlays for the next output.
func (p *Pipeline) decorate(enabled bool, factor, styleIdx int) {
	var inset *overlay.Inset
	if enabled && p.opts.inset {
		inset = p.inset(styleIdx)
	}
	p.comp.SetInset(inset)
	if p.label != nil {
		p.comp.SetLabel(p.label, p.label.Text(factor))
	}
}

func (p *Pipeline) inset(i int) *overlay.Inset {
	if in, ok := p.insets[i]; ok {
		return in
	}
	prof, err := p.styles.At(i)
	if err != nil {
		return nil
	}
	in := overlay.NewDefaultInset(prof.Image)
	p.insets[i] = in
	return in
}

func (p *Pipeline) collapse(err error) {
	p.err = err
	logging.L().Warn("styletransfer: collapsing to passthrough", "err", err)
	p.sched.Discard()
	p.direct.Reset()
}

func (p *Pipeline) passthrough(in scheduler.Frame, out *image.ImageBuf) (Result, error) {
	if err := out.CopyFrom(in.Color); err != nil {
		return Result{}, err
	}
	res := Result{Collapsed: true}
	res.Factor = 1
	res.TimeScale = 1
	res.Passthrough = true
	return res, nil
}

// Err returns the error that collapsed the pipeline to passthrough, or nil.
func (p *Pipeline) Err() error {
	return p.err
}

// Enabled reports whether style transfer is requested. In upsampling mode
// the change takes effect at the next rotation.
func (p *Pipeline) Enabled() bool {
	return p.enabled
}

// SetEnabled turns style transfer on or off.
func (p *Pipeline) SetEnabled(on bool) {
	p.enabled = on
	p.sched.SetEnabled(on)
}

// Toggle flips style transfer and returns the new setting.
func (p *Pipeline) Toggle() bool {
	p.SetEnabled(!p.enabled)
	return p.enabled
}

// Style returns the most recently selected style.
func (p *Pipeline) Style() style.Profile {
	return p.styles.Current()
}

// NextStyle selects the next style, prepares its graph and stages it. It
// returns ErrDisabled while style transfer is off.
func (p *Pipeline) NextStyle() (style.Profile, error) {
	if !p.enabled {
		return p.styles.Current(), ErrDisabled
	}
	prev := p.styles.Index()
	next := p.styles.Next()
	g, err := p.prep.Prepare(next)
	if err != nil {
		_, _ = p.styles.Select(prev)
		return next, fmt.Errorf("styletransfer: prepare %q: %w", next.Name, err)
	}
	if err := p.sched.SetStyle(g, p.opts.costs, next.HaloSize, next.SkyHaloSize); err != nil {
		return next, err
	}

	p.graph = g
	p.direct = inference.NewSession(g)
	p.staged = p.styles.Index()
	logging.L().Info("styletransfer: style selected", "style", next.Name)
	return next, nil
}

// Factor returns the upsample factor that is or will be active after the
// next rotation.
func (p *Pipeline) Factor() int {
	return p.sched.PendingFactor()
}

// SetFactor stages a new upsample factor and returns the clamped value.
func (p *Pipeline) SetFactor(f int) int {
	return p.sched.SetFactor(f)
}

// AdjustFactor changes the upsample factor by delta, the way a mouse wheel
// step does, and returns the clamped value.
func (p *Pipeline) AdjustFactor(delta int) int {
	return p.SetFactor(p.sched.PendingFactor() + delta)
}

// Upsampling reports whether temporal upsampling is on.
func (p *Pipeline) Upsampling() bool {
	return p.upsampling
}

// SetUpsampling turns temporal upsampling on or off. Turning it off takes
// effect at once; turning it on starts from empty anchors.
func (p *Pipeline) SetUpsampling(on bool) {
	if on == p.upsampling {
		return
	}
	p.upsampling = on
	p.sched.Discard()
	logging.L().Info("styletransfer: upsampling toggled", "on", on)
}

// Stats returns the scheduler counters.
func (p *Pipeline) Stats() scheduler.Stats {
	return p.sched.Stats()
}

// Descriptors returns the GPU texture descriptors of the anchor ring.
func (p *Pipeline) Descriptors() []gputypes.TextureDescriptor {
	return p.sched.Ring().Descriptors()
}

// Accelerator reports the adapter the device path runs on. ok is false
// when the pipeline runs on the CPU only.
func (p *Pipeline) Accelerator() (info gpucontext.AdapterInfo, ok bool) {
	if p.device == nil {
		return gpucontext.AdapterInfo{}, false
	}
	return p.device.AdapterInfo(), true
}

// Close releases the graphs and worker goroutines. Close is safe to call
// multiple times.
func (p *Pipeline) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.direct.Reset()
	p.sched.Release()
	p.release()
}

// release stops the workers and the device.
func (p *Pipeline) release() {
	p.workers.Close()
	if p.device != nil {
		p.device.Close()
	}
}

// closeGraph releases a graph that holds resources.
func closeGraph(g inference.Graph) {
	if c, ok := g.(interface{ Close() }); ok {
		c.Close()
	}
}
