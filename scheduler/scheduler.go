// Package scheduler drives incremental inference and B-frame synthesis
// once per displayed frame.
//
// One network evaluation is spread over Factor displayed frames. Every
// Factor frames the anchor ring rotates: the evaluation started at the
// previous rotation is drained into the newly completed anchor and a new
// one begins on the current camera frame. Every displayed frame is then
// composited from the two most recently completed anchors.
package scheduler

import (
	"errors"
	"fmt"

	"github.com/gogpu/styletransfer/anchor"
	"github.com/gogpu/styletransfer/cost"
	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/inference"
	"github.com/gogpu/styletransfer/interop"
	"github.com/gogpu/styletransfer/internal/logging"
	"github.com/gogpu/styletransfer/reproject"
	"github.com/gogpu/styletransfer/sdmv"
)

// Upsample factor limits.
const (
	MinFactor = 1
	MaxFactor = 16
)

// DefaultBorderHalo is the frame-edge margin kept unreprojected.
const DefaultBorderHalo = 30

// Scheduler errors.
var (
	// ErrNoGraph is returned when no graph is configured.
	ErrNoGraph = errors.New("scheduler: no graph")

	// ErrNoInput is returned when a frame has no colour buffer.
	ErrNoInput = errors.New("scheduler: frame has no color buffer")
)

// State is the scheduler's coarse state.
type State uint8

const (
	// StateAwaitingAnchors means fewer than two completed anchors exist;
	// output is the raw input.
	StateAwaitingAnchors State = iota

	// StateSteady means output is composited from two anchors.
	StateSteady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingAnchors:
		return "AwaitingAnchors"
	case StateSteady:
		return "Steady"
	default:
		return "Unknown"
	}
}

// Frame is one camera frame.
type Frame struct {
	// Color is the raw RGBA8 camera image.
	Color *image.ImageBuf

	// DepthMotion is an optional RGBA16F buffer of the same size holding
	// depth and motion in the anchor aux layout. Nil means zero motion at
	// the far plane.
	DepthMotion *image.ImageBuf
}

// FrameResult describes what one Step did.
type FrameResult struct {
	// Index is the displayed-frame index within the cycle, in [0, Factor).
	Index  int
	Factor int
	State  State

	Alpha     float64
	PrevAlpha float64

	Rotated      bool
	Passthrough  bool
	Reallocated  bool
	StyleApplied bool

	// Layers and Cost are what the session advanced this frame.
	Layers int
	Cost   float64

	// TimeScale is the clock multiplier the host applies before rendering
	// the next frame: Factor on the last frame of a cycle, 0 otherwise.
	TimeScale float64
}

// Stats are cumulative counters.
type Stats struct {
	Frames       uint64
	Rotations    uint64
	Sessions     uint64
	Passthrough  uint64
	Reallocation uint64
}

// Config configures a Scheduler.
type Config struct {
	// Width and Height are the initial ring resolution. A frame of another
	// size reallocates the ring.
	Width, Height int

	Graph inference.Graph

	// Costs is the per-layer relative cost. Nil or mismatched falls back
	// to uniform.
	Costs []float64

	// Converter defaults to interop.NewCPU(nil).
	Converter interop.Converter

	// Encoder defaults to sdmv.NewEncoder().
	Encoder *sdmv.Encoder

	// Compositor defaults to reproject.New().
	Compositor *reproject.Compositor

	// Mirror, when set, is given the ring after every allocation so a
	// device can shadow its buffers.
	Mirror RingMirror

	// Factor is clamped to [MinFactor, MaxFactor].
	Factor int

	Enabled bool

	HaloSize    int
	SkyHaloSize int

	// BorderHalo defaults to DefaultBorderHalo when negative.
	BorderHalo int

	// Scale and Bias are applied to network output. A zero Scale means
	// interop.UnitScale.
	Scale [4]float32
	Bias  [4]float32
}

// RingMirror keeps device copies of the anchor ring.
type RingMirror interface {
	Mirror(r *anchor.Ring) error
}

// pending holds runtime controls staged until the next rotation.
type pending struct {
	enabled *bool
	factor  int
	style   *styleChange
}

type styleChange struct {
	graph   inference.Graph
	costs   []float64
	halo    int
	skyHalo int
}

// Scheduler is the per-frame state machine.
//
// Scheduler is not safe for concurrent use: the host calls Step once per
// displayed frame from a single goroutine.
type Scheduler struct {
	ring    *anchor.Ring
	session *inference.Session
	profile cost.Profile

	conv       interop.Converter
	enc        *sdmv.Encoder
	comp       *reproject.Compositor
	mirror     RingMirror
	scale      [4]float32
	bias       [4]float32
	borderHalo int

	factor  int
	index   int
	enabled bool
	started bool
	halo    int
	skyHalo int

	pending pending
	stats   Stats
}

// New creates a Scheduler with an idle session and an empty ring.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Graph == nil {
		return nil, ErrNoGraph
	}
	ring, err := anchor.NewRing(cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	s := &Scheduler{
		ring:       ring,
		session:    inference.NewSession(cfg.Graph),
		profile:    profileFor(cfg.Graph, cfg.Costs),
		conv:       cfg.Converter,
		enc:        cfg.Encoder,
		comp:       cfg.Compositor,
		mirror:     cfg.Mirror,
		scale:      cfg.Scale,
		bias:       cfg.Bias,
		borderHalo: cfg.BorderHalo,
		factor:     ClampFactor(cfg.Factor),
		enabled:    cfg.Enabled,
		halo:       max(cfg.HaloSize, 0),
		skyHalo:    max(cfg.SkyHaloSize, 0),
	}
	if s.conv == nil {
		s.conv = interop.NewCPU(nil)
	}
	if s.enc == nil {
		s.enc = sdmv.NewEncoder()
	}
	if s.comp == nil {
		s.comp = reproject.New()
	}
	if s.scale == ([4]float32{}) {
		s.scale = interop.UnitScale
	}
	if s.borderHalo < 0 {
		s.borderHalo = DefaultBorderHalo
	}
	s.mirrorRing()
	return s, nil
}

// ClampFactor limits f to [MinFactor, MaxFactor].
func ClampFactor(f int) int {
	return min(max(f, MinFactor), MaxFactor)
}

func profileFor(g inference.Graph, costs []float64) cost.Profile {
	p, err := cost.ForGraph(costs, g.LayerCount())
	if err != nil {
		logging.L().Warn("scheduler: using uniform layer costs", "err", err)
	}
	return p
}

// Factor returns the active upsample factor.
func (s *Scheduler) Factor() int { return s.factor }

// Index returns the displayed-frame index the next Step will use.
func (s *Scheduler) Index() int { return s.index }

// Enabled reports whether style transfer is active.
func (s *Scheduler) Enabled() bool { return s.enabled }

// Session returns the inference session.
func (s *Scheduler) Session() *inference.Session { return s.session }

// Ring returns the anchor ring.
func (s *Scheduler) Ring() *anchor.Ring { return s.ring }

// Compositor returns the compositor used for every output.
func (s *Scheduler) Compositor() *reproject.Compositor { return s.comp }

// Stats returns the cumulative counters.
func (s *Scheduler) Stats() Stats { return s.stats }

// SetEnabled stages enabling or disabling style transfer.
func (s *Scheduler) SetEnabled(on bool) {
	s.pending.enabled = &on
}

// SetFactor stages a new upsample factor, clamped to [MinFactor,
// MaxFactor], and returns the clamped value.
func (s *Scheduler) SetFactor(f int) int {
	s.pending.factor = ClampFactor(f)
	return s.pending.factor
}

// PendingFactor returns the factor that will be active after the next
// rotation.
func (s *Scheduler) PendingFactor() int {
	if s.pending.factor != 0 {
		return s.pending.factor
	}
	return s.factor
}

// PendingEnabled reports whether style transfer will be active after the
// next rotation.
func (s *Scheduler) PendingEnabled() bool {
	if s.pending.enabled != nil {
		return *s.pending.enabled
	}
	return s.enabled
}

// SetStyle stages a new graph and halo sizes. The in-flight session is
// discarded and the ring reallocated at the next rotation. A style staged
// earlier and not yet applied is replaced and its graph closed.
func (s *Scheduler) SetStyle(g inference.Graph, costs []float64, halo, skyHalo int) error {
	if g == nil {
		return ErrNoGraph
	}
	if prev := s.pending.style; prev != nil && prev.graph != g && prev.graph != s.session.Graph() {
		closeGraph(prev.graph)
	}
	s.pending.style = &styleChange{graph: g, costs: costs, halo: max(halo, 0), skyHalo: max(skyHalo, 0)}
	return nil
}

// Discard drops the in-flight session and invalidates the anchors. Frames
// pass through until the next rotation starts a new session.
func (s *Scheduler) Discard() {
	s.session.Reset()
	s.started = false
	s.ring.Invalidate()
}

// Release discards the session and closes the active graph and any staged
// one. The Scheduler must not be used afterwards.
func (s *Scheduler) Release() {
	s.session.Reset()
	s.started = false
	active := s.session.Graph()
	if p := s.pending.style; p != nil && p.graph != active {
		closeGraph(p.graph)
	}
	s.pending = pending{}
	closeGraph(active)
}
