package scheduler

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/gogpu/styletransfer/anchor"
	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/inference"
	"github.com/gogpu/styletransfer/internal/logging"
	"github.com/gogpu/styletransfer/reproject"
)

// Step renders one displayed frame into out, which must be RGBA8 at the
// size of in.Color.
//
// Order within a frame: resolution check, staged controls and ring
// rotation at the cycle boundary, inference (or passthrough into the
// newest anchor), SDMV encoding on the boundary, compositing, and finally
// the index advance.
func (s *Scheduler) Step(in Frame, out *image.ImageBuf) (FrameResult, error) {
	if in.Color == nil {
		return FrameResult{}, ErrNoInput
	}
	if !out.SameShape(in.Color) {
		return FrameResult{}, fmt.Errorf("scheduler: output: %w", image.ErrSizeMismatch)
	}
	s.stats.Frames++

	var res FrameResult
	w, h := in.Color.Bounds()
	if err := s.ring.Check(w, h); err != nil {
		if !errors.Is(err, anchor.ErrResolutionMismatch) {
			return res, err
		}
		logging.L().Info("scheduler: resolution changed, reallocating anchors", "err", err)
		if err := s.reallocate(w, h); err != nil {
			return res, err
		}
		s.index = 0
		res.Reallocated = true
	}

	if s.index == 0 {
		applied, err := s.applyPending()
		if err != nil {
			return res, err
		}
		res.StyleApplied = applied
		s.ring.Rotate()
		s.stats.Rotations++
		res.Rotated = true
	}
	res.Index = s.index
	res.Factor = s.factor

	if err := s.infer(in, &res); err != nil {
		return res, err
	}

	if s.index == 0 && s.factor > 1 {
		if err := s.encode(in); err != nil {
			return res, err
		}
	}

	if err := s.composite(in, out, &res); err != nil {
		return res, err
	}

	s.index = (s.index + 1) % s.factor
	res.TimeScale = 0
	if s.index == s.factor-1 {
		res.TimeScale = float64(s.factor)
	}

	logging.L().Debug("scheduler: frame",
		"index", res.Index, "factor", res.Factor, "state", res.State,
		"layers", res.Layers, "cost", res.Cost, "passthrough", res.Passthrough)
	return res, nil
}

// infer runs step 2: passthrough, or drain-and-begin on the boundary
// followed by the per-frame layer budget.
func (s *Scheduler) infer(in Frame, res *FrameResult) error {
	if !s.enabled || (s.index != 0 && !s.started) {
		newest := s.ring.Newest()
		if err := newest.Color.CopyFrom(in.Color); err != nil {
			return err
		}
		newest.Valid = true
		res.Passthrough = true
		s.stats.Passthrough++
		return nil
	}

	if s.index == 0 {
		if s.started {
			if err := s.land(); err != nil {
				return err
			}
		}
		if err := s.session.Begin(s.conv.ToNetworkInput(in.Color)); err != nil {
			return err
		}
		s.started = true
		s.stats.Sessions++
	}

	budget := 1 / float64(s.factor)
	if s.index == s.factor-1 {
		budget = math.Inf(1)
	}
	n, consumed, err := s.session.AdvanceBudget(s.profile, budget)
	if err != nil {
		return err
	}
	res.Layers, res.Cost = n, consumed
	return nil
}

// land drains the running session into the most recently completed
// anchor slot and releases it.
func (s *Scheduler) land() error {
	if err := s.session.Drain(); err != nil {
		return err
	}
	t, err := s.session.PeekOutput()
	if err != nil {
		return err
	}
	mid := s.ring.Middle()
	if err := s.conv.ToDisplayBuffer(t, mid.Color, s.scale, s.bias); err != nil {
		return fmt.Errorf("scheduler: land output: %w", err)
	}
	mid.Valid = true
	s.session.Reset()
	return nil
}

// encode seeds the newest anchor's aux buffer from the frame and dilates
// it.
func (s *Scheduler) encode(in Frame) error {
	newest := s.ring.Newest()
	if in.DepthMotion != nil {
		if err := newest.Aux.CopyFrom(in.DepthMotion); err != nil {
			return fmt.Errorf("scheduler: depth+motion: %w", err)
		}
	} else {
		newest.Aux.FillFloat4(1, 0, 0, 0)
	}

	halo, skyHalo := s.halo, s.skyHalo
	if !s.enabled {
		halo, skyHalo = 0, 0
	}
	return s.enc.Encode(newest.Color, newest.Aux, halo, skyHalo)
}

func (s *Scheduler) composite(in Frame, out *image.ImageBuf, res *FrameResult) error {
	res.Alpha = float64(s.index) / float64(s.factor)
	res.PrevAlpha = reproject.NoPrevious
	if s.index > 1 {
		res.PrevAlpha = float64(s.index-1) / float64(s.factor)
	}

	if !s.ring.Ready() {
		res.State = StateAwaitingAnchors
		raw := &anchor.Frame{Color: in.Color, Valid: true}
		return s.comp.Composite(nil, raw, 0, reproject.NoPrevious, 0, out)
	}

	res.State = StateSteady
	border := s.borderHalo
	if !s.enabled {
		border = 0
	}
	// Every frame of a one-frame cycle shows the anchor it just drained.
	older := s.ring.Oldest()
	if s.factor == 1 {
		older = nil
	}
	return s.comp.Composite(older, s.ring.Middle(), res.Alpha, res.PrevAlpha, border, out)
}

// applyPending applies staged controls at the rotation boundary and
// reports whether a style change was applied.
func (s *Scheduler) applyPending() (bool, error) {
	p := s.pending
	s.pending = pending{}

	if p.factor != 0 && p.factor != s.factor {
		logging.L().Info("scheduler: upsample factor changed", "from", s.factor, "to", p.factor)
		s.factor = p.factor
	}

	if p.enabled != nil && *p.enabled != s.enabled {
		s.enabled = *p.enabled
		if !s.enabled {
			s.session.Reset()
			s.started = false
		}
		logging.L().Info("scheduler: style transfer toggled", "enabled", s.enabled)
	}

	if p.style == nil {
		return false, nil
	}
	s.session.Reset()
	old := s.session.Graph()
	s.session = inference.NewSession(p.style.graph)
	s.profile = profileFor(p.style.graph, p.style.costs)
	s.halo, s.skyHalo = p.style.halo, p.style.skyHalo
	s.started = false
	if old != p.style.graph {
		closeGraph(old)
	}

	w, h := s.ring.Size()
	if err := s.reallocate(w, h); err != nil {
		return true, err
	}
	logging.L().Info("scheduler: style applied", "layers", p.style.graph.LayerCount(),
		"halo", s.halo, "skyHalo", s.skyHalo)
	return true, nil
}

// reallocate rebuilds the ring and drops the in-flight session.
func (s *Scheduler) reallocate(w, h int) error {
	s.session.Reset()
	s.started = false
	if err := s.ring.Reallocate(w, h); err != nil {
		return err
	}
	s.enc.Release()
	s.mirrorRing()
	s.stats.Reallocation++
	return nil
}

// mirrorRing hands the current ring to the device mirror. A failed mirror
// only costs the device path: accelerators fall back on unknown buffers.
func (s *Scheduler) mirrorRing() {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Mirror(s.ring); err != nil {
		logging.L().Warn("scheduler: mirror ring", "err", err)
	}
}

// closeGraph releases a replaced graph if it holds resources.
func closeGraph(g inference.Graph) {
	switch c := g.(type) {
	case interface{ Close() }:
		c.Close()
	case io.Closer:
		if err := c.Close(); err != nil {
			logging.L().Warn("scheduler: close graph", "err", err)
		}
	}
}
