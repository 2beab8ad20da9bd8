package scheduler

import (
	"errors"
	"testing"

	"github.com/gogpu/styletransfer/anchor"
	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/inference"
	"github.com/gogpu/styletransfer/reproject"
)

const testSize = 8

// invertGraph returns an n-layer graph whose first layer inverts the image
// and whose other layers pass it through.
func invertGraph(t *testing.T, n int) *inference.LayerGraph {
	t.Helper()
	layers := make([]inference.Layer, n)
	layers[0] = inference.Layer{Name: "invert", Fn: func(in *inference.Tensor) *inference.Tensor {
		for i := range in.Data {
			in.Data[i] = 1 - in.Data[i]
		}
		return in
	}}
	for i := 1; i < n; i++ {
		layers[i] = inference.Layer{Name: "identity", Fn: func(in *inference.Tensor) *inference.Tensor { return in }}
	}
	g, err := inference.NewLayerGraph(layers...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(g.Close)
	return g
}

func newScheduler(t *testing.T, layers, factor int, costs []float64, enabled bool) *Scheduler {
	t.Helper()
	s, err := New(Config{
		Width:   testSize,
		Height:  testSize,
		Graph:   invertGraph(t, layers),
		Costs:   costs,
		Factor:  factor,
		Enabled: enabled,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func greyFrame(t *testing.T, v uint8) Frame {
	t.Helper()
	buf, err := image.NewImageBuf(testSize, testSize, image.FormatRGBA8)
	if err != nil {
		t.Fatal(err)
	}
	buf.Fill(v, v, v, 255)
	return Frame{Color: buf}
}

func step(t *testing.T, s *Scheduler, in Frame) (FrameResult, *image.ImageBuf) {
	t.Helper()
	out, _ := image.NewImageBuf(in.Color.Width(), in.Color.Height(), image.FormatRGBA8)
	res, err := s.Step(in, out)
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	return res, out
}

func grey(out *image.ImageBuf) uint8 {
	r, _, _, _ := out.GetRGBA(testSize/2, testSize/2)
	return r
}

func TestUniformScheduleFactor4(t *testing.T) {
	s := newScheduler(t, 8, 4, nil, true)

	for frame := range 4 {
		res, _ := step(t, s, greyFrame(t, 10))
		if res.Layers != 2 {
			t.Errorf("frame %d: advanced %d layers, want 2", frame, res.Layers)
		}
		if res.Rotated != (frame == 0) {
			t.Errorf("frame %d: Rotated = %v", frame, res.Rotated)
		}
		wantState := inference.StateRunning
		if frame == 3 {
			wantState = inference.StateCompleted
		}
		if got := s.Session().State(); got != wantState {
			t.Errorf("frame %d: session %v, want %v", frame, got, wantState)
		}
	}

	res, _ := step(t, s, greyFrame(t, 10))
	if !res.Rotated || res.Index != 0 {
		t.Errorf("frame 4: Rotated %v Index %d, want rotation at index 0", res.Rotated, res.Index)
	}
	if !s.Ring().Middle().Valid {
		t.Error("frame 4: drained output not landed in the middle anchor")
	}
	if s.Stats().Sessions != 2 {
		t.Errorf("Sessions = %d, want 2", s.Stats().Sessions)
	}
}

func TestWeightedScheduleFactor2(t *testing.T) {
	s := newScheduler(t, 6, 2, []float64{0.5, 0.1, 0.1, 0.1, 0.1, 0.1}, true)

	for frame, want := range []int{1, 5} {
		res, _ := step(t, s, greyFrame(t, 0))
		if res.Layers != want {
			t.Errorf("frame %d: advanced %d layers, want %d", frame, res.Layers, want)
		}
	}
	if s.Session().State() != inference.StateCompleted {
		t.Errorf("session %v after the cycle, want Completed", s.Session().State())
	}
}

func TestSessionCompletesWithinFactor(t *testing.T) {
	costs := []float64{0.05, 0.3, 0.01, 0.01, 0.2, 0.02, 0.01, 0.1, 0.25, 0.05}
	for factor := MinFactor; factor <= MaxFactor; factor++ {
		s := newScheduler(t, len(costs), factor, costs, true)
		total := 0
		for frame := range factor {
			res, _ := step(t, s, greyFrame(t, 0))
			total += res.Layers
			if frame < factor-1 && s.Session().State() == inference.StateIdle {
				t.Fatalf("factor %d frame %d: session idle mid-cycle", factor, frame)
			}
		}
		if s.Session().State() != inference.StateCompleted || total != len(costs) {
			t.Errorf("factor %d: state %v after %d layers, want Completed after %d",
				factor, s.Session().State(), total, len(costs))
		}
	}
}

func TestFactorOneAlwaysRotates(t *testing.T) {
	s := newScheduler(t, 3, 1, nil, true)

	for frame := range 8 {
		v := uint8(20 * frame)
		res, out := step(t, s, greyFrame(t, v))
		if !res.Rotated || res.Alpha != 0 || res.TimeScale != 1 {
			t.Fatalf("frame %d: Rotated %v Alpha %v TimeScale %v", frame, res.Rotated, res.Alpha, res.TimeScale)
		}
		if res.Layers != 3 {
			t.Errorf("frame %d: advanced %d layers, want the whole graph", frame, res.Layers)
		}
		if frame < 2 {
			if res.State != StateAwaitingAnchors || grey(out) != v {
				t.Errorf("frame %d: state %v grey %d, want raw passthrough %d", frame, res.State, grey(out), v)
			}
			continue
		}
		// A one-frame cycle shows the anchor it just drained: the previous frame, inverted.
		if want := 255 - uint8(20*(frame-1)); res.State != StateSteady || grey(out) != want {
			t.Errorf("frame %d: state %v grey %d, want steady %d", frame, res.State, grey(out), want)
		}
	}
}

func TestStartupBoundary(t *testing.T) {
	s := newScheduler(t, 2, 2, nil, true)

	// Frame 0 starts inference immediately; there is nothing to show yet.
	res, out := step(t, s, greyFrame(t, 40))
	if res.Passthrough || s.Stats().Sessions != 1 || res.State != StateAwaitingAnchors || grey(out) != 40 {
		t.Fatalf("frame 0: %+v grey %d", res, grey(out))
	}

	res, _ = step(t, s, greyFrame(t, 50))
	if res.Passthrough || res.Rotated {
		t.Fatalf("frame 1: %+v", res)
	}

	// Frame 2 lands the first anchor; one anchor is not enough to composite.
	res, out = step(t, s, greyFrame(t, 60))
	if !res.Rotated || res.State != StateAwaitingAnchors || grey(out) != 60 {
		t.Fatalf("frame 2: %+v grey %d", res, grey(out))
	}
	if s.Ring().ValidCount() != 1 {
		t.Errorf("frame 2: %d valid anchors, want 1", s.Ring().ValidCount())
	}

	res, _ = step(t, s, greyFrame(t, 70))
	if res.State != StateAwaitingAnchors {
		t.Fatalf("frame 3: state %v", res.State)
	}

	// Frame 4 has two anchors: alpha 0 shows the older one (frame 0, inverted).
	res, out = step(t, s, greyFrame(t, 80))
	if res.State != StateSteady || res.Alpha != 0 || res.PrevAlpha != reproject.NoPrevious {
		t.Fatalf("frame 4: %+v", res)
	}
	if grey(out) != 255-40 {
		t.Errorf("frame 4: grey %d, want %d", grey(out), 255-40)
	}

	res, _ = step(t, s, greyFrame(t, 90))
	if res.Alpha != 0.5 || res.PrevAlpha != reproject.NoPrevious {
		t.Errorf("frame 5: Alpha %v PrevAlpha %v, want 0.5 and NoPrevious", res.Alpha, res.PrevAlpha)
	}
}

func TestSteadyOutputMovesForwardAcrossRotations(t *testing.T) {
	s := newScheduler(t, 8, 4, nil, true)

	prev := -1
	for frame := range 24 {
		res, out := step(t, s, greyFrame(t, uint8(10*frame)))
		if res.State != StateSteady {
			continue
		}
		// The camera brightens every frame, so the inverted output must
		// darken every frame, including the one after each rotation.
		got := int(grey(out))
		if prev >= 0 && got >= prev {
			t.Errorf("frame %d (index %d): grey %d after %d, output went back in time", frame, res.Index, got, prev)
		}
		prev = got
	}
	if prev < 0 {
		t.Fatal("pipeline never reached the steady state")
	}
}

func TestPassthroughUntilNextBoundaryAfterDiscard(t *testing.T) {
	s := newScheduler(t, 4, 4, nil, true)
	step(t, s, greyFrame(t, 0))

	s.Discard()
	for frame := 1; frame < 4; frame++ {
		res, _ := step(t, s, greyFrame(t, 0))
		if !res.Passthrough || res.Layers != 0 {
			t.Errorf("frame %d: Passthrough %v Layers %d, want passthrough", frame, res.Passthrough, res.Layers)
		}
		if s.Session().State() != inference.StateIdle {
			t.Errorf("frame %d: session %v, want Idle", frame, s.Session().State())
		}
	}

	res, _ := step(t, s, greyFrame(t, 0))
	if res.Passthrough || s.Session().State() != inference.StateRunning {
		t.Errorf("boundary: Passthrough %v session %v, want a new running session", res.Passthrough, s.Session().State())
	}
	if res.State != StateAwaitingAnchors {
		t.Errorf("boundary: state %v, want AwaitingAnchors after discarded anchors", res.State)
	}
}

func TestDisableNeverLeavesRunningSession(t *testing.T) {
	s := newScheduler(t, 8, 4, nil, true)
	step(t, s, greyFrame(t, 0))
	step(t, s, greyFrame(t, 0))

	s.SetEnabled(false)
	for frame := 2; frame < 4; frame++ {
		res, _ := step(t, s, greyFrame(t, 0))
		if res.Passthrough || !s.Enabled() {
			t.Fatalf("frame %d: disable applied before the boundary", frame)
		}
	}

	for frame := 4; frame < 8; frame++ {
		res, _ := step(t, s, greyFrame(t, 0))
		if !res.Passthrough || s.Enabled() {
			t.Fatalf("frame %d: Passthrough %v Enabled %v", frame, res.Passthrough, s.Enabled())
		}
		if s.Session().State() == inference.StateRunning {
			t.Fatalf("frame %d: session still running while disabled", frame)
		}
	}

	s.SetEnabled(true)
	res, _ := step(t, s, greyFrame(t, 0))
	if res.Passthrough || s.Session().State() != inference.StateRunning || s.Session().CurrentLayer() != 2 {
		t.Errorf("re-enable: Passthrough %v session %v layer %d, want a fresh session",
			res.Passthrough, s.Session().State(), s.Session().CurrentLayer())
	}
}

func TestFactorChangeHonoredAtBoundary(t *testing.T) {
	s := newScheduler(t, 8, 4, nil, true)
	step(t, s, greyFrame(t, 0))

	if got := s.SetFactor(2); got != 2 || s.PendingFactor() != 2 || s.Factor() != 4 {
		t.Fatalf("SetFactor(2) = %d, pending %d, active %d", got, s.PendingFactor(), s.Factor())
	}
	for frame := 1; frame < 4; frame++ {
		res, _ := step(t, s, greyFrame(t, 0))
		if res.Factor != 4 || res.Layers != 2 {
			t.Errorf("frame %d: Factor %d Layers %d, want old factor 4 with 2 layers", frame, res.Factor, res.Layers)
		}
	}

	res, _ := step(t, s, greyFrame(t, 0))
	if !res.Rotated || res.Factor != 2 || res.Layers != 4 {
		t.Errorf("boundary: Rotated %v Factor %d Layers %d, want new factor 2 with 4 layers", res.Rotated, res.Factor, res.Layers)
	}
	res, _ = step(t, s, greyFrame(t, 0))
	if res.Index != 1 || s.Session().State() != inference.StateCompleted {
		t.Errorf("index %d session %v", res.Index, s.Session().State())
	}
	if res, _ = step(t, s, greyFrame(t, 0)); !res.Rotated {
		t.Error("factor 2 should rotate every second frame")
	}
}

func TestClampFactor(t *testing.T) {
	for in, want := range map[int]int{-3: 1, 0: 1, 1: 1, 7: 7, 16: 16, 40: 16} {
		if got := ClampFactor(in); got != want {
			t.Errorf("ClampFactor(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestResolutionChangeReallocates(t *testing.T) {
	s := newScheduler(t, 4, 4, nil, true)
	step(t, s, greyFrame(t, 0))
	step(t, s, greyFrame(t, 0))

	big, _ := image.NewImageBuf(2*testSize, testSize, image.FormatRGBA8)
	res, _ := step(t, s, Frame{Color: big})
	if !res.Reallocated || !res.Rotated || res.Index != 0 || res.State != StateAwaitingAnchors {
		t.Fatalf("resize: %+v", res)
	}
	if w, h := s.Ring().Size(); w != 2*testSize || h != testSize {
		t.Errorf("ring size %dx%d, want %dx%d", w, h, 2*testSize, testSize)
	}
	if s.Stats().Reallocation != 1 || s.Session().CurrentLayer() != 1 {
		t.Errorf("Reallocation %d layer %d, want 1 and a fresh session", s.Stats().Reallocation, s.Session().CurrentLayer())
	}
}

type recordingMirror struct {
	sizes [][2]int
	err   error
}

func (m *recordingMirror) Mirror(r *anchor.Ring) error {
	w, h := r.Size()
	m.sizes = append(m.sizes, [2]int{w, h})
	return m.err
}

func TestMirrorFollowsReallocation(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ok", nil},
		{"failing mirror is not fatal", errors.New("out of device memory")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &recordingMirror{err: tt.err}
			s, err := New(Config{Width: testSize, Height: testSize, Graph: invertGraph(t, 2), Factor: 2, Enabled: true, Mirror: m})
			if err != nil {
				t.Fatal(err)
			}
			step(t, s, greyFrame(t, 0))
			big, _ := image.NewImageBuf(2*testSize, testSize, image.FormatRGBA8)
			step(t, s, Frame{Color: big})

			want := [][2]int{{testSize, testSize}, {2 * testSize, testSize}}
			if len(m.sizes) != len(want) || m.sizes[0] != want[0] || m.sizes[1] != want[1] {
				t.Errorf("mirrored sizes = %v, want %v", m.sizes, want)
			}
		})
	}
}

type countingGraph struct {
	*inference.LayerGraph
	closed int
}

func (g *countingGraph) Close() {
	g.closed++
	g.LayerGraph.Close()
}

func TestStyleChangeAtBoundary(t *testing.T) {
	old := &countingGraph{LayerGraph: invertGraph(t, 2)}
	s, err := New(Config{Width: testSize, Height: testSize, Graph: old, Factor: 2, Enabled: true, HaloSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		step(t, s, greyFrame(t, 0))
	}

	next := invertGraph(t, 5)
	if err := s.SetStyle(next, nil, 3, 9); err != nil {
		t.Fatal(err)
	}
	res, _ := step(t, s, greyFrame(t, 0))
	if res.StyleApplied || s.Session().Graph() != old {
		t.Fatal("style applied mid-cycle")
	}

	res, _ = step(t, s, greyFrame(t, 0))
	if !res.StyleApplied || !res.Rotated {
		t.Fatalf("boundary: %+v", res)
	}
	if s.Session().Graph() != next || s.Session().LayerCount() != 5 {
		t.Error("new graph not active")
	}
	if old.closed != 1 {
		t.Errorf("old graph closed %d times, want 1", old.closed)
	}
	if s.Ring().ValidCount() != 0 || res.State != StateAwaitingAnchors {
		t.Errorf("anchors not reallocated: %d valid, state %v", s.Ring().ValidCount(), res.State)
	}
	if s.halo != 3 || s.skyHalo != 9 {
		t.Errorf("halos = %d, %d, want 3, 9", s.halo, s.skyHalo)
	}

	if err := s.SetStyle(nil, nil, 0, 0); !errors.Is(err, ErrNoGraph) {
		t.Errorf("SetStyle(nil) error = %v, want ErrNoGraph", err)
	}
}

func TestSupersededStyleIsClosed(t *testing.T) {
	s := newScheduler(t, 2, 2, nil, true)
	first := &countingGraph{LayerGraph: invertGraph(t, 2)}
	second := &countingGraph{LayerGraph: invertGraph(t, 3)}

	_ = s.SetStyle(first, nil, 0, 0)
	_ = s.SetStyle(second, nil, 0, 0)
	if first.closed != 1 || second.closed != 0 {
		t.Fatalf("closed = %d, %d, want 1, 0", first.closed, second.closed)
	}

	res, _ := step(t, s, greyFrame(t, 0))
	if !res.StyleApplied || s.Session().Graph() != second {
		t.Fatal("second style not applied")
	}

	s.Release()
	if second.closed != 1 {
		t.Errorf("Release closed the active graph %d times, want 1", second.closed)
	}
}

func TestPendingEnabled(t *testing.T) {
	s := newScheduler(t, 2, 2, nil, true)
	if !s.PendingEnabled() {
		t.Fatal("PendingEnabled() = false without a staged change")
	}
	s.SetEnabled(false)
	if s.PendingEnabled() || !s.Enabled() {
		t.Errorf("PendingEnabled %v Enabled %v, want false and true", s.PendingEnabled(), s.Enabled())
	}
}

func TestTimeScale(t *testing.T) {
	s := newScheduler(t, 3, 3, nil, true)
	want := []float64{0, 3, 0, 0, 3, 0}
	for frame, w := range want {
		res, _ := step(t, s, greyFrame(t, 0))
		if res.TimeScale != w {
			t.Errorf("frame %d: TimeScale %v, want %v", frame, res.TimeScale, w)
		}
	}
}

func TestDepthMotionSeedsNewestAnchor(t *testing.T) {
	s := newScheduler(t, 2, 2, nil, true)

	dm, _ := image.NewImageBuf(testSize, testSize, image.FormatRGBA16F)
	dm.FillFloat4(0.5, 2, -1, 0)
	in := greyFrame(t, 0)
	in.DepthMotion = dm
	step(t, s, in)
	if d, mx, my, mask := s.Ring().Newest().Aux.GetFloat4(3, 3); d != 0.5 || mx != 2 || my != -1 || mask != 0 {
		t.Errorf("aux = (%v %v %v %v), want (0.5 2 -1 0)", d, mx, my, mask)
	}

	step(t, s, greyFrame(t, 0))
	step(t, s, greyFrame(t, 0))
	for _, p := range [][2]int{{0, 0}, {3, 3}, {testSize - 1, testSize - 1}} {
		if d, mx, _, _ := s.Ring().Newest().Aux.GetFloat4(p[0], p[1]); d != 1 || mx != 0 {
			t.Errorf("aux %v without depth+motion = (%v %v), want far plane and no motion", p, d, mx)
		}
	}

	small, _ := image.NewImageBuf(2, 2, image.FormatRGBA16F)
	in = greyFrame(t, 0)
	in.DepthMotion = small
	out, _ := image.NewImageBuf(testSize, testSize, image.FormatRGBA8)
	step(t, s, greyFrame(t, 0))
	if _, err := s.Step(in, out); !errors.Is(err, image.ErrSizeMismatch) {
		t.Errorf("mismatched depth+motion error = %v, want ErrSizeMismatch", err)
	}
}

func TestMismatchedCostsFallBackToUniform(t *testing.T) {
	s := newScheduler(t, 4, 2, []float64{1, 1}, true)
	res, _ := step(t, s, greyFrame(t, 0))
	if res.Layers != 2 {
		t.Errorf("advanced %d layers, want 2 with uniform fallback", res.Layers)
	}
}

func TestStepErrors(t *testing.T) {
	if _, err := New(Config{Width: 4, Height: 4}); !errors.Is(err, ErrNoGraph) {
		t.Errorf("New without graph error = %v, want ErrNoGraph", err)
	}

	s := newScheduler(t, 2, 2, nil, true)
	out, _ := image.NewImageBuf(testSize, testSize, image.FormatRGBA8)
	if _, err := s.Step(Frame{}, out); !errors.Is(err, ErrNoInput) {
		t.Errorf("Step without color error = %v, want ErrNoInput", err)
	}
	small, _ := image.NewImageBuf(2, 2, image.FormatRGBA8)
	if _, err := s.Step(greyFrame(t, 0), small); !errors.Is(err, image.ErrSizeMismatch) {
		t.Errorf("Step with small output error = %v, want ErrSizeMismatch", err)
	}
}

func TestStateString(t *testing.T) {
	if StateSteady.String() != "Steady" || StateAwaitingAnchors.String() != "AwaitingAnchors" || State(5).String() != "Unknown" {
		t.Error("unexpected state names")
	}
}
