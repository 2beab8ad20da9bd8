package inference

import (
	"errors"
	"fmt"

	"github.com/gogpu/styletransfer/cost"
)

// Session errors.
var (
	// ErrInvalidState is returned when a session method is called in the
	// wrong state, for example Begin while Running. The session refuses
	// further work until Reset.
	ErrInvalidState = errors.New("inference: invalid session state")

	// ErrNilInput is returned by Begin when no input tensor is given.
	ErrNilInput = errors.New("inference: nil input tensor")
)

// State is the lifecycle state of a Session.
type State uint8

const (
	// StateIdle means no evaluation is in flight.
	StateIdle State = iota

	// StateRunning means layers remain to be enqueued.
	StateRunning

	// StateCompleted means every layer has been enqueued.
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Session is one resumable evaluation of a Graph, advanced layer by layer
// under caller control. A Session is reused: Reset returns it to Idle.
//
// Session is not safe for concurrent use; the scheduler owns it.
type Session struct {
	graph  Graph
	eval   Evaluation
	input  *Tensor
	layer  int
	state  State
	synced bool
	failed bool
}

// NewSession creates an idle session over g.
func NewSession(g Graph) *Session {
	return &Session{graph: g}
}

// Graph returns the graph this session evaluates.
func (s *Session) Graph() Graph {
	return s.graph
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// CurrentLayer returns the index of the next layer to enqueue.
func (s *Session) CurrentLayer() int {
	return s.layer
}

// LayerCount returns the number of layers in the graph.
func (s *Session) LayerCount() int {
	return s.graph.LayerCount()
}

// Begin starts an evaluation on input and takes ownership of it: the caller
// must not reuse the tensor. Begin is only valid while Idle.
func (s *Session) Begin(input *Tensor) error {
	if err := s.check(StateIdle, "begin"); err != nil {
		s.failed = true
		return err
	}
	if input == nil {
		return ErrNilInput
	}

	eval, err := s.graph.Begin(input)
	if err != nil {
		return fmt.Errorf("inference: begin evaluation: %w", err)
	}

	s.eval = eval
	s.input = input
	s.layer = 0
	s.synced = false
	s.state = StateRunning
	if s.graph.LayerCount() == 0 {
		s.state = StateCompleted
	}
	return nil
}

// Advance enqueues up to maxLayers pending layers and returns how many were
// enqueued. maxLayers <= 0 is a no-op. A Completed session has nothing left
// to enqueue and returns 0. Advance does not wait for the device.
func (s *Session) Advance(maxLayers int) (int, error) {
	if s.failed || s.state == StateIdle {
		return 0, fmt.Errorf("%w: advance while %s", ErrInvalidState, s.state)
	}
	if s.state == StateCompleted || maxLayers <= 0 {
		return 0, nil
	}

	n := s.eval.Advance(min(maxLayers, s.graph.LayerCount()-s.layer))
	s.layer += n
	s.synced = false
	if s.layer >= s.graph.LayerCount() {
		s.state = StateCompleted
	}
	return n, nil
}

// AdvanceBudget enqueues the layers that fit in budget according to p and
// returns the number of layers and the normalized cost they account for.
func (s *Session) AdvanceBudget(p cost.Profile, budget float64) (int, float64, error) {
	if s.failed || s.state == StateIdle {
		return 0, 0, fmt.Errorf("%w: advance while %s", ErrInvalidState, s.state)
	}

	from := s.layer
	planned, _ := p.Plan(from, budget)
	n, err := s.Advance(planned)
	if err != nil {
		return 0, 0, err
	}

	var consumed float64
	for i := from; i < from+n; i++ {
		consumed += p.Weight(i)
	}
	return n, consumed, nil
}

// Drain enqueues every remaining layer and blocks until the device has
// finished all of them. After Drain the session is Completed and
// PeekOutput holds final values.
func (s *Session) Drain() error {
	if s.failed || s.state == StateIdle {
		return fmt.Errorf("%w: drain while %s", ErrInvalidState, s.state)
	}
	for s.state == StateRunning {
		if _, err := s.Advance(s.graph.LayerCount() - s.layer); err != nil {
			return err
		}
	}
	s.sync()
	return nil
}

// PeekOutput returns a read-only view of the final tensor. Only valid once
// Completed; waits for outstanding device work first.
func (s *Session) PeekOutput() (*Tensor, error) {
	if err := s.check(StateCompleted, "peek output"); err != nil {
		return nil, err
	}
	s.sync()
	return s.eval.Output(), nil
}

// Reset releases the input and intermediate buffers and returns to Idle.
// Work already enqueued finishes first: a session is only ever discarded
// at a layer boundary.
func (s *Session) Reset() {
	if s.eval != nil {
		s.eval.Sync()
		s.eval.Release()
	}
	s.eval = nil
	s.input = nil
	s.layer = 0
	s.synced = false
	s.failed = false
	s.state = StateIdle
}

func (s *Session) sync() {
	if !s.synced {
		s.eval.Sync()
		s.synced = true
	}
}

func (s *Session) check(want State, op string) error {
	if s.failed {
		return fmt.Errorf("%w: %s after failure, reset required", ErrInvalidState, op)
	}
	if s.state != want {
		return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, s.state)
	}
	return nil
}
