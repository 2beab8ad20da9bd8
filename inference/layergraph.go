package inference

import (
	"errors"
	"sync"
)

// ErrNoLayers is returned when a LayerGraph is built without layers.
var ErrNoLayers = errors.New("inference: graph has no layers")

// LayerFunc computes one layer. It may return its input after modifying it
// in place or a new tensor.
type LayerFunc func(in *Tensor) *Tensor

// Layer is one named step of a LayerGraph.
type Layer struct {
	Name string
	Fn   LayerFunc
}

// LayerGraph is an in-process Graph. Layers execute in order on a single
// device goroutine, so Advance returns as soon as work is queued, the way a
// GPU command queue behaves.
//
// Thread safety: a LayerGraph may back several sequential sessions; only
// one evaluation should be in flight at a time.
type LayerGraph struct {
	layers []Layer
	dev    *device
}

// NewLayerGraph creates a graph and starts its device goroutine.
// Call Close to stop the device.
func NewLayerGraph(layers ...Layer) (*LayerGraph, error) {
	if len(layers) == 0 {
		return nil, ErrNoLayers
	}
	return &LayerGraph{
		layers: append([]Layer(nil), layers...),
		dev:    newDevice(),
	}, nil
}

// LayerCount implements Graph.
func (g *LayerGraph) LayerCount() int {
	return len(g.layers)
}

// LayerNames returns the layer names in execution order.
func (g *LayerGraph) LayerNames() []string {
	names := make([]string, len(g.layers))
	for i, l := range g.layers {
		names[i] = l.Name
	}
	return names
}

// Begin implements Graph. Layers may modify the input in place; the
// evaluation owns it from here on.
func (g *LayerGraph) Begin(input *Tensor) (Evaluation, error) {
	if input == nil {
		return nil, ErrNilInput
	}
	return &layerEval{graph: g, cur: input}, nil
}

// Close stops the device goroutine after queued work has run.
func (g *LayerGraph) Close() {
	g.dev.close()
}

// layerEval is one pass over a LayerGraph. cur is only touched by the
// device goroutine between Advance and Sync.
type layerEval struct {
	graph   *LayerGraph
	cur     *Tensor
	next    int
	pending sync.WaitGroup
}

func (e *layerEval) Advance(n int) int {
	enqueued := 0
	for ; enqueued < n && e.next < len(e.graph.layers); enqueued++ {
		fn := e.graph.layers[e.next].Fn
		e.next++

		e.pending.Add(1)
		e.graph.dev.submit(func() {
			defer e.pending.Done()
			if out := fn(e.cur); out != nil {
				e.cur = out
			}
		})
	}
	return enqueued
}

func (e *layerEval) Complete() bool {
	return e.next >= len(e.graph.layers)
}

func (e *layerEval) Sync() {
	e.pending.Wait()
}

func (e *layerEval) Output() *Tensor {
	return e.cur
}

func (e *layerEval) Release() {
	e.pending.Wait()
	e.cur = nil
}

// device is a single ordered command queue drained by one goroutine.
// mu orders submit against close: a send in progress holds the read lock,
// so nothing reaches the queue once run may have returned.
type device struct {
	queue  chan func()
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func newDevice() *device {
	d := &device{
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *device) run() {
	defer d.wg.Done()
	for {
		select {
		case work := <-d.queue:
			work()
		case <-d.done:
			for {
				select {
				case work := <-d.queue:
					work()
				default:
					return
				}
			}
		}
	}
}

// submit queues work. After close, work runs on the caller.
func (d *device) submit(work func()) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		work()
		return
	}
	d.queue <- work
	d.mu.RUnlock()
}

func (d *device) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()
	d.wg.Wait()
}
