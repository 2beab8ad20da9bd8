// Package inference runs one evaluation of a layered computation graph
// incrementally, a few layers per displayed frame.
//
// The graph itself is an external collaborator described by Graph and
// Evaluation. Session wraps one Evaluation with the Idle/Running/Completed
// state machine the scheduler drives. LayerGraph is an in-process Graph
// whose layers execute asynchronously on a device goroutine.
package inference

// Graph is a prepared computation graph. Layer order must match the order
// the paired cost profile was measured against.
type Graph interface {
	// LayerCount returns the number of layers.
	LayerCount() int

	// Begin starts a new evaluation on input. No layer runs until Advance.
	Begin(input *Tensor) (Evaluation, error)
}

// Evaluation is one resumable pass over a Graph.
type Evaluation interface {
	// Advance enqueues up to n pending layers on the device and returns
	// how many were enqueued. It does not wait for them.
	Advance(n int) int

	// Complete reports whether every layer has been enqueued.
	Complete() bool

	// Sync blocks until all enqueued work has finished on the device.
	Sync()

	// Output returns the final tensor. Valid after Complete and Sync.
	Output() *Tensor

	// Release frees intermediate buffers. The evaluation is unusable after.
	Release()
}
