// Package cost holds per-layer relative cost profiles used to turn a
// per-frame time budget into a number of network layers to execute.
package cost

import (
	"errors"
	"fmt"
	"math"
)

// ErrIncompleteProfile reports a profile that cannot describe the graph it
// is paired with: wrong length, negative or non-finite entries, or an all
// zero table. It is a warning: callers fall back to Uniform.
var ErrIncompleteProfile = errors.New("cost: incomplete profile")

// Profile is an immutable table of normalized per-layer cost weights.
// Entries are non-negative and sum to 1.
type Profile struct {
	weights []float64
	uniform bool
}

// Uniform returns a profile weighting each of n layers 1/n.
func Uniform(n int) Profile {
	if n <= 0 {
		return Profile{uniform: true}
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return Profile{weights: w, uniform: true}
}

// New validates relative weights and normalizes them to sum 1.
// The input slice is copied.
func New(weights []float64) (Profile, error) {
	if len(weights) == 0 {
		return Profile{}, fmt.Errorf("%w: empty", ErrIncompleteProfile)
	}

	var sum float64
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return Profile{}, fmt.Errorf("%w: layer %d has weight %v", ErrIncompleteProfile, i, w)
		}
		sum += w
	}
	if sum == 0 {
		return Profile{}, fmt.Errorf("%w: all weights are zero", ErrIncompleteProfile)
	}

	norm := make([]float64, len(weights))
	for i, w := range weights {
		norm[i] = w / sum
	}
	return Profile{weights: norm}, nil
}

// ForGraph pairs relative weights with a graph of layerCount layers.
// A nil table, or one that does not match, yields Uniform(layerCount)
// together with an error wrapping ErrIncompleteProfile (nil table: no error).
func ForGraph(weights []float64, layerCount int) (Profile, error) {
	if weights == nil {
		return Uniform(layerCount), nil
	}
	if len(weights) != layerCount {
		return Uniform(layerCount), fmt.Errorf("%w: %d weights for %d layers",
			ErrIncompleteProfile, len(weights), layerCount)
	}
	p, err := New(weights)
	if err != nil {
		return Uniform(layerCount), err
	}
	return p, nil
}

// Len returns the number of layers described.
func (p Profile) Len() int {
	return len(p.weights)
}

// Weight returns the normalized cost of layer i, or 0 when out of range.
func (p Profile) Weight(i int) float64 {
	if i < 0 || i >= len(p.weights) {
		return 0
	}
	return p.weights[i]
}

// IsUniform reports whether the profile is the equal-weight fallback.
func (p Profile) IsUniform() bool {
	return p.uniform
}

// Remaining returns the cost of layers [from, Len).
func (p Profile) Remaining(from int) float64 {
	var sum float64
	for i := max(from, 0); i < len(p.weights); i++ {
		sum += p.weights[i]
	}
	return sum
}

// Plan returns how many layers starting at layer from fit in budget, and
// their summed cost. Layers are taken while the cost consumed so far is
// below budget, so a single expensive layer may overshoot it. The plan
// never runs past the last layer.
func (p Profile) Plan(from int, budget float64) (layers int, consumed float64) {
	for i := max(from, 0); i < len(p.weights) && consumed < budget; i++ {
		consumed += p.weights[i]
		layers++
	}
	return layers, consumed
}
