package inference

import "fmt"

// Tensor is a dense float32 tensor in CHW layout (one image, no batch axis).
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// NewTensor allocates a zeroed CHW tensor.
func NewTensor(channels, height, width int) *Tensor {
	return &Tensor{
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, channels*height*width),
	}
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return t.Channels * t.Height * t.Width
}

// Index returns the flat index of element (c, y, x).
func (t *Tensor) Index(c, y, x int) int {
	return (c*t.Height+y)*t.Width + x
}

// At returns element (c, y, x).
func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[t.Index(c, y, x)]
}

// Set stores element (c, y, x).
func (t *Tensor) Set(c, y, x int, v float32) {
	t.Data[t.Index(c, y, x)] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := *t
	c.Data = append([]float32(nil), t.Data...)
	return &c
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%dx%dx%d)", t.Channels, t.Height, t.Width)
}
