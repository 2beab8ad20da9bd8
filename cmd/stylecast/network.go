package main

import (
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/inference"
	"github.com/gogpu/styletransfer/interop"
	"github.com/gogpu/styletransfer/style"
)

// networkLayers matches the length of cost.Reference32Channels.
const networkLayers = 40

// prepare builds a toy 40-layer network for p: smoothing, a pull toward
// the style's palette, posterization, and the mean-centred output the
// post-network bias expects.
func prepare(p style.Profile) (inference.Graph, error) {
	mean, err := meanColor(p.Image)
	if err != nil {
		return nil, fmt.Errorf("stylecast: style %q: %w", p.Name, err)
	}

	layers := make([]inference.Layer, 0, networkLayers)
	for range 5 {
		layers = append(layers, inference.Layer{Name: "reshape", Fn: identity})
	}
	for i := 5; i < networkLayers-2; i++ {
		switch i % 3 {
		case 0:
			layers = append(layers, inference.Layer{Name: "conv", Fn: boxBlur})
		case 1:
			layers = append(layers, inference.Layer{Name: "norm", Fn: contrast(1.04)})
		default:
			layers = append(layers, inference.Layer{Name: "mix", Fn: pull(mean, 0.04)})
		}
	}
	layers = append(layers,
		inference.Layer{Name: "posterize", Fn: posterize(6)},
		inference.Layer{Name: "centre", Fn: shift(interop.PostNetworkBias, -1)},
	)
	return inference.NewLayerGraph(layers...)
}

// meanColor averages the style image.
func meanColor(img *image.ImageBuf) ([3]float32, error) {
	w, h := img.Bounds()
	if w == 0 || h == 0 {
		return [3]float32{}, errors.New("empty style image")
	}
	var sum [3]float64
	for y := range h {
		for x := range w {
			r, g, b, _ := img.GetFloat4(x, y)
			sum[0] += float64(r)
			sum[1] += float64(g)
			sum[2] += float64(b)
		}
	}
	n := float64(w * h)
	return [3]float32{float32(sum[0] / n), float32(sum[1] / n), float32(sum[2] / n)}, nil
}

func identity(t *inference.Tensor) *inference.Tensor { return t }

func boxBlur(t *inference.Tensor) *inference.Tensor {
	out := inference.NewTensor(t.Channels, t.Height, t.Width)
	for c := range t.Channels {
		for y := range t.Height {
			for x := range t.Width {
				var sum float32
				var n int
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						sx, sy := x+dx, y+dy
						if sx < 0 || sy < 0 || sx >= t.Width || sy >= t.Height {
							continue
						}
						sum += t.At(c, sy, sx)
						n++
					}
				}
				out.Set(c, y, x, sum/float32(n))
			}
		}
	}
	return out
}

func contrast(k float32) inference.LayerFunc {
	return func(t *inference.Tensor) *inference.Tensor {
		for i, v := range t.Data {
			t.Data[i] = 0.5 + (v-0.5)*k
		}
		return t
	}
}

func pull(target [3]float32, amount float32) inference.LayerFunc {
	return func(t *inference.Tensor) *inference.Tensor {
		plane := t.Height * t.Width
		for c := range min(t.Channels, 3) {
			for i := c * plane; i < (c+1)*plane; i++ {
				t.Data[i] += (target[c] - t.Data[i]) * amount
			}
		}
		return t
	}
}

func posterize(levels float64) inference.LayerFunc {
	return func(t *inference.Tensor) *inference.Tensor {
		for i, v := range t.Data {
			t.Data[i] = float32(math.Round(float64(v)*levels) / levels)
		}
		return t
	}
}

func shift(bias [4]float32, sign float32) inference.LayerFunc {
	return func(t *inference.Tensor) *inference.Tensor {
		plane := t.Height * t.Width
		for c := range min(t.Channels, 4) {
			for i := c * plane; i < (c+1)*plane; i++ {
				t.Data[i] += sign * bias[c]
			}
		}
		return t
	}
}
