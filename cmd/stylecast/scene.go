package main

import (
	"math"

	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/scheduler"
)

// Scene depths: 0 is the near plane, 1 the sky.
const (
	skyDepth     = 1.0
	horizonDepth = 0.8
	groundDepth  = 0.4
	objectDepth  = 0.2
)

// object is a flat-shaded shape moving at a constant velocity in pixels
// per time unit.
type object struct {
	x, y    float64
	vx, vy  float64
	radius  float64
	round   bool
	r, g, b uint8
}

func (o object) at(clock float64, w, h int) (float64, float64) {
	x := math.Mod(o.x+o.vx*clock, float64(w))
	y := math.Mod(o.y+o.vy*clock, float64(h))
	if x < 0 {
		x += float64(w)
	}
	if y < 0 {
		y += float64(h)
	}
	return x, y
}

func (o object) covers(px, py, cx, cy float64) bool {
	dx, dy := px-cx, py-cy
	if o.round {
		return dx*dx+dy*dy <= o.radius*o.radius
	}
	return math.Abs(dx) <= o.radius && math.Abs(dy) <= o.radius
}

// scene renders colour plus depth and motion for a fixed camera looking at
// a ground plane under the sky, with objects sliding across it.
type scene struct {
	w, h    int
	horizon int
	clock   float64
	objects []object
}

func newScene(w, h int) *scene {
	return &scene{
		w:       w,
		h:       h,
		horizon: h * 3 / 10,
		objects: []object{
			{x: 0, y: float64(h) * 0.6, vx: 3, radius: float64(h) / 8, round: true, r: 230, g: 90, b: 40},
			{x: float64(w) * 0.5, y: float64(h) * 0.2, vx: -2, vy: 1.5, radius: float64(h) / 12, r: 60, g: 170, b: 90},
		},
	}
}

// advance moves the scene clock by the time scale the pipeline asked for.
func (s *scene) advance(timeScale float64) {
	s.clock += timeScale
}

// frame renders the current clock. Motion points from each pixel to where
// its surface was factor time units earlier, one anchor interval back.
func (s *scene) frame(factor int) scheduler.Frame {
	color, _ := image.NewImageBuf(s.w, s.h, image.FormatRGBA8)
	aux, _ := image.NewImageBuf(s.w, s.h, image.FormatRGBA16F)

	centres := make([][2]float64, len(s.objects))
	for i, o := range s.objects {
		centres[i][0], centres[i][1] = o.at(s.clock, s.w, s.h)
	}

	for y := range s.h {
		for x := range s.w {
			r, g, b, depth := s.background(x, y)
			var mx, my float64
			px, py := float64(x)+0.5, float64(y)+0.5
			for i, o := range s.objects {
				if o.covers(px, py, centres[i][0], centres[i][1]) {
					r, g, b, depth = o.r, o.g, o.b, objectDepth
					mx, my = -o.vx*float64(factor), -o.vy*float64(factor)
				}
			}
			_ = color.SetRGBA(x, y, r, g, b, 255)
			_ = aux.SetFloat4(x, y, float32(depth), float32(mx), float32(my), 0)
		}
	}
	return scheduler.Frame{Color: color, DepthMotion: aux}
}

func (s *scene) background(x, y int) (r, g, b uint8, depth float64) {
	if y < s.horizon {
		t := float64(y) / float64(s.horizon)
		return uint8(90 + 60*t), uint8(140 + 50*t), 235, skyDepth
	}
	t := float64(y-s.horizon) / float64(s.h-s.horizon)
	check := ((x/16)+(y/16))%2 == 0
	base := 110 + 40*t
	if check {
		base += 20
	}
	return uint8(base), uint8(base * 0.8), uint8(base * 0.5), horizonDepth + (groundDepth-horizonDepth)*t
}
