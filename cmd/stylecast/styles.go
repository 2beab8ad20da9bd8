package main

import (
	"github.com/lucasb-eyer/go-colorful"

	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/style"
)

const patternSize = 64

// builtinStyles returns two generated style images: warm diagonal bands
// and cool concentric rings.
func builtinStyles() []style.Profile {
	return []style.Profile{
		{Name: "ember", Image: pattern(func(x, y int) colorful.Color {
			return colorful.Hsv(float64((x+y)%patternSize)*50/patternSize, 0.85, 0.95)
		}), HaloSize: 2, SkyHaloSize: 12},
		{Name: "tide", Image: pattern(func(x, y int) colorful.Color {
			dx, dy := x-patternSize/2, y-patternSize/2
			ring := (dx*dx + dy*dy) / 48 % 6
			return colorful.Hcl(190+float64(ring)*12, 0.5, 0.35+float64(ring)*0.08).Clamped()
		}), HaloSize: 4, SkyHaloSize: 16},
	}
}

func pattern(at func(x, y int) colorful.Color) *image.ImageBuf {
	img, _ := image.NewImageBuf(patternSize, patternSize, image.FormatRGBA8)
	for y := range patternSize {
		for x := range patternSize {
			r, g, b := at(x, y).RGB255()
			_ = img.SetRGBA(x, y, r, g, b, 255)
		}
	}
	return img
}
