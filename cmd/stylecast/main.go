// Command stylecast renders a synthetic moving scene through the
// styletransfer pipeline and writes every displayed frame as a PNG.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"github.com/gogpu/styletransfer"
	"github.com/gogpu/styletransfer/cost"
	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/style"
)

func main() {
	var (
		width      = flag.Int("width", 320, "frame width")
		height     = flag.Int("height", 240, "frame height")
		frames     = flag.Int("frames", 48, "number of displayed frames")
		factor     = flag.Int("factor", 4, "framerate upsample factor (1-16)")
		upsampling = flag.Bool("upsample", true, "enable temporal upsampling")
		styles     = flag.String("styles", "", "comma-separated style PNGs (default: built-in patterns)")
		cycle      = flag.Int("cycle", 0, "switch to the next style every N frames (0 = never)")
		output     = flag.String("output", "frames", "output directory")
		hud        = flag.Bool("hud", true, "draw the upsample factor line")
		useGPU     = flag.Bool("gpu", true, "dilate and composite on a Vulkan device when one is present")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		styletransfer.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	set, err := loadStyles(*styles)
	if err != nil {
		log.Fatalf("Failed to load styles: %v", err)
	}

	opts := []styletransfer.Option{
		styletransfer.WithFactor(*factor),
		styletransfer.WithUpsampling(*upsampling),
		styletransfer.WithCosts(cost.Reference32Channels),
		styletransfer.WithWorkers(0),
		styletransfer.WithGPU(*useGPU),
	}
	if *hud {
		opts = append(opts, styletransfer.WithHUD(language.English))
	}
	p, err := styletransfer.New(*width, *height, set, styletransfer.PreparerFunc(prepare), opts...)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	defer p.Close()
	if info, ok := p.Accelerator(); ok {
		log.Printf("Using %s adapter %s", info.Type, info.Name)
	}

	if err := os.MkdirAll(*output, 0o755); err != nil {
		log.Fatalf("Failed to create %s: %v", *output, err)
	}

	sc := newScene(*width, *height)
	out, err := image.NewImageBuf(*width, *height, image.FormatRGBA8)
	if err != nil {
		log.Fatalf("Failed to allocate output: %v", err)
	}

	for i := range *frames {
		if *cycle > 0 && i > 0 && i%*cycle == 0 {
			if s, err := p.NextStyle(); err != nil {
				log.Printf("Style switch skipped: %v", err)
			} else {
				log.Printf("Frame %d: switching to style %q", i, s.Name)
			}
		}

		res, err := p.Render(sc.frame(p.Factor()), out)
		if err != nil {
			log.Fatalf("Frame %d: %v", i, err)
		}
		sc.advance(res.TimeScale)

		path := filepath.Join(*output, fmt.Sprintf("frame_%04d.png", i))
		if err := out.SavePNG(path); err != nil {
			log.Fatalf("Failed to save: %v", err)
		}
	}

	if err := p.Err(); err != nil {
		log.Printf("Pipeline fell back to passthrough: %v", err)
	}
	st := p.Stats()
	log.Printf("Rendered %d frames to %s (%dx%d): %d rotations, %d evaluations, %d passthrough\n",
		*frames, *output, *width, *height, st.Rotations, st.Sessions, st.Passthrough)
}

// loadStyles reads the given PNGs, or builds the built-in patterns.
func loadStyles(list string) (*style.Set, error) {
	if list == "" {
		return style.NewSet(builtinStyles()...)
	}
	var profiles []style.Profile
	for _, path := range strings.Split(list, ",") {
		path = strings.TrimSpace(path)
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		prof, err := style.Load(name, path, 2, 12)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, prof)
	}
	return style.NewSet(profiles...)
}
