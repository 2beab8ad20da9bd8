// Package styletransfer renders a video stream through a neural style
// transfer network in real time when the network is too slow to run once
// per displayed frame.
//
// # Overview
//
// One network evaluation is split into bounded slices executed across
// several displayed frames, and the latency is hidden by synthesizing the
// frames in between (B-frames) through motion-compensated reprojection
// between the two most recent completed network outputs (anchors).
//
// # Quick Start
//
//	styles, _ := style.NewSet(style.Profile{Name: "wave", Image: img, HaloSize: 2, SkyHaloSize: 12})
//	p, err := styletransfer.New(1280, 720, styles, preparer, styletransfer.WithFactor(4))
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	for frame := range camera {
//	    res, err := p.Render(scheduler.Frame{Color: frame.Color, DepthMotion: frame.Aux}, out)
//	    ...
//	    clock.Scale(res.TimeScale)
//	}
//
// # Architecture
//
// The library is organized into:
//   - Pipeline (this package): style preparation, runtime controls, overlays
//   - scheduler: the per-frame state machine
//   - inference: the resumable evaluation session and an in-process graph
//   - cost: per-layer cost profiles turning a time budget into layers
//   - anchor: the three-slot ring of completed outputs
//   - sdmv: halo dilation of depth and motion around silhouettes
//   - reproject: the B-frame compositor
//   - shader: WGSL versions of the per-pixel kernels, compiled with naga
//   - image, interop, style: buffers, tensor conversion, style profiles
//
// # Runtime Controls
//
// Enable/disable, style cycling and the upsample factor are staged and
// applied at the next anchor rotation, so an evaluation is never switched
// halfway. Turning upsampling off takes effect at once and runs the whole
// network on every frame.
//
// # Time Scale
//
// Each Result carries the clock multiplier the host applies before
// rendering the next frame: the upsample factor on the last frame of a
// cycle, 0 otherwise, and 1 whenever the network runs once per frame.
package styletransfer

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
