package anchor

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/styletransfer/image"
)

// Slots is the fixed number of anchors in a Ring.
const Slots = 3

// ErrResolutionMismatch is returned by Check when the ring was allocated at
// a different size. Callers recover with Reallocate.
var ErrResolutionMismatch = errors.New("anchor: resolution mismatch")

// Role is the logical position of an anchor in the ring.
type Role uint8

const (
	// RoleOldest is the older reprojection source.
	RoleOldest Role = iota

	// RoleMiddle is the newer reprojection source: the most recently
	// completed anchor.
	RoleMiddle

	// RoleNewest is the slot being filled by the in-flight evaluation.
	RoleNewest
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleOldest:
		return "oldest"
	case RoleMiddle:
		return "middle"
	case RoleNewest:
		return "newest"
	default:
		return "unknown"
	}
}

// Frame is one anchor slot.
type Frame struct {
	// Color is the stylized RGBA8 image.
	Color *image.ImageBuf

	// Aux is the RGBA16F depth+motion buffer: depth, motion x, motion y
	// (in pixels, pointing from the current position to the previous one)
	// and the halo mask.
	Aux *image.ImageBuf

	// Valid reports whether Color holds a completed output.
	Valid bool
}

func newFrame(width, height int) (*Frame, error) {
	color, err := image.NewImageBuf(width, height, image.FormatRGBA8)
	if err != nil {
		return nil, err
	}
	aux, err := image.NewImageBuf(width, height, image.FormatRGBA16F)
	if err != nil {
		return nil, err
	}
	return &Frame{Color: color, Aux: aux}, nil
}

// Ring is the fixed three-slot anchor ring.
//
// Ring is not safe for concurrent use. It is owned by the scheduler, which
// lends individual frames to the encoder and compositor within one
// displayed-frame call.
type Ring struct {
	slots  [Slots]*Frame
	roles  [Slots]int // role -> slot
	width  int
	height int
}

// NewRing allocates a ring of invalid anchors at width x height.
func NewRing(width, height int) (*Ring, error) {
	r := &Ring{}
	if err := r.Reallocate(width, height); err != nil {
		return nil, err
	}
	return r, nil
}

// Reallocate discards every anchor and allocates fresh buffers at
// width x height. All anchors are invalid afterwards and roles are reset.
func (r *Ring) Reallocate(width, height int) error {
	var slots [Slots]*Frame
	for i := range slots {
		f, err := newFrame(width, height)
		if err != nil {
			return fmt.Errorf("anchor: allocate %dx%d: %w", width, height, err)
		}
		slots[i] = f
	}
	r.slots = slots
	r.roles = [Slots]int{0, 1, 2}
	r.width = width
	r.height = height
	return nil
}

// Check returns ErrResolutionMismatch if the ring is not allocated at
// width x height.
func (r *Ring) Check(width, height int) error {
	if r.width != width || r.height != height {
		return fmt.Errorf("%w: ring is %dx%d, frame is %dx%d",
			ErrResolutionMismatch, r.width, r.height, width, height)
	}
	return nil
}

// Size returns the allocated resolution.
func (r *Ring) Size() (width, height int) {
	return r.width, r.height
}

// Rotate shifts roles by one: newest becomes middle, middle becomes
// oldest, and the evicted oldest slot is reused as the new newest. The new
// newest is marked invalid; its buffers keep their old contents until
// overwritten.
func (r *Ring) Rotate() {
	oldest := r.roles[RoleOldest]
	r.roles[RoleOldest] = r.roles[RoleMiddle]
	r.roles[RoleMiddle] = r.roles[RoleNewest]
	r.roles[RoleNewest] = oldest
	r.slots[oldest].Valid = false
}

// Frame returns the anchor playing role.
func (r *Ring) Frame(role Role) *Frame {
	return r.slots[r.roles[role]]
}

// Slot returns the physical slot index of role.
func (r *Ring) Slot(role Role) int {
	return r.roles[role]
}

// Oldest returns the older reprojection source.
func (r *Ring) Oldest() *Frame { return r.Frame(RoleOldest) }

// Middle returns the most recently completed anchor.
func (r *Ring) Middle() *Frame { return r.Frame(RoleMiddle) }

// Newest returns the anchor being filled.
func (r *Ring) Newest() *Frame { return r.Frame(RoleNewest) }

// Ready reports whether both reprojection sources hold completed outputs.
func (r *Ring) Ready() bool {
	return r.Oldest().Valid && r.Middle().Valid
}

// ValidCount returns how many anchors are valid.
func (r *Ring) ValidCount() int {
	n := 0
	for _, f := range r.slots {
		if f.Valid {
			n++
		}
	}
	return n
}

// Invalidate marks every anchor invalid without touching the buffers.
func (r *Ring) Invalidate() {
	for _, f := range r.slots {
		f.Valid = false
	}
}

// Descriptors returns the texture descriptors a GPU host needs to mirror
// the ring on device: one colour and one SDMV texture per slot, in slot
// order.
func (r *Ring) Descriptors() []gputypes.TextureDescriptor {
	const usage = gputypes.TextureUsageTextureBinding |
		gputypes.TextureUsageStorageBinding |
		gputypes.TextureUsageCopySrc |
		gputypes.TextureUsageCopyDst

	descs := make([]gputypes.TextureDescriptor, 0, 2*Slots)
	for i := range Slots {
		descs = append(descs,
			r.descriptor(fmt.Sprintf("anchor%d.color", i), image.FormatRGBA8, usage|gputypes.TextureUsageRenderAttachment),
			r.descriptor(fmt.Sprintf("anchor%d.sdmv", i), image.FormatRGBA16F, usage),
		)
	}
	return descs
}

func (r *Ring) descriptor(label string, f image.Format, usage gputypes.TextureUsage) gputypes.TextureDescriptor {
	return gputypes.TextureDescriptor{
		Label:         label,
		Size:          gputypes.NewExtent2D(uint32(r.width), uint32(r.height)), //nolint:gosec // dimensions validated at allocation
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        f.TextureFormat(),
		Usage:         usage,
	}
}
