// Package style describes the selectable styles and cycles between them.
package style

import (
	"errors"
	"fmt"

	"github.com/gogpu/styletransfer/image"
)

// Style errors.
var (
	// ErrNoStyles is returned when a Set is created empty.
	ErrNoStyles = errors.New("style: no styles")

	// ErrInvalidProfile is returned for a profile without an image or
	// with a negative halo.
	ErrInvalidProfile = errors.New("style: invalid profile")
)

// Profile is one selectable style. A Profile is treated as immutable once
// handed to a Set.
type Profile struct {
	Name  string
	Image *image.ImageBuf

	// HaloSize is the dilation radius around foreground silhouettes,
	// in pixels.
	HaloSize int

	// SkyHaloSize is the dilation radius around objects in front of the
	// sky. It tends to be larger than HaloSize.
	SkyHaloSize int
}

// Validate reports whether p can be used.
func (p Profile) Validate() error {
	switch {
	case p.Image == nil:
		return fmt.Errorf("%w: %q has no image", ErrInvalidProfile, p.Name)
	case p.HaloSize < 0 || p.SkyHaloSize < 0:
		return fmt.Errorf("%w: %q has negative halo (%d, %d)", ErrInvalidProfile, p.Name, p.HaloSize, p.SkyHaloSize)
	}
	return nil
}

// Load reads a PNG style image into a Profile.
func Load(name, path string, halo, skyHalo int) (Profile, error) {
	img, err := image.LoadPNG(path)
	if err != nil {
		return Profile{}, fmt.Errorf("style: load %q: %w", name, err)
	}
	p := Profile{Name: name, Image: img, HaloSize: halo, SkyHaloSize: skyHalo}
	return p, p.Validate()
}

// Set is an ordered, cyclic list of styles with one active entry.
//
// Set is not safe for concurrent use.
type Set struct {
	profiles []Profile
	current  int
}

// NewSet creates a set with the first profile active.
func NewSet(profiles ...Profile) (*Set, error) {
	if len(profiles) == 0 {
		return nil, ErrNoStyles
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return &Set{profiles: append([]Profile(nil), profiles...)}, nil
}

// Len returns the number of styles.
func (s *Set) Len() int {
	return len(s.profiles)
}

// Index returns the position of the active style.
func (s *Set) Index() int {
	return s.current
}

// Current returns the active style.
func (s *Set) Current() Profile {
	return s.profiles[s.current]
}

// At returns the style at index i without activating it.
func (s *Set) At(i int) (Profile, error) {
	if i < 0 || i >= len(s.profiles) {
		return Profile{}, fmt.Errorf("style: index %d out of range [0, %d)", i, len(s.profiles))
	}
	return s.profiles[i], nil
}

// Next activates the following style, wrapping around, and returns it.
func (s *Set) Next() Profile {
	s.current = (s.current + 1) % len(s.profiles)
	return s.Current()
}

// Select activates the style at index i.
func (s *Set) Select(i int) (Profile, error) {
	p, err := s.At(i)
	if err != nil {
		return Profile{}, err
	}
	s.current = i
	return p, nil
}
