// Package shader carries the WGSL compute kernels that mirror the SDMV
// encoder and the B-frame compositor for GPU hosts, and compiles them to
// SPIR-V with naga.
package shader

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/naga"
)

//go:embed sdmv_dilate.wgsl
var sdmvDilateWGSL string

//go:embed bframe.wgsl
var bframeWGSL string

// ErrFallbackToCPU is returned by a kernel host that cannot run a kernel
// on the given buffers. Callers run the CPU path instead.
var ErrFallbackToCPU = errors.New("shader: falling back to CPU")

// WorkgroupSize is the edge length of the square workgroup both kernels
// declare.
const WorkgroupSize = 8

// Kernel is one compute entry point.
type Kernel struct {
	Name       string
	EntryPoint string
	Source     string
}

// Dispatch returns the workgroup counts covering a width x height frame.
func (k Kernel) Dispatch(width, height int) (x, y, z uint32) {
	x = uint32((max(width, 0) + WorkgroupSize - 1) / WorkgroupSize)  //nolint:gosec // clamped to >= 0
	y = uint32((max(height, 0) + WorkgroupSize - 1) / WorkgroupSize) //nolint:gosec // clamped to >= 0
	return x, y, 1
}

// SDMVDilate returns the halo dilation kernel.
func SDMVDilate() Kernel {
	return Kernel{Name: "sdmv_dilate", EntryPoint: "cs_dilate", Source: sdmvDilateWGSL}
}

// BFrame returns the B-frame synthesis kernel.
func BFrame() Kernel {
	return Kernel{Name: "bframe", EntryPoint: "cs_bframe", Source: bframeWGSL}
}

// Kernels returns every kernel in dispatch order within a frame.
func Kernels() []Kernel {
	return []Kernel{SDMVDilate(), BFrame()}
}

// Module is a compiled kernel.
type Module struct {
	Kernel
	SPIRV []uint32
}

// Compile compiles k to SPIR-V words.
func Compile(k Kernel) (Module, error) {
	spirvBytes, err := naga.Compile(k.Source)
	if err != nil {
		return Module{}, fmt.Errorf("shader: compile %s: %w", k.Name, err)
	}

	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return Module{Kernel: k, SPIRV: words}, nil
}

// CompileAll compiles every kernel.
func CompileAll() ([]Module, error) {
	kernels := Kernels()
	mods := make([]Module, 0, len(kernels))
	for _, k := range kernels {
		m, err := Compile(k)
		if err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// DilateParams is the uniform block of the dilation kernel.
type DilateParams struct {
	Width    uint32
	Height   uint32
	Halo     uint32
	SkyHalo  uint32
	SkyDepth float32
}

// Bytes returns the uniform buffer layout of p (32 bytes).
func (p DilateParams) Bytes() []byte {
	b := make([]byte, 32)
	binary.LittleEndian.PutUint32(b[0:], p.Width)
	binary.LittleEndian.PutUint32(b[4:], p.Height)
	binary.LittleEndian.PutUint32(b[8:], p.Halo)
	binary.LittleEndian.PutUint32(b[12:], p.SkyHalo)
	binary.LittleEndian.PutUint32(b[16:], math.Float32bits(p.SkyDepth))
	return b
}

// BFrameParams is the uniform block of the B-frame kernel.
type BFrameParams struct {
	Width  uint32
	Height uint32
	Border uint32
	Seam   bool
	Alpha  float32
}

// Bytes returns the uniform buffer layout of p (32 bytes).
func (p BFrameParams) Bytes() []byte {
	b := make([]byte, 32)
	binary.LittleEndian.PutUint32(b[0:], p.Width)
	binary.LittleEndian.PutUint32(b[4:], p.Height)
	binary.LittleEndian.PutUint32(b[8:], p.Border)
	if p.Seam {
		binary.LittleEndian.PutUint32(b[12:], 1)
	}
	binary.LittleEndian.PutUint32(b[16:], math.Float32bits(p.Alpha))
	return b
}
