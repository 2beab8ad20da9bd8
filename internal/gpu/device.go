package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
	_ "github.com/gogpu/wgpu/hal/vulkan" // register the Vulkan backend

	"github.com/gogpu/styletransfer/anchor"
	"github.com/gogpu/styletransfer/image"
	"github.com/gogpu/styletransfer/internal/logging"
	"github.com/gogpu/styletransfer/shader"
)

// ErrNoAdapter is returned by Open when no hardware adapter is available.
var ErrNoAdapter = errors.New("gpu: no hardware adapter")

// mapTimeout bounds the wait for a readback.
const mapTimeout = 5 * time.Second

// paramsSize is the uniform block size of both kernels.
const paramsSize = 32

// Device owns a wgpu device, the two compute pipelines and the mirrored
// ring. All methods are safe for concurrent use; dispatches are serialized.
type Device struct {
	mu     sync.Mutex
	closed bool

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     gpucontext.AdapterInfo

	dilate *pipeline
	bframe *pipeline

	ring mirror
}

// pipeline is one compiled kernel with its layout and uniform buffer.
type pipeline struct {
	shader.Kernel
	module         *wgpu.ShaderModule
	layout         *wgpu.BindGroupLayout
	pipelineLayout *wgpu.PipelineLayout
	compute        *wgpu.ComputePipeline
	params         *wgpu.Buffer
}

// mirror holds the device copy of an anchor ring.
type mirror struct {
	width, height int
	size          uint64

	// buffers maps each host image of the ring to its storage buffer.
	buffers map[*image.ImageBuf]*wgpu.Buffer
	owned   []*wgpu.Buffer

	scratch *wgpu.Buffer
	output  *wgpu.Buffer
	staging *wgpu.Buffer
}

// Open requests a high-performance adapter and builds both pipelines.
// It returns an error wrapping ErrNoAdapter when only a software or mock
// adapter is present, so callers keep the CPU path.
func Open() (*Device, error) {
	instance, err := wgpu.CreateInstance(&wgpu.InstanceDescriptor{Backends: wgpu.BackendsVulkan})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: %w", ErrNoAdapter, err)
	}

	info := adapterInfo(adapter.Info())
	if info.Type == gpucontext.AdapterTypeSoftware {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: %s is a software renderer", ErrNoAdapter, info.Name)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("gpu: request device: %w", err)
	}
	// Without a HAL backend wgpu hands out a mock adapter whose device
	// has no queue.
	if device.Queue() == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: %s has no queue", ErrNoAdapter, info.Name)
	}

	d := &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.Queue(),
		info:     info,
	}
	if err := d.createPipelines(); err != nil {
		d.Close()
		return nil, err
	}

	logging.L().Info("gpu: device ready", "adapter", info.Name, "type", info.Type)
	return d, nil
}

// adapterInfo maps the wgpu adapter description to the gpucontext one.
func adapterInfo(in wgpu.AdapterInfo) gpucontext.AdapterInfo {
	out := gpucontext.AdapterInfo{Name: in.Name, Type: gpucontext.AdapterTypeUnknown}
	switch in.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		out.Type = gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		out.Type = gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		out.Type = gpucontext.AdapterTypeSoftware
	}
	return out
}

// AdapterInfo describes the adapter the device runs on.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	return d.info
}

func (d *Device) createPipelines() error {
	mods, err := shader.CompileAll()
	if err != nil {
		return fmt.Errorf("gpu: %w", err)
	}

	ro := gputypes.BufferBindingTypeReadOnlyStorage
	for _, m := range mods {
		var bindings []gputypes.BufferBindingType
		switch m.EntryPoint {
		case shader.SDMVDilate().EntryPoint:
			bindings = []gputypes.BufferBindingType{gputypes.BufferBindingTypeUniform, ro, gputypes.BufferBindingTypeStorage}
		case shader.BFrame().EntryPoint:
			bindings = []gputypes.BufferBindingType{gputypes.BufferBindingTypeUniform, ro, ro, ro, ro, gputypes.BufferBindingTypeStorage}
		default:
			continue
		}
		p, err := d.createPipeline(m, bindings)
		if err != nil {
			return err
		}
		if m.EntryPoint == shader.SDMVDilate().EntryPoint {
			d.dilate = p
		} else {
			d.bframe = p
		}
	}
	return nil
}

func (d *Device) createPipeline(m shader.Module, bindings []gputypes.BufferBindingType) (*pipeline, error) {
	p := &pipeline{Kernel: m.Kernel}

	var err error
	p.module, err = d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{Label: m.Name, SPIRV: m.SPIRV})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s shader module: %w", m.Name, err)
	}

	entries := make([]wgpu.BindGroupLayoutEntry, len(bindings))
	for i, b := range bindings {
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // at most six bindings
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: b},
		}
	}
	p.layout, err = d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{Label: m.Name, Entries: entries})
	if err != nil {
		p.release()
		return nil, fmt.Errorf("gpu: %s bind group layout: %w", m.Name, err)
	}
	p.pipelineLayout, err = d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            m.Name,
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.layout},
	})
	if err != nil {
		p.release()
		return nil, fmt.Errorf("gpu: %s pipeline layout: %w", m.Name, err)
	}
	p.compute, err = d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:      m.Name,
		Layout:     p.pipelineLayout,
		Module:     p.module,
		EntryPoint: m.EntryPoint,
	})
	if err != nil {
		p.release()
		return nil, fmt.Errorf("gpu: %s pipeline: %w", m.Name, err)
	}
	p.params, err = d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: m.Name + ".params",
		Size:  paramsSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		p.release()
		return nil, fmt.Errorf("gpu: %s params: %w", m.Name, err)
	}
	return p, nil
}

func (p *pipeline) release() {
	if p == nil {
		return
	}
	if p.params != nil {
		p.params.Release()
	}
	if p.compute != nil {
		p.compute.Release()
	}
	if p.pipelineLayout != nil {
		p.pipelineLayout.Release()
	}
	if p.layout != nil {
		p.layout.Release()
	}
	if p.module != nil {
		p.module.Release()
	}
}

// Mirror allocates one storage buffer per texture r describes and binds
// each to the host image in that slot. It replaces any earlier mirror, so
// call it again after the ring is reallocated.
func (d *Device) Mirror(r *anchor.Ring) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return shader.ErrFallbackToCPU
	}

	d.ring.release()
	w, h := r.Size()
	m := mirror{
		width:   w,
		height:  h,
		size:    uint64(w) * uint64(h) * image.Float32Size, //nolint:gosec // ring dimensions are positive
		buffers: make(map[*image.ImageBuf]*wgpu.Buffer, 2*anchor.Slots),
	}

	// Descriptors come in slot order, colour before SDMV.
	for _, desc := range r.Descriptors() {
		buf, err := d.createBuffer(desc.Label, uint64(desc.Size.Width)*uint64(desc.Size.Height)*image.Float32Size,
			wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc)
		if err != nil {
			m.release()
			return err
		}
		m.owned = append(m.owned, buf)
	}
	for _, role := range []anchor.Role{anchor.RoleOldest, anchor.RoleMiddle, anchor.RoleNewest} {
		slot, f := r.Slot(role), r.Frame(role)
		m.buffers[f.Color] = m.owned[2*slot]
		m.buffers[f.Aux] = m.owned[2*slot+1]
	}

	var err error
	if m.scratch, err = d.createBuffer("sdmv.scratch", m.size, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		m.release()
		return err
	}
	if m.output, err = d.createBuffer("bframe.output", m.size, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		m.release()
		return err
	}
	if m.staging, err = d.createBuffer("readback", m.size, wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst); err != nil {
		m.release()
		return err
	}

	d.ring = m
	logging.L().Debug("gpu: ring mirrored", "width", w, "height", h, "buffers", len(m.owned))
	return nil
}

func (d *Device) createBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %s: %w", label, err)
	}
	return buf, nil
}

func (m *mirror) release() {
	for _, b := range m.owned {
		b.Release()
	}
	for _, b := range []*wgpu.Buffer{m.scratch, m.output, m.staging} {
		if b != nil {
			b.Release()
		}
	}
	*m = mirror{}
}

// lookup returns the mirrored buffers of imgs, or ErrFallbackToCPU when any
// of them is not part of the mirrored ring.
func (d *Device) lookup(imgs ...*image.ImageBuf) ([]*wgpu.Buffer, error) {
	if d.closed || d.ring.buffers == nil {
		return nil, shader.ErrFallbackToCPU
	}
	bufs := make([]*wgpu.Buffer, len(imgs))
	for i, img := range imgs {
		b, ok := d.ring.buffers[img]
		if !ok {
			return nil, shader.ErrFallbackToCPU
		}
		bufs[i] = b
	}
	return bufs, nil
}

// Dilate runs cs_dilate over aux, which must be an SDMV buffer of the
// mirrored ring, and writes the result back to both the device mirror and
// aux.
func (d *Device) Dilate(aux *image.ImageBuf, p shader.DilateParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bufs, err := d.lookup(aux)
	if err != nil {
		return err
	}
	src := bufs[0]

	if err := d.upload(src, aux); err != nil {
		return err
	}
	if err := d.queue.WriteBuffer(d.dilate.params, 0, p.Bytes()); err != nil {
		return fmt.Errorf("gpu: write dilate params: %w", err)
	}

	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  d.dilate.Name,
		Layout: d.dilate.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: d.dilate.params, Size: paramsSize},
			{Binding: 1, Buffer: src, Size: d.ring.size},
			{Binding: 2, Buffer: d.ring.scratch, Size: d.ring.size},
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: dilate bind group: %w", err)
	}
	defer bg.Release()

	if err := d.dispatch(d.dilate, bg,
		copyOp{d.ring.scratch, src},
		copyOp{d.ring.scratch, d.ring.staging},
	); err != nil {
		return err
	}
	return d.readback(aux)
}

// BFrame runs cs_bframe between two anchors of the mirrored ring and reads
// the result into out.
func (d *Device) BFrame(older, newer *anchor.Frame, p shader.BFrameParams, out *image.ImageBuf) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bufs, err := d.lookup(older.Color, newer.Color, older.Aux, newer.Aux)
	if err != nil {
		return err
	}
	if out.Width() != d.ring.width || out.Height() != d.ring.height {
		return shader.ErrFallbackToCPU
	}
	for i, img := range []*image.ImageBuf{older.Color, newer.Color, older.Aux, newer.Aux} {
		if err := d.upload(bufs[i], img); err != nil {
			return err
		}
	}
	if err := d.queue.WriteBuffer(d.bframe.params, 0, p.Bytes()); err != nil {
		return fmt.Errorf("gpu: write bframe params: %w", err)
	}

	entries := []wgpu.BindGroupEntry{{Binding: 0, Buffer: d.bframe.params, Size: paramsSize}}
	for i, b := range append(bufs, d.ring.output) {
		entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(i + 1), Buffer: b, Size: d.ring.size}) //nolint:gosec // six bindings
	}
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   d.bframe.Name,
		Layout:  d.bframe.layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: bframe bind group: %w", err)
	}
	defer bg.Release()

	if err := d.dispatch(d.bframe, bg, copyOp{d.ring.output, d.ring.staging}); err != nil {
		return err
	}
	return d.readback(out)
}

func (d *Device) upload(dst *wgpu.Buffer, src *image.ImageBuf) error {
	if err := d.queue.WriteBuffer(dst, 0, src.Float32Bytes()); err != nil {
		return fmt.Errorf("gpu: upload: %w", err)
	}
	return nil
}

// copyOp copies a whole ring-sized buffer after the compute pass.
type copyOp struct {
	src, dst *wgpu.Buffer
}

// dispatch records one compute pass of p over the mirrored frame followed
// by copies, and submits it.
func (d *Device) dispatch(p *pipeline, bg *wgpu.BindGroup, copies ...copyOp) error {
	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: p.Name})
	if err != nil {
		return fmt.Errorf("gpu: %s encoder: %w", p.Name, err)
	}
	pass, err := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: p.Name})
	if err != nil {
		enc.DiscardEncoding()
		return fmt.Errorf("gpu: %s pass: %w", p.Name, err)
	}
	pass.SetPipeline(p.compute)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(p.Dispatch(d.ring.width, d.ring.height))
	if err := pass.End(); err != nil {
		enc.DiscardEncoding()
		return fmt.Errorf("gpu: %s pass: %w", p.Name, err)
	}
	for _, c := range copies {
		enc.CopyBufferToBuffer(c.src, 0, c.dst, 0, d.ring.size)
	}

	cmd, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("gpu: %s finish: %w", p.Name, err)
	}
	if _, err := d.queue.Submit(cmd); err != nil {
		cmd.Release()
		return fmt.Errorf("gpu: %s submit: %w", p.Name, err)
	}
	return nil
}

// readback maps the staging buffer and stores it into dst.
func (d *Device) readback(dst *image.ImageBuf) error {
	ctx, cancel := context.WithTimeout(context.Background(), mapTimeout)
	defer cancel()

	staging := d.ring.staging
	if err := staging.Map(ctx, wgpu.MapModeRead, 0, d.ring.size); err != nil {
		return fmt.Errorf("gpu: map readback: %w", err)
	}
	defer func() {
		if err := staging.Unmap(); err != nil {
			logging.L().Warn("gpu: unmap readback", "err", err)
		}
	}()

	rng, err := staging.MappedRange(0, d.ring.size)
	if err != nil {
		return fmt.Errorf("gpu: readback range: %w", err)
	}
	defer rng.Release()
	return dst.SetFloat32Bytes(rng.Bytes())
}

// Close releases every device resource. Later calls report
// ErrFallbackToCPU. Close is idempotent.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true

	d.ring.release()
	d.bframe.release()
	d.dilate.release()
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
	logging.L().Debug("gpu: device closed", "adapter", d.info.Name)
}
