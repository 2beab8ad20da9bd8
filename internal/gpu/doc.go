// Package gpu runs the SDMV dilation and B-frame kernels on a Vulkan
// device through gogpu/wgpu.
//
// A Device mirrors the anchor ring as storage buffers, one per colour and
// SDMV texture the ring describes, and implements the accelerator hooks of
// the sdmv encoder and the reproject compositor. Buffers it does not
// mirror, or any device failure, send the caller back to its CPU path.
package gpu
