package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/cpu"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
)

// RadixSorter holds the sort pipelines and the per pass parameters. The
// buffers being sorted live in RadixSortBindGroups, one per model.
type RadixSorter struct {
	logger gsplat.Logger

	KeyBits  int
	Capacity uint32

	paramsBufs []*wgpu.Buffer

	bindGroupLayout   *wgpu.BindGroupLayout
	histogramPipeline *wgpu.ComputePipeline
	scanPipeline      *wgpu.ComputePipeline
	scatterPipeline   *wgpu.ComputePipeline

	groups *RadixSortBindGroups
}

// RadixSortBindGroups sorts the (depth key, index) pairs of one model.
//
// Buffer 0 is the preprocessor's depth key and index buffers; buffer 1 is
// owned here. Pass p reads buffer p%2 and writes the other one, so after all
// passes the valid data sits in Current().
type RadixSortBindGroups struct {
	passes   int
	Capacity uint32

	keys   [2]*wgpu.Buffer
	values [2]*wgpu.Buffer
	owned  []*wgpu.Buffer

	histogramsBuf *wgpu.Buffer
	bindGroups    []*wgpu.BindGroup
	dispatchArgs  *wgpu.Buffer
}

// NewRadixSorter creates the pipelines and the bind groups sorting buffers.
func NewRadixSorter(device *wgpu.Device, buffers *BufferManager, keyBits int, params shaders.Params, validate bool, logger gsplat.Logger) (*RadixSorter, error) {
	s, err := NewRadixSorterWithoutBindGroups(device, keyBits, params, validate, logger)
	if err != nil {
		return nil, err
	}
	if s.groups, err = s.CreateBindGroups(device, buffers); err != nil {
		s.Release()
		return nil, err
	}
	s.Capacity = s.groups.Capacity
	return s, nil
}

// NewRadixSorterWithoutBindGroups creates the pipelines only, for sorting
// several models with CreateBindGroups and EncodeWith.
func NewRadixSorterWithoutBindGroups(device *wgpu.Device, keyBits int, params shaders.Params, validate bool, logger gsplat.Logger) (*RadixSorter, error) {
	logger = gsplat.LoggerOrNop(logger)
	if keyBits < 1 || keyBits > 32 {
		return nil, fmt.Errorf("gsplat: radix sort key bits must be in [1, 32], got %d", keyBits)
	}

	s := &RadixSorter{logger: logger, KeyBits: keyBits}
	ok := false
	defer func() {
		if !ok {
			s.Release()
		}
	}()

	var err error
	logger.Debugf("Creating radix sort bind group layout")
	s.bindGroupLayout, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Radix Sort Bind Group Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			bufferLayoutEntry(0, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeUniform),
			bufferLayoutEntry(1, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeReadOnlyStorage),
			bufferLayoutEntry(2, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeReadOnlyStorage),
			bufferLayoutEntry(3, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeReadOnlyStorage),
			bufferLayoutEntry(4, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeStorage),
			bufferLayoutEntry(5, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeStorage),
			bufferLayoutEntry(6, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeStorage),
		},
	})
	if err != nil {
		return nil, err
	}

	// One uniform per pass, so a whole sort is recorded without host writes
	// between passes. Every model shares them.
	for pass := 0; pass < s.Passes(); pass++ {
		paramsBuf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("Radix Sort Params %d", pass),
			Size:  16,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, err
		}
		s.paramsBufs = append(s.paramsBufs, paramsBuf)

		data := make([]byte, 16)
		binary.LittleEndian.PutUint32(data[0:], cpu.PassShift(keyBits, pass))
		binary.LittleEndian.PutUint32(data[4:], uint32(pass))
		device.GetQueue().WriteBuffer(paramsBuf, 0, data)
	}

	logger.Debugf("Creating radix sort pipelines")
	code, err := shaders.RadixSort(params)
	if err != nil {
		return nil, err
	}
	module, err := createShaderModule(device, "Radix Sort Shader", code, validate)
	if err != nil {
		logger.Errorf("%v", err)
		return nil, err
	}
	defer module.Release()
	layout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Radix Sort Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{s.bindGroupLayout},
	})
	if err != nil {
		return nil, err
	}
	defer layout.Release()
	if s.histogramPipeline, err = createComputePipeline(device, "Radix Sort Histogram", layout, module, "histogram"); err != nil {
		return nil, err
	}
	if s.scanPipeline, err = createComputePipeline(device, "Radix Sort Scan", layout, module, "scan"); err != nil {
		return nil, err
	}
	if s.scatterPipeline, err = createComputePipeline(device, "Radix Sort Scatter", layout, module, "scatter"); err != nil {
		return nil, err
	}

	logger.Debugf("Radix sort uses %d passes over the top %d key bits, result in buffer %d",
		s.Passes(), s.Passes()*shaders.RadixBits, s.Current())
	ok = true
	return s, nil
}

// CreateBindGroups allocates the second key/value buffer pair and the
// histograms for the model in buffers, and binds one group per pass.
func (s *RadixSorter) CreateBindGroups(device *wgpu.Device, buffers *BufferManager) (*RadixSortBindGroups, error) {
	if err := cpu.CheckSortCapacity(buffers.KeyCapacity); err != nil {
		return nil, err
	}

	g := &RadixSortBindGroups{
		passes:       s.Passes(),
		Capacity:     buffers.KeyCapacity,
		dispatchArgs: buffers.SortDispatchArgsBuf,
	}
	g.keys[0] = buffers.DepthKeysBuf
	g.values[0] = buffers.IndicesBuf

	ok := false
	defer func() {
		if !ok {
			g.Release()
		}
	}()

	size := max(uint64(g.Capacity)*4, 4)
	usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	var err error
	s.logger.Debugf("Creating radix sort buffers for %d keys", g.Capacity)
	if g.keys[1], err = g.createBuffer(device, "Radix Sort Keys B", size, usage); err != nil {
		return nil, err
	}
	if g.values[1], err = g.createBuffer(device, "Radix Sort Values B", size, usage); err != nil {
		return nil, err
	}
	blocks := max(cpu.DivCeil(g.Capacity, shaders.RadixBlockSize), 1)
	if g.histogramsBuf, err = g.createBuffer(device, "Radix Sort Histograms", uint64(blocks)*256*4, wgpu.BufferUsageStorage); err != nil {
		return nil, err
	}

	for pass, paramsBuf := range s.paramsBufs {
		src, dst := pass%2, (pass+1)%2
		bg, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("Radix Sort Pass %d", pass),
			Layout: s.bindGroupLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: paramsBuf, Size: wgpu.WholeSize},
				{Binding: 1, Buffer: buffers.DrawArgsBuf, Size: wgpu.WholeSize},
				{Binding: 2, Buffer: g.keys[src], Size: wgpu.WholeSize},
				{Binding: 3, Buffer: g.values[src], Size: wgpu.WholeSize},
				{Binding: 4, Buffer: g.keys[dst], Size: wgpu.WholeSize},
				{Binding: 5, Buffer: g.values[dst], Size: wgpu.WholeSize},
				{Binding: 6, Buffer: g.histogramsBuf, Size: wgpu.WholeSize},
			},
		})
		if err != nil {
			return nil, err
		}
		g.bindGroups = append(g.bindGroups, bg)
	}

	ok = true
	return g, nil
}

func (g *RadixSortBindGroups) createBuffer(device *wgpu.Device, label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, err
	}
	g.owned = append(g.owned, buf)
	return buf, nil
}

// Current is the index of the buffer pair holding the sorted data once
// every pass has run.
func (g *RadixSortBindGroups) Current() int {
	return cpu.CurrentAfter(g.passes)
}

func (g *RadixSortBindGroups) FinalKeys() *wgpu.Buffer {
	return g.keys[g.Current()]
}

// FinalValues is the index buffer the renderer reads in draw order.
func (g *RadixSortBindGroups) FinalValues() *wgpu.Buffer {
	return g.values[g.Current()]
}

func (g *RadixSortBindGroups) Release() {
	for _, bg := range g.bindGroups {
		bg.Release()
	}
	g.bindGroups = nil
	for _, b := range g.owned {
		b.Release()
	}
	g.owned = nil
}

func (s *RadixSorter) Passes() int {
	return cpu.Passes(s.KeyBits)
}

// Current is the index of the buffer pair holding the sorted data once
// every pass has run.
func (s *RadixSorter) Current() int {
	return cpu.CurrentAfter(s.Passes())
}

// FinalKeys is the key buffer holding sorted keys after Encode.
func (s *RadixSorter) FinalKeys() *wgpu.Buffer {
	return s.groups.FinalKeys()
}

// FinalValues is the index buffer the renderer reads in draw order.
func (s *RadixSorter) FinalValues() *wgpu.Buffer {
	return s.groups.FinalValues()
}

// Encode records every pass over the buffers given to NewRadixSorter.
func (s *RadixSorter) Encode(encoder *wgpu.CommandEncoder) {
	s.EncodeWith(encoder, s.groups)
}

// EncodeWith records every pass over g. Histogram and scatter take their
// workgroup count from the preprocessor's dispatch arguments.
func (s *RadixSorter) EncodeWith(encoder *wgpu.CommandEncoder, g *RadixSortBindGroups) {
	pass := encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "Radix Sort"})
	for _, bg := range g.bindGroups {
		pass.SetBindGroup(0, bg, nil)

		pass.SetPipeline(s.histogramPipeline)
		pass.DispatchWorkgroupsIndirect(g.dispatchArgs, 0)

		pass.SetPipeline(s.scanPipeline)
		pass.DispatchWorkgroups(1, 1, 1)

		pass.SetPipeline(s.scatterPipeline)
		pass.DispatchWorkgroupsIndirect(g.dispatchArgs, 0)
	}
	if err := pass.End(); err != nil {
		s.logger.Errorf("Radix sort pass End failed: %v", err)
	}
}

func (s *RadixSorter) Release() {
	if s.groups != nil {
		s.groups.Release()
		s.groups = nil
	}
	for _, pl := range []*wgpu.ComputePipeline{s.histogramPipeline, s.scanPipeline, s.scatterPipeline} {
		if pl != nil {
			pl.Release()
		}
	}
	s.histogramPipeline, s.scanPipeline, s.scatterPipeline = nil, nil, nil
	for _, b := range s.paramsBufs {
		b.Release()
	}
	s.paramsBufs = nil
	if s.bindGroupLayout != nil {
		s.bindGroupLayout.Release()
		s.bindGroupLayout = nil
	}
}
