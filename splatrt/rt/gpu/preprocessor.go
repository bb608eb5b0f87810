package gpu

import (
	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/cpu"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
)

// CheckModelSize rejects a Gaussian buffer that cannot be bound as one
// storage binding.
func CheckModelSize(modelSize, deviceLimit uint64) error {
	if modelSize > deviceLimit {
		return &gsplat.ModelSizeExceedsDeviceLimitError{ModelSize: modelSize, DeviceLimit: deviceLimit}
	}
	return nil
}

// Preprocessor culls and compacts the Gaussians every frame and derives the
// indirect arguments for the sort and the draw.
type Preprocessor struct {
	logger gsplat.Logger

	bindGroupLayout *wgpu.BindGroupLayout
	bindGroup       *wgpu.BindGroup
	prePipeline     *wgpu.ComputePipeline
	mainPipeline    *wgpu.ComputePipeline
	postPipeline    *wgpu.ComputePipeline

	gaussianCount uint32
}

func NewPreprocessor(device *wgpu.Device, buffers *BufferManager, params shaders.Params, validate bool, logger gsplat.Logger) (*Preprocessor, error) {
	p, err := NewPreprocessorWithoutBindGroup(device, params, validate, logger)
	if err != nil {
		return nil, err
	}
	if p.bindGroup, err = p.CreateBindGroup(device, buffers); err != nil {
		p.Release()
		return nil, err
	}
	p.gaussianCount = buffers.GaussianCount
	return p, nil
}

// NewPreprocessorWithoutBindGroup creates the pipelines only, for
// preprocessing several models with CreateBindGroup and EncodeWith.
func NewPreprocessorWithoutBindGroup(device *wgpu.Device, params shaders.Params, validate bool, logger gsplat.Logger) (*Preprocessor, error) {
	logger = gsplat.LoggerOrNop(logger)

	p := &Preprocessor{logger: logger}
	ok := false
	defer func() {
		if !ok {
			p.Release()
		}
	}()

	logger.Debugf("Creating preprocessor bind group layout")
	bgl, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Preprocessor Bind Group Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			bufferLayoutEntry(0, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeUniform),
			bufferLayoutEntry(1, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeUniform),
			bufferLayoutEntry(2, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeReadOnlyStorage),
			bufferLayoutEntry(3, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeStorage),
			bufferLayoutEntry(4, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeStorage),
			bufferLayoutEntry(5, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeStorage),
			bufferLayoutEntry(6, wgpu.ShaderStageCompute, wgpu.BufferBindingTypeStorage),
		},
	})
	if err != nil {
		return nil, err
	}
	p.bindGroupLayout = bgl

	logger.Debugf("Creating preprocessor pipelines")
	src, err := shaders.Preprocess(params)
	if err != nil {
		return nil, err
	}
	module, err := createShaderModule(device, "Preprocessor Shader", src, validate)
	if err != nil {
		logger.Errorf("%v", err)
		return nil, err
	}
	defer module.Release()

	layout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Preprocessor Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}
	defer layout.Release()

	for _, s := range []struct {
		pipeline **wgpu.ComputePipeline
		label    string
		entry    string
	}{
		{&p.prePipeline, "Preprocessor Pre Pipeline", "pre_main"},
		{&p.mainPipeline, "Preprocessor Pipeline", "main"},
		{&p.postPipeline, "Preprocessor Post Pipeline", "post_main"},
	} {
		*s.pipeline, err = createComputePipeline(device, s.label, layout, module, s.entry)
		if err != nil {
			return nil, err
		}
	}
	ok = true
	return p, nil
}

// CreateBindGroup binds the model in buffers. It fails when the packed
// Gaussians exceed the device's storage binding limit.
func (p *Preprocessor) CreateBindGroup(device *wgpu.Device, buffers *BufferManager) (*wgpu.BindGroup, error) {
	if err := CheckModelSize(buffers.GaussiansSize(), MaxStorageBufferBindingSize(device)); err != nil {
		p.logger.Errorf("%v", err)
		return nil, err
	}

	p.logger.Debugf("Creating preprocessor bind group")
	return device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Preprocessor Bind Group",
		Layout: p.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: buffers.CameraBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: buffers.ModelTransformBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: buffers.GaussiansBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: buffers.DrawArgsBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: buffers.SortDispatchArgsBuf, Size: wgpu.WholeSize},
			{Binding: 5, Buffer: buffers.IndicesBuf, Size: wgpu.WholeSize},
			{Binding: 6, Buffer: buffers.DepthKeysBuf, Size: wgpu.WholeSize},
		},
	})
}

// Encode preprocesses the model given to NewPreprocessor.
func (p *Preprocessor) Encode(encoder *wgpu.CommandEncoder) {
	p.EncodeWith(encoder, p.bindGroup, p.gaussianCount)
}

// EncodeWith records pre, main and post for the count Gaussians bound in bg
// in one compute pass. Dispatches inside a pass are ordered, so each phase
// sees the writes of the previous one.
func (p *Preprocessor) EncodeWith(encoder *wgpu.CommandEncoder, bg *wgpu.BindGroup, count uint32) {
	pass := encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "Preprocessor"})
	pass.SetBindGroup(0, bg, nil)

	pass.SetPipeline(p.prePipeline)
	pass.DispatchWorkgroups(1, 1, 1)

	if x, y := cpu.MainDispatch(count); x > 0 {
		pass.SetPipeline(p.mainPipeline)
		pass.DispatchWorkgroups(x, y, 1)
	}

	pass.SetPipeline(p.postPipeline)
	pass.DispatchWorkgroups(1, 1, 1)

	if err := pass.End(); err != nil {
		p.logger.Errorf("Preprocessor pass End failed: %v", err)
	}
}

func (p *Preprocessor) Release() {
	for _, pl := range []*wgpu.ComputePipeline{p.prePipeline, p.mainPipeline, p.postPipeline} {
		if pl != nil {
			pl.Release()
		}
	}
	p.prePipeline, p.mainPipeline, p.postPipeline = nil, nil, nil
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	if p.bindGroupLayout != nil {
		p.bindGroupLayout.Release()
		p.bindGroupLayout = nil
	}
}
