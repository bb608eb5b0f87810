package gpu

import (
	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
)

// BlendState returns the blend equation matching the sort order. Fragments
// are premultiplied, so front to back uses "under" (src weighted by the
// remaining transmittance 1-dst.a) and back to front uses "over".
func BlendState(order core.DepthOrder) wgpu.BlendState {
	if order == core.BackToFront {
		over := wgpu.BlendComponent{
			SrcFactor: wgpu.BlendFactorOne,
			DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
			Operation: wgpu.BlendOperationAdd,
		}
		return wgpu.BlendState{Color: over, Alpha: over}
	}
	under := wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOneMinusDstAlpha,
		DstFactor: wgpu.BlendFactorOne,
		Operation: wgpu.BlendOperationAdd,
	}
	return wgpu.BlendState{Color: under, Alpha: under}
}

// Renderer draws the sorted splats with a single indirect draw whose
// instance count was written by the preprocessor.
type Renderer struct {
	logger gsplat.Logger

	bindGroupLayout *wgpu.BindGroupLayout
	bindGroup       *wgpu.BindGroup
	pipeline        *wgpu.RenderPipeline
	drawArgs        *wgpu.Buffer

	Format wgpu.TextureFormat
}

// NewRenderer binds indices, the sorter's final value buffer, so the draw
// reads Gaussians in sorted order.
func NewRenderer(device *wgpu.Device, format wgpu.TextureFormat, buffers *BufferManager, indices *wgpu.Buffer, params shaders.Params, order core.DepthOrder, validate bool, logger gsplat.Logger) (*Renderer, error) {
	r, err := NewRendererWithoutBindGroup(device, format, params, order, validate, logger)
	if err != nil {
		return nil, err
	}
	if r.bindGroup, err = r.CreateBindGroup(device, buffers, indices); err != nil {
		r.Release()
		return nil, err
	}
	r.drawArgs = buffers.DrawArgsBuf
	return r, nil
}

// NewRendererWithoutBindGroup creates the pipeline only, for drawing several
// models with CreateBindGroup and EncodeInPassWith.
func NewRendererWithoutBindGroup(device *wgpu.Device, format wgpu.TextureFormat, params shaders.Params, order core.DepthOrder, validate bool, logger gsplat.Logger) (*Renderer, error) {
	logger = gsplat.LoggerOrNop(logger)
	r := &Renderer{logger: logger, Format: format}
	ok := false
	defer func() {
		if !ok {
			r.Release()
		}
	}()

	vis := wgpu.ShaderStageVertex | wgpu.ShaderStageFragment
	var err error
	logger.Debugf("Creating renderer bind group layout")
	r.bindGroupLayout, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Renderer Bind Group Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			bufferLayoutEntry(0, vis, wgpu.BufferBindingTypeUniform),
			bufferLayoutEntry(1, vis, wgpu.BufferBindingTypeUniform),
			bufferLayoutEntry(2, vis, wgpu.BufferBindingTypeUniform),
			bufferLayoutEntry(3, wgpu.ShaderStageVertex, wgpu.BufferBindingTypeReadOnlyStorage),
			bufferLayoutEntry(4, wgpu.ShaderStageVertex, wgpu.BufferBindingTypeReadOnlyStorage),
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Debugf("Creating renderer pipeline (%s)", order)
	code, err := shaders.Render(params)
	if err != nil {
		return nil, err
	}
	module, err := createShaderModule(device, "Renderer Shader", code, validate)
	if err != nil {
		logger.Errorf("%v", err)
		return nil, err
	}
	defer module.Release()
	layout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Renderer Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{r.bindGroupLayout},
	})
	if err != nil {
		return nil, err
	}
	defer layout.Release()

	blend := BlendState(order)
	r.pipeline, err = device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Renderer Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vert_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "frag_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    format,
				Blend:     &blend,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
			CullMode: wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return r, nil
}

// CreateBindGroup binds the model in buffers with indices in draw order.
func (r *Renderer) CreateBindGroup(device *wgpu.Device, buffers *BufferManager, indices *wgpu.Buffer) (*wgpu.BindGroup, error) {
	r.logger.Debugf("Creating renderer bind group")
	return device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Renderer Bind Group",
		Layout: r.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: buffers.CameraBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: buffers.ModelTransformBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: buffers.GaussianTransformBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: buffers.GaussiansBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: indices, Size: wgpu.WholeSize},
		},
	})
}

// Encode records the draw into view. With clear set the target starts as
// transparent black, which the front to back blend needs to accumulate
// transmittance; otherwise existing content is kept.
func (r *Renderer) Encode(encoder *wgpu.CommandEncoder, view *wgpu.TextureView, clear bool) {
	pass := beginSplatPass(encoder, view, clear)
	r.EncodeInPass(pass)
	if err := pass.End(); err != nil {
		r.logger.Errorf("Render pass End failed: %v", err)
	}
}

func beginSplatPass(encoder *wgpu.CommandEncoder, view *wgpu.TextureView, clear bool) *wgpu.RenderPassEncoder {
	load := wgpu.LoadOpLoad
	if clear {
		load = wgpu.LoadOpClear
	}
	return encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "Gaussian Splats",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     load,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 0},
		}},
	})
}

// EncodeInPass records the draw into a pass owned by the caller.
func (r *Renderer) EncodeInPass(pass *wgpu.RenderPassEncoder) {
	r.EncodeInPassWith(pass, r.bindGroup, r.drawArgs)
}

// EncodeInPassWith draws the model bound in bg, taking the instance count
// from its drawArgs.
func (r *Renderer) EncodeInPassWith(pass *wgpu.RenderPassEncoder, bg *wgpu.BindGroup, drawArgs *wgpu.Buffer) {
	pass.SetPipeline(r.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DrawIndirect(drawArgs, 0)
}

func (r *Renderer) Release() {
	if r.pipeline != nil {
		r.pipeline.Release()
		r.pipeline = nil
	}
	if r.bindGroup != nil {
		r.bindGroup.Release()
		r.bindGroup = nil
	}
	if r.bindGroupLayout != nil {
		r.bindGroupLayout.Release()
		r.bindGroupLayout = nil
	}
}
