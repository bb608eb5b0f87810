package gpu

import (
	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
)

// createShaderModule optionally runs the source through the offline
// compiler first; driver errors are reported with the same type.
func createShaderModule(device *wgpu.Device, label, code string, validate bool) (*wgpu.ShaderModule, error) {
	if validate {
		if err := shaders.Validate(label, code); err != nil {
			return nil, err
		}
	}
	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, &gsplat.ShaderCompileError{Label: label, Err: err}
	}
	return module, nil
}

func bufferLayoutEntry(binding uint32, visibility wgpu.ShaderStage, typ wgpu.BufferBindingType) wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: visibility,
		Buffer: wgpu.BufferBindingLayout{
			Type:             typ,
			HasDynamicOffset: false,
		},
	}
}

func createComputePipeline(device *wgpu.Device, label string, layout *wgpu.PipelineLayout, module *wgpu.ShaderModule, entry string) (*wgpu.ComputePipeline, error) {
	return device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entry,
		},
	})
}
