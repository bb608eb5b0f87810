package shaders

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/pod"

	"github.com/gogpu/naga"
)

//go:embed preprocess.wgsl
var preprocessWGSL string

//go:embed radix_sort.wgsl
var radixSortWGSL string

//go:embed render.wgsl
var renderWGSL string

//go:embed text.wgsl
var TextWGSL string

const (
	PreprocessName = "preprocess.wgsl"
	RadixSortName  = "radix_sort.wgsl"
	RenderName     = "render.wgsl"
)

// Workgroup sizes shared by the host dispatch math and the shaders.
const (
	PreprocessWorkgroupSize = 64
	// RadixBlockSize is the number of keys one histogram/scatter workgroup
	// handles. It equals the number of 8-bit digit bins.
	RadixBlockSize = 256
	RadixBits      = 8
)

var shaderTemplate *template.Template

func init() {
	shaderTemplate = template.Must(template.New(PreprocessName).Parse(preprocessWGSL))
	shaderTemplate = template.Must(shaderTemplate.New(RadixSortName).Parse(radixSortWGSL))
	shaderTemplate = template.Must(shaderTemplate.New(RenderName).Parse(renderWGSL))
}

// Params selects one shader permutation.
type Params struct {
	WorkgroupSize  uint32
	RadixBlockSize uint32
	Gaussian       pod.ShaderFragment
	BackToFront    bool
}

func NewParams(layout pod.Layout, order core.DepthOrder) Params {
	return Params{
		WorkgroupSize:  PreprocessWorkgroupSize,
		RadixBlockSize: RadixBlockSize,
		Gaussian:       layout.WGSL(),
		BackToFront:    order == core.BackToFront,
	}
}

// Source expands the named template for p.
func Source(name string, p Params) (string, error) {
	var buf bytes.Buffer
	if err := shaderTemplate.ExecuteTemplate(&buf, name, p); err != nil {
		return "", &gsplat.ShaderCompileError{Label: name, Err: fmt.Errorf("template: %w", err)}
	}
	return buf.String(), nil
}

func Preprocess(p Params) (string, error) { return Source(PreprocessName, p) }
func RadixSort(p Params) (string, error)  { return Source(RadixSortName, p) }
func Render(p Params) (string, error)     { return Source(RenderName, p) }

// Compile runs a permutation through naga's WGSL front end and SPIR-V
// back end. It catches WGSL errors before the driver sees the source.
func Compile(label, wgsl string) ([]byte, error) {
	spirv, err := naga.Compile(wgsl)
	if err != nil {
		return nil, &gsplat.ShaderCompileError{Label: label, Err: err}
	}
	return spirv, nil
}

func Validate(label, wgsl string) error {
	_, err := Compile(label, wgsl)
	return err
}
