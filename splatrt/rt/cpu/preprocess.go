// Package cpu is a host side reference of the splat pipeline compute passes.
// It follows the shaders step by step so GPU results can be checked against
// it, and it owns the dispatch size math both sides share.
package cpu

import (
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"
)

// MaxWorkgroupsPerDimension is the WebGPU default limit.
const MaxWorkgroupsPerDimension = 65535

// QuadVertexCount is the vertex count of one splat quad (two triangles).
const QuadVertexCount = 6

type DrawIndirectArgs struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

func DefaultDrawIndirectArgs() DrawIndirectArgs {
	return DrawIndirectArgs{VertexCount: QuadVertexCount}
}

type DispatchIndirectArgs struct {
	X, Y, Z uint32
}

func DefaultDispatchIndirectArgs() DispatchIndirectArgs {
	return DispatchIndirectArgs{X: 1, Y: 1, Z: 1}
}

func DivCeil(n, d uint32) uint32 {
	return (n + d - 1) / d
}

// MainDispatch returns the preprocess main grid for n Gaussians. Rows of at
// most MaxWorkgroupsPerDimension workgroups keep large scenes dispatchable.
func MainDispatch(n uint32) (x, y uint32) {
	groups := DivCeil(n, shaders.PreprocessWorkgroupSize)
	if groups == 0 {
		return 0, 1
	}
	if groups <= MaxWorkgroupsPerDimension {
		return groups, 1
	}
	return MaxWorkgroupsPerDimension, DivCeil(groups, MaxWorkgroupsPerDimension)
}

// SortDispatch is what post_main writes for a visible count.
func SortDispatch(count uint32) DispatchIndirectArgs {
	return DispatchIndirectArgs{X: DivCeil(count, shaders.RadixBlockSize), Y: 1, Z: 1}
}

// Result holds everything one preprocess dispatch writes.
type Result struct {
	Indices  []uint32
	Keys     []uint32
	Draw     DrawIndirectArgs
	Dispatch DispatchIndirectArgs
}

// Preprocess culls gs and compacts the visible ones in index order. The GPU
// appends through an atomic counter, so only the set of (index, key) pairs
// is comparable, not their order.
func Preprocess(cam core.CameraPod, model core.ModelTransformPod, gs []core.Gaussian, order core.DepthOrder) Result {
	res := Result{
		Indices: make([]uint32, 0, len(gs)),
		Keys:    make([]uint32, 0, len(gs)),
		Draw:    DefaultDrawIndirectArgs(),
	}

	for i := range gs {
		p := core.Project(cam, model, gs[i].Position)
		if !p.Visible() {
			continue
		}
		res.Indices = append(res.Indices, uint32(i))
		res.Keys = append(res.Keys, core.EncodeDepthKey(p.ViewDepth, order))
	}

	res.Draw.InstanceCount = uint32(len(res.Indices))
	res.Dispatch = SortDispatch(res.Draw.InstanceCount)
	return res
}
