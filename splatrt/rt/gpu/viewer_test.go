package gpu

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/cpu"
	"github.com/gekko3d/gsplat/splatrt/rt/pod"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTargetSize = 64

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := NewHeadlessContext()
	if errors.Is(err, gsplat.ErrNoAdapter) {
		t.Skipf("no GPU adapter: %v", err)
	}
	require.NoError(t, err)
	t.Cleanup(ctx.Release)
	return ctx
}

func newTestTarget(t *testing.T, ctx *Context, size uint32) *RenderTarget {
	t.Helper()
	rt, err := NewRenderTarget(ctx.Device, size, size)
	require.NoError(t, err)
	t.Cleanup(rt.Release)
	return rt
}

func newTestViewer(t *testing.T, ctx *Context, rt *RenderTarget, gs []core.Gaussian, cfg ViewerConfig) *Viewer {
	t.Helper()
	v, err := NewViewer(ctx.Device, rt.Format, gs, cfg)
	require.NoError(t, err)
	t.Cleanup(v.Release)
	return v
}

// lookDownNegZ matches the CPU reference tests: camera at the origin facing -Z.
func lookDownNegZ() core.CameraPod {
	return core.CameraPod{
		View: mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, core.Up),
		Proj: core.PerspectiveZO(mgl32.DegToRad(90), 1, 0.1, 100),
		Size: mgl32.Vec2{testTargetSize, testTargetSize},
	}
}

func frontAndBehind(visible, culled int) []core.Gaussian {
	var gs []core.Gaussian
	for i := 0; i < max(visible, culled); i++ {
		if i < visible {
			gs = append(gs, core.NewGaussian(mgl32.Vec3{0, 0, -1 - float32(i%97)*0.5}, [4]uint8{255, 255, 255, 255}, mgl32.Vec3{0.1, 0.1, 0.1}))
		}
		if i < culled {
			gs = append(gs, core.NewGaussian(mgl32.Vec3{0, 0, 5}, [4]uint8{255, 0, 0, 255}, mgl32.Vec3{0.1, 0.1, 0.1}))
		}
	}
	return gs
}

// pixelSum adds every channel of every pixel as a unit float.
func pixelSum(pixels []byte) [4]float64 {
	var sum [4]float64
	for i := 0; i+3 < len(pixels); i += 4 {
		for c := 0; c < 4; c++ {
			sum[c] += float64(pixels[i+c]) / 255
		}
	}
	return sum
}

func renderPixels(t *testing.T, ctx *Context, v *Viewer, rt *RenderTarget) []byte {
	t.Helper()
	require.NoError(t, v.RenderFrame(rt.View))
	pixels, err := rt.ReadPixels(ctx.Device)
	require.NoError(t, err)
	return pixels
}

func TestCheckModelSize(t *testing.T) {
	assert.NoError(t, CheckModelSize(0, 128))
	assert.NoError(t, CheckModelSize(128, 128))

	err := CheckModelSize(129, 128)
	var sizeErr *gsplat.ModelSizeExceedsDeviceLimitError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, uint64(129), sizeErr.ModelSize)
	assert.Equal(t, uint64(128), sizeErr.DeviceLimit)
}

func TestBlendState(t *testing.T) {
	under := BlendState(core.FrontToBack)
	assert.Equal(t, wgpu.BlendFactorOneMinusDstAlpha, under.Color.SrcFactor)
	assert.Equal(t, wgpu.BlendFactorOne, under.Color.DstFactor)
	assert.Equal(t, under.Color, under.Alpha)

	over := BlendState(core.BackToFront)
	assert.Equal(t, wgpu.BlendFactorOne, over.Color.SrcFactor)
	assert.Equal(t, wgpu.BlendFactorOneMinusSrcAlpha, over.Color.DstFactor)
	assert.Equal(t, over.Color, over.Alpha)
}

func TestViewer_IndirectArgsMatchReference(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	for _, n := range []int{0, 1, 64, 256, 257} {
		t.Run(fmt.Sprintf("visible=%d", n), func(t *testing.T) {
			gs := frontAndBehind(n, 5)
			v := newTestViewer(t, ctx, rt, gs, DefaultViewerConfig())
			v.UpdateCameraWithPod(lookDownNegZ())
			require.NoError(t, v.RenderFrame(rt.View))

			want := cpu.Preprocess(lookDownNegZ(), core.NewModelTransformPod(), gs, core.FrontToBack)

			got, err := v.DownloadVisible()
			require.NoError(t, err)
			assert.Equal(t, want.Draw, got.Draw)

			dispatch, err := v.DownloadDispatch()
			require.NoError(t, err)
			assert.Equal(t, want.Dispatch, dispatch)
		})
	}
}

func TestViewer_SortMatchesReference(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	cam := lookDownNegZ()
	gs := core.RandomScene(7, 3000, 20).Items

	tests := []struct {
		order   core.DepthOrder
		keyBits int
	}{
		{core.FrontToBack, 32},
		{core.BackToFront, 32},
		// Three passes leave the result in the sorter's own buffers.
		{core.FrontToBack, 24},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s/%dbits", tc.order, tc.keyBits), func(t *testing.T) {
			cfg := DefaultViewerConfig()
			cfg.DepthOrder = tc.order
			cfg.KeyBits = tc.keyBits
			v := newTestViewer(t, ctx, rt, gs, cfg)
			assert.Equal(t, cpu.CurrentAfter(cpu.Passes(tc.keyBits)), v.Sorter.Current())

			v.UpdateCameraWithPod(cam)
			require.NoError(t, v.RenderFrame(rt.View))

			ref := cpu.Preprocess(cam, core.NewModelTransformPod(), gs, tc.order)
			require.NotZero(t, ref.Draw.InstanceCount)

			got, err := v.DownloadVisible()
			require.NoError(t, err)
			require.Equal(t, ref.Draw.InstanceCount, got.Draw.InstanceCount)

			shift := cpu.PassShift(tc.keyBits, 0)
			assert.True(t, sort.SliceIsSorted(got.Keys, func(i, j int) bool {
				return got.Keys[i]>>shift < got.Keys[j]>>shift
			}), "keys not sorted")

			// A partial sort drops low mantissa bits only, so view depth
			// stays ordered up to that precision.
			for i := 1; i < len(got.Keys); i++ {
				prev := core.DecodeDepthKey(got.Keys[i-1], tc.order)
				cur := core.DecodeDepthKey(got.Keys[i], tc.order)
				if tc.order == core.BackToFront {
					prev, cur = cur, prev
				}
				assert.LessOrEqual(t, prev, cur*(1+1e-4), "depth order at %d", i)
			}

			refKey := make(map[uint32]uint32, len(ref.Indices))
			for i, idx := range ref.Indices {
				refKey[idx] = ref.Keys[i]
			}
			seen := make(map[uint32]bool, len(got.Indices))
			for i, idx := range got.Indices {
				key, ok := refKey[idx]
				require.True(t, ok, "index %d is not visible in the reference", idx)
				assert.False(t, seen[idx], "index %d appears twice", idx)
				assert.Equal(t, key, got.Keys[i], "key of index %d", idx)
				seen[idx] = true
			}
		})
	}
}

func TestViewer_ZeroGaussians(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	for name, gs := range map[string][]core.Gaussian{
		"empty":        nil,
		"fully culled": frontAndBehind(0, 20),
	} {
		t.Run(name, func(t *testing.T) {
			v := newTestViewer(t, ctx, rt, gs, DefaultViewerConfig())
			v.UpdateCameraWithPod(lookDownNegZ())
			pixels := renderPixels(t, ctx, v, rt)

			got, err := v.DownloadVisible()
			require.NoError(t, err)
			assert.Zero(t, got.Draw.InstanceCount)
			assert.Equal(t, uint32(cpu.QuadVertexCount), got.Draw.VertexCount)

			dispatch, err := v.DownloadDispatch()
			require.NoError(t, err)
			assert.Equal(t, cpu.DispatchIndirectArgs{X: 0, Y: 1, Z: 1}, dispatch)

			assert.Equal(t, [4]float64{}, pixelSum(pixels))
		})
	}
}

func TestViewer_TwoGaussians(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	// Index 0 is far and blue, index 1 is near and red; both cover the center.
	gs := []core.Gaussian{
		core.NewGaussian(mgl32.Vec3{0, 0, -8}, [4]uint8{0, 0, 255, 255}, mgl32.Vec3{1, 1, 1}),
		core.NewGaussian(mgl32.Vec3{0, 0, -2}, [4]uint8{255, 0, 0, 255}, mgl32.Vec3{0.5, 0.5, 0.5}),
	}

	tests := []struct {
		order core.DepthOrder
		want  []uint32
	}{
		{core.FrontToBack, []uint32{1, 0}},
		{core.BackToFront, []uint32{0, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.order.String(), func(t *testing.T) {
			cfg := DefaultViewerConfig()
			cfg.DepthOrder = tc.order
			v := newTestViewer(t, ctx, rt, gs, cfg)
			v.UpdateCameraWithPod(lookDownNegZ())
			pixels := renderPixels(t, ctx, v, rt)

			got, err := v.DownloadVisible()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Indices)

			// The near red splat is nearly opaque at its center in both orders.
			center := (testTargetSize/2*testTargetSize + testTargetSize/2) * 4
			r, b := pixels[center], pixels[center+2]
			assert.Greater(t, r, b, "center pixel %v", pixels[center:center+4])
		})
	}
}

// originalCamera is the camera the viewer tests use: slightly rotated and
// looking down +Z at a 1024 square target.
func originalCamera() *core.Camera {
	cam := core.NewCamera(0.1, 1e4, mgl32.DegToRad(60))
	cam.Yaw = 0.1
	cam.Pitch = 0.1
	return cam
}

func TestViewer_RedGaussian(t *testing.T) {
	ctx := newTestContext(t)
	const size = 1024
	rt := newTestTarget(t, ctx, size)

	gs := []core.Gaussian{core.NewGaussian(mgl32.Vec3{0, 0, 1}, [4]uint8{255, 0, 0, 255}, mgl32.Vec3{1, 1, 1})}
	cam := originalCamera()

	t.Run("colored", func(t *testing.T) {
		v := newTestViewer(t, ctx, rt, gs, DefaultViewerConfig())
		v.UpdateCamera(cam, size, size)
		sum := pixelSum(renderPixels(t, ctx, v, rt))
		assert.Greater(t, sum[0], 1.0)
		assert.Less(t, sum[1], 1.0)
		assert.Less(t, sum[2], 1.0)
		assert.Greater(t, sum[3], 1.0)
	})

	t.Run("no sh0", func(t *testing.T) {
		v := newTestViewer(t, ctx, rt, gs, DefaultViewerConfig())
		v.UpdateCamera(cam, size, size)
		gt := core.NewGaussianTransformPod()
		gt.NoSh0 = true
		v.UpdateGaussianTransformWithPod(gt)
		sum := pixelSum(renderPixels(t, ctx, v, rt))
		for c := 0; c < 4; c++ {
			assert.Greater(t, sum[c], 1.0, "channel %d", c)
		}
	})

	t.Run("model behind camera", func(t *testing.T) {
		v := newTestViewer(t, ctx, rt, gs, DefaultViewerConfig())
		v.UpdateCamera(cam, size, size)
		v.UpdateModelTransform(mgl32.Vec3{0, 0, -10}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
		sum := pixelSum(renderPixels(t, ctx, v, rt))
		assert.Zero(t, sum[0]+sum[1]+sum[2])
	})

	t.Run("camera pod matches camera", func(t *testing.T) {
		v := newTestViewer(t, ctx, rt, gs, DefaultViewerConfig())
		v.UpdateCamera(cam, size, size)
		direct := renderPixels(t, ctx, v, rt)
		v.UpdateCameraWithPod(core.NewCameraPod(cam, size, size))
		viaPod := renderPixels(t, ctx, v, rt)
		assert.Equal(t, direct, viaPod)
	})
}

func TestViewer_PrecisionLayouts(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	gs := []core.Gaussian{core.NewGaussian(mgl32.Vec3{0, 0, -2}, [4]uint8{255, 0, 0, 255}, mgl32.Vec3{0.5, 0.5, 0.5})}
	for _, layout := range pod.Layouts() {
		t.Run(layout.Name(), func(t *testing.T) {
			cfg := DefaultViewerConfig()
			cfg.Layout = layout
			v := newTestViewer(t, ctx, rt, gs, cfg)
			v.UpdateCameraWithPod(lookDownNegZ())
			sum := pixelSum(renderPixels(t, ctx, v, rt))
			assert.Greater(t, sum[0], 1.0)
			assert.Less(t, sum[2], 1.0)
		})
	}
}

func TestViewer_UpdateGaussians(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	gs := frontAndBehind(4, 0)
	v := newTestViewer(t, ctx, rt, gs, DefaultViewerConfig())

	assert.ErrorIs(t, v.UpdateGaussians(gs[:2]), gsplat.ErrGaussianRange)
	assert.ErrorIs(t, v.UpdateGaussianRange(3, gs[:2]), gsplat.ErrGaussianRange)
	assert.ErrorIs(t, v.UpdateGaussianRange(-1, gs[:1]), gsplat.ErrGaussianRange)
	assert.NoError(t, v.UpdateGaussianRange(2, gs[:2]))
	assert.NoError(t, v.UpdateGaussians(gs))

	// Moving every Gaussian behind the camera empties the draw.
	behind := frontAndBehind(0, 4)
	require.NoError(t, v.UpdateGaussians(behind))
	v.UpdateCameraWithPod(lookDownNegZ())
	require.NoError(t, v.RenderFrame(rt.View))
	got, err := v.DownloadVisible()
	require.NoError(t, err)
	assert.Zero(t, got.Draw.InstanceCount)
}

func TestViewer_Stats(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	cfg := DefaultViewerConfig()
	cfg.TrackVisibleCount = true
	gs := frontAndBehind(10, 3)
	v := newTestViewer(t, ctx, rt, gs, cfg)
	v.UpdateCameraWithPod(lookDownNegZ())

	for i := 0; i < 4; i++ {
		require.NoError(t, v.RenderFrame(rt.View))
	}
	ctx.Device.Poll(true, nil)
	v.PollStats()

	s := v.Stats()
	assert.Equal(t, uint32(len(gs)), s.GaussianCount)
	assert.Equal(t, 4, s.SortPasses)
	assert.Equal(t, uint64(4), s.Frames)
	assert.Equal(t, uint64(len(gs)*cfg.Layout.Size()), s.ModelSize)
	assert.Equal(t, uint32(10), s.VisibleCount)
}

func TestViewer_EndToEndOneVisible(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	gs := []core.Gaussian{
		core.NewGaussian(mgl32.Vec3{0, 0, 5}, [4]uint8{0, 255, 0, 255}, mgl32.Vec3{0.1, 0.1, 0.1}),
		core.NewGaussian(mgl32.Vec3{0, 0, -3}, [4]uint8{255, 0, 0, 255}, mgl32.Vec3{0.1, 0.1, 0.1}),
	}
	v := newTestViewer(t, ctx, rt, gs, DefaultViewerConfig())
	v.UpdateCameraWithPod(lookDownNegZ())
	pixels := renderPixels(t, ctx, v, rt)

	got, err := v.DownloadVisible()
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.Draw.InstanceCount)
	assert.Equal(t, []uint32{1}, got.Indices)
	assert.InDelta(t, 3.0, core.DecodeDepthKey(got.Keys[0], core.FrontToBack), 1e-5)

	const c = testTargetSize / 2
	assert.NotZero(t, pixels[(c*testTargetSize+c)*4+3], "center pixel uncovered")
	for y := 0; y < testTargetSize; y++ {
		for x := 0; x < testTargetSize; x++ {
			i := (y*testTargetSize + x) * 4
			if pixels[i+3] == 0 {
				continue
			}
			dx, dy := x-c, y-c
			assert.LessOrEqual(t, dx*dx+dy*dy, 8*8, "coverage at (%d, %d)", x, y)
			assert.Zero(t, pixels[i+1], "green from the culled splat at (%d, %d)", x, y)
		}
	}
}

func TestViewer_IndexAndKeyBuffersMatch(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	v := newTestViewer(t, ctx, rt, frontAndBehind(257, 0), DefaultViewerConfig())
	require.Equal(t, uint32(512), v.Buffers.KeyCapacity)
	assert.Equal(t, uint64(512*4), v.Buffers.IndicesBuf.GetSize())
	assert.Equal(t, v.Buffers.DepthKeysBuf.GetSize(), v.Buffers.IndicesBuf.GetSize())
	assert.Equal(t, v.Sorter.Capacity, v.Buffers.KeyCapacity)
}

// countingLogger records how many debug lines were written.
type countingLogger struct {
	debug int
}

func (l *countingLogger) DebugEnabled() bool    { return true }
func (l *countingLogger) SetDebug(bool)         {}
func (l *countingLogger) Debugf(string, ...any) { l.debug++ }
func (l *countingLogger) Infof(string, ...any)  {}
func (l *countingLogger) Warnf(string, ...any)  {}
func (l *countingLogger) Errorf(string, ...any) {}

func TestViewer_FramesDoNotLogAtDebug(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	logger := &countingLogger{}
	cfg := DefaultViewerConfig()
	cfg.Logger = logger
	v := newTestViewer(t, ctx, rt, frontAndBehind(10, 0), cfg)
	v.UpdateCameraWithPod(lookDownNegZ())

	afterCreate := logger.debug
	assert.NotZero(t, afterCreate)
	for i := 0; i < 3; i++ {
		require.NoError(t, v.RenderFrame(rt.View))
	}
	assert.Equal(t, afterCreate, logger.debug)
}

func TestViewer_CreateAndReleaseRepeatedly(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)

	for i := 0; i < 20; i++ {
		v, err := NewViewer(ctx.Device, rt.Format, frontAndBehind(10, 0), DefaultViewerConfig())
		require.NoError(t, err, "iteration %d", i)
		v.UpdateCameraWithPod(lookDownNegZ())
		require.NoError(t, v.RenderFrame(rt.View))
		v.Release()
		v.Release()
	}
}
