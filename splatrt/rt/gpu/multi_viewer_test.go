package gpu

import (
	"testing"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMultiViewer(t *testing.T, ctx *Context, rt *RenderTarget) *MultiViewer[string] {
	t.Helper()
	v, err := NewMultiViewer[string](ctx.Device, rt.Format, DefaultViewerConfig())
	require.NoError(t, err)
	t.Cleanup(v.Release)
	v.UpdateCameraWithPod(lookDownNegZ())
	return v
}

func renderMultiPixels(t *testing.T, ctx *Context, v *MultiViewer[string], rt *RenderTarget, keys []string) []byte {
	t.Helper()
	require.NoError(t, v.RenderFrame(rt.View, keys))
	pixels, err := rt.ReadPixels(ctx.Device)
	require.NoError(t, err)
	return pixels
}

func pixelAt(pixels []byte, x, y int) []byte {
	i := (y*testTargetSize + x) * 4
	return pixels[i : i+4]
}

// One splat at the origin; models place it with their transform.
func singleSplat(color [4]uint8) []core.Gaussian {
	return []core.Gaussian{core.NewGaussian(mgl32.Vec3{}, color, mgl32.Vec3{0.3, 0.3, 0.3})}
}

func TestMultiViewer_TwoModels(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)
	v := newTestMultiViewer(t, ctx, rt)

	require.NoError(t, v.InsertModel("red", singleSplat([4]uint8{255, 0, 0, 255})))
	require.NoError(t, v.InsertModel("blue", singleSplat([4]uint8{0, 0, 255, 255})))
	assert.Equal(t, 2, v.Len())

	// Side by side: x = ±1 at depth 3 lands about 11 pixels off center.
	require.NoError(t, v.UpdateModelTransform("red", mgl32.Vec3{-1, 0, -3}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1}))
	require.NoError(t, v.UpdateModelTransform("blue", mgl32.Vec3{1, 0, -3}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1}))
	pixels := renderMultiPixels(t, ctx, v, rt, []string{"red", "blue"})

	const c = testTargetSize / 2
	left, right := pixelAt(pixels, c-11, c), pixelAt(pixels, c+11, c)
	assert.Greater(t, left[0], left[2], "left pixel %v", left)
	assert.Greater(t, right[2], right[0], "right pixel %v", right)
	assert.Zero(t, pixelAt(pixels, 0, 0)[3])

	for _, key := range []string{"red", "blue"} {
		got, err := v.DownloadVisible(key)
		require.NoError(t, err)
		assert.Equal(t, []uint32{0}, got.Indices, key)
		assert.InDelta(t, 3.0, core.DecodeDepthKey(got.Keys[0], core.FrontToBack), 1e-4, key)
	}
}

func TestMultiViewer_DrawOrderFollowsKeys(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)
	v := newTestMultiViewer(t, ctx, rt)

	require.NoError(t, v.InsertModel("red", singleSplat([4]uint8{255, 0, 0, 255})))
	require.NoError(t, v.InsertModel("blue", singleSplat([4]uint8{0, 0, 255, 255})))
	require.NoError(t, v.UpdateModelTransform("red", mgl32.Vec3{0, 0, -3}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1}))
	require.NoError(t, v.UpdateModelTransform("blue", mgl32.Vec3{0, 0, -3}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1}))

	// Front to back blending keeps whatever is drawn first on top.
	const c = testTargetSize / 2
	redFirst := pixelAt(renderMultiPixels(t, ctx, v, rt, []string{"red", "blue"}), c, c)
	assert.Greater(t, redFirst[0], redFirst[2], "center pixel %v", redFirst)

	blueFirst := pixelAt(renderMultiPixels(t, ctx, v, rt, []string{"blue", "red"}), c, c)
	assert.Greater(t, blueFirst[2], blueFirst[0], "center pixel %v", blueFirst)
}

func TestMultiViewer_Keys(t *testing.T) {
	ctx := newTestContext(t)
	rt := newTestTarget(t, ctx, testTargetSize)
	v := newTestMultiViewer(t, ctx, rt)

	require.NoError(t, v.InsertModel("a", singleSplat([4]uint8{255, 255, 255, 255})))
	require.NoError(t, v.InsertModel("b", singleSplat([4]uint8{255, 255, 255, 255})))

	var countErr *gsplat.ModelCountMismatchError
	require.ErrorAs(t, v.RenderFrame(rt.View, []string{"a"}), &countErr)
	assert.Equal(t, 2, countErr.ModelCount)
	assert.Equal(t, 1, countErr.KeysLen)

	assert.ErrorIs(t, v.RenderFrame(rt.View, []string{"a", "c"}), gsplat.ErrModelNotFound)
	assert.Error(t, v.RenderFrame(rt.View, []string{"a", "a"}))
	assert.ErrorIs(t, v.UpdateModelTransformWithPod("c", core.NewModelTransformPod()), gsplat.ErrModelNotFound)
	_, err := v.DownloadVisible("c")
	assert.ErrorIs(t, err, gsplat.ErrModelNotFound)

	// Reinserting replaces the model in place.
	require.NoError(t, v.InsertModel("b", nil))
	assert.Equal(t, 2, v.Len())

	assert.True(t, v.RemoveModel("b"))
	assert.False(t, v.RemoveModel("b"))
	assert.Equal(t, 1, v.Len())
	_, ok := v.Model("b")
	assert.False(t, ok)
	assert.NoError(t, v.RenderFrame(rt.View, []string{"a"}))
}
