package app

import (
	"testing"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/pod"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestAppBuilder_Defaults(t *testing.T) {
	app := NewAppBuilder().Build(nil)

	assert.NotNil(t, app.Scene)
	assert.Zero(t, app.Scene.Len())
	assert.Equal(t, pod.DefaultLayout(), app.ViewerConfig.Layout)
	assert.Equal(t, core.FrontToBack, app.ViewerConfig.DepthOrder)
	assert.True(t, app.ViewerConfig.TrackVisibleCount)
	assert.False(t, app.DebugMode)
	assert.NotNil(t, app.Logger)
}

func TestAppBuilder_Use(t *testing.T) {
	layout := pod.Layout{Sh: pod.ShNorm8, Cov: pod.CovHalf}
	logger := gsplat.NewDefaultLogger("test", true)
	scene := core.SphereScene(mgl32.Vec3{0, 0, 10}, 2, 50, 0.05)

	b := NewAppBuilder().
		UseScene(scene).
		UseLayout(layout).
		UseDepthOrder(core.BackToFront).
		UseLogger(logger).
		UseShaderValidation(true).
		UseDebug(true)
	app := b.Build(nil)

	assert.Same(t, scene, app.Scene)
	assert.Equal(t, layout, app.ViewerConfig.Layout)
	assert.Equal(t, core.BackToFront, app.ViewerConfig.DepthOrder)
	assert.True(t, app.ViewerConfig.ValidateShaders)
	assert.Same(t, logger, app.Logger)
	assert.True(t, app.DebugMode)
	assert.Equal(t, b.Config(), app.ViewerConfig)
}

func TestNewApp_CameraFramesScene(t *testing.T) {
	scene := core.SphereScene(mgl32.Vec3{0, 0, 10}, 2, 200, 0.05)
	app := NewAppBuilder().UseScene(scene).Build(nil)

	// The camera sits on the -Z side looking along +Z at the scene center.
	assert.Less(t, app.Camera.Position.Z(), float32(8))
	cam := core.NewCameraPod(app.Camera, 100, 100)
	assert.True(t, core.Project(cam, core.NewModelTransformPod(), mgl32.Vec3{0, 0, 10}).Visible())
}

func TestApplySplatKey(t *testing.T) {
	p := core.NewGaussianTransformPod()

	assert.True(t, ApplySplatKey(&p, glfw.KeyM))
	assert.Equal(t, core.DisplayEllipse, p.DisplayMode)
	ApplySplatKey(&p, glfw.KeyM)
	ApplySplatKey(&p, glfw.KeyM)
	assert.Equal(t, core.DisplaySplat, p.DisplayMode)

	ApplySplatKey(&p, glfw.KeyH)
	assert.True(t, p.NoSh0)

	ApplySplatKey(&p, glfw.Key1)
	assert.Equal(t, core.ShDegree(1), p.ShDegree)

	ApplySplatKey(&p, glfw.KeyEqual)
	assert.InDelta(t, 1.1, p.Size, 1e-6)
	ApplySplatKey(&p, glfw.KeyMinus)
	assert.InDelta(t, 1.0, p.Size, 1e-6)

	ApplySplatKey(&p, glfw.KeyRightBracket)
	assert.Equal(t, float32(core.MaxStdDevLimit), p.MaxStdDev)
	ApplySplatKey(&p, glfw.KeyLeftBracket)
	assert.Equal(t, float32(2.75), p.MaxStdDev)

	assert.False(t, ApplySplatKey(&p, glfw.KeyQ))
}

func TestApp_SceneBounds(t *testing.T) {
	scene := core.NewGaussians([]core.Gaussian{
		core.NewGaussian(mgl32.Vec3{-1, 0, 0}, [4]uint8{255, 255, 255, 255}, mgl32.Vec3{1, 1, 1}),
		core.NewGaussian(mgl32.Vec3{1, 2, 3}, [4]uint8{255, 255, 255, 255}, mgl32.Vec3{1, 1, 1}),
	})
	app := NewAppBuilder().UseScene(scene).Build(nil)
	assert.Equal(t, [2]mgl32.Vec3{{-1, 0, 0}, {1, 2, 3}}, app.SceneBounds())

	app.Model.Position = mgl32.Vec3{0, 0, 10}
	app.Model.Scale = mgl32.Vec3{2, 2, 2}
	assert.Equal(t, [2]mgl32.Vec3{{-2, 0, 10}, {2, 4, 16}}, app.SceneBounds())
}
