package app

import (
	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/gpu"
	"github.com/gekko3d/gsplat/splatrt/rt/pod"

	"github.com/go-gl/glfw/v3.3/glfw"
)

type AppBuilder struct {
	scene  *core.Gaussians
	config gpu.ViewerConfig
	debug  bool
}

func NewAppBuilder() *AppBuilder {
	cfg := gpu.DefaultViewerConfig()
	cfg.TrackVisibleCount = true
	return &AppBuilder{config: cfg}
}

func (b *AppBuilder) UseScene(scene *core.Gaussians) *AppBuilder {
	b.scene = scene
	return b
}

func (b *AppBuilder) UseLayout(layout pod.Layout) *AppBuilder {
	b.config.Layout = layout
	return b
}

func (b *AppBuilder) UseDepthOrder(order core.DepthOrder) *AppBuilder {
	b.config.DepthOrder = order
	return b
}

func (b *AppBuilder) UseLogger(logger gsplat.Logger) *AppBuilder {
	b.config.Logger = logger
	return b
}

func (b *AppBuilder) UseShaderValidation(enabled bool) *AppBuilder {
	b.config.ValidateShaders = enabled
	return b
}

func (b *AppBuilder) UseDebug(enabled bool) *AppBuilder {
	b.debug = enabled
	return b
}

// Config is the viewer configuration Build will use.
func (b *AppBuilder) Config() gpu.ViewerConfig {
	return b.config
}

// Build creates the App without touching the GPU; call Init afterwards.
func (b *AppBuilder) Build(window *glfw.Window) *App {
	scene := b.scene
	if scene == nil {
		scene = core.NewGaussians(nil)
	}
	app := NewApp(window, scene, b.config)
	app.DebugMode = b.debug
	return app
}
