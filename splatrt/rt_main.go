package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/app"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/pod"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	runtime.LockOSThread()
}

func buildScene(name string, count int) (*core.Gaussians, error) {
	switch name {
	case "sphere":
		return core.SphereScene(mgl32.Vec3{0, 0, 0}, 2, count, 0.04), nil
	case "grid":
		n := 1
		for n*n < count {
			n++
		}
		return core.GridScene(n, 0.1, 0, 0.03), nil
	case "random":
		return core.RandomScene(1, count, 5), nil
	}
	return nil, fmt.Errorf("unknown scene %q (sphere, grid, random)", name)
}

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging and the profiler overlay")
	sh := flag.String("sh", "single", "SH precision: single, half, norm8, none")
	cov := flag.String("cov", "single", "Covariance precision: single, half")
	order := flag.String("order", "front-to-back", "Depth order: front-to-back, back-to-front")
	sceneName := flag.String("scene", "sphere", "Procedural scene: sphere, grid, random")
	count := flag.Int("count", 20000, "Number of Gaussians in the scene")
	snapshot := flag.String("snapshot", "", "Render one frame offscreen to this .png/.bmp/.tiff file and exit")
	validate := flag.Bool("validate", false, "Validate shaders with naga before creating pipelines")
	width := flag.Int("width", 1280, "Window or snapshot width")
	height := flag.Int("height", 720, "Window or snapshot height")
	flag.Parse()

	logger := gsplat.NewDefaultLogger("gsplat", *debug)
	fail := func(err error) {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	layout, err := pod.ParseLayout(*sh, *cov)
	if err != nil {
		fail(err)
	}
	depthOrder, err := core.ParseDepthOrder(*order)
	if err != nil {
		fail(err)
	}
	scene, err := buildScene(*sceneName, *count)
	if err != nil {
		fail(err)
	}

	builder := app.NewAppBuilder().
		UseScene(scene).
		UseLayout(layout).
		UseDepthOrder(depthOrder).
		UseLogger(logger).
		UseShaderValidation(*validate).
		UseDebug(*debug)

	if *snapshot != "" {
		// Same framing as the window.
		a := builder.Build(nil)
		if err := app.SaveSnapshot(*snapshot, scene, builder.Config(), a.Camera, uint32(*width), uint32(*height)); err != nil {
			fail(err)
		}
		logger.Infof("Wrote %s", *snapshot)
		return
	}

	if err := glfw.Init(); err != nil {
		fail(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(*width, *height, "gsplat", nil, nil)
	if err != nil {
		fail(err)
	}
	defer window.Destroy()

	application := builder.Build(window)
	if err := application.Init(); err != nil {
		fail(err)
	}
	defer application.Release()

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})
	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		application.HandleMouseMove(xpos, ypos)
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		application.HandleKey(key, action)
	})

	if err := application.Run(); err != nil {
		fail(err)
	}
}
