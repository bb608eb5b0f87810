package app

import (
	"fmt"
	"unsafe"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/gpu"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	Viewer       *gpu.Viewer
	ViewerConfig gpu.ViewerConfig
	Scene        *core.Gaussians
	Camera       *core.Camera
	Model        core.ModelTransformPod
	Splat        core.GaussianTransformPod

	Logger   gsplat.Logger
	Profiler *Profiler

	Sampler          *wgpu.Sampler
	TextRenderer     *core.TextRenderer
	TextPipeline     *wgpu.RenderPipeline
	TextAtlasView    *wgpu.TextureView
	TextBindGroup    *wgpu.BindGroup
	TextVertexBuffer *wgpu.Buffer
	TextItems        []core.TextItem
	TextVertexCount  uint32

	LastTime       float64
	LastRenderTime float64
	MouseCaptured  bool
	MouseX         float64
	MouseY         float64
	DebugMode      bool

	FrameCount    int
	FPS           float64
	FPSTime       float64
	SkippedFrames int
}

func NewApp(window *glfw.Window, scene *core.Gaussians, cfg gpu.ViewerConfig) *App {
	cam := core.NewCamera(0.1, 1e4, mgl32.DegToRad(60))
	if scene != nil && scene.Len() > 0 {
		b := scene.Bounds()
		center := b[0].Add(b[1]).Mul(0.5)
		extent := b[1].Sub(b[0]).Len()
		cam.Position = center.Sub(mgl32.Vec3{0, 0, extent})
	}
	return &App{
		Window:       window,
		Scene:        scene,
		ViewerConfig: cfg,
		Camera:       cam,
		Model:        core.NewModelTransformPod(),
		Splat:        core.NewGaussianTransformPod(),
		Logger:       gsplat.LoggerOrNop(cfg.Logger),
		Profiler:     NewProfiler(),
	}
}

func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil || adapter == nil {
		return fmt.Errorf("%w: %v", gsplat.ErrNoAdapter, err)
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "gsplat device",
		RequiredLimits: gpu.RequiredLimits(adapter),
	})
	if err != nil {
		return err
	}
	a.Queue = a.Device.GetQueue()

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, a.Device, a.Config)

	var items []core.Gaussian
	if a.Scene != nil {
		items = a.Scene.Items
	}
	a.Viewer, err = gpu.NewViewer(a.Device, a.Config.Format, items, a.ViewerConfig)
	if err != nil {
		return err
	}
	a.Viewer.UpdateModelTransformWithPod(a.Model)
	a.Viewer.UpdateGaussianTransformWithPod(a.Splat)

	a.Sampler, err = a.Device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return err
	}

	a.TextRenderer, err = core.NewTextRenderer(16)
	if err != nil {
		a.Logger.Warnf("Failed to initialize text renderer: %v", err)
	} else if err := a.setupTextResources(); err != nil {
		a.Logger.Warnf("HUD disabled: %v", err)
		a.TextPipeline = nil
	}

	a.LastTime = glfw.GetTime()
	return nil
}

func (a *App) Resize(w, h int) {
	if w > 0 && h > 0 {
		a.Config.Width = uint32(w)
		a.Config.Height = uint32(h)
		a.Surface.Configure(a.Adapter, a.Device, a.Config)
	}
}

// Update moves the camera from held keys, pushes uniforms and rebuilds the
// HUD vertices.
func (a *App) Update() {
	now := glfw.GetTime()
	dt := float32(now - a.LastTime)
	a.LastTime = now

	a.Profiler.BeginScope("Update")
	a.handleMovement(dt)

	cam := core.NewCameraPod(a.Camera, a.Config.Width, a.Config.Height)
	a.Viewer.UpdateCameraWithPod(cam)
	a.Viewer.UpdateModelTransformWithPod(a.Model)
	a.Viewer.UpdateGaussianTransformWithPod(a.Splat)

	stats := a.Viewer.Stats()
	a.Profiler.SetCount("Gaussians", int(stats.GaussianCount))
	a.Profiler.SetCount("Visible", int(stats.VisibleCount))
	a.Profiler.SetCount("Skipped frames", a.SkippedFrames)

	a.ClearText()
	a.DrawText(fmt.Sprintf("FPS: %.1f  %s  %s  SH %d", a.FPS, a.Splat.DisplayMode, a.ViewerConfig.DepthOrder, a.Splat.ShDegree), 10, 10, 1.0, [4]float32{1, 1, 0, 1})
	if a.Scene.Len() > 0 && !core.AABBInFrustum(a.SceneBounds(), core.ExtractFrustum(cam.ViewProj())) {
		a.DrawText("Scene out of view (Tab to look around)", 10, 30, 1.0, [4]float32{1, 0.4, 0.4, 1})
	}
	if a.DebugMode {
		y := float32(50)
		for _, line := range a.Profiler.Lines() {
			a.DrawText(line, 10, y, 1.0, [4]float32{1, 1, 1, 1})
			y += 18
		}
	}
	a.uploadText()
	a.Profiler.EndScope("Update")
}

// SceneBounds is the world space box around every Gaussian center under the
// current model transform.
func (a *App) SceneBounds() [2]mgl32.Vec3 {
	b := a.Scene.Bounds()
	var out [2]mgl32.Vec3
	for i := 0; i < 8; i++ {
		corner := mgl32.Vec3{b[i&1][0], b[(i>>1)&1][1], b[(i>>2)&1][2]}
		w := a.Model.Apply(corner)
		if i == 0 {
			out = [2]mgl32.Vec3{w, w}
			continue
		}
		for k := 0; k < 3; k++ {
			out[0][k] = min(out[0][k], w[k])
			out[1][k] = max(out[1][k], w[k])
		}
	}
	return out
}

func (a *App) handleMovement(dt float32) {
	step := a.Camera.Speed * dt
	if a.Window.GetKey(glfw.KeyLeftControl) == glfw.Press {
		step *= 5
	}
	var forward, right, up float32
	if a.Window.GetKey(glfw.KeyW) == glfw.Press {
		forward += step
	}
	if a.Window.GetKey(glfw.KeyS) == glfw.Press {
		forward -= step
	}
	if a.Window.GetKey(glfw.KeyD) == glfw.Press {
		right += step
	}
	if a.Window.GetKey(glfw.KeyA) == glfw.Press {
		right -= step
	}
	if a.Window.GetKey(glfw.KeySpace) == glfw.Press {
		up += step
	}
	if a.Window.GetKey(glfw.KeyLeftShift) == glfw.Press {
		up -= step
	}
	a.Camera.MoveBy(forward, right)
	a.Camera.MoveUp(up)
}

// HandleMouseMove turns the camera while the cursor is captured.
func (a *App) HandleMouseMove(x, y float64) {
	dx, dy := x-a.MouseX, y-a.MouseY
	a.MouseX, a.MouseY = x, y
	if !a.MouseCaptured {
		return
	}
	a.Camera.YawBy(-float32(dx) * a.Camera.Sensitivity)
	a.Camera.PitchBy(-float32(dy) * a.Camera.Sensitivity)
}

// HandleKey applies the discrete viewer controls.
func (a *App) HandleKey(key glfw.Key, action glfw.Action) {
	if action != glfw.Press && action != glfw.Repeat {
		return
	}
	switch key {
	case glfw.KeyTab:
		if action != glfw.Press {
			return
		}
		a.MouseCaptured = !a.MouseCaptured
		if a.MouseCaptured {
			a.Window.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
		} else {
			a.Window.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
		}
	case glfw.KeyEscape:
		a.Window.SetShouldClose(true)
	case glfw.KeyF3:
		a.DebugMode = !a.DebugMode
		a.Logger.SetDebug(a.DebugMode)
	default:
		ApplySplatKey(&a.Splat, key)
	}
}

// ApplySplatKey changes the global splat parameters: M cycles the display
// mode, H toggles the zero order SH term, 0-3 pick the SH degree and +/-
// scale every splat.
func ApplySplatKey(p *core.GaussianTransformPod, key glfw.Key) bool {
	switch key {
	case glfw.KeyM:
		p.DisplayMode = (p.DisplayMode + 1) % (core.DisplayPoint + 1)
	case glfw.KeyH:
		p.NoSh0 = !p.NoSh0
	case glfw.Key0, glfw.Key1, glfw.Key2, glfw.Key3:
		p.ShDegree = core.ShDegree(key - glfw.Key0)
	case glfw.KeyEqual, glfw.KeyKPAdd:
		p.Size = min(p.Size*1.1, 10)
	case glfw.KeyMinus, glfw.KeyKPSubtract:
		p.Size = max(p.Size/1.1, 0.01)
	case glfw.KeyLeftBracket:
		p.MaxStdDev = max(p.MaxStdDev-0.25, 0.25)
	case glfw.KeyRightBracket:
		p.MaxStdDev = min(p.MaxStdDev+0.25, core.MaxStdDevLimit)
	default:
		return false
	}
	return true
}

func (a *App) ClearText() {
	a.TextItems = a.TextItems[:0]
	a.TextVertexCount = 0
}

func (a *App) DrawText(text string, x, y float32, scale float32, color [4]float32) {
	a.TextItems = append(a.TextItems, core.TextItem{
		Text:     text,
		Position: [2]float32{x, y},
		Scale:    scale,
		Color:    color,
	})
}

func (a *App) uploadText() {
	if len(a.TextItems) == 0 || a.TextRenderer == nil || a.TextPipeline == nil {
		return
	}
	vertices := a.TextRenderer.BuildVertices(a.TextItems, int(a.Config.Width), int(a.Config.Height))
	if len(vertices) == 0 {
		return
	}
	vSize := uint64(len(vertices) * int(unsafe.Sizeof(core.TextVertex{})))
	if a.TextVertexBuffer == nil || a.TextVertexBuffer.GetSize() < vSize {
		if a.TextVertexBuffer != nil {
			a.TextVertexBuffer.Release()
		}
		var err error
		a.TextVertexBuffer, err = a.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "Text VB",
			Size:  vSize,
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			a.Logger.Errorf("Text vertex buffer: %v", err)
			a.TextVertexBuffer = nil
			return
		}
	}
	a.Queue.WriteBuffer(a.TextVertexBuffer, 0, unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), vSize))
	a.TextVertexCount = uint32(len(vertices))
}

// Render draws one frame. A surface that cannot hand out a texture yields a
// *gsplat.SurfaceAcquireError and the frame is skipped.
func (a *App) Render() error {
	a.Profiler.BeginScope("Render")
	defer a.Profiler.EndScope("Render")

	nextTexture, err := a.Surface.GetCurrentTexture()
	if err != nil {
		a.SkippedFrames++
		return &gsplat.SurfaceAcquireError{Err: err}
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		return fmt.Errorf("create surface view: %w", err)
	}
	defer view.Release()

	encoder, err := a.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}

	a.Viewer.Render(encoder, view)

	if a.TextVertexCount > 0 && a.TextVertexBuffer != nil && a.TextPipeline != nil {
		tPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			Label: "HUD",
			ColorAttachments: []wgpu.RenderPassColorAttachment{{
				View:    view,
				LoadOp:  wgpu.LoadOpLoad,
				StoreOp: wgpu.StoreOpStore,
			}},
		})
		tPass.SetPipeline(a.TextPipeline)
		tPass.SetBindGroup(0, a.TextBindGroup, nil)
		tPass.SetVertexBuffer(0, a.TextVertexBuffer, 0, a.TextVertexBuffer.GetSize())
		tPass.Draw(a.TextVertexCount, 1, 0, 0)
		if err := tPass.End(); err != nil {
			a.Logger.Errorf("HUD pass End failed: %v", err)
		}
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish encoder: %w", err)
	}
	a.Queue.Submit(cmd)
	a.Surface.Present()
	a.Viewer.PollStats()

	a.updateFPS(glfw.GetTime())
	return nil
}

func (a *App) updateFPS(now float64) {
	if a.LastRenderTime > 0 {
		a.FrameCount++
		a.FPSTime += now - a.LastRenderTime
		if a.FPSTime >= 1.0 {
			a.FPS = float64(a.FrameCount) / a.FPSTime
			a.FrameCount = 0
			a.FPSTime = 0
		}
	}
	a.LastRenderTime = now
}

// Run is the frame loop. Recoverable errors skip the frame; anything else
// stops the loop.
func (a *App) Run() error {
	for !a.Window.ShouldClose() {
		glfw.PollEvents()
		a.Update()
		if err := a.Render(); err != nil {
			if gsplat.IsRecoverable(err) {
				a.Logger.Warnf("%v", err)
				continue
			}
			return err
		}
	}
	return nil
}

func (a *App) Release() {
	if a.TextVertexBuffer != nil {
		a.TextVertexBuffer.Release()
	}
	if a.TextBindGroup != nil {
		a.TextBindGroup.Release()
	}
	if a.TextPipeline != nil {
		a.TextPipeline.Release()
	}
	if a.TextAtlasView != nil {
		a.TextAtlasView.Release()
	}
	if a.Sampler != nil {
		a.Sampler.Release()
	}
	if a.Viewer != nil {
		a.Viewer.Release()
	}
	if a.Device != nil {
		a.Device.Release()
	}
	if a.Adapter != nil {
		a.Adapter.Release()
	}
	if a.Surface != nil {
		a.Surface.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
}

func GetSurfaceDescriptor(w *glfw.Window) *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(w)
}

func (a *App) setupTextResources() error {
	tr := a.TextRenderer
	w, h := tr.AtlasImage.Bounds().Dx(), tr.AtlasImage.Bounds().Dy()
	tex, err := a.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Text Atlas",
		Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		Format:        wgpu.TextureFormatR8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension:     wgpu.TextureDimension2D,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return err
	}
	a.Queue.WriteTexture(tex.AsImageCopy(), tr.AtlasImage.Pix, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(w),
		RowsPerImage: uint32(h),
	}, &wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1})

	a.TextAtlasView, err = tex.CreateView(nil)
	if err != nil {
		return err
	}

	textMod, err := a.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Text Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.TextWGSL},
	})
	if err != nil {
		return &gsplat.ShaderCompileError{Label: "Text Shader", Err: err}
	}

	a.TextPipeline, err = a.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Text Pipeline",
		Vertex: wgpu.VertexState{
			Module:     textMod,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: uint64(unsafe.Sizeof(core.TextVertex{})),
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes: []wgpu.VertexAttribute{
					{Format: wgpu.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
					{Format: wgpu.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
					{Format: wgpu.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 2},
				},
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     textMod,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format: a.Config.Format,
				Blend: &wgpu.BlendState{
					Color: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorSrcAlpha,
						DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						Operation: wgpu.BlendOperationAdd,
					},
					Alpha: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactorOne,
						DstFactor: wgpu.BlendFactorOne,
						Operation: wgpu.BlendOperationAdd,
					},
				},
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create text render pipeline: %w", err)
	}

	a.TextBindGroup, err = a.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: a.TextPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: a.TextAtlasView},
			{Binding: 1, Sampler: a.Sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("create text bind group: %w", err)
	}
	return nil
}
