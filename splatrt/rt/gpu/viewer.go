package gpu

import (
	"fmt"
	"time"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/cpu"
	"github.com/gekko3d/gsplat/splatrt/rt/pod"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

type ViewerConfig struct {
	Layout     pod.Layout
	DepthOrder core.DepthOrder
	// KeyBits limits the sort to the high bits of each depth key, rounded
	// up to whole 8-bit digits. Fewer bits give a coarser depth order.
	KeyBits int
	// ValidateShaders runs every permutation through naga before handing it
	// to the driver.
	ValidateShaders bool
	// TrackVisibleCount reads the draw instance count back a few frames
	// late for Stats.
	TrackVisibleCount bool
	Logger            gsplat.Logger
}

func DefaultViewerConfig() ViewerConfig {
	return ViewerConfig{
		Layout:     pod.DefaultLayout(),
		DepthOrder: core.FrontToBack,
		KeyBits:    32,
	}
}

type ViewerStats struct {
	GaussianCount uint32
	// VisibleCount lags the current frame when tracking is enabled and is
	// zero otherwise.
	VisibleCount uint32
	SortPasses   int
	ModelSize    uint64
	Frames       uint64
	LastEncode   time.Duration
}

// Viewer wires the buffers and the three stages for one splat model.
type Viewer struct {
	Device *wgpu.Device
	Config ViewerConfig

	Buffers      *BufferManager
	Preprocessor *Preprocessor
	Sorter       *RadixSorter
	Renderer     *Renderer

	counter *VisibleCounter
	logger  gsplat.Logger

	frames     uint64
	lastEncode time.Duration
}

func NewViewer(device *wgpu.Device, format wgpu.TextureFormat, gaussians []core.Gaussian, cfg ViewerConfig) (*Viewer, error) {
	logger := gsplat.LoggerOrNop(cfg.Logger)
	if cfg.Layout.Sh == nil || cfg.Layout.Cov == nil {
		cfg.Layout = pod.DefaultLayout()
	}
	if cfg.KeyBits == 0 {
		cfg.KeyBits = 32
	}

	modelSize := uint64(len(gaussians)) * uint64(cfg.Layout.Size())
	if err := CheckModelSize(modelSize, MaxStorageBufferBindingSize(device)); err != nil {
		logger.Errorf("%v", err)
		return nil, err
	}

	v := &Viewer{Device: device, Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			v.Release()
		}
	}()

	logger.Infof("Creating viewer for %d gaussians (%s, %s)", len(gaussians), cfg.Layout.Name(), cfg.DepthOrder)
	var err error
	if v.Buffers, err = NewBufferManager(device, cfg.Layout, gaussians, logger); err != nil {
		return nil, err
	}
	params := shaders.NewParams(cfg.Layout, cfg.DepthOrder)
	if v.Preprocessor, err = NewPreprocessor(device, v.Buffers, params, cfg.ValidateShaders, logger); err != nil {
		return nil, fmt.Errorf("create preprocessor: %w", err)
	}
	if v.Sorter, err = NewRadixSorter(device, v.Buffers, cfg.KeyBits, params, cfg.ValidateShaders, logger); err != nil {
		return nil, fmt.Errorf("create radix sorter: %w", err)
	}
	if v.Renderer, err = NewRenderer(device, format, v.Buffers, v.Sorter.FinalValues(), params, cfg.DepthOrder, cfg.ValidateShaders, logger); err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	if cfg.TrackVisibleCount {
		if v.counter, err = NewVisibleCounter(device); err != nil {
			return nil, err
		}
	}

	ok = true
	return v, nil
}

func (v *Viewer) UpdateCamera(camera *core.Camera, width, height uint32) {
	v.Buffers.UpdateCamera(camera, width, height)
}

func (v *Viewer) UpdateCameraWithPod(p core.CameraPod) {
	v.Buffers.UpdateCameraWithPod(p)
}

func (v *Viewer) UpdateModelTransform(pos mgl32.Vec3, rot mgl32.Quat, scale mgl32.Vec3) {
	v.Buffers.UpdateModelTransform(pos, rot, scale)
}

func (v *Viewer) UpdateModelTransformWithPod(p core.ModelTransformPod) {
	v.Buffers.UpdateModelTransformWithPod(p)
}

func (v *Viewer) UpdateGaussianTransform(size float32, mode core.DisplayMode, degree core.ShDegree, noSh0 bool, maxStdDev float32) {
	v.Buffers.UpdateGaussianTransform(size, mode, degree, noSh0, maxStdDev)
}

func (v *Viewer) UpdateGaussianTransformWithPod(p core.GaussianTransformPod) {
	v.Buffers.UpdateGaussianTransformWithPod(p)
}

func (v *Viewer) UpdateGaussians(gaussians []core.Gaussian) error {
	return v.Buffers.UpdateGaussians(gaussians)
}

func (v *Viewer) UpdateGaussianRange(start int, gaussians []core.Gaussian) error {
	return v.Buffers.UpdateGaussianRange(start, gaussians)
}

// Render records preprocess, sort and draw. The target is cleared first.
func (v *Viewer) Render(encoder *wgpu.CommandEncoder, view *wgpu.TextureView) {
	v.encode(encoder, view, true)
}

// RenderOver is Render without clearing, for compositing over existing
// content.
func (v *Viewer) RenderOver(encoder *wgpu.CommandEncoder, view *wgpu.TextureView) {
	v.encode(encoder, view, false)
}

func (v *Viewer) encode(encoder *wgpu.CommandEncoder, view *wgpu.TextureView, clear bool) {
	start := time.Now()
	v.Preprocessor.Encode(encoder)
	v.Sorter.Encode(encoder)
	v.Renderer.Encode(encoder, view, clear)
	if v.counter != nil {
		v.counter.Encode(encoder, v.Buffers.DrawArgsBuf)
	}
	v.lastEncode = time.Since(start)
	v.frames++
}

// RenderFrame encodes and submits one frame into view.
func (v *Viewer) RenderFrame(view *wgpu.TextureView) error {
	encoder, err := v.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	v.Render(encoder, view)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	v.Device.GetQueue().Submit(cmd)
	if v.counter != nil {
		v.counter.Poll()
	}
	return nil
}

// PollStats advances the visible count readback; call it after Submit when
// frames are encoded with Render.
func (v *Viewer) PollStats() {
	if v.counter != nil {
		v.counter.Poll()
	}
}

func (v *Viewer) Stats() ViewerStats {
	s := ViewerStats{
		GaussianCount: v.Buffers.GaussianCount,
		SortPasses:    v.Sorter.Passes(),
		ModelSize:     v.Buffers.GaussiansSize(),
		Frames:        v.frames,
		LastEncode:    v.lastEncode,
	}
	if v.counter != nil {
		s.VisibleCount = v.counter.Last()
	}
	return s
}

// VisibleResult is the compacted and sorted output of the last frame.
type VisibleResult struct {
	Draw    cpu.DrawIndirectArgs
	Indices []uint32
	Keys    []uint32
}

// DownloadVisible blocks until the GPU is idle and reads back the draw
// arguments and the first InstanceCount sorted indices and keys.
func (v *Viewer) DownloadVisible() (VisibleResult, error) {
	return downloadVisible(v.Device, v.Buffers.DrawArgsBuf, v.Sorter.FinalValues(), v.Sorter.FinalKeys())
}

func downloadVisible(device *wgpu.Device, drawArgs, indices, keys *wgpu.Buffer) (VisibleResult, error) {
	var res VisibleResult
	draw, err := DownloadUint32s(device, drawArgs, 4)
	if err != nil {
		return res, err
	}
	res.Draw = cpu.DrawIndirectArgs{VertexCount: draw[0], InstanceCount: draw[1], FirstVertex: draw[2], FirstInstance: draw[3]}
	if res.Draw.InstanceCount == 0 {
		return res, nil
	}
	if res.Indices, err = DownloadUint32s(device, indices, res.Draw.InstanceCount); err != nil {
		return res, err
	}
	if res.Keys, err = DownloadUint32s(device, keys, res.Draw.InstanceCount); err != nil {
		return res, err
	}
	return res, nil
}

// DownloadDispatch reads back the radix sort dispatch arguments.
func (v *Viewer) DownloadDispatch() (cpu.DispatchIndirectArgs, error) {
	d, err := DownloadUint32s(v.Device, v.Buffers.SortDispatchArgsBuf, 3)
	if err != nil {
		return cpu.DispatchIndirectArgs{}, err
	}
	return cpu.DispatchIndirectArgs{X: d[0], Y: d[1], Z: d[2]}, nil
}

func (v *Viewer) Release() {
	if v.counter != nil {
		v.counter.Release()
		v.counter = nil
	}
	if v.Renderer != nil {
		v.Renderer.Release()
		v.Renderer = nil
	}
	if v.Sorter != nil {
		v.Sorter.Release()
		v.Sorter = nil
	}
	if v.Preprocessor != nil {
		v.Preprocessor.Release()
		v.Preprocessor = nil
	}
	if v.Buffers != nil {
		v.Buffers.Release()
		v.Buffers = nil
	}
}
