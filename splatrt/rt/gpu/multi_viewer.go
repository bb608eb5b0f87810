package gpu

import (
	"fmt"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/pod"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

// MultiViewerModel is one model of a MultiViewer: its own buffers and
// transform, bound to the viewer's shared pipelines.
type MultiViewerModel struct {
	Buffers *BufferManager

	preprocess *wgpu.BindGroup
	sort       *RadixSortBindGroups
	render     *wgpu.BindGroup
}

// Sorted is the sort state of the model, naming the buffers that hold its
// draw order.
func (m *MultiViewerModel) Sorted() *RadixSortBindGroups {
	return m.sort
}

func (m *MultiViewerModel) Release() {
	if m.render != nil {
		m.render.Release()
		m.render = nil
	}
	if m.sort != nil {
		m.sort.Release()
		m.sort = nil
	}
	if m.preprocess != nil {
		m.preprocess.Release()
		m.preprocess = nil
	}
	if m.Buffers != nil {
		m.Buffers.Release()
		m.Buffers = nil
	}
}

// MultiViewer renders several splat models with one camera. Each model is
// preprocessed and sorted on its own; the draws then share one render pass
// in the order given to Render. Models are not sorted against each other.
type MultiViewer[K comparable] struct {
	Device *wgpu.Device
	Config ViewerConfig

	World        *WorldBuffers
	Preprocessor *Preprocessor
	Sorter       *RadixSorter
	Renderer     *Renderer

	models map[K]*MultiViewerModel
	logger gsplat.Logger
}

// NewMultiViewer creates the shared buffers and pipelines. Config's layout,
// depth order and key bits apply to every model; TrackVisibleCount is
// ignored.
func NewMultiViewer[K comparable](device *wgpu.Device, format wgpu.TextureFormat, cfg ViewerConfig) (*MultiViewer[K], error) {
	logger := gsplat.LoggerOrNop(cfg.Logger)
	if cfg.Layout.Sh == nil || cfg.Layout.Cov == nil {
		cfg.Layout = pod.DefaultLayout()
	}
	if cfg.KeyBits == 0 {
		cfg.KeyBits = 32
	}

	v := &MultiViewer[K]{
		Device: device,
		Config: cfg,
		models: make(map[K]*MultiViewerModel),
		logger: logger,
	}
	ok := false
	defer func() {
		if !ok {
			v.Release()
		}
	}()

	var err error
	logger.Debugf("Creating world buffers")
	if v.World, err = NewWorldBuffers(device, logger); err != nil {
		return nil, err
	}
	params := shaders.NewParams(cfg.Layout, cfg.DepthOrder)
	if v.Preprocessor, err = NewPreprocessorWithoutBindGroup(device, params, cfg.ValidateShaders, logger); err != nil {
		return nil, fmt.Errorf("create preprocessor: %w", err)
	}
	if v.Sorter, err = NewRadixSorterWithoutBindGroups(device, cfg.KeyBits, params, cfg.ValidateShaders, logger); err != nil {
		return nil, fmt.Errorf("create radix sorter: %w", err)
	}
	if v.Renderer, err = NewRendererWithoutBindGroup(device, format, params, cfg.DepthOrder, cfg.ValidateShaders, logger); err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	logger.Infof("Created multi model viewer (%s, %s)", cfg.Layout.Name(), cfg.DepthOrder)
	ok = true
	return v, nil
}

// InsertModel uploads gaussians under key, replacing any model already
// stored there.
func (v *MultiViewer[K]) InsertModel(key K, gaussians []core.Gaussian) error {
	modelSize := uint64(len(gaussians)) * uint64(v.Config.Layout.Size())
	if err := CheckModelSize(modelSize, MaxStorageBufferBindingSize(v.Device)); err != nil {
		v.logger.Errorf("%v", err)
		return err
	}

	m := &MultiViewerModel{}
	ok := false
	defer func() {
		if !ok {
			m.Release()
		}
	}()

	var err error
	v.logger.Debugf("Inserting model %v with %d gaussians", key, len(gaussians))
	if m.Buffers, err = NewModelBufferManager(v.Device, v.Config.Layout, gaussians, v.World, v.logger); err != nil {
		return err
	}
	if m.preprocess, err = v.Preprocessor.CreateBindGroup(v.Device, m.Buffers); err != nil {
		return fmt.Errorf("bind model %v for preprocessing: %w", key, err)
	}
	if m.sort, err = v.Sorter.CreateBindGroups(v.Device, m.Buffers); err != nil {
		return fmt.Errorf("bind model %v for sorting: %w", key, err)
	}
	if m.render, err = v.Renderer.CreateBindGroup(v.Device, m.Buffers, m.sort.FinalValues()); err != nil {
		return fmt.Errorf("bind model %v for rendering: %w", key, err)
	}

	if old, exists := v.models[key]; exists {
		old.Release()
	}
	v.models[key] = m
	ok = true
	return nil
}

// RemoveModel releases the model under key and reports whether it existed.
func (v *MultiViewer[K]) RemoveModel(key K) bool {
	m, exists := v.models[key]
	if !exists {
		return false
	}
	m.Release()
	delete(v.models, key)
	return true
}

func (v *MultiViewer[K]) Model(key K) (*MultiViewerModel, bool) {
	m, exists := v.models[key]
	return m, exists
}

func (v *MultiViewer[K]) Len() int {
	return len(v.models)
}

func (v *MultiViewer[K]) model(key K) (*MultiViewerModel, error) {
	m, exists := v.models[key]
	if !exists {
		return nil, fmt.Errorf("%w: %v", gsplat.ErrModelNotFound, key)
	}
	return m, nil
}

func (v *MultiViewer[K]) UpdateCamera(camera *core.Camera, width, height uint32) {
	v.World.UpdateCamera(camera, width, height)
}

func (v *MultiViewer[K]) UpdateCameraWithPod(p core.CameraPod) {
	v.World.UpdateCameraWithPod(p)
}

func (v *MultiViewer[K]) UpdateGaussianTransform(size float32, mode core.DisplayMode, degree core.ShDegree, noSh0 bool, maxStdDev float32) {
	v.World.UpdateGaussianTransform(size, mode, degree, noSh0, maxStdDev)
}

func (v *MultiViewer[K]) UpdateGaussianTransformWithPod(p core.GaussianTransformPod) {
	v.World.UpdateGaussianTransformWithPod(p)
}

func (v *MultiViewer[K]) UpdateModelTransform(key K, pos mgl32.Vec3, rot mgl32.Quat, scale mgl32.Vec3) error {
	return v.UpdateModelTransformWithPod(key, core.ModelTransformPod{Position: pos, Rotation: rot, Scale: scale})
}

func (v *MultiViewer[K]) UpdateModelTransformWithPod(key K, p core.ModelTransformPod) error {
	m, err := v.model(key)
	if err != nil {
		return err
	}
	m.Buffers.UpdateModelTransformWithPod(p)
	return nil
}

// Render preprocesses and sorts every model, then draws them into view in
// the order of keys. keys must name each model exactly once; nothing is
// recorded otherwise.
func (v *MultiViewer[K]) Render(encoder *wgpu.CommandEncoder, view *wgpu.TextureView, keys []K) error {
	if len(keys) != len(v.models) {
		return &gsplat.ModelCountMismatchError{ModelCount: len(v.models), KeysLen: len(keys)}
	}
	order := make([]*MultiViewerModel, 0, len(keys))
	seen := make(map[K]bool, len(keys))
	for _, key := range keys {
		m, err := v.model(key)
		if err != nil {
			return err
		}
		if seen[key] {
			return fmt.Errorf("gsplat: model %v listed twice", key)
		}
		seen[key] = true
		order = append(order, m)
	}

	for _, m := range order {
		v.Preprocessor.EncodeWith(encoder, m.preprocess, m.Buffers.GaussianCount)
		v.Sorter.EncodeWith(encoder, m.sort)
	}

	pass := beginSplatPass(encoder, view, true)
	for _, m := range order {
		v.Renderer.EncodeInPassWith(pass, m.render, m.Buffers.DrawArgsBuf)
	}
	if err := pass.End(); err != nil {
		v.logger.Errorf("Multi model render pass End failed: %v", err)
		return err
	}
	return nil
}

// RenderFrame encodes and submits one frame into view.
func (v *MultiViewer[K]) RenderFrame(view *wgpu.TextureView, keys []K) error {
	encoder, err := v.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	if err := v.Render(encoder, view, keys); err != nil {
		encoder.Release()
		return err
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	v.Device.GetQueue().Submit(cmd)
	return nil
}

// DownloadVisible reads back the compacted and sorted output of the model
// under key from the last frame.
func (v *MultiViewer[K]) DownloadVisible(key K) (VisibleResult, error) {
	m, err := v.model(key)
	if err != nil {
		return VisibleResult{}, err
	}
	return downloadVisible(v.Device, m.Buffers.DrawArgsBuf, m.sort.FinalValues(), m.sort.FinalKeys())
}

func (v *MultiViewer[K]) Release() {
	for key, m := range v.models {
		m.Release()
		delete(v.models, key)
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
	if v.World != nil {
		v.World.Release()
		v.World = nil
	}
}
