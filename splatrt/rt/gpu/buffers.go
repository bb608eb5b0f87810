package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"
	"github.com/gekko3d/gsplat/splatrt/rt/cpu"
	"github.com/gekko3d/gsplat/splatrt/rt/pod"
	"github.com/gekko3d/gsplat/splatrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	drawArgsSize     = 16
	dispatchArgsSize = 12
)

// BufferManager owns every buffer the pipeline binds. Uniforms and the
// Gaussians are written by the host between frames; the remaining buffers
// are written only by the preprocess and sort passes.
type BufferManager struct {
	Device *wgpu.Device
	Logger gsplat.Logger
	Layout pod.Layout

	CameraBuf            *wgpu.Buffer
	ModelTransformBuf    *wgpu.Buffer
	GaussianTransformBuf *wgpu.Buffer
	GaussiansBuf         *wgpu.Buffer

	DrawArgsBuf         *wgpu.Buffer // DrawIndirectArgs
	SortDispatchArgsBuf *wgpu.Buffer // DispatchIndirectArgs
	IndicesBuf          *wgpu.Buffer
	DepthKeysBuf        *wgpu.Buffer

	GaussianCount uint32
	// KeyCapacity is the Gaussian count rounded up to whole sort blocks.
	// Indices and depth keys both hold this many entries.
	KeyCapacity uint32

	// sharedWorld is set when the camera and Gaussian transform buffers
	// belong to a WorldBuffers.
	sharedWorld bool
}

// WorldBuffers holds the uniforms shared by every model of a MultiViewer.
type WorldBuffers struct {
	Device *wgpu.Device

	CameraBuf            *wgpu.Buffer
	GaussianTransformBuf *wgpu.Buffer
}

func NewWorldBuffers(device *wgpu.Device, logger gsplat.Logger) (*WorldBuffers, error) {
	logger = gsplat.LoggerOrNop(logger)
	w := &WorldBuffers{Device: device}
	m := &BufferManager{Device: device, Logger: logger}

	logger.Debugf("Creating camera buffer")
	if _, err := m.ensureBuffer("Camera", &w.CameraBuf, core.CameraPod{}.Bytes(), wgpu.BufferUsageUniform, 0); err != nil {
		return nil, fmt.Errorf("create Camera buffer: %w", err)
	}
	logger.Debugf("Creating gaussian transform buffer")
	if _, err := m.ensureBuffer("Gaussian Transform", &w.GaussianTransformBuf, core.NewGaussianTransformPod().Bytes(), wgpu.BufferUsageUniform, 0); err != nil {
		w.Release()
		return nil, fmt.Errorf("create Gaussian Transform buffer: %w", err)
	}
	return w, nil
}

func (w *WorldBuffers) UpdateCamera(camera *core.Camera, width, height uint32) {
	w.UpdateCameraWithPod(core.NewCameraPod(camera, width, height))
}

func (w *WorldBuffers) UpdateCameraWithPod(p core.CameraPod) {
	w.Device.GetQueue().WriteBuffer(w.CameraBuf, 0, p.Bytes())
}

func (w *WorldBuffers) UpdateGaussianTransform(size float32, mode core.DisplayMode, degree core.ShDegree, noSh0 bool, maxStdDev float32) {
	w.UpdateGaussianTransformWithPod(core.GaussianTransformPod{
		Size:        size,
		DisplayMode: mode,
		ShDegree:    degree,
		NoSh0:       noSh0,
		MaxStdDev:   maxStdDev,
	})
}

func (w *WorldBuffers) UpdateGaussianTransformWithPod(p core.GaussianTransformPod) {
	w.Device.GetQueue().WriteBuffer(w.GaussianTransformBuf, 0, p.Bytes())
}

func (w *WorldBuffers) Release() {
	for _, b := range []*wgpu.Buffer{w.CameraBuf, w.GaussianTransformBuf} {
		if b != nil {
			b.Release()
		}
	}
	w.CameraBuf, w.GaussianTransformBuf = nil, nil
}

func NewBufferManager(device *wgpu.Device, layout pod.Layout, gaussians []core.Gaussian, logger gsplat.Logger) (*BufferManager, error) {
	return newBufferManager(device, layout, gaussians, nil, logger)
}

// NewModelBufferManager creates the per model buffers and binds the camera
// and Gaussian transform of world. Release leaves world alone.
func NewModelBufferManager(device *wgpu.Device, layout pod.Layout, gaussians []core.Gaussian, world *WorldBuffers, logger gsplat.Logger) (*BufferManager, error) {
	return newBufferManager(device, layout, gaussians, world, logger)
}

func newBufferManager(device *wgpu.Device, layout pod.Layout, gaussians []core.Gaussian, world *WorldBuffers, logger gsplat.Logger) (*BufferManager, error) {
	n := uint32(len(gaussians))
	if err := cpu.CheckSortCapacity(n); err != nil {
		return nil, err
	}

	m := &BufferManager{
		Device:        device,
		Logger:        gsplat.LoggerOrNop(logger),
		Layout:        layout,
		GaussianCount: n,
		KeyCapacity:   cpu.DivCeil(n, shaders.RadixBlockSize) * shaders.RadixBlockSize,
	}

	uniform := wgpu.BufferUsageUniform
	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc
	indirect := wgpu.BufferUsageIndirect | wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc

	drawArgs := cpu.DefaultDrawIndirectArgs()
	dispatchArgs := cpu.DefaultDispatchIndirectArgs()
	keysSize := max(uint64(m.KeyCapacity)*4, 4)

	type step struct {
		name    string
		buf     **wgpu.Buffer
		data    []byte
		usage   wgpu.BufferUsage
		minSize uint64
	}
	var steps []step
	if world != nil {
		m.CameraBuf, m.GaussianTransformBuf = world.CameraBuf, world.GaussianTransformBuf
		m.sharedWorld = true
	} else {
		steps = append(steps,
			step{"Camera", &m.CameraBuf, core.CameraPod{}.Bytes(), uniform, 0},
			step{"Gaussian Transform", &m.GaussianTransformBuf, core.NewGaussianTransformPod().Bytes(), uniform, 0},
		)
	}
	steps = append(steps, []step{
		{"Model Transform", &m.ModelTransformBuf, core.NewModelTransformPod().Bytes(), uniform, 0},
		// An empty scene still needs a bindable buffer; main is never
		// dispatched for it, so the zero record is never read.
		{"Gaussians", &m.GaussiansBuf, layout.PackAll(gaussians), storage, uint64(layout.Size())},
		{"Draw Indirect Args", &m.DrawArgsBuf, drawArgsBytes(drawArgs), indirect, 0},
		{"Sort Dispatch Indirect Args", &m.SortDispatchArgsBuf, dispatchArgsBytes(dispatchArgs), indirect, 0},
		{"Indices", &m.IndicesBuf, nil, storage, keysSize},
		{"Depth Keys", &m.DepthKeysBuf, nil, storage, keysSize},
	}...)
	for _, s := range steps {
		m.Logger.Debugf("Creating %s buffer", s.name)
		if _, err := m.ensureBuffer(s.name, s.buf, s.data, s.usage, s.minSize); err != nil {
			m.Release()
			return nil, fmt.Errorf("create %s buffer: %w", s.name, err)
		}
	}
	return m, nil
}

// ensureBuffer creates or grows buf to hold data (at least minSize bytes)
// and uploads data. It reports whether the buffer was recreated, which
// invalidates bind groups referring to it.
func (m *BufferManager) ensureBuffer(name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage, minSize uint64) (bool, error) {
	neededSize := max(uint64(len(data)), minSize)
	if neededSize%4 != 0 {
		neededSize += 4 - (neededSize % 4)
	}

	current := *buf
	recreated := false
	if current == nil || current.GetSize() < neededSize {
		if current != nil {
			current.Release()
		}

		newBuf, err := m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label:            name,
			Size:             neededSize,
			Usage:            usage | wgpu.BufferUsageCopyDst,
			MappedAtCreation: false,
		})
		if err != nil {
			return false, err
		}
		*buf = newBuf
		recreated = true
	}

	if len(data) > 0 {
		m.Device.GetQueue().WriteBuffer(*buf, 0, data)
	}
	return recreated, nil
}

func drawArgsBytes(a cpu.DrawIndirectArgs) []byte {
	buf := make([]byte, drawArgsSize)
	binary.LittleEndian.PutUint32(buf[0:], a.VertexCount)
	binary.LittleEndian.PutUint32(buf[4:], a.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:], a.FirstVertex)
	binary.LittleEndian.PutUint32(buf[12:], a.FirstInstance)
	return buf
}

func dispatchArgsBytes(a cpu.DispatchIndirectArgs) []byte {
	buf := make([]byte, dispatchArgsSize)
	binary.LittleEndian.PutUint32(buf[0:], a.X)
	binary.LittleEndian.PutUint32(buf[4:], a.Y)
	binary.LittleEndian.PutUint32(buf[8:], a.Z)
	return buf
}

func (m *BufferManager) UpdateCamera(camera *core.Camera, width, height uint32) {
	m.UpdateCameraWithPod(core.NewCameraPod(camera, width, height))
}

func (m *BufferManager) UpdateCameraWithPod(p core.CameraPod) {
	m.Device.GetQueue().WriteBuffer(m.CameraBuf, 0, p.Bytes())
}

func (m *BufferManager) UpdateModelTransform(pos mgl32.Vec3, rot mgl32.Quat, scale mgl32.Vec3) {
	m.UpdateModelTransformWithPod(core.ModelTransformPod{Position: pos, Rotation: rot, Scale: scale})
}

func (m *BufferManager) UpdateModelTransformWithPod(p core.ModelTransformPod) {
	m.Device.GetQueue().WriteBuffer(m.ModelTransformBuf, 0, p.Bytes())
}

func (m *BufferManager) UpdateGaussianTransform(size float32, mode core.DisplayMode, degree core.ShDegree, noSh0 bool, maxStdDev float32) {
	m.UpdateGaussianTransformWithPod(core.GaussianTransformPod{
		Size:        size,
		DisplayMode: mode,
		ShDegree:    degree,
		NoSh0:       noSh0,
		MaxStdDev:   maxStdDev,
	})
}

func (m *BufferManager) UpdateGaussianTransformWithPod(p core.GaussianTransformPod) {
	m.Device.GetQueue().WriteBuffer(m.GaussianTransformBuf, 0, p.Bytes())
}

// UpdateGaussians rewrites every Gaussian. The count is fixed at creation.
func (m *BufferManager) UpdateGaussians(gaussians []core.Gaussian) error {
	if uint32(len(gaussians)) != m.GaussianCount {
		m.Logger.Errorf("Gaussian count mismatch: buffer holds %d, got %d", m.GaussianCount, len(gaussians))
		return fmt.Errorf("%w: got %d gaussians, buffer holds %d", gsplat.ErrGaussianRange, len(gaussians), m.GaussianCount)
	}
	return m.UpdateGaussianRange(0, gaussians)
}

// UpdateGaussianRange rewrites the Gaussians starting at index start.
func (m *BufferManager) UpdateGaussianRange(start int, gaussians []core.Gaussian) error {
	if start < 0 || start+len(gaussians) > int(m.GaussianCount) {
		m.Logger.Errorf("Gaussian range [%d, %d) out of bounds for %d gaussians", start, start+len(gaussians), m.GaussianCount)
		return fmt.Errorf("%w: [%d, %d) of %d", gsplat.ErrGaussianRange, start, start+len(gaussians), m.GaussianCount)
	}
	if len(gaussians) == 0 {
		return nil
	}
	offset := uint64(start) * uint64(m.Layout.Size())
	m.Device.GetQueue().WriteBuffer(m.GaussiansBuf, offset, m.Layout.PackAll(gaussians))
	return nil
}

// GaussiansSize is the packed size of the model in bytes.
func (m *BufferManager) GaussiansSize() uint64 {
	return uint64(m.GaussianCount) * uint64(m.Layout.Size())
}

func (m *BufferManager) Release() {
	owned := []*wgpu.Buffer{
		m.ModelTransformBuf, m.GaussiansBuf,
		m.DrawArgsBuf, m.SortDispatchArgsBuf, m.IndicesBuf, m.DepthKeysBuf,
	}
	if !m.sharedWorld {
		owned = append(owned, m.CameraBuf, m.GaussianTransformBuf)
	}
	for _, b := range owned {
		if b != nil {
			b.Release()
		}
	}
}
