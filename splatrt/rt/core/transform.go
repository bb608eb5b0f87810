package core

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/gsplat"

	"github.com/go-gl/mathgl/mgl32"
)

// ModelTransformPod places the whole splat model in the world.
type ModelTransformPod struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

const ModelTransformPodSize = 48

func NewModelTransformPod() ModelTransformPod {
	return ModelTransformPod{
		Position: mgl32.Vec3{0, 0, 0},
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Matrix returns M = T * R * S.
func (t ModelTransformPod) Matrix() mgl32.Mat4 {
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotate := t.Rotation.Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())

	return translate.Mul4(rotate).Mul4(scale)
}

func (t ModelTransformPod) Apply(p mgl32.Vec3) mgl32.Vec3 {
	scaled := mgl32.Vec3{p[0] * t.Scale[0], p[1] * t.Scale[1], p[2] * t.Scale[2]}
	return t.Rotation.Rotate(scaled).Add(t.Position)
}

func (t ModelTransformPod) Bytes() []byte {
	// struct ModelTransform {
	//   pos: vec3<f32>,   -- 0 (+4 pad)
	//   quat: vec4<f32>,  -- 16 (x, y, z, w)
	//   scale: vec3<f32>, -- 32 (+4 pad)
	// } -> 48 bytes
	buf := make([]byte, ModelTransformPodSize)
	putF32(buf[0:], t.Position[0])
	putF32(buf[4:], t.Position[1])
	putF32(buf[8:], t.Position[2])
	putF32(buf[16:], t.Rotation.V[0])
	putF32(buf[20:], t.Rotation.V[1])
	putF32(buf[24:], t.Rotation.V[2])
	putF32(buf[28:], t.Rotation.W)
	putF32(buf[32:], t.Scale[0])
	putF32(buf[36:], t.Scale[1])
	putF32(buf[40:], t.Scale[2])
	return buf
}

type DisplayMode uint8

const (
	DisplaySplat DisplayMode = iota
	DisplayEllipse
	DisplayPoint
)

func (m DisplayMode) String() string {
	switch m {
	case DisplaySplat:
		return "splat"
	case DisplayEllipse:
		return "ellipse"
	case DisplayPoint:
		return "point"
	}
	return fmt.Sprintf("DisplayMode(%d)", uint8(m))
}

type ShDegree uint8

func NewShDegree(d int) (ShDegree, error) {
	if d < 0 || d > 3 {
		return 0, fmt.Errorf("%w: got %d", gsplat.ErrInvalidShDegree, d)
	}
	return ShDegree(d), nil
}

// MaxStdDevLimit is the largest representable quad extent in standard
// deviations.
const MaxStdDevLimit = 3.0

// GaussianTransformPod carries global splat parameters:
// size f32 then flags [display_mode, sh_degree, no_sh0, max_std_dev].
type GaussianTransformPod struct {
	Size        float32
	DisplayMode DisplayMode
	ShDegree    ShDegree
	NoSh0       bool
	MaxStdDev   float32
}

const GaussianTransformPodSize = 8

func NewGaussianTransformPod() GaussianTransformPod {
	return GaussianTransformPod{
		Size:        1.0,
		DisplayMode: DisplaySplat,
		ShDegree:    3,
		MaxStdDev:   MaxStdDevLimit,
	}
}

func (t GaussianTransformPod) Bytes() []byte {
	buf := make([]byte, GaussianTransformPodSize)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(t.Size))
	buf[4] = uint8(t.DisplayMode)
	buf[5] = uint8(t.ShDegree)
	if t.NoSh0 {
		buf[6] = 1
	}
	stdDev := mgl32.Clamp(t.MaxStdDev, 0, MaxStdDevLimit)
	buf[7] = uint8(math.Round(float64(stdDev / MaxStdDevLimit * 255)))
	return buf
}
