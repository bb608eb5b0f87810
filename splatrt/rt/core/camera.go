package core

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Up is the world up axis; the camera is right handed and looks down -Z in
// view space.
var Up = mgl32.Vec3{0, 1, 0}

const pitchLimit = math.Pi/2 - 1e-6

type Camera struct {
	Position    mgl32.Vec3
	Near        float32
	Far         float32
	VerticalFov float32 // radians
	Pitch       float32
	Yaw         float32
	Speed       float32
	Sensitivity float32
}

func NewCamera(near, far, verticalFov float32) *Camera {
	return &Camera{
		Near:        near,
		Far:         far,
		VerticalFov: verticalFov,
		Speed:       2.0,
		Sensitivity: 0.003,
	}
}

func (c *Camera) Forward() mgl32.Vec3 {
	cp := math.Cos(float64(c.Pitch))
	return mgl32.Vec3{
		float32(cp * math.Sin(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
		float32(cp * math.Cos(float64(c.Yaw))),
	}
}

func (c *Camera) Right() mgl32.Vec3 {
	return c.Forward().Cross(Up).Normalize()
}

func (c *Camera) MoveBy(forward, right float32) {
	c.Position = c.Position.Add(c.Forward().Mul(forward)).Add(c.Right().Mul(right))
}

func (c *Camera) MoveUp(up float32) {
	c.Position = c.Position.Add(Up.Mul(up))
}

func (c *Camera) PitchBy(delta float32) {
	c.Pitch = mgl32.Clamp(c.Pitch+delta, -pitchLimit, pitchLimit)
}

func (c *Camera) YawBy(delta float32) {
	y := math.Mod(float64(c.Yaw+delta), 2*math.Pi)
	if y < 0 {
		y += 2 * math.Pi
	}
	c.Yaw = float32(y)
}

func (c *Camera) View() mgl32.Mat4 {
	eye := c.Position
	return mgl32.LookAtV(eye, eye.Add(c.Forward()), Up)
}

// Projection is a right handed perspective projection mapping view depth
// [near, far] onto clip z [0, 1].
func (c *Camera) Projection(aspect float32) mgl32.Mat4 {
	return PerspectiveZO(c.VerticalFov, aspect, c.Near, c.Far)
}

// PerspectiveZO is mgl32.Perspective with a [0, 1] depth range.
func PerspectiveZO(fovy, aspect, near, far float32) mgl32.Mat4 {
	f := float32(1.0 / math.Tan(float64(fovy)/2.0))
	r := far / (near - far)
	return mgl32.Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, r, -1,
		0, 0, r * near, 0,
	}
}

// CameraPod is the camera uniform as laid out on the GPU.
type CameraPod struct {
	View mgl32.Mat4
	Proj mgl32.Mat4
	Size mgl32.Vec2
}

const CameraPodSize = 144

func NewCameraPod(c *Camera, width, height uint32) CameraPod {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	return CameraPod{
		View: c.View(),
		Proj: c.Projection(aspect),
		Size: mgl32.Vec2{float32(width), float32(height)},
	}
}

func (p CameraPod) ViewProj() mgl32.Mat4 {
	return p.Proj.Mul4(p.View)
}

func (p CameraPod) Bytes() []byte {
	buf := make([]byte, CameraPodSize)
	writeMat4(buf[0:], p.View)
	writeMat4(buf[64:], p.Proj)
	putF32(buf[128:], p.Size[0])
	putF32(buf[132:], p.Size[1])
	return buf
}

func writeMat4(dst []byte, m mgl32.Mat4) {
	for i, v := range m {
		putF32(dst[i*4:], v)
	}
}

func putF32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

// ExtractFrustum extracts the 6 planes of the frustum from the view-projection matrix.
// Returns planes in order: Left, Right, Bottom, Top, Near, Far.
// Plane is Ax + By + Cz + D = 0 with the normal pointing inside.
func ExtractFrustum(vp mgl32.Mat4) [6]mgl32.Vec4 {
	row := func(i int) mgl32.Vec4 {
		return mgl32.Vec4{vp.At(i, 0), vp.At(i, 1), vp.At(i, 2), vp.At(i, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	planes := [6]mgl32.Vec4{
		r3.Add(r0),
		r3.Sub(r0),
		r3.Add(r1),
		r3.Sub(r1),
		r2, // WebGPU clip z starts at 0
		r3.Sub(r2),
	}

	for i := range planes {
		length := planes[i].Vec3().Len()
		if length > 0 {
			planes[i] = planes[i].Mul(1.0 / length)
		}
	}

	return planes
}
