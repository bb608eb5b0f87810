package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Projection is a Gaussian center carried through model, view and projection.
type Projection struct {
	Clip      mgl32.Vec4
	NDC       mgl32.Vec3
	ViewDepth float32 // distance along the view direction, positive in front
}

// Project mirrors the position transform of the preprocess shader.
func Project(cam CameraPod, model ModelTransformPod, pos mgl32.Vec3) Projection {
	world := model.Apply(pos)
	view := cam.View.Mul4x1(world.Vec4(1))
	clip := cam.Proj.Mul4x1(view)

	p := Projection{Clip: clip, ViewDepth: -view.Z()}
	if clip.W() != 0 {
		p.NDC = clip.Vec3().Mul(1 / clip.W())
	}
	return p
}

// Visible is the culling predicate shared with the preprocess shader:
// in front of the camera and inside NDC x,y in [-1, 1] and z in [0, 1].
func (p Projection) Visible() bool {
	if p.Clip.W() <= 0 {
		return false
	}
	n := p.NDC
	return n.X() >= -1 && n.X() <= 1 &&
		n.Y() >= -1 && n.Y() <= 1 &&
		n.Z() >= 0 && n.Z() <= 1
}

// PointInFrustum tests a world-space point against planes from ExtractFrustum.
func PointInFrustum(p mgl32.Vec3, planes [6]mgl32.Vec4) bool {
	for _, plane := range planes {
		if plane.Dot(p.Vec4(1)) < 0 {
			return false
		}
	}
	return true
}

// AABBInFrustum checks if an AABB is visible within the frustum defined by 6 planes.
// Planes are expected to be in Ax+By+Cz+D=0 form, with the normal pointing INSIDE.
func AABBInFrustum(aabb [2]mgl32.Vec3, planes [6]mgl32.Vec4) bool {
	for i := 0; i < 6; i++ {
		plane := planes[i]
		// The corner furthest along the normal is the most inside one; if it
		// is still behind the plane the whole box is.
		var p mgl32.Vec3
		for k := 0; k < 3; k++ {
			if plane[k] > 0 {
				p[k] = aabb[1][k]
			} else {
				p[k] = aabb[0][k]
			}
		}

		dist := plane[0]*p[0] + plane[1]*p[1] + plane[2]*p[2] + plane[3]
		if dist < 0 {
			return false
		}
	}
	return true
}
