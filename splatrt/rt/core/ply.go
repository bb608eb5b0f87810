package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// shC0 is the zeroth-order real spherical harmonic constant.
const shC0 = 0.28209479177387814

// PlyGaussian holds the raw vertex attributes of a 3DGS PLY file, as produced
// by an external PLY reader.
type PlyGaussian struct {
	Pos     [3]float32
	Normal  [3]float32
	Color   [3]float32 // f_dc_0..2
	ShRest  [3 * ShCoefficients]float32
	Alpha   float32 // opacity logit
	Scale   [3]float32
	RotWXYZ [4]float32
}

// SetValue assigns a PLY property by name. Unknown names are ignored and
// reported as false.
func (p *PlyGaussian) SetValue(name string, value float32) bool {
	switch name {
	case "x":
		p.Pos[0] = value
	case "y":
		p.Pos[1] = value
	case "z":
		p.Pos[2] = value
	case "nx":
		p.Normal[0] = value
	case "ny":
		p.Normal[1] = value
	case "nz":
		p.Normal[2] = value
	case "f_dc_0":
		p.Color[0] = value
	case "f_dc_1":
		p.Color[1] = value
	case "f_dc_2":
		p.Color[2] = value
	case "opacity":
		p.Alpha = value
	case "scale_0":
		p.Scale[0] = value
	case "scale_1":
		p.Scale[1] = value
	case "scale_2":
		p.Scale[2] = value
	case "rot_0":
		p.RotWXYZ[0] = value
	case "rot_1":
		p.RotWXYZ[1] = value
	case "rot_2":
		p.RotWXYZ[2] = value
	case "rot_3":
		p.RotWXYZ[3] = value
	default:
		i, ok := parseShRest(name)
		if !ok || i >= len(p.ShRest) {
			return false
		}
		p.ShRest[i] = value
	}
	return true
}

func parseShRest(name string) (int, bool) {
	const prefix = "f_rest_"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}
	n := 0
	for _, c := range name[len(prefix):] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// FromPly converts raw PLY attributes into a Gaussian. Scale is stored as a
// log, opacity as a logit and the DC color as an SH coefficient. SH rest
// coefficients are stored channel-major (all R, then all G, then all B).
func FromPly(p PlyGaussian) Gaussian {
	rot := mgl32.Quat{
		W: p.RotWXYZ[0],
		V: mgl32.Vec3{p.RotWXYZ[1], p.RotWXYZ[2], p.RotWXYZ[3]},
	}
	if rot.Len() > 0 {
		rot = rot.Normalize()
	} else {
		rot = mgl32.QuatIdent()
	}

	var color [4]uint8
	for c := 0; c < 3; c++ {
		color[c] = unitToByte(0.5 + p.Color[c]*shC0)
	}
	color[3] = unitToByte(sigmoid(p.Alpha))

	var sh [ShCoefficients]mgl32.Vec3
	for i := 0; i < ShCoefficients; i++ {
		sh[i] = mgl32.Vec3{
			p.ShRest[i],
			p.ShRest[i+ShCoefficients],
			p.ShRest[i+2*ShCoefficients],
		}
	}

	return Gaussian{
		Rotation: rot,
		Position: mgl32.Vec3{p.Pos[0], p.Pos[1], p.Pos[2]},
		Color:    color,
		SH:       sh,
		Scale: mgl32.Vec3{
			float32(math.Exp(float64(p.Scale[0]))),
			float32(math.Exp(float64(p.Scale[1]))),
			float32(math.Exp(float64(p.Scale[2]))),
		},
	}
}

func unitToByte(v float32) uint8 {
	v = mgl32.Clamp(v, 0, 1)
	return uint8(math.Round(float64(v * 255)))
}
