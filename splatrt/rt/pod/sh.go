package pod

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/gsplat"
	"github.com/gekko3d/gsplat/splatrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

const shComponents = core.ShCoefficients * 3

// ShConfig is a packing strategy for the 15 SH RGB coefficients.
type ShConfig interface {
	Name() string
	// Size is the field size in bytes, always a multiple of 4.
	Size() int
	Pack(dst []byte, sh *[core.ShCoefficients]mgl32.Vec3)
	Unpack(src []byte) [core.ShCoefficients]mgl32.Vec3
	// WGSLField declares the field inside the Gaussian struct, with a
	// trailing comma, or is empty when nothing is stored.
	WGSLField() string
	// WGSLUnpack defines fn gaussian_sh(i: u32, k: u32) -> vec3<f32>.
	WGSLUnpack() string
}

var (
	ShSingle ShConfig = shSingle{}
	ShHalf   ShConfig = shHalf{}
	ShNorm8  ShConfig = shNorm8{}
	ShNone   ShConfig = shNone{}
)

func ShConfigs() []ShConfig {
	return []ShConfig{ShSingle, ShHalf, ShNorm8, ShNone}
}

func ParseShConfig(name string) (ShConfig, error) {
	for _, c := range ShConfigs() {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: sh %q", gsplat.ErrUnknownPrecision, name)
}

type shSingle struct{}

func (shSingle) Name() string { return "single" }
func (shSingle) Size() int    { return shComponents * 4 }

func (shSingle) Pack(dst []byte, sh *[core.ShCoefficients]mgl32.Vec3) {
	for k, c := range sh {
		for j := 0; j < 3; j++ {
			binary.LittleEndian.PutUint32(dst[(k*3+j)*4:], math.Float32bits(c[j]))
		}
	}
}

func (shSingle) Unpack(src []byte) (sh [core.ShCoefficients]mgl32.Vec3) {
	for k := range sh {
		for j := 0; j < 3; j++ {
			sh[k][j] = math.Float32frombits(binary.LittleEndian.Uint32(src[(k*3+j)*4:]))
		}
	}
	return sh
}

func (shSingle) WGSLField() string { return "sh: array<f32, 45>," }

func (shSingle) WGSLUnpack() string {
	return `fn gaussian_sh(i: u32, k: u32) -> vec3<f32> {
    let b = k * 3u;
    return vec3<f32>(gaussians[i].sh[b], gaussians[i].sh[b + 1u], gaussians[i].sh[b + 2u]);
}`
}

// shHalf stores 45 halves plus one zero half of padding.
type shHalf struct{}

func (shHalf) Name() string { return "half" }
func (shHalf) Size() int    { return (shComponents + 1) * 2 }

func (shHalf) Pack(dst []byte, sh *[core.ShCoefficients]mgl32.Vec3) {
	for k, c := range sh {
		for j := 0; j < 3; j++ {
			putHalf(dst[(k*3+j)*2:], c[j])
		}
	}
	dst[shComponents*2] = 0
	dst[shComponents*2+1] = 0
}

func (shHalf) Unpack(src []byte) (sh [core.ShCoefficients]mgl32.Vec3) {
	for k := range sh {
		for j := 0; j < 3; j++ {
			sh[k][j] = getHalf(src[(k*3+j)*2:])
		}
	}
	return sh
}

func (shHalf) WGSLField() string { return "sh: array<u32, 23>," }

func (shHalf) WGSLUnpack() string {
	return `fn gaussian_sh_component(i: u32, c: u32) -> f32 {
    let v = unpack2x16float(gaussians[i].sh[c / 2u]);
    return select(v.x, v.y, (c & 1u) == 1u);
}

fn gaussian_sh(i: u32, k: u32) -> vec3<f32> {
    let b = k * 3u;
    return vec3<f32>(
        gaussian_sh_component(i, b),
        gaussian_sh_component(i, b + 1u),
        gaussian_sh_component(i, b + 2u),
    );
}`
}

// shNorm8 stores a half precision [min, max] range followed by 45 bytes
// quantized into it and 3 zero bytes.
type shNorm8 struct{}

func (shNorm8) Name() string { return "norm8" }
func (shNorm8) Size() int    { return 4 + shComponents + 3 }

// Range returns the stored [min, max] pair of a packed field.
func (shNorm8) Range(src []byte) (float32, float32) {
	return getHalf(src[0:]), getHalf(src[2:])
}

func (shNorm8) Pack(dst []byte, sh *[core.ShCoefficients]mgl32.Vec3) {
	lo, hi := sh[0][0], sh[0][0]
	for _, c := range sh {
		for j := 0; j < 3; j++ {
			lo = min(lo, c[j])
			hi = max(hi, c[j])
		}
	}

	// Round the range outward so every value stays representable after the
	// bounds themselves lose precision.
	loH, hiH := floorHalf(lo), ceilHalf(hi)
	binary.LittleEndian.PutUint16(dst[0:], loH.Bits())
	binary.LittleEndian.PutUint16(dst[2:], hiH.Bits())
	lo, hi = loH.Float32(), hiH.Float32()

	span := hi - lo
	for k, c := range sh {
		for j := 0; j < 3; j++ {
			var q uint8
			if span > 0 {
				f := math.Round(float64((c[j] - lo) / span * 255))
				q = uint8(mgl32.Clamp(float32(f), 0, 255))
			}
			dst[4+k*3+j] = q
		}
	}
	for i := 4 + shComponents; i < 4+shComponents+3; i++ {
		dst[i] = 0
	}
}

func (n shNorm8) Unpack(src []byte) (sh [core.ShCoefficients]mgl32.Vec3) {
	lo, hi := n.Range(src)
	for k := range sh {
		for j := 0; j < 3; j++ {
			sh[k][j] = lo + float32(src[4+k*3+j])/255*(hi-lo)
		}
	}
	return sh
}

func (shNorm8) WGSLField() string { return "sh: array<u32, 13>," }

func (shNorm8) WGSLUnpack() string {
	return `fn gaussian_sh_byte(i: u32, c: u32) -> f32 {
    let w = gaussians[i].sh[1u + c / 4u];
    return f32((w >> ((c % 4u) * 8u)) & 0xffu) / 255.0;
}

fn gaussian_sh(i: u32, k: u32) -> vec3<f32> {
    let range = unpack2x16float(gaussians[i].sh[0]);
    let b = k * 3u;
    let q = vec3<f32>(gaussian_sh_byte(i, b), gaussian_sh_byte(i, b + 1u), gaussian_sh_byte(i, b + 2u));
    return vec3<f32>(range.x) + q * (range.y - range.x);
}`
}

type shNone struct{}

func (shNone) Name() string { return "none" }
func (shNone) Size() int    { return 0 }

func (shNone) Pack(dst []byte, sh *[core.ShCoefficients]mgl32.Vec3) {}

func (shNone) Unpack(src []byte) (sh [core.ShCoefficients]mgl32.Vec3) {
	return sh
}

func (shNone) WGSLField() string { return "" }

func (shNone) WGSLUnpack() string {
	return `fn gaussian_sh(i: u32, k: u32) -> vec3<f32> {
    return vec3<f32>(0.0);
}`
}
