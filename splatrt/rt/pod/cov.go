package pod

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/gsplat"
)

// CovConfig is a packing strategy for the 6 unique 3D covariance entries.
type CovConfig interface {
	Name() string
	Size() int
	Pack(dst []byte, cov [6]float32)
	Unpack(src []byte) [6]float32
	WGSLField() string
	// WGSLUnpack defines fn gaussian_cov3d(i: u32) -> array<f32, 6>.
	WGSLUnpack() string
}

var (
	CovSingle CovConfig = covSingle{}
	CovHalf   CovConfig = covHalf{}
)

func CovConfigs() []CovConfig {
	return []CovConfig{CovSingle, CovHalf}
}

func ParseCovConfig(name string) (CovConfig, error) {
	for _, c := range CovConfigs() {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: covariance %q", gsplat.ErrUnknownPrecision, name)
}

type covSingle struct{}

func (covSingle) Name() string { return "single" }
func (covSingle) Size() int    { return 24 }

func (covSingle) Pack(dst []byte, cov [6]float32) {
	for i, v := range cov {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func (covSingle) Unpack(src []byte) (cov [6]float32) {
	for i := range cov {
		cov[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return cov
}

func (covSingle) WGSLField() string { return "cov3d: array<f32, 6>," }

func (covSingle) WGSLUnpack() string {
	return `fn gaussian_cov3d(i: u32) -> array<f32, 6> {
    return gaussians[i].cov3d;
}`
}

type covHalf struct{}

func (covHalf) Name() string { return "half" }
func (covHalf) Size() int    { return 12 }

func (covHalf) Pack(dst []byte, cov [6]float32) {
	for i, v := range cov {
		putHalf(dst[i*2:], v)
	}
}

func (covHalf) Unpack(src []byte) (cov [6]float32) {
	for i := range cov {
		cov[i] = getHalf(src[i*2:])
	}
	return cov
}

func (covHalf) WGSLField() string { return "cov3d: array<u32, 3>," }

func (covHalf) WGSLUnpack() string {
	return `fn gaussian_cov3d(i: u32) -> array<f32, 6> {
    let a = unpack2x16float(gaussians[i].cov3d[0]);
    let b = unpack2x16float(gaussians[i].cov3d[1]);
    let c = unpack2x16float(gaussians[i].cov3d[2]);
    return array<f32, 6>(a.x, a.y, b.x, b.y, c.x, c.y);
}`
}
