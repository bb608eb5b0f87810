package pod

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/gsplat/splatrt/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

// headerSize covers pos (vec3<f32>) and the packed u8x4 color.
const headerSize = 16

// Layout is one SH/covariance precision combination. It fixes the byte layout
// of a packed Gaussian record and the WGSL that reads it back, so both sides
// always change together.
type Layout struct {
	Sh  ShConfig
	Cov CovConfig
}

func DefaultLayout() Layout {
	return Layout{Sh: ShSingle, Cov: CovSingle}
}

func ParseLayout(sh, cov string) (Layout, error) {
	s, err := ParseShConfig(sh)
	if err != nil {
		return Layout{}, err
	}
	c, err := ParseCovConfig(cov)
	if err != nil {
		return Layout{}, err
	}
	return Layout{Sh: s, Cov: c}, nil
}

// Layouts enumerates every supported combination.
func Layouts() []Layout {
	var out []Layout
	for _, s := range ShConfigs() {
		for _, c := range CovConfigs() {
			out = append(out, Layout{Sh: s, Cov: c})
		}
	}
	return out
}

func (l Layout) Name() string {
	return fmt.Sprintf("sh-%s/cov-%s", l.Sh.Name(), l.Cov.Name())
}

func (l Layout) shOffset() int  { return headerSize }
func (l Layout) covOffset() int { return headerSize + l.Sh.Size() }

// PaddingFloats is the number of trailing f32 words that round the record up
// to 16 bytes, matching the WGSL struct alignment of vec3<f32>.
func (l Layout) PaddingFloats() int {
	used := headerSize + l.Sh.Size() + l.Cov.Size()
	return ((16 - used%16) % 16) / 4
}

// Size is the record stride in bytes.
func (l Layout) Size() int {
	return headerSize + l.Sh.Size() + l.Cov.Size() + l.PaddingFloats()*4
}

func (l Layout) Pack(g core.Gaussian) []byte {
	buf := make([]byte, l.Size())
	l.packInto(buf, &g)
	return buf
}

func (l Layout) PackAll(gs []core.Gaussian) []byte {
	stride := l.Size()
	buf := make([]byte, stride*len(gs))
	for i := range gs {
		l.packInto(buf[i*stride:(i+1)*stride], &gs[i])
	}
	return buf
}

func (l Layout) packInto(dst []byte, g *core.Gaussian) {
	binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(g.Position[0]))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(g.Position[1]))
	binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(g.Position[2]))
	copy(dst[12:16], g.Color[:])

	l.Sh.Pack(dst[l.shOffset():], &g.SH)
	l.Cov.Pack(dst[l.covOffset():], g.Covariance3D())

	for i := l.covOffset() + l.Cov.Size(); i < len(dst); i++ {
		dst[i] = 0
	}
}

// Decoded is what a shader sees after unpacking a record.
type Decoded struct {
	Position mgl32.Vec3
	Color    [4]uint8
	SH       [core.ShCoefficients]mgl32.Vec3
	Cov3D    [6]float32
}

func (l Layout) Unpack(record []byte) Decoded {
	var d Decoded
	for k := 0; k < 3; k++ {
		d.Position[k] = math.Float32frombits(binary.LittleEndian.Uint32(record[k*4:]))
	}
	copy(d.Color[:], record[12:16])
	d.SH = l.Sh.Unpack(record[l.shOffset():])
	d.Cov3D = l.Cov.Unpack(record[l.covOffset():])
	return d
}

// ShaderFragment is the WGSL text a Layout contributes to shader templates.
type ShaderFragment struct {
	ShField    string
	CovField   string
	ShUnpack   string
	CovUnpack  string
	RecordSize int
}

func (l Layout) WGSL() ShaderFragment {
	return ShaderFragment{
		ShField:    l.Sh.WGSLField(),
		CovField:   l.Cov.WGSLField(),
		ShUnpack:   l.Sh.WGSLUnpack(),
		CovUnpack:  l.Cov.WGSLUnpack(),
		RecordSize: l.Size(),
	}
}
