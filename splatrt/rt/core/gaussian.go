package core

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// ShCoefficients is the number of non-DC spherical harmonic RGB triples
// stored per Gaussian (degree 3).
const ShCoefficients = 15

type Gaussian struct {
	Rotation mgl32.Quat
	Position mgl32.Vec3
	Color    [4]uint8
	SH       [ShCoefficients]mgl32.Vec3
	Scale    mgl32.Vec3
}

func NewGaussian(pos mgl32.Vec3, color [4]uint8, scale mgl32.Vec3) Gaussian {
	return Gaussian{
		Rotation: mgl32.QuatIdent(),
		Position: pos,
		Color:    color,
		Scale:    scale,
	}
}

// Covariance3D returns the upper triangle of Σ = (R·S)(R·S)ᵀ as
// [xx, xy, xz, yy, yz, zz].
func (g Gaussian) Covariance3D() [6]float32 {
	r := g.Rotation.Normalize().Mat4().Mat3()
	s := mgl32.Diag3(g.Scale)
	m := r.Mul3(s)
	sigma := m.Mul3(m.Transpose())

	return [6]float32{
		sigma.At(0, 0), sigma.At(0, 1), sigma.At(0, 2),
		sigma.At(1, 1), sigma.At(1, 2),
		sigma.At(2, 2),
	}
}

// Gaussians is a loaded splat scene.
type Gaussians struct {
	ID    uuid.UUID
	Items []Gaussian
}

func NewGaussians(items []Gaussian) *Gaussians {
	return &Gaussians{
		ID:    uuid.New(),
		Items: items,
	}
}

func (gs *Gaussians) Len() int {
	if gs == nil {
		return 0
	}
	return len(gs.Items)
}

// Bounds returns the min/max corners of all Gaussian centers.
// An empty scene returns a zero box.
func (gs *Gaussians) Bounds() [2]mgl32.Vec3 {
	if gs.Len() == 0 {
		return [2]mgl32.Vec3{}
	}
	minB := gs.Items[0].Position
	maxB := gs.Items[0].Position
	for _, g := range gs.Items[1:] {
		for k := 0; k < 3; k++ {
			minB[k] = min(minB[k], g.Position[k])
			maxB[k] = max(maxB[k], g.Position[k])
		}
	}
	return [2]mgl32.Vec3{minB, maxB}
}

// SortByDistance orders the Gaussians far-to-near from pos. It is a host-side
// helper for tools; the frame loop sorts on the device.
func (gs *Gaussians) SortByDistance(pos mgl32.Vec3) {
	if gs.Len() < 2 {
		return
	}
	dist := make([]float32, len(gs.Items))
	order := make([]int, len(gs.Items))
	for i, g := range gs.Items {
		dist[i] = g.Position.Sub(pos).LenSqr()
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dist[order[a]] > dist[order[b]]
	})

	sorted := make([]Gaussian, len(gs.Items))
	for i, idx := range order {
		sorted[i] = gs.Items[idx]
	}
	gs.Items = sorted
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}
