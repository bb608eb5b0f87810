package core

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// SphereScene distributes count splats over a sphere surface using a
// Fibonacci lattice, colored by latitude.
func SphereScene(center mgl32.Vec3, radius float32, count int, splatScale float32) *Gaussians {
	items := make([]Gaussian, 0, count)
	golden := math.Pi * (3 - math.Sqrt(5))

	for i := 0; i < count; i++ {
		y := 1 - 2*(float64(i)+0.5)/float64(count)
		r := math.Sqrt(1 - y*y)
		theta := golden * float64(i)
		dir := mgl32.Vec3{
			float32(math.Cos(theta) * r),
			float32(y),
			float32(math.Sin(theta) * r),
		}

		g := NewGaussian(
			center.Add(dir.Mul(radius)),
			[4]uint8{unitToByte(float32(0.5 + y/2)), 96, unitToByte(float32(0.5 - y/2)), 230},
			mgl32.Vec3{splatScale, splatScale, splatScale * 0.25},
		)
		// Flatten each splat along the surface normal.
		g.Rotation = mgl32.QuatBetweenVectors(mgl32.Vec3{0, 0, 1}, dir)
		items = append(items, g)
	}

	return NewGaussians(items)
}

// GridScene lays out n*n splats on the XZ plane at y.
func GridScene(n int, spacing, y, splatScale float32) *Gaussians {
	items := make([]Gaussian, 0, n*n)
	half := float32(n-1) * spacing / 2

	for x := 0; x < n; x++ {
		for z := 0; z < n; z++ {
			fx := float32(x)*spacing - half
			fz := float32(z)*spacing - half
			items = append(items, NewGaussian(
				mgl32.Vec3{fx, y, fz},
				[4]uint8{uint8(x * 255 / max(n-1, 1)), 200, uint8(z * 255 / max(n-1, 1)), 255},
				mgl32.Vec3{splatScale, splatScale, splatScale},
			))
		}
	}

	return NewGaussians(items)
}

// RandomScene scatters count splats uniformly inside a cube of half size
// extent, with random orientation, anisotropy and SH coefficients.
func RandomScene(seed int64, count int, extent float32) *Gaussians {
	rng := rand.New(rand.NewSource(seed))
	items := make([]Gaussian, count)

	for i := range items {
		pos := mgl32.Vec3{
			(rng.Float32()*2 - 1) * extent,
			(rng.Float32()*2 - 1) * extent,
			(rng.Float32()*2 - 1) * extent,
		}
		axis := mgl32.Vec3{rng.Float32() - 0.5, rng.Float32() - 0.5, rng.Float32() - 0.5}
		rot := mgl32.QuatIdent()
		if axis.Len() > 1e-4 {
			rot = mgl32.QuatRotate(rng.Float32()*2*math.Pi, axis.Normalize())
		}

		g := Gaussian{
			Rotation: rot,
			Position: pos,
			Color:    [4]uint8{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(64 + rng.Intn(192))},
			Scale: mgl32.Vec3{
				0.01 + rng.Float32()*0.1,
				0.01 + rng.Float32()*0.1,
				0.01 + rng.Float32()*0.1,
			},
		}
		for k := range g.SH {
			g.SH[k] = mgl32.Vec3{
				(rng.Float32()*2 - 1) * 0.5,
				(rng.Float32()*2 - 1) * 0.5,
				(rng.Float32()*2 - 1) * 0.5,
			}
		}
		items[i] = g
	}

	return NewGaussians(items)
}
