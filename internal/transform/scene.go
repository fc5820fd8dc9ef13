package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultScale is the number of scene units per AU.
const DefaultScale = 50.0

// EclipticToScene maps heliocentric ecliptic coordinates onto the viewer
// frame, where +Y is up (the ecliptic north pole) and the ecliptic plane is
// XZ: (x, y, z) -> (x, z, -y), then scales.
func EclipticToScene(v r3.Vec, scale float64) r3.Vec {
	return r3.Vec{X: v.X * scale, Y: v.Z * scale, Z: -v.Y * scale}
}

// SceneToEcliptic inverts EclipticToScene.
func SceneToEcliptic(v r3.Vec, scale float64) r3.Vec {
	return r3.Vec{X: v.X / scale, Y: -v.Z / scale, Z: v.Y / scale}
}

// EclipticToSceneFloat32 applies the scene mapping in place to a flat
// coordinate buffer that is already scaled.
func EclipticToSceneFloat32(buf []float32) {
	for j := 0; j+2 < len(buf); j += 3 {
		y, z := buf[j+1], buf[j+2]
		buf[j+1] = z
		buf[j+2] = -y
	}
}

// Finite reports whether every value is neither NaN nor infinite.
func Finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FiniteVec reports whether all components of v are finite.
func FiniteVec(v r3.Vec) bool {
	return Finite(v.X, v.Y, v.Z)
}
