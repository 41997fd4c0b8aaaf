// Package shadow computes the cascaded shadow map matrices for the
// directional light.
package shadow

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/scene"
)

const (
	CascadeCount = 3
	// SplitLambda blends logarithmic (1) and uniform (0) split distances.
	SplitLambda float32 = 0.95
	// DefaultMapSize is the width and height of one cascade layer in texels.
	DefaultMapSize uint32 = 2048
	// casterExtension pushes the light near plane back so casters outside
	// the cascade sphere still land in the map when the scene bounds are
	// unknown.
	casterExtension float32 = 2
)

type Cascade struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	ProjView   mgl32.Mat4
	// SplitDistance is the far end of the cascade as a view-space z, which
	// is negative in front of the camera.
	SplitDistance float32
}

/**
 * @brief CascadeShadow holds one orthographic light projection per slice
 * of the camera frustum. Update recomputes every cascade from scratch and
 * is a pure function of its inputs.
 */
type CascadeShadow struct {
	Cascades [CascadeCount]Cascade
	MapSize  uint32
	// MaxDistance caps the shadowed range. 0 uses the camera far plane.
	MaxDistance float32
}

func New(mapSize uint32) *CascadeShadow {
	if mapSize == 0 {
		mapSize = DefaultMapSize
	}
	return &CascadeShadow{MapSize: mapSize}
}

// SplitDistances returns the positive far distance of every cascade using
// the practical split scheme.
func SplitDistances(near, far, lambda float32) [CascadeCount]float32 {
	var splits [CascadeCount]float32
	lambda = core.Clamp(lambda, 0, 1)
	ratio := float64(far / near)
	for i := 0; i < CascadeCount; i++ {
		p := float32(i+1) / float32(CascadeCount)
		log := near * float32(math.Pow(ratio, float64(p)))
		uniform := near + (far-near)*p
		splits[i] = lambda*log + (1-lambda)*uniform
	}
	// guard against rounding so the last cascade ends exactly at far
	splits[CascadeCount-1] = far
	return splits
}

// Update recomputes every cascade for the camera and the directional light.
// lightDirection points from the scene towards the light. A non-empty bounds
// clamps the light depth range of every cascade to the scene.
func (cs *CascadeShadow) Update(camera *scene.Camera, lightDirection mgl32.Vec3, bounds scene.AABB) {
	near := camera.NearClip
	far := camera.FarClip
	if cs.MaxDistance > 0 && cs.MaxDistance < far {
		far = cs.MaxDistance
	}

	proj := mgl32.Perspective(mgl32.DegToRad(camera.FOV), camera.Aspect(), near, far)
	invCam := proj.Mul4(camera.View()).Inv()

	// near corners first, then the matching far corners
	ndc := [8]mgl32.Vec3{
		{-1, 1, -1}, {1, 1, -1}, {1, -1, -1}, {-1, -1, -1},
		{-1, 1, 1}, {1, 1, 1}, {1, -1, 1}, {-1, -1, 1},
	}
	var frustum [8]mgl32.Vec3
	for i, c := range ndc {
		p := invCam.Mul4x1(c.Vec4(1))
		frustum[i] = p.Vec3().Mul(1 / p.W())
	}

	dir := lightDirection
	if dir.Len() < 1e-6 {
		dir = mgl32.Vec3{0, 1, 0}
	}
	dir = dir.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if abs(dir.Dot(up)) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}

	splits := SplitDistances(near, far, SplitLambda)
	lastRatio := float32(0)
	for i := 0; i < CascadeCount; i++ {
		ratio := (splits[i] - near) / (far - near)

		var corners [8]mgl32.Vec3
		for j := 0; j < 4; j++ {
			edge := frustum[j+4].Sub(frustum[j])
			corners[j] = frustum[j].Add(edge.Mul(lastRatio))
			corners[j+4] = frustum[j].Add(edge.Mul(ratio))
		}

		center := mgl32.Vec3{}
		for _, c := range corners {
			center = center.Add(c)
		}
		center = center.Mul(1.0 / 8.0)

		radius := float32(0)
		for _, c := range corners {
			radius = max(radius, c.Sub(center).Len())
		}
		radius = float32(math.Ceil(float64(radius*16))) / 16

		eye := center.Add(dir.Mul(radius))
		view := mgl32.LookAtV(eye, center, up)
		zNear, zFar := depthRange(view, radius, bounds)
		ortho := mgl32.Ortho(-radius, radius, -radius, radius, zNear, zFar)
		ortho = cs.snapToTexel(ortho, view)

		cs.Cascades[i] = Cascade{
			View:          view,
			Projection:    ortho,
			ProjView:      ortho.Mul4(view),
			SplitDistance: -splits[i],
		}
		lastRatio = ratio
	}
}

// depthRange returns the near and far distances of a cascade's light
// projection. Without bounds it spans the cascade sphere plus the caster
// extension. With bounds it starts at the scene's closest point to the light,
// so every caster lands in the map, and ends at the scene's farthest point or
// the back of the sphere, whichever comes first.
func depthRange(view mgl32.Mat4, radius float32, bounds scene.AABB) (float32, float32) {
	zNear, zFar := -radius*casterExtension, radius*2
	if bounds.IsEmpty() {
		return zNear, zFar
	}
	lo := float32(math.Inf(1))
	hi := float32(math.Inf(-1))
	for i := 0; i < 8; i++ {
		corner := bounds.Min
		if i&1 != 0 {
			corner[0] = bounds.Max.X()
		}
		if i&2 != 0 {
			corner[1] = bounds.Max.Y()
		}
		if i&4 != 0 {
			corner[2] = bounds.Max.Z()
		}
		// the light looks down -z
		depth := -view.Mul4x1(corner.Vec4(1)).Z()
		lo = min(lo, depth)
		hi = max(hi, depth)
	}
	margin := (hi-lo)*1e-3 + 1e-3
	lo -= margin
	hi = min(hi+margin, zFar)
	if hi <= lo {
		// the scene is entirely behind the cascade
		return zNear, zFar
	}
	return lo, hi
}

// snapToTexel moves the projection in whole texel steps so the shadow does
// not shimmer while the camera moves.
func (cs *CascadeShadow) snapToTexel(proj, view mgl32.Mat4) mgl32.Mat4 {
	half := float32(cs.MapSize) / 2
	origin := proj.Mul4(view).Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Mul(half)
	rx := float32(math.Round(float64(origin.X())))
	ry := float32(math.Round(float64(origin.Y())))
	proj[12] += (rx - origin.X()) / half
	proj[13] += (ry - origin.Y()) / half
	return proj
}

// ProjViews returns the light matrices in cascade order.
func (cs *CascadeShadow) ProjViews() []mgl32.Mat4 {
	out := make([]mgl32.Mat4, CascadeCount)
	for i := range cs.Cascades {
		out[i] = cs.Cascades[i].ProjView
	}
	return out
}

// Splits returns the view-space split depths in cascade order.
func (cs *CascadeShadow) Splits() []float32 {
	out := make([]float32, CascadeCount)
	for i := range cs.Cascades {
		out[i] = cs.Cascades[i].SplitDistance
	}
	return out
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
