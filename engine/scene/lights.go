package scene

import "github.com/go-gl/mathgl/mgl32"

type Attenuation struct {
	Constant float32
	Linear   float32
	Exponent float32
}

type AmbientLight struct {
	Color     mgl32.Vec3
	Intensity float32
}

type DirectionalLight struct {
	Color     mgl32.Vec3
	Intensity float32
	// Direction points from the scene towards the light, in world space.
	Direction mgl32.Vec3
}

type PointLight struct {
	Color       mgl32.Vec3
	Position    mgl32.Vec3
	Intensity   float32
	Attenuation Attenuation
}

type SpotLight struct {
	PointLight
	// ConeDirection in world space.
	ConeDirection mgl32.Vec3
	// CutOffAngle is the half angle of the cone in degrees.
	CutOffAngle float32
}

type SceneLights struct {
	Ambient     AmbientLight
	Directional DirectionalLight
	Points      []PointLight
	Spots       []SpotLight
}

func NewSceneLights() *SceneLights {
	return &SceneLights{
		Ambient: AmbientLight{
			Color:     mgl32.Vec3{1, 1, 1},
			Intensity: 0.3,
		},
		Directional: DirectionalLight{
			Color:     mgl32.Vec3{1, 1, 1},
			Intensity: 1,
			Direction: mgl32.Vec3{0, 1, 0},
		},
	}
}
