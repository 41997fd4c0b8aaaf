package buffers

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/scene"
)

// MaxLightsSupported is the capacity of the point and of the spot light
// buffer.
const MaxLightsSupported = 1000

// LightStats describes one light upload.
type LightStats struct {
	Points int
	Spots  int
	// Dropped counts lights beyond capacity.
	Dropped int
}

/**
 * @brief LightBuffers owns the fixed capacity point and spot light storage
 * buffers plus the scene lighting uniform block. Positions and directions
 * are transformed to view space before upload. Lights beyond capacity are
 * dropped with a warning.
 */
type LightBuffers struct {
	backend metadata.Backend
	queue   *resources.DeletionQueue

	points *resources.Owned[metadata.Buffer]
	spots  *resources.Owned[metadata.Buffer]
	header *resources.Owned[metadata.Buffer]

	warnings int
}

func NewLightBuffers(backend metadata.Backend, queue *resources.DeletionQueue) *LightBuffers {
	return &LightBuffers{
		backend: backend,
		queue:   queue,
	}
}

func (lb *LightBuffers) Initialize() error {
	if lb.header != nil {
		return nil
	}
	var err error
	if lb.points, err = allocate(lb.backend, lb.queue, metadata.BufferKindShaderStorage, MaxLightsSupported*metadata.GPUPointLightSize); err != nil {
		core.LogError("failed to create the point light buffer: %s", err.Error())
		lb.Cleanup()
		return err
	}
	if lb.spots, err = allocate(lb.backend, lb.queue, metadata.BufferKindShaderStorage, MaxLightsSupported*metadata.GPUSpotLightSize); err != nil {
		core.LogError("failed to create the spot light buffer: %s", err.Error())
		lb.Cleanup()
		return err
	}
	if lb.header, err = allocate(lb.backend, lb.queue, metadata.BufferKindUniform, metadata.GPUSceneLightsSize); err != nil {
		core.LogError("failed to create the scene lights buffer: %s", err.Error())
		lb.Cleanup()
		return err
	}
	return nil
}

// Update uploads the lights of the frame. view is the camera view matrix.
func (lb *LightBuffers) Update(lights *scene.SceneLights, fog scene.Fog, view mgl32.Mat4) (LightStats, error) {
	stats := LightStats{}
	if lb.header == nil {
		return stats, core.ErrNotInitialized
	}
	if lights == nil {
		lights = &scene.SceneLights{}
	}

	stats.Points = core.Clamp(len(lights.Points), 0, MaxLightsSupported)
	stats.Spots = core.Clamp(len(lights.Spots), 0, MaxLightsSupported)
	stats.Dropped = len(lights.Points) - stats.Points + len(lights.Spots) - stats.Spots
	if stats.Dropped > 0 {
		lb.warnings++
		core.LogWarn("light buffers: %d point and %d spot lights exceed the capacity of %d, dropping %d",
			len(lights.Points), len(lights.Spots), MaxLightsSupported, stats.Dropped)
	}

	if stats.Points > 0 {
		data := make([]byte, stats.Points*metadata.GPUPointLightSize)
		for i := 0; i < stats.Points; i++ {
			record := pointRecord(lights.Points[i], view)
			record.MarshalTo(data[i*metadata.GPUPointLightSize:])
		}
		if err := lb.backend.UploadBuffer(lb.points.Get(), 0, data); err != nil {
			core.LogError("failed to upload point lights: %s", err.Error())
			return stats, err
		}
	}
	if stats.Spots > 0 {
		data := make([]byte, stats.Spots*metadata.GPUSpotLightSize)
		for i := 0; i < stats.Spots; i++ {
			spot := lights.Spots[i]
			record := metadata.GPUSpotLight{
				Point:     pointRecord(spot.PointLight, view),
				Direction: [3]float32(viewDirection(spot.ConeDirection, view)),
				CutOff:    float32(math.Cos(float64(mgl32.DegToRad(spot.CutOffAngle)))),
			}
			record.MarshalTo(data[i*metadata.GPUSpotLightSize:])
		}
		if err := lb.backend.UploadBuffer(lb.spots.Get(), 0, data); err != nil {
			core.LogError("failed to upload spot lights: %s", err.Error())
			return stats, err
		}
	}

	header := metadata.GPUSceneLights{
		AmbientColor:     [3]float32(lights.Ambient.Color),
		AmbientIntensity: lights.Ambient.Intensity,
		DirColor:         [3]float32(lights.Directional.Color),
		DirIntensity:     lights.Directional.Intensity,
		DirDirection:     [3]float32(viewDirection(lights.Directional.Direction, view)),
		FogColor:         [3]float32(fog.Color),
		FogDensity:       fog.Density,
		PointCount:       uint32(stats.Points),
		SpotCount:        uint32(stats.Spots),
	}
	if fog.Active {
		header.FogActive = 1
	}
	if err := lb.backend.UploadBuffer(lb.header.Get(), 0, header.Marshal()); err != nil {
		core.LogError("failed to upload scene lights: %s", err.Error())
		return stats, err
	}
	return stats, nil
}

func pointRecord(light scene.PointLight, view mgl32.Mat4) metadata.GPUPointLight {
	return metadata.GPUPointLight{
		Position:  [3]float32(view.Mul4x1(light.Position.Vec4(1)).Vec3()),
		Intensity: light.Intensity,
		Color:     [3]float32(light.Color),
		Constant:  light.Attenuation.Constant,
		Linear:    light.Attenuation.Linear,
		Exponent:  light.Attenuation.Exponent,
	}
}

func viewDirection(dir mgl32.Vec3, view mgl32.Mat4) mgl32.Vec3 {
	v := view.Mul4x1(dir.Vec4(0)).Vec3()
	if v.Len() < 1e-6 {
		return v
	}
	return v.Normalize()
}

// Warnings returns how many uploads dropped lights.
func (lb *LightBuffers) Warnings() int {
	return lb.warnings
}

func (lb *LightBuffers) Bind() {
	if lb.header == nil {
		return
	}
	lb.backend.BindBuffer(lb.points.Get(), BindingPointLights)
	lb.backend.BindBuffer(lb.spots.Get(), BindingSpotLights)
	lb.backend.BindBuffer(lb.header.Get(), BindingSceneLights)
}

func (lb *LightBuffers) PointBuffer() metadata.Buffer {
	if lb.points == nil {
		return metadata.Buffer{}
	}
	return lb.points.Get()
}

func (lb *LightBuffers) SpotBuffer() metadata.Buffer {
	if lb.spots == nil {
		return metadata.Buffer{}
	}
	return lb.spots.Get()
}

func (lb *LightBuffers) HeaderBuffer() metadata.Buffer {
	if lb.header == nil {
		return metadata.Buffer{}
	}
	return lb.header.Get()
}

func (lb *LightBuffers) Cleanup() {
	lb.points.Release()
	lb.spots.Release()
	lb.header.Release()
	lb.points, lb.spots, lb.header = nil, nil, nil
}
