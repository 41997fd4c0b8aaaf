package buffers

import (
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/scene"
)

// MaxMaterials is the capacity of the material buffer, default included.
const MaxMaterials = 1024

var defaultMaterial = metadata.GPUMaterial{
	DiffuseColor: [4]float32{1, 1, 1, 1},
	Roughness:    1,
}

/**
 * @brief MaterialCache packs the scene materials into one storage buffer.
 * Slot 0 holds the default material and scene material i lives in slot
 * i+1. Texture index 0 selects the fallback texture.
 */
type MaterialCache struct {
	backend metadata.Backend
	queue   *resources.DeletionQueue

	buffer   *resources.Owned[metadata.Buffer]
	uploaded []scene.Material
	count    int
	warnings int
}

func NewMaterialCache(backend metadata.Backend, queue *resources.DeletionQueue) *MaterialCache {
	return &MaterialCache{
		backend: backend,
		queue:   queue,
	}
}

func (mc *MaterialCache) Initialize() error {
	if mc.buffer != nil {
		return nil
	}
	buffer, err := allocate(mc.backend, mc.queue, metadata.BufferKindShaderStorage, MaxMaterials*metadata.GPUMaterialSize)
	if err != nil {
		core.LogError("failed to create the material buffer: %s", err.Error())
		return err
	}
	mc.buffer = buffer
	data := make([]byte, metadata.GPUMaterialSize)
	defaultMaterial.MarshalTo(data)
	return mc.backend.UploadBuffer(buffer.Get(), 0, data)
}

// Update uploads the materials when they changed since the last call and
// returns how many scene materials were dropped for lack of capacity.
func (mc *MaterialCache) Update(materials []scene.Material) (int, error) {
	if mc.buffer == nil {
		return 0, core.ErrNotInitialized
	}
	if mc.uploaded != nil && slices.Equal(mc.uploaded, materials) {
		return 0, nil
	}

	count := core.Clamp(len(materials), 0, MaxMaterials-1)
	dropped := len(materials) - count
	if dropped > 0 {
		mc.warnings++
		core.LogWarn("material cache: %d materials exceed the capacity of %d, dropping %d", len(materials), MaxMaterials-1, dropped)
	}

	data := make([]byte, (count+1)*metadata.GPUMaterialSize)
	defaultMaterial.MarshalTo(data)
	for i := 0; i < count; i++ {
		record := toGPUMaterial(materials[i])
		record.MarshalTo(data[(i+1)*metadata.GPUMaterialSize:])
	}
	if err := mc.backend.UploadBuffer(mc.buffer.Get(), 0, data); err != nil {
		core.LogError("failed to upload materials: %s", err.Error())
		return dropped, err
	}
	mc.uploaded = slices.Clone(materials)
	if mc.uploaded == nil {
		mc.uploaded = []scene.Material{}
	}
	mc.count = count
	return dropped, nil
}

func toGPUMaterial(m scene.Material) metadata.GPUMaterial {
	record := metadata.GPUMaterial{
		DiffuseColor: [4]float32(m.DiffuseColor),
		TextureIdx:   m.TextureIdx,
		NormalMapIdx: m.NormalMapIdx,
		Reflectance:  m.Reflectance,
		Roughness:    m.Roughness,
		Metallic:     m.Metallic,
	}
	if m.DiffuseColor == (mgl32.Vec4{}) {
		record.DiffuseColor = defaultMaterial.DiffuseColor
	}
	if m.Transparent {
		record.Transparent = 1
	}
	return record
}

// Slot maps a mesh material index to its buffer slot. Indices without an
// uploaded material resolve to the default material.
func (mc *MaterialCache) Slot(materialIdx uint32) uint32 {
	if int(materialIdx) >= mc.count {
		return 0
	}
	return materialIdx + 1
}

// Count returns the number of uploaded scene materials.
func (mc *MaterialCache) Count() int {
	return mc.count
}

func (mc *MaterialCache) Warnings() int {
	return mc.warnings
}

func (mc *MaterialCache) Bind() {
	if mc.buffer != nil {
		mc.backend.BindBuffer(mc.buffer.Get(), BindingMaterials)
	}
}

func (mc *MaterialCache) Buffer() metadata.Buffer {
	if mc.buffer == nil {
		return metadata.Buffer{}
	}
	return mc.buffer.Get()
}

func (mc *MaterialCache) Cleanup() {
	mc.buffer.Release()
	mc.buffer = nil
	mc.uploaded = nil
	mc.count = 0
}
