// Package buffers owns the device buffers the stages draw from: packed
// geometry, the static and animated indirect batches, materials and lights.
package buffers

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
)

// Shader storage and uniform binding points shared with the built-in shaders.
const (
	BindingModelMatrices uint32 = 0
	BindingDrawElements  uint32 = 1
	BindingMaterials     uint32 = 2
	BindingPointLights   uint32 = 3
	BindingSpotLights    uint32 = 4
	BindingSceneLights   uint32 = 5
	BindingBoneMatrices  uint32 = 6
	BindingAnimSource    uint32 = 7
	BindingAnimWeights   uint32 = 8
	BindingAnimDest      uint32 = 9
)

// minBufferSize keeps empty batches backed by a real device buffer.
const minBufferSize = 64

// storageAlignment is the std430 alignment of a vec4.
const storageAlignment = 16

func allocate(backend metadata.Backend, queue *resources.DeletionQueue, kind metadata.BufferKind, size uint64) (*resources.Owned[metadata.Buffer], error) {
	buf, err := backend.CreateBuffer(kind, max(metadata.GetAligned(size, storageAlignment), minBufferSize))
	if err != nil {
		return nil, err
	}
	return resources.Own(queue, buf), nil
}

func allocateWith(backend metadata.Backend, queue *resources.DeletionQueue, kind metadata.BufferKind, data []byte) (*resources.Owned[metadata.Buffer], error) {
	owned, err := allocate(backend, queue, kind, uint64(len(data)))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return owned, nil
	}
	if err := backend.UploadBuffer(owned.Get(), 0, data); err != nil {
		owned.Release()
		return nil, err
	}
	return owned, nil
}

func float32Bytes(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func uint32Bytes(values []uint32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func matrixBytes(matrices []mgl32.Mat4) []byte {
	out := make([]byte, len(matrices)*metadata.MatrixSize)
	for i, m := range matrices {
		metadata.PutMatrix(out[i*metadata.MatrixSize:], [16]float32(m))
	}
	return out
}
