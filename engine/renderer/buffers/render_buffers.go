package buffers

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/scene"
)

const (
	// per vertex: four weights followed by four bone indices
	weightRecordSize = 8 * 4
	floatsPerVertex  = 14
)

// MeshDrawData locates one mesh inside the packed geometry buffers. Offsets
// and counts are in vertices and indices.
type MeshDrawData struct {
	VertexOffset uint32
	VertexCount  uint32
	IndexOffset  uint32
	IndexCount   uint32
	MaterialIdx  uint32
}

type ModelDrawData struct {
	ModelID string
	Meshes  []MeshDrawData
	// VertexCount of the whole model.
	VertexCount uint32
}

// AnimatedRegion is the slice of the animation destination buffer one
// animated entity is skinned into.
type AnimatedRegion struct {
	ModelID     string
	EntityIdx   int
	SrcOffset   uint32
	DstOffset   uint32
	VertexCount uint32
}

/**
 * @brief RenderBuffers packs the geometry of every model into shared device
 * buffers. Static models go to one vertex and one index buffer. Animated
 * models keep their bind pose and weights in storage buffers plus a
 * destination vertex buffer with one region per entity that the Animation
 * stage skins into. Models are packed in Scene.SortedModelIDs order.
 */
type RenderBuffers struct {
	backend metadata.Backend
	queue   *resources.DeletionQueue

	StaticVertices *resources.Owned[metadata.Buffer]
	StaticIndices  *resources.Owned[metadata.Buffer]

	AnimBindPose *resources.Owned[metadata.Buffer]
	AnimWeights  *resources.Owned[metadata.Buffer]
	AnimDest     *resources.Owned[metadata.Buffer]
	AnimIndices  *resources.Owned[metadata.Buffer]

	static   []ModelDrawData
	animated []ModelDrawData
	regions  []AnimatedRegion

	signature  string
	loaded     bool
	generation int
}

func NewRenderBuffers(backend metadata.Backend, queue *resources.DeletionQueue) *RenderBuffers {
	return &RenderBuffers{
		backend: backend,
		queue:   queue,
	}
}

// geometrySignature changes whenever the packed layout would change.
func geometrySignature(s *scene.Scene) string {
	var sb strings.Builder
	for _, id := range s.SortedModelIDs() {
		m := s.Models[id]
		fmt.Fprintf(&sb, "%s:%t:", id, m.Animated)
		for i := range m.Meshes {
			fmt.Fprintf(&sb, "%d/%d/%d,", len(m.Meshes[i].Vertices), len(m.Meshes[i].Indices), m.Meshes[i].MaterialIdx)
		}
		if m.Animated {
			fmt.Fprintf(&sb, "e%d", len(m.Entities))
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

// Load packs the scene geometry when its layout changed since the last call
// and reports whether the buffers were rebuilt. Rebuilding releases every
// previous buffer through the deletion queue.
func (rb *RenderBuffers) Load(s *scene.Scene) (bool, error) {
	sig := geometrySignature(s)
	if rb.loaded && sig == rb.signature {
		return false, nil
	}
	rb.Cleanup()

	if err := rb.loadStatic(s.ModelsInOrder(false)); err != nil {
		core.LogError("failed to load static geometry: %s", err.Error())
		rb.Cleanup()
		return false, err
	}
	if err := rb.loadAnimated(s.ModelsInOrder(true)); err != nil {
		core.LogError("failed to load animated geometry: %s", err.Error())
		rb.Cleanup()
		return false, err
	}
	rb.signature = sig
	rb.loaded = true
	rb.generation++
	core.LogDebug("render buffers: %d static and %d animated models packed", len(rb.static), len(rb.animated))
	return true, nil
}

func packModels(models []*scene.Model) ([]ModelDrawData, []float32, []uint32) {
	out := make([]ModelDrawData, 0, len(models))
	vertices := []float32{}
	indices := []uint32{}
	for _, m := range models {
		md := ModelDrawData{ModelID: m.ID}
		for i := range m.Meshes {
			mesh := &m.Meshes[i]
			md.Meshes = append(md.Meshes, MeshDrawData{
				VertexOffset: uint32(len(vertices) / floatsPerVertex),
				VertexCount:  uint32(mesh.VertexCount()),
				IndexOffset:  uint32(len(indices)),
				IndexCount:   uint32(len(mesh.Indices)),
				MaterialIdx:  mesh.MaterialIdx,
			})
			vertices = append(vertices, mesh.Vertices[:mesh.VertexCount()*floatsPerVertex]...)
			indices = append(indices, mesh.Indices...)
		}
		md.VertexCount = uint32(m.VertexCount())
		out = append(out, md)
	}
	return out, vertices, indices
}

func (rb *RenderBuffers) loadStatic(models []*scene.Model) error {
	var vertices []float32
	var indices []uint32
	rb.static, vertices, indices = packModels(models)

	var err error
	if rb.StaticVertices, err = allocateWith(rb.backend, rb.queue, metadata.BufferKindVertex, float32Bytes(vertices)); err != nil {
		return err
	}
	if rb.StaticIndices, err = allocateWith(rb.backend, rb.queue, metadata.BufferKindIndex, uint32Bytes(indices)); err != nil {
		return err
	}
	return nil
}

func (rb *RenderBuffers) loadAnimated(models []*scene.Model) error {
	var vertices []float32
	var indices []uint32
	rb.animated, vertices, indices = packModels(models)

	weights := make([]byte, 0)
	rb.regions = rb.regions[:0]
	src := uint32(0)
	dst := uint32(0)
	for i, m := range models {
		count := rb.animated[i].VertexCount
		weights = append(weights, packWeights(m, int(count))...)
		for e := range m.Entities {
			rb.regions = append(rb.regions, AnimatedRegion{
				ModelID:     m.ID,
				EntityIdx:   e,
				SrcOffset:   src,
				DstOffset:   dst,
				VertexCount: count,
			})
			dst += count
		}
		src += count
	}

	var err error
	if rb.AnimBindPose, err = allocateWith(rb.backend, rb.queue, metadata.BufferKindShaderStorage, float32Bytes(vertices)); err != nil {
		return err
	}
	if rb.AnimWeights, err = allocateWith(rb.backend, rb.queue, metadata.BufferKindShaderStorage, weights); err != nil {
		return err
	}
	// every region starts in bind pose so animated models still draw when
	// the Animation stage is disabled
	dest := make([]float32, 0, int(dst)*floatsPerVertex)
	for _, r := range rb.regions {
		dest = append(dest, vertices[r.SrcOffset*floatsPerVertex:(r.SrcOffset+r.VertexCount)*floatsPerVertex]...)
	}
	if rb.AnimDest, err = allocateWith(rb.backend, rb.queue, metadata.BufferKindVertex, float32Bytes(dest)); err != nil {
		return err
	}
	if rb.AnimIndices, err = allocateWith(rb.backend, rb.queue, metadata.BufferKindIndex, uint32Bytes(indices)); err != nil {
		return err
	}
	return nil
}

// packWeights interleaves four weights and four bone indices per vertex.
// Missing data is zero filled so every vertex keeps its bind pose.
func packWeights(m *scene.Model, vertexCount int) []byte {
	weights := make([]float32, vertexCount*4)
	bones := make([]uint32, vertexCount*4)
	if m.Animation != nil {
		copy(weights, m.Animation.Weights)
		copy(bones, m.Animation.BoneIndices)
	}
	out := make([]byte, 0, vertexCount*weightRecordSize)
	for v := 0; v < vertexCount; v++ {
		out = append(out, float32Bytes(weights[v*4:v*4+4])...)
		out = append(out, uint32Bytes(bones[v*4:v*4+4])...)
	}
	return out
}

func (rb *RenderBuffers) Static() []ModelDrawData {
	return rb.static
}

func (rb *RenderBuffers) Animated() []ModelDrawData {
	return rb.animated
}

// Regions returns the animated entity regions in model-then-entity order.
func (rb *RenderBuffers) Regions() []AnimatedRegion {
	return rb.regions
}

// Generation increases every time the buffers are rebuilt.
func (rb *RenderBuffers) Generation() int {
	return rb.generation
}

func (rb *RenderBuffers) Loaded() bool {
	return rb.loaded
}

// Cleanup queues every buffer for deletion.
func (rb *RenderBuffers) Cleanup() {
	for _, o := range []*resources.Owned[metadata.Buffer]{
		rb.StaticVertices, rb.StaticIndices,
		rb.AnimBindPose, rb.AnimWeights, rb.AnimDest, rb.AnimIndices,
	} {
		o.Release()
	}
	rb.StaticVertices, rb.StaticIndices = nil, nil
	rb.AnimBindPose, rb.AnimWeights, rb.AnimDest, rb.AnimIndices = nil, nil, nil, nil
	rb.static, rb.animated, rb.regions = nil, nil, nil
	rb.signature = ""
	rb.loaded = false
}
