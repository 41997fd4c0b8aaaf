package buffers

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/scene"
)

/**
 * @brief DrawBatch is one indirect draw batch: the draw commands, one
 * DrawElement per drawn instance and the model matrices of every entity.
 * Matrices are contiguous per model in model-then-entity order, the same
 * model order the geometry was packed in.
 */
type DrawBatch struct {
	Animated bool

	Commands      *resources.Owned[metadata.Buffer]
	Elements      *resources.Owned[metadata.Buffer]
	ModelMatrices *resources.Owned[metadata.Buffer]

	commands []metadata.DrawCommand
	entities []*scene.Entity
}

func (b *DrawBatch) EntityCount() uint32 {
	return uint32(len(b.entities))
}

func (b *DrawBatch) DrawCount() uint32 {
	return uint32(len(b.commands))
}

// DrawCommands returns the host copy of the uploaded commands.
func (b *DrawBatch) DrawCommands() []metadata.DrawCommand {
	return b.commands
}

// Matrices returns the model matrices in upload order.
func (b *DrawBatch) Matrices() []mgl32.Mat4 {
	out := make([]mgl32.Mat4, len(b.entities))
	for i, e := range b.entities {
		out[i] = e.ModelMatrix
	}
	return out
}

// Indirect describes the batch for Backend.DrawIndirect.
func (b *DrawBatch) Indirect(rb *RenderBuffers) metadata.IndirectBatch {
	batch := metadata.IndirectBatch{
		Layout:    metadata.VertexLayoutMesh,
		DrawCount: b.DrawCount(),
		Stride:    metadata.DrawCommandSize,
	}
	if b.Commands != nil {
		batch.Commands = b.Commands.Get()
	}
	if b.Animated {
		if rb.AnimDest != nil {
			batch.Vertices = rb.AnimDest.Get()
			batch.Indices = rb.AnimIndices.Get()
		}
	} else if rb.StaticVertices != nil {
		batch.Vertices = rb.StaticVertices.Get()
		batch.Indices = rb.StaticIndices.Get()
	}
	return batch
}

// Bind binds the element and matrix buffers to their storage bindings.
func (b *DrawBatch) Bind(backend metadata.Backend) {
	if b.Elements == nil {
		return
	}
	backend.BindBuffer(b.ModelMatrices.Get(), BindingModelMatrices)
	backend.BindBuffer(b.Elements.Get(), BindingDrawElements)
}

func (b *DrawBatch) release() {
	b.Commands.Release()
	b.Elements.Release()
	b.ModelMatrices.Release()
	b.Commands, b.Elements, b.ModelMatrices = nil, nil, nil
	b.commands = nil
	b.entities = nil
}

/**
 * @brief CommandBuffer maintains the static and the animated batch. A batch
 * is never patched: when the model or entity set changes it is rebuilt by
 * releasing its buffers and allocating new ones. Between rebuilds only the
 * model matrices are re-uploaded.
 */
type CommandBuffer struct {
	backend metadata.Backend
	queue   *resources.DeletionQueue

	Static   *DrawBatch
	Animated *DrawBatch

	signature string
	built     bool
}

func NewCommandBuffer(backend metadata.Backend, queue *resources.DeletionQueue) *CommandBuffer {
	return &CommandBuffer{
		backend:  backend,
		queue:    queue,
		Static:   &DrawBatch{},
		Animated: &DrawBatch{Animated: true},
	}
}

func entitySignature(s *scene.Scene, rb *RenderBuffers, materials *MaterialCache) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "g%d:m%d;", rb.Generation(), materials.Count())
	for _, id := range s.SortedModelIDs() {
		m := s.Models[id]
		fmt.Fprintf(&sb, "%s:%d:%d", id, len(m.Meshes), len(m.Entities))
		for _, e := range m.Entities {
			sb.WriteByte(',')
			sb.WriteString(e.ID)
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

// staticEntities lists the entities of the static batch in matrix order.
func staticEntities(s *scene.Scene, models []ModelDrawData) []*scene.Entity {
	entities := []*scene.Entity{}
	for _, md := range models {
		entities = append(entities, s.Models[md.ModelID].Entities...)
	}
	return entities
}

// animatedEntities lists one entity per skinning region.
func animatedEntities(s *scene.Scene, rb *RenderBuffers) []*scene.Entity {
	regions := rb.Regions()
	entities := make([]*scene.Entity, 0, len(regions))
	for _, region := range regions {
		entities = append(entities, s.Models[region.ModelID].Entities[region.EntityIdx])
	}
	return entities
}

// Update rebuilds both batches when the model or entity set changed and
// otherwise re-uploads the model matrices read from the scene. It reports
// whether a rebuild happened.
func (cb *CommandBuffer) Update(s *scene.Scene, rb *RenderBuffers, materials *MaterialCache) (bool, error) {
	sig := entitySignature(s, rb, materials)
	if cb.built && sig == cb.signature {
		cb.Static.entities = staticEntities(s, rb.Static())
		cb.Animated.entities = animatedEntities(s, rb)
		return false, cb.uploadMatrices()
	}
	if err := cb.Rebuild(s, rb, materials); err != nil {
		return false, err
	}
	cb.signature = sig
	return true, nil
}

// Rebuild releases both batches and builds them again from the scene.
func (cb *CommandBuffer) Rebuild(s *scene.Scene, rb *RenderBuffers, materials *MaterialCache) error {
	cb.Cleanup()

	if err := cb.buildStatic(s, rb.Static(), materials); err != nil {
		core.LogError("failed to build the static batch: %s", err.Error())
		cb.Cleanup()
		return err
	}
	if err := cb.buildAnimated(s, rb, materials); err != nil {
		core.LogError("failed to build the animated batch: %s", err.Error())
		cb.Cleanup()
		return err
	}
	cb.built = true
	core.LogDebug("command buffer: static %d entities/%d draws, animated %d entities/%d draws",
		cb.Static.EntityCount(), cb.Static.DrawCount(), cb.Animated.EntityCount(), cb.Animated.DrawCount())
	return nil
}

// buildStatic emits one instanced command per mesh. Instances of a command
// are the entities of its model.
func (cb *CommandBuffer) buildStatic(s *scene.Scene, models []ModelDrawData, materials *MaterialCache) error {
	batch := cb.Static
	elements := []metadata.DrawElement{}
	batch.entities = staticEntities(s, models)
	matrixBase := uint32(0)
	for _, md := range models {
		model := s.Models[md.ModelID]
		entityCount := uint32(len(model.Entities))
		if entityCount == 0 {
			continue
		}
		for _, mesh := range md.Meshes {
			batch.commands = append(batch.commands, metadata.DrawCommand{
				Count:         mesh.IndexCount,
				InstanceCount: entityCount,
				FirstIndex:    mesh.IndexOffset,
				BaseVertex:    int32(mesh.VertexOffset),
				BaseInstance:  uint32(len(elements)),
			})
			for e := uint32(0); e < entityCount; e++ {
				elements = append(elements, metadata.DrawElement{
					ModelMatrixIdx: matrixBase + e,
					MaterialIdx:    materials.Slot(mesh.MaterialIdx),
				})
			}
		}
		matrixBase += entityCount
	}
	return cb.allocate(batch, elements)
}

// buildAnimated emits one command per mesh and entity since every entity
// is skinned into its own destination region.
func (cb *CommandBuffer) buildAnimated(s *scene.Scene, rb *RenderBuffers, materials *MaterialCache) error {
	batch := cb.Animated
	elements := []metadata.DrawElement{}
	models := make(map[string]ModelDrawData, len(rb.Animated()))
	for _, md := range rb.Animated() {
		models[md.ModelID] = md
	}
	batch.entities = animatedEntities(s, rb)
	for i, region := range rb.Regions() {
		md := models[region.ModelID]
		// mesh offsets are relative to the bind pose, rebase them on the region
		for _, mesh := range md.Meshes {
			vertexInModel := mesh.VertexOffset - region.SrcOffset
			batch.commands = append(batch.commands, metadata.DrawCommand{
				Count:         mesh.IndexCount,
				InstanceCount: 1,
				FirstIndex:    mesh.IndexOffset,
				BaseVertex:    int32(region.DstOffset + vertexInModel),
				BaseInstance:  uint32(len(elements)),
			})
			elements = append(elements, metadata.DrawElement{
				ModelMatrixIdx: uint32(i),
				MaterialIdx:    materials.Slot(mesh.MaterialIdx),
			})
		}
	}
	return cb.allocate(batch, elements)
}

func (cb *CommandBuffer) allocate(batch *DrawBatch, elements []metadata.DrawElement) error {
	commandData := make([]byte, len(batch.commands)*metadata.DrawCommandSize)
	for i := range batch.commands {
		batch.commands[i].MarshalTo(commandData[i*metadata.DrawCommandSize:])
	}
	elementData := make([]byte, len(elements)*metadata.DrawElementSize)
	for i := range elements {
		elements[i].MarshalTo(elementData[i*metadata.DrawElementSize:])
	}

	var err error
	if batch.Commands, err = allocateWith(cb.backend, cb.queue, metadata.BufferKindIndirect, commandData); err != nil {
		return err
	}
	if batch.Elements, err = allocateWith(cb.backend, cb.queue, metadata.BufferKindShaderStorage, elementData); err != nil {
		return err
	}
	if batch.ModelMatrices, err = allocateWith(cb.backend, cb.queue, metadata.BufferKindShaderStorage, matrixBytes(batch.Matrices())); err != nil {
		return err
	}
	return nil
}

func (cb *CommandBuffer) uploadMatrices() error {
	for _, batch := range []*DrawBatch{cb.Static, cb.Animated} {
		if len(batch.entities) == 0 {
			continue
		}
		if err := cb.backend.UploadBuffer(batch.ModelMatrices.Get(), 0, matrixBytes(batch.Matrices())); err != nil {
			core.LogError("failed to upload model matrices: %s", err.Error())
			return err
		}
	}
	return nil
}

// Cleanup queues both batches for deletion.
func (cb *CommandBuffer) Cleanup() {
	cb.Static.release()
	cb.Animated.release()
	cb.signature = ""
	cb.built = false
}
