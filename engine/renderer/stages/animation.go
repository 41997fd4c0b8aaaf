package stages

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/buffers"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
)

const animationGroupSize = 64

/**
 * @brief AnimationStage skins every animated entity on the device. Each
 * entity is written to its own region of the destination buffer, regions
 * being laid out model after model, so dispatches never overlap.
 */
type AnimationStage struct {
	ctx     *Context
	program program

	bones    *resources.Owned[metadata.Buffer]
	capacity uint64
}

func (s *AnimationStage) Kind() pipeline.StageKind {
	return pipeline.StageAnimation
}

func (s *AnimationStage) Programs() []string {
	return []string{"animation"}
}

func (s *AnimationStage) Initialize(ctx *Context) error {
	s.ctx = ctx
	s.program = program{name: "animation"}
	return s.program.load(ctx)
}

func (s *AnimationStage) Render(frame *Frame) error {
	be := s.ctx.Backend
	rb := s.ctx.Resources.RenderBuffers
	regions := rb.Regions()
	if len(regions) == 0 {
		return nil
	}

	type dispatch struct {
		region     buffers.AnimatedRegion
		boneOffset uint32
	}
	dispatches := make([]dispatch, 0, len(regions))
	bones := []mgl32.Mat4{}
	for _, r := range regions {
		model, ok := frame.Scene.Models[r.ModelID]
		if !ok || model.Animation == nil || len(model.Animation.Frames) == 0 || r.EntityIdx >= len(model.Entities) {
			continue
		}
		frames := model.Animation.Frames
		current := model.Entities[r.EntityIdx].AnimationFrame % len(frames)
		if current < 0 {
			current += len(frames)
		}
		dispatches = append(dispatches, dispatch{region: r, boneOffset: uint32(len(bones))})
		bones = append(bones, frames[current]...)
	}
	if len(dispatches) == 0 {
		return nil
	}

	data := make([]byte, len(bones)*metadata.MatrixSize)
	for i, m := range bones {
		metadata.PutMatrix(data[i*metadata.MatrixSize:], [16]float32(m))
	}
	if err := s.reserve(uint64(len(data))); err != nil {
		return err
	}
	if err := be.UploadBuffer(s.bones.Get(), 0, data); err != nil {
		core.LogError("animation stage: failed to upload bone matrices: %s", err.Error())
		return err
	}

	shader := s.program.get()
	be.UseShader(shader)
	be.BindBuffer(s.bones.Get(), buffers.BindingBoneMatrices)
	be.BindBuffer(rb.AnimBindPose.Get(), buffers.BindingAnimSource)
	be.BindBuffer(rb.AnimWeights.Get(), buffers.BindingAnimWeights)
	be.BindBuffer(rb.AnimDest.Get(), buffers.BindingAnimDest)
	for _, d := range dispatches {
		set(be, shader, "srcOffset", d.region.SrcOffset)
		set(be, shader, "dstOffset", d.region.DstOffset)
		set(be, shader, "vertexCount", d.region.VertexCount)
		set(be, shader, "boneOffset", d.boneOffset)
		groups := (d.region.VertexCount + animationGroupSize - 1) / animationGroupSize
		be.DispatchCompute(groups, 1, 1)
		frame.Stats.Dispatches++
	}
	be.Barrier()
	return nil
}

// reserve grows the bone buffer to hold size bytes. The old buffer goes
// through the deletion queue since the previous frame may still use it.
func (s *AnimationStage) reserve(size uint64) error {
	if s.bones != nil && size <= s.capacity {
		return nil
	}
	capacity := max(size, s.capacity*2, uint64(metadata.MatrixSize*64))
	buf, err := s.ctx.Backend.CreateBuffer(metadata.BufferKindShaderStorage, capacity)
	if err != nil {
		core.LogError("animation stage: failed to grow bone buffer: %s", err.Error())
		return err
	}
	if s.bones == nil {
		s.bones = resources.Own(s.ctx.Queue, buf)
	} else {
		s.bones = s.bones.Replace(buf)
	}
	s.capacity = capacity
	return nil
}

func (s *AnimationStage) Resize(width, height uint32) error {
	return nil
}

func (s *AnimationStage) Cleanup() {
	s.program.release()
	s.bones.Release()
	s.bones = nil
	s.capacity = 0
}
