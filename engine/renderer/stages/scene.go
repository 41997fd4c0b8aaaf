package stages

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/buffers"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
)

/**
 * @brief SceneStage fills the g-buffer. It issues exactly two indirect
 * batches, static then animated, with blending off and depth testing on.
 * Slots of the g-buffer follow metadata.GBufferAlbedo and friends.
 */
type SceneStage struct {
	ctx     *Context
	program program
}

func (s *SceneStage) Kind() pipeline.StageKind {
	return pipeline.StageScene
}

func (s *SceneStage) Programs() []string {
	return []string{"scene"}
}

func (s *SceneStage) Initialize(ctx *Context) error {
	s.ctx = ctx
	s.program = program{name: "scene"}
	if err := s.program.load(ctx); err != nil {
		return err
	}
	setSamplerUnits(ctx.Backend, s.program.get(), "txtSampler")
	return nil
}

func (s *SceneStage) Render(frame *Frame) error {
	be := s.ctx.Backend
	res := s.ctx.Resources
	camera := frame.Scene.Camera

	be.BindFramebuffer(res.GBuffer)
	be.SetViewport(s.ctx.targetRect(res.GBuffer))
	be.SetBlend(false)
	be.SetDepthTest(true)
	be.SetDepthWrite(true)
	be.SetCullFace(metadata.FaceCullModeBack)
	be.Clear(metadata.ClearColour|metadata.ClearDepth, mgl32.Vec4{})
	be.SetWireframe(frame.Config.SceneIsWireframe())

	shader := s.program.get()
	be.UseShader(shader)
	set(be, shader, "projectionMatrix", camera.Projection())
	set(be, shader, "viewMatrix", camera.View())
	set(be, shader, "skipTransparent", frame.Config.HasTransparencyPass())
	if err := bindSceneTextures(s.ctx, frame.Scene); err != nil {
		core.LogError("scene stage: %s", err.Error())
		be.SetWireframe(false)
		return err
	}
	res.Materials.Bind()

	for _, b := range []struct {
		name  string
		batch *buffers.DrawBatch
	}{
		{"static", res.Commands.Static},
		{"animated", res.Commands.Animated},
	} {
		drawBatch(be, res.RenderBuffers, b.batch)
		frame.Stats.Batches = append(frame.Stats.Batches, BatchStats{
			Name:     b.name,
			Entities: b.batch.EntityCount(),
			Draws:    b.batch.DrawCount(),
		})
	}
	be.SetWireframe(false)
	return nil
}

func (s *SceneStage) Resize(width, height uint32) error {
	return nil
}

func (s *SceneStage) Cleanup() {
	s.program.release()
}
