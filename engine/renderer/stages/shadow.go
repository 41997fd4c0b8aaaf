package stages

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/renderer/buffers"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
)

/**
 * @brief ShadowStage recomputes the cascades and renders scene depth into
 * one layer of the shadow map per cascade. The cascade matrix is the only
 * per-cascade uniform.
 */
type ShadowStage struct {
	ctx     *Context
	program program
}

func (s *ShadowStage) Kind() pipeline.StageKind {
	return pipeline.StageShadow
}

func (s *ShadowStage) Programs() []string {
	return []string{"shadow"}
}

func (s *ShadowStage) Initialize(ctx *Context) error {
	s.ctx = ctx
	s.program = program{name: "shadow"}
	return s.program.load(ctx)
}

func (s *ShadowStage) Render(frame *Frame) error {
	be := s.ctx.Backend
	res := s.ctx.Resources

	direction := mgl32.Vec3{0, 1, 0}
	if frame.Scene.Lights != nil {
		direction = frame.Scene.Lights.Directional.Direction
	}
	res.Cascades.Update(frame.Scene.Camera, direction, frame.Scene.Bounds)

	batches := []*buffers.DrawBatch{res.Commands.Static}
	if frame.Config.HasAnimationStage() {
		batches = append(batches, res.Commands.Animated)
	}

	shader := s.program.get()
	be.UseShader(shader)
	be.SetViewport(metadata.Rect{Width: res.ShadowMap.Width, Height: res.ShadowMap.Height})
	be.SetBlend(false)
	be.SetDepthTest(true)
	be.SetDepthWrite(true)
	be.SetCullFace(metadata.FaceCullModeFront)
	for i, cascade := range res.Cascades.Cascades {
		be.BindFramebufferLayer(res.ShadowMap, uint32(i))
		be.Clear(metadata.ClearDepth, mgl32.Vec4{})
		set(be, shader, "projViewMatrix", cascade.ProjView)
		for _, batch := range batches {
			drawBatch(be, res.RenderBuffers, batch)
			frame.Stats.ShadowDraws++
		}
	}
	be.SetCullFace(metadata.FaceCullModeBack)
	return nil
}

func (s *ShadowStage) Resize(width, height uint32) error {
	return nil
}

func (s *ShadowStage) Cleanup() {
	s.program.release()
}
