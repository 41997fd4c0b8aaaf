package stages

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
)

// FilterStage tone maps the resolved scene colour onto the surface.
type FilterStage struct {
	ctx     *Context
	program program
}

func (s *FilterStage) Kind() pipeline.StageKind {
	return pipeline.StageFilter
}

func (s *FilterStage) Programs() []string {
	return []string{"filter"}
}

func (s *FilterStage) Initialize(ctx *Context) error {
	s.ctx = ctx
	s.program = program{name: "filter"}
	if err := s.program.load(ctx); err != nil {
		return err
	}
	set(ctx.Backend, s.program.get(), "sceneSampler", int32(0))
	return nil
}

func (s *FilterStage) Render(frame *Frame) error {
	be := s.ctx.Backend
	res := s.ctx.Resources

	color, err := res.SceneColor.Texture(0)
	if err != nil {
		err = fmt.Errorf("filter stage: %w: %w", core.ErrConfiguration, err)
		core.LogError(err.Error())
		return err
	}

	target := s.ctx.Surface.Target()
	be.BindFramebuffer(target)
	be.SetViewport(s.ctx.targetRect(target))
	be.SetBlend(false)
	be.SetDepthTest(false)
	be.SetDepthWrite(false)

	shader := s.program.get()
	be.UseShader(shader)
	set(be, shader, "exposure", s.ctx.Settings.Exposure)
	set(be, shader, "gamma", s.ctx.Settings.Gamma)
	be.BindTexture(color, 0)
	be.DrawArrays(res.Quad, metadata.VertexLayoutQuad, 0, 6)

	be.SetDepthTest(true)
	be.SetDepthWrite(true)
	return nil
}

func (s *FilterStage) Resize(width, height uint32) error {
	return nil
}

func (s *FilterStage) Cleanup() {
	s.program.release()
}
