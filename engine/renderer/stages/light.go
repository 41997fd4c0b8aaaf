package stages

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/buffers"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/shadow"
)

const shadowUnit = metadata.GBufferTextureCount

var gbufferSamplers = [metadata.GBufferTextureCount]string{
	metadata.GBufferAlbedo:   "albedoSampler",
	metadata.GBufferNormal:   "normalSampler",
	metadata.GBufferSpecular: "specularSampler",
	metadata.GBufferDepth:    "depthSampler",
}

/**
 * @brief LightStage resolves the g-buffer into the colour target with one
 * full screen quad. It uploads the frame's lights, samples the g-buffer by
 * slot and picks a shadow cascade per fragment. When the transparency pass
 * is enabled it then draws the transparent materials forward, blended over
 * the resolved image.
 */
type LightStage struct {
	ctx         *Context
	program     program
	transparent program
}

func (s *LightStage) Kind() pipeline.StageKind {
	return pipeline.StageLight
}

func (s *LightStage) Programs() []string {
	return []string{"light", "transparent"}
}

func (s *LightStage) Initialize(ctx *Context) error {
	s.ctx = ctx
	s.program = program{name: "light"}
	if err := s.program.load(ctx); err != nil {
		return err
	}
	s.transparent = program{name: "transparent"}
	if err := s.transparent.load(ctx); err != nil {
		s.program.release()
		return err
	}
	shader := s.program.get()
	for slot, name := range gbufferSamplers {
		set(ctx.Backend, shader, name, int32(slot))
	}
	set(ctx.Backend, shader, "shadowSampler", int32(shadowUnit))
	setSamplerUnits(ctx.Backend, s.transparent.get(), "txtSampler")
	return nil
}

func (s *LightStage) Render(frame *Frame) error {
	be := s.ctx.Backend
	res := s.ctx.Resources
	camera := frame.Scene.Camera

	stats, err := res.Lights.Update(frame.Scene.Lights, frame.Scene.Fog, camera.View())
	if err != nil {
		core.LogError("light stage: %s", err.Error())
		return err
	}
	frame.Stats.PointLights += stats.Points
	frame.Stats.SpotLights += stats.Spots
	if stats.Dropped > 0 {
		frame.Stats.CapacityWarnings++
	}

	target := s.ctx.ColorTarget(frame.Config)
	be.BindFramebuffer(target)
	be.SetViewport(s.ctx.targetRect(target))
	be.SetBlend(false)
	be.SetDepthTest(true)
	be.SetDepthWrite(true)
	be.SetCullFace(metadata.FaceCullModeNone)

	shader := s.program.get()
	be.UseShader(shader)
	for slot := range gbufferSamplers {
		tex, err := res.GBuffer.Texture(slot)
		if err != nil {
			err = fmt.Errorf("light stage: %w: %w", core.ErrConfiguration, err)
			core.LogError(err.Error())
			return err
		}
		be.BindTexture(tex, uint32(slot))
	}
	shadows := frame.Config.HasShadowStage() && len(res.ShadowMap.Textures) > 0
	if shadows {
		be.BindTexture(res.ShadowMap.Textures[0], shadowUnit)
	}
	res.Lights.Bind()
	res.Materials.Bind()

	set(be, shader, "shadowsEnabled", shadows)
	set(be, shader, "invProjectionMatrix", camera.InverseProjection())
	set(be, shader, "invViewMatrix", camera.InverseView())
	for i := 0; i < shadow.CascadeCount; i++ {
		set(be, shader, fmt.Sprintf("cascadeProjView[%d]", i), res.Cascades.Cascades[i].ProjView)
		set(be, shader, fmt.Sprintf("cascadeSplits[%d]", i), res.Cascades.Cascades[i].SplitDistance)
	}
	be.DrawArrays(res.Quad, metadata.VertexLayoutQuad, 0, 6)
	be.SetCullFace(metadata.FaceCullModeBack)

	if frame.Config.HasTransparencyPass() {
		return s.renderTransparent(frame)
	}
	return nil
}

// renderTransparent draws both batches again with blending on and depth
// writes off. The shader discards opaque materials.
func (s *LightStage) renderTransparent(frame *Frame) error {
	be := s.ctx.Backend
	res := s.ctx.Resources
	camera := frame.Scene.Camera

	be.SetBlend(true)
	be.SetDepthWrite(false)
	shader := s.transparent.get()
	be.UseShader(shader)
	set(be, shader, "projectionMatrix", camera.Projection())
	set(be, shader, "viewMatrix", camera.View())
	if err := bindSceneTextures(s.ctx, frame.Scene); err != nil {
		core.LogError("light stage: %s", err.Error())
		return err
	}
	for _, batch := range []*buffers.DrawBatch{res.Commands.Static, res.Commands.Animated} {
		drawBatch(be, res.RenderBuffers, batch)
		frame.Stats.TransparentBatches++
	}
	be.SetDepthWrite(true)
	be.SetBlend(false)
	return nil
}

func (s *LightStage) Resize(width, height uint32) error {
	return nil
}

func (s *LightStage) Cleanup() {
	s.program.release()
	s.transparent.release()
}
