package stages

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
)

// unit cube, two triangles per face
var cubeVertices = []float32{
	-1, 1, -1, -1, -1, -1, 1, -1, -1, 1, -1, -1, 1, 1, -1, -1, 1, -1,
	-1, -1, 1, -1, -1, -1, -1, 1, -1, -1, 1, -1, -1, 1, 1, -1, -1, 1,
	1, -1, -1, 1, -1, 1, 1, 1, 1, 1, 1, 1, 1, 1, -1, 1, -1, -1,
	-1, -1, 1, -1, 1, 1, 1, 1, 1, 1, 1, 1, 1, -1, 1, -1, -1, 1,
	-1, 1, -1, 1, 1, -1, 1, 1, 1, 1, 1, 1, -1, 1, 1, -1, 1, -1,
	-1, -1, -1, -1, -1, 1, 1, -1, -1, 1, -1, -1, -1, -1, 1, 1, -1, 1,
}

var defaultSkyTint = mgl32.Vec4{0.45, 0.6, 0.85, 1}

/**
 * @brief SkyboxStage draws a unit cube around the camera with the
 * translation removed from the view matrix. The sky is written at maximum
 * depth so lit geometry in front of it is never overwritten.
 */
type SkyboxStage struct {
	ctx     *Context
	program program
	cube    *resources.Owned[metadata.Buffer]
}

func (s *SkyboxStage) Kind() pipeline.StageKind {
	return pipeline.StageSkybox
}

func (s *SkyboxStage) Programs() []string {
	return []string{"skybox"}
}

func (s *SkyboxStage) Initialize(ctx *Context) error {
	s.ctx = ctx
	s.program = program{name: "skybox"}
	if err := s.program.load(ctx); err != nil {
		return err
	}
	data := make([]byte, len(cubeVertices)*4)
	for i, v := range cubeVertices {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	buf, err := ctx.Backend.CreateBuffer(metadata.BufferKindVertex, uint64(len(data)))
	if err != nil {
		s.program.release()
		return err
	}
	s.cube = resources.Own(ctx.Queue, buf)
	if err := ctx.Backend.UploadBuffer(buf, 0, data); err != nil {
		s.Cleanup()
		return err
	}
	set(ctx.Backend, s.program.get(), "skyboxSampler", int32(0))
	return nil
}

// RotationOnly returns view with its translation zeroed.
func RotationOnly(view mgl32.Mat4) mgl32.Mat4 {
	view[12], view[13], view[14] = 0, 0, 0
	return view
}

func (s *SkyboxStage) Render(frame *Frame) error {
	be := s.ctx.Backend
	camera := frame.Scene.Camera

	target := s.ctx.ColorTarget(frame.Config)
	be.BindFramebuffer(target)
	be.SetViewport(s.ctx.targetRect(target))
	be.SetBlend(false)
	be.SetDepthTest(true)
	be.SetDepthWrite(false)
	be.SetCullFace(metadata.FaceCullModeNone)

	shader := s.program.get()
	be.UseShader(shader)
	set(be, shader, "projectionMatrix", camera.Projection())
	set(be, shader, "viewMatrix", RotationOnly(camera.View()))

	tint := defaultSkyTint
	hasTexture := false
	if sky := frame.Scene.Skybox; sky != nil {
		if sky.Tint != (mgl32.Vec4{}) {
			tint = sky.Tint
		}
		if sky.Texture.IsValid() {
			if sky.Texture.TextureType != metadata.TextureTypeCube {
				core.LogWarn("skybox stage: %s is not a cube map, drawing the tint only", sky.Texture)
			} else {
				be.BindTexture(sky.Texture, 0)
				hasTexture = true
			}
		}
	}
	set(be, shader, "tint", tint)
	set(be, shader, "hasTexture", hasTexture)
	be.DrawArrays(s.cube.Get(), metadata.VertexLayoutPosition, 0, uint32(len(cubeVertices)/3))

	be.SetDepthWrite(true)
	be.SetCullFace(metadata.FaceCullModeBack)
	return nil
}

func (s *SkyboxStage) Resize(width, height uint32) error {
	return nil
}

func (s *SkyboxStage) Cleanup() {
	s.program.release()
	s.cube.Release()
	s.cube = nil
}
