// Package stages implements the render pipeline phases. Each stage performs
// one pass over the scene, reading and writing the shared resources the
// renderer instance allocates.
package stages

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/buffers"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/renderer/shadow"
	"github.com/spaghettifunk/umbra/engine/scene"
)

// MaxTextures is the number of texture units the geometry passes bind.
const MaxTextures = 16

/**
 * @brief A single pipeline phase. Stages are created for the enabled bits
 * of the pipeline configuration and run in pipeline.Order. Render returns
 * once the pass has been submitted to the backend.
 */
type Stage interface {
	Kind() pipeline.StageKind
	// Programs returns the shader programs the stage was built from.
	Programs() []string
	Initialize(ctx *Context) error
	Render(frame *Frame) error
	Resize(width, height uint32) error
	Cleanup()
}

// Resources are shared between stages. Framebuffers are owned by the
// renderer instance; stages only read or write them.
type Resources struct {
	GBuffer    metadata.Framebuffer
	ShadowMap  metadata.Framebuffer
	SceneColor metadata.Framebuffer
	// Quad is a full screen quad in VertexLayoutQuad, six vertices.
	Quad metadata.Buffer

	RenderBuffers *buffers.RenderBuffers
	Commands      *buffers.CommandBuffer
	Materials     *buffers.MaterialCache
	Lights        *buffers.LightBuffers
	Cascades      *shadow.CascadeShadow
	Textures      *resources.TextureLoader
}

// Prepare brings the material, geometry and batch buffers up to date with
// the scene. It runs once per frame before the first stage.
func (r *Resources) Prepare(s *scene.Scene, stats *FrameStats) error {
	dropped, err := r.Materials.Update(s.Materials)
	if err != nil {
		return err
	}
	if dropped > 0 {
		stats.CapacityWarnings++
	}
	if _, err := r.RenderBuffers.Load(s); err != nil {
		return err
	}
	if _, err := r.Commands.Update(s, r.RenderBuffers, r.Materials); err != nil {
		return err
	}
	return nil
}

type Settings struct {
	ShadowMapSize uint32
	// ShadowDistance caps the shadowed range. 0 shadows up to the far plane.
	ShadowDistance float32
	Exposure       float32
	Gamma          float32
	ClearColor     mgl32.Vec4
}

func DefaultSettings() Settings {
	return Settings{
		ShadowMapSize: shadow.DefaultMapSize,
		Exposure:      1,
		Gamma:         2.2,
		ClearColor:    mgl32.Vec4{0, 0, 0, 1},
	}
}

type Context struct {
	Backend   metadata.Backend
	Queue     *resources.DeletionQueue
	Shaders   *ShaderLibrary
	Resources *Resources
	Surface   metadata.Surface
	Gui       metadata.GuiProvider
	Settings  Settings
}

// ColorTarget is where lighting resolves to: the scene colour framebuffer
// when a Filter pass follows, the surface otherwise.
func (c *Context) ColorTarget(config pipeline.Config) metadata.Framebuffer {
	if config.HasFilterStage() {
		return c.Resources.SceneColor
	}
	return c.Surface.Target()
}

func (c *Context) targetRect(fb metadata.Framebuffer) metadata.Rect {
	if fb.IsDefault() {
		w, h := c.Surface.Size()
		return metadata.Rect{Width: w, Height: h}
	}
	return metadata.Rect{Width: fb.Width, Height: fb.Height}
}

type BatchStats struct {
	Name     string
	Entities uint32
	Draws    uint32
}

// FrameStats is filled in by the stages while a frame renders.
type FrameStats struct {
	Number uint64
	Stages []pipeline.StageKind
	// Batches are the indirect batches of the geometry pass.
	Batches            []BatchStats
	ShadowDraws        int
	TransparentBatches int
	Dispatches         int
	PointLights        int
	SpotLights         int
	GuiDraws           int
	CapacityWarnings   int
	// Failures are the stages whose Render failed this frame.
	Failures  []StageFailure
	Deleted   int
	FrameTime time.Duration
}

type StageFailure struct {
	Kind pipeline.StageKind
	Err  error
}

// LightsUploaded returns the number of light records uploaded this frame.
func (s *FrameStats) LightsUploaded() int {
	return s.PointLights + s.SpotLights
}

type Frame struct {
	Scene  *scene.Scene
	Config pipeline.Config
	Number uint64
	Stats  *FrameStats
}

// New creates the stage for kind.
func New(kind pipeline.StageKind) (Stage, error) {
	switch kind {
	case pipeline.StageAnimation:
		return &AnimationStage{}, nil
	case pipeline.StageShadow:
		return &ShadowStage{}, nil
	case pipeline.StageScene:
		return &SceneStage{}, nil
	case pipeline.StageLight:
		return &LightStage{}, nil
	case pipeline.StageSkybox:
		return &SkyboxStage{}, nil
	case pipeline.StageFilter:
		return &FilterStage{}, nil
	case pipeline.StageGui:
		return &GuiStage{}, nil
	default:
		return nil, fmt.Errorf("no stage for %s: %w", kind, core.ErrConfiguration)
	}
}

// program is a shader owned by a stage.
type program struct {
	name   string
	shader *resources.Owned[metadata.Shader]
}

func (p *program) load(ctx *Context) error {
	src, err := ctx.Shaders.Program(p.name)
	if err != nil {
		return fmt.Errorf("load %s program: %w: %w", p.name, core.ErrResourceCreation, err)
	}
	shader, err := ctx.Backend.CreateShader(src)
	if err != nil {
		return fmt.Errorf("create %s program: %w: %w", p.name, core.ErrResourceCreation, err)
	}
	p.shader = resources.Own(ctx.Queue, shader)
	return nil
}

func (p *program) get() metadata.Shader {
	if p.shader == nil {
		return metadata.Shader{}
	}
	return p.shader.Get()
}

func (p *program) release() {
	p.shader.Release()
	p.shader = nil
}

// set applies a uniform and logs failures. A missing uniform is not fatal.
func set(backend metadata.Backend, shader metadata.Shader, name string, value interface{}) {
	if err := backend.SetUniform(shader, name, value); err != nil {
		core.LogDebug("uniform %s on %s: %s", name, shader, err.Error())
	}
}

func drawBatch(backend metadata.Backend, rb *buffers.RenderBuffers, batch *buffers.DrawBatch) {
	batch.Bind(backend)
	backend.DrawIndirect(batch.Indirect(rb))
}

// bindSceneTextures binds the scene texture table to units 0..MaxTextures-1
// with the fallback texture in every unused unit.
func bindSceneTextures(ctx *Context, s *scene.Scene) error {
	fallback, err := ctx.Resources.Textures.Fallback()
	if err != nil {
		return err
	}
	for i := 0; i < MaxTextures; i++ {
		tex := fallback
		if i > 0 && i < len(s.Textures) && s.Textures[i].IsValid() {
			tex = s.Textures[i]
		}
		ctx.Backend.BindTexture(tex, uint32(i))
	}
	return nil
}

func setSamplerUnits(backend metadata.Backend, shader metadata.Shader, name string) {
	for i := 0; i < MaxTextures; i++ {
		set(backend, shader, fmt.Sprintf("%s[%d]", name, i), int32(i))
	}
}
