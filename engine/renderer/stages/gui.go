package stages

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
)

const guiFontAtlasName = "gui-font-atlas"

/**
 * @brief GuiStage draws what the immediate-mode GUI library produced for
 * the frame: one indexed draw per command with the command's scissor rect
 * and texture. It always runs last and draws straight to the surface.
 */
type GuiStage struct {
	ctx     *Context
	program program

	font     *resources.Owned[metadata.Texture]
	vertices *resources.Owned[metadata.Buffer]
	indices  *resources.Owned[metadata.Buffer]
}

func (s *GuiStage) Kind() pipeline.StageKind {
	return pipeline.StageGui
}

func (s *GuiStage) Programs() []string {
	return []string{"gui"}
}

func (s *GuiStage) Initialize(ctx *Context) error {
	s.ctx = ctx
	s.program = program{name: "gui"}
	if err := s.program.load(ctx); err != nil {
		return err
	}
	set(ctx.Backend, s.program.get(), "txtSampler", int32(0))

	if ctx.Gui == nil {
		core.LogWarn("gui stage: no GUI provider, nothing will be drawn")
		return nil
	}
	pixels, w, h := ctx.Gui.FontAtlas()
	if w == 0 || h == 0 {
		return nil
	}
	tex, err := ctx.Backend.CreateTexture(metadata.TextureDesc{
		Name:        guiFontAtlasName,
		TextureType: metadata.TextureType2d,
		Width:       w,
		Height:      h,
		Layers:      1,
		Format:      metadata.TextureFormatRGBA8,
		Linear:      true,
		ClampToEdge: true,
	}, pixels)
	if err != nil {
		s.program.release()
		return err
	}
	s.font = resources.Own(ctx.Queue, tex)
	return nil
}

// reserve makes sure owned holds at least size bytes, replacing it through
// the deletion queue when it is too small.
func (s *GuiStage) reserve(owned *resources.Owned[metadata.Buffer], kind metadata.BufferKind, size uint64) (*resources.Owned[metadata.Buffer], error) {
	if owned != nil && owned.Get().Size >= size {
		return owned, nil
	}
	capacity := max(size, 4096)
	if owned != nil {
		capacity = max(capacity, owned.Get().Size*2)
	}
	buf, err := s.ctx.Backend.CreateBuffer(kind, capacity)
	if err != nil {
		return owned, err
	}
	if owned == nil {
		return resources.Own(s.ctx.Queue, buf), nil
	}
	return owned.Replace(buf), nil
}

// ScissorRect converts a GUI clip rect (x1, y1, x2, y2, origin top-left)
// into a framebuffer rect with origin bottom-left.
func ScissorRect(clip [4]float32, displayHeight float32) metadata.Rect {
	width := max(clip[2]-clip[0], 0)
	height := max(clip[3]-clip[1], 0)
	return metadata.Rect{
		X:      int32(clip[0]),
		Y:      int32(displayHeight - clip[3]),
		Width:  uint32(width),
		Height: uint32(height),
	}
}

func (s *GuiStage) Render(frame *Frame) error {
	if s.ctx.Gui == nil {
		return nil
	}
	data := s.ctx.Gui.DrawData()
	if data.CommandCount() == 0 {
		return nil
	}
	be := s.ctx.Backend

	// every list goes into one vertex and one index buffer
	vertexBase := make([]uint32, len(data.Lists))
	indexBase := make([]uint32, len(data.Lists))
	var vertexBytes, indexBytes []byte
	stride := metadata.VertexLayoutGui.Stride()
	for i, list := range data.Lists {
		vertexBase[i] = uint32(len(vertexBytes)) / stride
		indexBase[i] = uint32(len(indexBytes)) / metadata.IndexTypeUint16.Size()
		vertexBytes = append(vertexBytes, list.Vertices...)
		indexBytes = append(indexBytes, list.Indices...)
	}

	var err error
	if s.vertices, err = s.reserve(s.vertices, metadata.BufferKindVertex, uint64(len(vertexBytes))); err != nil {
		core.LogError("gui stage: %s", err.Error())
		return err
	}
	if s.indices, err = s.reserve(s.indices, metadata.BufferKindIndex, uint64(len(indexBytes))); err != nil {
		core.LogError("gui stage: %s", err.Error())
		return err
	}
	if len(vertexBytes) > 0 {
		if err := be.UploadBuffer(s.vertices.Get(), 0, vertexBytes); err != nil {
			return err
		}
	}
	if len(indexBytes) > 0 {
		if err := be.UploadBuffer(s.indices.Get(), 0, indexBytes); err != nil {
			return err
		}
	}

	target := s.ctx.Surface.Target()
	be.BindFramebuffer(target)
	be.SetViewport(s.ctx.targetRect(target))
	be.SetBlend(true)
	be.SetDepthTest(false)
	be.SetCullFace(metadata.FaceCullModeNone)

	shader := s.program.get()
	be.UseShader(shader)
	set(be, shader, "projectionMatrix", mgl32.Ortho(0, data.DisplayWidth, data.DisplayHeight, 0, -1, 1))

	var font metadata.Texture
	if s.font != nil {
		font = s.font.Get()
	}
	for i, list := range data.Lists {
		for _, cmd := range list.Commands {
			be.SetScissor(true, ScissorRect(cmd.ClipRect, data.DisplayHeight))
			tex := font
			if cmd.TextureID != 0 {
				tex = metadata.Texture{ID: cmd.TextureID}
			}
			be.BindTexture(tex, 0)
			be.DrawIndexed(metadata.IndexedDraw{
				Vertices:    s.vertices.Get(),
				Indices:     s.indices.Get(),
				Layout:      metadata.VertexLayoutGui,
				IndexType:   metadata.IndexTypeUint16,
				IndexCount:  cmd.ElementCount,
				IndexOffset: indexBase[i] + cmd.IndexOffset,
				BaseVertex:  int32(vertexBase[i] + cmd.VertexOffset),
			})
			frame.Stats.GuiDraws++
		}
	}

	be.SetScissor(false, metadata.Rect{})
	be.SetBlend(false)
	be.SetDepthTest(true)
	be.SetCullFace(metadata.FaceCullModeBack)
	return nil
}

func (s *GuiStage) Resize(width, height uint32) error {
	return nil
}

func (s *GuiStage) Cleanup() {
	s.program.release()
	s.font.Release()
	s.vertices.Release()
	s.indices.Release()
	s.font, s.vertices, s.indices = nil, nil, nil
}
