package metadata

import "github.com/go-gl/mathgl/mgl32"

/** @brief Shader pipeline stages. */
type ShaderStage int

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageFragment
	ShaderStageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	default:
		return "unknown"
	}
}

/** @brief Source code for every stage of a shader program. */
type ShaderSource struct {
	Name    string
	Sources map[ShaderStage]string
}

/**
 * @brief The primitive operations the stages call through. Implementations
 * are not safe for concurrent use: every method must be called from the
 * render goroutine.
 */
type Backend interface {
	Name() string

	CreateBuffer(kind BufferKind, size uint64) (Buffer, error)
	UploadBuffer(buffer Buffer, offset uint64, data []byte) error
	BindBuffer(buffer Buffer, binding uint32)
	DeleteBuffer(buffer Buffer)

	CreateTexture(desc TextureDesc, pixels []byte) (Texture, error)
	BindTexture(texture Texture, slot uint32)
	DeleteTexture(texture Texture)

	CreateFramebuffer(spec FramebufferSpec) (Framebuffer, error)
	// BindFramebuffer binds fb for drawing. The zero Framebuffer is the
	// presentable surface.
	BindFramebuffer(fb Framebuffer)
	// BindFramebufferLayer binds a single layer of a layered framebuffer.
	BindFramebufferLayer(fb Framebuffer, layer uint32)
	DeleteFramebuffer(fb Framebuffer)

	CreateShader(source ShaderSource) (Shader, error)
	UseShader(shader Shader)
	// SetUniform accepts float32, int32, uint32, bool, mgl32.Vec2, mgl32.Vec3,
	// mgl32.Vec4, mgl32.Mat4, []mgl32.Mat4 and []float32.
	SetUniform(shader Shader, name string, value interface{}) error
	DeleteShader(shader Shader)

	SetViewport(rect Rect)
	SetScissor(enabled bool, rect Rect)
	SetBlend(enabled bool)
	SetDepthTest(enabled bool)
	SetDepthWrite(enabled bool)
	SetCullFace(mode FaceCullMode)
	SetWireframe(enabled bool)
	Clear(flags ClearFlag, colour mgl32.Vec4)

	DrawIndirect(batch IndirectBatch)
	DrawIndexed(draw IndexedDraw)
	DrawArrays(vertices Buffer, layout VertexLayout, first, count uint32)
	DispatchCompute(x, y, z uint32)
	// Barrier makes shader storage writes of previous dispatches visible to
	// subsequent draws.
	Barrier()
}

/** @brief The window or offscreen surface frames are presented to. */
type Surface interface {
	// Size returns the current drawable size in pixels.
	Size() (width, height uint32)
	// Target returns the presentable framebuffer.
	Target() Framebuffer
}
