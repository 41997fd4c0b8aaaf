package metadata

import (
	"fmt"
)

/** @brief The kinds of device resources the renderer can release. */
type ResourceType int

const (
	ResourceTypeUnknown ResourceType = iota
	ResourceTypeBuffer
	ResourceTypeTexture
	ResourceTypeFramebuffer
	ResourceTypeShader
)

func (rt ResourceType) String() string {
	switch rt {
	case ResourceTypeBuffer:
		return "buffer"
	case ResourceTypeTexture:
		return "texture"
	case ResourceTypeFramebuffer:
		return "framebuffer"
	case ResourceTypeShader:
		return "shader"
	default:
		return fmt.Sprintf("unknown(%d)", int(rt))
	}
}

// Valid reports whether rt names one of the releasable resource kinds.
func (rt ResourceType) Valid() bool {
	return rt >= ResourceTypeBuffer && rt <= ResourceTypeShader
}

/** @brief What a device buffer is used for. */
type BufferKind int

const (
	BufferKindUnknown BufferKind = iota
	/** @brief Element indices. */
	BufferKindIndex
	/** @brief Shader storage (std430) data. */
	BufferKindShaderStorage
	/** @brief Uniform (std140) data. */
	BufferKindUniform
	/** @brief Interleaved vertex data. */
	BufferKindVertex
	/** @brief Indirect draw commands. */
	BufferKindIndirect
)

func (k BufferKind) String() string {
	switch k {
	case BufferKindIndex:
		return "index"
	case BufferKindShaderStorage:
		return "storage"
	case BufferKindUniform:
		return "uniform"
	case BufferKindVertex:
		return "vertex"
	case BufferKindIndirect:
		return "indirect"
	default:
		return "unknown"
	}
}

/**
 * @brief Handle to a device buffer. Device buffers have no implicit
 * lifetime: the owner must queue them for deletion or reallocate them.
 */
type Buffer struct {
	ID   uint32
	Kind BufferKind
	/** @brief Size in bytes. */
	Size uint64
}

func (b Buffer) IsValid() bool {
	return b.ID != 0
}

func (b Buffer) Equal(o Buffer) bool {
	return b == o
}

func (b Buffer) String() string {
	return fmt.Sprintf("buffer#%d(%s, %dB)", b.ID, b.Kind, b.Size)
}

/** @brief Handle to a compiled shader program. */
type Shader struct {
	ID   uint32
	Name string
}

func (s Shader) IsValid() bool {
	return s.ID != 0
}

func (s Shader) Equal(o Shader) bool {
	return s == o
}

func (s Shader) String() string {
	return fmt.Sprintf("shader#%d(%s)", s.ID, s.Name)
}
