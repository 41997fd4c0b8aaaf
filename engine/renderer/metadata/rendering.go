package metadata

/** @brief Determines face culling mode during rendering. */
type FaceCullMode int

const (
	/** @brief No faces are culled. */
	FaceCullModeNone FaceCullMode = 0x0
	/** @brief Only front faces are culled. */
	FaceCullModeFront FaceCullMode = 0x1
	/** @brief Only back faces are culled. */
	FaceCullModeBack FaceCullMode = 0x2
	/** @brief Both front and back faces are culled. */
	FaceCullModeFrontAndBack FaceCullMode = 0x3
)

/**
 * @brief The types of clearing to be done on a target.
 * Can be combined together for multiple clearing functions.
 */
type ClearFlag uint32

const (
	ClearNone    ClearFlag = 0x0
	ClearColour  ClearFlag = 0x1
	ClearDepth   ClearFlag = 0x2
	ClearStencil ClearFlag = 0x4
)

/** @brief A scissor or viewport rectangle in pixels, origin bottom-left. */
type Rect struct {
	X      int32
	Y      int32
	Width  uint32
	Height uint32
}

/** @brief Vertex layouts known to the backends. */
type VertexLayout int

const (
	// position3 normal3 tangent3 bitangent3 uv2
	VertexLayoutMesh VertexLayout = iota
	// position3 uv2
	VertexLayoutQuad
	// position3
	VertexLayoutPosition
	// position2 uv2 colour rgba8
	VertexLayoutGui
)

// Stride returns the size in bytes of one vertex in the layout.
func (l VertexLayout) Stride() uint32 {
	switch l {
	case VertexLayoutMesh:
		return 14 * 4
	case VertexLayoutQuad:
		return 5 * 4
	case VertexLayoutPosition:
		return 3 * 4
	case VertexLayoutGui:
		return 4*4 + 4
	default:
		return 0
	}
}

/** @brief Size in bytes of an index element. */
type IndexType int

const (
	IndexTypeUint32 IndexType = iota
	IndexTypeUint16
)

func (it IndexType) Size() uint32 {
	if it == IndexTypeUint16 {
		return 2
	}
	return 4
}

/**
 * @brief A batch of indirect draw commands living in a device buffer,
 * submitted in one call.
 */
type IndirectBatch struct {
	Vertices  Buffer
	Indices   Buffer
	Layout    VertexLayout
	Commands  Buffer
	DrawCount uint32
	Stride    uint32
}

/** @brief A single indexed draw. Offsets are in elements, not bytes. */
type IndexedDraw struct {
	Vertices    Buffer
	Indices     Buffer
	Layout      VertexLayout
	IndexType   IndexType
	IndexCount  uint32
	IndexOffset uint32
	BaseVertex  int32
}
