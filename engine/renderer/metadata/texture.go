package metadata

import "fmt"

type TextureFormat int

const (
	TextureFormatRGBA8 TextureFormat = iota
	TextureFormatRGBA16F
	TextureFormatRGBA32F
	TextureFormatDepth32F
)

func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8:
		return "rgba8"
	case TextureFormatRGBA16F:
		return "rgba16f"
	case TextureFormatRGBA32F:
		return "rgba32f"
	case TextureFormatDepth32F:
		return "depth32f"
	default:
		return "unknown"
	}
}

func (f TextureFormat) IsDepth() bool {
	return f == TextureFormatDepth32F
}

/**
 * @brief Represents various types of textures.
 */
type TextureType int

const (
	/** @brief A standard two-dimensional texture. */
	TextureType2d TextureType = iota
	/** @brief A layered two-dimensional texture, used for shadow cascades. */
	TextureType2dArray
	/** @brief A cube texture, used for cubemaps. */
	TextureTypeCube
)

/**
 * @brief Represents a texture.
 */
type Texture struct {
	/** @brief The unique texture identifier. 0 is the fallback texture. */
	ID          uint32
	TextureType TextureType
	Width       uint32
	Height      uint32
	/** @brief Number of layers for array textures, faces for cube maps. */
	Layers uint32
	Format TextureFormat
	Name   string
}

func (t Texture) IsValid() bool {
	return t.ID != 0
}

func (t Texture) Equal(o Texture) bool {
	return t == o
}

func (t Texture) String() string {
	return fmt.Sprintf("texture#%d(%s %dx%d %s)", t.ID, t.Name, t.Width, t.Height, t.Format)
}

/** @brief Describes a texture to be created by the backend. */
type TextureDesc struct {
	Name        string
	TextureType TextureType
	Width       uint32
	Height      uint32
	Layers      uint32
	Format      TextureFormat
	// Linear selects linear filtering; nearest otherwise.
	Linear bool
	// ClampToEdge selects edge clamping; repeat otherwise.
	ClampToEdge bool
}
