package metadata

import (
	"fmt"
	"strings"
)

/*
 * G-buffer texture slots. The Scene stage writes them in this order and the
 * Light stage samples them by position, so the order must not change.
 */
const (
	GBufferAlbedo = iota
	GBufferNormal
	// reflectance, roughness, metallic and material id
	GBufferSpecular
	GBufferDepth
	GBufferTextureCount
)

/**
 * @brief A render target: an id plus the textures attached to it. The
 * position of a texture in Textures is part of the contract between the
 * stage writing the framebuffer and the stage sampling it.
 */
type Framebuffer struct {
	ID       uint32
	Name     string
	Width    uint32
	Height   uint32
	Textures []Texture
}

// IsDefault reports whether fb is the presentable surface target.
func (fb Framebuffer) IsDefault() bool {
	return fb.ID == 0
}

// Equal compares id, size and the texture list element by element.
func (fb Framebuffer) Equal(o Framebuffer) bool {
	if fb.ID != o.ID || fb.Width != o.Width || fb.Height != o.Height {
		return false
	}
	if len(fb.Textures) != len(o.Textures) {
		return false
	}
	for i := range fb.Textures {
		if !fb.Textures[i].Equal(o.Textures[i]) {
			return false
		}
	}
	return true
}

func (fb Framebuffer) Texture(slot int) (Texture, error) {
	if slot < 0 || slot >= len(fb.Textures) {
		return Texture{}, fmt.Errorf("framebuffer %s has no texture in slot %d", fb.Name, slot)
	}
	return fb.Textures[slot], nil
}

func (fb Framebuffer) String() string {
	names := make([]string, len(fb.Textures))
	for i, t := range fb.Textures {
		names[i] = t.String()
	}
	return fmt.Sprintf("framebuffer#%d(%s %dx%d [%s])", fb.ID, fb.Name, fb.Width, fb.Height, strings.Join(names, ", "))
}

/** @brief An attachment to be created together with a framebuffer. */
type AttachmentSpec struct {
	Name   string
	Format TextureFormat
}

/** @brief Describes a framebuffer to be created by the backend. */
type FramebufferSpec struct {
	Name   string
	Width  uint32
	Height uint32
	/** @brief Layers for every attachment. 0 or 1 means a plain 2D attachment. */
	Layers      uint32
	Attachments []AttachmentSpec
}
