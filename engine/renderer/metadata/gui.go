package metadata

/**
 * @brief One draw command produced by the immediate-mode GUI library.
 * IndexOffset and VertexOffset are in elements relative to the owning list.
 */
type GuiCommand struct {
	ElementCount uint32
	IndexOffset  uint32
	VertexOffset uint32
	// ClipRect is x1, y1, x2, y2 in framebuffer pixels, origin top-left.
	ClipRect [4]float32
	// TextureID 0 selects the GUI font atlas.
	TextureID uint32
}

/**
 * @brief A command list: vertex and index data shared by a run of commands.
 * Vertices are packed VertexLayoutGui records, indices are uint16.
 */
type GuiCommandList struct {
	Vertices []byte
	Indices  []byte
	Commands []GuiCommand
}

/** @brief Everything the GUI library wants drawn this frame. */
type GuiDrawData struct {
	DisplayWidth  float32
	DisplayHeight float32
	Lists         []GuiCommandList
}

// CommandCount returns the number of draw commands across all lists.
func (d *GuiDrawData) CommandCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for i := range d.Lists {
		n += len(d.Lists[i].Commands)
	}
	return n
}

/**
 * @brief The immediate-mode GUI library as seen by the renderer. The GUI
 * stage only iterates and draws what DrawData returns.
 */
type GuiProvider interface {
	// DrawData returns this frame's command lists or nil when there is
	// nothing to draw.
	DrawData() *GuiDrawData
	// FontAtlas returns the RGBA8 pixels of the font atlas texture.
	FontAtlas() (pixels []byte, width, height uint32)
}
