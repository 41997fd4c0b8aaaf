// Package headless implements metadata.Backend without a GPU. Every call is
// recorded so frames can be inspected, which makes it the backend of the
// renderer tests and of the -headless run mode.
package headless

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

// State is the fixed-function state captured with every draw.
type State struct {
	Framebuffer metadata.Framebuffer
	Layer       int
	Shader      metadata.Shader
	Blend       bool
	DepthTest   bool
	DepthWrite  bool
	Wireframe   bool
	CullFace    metadata.FaceCullMode
	Scissor     bool
	ScissorRect metadata.Rect
	Viewport    metadata.Rect
	Textures    map[uint32]metadata.Texture
	Buffers     map[uint32]metadata.Buffer
}

func (s State) clone() State {
	c := s
	c.Textures = make(map[uint32]metadata.Texture, len(s.Textures))
	for k, v := range s.Textures {
		c.Textures[k] = v
	}
	c.Buffers = make(map[uint32]metadata.Buffer, len(s.Buffers))
	for k, v := range s.Buffers {
		c.Buffers[k] = v
	}
	return c
}

type IndirectDraw struct {
	Batch metadata.IndirectBatch
	// Commands are decoded from the command buffer contents at draw time.
	Commands []metadata.DrawCommand
	State    State
}

// Instances returns the total instance count of the batch.
func (d IndirectDraw) Instances() uint32 {
	n := uint32(0)
	for _, c := range d.Commands {
		n += c.InstanceCount
	}
	return n
}

type IndexedDraw struct {
	Draw  metadata.IndexedDraw
	State State
}

type ArrayDraw struct {
	Vertices metadata.Buffer
	Layout   metadata.VertexLayout
	First    uint32
	Count    uint32
	State    State
}

type Dispatch struct {
	X, Y, Z uint32
	State   State
}

type Clear struct {
	Flags metadata.ClearFlag
	State State
}

type Upload struct {
	Buffer metadata.Buffer
	Offset uint64
	Size   int
}

// Frame groups everything recorded since the last Reset.
type Frame struct {
	Calls         []string
	IndirectDraws []IndirectDraw
	IndexedDraws  []IndexedDraw
	ArrayDraws    []ArrayDraw
	Dispatches    []Dispatch
	Clears        []Clear
	Uploads       []Upload
	Deleted       map[metadata.ResourceType]int
}

type Backend struct {
	ids *core.IdentifierPool

	buffers      map[uint32]metadata.Buffer
	bufferData   map[uint32][]byte
	textures     map[uint32]metadata.Texture
	framebuffers map[uint32]metadata.Framebuffer
	shaders      map[uint32]metadata.Shader
	uniforms     map[uint32]map[string]interface{}

	state State
	frame Frame

	// failures maps an operation name to the resource name substrings whose
	// creation should fail.
	failures map[string][]string

	// Errors collects misuse detected by the backend: overruns, double
	// deletes and draws with unknown handles.
	Errors []error
}

func New() *Backend {
	b := &Backend{
		ids:          core.NewIdentifierPool(256),
		buffers:      make(map[uint32]metadata.Buffer),
		bufferData:   make(map[uint32][]byte),
		textures:     make(map[uint32]metadata.Texture),
		framebuffers: make(map[uint32]metadata.Framebuffer),
		shaders:      make(map[uint32]metadata.Shader),
		uniforms:     make(map[uint32]map[string]interface{}),
		failures:     make(map[string][]string),
	}
	b.state = State{Layer: -1}.clone()
	b.Reset()
	return b
}

func (b *Backend) Name() string {
	return "headless"
}

// FailCreate makes the next creations of op ("CreateShader", "CreateBuffer",
// "CreateTexture", "CreateFramebuffer") whose resource name contains match
// fail. An empty match fails every creation of op.
func (b *Backend) FailCreate(op, match string) {
	b.failures[op] = append(b.failures[op], match)
}

// ClearFailures removes every injected failure.
func (b *Backend) ClearFailures() {
	b.failures = make(map[string][]string)
}

func (b *Backend) shouldFail(op, name string) bool {
	for _, m := range b.failures[op] {
		if m == "" || strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// Reset starts a new recorded frame. Resources are kept.
func (b *Backend) Reset() {
	b.frame = Frame{
		Deleted: make(map[metadata.ResourceType]int),
	}
}

// Frame returns what was recorded since the last Reset.
func (b *Backend) Frame() *Frame {
	return &b.frame
}

// Live returns the number of resources currently alive.
func (b *Backend) Live() int {
	return len(b.buffers) + len(b.textures) + len(b.framebuffers) + len(b.shaders)
}

func (b *Backend) LiveOf(rt metadata.ResourceType) int {
	switch rt {
	case metadata.ResourceTypeBuffer:
		return len(b.buffers)
	case metadata.ResourceTypeTexture:
		return len(b.textures)
	case metadata.ResourceTypeFramebuffer:
		return len(b.framebuffers)
	case metadata.ResourceTypeShader:
		return len(b.shaders)
	}
	return 0
}

// BufferData returns the current contents of a buffer.
func (b *Backend) BufferData(buffer metadata.Buffer) []byte {
	return b.bufferData[buffer.ID]
}

func (b *Backend) HasBuffer(buffer metadata.Buffer) bool {
	_, ok := b.buffers[buffer.ID]
	return ok
}

func (b *Backend) HasFramebuffer(fb metadata.Framebuffer) bool {
	_, ok := b.framebuffers[fb.ID]
	return ok
}

// Uniform returns the last value set for name on shader.
func (b *Backend) Uniform(shader metadata.Shader, name string) (interface{}, bool) {
	v, ok := b.uniforms[shader.ID][name]
	return v, ok
}

// ShaderByName returns the live shader with the given name.
func (b *Backend) ShaderByName(name string) (metadata.Shader, bool) {
	for _, s := range b.shaders {
		if s.Name == name {
			return s, true
		}
	}
	return metadata.Shader{}, false
}

func (b *Backend) call(format string, args ...interface{}) {
	b.frame.Calls = append(b.frame.Calls, fmt.Sprintf(format, args...))
}

func (b *Backend) misuse(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	core.LogWarn("headless backend: %s", err.Error())
	b.Errors = append(b.Errors, err)
}

func (b *Backend) CreateBuffer(kind metadata.BufferKind, size uint64) (metadata.Buffer, error) {
	if b.shouldFail("CreateBuffer", kind.String()) {
		return metadata.Buffer{}, fmt.Errorf("create %s buffer: %w", kind, core.ErrResourceCreation)
	}
	buf := metadata.Buffer{Kind: kind, Size: size}
	buf.ID = b.ids.Acquire(buf)
	b.buffers[buf.ID] = buf
	b.bufferData[buf.ID] = make([]byte, size)
	b.call("CreateBuffer %s", buf)
	return buf, nil
}

func (b *Backend) UploadBuffer(buffer metadata.Buffer, offset uint64, data []byte) error {
	store, ok := b.bufferData[buffer.ID]
	if !ok {
		b.misuse("upload to unknown %s", buffer)
		return fmt.Errorf("upload to unknown %s", buffer)
	}
	if offset+uint64(len(data)) > uint64(len(store)) {
		b.misuse("upload overruns %s: offset %d size %d", buffer, offset, len(data))
		return fmt.Errorf("upload overruns %s: offset %d size %d", buffer, offset, len(data))
	}
	copy(store[offset:], data)
	b.frame.Uploads = append(b.frame.Uploads, Upload{Buffer: buffer, Offset: offset, Size: len(data)})
	b.call("UploadBuffer %s +%d %dB", buffer, offset, len(data))
	return nil
}

func (b *Backend) BindBuffer(buffer metadata.Buffer, binding uint32) {
	if _, ok := b.buffers[buffer.ID]; !ok {
		b.misuse("bind of unknown %s", buffer)
	}
	b.state.Buffers[binding] = buffer
	b.call("BindBuffer %s @%d", buffer, binding)
}

func (b *Backend) DeleteBuffer(buffer metadata.Buffer) {
	if _, ok := b.buffers[buffer.ID]; !ok {
		b.misuse("delete of unknown %s", buffer)
		return
	}
	delete(b.buffers, buffer.ID)
	delete(b.bufferData, buffer.ID)
	b.ids.Release(buffer.ID)
	b.frame.Deleted[metadata.ResourceTypeBuffer]++
	b.call("DeleteBuffer %s", buffer)
}

func (b *Backend) CreateTexture(desc metadata.TextureDesc, pixels []byte) (metadata.Texture, error) {
	if b.shouldFail("CreateTexture", desc.Name) {
		return metadata.Texture{}, fmt.Errorf("create texture %s: %w", desc.Name, core.ErrResourceCreation)
	}
	tex := metadata.Texture{
		TextureType: desc.TextureType,
		Width:       desc.Width,
		Height:      desc.Height,
		Layers:      desc.Layers,
		Format:      desc.Format,
		Name:        desc.Name,
	}
	tex.ID = b.ids.Acquire(tex)
	b.textures[tex.ID] = tex
	b.call("CreateTexture %s", tex)
	return tex, nil
}

func (b *Backend) BindTexture(texture metadata.Texture, slot uint32) {
	if texture.ID != 0 {
		if _, ok := b.textures[texture.ID]; !ok {
			b.misuse("bind of unknown %s", texture)
		}
	}
	b.state.Textures[slot] = texture
	b.call("BindTexture %s @%d", texture, slot)
}

func (b *Backend) DeleteTexture(texture metadata.Texture) {
	if _, ok := b.textures[texture.ID]; !ok {
		b.misuse("delete of unknown %s", texture)
		return
	}
	delete(b.textures, texture.ID)
	b.ids.Release(texture.ID)
	b.frame.Deleted[metadata.ResourceTypeTexture]++
	b.call("DeleteTexture %s", texture)
}

func (b *Backend) CreateFramebuffer(spec metadata.FramebufferSpec) (metadata.Framebuffer, error) {
	if b.shouldFail("CreateFramebuffer", spec.Name) {
		return metadata.Framebuffer{}, fmt.Errorf("create framebuffer %s: %w", spec.Name, core.ErrResourceCreation)
	}
	fb := metadata.Framebuffer{
		Name:     spec.Name,
		Width:    spec.Width,
		Height:   spec.Height,
		Textures: make([]metadata.Texture, 0, len(spec.Attachments)),
	}
	textureType := metadata.TextureType2d
	if spec.Layers > 1 {
		textureType = metadata.TextureType2dArray
	}
	for _, a := range spec.Attachments {
		tex, err := b.CreateTexture(metadata.TextureDesc{
			Name:        a.Name,
			TextureType: textureType,
			Width:       spec.Width,
			Height:      spec.Height,
			Layers:      spec.Layers,
			Format:      a.Format,
		}, nil)
		if err != nil {
			return metadata.Framebuffer{}, err
		}
		fb.Textures = append(fb.Textures, tex)
	}
	fb.ID = b.ids.Acquire(spec.Name)
	b.framebuffers[fb.ID] = fb
	b.call("CreateFramebuffer %s", fb)
	return fb, nil
}

func (b *Backend) BindFramebuffer(fb metadata.Framebuffer) {
	if !fb.IsDefault() {
		if _, ok := b.framebuffers[fb.ID]; !ok {
			b.misuse("bind of unknown %s", fb)
		}
	}
	b.state.Framebuffer = fb
	b.state.Layer = -1
	b.call("BindFramebuffer %s", fb)
}

func (b *Backend) BindFramebufferLayer(fb metadata.Framebuffer, layer uint32) {
	b.BindFramebuffer(fb)
	b.state.Layer = int(layer)
}

// DeleteFramebuffer releases the framebuffer together with its attachments.
func (b *Backend) DeleteFramebuffer(fb metadata.Framebuffer) {
	if _, ok := b.framebuffers[fb.ID]; !ok {
		b.misuse("delete of unknown %s", fb)
		return
	}
	for _, t := range fb.Textures {
		b.DeleteTexture(t)
	}
	delete(b.framebuffers, fb.ID)
	b.ids.Release(fb.ID)
	b.frame.Deleted[metadata.ResourceTypeFramebuffer]++
	b.call("DeleteFramebuffer %s", fb)
}

func (b *Backend) CreateShader(source metadata.ShaderSource) (metadata.Shader, error) {
	if b.shouldFail("CreateShader", source.Name) {
		return metadata.Shader{}, fmt.Errorf("create shader %s: %w", source.Name, core.ErrResourceCreation)
	}
	if len(source.Sources) == 0 {
		return metadata.Shader{}, fmt.Errorf("shader %s has no stages: %w", source.Name, core.ErrResourceCreation)
	}
	s := metadata.Shader{Name: source.Name}
	s.ID = b.ids.Acquire(s)
	b.shaders[s.ID] = s
	b.uniforms[s.ID] = make(map[string]interface{})
	b.call("CreateShader %s", s)
	return s, nil
}

func (b *Backend) UseShader(shader metadata.Shader) {
	if _, ok := b.shaders[shader.ID]; !ok {
		b.misuse("use of unknown %s", shader)
	}
	b.state.Shader = shader
	b.call("UseShader %s", shader)
}

func (b *Backend) SetUniform(shader metadata.Shader, name string, value interface{}) error {
	u, ok := b.uniforms[shader.ID]
	if !ok {
		return fmt.Errorf("set uniform %s on unknown %s", name, shader)
	}
	switch value.(type) {
	case float32, int32, uint32, bool, mgl32.Vec2, mgl32.Vec3, mgl32.Vec4, mgl32.Mat4, []mgl32.Mat4, []float32:
	default:
		return fmt.Errorf("unsupported uniform type %T for %s", value, name)
	}
	u[name] = value
	return nil
}

func (b *Backend) DeleteShader(shader metadata.Shader) {
	if _, ok := b.shaders[shader.ID]; !ok {
		b.misuse("delete of unknown %s", shader)
		return
	}
	delete(b.shaders, shader.ID)
	delete(b.uniforms, shader.ID)
	b.ids.Release(shader.ID)
	b.frame.Deleted[metadata.ResourceTypeShader]++
	b.call("DeleteShader %s", shader)
}

func (b *Backend) SetViewport(rect metadata.Rect) {
	b.state.Viewport = rect
}

func (b *Backend) SetScissor(enabled bool, rect metadata.Rect) {
	b.state.Scissor = enabled
	b.state.ScissorRect = rect
}

func (b *Backend) SetBlend(enabled bool) {
	b.state.Blend = enabled
}

func (b *Backend) SetDepthTest(enabled bool) {
	b.state.DepthTest = enabled
}

func (b *Backend) SetDepthWrite(enabled bool) {
	b.state.DepthWrite = enabled
}

func (b *Backend) SetCullFace(mode metadata.FaceCullMode) {
	b.state.CullFace = mode
}

func (b *Backend) SetWireframe(enabled bool) {
	b.state.Wireframe = enabled
}

func (b *Backend) Clear(flags metadata.ClearFlag, colour mgl32.Vec4) {
	b.frame.Clears = append(b.frame.Clears, Clear{Flags: flags, State: b.state.clone()})
	b.call("Clear %d", flags)
}

func (b *Backend) DrawIndirect(batch metadata.IndirectBatch) {
	data, ok := b.bufferData[batch.Commands.ID]
	if !ok {
		b.misuse("indirect draw with unknown command %s", batch.Commands)
		return
	}
	stride := batch.Stride
	if stride == 0 {
		stride = metadata.DrawCommandSize
	}
	cmds := make([]metadata.DrawCommand, 0, batch.DrawCount)
	for i := uint32(0); i < batch.DrawCount; i++ {
		off := uint64(i) * uint64(stride)
		if off+metadata.DrawCommandSize > uint64(len(data)) {
			b.misuse("indirect draw reads past %s", batch.Commands)
			break
		}
		cmds = append(cmds, metadata.UnmarshalDrawCommand(data[off:]))
	}
	b.frame.IndirectDraws = append(b.frame.IndirectDraws, IndirectDraw{
		Batch:    batch,
		Commands: cmds,
		State:    b.state.clone(),
	})
	b.call("DrawIndirect %d commands", batch.DrawCount)
}

func (b *Backend) DrawIndexed(draw metadata.IndexedDraw) {
	b.frame.IndexedDraws = append(b.frame.IndexedDraws, IndexedDraw{Draw: draw, State: b.state.clone()})
	b.call("DrawIndexed %d", draw.IndexCount)
}

func (b *Backend) DrawArrays(vertices metadata.Buffer, layout metadata.VertexLayout, first, count uint32) {
	b.frame.ArrayDraws = append(b.frame.ArrayDraws, ArrayDraw{
		Vertices: vertices,
		Layout:   layout,
		First:    first,
		Count:    count,
		State:    b.state.clone(),
	})
	b.call("DrawArrays %d", count)
}

func (b *Backend) DispatchCompute(x, y, z uint32) {
	b.frame.Dispatches = append(b.frame.Dispatches, Dispatch{X: x, Y: y, Z: z, State: b.state.clone()})
	b.call("DispatchCompute %d %d %d", x, y, z)
}

func (b *Backend) Barrier() {
	b.call("Barrier")
}

// Surface is a fixed size offscreen surface.
type Surface struct {
	Width  uint32
	Height uint32
}

func (s *Surface) Size() (uint32, uint32) {
	return s.Width, s.Height
}

func (s *Surface) Target() metadata.Framebuffer {
	return metadata.Framebuffer{Name: "surface", Width: s.Width, Height: s.Height}
}
