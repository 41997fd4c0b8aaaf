// Package opengl implements metadata.Backend on OpenGL 4.6 core through
// direct state access. A context must be current on the calling goroutine
// before New is called, and every method must run on that goroutine.
package opengl

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

type attribute struct {
	size       int32
	xtype      uint32
	normalized bool
	offset     uint32
}

var layouts = map[metadata.VertexLayout][]attribute{
	metadata.VertexLayoutMesh: {
		{3, gl.FLOAT, false, 0},
		{3, gl.FLOAT, false, 12},
		{3, gl.FLOAT, false, 24},
		{3, gl.FLOAT, false, 36},
		{2, gl.FLOAT, false, 48},
	},
	metadata.VertexLayoutQuad: {
		{3, gl.FLOAT, false, 0},
		{2, gl.FLOAT, false, 12},
	},
	metadata.VertexLayoutPosition: {
		{3, gl.FLOAT, false, 0},
	},
	metadata.VertexLayoutGui: {
		{2, gl.FLOAT, false, 0},
		{2, gl.FLOAT, false, 8},
		{4, gl.UNSIGNED_BYTE, true, 16},
	},
}

type Backend struct {
	buffers      map[uint32]metadata.Buffer
	textures     map[uint32]metadata.Texture
	framebuffers map[uint32]metadata.Framebuffer
	shaders      map[uint32]metadata.Shader
	uniforms     map[uint32]map[string]int32
	vaos         map[metadata.VertexLayout]uint32
	version      string
}

// New loads the GL entry points and sets the fixed state every stage
// relies on.
func New() (*Backend, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	b := &Backend{
		buffers:      make(map[uint32]metadata.Buffer),
		textures:     make(map[uint32]metadata.Texture),
		framebuffers: make(map[uint32]metadata.Framebuffer),
		shaders:      make(map[uint32]metadata.Shader),
		uniforms:     make(map[uint32]map[string]int32),
		vaos:         make(map[metadata.VertexLayout]uint32),
		version:      gl.GoStr(gl.GetString(gl.VERSION)),
	}
	core.LogInfo("OpenGL version %s, renderer %s", b.version, gl.GoStr(gl.GetString(gl.RENDERER)))

	gl.Enable(gl.DEBUG_OUTPUT)
	gl.DebugMessageCallback(func(source, gltype, id, severity uint32, length int32, message string, userParam unsafe.Pointer) {
		switch severity {
		case gl.DEBUG_SEVERITY_HIGH:
			core.LogError("gl: %s", message)
		case gl.DEBUG_SEVERITY_MEDIUM:
			core.LogWarn("gl: %s", message)
		}
	}, nil)

	// the sky is drawn at maximum depth after lighting
	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LEQUAL)
	gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
	gl.Enable(gl.TEXTURE_CUBE_MAP_SEAMLESS)
	gl.Enable(gl.CULL_FACE)
	gl.CullFace(gl.BACK)

	for layout, attrs := range layouts {
		var vao uint32
		gl.CreateVertexArrays(1, &vao)
		for i, a := range attrs {
			gl.EnableVertexArrayAttrib(vao, uint32(i))
			gl.VertexArrayAttribFormat(vao, uint32(i), a.size, a.xtype, a.normalized, a.offset)
			gl.VertexArrayAttribBinding(vao, uint32(i), 0)
		}
		b.vaos[layout] = vao
	}
	return b, nil
}

func (b *Backend) Name() string {
	return "opengl " + b.version
}

func (b *Backend) CreateBuffer(kind metadata.BufferKind, size uint64) (metadata.Buffer, error) {
	var id uint32
	gl.CreateBuffers(1, &id)
	if id == 0 {
		return metadata.Buffer{}, fmt.Errorf("create %s buffer: %w", kind, core.ErrResourceCreation)
	}
	gl.NamedBufferData(id, int(size), nil, gl.DYNAMIC_DRAW)
	buf := metadata.Buffer{ID: id, Kind: kind, Size: size}
	b.buffers[id] = buf
	return buf, nil
}

func (b *Backend) UploadBuffer(buffer metadata.Buffer, offset uint64, data []byte) error {
	if _, ok := b.buffers[buffer.ID]; !ok {
		return fmt.Errorf("upload to unknown %s", buffer)
	}
	if offset+uint64(len(data)) > buffer.Size {
		return fmt.Errorf("upload overruns %s: offset %d size %d", buffer, offset, len(data))
	}
	if len(data) == 0 {
		return nil
	}
	gl.NamedBufferSubData(buffer.ID, int(offset), len(data), gl.Ptr(data))
	return nil
}

func (b *Backend) BindBuffer(buffer metadata.Buffer, binding uint32) {
	target := uint32(gl.SHADER_STORAGE_BUFFER)
	if buffer.Kind == metadata.BufferKindUniform {
		target = gl.UNIFORM_BUFFER
	}
	gl.BindBufferBase(target, binding, buffer.ID)
}

func (b *Backend) DeleteBuffer(buffer metadata.Buffer) {
	if _, ok := b.buffers[buffer.ID]; !ok {
		core.LogWarn("opengl: delete of unknown %s", buffer)
		return
	}
	gl.DeleteBuffers(1, &buffer.ID)
	delete(b.buffers, buffer.ID)
}

func internalFormat(f metadata.TextureFormat) uint32 {
	switch f {
	case metadata.TextureFormatRGBA16F:
		return gl.RGBA16F
	case metadata.TextureFormatRGBA32F:
		return gl.RGBA32F
	case metadata.TextureFormatDepth32F:
		return gl.DEPTH_COMPONENT32F
	default:
		return gl.RGBA8
	}
}

func (b *Backend) CreateTexture(desc metadata.TextureDesc, pixels []byte) (metadata.Texture, error) {
	target := uint32(gl.TEXTURE_2D)
	switch desc.TextureType {
	case metadata.TextureType2dArray:
		target = gl.TEXTURE_2D_ARRAY
	case metadata.TextureTypeCube:
		target = gl.TEXTURE_CUBE_MAP
	}
	var id uint32
	gl.CreateTextures(target, 1, &id)
	if id == 0 {
		return metadata.Texture{}, fmt.Errorf("create texture %s: %w", desc.Name, core.ErrResourceCreation)
	}

	format := internalFormat(desc.Format)
	w, h := int32(desc.Width), int32(desc.Height)
	layers := int32(max(desc.Layers, 1))
	if target == gl.TEXTURE_2D_ARRAY {
		gl.TextureStorage3D(id, 1, format, w, h, layers)
	} else {
		gl.TextureStorage2D(id, 1, format, w, h)
	}

	filter := int32(gl.NEAREST)
	if desc.Linear {
		filter = gl.LINEAR
	}
	wrap := int32(gl.REPEAT)
	if desc.ClampToEdge || desc.Format.IsDepth() || target == gl.TEXTURE_CUBE_MAP {
		wrap = gl.CLAMP_TO_EDGE
	}
	gl.TextureParameteri(id, gl.TEXTURE_MIN_FILTER, filter)
	gl.TextureParameteri(id, gl.TEXTURE_MAG_FILTER, filter)
	gl.TextureParameteri(id, gl.TEXTURE_WRAP_S, wrap)
	gl.TextureParameteri(id, gl.TEXTURE_WRAP_T, wrap)
	gl.TextureParameteri(id, gl.TEXTURE_WRAP_R, wrap)

	if len(pixels) > 0 {
		if desc.Format != metadata.TextureFormatRGBA8 {
			gl.DeleteTextures(1, &id)
			return metadata.Texture{}, fmt.Errorf("texture %s: pixel upload is only supported for rgba8", desc.Name)
		}
		faceSize := int(w * h * 4)
		switch target {
		case gl.TEXTURE_2D:
			if len(pixels) < faceSize {
				gl.DeleteTextures(1, &id)
				return metadata.Texture{}, fmt.Errorf("texture %s: %d bytes for a %dx%d image", desc.Name, len(pixels), w, h)
			}
			gl.TextureSubImage2D(id, 0, 0, 0, w, h, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
		default:
			if len(pixels) < faceSize*int(layers) {
				gl.DeleteTextures(1, &id)
				return metadata.Texture{}, fmt.Errorf("texture %s: %d bytes for %d layers of %dx%d", desc.Name, len(pixels), layers, w, h)
			}
			gl.TextureSubImage3D(id, 0, 0, 0, 0, w, h, layers, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
		}
	}

	tex := metadata.Texture{
		ID:          id,
		TextureType: desc.TextureType,
		Width:       desc.Width,
		Height:      desc.Height,
		Layers:      uint32(layers),
		Format:      desc.Format,
		Name:        desc.Name,
	}
	b.textures[id] = tex
	return tex, nil
}

func (b *Backend) BindTexture(texture metadata.Texture, slot uint32) {
	gl.BindTextureUnit(slot, texture.ID)
}

func (b *Backend) DeleteTexture(texture metadata.Texture) {
	if _, ok := b.textures[texture.ID]; !ok {
		core.LogWarn("opengl: delete of unknown %s", texture)
		return
	}
	gl.DeleteTextures(1, &texture.ID)
	delete(b.textures, texture.ID)
}

func (b *Backend) CreateFramebuffer(spec metadata.FramebufferSpec) (metadata.Framebuffer, error) {
	var id uint32
	gl.CreateFramebuffers(1, &id)
	if id == 0 {
		return metadata.Framebuffer{}, fmt.Errorf("create framebuffer %s: %w", spec.Name, core.ErrResourceCreation)
	}
	fb := metadata.Framebuffer{
		ID:     id,
		Name:   spec.Name,
		Width:  spec.Width,
		Height: spec.Height,
	}
	fail := func(err error) (metadata.Framebuffer, error) {
		for _, t := range fb.Textures {
			b.DeleteTexture(t)
		}
		gl.DeleteFramebuffers(1, &id)
		return metadata.Framebuffer{}, err
	}

	textureType := metadata.TextureType2d
	if spec.Layers > 1 {
		textureType = metadata.TextureType2dArray
	}
	drawBuffers := []uint32{}
	for _, a := range spec.Attachments {
		tex, err := b.CreateTexture(metadata.TextureDesc{
			Name:        a.Name,
			TextureType: textureType,
			Width:       spec.Width,
			Height:      spec.Height,
			Layers:      spec.Layers,
			Format:      a.Format,
			ClampToEdge: true,
		}, nil)
		if err != nil {
			return fail(err)
		}
		fb.Textures = append(fb.Textures, tex)
		attachment := uint32(gl.DEPTH_ATTACHMENT)
		if !a.Format.IsDepth() {
			attachment = gl.COLOR_ATTACHMENT0 + uint32(len(drawBuffers))
			drawBuffers = append(drawBuffers, attachment)
		}
		gl.NamedFramebufferTexture(id, attachment, tex.ID, 0)
	}
	if len(drawBuffers) > 0 {
		gl.NamedFramebufferDrawBuffers(id, int32(len(drawBuffers)), &drawBuffers[0])
	} else {
		gl.NamedFramebufferDrawBuffer(id, gl.NONE)
		gl.NamedFramebufferReadBuffer(id, gl.NONE)
	}
	if status := gl.CheckNamedFramebufferStatus(id, gl.FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		return fail(fmt.Errorf("framebuffer %s incomplete (0x%x): %w", spec.Name, status, core.ErrResourceCreation))
	}
	b.framebuffers[id] = fb
	return fb, nil
}

func (b *Backend) BindFramebuffer(fb metadata.Framebuffer) {
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.ID)
}

func (b *Backend) BindFramebufferLayer(fb metadata.Framebuffer, layer uint32) {
	for _, t := range fb.Textures {
		if t.Format.IsDepth() {
			gl.NamedFramebufferTextureLayer(fb.ID, gl.DEPTH_ATTACHMENT, t.ID, 0, int32(layer))
		}
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.ID)
}

func (b *Backend) DeleteFramebuffer(fb metadata.Framebuffer) {
	if _, ok := b.framebuffers[fb.ID]; !ok {
		core.LogWarn("opengl: delete of unknown %s", fb)
		return
	}
	for _, t := range fb.Textures {
		b.DeleteTexture(t)
	}
	gl.DeleteFramebuffers(1, &fb.ID)
	delete(b.framebuffers, fb.ID)
}

var shaderTypes = map[metadata.ShaderStage]uint32{
	metadata.ShaderStageVertex:   gl.VERTEX_SHADER,
	metadata.ShaderStageFragment: gl.FRAGMENT_SHADER,
	metadata.ShaderStageCompute:  gl.COMPUTE_SHADER,
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)

		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(log))
		gl.DeleteShader(shader)

		return 0, fmt.Errorf("failed to compile shader: %v", log)
	}
	return shader, nil
}

func (b *Backend) CreateShader(source metadata.ShaderSource) (metadata.Shader, error) {
	if len(source.Sources) == 0 {
		return metadata.Shader{}, fmt.Errorf("shader %s has no stages: %w", source.Name, core.ErrResourceCreation)
	}
	program := gl.CreateProgram()
	compiled := []uint32{}
	defer func() {
		for _, s := range compiled {
			gl.DeleteShader(s)
		}
	}()
	for stage, code := range source.Sources {
		s, err := compileShader(code, shaderTypes[stage])
		if err != nil {
			gl.DeleteProgram(program)
			return metadata.Shader{}, fmt.Errorf("%s %s stage: %w: %w", source.Name, stage, core.ErrResourceCreation, err)
		}
		gl.AttachShader(program, s)
		compiled = append(compiled, s)
	}
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)

		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(log))
		gl.DeleteProgram(program)

		return metadata.Shader{}, fmt.Errorf("failed to link program %s: %v: %w", source.Name, log, core.ErrResourceCreation)
	}

	shader := metadata.Shader{ID: program, Name: source.Name}
	b.shaders[program] = shader
	b.uniforms[program] = make(map[string]int32)
	return shader, nil
}

func (b *Backend) UseShader(shader metadata.Shader) {
	gl.UseProgram(shader.ID)
}

func (b *Backend) location(shader metadata.Shader, name string) (int32, error) {
	cache, ok := b.uniforms[shader.ID]
	if !ok {
		return -1, fmt.Errorf("set uniform %s on unknown %s", name, shader)
	}
	loc, ok := cache[name]
	if !ok {
		loc = gl.GetUniformLocation(shader.ID, gl.Str(name+"\x00"))
		cache[name] = loc
	}
	if loc < 0 {
		return -1, fmt.Errorf("uniform %s not active in %s", name, shader)
	}
	return loc, nil
}

func (b *Backend) SetUniform(shader metadata.Shader, name string, value interface{}) error {
	loc, err := b.location(shader, name)
	if err != nil {
		return err
	}
	p := shader.ID
	switch v := value.(type) {
	case float32:
		gl.ProgramUniform1f(p, loc, v)
	case int32:
		gl.ProgramUniform1i(p, loc, v)
	case uint32:
		gl.ProgramUniform1ui(p, loc, v)
	case bool:
		var i int32
		if v {
			i = 1
		}
		gl.ProgramUniform1i(p, loc, i)
	case mgl32.Vec2:
		gl.ProgramUniform2fv(p, loc, 1, &v[0])
	case mgl32.Vec3:
		gl.ProgramUniform3fv(p, loc, 1, &v[0])
	case mgl32.Vec4:
		gl.ProgramUniform4fv(p, loc, 1, &v[0])
	case mgl32.Mat4:
		gl.ProgramUniformMatrix4fv(p, loc, 1, false, &v[0])
	case []mgl32.Mat4:
		if len(v) > 0 {
			gl.ProgramUniformMatrix4fv(p, loc, int32(len(v)), false, &v[0][0])
		}
	case []float32:
		if len(v) > 0 {
			gl.ProgramUniform1fv(p, loc, int32(len(v)), &v[0])
		}
	default:
		return fmt.Errorf("unsupported uniform type %T for %s", value, name)
	}
	return nil
}

func (b *Backend) DeleteShader(shader metadata.Shader) {
	if _, ok := b.shaders[shader.ID]; !ok {
		core.LogWarn("opengl: delete of unknown %s", shader)
		return
	}
	gl.DeleteProgram(shader.ID)
	delete(b.shaders, shader.ID)
	delete(b.uniforms, shader.ID)
}

func (b *Backend) SetViewport(rect metadata.Rect) {
	gl.Viewport(rect.X, rect.Y, int32(rect.Width), int32(rect.Height))
}

func (b *Backend) SetScissor(enabled bool, rect metadata.Rect) {
	if !enabled {
		gl.Disable(gl.SCISSOR_TEST)
		return
	}
	gl.Enable(gl.SCISSOR_TEST)
	gl.Scissor(rect.X, rect.Y, int32(rect.Width), int32(rect.Height))
}

func toggle(capability uint32, enabled bool) {
	if enabled {
		gl.Enable(capability)
	} else {
		gl.Disable(capability)
	}
}

func (b *Backend) SetBlend(enabled bool) {
	toggle(gl.BLEND, enabled)
}

func (b *Backend) SetDepthTest(enabled bool) {
	toggle(gl.DEPTH_TEST, enabled)
}

func (b *Backend) SetDepthWrite(enabled bool) {
	gl.DepthMask(enabled)
}

func (b *Backend) SetCullFace(mode metadata.FaceCullMode) {
	switch mode {
	case metadata.FaceCullModeNone:
		gl.Disable(gl.CULL_FACE)
	case metadata.FaceCullModeFront:
		gl.Enable(gl.CULL_FACE)
		gl.CullFace(gl.FRONT)
	case metadata.FaceCullModeBack:
		gl.Enable(gl.CULL_FACE)
		gl.CullFace(gl.BACK)
	case metadata.FaceCullModeFrontAndBack:
		gl.Enable(gl.CULL_FACE)
		gl.CullFace(gl.FRONT_AND_BACK)
	}
}

func (b *Backend) SetWireframe(enabled bool) {
	if enabled {
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.LINE)
	} else {
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.FILL)
	}
}

func (b *Backend) Clear(flags metadata.ClearFlag, colour mgl32.Vec4) {
	mask := uint32(0)
	if flags&metadata.ClearColour != 0 {
		gl.ClearColor(colour[0], colour[1], colour[2], colour[3])
		mask |= gl.COLOR_BUFFER_BIT
	}
	if flags&metadata.ClearDepth != 0 {
		gl.ClearDepth(1)
		mask |= gl.DEPTH_BUFFER_BIT
	}
	if flags&metadata.ClearStencil != 0 {
		mask |= gl.STENCIL_BUFFER_BIT
	}
	if mask != 0 {
		gl.Clear(mask)
	}
}

// bindVertices binds the vertex array of layout with vertices and indices
// attached to it.
func (b *Backend) bindVertices(layout metadata.VertexLayout, vertices, indices metadata.Buffer) bool {
	vao, ok := b.vaos[layout]
	if !ok {
		core.LogError("opengl: unknown vertex layout %d", layout)
		return false
	}
	gl.VertexArrayVertexBuffer(vao, 0, vertices.ID, 0, int32(layout.Stride()))
	gl.VertexArrayElementBuffer(vao, indices.ID)
	gl.BindVertexArray(vao)
	return true
}

func indexType(it metadata.IndexType) uint32 {
	if it == metadata.IndexTypeUint16 {
		return gl.UNSIGNED_SHORT
	}
	return gl.UNSIGNED_INT
}

func (b *Backend) DrawIndirect(batch metadata.IndirectBatch) {
	if batch.DrawCount == 0 {
		return
	}
	if !b.bindVertices(batch.Layout, batch.Vertices, batch.Indices) {
		return
	}
	gl.BindBuffer(gl.DRAW_INDIRECT_BUFFER, batch.Commands.ID)
	gl.MultiDrawElementsIndirect(gl.TRIANGLES, gl.UNSIGNED_INT, nil, int32(batch.DrawCount), int32(batch.Stride))
}

func (b *Backend) DrawIndexed(draw metadata.IndexedDraw) {
	if !b.bindVertices(draw.Layout, draw.Vertices, draw.Indices) {
		return
	}
	offset := int(draw.IndexOffset * draw.IndexType.Size())
	gl.DrawElementsBaseVertex(gl.TRIANGLES, int32(draw.IndexCount), indexType(draw.IndexType), gl.PtrOffset(offset), draw.BaseVertex)
}

func (b *Backend) DrawArrays(vertices metadata.Buffer, layout metadata.VertexLayout, first, count uint32) {
	if !b.bindVertices(layout, vertices, metadata.Buffer{}) {
		return
	}
	gl.DrawArrays(gl.TRIANGLES, int32(first), int32(count))
}

func (b *Backend) DispatchCompute(x, y, z uint32) {
	gl.DispatchCompute(x, y, z)
}

func (b *Backend) Barrier() {
	gl.MemoryBarrier(gl.SHADER_STORAGE_BARRIER_BIT | gl.VERTEX_ATTRIB_ARRAY_BARRIER_BIT | gl.COMMAND_BARRIER_BIT)
}

// Cleanup deletes the vertex arrays and every resource still alive.
func (b *Backend) Cleanup() {
	for _, fb := range b.framebuffers {
		b.DeleteFramebuffer(fb)
	}
	for _, t := range b.textures {
		b.DeleteTexture(t)
	}
	for _, buf := range b.buffers {
		b.DeleteBuffer(buf)
	}
	for _, s := range b.shaders {
		b.DeleteShader(s)
	}
	for layout, vao := range b.vaos {
		gl.DeleteVertexArrays(1, &vao)
		delete(b.vaos, layout)
	}
}
