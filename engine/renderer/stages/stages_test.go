package stages

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/buffers"
	"github.com/spaghettifunk/umbra/engine/renderer/headless"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/renderer/shadow"
	"github.com/spaghettifunk/umbra/engine/scene"
)

type fakeGui struct {
	data *metadata.GuiDrawData
}

func (g *fakeGui) DrawData() *metadata.GuiDrawData {
	return g.data
}

func (g *fakeGui) FontAtlas() ([]byte, uint32, uint32) {
	return make([]byte, 8*8*4), 8, 8
}

type rig struct {
	backend *headless.Backend
	ctx     *Context
	scene   *scene.Scene
	gui     *fakeGui
}

func mustFramebuffer(t *testing.T, be *headless.Backend, spec metadata.FramebufferSpec) metadata.Framebuffer {
	t.Helper()
	fb, err := be.CreateFramebuffer(spec)
	if err != nil {
		t.Fatal(err)
	}
	return fb
}

func testMesh() scene.Mesh {
	return scene.Mesh{
		Vertices: make([]float32, 3*14),
		Indices:  []uint32{0, 1, 2},
	}
}

func newRig(t *testing.T) *rig {
	t.Helper()
	be := headless.New()
	q := resources.NewDeletionQueue()
	surface := &headless.Surface{Width: 320, Height: 240}

	res := &Resources{
		GBuffer: mustFramebuffer(t, be, metadata.FramebufferSpec{
			Name: "gbuffer", Width: 320, Height: 240,
			Attachments: []metadata.AttachmentSpec{
				{Name: "albedo", Format: metadata.TextureFormatRGBA8},
				{Name: "normal", Format: metadata.TextureFormatRGBA16F},
				{Name: "specular", Format: metadata.TextureFormatRGBA8},
				{Name: "depth", Format: metadata.TextureFormatDepth32F},
			},
		}),
		ShadowMap: mustFramebuffer(t, be, metadata.FramebufferSpec{
			Name: "shadow", Width: 512, Height: 512, Layers: shadow.CascadeCount,
			Attachments: []metadata.AttachmentSpec{{Name: "depth", Format: metadata.TextureFormatDepth32F}},
		}),
		SceneColor: mustFramebuffer(t, be, metadata.FramebufferSpec{
			Name: "scene-color", Width: 320, Height: 240,
			Attachments: []metadata.AttachmentSpec{
				{Name: "color", Format: metadata.TextureFormatRGBA16F},
				{Name: "depth", Format: metadata.TextureFormatDepth32F},
			},
		}),
		RenderBuffers: buffers.NewRenderBuffers(be, q),
		Commands:      buffers.NewCommandBuffer(be, q),
		Materials:     buffers.NewMaterialCache(be, q),
		Lights:        buffers.NewLightBuffers(be, q),
		Cascades:      shadow.New(512),
		Textures:      resources.NewTextureLoader(be, q, nil),
	}
	quad, err := be.CreateBuffer(metadata.BufferKindVertex, 6*uint64(metadata.VertexLayoutQuad.Stride()))
	if err != nil {
		t.Fatal(err)
	}
	res.Quad = quad
	if err := res.Materials.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := res.Lights.Initialize(); err != nil {
		t.Fatal(err)
	}

	gui := &fakeGui{}
	ctx := &Context{
		Backend:   be,
		Queue:     q,
		Shaders:   NewShaderLibrary(""),
		Resources: res,
		Surface:   surface,
		Gui:       gui,
		Settings:  DefaultSettings(),
	}

	s := scene.New(scene.NewCamera(320, 240))
	m := scene.NewModel("crate", []scene.Mesh{testMesh()})
	for i := 0; i < 3; i++ {
		m.AddEntity(scene.NewEntity("crate", mgl32.Translate3D(float32(i), 0, -5)))
	}
	s.AddModel(m)
	s.Lights.Points = []scene.PointLight{{Color: mgl32.Vec3{1, 1, 1}, Intensity: 1, Position: mgl32.Vec3{0, 2, 0}}}

	return &rig{backend: be, ctx: ctx, scene: s, gui: gui}
}

func (r *rig) addAnimated(t *testing.T, entities int) {
	t.Helper()
	m := scene.NewModel("walker", []scene.Mesh{testMesh()})
	m.Animated = true
	m.Animation = &scene.AnimationData{
		Weights:     make([]float32, 3*4),
		BoneIndices: make([]uint32, 3*4),
		Frames:      [][]mgl32.Mat4{{mgl32.Ident4()}, {mgl32.Translate3D(0, 1, 0)}},
	}
	for i := 0; i < entities; i++ {
		e := scene.NewEntity("walker", mgl32.Ident4())
		e.AnimationFrame = i
		m.AddEntity(e)
	}
	r.scene.AddModel(m)
}

func (r *rig) render(t *testing.T, config pipeline.Config, kinds ...pipeline.StageKind) *FrameStats {
	t.Helper()
	stats := &FrameStats{}
	if err := r.ctx.Resources.Prepare(r.scene, stats); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	r.backend.Reset()
	frame := &Frame{Scene: r.scene, Config: config, Number: 1, Stats: stats}
	for _, kind := range kinds {
		stage, err := New(kind)
		if err != nil {
			t.Fatal(err)
		}
		if err := stage.Initialize(r.ctx); err != nil {
			t.Fatalf("initialize %s: %v", kind, err)
		}
		if err := stage.Render(frame); err != nil {
			t.Fatalf("render %s: %v", kind, err)
		}
		defer stage.Cleanup()
	}
	if len(r.backend.Errors) != 0 {
		t.Fatalf("backend misuse: %v", r.backend.Errors)
	}
	return stats
}

func TestShaderLibrary(t *testing.T) {
	lib := NewShaderLibrary("")
	for _, name := range ProgramNames() {
		src, err := lib.Program(name)
		if err != nil {
			t.Fatalf("program %s: %v", name, err)
		}
		for stage, code := range src.Sources {
			if !strings.HasPrefix(code, "#version 460") {
				t.Fatalf("%s %s source does not look like GLSL", name, stage)
			}
		}
	}
	if _, err := lib.Program("missing"); err == nil {
		t.Fatal("expected an unknown program to fail")
	}
	if got := ProgramsUsing("shaders/quad.vert"); !slices.Equal(got, []string{"filter", "light"}) {
		t.Fatalf("unexpected programs for quad.vert: %v", got)
	}

	dir := t.TempDir()
	override := "#version 460\n// override\nvoid main() {}\n"
	if err := os.WriteFile(filepath.Join(dir, "scene.frag"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := NewShaderLibrary(dir).Program("scene")
	if err != nil {
		t.Fatal(err)
	}
	if src.Sources[metadata.ShaderStageFragment] != override {
		t.Fatal("override directory was not used")
	}
	if !strings.Contains(src.Sources[metadata.ShaderStageVertex], "modelMatrices") {
		t.Fatal("files missing from the override directory must fall back to the built-in sources")
	}
}

func TestNewStage(t *testing.T) {
	for _, kind := range pipeline.Order {
		stage, err := New(kind)
		if err != nil {
			t.Fatalf("stage %s: %v", kind, err)
		}
		if stage.Kind() != kind {
			t.Fatalf("expected %s, got %s", kind, stage.Kind())
		}
		if len(stage.Programs()) == 0 {
			t.Fatalf("stage %s has no programs", kind)
		}
	}
	if _, err := New(pipeline.StageKind(99)); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestSceneStageIssuesTwoBatches(t *testing.T) {
	r := newRig(t)
	config := pipeline.NewBuilder().WithScene().Build()
	stats := r.render(t, config, pipeline.StageScene)

	draws := r.backend.Frame().IndirectDraws
	if len(draws) != 2 {
		t.Fatalf("expected 2 indirect batches, got %d", len(draws))
	}
	for _, d := range draws {
		if d.State.Framebuffer.ID != r.ctx.Resources.GBuffer.ID {
			t.Fatalf("batch drawn into %s instead of the g-buffer", d.State.Framebuffer)
		}
		if d.State.Blend || !d.State.DepthTest || d.State.Wireframe {
			t.Fatalf("unexpected state %+v", d.State)
		}
	}
	if draws[0].Instances() != 3 || draws[1].Instances() != 0 {
		t.Fatalf("expected 3 static and 0 animated instances, got %d and %d", draws[0].Instances(), draws[1].Instances())
	}
	if len(stats.Batches) != 2 || stats.Batches[0].Entities != 3 || stats.Batches[1].Entities != 0 {
		t.Fatalf("unexpected batch stats %+v", stats.Batches)
	}
}

func TestSceneStageWireframe(t *testing.T) {
	r := newRig(t)
	config := pipeline.NewBuilder().WithScene().WithWireframe().Build()
	r.render(t, config, pipeline.StageScene)
	for _, d := range r.backend.Frame().IndirectDraws {
		if !d.State.Wireframe {
			t.Fatal("wireframe configuration must draw in line mode")
		}
	}
}

func TestShadowStageDrawsEveryCascade(t *testing.T) {
	r := newRig(t)
	stats := r.render(t, pipeline.NewBuilder().WithScene().Build(), pipeline.StageShadow)

	draws := r.backend.Frame().IndirectDraws
	if len(draws) != shadow.CascadeCount || stats.ShadowDraws != shadow.CascadeCount {
		t.Fatalf("expected one static batch per cascade, got %d", len(draws))
	}
	for i, d := range draws {
		if d.State.Layer != i || d.State.Framebuffer.ID != r.ctx.Resources.ShadowMap.ID {
			t.Fatalf("cascade %d drawn into layer %d of %s", i, d.State.Layer, d.State.Framebuffer)
		}
	}

	// with animation every cascade also draws the animated batch
	r2 := newRig(t)
	r2.addAnimated(t, 2)
	stats = r2.render(t, pipeline.NewBuilder().WithScene().WithAnimation().Build(), pipeline.StageShadow)
	if stats.ShadowDraws != 2*shadow.CascadeCount {
		t.Fatalf("expected %d shadow draws, got %d", 2*shadow.CascadeCount, stats.ShadowDraws)
	}
}

func TestLightStage(t *testing.T) {
	r := newRig(t)
	stats := r.render(t, pipeline.NewBuilder().WithScene().Build(), pipeline.StageLight)

	if stats.LightsUploaded() != 1 || stats.PointLights != 1 {
		t.Fatalf("expected one light record, got %d", stats.LightsUploaded())
	}
	quads := r.backend.Frame().ArrayDraws
	if len(quads) != 1 {
		t.Fatalf("expected a single full screen quad, got %d", len(quads))
	}
	state := quads[0].State
	if !state.Framebuffer.IsDefault() {
		t.Fatalf("without a filter lighting resolves to the surface, got %s", state.Framebuffer)
	}
	for slot := 0; slot < metadata.GBufferTextureCount; slot++ {
		if state.Textures[uint32(slot)] != r.ctx.Resources.GBuffer.Textures[slot] {
			t.Fatalf("g-buffer slot %d not bound in position", slot)
		}
	}
	if len(r.backend.Frame().IndirectDraws) != 0 {
		t.Fatal("no transparency pass was requested")
	}
}

func TestLightStageWithFilterAndTransparency(t *testing.T) {
	r := newRig(t)
	config := pipeline.NewBuilder().WithScene().WithFilter().WithTransparency().Build()
	stats := r.render(t, config, pipeline.StageLight, pipeline.StageFilter)

	quads := r.backend.Frame().ArrayDraws
	if len(quads) != 2 {
		t.Fatalf("expected light and filter quads, got %d", len(quads))
	}
	if quads[0].State.Framebuffer.ID != r.ctx.Resources.SceneColor.ID {
		t.Fatalf("lighting must resolve into scene colour when filtered, got %s", quads[0].State.Framebuffer)
	}
	filter := quads[1].State
	if !filter.Framebuffer.IsDefault() || filter.DepthWrite {
		t.Fatalf("filter must write the surface with depth writes off: %+v", filter)
	}
	if filter.Textures[0] != r.ctx.Resources.SceneColor.Textures[0] {
		t.Fatal("filter must sample the scene colour")
	}

	if stats.TransparentBatches != 2 {
		t.Fatalf("expected 2 transparent batches, got %d", stats.TransparentBatches)
	}
	for _, d := range r.backend.Frame().IndirectDraws {
		if !d.State.Blend || d.State.DepthWrite {
			t.Fatalf("transparent batches need blending without depth writes: %+v", d.State)
		}
	}
}

func TestSkyboxStage(t *testing.T) {
	r := newRig(t)
	r.scene.Camera.SetPosition(mgl32.Vec3{10, 20, 30})
	r.render(t, pipeline.NewBuilder().WithScene().WithSkybox().Build(), pipeline.StageSkybox)

	draws := r.backend.Frame().ArrayDraws
	if len(draws) != 1 || draws[0].Count != 36 {
		t.Fatalf("expected one cube draw, got %+v", draws)
	}
	if draws[0].State.DepthWrite || !draws[0].State.DepthTest {
		t.Fatal("the sky must be depth tested without writing depth")
	}
	shader, ok := r.backend.ShaderByName("skybox")
	if ok {
		v, _ := r.backend.Uniform(shader, "viewMatrix")
		view := v.(mgl32.Mat4)
		if view[12] != 0 || view[13] != 0 || view[14] != 0 {
			t.Fatalf("skybox view still carries a translation: %v", view)
		}
	}

	rot := RotationOnly(mgl32.Translate3D(1, 2, 3).Mul4(mgl32.HomogRotate3DY(1)))
	if rot.Col(3) != (mgl32.Vec4{0, 0, 0, 1}) {
		t.Fatalf("unexpected rotation-only matrix %v", rot)
	}
}

func TestGuiStageDrawsEveryCommand(t *testing.T) {
	r := newRig(t)
	r.gui.data = &metadata.GuiDrawData{
		DisplayWidth:  320,
		DisplayHeight: 240,
		Lists: []metadata.GuiCommandList{
			{
				Vertices: make([]byte, 4*metadata.VertexLayoutGui.Stride()),
				Indices:  make([]byte, 6*2),
				Commands: []metadata.GuiCommand{
					{ElementCount: 3, ClipRect: [4]float32{0, 0, 100, 50}},
					{ElementCount: 3, IndexOffset: 3, ClipRect: [4]float32{10, 10, 20, 20}},
				},
			},
			{
				Vertices: make([]byte, 3*metadata.VertexLayoutGui.Stride()),
				Indices:  make([]byte, 3*2),
				Commands: []metadata.GuiCommand{{ElementCount: 3, ClipRect: [4]float32{0, 0, 320, 240}}},
			},
		},
	}
	stats := r.render(t, pipeline.NewBuilder().WithGui().Build(), pipeline.StageGui)

	draws := r.backend.Frame().IndexedDraws
	if stats.GuiDraws != 3 || len(draws) != r.gui.data.CommandCount() {
		t.Fatalf("expected %d gui draws, got %d", r.gui.data.CommandCount(), len(draws))
	}
	if !draws[0].State.Scissor || draws[0].State.ScissorRect != (metadata.Rect{X: 0, Y: 190, Width: 100, Height: 50}) {
		t.Fatalf("unexpected scissor %+v", draws[0].State.ScissorRect)
	}
	// the second list is appended after the first
	if draws[2].Draw.BaseVertex != 4 || draws[2].Draw.IndexOffset != 6 {
		t.Fatalf("second list not rebased: %+v", draws[2].Draw)
	}
	if draws[1].State.Textures[0].Name != guiFontAtlasName {
		t.Fatal("texture id 0 must select the font atlas")
	}
}

func TestAnimationStage(t *testing.T) {
	r := newRig(t)
	r.addAnimated(t, 3)
	stats := r.render(t, pipeline.NewBuilder().WithScene().WithAnimation().Build(), pipeline.StageAnimation)

	if stats.Dispatches != 3 || len(r.backend.Frame().Dispatches) != 3 {
		t.Fatalf("expected a dispatch per animated entity, got %d", stats.Dispatches)
	}
	if !slices.Contains(r.backend.Frame().Calls, "Barrier") {
		t.Fatal("animation must end with a barrier")
	}
	d := r.backend.Frame().Dispatches[0].State
	if d.Buffers[buffers.BindingAnimDest] != r.ctx.Resources.RenderBuffers.AnimDest.Get() {
		t.Fatal("destination buffer not bound")
	}
}

func TestStageShaderFailure(t *testing.T) {
	r := newRig(t)
	r.backend.FailCreate("CreateShader", "light")
	stage, _ := New(pipeline.StageLight)
	if err := stage.Initialize(r.ctx); !errors.Is(err, core.ErrResourceCreation) {
		t.Fatalf("expected a resource creation error, got %v", err)
	}
}
