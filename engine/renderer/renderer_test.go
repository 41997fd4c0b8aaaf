package renderer

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/headless"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/scene"
)

type testGui struct {
	data *metadata.GuiDrawData
}

func (g *testGui) DrawData() *metadata.GuiDrawData {
	return g.data
}

func (g *testGui) FontAtlas() ([]byte, uint32, uint32) {
	return make([]byte, 4*4*4), 4, 4
}

func guiData(commands ...int) *metadata.GuiDrawData {
	data := &metadata.GuiDrawData{DisplayWidth: 320, DisplayHeight: 240}
	for _, n := range commands {
		list := metadata.GuiCommandList{
			Vertices: make([]byte, 3*metadata.VertexLayoutGui.Stride()),
			Indices:  make([]byte, 3*2),
		}
		for c := 0; c < n; c++ {
			list.Commands = append(list.Commands, metadata.GuiCommand{
				ElementCount: 3,
				ClipRect:     [4]float32{0, 0, 320, 240},
			})
		}
		data.Lists = append(data.Lists, list)
	}
	return data
}

func testScene() *scene.Scene {
	s := scene.New(scene.NewCamera(320, 240))
	m := scene.NewModel("crate", []scene.Mesh{{
		Vertices: make([]float32, 4*14),
		Indices:  []uint32{0, 1, 2, 2, 3, 0},
	}})
	for i := 0; i < 3; i++ {
		m.AddEntity(scene.NewEntity("crate", mgl32.Translate3D(float32(i)*2, 0, -6)))
	}
	s.AddModel(m)
	s.Lights.Points = []scene.PointLight{{
		Color:     mgl32.Vec3{1, 0.8, 0.6},
		Position:  mgl32.Vec3{0, 3, -4},
		Intensity: 1,
	}}
	return s
}

func newInstance(t *testing.T, config pipeline.Config, gui *testGui) (*Instance, *headless.Backend) {
	t.Helper()
	be := headless.New()
	inst := New(be, WithPipeline(config), WithGui(gui))
	if err := inst.Initialize(&headless.Surface{Width: 320, Height: 240}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(inst.Cleanup)
	return inst, be
}

func sceneLightGui() pipeline.Config {
	return pipeline.NewBuilder().WithScene().WithGui().Build()
}

func countCalls(be *headless.Backend, prefix string) int {
	n := 0
	for _, c := range be.Frame().Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestRenderSceneLightGui(t *testing.T) {
	gui := &testGui{data: guiData(2, 3)}
	inst, be := newInstance(t, sceneLightGui(), gui)
	s := testScene()

	be.Reset()
	if err := inst.Render(s); err != nil {
		t.Fatalf("render: %v", err)
	}
	stats := inst.Stats()

	if len(stats.Batches) != 2 {
		t.Fatalf("expected exactly 2 draw batches, got %d", len(stats.Batches))
	}
	if stats.Batches[0].Entities != 3 || stats.Batches[1].Entities != 0 {
		t.Fatalf("expected 3 static and 0 animated entities, got %+v", stats.Batches)
	}
	gbufferDraws := 0
	for _, d := range be.Frame().IndirectDraws {
		if d.State.Framebuffer.Name == "gbuffer" {
			gbufferDraws++
		}
	}
	if gbufferDraws != 2 {
		t.Fatalf("expected 2 indirect draws into the g-buffer, got %d", gbufferDraws)
	}
	if stats.LightsUploaded() != 1 {
		t.Fatalf("expected one light record, got %d", stats.LightsUploaded())
	}
	if stats.GuiDraws != gui.data.CommandCount() || len(be.Frame().IndexedDraws) != 5 {
		t.Fatalf("expected %d gui draws, got %d", gui.data.CommandCount(), stats.GuiDraws)
	}
	want := []pipeline.StageKind{pipeline.StageShadow, pipeline.StageScene, pipeline.StageLight, pipeline.StageGui}
	if len(stats.Stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, stats.Stages)
	}
	for n := range want {
		if stats.Stages[n] != want[n] {
			t.Fatalf("expected stages %v, got %v", want, stats.Stages)
		}
	}
	if inst.State() != StateRendering {
		t.Fatalf("expected rendering state, got %s", inst.State())
	}
	if len(be.Errors) != 0 {
		t.Fatalf("backend misuse: %v", be.Errors)
	}
}

func TestFrameStartsWithDepthWritesAndClear(t *testing.T) {
	inst, be := newInstance(t, sceneLightGui(), &testGui{})
	be.Reset()
	if err := inst.Render(testScene()); err != nil {
		t.Fatal(err)
	}
	clears := be.Frame().Clears
	if len(clears) == 0 {
		t.Fatal("no clear issued")
	}
	first := clears[0]
	if !first.State.Framebuffer.IsDefault() || !first.State.DepthWrite {
		t.Fatalf("frame must clear the surface with depth writes enabled, got %+v", first.State)
	}
}

func TestRenderRequiresInitialize(t *testing.T) {
	inst := New(headless.New())
	if err := inst.Render(testScene()); !errors.Is(err, core.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRenderRefusesErrorConfiguration(t *testing.T) {
	inst, be := newInstance(t, pipeline.NewBuilder().WithAnimation().Build(), &testGui{})
	if len(inst.Stages()) != 0 {
		t.Fatalf("no stage may be created for an invalid configuration, got %v", inst.Stages())
	}
	be.Reset()
	if err := inst.Render(testScene()); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if len(be.Frame().IndirectDraws) != 0 {
		t.Fatal("a refused frame must not draw")
	}

	// a corrected configuration makes the instance renderable again
	if err := inst.SwapPipeline(sceneLightGui()); err != nil {
		t.Fatal(err)
	}
	if err := inst.Render(testScene()); err != nil {
		t.Fatal(err)
	}
}

func TestRenderDrainsQueueOnce(t *testing.T) {
	inst, be := newInstance(t, sceneLightGui(), &testGui{})
	s := testScene()
	if err := inst.Render(s); err != nil {
		t.Fatal(err)
	}

	buf, err := be.CreateBuffer(metadata.BufferKindShaderStorage, 16)
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Queue().EnqueueHandle(buf); err != nil {
		t.Fatal(err)
	}
	if err := inst.Render(s); err != nil {
		t.Fatal(err)
	}
	if be.HasBuffer(buf) {
		t.Fatal("queued buffer survived the frame")
	}
	if inst.Stats().Deleted != 1 {
		t.Fatalf("expected one release, got %d", inst.Stats().Deleted)
	}
}

func TestMovingEntitiesDoesNotRebuild(t *testing.T) {
	inst, be := newInstance(t, sceneLightGui(), &testGui{})
	s := testScene()
	if err := inst.Render(s); err != nil {
		t.Fatal(err)
	}
	s.Models["crate"].Entities[0].ModelMatrix = mgl32.Translate3D(5, 5, 5)
	be.Reset()
	if err := inst.Render(s); err != nil {
		t.Fatal(err)
	}
	if n := countCalls(be, "CreateBuffer"); n != 0 {
		t.Fatalf("moving an entity must not reallocate buffers, got %d creations", n)
	}
	if inst.Stats().Deleted != 0 {
		t.Fatalf("nothing should be released, got %d", inst.Stats().Deleted)
	}
}

func TestSwapPipelineRebuildsChangedStagesOnly(t *testing.T) {
	inst, be := newInstance(t, sceneLightGui(), &testGui{})
	be.Reset()

	next := pipeline.NewBuilder().WithScene().WithGui().WithFilter().Build()
	if err := inst.SwapPipeline(next); err != nil {
		t.Fatal(err)
	}
	if n := countCalls(be, "CreateShader"); n != 1 {
		t.Fatalf("only the filter program should be created, got %d", n)
	}
	if n := countCalls(be, "DeleteShader"); n != 0 {
		t.Fatalf("unchanged stages must be kept, got %d deletions", n)
	}
	if inst.Config() != next {
		t.Fatalf("expected %s, got %s", next, inst.Config())
	}

	// lighting now resolves into the scene colour target
	be.Reset()
	if err := inst.Render(testScene()); err != nil {
		t.Fatal(err)
	}
	quads := be.Frame().ArrayDraws
	if len(quads) != 2 || quads[0].State.Framebuffer.Name != "scene-color" || !quads[1].State.Framebuffer.IsDefault() {
		t.Fatalf("unexpected full screen passes %+v", quads)
	}

	be.Reset()
	if err := inst.SwapPipeline(sceneLightGui()); err != nil {
		t.Fatal(err)
	}
	inst.ProcessResources()
	if n := be.Frame().Deleted[metadata.ResourceTypeShader]; n != 1 {
		t.Fatalf("expected the filter program to be released, got %d", n)
	}
}

func TestSwapPipelineDisablesFailingStage(t *testing.T) {
	inst, be := newInstance(t, sceneLightGui(), &testGui{})
	be.FailCreate("CreateShader", "skybox")

	requested := pipeline.NewBuilder().WithScene().WithGui().WithSkybox().Build()
	err := inst.SwapPipeline(requested)
	if !errors.Is(err, core.ErrResourceCreation) {
		t.Fatalf("expected a resource creation error, got %v", err)
	}
	if inst.Config().HasSkyboxStage() {
		t.Fatal("the failing stage must be disabled")
	}
	if !inst.Renderable() {
		t.Fatal("the other stages must keep rendering")
	}
	if err := inst.Render(testScene()); err != nil {
		t.Fatal(err)
	}
}

func TestSwapPipelineRefusesInvalidConfiguration(t *testing.T) {
	inst, _ := newInstance(t, sceneLightGui(), &testGui{})
	if err := inst.SwapPipeline(pipeline.FromUint32(1 << 20)); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if inst.Config() != sceneLightGui() {
		t.Fatal("a refused swap must keep the active configuration")
	}
}

func TestStageFailureIsAbsorbed(t *testing.T) {
	gui := &testGui{data: guiData()}
	inst, be := newInstance(t, sceneLightGui(), gui)
	s := testScene()
	if err := inst.Render(s); err != nil {
		t.Fatal(err)
	}

	be.FailCreate("CreateBuffer", "")
	gui.data = guiData(2)
	be.Reset()
	if err := inst.Render(s); err != nil {
		t.Fatalf("a gui failure must not fail the frame: %v", err)
	}
	stats := inst.Stats()
	if len(stats.Failures) != 1 || stats.Failures[0].Kind != pipeline.StageGui {
		t.Fatalf("expected the gui stage failure recorded, got %+v", stats.Failures)
	}
	if !errors.Is(stats.Failures[0].Err, core.ErrResourceCreation) {
		t.Fatalf("unexpected failure %v", stats.Failures[0].Err)
	}
	want := []pipeline.StageKind{pipeline.StageShadow, pipeline.StageScene, pipeline.StageLight}
	if !slices.Equal(stats.Stages, want) {
		t.Fatalf("expected %v to run, got %v", want, stats.Stages)
	}
	if !inst.Renderable() {
		t.Fatal("a stage-local failure must keep the instance renderable")
	}

	be.ClearFailures()
	if err := inst.Render(s); err != nil {
		t.Fatal(err)
	}
	if inst.Stats().GuiDraws != 2 || len(inst.Stats().Failures) != 0 {
		t.Fatalf("gui must recover, got %+v", inst.Stats())
	}
}

func TestPrepareFailureMakesInstanceNotRenderable(t *testing.T) {
	inst, be := newInstance(t, sceneLightGui(), &testGui{})
	s := testScene()
	if err := inst.Render(s); err != nil {
		t.Fatal(err)
	}

	// a new model forces the geometry buffers to be rebuilt
	m := scene.NewModel("barrel", []scene.Mesh{scene.NewCubeMesh(1, 1, 1, 1, 1, 0)})
	m.AddEntity(scene.NewEntity("barrel", mgl32.Ident4()))
	s.AddModel(m)
	be.FailCreate("CreateBuffer", "")
	err := inst.Render(s)
	if !errors.Is(err, core.ErrNotRenderable) || !errors.Is(err, core.ErrResourceCreation) {
		t.Fatalf("expected a non-renderable resource error, got %v", err)
	}
	if inst.Renderable() {
		t.Fatal("shared buffers in an unknown state must stop rendering")
	}
	if err := inst.Render(s); !errors.Is(err, core.ErrNotRenderable) {
		t.Fatalf("expected ErrNotRenderable, got %v", err)
	}

	be.ClearFailures()
	if err := inst.SwapPipeline(inst.Config()); err != nil {
		t.Fatal(err)
	}
	if err := inst.Render(s); err != nil {
		t.Fatalf("render after retry: %v", err)
	}
	if got := inst.Stats().Batches[0].Entities; got != 4 {
		t.Fatalf("expected 4 static entities after recovery, got %d", got)
	}
}

func TestResize(t *testing.T) {
	inst, be := newInstance(t, sceneLightGui(), &testGui{})
	old := inst.resources.GBuffer
	if err := inst.Resize(640, 480); err != nil {
		t.Fatal(err)
	}
	if g := inst.resources.GBuffer; g.Width != 640 || g.Height != 480 {
		t.Fatalf("g-buffer not resized: %s", g)
	}
	if !be.HasFramebuffer(old) {
		t.Fatal("the old g-buffer must survive until the queue is drained")
	}
	inst.ProcessResources()
	if be.HasFramebuffer(old) {
		t.Fatal("the old g-buffer was not released")
	}
}

func TestResizeFailureReleasesNewGBuffer(t *testing.T) {
	inst, be := newInstance(t, sceneLightGui(), &testGui{})
	old := inst.resources.GBuffer
	inst.ProcessResources()
	framebuffers := be.LiveOf(metadata.ResourceTypeFramebuffer)

	be.FailCreate("CreateFramebuffer", "scene-color")
	if err := inst.Resize(640, 480); !errors.Is(err, core.ErrResourceCreation) {
		t.Fatalf("expected a resource creation error, got %v", err)
	}
	if !inst.resources.GBuffer.Equal(old) {
		t.Fatal("a failed resize must keep the old g-buffer")
	}
	inst.ProcessResources()
	if n := be.LiveOf(metadata.ResourceTypeFramebuffer); n != framebuffers {
		t.Fatalf("expected %d live framebuffers, got %d", framebuffers, n)
	}
}

func TestInitializeFailureReleasesEverything(t *testing.T) {
	be := headless.New()
	be.FailCreate("CreateFramebuffer", "scene-color")
	inst := New(be)
	err := inst.Initialize(&headless.Surface{Width: 64, Height: 64})
	if !errors.Is(err, core.ErrResourceCreation) {
		t.Fatalf("expected a resource creation error, got %v", err)
	}
	if inst.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", inst.State())
	}
	if be.Live() != 0 {
		t.Fatalf("%d resources leaked", be.Live())
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	be := headless.New()
	inst := New(be, WithPipeline(pipeline.NewBuilder().WithScene().WithSkybox().WithFilter().WithGui().WithAnimation().Build()), WithGui(&testGui{data: guiData(1)}))
	if err := inst.Initialize(&headless.Surface{Width: 128, Height: 128}); err != nil {
		t.Fatal(err)
	}
	if err := inst.Render(testScene()); err != nil {
		t.Fatal(err)
	}
	inst.Cleanup()
	inst.Cleanup()
	if be.Live() != 0 {
		t.Fatalf("%d resources alive after cleanup", be.Live())
	}
	if len(be.Errors) != 0 {
		t.Fatalf("backend misuse: %v", be.Errors)
	}
	if err := inst.Render(testScene()); !errors.Is(err, core.ErrCleanedUp) {
		t.Fatalf("expected ErrCleanedUp, got %v", err)
	}
}

func TestReloadShaders(t *testing.T) {
	inst, be := newInstance(t, sceneLightGui(), &testGui{})
	be.Reset()
	if err := inst.ReloadShaders("shaders/light.frag"); err != nil {
		t.Fatal(err)
	}
	// the light stage owns the light and transparent programs
	if n := countCalls(be, "CreateShader"); n != 2 {
		t.Fatalf("expected the light stage programs to be recreated, got %d", n)
	}
	if err := inst.Render(testScene()); err != nil {
		t.Fatal(err)
	}
}
