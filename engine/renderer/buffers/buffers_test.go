package buffers

import (
	"fmt"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/renderer/headless"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/scene"
)

func quadMesh(material uint32) scene.Mesh {
	vertices := make([]float32, 4*14)
	for v := 0; v < 4; v++ {
		vertices[v*14] = float32(v)
	}
	return scene.Mesh{
		Vertices:    vertices,
		Indices:     []uint32{0, 1, 2, 2, 3, 0},
		MaterialIdx: material,
	}
}

func newScene(static []int, animated []int) *scene.Scene {
	s := scene.New(scene.NewCamera(800, 600))
	s.Materials = []scene.Material{{DiffuseColor: mgl32.Vec4{1, 0, 0, 1}}}
	add := func(prefix string, counts []int, isAnimated bool) {
		for i, n := range counts {
			m := scene.NewModel(fmt.Sprintf("%s-%02d", prefix, i), []scene.Mesh{quadMesh(0), quadMesh(5)})
			m.Animated = isAnimated
			for e := 0; e < n; e++ {
				m.AddEntity(scene.NewEntity(fmt.Sprintf("%s-%d", m.ID, e), mgl32.Translate3D(float32(i), float32(e), 0)))
			}
			s.AddModel(m)
		}
	}
	add("static", static, false)
	add("animated", animated, true)
	return s
}

type fixture struct {
	backend   *headless.Backend
	queue     *resources.DeletionQueue
	rb        *RenderBuffers
	cb        *CommandBuffer
	materials *MaterialCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{backend: headless.New(), queue: resources.NewDeletionQueue()}
	f.rb = NewRenderBuffers(f.backend, f.queue)
	f.cb = NewCommandBuffer(f.backend, f.queue)
	f.materials = NewMaterialCache(f.backend, f.queue)
	if err := f.materials.Initialize(); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) update(t *testing.T, s *scene.Scene) bool {
	t.Helper()
	if _, err := f.materials.Update(s.Materials); err != nil {
		t.Fatal(err)
	}
	if _, err := f.rb.Load(s); err != nil {
		t.Fatal(err)
	}
	rebuilt, err := f.cb.Update(s, f.rb, f.materials)
	if err != nil {
		t.Fatal(err)
	}
	return rebuilt
}

func TestNoAnimatedModels(t *testing.T) {
	f := newFixture(t)
	f.update(t, newScene([]int{2, 3}, nil))

	if f.cb.Animated.EntityCount() != 0 || f.cb.Animated.DrawCount() != 0 {
		t.Fatalf("expected an empty animated batch, got %d entities %d draws",
			f.cb.Animated.EntityCount(), f.cb.Animated.DrawCount())
	}
	if f.cb.Static.EntityCount() != 5 {
		t.Fatalf("expected 5 static entities, got %d", f.cb.Static.EntityCount())
	}
	// two meshes per model, instanced over its entities
	if f.cb.Static.DrawCount() != 4 {
		t.Fatalf("expected 4 static draws, got %d", f.cb.Static.DrawCount())
	}
	// the empty batch still has real buffers to draw from
	batch := f.cb.Animated.Indirect(f.rb)
	if !batch.Commands.IsValid() || batch.DrawCount != 0 {
		t.Fatalf("unexpected empty batch %+v", batch)
	}
}

func TestModelMatricesInModelThenEntityOrder(t *testing.T) {
	f := newFixture(t)
	counts := []int{3, 1, 4}
	s := newScene(counts, nil)
	f.update(t, s)

	data := f.backend.BufferData(f.cb.Static.ModelMatrices.Get())
	idx := 0
	for _, id := range s.SortedModelIDs() {
		for _, e := range s.Models[id].Entities {
			got := metadata.ReadMatrix(data[idx*metadata.MatrixSize:])
			if got != [16]float32(e.ModelMatrix) {
				t.Fatalf("matrix %d belongs to %s, got %v", idx, e.ID, got)
			}
			idx++
		}
	}
	if idx != 8 || f.cb.Static.EntityCount() != 8 {
		t.Fatalf("expected 8 matrices, got %d", idx)
	}
	if uint64(len(data)) < uint64(8*metadata.MatrixSize) {
		t.Fatalf("matrix buffer too small: %d", len(data))
	}
}

func TestStaticCommandsAndElements(t *testing.T) {
	f := newFixture(t)
	s := newScene([]int{2, 0, 3}, nil)
	f.update(t, s)

	cmds := f.cb.Static.DrawCommands()
	// the model without entities draws nothing
	if len(cmds) != 4 {
		t.Fatalf("expected 4 commands, got %d", len(cmds))
	}
	elements := f.backend.BufferData(f.cb.Static.Elements.Get())
	for _, c := range cmds {
		first := metadata.UnmarshalDrawElement(elements[c.BaseInstance*metadata.DrawElementSize:])
		if c.InstanceCount == 2 && first.ModelMatrixIdx != 0 {
			t.Fatalf("first model should start at matrix 0, got %d", first.ModelMatrixIdx)
		}
		if c.InstanceCount == 3 && first.ModelMatrixIdx != 2 {
			t.Fatalf("third model should start at matrix 2, got %d", first.ModelMatrixIdx)
		}
	}
	// mesh 0 uses scene material 0 (slot 1), mesh 1 an unknown material (slot 0)
	e0 := metadata.UnmarshalDrawElement(elements[cmds[0].BaseInstance*metadata.DrawElementSize:])
	e1 := metadata.UnmarshalDrawElement(elements[cmds[1].BaseInstance*metadata.DrawElementSize:])
	if e0.MaterialIdx != 1 || e1.MaterialIdx != 0 {
		t.Fatalf("unexpected material slots %d %d", e0.MaterialIdx, e1.MaterialIdx)
	}
	if cmds[1].BaseVertex != 4 || cmds[1].FirstIndex != 6 {
		t.Fatalf("second mesh should follow the first, got %+v", cmds[1])
	}
}

func TestAnimatedBatch(t *testing.T) {
	f := newFixture(t)
	f.update(t, newScene([]int{1}, []int{2, 1}))

	if f.cb.Animated.EntityCount() != 3 {
		t.Fatalf("expected 3 animated entities, got %d", f.cb.Animated.EntityCount())
	}
	if f.cb.Animated.DrawCount() != 6 {
		t.Fatalf("expected one draw per mesh and entity, got %d", f.cb.Animated.DrawCount())
	}
	regions := f.rb.Regions()
	if len(regions) != 3 {
		t.Fatalf("expected 3 regions, got %d", len(regions))
	}
	for i := 1; i < len(regions); i++ {
		if regions[i].DstOffset != regions[i-1].DstOffset+regions[i-1].VertexCount {
			t.Fatalf("regions must be disjoint and contiguous: %+v", regions)
		}
	}
	cmds := f.cb.Animated.DrawCommands()
	// second entity of the first model draws from its own region
	if cmds[2].BaseVertex != int32(regions[1].DstOffset) {
		t.Fatalf("expected base vertex %d, got %d", regions[1].DstOffset, cmds[2].BaseVertex)
	}
	dest := f.backend.BufferData(f.rb.AnimDest.Get())
	if len(dest) != 3*8*int(metadata.VertexLayoutMesh.Stride()) {
		t.Fatalf("unexpected destination size %d", len(dest))
	}
}

func TestRebuildOnlyWhenSetChanges(t *testing.T) {
	f := newFixture(t)
	s := newScene([]int{2}, nil)
	if !f.update(t, s) {
		t.Fatal("first update must build")
	}
	old := f.cb.Static.ModelMatrices.Get()

	s.Models["static-00"].Entities[0].ModelMatrix = mgl32.Translate3D(9, 9, 9)
	if f.update(t, s) {
		t.Fatal("moving an entity must not rebuild")
	}
	got := metadata.ReadMatrix(f.backend.BufferData(old))
	if got != [16]float32(mgl32.Translate3D(9, 9, 9)) {
		t.Fatal("moved matrix not uploaded")
	}
	if f.queue.Len() != 0 {
		t.Fatalf("nothing should be queued for deletion, got %d", f.queue.Len())
	}

	s.Models["static-00"].AddEntity(scene.NewEntity("new", mgl32.Ident4()))
	if !f.update(t, s) {
		t.Fatal("adding an entity must rebuild")
	}
	if f.cb.Static.ModelMatrices.Get() == old {
		t.Fatal("rebuild must allocate a new matrix buffer")
	}
	// commands, elements and matrices of both batches
	if f.queue.Len() != 6 {
		t.Fatalf("expected the old batch buffers queued, got %d", f.queue.Len())
	}
	f.queue.Drain(f.backend)
	if f.backend.HasBuffer(old) {
		t.Fatal("old matrix buffer still alive after drain")
	}
	if len(f.backend.Errors) != 0 {
		t.Fatalf("backend misuse: %v", f.backend.Errors)
	}
}

func TestReplacedEntityIsUploaded(t *testing.T) {
	f := newFixture(t)
	s := newScene([]int{2}, []int{1})
	f.update(t, s)

	// same count, different entity
	s.Models["static-00"].Entities[1] = scene.NewEntity("replacement", mgl32.Translate3D(100, 100, 100))
	if !f.update(t, s) {
		t.Fatal("replacing an entity must rebuild")
	}
	data := f.backend.BufferData(f.cb.Static.ModelMatrices.Get())
	if got := metadata.ReadMatrix(data[metadata.MatrixSize:]); got != [16]float32(mgl32.Translate3D(100, 100, 100)) {
		t.Fatalf("stale static matrix uploaded: %v", got)
	}

	// same id, new value behind a new pointer
	s.Models["static-00"].Entities[1] = scene.NewEntity("replacement", mgl32.Translate3D(7, 7, 7))
	s.Models["animated-00"].Entities[0] = scene.NewEntity(s.Models["animated-00"].Entities[0].ID, mgl32.Translate3D(3, 3, 3))
	if f.update(t, s) {
		t.Fatal("an unchanged entity set must not rebuild")
	}
	data = f.backend.BufferData(f.cb.Static.ModelMatrices.Get())
	if got := metadata.ReadMatrix(data[metadata.MatrixSize:]); got != [16]float32(mgl32.Translate3D(7, 7, 7)) {
		t.Fatalf("stale static matrix uploaded: %v", got)
	}
	anim := f.backend.BufferData(f.cb.Animated.ModelMatrices.Get())
	if got := metadata.ReadMatrix(anim); got != [16]float32(mgl32.Translate3D(3, 3, 3)) {
		t.Fatalf("stale animated matrix uploaded: %v", got)
	}
}

func TestLightOverflowTruncates(t *testing.T) {
	backend := headless.New()
	lb := NewLightBuffers(backend, resources.NewDeletionQueue())
	if err := lb.Initialize(); err != nil {
		t.Fatal(err)
	}

	lights := scene.NewSceneLights()
	for i := 0; i < MaxLightsSupported+25; i++ {
		lights.Points = append(lights.Points, scene.PointLight{Intensity: 1, Position: mgl32.Vec3{float32(i), 0, 0}})
	}
	backend.Reset()
	stats, err := lb.Update(lights, scene.Fog{}, mgl32.Ident4())
	if err != nil {
		t.Fatalf("overflow must not fail: %v", err)
	}
	if stats.Points != MaxLightsSupported || stats.Dropped != 25 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if lb.Warnings() != 1 {
		t.Fatalf("expected one warning, got %d", lb.Warnings())
	}
	for _, u := range backend.Frame().Uploads {
		if u.Buffer == lb.PointBuffer() && u.Size != MaxLightsSupported*metadata.GPUPointLightSize {
			t.Fatalf("expected exactly %d records uploaded, got %d bytes", MaxLightsSupported, u.Size)
		}
	}
	if len(backend.Errors) != 0 {
		t.Fatalf("buffer overrun: %v", backend.Errors)
	}
	header := metadata.UnmarshalGPUSceneLights(backend.BufferData(lb.HeaderBuffer()))
	if header.PointCount != MaxLightsSupported {
		t.Fatalf("expected header point count %d, got %d", MaxLightsSupported, header.PointCount)
	}
}

func TestLightsInViewSpace(t *testing.T) {
	backend := headless.New()
	lb := NewLightBuffers(backend, resources.NewDeletionQueue())
	if err := lb.Initialize(); err != nil {
		t.Fatal(err)
	}
	lights := scene.NewSceneLights()
	lights.Spots = []scene.SpotLight{{
		PointLight:    scene.PointLight{Position: mgl32.Vec3{1, 2, 3}, Intensity: 1},
		ConeDirection: mgl32.Vec3{0, -1, 0},
		CutOffAngle:   60,
	}}
	view := mgl32.Translate3D(-1, 0, 0)
	stats, err := lb.Update(lights, scene.Fog{Active: true, Density: 0.5}, view)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Spots != 1 || stats.Points != 0 || lb.Warnings() != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	spot := metadata.UnmarshalGPUSpotLight(backend.BufferData(lb.SpotBuffer()))
	if spot.Point.Position != [3]float32{0, 2, 3} {
		t.Fatalf("position not in view space: %v", spot.Point.Position)
	}
	if spot.Direction != [3]float32{0, -1, 0} {
		t.Fatalf("translation must not affect directions: %v", spot.Direction)
	}
	if !mgl32.FloatEqualThreshold(spot.CutOff, 0.5, 1e-5) {
		t.Fatalf("expected cos(60°), got %f", spot.CutOff)
	}
	header := metadata.UnmarshalGPUSceneLights(backend.BufferData(lb.HeaderBuffer()))
	if header.FogActive != 1 || header.SpotCount != 1 {
		t.Fatalf("unexpected header %+v", header)
	}
}

func TestMaterialCache(t *testing.T) {
	backend := headless.New()
	mc := NewMaterialCache(backend, resources.NewDeletionQueue())
	if _, err := mc.Update(nil); err == nil {
		t.Fatal("update before initialize must fail")
	}
	if err := mc.Initialize(); err != nil {
		t.Fatal(err)
	}
	materials := make([]scene.Material, MaxMaterials+3)
	for i := range materials {
		materials[i] = scene.Material{DiffuseColor: mgl32.Vec4{0, 0, 1, 1}, TextureIdx: uint32(i % 4), Transparent: i%2 == 1}
	}
	dropped, err := mc.Update(materials)
	if err != nil {
		t.Fatal(err)
	}
	if dropped != 4 || mc.Count() != MaxMaterials-1 || mc.Warnings() != 1 {
		t.Fatalf("unexpected truncation: dropped=%d count=%d warnings=%d", dropped, mc.Count(), mc.Warnings())
	}
	data := backend.BufferData(mc.Buffer())
	def := metadata.UnmarshalGPUMaterial(data)
	if def.DiffuseColor != [4]float32{1, 1, 1, 1} || def.TextureIdx != 0 {
		t.Fatalf("slot 0 must hold the default material: %+v", def)
	}
	second := metadata.UnmarshalGPUMaterial(data[2*metadata.GPUMaterialSize:])
	if second.Transparent != 1 || second.TextureIdx != 1 {
		t.Fatalf("unexpected material in slot 2: %+v", second)
	}
	if mc.Slot(0) != 1 || mc.Slot(MaxMaterials) != 0 {
		t.Fatalf("unexpected slots %d %d", mc.Slot(0), mc.Slot(MaxMaterials))
	}

	backend.Reset()
	if _, err := mc.Update(materials); err != nil {
		t.Fatal(err)
	}
	if len(backend.Frame().Uploads) != 0 {
		t.Fatal("unchanged materials must not be uploaded again")
	}
}
