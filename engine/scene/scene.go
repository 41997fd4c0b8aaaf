package scene

import (
	"maps"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

// Scene is what the renderer draws. The renderer only reads it during a
// frame; callers must not mutate it while Render runs.
type Scene struct {
	Models    map[string]*Model
	Camera    *Camera
	Lights    *SceneLights
	Fog       Fog
	Skybox    *Skybox
	Materials []Material
	// Textures is indexed by Material.TextureIdx and NormalMapIdx. Entry 0 is
	// never sampled; the fallback texture takes its place.
	Textures []metadata.Texture
	// Bounds encloses every entity. Used to clamp shadow cascades.
	Bounds AABB
}

func New(camera *Camera) *Scene {
	return &Scene{
		Models: make(map[string]*Model),
		Camera: camera,
		Lights: NewSceneLights(),
	}
}

func (s *Scene) AddModel(m *Model) {
	s.Models[m.ID] = m
}

// SortedModelIDs returns the model ids in the order every per-model buffer
// is built in.
func (s *Scene) SortedModelIDs() []string {
	return slices.Sorted(maps.Keys(s.Models))
}

// ModelsInOrder returns the models matching the filter in SortedModelIDs
// order.
func (s *Scene) ModelsInOrder(animated bool) []*Model {
	out := []*Model{}
	for _, id := range s.SortedModelIDs() {
		m := s.Models[id]
		if m.Animated == animated {
			out = append(out, m)
		}
	}
	return out
}

type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

func (b AABB) IsEmpty() bool {
	return b.Min == b.Max
}

type Fog struct {
	Active  bool
	Color   mgl32.Vec3
	Density float32
}

type Skybox struct {
	// Texture is a cube map. The zero Texture draws the tint only.
	Texture metadata.Texture
	Tint    mgl32.Vec4
}

// Material describes surface parameters. Texture slot 0 selects the
// renderer's fallback texture.
type Material struct {
	DiffuseColor mgl32.Vec4
	TextureIdx   uint32
	NormalMapIdx uint32
	Reflectance  float32
	Roughness    float32
	Metallic     float32
	Transparent  bool
}
