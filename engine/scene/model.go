package scene

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Mesh holds geometry already packed in the renderer's mesh vertex layout
// (position3 normal3 tangent3 bitangent3 uv2).
type Mesh struct {
	Vertices    []float32
	Indices     []uint32
	MaterialIdx uint32
}

func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 14
}

type Entity struct {
	ID          string
	ModelMatrix mgl32.Mat4
	// AnimationFrame selects the bone matrices of animated models.
	AnimationFrame int
}

func NewEntity(id string, modelMatrix mgl32.Mat4) *Entity {
	return &Entity{
		ID:          id,
		ModelMatrix: modelMatrix,
	}
}

// AnimationData is the skinning input of an animated model.
type AnimationData struct {
	// Weights holds four bone weights per vertex.
	Weights []float32
	// BoneIndices holds four bone indices per vertex.
	BoneIndices []uint32
	// Frames holds the bone matrices of each frame.
	Frames [][]mgl32.Mat4
}

type Model struct {
	ID        string
	Meshes    []Mesh
	Animated  bool
	Entities  []*Entity
	Animation *AnimationData
}

func NewModel(id string, meshes []Mesh) *Model {
	return &Model{
		ID:     id,
		Meshes: meshes,
	}
}

func (m *Model) AddEntity(e *Entity) {
	m.Entities = append(m.Entities, e)
}

func (m *Model) VertexCount() int {
	n := 0
	for i := range m.Meshes {
		n += m.Meshes[i].VertexCount()
	}
	return n
}
