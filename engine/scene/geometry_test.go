package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestNewCubeMesh(t *testing.T) {
	m := NewCubeMesh(2, 4, 6, 1, 1, 3)
	if m.VertexCount() != 24 || len(m.Indices) != 36 {
		t.Fatalf("expected 24 vertices and 36 indices, got %d and %d", m.VertexCount(), len(m.Indices))
	}
	if m.MaterialIdx != 3 {
		t.Errorf("expected material 3, got %d", m.MaterialIdx)
	}
	// first vertex of the front face
	v := m.Vertices[:14]
	if (mgl32.Vec3{v[0], v[1], v[2]}) != (mgl32.Vec3{-1, -2, 3}) {
		t.Errorf("unexpected position %v", v[:3])
	}
	if (mgl32.Vec3{v[3], v[4], v[5]}) != (mgl32.Vec3{0, 0, 1}) {
		t.Errorf("unexpected normal %v", v[3:6])
	}
	tangent := mgl32.Vec3{v[6], v[7], v[8]}
	if !tangent.ApproxEqual(mgl32.Vec3{1, 0, 0}) {
		t.Errorf("expected tangent along +x, got %v", tangent)
	}
	bitangent := mgl32.Vec3{v[9], v[10], v[11]}
	if !bitangent.ApproxEqual(mgl32.Vec3{0, 1, 0}) {
		t.Errorf("expected bitangent along +y, got %v", bitangent)
	}
}

func TestNewPlaneMesh(t *testing.T) {
	m := NewPlaneMesh(4, 2, 2, 3, 1, 1, 0)
	if m.VertexCount() != 2*3*4 || len(m.Indices) != 2*3*6 {
		t.Fatalf("unexpected sizes %d %d", m.VertexCount(), len(m.Indices))
	}
	for _, idx := range m.Indices {
		if int(idx) >= m.VertexCount() {
			t.Fatalf("index %d out of range", idx)
		}
	}

	// zero sizes fall back to one segment of size one
	m = NewPlaneMesh(0, 0, 0, 0, 0, 0, 0)
	if m.VertexCount() != 4 {
		t.Errorf("expected a single segment, got %d vertices", m.VertexCount())
	}
}

func TestComputeBounds(t *testing.T) {
	s := New(NewCamera(800, 600))
	m := NewModel("cube", []Mesh{NewCubeMesh(2, 2, 2, 1, 1, 0)})
	m.AddEntity(NewEntity("a", mgl32.Translate3D(5, 0, 0)))
	m.AddEntity(NewEntity("b", mgl32.Translate3D(-5, 1, 0)))
	s.AddModel(m)

	s.ComputeBounds()
	want := AABB{Min: mgl32.Vec3{-6, -1, -1}, Max: mgl32.Vec3{6, 2, 1}}
	if s.Bounds != want {
		t.Fatalf("expected %v, got %v", want, s.Bounds)
	}
}
