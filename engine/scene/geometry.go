package scene

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
)

type vertex struct {
	position  mgl32.Vec3
	normal    mgl32.Vec3
	tangent   mgl32.Vec3
	bitangent mgl32.Vec3
	uv        mgl32.Vec2
}

// cube faces as corner signs of (bottom-left, top-right, top-left, bottom-right)
var cubeFaces = [6]struct {
	normal  mgl32.Vec3
	corners [4]mgl32.Vec3
}{
	{mgl32.Vec3{0, 0, 1}, [4]mgl32.Vec3{{-1, -1, 1}, {1, 1, 1}, {-1, 1, 1}, {1, -1, 1}}},
	{mgl32.Vec3{0, 0, -1}, [4]mgl32.Vec3{{1, -1, -1}, {-1, 1, -1}, {1, 1, -1}, {-1, -1, -1}}},
	{mgl32.Vec3{-1, 0, 0}, [4]mgl32.Vec3{{-1, -1, -1}, {-1, 1, 1}, {-1, 1, -1}, {-1, -1, 1}}},
	{mgl32.Vec3{1, 0, 0}, [4]mgl32.Vec3{{1, -1, 1}, {1, 1, -1}, {1, 1, 1}, {1, -1, -1}}},
	{mgl32.Vec3{0, -1, 0}, [4]mgl32.Vec3{{1, -1, 1}, {-1, -1, -1}, {1, -1, -1}, {-1, -1, 1}}},
	{mgl32.Vec3{0, 1, 0}, [4]mgl32.Vec3{{-1, 1, 1}, {1, 1, -1}, {-1, 1, -1}, {1, 1, 1}}},
}

// quadIndices winds the corners of one face or plane segment.
var quadIndices = [6]uint32{0, 1, 2, 0, 3, 1}

func nonZero(name string, v float32) float32 {
	if v == 0 {
		core.LogWarn("%s must be nonzero. Defaulting to one.", name)
		return 1
	}
	return v
}

/**
 * @brief Builds an axis aligned box centred on the origin.
 * @param tileX The number of times the texture tiles across each face on the x-axis.
 * @param tileY The number of times the texture tiles across each face on the y-axis.
 */
func NewCubeMesh(width, height, depth, tileX, tileY float32, materialIdx uint32) Mesh {
	half := mgl32.Vec3{nonZero("width", width) * 0.5, nonZero("height", height) * 0.5, nonZero("depth", depth) * 0.5}
	tileX, tileY = nonZero("tileX", tileX), nonZero("tileY", tileY)
	uvs := [4]mgl32.Vec2{{0, 0}, {tileX, tileY}, {0, tileY}, {tileX, 0}}

	verts := make([]vertex, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, face := range cubeFaces {
		base := uint32(len(verts))
		for c, corner := range face.corners {
			verts = append(verts, vertex{
				position: mgl32.Vec3{corner[0] * half[0], corner[1] * half[1], corner[2] * half[2]},
				normal:   face.normal,
				uv:       uvs[c],
			})
		}
		for _, idx := range quadIndices {
			indices = append(indices, base+idx)
		}
	}
	generateTangents(verts, indices)
	return Mesh{Vertices: pack(verts), Indices: indices, MaterialIdx: materialIdx}
}

// NewPlaneMesh builds a plane in the XY plane facing +Z split into segments.
func NewPlaneMesh(width, height float32, xSegments, ySegments uint32, tileX, tileY float32, materialIdx uint32) Mesh {
	width, height = nonZero("width", width), nonZero("height", height)
	tileX, tileY = nonZero("tileX", tileX), nonZero("tileY", tileY)
	if xSegments < 1 {
		core.LogWarn("xSegments must be a positive number. Defaulting to one.")
		xSegments = 1
	}
	if ySegments < 1 {
		core.LogWarn("ySegments must be a positive number. Defaulting to one.")
		ySegments = 1
	}

	segW := width / float32(xSegments)
	segH := height / float32(ySegments)
	normal := mgl32.Vec3{0, 0, 1}
	verts := make([]vertex, 0, xSegments*ySegments*4)
	indices := make([]uint32, 0, xSegments*ySegments*6)
	for y := uint32(0); y < ySegments; y++ {
		for x := uint32(0); x < xSegments; x++ {
			minX := float32(x)*segW - width*0.5
			minY := float32(y)*segH - height*0.5
			minU := float32(x) / float32(xSegments) * tileX
			minV := float32(y) / float32(ySegments) * tileY
			maxU := float32(x+1) / float32(xSegments) * tileX
			maxV := float32(y+1) / float32(ySegments) * tileY

			base := uint32(len(verts))
			verts = append(verts,
				vertex{position: mgl32.Vec3{minX, minY, 0}, normal: normal, uv: mgl32.Vec2{minU, minV}},
				vertex{position: mgl32.Vec3{minX + segW, minY + segH, 0}, normal: normal, uv: mgl32.Vec2{maxU, maxV}},
				vertex{position: mgl32.Vec3{minX, minY + segH, 0}, normal: normal, uv: mgl32.Vec2{minU, maxV}},
				vertex{position: mgl32.Vec3{minX + segW, minY, 0}, normal: normal, uv: mgl32.Vec2{maxU, minV}},
			)
			for _, idx := range quadIndices {
				indices = append(indices, base+idx)
			}
		}
	}
	generateTangents(verts, indices)
	return Mesh{Vertices: pack(verts), Indices: indices, MaterialIdx: materialIdx}
}

// generateTangents assigns every triangle a flat tangent frame from its uv
// derivatives.
func generateTangents(verts []vertex, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		edge1 := verts[i1].position.Sub(verts[i0].position)
		edge2 := verts[i2].position.Sub(verts[i0].position)
		du1 := verts[i1].uv[0] - verts[i0].uv[0]
		dv1 := verts[i1].uv[1] - verts[i0].uv[1]
		du2 := verts[i2].uv[0] - verts[i0].uv[0]
		dv2 := verts[i2].uv[1] - verts[i0].uv[1]

		det := du1*dv2 - du2*dv1
		if det == 0 {
			continue
		}
		fc := 1 / det
		tangent := edge1.Mul(dv2).Sub(edge2.Mul(dv1)).Mul(fc).Normalize()

		for _, idx := range [3]uint32{i0, i1, i2} {
			bitangent := verts[idx].normal.Cross(tangent)
			if det < 0 {
				bitangent = bitangent.Mul(-1)
			}
			verts[idx].tangent = tangent
			verts[idx].bitangent = bitangent
		}
	}
}

func pack(verts []vertex) []float32 {
	out := make([]float32, 0, len(verts)*14)
	for _, v := range verts {
		out = append(out, v.position[:]...)
		out = append(out, v.normal[:]...)
		out = append(out, v.tangent[:]...)
		out = append(out, v.bitangent[:]...)
		out = append(out, v.uv[:]...)
	}
	return out
}

// ComputeBounds sets Bounds to enclose every entity of every model.
func (s *Scene) ComputeBounds() {
	first := true
	var bounds AABB
	for _, m := range s.Models {
		for _, e := range m.Entities {
			for mi := range m.Meshes {
				verts := m.Meshes[mi].Vertices
				for i := 0; i+2 < len(verts); i += 14 {
					p := e.ModelMatrix.Mul4x1(mgl32.Vec4{verts[i], verts[i+1], verts[i+2], 1}).Vec3()
					if first {
						bounds = AABB{Min: p, Max: p}
						first = false
						continue
					}
					for a := 0; a < 3; a++ {
						bounds.Min[a] = min(bounds.Min[a], p[a])
						bounds.Max[a] = max(bounds.Max[a], p[a])
					}
				}
			}
		}
	}
	s.Bounds = bounds
}
