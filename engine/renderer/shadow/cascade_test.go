package shadow

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/scene"
)

func testCamera() *scene.Camera {
	c := scene.NewCamera(1280, 720)
	c.NearClip = 0.1
	c.FarClip = 100
	c.SetPosition(mgl32.Vec3{3, 4, 10})
	c.SetEulerRotation(mgl32.Vec3{0.2, -0.4, 0})
	return c
}

func TestSplitDistances(t *testing.T) {
	splits := SplitDistances(0.1, 100, SplitLambda)
	if len(splits) != CascadeCount {
		t.Fatalf("expected %d splits, got %d", CascadeCount, len(splits))
	}
	prev := float32(0.1)
	for i, s := range splits {
		if s <= prev {
			t.Fatalf("split %d (%f) is not beyond %f", i, s, prev)
		}
		prev = s
	}
	if splits[CascadeCount-1] != 100 {
		t.Fatalf("last split should be the far plane, got %f", splits[CascadeCount-1])
	}

	linear := SplitDistances(10, 100, 0)
	if !mgl32.FloatEqualThreshold(linear[0], 40, 1e-4) || !mgl32.FloatEqualThreshold(linear[1], 70, 1e-4) {
		t.Fatalf("unexpected uniform splits %v", linear)
	}
}

func TestUpdateIsDeterministic(t *testing.T) {
	light := mgl32.Vec3{-0.3, 1, 0.2}

	a := New(1024)
	a.Update(testCamera(), light, scene.AABB{})
	b := New(1024)
	b.Update(testCamera(), light, scene.AABB{})
	// recomputing on the same instance yields the same result
	a.Update(testCamera(), light, scene.AABB{})

	for i := 0; i < CascadeCount; i++ {
		if a.Cascades[i] != b.Cascades[i] {
			t.Fatalf("cascade %d differs between identical updates", i)
		}
	}
	if len(a.ProjViews()) != CascadeCount || len(a.Splits()) != CascadeCount {
		t.Fatal("unexpected cascade count")
	}
}

func TestCascadesCoverTheirSlice(t *testing.T) {
	cam := testCamera()
	cs := New(2048)
	cs.Update(cam, mgl32.Vec3{0, 1, 0}, scene.AABB{})

	prev := float32(0)
	for i, c := range cs.Cascades {
		if c.SplitDistance >= prev {
			t.Fatalf("cascade %d split %f must lie beyond %f", i, c.SplitDistance, prev)
		}
		prev = c.SplitDistance

		// a point on the view axis inside the slice projects inside the map
		depth := -c.SplitDistance * 0.99
		world := cam.InverseView().Mul4x1(mgl32.Vec4{0, 0, -depth, 1})
		clip := c.ProjView.Mul4x1(world)
		for axis := 0; axis < 3; axis++ {
			if clip[axis] < -1.001 || clip[axis] > 1.001 {
				t.Fatalf("cascade %d: point at depth %f outside light clip space: %v", i, depth, clip)
			}
		}
	}
	if cs.Cascades[CascadeCount-1].SplitDistance != -cam.FarClip {
		t.Fatalf("last split %f should be -far", cs.Cascades[CascadeCount-1].SplitDistance)
	}
}

func TestMaxDistanceCapsRange(t *testing.T) {
	cs := New(0)
	if cs.MapSize != DefaultMapSize {
		t.Fatalf("expected default map size, got %d", cs.MapSize)
	}
	cs.MaxDistance = 50
	cs.Update(testCamera(), mgl32.Vec3{1, 1, 0}, scene.AABB{})
	if cs.Cascades[CascadeCount-1].SplitDistance != -50 {
		t.Fatalf("expected the shadow range capped at 50, got %f", -cs.Cascades[CascadeCount-1].SplitDistance)
	}
}

func boundsCorners(b scene.AABB) []mgl32.Vec3 {
	out := []mgl32.Vec3{}
	for _, x := range []float32{b.Min.X(), b.Max.X()} {
		for _, y := range []float32{b.Min.Y(), b.Max.Y()} {
			for _, z := range []float32{b.Min.Z(), b.Max.Z()} {
				out = append(out, mgl32.Vec3{x, y, z})
			}
		}
	}
	return out
}

func TestBoundsClampDepthRange(t *testing.T) {
	cam := testCamera()
	light := mgl32.Vec3{0, 1, 0}
	// a tall tower reaching far above every cascade sphere
	bounds := scene.AABB{Min: mgl32.Vec3{-20, -1, -20}, Max: mgl32.Vec3{20, 60, 20}}

	unbounded := New(2048)
	unbounded.Update(cam, light, scene.AABB{})
	top := mgl32.Vec4{3, 60, 0, 1}
	if z := unbounded.Cascades[0].ProjView.Mul4x1(top).Z(); z >= -1 {
		t.Fatalf("expected the tower top in front of the unbounded near plane, got z=%f", z)
	}

	cs := New(2048)
	cs.Update(cam, light, bounds)
	for i, c := range cs.Cascades {
		for _, corner := range boundsCorners(bounds) {
			z := c.ProjView.Mul4x1(corner.Vec4(1)).Z()
			if z < -1.001 || (corner.Y() == bounds.Max.Y() && z > 1.001) {
				t.Fatalf("cascade %d: caster %v outside the depth range, z=%f", i, corner, z)
			}
		}
		// receivers on the view axis inside the slice stay in range
		depth := -c.SplitDistance * 0.99
		world := cam.InverseView().Mul4x1(mgl32.Vec4{0, 0, -depth, 1})
		if world.Y() > bounds.Min.Y() {
			if z := c.ProjView.Mul4x1(world).Z(); z < -1.001 || z > 1.001 {
				t.Fatalf("cascade %d: receiver at depth %f outside the depth range, z=%f", i, depth, z)
			}
		}
	}
	if cs.Cascades[0].SplitDistance != unbounded.Cascades[0].SplitDistance {
		t.Fatal("bounds must not move the split distances")
	}
}
