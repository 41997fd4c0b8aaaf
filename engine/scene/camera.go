package scene

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine/core"
)

const (
	DefaultFOV      float32 = 60.0
	DefaultNearClip float32 = 0.01
	DefaultFarClip  float32 = 1000.0
)

/**
 * @brief A perspective camera. Position and rotation must be changed through
 * the setters so the view matrix is rebuilt when needed.
 */
type Camera struct {
	position mgl32.Vec3
	// pitch, yaw, roll in radians
	eulerRotation mgl32.Vec3
	isDirty       bool
	viewMatrix    mgl32.Mat4
	invView       mgl32.Mat4

	// FOV in degrees.
	FOV      float32
	NearClip float32
	FarClip  float32
	aspect   float32
}

func NewCamera(width, height uint32) *Camera {
	c := &Camera{
		FOV:      DefaultFOV,
		NearClip: DefaultNearClip,
		FarClip:  DefaultFarClip,
	}
	c.Reset()
	c.Resize(width, height)
	return c
}

func (c *Camera) Reset() {
	c.eulerRotation = mgl32.Vec3{}
	c.position = mgl32.Vec3{}
	c.viewMatrix = mgl32.Ident4()
	c.invView = mgl32.Ident4()
	c.isDirty = false
}

func (c *Camera) Resize(width, height uint32) {
	if height == 0 {
		height = 1
	}
	c.aspect = float32(width) / float32(height)
}

func (c *Camera) Aspect() float32 {
	return c.aspect
}

func (c *Camera) Position() mgl32.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.position = position
	c.isDirty = true
}

func (c *Camera) EulerRotation() mgl32.Vec3 {
	return c.eulerRotation
}

func (c *Camera) SetEulerRotation(rotation mgl32.Vec3) {
	c.eulerRotation = rotation
	c.isDirty = true
}

func (c *Camera) View() mgl32.Mat4 {
	if c.isDirty {
		rotation := mgl32.HomogRotate3DX(c.eulerRotation.X()).
			Mul4(mgl32.HomogRotate3DY(c.eulerRotation.Y())).
			Mul4(mgl32.HomogRotate3DZ(c.eulerRotation.Z()))
		translation := mgl32.Translate3D(-c.position.X(), -c.position.Y(), -c.position.Z())
		c.viewMatrix = rotation.Mul4(translation)
		c.invView = c.viewMatrix.Inv()
		c.isDirty = false
	}
	return c.viewMatrix
}

func (c *Camera) InverseView() mgl32.Mat4 {
	c.View()
	return c.invView
}

func (c *Camera) Projection() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), c.aspect, c.NearClip, c.FarClip)
}

func (c *Camera) InverseProjection() mgl32.Mat4 {
	return c.Projection().Inv()
}

// Forward returns the world-space direction the camera looks at.
func (c *Camera) Forward() mgl32.Vec3 {
	inv := c.InverseView()
	return inv.Mul4x1(mgl32.Vec4{0, 0, -1, 0}).Vec3().Normalize()
}

func (c *Camera) Right() mgl32.Vec3 {
	inv := c.InverseView()
	return inv.Mul4x1(mgl32.Vec4{1, 0, 0, 0}).Vec3().Normalize()
}

func (c *Camera) MoveForward(amount float32) {
	c.SetPosition(c.position.Add(c.Forward().Mul(amount)))
}

func (c *Camera) MoveBackward(amount float32) {
	c.SetPosition(c.position.Sub(c.Forward().Mul(amount)))
}

func (c *Camera) MoveLeft(amount float32) {
	c.SetPosition(c.position.Sub(c.Right().Mul(amount)))
}

func (c *Camera) MoveRight(amount float32) {
	c.SetPosition(c.position.Add(c.Right().Mul(amount)))
}

func (c *Camera) MoveUp(amount float32) {
	c.SetPosition(c.position.Add(mgl32.Vec3{0, amount, 0}))
}

func (c *Camera) MoveDown(amount float32) {
	c.SetPosition(c.position.Sub(mgl32.Vec3{0, amount, 0}))
}

func (c *Camera) Yaw(amount float32) {
	c.eulerRotation[1] += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	// Clamp to avoid gimbal lock, 89 degrees.
	limit := mgl32.DegToRad(89.0)
	c.eulerRotation[0] = core.Clamp(c.eulerRotation[0]+amount, -limit, limit)
	c.isDirty = true
}
