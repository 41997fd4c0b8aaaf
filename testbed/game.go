// Package testbed is a small demo scene used to exercise the engine, both
// in a window and headless.
package testbed

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/umbra/engine"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/scene"
)

const (
	cubeCount      = 3
	rotationSpeed  = 0.5
	bounceInterval = 0.5
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	cubes       *scene.Model
	bouncer     *scene.Model
	sinceBounce float64
	angle       float32
	overlay     *overlay
}

func NewTestGame(config *engine.ApplicationConfig) *TestGame {
	state := &gameState{overlay: &overlay{}}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State:             state,
			Gui:               state.overlay,
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) Initialize(loader *resources.TextureLoader) (*scene.Scene, error) {
	core.LogInfo("initializing testbed...")
	state := g.State.(*gameState)

	cfg := g.ApplicationConfig
	camera := scene.NewCamera(cfg.StartWidth, cfg.StartHeight)
	camera.SetPosition(mgl32.Vec3{0, 4, 14})
	camera.SetEulerRotation(mgl32.Vec3{mgl32.DegToRad(-15), 0, 0})
	s := scene.New(camera)

	s.Materials = []scene.Material{
		{DiffuseColor: mgl32.Vec4{0.8, 0.8, 0.8, 1}, Roughness: 0.9},
		{DiffuseColor: mgl32.Vec4{0.8, 0.2, 0.2, 1}, Roughness: 0.4, Metallic: 0.2},
		{DiffuseColor: mgl32.Vec4{0.3, 0.6, 0.9, 0.4}, Roughness: 0.1, Transparent: true},
	}
	// slot 0 is never sampled
	fallback, err := loader.Fallback()
	if err != nil {
		return nil, err
	}
	s.Textures = []metadata.Texture{fallback}

	floor := scene.NewModel("floor", []scene.Mesh{scene.NewPlaneMesh(40, 40, 4, 4, 8, 8, 0)})
	floor.AddEntity(scene.NewEntity("floor", mgl32.HomogRotate3DX(mgl32.DegToRad(-90))))
	s.AddModel(floor)

	state.cubes = scene.NewModel("cube", []scene.Mesh{scene.NewCubeMesh(2, 2, 2, 1, 1, 1)})
	for i := 0; i < cubeCount; i++ {
		state.cubes.AddEntity(scene.NewEntity("cube", cubeMatrix(i, 0)))
	}
	s.AddModel(state.cubes)

	glass := scene.NewModel("glass", []scene.Mesh{scene.NewCubeMesh(3, 3, 0.2, 1, 1, 2)})
	glass.AddEntity(scene.NewEntity("glass", mgl32.Translate3D(0, 1.5, 4)))
	s.AddModel(glass)

	state.bouncer = newBouncer()
	s.AddModel(state.bouncer)

	s.Lights.Directional.Direction = mgl32.Vec3{0.3, 1, 0.4}.Normalize()
	s.Lights.Points = []scene.PointLight{{
		Color:       mgl32.Vec3{1, 0.7, 0.4},
		Position:    mgl32.Vec3{-4, 3, 2},
		Intensity:   2,
		Attenuation: scene.Attenuation{Constant: 1, Linear: 0.09, Exponent: 0.032},
	}}
	s.Lights.Spots = []scene.SpotLight{{
		PointLight: scene.PointLight{
			Color:       mgl32.Vec3{0.4, 0.6, 1},
			Position:    mgl32.Vec3{4, 6, 0},
			Intensity:   3,
			Attenuation: scene.Attenuation{Constant: 1, Linear: 0.05, Exponent: 0.01},
		},
		ConeDirection: mgl32.Vec3{0, -1, 0},
		CutOffAngle:   25,
	}}
	s.Fog = scene.Fog{Active: true, Color: mgl32.Vec3{0.5, 0.5, 0.6}, Density: 0.01}
	s.Skybox = &scene.Skybox{Tint: mgl32.Vec4{0.35, 0.45, 0.65, 1}}
	s.ComputeBounds()
	return s, nil
}

// newBouncer is a skinned cube with a single bone moving between two poses.
func newBouncer() *scene.Model {
	mesh := scene.NewCubeMesh(1, 1, 1, 1, 1, 1)
	n := mesh.VertexCount()
	weights := make([]float32, n*4)
	for v := 0; v < n; v++ {
		weights[v*4] = 1
	}
	m := scene.NewModel("bouncer", []scene.Mesh{mesh})
	m.Animated = true
	m.Animation = &scene.AnimationData{
		Weights:     weights,
		BoneIndices: make([]uint32, n*4),
		Frames:      [][]mgl32.Mat4{{mgl32.Ident4()}, {mgl32.Translate3D(0, 1, 0)}},
	}
	m.AddEntity(scene.NewEntity("bouncer", mgl32.Translate3D(-6, 0.5, 0)))
	return m
}

func cubeMatrix(i int, angle float32) mgl32.Mat4 {
	x := float32(i-cubeCount/2) * 4
	return mgl32.Translate3D(x, 1, 0).Mul4(mgl32.HomogRotate3DY(angle + float32(i)))
}

// Update spins the cubes and steps the bouncer animation.
func (g *TestGame) Update(s *scene.Scene, deltaTime float64) error {
	state := g.State.(*gameState)

	state.angle += float32(rotationSpeed * deltaTime)
	for i, e := range state.cubes.Entities {
		e.ModelMatrix = cubeMatrix(i, state.angle)
	}
	// the cascades are clamped to these
	s.ComputeBounds()

	state.sinceBounce += deltaTime
	if state.sinceBounce >= bounceInterval {
		state.sinceBounce = 0
		for _, e := range state.bouncer.Entities {
			e.AnimationFrame = (e.AnimationFrame + 1) % len(state.bouncer.Animation.Frames)
		}
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	state.overlay.resize(width, height)
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed")
	return nil
}

// overlay draws a translucent panel in the top left corner.
type overlay struct {
	width  uint32
	height uint32
	data   *metadata.GuiDrawData
}

const (
	panelWidth  = 220
	panelHeight = 80
	panelMargin = 10
)

func (o *overlay) resize(width, height uint32) {
	o.width, o.height = width, height
	o.data = nil
}

func (o *overlay) DrawData() *metadata.GuiDrawData {
	if o.width == 0 || o.height == 0 {
		return nil
	}
	if o.data == nil {
		o.data = panel(float32(o.width), float32(o.height))
	}
	return o.data
}

func (o *overlay) FontAtlas() ([]byte, uint32, uint32) {
	pixels := make([]byte, 8*8*4)
	for i := range pixels {
		pixels[i] = 0xff
	}
	return pixels, 8, 8
}

func panel(width, height float32) *metadata.GuiDrawData {
	x0, y0 := float32(panelMargin), float32(panelMargin)
	x1, y1 := x0+panelWidth, y0+panelHeight
	colour := [4]byte{20, 20, 30, 180}

	var vertices []byte
	for _, p := range [4][4]float32{{x0, y0, 0, 0}, {x1, y0, 1, 0}, {x1, y1, 1, 1}, {x0, y1, 0, 1}} {
		for _, f := range p {
			vertices = binary.LittleEndian.AppendUint32(vertices, math.Float32bits(f))
		}
		vertices = append(vertices, colour[:]...)
	}
	var indices []byte
	for _, idx := range []uint16{0, 1, 2, 0, 2, 3} {
		indices = binary.LittleEndian.AppendUint16(indices, idx)
	}

	return &metadata.GuiDrawData{
		DisplayWidth:  width,
		DisplayHeight: height,
		Lists: []metadata.GuiCommandList{{
			Vertices: vertices,
			Indices:  indices,
			Commands: []metadata.GuiCommand{{
				ElementCount: 6,
				ClipRect:     [4]float32{x0, y0, x1, y1},
			}},
		}},
	}
}
