package testbed

import (
	"testing"

	"github.com/spaghettifunk/umbra/engine"
	"github.com/spaghettifunk/umbra/engine/config"
	"github.com/spaghettifunk/umbra/engine/renderer/headless"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
)

func TestHeadlessTestbed(t *testing.T) {
	tests := []struct {
		name     string
		pipeline pipeline.Config
	}{
		{"default", config.Default().Pipeline()},
		{"everything", pipeline.NewBuilder().WithAnimation().WithScene().WithSkybox().WithFilter().WithGui().WithTransparency().Build()},
		{"wireframe", pipeline.NewBuilder().WithScene().WithWireframe().Build()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := config.Default()
			settings.Window.Width, settings.Window.Height = 320, 240
			settings.Renderer.Pipeline = tt.pipeline.Uint32()
			settings.Renderer.Frames = 4
			settings.Jobs.Workers = 1

			be := headless.New()
			tg := NewTestGame(engine.NewApplicationConfig(settings))
			e, err := engine.New(tg.Game, settings, "", be, nil)
			if err != nil {
				t.Fatal(err)
			}
			if err := e.Initialize(); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			if err := e.Run(); err != nil {
				t.Fatalf("run: %v", err)
			}
			if e.FrameCount() != 4 {
				t.Fatalf("expected 4 frames, got %d", e.FrameCount())
			}
			if len(be.Errors) > 0 {
				t.Fatalf("backend misuse: %v", be.Errors)
			}
			if be.Live() != 0 {
				t.Fatalf("expected every resource released, %d live", be.Live())
			}
			if len(be.Frame().IndirectDraws) == 0 {
				t.Fatal("expected geometry to be drawn")
			}
		})
	}
}

func TestUpdateStepsAnimation(t *testing.T) {
	tg := NewTestGame(engine.NewApplicationConfig(config.Default()))
	state := tg.State.(*gameState)
	state.cubes = newBouncer()
	state.cubes.ID = "cube"
	state.bouncer = newBouncer()

	before := state.cubes.Entities[0].ModelMatrix
	if err := tg.Update(nil, bounceInterval); err != nil {
		t.Fatal(err)
	}
	if state.bouncer.Entities[0].AnimationFrame != 1 {
		t.Errorf("expected frame 1, got %d", state.bouncer.Entities[0].AnimationFrame)
	}
	if state.cubes.Entities[0].ModelMatrix == before {
		t.Error("expected the cubes to rotate")
	}
	if err := tg.Update(nil, bounceInterval); err != nil {
		t.Fatal(err)
	}
	if state.bouncer.Entities[0].AnimationFrame != 0 {
		t.Errorf("expected the animation to wrap, got %d", state.bouncer.Entities[0].AnimationFrame)
	}
}

func TestOverlayPanel(t *testing.T) {
	o := &overlay{}
	if o.DrawData() != nil {
		t.Fatal("expected nothing before the first resize")
	}
	o.resize(640, 480)
	data := o.DrawData()
	if data.CommandCount() != 1 {
		t.Fatalf("expected one command, got %d", data.CommandCount())
	}
	list := data.Lists[0]
	if len(list.Vertices) != 4*20 || len(list.Indices) != 6*2 {
		t.Fatalf("unexpected buffer sizes %d %d", len(list.Vertices), len(list.Indices))
	}
}
