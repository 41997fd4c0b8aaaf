package engine

import (
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/scene"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	// Gui is optional. It feeds the GUI stage when the pipeline has one.
	Gui          metadata.GuiProvider
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// Initialize builds the scene. Textures are created through loader.
type Initialize func(loader *resources.TextureLoader) (*scene.Scene, error)
type Update func(s *scene.Scene, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
