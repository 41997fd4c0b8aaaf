package engine

import (
	"github.com/spaghettifunk/umbra/engine/config"
	"github.com/spaghettifunk/umbra/engine/core"
)

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX int32
	// Window starting position y axis, if applicable.
	StartPosY int32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name     string
	LogLevel core.LogLevel
	// Headless renders offscreen through the recording backend.
	Headless bool
	// MaxFrames stops the loop after that many frames. Zero runs until the
	// window closes.
	MaxFrames uint64
}

func NewApplicationConfig(s config.Settings) *ApplicationConfig {
	return &ApplicationConfig{
		StartPosX:   s.Window.PosX,
		StartPosY:   s.Window.PosY,
		StartWidth:  s.Window.Width,
		StartHeight: s.Window.Height,
		Name:        s.Window.Title,
		LogLevel:    core.ParseLogLevel(s.Log.Level),
		Headless:    s.Renderer.Headless,
		MaxFrames:   s.Renderer.Frames,
	}
}
