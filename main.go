/*
Umbra renders the testbed scene through the configurable deferred pipeline,
either in a window or headless through the recording backend.
*/
package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/umbra/engine"
	"github.com/spaghettifunk/umbra/engine/config"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/headless"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/opengl"
	"github.com/spaghettifunk/umbra/engine/platform"
	"github.com/spaghettifunk/umbra/testbed"
	"github.com/xlab/closer"
)

func main() {
	settingsPath := flag.String("config", "umbra.toml", "settings file, watched for pipeline changes")
	headlessRun := flag.Bool("headless", false, "render offscreen through the recording backend")
	frames := flag.Uint64("frames", 0, "stop after this many frames, 0 runs until the window closes")
	flag.Parse()

	settings, err := config.Load(*settingsPath)
	if err != nil {
		core.LogError("settings: %s, using defaults", err.Error())
	}
	if _, statErr := os.Stat(*settingsPath); errors.Is(statErr, fs.ErrNotExist) {
		// only watch files that exist
		*settingsPath = ""
	}
	if *headlessRun {
		settings.Renderer.Headless = true
	}
	if *frames > 0 {
		settings.Renderer.Frames = *frames
	}
	if settings.Renderer.Headless && settings.Renderer.Frames == 0 {
		settings.Renderer.Frames = 120
	}
	core.SetLogLevel(core.ParseLogLevel(settings.Log.Level))

	appConfig := engine.NewApplicationConfig(settings)
	tb := testbed.NewTestGame(appConfig)

	var backend metadata.Backend
	var window engine.Window
	if appConfig.Headless {
		backend = headless.New()
	} else {
		p := platform.New()
		if err := p.Startup(appConfig.Name, appConfig.StartPosX, appConfig.StartPosY, appConfig.StartWidth, appConfig.StartHeight); err != nil {
			core.LogFatal("platform: %s", err.Error())
		}
		closer.Bind(func() { _ = p.Shutdown() })
		p.OnKey(func(key glfw.Key, action glfw.Action) {
			if key == glfw.KeyEscape && action == glfw.Press {
				p.RequestClose()
			}
		})
		glBackend, err := opengl.New()
		if err != nil {
			core.LogFatal("opengl: %s", err.Error())
		}
		// bound cleanups run in reverse order, after the engine stopped
		closer.Bind(glBackend.Cleanup)
		backend, window = glBackend, p
	}

	e, err := engine.New(tb.Game, settings, *settingsPath, backend, window)
	if err != nil {
		core.LogFatal(err.Error())
	}
	if err := e.Initialize(); err != nil {
		core.LogFatal(err.Error())
	}

	// a signal stops the loop; Run releases everything on this goroutine
	done := make(chan struct{})
	closer.Bind(func() {
		e.Shutdown()
		<-done
	})

	err = e.Run()
	close(done)
	if err != nil {
		core.LogError(err.Error())
		closer.Exit(1)
	}
	if hb, ok := backend.(*headless.Backend); ok {
		stats := e.Renderer().Stats()
		core.LogInfo("rendered %d frames, last frame: %d batches, %d lights, %d shadow draws, %d gui draws, stages %v",
			e.FrameCount(), len(stats.Batches), stats.LightsUploaded(), stats.ShadowDraws, stats.GuiDraws, stats.Stages)
		if len(hb.Errors) > 0 {
			core.LogError("backend reported %d misuses", len(hb.Errors))
			closer.Exit(1)
		}
	}
	closer.Close()
}
