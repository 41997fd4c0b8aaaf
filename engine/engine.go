package engine

import (
	"errors"
	"sync/atomic"

	"github.com/spaghettifunk/umbra/engine/assets"
	"github.com/spaghettifunk/umbra/engine/config"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer"
	"github.com/spaghettifunk/umbra/engine/renderer/headless"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/stages"
	"github.com/spaghettifunk/umbra/engine/scene"
	"github.com/spaghettifunk/umbra/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything
	EngineStageShutdown
)

// Window is the surface the engine presents to along with its event pump.
type Window interface {
	metadata.Surface
	// PumpMessages processes window events and reports whether the loop
	// should keep going.
	PumpMessages() bool
	SwapBuffers()
	// Resized reports the drawable size when it changed since the last call.
	Resized() (width, height uint32, changed bool)
}

// offscreen is the Window of a headless run.
type offscreen struct {
	*headless.Surface
}

func (offscreen) PumpMessages() bool              { return true }
func (offscreen) SwapBuffers()                    {}
func (offscreen) Resized() (uint32, uint32, bool) { return 0, 0, false }

/**
 * @brief Engine drives the frame loop: it pumps window events, applies hot
 * reload requests, updates the game and renders its scene. Everything but
 * Shutdown must be called from the goroutine owning the graphics context.
 */
type Engine struct {
	currentStage Stage
	gameInstance *Game
	settings     config.Settings
	settingsPath string

	window   Window
	backend  metadata.Backend
	renderer *renderer.Instance
	watcher  *assets.AssetWatcher
	jobs     *systems.JobSystem
	scene    *scene.Scene

	clock      *core.Clock
	lastTime   float64
	frameCount uint64
	stop       atomic.Bool
}

// New wires the renderer to backend. A nil window renders offscreen at the
// configured window size. settingsPath may be empty, in which case the
// settings are not watched for changes.
func New(g *Game, settings config.Settings, settingsPath string, backend metadata.Backend, window Window) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if window == nil {
		window = offscreen{&headless.Surface{Width: settings.Window.Width, Height: settings.Window.Height}}
	}

	jobs, err := systems.NewJobSystem(settings.Jobs.Workers, settings.Jobs.QueueSize)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	opts := []renderer.Option{
		renderer.WithShaderDir(settings.Renderer.ShaderDir),
		renderer.WithSettings(rendererSettings(settings)),
		renderer.WithJobSystem(jobs),
		renderer.WithPipeline(settings.Pipeline()),
	}
	if g.Gui != nil {
		opts = append(opts, renderer.WithGui(g.Gui))
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		settings:     settings,
		settingsPath: settingsPath,
		window:       window,
		backend:      backend,
		renderer:     renderer.New(backend, opts...),
		jobs:         jobs,
		clock:        core.NewClock(),
	}, nil
}

func rendererSettings(s config.Settings) stages.Settings {
	out := stages.DefaultSettings()
	out.ShadowMapSize = s.Renderer.ShadowMapSize
	out.ShadowDistance = s.Renderer.ShadowDistance
	out.Exposure = s.Renderer.Exposure
	out.Gamma = s.Renderer.Gamma
	return out
}

func (e *Engine) Renderer() *renderer.Instance {
	return e.renderer
}

func (e *Engine) Scene() *scene.Scene {
	return e.scene
}

func (e *Engine) FrameCount() uint64 {
	return e.frameCount
}

// Initialize brings the renderer up and builds the game scene. On failure
// everything acquired so far is released.
func (e *Engine) Initialize() (err error) {
	e.currentStage = EngineStageInitializing
	defer func() {
		if err != nil {
			e.shutdown()
		}
	}()
	core.SetLogLevel(core.ParseLogLevel(e.settings.Log.Level))

	if err := e.renderer.Initialize(e.window); err != nil {
		return err
	}
	// an invalid pipeline leaves the renderer up but not renderable; frames
	// are skipped until a valid one is swapped in
	if !e.renderer.Renderable() {
		core.LogWarn("pipeline %s is not renderable, waiting for a valid one", e.renderer.Config())
	}

	e.scene, err = e.gameInstance.FnInitialize(e.renderer.TextureLoader())
	if err != nil {
		return err
	}

	width, height := e.window.Size()
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			return err
		}
	}

	if e.settingsPath != "" || e.settings.Renderer.ShaderDir != "" {
		w, werr := assets.NewAssetWatcher(e.settingsPath, e.settings.Renderer.ShaderDir, e.renderer.Config())
		if werr != nil {
			return werr
		}
		if err := w.Start(); err != nil {
			_ = w.Close()
			return err
		}
		e.watcher = w
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Run renders until the window closes, Shutdown is called or the configured
// number of frames is reached. Everything is released before it returns.
func (e *Engine) Run() error {
	defer e.shutdown()

	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed().Seconds()

	maxFrames := e.settings.Renderer.Frames
	for !e.stop.Load() {
		if !e.window.PumpMessages() {
			break
		}
		e.processRequests()
		if err := e.handleResize(); err != nil {
			return err
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed().Seconds()
		delta := currentTime - e.lastTime

		if err := e.gameInstance.FnUpdate(e.scene, delta); err != nil {
			core.LogError("game update failed, shutting down: %s", err.Error())
			return err
		}

		if err := e.renderFrame(); err != nil {
			return err
		}
		e.window.SwapBuffers()

		e.lastTime = currentTime
		e.frameCount++
		if e.frameCount%120 == 0 {
			m := e.renderer.Metrics()
			core.LogDebug("frame %d: %.2f fps, %.3f ms", e.frameCount, m.FPS(), m.FrameTime())
		}
		if maxFrames > 0 && e.frameCount >= maxFrames {
			break
		}
	}
	return nil
}

// renderFrame renders the scene. Frames refused because of the pipeline
// configuration or because the renderer lost its shared buffers are
// skipped; the loop keeps running so a swap can fix it. Stage failures are
// absorbed by the renderer and only show up in its frame stats.
func (e *Engine) renderFrame() error {
	err := e.renderer.Render(e.scene)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrNotRenderable), errors.Is(err, core.ErrConfiguration):
		e.renderer.ProcessResources()
		return nil
	default:
		core.LogError("render failed, shutting down: %s", err.Error())
		return err
	}
}

func (e *Engine) handleResize() error {
	width, height, changed := e.window.Resized()
	if !changed {
		return nil
	}
	core.LogDebug("window resize: %d, %d", width, height)
	if width == 0 || height == 0 {
		// minimized
		return nil
	}
	if err := e.renderer.Resize(width, height); err != nil {
		return err
	}
	if e.scene != nil && e.scene.Camera != nil {
		e.scene.Camera.Resize(width, height)
	}
	if e.gameInstance.FnOnResize != nil {
		return e.gameInstance.FnOnResize(width, height)
	}
	return nil
}

// processRequests applies every pending hot reload request.
func (e *Engine) processRequests() {
	if e.watcher == nil {
		return
	}
	for {
		select {
		case req, ok := <-e.watcher.Requests():
			if !ok {
				return
			}
			e.applyRequest(req)
		default:
			return
		}
	}
}

func (e *Engine) applyRequest(req assets.Request) {
	switch req.Kind {
	case assets.RequestSwapPipeline:
		core.SetLogLevel(core.ParseLogLevel(req.Settings.Log.Level))
		if err := e.renderer.SwapPipeline(req.Pipeline); err != nil {
			core.LogError("pipeline swap to %s: %s", req.Pipeline, err.Error())
			return
		}
		core.LogInfo("pipeline swapped to %s", req.Pipeline)
	case assets.RequestReloadShader:
		if err := e.renderer.ReloadShaders(req.Path); err != nil {
			core.LogError("shader reload of %s: %s", req.Path, err.Error())
		}
	}
}

// Shutdown asks a running loop to stop. It is safe to call from any
// goroutine.
func (e *Engine) Shutdown() {
	e.stop.Store(true)
}

func (e *Engine) shutdown() {
	if e.currentStage == EngineStageShutdown {
		return
	}
	e.currentStage = EngineStageShuttingDown
	if e.watcher != nil {
		_ = e.watcher.Close()
		e.watcher = nil
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			core.LogError(err.Error())
		}
	}
	// pending decodes may still queue uploads; stop the workers first
	if err := e.jobs.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	e.renderer.Cleanup()
	e.currentStage = EngineStageShutdown
	core.LogInfo("engine shut down after %d frames", e.frameCount)
}
