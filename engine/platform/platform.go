// Package platform owns the window and the OpenGL context.
package platform

import (
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

/**
 * @brief Platform is the window the renderer presents to. It implements
 * metadata.Surface: the target is the default framebuffer.
 */
type Platform struct {
	Window *glfw.Window

	width   uint32
	height  uint32
	resized bool
	onKey   func(key glfw.Key, action glfw.Action)
}

func New() *Platform {
	return &Platform{}
}

// Startup creates the window with a current OpenGL 4.6 core context.
func (p *Platform) Startup(applicationName string, x, y int32, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 6)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return err
	}
	window.MakeContextCurrent()
	glfw.SwapInterval(1)
	p.Window = window

	fbw, fbh := window.GetFramebufferSize()
	p.width, p.height = uint32(fbw), uint32(fbh)

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. It returns false once the
// window was asked to close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

func (p *Platform) SwapBuffers() {
	p.Window.SwapBuffers()
}

func (p *Platform) RequestClose() {
	p.Window.SetShouldClose(true)
}

// OnKey registers the handler called for every key event.
func (p *Platform) OnKey(fn func(key glfw.Key, action glfw.Action)) {
	p.onKey = fn
}

// Resized reports whether the framebuffer size changed since the last call.
func (p *Platform) Resized() (width, height uint32, changed bool) {
	changed = p.resized
	p.resized = false
	return p.width, p.height, changed
}

func (p *Platform) Size() (uint32, uint32) {
	return p.width, p.height
}

func (p *Platform) Target() metadata.Framebuffer {
	return metadata.Framebuffer{Name: "window", Width: p.width, Height: p.height}
}

// GetAbsoluteTime returns the seconds since glfw was initialized.
func GetAbsoluteTime() float64 {
	return glfw.GetTime()
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if p.onKey != nil {
		p.onKey(key, action)
	}
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.width, p.height = uint32(width), uint32(height)
	p.resized = true
}
