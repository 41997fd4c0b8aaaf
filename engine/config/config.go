// Package config loads and stores the engine settings file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/shadow"
)

type Window struct {
	Title  string `toml:"title"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	PosX   int32  `toml:"pos_x"`
	PosY   int32  `toml:"pos_y"`
}

type Renderer struct {
	// Pipeline is the persisted pipeline configuration integer.
	Pipeline      uint32  `toml:"pipeline"`
	ShadowMapSize uint32  `toml:"shadow_map_size"`
	// ShadowDistance caps the shadowed range. 0 shadows up to the far plane.
	ShadowDistance float32 `toml:"shadow_distance"`
	Exposure       float32 `toml:"exposure"`
	Gamma          float32 `toml:"gamma"`
	// ShaderDir holds shader files overriding the built-in ones.
	ShaderDir string `toml:"shader_dir"`
	Headless  bool   `toml:"headless"`
	// Frames stops a headless run after that many frames. 0 runs forever.
	Frames uint64 `toml:"frames"`
}

type Jobs struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

type Log struct {
	Level string `toml:"level"`
}

type Settings struct {
	Window   Window   `toml:"window"`
	Renderer Renderer `toml:"renderer"`
	Jobs     Jobs     `toml:"jobs"`
	Log      Log      `toml:"log"`
}

func Default() Settings {
	return Settings{
		Window: Window{
			Title:  "umbra",
			Width:  1280,
			Height: 720,
			PosX:   100,
			PosY:   100,
		},
		Renderer: Renderer{
			Pipeline:      renderer.DefaultPipeline().Uint32(),
			ShadowMapSize: shadow.DefaultMapSize,
			Exposure:      1,
			Gamma:         2.2,
		},
		Jobs: Jobs{
			Workers:   4,
			QueueSize: 64,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Pipeline returns the persisted pipeline configuration. Reserved bits turn
// into the error bit.
func (s Settings) Pipeline() pipeline.Config {
	return pipeline.FromUint32(s.Renderer.Pipeline)
}

// Load reads the settings at path on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		core.LogInfo("no settings file at %s, using defaults", path)
		return s, nil
	}
	if err != nil {
		return s, err
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return Default(), fmt.Errorf("%s:%d:%d: %w", path, row, col, err)
		}
		return Default(), fmt.Errorf("%s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Default(), fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.Window.Width == 0 || s.Window.Height == 0 {
		return fmt.Errorf("window size %dx%d: %w", s.Window.Width, s.Window.Height, core.ErrConfiguration)
	}
	if s.Renderer.ShadowMapSize == 0 || s.Renderer.ShadowMapSize&(s.Renderer.ShadowMapSize-1) != 0 {
		return fmt.Errorf("shadow map size %d is not a power of two: %w", s.Renderer.ShadowMapSize, core.ErrConfiguration)
	}
	if s.Renderer.ShadowDistance < 0 {
		return fmt.Errorf("negative shadow distance %f: %w", s.Renderer.ShadowDistance, core.ErrConfiguration)
	}
	if s.Jobs.Workers < 1 {
		return fmt.Errorf("%d job workers: %w", s.Jobs.Workers, core.ErrConfiguration)
	}
	return nil
}

func Save(path string, s Settings) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
