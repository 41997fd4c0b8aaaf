package stages

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

//go:embed shaders
var builtin embed.FS

var programs = map[string]map[metadata.ShaderStage]string{
	"animation":   {metadata.ShaderStageCompute: "animation.comp"},
	"shadow":      {metadata.ShaderStageVertex: "shadow.vert", metadata.ShaderStageFragment: "shadow.frag"},
	"scene":       {metadata.ShaderStageVertex: "scene.vert", metadata.ShaderStageFragment: "scene.frag"},
	"transparent": {metadata.ShaderStageVertex: "scene.vert", metadata.ShaderStageFragment: "transparent.frag"},
	"light":       {metadata.ShaderStageVertex: "quad.vert", metadata.ShaderStageFragment: "light.frag"},
	"skybox":      {metadata.ShaderStageVertex: "skybox.vert", metadata.ShaderStageFragment: "skybox.frag"},
	"filter":      {metadata.ShaderStageVertex: "quad.vert", metadata.ShaderStageFragment: "filter.frag"},
	"gui":         {metadata.ShaderStageVertex: "gui.vert", metadata.ShaderStageFragment: "gui.frag"},
}

/**
 * @brief ShaderLibrary resolves program sources. Files found in the
 * override directory win over the built-in sources, which lets shaders be
 * edited and reloaded while the engine runs.
 */
type ShaderLibrary struct {
	dir string
}

// NewShaderLibrary creates a library. An empty dir uses the built-in
// sources only.
func NewShaderLibrary(dir string) *ShaderLibrary {
	return &ShaderLibrary{dir: dir}
}

func (l *ShaderLibrary) Dir() string {
	return l.dir
}

// ProgramNames returns every known program in a stable order.
func ProgramNames() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (l *ShaderLibrary) Program(name string) (metadata.ShaderSource, error) {
	files, ok := programs[name]
	if !ok {
		return metadata.ShaderSource{}, fmt.Errorf("unknown shader program %q", name)
	}
	src := metadata.ShaderSource{
		Name:    name,
		Sources: make(map[metadata.ShaderStage]string, len(files)),
	}
	for stage, file := range files {
		code, err := l.read(file)
		if err != nil {
			core.LogError("shader library: %s", err.Error())
			return metadata.ShaderSource{}, err
		}
		src.Sources[stage] = code
	}
	return src, nil
}

func (l *ShaderLibrary) read(file string) (string, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, file))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
	}
	data, err := builtin.ReadFile("shaders/" + file)
	if err != nil {
		return "", fmt.Errorf("read built-in %s: %w", file, err)
	}
	return string(data), nil
}

// ProgramsUsing returns the programs built from the given file name.
func ProgramsUsing(file string) []string {
	base := filepath.Base(file)
	out := []string{}
	for _, name := range ProgramNames() {
		for _, f := range programs[name] {
			if f == base {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
