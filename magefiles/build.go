//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "engine/renderer/stages/shaders"

// Tidies the module and builds the umbra binary into bin/.
func (Build) Engine() error {
	if err := goTidy(); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "umbra"), "."), withStream())
	return err
}

// Validates the built-in GLSL sources with glslangValidator.
func (Build) Shaders() error {
	files, err := filepath.Glob(filepath.Join(shaderDir, "*.*"))
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := executeCmd("glslangValidator", withArgs(filepath.Base(f)), withDir(shaderDir)); err != nil {
			return err
		}
	}
	return nil
}
