//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed in a window.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "-config", "umbra.toml"), withStream())
	return err
}

// Renders the testbed offscreen for a fixed number of frames.
func (Run) Headless() error {
	fmt.Println("Run headless...")
	_, err := executeCmd("go", withArgs("run", ".", "-headless", "-frames", "120"), withStream())
	return err
}
