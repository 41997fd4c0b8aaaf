package core

import (
	"errors"
)

var (
	// ErrConfiguration is returned when a pipeline configuration carries the
	// error bit or its stage set cannot be satisfied.
	ErrConfiguration = errors.New("invalid pipeline configuration")
	// ErrResourceCreation is returned when the graphics backend refuses to
	// create a shader, buffer, texture or framebuffer.
	ErrResourceCreation = errors.New("graphics resource creation failed")
	ErrNotInitialized   = errors.New("renderer instance not initialized")
	// ErrNotRenderable is returned after a failure left shared resources in
	// an unknown state. Initialize or SwapPipeline must be retried.
	ErrNotRenderable       = errors.New("renderer instance is not renderable")
	ErrCleanedUp           = errors.New("renderer instance already cleaned up")
	ErrUnknownResourceType = errors.New("unknown resource type")
)
