package pipeline

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
)

// StageKind identifies one pipeline phase.
type StageKind int

const (
	StageAnimation StageKind = iota
	StageShadow
	StageScene
	StageLight
	StageSkybox
	StageFilter
	StageGui
)

// Order is the fixed topological execution order of the stages.
var Order = []StageKind{
	StageAnimation,
	StageShadow,
	StageScene,
	StageLight,
	StageSkybox,
	StageFilter,
	StageGui,
}

var stageBits = map[StageKind]Config{
	StageAnimation: AnimationBit,
	StageShadow:    ShadowBit,
	StageScene:     SceneBit,
	StageLight:     LightingBit,
	StageSkybox:    SkyboxBit,
	StageFilter:    FilterBit,
	StageGui:       GuiBit,
}

func (k StageKind) String() string {
	switch k {
	case StageAnimation:
		return "animation"
	case StageShadow:
		return "shadow"
	case StageScene:
		return "scene"
	case StageLight:
		return "light"
	case StageSkybox:
		return "skybox"
	case StageFilter:
		return "filter"
	case StageGui:
		return "gui"
	default:
		return fmt.Sprintf("stage(%d)", int(k))
	}
}

// Attachment names a shared resource passed between stages.
type Attachment string

const (
	AttachmentAnimatedVertices Attachment = "animated-vertices"
	AttachmentShadowMap        Attachment = "shadow-map"
	AttachmentGBuffer          Attachment = "g-buffer"
	AttachmentSceneColor       Attachment = "scene-color"
	// AttachmentPresent is the surface target. It always exists.
	AttachmentPresent Attachment = "present"
)

// Node declares what a stage reads and writes.
type Node struct {
	Stage StageKind
	// Reads must all be satisfied for the stage to run.
	Reads []Attachment
	// OptionalReads are sampled when present and skipped otherwise.
	OptionalReads []Attachment
	Writes        []Attachment
}

type Graph struct {
	Nodes []Node
}

// DefaultGraph describes the deferred pipeline. Node order is execution
// order.
func DefaultGraph() *Graph {
	return &Graph{
		Nodes: []Node{
			{
				Stage:  StageAnimation,
				Writes: []Attachment{AttachmentAnimatedVertices},
			},
			{
				Stage:         StageShadow,
				OptionalReads: []Attachment{AttachmentAnimatedVertices},
				Writes:        []Attachment{AttachmentShadowMap},
			},
			{
				Stage:         StageScene,
				OptionalReads: []Attachment{AttachmentAnimatedVertices},
				Writes:        []Attachment{AttachmentGBuffer},
			},
			{
				Stage:  StageLight,
				Reads:  []Attachment{AttachmentGBuffer, AttachmentShadowMap},
				Writes: []Attachment{AttachmentSceneColor},
			},
			{
				Stage: StageSkybox,
				// Skybox draws into the resolved colour target when lighting
				// ran and straight to the surface otherwise.
				OptionalReads: []Attachment{AttachmentSceneColor, AttachmentGBuffer},
				Writes:        []Attachment{AttachmentSceneColor},
			},
			{
				Stage:  StageFilter,
				Reads:  []Attachment{AttachmentSceneColor},
				Writes: []Attachment{AttachmentPresent},
			},
			{
				Stage:  StageGui,
				Writes: []Attachment{AttachmentPresent},
			},
		},
	}
}

// Enabled returns the enabled stages of the graph in execution order.
func (g *Graph) Enabled(c Config) []StageKind {
	out := []StageKind{}
	for _, n := range g.Nodes {
		if c.Enabled(n.Stage) {
			out = append(out, n.Stage)
		}
	}
	return out
}

// Validate checks that every attachment an enabled stage reads is written by
// an enabled stage that runs before it.
func (g *Graph) Validate(c Config) error {
	if HasError(c) {
		return fmt.Errorf("configuration %s carries the error bit: %w", c, core.ErrConfiguration)
	}
	if c&reservedMask != 0 {
		return fmt.Errorf("configuration %s uses reserved bits: %w", c, core.ErrConfiguration)
	}
	if c&(AnimationBit|TransparencyBit|WireframeBit) != 0 && !HasSceneStage(c) {
		return fmt.Errorf("configuration %s modifies the scene pass without enabling it: %w", c, core.ErrConfiguration)
	}

	available := map[Attachment]bool{
		AttachmentPresent: true,
	}
	for _, n := range g.Nodes {
		if !c.Enabled(n.Stage) {
			continue
		}
		for _, r := range n.Reads {
			if !available[r] {
				return fmt.Errorf("stage %s reads %s which no earlier enabled stage writes: %w", n.Stage, r, core.ErrConfiguration)
			}
		}
		for _, w := range n.Writes {
			available[w] = true
		}
	}
	return nil
}
