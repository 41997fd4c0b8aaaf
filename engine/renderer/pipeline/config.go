package pipeline

import (
	"fmt"
	"strings"
)

// Config is the bit-encoded pipeline configuration. It is built once and
// never mutated; the integer form can be persisted and restored verbatim.
type Config uint32

const (
	AnimationBit    Config = 1 << 0
	ShadowBit       Config = 1 << 1
	SceneBit        Config = 1 << 2
	LightingBit     Config = 1 << 3
	SkyboxBit       Config = 1 << 4
	FilterBit       Config = 1 << 5
	GuiBit          Config = 1 << 6
	TransparencyBit Config = 1 << 7
	WireframeBit    Config = 1 << 8
	// ErrorBit marks a configuration that must not be executed.
	ErrorBit Config = 1 << 31

	featureMask  = AnimationBit | ShadowBit | SceneBit | LightingBit | SkyboxBit | FilterBit | GuiBit | TransparencyBit | WireframeBit
	reservedMask = ^(featureMask | ErrorBit)
)

// Builder accumulates feature bits. The zero value is an empty builder.
type Builder struct {
	bits Config
}

// NewBuilder returns a builder with every bit clear.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithAnimation() *Builder {
	b.bits |= AnimationBit
	return b
}

// WithScene enables geometry rendering. Shadow and lighting are enabled with
// it: the lighting stage assumes the g-buffer and shadow maps are populated
// whenever geometry is drawn.
func (b *Builder) WithScene() *Builder {
	b.bits |= ShadowBit | SceneBit | LightingBit
	return b
}

func (b *Builder) WithSkybox() *Builder {
	b.bits |= SkyboxBit
	return b
}

func (b *Builder) WithFilter() *Builder {
	b.bits |= FilterBit
	return b
}

func (b *Builder) WithGui() *Builder {
	b.bits |= GuiBit
	return b
}

func (b *Builder) WithTransparency() *Builder {
	b.bits |= TransparencyBit
	return b
}

func (b *Builder) WithWireframe() *Builder {
	b.bits |= WireframeBit
	return b
}

// Build returns the final configuration. Animation, transparency and
// wireframe only modify the scene pass; requesting them without the scene
// sets the error bit.
func (b *Builder) Build() Config {
	c := b.bits
	if c&(AnimationBit|TransparencyBit|WireframeBit) != 0 && c&SceneBit == 0 {
		c |= ErrorBit
	}
	return c
}

// FromUint32 restores a persisted configuration. Reserved bits must be zero;
// when they are not the result carries the error bit.
func FromUint32(v uint32) Config {
	c := Config(v)
	if c&reservedMask != 0 {
		c |= ErrorBit
	}
	return c
}

func (c Config) Uint32() uint32 {
	return uint32(c)
}

func HasAnimationStage(c Config) bool {
	return c&AnimationBit != 0
}

func HasShadowStage(c Config) bool {
	return c&ShadowBit != 0
}

func HasSceneStage(c Config) bool {
	return c&SceneBit != 0
}

func HasLightingStage(c Config) bool {
	return c&LightingBit != 0
}

func HasSkyboxStage(c Config) bool {
	return c&SkyboxBit != 0
}

func HasFilterStage(c Config) bool {
	return c&FilterBit != 0
}

func HasGuiStage(c Config) bool {
	return c&GuiBit != 0
}

func HasTransparencyPass(c Config) bool {
	return c&TransparencyBit != 0
}

func SceneIsWireframe(c Config) bool {
	return c&WireframeBit != 0
}

func HasError(c Config) bool {
	return c&ErrorBit != 0
}

func (c Config) HasAnimationStage() bool   { return HasAnimationStage(c) }
func (c Config) HasShadowStage() bool      { return HasShadowStage(c) }
func (c Config) HasSceneStage() bool       { return HasSceneStage(c) }
func (c Config) HasLightingStage() bool    { return HasLightingStage(c) }
func (c Config) HasSkyboxStage() bool      { return HasSkyboxStage(c) }
func (c Config) HasFilterStage() bool      { return HasFilterStage(c) }
func (c Config) HasGuiStage() bool         { return HasGuiStage(c) }
func (c Config) HasTransparencyPass() bool { return HasTransparencyPass(c) }
func (c Config) SceneIsWireframe() bool    { return SceneIsWireframe(c) }
func (c Config) HasError() bool            { return HasError(c) }

// Enabled reports whether the stage of the given kind is enabled.
func (c Config) Enabled(kind StageKind) bool {
	bit, ok := stageBits[kind]
	return ok && c&bit != 0
}

// Without returns c with the bit gating kind cleared.
func (c Config) Without(kind StageKind) Config {
	return c &^ stageBits[kind]
}

var names = []struct {
	bit  Config
	name string
}{
	{AnimationBit, "animation"},
	{ShadowBit, "shadow"},
	{SceneBit, "scene"},
	{LightingBit, "lighting"},
	{SkyboxBit, "skybox"},
	{FilterBit, "filter"},
	{GuiBit, "gui"},
	{TransparencyBit, "transparency"},
	{WireframeBit, "wireframe"},
	{ErrorBit, "error"},
}

func (c Config) String() string {
	parts := []string{}
	for _, n := range names {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if c&reservedMask != 0 {
		parts = append(parts, fmt.Sprintf("reserved(0x%x)", uint32(c&reservedMask)))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, "|")
}

// Diff returns the stages whose enable bit differs between a and b, in
// execution order.
func Diff(a, b Config) []StageKind {
	out := []StageKind{}
	for _, kind := range Order {
		if a.Enabled(kind) != b.Enabled(kind) {
			out = append(out, kind)
		}
	}
	return out
}
