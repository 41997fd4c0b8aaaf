package pipeline

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/umbra/engine/core"
)

func TestGraphEnabledKeepsOrder(t *testing.T) {
	c := NewBuilder().WithGui().WithScene().WithAnimation().WithSkybox().Build()
	got := DefaultGraph().Enabled(c)
	want := []StageKind{StageAnimation, StageShadow, StageScene, StageLight, StageSkybox, StageGui}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestGraphValidateMissingProducer(t *testing.T) {
	tests := []struct {
		name string
		c    Config
	}{
		// lighting without its g-buffer producer
		{"light-only", LightingBit | ShadowBit},
		// lighting without shadow maps
		{"no-shadow", SceneBit | LightingBit},
		// filter with nothing producing scene colour
		{"filter-only", FilterBit},
		{"error-bit", NewBuilder().WithScene().Build() | ErrorBit},
	}
	for _, tt := range tests {
		err := DefaultGraph().Validate(tt.c)
		if !errors.Is(err, core.ErrConfiguration) {
			t.Errorf("%s: expected configuration error, got %v", tt.name, err)
		}
	}
}
