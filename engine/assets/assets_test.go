package assets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/umbra/engine/config"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
)

func TestDetermineAssetType(t *testing.T) {
	am := &AssetWatcher{
		settingsPath: filepath.Clean("/etc/umbra/umbra.toml"),
		shaderDir:    filepath.Clean("/srv/shaders"),
	}
	tests := []struct {
		path string
		want AssetType
	}{
		{"/etc/umbra/umbra.toml", AssetTypeSettings},
		{"/etc/umbra/other.toml", AssetTypeNone},
		{"/srv/shaders/light.frag", AssetTypeShader},
		{"/srv/shaders/scene.vert", AssetTypeShader},
		{"/srv/shaders/animation.comp", AssetTypeShader},
		{"/srv/shaders/notes.txt", AssetTypeNone},
		{"/srv/shaders/nested/light.frag", AssetTypeNone},
	}
	for _, tt := range tests {
		if got := am.determineAssetType(tt.path); got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, got)
		}
	}
}

func nextRequest(t *testing.T, am *AssetWatcher) Request {
	t.Helper()
	select {
	case req := <-am.Requests():
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("no request delivered")
	}
	return Request{}
}

func TestWatcherDeliversRequests(t *testing.T) {
	dir := t.TempDir()
	shaders := filepath.Join(dir, "shaders")
	if err := os.Mkdir(shaders, 0o755); err != nil {
		t.Fatal(err)
	}
	settingsPath := filepath.Join(dir, "umbra.toml")
	current := pipeline.NewBuilder().WithScene().Build()

	am, err := NewAssetWatcher(settingsPath, shaders, current)
	if err != nil {
		t.Fatal(err)
	}
	if err := am.Start(); err != nil {
		t.Fatal(err)
	}
	defer am.Close()

	if err := os.WriteFile(filepath.Join(shaders, "light.frag"), []byte("#version 460\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	req := nextRequest(t, am)
	if req.Kind != RequestReloadShader || filepath.Base(req.Path) != "light.frag" {
		t.Fatalf("unexpected request %+v", req)
	}
	// a create may be followed by a write event for the same file
	for len(am.Requests()) > 0 {
		<-am.Requests()
	}

	s := config.Default()
	next := pipeline.NewBuilder().WithScene().WithGui().Build()
	s.Renderer.Pipeline = next.Uint32()
	if err := config.Save(settingsPath, s); err != nil {
		t.Fatal(err)
	}
	for {
		req = nextRequest(t, am)
		if req.Kind == RequestSwapPipeline {
			break
		}
	}
	if req.Pipeline != next {
		t.Fatalf("expected %s, got %s", next, req.Pipeline)
	}
}

func TestCloseTwice(t *testing.T) {
	am, err := NewAssetWatcher("", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := am.Start(); err != nil {
		t.Fatal(err)
	}
	if err := am.Close(); err != nil {
		t.Fatal(err)
	}
	if err := am.Close(); !errors.Is(err, ErrWatcherClosed) {
		t.Fatalf("expected ErrWatcherClosed, got %v", err)
	}
	if _, ok := <-am.Requests(); ok {
		t.Fatal("request channel must be closed")
	}
}
