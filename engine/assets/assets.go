// Package assets watches the settings file and the shader directory and
// turns file changes into requests for the render goroutine.
package assets

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/umbra/engine/config"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
)

type RequestKind uint8

const (
	// RequestSwapPipeline asks for the pipeline of the reloaded settings.
	RequestSwapPipeline RequestKind = iota
	// RequestReloadShader asks for the stages built from Path to be rebuilt.
	RequestReloadShader
)

type Request struct {
	Kind     RequestKind
	Path     string
	Pipeline pipeline.Config
	Settings config.Settings
}

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeSettings
	AssetTypeShader
)

var ErrWatcherClosed = errors.New("asset watcher already closed")

/**
 * @brief AssetWatcher runs an fsnotify watcher on its own goroutine.
 * Requests are only delivered; applying them is up to the engine loop,
 * which drains Requests on the render goroutine between frames.
 */
type AssetWatcher struct {
	settingsPath string
	shaderDir    string

	fsnotify *fsnotify.Watcher
	requests chan Request
	done     chan struct{}
	wg       sync.WaitGroup

	mutex    sync.Mutex
	isClosed bool
	pipeline pipeline.Config
}

// NewAssetWatcher watches settingsPath and shaderDir. Either may be empty.
// current is the pipeline already running; reloading settings that keep it
// produces no request.
func NewAssetWatcher(settingsPath, shaderDir string, current pipeline.Config) (*AssetWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &AssetWatcher{
		settingsPath: filepath.Clean(settingsPath),
		shaderDir:    filepath.Clean(shaderDir),
		fsnotify:     fsWatch,
		requests:     make(chan Request, 16),
		done:         make(chan struct{}),
		pipeline:     current,
	}, nil
}

// Start adds the watches and starts delivering requests. The settings file
// is watched through its directory since editors replace files on save.
func (am *AssetWatcher) Start() error {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if am.isClosed {
		return ErrWatcherClosed
	}
	if am.settingsPath != "." {
		if err := am.fsnotify.Add(filepath.Dir(am.settingsPath)); err != nil {
			return err
		}
	}
	if am.shaderDir != "." {
		if err := am.fsnotify.Add(am.shaderDir); err != nil {
			return err
		}
	}
	am.wg.Add(1)
	go am.start()
	return nil
}

func (am *AssetWatcher) Requests() <-chan Request {
	return am.requests
}

// Close stops the watcher and closes the request channel.
func (am *AssetWatcher) Close() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return ErrWatcherClosed
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	err := am.fsnotify.Close()
	am.wg.Wait()
	close(am.requests)
	return err
}

func (am *AssetWatcher) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			req, ok := am.handleFileEvent(e.Name)
			if !ok {
				continue
			}
			select {
			case am.requests <- req:
			case <-am.done:
				return
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err.Error())

		case <-am.done:
			return
		}
	}
}

func (am *AssetWatcher) handleFileEvent(path string) (Request, bool) {
	switch am.determineAssetType(path) {
	case AssetTypeShader:
		core.LogDebug("asset watcher: shader %s changed", path)
		return Request{Kind: RequestReloadShader, Path: path}, true
	case AssetTypeSettings:
		s, err := config.Load(am.settingsPath)
		if err != nil {
			core.LogError("asset watcher: keeping the running pipeline: %s", err.Error())
			return Request{}, false
		}
		next := s.Pipeline()
		am.mutex.Lock()
		changed := next != am.pipeline
		am.pipeline = next
		am.mutex.Unlock()
		if !changed {
			return Request{}, false
		}
		core.LogInfo("asset watcher: settings request pipeline %s", next)
		return Request{Kind: RequestSwapPipeline, Path: path, Pipeline: next, Settings: s}, true
	}
	return Request{}, false
}

func (am *AssetWatcher) determineAssetType(path string) AssetType {
	path = filepath.Clean(path)
	if am.settingsPath != "." && path == am.settingsPath {
		return AssetTypeSettings
	}
	if am.shaderDir == "." || filepath.Dir(path) != am.shaderDir {
		return AssetTypeNone
	}
	switch filepath.Ext(path) {
	case ".vert", ".frag", ".comp":
		return AssetTypeShader
	default:
		return AssetTypeNone
	}
}
