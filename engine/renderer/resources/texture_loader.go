package resources

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sync"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/systems"
)

const FallbackTextureName = "__fallback__"

// DecodedImage is tightly packed RGBA8 pixel data.
type DecodedImage struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// DecodeImage decodes png, jpeg, bmp, tiff or webp data into RGBA8. Rows are
// flipped when flipY is set so the first row is the bottom of the image.
func DecodeImage(r io.Reader, flipY bool) (*DecodedImage, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	core.LogDebug("decoded %s image %dx%d", format, b.Dx(), b.Dy())

	out := &DecodedImage{
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
		Pixels: rgba.Pix,
	}
	if flipY {
		row := b.Dx() * 4
		flipped := make([]byte, len(rgba.Pix))
		for y := 0; y < b.Dy(); y++ {
			src := rgba.Pix[y*row : (y+1)*row]
			copy(flipped[(b.Dy()-1-y)*row:], src)
		}
		out.Pixels = flipped
	}
	return out, nil
}

func decodeFile(path string, flipY bool) (*DecodedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := DecodeImage(f, flipY)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

type pendingUpload struct {
	name  string
	image *DecodedImage
	err   error
	done  func(metadata.Texture, error)
}

/**
 * @brief TextureLoader turns image files into device textures. Decoding may
 * happen on the job system; device uploads always happen on the render
 * goroutine through Flush. Textures are cached by path. A texture replaced
 * by a newer load of the same path is released through the deletion queue.
 */
type TextureLoader struct {
	backend metadata.Backend
	queue   *DeletionQueue
	jobs    *systems.JobSystem

	// FlipY flips decoded images vertically before upload.
	FlipY bool

	mu      sync.Mutex
	pending []pendingUpload

	cache    map[string]metadata.Texture
	fallback metadata.Texture
}

// NewTextureLoader creates a loader. jobs may be nil, in which case
// LoadAsync decodes on the calling goroutine.
func NewTextureLoader(backend metadata.Backend, queue *DeletionQueue, jobs *systems.JobSystem) *TextureLoader {
	return &TextureLoader{
		backend: backend,
		queue:   queue,
		jobs:    jobs,
		FlipY:   true,
		cache:   make(map[string]metadata.Texture),
	}
}

// Fallback returns the 1x1 white texture bound wherever a material has no
// texture. It is created on first use.
func (tl *TextureLoader) Fallback() (metadata.Texture, error) {
	if tl.fallback.IsValid() {
		return tl.fallback, nil
	}
	tex, err := tl.backend.CreateTexture(metadata.TextureDesc{
		Name:        FallbackTextureName,
		TextureType: metadata.TextureType2d,
		Width:       1,
		Height:      1,
		Layers:      1,
		Format:      metadata.TextureFormatRGBA8,
	}, []byte{0xff, 0xff, 0xff, 0xff})
	if err != nil {
		core.LogError("failed to create fallback texture: %s", err.Error())
		return metadata.Texture{}, err
	}
	tl.fallback = tex
	return tex, nil
}

// Get returns the cached texture for path.
func (tl *TextureLoader) Get(path string) (metadata.Texture, bool) {
	tex, ok := tl.cache[path]
	return tex, ok
}

// Load decodes and uploads path immediately, returning the cached texture
// when it was loaded before. Render goroutine only.
func (tl *TextureLoader) Load(path string) (metadata.Texture, error) {
	if tex, ok := tl.cache[path]; ok {
		return tex, nil
	}
	img, err := decodeFile(path, tl.FlipY)
	if err != nil {
		core.LogError("texture loader: %s", err.Error())
		return metadata.Texture{}, err
	}
	return tl.upload(path, img)
}

// LoadAsync decodes path in the background. The upload and the call to done
// happen on the render goroutine during the next Flush. done may be nil.
func (tl *TextureLoader) LoadAsync(path string, done func(metadata.Texture, error)) error {
	task := systems.JobTask{
		Name: "decode " + filepath.Base(path),
		OnStart: func() (interface{}, error) {
			return decodeFile(path, tl.FlipY)
		},
		OnComplete: func(result interface{}) {
			tl.enqueue(pendingUpload{name: path, image: result.(*DecodedImage), done: done})
		},
		OnFailure: func(err error) {
			tl.enqueue(pendingUpload{name: path, err: err, done: done})
		},
	}
	if tl.jobs == nil {
		img, err := task.OnStart()
		if err != nil {
			task.OnFailure(err)
			return nil
		}
		task.OnComplete(img)
		return nil
	}
	return tl.jobs.Submit(task)
}

func (tl *TextureLoader) enqueue(p pendingUpload) {
	tl.mu.Lock()
	tl.pending = append(tl.pending, p)
	tl.mu.Unlock()
}

// Pending returns the number of decoded images waiting for Flush.
func (tl *TextureLoader) Pending() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.pending)
}

// Flush uploads every decoded image and returns how many textures were
// created. Render goroutine only.
func (tl *TextureLoader) Flush() int {
	tl.mu.Lock()
	pending := tl.pending
	tl.pending = nil
	tl.mu.Unlock()

	uploaded := 0
	for _, p := range pending {
		if p.err != nil {
			if p.done != nil {
				p.done(metadata.Texture{}, p.err)
			}
			continue
		}
		tex, err := tl.upload(p.name, p.image)
		if err == nil {
			uploaded++
		}
		if p.done != nil {
			p.done(tex, err)
		}
	}
	return uploaded
}

func (tl *TextureLoader) upload(name string, img *DecodedImage) (metadata.Texture, error) {
	tex, err := tl.backend.CreateTexture(metadata.TextureDesc{
		Name:        name,
		TextureType: metadata.TextureType2d,
		Width:       img.Width,
		Height:      img.Height,
		Layers:      1,
		Format:      metadata.TextureFormatRGBA8,
		Linear:      true,
	}, img.Pixels)
	if err != nil {
		core.LogError("texture loader: failed to upload %s: %s", name, err.Error())
		return metadata.Texture{}, err
	}
	tl.store(name, tex)
	return tex, nil
}

func (tl *TextureLoader) store(name string, tex metadata.Texture) {
	if old, ok := tl.cache[name]; ok {
		tl.queue.EnqueueHandle(old)
	}
	tl.cache[name] = tex
}

// LoadCube loads six square faces (+x, -x, +y, -y, +z, -z) into a cube
// texture cached under name.
func (tl *TextureLoader) LoadCube(name string, faces [6]string) (metadata.Texture, error) {
	if tex, ok := tl.cache[name]; ok {
		return tex, nil
	}
	var size uint32
	var pixels []byte
	for i, path := range faces {
		img, err := decodeFile(path, false)
		if err != nil {
			core.LogError("texture loader: cube %s: %s", name, err.Error())
			return metadata.Texture{}, err
		}
		if img.Width != img.Height {
			err = fmt.Errorf("cube %s face %d is %dx%d, faces must be square", name, i, img.Width, img.Height)
			core.LogError("texture loader: %s", err.Error())
			return metadata.Texture{}, err
		}
		if i == 0 {
			size = img.Width
			pixels = make([]byte, 0, int(size*size*4)*6)
		} else if img.Width != size {
			err = fmt.Errorf("cube %s face %d is %d pixels, expected %d", name, i, img.Width, size)
			core.LogError("texture loader: %s", err.Error())
			return metadata.Texture{}, err
		}
		pixels = append(pixels, img.Pixels...)
	}
	tex, err := tl.backend.CreateTexture(metadata.TextureDesc{
		Name:        name,
		TextureType: metadata.TextureTypeCube,
		Width:       size,
		Height:      size,
		Layers:      6,
		Format:      metadata.TextureFormatRGBA8,
		Linear:      true,
		ClampToEdge: true,
	}, pixels)
	if err != nil {
		core.LogError("texture loader: failed to upload cube %s: %s", name, err.Error())
		return metadata.Texture{}, err
	}
	tl.store(name, tex)
	return tex, nil
}

// Release drops the texture cached under name and queues it for deletion.
func (tl *TextureLoader) Release(name string) {
	tex, ok := tl.cache[name]
	if !ok {
		return
	}
	delete(tl.cache, name)
	tl.queue.EnqueueHandle(tex)
}

// Cleanup queues every texture the loader created for deletion.
func (tl *TextureLoader) Cleanup() {
	for name, tex := range tl.cache {
		tl.queue.EnqueueHandle(tex)
		delete(tl.cache, name)
	}
	if tl.fallback.IsValid() {
		tl.queue.EnqueueHandle(tl.fallback)
		tl.fallback = metadata.Texture{}
	}
	tl.mu.Lock()
	tl.pending = nil
	tl.mu.Unlock()
}
