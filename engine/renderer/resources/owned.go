package resources

import (
	"sync"

	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

// Handle is any releasable device resource handle.
type Handle interface {
	metadata.Buffer | metadata.Texture | metadata.Framebuffer | metadata.Shader
}

// Owned ties a device resource to a deletion queue. Release queues the
// handle exactly once, so `defer owned.Release()` covers every exit path.
type Owned[T Handle] struct {
	handle T
	queue  *DeletionQueue
	once   sync.Once
	err    error
}

func Own[T Handle](queue *DeletionQueue, handle T) *Owned[T] {
	return &Owned[T]{
		handle: handle,
		queue:  queue,
	}
}

func (o *Owned[T]) Get() T {
	return o.handle
}

// Release queues the handle for deletion. Subsequent calls return the
// result of the first one.
func (o *Owned[T]) Release() error {
	if o == nil {
		return nil
	}
	o.once.Do(func() {
		o.err = o.queue.EnqueueHandle(o.handle)
	})
	return o.err
}

// Replace queues the current handle for deletion and takes ownership of
// next. Used by resize-as-delete-and-recreate.
func (o *Owned[T]) Replace(next T) *Owned[T] {
	o.Release()
	return Own(o.queue, next)
}
