package resources

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/umbra/engine/containers"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

var ErrInvalidHandle = errors.New("invalid resource handle")

// Entry is one pending release. Handle holds the metadata handle matching
// Type (metadata.Buffer for ResourceTypeBuffer and so on).
type Entry struct {
	Type   metadata.ResourceType
	Handle interface{}
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %v", e.Type, e.Handle)
}

// EntryFor builds the entry releasing handle.
func EntryFor(handle interface{}) (Entry, error) {
	switch h := handle.(type) {
	case metadata.Buffer:
		return Entry{Type: metadata.ResourceTypeBuffer, Handle: h}, nil
	case metadata.Texture:
		return Entry{Type: metadata.ResourceTypeTexture, Handle: h}, nil
	case metadata.Framebuffer:
		return Entry{Type: metadata.ResourceTypeFramebuffer, Handle: h}, nil
	case metadata.Shader:
		return Entry{Type: metadata.ResourceTypeShader, Handle: h}, nil
	default:
		return Entry{}, fmt.Errorf("cannot release %T: %w", handle, core.ErrUnknownResourceType)
	}
}

/**
 * @brief DeletionQueue decouples marking a resource for deletion from
 * releasing it. Enqueue is safe from any goroutine; Pop and Drain must only
 * be called from the render goroutine once the frame's commands have been
 * submitted.
 */
type DeletionQueue struct {
	mu      sync.Mutex
	entries *containers.RingQueue[Entry]
}

func NewDeletionQueue() *DeletionQueue {
	return &DeletionQueue{
		entries: containers.NewRingQueue[Entry](64),
	}
}

// Enqueue appends an entry. Unknown resource types, handles that do not
// match their declared type and zero handles are rejected.
func (dq *DeletionQueue) Enqueue(e Entry) error {
	if err := validate(e); err != nil {
		core.LogError("deletion queue: rejected entry %s: %s", e, err.Error())
		return err
	}
	dq.mu.Lock()
	dq.entries.Enqueue(e)
	dq.mu.Unlock()
	return nil
}

// EnqueueHandle is a shorthand for EntryFor followed by Enqueue.
func (dq *DeletionQueue) EnqueueHandle(handle interface{}) error {
	e, err := EntryFor(handle)
	if err != nil {
		core.LogError("deletion queue: %s", err.Error())
		return err
	}
	return dq.Enqueue(e)
}

// Pop removes the oldest entry. It reports false when the queue is empty.
func (dq *DeletionQueue) Pop() (Entry, bool) {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	return dq.entries.Dequeue()
}

func (dq *DeletionQueue) Len() int {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	return dq.entries.Len()
}

// Drain releases every entry present when it is called through the backend
// and returns how many were released. Entries enqueued while draining wait
// for the next pass.
func (dq *DeletionQueue) Drain(backend metadata.Backend) int {
	n := dq.Len()
	released := 0
	for i := 0; i < n; i++ {
		e, ok := dq.Pop()
		if !ok {
			break
		}
		release(backend, e)
		released++
	}
	if released > 0 {
		core.LogDebug("deletion queue: released %d resources", released)
	}
	return released
}

func release(backend metadata.Backend, e Entry) {
	switch e.Type {
	case metadata.ResourceTypeBuffer:
		backend.DeleteBuffer(e.Handle.(metadata.Buffer))
	case metadata.ResourceTypeTexture:
		backend.DeleteTexture(e.Handle.(metadata.Texture))
	case metadata.ResourceTypeFramebuffer:
		backend.DeleteFramebuffer(e.Handle.(metadata.Framebuffer))
	case metadata.ResourceTypeShader:
		backend.DeleteShader(e.Handle.(metadata.Shader))
	}
}

func validate(e Entry) error {
	if !e.Type.Valid() {
		return fmt.Errorf("resource type %s: %w", e.Type, core.ErrUnknownResourceType)
	}
	var valid, matches bool
	switch e.Type {
	case metadata.ResourceTypeBuffer:
		var h metadata.Buffer
		h, matches = e.Handle.(metadata.Buffer)
		valid = h.IsValid()
	case metadata.ResourceTypeTexture:
		var h metadata.Texture
		h, matches = e.Handle.(metadata.Texture)
		valid = h.IsValid()
	case metadata.ResourceTypeFramebuffer:
		var h metadata.Framebuffer
		h, matches = e.Handle.(metadata.Framebuffer)
		valid = !h.IsDefault()
	case metadata.ResourceTypeShader:
		var h metadata.Shader
		h, matches = e.Handle.(metadata.Shader)
		valid = h.IsValid()
	}
	if !matches {
		return fmt.Errorf("handle %T does not match resource type %s: %w", e.Handle, e.Type, core.ErrUnknownResourceType)
	}
	if !valid {
		return fmt.Errorf("%s handle with id 0: %w", e.Type, ErrInvalidHandle)
	}
	return nil
}
