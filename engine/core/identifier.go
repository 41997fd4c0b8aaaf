package core

import (
	"fmt"
	"sync"
)

// IdentifierPool hands out small integer ids and recycles released ones.
// Id 0 is never handed out so it can mean "no resource".
type IdentifierPool struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIdentifierPool(capacity int) *IdentifierPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &IdentifierPool{
		owners: make([]interface{}, 1, capacity+1),
	}
	p.owners[0] = p
	return p
}

func (p *IdentifierPool) Acquire(owner interface{}) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 1; i < len(p.owners); i++ {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return uint32(i)
		}
	}
	p.owners = append(p.owners, owner)
	return uint32(len(p.owners) - 1)
}

func (p *IdentifierPool) Release(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id == 0 || int(id) >= len(p.owners) {
		return fmt.Errorf("identifier release: id '%d' out of range (max=%d). Nothing was done", id, len(p.owners)-1)
	}
	if p.owners[id] == nil {
		return fmt.Errorf("identifier release: id '%d' is not in use", id)
	}
	p.owners[id] = nil
	return nil
}

// Live returns the number of ids currently handed out.
func (p *IdentifierPool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for i := 1; i < len(p.owners); i++ {
		if p.owners[i] != nil {
			n++
		}
	}
	return n
}
