package resource

import "sync"

// Container keeps references alive for the duration of one submission.
//
// Primitives push a shared reference for every transient object their
// recorded commands touch. The submitter calls Release after the
// submission's fence has signaled. The container only extends lifetimes:
// dropping its references releases nothing that has another owner.
type Container struct {
	mu   sync.Mutex
	refs []Releaser
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{}
}

// Push adds references. Nil entries are ignored.
func (c *Container) Push(refs ...Releaser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range refs {
		if r != nil {
			c.refs = append(c.refs, r)
		}
	}
}

// Len returns the number of held references.
func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refs)
}

// Release drops every held reference, newest first, and leaves the
// container empty and reusable.
func (c *Container) Release() {
	c.mu.Lock()
	refs := c.refs
	c.refs = nil
	c.mu.Unlock()

	for i := len(refs) - 1; i >= 0; i-- {
		refs[i].Release()
	}
}
