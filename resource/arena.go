package resource

import (
	"fmt"
	"sync"
)

// Handle addresses an arena slot. The generation distinguishes successive
// occupants of the same index.
type Handle struct {
	Index      uint32
	Generation uint32
}

// String returns the handle as "index@generation".
func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.Index, h.Generation)
}

type slot[T any] struct {
	value  T
	gen    uint32
	strong int
	live   bool
}

// Arena stores values in reusable slots.
//
// A value stays alive while at least one [Strong] reference to it exists.
// When the last strong reference is released the deleter runs, the slot's
// generation is bumped and the index goes back on the free list. [Weak]
// references carry the generation they were created with, so they fail to
// upgrade once the slot has been freed, whether or not it was reused.
//
// Arena is safe for concurrent use.
type Arena[T any] struct {
	mu      sync.Mutex
	slots   []slot[T]
	free    []uint32
	deleter func(T)
	live    int
	closed  bool
}

// NewArena creates an empty arena. deleter may be nil.
func NewArena[T any](deleter func(T)) *Arena[T] {
	return &Arena[T]{deleter: deleter}
}

// Insert stores v and returns the first strong reference to it.
func (a *Arena[T]) Insert(v T) *Strong[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		panic("resource: insert into closed arena")
	}

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}
	s := &a.slots[idx]
	s.value = v
	s.strong = 1
	s.live = true
	a.live++
	return &Strong[T]{arena: a, handle: Handle{Index: idx, Generation: s.gen}}
}

// Lookup returns the value at h if the slot is still occupied by the same
// generation. It does not extend the value's lifetime.
func (a *Arena[T]) Lookup(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slotLocked(h); ok {
		return s.value, true
	}
	var zero T
	return zero, false
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Cap returns the number of slots ever allocated.
func (a *Arena[T]) Cap() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}

// Close runs the deleter for every live value regardless of outstanding
// strong references. Later Release calls on those references are no-ops
// and weak references stop upgrading.
func (a *Arena[T]) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	var doomed []T
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		doomed = append(doomed, s.value)
		a.freeLocked(uint32(i))
	}
	del := a.deleter
	a.mu.Unlock()

	if del != nil {
		for _, v := range doomed {
			del(v)
		}
	}
}

func (a *Arena[T]) slotLocked(h Handle) (*slot[T], bool) {
	if a.closed || int(h.Index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.Index]
	if !s.live || s.gen != h.Generation {
		return nil, false
	}
	return s, true
}

func (a *Arena[T]) freeLocked(idx uint32) {
	s := &a.slots[idx]
	var zero T
	s.value = zero
	s.strong = 0
	s.live = false
	s.gen++
	a.live--
	a.free = append(a.free, idx)
}

func (a *Arena[T]) retain(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slotLocked(h)
	if !ok {
		return false
	}
	s.strong++
	return true
}

func (a *Arena[T]) release(h Handle) {
	a.mu.Lock()
	s, ok := a.slotLocked(h)
	if !ok {
		a.mu.Unlock()
		return
	}
	s.strong--
	if s.strong > 0 {
		a.mu.Unlock()
		return
	}
	v := s.value
	a.freeLocked(h.Index)
	del := a.deleter
	a.mu.Unlock()

	if del != nil {
		del(v)
	}
}

// Strong is a shared-ownership reference to an arena value.
type Strong[T any] struct {
	arena    *Arena[T]
	handle   Handle
	mu       sync.Mutex
	released bool
}

// Handle returns the slot handle.
func (s *Strong[T]) Handle() Handle { return s.handle }

// Get returns the referenced value.
func (s *Strong[T]) Get() T {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		panic(fmt.Sprintf("resource: use of released strong reference %s", s.handle))
	}
	v, ok := s.arena.Lookup(s.handle)
	if !ok {
		panic(fmt.Sprintf("resource: strong reference %s outlived its arena", s.handle))
	}
	return v
}

// Clone returns another strong reference to the same value.
func (s *Strong[T]) Clone() *Strong[T] {
	if !s.arena.retain(s.handle) {
		panic(fmt.Sprintf("resource: clone of dead reference %s", s.handle))
	}
	return &Strong[T]{arena: s.arena, handle: s.handle}
}

// Weak returns a lookup-only reference.
func (s *Strong[T]) Weak() Weak[T] {
	return Weak[T]{arena: s.arena, handle: s.handle}
}

// Release drops this reference. Calling it more than once is a no-op.
func (s *Strong[T]) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()
	s.arena.release(s.handle)
}

// Weak refers to an arena value without keeping it alive.
type Weak[T any] struct {
	arena  *Arena[T]
	handle Handle
}

// Handle returns the slot handle the reference was created for.
func (w Weak[T]) Handle() Handle { return w.handle }

// Alive reports whether the referenced value still exists.
func (w Weak[T]) Alive() bool {
	if w.arena == nil {
		return false
	}
	_, ok := w.arena.Lookup(w.handle)
	return ok
}

// Upgrade returns a new strong reference if the value still exists.
func (w Weak[T]) Upgrade() (*Strong[T], bool) {
	if w.arena == nil || !w.arena.retain(w.handle) {
		return nil, false
	}
	return &Strong[T]{arena: w.arena, handle: w.handle}, true
}
