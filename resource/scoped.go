package resource

import (
	"fmt"
	"sync"
)

// Scoped owns a value and releases it through an explicit deleter.
//
// The creator holds the first reference. Share hands out additional
// references, for example to a [Container] that must keep the value alive
// until a submission completes. The deleter runs exactly once, when the
// last reference is released.
type Scoped[T any] struct {
	mu      sync.Mutex
	value   T
	deleter func(T)
	refs    int
	owner   bool
}

// NewScoped wraps v. A nil deleter is allowed for values that need no
// cleanup.
func NewScoped[T any](v T, deleter func(T)) *Scoped[T] {
	return &Scoped[T]{value: v, deleter: deleter, refs: 1, owner: true}
}

// Get returns the wrapped value. It panics once every reference has been
// released.
func (s *Scoped[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		panic(fmt.Sprintf("resource: use of released %T", s.value))
	}
	return s.value
}

// Released reports whether the deleter has run.
func (s *Scoped[T]) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs == 0
}

// Share returns an additional reference. Each returned Releaser must be
// released exactly once; extra calls are ignored.
func (s *Scoped[T]) Share() Releaser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		panic(fmt.Sprintf("resource: share of released %T", s.value))
	}
	s.refs++
	var once sync.Once
	return ReleaserFunc(func() { once.Do(s.drop) })
}

// Release drops the owner's reference. Calling it more than once is a no-op.
func (s *Scoped[T]) Release() {
	s.mu.Lock()
	if !s.owner {
		s.mu.Unlock()
		return
	}
	s.owner = false
	s.mu.Unlock()
	s.drop()
}

// Close is Release in io.Closer form, for use with defer.
func (s *Scoped[T]) Close() error {
	s.Release()
	return nil
}

func (s *Scoped[T]) drop() {
	s.mu.Lock()
	s.refs--
	last := s.refs == 0
	v, del := s.value, s.deleter
	s.mu.Unlock()
	if last && del != nil {
		del(v)
	}
}
