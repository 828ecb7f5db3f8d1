// Package observer holds event sinks by weak reference and delivers events
// to them in order on a single goroutine.
package observer

import (
	"runtime"
	"sync"
	"weak"
)

// Handle keeps a registration alive. The registration ends when Close is
// called or when the Handle becomes unreachable.
type Handle struct {
	once    sync.Once
	release func()
}

// Close unregisters the handler. It is safe to call more than once and on
// a nil Handle.
func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// Slot holds at most one handler. Setting a new handler replaces the
// previous one.
type Slot[T any] struct {
	mu     sync.Mutex
	gen    uint64
	value  T
	set    bool
	handle weak.Pointer[Handle]
}

// Set installs v and returns the Handle that keeps it installed.
func (s *Slot[T]) Set(v T) *Handle {
	h := &Handle{}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.value = v
	s.set = true
	s.handle = weak.Make(h)
	s.mu.Unlock()

	h.release = func() { s.clear(gen) }
	runtime.AddCleanup(h, s.clear, gen)
	return h
}

// Get returns the installed handler while its Handle is alive.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if !s.set || s.handle.Value() == nil {
		return zero, false
	}
	return s.value, true
}

func (s *Slot[T]) clear(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	var zero T
	s.value = zero
	s.set = false
}
