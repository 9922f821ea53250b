// Package section provides a mutual-exclusion section that the holder may
// re-enter. Ownership is carried by the context returned from Enter, so any
// call made with that context (or one derived from it) re-enters without
// blocking, while unrelated callers wait until the holder fully exits.
package section

import (
	"context"
	"sync"
)

type ctxKey struct{ s *Section }

// holder identifies one acquisition chain. It must not be zero-sized so that
// every allocation has a distinct address.
type holder struct{ _ byte }

// Section is a reentrant lock keyed by context-carried ownership.
type Section struct {
	mu    sync.Mutex
	state sync.Mutex // guards owner and depth
	owner *holder
	depth int
}

// New creates an unlocked Section.
func New() *Section {
	return &Section{}
}

// Enter acquires the section. The returned context marks the caller as the
// owner; pass it to nested calls that also enter this section. The returned
// release func must be called exactly once.
func (s *Section) Enter(ctx context.Context) (context.Context, func()) {
	if h, ok := ctx.Value(ctxKey{s}).(*holder); ok && s.owns(h) {
		s.state.Lock()
		s.depth++
		s.state.Unlock()
		return ctx, s.exit
	}

	s.mu.Lock()
	h := &holder{}
	s.state.Lock()
	s.owner = h
	s.depth = 1
	s.state.Unlock()

	return context.WithValue(ctx, ctxKey{s}, h), s.exit
}

// Held reports whether ctx belongs to the current owner.
func (s *Section) Held(ctx context.Context) bool {
	h, ok := ctx.Value(ctxKey{s}).(*holder)
	return ok && s.owns(h)
}

// Depth returns the current nesting depth. Zero means unlocked.
func (s *Section) Depth() int {
	s.state.Lock()
	defer s.state.Unlock()
	return s.depth
}

func (s *Section) owns(h *holder) bool {
	s.state.Lock()
	defer s.state.Unlock()
	return s.owner == h && s.depth > 0
}

func (s *Section) exit() {
	s.state.Lock()
	if s.depth == 0 {
		s.state.Unlock()
		panic("section: exit without matching enter")
	}
	s.depth--
	release := s.depth == 0
	if release {
		s.owner = nil
	}
	s.state.Unlock()

	if release {
		s.mu.Unlock()
	}
}
