package livesync

import "sync"

// Scope owns the watches of one session. A named slot holds one handle at a
// time; closing the scope releases every handle it holds.
type Scope struct {
	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

func NewScope() *Scope {
	return &Scope{handles: make(map[string]*Handle)}
}

// Replace stores h under name and releases the handle it displaces. A closed
// scope releases h straight away.
func (s *Scope) Replace(name string, h *Handle) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if h != nil {
			h.Release()
		}
		return
	}
	prev := s.handles[name]
	if h == nil {
		delete(s.handles, name)
	} else {
		s.handles[name] = h
	}
	s.mu.Unlock()

	if prev != nil && prev != h {
		prev.Release()
	}
}

// Release drops and releases the handle under name, if any.
func (s *Scope) Release(name string) {
	s.Replace(name, nil)
}

func (s *Scope) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[name]
	return ok
}

func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := s.handles
	s.handles = make(map[string]*Handle)
	s.mu.Unlock()

	for _, h := range handles {
		h.Release()
	}
}
