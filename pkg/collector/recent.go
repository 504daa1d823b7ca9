package collector

import "sync"

// Recent keeps the last N received requests, oldest first
type Recent struct {
	mu    sync.RWMutex
	items []Request
	next  int
	full  bool
	total uint64
}

// NewRecent creates a ring holding up to size requests
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = 1
	}
	return &Recent{items: make([]Request, size)}
}

// Add stores req, evicting the oldest request when full
func (r *Recent) Add(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.next] = req
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// List returns the stored requests, oldest first
func (r *Recent) List() []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		return append([]Request(nil), r.items[:r.next]...)
	}
	out := make([]Request, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}

// Total returns how many requests were ever added
func (r *Recent) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Reset drops every stored request
func (r *Recent) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.items)
	r.next = 0
	r.full = false
}
