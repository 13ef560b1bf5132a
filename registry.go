package goSession

import (
	"sort"
	"sync"

	"github.com/MrEthical07/goSession/internal/supervisor"
)

// entry is the registry slot of one session. started is closed once the
// session is fully wired; deletion waits for it.
type entry struct {
	sup      *supervisor.Supervisor
	labels   map[string]string
	started  chan struct{}
	deleting bool
}

// registry owns the id -> session map of one Manager.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

// insert adds e under id unless the id is taken, including by a session
// that is still being deleted.
func (r *registry) insert(id string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.entries[id] = e
	return true
}

// get returns the live entry for id. Entries being deleted are invisible.
func (r *registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.deleting {
		return nil, false
	}
	return e, true
}

// markDeleting flags id for deletion. Only the first caller gets the entry.
func (r *registry) markDeleting(id string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.deleting {
		return nil, false
	}
	e.deleting = true
	return e, true
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// list returns the live entries sorted by id.
func (r *registry) list() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if !e.deleting {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
