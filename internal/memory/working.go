package memory

import (
	"sort"
	"sync"
	"time"
)

// workingSet holds L1 episodes in process until they age past the working
// window and are flushed to L2.
type workingSet struct {
	mu    sync.Mutex
	items map[string]Episode
}

func newWorkingSet() *workingSet {
	return &workingSet{items: make(map[string]Episode)}
}

func (w *workingSet) add(ep Episode) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items[ep.ID] = ep
}

func (w *workingSet) get(id string) (Episode, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ep, ok := w.items[id]
	return ep, ok
}

func (w *workingSet) remove(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.items[id]
	delete(w.items, id)
	return ok
}

// snapshot returns the current items, oldest first.
func (w *workingSet) snapshot() []Episode {
	w.mu.Lock()
	out := make([]Episode, 0, len(w.items))
	for _, ep := range w.items {
		out = append(out, ep)
	}
	w.mu.Unlock()
	sortOldestFirst(out)
	return out
}

// takeOlderThan removes and returns every item recorded before cutoff. A zero
// cutoff takes everything.
func (w *workingSet) takeOlderThan(cutoff time.Time) []Episode {
	w.mu.Lock()
	var out []Episode
	for id, ep := range w.items {
		if cutoff.IsZero() || ep.Timestamp.Before(cutoff) {
			out = append(out, ep)
			delete(w.items, id)
		}
	}
	w.mu.Unlock()
	sortOldestFirst(out)
	return out
}

// putBack returns items whose flush failed.
func (w *workingSet) putBack(eps []Episode) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ep := range eps {
		if _, exists := w.items[ep.ID]; !exists {
			w.items[ep.ID] = ep
		}
	}
}

func (w *workingSet) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

func sortOldestFirst(eps []Episode) {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Timestamp.Equal(eps[j].Timestamp) {
			return eps[i].ID < eps[j].ID
		}
		return eps[i].Timestamp.Before(eps[j].Timestamp)
	})
}
