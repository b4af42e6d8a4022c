package capture

import (
	"sync"

	"github.com/ziadkadry99/cadence/internal/entity"
)

// spillQueue holds captures whose raw write failed every attempt. They are
// written by FlushSpill once the store is reachable again.
type spillQueue struct {
	mu    sync.Mutex
	items []entity.Capture
}

func (q *spillQueue) push(c entity.Capture) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

// drain empties the queue and returns its contents oldest first.
func (q *spillQueue) drain() []entity.Capture {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// requeue puts unflushed captures back in front of anything spilled since.
func (q *spillQueue) requeue(cs []entity.Capture) {
	if len(cs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append([]entity.Capture{}, cs...), q.items...)
}

func (q *spillQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
