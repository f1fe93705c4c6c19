package ranking

import (
	"sync"
	"sync/atomic"
)

// Replica is a viewer's private copy of the ranked collection. Events are
// applied one at a time; each result replaces the held snapshot atomically and
// is published to subscribers, so a renderer never sees a half-applied event.
type Replica struct {
	current atomic.Pointer[Collection]

	applyMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]chan Collection
	nextID int
}

// NewReplica returns an empty replica.
func NewReplica() *Replica {
	r := &Replica{subs: make(map[int]chan Collection)}
	r.current.Store(&Collection{})
	return r
}

// Snapshot returns the latest collection.
func (r *Replica) Snapshot() Collection {
	return *r.current.Load()
}

// Apply reduces e into the held collection, publishes the result when it
// changed, and returns it.
func (r *Replica) Apply(e Event) Collection {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	prev := r.current.Load()
	next := Apply(*prev, e)
	if next.Version() == prev.Version() {
		return next
	}
	r.current.Store(&next)
	r.publish(next)
	return next
}

// Subscribe returns a channel that always holds the newest snapshot not yet
// received. Slow subscribers skip intermediate versions rather than block
// the reducer. The current snapshot is delivered immediately. Call cancel to
// release the subscription.
func (r *Replica) Subscribe() (<-chan Collection, func()) {
	ch := make(chan Collection, 1)

	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	ch <- r.Snapshot()
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (r *Replica) publish(c Collection) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
}
