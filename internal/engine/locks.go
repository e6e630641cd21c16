package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

// lockTable hands out one mutex per image id. Entries are reference counted
// and removed as soon as nobody holds or waits on them, so the table stays
// proportional to in-flight mutations rather than to the image population.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[string]*lockEntry)}
}

// acquire takes the image's mutex and returns its release func. With wait
// false a held mutex fails immediately with ErrConcurrentModification; with
// wait true the caller blocks until the mutex frees, the wait budget runs
// out, or ctx is done.
func (t *lockTable) acquire(ctx context.Context, id string, wait bool, budget time.Duration) (func(), error) {
	e := t.retain(id)

	if !wait {
		select {
		case e.sem <- struct{}{}:
			return t.releaseFunc(id, e), nil
		default:
			t.unref(id, e)
			return nil, fmt.Errorf("%w: image %s is being modified", domain.ErrConcurrentModification, id)
		}
	}

	var expired <-chan time.Time
	if budget > 0 {
		timer := time.NewTimer(budget)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case e.sem <- struct{}{}:
		return t.releaseFunc(id, e), nil
	case <-expired:
		t.unref(id, e)
		return nil, fmt.Errorf("%w: gave up on image %s after %s", domain.ErrConcurrentModification, id, budget)
	case <-ctx.Done():
		t.unref(id, e)
		return nil, ctx.Err()
	}
}

func (t *lockTable) retain(id string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		t.entries[id] = e
	}
	e.refs++
	return e
}

func (t *lockTable) unref(id string, e *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(t.entries, id)
	}
}

func (t *lockTable) releaseFunc(id string, e *lockEntry) func() {
	return func() {
		<-e.sem
		t.unref(id, e)
	}
}
