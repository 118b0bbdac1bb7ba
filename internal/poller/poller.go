// Package poller runs one background loop per live scope, refcounted by
// subscriber. The first subscriber to a scope starts its loop; the last
// one leaving cancels it and waits for it to exit.
package poller

import (
	"context"
	"sync"
)

type entry struct {
	count  int
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks active scope loops.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Acquire registers interest in a scope. If the scope had no subscribers,
// run is started in a goroutine with a context that lives until the last
// release. The returned function is idempotent and must be called exactly
// once per Acquire.
func (r *Registry) Acquire(key string, run func(ctx context.Context)) (release func()) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		e = &entry{cancel: cancel, done: make(chan struct{})}
		r.entries[key] = e
		go func() {
			defer close(e.done)
			run(ctx)
		}()
	}
	e.count++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			e.count--
			last := e.count == 0
			if last {
				delete(r.entries, key)
			}
			r.mu.Unlock()
			if last {
				e.cancel()
				<-e.done
			}
		})
	}
}

// Active returns how many scopes currently have a running loop.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
