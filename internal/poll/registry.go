package poll

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"
)

// Registry owns at most one running poll per session. Starting a poll for a
// session cancels the previous one.
type Registry struct {
	mu      sync.Mutex
	running map[uint64]*entry
	wg      conc.WaitGroup
}

type entry struct {
	poller *Poller
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{running: make(map[uint64]*entry)}
}

// Start runs p in the background under ctx. The returned channel closes when
// the poll ends.
func (r *Registry) Start(ctx context.Context, p *Poller) <-chan struct{} {
	pctx, cancel := context.WithCancel(ctx)
	e := &entry{poller: p, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.running[p.SessionID]
	r.running[p.SessionID] = e
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	r.wg.Go(func() {
		defer close(e.done)
		_ = p.Run(pctx)

		r.mu.Lock()
		if r.running[p.SessionID] == e {
			delete(r.running, p.SessionID)
		}
		r.mu.Unlock()
		cancel()
	})
	return e.done
}

// Stop cancels the session's poll, if any, and waits for it to end.
func (r *Registry) Stop(sessionID uint64) {
	r.mu.Lock()
	e := r.running[sessionID]
	delete(r.running, sessionID)
	r.mu.Unlock()

	if e != nil {
		e.cancel()
		<-e.done
	}
}

// Active reports whether the session has a running poll.
func (r *Registry) Active(sessionID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[sessionID]
	return ok
}

// StopAll cancels every poll and waits for all of them.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.running))
	for id, e := range r.running {
		entries = append(entries, e)
		delete(r.running, id)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	r.wg.Wait()
}
