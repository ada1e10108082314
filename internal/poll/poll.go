// Package poll watches a session's pending search response until it resolves.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"
)

const DefaultInterval = 10 * time.Second

type State int

const (
	Idle State = iota
	Polling
	Resolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Checker reports whether a session still has a pending response.
type Checker interface {
	HasPending(ctx context.Context, sessionID uint64) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, sessionID uint64) (bool, error)

func (f CheckerFunc) HasPending(ctx context.Context, sessionID uint64) (bool, error) {
	return f(ctx, sessionID)
}

var ErrAlreadyRunning = errors.New("poll: already running")

// Poller checks one session at a fixed interval. The first check happens
// immediately. There is no retry limit; the loop ends on resolution, on a
// check error or when ctx is cancelled.
type Poller struct {
	SessionID uint64
	Interval  time.Duration
	Checker   Checker

	// OnStatus is called after every successful check.
	OnStatus func(pending bool)
	// OnResolved is called once when pending turns false.
	OnResolved func()

	mu    sync.Mutex
	state State
}

func New(sessionID uint64, checker Checker) *Poller {
	return &Poller{SessionID: sessionID, Interval: DefaultInterval, Checker: checker}
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run blocks until the session resolves, a check fails or ctx is done.
// Cancellation returns ctx.Err() and leaves the poller Idle.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Polling {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.state = Polling
	p.mu.Unlock()

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.setState(Idle)
			return ctx.Err()
		case <-timer.C:
		}

		pending, err := p.Checker.HasPending(ctx, p.SessionID)
		if err != nil {
			p.setState(Idle)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if p.OnStatus != nil {
			p.OnStatus(pending)
		}
		if !pending {
			p.setState(Resolved)
			if p.OnResolved != nil {
				p.OnResolved()
			}
			return nil
		}
		timer.Reset(interval)
	}
}
