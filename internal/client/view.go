package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/city-searcher/internal/poll"
)

// ErrPolling rejects a send while the previous one is in flight or its answer
// is still pending.
var ErrPolling = errors.New("client: waiting for the previous answer")

// ErrEmptyMessage rejects a blank send.
var ErrEmptyMessage = errors.New("client: message is empty")

// SendFailedNote annotates an optimistic message whose send failed.
const SendFailedNote = "Something went wrong"

// API is the subset of Client the session view needs.
type API interface {
	FetchMessages(ctx context.Context, sessionID uint64) ([]Message, error)
	CreateMessage(ctx context.Context, sessionID uint64, content string) (*Message, error)
	HasPending(ctx context.Context, sessionID uint64) (bool, error)
}

// SessionView is the chat screen of one session: message history plus the
// pending-answer poll.
type SessionView struct {
	api       API
	sessionID uint64
	registry  *poll.Registry
	interval  time.Duration
	now       func() time.Time

	// OnChange is called whenever messages or the polling flag change.
	OnChange func()
	// OnError receives errors of background polls and refetches.
	OnError func(error)

	mu       sync.Mutex
	messages []Message
	polling  bool
	sending  bool
	pollGen  int
	loadErr  error
}

func NewSessionView(api API, sessionID uint64, registry *poll.Registry) *SessionView {
	if registry == nil {
		registry = poll.NewRegistry()
	}
	return &SessionView{
		api:       api,
		sessionID: sessionID,
		registry:  registry,
		interval:  poll.DefaultInterval,
		now:       time.Now,
	}
}

// WithInterval overrides the poll interval.
func (v *SessionView) WithInterval(d time.Duration) *SessionView {
	v.interval = d
	return v
}

// WithClock overrides the clock used for temporary message ids.
func (v *SessionView) WithClock(now func() time.Time) *SessionView {
	v.now = now
	return v
}

// Messages returns a copy of the current thread.
func (v *SessionView) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Message(nil), v.messages...)
}

func (v *SessionView) Polling() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.polling
}

// Err returns the last message fetch failure.
func (v *SessionView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadErr
}

// Load fetches the thread and starts watching for a pending answer. The
// returned channel closes when that poll ends.
func (v *SessionView) Load(ctx context.Context) (<-chan struct{}, error) {
	if err := v.refetch(ctx); err != nil {
		return nil, err
	}
	return v.startPolling(ctx), nil
}

// Send appends content optimistically and posts it. A failed post keeps the
// message with SendFailedNote; a successful one restarts polling.
func (v *SessionView) Send(ctx context.Context, content string) (<-chan struct{}, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	now := v.now()
	temp := Message{
		ID:          uint64(now.UnixMilli()),
		SessionID:   v.sessionID,
		Content:     content,
		MessageType: "user",
		CreatedAt:   now,
	}

	v.mu.Lock()
	if v.polling || v.sending {
		v.mu.Unlock()
		return nil, ErrPolling
	}
	v.sending = true
	v.messages = append(v.messages, temp)
	v.mu.Unlock()
	v.changed()

	if _, err := v.api.CreateMessage(ctx, v.sessionID, content); err != nil {
		v.mu.Lock()
		v.sending = false
		for i := range v.messages {
			if v.messages[i].ID == temp.ID && v.messages[i].Error == "" && v.messages[i].Content == content {
				v.messages[i].Error = SendFailedNote
				break
			}
		}
		v.mu.Unlock()
		v.changed()
		return nil, err
	}

	// polling takes over from sending without a gap
	v.mu.Lock()
	v.sending = false
	v.polling = true
	v.mu.Unlock()
	v.changed()
	return v.startPolling(ctx), nil
}

// Close stops this view's poll.
func (v *SessionView) Close() {
	v.registry.Stop(v.sessionID)
}

func (v *SessionView) startPolling(ctx context.Context) <-chan struct{} {
	check := poll.CheckerFunc(func(ctx context.Context, id uint64) (bool, error) {
		pending, err := v.api.HasPending(ctx, id)
		if err != nil && ctx.Err() == nil {
			v.reportError(err)
		}
		return pending, err
	})
	p := poll.New(v.sessionID, check)
	p.Interval = v.interval
	p.OnStatus = func(pending bool) { v.setPolling(pending) }
	p.OnResolved = func() {
		if err := v.refetch(ctx); err != nil {
			v.reportError(err)
		}
	}

	v.mu.Lock()
	v.pollGen++
	gen := v.pollGen
	v.mu.Unlock()

	v.setPolling(true)
	done := v.registry.Start(ctx, p)

	out := make(chan struct{})
	go func() {
		<-done
		v.mu.Lock()
		current := v.pollGen == gen
		v.mu.Unlock()
		// a cancelled or failed poll stops blocking sends
		if current && p.State() != poll.Resolved {
			v.setPolling(false)
		}
		close(out)
	}()
	return out
}

func (v *SessionView) refetch(ctx context.Context) error {
	msgs, err := v.api.FetchMessages(ctx, v.sessionID)
	v.mu.Lock()
	if err != nil {
		v.loadErr = err
		v.mu.Unlock()
		return err
	}
	v.loadErr = nil
	v.messages = msgs
	v.mu.Unlock()
	v.changed()
	return nil
}

func (v *SessionView) setPolling(p bool) {
	v.mu.Lock()
	changed := v.polling != p
	v.polling = p
	v.mu.Unlock()
	if changed {
		v.changed()
	}
}

func (v *SessionView) changed() {
	if v.OnChange != nil {
		v.OnChange()
	}
}

func (v *SessionView) reportError(err error) {
	if v.OnError != nil {
		v.OnError(err)
	}
}
