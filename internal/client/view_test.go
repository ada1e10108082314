package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/city-searcher/internal/poll"
)

// stubAPI answers pending from a script and serves a mutable thread.
type stubAPI struct {
	mu        sync.Mutex
	thread    []Message
	pending   []bool
	checks    int
	fetches   int
	createErr error
	created   []string
}

func (s *stubAPI) FetchMessages(ctx context.Context, sessionID uint64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return append([]Message(nil), s.thread...), nil
}

func (s *stubAPI) CreateMessage(ctx context.Context, sessionID uint64, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, content)
	m := Message{ID: uint64(len(s.thread) + 1), SessionID: sessionID, Content: content, MessageType: "user"}
	s.thread = append(s.thread, m)
	return &m, nil
}

func (s *stubAPI) HasPending(ctx context.Context, sessionID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.checks
	s.checks++
	if i >= len(s.pending) {
		return false, nil
	}
	if !s.pending[i] && i == len(s.pending)-1 {
		// the backend answered
		s.thread = append(s.thread, Message{ID: 100, SessionID: sessionID, Content: "answer", MessageType: "assistant"})
	}
	return s.pending[i], nil
}

func (s *stubAPI) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not finish")
	}
}

func TestSessionView_LoadPollsThenRefetches(t *testing.T) {
	api := &stubAPI{
		thread:  []Message{{ID: 1, Content: "hello", MessageType: "user"}},
		pending: []bool{true, true, false},
	}
	v := NewSessionView(api, 11, poll.NewRegistry()).WithInterval(time.Millisecond)
	defer v.Close()

	done, err := v.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, v.Messages(), 1)

	wait(t, done)
	assert.False(t, v.Polling())
	assert.Equal(t, 2, api.fetchCount(), "initial fetch plus one after resolution")
	msgs := v.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "answer", msgs[1].Content)
}

func TestSessionView_SendBlockedWhilePolling(t *testing.T) {
	api := &stubAPI{pending: []bool{true}}
	// a long interval keeps the view in Polling after the first check
	api.pending = append(api.pending, true, true, true)
	v := NewSessionView(api, 11, nil).WithInterval(time.Hour)
	defer v.Close()

	_, err := v.Load(context.Background())
	require.NoError(t, err)
	require.Eventually(t, v.Polling, time.Second, time.Millisecond)

	_, err = v.Send(context.Background(), "again")
	assert.ErrorIs(t, err, ErrPolling)
	assert.Empty(t, api.created)
	assert.Empty(t, v.Messages())
}

// gatedAPI holds CreateMessage until release is closed.
type gatedAPI struct {
	*stubAPI
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAPI) CreateMessage(ctx context.Context, sessionID uint64, content string) (*Message, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.stubAPI.CreateMessage(ctx, sessionID, content)
}

func TestSessionView_SendBlockedWhileSending(t *testing.T) {
	api := &gatedAPI{
		stubAPI: &stubAPI{pending: []bool{true, true}},
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	v := NewSessionView(api, 11, nil).WithInterval(time.Hour)
	defer v.Close()

	first := make(chan error, 1)
	go func() {
		_, err := v.Send(context.Background(), "q")
		first <- err
	}()

	select {
	case <-api.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first send never reached CreateMessage")
	}

	_, err := v.Send(context.Background(), "q")
	assert.ErrorIs(t, err, ErrPolling)

	close(api.release)
	require.NoError(t, <-first)
	assert.Equal(t, []string{"q"}, api.created)
	assert.Len(t, v.Messages(), 1)
	assert.True(t, v.Polling())
}

func TestSessionView_SendRetryAfterFailure(t *testing.T) {
	api := &stubAPI{createErr: errors.New("boom"), pending: []bool{true, true}}
	v := NewSessionView(api, 11, nil).WithInterval(time.Hour)
	defer v.Close()

	_, err := v.Send(context.Background(), "hello")
	require.Error(t, err)

	api.mu.Lock()
	api.createErr = nil
	api.mu.Unlock()

	_, err = v.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, api.created)
}

func TestSessionView_SendOptimisticAndPolls(t *testing.T) {
	api := &stubAPI{}
	fixed := time.UnixMilli(1_700_000_000_123)
	v := NewSessionView(api, 11, nil).WithInterval(time.Millisecond).WithClock(func() time.Time { return fixed })
	defer v.Close()

	done, err := v.Load(context.Background())
	require.NoError(t, err)
	wait(t, done)

	changes := 0
	var mu sync.Mutex
	v.OnChange = func() { mu.Lock(); changes++; mu.Unlock() }

	api.mu.Lock()
	api.pending = []bool{false, true, false}
	api.mu.Unlock()

	_, err = v.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	done, err = v.Send(context.Background(), "  trash day?  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"trash day?"}, api.created)
	wait(t, done)

	msgs := v.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "trash day?", msgs[0].Content)
	assert.Equal(t, "answer", msgs[1].Content)

	mu.Lock()
	assert.Positive(t, changes)
	mu.Unlock()
}

func TestSessionView_SendFailureKeepsMessage(t *testing.T) {
	api := &stubAPI{createErr: errors.New("boom")}
	fixed := time.UnixMilli(1_700_000_000_123)
	v := NewSessionView(api, 11, nil).WithClock(func() time.Time { return fixed })

	_, err := v.Send(context.Background(), "hello")
	require.Error(t, err)

	msgs := v.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(1_700_000_000_123), msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, SendFailedNote, msgs[0].Error)
	assert.False(t, v.Polling())
}

func TestSessionView_CloseStopsPolling(t *testing.T) {
	api := &stubAPI{pending: []bool{true, true, true, true}}
	v := NewSessionView(api, 11, nil).WithInterval(time.Hour)

	done, err := v.Load(context.Background())
	require.NoError(t, err)
	require.Eventually(t, v.Polling, time.Second, time.Millisecond)

	v.Close()
	wait(t, done)
	assert.False(t, v.Polling())
}
