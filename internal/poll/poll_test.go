package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns answers in order, then repeats the last one.
func scripted(answers ...bool) (CheckerFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context, sessionID uint64) (bool, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(answers) {
			i = len(answers) - 1
		}
		return answers[i], nil
	}, &calls
}

func TestPoller_ResolvesAfterPendingChecks(t *testing.T) {
	check, calls := scripted(true, true, false)
	p := New(7, check)
	p.Interval = time.Millisecond

	var statuses []bool
	resolved := 0
	p.OnStatus = func(pending bool) { statuses = append(statuses, pending) }
	p.OnResolved = func() { resolved++ }

	assert.Equal(t, Idle, p.State())
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, Resolved, p.State())
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []bool{true, true, false}, statuses)
	assert.Equal(t, 1, resolved)
}

func TestPoller_NothingPendingResolvesImmediately(t *testing.T) {
	check, calls := scripted(false)
	p := New(1, check)
	p.Interval = time.Hour

	require.NoError(t, p.Run(context.Background()))
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, Resolved, p.State())
}

func TestPoller_CheckErrorStops(t *testing.T) {
	boom := errors.New("boom")
	p := New(1, CheckerFunc(func(ctx context.Context, id uint64) (bool, error) { return false, boom }))

	resolved := false
	p.OnResolved = func() { resolved = true }

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, resolved)
	assert.Equal(t, Idle, p.State())
}

func TestPoller_CancelStopsWithoutResolving(t *testing.T) {
	check, _ := scripted(true)
	p := New(1, check)
	p.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	resolved := false
	p.OnResolved = func() { resolved = true }

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, resolved)
	assert.Equal(t, Idle, p.State())
}

func TestRegistry_StartReplacesPrevious(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	first, _ := scripted(true)
	p1 := New(3, first)
	p1.Interval = time.Millisecond
	done1 := r.Start(ctx, p1)
	assert.True(t, r.Active(3))

	second, _ := scripted(true)
	p2 := New(3, second)
	p2.Interval = time.Millisecond
	done2 := r.Start(ctx, p2)

	select {
	case <-done1:
	case <-time.After(time.Second):
		t.Fatal("previous poll was not cancelled")
	}
	assert.Equal(t, Idle, p1.State())
	assert.True(t, r.Active(3))

	r.Stop(3)
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("stop did not end the poll")
	}
	assert.False(t, r.Active(3))
}

func TestRegistry_ResolvedPollLeaves(t *testing.T) {
	r := NewRegistry()
	check, _ := scripted(true, false)
	p := New(9, check)
	p.Interval = time.Millisecond

	done := r.Start(context.Background(), p)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll did not resolve")
	}
	assert.Equal(t, Resolved, p.State())
	assert.False(t, r.Active(9))
}

func TestRegistry_StopAll(t *testing.T) {
	r := NewRegistry()
	var pollers []*Poller
	for id := uint64(1); id <= 3; id++ {
		check, _ := scripted(true)
		p := New(id, check)
		p.Interval = time.Millisecond
		pollers = append(pollers, p)
		r.Start(context.Background(), p)
	}

	r.StopAll()
	for _, p := range pollers {
		assert.Equal(t, Idle, p.State())
		assert.False(t, r.Active(p.SessionID))
	}
}
