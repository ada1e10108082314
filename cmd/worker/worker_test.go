package main

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/city-searcher/internal/chat"
	"github.com/suPer8Hu/city-searcher/internal/store/rabbitmq"
	"go.uber.org/zap"
)

type fakeRunner struct {
	err    error
	ran    []chat.SearchJob
	gaveUp []chat.SearchJob
}

func (f *fakeRunner) Process(ctx context.Context, job chat.SearchJob) error {
	f.ran = append(f.ran, job)
	return f.err
}

func (f *fakeRunner) GiveUp(ctx context.Context, job chat.SearchJob, cause error) error {
	f.gaveUp = append(f.gaveUp, job)
	return nil
}

type fakeRetries struct {
	err    error
	jobs   []chat.SearchJob
	delays []time.Duration
}

func (f *fakeRetries) PublishRetry(ctx context.Context, job chat.SearchJob, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	f.delays = append(f.delays, delay)
	return nil
}

// ackLog records how a delivery was settled.
type ackLog struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *ackLog) Ack(tag uint64, multiple bool) error { a.acks++; return nil }

func (a *ackLog) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *ackLog) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func delivery(t *testing.T, ack *ackLog, job chat.SearchJob) amqp.Delivery {
	t.Helper()
	body, err := rabbitmq.Encode(job)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body, DeliveryTag: 1}
}

func newTestWorker(run *fakeRunner, retries *fakeRetries) *worker {
	return &worker{proc: run, retries: retries, maxAttempts: 3, retryDelay: 5 * time.Second, log: zap.NewNop()}
}

func TestHandle_SuccessAcks(t *testing.T) {
	run, retries, ack := &fakeRunner{}, &fakeRetries{}, &ackLog{}
	newTestWorker(run, retries).handle(0, delivery(t, ack, chat.SearchJob{JobID: "j", ServiceResponseID: 4, Attempt: 1}))

	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
	assert.Len(t, run.ran, 1)
	assert.Empty(t, retries.jobs)
}

func TestHandle_FailureRetriesWithNextAttempt(t *testing.T) {
	run, retries, ack := &fakeRunner{err: errors.New("backend 502")}, &fakeRetries{}, &ackLog{}
	newTestWorker(run, retries).handle(0, delivery(t, ack, chat.SearchJob{JobID: "j", ServiceResponseID: 4, Attempt: 2}))

	require.Len(t, retries.jobs, 1)
	assert.Equal(t, 3, retries.jobs[0].Attempt)
	assert.Equal(t, 5*time.Second, retries.delays[0])
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
	assert.Empty(t, run.gaveUp)
}

func TestHandle_MissingAttemptCountsAsFirst(t *testing.T) {
	run, retries, ack := &fakeRunner{err: errors.New("timeout")}, &fakeRetries{}, &ackLog{}
	newTestWorker(run, retries).handle(0, delivery(t, ack, chat.SearchJob{JobID: "j", ServiceResponseID: 4}))

	require.Len(t, retries.jobs, 1)
	assert.Equal(t, 2, retries.jobs[0].Attempt)
}

func TestHandle_LastAttemptGoesToDLQ(t *testing.T) {
	run, retries, ack := &fakeRunner{err: errors.New("backend 502")}, &fakeRetries{}, &ackLog{}
	newTestWorker(run, retries).handle(0, delivery(t, ack, chat.SearchJob{JobID: "j", ServiceResponseID: 4, Attempt: 3}))

	assert.Empty(t, retries.jobs)
	require.Len(t, run.gaveUp, 1)
	assert.Equal(t, uint64(4), run.gaveUp[0].ServiceResponseID)
	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
}

func TestHandle_RetryPublishFailureRequeues(t *testing.T) {
	run := &fakeRunner{err: errors.New("backend 502")}
	retries, ack := &fakeRetries{err: errors.New("channel closed")}, &ackLog{}
	newTestWorker(run, retries).handle(0, delivery(t, ack, chat.SearchJob{JobID: "j", ServiceResponseID: 4, Attempt: 1}))

	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
	assert.Empty(t, run.gaveUp)
}

func TestHandle_BadMessageDeadLetters(t *testing.T) {
	run, retries := &fakeRunner{}, &fakeRetries{}
	w := newTestWorker(run, retries)

	garbage := &ackLog{}
	w.handle(0, amqp.Delivery{Acknowledger: garbage, Body: []byte("not json")})
	assert.Equal(t, 1, garbage.nacks)
	assert.False(t, garbage.requeue)

	noID := &ackLog{}
	w.handle(0, delivery(t, noID, chat.SearchJob{JobID: "j"}))
	assert.Equal(t, 1, noID.nacks)
	assert.False(t, noID.requeue)

	assert.Empty(t, run.ran)
}
