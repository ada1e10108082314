package main

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/city-searcher/internal/chat"
	"github.com/suPer8Hu/city-searcher/internal/store/rabbitmq"
	"go.uber.org/zap"
)

// jobRunner performs one search job and records a final failure.
type jobRunner interface {
	Process(ctx context.Context, job chat.SearchJob) error
	GiveUp(ctx context.Context, job chat.SearchJob, cause error) error
}

type retryPublisher interface {
	PublishRetry(ctx context.Context, job chat.SearchJob, delay time.Duration) error
}

type worker struct {
	proc        jobRunner
	retries     retryPublisher
	maxAttempts int
	retryDelay  time.Duration
	log         *zap.Logger
}

func (w *worker) handle(workerID int, d amqp.Delivery) {
	job, err := rabbitmq.Decode(d.Body)
	if err != nil || job.ServiceResponseID == 0 {
		w.log.Warn("bad message", zap.Int("worker", workerID), zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}

	// in-flight jobs finish during shutdown
	ctx := context.Background()

	start := time.Now()
	err = w.proc.Process(ctx, job)
	cost := time.Since(start)

	if err == nil {
		if cost > 2*time.Second {
			w.log.Info("job_timing", zap.String("job_id", job.JobID), zap.Int("attempt", job.Attempt), zap.Duration("total", cost))
		}
		if err := d.Ack(false); err != nil {
			w.log.Error("ack failed", zap.Int("worker", workerID), zap.String("job_id", job.JobID), zap.Error(err))
		}
		return
	}

	w.log.Warn("job_timing_failed",
		zap.Int("worker", workerID),
		zap.String("job_id", job.JobID),
		zap.Uint64("service_response_id", job.ServiceResponseID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("total", cost),
		zap.Error(err),
	)

	if job.Attempt < w.maxAttempts {
		next := job
		next.Attempt++
		if perr := w.retries.PublishRetry(ctx, next, w.retryDelay); perr != nil {
			w.log.Error("publish retry failed, requeueing", zap.String("job_id", job.JobID), zap.Error(perr))
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
		return
	}

	// out of attempts: mark the response error and park the message on the DLQ
	if gerr := w.proc.GiveUp(ctx, job, err); gerr != nil {
		w.log.Error("mark dispatch failed", zap.String("job_id", job.JobID), zap.Error(gerr))
	}
	_ = d.Nack(false, false)
}
