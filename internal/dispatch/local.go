package dispatch

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/suPer8Hu/city-searcher/internal/chat"
	"go.uber.org/zap"
)

// Local runs search jobs in background goroutines of the current process.
// Wait blocks until every started job has finished, so shutdown does not
// drop in-flight dispatches.
type Local struct {
	proc        *Processor
	maxAttempts int
	retryDelay  time.Duration
	log         *zap.Logger

	wg conc.WaitGroup
}

func NewLocal(proc *Processor, maxAttempts int, retryDelay time.Duration, log *zap.Logger) *Local {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{proc: proc, maxAttempts: maxAttempts, retryDelay: retryDelay, log: log}
}

func (l *Local) Dispatch(ctx context.Context, job chat.SearchJob) error {
	ctx = context.WithoutCancel(ctx)
	l.wg.Go(func() {
		l.run(ctx, job)
	})
	return nil
}

func (l *Local) run(ctx context.Context, job chat.SearchJob) {
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	for {
		start := time.Now()
		err := l.proc.Process(ctx, job)
		if err == nil {
			return
		}
		l.log.Warn("search dispatch attempt failed",
			zap.String("job_id", job.JobID),
			zap.Uint64("service_response_id", job.ServiceResponseID),
			zap.Int("attempt", job.Attempt),
			zap.Duration("cost", time.Since(start)),
			zap.Error(err),
		)
		if job.Attempt >= l.maxAttempts {
			if gErr := l.proc.GiveUp(ctx, job, err); gErr != nil {
				l.log.Error("mark dispatch failed", zap.Uint64("service_response_id", job.ServiceResponseID), zap.Error(gErr))
			}
			return
		}
		job.Attempt++
		if l.retryDelay > 0 {
			time.Sleep(l.retryDelay)
		}
	}
}

// Wait blocks until all dispatched jobs are done.
func (l *Local) Wait() {
	l.wg.Wait()
}
