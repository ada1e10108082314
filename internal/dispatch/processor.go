package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/city-searcher/internal/chat"
	"github.com/suPer8Hu/city-searcher/internal/search"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Searcher is the outbound search call. *search.Client implements it.
type Searcher interface {
	Search(ctx context.Context, in search.Request) (*search.Response, error)
}

// Processor performs one dispatch attempt for a search job.
type Processor struct {
	repo     *chat.Repo
	searcher Searcher
	log      *zap.Logger
	now      func() time.Time
}

func NewProcessor(repo *chat.Repo, searcher Searcher, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		repo:     repo,
		searcher: searcher,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process calls the search backend for job. It returns nil when the call
// succeeded or when there is nothing left to do (row gone or no longer
// pending). A non-nil error means the attempt failed and may be retried.
func (p *Processor) Process(ctx context.Context, job chat.SearchJob) error {
	sr, err := p.repo.GetServiceResponse(ctx, job.ServiceResponseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.log.Warn("dispatch skipped, service response missing", zap.String("job_id", job.JobID), zap.Uint64("service_response_id", job.ServiceResponseID))
			return nil
		}
		return fmt.Errorf("load service response: %w", err)
	}
	if sr.Status != chat.StatusPending {
		p.log.Debug("dispatch skipped, already resolved", zap.Uint64("service_response_id", sr.ID), zap.String("status", string(sr.Status)))
		return nil
	}

	attempt := job.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	resp, err := p.searcher.Search(ctx, search.Request{
		DocsetID:  sr.DocsetID(),
		Query:     sr.QueryText,
		SessionID: sr.SessionID,
	})
	if err != nil {
		if recErr := p.repo.RecordAttemptFailed(ctx, sr.ID, attempt, err.Error()); recErr != nil {
			p.log.Error("record dispatch failure", zap.Uint64("service_response_id", sr.ID), zap.Error(recErr))
		}
		return err
	}

	if err := p.repo.MarkDispatched(ctx, sr.ID, attempt, resp.QueryID, p.now()); err != nil {
		// the backend has the query; a retry would duplicate it
		p.log.Error("mark dispatched", zap.Uint64("service_response_id", sr.ID), zap.Error(err))
	}
	return nil
}

// GiveUp marks the job's response as error so pollers stop waiting.
func (p *Processor) GiveUp(ctx context.Context, job chat.SearchJob, cause error) error {
	msg := "search dispatch failed"
	if cause != nil {
		msg = fmt.Sprintf("search dispatch failed after %d attempts: %v", job.Attempt, cause)
	}
	_, err := p.repo.Resolve(ctx, job.ServiceResponseID, chat.StatusError, "", &msg, p.now())
	return err
}
