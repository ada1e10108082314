package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/suPer8Hu/city-searcher/internal/common"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	repo       *Repo
	dispatcher Dispatcher
	log        *zap.Logger
	now        func() time.Time
}

func NewService(repo *Repo, dispatcher Dispatcher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Repo() *Repo { return s.repo }

func (s *Service) CreateSession(ctx context.Context, cityID uint64) (*Session, error) {
	if cityID == 0 {
		return nil, invalid("city_id is required")
	}

	if _, err := s.repo.GetCity(ctx, cityID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid(fmt.Sprintf("city %d does not exist", cityID))
		}
		return nil, storeErr("get city", err)
	}

	session := &Session{CityID: cityID, StartedAt: s.now()}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, storeErr("create session", err)
	}
	return session, nil
}

// CreateMessage stores the user message and its pending ServiceResponse in one
// transaction, then hands the search job to the dispatcher. Dispatch failures
// are logged and never returned.
func (s *Service) CreateMessage(ctx context.Context, sessionID uint64, content string) (*Message, error) {
	if sessionID == 0 || content == "" {
		return nil, invalid("session_id and content are required")
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &Message{
		SessionID:   sessionID,
		Content:     content,
		MessageType: MessageUser,
		CreatedAt:   now,
	}
	var sr *ServiceResponse

	err = s.repo.Transaction(ctx, func(tx *Repo) error {
		// 1) user message
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return storeErr("insert message", err)
		}

		// 2) session -> city
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storeErr("get session", fmt.Errorf("session %d: %w", sessionID, ErrNotFound))
			}
			return storeErr("get session", err)
		}

		// 3) city -> docset
		city, err := tx.GetCity(ctx, sess.CityID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storeErr("get city", fmt.Errorf("city %d: %w", sess.CityID, ErrNotFound))
			}
			return storeErr("get city", err)
		}

		// 4) pending service response
		sr = &ServiceResponse{
			SessionID:  sessionID,
			QueryText:  content,
			Status:     StatusPending,
			Metadata:   datatypes.NewJSONType(ResponseMetadata{DocsetID: city.DocsetID}),
			DispatchID: jobID,
			CreatedAt:  now,
		}
		if err := tx.CreateServiceResponse(ctx, sr); err != nil {
			return storeErr("create service response", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error("create message failed", zap.Uint64("session_id", sessionID), zap.Error(err))
		return nil, err
	}

	// 5) dispatch outlives the request
	if err := s.dispatch(context.WithoutCancel(ctx), sr); err != nil {
		s.log.Warn("search dispatch failed",
			zap.Uint64("service_response_id", sr.ID),
			zap.String("job_id", sr.DispatchID),
			zap.Error(err),
		)
	}

	return msg, nil
}

func (s *Service) dispatch(ctx context.Context, sr *ServiceResponse) error {
	if s.dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	job := SearchJob{JobID: sr.DispatchID, ServiceResponseID: sr.ID, Attempt: sr.DispatchAttempts + 1}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		return err
	}
	return s.repo.MarkEnqueued(ctx, sr.ID, s.now())
}

// RedispatchStale re-sends pending responses whose dispatch never reached the
// dispatcher and that are older than age. It returns how many were sent.
func (s *Service) RedispatchStale(ctx context.Context, age time.Duration) (int, error) {
	stale, err := s.repo.ListUnenqueued(ctx, s.now().Add(-age), 100)
	if err != nil {
		return 0, storeErr("list unenqueued", err)
	}

	sent := 0
	for i := range stale {
		sr := &stale[i]
		if sr.DispatchID == "" {
			if sr.DispatchID, err = common.NewULID(); err != nil {
				return sent, err
			}
		}
		if err := s.dispatch(ctx, sr); err != nil {
			s.log.Warn("redispatch failed", zap.Uint64("service_response_id", sr.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Service) ListCities(ctx context.Context) ([]City, error) {
	cities, err := s.repo.ListCities(ctx)
	if err != nil {
		return nil, storeErr("list cities", err)
	}
	return cities, nil
}

func (s *Service) ListMessages(ctx context.Context, sessionID uint64) ([]Message, error) {
	if sessionID == 0 {
		return nil, invalid("session_id is required")
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	return msgs, nil
}

func (s *Service) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	m, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, storeErr("get message", err)
	}
	return m, nil
}

// ListSessions returns all sessions newest id first. session_number counts the
// sessions of the same city in started_at order, starting at 1.
func (s *Service) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.repo.listSessionRows(ctx)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}

	perCity := make(map[uint64]int)
	out := make([]SessionSummary, 0, len(rows))
	for _, row := range rows {
		perCity[row.CityID]++
		out = append(out, SessionSummary{
			ID:            row.ID,
			CityName:      row.CityName,
			SessionNumber: perCity[row.CityID],
			StartedAt:     row.StartedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Service) HasPending(ctx context.Context, sessionID uint64) (bool, error) {
	if sessionID == 0 {
		return false, invalid("session_id is required")
	}
	pending, err := s.repo.HasPending(ctx, sessionID)
	if err != nil {
		return false, storeErr("pending service responses", err)
	}
	return pending, nil
}

// Resolution is the search backend's report for a session's pending request.
type Resolution struct {
	SessionID uint64
	Status    ResponseStatus
	Result    string
	QueryID   string
}

// Resolve settles the oldest pending response of a session. A complete
// resolution with a non-empty result appends the assistant message.
func (s *Service) Resolve(ctx context.Context, in Resolution) (*ServiceResponse, *Message, error) {
	if in.SessionID == 0 {
		return nil, nil, invalid("session_id is required")
	}
	if in.Status != StatusComplete && in.Status != StatusError {
		return nil, nil, invalid(fmt.Sprintf("status must be %q or %q", StatusComplete, StatusError))
	}

	var (
		sr  *ServiceResponse
		msg *Message
	)
	now := s.now()

	err := s.repo.Transaction(ctx, func(tx *Repo) error {
		var err error
		sr, err = tx.OldestPending(ctx, in.SessionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return err
			}
			return storeErr("oldest pending", err)
		}

		var errMsg *string
		if in.Status == StatusError && strings.TrimSpace(in.Result) != "" {
			e := in.Result
			errMsg = &e
		}
		ok, err := tx.Resolve(ctx, sr.ID, in.Status, in.QueryID, errMsg, now)
		if err != nil {
			return storeErr("resolve service response", err)
		}
		if !ok {
			return ErrNotFound
		}
		sr.Status = in.Status
		sr.ResolvedAt = &now

		if in.Status == StatusComplete && strings.TrimSpace(in.Result) != "" {
			msg = &Message{
				SessionID:   in.SessionID,
				Content:     in.Result,
				MessageType: MessageAssistant,
				CreatedAt:   now,
			}
			if err := tx.InsertMessage(ctx, msg); err != nil {
				return storeErr("insert assistant message", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return sr, msg, nil
}
