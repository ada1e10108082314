package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Transaction runs fn against a Repo bound to a single transaction.
func (r *Repo) Transaction(ctx context.Context, fn func(tx *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}

// Ping checks the underlying connection.
func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Cities

// UpsertCity inserts a city by name or updates its docset id.
func (r *Repo) UpsertCity(ctx context.Context, c *City) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"docset_id"}),
		}).
		Create(c).Error
}

func (r *Repo) ListCities(ctx context.Context) ([]City, error) {
	var cities []City
	if err := r.db.WithContext(ctx).
		Select("id", "name").
		Find(&cities).Error; err != nil {
		return nil, err
	}
	return cities, nil
}

func (r *Repo) GetCity(ctx context.Context, id uint64) (*City, error) {
	var c City
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Sessions

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSession(ctx context.Context, id uint64) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

type sessionRow struct {
	ID        uint64
	CityID    uint64
	StartedAt time.Time
	CityName  string
}

// listSessionRows returns sessions joined with their city name, oldest first.
func (r *Repo) listSessionRows(ctx context.Context) ([]sessionRow, error) {
	var rows []sessionRow
	if err := r.db.WithContext(ctx).
		Table("sessions").
		Select("sessions.id, sessions.city_id, sessions.started_at, cities.name AS city_name").
		Joins("JOIN cities ON cities.id = sessions.city_id").
		Order("sessions.started_at ASC, sessions.id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Messages

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns every message of a session in ASC created_at order.
func (r *Repo) ListMessages(ctx context.Context, sessionID uint64) ([]Message, error) {
	msgs := make([]Message, 0)
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Service responses

func (r *Repo) CreateServiceResponse(ctx context.Context, sr *ServiceResponse) error {
	return r.db.WithContext(ctx).Create(sr).Error
}

func (r *Repo) GetServiceResponse(ctx context.Context, id uint64) (*ServiceResponse, error) {
	var sr ServiceResponse
	if err := r.db.WithContext(ctx).First(&sr, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sr, nil
}

func (r *Repo) HasPending(ctx context.Context, sessionID uint64) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&ServiceResponse{}).
		Where("session_id = ? AND status = ?", sessionID, StatusPending).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// OldestPending returns the earliest pending response of a session, or
// ErrNotFound.
func (r *Repo) OldestPending(ctx context.Context, sessionID uint64) (*ServiceResponse, error) {
	var sr ServiceResponse
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, StatusPending).
		Order("created_at ASC, id ASC").
		First(&sr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

func (r *Repo) MarkEnqueued(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&ServiceResponse{}).
		Where("id = ?", id).
		Update("enqueued_at", at).Error
}

// RecordAttemptFailed stores the attempt count and last error of a failed dispatch.
func (r *Repo) RecordAttemptFailed(ctx context.Context, id uint64, attempt int, errMsg string) error {
	return r.db.WithContext(ctx).Model(&ServiceResponse{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"dispatch_attempts": attempt,
			"last_error":        errMsg,
		}).Error
}

func (r *Repo) MarkDispatched(ctx context.Context, id uint64, attempt int, queryID string, at time.Time) error {
	updates := map[string]any{
		"dispatch_attempts": attempt,
		"dispatched_at":     at,
		"last_error":        nil,
	}
	if queryID != "" {
		updates["query_id"] = queryID
	}
	return r.db.WithContext(ctx).Model(&ServiceResponse{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Resolve moves a pending response to a terminal status. It reports false when
// the row was no longer pending.
func (r *Repo) Resolve(ctx context.Context, id uint64, status ResponseStatus, queryID string, errMsg *string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":      status,
		"resolved_at": at,
	}
	if queryID != "" {
		updates["query_id"] = queryID
	}
	if errMsg != nil {
		updates["last_error"] = *errMsg
	}
	res := r.db.WithContext(ctx).Model(&ServiceResponse{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListUnenqueued returns pending responses that never reached a dispatcher
// and were created before the cutoff.
func (r *Repo) ListUnenqueued(ctx context.Context, before time.Time, limit int) ([]ServiceResponse, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []ServiceResponse
	if err := r.db.WithContext(ctx).
		Where("status = ? AND enqueued_at IS NULL AND created_at < ?", StatusPending, before).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
