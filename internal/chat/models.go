package chat

import (
	"time"

	"gorm.io/datatypes"
)

type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
)

type ResponseStatus string

const (
	StatusPending  ResponseStatus = "pending"
	StatusComplete ResponseStatus = "complete"
	StatusError    ResponseStatus = "error"
)

// City rows are seeded; DocsetID names the document collection the search
// backend queries for that city.
type City struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	DocsetID string `gorm:"type:varchar(128);not null" json:"-"`
}

func (City) TableName() string { return "cities" }

type Session struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	CityID    uint64    `gorm:"index;not null" json:"city_id"`
	StartedAt time.Time `gorm:"index;not null" json:"started_at"`
}

func (Session) TableName() string { return "sessions" }

// Message rows are append-only.
type Message struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   uint64      `gorm:"not null;index:idx_messages_session_created,priority:1" json:"session_id"`
	Content     string      `gorm:"type:text;not null" json:"content"`
	MessageType MessageType `gorm:"type:varchar(16);not null" json:"message_type"`
	CreatedAt   time.Time   `gorm:"index:idx_messages_session_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

type ResponseMetadata struct {
	DocsetID string `json:"docset_id"`
}

// ServiceResponse tracks one search request. It is created pending and moved
// to a terminal status by the search backend (or by the worker after the
// last failed dispatch attempt).
type ServiceResponse struct {
	ID        uint64                               `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID uint64                               `gorm:"not null;index:idx_sr_session_status,priority:1" json:"session_id"`
	QueryText string                               `gorm:"type:text;not null" json:"query_text"`
	Status    ResponseStatus                       `gorm:"type:varchar(16);not null;index:idx_sr_session_status,priority:2" json:"status"`
	Metadata  datatypes.JSONType[ResponseMetadata] `json:"metadata"`

	// dispatch bookkeeping
	DispatchID       string     `gorm:"type:varchar(26);index" json:"-"`
	DispatchAttempts int        `gorm:"not null;default:0" json:"-"`
	QueryID          *string    `gorm:"type:varchar(128)" json:"-"`
	LastError        *string    `gorm:"type:text" json:"-"`
	EnqueuedAt       *time.Time `gorm:"index" json:"-"`
	DispatchedAt     *time.Time `json:"-"`
	ResolvedAt       *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

func (ServiceResponse) TableName() string { return "service_responses" }

func (sr *ServiceResponse) DocsetID() string {
	return sr.Metadata.Data().DocsetID
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID            uint64    `json:"id"`
	CityName      string    `json:"city_name"`
	SessionNumber int       `json:"session_number"`
	StartedAt     time.Time `json:"started_at"`
}

// AllModels lists every table for AutoMigrate.
func AllModels() []any {
	return []any{&City{}, &Session{}, &Message{}, &ServiceResponse{}}
}
