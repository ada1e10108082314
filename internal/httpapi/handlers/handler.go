package handlers

import (
	"context"
	"time"

	"github.com/suPer8Hu/city-searcher/internal/chat"
	"go.uber.org/zap"
)

// IdempotencyStore reserves Idempotency-Key values for create-message.
// *redisstore.Store implements it.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (prior string, ok bool, err error)
	Complete(ctx context.Context, key, value string) error
	Release(ctx context.Context, key string) error
}

type Handler struct {
	Svc           *chat.Service
	Idem          IdempotencyStore
	Log           *zap.Logger
	WatchInterval time.Duration
}

// NewHandler builds the handler set. idem may be nil, which disables
// Idempotency-Key handling.
func NewHandler(svc *chat.Service, idem IdempotencyStore, log *zap.Logger, watchInterval time.Duration) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Svc: svc, Idem: idem, Log: log, WatchInterval: watchInterval}
}
