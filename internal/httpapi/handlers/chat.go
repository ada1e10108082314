package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/city-searcher/internal/chat"
	"github.com/suPer8Hu/city-searcher/internal/common"
	"go.uber.org/zap"
)

const IdempotencyHeader = "Idempotency-Key"

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, http.StatusOK, gin.H{"message": "pong"})
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.Svc.Repo().Ping(ctx); err != nil {
		h.Log.Warn("health check failed", zap.Error(err))
		common.Fail(c, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	common.OK(c, http.StatusOK, gin.H{"status": "ok"})
}

type createSessionReq struct {
	CityID flexID `json:"city_id"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "city_id is required")
		return
	}

	sess, err := h.Svc.CreateSession(c.Request.Context(), uint64(req.CityID))
	if err != nil {
		h.writeError(c, "create session", err)
		return
	}
	common.OK(c, http.StatusOK, gin.H{"status": "ok", "session_id": sess.ID})
}

type createMessageReq struct {
	SessionID flexID `json:"session_id"`
	Content   string `json:"content"`
}

func (h *Handler) CreateMessage(c *gin.Context) {
	var req createMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "session_id and content are required")
		return
	}
	sessionID := uint64(req.SessionID)
	if sessionID == 0 || req.Content == "" {
		common.Fail(c, http.StatusBadRequest, "session_id and content are required")
		return
	}

	idemKey := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	if len(idemKey) > 128 {
		common.Fail(c, http.StatusBadRequest, "idempotency key too long")
		return
	}

	ctx := c.Request.Context()
	reserved := ""
	if idemKey != "" && h.Idem != nil {
		key := fmt.Sprintf("%d:%s", sessionID, idemKey)
		prior, ok, err := h.Idem.Reserve(ctx, key)
		switch {
		case err != nil:
			// keys are best effort; carry on without one
			h.Log.Warn("idempotency reserve failed", zap.String("key", key), zap.Error(err))
		case !ok && prior == "":
			common.Fail(c, http.StatusConflict, "a request with this Idempotency-Key is in progress")
			return
		case !ok:
			h.replayMessage(c, prior)
			return
		default:
			reserved = key
		}
	}

	msg, err := h.Svc.CreateMessage(ctx, sessionID, req.Content)
	if err != nil {
		if reserved != "" {
			if rerr := h.Idem.Release(context.WithoutCancel(ctx), reserved); rerr != nil {
				h.Log.Warn("idempotency release failed", zap.String("key", reserved), zap.Error(rerr))
			}
		}
		h.writeError(c, "create message", err)
		return
	}
	if reserved != "" {
		if err := h.Idem.Complete(context.WithoutCancel(ctx), reserved, strconv.FormatUint(msg.ID, 10)); err != nil {
			h.Log.Warn("idempotency complete failed", zap.String("key", reserved), zap.Error(err))
		}
	}

	common.OK(c, http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) replayMessage(c *gin.Context, prior string) {
	id, err := strconv.ParseUint(prior, 10, 64)
	if err != nil {
		h.writeError(c, "idempotent replay", fmt.Errorf("bad stored message id %q", prior))
		return
	}
	msg, err := h.Svc.GetMessage(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "idempotent replay", err)
		return
	}
	c.Header("Idempotent-Replayed", "true")
	common.OK(c, http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) FetchCities(c *gin.Context) {
	cities, err := h.Svc.ListCities(c.Request.Context())
	if err != nil {
		h.writeError(c, "fetch cities", err)
		return
	}
	out := make([]gin.H, 0, len(cities))
	for _, city := range cities {
		out = append(out, gin.H{"id": city.ID, "name": city.Name})
	}
	common.OK(c, http.StatusOK, gin.H{"cities": out})
}

func (h *Handler) FetchMessages(c *gin.Context) {
	sessionID, ok := queryID(c, "session_id")
	if !ok || sessionID == 0 {
		common.Fail(c, http.StatusBadRequest, "session_id is required")
		return
	}
	msgs, err := h.Svc.ListMessages(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, "fetch messages", err)
		return
	}
	common.OK(c, http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.Svc.ListSessions(c.Request.Context())
	if err != nil {
		h.writeError(c, "list sessions", err)
		return
	}
	common.OK(c, http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) PendingServiceResponses(c *gin.Context) {
	sessionID, ok := queryID(c, "session_id")
	if !ok || sessionID == 0 {
		common.Fail(c, http.StatusBadRequest, "session_id is required")
		return
	}
	pending, err := h.Svc.HasPending(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, "pending service responses", err)
		return
	}
	common.OK(c, http.StatusOK, gin.H{"pending": pending})
}

type resolveReq struct {
	SessionID flexID `json:"session_id"`
	Status    string `json:"status"`
	Result    string `json:"result"`
	QueryID   string `json:"query_id"`
}

// ResolveServiceResponse is the search backend's callback.
func (h *Handler) ResolveServiceResponse(c *gin.Context) {
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	sr, msg, err := h.Svc.Resolve(c.Request.Context(), chat.Resolution{
		SessionID: uint64(req.SessionID),
		Status:    chat.ResponseStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Result:    req.Result,
		QueryID:   strings.TrimSpace(req.QueryID),
	})
	if err != nil {
		h.writeError(c, "resolve service response", err)
		return
	}

	body := gin.H{"service_response": sr}
	if msg != nil {
		body["message"] = msg
	}
	common.OK(c, http.StatusOK, body)
}
