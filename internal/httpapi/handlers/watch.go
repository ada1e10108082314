package handlers

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/city-searcher/internal/common"
	"github.com/suPer8Hu/city-searcher/internal/poll"
	"go.uber.org/zap"
)

type watchEvent struct {
	Type    string `json:"type"`
	Pending *bool  `json:"pending,omitempty"`
	Error   string `json:"error,omitempty"`
}

// hijackWriter sends the 101 through the net/http writer and hijacks through
// gin's, so gin neither rejects the hijack nor writes a second header.
type hijackWriter struct {
	http.ResponseWriter
	http.Hijacker
}

// upgradeWriter hides gin's WriteHeaderNow from websocket.Accept. Otherwise
// Accept flushes the header through gin and gin's Hijack then fails with
// "response already written".
func upgradeWriter(w gin.ResponseWriter) http.ResponseWriter {
	raw := http.ResponseWriter(w)
	if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
		raw = u.Unwrap()
	}
	return hijackWriter{ResponseWriter: raw, Hijacker: w}
}

// WatchPending streams the pending status of a session over a websocket
// until it resolves.
func (h *Handler) WatchPending(c *gin.Context) {
	sessionID, ok := queryID(c, "session_id")
	if !ok || sessionID == 0 {
		common.Fail(c, http.StatusBadRequest, "session_id is required")
		return
	}

	conn, err := websocket.Accept(upgradeWriter(c.Writer), c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.Log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// the client never sends; CloseRead cancels ctx when it goes away
	ctx, cancel := context.WithCancel(conn.CloseRead(c.Request.Context()))
	defer cancel()

	p := poll.New(sessionID, poll.CheckerFunc(h.Svc.HasPending))
	if h.WatchInterval > 0 {
		p.Interval = h.WatchInterval
	}

	var writeErr error
	p.OnStatus = func(pending bool) {
		if writeErr != nil {
			return
		}
		if writeErr = wsjson.Write(ctx, conn, watchEvent{Type: "status", Pending: &pending}); writeErr != nil {
			cancel()
		}
	}

	err = p.Run(ctx)
	switch {
	case writeErr != nil:
		return
	case err == nil:
		_ = wsjson.Write(ctx, conn, watchEvent{Type: "resolved"})
		conn.Close(websocket.StatusNormalClosure, "resolved")
	case ctx.Err() != nil:
		return
	default:
		h.Log.Error("watch pending failed", zap.Uint64("session_id", sessionID), zap.Error(err))
		_ = wsjson.Write(context.WithoutCancel(ctx), conn, watchEvent{Type: "error", Error: err.Error()})
		conn.Close(websocket.StatusInternalError, "check failed")
	}
}
