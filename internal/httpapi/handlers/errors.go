package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/city-searcher/internal/chat"
	"github.com/suPer8Hu/city-searcher/internal/common"
	"github.com/suPer8Hu/city-searcher/internal/httpapi/middleware"
	"go.uber.org/zap"
)

// writeError maps service errors onto status codes:
// invalid request 400, store failure 500 with its message, missing row 404,
// anything else 500 "Unknown error".
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	var se *chat.StoreError
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		common.Fail(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &se):
		h.Log.Error(op+" failed", zap.String("op", se.Op), zap.String("request_id", c.GetString(middleware.RequestIDKey)), zap.Error(se.Err))
		common.Fail(c, http.StatusInternalServerError, se.Error())
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, err.Error())
	default:
		h.Log.Error(op+" failed", zap.String("request_id", c.GetString(middleware.RequestIDKey)), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "Unknown error")
	}
	_ = c.Error(err)
}

// flexID accepts an id sent as a JSON number or a numeric string.
// Absent, null, "" and 0 all decode to 0.
type flexID uint64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return errors.New("id must be a positive integer")
	}
	*f = flexID(n)
	return nil
}

// queryID reads a numeric id from the query string. Missing is 0.
func queryID(c *gin.Context, name string) (uint64, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
