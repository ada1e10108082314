package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

func TestRequestID_GeneratesAndKeeps(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Unknown error"}`, w.Body.String())
}

func TestCallbackAuth(t *testing.T) {
	r := gin.New()
	r.Use(CallbackAuth("s3cret"))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	good, err := SignCallbackToken("s3cret", time.Minute)
	require.NoError(t, err)
	wrong, err := SignCallbackToken("other", time.Minute)
	require.NoError(t, err)
	expired, err := SignCallbackToken("s3cret", -time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, do("Bearer "+good))
	assert.Equal(t, http.StatusUnauthorized, do(""))
	assert.Equal(t, http.StatusUnauthorized, do("Bearer "+wrong))
	assert.Equal(t, http.StatusUnauthorized, do("Bearer "+expired))
	assert.Equal(t, http.StatusUnauthorized, do(good))
}
