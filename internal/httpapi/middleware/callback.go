package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/suPer8Hu/city-searcher/internal/common"
)

// CallbackIssuer is the iss claim the search backend signs callbacks with.
const CallbackIssuer = "search-backend"

// CallbackAuth requires an HS256 bearer token signed with secret.
func CallbackAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(auth, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			common.Abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := verifyCallbackToken(strings.TrimSpace(raw), key); err != nil {
			_ = c.Error(err)
			common.Abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Next()
	}
}

func verifyCallbackToken(raw string, key []byte) error {
	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	},
		jwt.WithIssuer(CallbackIssuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// SignCallbackToken issues a token CallbackAuth accepts. The search backend
// and tests use it.
func SignCallbackToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    CallbackIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
