package common

import "github.com/gin-gonic/gin"

// OK writes body as-is with the given status.
func OK(c *gin.Context, status int, body gin.H) {
	c.JSON(status, body)
}

// Fail writes {"error": msg}.
func Fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// Abort is Fail for middleware.
func Abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
