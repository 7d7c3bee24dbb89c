package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// operatorCtxKey is the Gin context key used to store the authenticated operator.
const operatorCtxKey = "operator"

// APIKeyMiddleware guards the operator endpoints by mapping X-API-Key to an
// operator name. Ingestion is public and never passes through here.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		operator, ok := lookup(keys, apiKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(operatorCtxKey, operator)
		c.Next()
	}
}

func lookup(keys map[string]string, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}
	for k, operator := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return operator, true
		}
	}
	return "", false
}

// Operator returns the authenticated operator from the request context.
func Operator(c *gin.Context) string {
	v, _ := c.Get(operatorCtxKey)
	s, _ := v.(string)
	return s
}
