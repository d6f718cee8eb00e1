// Package security is the gin authentication layer: it verifies the bearer
// token and binds the caller principal to the request context. Operation
// handlers never touch tokens; they read the principal and hand it to the
// chat core's caller verification.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"UProject/module/chat/model"
	secutil "UProject/tools/security"
)

const principalKey = "caller.principal"

// Auth verifies the Authorization bearer token and stores its subject as
// the request's principal. Missing or bad tokens stop the request with 401.
func Auth(secret []byte) gin.HandlerFunc {
	opts := secutil.DefaultOptions(secret)
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "missing bearer token"})
			return
		}
		sub, err := secutil.VerifySubject(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "invalid token"})
			return
		}
		c.Set(principalKey, sub)
		c.Next()
	}
}

// Principal returns the verified caller bound by Auth, empty if the route
// was not authenticated.
func Principal(c *gin.Context) model.UserID {
	v, ok := c.Get(principalKey)
	if !ok {
		return ""
	}
	sub, _ := v.(string)
	return model.UserID(sub)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
