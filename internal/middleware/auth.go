package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"social_client/pkg/logger"
)

// AuthMiddleware закрывает локальный API токеном. Пустой токен - доступ открыт.
type AuthMiddleware struct {
	token string
	log   logger.Logger
}

func NewAuthMiddleware(token string, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		token: token,
		log:   log,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.token == "" {
			c.Next()
			return
		}

		token := c.Query("token") // браузерный WebSocket не умеет в заголовки
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
				c.Abort()
				return
			}
			token = parts[1]
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
			m.log.Warn("Rejected local API request", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
