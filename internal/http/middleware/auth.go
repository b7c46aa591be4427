package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/studyforge-backend/internal/pkg/ctxutil"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

// AuthMiddleware validates bearer JWTs and attaches the user id to the
// request context. Tokens are accepted from the Authorization header
// or, for EventSource clients that cannot set headers, a token query
// parameter.
type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(baseLog *logger.Logger, secret string) (*AuthMiddleware, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("missing JWT secret")
	}
	return &AuthMiddleware{
		log:    baseLog.With("middleware", "AuthMiddleware"),
		secret: []byte(secret),
	}, nil
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}

		userID, err := am.parseUserID(tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}

		c.Request = c.Request.WithContext(ctxutil.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func (am *AuthMiddleware) parseUserID(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return am.secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid token claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, fmt.Errorf("missing subject claim")
	}
	return uuid.Parse(sub)
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	return ""
}
