package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "authUserID"

// Config holds what is needed to validate tokens issued by the student
// portal. This service validates tokens but never issues them.
type Config struct {
	Secret   string
	Audience string
}

// GetUserID retrieves the authenticated subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithUserID returns a context carrying userID, as the middleware does.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// JWTMiddleware validates HMAC signed bearer tokens and injects the subject
// as the caller's user id.
func JWTMiddleware(cfg Config) gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(cfg.Secret))
	audience := strings.TrimSpace(cfg.Audience)

	return func(c *gin.Context) {
		if len(secret) == 0 {
			unauthorized(c, "missing JWT secret")
			return
		}

		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
		if audience != "" {
			opts = append(opts, jwt.WithAudience(audience))
		}
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		}, opts...)
		if err != nil || !token.Valid {
			if errors.Is(err, jwt.ErrTokenInvalidAudience) {
				unauthorized(c, "invalid audience")
				return
			}
			unauthorized(c, "invalid token")
			return
		}

		if claims.Subject == "" {
			unauthorized(c, "missing subject")
			return
		}

		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), claims.Subject))
		c.Set(string(userIDKey), claims.Subject)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
