package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"fundarb/internal/auth"
	"fundarb/internal/errors"
)

const (
	// ContextKeyClaims is the gin context key holding validated JWT claims.
	ContextKeyClaims = "auth_claims"
)

// Auth validates Bearer tokens on protected routes.
func Auth(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "Missing authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "Authorization header must be a Bearer token")
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims returns the validated claims set by Auth, if any.
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

func abortUnauthorized(c *gin.Context, message string) {
	appErr := errors.NewAppError(errors.ErrCodeUnauthorized, message, nil).
		WithRequestID(GetRequestID(c))
	c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, c.Request.URL.Path))
	c.Abort()
}
