package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity of an authenticated collector.
type Claims struct {
	KeyID string `json:"key_id"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates signed tokens for the ingest API.
type JWTManager struct {
	secretKey []byte
	duration  time.Duration
}

// NewJWTManager creates a new JWT manager.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	if duration <= 0 {
		duration = time.Hour
	}
	return &JWTManager{
		secretKey: []byte(secretKey),
		duration:  duration,
	}
}

// GenerateToken creates a signed token for the given API key identity.
func (m *JWTManager) GenerateToken(keyID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		KeyID: keyID,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   keyID,
			Issuer:    "fundarb",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token, returning its claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TokenTTL returns the configured token lifetime.
func (m *JWTManager) TokenTTL() time.Duration {
	return m.duration
}
