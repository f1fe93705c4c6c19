package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role that may issue mutation commands.
const RoleAdmin = "admin"

// DefaultTokenTTL is how long an issued admin token stays valid. A race day
// fits comfortably inside it.
const DefaultTokenTTL = 12 * time.Hour

// AppClaims defines the custom claims we include in our JWT.
// We embed jwt.RegisteredClaims to include standard claims like 'ExpiresAt'.
type AppClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a signed token for subject with the given role.
func GenerateJWT(subject, role, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()

	claims := &AppClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	// HS256 keeps the authority self-contained: the same secret signs and verifies.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateJWT parses a token, checks its signature and expiry, and returns
// its claims.
func ValidateJWT(tokenString string, secret string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Reject tokens signed with anything other than HMAC.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
