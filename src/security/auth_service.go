package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims carries the identity minted by the external auth backend.
// CustomerID is empty until the user has been registered with the payment
// provider.
type TokenClaims struct {
	CustomerID string `json:"customer_id,omitempty"`
	jwt.RegisteredClaims
}

// AuthService validates bearer tokens issued by the auth backend. Tokens are
// HS256-signed with a shared secret; this service never mints user-facing
// tokens itself outside of tests.
type AuthService struct {
	secret []byte
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

// ValidateToken parses and verifies a token, returning the user ID from the
// subject claim and the provider customer ID if one has been assigned.
func (s *AuthService) ValidateToken(tokenString string) (userID string, customerID string, err error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", "", fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, claims.CustomerID, nil
}

// GenerateToken mints a short-lived token for the given identity. Used by
// integration tests and local development tooling.
func (s *AuthService) GenerateToken(userID, customerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		CustomerID: customerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
