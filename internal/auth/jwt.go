package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const staffTokenExpiry = 24 * time.Hour

// JWTClaims represents the staff/peer bearer token claims
type JWTClaims struct {
	UserID      uuid.UUID `json:"sub"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

// JWTService verifies the externally-issued staff/peer identity tokens. The
// issuing dashboard shares the HS256 secret; this service only validates.
type JWTService struct {
	secret []byte
}

// NewJWTService creates a new JWT service
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
	}
}

// SignStaffToken creates a staff bearer token (24h expiry). Used by the
// issuing side and by tests; the API itself never mints these.
func (s *JWTService) SignStaffToken(userID uuid.UUID, phoneNumber string) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		UserID:      userID,
		PhoneNumber: phoneNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(staffTokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign staff token: %w", err)
	}

	return tokenString, nil
}

// VerifyToken verifies and parses a staff bearer token
func (s *JWTService) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
