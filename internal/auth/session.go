package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/repo"
)

const sessionExpiry = 24 * time.Hour

// SessionService mints opaque bearer tokens and validates them. Only
// SHA-256(token) is ever persisted; the plaintext leaves Issue exactly once.
type SessionService struct {
	sessionRepo repo.SessionRepo
	ttl         time.Duration
	now         func() time.Time
}

// NewSessionService creates a new session issuer. ttl <= 0 falls back to 24h.
func NewSessionService(sessionRepo repo.SessionRepo, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = sessionExpiry
	}
	return &SessionService{sessionRepo: sessionRepo, ttl: ttl, now: time.Now}
}

// Issue creates a session for the identity and returns the plaintext token
func (s *SessionService) Issue(ctx context.Context, userID uuid.UUID, phone string) (string, error) {
	token, hashHex, err := GenerateSessionToken()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := s.now().Add(s.ttl)
	if _, err := s.sessionRepo.Create(ctx, userID, phone, hashHex, expiresAt); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Validate resolves a token to its identity and phone. Sessions are never
// renewed; past the TTL the token fails with ErrExpired.
func (s *SessionService) Validate(ctx context.Context, token string) (uuid.UUID, string, error) {
	session, err := s.sessionRepo.FindByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: unknown session token", ErrNotFound)
	}
	if s.now().After(session.ExpiresAt) {
		return uuid.Nil, "", ErrExpired
	}
	return session.UserID, session.PhoneNumber, nil
}

// GenerateSessionToken returns a random Base64URL token (32 bytes) and its SHA256 hash as hex
func GenerateSessionToken() (token string, hashHex string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashSessionToken(token), nil
}

// HashSessionToken returns SHA256 hex of the token
func HashSessionToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
