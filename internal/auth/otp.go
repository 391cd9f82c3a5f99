package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/afyalink/server/internal/repo"
)

const (
	otpExpiry            = 10 * time.Minute
	maxAttempts          = 5
	minAttemptDelay      = 2 * time.Second
	requestWindow        = 10 * time.Minute
	maxRequestsPerWindow = 3
)

// OTPService issues and verifies one-time numeric codes bound to a phone
type OTPService struct {
	otpRepo repo.OtpRepo
	ttl     time.Duration
}

// NewOTPService creates a new OTP service. ttl <= 0 falls back to the default.
func NewOTPService(otpRepo repo.OtpRepo, ttl time.Duration) *OTPService {
	if ttl <= 0 {
		ttl = otpExpiry
	}
	return &OTPService{otpRepo: otpRepo, ttl: ttl}
}

// Start generates a 6-digit code, stores only its hash, and returns the
// plaintext code to the caller. Delivery is out of band; the handler echoes
// the code only in dev mode. Rate limit: max 3 requests per 10 min per phone
// (DB-based).
func (s *OTPService) Start(ctx context.Context, phone string) (string, error) {
	since := time.Now().Add(-requestWindow)
	count, err := s.otpRepo.CountRecentRequests(ctx, phone, since)
	if err != nil {
		return "", fmt.Errorf("rate limit check: %w", err)
	}
	if count >= maxRequestsPerWindow {
		return "", fmt.Errorf("%w: max %d OTP requests per %v per phone", ErrRateLimited, maxRequestsPerWindow, requestWindow)
	}

	code, err := generateOTPCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	expiresAt := time.Now().Add(s.ttl)
	if _, err := s.otpRepo.CreateOrReplaceChallenge(ctx, phone, hashOTPHex(code), expiresAt); err != nil {
		return "", fmt.Errorf("create challenge: %w", err)
	}
	return code, nil
}

// Verify checks the code against the latest unconsumed challenge for the
// phone. A challenge that was already verified succeeds again (idempotent);
// an expired one fails with ErrExpired; a hash mismatch with ErrInvalidCode.
// Attempt limit 5, min 2s between attempts.
func (s *OTPService) Verify(ctx context.Context, phone, code string) error {
	challenge, err := s.otpRepo.GetLatestChallengeByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("%w: no OTP challenge for phone", ErrNotFound)
	}

	now := time.Now()
	if challenge.VerifiedAt != nil {
		// Already proven; re-verification with the right code is a no-op
		// success, but a wrong code still fails.
		if constantTimeCompare(hashOTPBytes(code), challenge.CodeHash) {
			return nil
		}
		return ErrInvalidCode
	}

	if now.After(challenge.ExpiresAt) {
		return ErrExpired
	}

	if challenge.LastAttemptAt != nil && now.Sub(*challenge.LastAttemptAt) < minAttemptDelay {
		return ErrRateLimited
	}

	newCount, err := s.otpRepo.IncrementAttempt(ctx, challenge.ID)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if newCount > maxAttempts {
		return ErrInvalidCode
	}

	if !constantTimeCompare(hashOTPBytes(code), challenge.CodeHash) {
		return ErrInvalidCode
	}

	if _, err := s.otpRepo.MarkVerified(ctx, challenge.ID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// RecentlyVerified reports whether the phone has an OTP proof within window
func (s *OTPService) RecentlyVerified(ctx context.Context, phone string, window time.Duration) (bool, error) {
	verifiedAt, err := s.otpRepo.LatestVerifiedAt(ctx, phone)
	if err != nil {
		return false, err
	}
	if verifiedAt == nil {
		return false, nil
	}
	return time.Since(*verifiedAt) <= window, nil
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// hashOTPHex returns SHA-256(code) as hex for DB storage
func hashOTPHex(code string) string {
	return hex.EncodeToString(hashOTPBytes(code))
}

func hashOTPBytes(code string) []byte {
	hash := sha256.Sum256([]byte(code))
	return hash[:]
}

func constantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
