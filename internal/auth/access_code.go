package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/repo"
)

// otpProofWindow is how recent an OTP verification must be for set to proceed.
const otpProofWindow = 15 * time.Minute

var accessCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{4}$`)

// codeHasher derives a stored hash for a phone/code pair. The vault tries
// hashers in order on verify, so the legacy scheme can be dropped by removing
// it from the list once all credentials are re-salted.
type codeHasher func(phone, code string) string

// saltedHash is the current scheme: SHA-256("<phone>:<lower(code)>")
func saltedHash(phone, code string) string {
	sum := sha256.Sum256([]byte(phone + ":" + strings.ToLower(code)))
	return hex.EncodeToString(sum[:])
}

// legacyHash predates phone salting: SHA-256(lower(code))
func legacyHash(_, code string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(code)))
	return hex.EncodeToString(sum[:])
}

// AccessCodeService derives and verifies the 4-character access code bound to
// a phone, with legacy-hash fallback for credentials created before salting.
type AccessCodeService struct {
	accessRepo repo.AccessCodeRepo
	userRepo   repo.UserRepo
	otp        *OTPService
	hashers    []codeHasher
}

// NewAccessCodeService creates a new access-code vault
func NewAccessCodeService(accessRepo repo.AccessCodeRepo, userRepo repo.UserRepo, otp *OTPService) *AccessCodeService {
	return &AccessCodeService{
		accessRepo: accessRepo,
		userRepo:   userRepo,
		otp:        otp,
		hashers:    []codeHasher{saltedHash, legacyHash},
	}
}

// Set validates the code format, optionally gates on a recent OTP proof, and
// upserts the salted hash for the phone, provisioning the identity if absent.
func (s *AccessCodeService) Set(ctx context.Context, phone, code string, requireRecentOTP bool) error {
	if !accessCodePattern.MatchString(code) {
		return fmt.Errorf("%w: access code must be 4 alphanumeric characters", ErrValidation)
	}

	if requireRecentOTP {
		ok, err := s.otp.RecentlyVerified(ctx, phone, otpProofWindow)
		if err != nil {
			return fmt.Errorf("check OTP proof: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: requires a recent OTP verification", ErrNotVerified)
		}
	}

	user, err := s.userRepo.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("provision identity: %w", err)
	}

	hash := saltedHash(phone, code)
	if err := s.accessRepo.Upsert(ctx, phone, &hash, user.ID); err != nil {
		return fmt.Errorf("store access code: %w", err)
	}
	return nil
}

// Verify re-derives the hash under each scheme in order and returns the bound
// identity on the first match. Credentials with no hash (passkey-only
// accounts) never match an access code.
func (s *AccessCodeService) Verify(ctx context.Context, phone, code string) (uuid.UUID, error) {
	cred, err := s.accessRepo.GetByPhone(ctx, phone)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: no credential for phone", ErrInvalidCredential)
	}
	if cred.CodeHash == nil {
		return uuid.Nil, fmt.Errorf("%w: account has no access code", ErrInvalidCredential)
	}

	for _, h := range s.hashers {
		if constantTimeCompare([]byte(h(phone, code)), []byte(*cred.CodeHash)) {
			return cred.UserID, nil
		}
	}
	return uuid.Nil, ErrInvalidCredential
}
