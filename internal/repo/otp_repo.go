package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/model"
)

// OtpRepo defines the interface for OTP challenge repository operations
type OtpRepo interface {
	CreateOrReplaceChallenge(ctx context.Context, phone, codeHashHex string, expiresAt time.Time) (uuid.UUID, error)
	GetLatestChallengeByPhone(ctx context.Context, phone string) (model.OtpChallenge, error)
	MarkVerified(ctx context.Context, challengeID uuid.UUID) (bool, error)
	IncrementAttempt(ctx context.Context, challengeID uuid.UUID) (newAttemptCount int, err error)
	CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error)
	LatestVerifiedAt(ctx context.Context, phone string) (*time.Time, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// CreateOrReplaceChallenge ensures only one live challenge per phone: atomically
// consumes any existing row (consumed_at IS NULL) and inserts a new one. Uses an
// advisory lock to serialize issuance per phone against the partial unique index.
func (r *otpRepo) CreateOrReplaceChallenge(ctx context.Context, phone, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, phone)
	if err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	// Consume ALL unconsumed rows, including expired ones, before inserting.
	_, err = tx.ExecContext(ctx, `
		UPDATE otp_challenges
		SET consumed_at = now()
		WHERE phone_number = $1 AND consumed_at IS NULL
	`, phone)
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume existing challenges: %w", err)
	}

	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO otp_challenges (phone_number, code_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, phone, codeHashHex, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	challengeID, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse challenge ID: %w", err)
	}
	return challengeID, nil
}

// GetLatestChallengeByPhone returns the most recent unconsumed challenge for
// the phone, regardless of expiry or verification state; the service layer
// decides how each state maps to an outcome.
func (r *otpRepo) GetLatestChallengeByPhone(ctx context.Context, phone string) (model.OtpChallenge, error) {
	query := `
		SELECT id, phone_number, code_hash, expires_at, verified_at, consumed_at,
		       created_at, attempt_count, last_attempt_at
		FROM otp_challenges
		WHERE phone_number = $1
		  AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	var challenge model.OtpChallenge
	var idStr string
	var codeHashHex string
	err := r.db.QueryRowContext(ctx, query, phone).Scan(
		&idStr,
		&challenge.PhoneNumber,
		&codeHashHex,
		&challenge.ExpiresAt,
		&challenge.VerifiedAt,
		&challenge.ConsumedAt,
		&challenge.CreatedAt,
		&challenge.AttemptCount,
		&challenge.LastAttemptAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.OtpChallenge{}, fmt.Errorf("no challenge: %w", err)
		}
		return model.OtpChallenge{}, fmt.Errorf("query challenge: %w", err)
	}

	challenge.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("parse challenge ID: %w", err)
	}

	challenge.CodeHash, err = hex.DecodeString(codeHashHex)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("decode code_hash: %w", err)
	}

	return challenge, nil
}

// MarkVerified sets verified_at once via compare-and-set. Returns false when
// the challenge was already verified (the idempotent re-verify case).
func (r *otpRepo) MarkVerified(ctx context.Context, challengeID uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges
		SET verified_at = now()
		WHERE id = $1 AND verified_at IS NULL
	`, challengeID)
	if err != nil {
		return false, fmt.Errorf("mark verified: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// IncrementAttempt sets attempt_count = attempt_count + 1 and last_attempt_at = now(); returns the new attempt_count.
func (r *otpRepo) IncrementAttempt(ctx context.Context, challengeID uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_challenges
		SET attempt_count = attempt_count + 1, last_attempt_at = now()
		WHERE id = $1
		RETURNING attempt_count
	`, challengeID).Scan(&newCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("challenge not found")
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}

// CountRecentRequests returns the number of challenges created for the phone since the given time (for rate limiting).
func (r *otpRepo) CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_challenges
		WHERE phone_number = $1 AND created_at >= $2
	`, phone, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent requests: %w", err)
	}
	return count, nil
}

// LatestVerifiedAt returns the most recent verified_at for the phone, or nil
// when no challenge was ever verified. The access-code vault uses this to
// gate on a fresh OTP proof.
func (r *otpRepo) LatestVerifiedAt(ctx context.Context, phone string) (*time.Time, error) {
	var verifiedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT verified_at FROM otp_challenges
		WHERE phone_number = $1 AND verified_at IS NOT NULL
		ORDER BY verified_at DESC
		LIMIT 1
	`, phone).Scan(&verifiedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest verified_at: %w", err)
	}
	if !verifiedAt.Valid {
		return nil, nil
	}
	return &verifiedAt.Time, nil
}
