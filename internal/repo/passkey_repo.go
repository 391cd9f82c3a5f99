package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/model"
)

// PasskeyRepo defines the interface for passkey challenge and credential storage
type PasskeyRepo interface {
	CreateChallenge(ctx context.Context, phone *string, userID *uuid.UUID, challenge string, typ model.PasskeyChallengeType, expiresAt time.Time) (uuid.UUID, error)
	GetLatestChallenge(ctx context.Context, typ model.PasskeyChallengeType, phone *string) (model.PasskeyChallenge, error)
	MarkChallengeConsumed(ctx context.Context, challengeID uuid.UUID) error
	CreateCredential(ctx context.Context, userID uuid.UUID, phone, credentialID string, publicKey []byte) (uuid.UUID, error)
	GetCredentialByCredentialID(ctx context.Context, credentialID string) (model.PasskeyCredential, error)
}

type passkeyRepo struct {
	db *sql.DB
}

// NewPasskeyRepo creates a new PasskeyRepo instance
func NewPasskeyRepo(db *sql.DB) PasskeyRepo {
	return &passkeyRepo{db: db}
}

// CreateChallenge inserts a challenge row; phone and userID are nil for
// login ceremonies, which are phone-less.
func (r *passkeyRepo) CreateChallenge(ctx context.Context, phone *string, userID *uuid.UUID, challenge string, typ model.PasskeyChallengeType, expiresAt time.Time) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO passkey_challenges (phone_number, user_id, challenge, challenge_type, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, phone, userID, challenge, string(typ), expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert passkey challenge: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse challenge ID: %w", err)
	}
	return id, nil
}

// GetLatestChallenge returns the most recent unconsumed challenge of the given
// type, scoped to a phone for register ceremonies. Consumed rows are always
// filtered out so a verify can only ever see a fresh challenge.
func (r *passkeyRepo) GetLatestChallenge(ctx context.Context, typ model.PasskeyChallengeType, phone *string) (model.PasskeyChallenge, error) {
	query := `
		SELECT id, phone_number, user_id, challenge, challenge_type, expires_at, consumed_at, created_at
		FROM passkey_challenges
		WHERE challenge_type = $1
		  AND consumed_at IS NULL
		  AND ($2::text IS NULL OR phone_number = $2)
		ORDER BY created_at DESC
		LIMIT 1
	`
	var ch model.PasskeyChallenge
	var idStr string
	var phoneStr sql.NullString
	var userIDStr sql.NullString
	var typStr string
	err := r.db.QueryRowContext(ctx, query, string(typ), phone).Scan(
		&idStr,
		&phoneStr,
		&userIDStr,
		&ch.Challenge,
		&typStr,
		&ch.ExpiresAt,
		&ch.ConsumedAt,
		&ch.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.PasskeyChallenge{}, fmt.Errorf("no challenge: %w", err)
		}
		return model.PasskeyChallenge{}, fmt.Errorf("query passkey challenge: %w", err)
	}
	ch.ID, _ = uuid.Parse(idStr)
	ch.Type = model.PasskeyChallengeType(typStr)
	if phoneStr.Valid {
		ch.PhoneNumber = &phoneStr.String
	}
	if userIDStr.Valid {
		u, _ := uuid.Parse(userIDStr.String)
		ch.UserID = &u
	}
	return ch, nil
}

// MarkChallengeConsumed sets consumed_at so the challenge cannot be replayed
func (r *passkeyRepo) MarkChallengeConsumed(ctx context.Context, challengeID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE passkey_challenges SET consumed_at = now() WHERE id = $1 AND consumed_at IS NULL
	`, challengeID)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("challenge not found or already consumed")
	}
	return nil
}

// CreateCredential stores a new credential with counter 0
func (r *passkeyRepo) CreateCredential(ctx context.Context, userID uuid.UUID, phone, credentialID string, publicKey []byte) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO passkey_credentials (user_id, phone_number, credential_id, public_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, phone, credentialID, publicKey).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert passkey credential: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse credential ID: %w", err)
	}
	return id, nil
}

// GetCredentialByCredentialID looks up a credential by its client-side identifier
func (r *passkeyRepo) GetCredentialByCredentialID(ctx context.Context, credentialID string) (model.PasskeyCredential, error) {
	var cred model.PasskeyCredential
	var idStr, userIDStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, phone_number, credential_id, public_key, counter, created_at
		FROM passkey_credentials
		WHERE credential_id = $1
	`, credentialID).Scan(
		&idStr,
		&userIDStr,
		&cred.PhoneNumber,
		&cred.CredentialID,
		&cred.PublicKey,
		&cred.Counter,
		&cred.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.PasskeyCredential{}, fmt.Errorf("credential not found: %w", err)
		}
		return model.PasskeyCredential{}, fmt.Errorf("query passkey credential: %w", err)
	}
	cred.ID, _ = uuid.Parse(idStr)
	cred.UserID, _ = uuid.Parse(userIDStr)
	return cred, nil
}
