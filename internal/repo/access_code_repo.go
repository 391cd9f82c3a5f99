package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/model"
)

// AccessCodeRepo defines the interface for access credential repository operations
type AccessCodeRepo interface {
	Upsert(ctx context.Context, phone string, codeHashHex *string, userID uuid.UUID) error
	GetByPhone(ctx context.Context, phone string) (model.AccessCredential, error)
}

type accessCodeRepo struct {
	db *sql.DB
}

// NewAccessCodeRepo creates a new AccessCodeRepo instance
func NewAccessCodeRepo(db *sql.DB) AccessCodeRepo {
	return &accessCodeRepo{db: db}
}

// Upsert creates or overwrites the single credential row for the phone.
// A nil codeHashHex marks a passkey-only account.
func (r *accessCodeRepo) Upsert(ctx context.Context, phone string, codeHashHex *string, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_credentials (phone_number, code_hash, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone_number) DO UPDATE
		SET code_hash = EXCLUDED.code_hash,
		    user_id = EXCLUDED.user_id,
		    updated_at = now()
	`, phone, codeHashHex, userID)
	if err != nil {
		return fmt.Errorf("upsert access credential: %w", err)
	}
	return nil
}

// GetByPhone retrieves the credential row for a canonical phone
func (r *accessCodeRepo) GetByPhone(ctx context.Context, phone string) (model.AccessCredential, error) {
	var cred model.AccessCredential
	var idStr, userIDStr string
	var codeHash sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, phone_number, code_hash, user_id, created_at, updated_at
		FROM access_credentials
		WHERE phone_number = $1
	`, phone).Scan(
		&idStr,
		&cred.PhoneNumber,
		&codeHash,
		&userIDStr,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.AccessCredential{}, fmt.Errorf("credential not found: %w", err)
		}
		return model.AccessCredential{}, fmt.Errorf("query access credential: %w", err)
	}
	cred.ID, _ = uuid.Parse(idStr)
	cred.UserID, _ = uuid.Parse(userIDStr)
	if codeHash.Valid {
		cred.CodeHash = &codeHash.String
	}
	return cred, nil
}
