package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/model"
)

// SessionRepo defines the interface for bearer session repository operations
type SessionRepo interface {
	Create(ctx context.Context, userID uuid.UUID, phone, tokenHash string, expiresAt time.Time) (uuid.UUID, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (model.Session, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// Create inserts a new session row; only the token hash is ever stored
func (r *sessionRepo) Create(ctx context.Context, userID uuid.UUID, phone, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, phone_number, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, phone, tokenHash, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session ID: %w", err)
	}
	return id, nil
}

// FindByTokenHash returns the session row regardless of expiry; the service
// layer distinguishes expired from missing.
func (r *sessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (model.Session, error) {
	var s model.Session
	var idStr, userIDStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, phone_number, token_hash, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&idStr,
		&userIDStr,
		&s.PhoneNumber,
		&s.TokenHash,
		&s.CreatedAt,
		&s.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Session{}, fmt.Errorf("session not found: %w", err)
		}
		return model.Session{}, fmt.Errorf("find session: %w", err)
	}
	s.ID, _ = uuid.Parse(idStr)
	s.UserID, _ = uuid.Parse(userIDStr)
	return s, nil
}
