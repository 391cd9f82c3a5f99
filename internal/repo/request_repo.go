package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/model"
)

// RequestRepo defines the interface for support request repository operations
type RequestRepo interface {
	Create(ctx context.Context, swahibaID, createdBy uuid.UUID, phone, need, description string) (model.Request, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Request, error)
}

type requestRepo struct {
	db *sql.DB
}

// NewRequestRepo creates a new RequestRepo instance
func NewRequestRepo(db *sql.DB) RequestRepo {
	return &requestRepo{db: db}
}

// Create inserts a pending request assigned to a peer counselor
func (r *requestRepo) Create(ctx context.Context, swahibaID, createdBy uuid.UUID, phone, need, description string) (model.Request, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO requests (swahiba_id, created_by, phone_number, need, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, swahibaID, createdBy, phone, need, description).Scan(&idStr)
	if err != nil {
		return model.Request{}, fmt.Errorf("insert request: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Request{}, fmt.Errorf("parse request ID: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetByID retrieves a request by ID
func (r *requestRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Request, error) {
	var req model.Request
	var idStr, swahibaStr, createdByStr string
	var convStr sql.NullString
	var statusStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, swahiba_id, created_by, conversation_id, status,
		       phone_number, need, description, created_at
		FROM requests
		WHERE id = $1
	`, id).Scan(
		&idStr,
		&swahibaStr,
		&createdByStr,
		&convStr,
		&statusStr,
		&req.PhoneNumber,
		&req.Need,
		&req.Description,
		&req.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Request{}, fmt.Errorf("request not found: %w", err)
		}
		return model.Request{}, fmt.Errorf("query request: %w", err)
	}
	req.ID, _ = uuid.Parse(idStr)
	req.SwahibaID, _ = uuid.Parse(swahibaStr)
	req.CreatedBy, _ = uuid.Parse(createdByStr)
	req.Status = model.RequestStatus(statusStr)
	if convStr.Valid && convStr.String != "" {
		c, _ := uuid.Parse(convStr.String)
		req.ConversationID = &c
	}
	return req, nil
}
