package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/model"
)

// ConversationRepo defines the interface for conversation, participant and
// message repository operations.
type ConversationRepo interface {
	EnsureForRequest(ctx context.Context, requestID uuid.UUID) (conversationID uuid.UUID, created bool, err error)
	InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, body, messageType string) (model.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]model.Message, error)
	ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.ConversationParticipant, error)
}

type conversationRepo struct {
	db *sql.DB
}

// NewConversationRepo creates a new ConversationRepo instance
func NewConversationRepo(db *sql.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

// EnsureForRequest links the request to exactly one active conversation for
// its (guest phone, assigned peer) pair, creating the conversation and its two
// participant rows when none exists. The whole operation runs in one
// transaction: the request row is locked FOR UPDATE to serialize calls for the
// same request, and the partial unique index on active (guest_phone,
// assigned_to) pairs serializes sibling requests. A losing concurrent creator
// falls through ON CONFLICT DO NOTHING and re-selects the winner's row.
func (r *conversationRepo) EnsureForRequest(ctx context.Context, requestID uuid.UUID) (uuid.UUID, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var swahibaStr, createdByStr, phone, need string
	var convStr sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT swahiba_id, created_by, conversation_id, phone_number, need
		FROM requests
		WHERE id = $1
		FOR UPDATE
	`, requestID).Scan(&swahibaStr, &createdByStr, &convStr, &phone, &need)
	if err != nil {
		if err == sql.ErrNoRows {
			return uuid.Nil, false, fmt.Errorf("request not found: %w", err)
		}
		return uuid.Nil, false, fmt.Errorf("lock request: %w", err)
	}

	// Fast path: already linked.
	if convStr.Valid && convStr.String != "" {
		if err := tx.Commit(); err != nil {
			return uuid.Nil, false, fmt.Errorf("commit: %w", err)
		}
		id, err := uuid.Parse(convStr.String)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("parse conversation ID: %w", err)
		}
		return id, false, nil
	}

	swahibaID, err := uuid.Parse(swahibaStr)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse swahiba ID: %w", err)
	}
	createdBy, err := uuid.Parse(createdByStr)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse creator ID: %w", err)
	}

	// Reuse an active conversation for the same guest/peer pair when one
	// exists (e.g. created through a sibling request).
	conversationID, found, err := findActiveConversation(ctx, tx, phone, swahibaID)
	if err != nil {
		return uuid.Nil, false, err
	}

	created := false
	if !found {
		// ON CONFLICT keeps the transaction alive when a concurrent
		// creator wins the unique-index race; blocked until the winner
		// commits, then returns no row.
		var idStr sql.NullString
		err = tx.QueryRowContext(ctx, `
			INSERT INTO conversations (created_by, assigned_to, guest_phone, status, topic)
			VALUES ($1, $2, $3, 'active', $4)
			ON CONFLICT (guest_phone, assigned_to) WHERE status = 'active' DO NOTHING
			RETURNING id
		`, createdBy, swahibaID, phone, need).Scan(&idStr)
		switch {
		case err == sql.ErrNoRows:
			// Lost the race; the winner's row is committed by now.
			conversationID, found, err = findActiveConversation(ctx, tx, phone, swahibaID)
			if err != nil {
				return uuid.Nil, false, err
			}
			if !found {
				return uuid.Nil, false, fmt.Errorf("conversation conflict but no active row for phone/peer pair")
			}
		case err != nil:
			return uuid.Nil, false, fmt.Errorf("insert conversation: %w", err)
		default:
			conversationID, err = uuid.Parse(idStr.String)
			if err != nil {
				return uuid.Nil, false, fmt.Errorf("parse conversation ID: %w", err)
			}
			created = true
			_, err = tx.ExecContext(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, role)
				VALUES ($1, $2, 'guest'), ($1, $3, 'peer')
			`, conversationID, createdBy, swahibaID)
			if err != nil {
				return uuid.Nil, false, fmt.Errorf("insert participants: %w", err)
			}
		}
	}

	// Link the request and flip it to accepted in the same transaction, so
	// no partial state survives a failure.
	_, err = tx.ExecContext(ctx, `
		UPDATE requests
		SET conversation_id = $2, status = 'accepted'
		WHERE id = $1
	`, requestID, conversationID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("link request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, false, fmt.Errorf("commit: %w", err)
	}
	return conversationID, created, nil
}

func findActiveConversation(ctx context.Context, tx *sql.Tx, phone string, swahibaID uuid.UUID) (uuid.UUID, bool, error) {
	var idStr string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM conversations
		WHERE guest_phone = $1 AND assigned_to = $2 AND status = 'active'
	`, phone, swahibaID).Scan(&idStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("find active conversation: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse conversation ID: %w", err)
	}
	return id, true, nil
}

// InsertMessage appends a message to the conversation
func (r *conversationRepo) InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, body, messageType string) (model.Message, error) {
	var msg model.Message
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, body, message_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, conversationID, senderID, body, messageType).Scan(&idStr, &msg.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Message{}, fmt.Errorf("parse message ID: %w", err)
	}
	msg.ConversationID = conversationID
	msg.SenderID = senderID
	msg.Body = body
	msg.Type = messageType
	return msg, nil
}

// ListMessages returns all messages for the conversation ordered by creation time
func (r *conversationRepo) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, body, message_type, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		var idStr, convStr, senderStr string
		if err := rows.Scan(&idStr, &convStr, &senderStr, &msg.Body, &msg.Type, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ID, _ = uuid.Parse(idStr)
		msg.ConversationID, _ = uuid.Parse(convStr)
		msg.SenderID, _ = uuid.Parse(senderStr)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// ListParticipants returns the participant rows for a conversation
func (r *conversationRepo) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.ConversationParticipant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, role
		FROM conversation_participants
		WHERE conversation_id = $1
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []model.ConversationParticipant
	for rows.Next() {
		var p model.ConversationParticipant
		var convStr, userStr, roleStr string
		if err := rows.Scan(&convStr, &userStr, &roleStr); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.ConversationID, _ = uuid.Parse(convStr)
		p.UserID, _ = uuid.Parse(userStr)
		p.Role = model.ParticipantRole(roleStr)
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}
