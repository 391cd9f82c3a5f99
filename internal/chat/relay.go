package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/model"
	"github.com/afyalink/server/internal/repo"
)

// Notifier enqueues best-effort outbound notifications; notify.Notifier
// implements it.
type Notifier interface {
	EnqueueWhatsApp(ctx context.Context, toPhone, body string, metadata map[string]string)
}

// Relay appends messages to a request's conversation and serves history.
// Both operations authorize the caller as the request's creator or its
// assigned peer.
type Relay struct {
	requestRepo repo.RequestRepo
	convRepo    repo.ConversationRepo
	bridge      *Bridge
	notifier    Notifier
}

// NewRelay creates a message relay
func NewRelay(requestRepo repo.RequestRepo, convRepo repo.ConversationRepo, bridge *Bridge, notifier Notifier) *Relay {
	return &Relay{
		requestRepo: requestRepo,
		convRepo:    convRepo,
		bridge:      bridge,
		notifier:    notifier,
	}
}

// SendResult carries the appended message and its conversation
type SendResult struct {
	ConversationID uuid.UUID
	Message        model.Message
}

// Send appends a message to the request's conversation, creating the
// conversation on first send. When the sender is the assigned peer, a
// WhatsApp outbox row is enqueued for the guest; enqueue failure never fails
// the send.
func (r *Relay) Send(ctx context.Context, senderID, requestID uuid.UUID, body string) (*SendResult, error) {
	request, err := r.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestNotFound, err)
	}

	if senderID != request.CreatedBy && senderID != request.SwahibaID {
		return nil, ErrForbidden
	}
	if request.SwahibaID == uuid.Nil {
		return nil, ErrUnassigned
	}

	conversationID, err := r.bridge.EnsureConversation(ctx, requestID)
	if err != nil {
		return nil, err
	}

	msg, err := r.convRepo.InsertMessage(ctx, conversationID, senderID, body, "text")
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if senderID == request.SwahibaID {
		r.notifier.EnqueueWhatsApp(ctx, request.PhoneNumber, body, map[string]string{
			"request_id":      requestID.String(),
			"conversation_id": conversationID.String(),
		})
	}

	return &SendResult{ConversationID: conversationID, Message: msg}, nil
}

// HistoryResult carries the request's conversation and its messages in
// creation order. ConversationID is Nil and Messages empty when no message
// has been sent yet.
type HistoryResult struct {
	ConversationID uuid.UUID
	Messages       []model.Message
}

// History returns all messages for the request's conversation
func (r *Relay) History(ctx context.Context, callerID, requestID uuid.UUID) (*HistoryResult, error) {
	request, err := r.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestNotFound, err)
	}

	if callerID != request.CreatedBy && callerID != request.SwahibaID {
		return nil, ErrForbidden
	}

	if request.ConversationID == nil {
		return &HistoryResult{Messages: []model.Message{}}, nil
	}

	messages, err := r.convRepo.ListMessages(ctx, *request.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return &HistoryResult{ConversationID: *request.ConversationID, Messages: messages}, nil
}
