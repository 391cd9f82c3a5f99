// Package chat bridges support requests into persistent two-party
// conversations and relays messages between guest and peer counselor.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/repo"
)

var (
	ErrRequestNotFound = errors.New("request not found")
	ErrForbidden       = errors.New("caller is not a party to the request")
	ErrUnassigned      = errors.New("request has no assigned peer")
)

// Bridge turns a request plus a verified identity into exactly one
// conversation. Idempotency is enforced at the store layer: the request row
// is locked while linking and a partial unique index guards concurrent
// creates for the same guest/peer pair.
type Bridge struct {
	requestRepo repo.RequestRepo
	convRepo    repo.ConversationRepo
}

// NewBridge creates a conversation bridge
func NewBridge(requestRepo repo.RequestRepo, convRepo repo.ConversationRepo) *Bridge {
	return &Bridge{requestRepo: requestRepo, convRepo: convRepo}
}

// EnsureConversation returns the conversation for the request, creating it
// (with its two participant rows) on first call. Safe under concurrent
// invocation; every caller converges on the same conversation ID.
func (b *Bridge) EnsureConversation(ctx context.Context, requestID uuid.UUID) (uuid.UUID, error) {
	conversationID, _, err := b.convRepo.EnsureForRequest(ctx, requestID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return conversationID, nil
}
