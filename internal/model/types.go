package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a durable identity bound to a canonical phone number
type User struct {
	ID             uuid.UUID
	PhoneNumber    string
	PhoneConfirmed bool
	CreatedAt      time.Time
}

// OtpChallenge represents a one-time code issued for phone verification
type OtpChallenge struct {
	ID            uuid.UUID
	PhoneNumber   string
	CodeHash      []byte
	ExpiresAt     time.Time
	VerifiedAt    *time.Time
	ConsumedAt    *time.Time
	CreatedAt     time.Time
	AttemptCount  int
	LastAttemptAt *time.Time
}

// AccessCredential binds a 4-character access code hash to a phone.
// CodeHash is nil for passkey-only accounts.
type AccessCredential struct {
	ID          uuid.UUID
	PhoneNumber string
	CodeHash    *string
	UserID      uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PasskeyChallengeType distinguishes registration from login ceremonies
type PasskeyChallengeType string

const (
	PasskeyChallengeRegister PasskeyChallengeType = "register"
	PasskeyChallengeLogin    PasskeyChallengeType = "login"
)

// PasskeyChallenge represents an issued WebAuthn-style challenge
type PasskeyChallenge struct {
	ID          uuid.UUID
	PhoneNumber *string
	UserID      *uuid.UUID
	Challenge   string
	Type        PasskeyChallengeType
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	CreatedAt   time.Time
}

// PasskeyCredential is a stored public-key credential
type PasskeyCredential struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	PhoneNumber  string
	CredentialID string
	PublicKey    []byte
	Counter      int64
	CreatedAt    time.Time
}

// Session is an opaque bearer session; only the token hash is stored
type Session struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	PhoneNumber string
	TokenHash   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// RequestStatus tracks whether a support request has been bridged
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
)

// Request is a guest's support inquiry, assigned to a peer counselor
type Request struct {
	ID             uuid.UUID
	SwahibaID      uuid.UUID
	CreatedBy      uuid.UUID
	ConversationID *uuid.UUID
	Status         RequestStatus
	PhoneNumber    string
	Need           string
	Description    string
	CreatedAt      time.Time
}

// Conversation is the two-party thread a request resolves into
type Conversation struct {
	ID         uuid.UUID
	CreatedBy  uuid.UUID
	AssignedTo uuid.UUID
	GuestPhone string
	Status     string
	Topic      string
	CreatedAt  time.Time
}

// ParticipantRole marks a conversation member as guest or peer counselor
type ParticipantRole string

const (
	RoleGuest ParticipantRole = "guest"
	RolePeer  ParticipantRole = "peer"
)

// ConversationParticipant is one of the two members of a conversation
type ConversationParticipant struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	Role           ParticipantRole
}

// Message is an append-only conversation entry
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Body           string
	Type           string
	CreatedAt      time.Time
}

// OutboundNotification is a best-effort outbox row; delivery happens elsewhere
type OutboundNotification struct {
	ID        uuid.UUID
	Channel   string
	ToPhone   string
	Body      string
	LinkURL   string
	Metadata  []byte
	CreatedAt time.Time
}
