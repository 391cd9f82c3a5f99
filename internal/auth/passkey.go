package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/afyalink/server/internal/model"
	"github.com/afyalink/server/internal/repo"
)

const passkeyChallengeExpiry = 5 * time.Minute

// PasskeyService mimics a WebAuthn ceremony but does NOT verify assertion or
// attestation signatures: verify matches credential identifiers only. This is
// a deliberate, documented weakening; a production deployment must replace
// RegisterVerify/LoginVerify with genuine WebAuthn verification.
type PasskeyService struct {
	passkeyRepo repo.PasskeyRepo
	accessRepo  repo.AccessCodeRepo
	userRepo    repo.UserRepo
	sessions    *SessionService
	rpID        string
	rpName      string
}

// NewPasskeyService creates a new passkey challenge broker
func NewPasskeyService(passkeyRepo repo.PasskeyRepo, accessRepo repo.AccessCodeRepo, userRepo repo.UserRepo, sessions *SessionService, rpID, rpName string) *PasskeyService {
	return &PasskeyService{
		passkeyRepo: passkeyRepo,
		accessRepo:  accessRepo,
		userRepo:    userRepo,
		sessions:    sessions,
		rpID:        rpID,
		rpName:      rpName,
	}
}

// RegisterOptions is the WebAuthn-shaped payload for a registration ceremony
type RegisterOptions struct {
	Challenge        string              `json:"challenge"`
	RP               RelyingParty        `json:"rp"`
	User             WebAuthnUser        `json:"user"`
	PubKeyCredParams []PubKeyCredParam   `json:"pubKeyCredParams"`
	Timeout          int                 `json:"timeout"`
	Authenticator    AuthenticatorPrefer `json:"authenticatorSelection"`
}

// LoginOptions is the WebAuthn-shaped payload for a login ceremony
type LoginOptions struct {
	Challenge        string `json:"challenge"`
	RPID             string `json:"rpId"`
	Timeout          int    `json:"timeout"`
	UserVerification string `json:"userVerification"`
}

type RelyingParty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type WebAuthnUser struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type PubKeyCredParam struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

type AuthenticatorPrefer struct {
	ResidentKey      string `json:"residentKey"`
	UserVerification string `json:"userVerification"`
}

// Credential is the client-submitted credential for a verify call. PublicKey
// is an opaque blob; it is stored, never cryptographically checked here.
type Credential struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

// BeginRegistration provisions the identity and issues a register challenge
func (s *PasskeyService) BeginRegistration(ctx context.Context, phone string) (*RegisterOptions, error) {
	user, err := s.userRepo.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("provision identity: %w", err)
	}

	challenge, err := generateChallenge()
	if err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}

	expiresAt := time.Now().Add(passkeyChallengeExpiry)
	userID := user.ID
	if _, err := s.passkeyRepo.CreateChallenge(ctx, &phone, &userID, challenge, model.PasskeyChallengeRegister, expiresAt); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	return &RegisterOptions{
		Challenge: challenge,
		RP:        RelyingParty{ID: s.rpID, Name: s.rpName},
		User: WebAuthnUser{
			ID:          base64.RawURLEncoding.EncodeToString([]byte(user.ID.String())),
			Name:        phone,
			DisplayName: phone,
		},
		PubKeyCredParams: []PubKeyCredParam{{Type: "public-key", Alg: -7}, {Type: "public-key", Alg: -257}},
		Timeout:          int(passkeyChallengeExpiry / time.Millisecond),
		Authenticator:    AuthenticatorPrefer{ResidentKey: "preferred", UserVerification: "preferred"},
	}, nil
}

// FinishRegistration consumes the latest register challenge for the phone,
// stores the credential, marks the account passkey-capable, and issues a
// session. No attestation verification is performed.
func (s *PasskeyService) FinishRegistration(ctx context.Context, phone string, cred Credential) (string, error) {
	if cred.ID == "" {
		return "", fmt.Errorf("%w: credential id is required", ErrInvalidCredential)
	}

	challenge, err := s.passkeyRepo.GetLatestChallenge(ctx, model.PasskeyChallengeRegister, &phone)
	if err != nil {
		return "", fmt.Errorf("%w: no registration challenge for phone", ErrNotFound)
	}
	if time.Now().After(challenge.ExpiresAt) {
		return "", ErrExpired
	}
	if err := s.passkeyRepo.MarkChallengeConsumed(ctx, challenge.ID); err != nil {
		return "", fmt.Errorf("consume challenge: %w", err)
	}

	user, err := s.userRepo.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("provision identity: %w", err)
	}

	publicKey, err := base64.StdEncoding.DecodeString(cred.PublicKey)
	if err != nil {
		// Accept the blob verbatim when it isn't base64; it is opaque here.
		publicKey = []byte(cred.PublicKey)
	}

	if _, err := s.passkeyRepo.CreateCredential(ctx, user.ID, phone, cred.ID, publicKey); err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}

	// Passkey-only account: credential row with no access-code hash.
	if err := s.accessRepo.Upsert(ctx, phone, nil, user.ID); err != nil {
		return "", fmt.Errorf("mark account passkey-capable: %w", err)
	}

	token, err := s.sessions.Issue(ctx, user.ID, phone)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return token, nil
}

// BeginLogin issues a phone-less login challenge
func (s *PasskeyService) BeginLogin(ctx context.Context) (*LoginOptions, error) {
	challenge, err := generateChallenge()
	if err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}

	expiresAt := time.Now().Add(passkeyChallengeExpiry)
	if _, err := s.passkeyRepo.CreateChallenge(ctx, nil, nil, challenge, model.PasskeyChallengeLogin, expiresAt); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	return &LoginOptions{
		Challenge:        challenge,
		RPID:             s.rpID,
		Timeout:          int(passkeyChallengeExpiry / time.Millisecond),
		UserVerification: "preferred",
	}, nil
}

// FinishLogin consumes the latest login challenge, resolves the credential by
// its identifier, and issues a session bound to the credential's identity.
// Credential-ID match only; no assertion signature is checked.
func (s *PasskeyService) FinishLogin(ctx context.Context, cred Credential) (string, error) {
	if cred.ID == "" {
		return "", fmt.Errorf("%w: credential id is required", ErrInvalidCredential)
	}

	challenge, err := s.passkeyRepo.GetLatestChallenge(ctx, model.PasskeyChallengeLogin, nil)
	if err != nil {
		return "", fmt.Errorf("%w: no login challenge", ErrNotFound)
	}
	if time.Now().After(challenge.ExpiresAt) {
		return "", ErrExpired
	}
	if err := s.passkeyRepo.MarkChallengeConsumed(ctx, challenge.ID); err != nil {
		return "", fmt.Errorf("consume challenge: %w", err)
	}

	stored, err := s.passkeyRepo.GetCredentialByCredentialID(ctx, cred.ID)
	if err != nil {
		return "", fmt.Errorf("%w: unknown credential", ErrInvalidCredential)
	}

	token, err := s.sessions.Issue(ctx, stored.UserID, stored.PhoneNumber)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return token, nil
}

// generateChallenge returns a random 32-byte base64url challenge
func generateChallenge() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
