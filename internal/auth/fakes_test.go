package auth

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/model"
)

// In-memory repo fakes for service-level unit tests. Integration tests in
// internal/tests exercise the real Postgres-backed repos.

type fakeOtpRepo struct {
	mu         sync.Mutex
	challenges []model.OtpChallenge
}

func (f *fakeOtpRepo) CreateOrReplaceChallenge(_ context.Context, phone, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := range f.challenges {
		if f.challenges[i].PhoneNumber == phone && f.challenges[i].ConsumedAt == nil {
			t := now
			f.challenges[i].ConsumedAt = &t
		}
	}
	hash, err := hex.DecodeString(codeHashHex)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode hash: %w", err)
	}
	ch := model.OtpChallenge{
		ID:          uuid.New(),
		PhoneNumber: phone,
		CodeHash:    hash,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
	f.challenges = append(f.challenges, ch)
	return ch.ID, nil
}

func (f *fakeOtpRepo) GetLatestChallengeByPhone(_ context.Context, phone string) (model.OtpChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.OtpChallenge
	for _, ch := range f.challenges {
		if ch.PhoneNumber == phone && ch.ConsumedAt == nil {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return model.OtpChallenge{}, fmt.Errorf("no challenge")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out[0], nil
}

func (f *fakeOtpRepo) MarkVerified(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.challenges {
		if f.challenges[i].ID == id {
			if f.challenges[i].VerifiedAt != nil {
				return false, nil
			}
			t := time.Now()
			f.challenges[i].VerifiedAt = &t
			return true, nil
		}
	}
	return false, fmt.Errorf("challenge not found")
}

func (f *fakeOtpRepo) IncrementAttempt(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.challenges {
		if f.challenges[i].ID == id {
			f.challenges[i].AttemptCount++
			t := time.Now()
			f.challenges[i].LastAttemptAt = &t
			return f.challenges[i].AttemptCount, nil
		}
	}
	return 0, fmt.Errorf("challenge not found")
}

func (f *fakeOtpRepo) CountRecentRequests(_ context.Context, phone string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, ch := range f.challenges {
		if ch.PhoneNumber == phone && !ch.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeOtpRepo) LatestVerifiedAt(_ context.Context, phone string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for _, ch := range f.challenges {
		if ch.PhoneNumber == phone && ch.VerifiedAt != nil {
			if latest == nil || ch.VerifiedAt.After(*latest) {
				latest = ch.VerifiedAt
			}
		}
	}
	return latest, nil
}

// expireLatest force-expires the newest challenge for the phone.
func (f *fakeOtpRepo) expireLatest(phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.challenges) - 1; i >= 0; i-- {
		if f.challenges[i].PhoneNumber == phone {
			f.challenges[i].ExpiresAt = time.Now().Add(-time.Minute)
			return
		}
	}
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]model.User)}
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("user not found")
}

func (f *fakeUserRepo) GetOrCreateByPhone(_ context.Context, phone string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[phone]; ok {
		return u, nil
	}
	u := model.User{ID: uuid.New(), PhoneNumber: phone, PhoneConfirmed: true, CreatedAt: time.Now()}
	f.users[phone] = u
	return u, nil
}

func (f *fakeUserRepo) GetByPhone(_ context.Context, phone string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[phone]; ok {
		return u, nil
	}
	return model.User{}, fmt.Errorf("user not found")
}

type fakeAccessCodeRepo struct {
	mu    sync.Mutex
	creds map[string]model.AccessCredential
}

func newFakeAccessCodeRepo() *fakeAccessCodeRepo {
	return &fakeAccessCodeRepo{creds: make(map[string]model.AccessCredential)}
}

func (f *fakeAccessCodeRepo) Upsert(_ context.Context, phone string, codeHashHex *string, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[phone]
	if !ok {
		cred = model.AccessCredential{ID: uuid.New(), PhoneNumber: phone, CreatedAt: time.Now()}
	}
	cred.CodeHash = codeHashHex
	cred.UserID = userID
	cred.UpdatedAt = time.Now()
	f.creds[phone] = cred
	return nil
}

func (f *fakeAccessCodeRepo) GetByPhone(_ context.Context, phone string) (model.AccessCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[phone]; ok {
		return c, nil
	}
	return model.AccessCredential{}, fmt.Errorf("credential not found")
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]model.Session)}
}

func (f *fakeSessionRepo) Create(_ context.Context, userID uuid.UUID, phone, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := model.Session{
		ID:          uuid.New(),
		UserID:      userID,
		PhoneNumber: phone,
		TokenHash:   tokenHash,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
	f.sessions[tokenHash] = s
	return s.ID, nil
}

func (f *fakeSessionRepo) FindByTokenHash(_ context.Context, tokenHash string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[tokenHash]; ok {
		return s, nil
	}
	return model.Session{}, fmt.Errorf("session not found")
}

type fakePasskeyRepo struct {
	mu         sync.Mutex
	challenges []model.PasskeyChallenge
	creds      map[string]model.PasskeyCredential
}

func newFakePasskeyRepo() *fakePasskeyRepo {
	return &fakePasskeyRepo{creds: make(map[string]model.PasskeyCredential)}
}

func (f *fakePasskeyRepo) CreateChallenge(_ context.Context, phone *string, userID *uuid.UUID, challenge string, typ model.PasskeyChallengeType, expiresAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := model.PasskeyChallenge{
		ID:          uuid.New(),
		PhoneNumber: phone,
		UserID:      userID,
		Challenge:   challenge,
		Type:        typ,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	f.challenges = append(f.challenges, ch)
	return ch.ID, nil
}

func (f *fakePasskeyRepo) GetLatestChallenge(_ context.Context, typ model.PasskeyChallengeType, phone *string) (model.PasskeyChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.challenges) - 1; i >= 0; i-- {
		ch := f.challenges[i]
		if ch.Type != typ || ch.ConsumedAt != nil {
			continue
		}
		if phone != nil && (ch.PhoneNumber == nil || *ch.PhoneNumber != *phone) {
			continue
		}
		return ch, nil
	}
	return model.PasskeyChallenge{}, fmt.Errorf("no challenge")
}

func (f *fakePasskeyRepo) MarkChallengeConsumed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.challenges {
		if f.challenges[i].ID == id && f.challenges[i].ConsumedAt == nil {
			t := time.Now()
			f.challenges[i].ConsumedAt = &t
			return nil
		}
	}
	return fmt.Errorf("challenge not found or already consumed")
}

func (f *fakePasskeyRepo) CreateCredential(_ context.Context, userID uuid.UUID, phone, credentialID string, publicKey []byte) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.creds[credentialID]; ok {
		return uuid.Nil, fmt.Errorf("credential_id already exists")
	}
	c := model.PasskeyCredential{
		ID:           uuid.New(),
		UserID:       userID,
		PhoneNumber:  phone,
		CredentialID: credentialID,
		PublicKey:    publicKey,
		CreatedAt:    time.Now(),
	}
	f.creds[credentialID] = c
	return c.ID, nil
}

func (f *fakePasskeyRepo) GetCredentialByCredentialID(_ context.Context, credentialID string) (model.PasskeyCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.creds[credentialID]; ok {
		return c, nil
	}
	return model.PasskeyCredential{}, fmt.Errorf("credential not found")
}

func (f *fakePasskeyRepo) expireLatest(typ model.PasskeyChallengeType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.challenges) - 1; i >= 0; i-- {
		if f.challenges[i].Type == typ {
			f.challenges[i].ExpiresAt = time.Now().Add(-time.Minute)
			return
		}
	}
}
