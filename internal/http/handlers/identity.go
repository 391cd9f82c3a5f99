package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/auth"
	"github.com/afyalink/server/internal/phone"
)

// Caller is the verified identity behind a chat or request call
type Caller struct {
	UserID uuid.UUID
	Phone  string
}

// identityResolver derives a Caller from whichever credential the request
// carries: a staff bearer JWT, an opaque session token, or phone+access_code
// fields in the body. Auth here is per-action, not middleware: the code
// variant needs the decoded body.
type identityResolver struct {
	jwt         *auth.JWTService
	sessions    *auth.SessionService
	accessCodes *auth.AccessCodeService
	countryCode string
}

// credentialFields are the body fields shared by code-authenticated actions
type credentialFields struct {
	Phone        string `json:"phone"`
	AccessCode   string `json:"access_code"`
	SessionToken string `json:"session_token"`
}

// resolve tries the bearer header first (JWT, then session token), then the
// body credentials. Returns auth.ErrInvalidCredential when nothing matches.
func (ir *identityResolver) resolve(ctx context.Context, r *http.Request, creds credentialFields) (Caller, error) {
	if token := bearerToken(r); token != "" {
		return ir.resolveBearer(ctx, token)
	}

	if creds.SessionToken != "" {
		userID, phoneNumber, err := ir.sessions.Validate(ctx, creds.SessionToken)
		if err != nil {
			return Caller{}, err
		}
		return Caller{UserID: userID, Phone: phoneNumber}, nil
	}

	if creds.Phone != "" && creds.AccessCode != "" {
		canonical := phone.Normalize(strings.TrimSpace(creds.Phone), ir.countryCode)
		userID, err := ir.accessCodes.Verify(ctx, canonical, strings.TrimSpace(creds.AccessCode))
		if err != nil {
			return Caller{}, err
		}
		return Caller{UserID: userID, Phone: canonical}, nil
	}

	return Caller{}, fmt.Errorf("%w: no credentials supplied", auth.ErrInvalidCredential)
}

// resolveBearer accepts either an externally-issued staff JWT or one of our
// opaque session tokens, distinguished by attempting JWT verification first.
func (ir *identityResolver) resolveBearer(ctx context.Context, token string) (Caller, error) {
	if claims, err := ir.jwt.VerifyToken(token); err == nil {
		return Caller{UserID: claims.UserID, Phone: claims.PhoneNumber}, nil
	}

	userID, phoneNumber, err := ir.sessions.Validate(ctx, token)
	if err != nil {
		return Caller{}, err
	}
	return Caller{UserID: userID, Phone: phoneNumber}, nil
}
