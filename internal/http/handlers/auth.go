package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/afyalink/server/internal/auth"
	"github.com/afyalink/server/internal/middleware"
	"github.com/afyalink/server/internal/phone"
)

// AuthHandler handles OTP, access-code and passkey endpoints
type AuthHandler struct {
	otp             *auth.OTPService
	accessCodes     *auth.AccessCodeService
	passkeys        *auth.PasskeyService
	countryCode     string
	devMode         bool
	ipLimiter       *middleware.RateLimiter
	verifyIPLimiter *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	otp *auth.OTPService,
	accessCodes *auth.AccessCodeService,
	passkeys *auth.PasskeyService,
	countryCode string,
	devMode bool,
) *AuthHandler {
	// IP rate limiters: 10 per 10min for start_otp, 20 per 10min for
	// verify_otp (the per-phone limit is DB-based).
	return &AuthHandler{
		otp:             otp,
		accessCodes:     accessCodes,
		passkeys:        passkeys,
		countryCode:     countryCode,
		devMode:         devMode,
		ipLimiter:       middleware.NewRateLimiter(10*time.Minute, 10),
		verifyIPLimiter: middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

// normalizedPhone canonicalizes and validates a raw phone field
func (h *AuthHandler) normalizedPhone(raw string) (string, bool) {
	canonical := phone.Normalize(strings.TrimSpace(raw), h.countryCode)
	return canonical, phone.IsValid(canonical)
}

// startOTPRequest is the request body for POST /auth/start_otp
type startOTPRequest struct {
	Phone string `json:"phone"`
}

// startOTPResponse echoes the code only when dev mode is enabled
type startOTPResponse struct {
	OK      bool   `json:"ok"`
	DevCode string `json:"dev_code,omitempty"`
}

// HandleStartOTP handles POST /auth/start_otp
func (h *AuthHandler) HandleStartOTP(w http.ResponseWriter, r *http.Request) {
	var req startOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	canonical, ok := h.normalizedPhone(req.Phone)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "phone is required and must be a valid number")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
		return
	}

	code, err := h.otp.Start(r.Context(), canonical)
	if err != nil {
		logMaskedPhone(canonical, "Failed to start OTP: %v", err)
		respondServiceError(w, err)
		return
	}

	response := startOTPResponse{OK: true}
	if h.devMode {
		// Development convenience only; delivery is out of band (SMS).
		response.DevCode = code
	}
	respondJSON(w, http.StatusOK, response)
}

// verifyOTPRequest is the request body for POST /auth/verify_otp
type verifyOTPRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

// HandleVerifyOTP handles POST /auth/verify_otp
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	canonical, ok := h.normalizedPhone(req.Phone)
	req.OTP = strings.TrimSpace(req.OTP)
	if !ok || req.OTP == "" {
		respondWithError(w, http.StatusBadRequest, "phone and otp are required")
		return
	}

	if !h.verifyIPLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
		return
	}

	if err := h.otp.Verify(r.Context(), canonical, req.OTP); err != nil {
		logMaskedPhone(canonical, "OTP verification failed: %v", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// setAccessCodeRequest is the request body for POST /auth/set_access_code
type setAccessCodeRequest struct {
	Phone      string `json:"phone"`
	AccessCode string `json:"access_code"`
}

// HandleSetAccessCode handles POST /auth/set_access_code. Requires an OTP
// verification within the last 15 minutes.
func (h *AuthHandler) HandleSetAccessCode(w http.ResponseWriter, r *http.Request) {
	h.handleSetAccessCode(w, r, true)
}

// HandleSetAccessCodeNoOTP handles POST /auth/set_access_code_no_otp, the
// explicit bypass used by assisted onboarding.
func (h *AuthHandler) HandleSetAccessCodeNoOTP(w http.ResponseWriter, r *http.Request) {
	h.handleSetAccessCode(w, r, false)
}

func (h *AuthHandler) handleSetAccessCode(w http.ResponseWriter, r *http.Request, requireOTP bool) {
	var req setAccessCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	canonical, ok := h.normalizedPhone(req.Phone)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "phone is required and must be a valid number")
		return
	}

	if err := h.accessCodes.Set(r.Context(), canonical, strings.TrimSpace(req.AccessCode), requireOTP); err != nil {
		logMaskedPhone(canonical, "Failed to set access code: %v", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// registerOptionsRequest is the request body for POST /auth/register_options
type registerOptionsRequest struct {
	Phone string `json:"phone"`
}

// HandleRegisterOptions handles POST /auth/register_options
func (h *AuthHandler) HandleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	var req registerOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	canonical, ok := h.normalizedPhone(req.Phone)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "phone is required and must be a valid number")
		return
	}

	opts, err := h.passkeys.BeginRegistration(r.Context(), canonical)
	if err != nil {
		logMaskedPhone(canonical, "Failed to begin passkey registration: %v", err)
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, opts)
}

// registerVerifyRequest is the request body for POST /auth/register_verify
type registerVerifyRequest struct {
	Phone      string          `json:"phone"`
	Credential auth.Credential `json:"credential"`
}

// sessionTokenResponse carries the issued session token
type sessionTokenResponse struct {
	OK           bool   `json:"ok"`
	SessionToken string `json:"session_token"`
}

// HandleRegisterVerify handles POST /auth/register_verify
func (h *AuthHandler) HandleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req registerVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	canonical, ok := h.normalizedPhone(req.Phone)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "phone is required and must be a valid number")
		return
	}
	if req.Credential.ID == "" {
		respondWithError(w, http.StatusBadRequest, "credential is required")
		return
	}

	token, err := h.passkeys.FinishRegistration(r.Context(), canonical, req.Credential)
	if err != nil {
		logMaskedPhone(canonical, "Passkey registration failed: %v", err)
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionTokenResponse{OK: true, SessionToken: token})
}

// HandleLoginOptions handles POST /auth/login_options (phone-less)
func (h *AuthHandler) HandleLoginOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.passkeys.BeginLogin(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, opts)
}

// loginVerifyRequest is the request body for POST /auth/login_verify
type loginVerifyRequest struct {
	Credential auth.Credential `json:"credential"`
}

// HandleLoginVerify handles POST /auth/login_verify
func (h *AuthHandler) HandleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req loginVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Credential.ID == "" {
		respondWithError(w, http.StatusBadRequest, "credential is required")
		return
	}

	token, err := h.passkeys.FinishLogin(r.Context(), req.Credential)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionTokenResponse{OK: true, SessionToken: token})
}
