package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/afyalink/server/internal/auth"
	"github.com/afyalink/server/internal/chat"
)

// respondJSON writes a JSON success body
func respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondWithError sends the shared error envelope
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// respondWithErrorDetails sends the error envelope with a details field
func respondWithErrorDetails(w http.ResponseWriter, statusCode int, message, details string) {
	respondJSON(w, statusCode, map[string]string{"error": message, "details": details})
}

// statusForError maps the failure taxonomy onto HTTP statuses
func statusForError(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, chat.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrExpired):
		return http.StatusGone
	case errors.Is(err, auth.ErrInvalidCode):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrNotVerified):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrUnassigned):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the stable error string for a failure
func publicMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrValidation):
		return "invalid_request"
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, chat.ErrRequestNotFound):
		return "not_found"
	case errors.Is(err, auth.ErrExpired):
		return "expired"
	case errors.Is(err, auth.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, auth.ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, auth.ErrNotVerified):
		return "not_verified"
	case errors.Is(err, auth.ErrRateLimited):
		return "rate_limit_exceeded"
	case errors.Is(err, chat.ErrForbidden):
		return "forbidden"
	case errors.Is(err, chat.ErrUnassigned):
		return "request_unassigned"
	default:
		return "internal_error"
	}
}

// respondServiceError logs internal failures and writes the mapped status
func respondServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Printf("Internal error: %v", err)
	}
	respondWithError(w, status, publicMessage(err))
}

// bearerToken extracts the token from an Authorization: Bearer header,
// returning "" when absent or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// logMaskedPhone logs a message with masked phone number
func logMaskedPhone(phone, format string, args ...interface{}) {
	log.Printf("Phone "+maskPhone(phone)+": "+format, args...)
}

// maskPhone masks a phone number for logging (e.g., +2*********01)
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
