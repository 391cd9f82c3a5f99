package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/auth"
	"github.com/afyalink/server/internal/model"
	"github.com/afyalink/server/internal/phone"
	"github.com/afyalink/server/internal/repo"
)

// RequestHandler handles support-request creation endpoints
type RequestHandler struct {
	requests    repo.RequestRepo
	users       repo.UserRepo
	resolver    *identityResolver
	countryCode string
}

// NewRequestHandler creates a new request handler
func NewRequestHandler(requests repo.RequestRepo, users repo.UserRepo, jwt *auth.JWTService, sessions *auth.SessionService, accessCodes *auth.AccessCodeService, countryCode string) *RequestHandler {
	return &RequestHandler{
		requests: requests,
		users:    users,
		resolver: &identityResolver{
			jwt:         jwt,
			sessions:    sessions,
			accessCodes: accessCodes,
			countryCode: countryCode,
		},
		countryCode: countryCode,
	}
}

// createRequestRequest is the request body for both create variants
type createRequestRequest struct {
	credentialFields
	SwahibaID   string `json:"swahiba_id"`
	Need        string `json:"need"`
	Description string `json:"description"`
}

// requestResponse is the created request in API responses
type requestResponse struct {
	ID             string  `json:"id"`
	SwahibaID      string  `json:"swahiba_id"`
	CreatedBy      string  `json:"created_by"`
	ConversationID *string `json:"conversation_id"`
	Status         string  `json:"status"`
	Phone          string  `json:"phone"`
	Need           string  `json:"need"`
	Description    string  `json:"description"`
}

// HandleCreateWithPin handles POST /requests/create_with_pin. The caller
// proves identity with phone+access_code on every call; no session needed.
func (h *RequestHandler) HandleCreateWithPin(w http.ResponseWriter, r *http.Request) {
	h.handleCreate(w, r, false)
}

// HandleCreateWithSession handles POST /requests/create_with_session. The
// session token comes from the body or the Authorization header.
func (h *RequestHandler) HandleCreateWithSession(w http.ResponseWriter, r *http.Request) {
	h.handleCreate(w, r, true)
}

func (h *RequestHandler) handleCreate(w http.ResponseWriter, r *http.Request, viaSession bool) {
	var req createRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if viaSession {
		// The pin fields must not smuggle in a second auth path here.
		req.AccessCode = ""
	} else {
		req.SessionToken = ""
	}

	caller, err := h.resolver.resolve(r.Context(), r, req.credentialFields)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	swahibaID, err := uuid.Parse(strings.TrimSpace(req.SwahibaID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "swahiba_id is required")
		return
	}
	need := strings.TrimSpace(req.Need)
	if need == "" {
		respondWithError(w, http.StatusBadRequest, "need is required")
		return
	}

	if _, err := h.users.GetByID(r.Context(), swahibaID); err != nil {
		respondWithError(w, http.StatusNotFound, "swahiba_not_found")
		return
	}

	canonical := caller.Phone
	if canonical == "" {
		canonical = phone.Normalize(strings.TrimSpace(req.Phone), h.countryCode)
	}
	if !phone.IsValid(canonical) {
		respondWithError(w, http.StatusBadRequest, "phone is required and must be a valid number")
		return
	}

	created, err := h.requests.Create(r.Context(), swahibaID, caller.UserID, canonical, need, strings.TrimSpace(req.Description))
	if err != nil {
		logMaskedPhone(canonical, "Failed to create request: %v", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]requestResponse{"request": toRequestResponse(created)})
}

func toRequestResponse(req model.Request) requestResponse {
	out := requestResponse{
		ID:          req.ID.String(),
		SwahibaID:   req.SwahibaID.String(),
		CreatedBy:   req.CreatedBy.String(),
		Status:      string(req.Status),
		Phone:       req.PhoneNumber,
		Need:        req.Need,
		Description: req.Description,
	}
	if req.ConversationID != nil {
		s := req.ConversationID.String()
		out.ConversationID = &s
	}
	return out
}
