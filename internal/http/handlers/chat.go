package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/afyalink/server/internal/auth"
	"github.com/afyalink/server/internal/chat"
	"github.com/afyalink/server/internal/model"
)

// ChatHandler handles conversation history and send endpoints
type ChatHandler struct {
	relay    *chat.Relay
	resolver *identityResolver
}

// NewChatHandler creates a new chat handler
func NewChatHandler(relay *chat.Relay, jwt *auth.JWTService, sessions *auth.SessionService, accessCodes *auth.AccessCodeService, countryCode string) *ChatHandler {
	return &ChatHandler{
		relay: relay,
		resolver: &identityResolver{
			jwt:         jwt,
			sessions:    sessions,
			accessCodes: accessCodes,
			countryCode: countryCode,
		},
	}
}

// historyRequest is the request body for POST /chat/history
type historyRequest struct {
	credentialFields
	RequestID string `json:"request_id"`
}

// messageResponse is a message in API responses
type messageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	Type           string `json:"type"`
	CreatedAt      string `json:"created_at"`
}

// historyResponse is the response body for POST /chat/history
type historyResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []messageResponse `json:"messages"`
}

// HandleHistory handles POST /chat/history
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := h.resolver.resolve(r.Context(), r, req.credentialFields)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	requestID, err := uuid.Parse(strings.TrimSpace(req.RequestID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	history, err := h.relay.History(r.Context(), caller.UserID, requestID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	response := historyResponse{Messages: make([]messageResponse, 0, len(history.Messages))}
	if history.ConversationID != uuid.Nil {
		response.ConversationID = history.ConversationID.String()
	}
	for _, msg := range history.Messages {
		response.Messages = append(response.Messages, toMessageResponse(msg))
	}
	respondJSON(w, http.StatusOK, response)
}

// sendRequest is the request body for POST /chat/send
type sendRequest struct {
	credentialFields
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

// sendResponse is the response body for POST /chat/send
type sendResponse struct {
	ConversationID string          `json:"conversation_id"`
	Message        messageResponse `json:"message"`
}

// HandleSend handles POST /chat/send
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := h.resolver.resolve(r.Context(), r, req.credentialFields)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	requestID, err := uuid.Parse(strings.TrimSpace(req.RequestID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "request_id is required")
		return
	}
	body := strings.TrimSpace(req.Message)
	if body == "" {
		respondWithError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.relay.Send(r.Context(), caller.UserID, requestID, body)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sendResponse{
		ConversationID: result.ConversationID.String(),
		Message:        toMessageResponse(result.Message),
	})
}

func toMessageResponse(msg model.Message) messageResponse {
	return messageResponse{
		ID:             msg.ID.String(),
		ConversationID: msg.ConversationID.String(),
		SenderID:       msg.SenderID.String(),
		Body:           msg.Body,
		Type:           msg.Type,
		CreatedAt:      msg.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}
