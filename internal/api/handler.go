package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/RichardoC/matrixchat/internal/chat"
	"github.com/RichardoC/matrixchat/internal/db"
	"github.com/RichardoC/matrixchat/internal/models"
)

type Handler struct {
	store  db.Store
	chat   *chat.Service
	logger *zap.Logger
}

func NewHandler(store db.Store, chatService *chat.Service, logger *zap.Logger) *Handler {
	return &Handler{
		store:  store,
		chat:   chatService,
		logger: logger,
	}
}

type ConversationsResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

type ConversationResponse struct {
	Conversation *models.Conversation `json:"conversation"`
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID int64  `json:"conversationId"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations", h.ListConversations)
	r.Post("/conversations", h.CreateConversation)
	r.Put("/conversations", h.UpdateConversation)
	r.Delete("/conversations", h.DeleteConversation)
	r.Get("/chat", h.GetMessages)
	r.Post("/chat", h.SendMessage)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.store.ListConversations(r.Context())
	if err != nil {
		h.respondError(w, r, err, "Failed to load conversations")
		return
	}

	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(conversations)),
		zap.String("path", r.URL.Path))

	h.respondJSON(w, http.StatusOK, ConversationsResponse{Conversations: conversations})
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	// The body is optional; an empty one creates an untitled conversation.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	conversation, err := h.store.CreateConversation(r.Context(), req.Title)
	if err != nil {
		h.respondError(w, r, err, "Failed to create conversation")
		return
	}

	h.respondJSON(w, http.StatusCreated, ConversationResponse{Conversation: conversation})
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	if err := h.store.UpdateConversationTitle(r.Context(), id, req.Title); err != nil {
		h.respondError(w, r, err, "Failed to update conversation")
		return
	}

	h.respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryID(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteConversation(r.Context(), id); err != nil {
		h.respondError(w, r, err, "Failed to delete conversation")
		return
	}

	h.respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryID(w, r, "conversationId")
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err, "Failed to load messages")
		return
	}

	h.respondJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	turn, err := h.chat.HandleUserTurn(r.Context(), req.Message, req.ConversationID)
	if err != nil {
		h.respondError(w, r, err, "Failed to process message")
		return
	}

	h.respondJSON(w, http.StatusOK, turn)
}

// queryID parses a positive integer id from the query string, answering 400 itself
// when it is missing or malformed.
func (h *Handler) queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil || id <= 0 {
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid or missing " + name})
		return 0, false
	}
	return id, true
}

// respondError maps validation and reference errors to 400 and 404 and reports
// everything else as a 500 with a generic message.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		h.respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		h.respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "Conversation not found"})
	default:
		h.logger.Error(message,
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		h.respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: message})
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
