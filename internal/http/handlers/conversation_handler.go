// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - GET  /conversations        (cached listing, newest activity first)
//   - POST /conversations        (create a bidirectional conversation pair)
//   - GET  /users/search         (directory search for starting conversations)
//
// It also declares the service contracts the transport layer depends on and
// the Handlers aggregate that the router wires up. Handlers are
// transport-thin: they validate input, call application services, and
// translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mvasilak/go-messenger-backend/internal/domain"
	"github.com/mvasilak/go-messenger-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// MessageService defines message delivery and conversation operations
// consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Send durably appends a message and fans out delivery best-effort.
	Send(ctx context.Context, senderID, receiverID uint64, body string) (*domain.Message, error)
	// ListConversation returns the full history with a peer and marks
	// inbound messages read.
	ListConversation(ctx context.Context, userID, peerID uint64) ([]domain.Message, error)
	// ListSince returns messages addressed to the user past afterID and
	// marks the returned rows read.
	ListSince(ctx context.Context, userID, afterID uint64) ([]domain.Message, error)
	// Conversations returns the user's conversation summaries.
	Conversations(ctx context.Context, userID uint64) ([]domain.ConversationSummary, error)
	// AddConversation creates the bidirectional pair with a contact.
	AddConversation(ctx context.Context, userID, contactID uint64) (*domain.UserSummary, error)
	// SearchUsers finds directory entries matching term.
	SearchUsers(ctx context.Context, userID uint64, term string) ([]services.UserMatch, error)
}

// PollService defines the blocking wait operation used by the long-poll
// endpoint.
type PollService interface {
	// Wait blocks until new messages are detected, the deadline passes, or
	// ctx is cancelled.
	Wait(ctx context.Context, userID, afterID uint64) (services.PollResult, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for messages, conversations, and polling.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	msgSvc  MessageService
	pollSvc PollService

	// IdempotencyTTL bounds how long a recorded Idempotency-Key replays.
	// Zero means the default window.
	IdempotencyTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(msgSvc MessageService, pollSvc PollService) *Handlers {
	return &Handlers{msgSvc: msgSvc, pollSvc: pollSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header. The second
// return value is false when no usable identity is present; callers must then
// reject the request.
func userID(c *gin.Context) (uint64, bool) {
	if v, ok := c.Get("userID"); ok {
		if id, ok := v.(uint64); ok && id > 0 {
			return id, true
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			if id, err := strconv.ParseUint(h, 10, 64); err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}

// requireUser resolves the caller identity or writes a 401 and returns false.
func requireUser(c *gin.Context) (uint64, bool) {
	id, ok := userID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required")
	}
	return id, ok
}

//
// DTOs
//

// CreateConversationRequest is the JSON payload for starting a conversation.
type CreateConversationRequest struct {
	// ContactID identifies the user to open a conversation with.
	ContactID uint64 `json:"contact_id" binding:"required" example:"7"`
}

// CreateConversationResponse returns the contact the pair was created with.
type CreateConversationResponse struct {
	Contact *domain.UserSummary `json:"contact"`
}

// ListConversationsResponse wraps the user's conversation summaries.
type ListConversationsResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
}

// SearchUsersResponse wraps directory search results.
type SearchUsersResponse struct {
	Users []services.UserMatch `json:"users"`
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations
// @Description Returns the user's conversations with last message and unread count,
// @Description ordered by most recent activity. Served from a short-lived cache.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  integer  true  "Caller user ID"  example(3)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	uid, okID := requireUser(c)
	if !okID {
		return
	}

	items, err := h.msgSvc.Conversations(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.ConversationSummary{}
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: items})
}

// CreateConversation godoc
// @ID          createConversation
// @Summary     Start a conversation
// @Description Creates the conversation pair in both directions. Re-creating an
// @Description existing pair succeeds without duplicating it.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  integer  true  "Caller user ID"  example(3)
// @Param       body       body    handlers.CreateConversationRequest  true  "Contact payload"
//
// @Success     201  {object} handlers.CreateConversationResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Contact not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	uid, okID := requireUser(c)
	if !okID {
		return
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ContactID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contact_id required")
		return
	}

	contact, err := h.msgSvc.AddConversation(c.Request.Context(), uid, req.ContactID)
	if err != nil {
		switch err {
		case services.ErrSelfMessage:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot start a conversation with yourself")
		case services.ErrUserNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "contact not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, CreateConversationResponse{Contact: contact})
}

// SearchUsers godoc
// @ID          searchUsers
// @Summary     Search the user directory
// @Description Finds users matching the query by username, name, or email. Each
// @Description match reports whether a conversation with the caller already exists.
// @Tags        Users
// @Produce     json
//
// @Param       X-User-ID  header  integer  true   "Caller user ID"  example(3)
// @Param       q          query   string   false  "Search term"     example(ali)
//
// @Success     200  {object} handlers.SearchUsersResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /users/search [get]
func (h *Handlers) SearchUsers(c *gin.Context) {
	uid, okID := requireUser(c)
	if !okID {
		return
	}

	matches, err := h.msgSvc.SearchUsers(c.Request.Context(), uid, c.Query("q"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if matches == nil {
		matches = []services.UserMatch{}
	}
	ok(c, http.StatusOK, SearchUsersResponse{Users: matches})
}
