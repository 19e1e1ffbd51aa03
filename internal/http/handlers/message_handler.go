// Message HTTP handlers.
//
// This file exposes REST endpoints for direct messages:
//   - POST /messages                       (send a message to a receiver)
//   - GET  /conversations/{id}/messages    (full history with a peer, marks inbound read)
//   - GET  /messages/since                 (delta fetch past a known id, marks returned read)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, receiver, key), the handler returns that recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mvasilak/go-messenger-backend/internal/domain"
	"github.com/mvasilak/go-messenger-backend/internal/repo"
	"github.com/mvasilak/go-messenger-backend/internal/services"
	"github.com/mvasilak/go-messenger-backend/internal/utils"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message.
//
// Body is normalized by the handler (line endings and excessive blank lines)
// before being passed to the service layer. The service also enforces a
// maximum rune count, which can be configured in MessageService.
type PostMessageRequest struct {
	// ReceiverID identifies the addressed user.
	ReceiverID uint64 `json:"receiver_id" binding:"required" example:"7"`
	// Body is the message text. It must be non-empty.
	Body string `json:"body" binding:"required,min=1" example:"see you at the standup"`
}

// PostMessageResponse is the JSON envelope for a newly stored message.
type PostMessageResponse struct {
	// Message is the stored message with its database-assigned id.
	Message *domain.Message `json:"message"`
}

// ConversationMessage decorates a stored message with the caller's
// perspective for history rendering.
type ConversationMessage struct {
	domain.Message
	// IsOutgoing is true when the caller sent this message.
	IsOutgoing bool `json:"is_outgoing"`
}

// ListConversationMessagesResponse contains the ascending history with a peer.
type ListConversationMessagesResponse struct {
	Messages []ConversationMessage `json:"messages"`
}

// ListSinceResponse contains a bounded ascending delta of inbound messages.
type ListSinceResponse struct {
	Messages []domain.Message `json:"messages"`
	// LatestID is the highest id the client now knows; pass it back as
	// after_id on the next delta or poll request.
	LatestID uint64 `json:"latest_id"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeBody normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeBody(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxBodyRunes inspects the concrete MessageService for a configured
// body-length limit. If unavailable, it returns a conservative fallback.
func discoverMaxBodyRunes(msgSvc MessageService) int {
	const fallback = services.DefaultMaxBodyRunes
	if ms, ok := msgSvc.(*services.MessageService); ok {
		if ms.MaxBodyRunes > 0 {
			return ms.MaxBodyRunes
		}
	}
	return fallback
}

// serviceDB exposes the concrete service's DB handle for ETag and
// idempotency lookups. Returns nil when the handler runs against a fake.
func (h *Handlers) serviceDB() *gorm.DB {
	if ms, ok := h.msgSvc.(*services.MessageService); ok {
		return ms.DB
	}
	return nil
}

// defaultIdempotencyTTL matches the config default for IDEMPOTENCY_TTL.
const defaultIdempotencyTTL = 24 * time.Hour

// idempotencyTTL returns the configured replay window, falling back to the
// default when the router did not set one.
func (h *Handlers) idempotencyTTL() time.Duration {
	if h.IdempotencyTTL > 0 {
		return h.IdempotencyTTL
	}
	return defaultIdempotencyTTL
}

// middlewareGetIdempotencyKey extracts an idempotency key if an upstream
// middleware has already validated/stashed it. The fallback behavior reads
// the "Idempotency-Key" header directly when no dedicated middleware exists.
func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a direct message
// @Description Durably stores the message, then notifies the receiver through the
// @Description push channel and the long-poll signal. Delivery side effects are
// @Description best-effort; the message is stored even when they fail.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  integer  true  "Caller user ID"  example(3)
// @Param       Idempotency-Key  header  string   false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Stored message"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse        "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse        "Receiver not found"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okID := requireUser(c)
	if !okID {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ReceiverID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "receiver_id and body required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	body := sanitizeBody(req.Body)
	maxRunes := discoverMaxBodyRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(body) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("body too long: max %d runes", maxRunes))
		return
	}
	if body == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middlewareGetIdempotencyKey(c)
	if idemKey != "" {
		if db := h.serviceDB(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, uid, req.ReceiverID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(db, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, PostMessageResponse{Message: prev})
					return
				}
			}
		}
	}

	// Normal processing (service has a second guard for length).
	m, err := h.msgSvc.Send(ctx, uid, req.ReceiverID, body)
	if err != nil {
		switch err {
		case services.ErrReceiverNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "receiver not found")
		case services.ErrSelfMessage:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot message yourself")
		case services.ErrBodyTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("body too long: max %d runes", maxRunes))
		case services.ErrEmptyBody:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if db := h.serviceDB(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, uid, req.ReceiverID, idemKey, m.ID, http.StatusCreated, h.idempotencyTTL())
		}
	}

	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}

// ListConversationMessages godoc
// @ID          listConversationMessages
// @Summary     List the history with a peer
// @Description Returns all messages exchanged with the peer in ascending order and
// @Description marks the inbound half read. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID      header  integer  true  "Caller user ID"              example(3)
// @Param       If-None-Match  header  string   false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       id             path    integer  true  "Peer user ID"                example(7)
//
// @Success     200  {object} handlers.ListConversationMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Peer not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okID := requireUser(c)
	if !okID {
		return
	}

	peerID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || peerID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "peer id must be a positive integer")
		return
	}

	// ETag pre-check (best effort).
	if db := h.serviceDB(); db != nil {
		count, maxTS, serr := repo.ConversationMessagesStats(ctx, db, uid, peerID)
		if serr == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%d:%d:%d:%d"`, uid, peerID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	msgs, err := h.msgSvc.ListConversation(ctx, uid, peerID)
	if err != nil {
		switch err {
		case services.ErrUserNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "peer not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	out := make([]ConversationMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, ConversationMessage{
			Message:    msgs[i],
			IsOutgoing: msgs[i].SenderID == uid,
		})
	}
	ok(c, http.StatusOK, ListConversationMessagesResponse{Messages: out})
}

// ListSince godoc
// @ID          listSince
// @Summary     Fetch messages past a known id
// @Description Returns up to the configured limit of inbound messages with ids greater
// @Description than after_id, sender details included, and marks exactly the returned
// @Description rows read. Clients repeat the call with the returned latest_id to page
// @Description through a backlog.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  integer  true   "Caller user ID"             example(3)
// @Param       after_id   query   integer  false  "Highest id already known"   default(0)
//
// @Success     200  {object} handlers.ListSinceResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/since [get]
func (h *Handlers) ListSince(c *gin.Context) {
	uid, okID := requireUser(c)
	if !okID {
		return
	}
	afterID := utils.Uint64Default(c.Query("after_id"), 0)

	msgs, err := h.msgSvc.ListSince(c.Request.Context(), uid, afterID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	latest := afterID
	if n := len(msgs); n > 0 {
		latest = msgs[n-1].ID
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	ok(c, http.StatusOK, ListSinceResponse{Messages: msgs, LatestID: latest})
}
