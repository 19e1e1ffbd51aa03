// Long-poll HTTP handler.
//
// GET /messages/poll parks the request until a new message is detected for
// the caller or the wait deadline passes. The handler never returns message
// content; it only tells the client whether to issue a follow-up
// /messages/since fetch, which is also where read marking happens.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mvasilak/go-messenger-backend/internal/services"
	"github.com/mvasilak/go-messenger-backend/internal/utils"
)

// PollResponse reports the outcome of a long-poll wait.
type PollResponse struct {
	// HasNew is true when at least one new message is waiting.
	HasNew bool `json:"has_new"`
	// NewMessagesSinceID is the id to fetch past when HasNew is true.
	NewMessagesSinceID *uint64 `json:"new_messages_since_id,omitempty"`
	// LatestID echoes the client's after_id when nothing arrived.
	LatestID *uint64 `json:"latest_id,omitempty"`
}

// Poll godoc
// @ID          pollMessages
// @Summary     Wait for new messages
// @Description Blocks for up to the configured deadline, returning early when a new
// @Description message for the caller is detected. A timeout is a normal 200 with
// @Description has_new=false. Closing the connection aborts the wait immediately.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  integer  true   "Caller user ID"            example(3)
// @Param       after_id   query   integer  false  "Highest id already known"  default(0)
//
// @Success     200  {object} handlers.PollResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/poll [get]
func (h *Handlers) Poll(c *gin.Context) {
	uid, okID := requireUser(c)
	if !okID {
		return
	}
	afterID := utils.Uint64Default(c.Query("after_id"), 0)

	res, err := h.pollSvc.Wait(c.Request.Context(), uid, afterID)
	if err != nil {
		// A cancelled context means the client went away; there is nobody
		// left to answer. Any other error is a real failure.
		if c.Request.Context().Err() != nil {
			c.Abort()
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodePollFailed, err.Error())
		return
	}

	switch res.Outcome {
	case services.PollResolvedSignal, services.PollResolvedFallback:
		since := afterID
		ok(c, http.StatusOK, PollResponse{HasNew: true, NewMessagesSinceID: &since})
	default:
		latest := afterID
		ok(c, http.StatusOK, PollResponse{HasNew: false, LatestID: &latest})
	}
}
