// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns message delivery and conversation state. Sending a message is a
// durable append followed by three best-effort notifications: a broadcast
// to the receiver's push channel, a new-message signal for long pollers,
// and invalidation of both parties' cached conversation listings. Only the
// durable append can fail the send; everything downstream is logged and
// dropped, because a client that misses a push still converges through
// polling and the database fallback.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include sender/receiver identifiers where applicable.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mvasilak/go-messenger-backend/internal/broadcast"
	"github.com/mvasilak/go-messenger-backend/internal/convcache"
	"github.com/mvasilak/go-messenger-backend/internal/domain"
	"github.com/mvasilak/go-messenger-backend/internal/notify"
	"github.com/mvasilak/go-messenger-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxBodyRunes caps message bodies when the service is not
// configured otherwise.
const DefaultMaxBodyRunes = 5000

// DefaultSinceLimit caps a single since-id fetch.
const DefaultSinceLimit = 50

// UserMatch is a directory search hit annotated with whether the searching
// user already has a conversation with it.
type UserMatch struct {
	domain.UserSummary
	HasConversation bool `json:"has_conversation"`
}

// MessageService coordinates message persistence and delivery fan-out.
type MessageService struct {
	DB        *gorm.DB
	Signals   *notify.SignalStore
	Cache     *convcache.Cache
	Broadcast broadcast.Publisher

	// Optional guards
	MaxBodyRunes int
	SinceLimit   int
}

func (s *MessageService) maxBodyRunes() int {
	if s.MaxBodyRunes > 0 {
		return s.MaxBodyRunes
	}
	return DefaultMaxBodyRunes
}

func (s *MessageService) sinceLimit() int {
	if s.SinceLimit > 0 {
		return s.SinceLimit
	}
	return DefaultSinceLimit
}

// Send validates and durably appends a message, then notifies the receiver
// best-effort. The returned message carries its database-assigned id.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID uint64, body string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.Int64("sender.id", int64(senderID)),
			attribute.Int64("receiver.id", int64(receiverID)),
		),
	)
	defer span.End()

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > s.maxBodyRunes() {
		return nil, ErrBodyTooLong
	}
	if receiverID == senderID {
		return nil, ErrSelfMessage
	}

	exists, err := repo.UserExists(ctx, s.DB, receiverID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrReceiverNotFound
	}

	// Persist the message and ensure the conversation pair exists, in one
	// transaction. This is the only step allowed to fail the send.
	var msg *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, cerr := repo.CreateMessage(tx, senderID, receiverID, body)
		if cerr != nil {
			return cerr
		}
		msg = m
		return repo.AddConversationPair(ctx, tx, senderID, receiverID)
	})
	if err != nil {
		return nil, err
	}

	messagesSent.Inc()
	s.dispatch(ctx, msg)
	return msg, nil
}

// dispatch runs the best-effort delivery side effects for a stored message.
// Failures are logged and swallowed; the sender already has its 2xx.
func (s *MessageService) dispatch(ctx context.Context, msg *domain.Message) {
	if sender, err := repo.GetUser(ctx, s.DB, msg.SenderID); err == nil {
		msg.Sender = *sender
		msg.AttachSenderSummary()
	}

	if s.Broadcast != nil {
		if err := s.Broadcast.Publish(ctx, msg.ReceiverID, msg); err != nil {
			log.Warn().Err(err).Uint64("receiver_id", msg.ReceiverID).Uint64("message_id", msg.ID).
				Msg("broadcast publish failed")
		}
	}
	if s.Signals != nil {
		if err := s.Signals.Signal(ctx, msg.ReceiverID, msg.ID); err != nil {
			log.Warn().Err(err).Uint64("receiver_id", msg.ReceiverID).Uint64("message_id", msg.ID).
				Msg("notification signal failed")
		}
	}
	s.invalidateCache(ctx, msg.SenderID)
	s.invalidateCache(ctx, msg.ReceiverID)
}

func (s *MessageService) invalidateCache(ctx context.Context, userID uint64) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, userID); err != nil {
		log.Warn().Err(err).Uint64("user_id", userID).Msg("conversation cache invalidation failed")
	}
}

// ListConversation returns the full message history between userID and
// peerID in ascending order and marks the inbound half read. Read marking
// happens after the rows are loaded, so the response still shows which
// messages were unread when the client asked.
func (s *MessageService) ListConversation(ctx context.Context, userID, peerID uint64) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListConversation",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(userID)),
			attribute.Int64("peer.id", int64(peerID)),
		),
	)
	defer span.End()

	if exists, err := repo.UserExists(ctx, s.DB, peerID); err != nil {
		return nil, err
	} else if !exists {
		return nil, ErrUserNotFound
	}

	msgs, err := repo.ListMessagesBetween(ctx, s.DB, userID, peerID)
	if err != nil {
		return nil, err
	}

	marked, err := repo.MarkConversationRead(ctx, s.DB, userID, peerID)
	if err != nil {
		log.Warn().Err(err).Uint64("user_id", userID).Uint64("peer_id", peerID).
			Msg("mark conversation read failed")
	} else if marked > 0 {
		s.invalidateCache(ctx, userID)
	}
	return msgs, nil
}

// ListSince returns up to the configured limit of messages addressed to
// userID with ids strictly greater than afterID, sender summaries
// hydrated, and marks exactly the returned rows read.
func (s *MessageService) ListSince(ctx context.Context, userID, afterID uint64) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListSince",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(userID)),
			attribute.Int64("after.id", int64(afterID)),
		),
	)
	defer span.End()

	msgs, err := repo.ListMessagesSince(ctx, s.DB, userID, afterID, s.sinceLimit())
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]uint64, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
	}
	marked, err := repo.MarkMessagesRead(ctx, s.DB, ids)
	if err != nil {
		log.Warn().Err(err).Uint64("user_id", userID).Int("count", len(ids)).
			Msg("mark messages read failed")
	} else if marked > 0 {
		s.invalidateCache(ctx, userID)
	}
	return msgs, nil
}

// Conversations returns the user's conversation listing, newest first,
// through the short-lived cache. A cache failure degrades to the database.
func (s *MessageService) Conversations(ctx context.Context, userID uint64) ([]domain.ConversationSummary, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Conversations",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	if s.Cache != nil {
		cached, ok, err := s.Cache.Get(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Uint64("user_id", userID).Msg("conversation cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	summaries, err := repo.ConversationSummaries(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		if cerr := s.Cache.Put(ctx, userID, summaries); cerr != nil {
			log.Warn().Err(cerr).Uint64("user_id", userID).Msg("conversation cache write failed")
		}
	}
	return summaries, nil
}

// AddConversation creates the bidirectional conversation pair between
// userID and contactID and returns the contact's directory summary.
// Re-adding an existing pair is a no-op success.
func (s *MessageService) AddConversation(ctx context.Context, userID, contactID uint64) (*domain.UserSummary, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "AddConversation",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(userID)),
			attribute.Int64("contact.id", int64(contactID)),
		),
	)
	defer span.End()

	if contactID == userID {
		return nil, ErrSelfMessage
	}
	contact, err := repo.GetUser(ctx, s.DB, contactID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := repo.AddConversationPair(ctx, s.DB, userID, contactID); err != nil {
		return nil, err
	}
	s.invalidateCache(ctx, userID)
	s.invalidateCache(ctx, contactID)

	sum := contact.Summary()
	return &sum, nil
}

// SearchUsers finds directory entries matching term, excluding the
// searching user, each annotated with whether a conversation already
// exists. A blank term returns no matches.
func (s *MessageService) SearchUsers(ctx context.Context, userID uint64, term string) ([]UserMatch, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SearchUsers",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	users, err := repo.SearchUsers(ctx, s.DB, userID, term, 10)
	if err != nil {
		return nil, err
	}

	contacts, err := repo.ContactIDs(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	known := make(map[uint64]bool, len(contacts))
	for _, id := range contacts {
		known[id] = true
	}

	out := make([]UserMatch, 0, len(users))
	for i := range users {
		out = append(out, UserMatch{
			UserSummary:     users[i].Summary(),
			HasConversation: known[users[i].ID],
		})
	}
	return out, nil
}
