// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model: the append-only message log, the two read paths (full conversation
// and since-id), and the batch read marker.
//
// Error semantics:
//   - When a message is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mvasilak/go-messenger-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateMessage appends a message to the log. The id is assigned by the
// database's autoincrement counter, which is the single ordering authority
// for delivery. No notification side effects happen here; broadcasting and
// signalling belong to the dispatcher.
func CreateMessage(db *gorm.DB, senderID, receiverID uint64, body string) (*domain.Message, error) {
	m := &domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id uint64) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessagesBetween returns every message exchanged between the two users,
// in either direction, ordered deterministically (CreatedAt ASC, ID ASC).
func ListMessagesBetween(ctx context.Context, db *gorm.DB, userA, userB uint64) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListMessagesSince returns up to limit messages addressed to receiverID with
// id > afterID, ascending by id, with the sender preloaded. This is the hot
// path for the polling fallback and is served by the composite
// (receiver_id, id) index.
func ListMessagesSince(ctx context.Context, db *gorm.DB, receiverID, afterID uint64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.Message
	err := db.WithContext(ctx).
		Preload("Sender").
		Where("receiver_id = ? AND id > ?", receiverID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	for i := range out {
		out[i].AttachSenderSummary()
	}
	return out, err
}

// MarkMessagesRead sets read_at = now for the given ids where it is still
// null. Re-marking already-read ids is a no-op, not an error; the returned
// count is the number of rows actually transitioned.
func MarkMessagesRead(ctx context.Context, db *gorm.DB, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id IN ? AND read_at IS NULL", ids).
		Update("read_at", time.Now().UTC())
	return res.RowsAffected, res.Error
}

// MarkConversationRead marks every unread message from peerID to ownerID as
// read. Used when the owner opens the full conversation.
func MarkConversationRead(ctx context.Context, db *gorm.DB, ownerID, peerID uint64) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND read_at IS NULL", peerID, ownerID).
		Update("read_at", time.Now().UTC())
	return res.RowsAffected, res.Error
}
