// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Functions:
//
//   - AddConversationPair(ctx, db, ownerID, contactID) -> error
//     Creates both directions (owner→contact and contact→owner) in one
//     transaction; repeating the call is a no-op.
//
//   - HasConversation(ctx, db, ownerID, contactID) -> (bool, error)
//     Reports whether ownerID has contactID in their chat list.
//
//   - ContactIDs(ctx, db, ownerID) -> []uint64, error
//     Returns just the contact ids, used to flag search results.
//
//   - ConversationSummaries(ctx, db, ownerID) -> []domain.ConversationSummary, error
//     Joins conversations with the message log (last message, unread count
//     per peer), newest activity first, in a fixed number of queries. This is
//     the value the conversation cache stores; callers go through the cache,
//     not here, on the hot path.
package repo

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"github.com/mvasilak/go-messenger-backend/internal/domain"
)

// AddConversationPair creates the bidirectional conversation rows for the
// two users inside one transaction. Each direction uses FirstOrCreate, so
// duplicate calls are idempotent and neither party can end up visible
// without reciprocity.
func AddConversationPair(ctx context.Context, db *gorm.DB, ownerID, contactID uint64) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		forward := domain.Conversation{OwnerID: ownerID, ContactID: contactID}
		if err := tx.Where("owner_id = ? AND contact_id = ?", ownerID, contactID).
			FirstOrCreate(&forward).Error; err != nil {
			return err
		}
		reverse := domain.Conversation{OwnerID: contactID, ContactID: ownerID}
		return tx.Where("owner_id = ? AND contact_id = ?", contactID, ownerID).
			FirstOrCreate(&reverse).Error
	})
}

// HasConversation reports whether ownerID has contactID in their chat list.
func HasConversation(ctx context.Context, db *gorm.DB, ownerID, contactID uint64) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("owner_id = ? AND contact_id = ?", ownerID, contactID).
		Count(&n).Error
	return n > 0, err
}

// ContactIDs returns the ids of every contact in the owner's chat list.
func ContactIDs(ctx context.Context, db *gorm.DB, ownerID uint64) ([]uint64, error) {
	var ids []uint64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("owner_id = ?", ownerID).
		Pluck("contact_id", &ids).Error
	return ids, err
}

// ConversationSummaries computes the owner's conversation list: peer display
// fields, the newest message between the pair, and the unread count. Rows
// with recent activity sort first; conversations with no messages yet keep
// their chat-list order at the end.
//
// The composition is three queries regardless of list size: the joined peer
// rows, the newest message per pair, and the grouped unread counts.
func ConversationSummaries(ctx context.Context, db *gorm.DB, ownerID uint64) ([]domain.ConversationSummary, error) {
	// Peers in chat-list order. The inner join also drops contact rows that
	// outlived their user instead of failing the listing.
	var peers []domain.User
	if err := db.WithContext(ctx).
		Model(&domain.User{}).
		Joins("JOIN conversations ON conversations.contact_id = users.id").
		Where("conversations.owner_id = ?", ownerID).
		Order("conversations.created_at DESC").
		Find(&peers).Error; err != nil {
		return nil, err
	}

	// Newest message per pair. Ids are the ordering authority, so MAX(id) is
	// the newest row. With ownerID fixed, sender_id + receiver_id uniquely
	// keys the peer (self-messages are rejected upstream).
	newest := db.
		Model(&domain.Message{}).
		Select("MAX(id)").
		Where("sender_id = ? OR receiver_id = ?", ownerID, ownerID).
		Group("sender_id + receiver_id")
	var lasts []domain.Message
	if err := db.WithContext(ctx).
		Where("id IN (?)", newest).
		Find(&lasts).Error; err != nil {
		return nil, err
	}
	lastByPeer := make(map[uint64]*domain.Message, len(lasts))
	for i := range lasts {
		peerID := lasts[i].SenderID
		if peerID == ownerID {
			peerID = lasts[i].ReceiverID
		}
		lastByPeer[peerID] = &lasts[i]
	}

	// Unread counts grouped by sender.
	var unread []struct {
		SenderID uint64
		N        int64
	}
	if err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Select("sender_id, COUNT(*) AS n").
		Where("receiver_id = ? AND read_at IS NULL", ownerID).
		Group("sender_id").
		Scan(&unread).Error; err != nil {
		return nil, err
	}
	unreadByPeer := make(map[uint64]int64, len(unread))
	for _, row := range unread {
		unreadByPeer[row.SenderID] = row.N
	}

	out := make([]domain.ConversationSummary, 0, len(peers))
	for i := range peers {
		s := domain.ConversationSummary{
			Peer:        peers[i].Summary(),
			UnreadCount: unreadByPeer[peers[i].ID],
		}
		if last := lastByPeer[peers[i].ID]; last != nil {
			t := last.CreatedAt
			s.LastMessage = last.Body
			s.LastMessageID = last.ID
			s.LastMessageTime = &t
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].LastMessageTime, out[j].LastMessageTime
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	return out, nil
}
