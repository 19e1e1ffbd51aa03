package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/mvasilak/go-messenger-backend/internal/domain"
)

func TestAddConversationPair_BidirectionalAndIdempotent(t *testing.T) {
	db := newTestDB(t, &domain.Conversation{})
	ctx := context.Background()

	if err := AddConversationPair(ctx, db, 1, 2); err != nil {
		t.Fatalf("AddConversationPair: %v", err)
	}

	for _, pair := range [][2]uint64{{1, 2}, {2, 1}} {
		ok, err := HasConversation(ctx, db, pair[0], pair[1])
		if err != nil {
			t.Fatalf("HasConversation(%v): %v", pair, err)
		}
		if !ok {
			t.Fatalf("expected conversation %v to exist", pair)
		}
	}

	// Repeating the call (either direction first) creates no duplicates.
	if err := AddConversationPair(ctx, db, 2, 1); err != nil {
		t.Fatalf("repeat AddConversationPair: %v", err)
	}
	var n int64
	if err := db.Model(&domain.Conversation{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected exactly 2 rows, got %d", n)
	}
}

func TestAddConversationPair_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if err := AddConversationPair(context.Background(), db, 1, 2); err == nil {
		t.Fatalf("expected error due to missing conversations table")
	}
}

func TestContactIDs(t *testing.T) {
	db := newTestDB(t, &domain.Conversation{})
	ctx := context.Background()

	if err := AddConversationPair(ctx, db, 1, 2); err != nil {
		t.Fatalf("AddConversationPair: %v", err)
	}
	if err := AddConversationPair(ctx, db, 1, 3); err != nil {
		t.Fatalf("AddConversationPair: %v", err)
	}

	ids, err := ContactIDs(ctx, db, 1)
	if err != nil {
		t.Fatalf("ContactIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 contacts, got %v", ids)
	}
}

func TestConversationSummaries_QueryCountIndependentOfListSize(t *testing.T) {
	db := newTestDB(t, &domain.User{}, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	seedPeers := func(from, to uint64) {
		for id := from; id <= to; id++ {
			u := domain.User{ID: id, Username: fmt.Sprintf("peer%d", id), FirstName: "P", LastName: "Q",
				Email: fmt.Sprintf("p%d@x.io", id)}
			if err := db.Create(&u).Error; err != nil {
				t.Fatalf("seed user %d: %v", id, err)
			}
			if err := AddConversationPair(ctx, db, 1, id); err != nil {
				t.Fatalf("AddConversationPair: %v", err)
			}
			m := domain.Message{SenderID: id, ReceiverID: 1, Body: "hi", CreatedAt: time.Now().UTC()}
			if err := db.Create(&m).Error; err != nil {
				t.Fatalf("seed message from %d: %v", id, err)
			}
		}
	}

	owner := domain.User{ID: 1, Username: "owner", FirstName: "O", LastName: "W", Email: "o@x.io"}
	if err := db.Create(&owner).Error; err != nil {
		t.Fatalf("seed owner: %v", err)
	}

	var queries int
	if err := db.Callback().Query().After("gorm:query").
		Register("test:count_queries", func(*gorm.DB) { queries++ }); err != nil {
		t.Fatalf("register callback: %v", err)
	}

	countFor := func(peers uint64) int {
		queries = 0
		sums, err := ConversationSummaries(ctx, db, 1)
		if err != nil {
			t.Fatalf("ConversationSummaries: %v", err)
		}
		if uint64(len(sums)) != peers {
			t.Fatalf("expected %d summaries, got %d", peers, len(sums))
		}
		return queries
	}

	seedPeers(2, 3)
	small := countFor(2)

	seedPeers(4, 11)
	large := countFor(10)

	if small != large {
		t.Fatalf("query count grew with the list: %d for 2 peers, %d for 10", small, large)
	}
}

func TestConversationSummaries_LastMessageUnreadAndOrder(t *testing.T) {
	db := newTestDB(t, &domain.User{}, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	users := []domain.User{
		{ID: 1, Username: "owner", FirstName: "O", LastName: "W", Email: "o@x.io"},
		{ID: 2, Username: "bob", FirstName: "Bob", LastName: "B", Email: "b@x.io"},
		{ID: 3, Username: "carol", FirstName: "Carol", LastName: "C", Email: "c@x.io"},
		{ID: 4, Username: "dave", FirstName: "Dave", LastName: "D", Email: "d@x.io"},
	}
	for i := range users {
		if err := db.Create(&users[i]).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	for _, contact := range []uint64{2, 3, 4} {
		if err := AddConversationPair(ctx, db, 1, contact); err != nil {
			t.Fatalf("AddConversationPair: %v", err)
		}
	}

	t0 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	read := t0.Add(time.Hour)
	seed := []domain.Message{
		// bob: two inbound unread, last at t0+2s
		{ID: 1, SenderID: 2, ReceiverID: 1, Body: "hey", CreatedAt: t0},
		{ID: 2, SenderID: 2, ReceiverID: 1, Body: "you there?", CreatedAt: t0.Add(2 * time.Second)},
		// carol: newest activity overall, already read, plus one outgoing
		{ID: 3, SenderID: 3, ReceiverID: 1, Body: "lunch?", CreatedAt: t0.Add(10 * time.Second), ReadAt: &read},
		{ID: 4, SenderID: 1, ReceiverID: 3, Body: "sure", CreatedAt: t0.Add(20 * time.Second)},
		// dave: no messages at all
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	sums, err := ConversationSummaries(ctx, db, 1)
	if err != nil {
		t.Fatalf("ConversationSummaries: %v", err)
	}
	if len(sums) != 3 {
		t.Fatalf("expected 3 summaries, got %d: %+v", len(sums), sums)
	}

	// carol first (newest activity), then bob, then dave (no messages).
	if sums[0].Peer.Username != "carol" || sums[1].Peer.Username != "bob" || sums[2].Peer.Username != "dave" {
		t.Fatalf("unexpected order: %s, %s, %s",
			sums[0].Peer.Username, sums[1].Peer.Username, sums[2].Peer.Username)
	}
	if sums[0].LastMessage != "sure" || sums[0].UnreadCount != 0 {
		t.Fatalf("carol summary wrong: %+v", sums[0])
	}
	if sums[1].LastMessage != "you there?" || sums[1].UnreadCount != 2 {
		t.Fatalf("bob summary wrong: %+v", sums[1])
	}
	if sums[2].LastMessage != "" || sums[2].LastMessageTime != nil || sums[2].UnreadCount != 0 {
		t.Fatalf("dave summary wrong: %+v", sums[2])
	}
}
