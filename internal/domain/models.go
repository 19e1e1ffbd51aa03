// Package domain defines the persistence models for users, conversations,
// and messages. These types are mapped with GORM and form the core data
// layer of the messenger application.
package domain

import "time"

// User is the minimal directory record the delivery subsystem needs: enough
// to validate a receiver and hydrate sender display fields on outgoing
// payloads. Account lifecycle (registration, passwords, profile images) is
// owned by the identity system and out of scope here.
//
// Fields:
//   - ID: numeric primary key assigned by the database.
//   - Username: unique handle used for search and display.
//   - FirstName / LastName: display name parts.
//   - Email: unique contact address, also searchable.
//   - Image: profile image path/URL, may be empty.
type User struct {
	ID        uint64    `json:"id"         gorm:"primaryKey;autoIncrement"`
	Username  string    `json:"username"   gorm:"type:varchar(64);not null;uniqueIndex"`
	FirstName string    `json:"firstname"  gorm:"type:varchar(64);not null"`
	LastName  string    `json:"lastname"   gorm:"type:varchar(64);not null"`
	Email     string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex"`
	Image     string    `json:"image"      gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Conversation records that OwnerID has ContactID in their chat list. The
// relationship is directed; adding a contact creates both directions so that
// neither party ever sees the other without reciprocity. The unique index on
// (owner_id, contact_id) makes repeated creation idempotent.
type Conversation struct {
	ID        uint64    `json:"id"         gorm:"primaryKey;autoIncrement"`
	OwnerID   uint64    `json:"owner_id"   gorm:"not null;uniqueIndex:ux_owner_contact,priority:1"`
	ContactID uint64    `json:"contact_id" gorm:"not null;uniqueIndex:ux_owner_contact,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single direct message. The autoincrement primary key is the
// single ordering authority for delivery: ids are strictly increasing, so id
// order and creation order never diverge for a sender/receiver pair. The
// composite (receiver_id, id) index serves the since-id polling fallback.
//
// ReadAt transitions from null to a timestamp exactly once, via the batch
// read marker; it never reverts.
type Message struct {
	ID         uint64     `json:"id"          gorm:"primaryKey;autoIncrement;index:idx_receiver_msgs,priority:2"`
	SenderID   uint64     `json:"sender_id"   gorm:"not null;index"`
	ReceiverID uint64     `json:"receiver_id" gorm:"not null;index:idx_receiver_msgs,priority:1"`
	Body       string     `json:"body"        gorm:"type:text;not null"`
	CreatedAt  time.Time  `json:"created_at"  gorm:"index"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`

	// Sender is the preloaded sender row; SenderInfo is its wire form.
	// Broadcast payloads and since-id fetches carry SenderInfo so clients
	// can render the sender without a directory lookup. The full User row
	// never serializes (it holds the email).
	Sender     User         `json:"-" gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	SenderInfo *UserSummary `json:"sender,omitempty" gorm:"-"`
}

// AttachSenderSummary mirrors a loaded Sender into SenderInfo. A zero
// Sender (not loaded) leaves SenderInfo nil, so the field is omitted.
func (m *Message) AttachSenderSummary() {
	if m.Sender.ID != 0 {
		s := m.Sender.Summary()
		m.SenderInfo = &s
	}
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// UserSummary is the hydrated sender shape embedded in delivery payloads.
type UserSummary struct {
	ID        uint64 `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Image     string `json:"image"`
}

// Summary converts a User to its payload form.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Image:     u.Image,
	}
}

// ConversationSummary is the derived (not stored) row returned by the
// conversations listing: peer info plus last message and unread count. It is
// what the conversation cache holds per user.
type ConversationSummary struct {
	Peer            UserSummary `json:"peer"`
	LastMessage     string      `json:"last_message,omitempty"`
	LastMessageID   uint64      `json:"last_message_id,omitempty"`
	LastMessageTime *time.Time  `json:"last_message_time,omitempty"`
	UnreadCount     int64       `json:"unread_count"`
}
