// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency represents a recorded result of a previously processed send,
// keyed by (user_id, peer_id, key). It enables safe retries for the send
// endpoint by returning the originally persisted message without re-executing
// delivery side effects.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    uint64    `gorm:"not null;uniqueIndex:ux_user_peer_key,priority:1"`
	PeerID    uint64    `gorm:"not null;uniqueIndex:ux_user_peer_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_peer_key,priority:3"`
	MessageID uint64    `gorm:"not null"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
