// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
// The messenger does not own user accounts; these helpers cover the directory
// surface the delivery subsystem needs (receiver validation, sender
// hydration, contact search) plus a seeding hook for the identity system.
package repo

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/mvasilak/go-messenger-backend/internal/domain"
)

// nameCaser normalizes stored display-name casing ("alice" → "Alice").
var nameCaser = cases.Title(language.English)

// CreateUser inserts a directory record, title-casing the display name parts.
// Intended for seeding and for the identity system's sync hook.
func CreateUser(ctx context.Context, db *gorm.DB, username, firstName, lastName, email, image string) (*domain.User, error) {
	u := &domain.User{
		Username:  strings.ToLower(strings.TrimSpace(username)),
		FirstName: nameCaser.String(strings.TrimSpace(firstName)),
		LastName:  nameCaser.String(strings.TrimSpace(lastName)),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Image:     image,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id uint64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UserExists reports whether a user id is present in the directory.
func UserExists(ctx context.Context, db *gorm.DB, id uint64) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// SearchUsers matches username, first/last name, or email against term,
// excluding the searching user, capped at limit.
func SearchUsers(ctx context.Context, db *gorm.DB, excludeID uint64, term string, limit int) ([]domain.User, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []domain.User{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	like := "%" + term + "%"
	var out []domain.User
	err := db.WithContext(ctx).
		Where("id != ?", excludeID).
		Where("username LIKE ? OR first_name LIKE ? OR last_name LIKE ? OR email LIKE ?",
			like, like, like, like).
		Limit(limit).
		Find(&out).Error
	return out, err
}
