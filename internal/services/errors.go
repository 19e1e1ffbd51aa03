// Package services defines the business logic for message delivery, long
// polling, and conversation management. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

var (
	// ErrEmptyBody is returned when a message body is empty after trimming.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrBodyTooLong is returned when a message body exceeds the maximum
	// configured rune length.
	ErrBodyTooLong = errors.New("message body too long")

	// ErrSelfMessage is returned when a user addresses a message or a
	// conversation to themselves.
	ErrSelfMessage = errors.New("cannot message yourself")

	// ErrReceiverNotFound indicates that the addressed receiver does not
	// exist in the user directory.
	ErrReceiverNotFound = errors.New("receiver not found")

	// ErrUserNotFound indicates that the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")
)
