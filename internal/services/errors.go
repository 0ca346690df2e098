// Package services defines the business logic for direct messages, history,
// files, and accounts. This file centralizes the service-level error values so
// that they are returned consistently by service methods and checked by callers
// with errors.Is.
//
// Services wrap these sentinels with a reason (fmt.Errorf("%w: ...")).
// Translation into HTTP status codes and realtime error frames is done by the
// transport layers.
package services

import "errors"

var (
	// ErrInvalidRequest covers malformed input: empty or identical parties,
	// empty body without attachment, unknown recipient, unusable file reference.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrForbidden is returned when the requester is not allowed to act on the
	// resource (reading another pair's history, deleting someone else's file).
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the resource was never created.
	ErrNotFound = errors.New("not found")

	// ErrGone indicates the resource existed and was deleted.
	ErrGone = errors.New("gone")

	// ErrConflict is returned when a unique resource already exists, or when
	// an idempotency key is reused for a message with different content.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized is returned on credential mismatch.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPersistence wraps any storage failure. Nothing was committed and the
	// caller may retry.
	ErrPersistence = errors.New("persistence failure")
)
