// Package store defines the persistence contracts for schedules and dose logs.
package store

import "errors"

var (
	// ErrConflict is returned when a user already has a schedule for the same medication.
	ErrConflict = errors.New("medication already scheduled")
	// ErrNotFound is returned for schedules that do not exist or belong to another user.
	ErrNotFound = errors.New("schedule not found")
	// ErrIdempotencyConflict is returned when an idempotency key is reused with a
	// different schedule definition or dose log.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different request")
)
