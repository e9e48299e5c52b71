package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dosewise/backend/internal/domain"
)

type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error)
	GetSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) (domain.Schedule, error)
	ListSchedules(ctx context.Context, userID string) ([]domain.Schedule, error)
	DeleteSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) error

	// ListDueSchedules returns schedules whose stored slot is at or before now, oldest first,
	// followed by schedules with no slot.
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	// SetNextOccurrence replaces next_occurrence only while it still equals prev. It
	// reports whether the row was updated.
	SetNextOccurrence(ctx context.Context, scheduleID uuid.UUID, prev, next *time.Time) (bool, error)

	ListDoseLogs(ctx context.Context, userID string, scheduleID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.DoseLog, error)

	InUserTransaction(ctx context.Context, userID string, fn func(ctx context.Context, tx ScheduleTx) error) error
}

// ScheduleTx is the set of operations available inside a per-user transaction.
type ScheduleTx interface {
	GetSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) (domain.Schedule, error)
	UpdateSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error)
	SetNextOccurrence(ctx context.Context, scheduleID uuid.UUID, next *time.Time) error
	InsertDoseLog(ctx context.Context, l domain.DoseLog) (log domain.DoseLog, created bool, err error)
}
