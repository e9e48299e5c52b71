package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type DoseStatus string

const (
	DoseStatusTaken  DoseStatus = "taken"
	DoseStatusMissed DoseStatus = "missed"
)

func (s DoseStatus) Valid() bool {
	return s == DoseStatusTaken || s == DoseStatusMissed
}

// DoseLog records one intake (or a skipped intake) against a schedule. ScheduledFor is
// the slot that was consumed, nil for ad-hoc logs.
type DoseLog struct {
	bun.BaseModel `bun:"table:dose_logs"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	ScheduleID   uuid.UUID  `bun:"schedule_id,notnull,type:uuid"`
	UserID       string     `bun:"user_id,notnull"`
	Status       DoseStatus `bun:"status,notnull"`
	LoggedAt     time.Time  `bun:"logged_at,notnull"`
	ScheduledFor *time.Time `bun:"scheduled_for"`
	Notes        string     `bun:"notes"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
}

func (l *DoseLog) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); !ok {
		return nil
	}
	if l.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		l.ID = id
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return nil
}
