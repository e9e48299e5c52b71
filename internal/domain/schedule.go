package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Schedule is a medication intake schedule. Days and Times hold the recurrence pattern
// in its stored form; NextOccurrence is the upcoming dose slot, nil when none falls
// inside the lookahead.
type Schedule struct {
	bun.BaseModel `bun:"table:schedules"`

	ID             uuid.UUID       `bun:"id,pk,type:uuid"`
	UserID         string          `bun:"user_id,notnull"`
	MedicationName string          `bun:"medication_name,notnull"`
	Dosage         string          `bun:"dosage"`
	Notes          string          `bun:"notes"`
	Days           map[string]bool `bun:"days,type:jsonb,notnull"`
	Times          []string        `bun:"times,array,notnull"`
	Timezone       string          `bun:"timezone,notnull"`
	NextOccurrence *time.Time      `bun:"next_occurrence"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull"`
}

func (s *Schedule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

// Pattern parses the stored days and times.
func (s Schedule) Pattern() (WeeklyPattern, error) {
	return ParsePattern(s.Days, s.Times)
}

// Window is the search window for this schedule anchored at ref.
func (s Schedule) Window(ref time.Time, horizonDays int) SearchWindow {
	return SearchWindow{Reference: ref, Timezone: s.Timezone, HorizonDays: horizonDays}
}

// ComputeNext recomputes the upcoming dose slot strictly after ref.
func (s Schedule) ComputeNext(ref time.Time, horizonDays int) (*time.Time, error) {
	p, err := s.Pattern()
	if err != nil {
		return nil, err
	}
	next, ok, err := NextOccurrence(p, s.Window(ref, horizonDays))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	utc := next.UTC()
	return &utc, nil
}
