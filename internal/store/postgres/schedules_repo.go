package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"dosewise/backend/internal/domain"
	"dosewise/backend/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	scheduleMedicationKey = "schedules_user_medication_key"
)

type ScheduleRepo struct {
	db *bun.DB
}

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

type scheduleTx struct {
	tx bun.Tx
}

func (r *ScheduleRepo) CreateSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	var out domain.Schedule
	err := r.inUserTx(ctx, s.UserID, func(ctx context.Context, tx bun.Tx) error {
		created, err := insertSchedule(ctx, tx, s)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Schedule{}, err
	}
	return out, nil
}

func (r *ScheduleRepo) GetSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) (domain.Schedule, error) {
	return getSchedule(ctx, r.db, userID, scheduleID)
}

func (r *ScheduleRepo) ListSchedules(ctx context.Context, userID string) ([]domain.Schedule, error) {
	var rows []domain.Schedule
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		OrderExpr("next_occurrence ASC NULLS LAST").
		OrderExpr("medication_name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) DeleteSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) error {
	return r.inUserTx(ctx, userID, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*domain.Schedule)(nil)).
			Where("user_id = ?", userID).
			Where("id = ?", scheduleID).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (r *ScheduleRepo) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	var rows []domain.Schedule
	q := r.db.NewSelect().
		Model(&rows).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("next_occurrence IS NULL").WhereOr("next_occurrence <= ?", now.UTC())
		}).
		OrderExpr("next_occurrence ASC NULLS LAST")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) SetNextOccurrence(ctx context.Context, scheduleID uuid.UUID, prev, next *time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*domain.Schedule)(nil)).
		Set("next_occurrence = ?", utcPtr(next)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", scheduleID).
		Where("next_occurrence IS NOT DISTINCT FROM ?", utcPtr(prev)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *ScheduleRepo) ListDoseLogs(ctx context.Context, userID string, scheduleID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.DoseLog, error) {
	var rows []domain.DoseLog
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("schedule_id = ?", scheduleID).
		Where("logged_at >= ?", windowStart).
		Where("logged_at < ?", windowEnd).
		OrderExpr("logged_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) InUserTransaction(ctx context.Context, userID string, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	return r.inUserTx(ctx, userID, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, scheduleTx{tx: tx})
	})
}

// inUserTx serialises writes for one user with a transaction-scoped advisory lock.
func (r *ScheduleRepo) inUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockUserSchedules(ctx, tx, userID); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func lockUserSchedules(ctx context.Context, tx bun.Tx, userID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", userID).Exec(ctx)
	return err
}

func (r scheduleTx) GetSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) (domain.Schedule, error) {
	return getSchedule(ctx, r.tx, userID, scheduleID)
}

func (r scheduleTx) UpdateSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	m := s
	m.NextOccurrence = utcPtr(s.NextOccurrence)
	res, err := r.tx.NewUpdate().
		Model(&m).
		Column("medication_name", "dosage", "notes", "days", "times", "timezone", "next_occurrence", "updated_at").
		Where("user_id = ?", s.UserID).
		Where("id = ?", s.ID).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err, scheduleMedicationKey) {
			return domain.Schedule{}, store.ErrConflict
		}
		return domain.Schedule{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Schedule{}, err
	}
	if affected == 0 {
		return domain.Schedule{}, store.ErrNotFound
	}
	return m, nil
}

func (r scheduleTx) SetNextOccurrence(ctx context.Context, scheduleID uuid.UUID, next *time.Time) error {
	_, err := r.tx.NewUpdate().
		Model((*domain.Schedule)(nil)).
		Set("next_occurrence = ?", utcPtr(next)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", scheduleID).
		Exec(ctx)
	return err
}

// InsertDoseLog reports created=false when a log with the same id already exists and
// matches l, which makes retried requests idempotent.
func (r scheduleTx) InsertDoseLog(ctx context.Context, l domain.DoseLog) (domain.DoseLog, bool, error) {
	m := l
	m.LoggedAt = l.LoggedAt.UTC()
	m.ScheduledFor = utcPtr(l.ScheduledFor)

	res, err := r.tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.DoseLog{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.DoseLog{}, false, err
	}
	if affected > 0 {
		return m, true, nil
	}

	var existing domain.DoseLog
	err = r.tx.NewSelect().
		Model(&existing).
		Where("id = ?", m.ID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.DoseLog{}, false, err
	}
	if existing.UserID != l.UserID ||
		existing.ScheduleID != l.ScheduleID ||
		existing.Status != l.Status ||
		existing.Notes != l.Notes {
		return domain.DoseLog{}, false, store.ErrIdempotencyConflict
	}
	return existing, false, nil
}

type selector interface {
	NewSelect() *bun.SelectQuery
}

func getSchedule(ctx context.Context, db selector, userID string, scheduleID uuid.UUID) (domain.Schedule, error) {
	var s domain.Schedule
	err := db.NewSelect().
		Model(&s).
		Where("user_id = ?", userID).
		Where("id = ?", scheduleID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Schedule{}, store.ErrNotFound
		}
		return domain.Schedule{}, err
	}
	return s, nil
}

func insertSchedule(ctx context.Context, tx bun.Tx, s domain.Schedule) (domain.Schedule, error) {
	m := s
	m.NextOccurrence = utcPtr(s.NextOccurrence)

	res, err := tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err, scheduleMedicationKey) {
			return domain.Schedule{}, store.ErrConflict
		}
		return domain.Schedule{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Schedule{}, err
	}
	if affected > 0 {
		return m, nil
	}

	var existing domain.Schedule
	err = tx.NewSelect().
		Model(&existing).
		Where("id = ?", m.ID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Schedule{}, err
	}
	if existing.UserID != s.UserID ||
		existing.MedicationName != s.MedicationName ||
		existing.Timezone != s.Timezone ||
		!sameStrings(existing.Times, s.Times) ||
		!sameDays(existing.Days, s.Days) {
		return domain.Schedule{}, store.ErrIdempotencyConflict
	}
	return existing, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameDays(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
