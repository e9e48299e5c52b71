package schedules

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"dosewise/backend/internal/domain"
	"dosewise/backend/internal/export/ics"
	"dosewise/backend/internal/store"
)

const (
	maxMedicationNameLen = 200
	maxIdempotencyKeyLen = 256
	defaultUpcomingLimit = 10
	maxUpcomingLimit     = 100
	defaultRefreshBatch  = 500
	fallbackTimezone     = "UTC"
)

// Outcomes reported to an Observer for every next-occurrence computation.
const (
	OutcomeFound = "found"
	OutcomeNone  = "none"
	OutcomeError = "error"
)

type ValidationError struct {
	msg string
	err error
}

func (e *ValidationError) Error() string {
	return e.msg
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// asValidation turns calculator input errors into validation errors and passes anything
// else through.
func asValidation(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range []error{
		domain.ErrInvalidPattern,
		domain.ErrInvalidTimeValue,
		domain.ErrInvalidWindow,
		domain.ErrInvalidTimezone,
	} {
		if errors.Is(err, target) {
			return &ValidationError{msg: err.Error(), err: err}
		}
	}
	return err
}

// Observer receives the outcome of every next-occurrence computation.
type Observer interface {
	NextOccurrenceComputed(outcome string)
}

type nopObserver struct{}

func (nopObserver) NextOccurrenceComputed(string) {}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithHorizonDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.horizonDays = days
		}
	}
}

func WithDefaultTimezone(tz string) Option {
	return func(s *Service) {
		if tz = strings.TrimSpace(tz); tz != "" {
			s.defaultTimezone = tz
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithRefreshBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.refreshBatch = n
		}
	}
}

type Service struct {
	repo            store.ScheduleRepository
	now             func() time.Time
	horizonDays     int
	defaultTimezone string
	log             *slog.Logger
	observer        Observer
	refreshBatch    int
}

func NewService(repo store.ScheduleRepository, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		now:             time.Now,
		horizonDays:     domain.DefaultHorizonDays,
		defaultTimezone: fallbackTimezone,
		log:             slog.Default(),
		observer:        nopObserver{},
		refreshBatch:    defaultRefreshBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "service.schedules"))
	return s
}

// computeNext searches strictly after ref and reports the outcome to the observer.
func (s *Service) computeNext(sched domain.Schedule, ref time.Time) (*time.Time, error) {
	next, err := sched.ComputeNext(ref, s.horizonDays)
	switch {
	case err != nil:
		s.observer.NextOccurrenceComputed(OutcomeError)
		return nil, asValidation(err)
	case next == nil:
		s.observer.NextOccurrenceComputed(OutcomeNone)
	default:
		s.observer.NextOccurrenceComputed(OutcomeFound)
	}
	return next, nil
}

type CreateScheduleInput struct {
	UserID         string
	MedicationName string
	Dosage         string
	Notes          string
	Days           map[string]bool
	Times          []string
	Timezone       string
	IdempotencyKey string
}

func (s *Service) CreateSchedule(ctx context.Context, in CreateScheduleInput) (domain.Schedule, error) {
	if in.UserID == "" {
		return domain.Schedule{}, validationError("user_id is required")
	}

	sched := domain.Schedule{UserID: in.UserID}
	if err := s.applyDefinition(&sched, in.MedicationName, in.Dosage, in.Notes, in.Days, in.Times, in.Timezone); err != nil {
		return domain.Schedule{}, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > maxIdempotencyKeyLen {
			return domain.Schedule{}, validationError("idempotency_key too long")
		}
		sched.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("dosewise:create_schedule:"+in.UserID+":"+key))
	}

	next, err := s.computeNext(sched, s.now())
	if err != nil {
		return domain.Schedule{}, err
	}
	sched.NextOccurrence = next

	return s.repo.CreateSchedule(ctx, sched)
}

type UpdateScheduleInput struct {
	UserID         string
	ScheduleID     uuid.UUID
	MedicationName string
	Dosage         string
	Notes          string
	Days           map[string]bool
	Times          []string
	Timezone       string
}

// UpdateSchedule replaces the schedule definition. The pattern may have changed, so the
// stored slot is discarded and the search restarts from now.
func (s *Service) UpdateSchedule(ctx context.Context, in UpdateScheduleInput) (domain.Schedule, error) {
	if in.UserID == "" {
		return domain.Schedule{}, validationError("user_id is required")
	}
	if in.ScheduleID == uuid.Nil {
		return domain.Schedule{}, validationError("schedule_id is required")
	}

	var updated domain.Schedule
	err := s.repo.InUserTransaction(ctx, in.UserID, func(ctx context.Context, tx store.ScheduleTx) error {
		sched, err := tx.GetSchedule(ctx, in.UserID, in.ScheduleID)
		if err != nil {
			return err
		}
		if err := s.applyDefinition(&sched, in.MedicationName, in.Dosage, in.Notes, in.Days, in.Times, in.Timezone); err != nil {
			return err
		}
		next, err := s.computeNext(sched, s.now())
		if err != nil {
			return err
		}
		sched.NextOccurrence = next

		updated, err = tx.UpdateSchedule(ctx, sched)
		return err
	})
	if err != nil {
		return domain.Schedule{}, err
	}
	return updated, nil
}

func (s *Service) applyDefinition(sched *domain.Schedule, name, dosage, notes string, days map[string]bool, times []string, timezone string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return validationError("medication_name is required")
	}
	if len(name) > maxMedicationNameLen {
		return validationError("medication_name too long")
	}

	tz := strings.TrimSpace(timezone)
	if tz == "" {
		tz = s.defaultTimezone
	}
	if _, err := domain.LoadLocation(tz); err != nil {
		return asValidation(err)
	}

	p, err := domain.ParsePattern(days, times)
	if err != nil {
		return asValidation(err)
	}

	sched.MedicationName = name
	sched.Dosage = strings.TrimSpace(dosage)
	sched.Notes = notes
	sched.Days = p.DayMap()
	sched.Times = p.TimeStrings()
	sched.Timezone = tz
	return nil
}

func (s *Service) GetSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) (domain.Schedule, error) {
	if userID == "" {
		return domain.Schedule{}, validationError("user_id is required")
	}
	if scheduleID == uuid.Nil {
		return domain.Schedule{}, validationError("schedule_id is required")
	}
	return s.repo.GetSchedule(ctx, userID, scheduleID)
}

func (s *Service) ListSchedules(ctx context.Context, userID string) ([]domain.Schedule, error) {
	if userID == "" {
		return nil, validationError("user_id is required")
	}
	return s.repo.ListSchedules(ctx, userID)
}

func (s *Service) DeleteSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) error {
	if userID == "" {
		return validationError("user_id is required")
	}
	if scheduleID == uuid.Nil {
		return validationError("schedule_id is required")
	}
	return s.repo.DeleteSchedule(ctx, userID, scheduleID)
}

type LogDoseInput struct {
	UserID     string
	ScheduleID uuid.UUID
	Status     domain.DoseStatus
	Notes      string
	// AdHoc marks an unscheduled intake. It never consumes the stored slot.
	AdHoc bool
	// LoggedAt defaults to now.
	LoggedAt       time.Time
	IdempotencyKey string
}

type LogDoseResult struct {
	Log      domain.DoseLog
	Schedule domain.Schedule
	// Replayed is true when the idempotency key matched an existing log.
	Replayed bool
}

// LogDose records an intake and advances the schedule. A scheduled log consumes the
// stored slot when it is still ahead, so the next search resumes after that slot;
// otherwise the search resumes after now.
func (s *Service) LogDose(ctx context.Context, in LogDoseInput) (LogDoseResult, error) {
	if in.UserID == "" {
		return LogDoseResult{}, validationError("user_id is required")
	}
	if in.ScheduleID == uuid.Nil {
		return LogDoseResult{}, validationError("schedule_id is required")
	}
	status := in.Status
	if status == "" {
		status = domain.DoseStatusTaken
	}
	if !status.Valid() {
		return LogDoseResult{}, validationError("invalid status")
	}

	now := s.now()
	loggedAt := in.LoggedAt
	if loggedAt.IsZero() {
		loggedAt = now
	}
	if loggedAt.After(now.Add(time.Minute)) {
		return LogDoseResult{}, validationError("logged_at must not be in the future")
	}

	entry := domain.DoseLog{
		ScheduleID: in.ScheduleID,
		UserID:     in.UserID,
		Status:     status,
		LoggedAt:   loggedAt.UTC(),
		Notes:      in.Notes,
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > maxIdempotencyKeyLen {
			return LogDoseResult{}, validationError("idempotency_key too long")
		}
		entry.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("dosewise:log_dose:"+in.UserID+":"+key))
	}

	var res LogDoseResult
	err := s.repo.InUserTransaction(ctx, in.UserID, func(ctx context.Context, tx store.ScheduleTx) error {
		sched, err := tx.GetSchedule(ctx, in.UserID, in.ScheduleID)
		if err != nil {
			return err
		}

		ref, consumed := domain.LogReference(now, sched.NextOccurrence, in.AdHoc)
		if consumed {
			slot := sched.NextOccurrence.UTC()
			entry.ScheduledFor = &slot
		}
		next, err := s.computeNext(sched, ref)
		if err != nil {
			return err
		}

		logged, created, err := tx.InsertDoseLog(ctx, entry)
		if err != nil {
			return err
		}
		if !created {
			res = LogDoseResult{Log: logged, Schedule: sched, Replayed: true}
			return nil
		}

		if err := tx.SetNextOccurrence(ctx, sched.ID, next); err != nil {
			return err
		}
		sched.NextOccurrence = next
		res = LogDoseResult{Log: logged, Schedule: sched}
		return nil
	})
	if err != nil {
		return LogDoseResult{}, err
	}
	return res, nil
}

func (s *Service) ListDoseLogs(ctx context.Context, userID string, scheduleID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.DoseLog, error) {
	if userID == "" {
		return nil, validationError("user_id is required")
	}
	if scheduleID == uuid.Nil {
		return nil, validationError("schedule_id is required")
	}

	start := windowStart.UTC()
	end := windowEnd.UTC()
	if end.Equal(start) || end.Before(start) {
		return nil, validationError("window_end must be after window_start")
	}

	return s.repo.ListDoseLogs(ctx, userID, scheduleID, start, end)
}

// UpcomingDoses lists the next dose slots of a schedule from now, within the horizon.
func (s *Service) UpcomingDoses(ctx context.Context, userID string, scheduleID uuid.UUID, limit int) ([]time.Time, error) {
	if limit == 0 {
		limit = defaultUpcomingLimit
	}
	if limit < 0 || limit > maxUpcomingLimit {
		return nil, validationError("limit must be between 1 and 100")
	}

	sched, err := s.GetSchedule(ctx, userID, scheduleID)
	if err != nil {
		return nil, err
	}
	p, err := sched.Pattern()
	if err != nil {
		return nil, asValidation(err)
	}
	occs, err := domain.UpcomingOccurrences(p, sched.Window(s.now(), s.horizonDays), limit)
	if err != nil {
		return nil, asValidation(err)
	}
	for i := range occs {
		occs[i] = occs[i].UTC()
	}
	return occs, nil
}

// RefreshDue advances schedules whose stored slot has passed without a log. It
// returns the number of schedules updated.
func (s *Service) RefreshDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.ListDueSchedules(ctx, now, s.refreshBatch)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, sched := range due {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		next, err := s.computeNext(sched, now)
		if err != nil {
			s.log.Warn(
				"schedule refresh skipped",
				slog.String("schedule_id", sched.ID.String()),
				slog.String("user_id", sched.UserID),
				slog.Any("err", err),
			)
			continue
		}
		if sameInstant(next, sched.NextOccurrence) {
			continue
		}

		ok, err := s.repo.SetNextOccurrence(ctx, sched.ID, sched.NextOccurrence, next)
		if err != nil {
			return updated, err
		}
		if !ok {
			s.log.Debug("schedule changed during refresh", slog.String("schedule_id", sched.ID.String()))
			continue
		}
		updated++
	}
	return updated, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type PreviewInput struct {
	Days     map[string]bool
	Times    []string
	Timezone string
	// Reference defaults to now.
	Reference time.Time
	// HorizonDays defaults to the configured horizon.
	HorizonDays int
}

// PreviewNextOccurrence runs the calculator on an unsaved pattern. ok is false when no
// slot falls inside the horizon.
func (s *Service) PreviewNextOccurrence(ctx context.Context, in PreviewInput) (next time.Time, ok bool, err error) {
	p, err := domain.ParsePattern(in.Days, in.Times)
	if err != nil {
		s.observer.NextOccurrenceComputed(OutcomeError)
		return time.Time{}, false, asValidation(err)
	}

	w := domain.SearchWindow{
		Reference:   in.Reference,
		Timezone:    strings.TrimSpace(in.Timezone),
		HorizonDays: in.HorizonDays,
	}
	if w.Reference.IsZero() {
		w.Reference = s.now()
	}
	if w.Timezone == "" {
		w.Timezone = s.defaultTimezone
	}
	if w.HorizonDays == 0 {
		w.HorizonDays = s.horizonDays
	}

	next, ok, err = domain.NextOccurrence(p, w)
	switch {
	case err != nil:
		s.observer.NextOccurrenceComputed(OutcomeError)
		return time.Time{}, false, asValidation(err)
	case !ok:
		s.observer.NextOccurrenceComputed(OutcomeNone)
	default:
		s.observer.NextOccurrenceComputed(OutcomeFound)
	}
	return next, ok, nil
}

// ExportCalendar renders every schedule of the user that has an upcoming slot as an
// iCalendar document.
func (s *Service) ExportCalendar(ctx context.Context, userID string) (string, error) {
	list, err := s.ListSchedules(ctx, userID)
	if err != nil {
		return "", err
	}
	cal, err := ics.Calendar(list, s.now())
	if err != nil {
		return "", asValidation(err)
	}
	return cal, nil
}
