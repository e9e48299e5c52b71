package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/timestamppb"

	"dosewise/backend/internal/domain"
	"dosewise/backend/internal/service/schedules"
	"dosewise/backend/internal/store"
)

type fakeSchedulesService struct {
	createFn   func(ctx context.Context, in schedules.CreateScheduleInput) (domain.Schedule, error)
	updateFn   func(ctx context.Context, in schedules.UpdateScheduleInput) (domain.Schedule, error)
	getFn      func(ctx context.Context, userID string, scheduleID uuid.UUID) (domain.Schedule, error)
	listFn     func(ctx context.Context, userID string) ([]domain.Schedule, error)
	deleteFn   func(ctx context.Context, userID string, scheduleID uuid.UUID) error
	logDoseFn  func(ctx context.Context, in schedules.LogDoseInput) (schedules.LogDoseResult, error)
	listLogsFn func(ctx context.Context, userID string, scheduleID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.DoseLog, error)
	upcomingFn func(ctx context.Context, userID string, scheduleID uuid.UUID, limit int) ([]time.Time, error)
	previewFn  func(ctx context.Context, in schedules.PreviewInput) (time.Time, bool, error)
	exportFn   func(ctx context.Context, userID string) (string, error)
}

func (f *fakeSchedulesService) CreateSchedule(ctx context.Context, in schedules.CreateScheduleInput) (domain.Schedule, error) {
	if f.createFn == nil {
		panic("CreateSchedule not configured")
	}
	return f.createFn(ctx, in)
}

func (f *fakeSchedulesService) UpdateSchedule(ctx context.Context, in schedules.UpdateScheduleInput) (domain.Schedule, error) {
	if f.updateFn == nil {
		panic("UpdateSchedule not configured")
	}
	return f.updateFn(ctx, in)
}

func (f *fakeSchedulesService) GetSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) (domain.Schedule, error) {
	if f.getFn == nil {
		panic("GetSchedule not configured")
	}
	return f.getFn(ctx, userID, scheduleID)
}

func (f *fakeSchedulesService) ListSchedules(ctx context.Context, userID string) ([]domain.Schedule, error) {
	if f.listFn == nil {
		panic("ListSchedules not configured")
	}
	return f.listFn(ctx, userID)
}

func (f *fakeSchedulesService) DeleteSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) error {
	if f.deleteFn == nil {
		panic("DeleteSchedule not configured")
	}
	return f.deleteFn(ctx, userID, scheduleID)
}

func (f *fakeSchedulesService) LogDose(ctx context.Context, in schedules.LogDoseInput) (schedules.LogDoseResult, error) {
	if f.logDoseFn == nil {
		panic("LogDose not configured")
	}
	return f.logDoseFn(ctx, in)
}

func (f *fakeSchedulesService) ListDoseLogs(ctx context.Context, userID string, scheduleID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.DoseLog, error) {
	if f.listLogsFn == nil {
		panic("ListDoseLogs not configured")
	}
	return f.listLogsFn(ctx, userID, scheduleID, windowStart, windowEnd)
}

func (f *fakeSchedulesService) UpcomingDoses(ctx context.Context, userID string, scheduleID uuid.UUID, limit int) ([]time.Time, error) {
	if f.upcomingFn == nil {
		panic("UpcomingDoses not configured")
	}
	return f.upcomingFn(ctx, userID, scheduleID, limit)
}

func (f *fakeSchedulesService) PreviewNextOccurrence(ctx context.Context, in schedules.PreviewInput) (time.Time, bool, error) {
	if f.previewFn == nil {
		panic("PreviewNextOccurrence not configured")
	}
	return f.previewFn(ctx, in)
}

func (f *fakeSchedulesService) ExportCalendar(ctx context.Context, userID string) (string, error) {
	if f.exportFn == nil {
		panic("ExportCalendar not configured")
	}
	return f.exportFn(ctx, userID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestIdempotencyKey_ReadsHeadersAndTrims(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "  abc  "))
	if got := idempotencyKey(ctx); got != "abc" {
		t.Fatalf("idempotencyKey = %q, want %q", got, "abc")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-idempotency-key", "xyz"))
	if got := idempotencyKey(ctx); got != "xyz" {
		t.Fatalf("idempotencyKey = %q, want %q", got, "xyz")
	}

	if got := idempotencyKey(context.Background()); got != "" {
		t.Fatalf("idempotencyKey = %q, want empty", got)
	}
}

func TestCreateSchedule_PassesIdempotencyKeyToService(t *testing.T) {
	var got schedules.CreateScheduleInput
	next := time.Date(2026, 1, 7, 7, 0, 0, 0, time.UTC)

	srv := NewSchedulesServer(&fakeSchedulesService{
		createFn: func(ctx context.Context, in schedules.CreateScheduleInput) (domain.Schedule, error) {
			got = in
			return domain.Schedule{ID: uuid.MustParse("00000000-0000-0000-0000-000000000010"), NextOccurrence: &next}, nil
		},
	}, testLogger())

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "k1"))
	resp, err := srv.CreateSchedule(ctx, &CreateScheduleRequest{
		UserId:         "u1",
		MedicationName: "metformin",
		Times:          []string{"08:00"},
		TimeZone:       "Europe/Amsterdam",
	})
	if err != nil {
		t.Fatalf("CreateSchedule error: %v", err)
	}
	if got.IdempotencyKey != "k1" || got.Timezone != "Europe/Amsterdam" {
		t.Fatalf("input = %+v", got)
	}
	if !resp.Schedule.NextOccurrence.AsTime().Equal(next) {
		t.Fatalf("next_occurrence = %v, want %v", resp.Schedule.NextOccurrence.AsTime(), next)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "validation", err: &schedules.ValidationError{}, want: codes.InvalidArgument},
		{name: "not found", err: store.ErrNotFound, want: codes.NotFound},
		{name: "wrapped not found", err: fmt.Errorf("tx: %w", store.ErrNotFound), want: codes.NotFound},
		{name: "deadline", err: context.DeadlineExceeded, want: codes.DeadlineExceeded},
		{name: "other", err: errors.New("boom"), want: codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewSchedulesServer(&fakeSchedulesService{
				getFn: func(ctx context.Context, userID string, scheduleID uuid.UUID) (domain.Schedule, error) {
					return domain.Schedule{}, tc.err
				},
			}, testLogger())

			_, err := srv.GetSchedule(context.Background(), &GetScheduleRequest{UserId: "u1", ScheduleId: uuid.NewString()})
			if status.Code(err) != tc.want {
				t.Fatalf("code = %s, want %s", status.Code(err), tc.want)
			}
		})
	}
}

func TestCreateSchedule_ConflictIsFailedPrecondition(t *testing.T) {
	for _, target := range []error{store.ErrConflict, store.ErrIdempotencyConflict} {
		srv := NewSchedulesServer(&fakeSchedulesService{
			createFn: func(ctx context.Context, in schedules.CreateScheduleInput) (domain.Schedule, error) {
				return domain.Schedule{}, target
			},
		}, testLogger())

		_, err := srv.CreateSchedule(context.Background(), &CreateScheduleRequest{UserId: "u1"})
		if status.Code(err) != codes.FailedPrecondition {
			t.Fatalf("%v: code = %s, want %s", target, status.Code(err), codes.FailedPrecondition)
		}
	}
}

func TestLogDose_RejectsInvalidScheduleID(t *testing.T) {
	srv := NewSchedulesServer(&fakeSchedulesService{}, testLogger())

	_, err := srv.LogDose(context.Background(), &LogDoseRequest{UserId: "u1", ScheduleId: "nope"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
	_, err = srv.LogDose(context.Background(), nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func TestLogDose_MapsRequest(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000020")
	slot := time.Date(2026, 1, 7, 7, 0, 0, 0, time.UTC)
	loggedAt := time.Date(2026, 1, 7, 6, 55, 0, 0, time.UTC)

	var got schedules.LogDoseInput
	srv := NewSchedulesServer(&fakeSchedulesService{
		logDoseFn: func(ctx context.Context, in schedules.LogDoseInput) (schedules.LogDoseResult, error) {
			got = in
			return schedules.LogDoseResult{
				Log:      domain.DoseLog{ID: uuid.New(), ScheduleID: id, Status: in.Status, LoggedAt: in.LoggedAt, ScheduledFor: &slot},
				Schedule: domain.Schedule{ID: id},
			}, nil
		},
	}, testLogger())

	resp, err := srv.LogDose(context.Background(), &LogDoseRequest{
		UserId:     "u1",
		ScheduleId: id.String(),
		Status:     " Missed ",
		AdHoc:      true,
		LoggedAt:   timestamppb.New(loggedAt),
	})
	if err != nil {
		t.Fatalf("LogDose error: %v", err)
	}
	if got.Status != domain.DoseStatusMissed || !got.AdHoc || !got.LoggedAt.Equal(loggedAt) {
		t.Fatalf("input = %+v", got)
	}
	if resp.Log.ScheduledFor == nil || !resp.Log.ScheduledFor.AsTime().Equal(slot) {
		t.Fatalf("scheduled_for = %v, want %v", resp.Log.ScheduledFor, slot)
	}
	if resp.Schedule.NextOccurrence != nil {
		t.Fatalf("next_occurrence = %v, want unset", resp.Schedule.NextOccurrence)
	}
}

func TestListDoseLogs_RequiresWindow(t *testing.T) {
	srv := NewSchedulesServer(&fakeSchedulesService{}, testLogger())
	_, err := srv.ListDoseLogs(context.Background(), &ListDoseLogsRequest{UserId: "u1", ScheduleId: uuid.NewString()})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func TestPreviewNextOccurrence_NoneLeavesFieldUnset(t *testing.T) {
	srv := NewSchedulesServer(&fakeSchedulesService{
		previewFn: func(ctx context.Context, in schedules.PreviewInput) (time.Time, bool, error) {
			return time.Time{}, false, nil
		},
	}, testLogger())

	resp, err := srv.PreviewNextOccurrence(context.Background(), &PreviewNextOccurrenceRequest{Times: []string{"08:00"}})
	if err != nil {
		t.Fatalf("PreviewNextOccurrence error: %v", err)
	}
	if resp.NextOccurrence != nil {
		t.Fatalf("next_occurrence = %v, want unset", resp.NextOccurrence)
	}
}

// Exercises the hand-written service descriptor and the JSON codec over a real
// connection.
func TestSchedulesService_OverBufconn(t *testing.T) {
	next := time.Date(2026, 1, 7, 7, 0, 0, 0, time.UTC)
	ref := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)

	var gotRef time.Time
	var gotKey string
	fake := &fakeSchedulesService{
		previewFn: func(ctx context.Context, in schedules.PreviewInput) (time.Time, bool, error) {
			gotRef = in.Reference
			return next, true, nil
		},
		deleteFn: func(ctx context.Context, userID string, scheduleID uuid.UUID) error {
			return store.ErrNotFound
		},
		createFn: func(ctx context.Context, in schedules.CreateScheduleInput) (domain.Schedule, error) {
			gotKey = in.IdempotencyKey
			return domain.Schedule{ID: uuid.New(), UserID: in.UserID, Days: in.Days, Times: in.Times}, nil
		},
	}

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterSchedulesServiceServer(server, NewSchedulesServer(fake, testLogger()))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	client := NewSchedulesClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.PreviewNextOccurrence(ctx, &PreviewNextOccurrenceRequest{
		Days:      map[string]bool{"monday": true},
		Times:     []string{"08:00"},
		Reference: timestamppb.New(ref),
	})
	if err != nil {
		t.Fatalf("PreviewNextOccurrence error: %v", err)
	}
	if !gotRef.Equal(ref) {
		t.Fatalf("reference = %v, want %v", gotRef, ref)
	}
	if resp.NextOccurrence == nil || !resp.NextOccurrence.AsTime().Equal(next) {
		t.Fatalf("next_occurrence = %v, want %v", resp.NextOccurrence, next)
	}

	_, err = client.DeleteSchedule(ctx, &DeleteScheduleRequest{UserId: "u1", ScheduleId: uuid.NewString()})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.NotFound)
	}

	created, err := client.CreateSchedule(
		metadata.AppendToOutgoingContext(ctx, "idempotency-key", "k9"),
		&CreateScheduleRequest{UserId: "u1", MedicationName: "m", Days: map[string]bool{"friday": true}, Times: []string{"09:00"}},
	)
	if err != nil {
		t.Fatalf("CreateSchedule error: %v", err)
	}
	if gotKey != "k9" {
		t.Fatalf("idempotency key = %q, want %q", gotKey, "k9")
	}
	if !created.Schedule.Days["friday"] || len(created.Schedule.Times) != 1 {
		t.Fatalf("schedule = %+v", created.Schedule)
	}
}
