package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"dosewise/backend/internal/domain"
	"dosewise/backend/internal/service/schedules"
	"dosewise/backend/internal/store"
)

type SchedulesServer struct {
	svc schedulesService
	log *slog.Logger
}

var _ SchedulesServiceServer = (*SchedulesServer)(nil)

type schedulesService interface {
	CreateSchedule(ctx context.Context, in schedules.CreateScheduleInput) (domain.Schedule, error)
	UpdateSchedule(ctx context.Context, in schedules.UpdateScheduleInput) (domain.Schedule, error)
	GetSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) (domain.Schedule, error)
	ListSchedules(ctx context.Context, userID string) ([]domain.Schedule, error)
	DeleteSchedule(ctx context.Context, userID string, scheduleID uuid.UUID) error
	LogDose(ctx context.Context, in schedules.LogDoseInput) (schedules.LogDoseResult, error)
	ListDoseLogs(ctx context.Context, userID string, scheduleID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.DoseLog, error)
	UpcomingDoses(ctx context.Context, userID string, scheduleID uuid.UUID, limit int) ([]time.Time, error)
	PreviewNextOccurrence(ctx context.Context, in schedules.PreviewInput) (time.Time, bool, error)
	ExportCalendar(ctx context.Context, userID string) (string, error)
}

func NewSchedulesServer(svc schedulesService, log *slog.Logger) *SchedulesServer {
	if log == nil {
		log = slog.Default()
	}
	return &SchedulesServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.schedules")),
	}
}

func (s *SchedulesServer) CreateSchedule(ctx context.Context, req *CreateScheduleRequest) (*CreateScheduleResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateSchedule"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	sched, err := s.svc.CreateSchedule(ctx, schedules.CreateScheduleInput{
		UserID:         req.UserId,
		MedicationName: req.MedicationName,
		Dosage:         req.Dosage,
		Notes:          req.Notes,
		Days:           req.Days,
		Times:          req.Times,
		Timezone:       req.TimeZone,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Info("schedule create conflict", slog.String("user_id", req.UserId), slog.String("medication_name", req.MedicationName))
			return nil, status.Error(codes.FailedPrecondition, "You already have a schedule for this medication. Edit it instead.")
		}
		if errors.Is(err, store.ErrIdempotencyConflict) {
			log.Info("schedule create idempotency conflict", slog.String("user_id", req.UserId))
			return nil, status.Error(codes.FailedPrecondition, "This request key was already used for a different schedule. Try again.")
		}
		return nil, s.fail(log, "schedule create failed", err, slog.String("user_id", req.UserId))
	}

	log.Info(
		"schedule created",
		slog.String("schedule_id", sched.ID.String()),
		slog.String("user_id", sched.UserID),
		slog.Any("next_occurrence", sched.NextOccurrence),
	)

	return &CreateScheduleResponse{Schedule: toProtoSchedule(sched)}, nil
}

func (s *SchedulesServer) UpdateSchedule(ctx context.Context, req *UpdateScheduleRequest) (*UpdateScheduleResponse, error) {
	log := s.log.With(slog.String("rpc", "UpdateSchedule"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.ScheduleId)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("user_id", req.UserId))
		return nil, status.Error(codes.InvalidArgument, "schedule_id must be a UUID")
	}

	sched, err := s.svc.UpdateSchedule(ctx, schedules.UpdateScheduleInput{
		UserID:         req.UserId,
		ScheduleID:     id,
		MedicationName: req.MedicationName,
		Dosage:         req.Dosage,
		Notes:          req.Notes,
		Days:           req.Days,
		Times:          req.Times,
		Timezone:       req.TimeZone,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Info("schedule update conflict", slog.String("schedule_id", id.String()), slog.String("user_id", req.UserId))
			return nil, status.Error(codes.FailedPrecondition, "You already have a schedule for this medication.")
		}
		return nil, s.fail(log, "schedule update failed", err, slog.String("schedule_id", id.String()), slog.String("user_id", req.UserId))
	}

	log.Info(
		"schedule updated",
		slog.String("schedule_id", sched.ID.String()),
		slog.String("user_id", sched.UserID),
		slog.Any("next_occurrence", sched.NextOccurrence),
	)

	return &UpdateScheduleResponse{Schedule: toProtoSchedule(sched)}, nil
}

func (s *SchedulesServer) GetSchedule(ctx context.Context, req *GetScheduleRequest) (*GetScheduleResponse, error) {
	log := s.log.With(slog.String("rpc", "GetSchedule"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.ScheduleId)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("user_id", req.UserId))
		return nil, status.Error(codes.InvalidArgument, "schedule_id must be a UUID")
	}

	sched, err := s.svc.GetSchedule(ctx, req.UserId, id)
	if err != nil {
		return nil, s.fail(log, "schedule get failed", err, slog.String("schedule_id", id.String()), slog.String("user_id", req.UserId))
	}
	return &GetScheduleResponse{Schedule: toProtoSchedule(sched)}, nil
}

func (s *SchedulesServer) ListSchedules(ctx context.Context, req *ListSchedulesRequest) (*ListSchedulesResponse, error) {
	log := s.log.With(slog.String("rpc", "ListSchedules"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	list, err := s.svc.ListSchedules(ctx, req.UserId)
	if err != nil {
		return nil, s.fail(log, "schedules list failed", err, slog.String("user_id", req.UserId))
	}

	out := make([]*Schedule, 0, len(list))
	for _, sched := range list {
		out = append(out, toProtoSchedule(sched))
	}

	log.Debug("schedules listed", slog.String("user_id", req.UserId), slog.Int("count", len(out)))
	return &ListSchedulesResponse{Schedules: out}, nil
}

func (s *SchedulesServer) DeleteSchedule(ctx context.Context, req *DeleteScheduleRequest) (*DeleteScheduleResponse, error) {
	log := s.log.With(slog.String("rpc", "DeleteSchedule"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.ScheduleId)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("user_id", req.UserId))
		return nil, status.Error(codes.InvalidArgument, "schedule_id must be a UUID")
	}

	if err := s.svc.DeleteSchedule(ctx, req.UserId, id); err != nil {
		return nil, s.fail(log, "schedule delete failed", err, slog.String("schedule_id", id.String()), slog.String("user_id", req.UserId))
	}

	log.Info("schedule deleted", slog.String("schedule_id", id.String()), slog.String("user_id", req.UserId))
	return &DeleteScheduleResponse{}, nil
}

func (s *SchedulesServer) LogDose(ctx context.Context, req *LogDoseRequest) (*LogDoseResponse, error) {
	log := s.log.With(slog.String("rpc", "LogDose"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.ScheduleId)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("user_id", req.UserId))
		return nil, status.Error(codes.InvalidArgument, "schedule_id must be a UUID")
	}

	var loggedAt time.Time
	if req.LoggedAt != nil {
		loggedAt = req.LoggedAt.AsTime()
	}

	res, err := s.svc.LogDose(ctx, schedules.LogDoseInput{
		UserID:         req.UserId,
		ScheduleID:     id,
		Status:         domain.DoseStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Notes:          req.Notes,
		AdHoc:          req.AdHoc,
		LoggedAt:       loggedAt,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		if errors.Is(err, store.ErrIdempotencyConflict) {
			log.Info("dose log idempotency conflict", slog.String("user_id", req.UserId))
			return nil, status.Error(codes.FailedPrecondition, "This request key was already used for a different dose. Try again.")
		}
		return nil, s.fail(log, "dose log failed", err, slog.String("schedule_id", id.String()), slog.String("user_id", req.UserId))
	}

	log.Info(
		"dose logged",
		slog.String("log_id", res.Log.ID.String()),
		slog.String("schedule_id", id.String()),
		slog.String("user_id", req.UserId),
		slog.String("status", string(res.Log.Status)),
		slog.Bool("replayed", res.Replayed),
		slog.Any("next_occurrence", res.Schedule.NextOccurrence),
	)

	return &LogDoseResponse{
		Log:      toProtoDoseLog(res.Log),
		Schedule: toProtoSchedule(res.Schedule),
	}, nil
}

func (s *SchedulesServer) ListDoseLogs(ctx context.Context, req *ListDoseLogsRequest) (*ListDoseLogsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListDoseLogs"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.WindowStart == nil || req.WindowEnd == nil {
		log.Warn("invalid request", slog.String("reason", "missing_window"), slog.String("user_id", req.UserId))
		return nil, status.Error(codes.InvalidArgument, "window_start and window_end are required")
	}
	id, err := uuid.Parse(req.ScheduleId)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("user_id", req.UserId))
		return nil, status.Error(codes.InvalidArgument, "schedule_id must be a UUID")
	}

	logs, err := s.svc.ListDoseLogs(ctx, req.UserId, id, req.WindowStart.AsTime(), req.WindowEnd.AsTime())
	if err != nil {
		return nil, s.fail(log, "dose logs list failed", err, slog.String("schedule_id", id.String()), slog.String("user_id", req.UserId))
	}

	out := make([]*DoseLog, 0, len(logs))
	for _, l := range logs {
		out = append(out, toProtoDoseLog(l))
	}

	log.Debug(
		"dose logs listed",
		slog.String("schedule_id", id.String()),
		slog.String("user_id", req.UserId),
		slog.Int("count", len(out)),
	)
	return &ListDoseLogsResponse{Logs: out}, nil
}

func (s *SchedulesServer) ListUpcomingDoses(ctx context.Context, req *ListUpcomingDosesRequest) (*ListUpcomingDosesResponse, error) {
	log := s.log.With(slog.String("rpc", "ListUpcomingDoses"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(req.ScheduleId)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("user_id", req.UserId))
		return nil, status.Error(codes.InvalidArgument, "schedule_id must be a UUID")
	}

	doses, err := s.svc.UpcomingDoses(ctx, req.UserId, id, int(req.Limit))
	if err != nil {
		return nil, s.fail(log, "upcoming doses failed", err, slog.String("schedule_id", id.String()), slog.String("user_id", req.UserId))
	}

	out := make([]*timestamppb.Timestamp, 0, len(doses))
	for _, d := range doses {
		out = append(out, timestamppb.New(d))
	}
	return &ListUpcomingDosesResponse{Doses: out}, nil
}

func (s *SchedulesServer) PreviewNextOccurrence(ctx context.Context, req *PreviewNextOccurrenceRequest) (*PreviewNextOccurrenceResponse, error) {
	log := s.log.With(slog.String("rpc", "PreviewNextOccurrence"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	in := schedules.PreviewInput{
		Days:        req.Days,
		Times:       req.Times,
		Timezone:    req.TimeZone,
		HorizonDays: int(req.HorizonDays),
	}
	if req.Reference != nil {
		in.Reference = req.Reference.AsTime()
	}

	next, ok, err := s.svc.PreviewNextOccurrence(ctx, in)
	if err != nil {
		return nil, s.fail(log, "preview failed", err)
	}
	if !ok {
		return &PreviewNextOccurrenceResponse{}, nil
	}
	return &PreviewNextOccurrenceResponse{NextOccurrence: timestamppb.New(next)}, nil
}

func (s *SchedulesServer) ExportCalendar(ctx context.Context, req *ExportCalendarRequest) (*ExportCalendarResponse, error) {
	log := s.log.With(slog.String("rpc", "ExportCalendar"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	cal, err := s.svc.ExportCalendar(ctx, req.UserId)
	if err != nil {
		return nil, s.fail(log, "calendar export failed", err, slog.String("user_id", req.UserId))
	}
	return &ExportCalendarResponse{Ics: cal}, nil
}

// fail maps service errors to gRPC statuses. Only unexpected errors are logged at
// error level.
func (s *SchedulesServer) fail(log *slog.Logger, msg string, err error, attrs ...any) error {
	args := append([]any{slog.Any("err", err)}, attrs...)

	if errors.Is(err, store.ErrNotFound) {
		log.Info("schedule not found", attrs...)
		return status.Error(codes.NotFound, "schedule not found")
	}
	var vErr *schedules.ValidationError
	if errors.As(err, &vErr) {
		log.Warn("invalid request", args...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn(msg, args...)
		return status.Error(codes.DeadlineExceeded, "request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request canceled")
	}
	log.Error(msg, args...)
	return status.Error(codes.Internal, "internal error")
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func toProtoSchedule(s domain.Schedule) *Schedule {
	out := &Schedule{
		Id:             s.ID.String(),
		UserId:         s.UserID,
		MedicationName: s.MedicationName,
		Dosage:         s.Dosage,
		Notes:          s.Notes,
		Days:           s.Days,
		Times:          s.Times,
		TimeZone:       s.Timezone,
		CreatedAt:      timestamppb.New(s.CreatedAt),
		UpdatedAt:      timestamppb.New(s.UpdatedAt),
	}
	if s.NextOccurrence != nil {
		out.NextOccurrence = timestamppb.New(*s.NextOccurrence)
	}
	return out
}

func toProtoDoseLog(l domain.DoseLog) *DoseLog {
	out := &DoseLog{
		Id:         l.ID.String(),
		ScheduleId: l.ScheduleID.String(),
		UserId:     l.UserID,
		Status:     string(l.Status),
		LoggedAt:   timestamppb.New(l.LoggedAt),
		Notes:      l.Notes,
		CreatedAt:  timestamppb.New(l.CreatedAt),
	}
	if l.ScheduledFor != nil {
		out.ScheduledFor = timestamppb.New(*l.ScheduledFor)
	}
	return out
}
