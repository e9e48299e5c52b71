package grpc

import (
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Messages of the dosewise.v1.Schedules service. They travel with the JSON codec, so
// field names follow the snake_case JSON names of the API.

type Schedule struct {
	Id             string                 `json:"id"`
	UserId         string                 `json:"user_id"`
	MedicationName string                 `json:"medication_name"`
	Dosage         string                 `json:"dosage,omitempty"`
	Notes          string                 `json:"notes,omitempty"`
	Days           map[string]bool        `json:"days"`
	Times          []string               `json:"times"`
	TimeZone       string                 `json:"time_zone"`
	NextOccurrence *timestamppb.Timestamp `json:"next_occurrence,omitempty"`
	CreatedAt      *timestamppb.Timestamp `json:"created_at,omitempty"`
	UpdatedAt      *timestamppb.Timestamp `json:"updated_at,omitempty"`
}

type DoseLog struct {
	Id           string                 `json:"id"`
	ScheduleId   string                 `json:"schedule_id"`
	UserId       string                 `json:"user_id"`
	Status       string                 `json:"status"`
	LoggedAt     *timestamppb.Timestamp `json:"logged_at"`
	ScheduledFor *timestamppb.Timestamp `json:"scheduled_for,omitempty"`
	Notes        string                 `json:"notes,omitempty"`
	CreatedAt    *timestamppb.Timestamp `json:"created_at,omitempty"`
}

type CreateScheduleRequest struct {
	UserId         string          `json:"user_id"`
	MedicationName string          `json:"medication_name"`
	Dosage         string          `json:"dosage,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Days           map[string]bool `json:"days"`
	Times          []string        `json:"times"`
	TimeZone       string          `json:"time_zone,omitempty"`
}

type CreateScheduleResponse struct {
	Schedule *Schedule `json:"schedule"`
}

type UpdateScheduleRequest struct {
	UserId         string          `json:"user_id"`
	ScheduleId     string          `json:"schedule_id"`
	MedicationName string          `json:"medication_name"`
	Dosage         string          `json:"dosage,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Days           map[string]bool `json:"days"`
	Times          []string        `json:"times"`
	TimeZone       string          `json:"time_zone,omitempty"`
}

type UpdateScheduleResponse struct {
	Schedule *Schedule `json:"schedule"`
}

type GetScheduleRequest struct {
	UserId     string `json:"user_id"`
	ScheduleId string `json:"schedule_id"`
}

type GetScheduleResponse struct {
	Schedule *Schedule `json:"schedule"`
}

type ListSchedulesRequest struct {
	UserId string `json:"user_id"`
}

type ListSchedulesResponse struct {
	Schedules []*Schedule `json:"schedules"`
}

type DeleteScheduleRequest struct {
	UserId     string `json:"user_id"`
	ScheduleId string `json:"schedule_id"`
}

type DeleteScheduleResponse struct{}

type LogDoseRequest struct {
	UserId     string                 `json:"user_id"`
	ScheduleId string                 `json:"schedule_id"`
	Status     string                 `json:"status,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	AdHoc      bool                   `json:"ad_hoc,omitempty"`
	LoggedAt   *timestamppb.Timestamp `json:"logged_at,omitempty"`
}

type LogDoseResponse struct {
	Log      *DoseLog  `json:"log"`
	Schedule *Schedule `json:"schedule"`
}

type ListDoseLogsRequest struct {
	UserId      string                 `json:"user_id"`
	ScheduleId  string                 `json:"schedule_id"`
	WindowStart *timestamppb.Timestamp `json:"window_start"`
	WindowEnd   *timestamppb.Timestamp `json:"window_end"`
}

type ListDoseLogsResponse struct {
	Logs []*DoseLog `json:"logs"`
}

type ListUpcomingDosesRequest struct {
	UserId     string `json:"user_id"`
	ScheduleId string `json:"schedule_id"`
	Limit      int32  `json:"limit,omitempty"`
}

type ListUpcomingDosesResponse struct {
	Doses []*timestamppb.Timestamp `json:"doses"`
}

type PreviewNextOccurrenceRequest struct {
	Days        map[string]bool        `json:"days"`
	Times       []string               `json:"times"`
	TimeZone    string                 `json:"time_zone,omitempty"`
	Reference   *timestamppb.Timestamp `json:"reference,omitempty"`
	HorizonDays int32                  `json:"horizon_days,omitempty"`
}

type PreviewNextOccurrenceResponse struct {
	// NextOccurrence is unset when no dose falls inside the horizon.
	NextOccurrence *timestamppb.Timestamp `json:"next_occurrence,omitempty"`
}

type ExportCalendarRequest struct {
	UserId string `json:"user_id"`
}

type ExportCalendarResponse struct {
	Ics string `json:"ics"`
}
