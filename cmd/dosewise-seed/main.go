package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dosewise/backend/internal/config"
	"dosewise/backend/internal/domain"
	"dosewise/backend/internal/service/schedules"
	"dosewise/backend/internal/store"
	"dosewise/backend/internal/store/postgres"
)

var (
	userID     string
	migrate    bool
	printICS   bool
	timezoneID string
)

var rootCmd = &cobra.Command{
	Use:   "dosewise-seed",
	Short: "Create demo medication schedules for a user",
	Long: `dosewise-seed creates a fixed set of demo schedules through the schedule
service, so their next occurrence is computed exactly as the server would.
Running it again is safe: every schedule carries an idempotency key.

Examples:
  dosewise-seed --user demo
  dosewise-seed --user demo --migrate --ics > demo.ics`,
	RunE: runSeed,
}

func init() {
	rootCmd.Flags().StringVar(&userID, "user", "", "User to create the schedules for (required)")
	rootCmd.Flags().BoolVar(&migrate, "migrate", false, "Apply database migrations first")
	rootCmd.Flags().BoolVar(&printICS, "ics", false, "Print the user's calendar to stdout afterwards")
	rootCmd.Flags().StringVar(&timezoneID, "tz", "", "Timezone for the schedules (default: schedule.default_timezone)")
	_ = rootCmd.MarkFlagRequired("user")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With(slog.String("service", "dosewise-seed"))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	if migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		log.Info("database migrated")
	}

	svc := schedules.NewService(postgres.NewScheduleRepo(db),
		schedules.WithHorizonDays(cfg.HorizonDays),
		schedules.WithDefaultTimezone(cfg.DefaultTimezone),
		schedules.WithLogger(log),
	)

	created, err := seed(ctx, svc, log, userID, timezoneID)
	if err != nil {
		return err
	}
	log.Info("seed complete", slog.String("user_id", userID), slog.Int("created", created))

	if printICS {
		cal, err := svc.ExportCalendar(ctx, userID)
		if err != nil {
			return fmt.Errorf("export calendar: %w", err)
		}
		if _, err := fmt.Fprint(cmd.OutOrStdout(), cal); err != nil {
			return err
		}
	}
	return nil
}

type scheduleCreator interface {
	CreateSchedule(ctx context.Context, in schedules.CreateScheduleInput) (domain.Schedule, error)
}

// seed creates the demo schedules and returns how many were created or replayed.
// Schedules that clash with an existing medication of the user, or that were seeded
// before with different settings, are skipped.
func seed(ctx context.Context, svc scheduleCreator, log *slog.Logger, user, tz string) (int, error) {
	n := 0
	for _, in := range demoSchedules(user, tz) {
		sched, err := svc.CreateSchedule(ctx, in)
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrIdempotencyConflict) {
			log.Info(
				"schedule exists, skipped",
				slog.String("medication_name", in.MedicationName),
				slog.String("time_zone", in.Timezone),
				slog.Any("err", err),
			)
			continue
		}
		if err != nil {
			return n, fmt.Errorf("create %s: %w", in.MedicationName, err)
		}
		n++
		log.Info(
			"schedule seeded",
			slog.String("schedule_id", sched.ID.String()),
			slog.String("medication_name", sched.MedicationName),
			slog.String("time_zone", sched.Timezone),
			slog.Any("next_occurrence", sched.NextOccurrence),
		)
	}
	return n, nil
}

func demoSchedules(user, tz string) []schedules.CreateScheduleInput {
	every := map[string]bool{
		"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
		"friday": true, "saturday": true, "sunday": true,
	}
	weekdays := map[string]bool{
		"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
		"friday": true, "saturday": false, "sunday": false,
	}
	weekly := map[string]bool{
		"monday": false, "tuesday": false, "wednesday": false, "thursday": false,
		"friday": false, "saturday": false, "sunday": true,
	}

	list := []schedules.CreateScheduleInput{
		{MedicationName: "Metformin", Dosage: "500mg", Notes: "With meals", Days: every, Times: []string{"08:00", "20:00"}},
		{MedicationName: "Lisinopril", Dosage: "10mg", Days: every, Times: []string{"07:30"}},
		{MedicationName: "Vitamin D", Dosage: "1000 IU", Days: weekdays, Times: []string{"12:00"}},
		{MedicationName: "Methotrexate", Dosage: "15mg", Notes: "Weekly, never daily", Days: weekly, Times: []string{"09:00"}},
	}
	for i := range list {
		list[i].UserID = user
		list[i].Timezone = tz
		list[i].IdempotencyKey = "seed:" + tz + ":" + list[i].MedicationName
	}
	return list
}
