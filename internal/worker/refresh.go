// Package worker runs the periodic next-occurrence refresh.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dosewise/backend/internal/domain"
)

type Refresher interface {
	RefreshDue(ctx context.Context) (int, error)
}

// Recorder observes completed refresh runs.
type Recorder interface {
	RefreshCompleted(updated int, err error)
}

type Config struct {
	Spec string
	// Timezone the spec is evaluated in. Empty means UTC.
	Timezone string
	Timeout  time.Duration
}

type RefreshJob struct {
	cfg      Config
	svc      Refresher
	recorder Recorder
	log      *slog.Logger

	parser cron.Parser

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

func NewRefreshJob(cfg Config, svc Refresher, recorder Recorder, log *slog.Logger) *RefreshJob {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &RefreshJob{
		cfg:      cfg,
		svc:      svc,
		recorder: recorder,
		log:      log.With(slog.String("component", "worker.refresh")),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start schedules the job. Runs that are still busy when the next tick fires are skipped.
func (j *RefreshJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil {
		return errors.New("refresh job already started")
	}

	loc, err := j.location()
	if err != nil {
		return err
	}
	c := cron.New(
		cron.WithParser(j.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(j.cfg.Spec, func() { j.Run(runCtx) }); err != nil {
		cancel()
		return err
	}

	j.c = c
	j.cancel = cancel
	c.Start()
	j.log.Info("refresh job started", slog.String("spec", j.cfg.Spec), slog.String("tz", loc.String()))
	return nil
}

// Stop cancels a running refresh and waits for it to return or for ctx to end.
func (j *RefreshJob) Stop(ctx context.Context) {
	j.mu.Lock()
	c, cancel := j.c, j.cancel
	j.c, j.cancel = nil, nil
	j.mu.Unlock()
	if c == nil {
		return
	}

	cancel()
	select {
	case <-c.Stop().Done():
		j.log.Info("refresh job stopped")
	case <-ctx.Done():
		j.log.Warn("refresh job stop timed out")
	}
}

// Run performs one refresh bounded by the configured timeout.
func (j *RefreshJob) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	start := time.Now()
	updated, err := j.svc.RefreshDue(ctx)
	if j.recorder != nil {
		j.recorder.RefreshCompleted(updated, err)
	}
	if err != nil {
		j.log.Error(
			"refresh failed",
			slog.Any("err", err),
			slog.Int("updated", updated),
			slog.Duration("elapsed", time.Since(start)),
		)
		return
	}
	j.log.Debug("refresh completed", slog.Int("updated", updated), slog.Duration("elapsed", time.Since(start)))
}

func (j *RefreshJob) location() (*time.Location, error) {
	if j.cfg.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := domain.LoadLocation(j.cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("refresh job timezone: %w", err)
	}
	return loc, nil
}
