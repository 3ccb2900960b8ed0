package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerv-tools/magi/internal/model"

	gocron "github.com/go-co-op/gocron/v2"
)

// NewRetention builds the scheduler that prunes aged-out conversations on
// the configured cron schedule. The caller starts it and shuts it down.
func NewRetention(ctx context.Context, s *Store, cfg *model.Retention) (gocron.Scheduler, error) {
	if cfg == nil || cfg.Enabled == nil || !*cfg.Enabled {
		return nil, nil
	}

	if err := model.ParseCron(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parsing store.retention.schedule: %w", err)
	}
	maxAge, err := model.ParseCueDuration(cfg.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("parsing store.retention.max_age: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.CronJob(cfg.Schedule, false),
		gocron.NewTask(func() { sweep(ctx, s, maxAge) }),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}

	slog.DebugContext(ctx, "retention sweep scheduled", "schedule", cfg.Schedule, "max_age", maxAge)
	return scheduler, nil
}

func sweep(ctx context.Context, s *Store, maxAge time.Duration) {
	pruned, err := s.Prune(ctx, maxAge)
	if err != nil {
		slog.ErrorContext(ctx, "retention sweep failed", "error", err)
		return
	}
	if pruned > 0 {
		slog.InfoContext(ctx, "retention sweep pruned conversations", "count", pruned)
	}
}
