package scheduler

import (
	"context"
	"fmt"
	"time"

	"notifyrelay/internal/repository"

	"github.com/robfig/cron/v3"
	"github.com/wb-go/wbf/logger"
)

// Janitor prunes rate_limit_windows rows past their retention horizon
// on a cron schedule, grounded on Tsuchiya2-catchup-feed-backend's use
// of robfig/cron/v3 for periodic housekeeping jobs rather than a bare
// time.Ticker, so the schedule is configured as a cron spec
// (SCHEDULER_JANITOR_CRON) while the retry/promotion sweeps use plain
// millisecond intervals.
type Janitor struct {
	rateLimit *repository.RateLimitRepository
	log       logger.Logger
	schedule  string
	retention time.Duration
	cron      *cron.Cron
}

func NewJanitor(rateLimit *repository.RateLimitRepository, log logger.Logger, schedule string, retention time.Duration) *Janitor {
	if schedule == "" {
		schedule = "@every 1h"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Janitor{rateLimit: rateLimit, log: log, schedule: schedule, retention: retention}
}

func (j *Janitor) Run(ctx context.Context) error {
	const op = "scheduler.Janitor.Run"

	c := cron.New()
	j.cron = c

	_, err := c.AddFunc(j.schedule, func() {
		j.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return nil
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.retention)

	n, err := j.rateLimit.PruneExpiredWindows(ctx, nil, cutoff)
	if err != nil {
		j.log.LogAttrs(ctx, logger.ErrorLevel, "rate limit window prune failed", logger.Any("error", err.Error()))
		return
	}
	if n > 0 {
		j.log.LogAttrs(ctx, logger.InfoLevel, "pruned expired rate limit windows", logger.Any("count", n))
	}
}
