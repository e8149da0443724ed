// Package scheduler implements C8 (retry sweeper), C9 (schedule
// promoter), and the rate-limit-window janitor referenced in
// SPEC_FULL.md's DOMAIN STACK section.
package scheduler

import (
	"context"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/repository"
	"notifyrelay/internal/worker"

	"github.com/wb-go/wbf/logger"
)

const _dueBatchLimit = 100

// RetrySweeper is C8: a periodic task that finds failed and
// rate-limited notifications whose next_retry_at has come due and
// re-injects them into the processor directly, deliberately serial per
// spec.md §4.C8 ("the retry pass is intentionally serial to avoid
// stampedes").
type RetrySweeper struct {
	repo      *repository.NotifyRepository
	processor worker.Processor
	log       logger.Logger
	interval  time.Duration
}

func NewRetrySweeper(repo *repository.NotifyRepository, processor worker.Processor, log logger.Logger, interval time.Duration) *RetrySweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &RetrySweeper{repo: repo, processor: processor, log: log, interval: interval}
}

func (s *RetrySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *RetrySweeper) tick(ctx context.Context) {
	due, err := s.repo.FindDueRetries(ctx, nil, time.Now().UTC(), _dueBatchLimit)
	if err != nil {
		s.log.LogAttrs(ctx, logger.ErrorLevel, "retry sweep query failed", logger.Any("error", err.Error()))
		return
	}

	for _, n := range due {
		item := entity.WorkItem{
			NotificationID: n.ID,
			TenantID:       n.TenantID,
			TraceID:        n.TraceID,
			EventType:      n.EventType,
			RecipientPhone: n.RecipientPhone,
			Payload:        n.Payload,
			AttemptNumber:  n.AttemptNumber,
			MaxAttempts:    n.MaxAttempts,
		}
		if err := s.processor.Process(ctx, item); err != nil {
			s.log.LogAttrs(ctx, logger.ErrorLevel, "retry sweep process failed", logger.Any("notification_id", n.ID.String()), logger.Any("error", err.Error()))
		}
	}
}
