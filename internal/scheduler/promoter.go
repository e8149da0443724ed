package scheduler

import (
	"context"
	"errors"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/queue"
	"notifyrelay/internal/repository"
	"notifyrelay/internal/worker"

	"github.com/wb-go/wbf/logger"
)

// SchedulePromoter is C9: a periodic task that finds scheduled
// notifications whose scheduled_for has come due, flips them to queued
// via the same CAS path the rest of the state machine uses, and hands
// them to the processor directly rather than round-tripping through the
// queue (spec.md §4.C9 notes promotion and delivery happen in the same
// pass so a promoted item isn't left waiting on the next poll cycle).
type SchedulePromoter struct {
	repo      *repository.NotifyRepository
	processor worker.Processor
	q         queue.Adapter
	log       logger.Logger
	interval  time.Duration
}

func NewSchedulePromoter(repo *repository.NotifyRepository, processor worker.Processor, q queue.Adapter, log logger.Logger, interval time.Duration) *SchedulePromoter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SchedulePromoter{repo: repo, processor: processor, q: q, log: log, interval: interval}
}

func (s *SchedulePromoter) Run(ctx context.Context) error {
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

func (s *SchedulePromoter) tick(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.repo.FindDueScheduled(ctx, nil, now, _dueBatchLimit)
	if err != nil {
		s.log.LogAttrs(ctx, logger.ErrorLevel, "schedule promotion query failed", logger.Any("error", err.Error()))
		return
	}

	for _, n := range due {
		promoted, err := s.repo.UpdateStateCAS(ctx, nil, n.ID, entity.StatusQueued, repository.StatePatch{}, now)
		if err != nil {
			if !errors.Is(err, entity.ErrIllegalTransition) {
				s.log.LogAttrs(ctx, logger.ErrorLevel, "schedule promotion transition failed", logger.Any("notification_id", n.ID.String()), logger.Any("error", err.Error()))
			}
			continue
		}

		item := entity.WorkItem{
			NotificationID: promoted.ID,
			TenantID:       promoted.TenantID,
			TraceID:        promoted.TraceID,
			EventType:      promoted.EventType,
			RecipientPhone: promoted.RecipientPhone,
			Payload:        promoted.Payload,
			AttemptNumber:  promoted.AttemptNumber,
			MaxAttempts:    promoted.MaxAttempts,
		}
		if err := s.processor.Process(ctx, item); err != nil {
			s.log.LogAttrs(ctx, logger.ErrorLevel, "schedule promotion process failed", logger.Any("notification_id", promoted.ID.String()), logger.Any("error", err.Error()))
			if pubErr := s.q.Publish(ctx, item, 0); pubErr != nil {
				s.log.LogAttrs(ctx, logger.ErrorLevel, "schedule promotion fallback enqueue failed", logger.Any("notification_id", promoted.ID.String()), logger.Any("error", pubErr.Error()))
			}
		}
	}
}
