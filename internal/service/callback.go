package service

import (
	"context"
	"errors"
	"fmt"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/metrics"
	"notifyrelay/internal/provider"
	"notifyrelay/internal/repository"
	"notifyrelay/pkg/clock"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/logger"
)

// CallbackService is C10, the inbound provider-status handler described
// in spec.md §4.C10. It is deliberately separate from Processor: the
// callback path advances state from a provider_message_id lookup rather
// than a WorkItem, and a `failed` arriving here is terminal rather than
// retry-eligible (the send was already accepted by the provider; the
// failure is a downstream recipient issue, not ours to retry).
type CallbackService struct {
	repo  *repository.NotifyRepository
	log   logger.Logger
	clock clock.Clock
}

func NewCallbackService(repo *repository.NotifyRepository, log logger.Logger, opts ...Option) *CallbackService {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	return &CallbackService{repo: repo, log: log, clock: o.clock}
}

var callbackStatus = map[string]entity.Status{
	"sent":      entity.StatusSent,
	"delivered": entity.StatusDelivered,
	"read":      entity.StatusRead,
	"failed":    entity.StatusFailed,
}

// HandleEvents applies each parsed provider.StatusEvent to the
// notification it references, per spec.md §4.C10's numbered procedure.
// A lookup miss is logged and dropped rather than returned as an error,
// since the handler's contract is idempotent best-effort delivery.
func (s *CallbackService) HandleEvents(ctx context.Context, events []provider.StatusEvent) error {
	for _, ev := range events {
		if err := s.apply(ctx, ev); err != nil {
			return fmt.Errorf("service.callback.HandleEvents: %w", err)
		}
	}
	return nil
}

func (s *CallbackService) apply(ctx context.Context, ev provider.StatusEvent) error {
	target, ok := callbackStatus[ev.Status]
	if !ok {
		s.log.LogAttrs(ctx, logger.WarnLevel, "unrecognized provider callback status", logger.Any("status", ev.Status))
		return nil
	}
	metrics.CallbackEvents.WithLabelValues(ev.Status).Inc()

	notify, err := s.repo.GetByProviderMessageID(ctx, nil, ev.ProviderMessageID)
	if err != nil {
		if errors.Is(err, entity.ErrNotificationNotFound) {
			s.log.LogAttrs(ctx, logger.InfoLevel, "callback for unknown provider message id, dropping", logger.Any("provider_message_id", ev.ProviderMessageID))
			return nil
		}
		return fmt.Errorf("lookup: %w", err)
	}

	now := s.clock.Now()
	eventAt := ev.Timestamp
	if eventAt.IsZero() {
		eventAt = now
	}
	patch := repository.StatePatch{}

	var errorCode, errorMessage *string
	switch target {
	case entity.StatusDelivered:
		patch.DeliveredAt = &eventAt
	case entity.StatusRead:
		patch.ReadAt = &eventAt
	case entity.StatusFailed:
		patch.FailedAt = &eventAt
		patch.ClearNextRetryAt = true
		if ev.ErrorCode != nil {
			code := fmt.Sprintf("%d", *ev.ErrorCode)
			errorCode = &code
		}
		errorMessage = ev.ErrorTitle
		patch.LastErrorCode = errorCode
		patch.LastErrorMessage = errorMessage
	}

	_, err = s.repo.UpdateStateCAS(ctx, nil, notify.ID, target, patch, now)
	if err != nil {
		if !errors.Is(err, entity.ErrIllegalTransition) {
			return fmt.Errorf("transition: %w", err)
		}
		// The status itself already advanced past target (e.g. a late
		// `delivered` arriving after `read` was recorded) so the CAS is
		// rejected, but spec.md §5 still requires each timestamp to be
		// set independently of callback ordering.
		s.log.LogAttrs(ctx, logger.InfoLevel, "callback transition stale, stamping timestamp independently", logger.Any("notification_id", notify.ID.String()), logger.Any("target", string(target)))
		if stampErr := s.repo.StampOutOfOrder(ctx, nil, notify.ID, patch, now); stampErr != nil {
			return fmt.Errorf("stamp: %w", stampErr)
		}
	}

	return s.repo.AppendDeliveryLog(ctx, nil, entity.DeliveryLog{
		ID:                uuid.New(),
		NotificationID:    notify.ID,
		AttemptOrdinal:    notify.AttemptNumber,
		State:             target,
		ProviderMessageID: &ev.ProviderMessageID,
		ErrorCode:         errorCode,
		ErrorMessage:      errorMessage,
		CreatedAt:         now,
	})
}
