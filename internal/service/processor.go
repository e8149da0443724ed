package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/metrics"
	"notifyrelay/internal/provider"
	"notifyrelay/internal/repository"
	"notifyrelay/pkg/clock"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/logger"
)

// Processor is C7, the heart of the system: it drives a WorkItem
// through send → state-transition → retry-decision. It is grounded on
// the teacher's GetWorkerHandler/updateAfterSend (unmarshal → send →
// update status → reschedule with calculateNextAttempt's base*2^k
// shape), generalized to the full state machine, jitter, and provider
// error classification spec.md §4.C7 requires.
type Processor struct {
	repo             *repository.NotifyRepository
	rateLimit        *repository.RateLimitRepository
	whatsapp         *provider.Client
	log              logger.Logger
	backoff          backoffParams
	clock            clock.Clock
	rng              *rand.Rand
	escalation       EscalationSender
	rateLimitPerHour int
}

func NewProcessor(
	repo *repository.NotifyRepository,
	rateLimit *repository.RateLimitRepository,
	whatsapp *provider.Client,
	log logger.Logger,
	opts ...Option,
) *Processor {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}

	return &Processor{
		repo:             repo,
		rateLimit:        rateLimit,
		whatsapp:         whatsapp,
		log:              log,
		backoff:          o.backoff,
		clock:            o.clock,
		rng:              rand.New(rand.NewSource(1)),
		escalation:       o.escalation,
		rateLimitPerHour: o.defaultRateLimitPerHour,
	}
}

// Process implements spec.md §4.C7's procedure for a single WorkItem.
// Step 1 (parse) is the caller's responsibility: the queue adapter
// decodes the message before the worker pool hands it over. Process
// itself starts from step 2 (transition to processing) given an
// already-decoded item.
func (p *Processor) Process(ctx context.Context, item entity.WorkItem) error {
	const op = "service.processor.Process"

	notify, err := p.repo.GetByID(ctx, nil, item.NotificationID)
	if err != nil {
		if errors.Is(err, entity.ErrNotificationNotFound) {
			p.log.LogAttrs(ctx, logger.WarnLevel, "processor received work item for missing notification", logger.Any("notification_id", item.NotificationID.String()))
			return nil
		}
		return fmt.Errorf("%s: load: %w", op, err)
	}

	// In-flight duplicate handling per spec.md §4.C7: sent/delivered/read
	// are idempotent no-ops, processing is taken over by this invocation.
	if notify.Status == entity.StatusSent || notify.Status == entity.StatusDelivered || notify.Status == entity.StatusRead {
		return nil
	}

	now := p.clock.Now()
	if notify.Status != entity.StatusProcessing {
		_, err := p.repo.UpdateStateCAS(ctx, nil, notify.ID, entity.StatusProcessing, repository.StatePatch{}, now)
		if err != nil && !errors.Is(err, entity.ErrIllegalTransition) {
			return fmt.Errorf("%s: transition to processing: %w", op, err)
		}
	}

	// spec.md §2/§7 require C7 to recheck the per-recipient limit via C2
	// immediately before sending, independent of the admission check C5
	// already performed at ingestion: a burst of scheduled/retried items
	// for the same recipient can exhaust the window between ingestion and
	// dispatch.
	admitted, _, admitErr := p.rateLimit.TryAdmit(ctx, nil, notify.RecipientPhone, p.rateLimitPerHour, now)
	if admitErr != nil {
		return fmt.Errorf("%s: rate limit recheck: %w", op, admitErr)
	}
	if !admitted {
		return p.onRateLimited(ctx, notify, now)
	}

	start := time.Now()
	providerMessageID, sendErr := p.whatsapp.Send(ctx, notify.RecipientPhone, notify.Payload)
	latencyMs := time.Since(start).Milliseconds()
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	if sendErr == nil {
		return p.onSendSuccess(ctx, notify, providerMessageID, latencyMs)
	}
	return p.onSendFailure(ctx, notify, sendErr, latencyMs)
}

func (p *Processor) onSendSuccess(ctx context.Context, notify *entity.Notification, providerMessageID string, latencyMs int64) error {
	const op = "service.processor.onSendSuccess"

	now := p.clock.Now()

	if err := p.appendLog(ctx, notify, entity.StatusSent, &providerMessageID, nil, nil, &latencyMs, nil); err != nil {
		return fmt.Errorf("%s: log: %w", op, err)
	}

	_, err := p.repo.UpdateStateCAS(ctx, nil, notify.ID, entity.StatusSent, repository.StatePatch{
		ProviderMessageID: &providerMessageID,
		SentAt:            &now,
		ClearNextRetryAt:  true,
	}, now)
	if err != nil {
		return fmt.Errorf("%s: transition: %w", op, err)
	}
	metrics.NotificationsSent.Inc()
	return nil
}

func (p *Processor) onSendFailure(ctx context.Context, notify *entity.Notification, sendErr error, latencyMs int64) error {
	const op = "service.processor.onSendFailure"

	now := p.clock.Now()
	k := notify.AttemptNumber

	code, message, permanent := classify(sendErr)

	if err := p.appendLog(ctx, notify, entity.StatusFailed, nil, &code, &message, &latencyMs, nil); err != nil {
		return fmt.Errorf("%s: log: %w", op, err)
	}

	if !permanent && k+1 < notify.MaxAttempts {
		delay := p.backoff.nextDelay(k, p.rng)
		nextRetryAt := now.Add(delay)

		_, err := p.repo.UpdateStateCAS(ctx, nil, notify.ID, entity.StatusFailed, repository.StatePatch{
			NextRetryAt:      &nextRetryAt,
			LastErrorCode:    &code,
			LastErrorMessage: &message,
			IncrementAttempt: true,
		}, now)
		if err != nil {
			return fmt.Errorf("%s: transition: %w", op, err)
		}
		metrics.NotificationsFailed.WithLabelValues("false").Inc()
		return nil
	}

	_, err := p.repo.UpdateStateCAS(ctx, nil, notify.ID, entity.StatusFailed, repository.StatePatch{
		FailedAt:          &now,
		ClearNextRetryAt:  true,
		LastErrorCode:     &code,
		LastErrorMessage:  &message,
		IncrementAttempt:  true,
	}, now)
	if err != nil {
		return fmt.Errorf("%s: transition: %w", op, err)
	}
	metrics.NotificationsFailed.WithLabelValues("true").Inc()

	if p.escalation != nil {
		notify.LastErrorCode, notify.LastErrorMessage = &code, &message
		if escErr := p.escalation.Send(ctx, *notify); escErr != nil {
			p.log.LogAttrs(ctx, logger.WarnLevel, "escalation send failed", logger.Any("op", op), logger.Any("notification_id", notify.ID.String()), logger.Any("error", escErr.Error()))
		}
	}
	return nil
}

// onRateLimited implements spec.md §7's processing-time RateLimited
// path: the item is transitioned to rate_limited with next_retry_at set
// to the window rollover, so the retry sweeper picks it up again, rather
// than consuming retry budget the way a provider failure would.
func (p *Processor) onRateLimited(ctx context.Context, notify *entity.Notification, now time.Time) error {
	const op = "service.processor.onRateLimited"

	if err := p.appendLog(ctx, notify, entity.StatusRateLimited, nil, nil, nil, nil, nil); err != nil {
		return fmt.Errorf("%s: log: %w", op, err)
	}

	retryAfter := p.rateLimit.RetryAfter(now)
	nextRetryAt := now.Add(retryAfter)

	_, err := p.repo.UpdateStateCAS(ctx, nil, notify.ID, entity.StatusRateLimited, repository.StatePatch{
		NextRetryAt: &nextRetryAt,
	}, now)
	if err != nil {
		return fmt.Errorf("%s: transition: %w", op, err)
	}
	return nil
}

func (p *Processor) appendLog(
	ctx context.Context,
	notify *entity.Notification,
	state entity.Status,
	providerMessageID, errorCode, errorMessage *string,
	latencyMs *int64,
	rawResponse json.RawMessage,
) error {
	return p.repo.AppendDeliveryLog(ctx, nil, entity.DeliveryLog{
		ID:                uuid.New(),
		NotificationID:    notify.ID,
		AttemptOrdinal:    notify.AttemptNumber + 1,
		State:             state,
		ProviderMessageID: providerMessageID,
		ErrorCode:         errorCode,
		ErrorMessage:      errorMessage,
		LatencyMs:         latencyMs,
		RawResponse:       rawResponse,
		CreatedAt:         p.clock.Now(),
	})
}

// classify maps a provider.Client error into the (code, message,
// isPermanent) triple spec.md §4.C4/§4.C7 require. Unknown error types
// default to permanent, matching the spec's "unknown codes default to
// permanent" rule.
func classify(err error) (code, message string, permanent bool) {
	var transient *provider.TransientError
	if errors.As(err, &transient) {
		return transient.Code, transient.Message, false
	}

	var perm *provider.PermanentError
	if errors.As(err, &perm) {
		return perm.Code, perm.Message, true
	}

	return "unknown", err.Error(), true
}
