package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/metrics"
	"notifyrelay/internal/queue"
	"notifyrelay/internal/repository"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/dbpg/pgx-driver/transaction"
	"github.com/wb-go/wbf/logger"
)

// CreateRequest is the validated inbound shape for a single
// notification, already past HTTP-layer body parsing (spec.md §6's
// "bind to any HTTP framework" boundary).
type CreateRequest struct {
	EventType      string
	RecipientPhone string
	CountryCode    *string
	Payload        entity.Payload
	Metadata       []byte
	Priority       entity.Priority
	ScheduledFor   *time.Time
	IdempotencyKey *string
}

// CreateResult is returned to the caller, per spec.md §4.C5 step 7.
type CreateResult struct {
	ID     uuid.UUID
	Status entity.Status
}

// IngestService is C5. It is grounded on the teacher's
// internal/service/service.go Create method (transaction-wrapped
// validate → persist → side effects), generalized for the rate-limit
// check and schedule-vs-queue branch this spec requires in place of the
// teacher's recipient-resolution step.
type IngestService struct {
	repo      *repository.NotifyRepository
	rateLimit *repository.RateLimitRepository
	tenants   *repository.TenantRepository
	tm        transaction.Manager
	q         queue.Adapter
	log       logger.Logger
	opts      options
}

func NewIngestService(
	repo *repository.NotifyRepository,
	rateLimit *repository.RateLimitRepository,
	tenants *repository.TenantRepository,
	tm transaction.Manager,
	q queue.Adapter,
	log logger.Logger,
	opts ...Option,
) (*IngestService, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("service.NewIngestService: %w", err)
	}

	return &IngestService{repo: repo, rateLimit: rateLimit, tenants: tenants, tm: tm, q: q, log: log, opts: o}, nil
}

// Create implements spec.md §4.C5 createNotification.
func (s *IngestService) Create(ctx context.Context, tenant entity.Tenant, req CreateRequest) (*CreateResult, error) {
	const op = "service.ingest.Create"

	if !entity.IsE164(req.RecipientPhone) {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrInvalidPhone)
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if req.Priority == "" {
		req.Priority = entity.PriorityNormal
	}
	if !req.Priority.IsValid() {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrInvalidData)
	}

	if req.IdempotencyKey != nil {
		existing, err := s.repo.GetByIdempotencyKey(ctx, nil, tenant.ID, *req.IdempotencyKey)
		if err == nil {
			return &CreateResult{ID: existing.ID, Status: existing.Status}, nil
		}
		if !errors.Is(err, entity.ErrNotificationNotFound) {
			return nil, fmt.Errorf("%s: idempotency lookup: %w", op, err)
		}
	}

	limit := tenant.RateLimitPerHour
	if limit <= 0 {
		limit = s.opts.defaultRateLimitPerHour
	}

	now := s.opts.clock.Now()

	var id uuid.UUID
	if req.IdempotencyKey != nil {
		id = idempotencyUUID(tenant.ID, *req.IdempotencyKey)
	} else {
		id = s.opts.ids.NewID()
	}

	status := entity.StatusQueued
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		status = entity.StatusScheduled
	}

	notify := entity.Notification{
		ID:             id,
		TenantID:       tenant.ID,
		EventType:      req.EventType,
		RecipientPhone: req.RecipientPhone,
		CountryCode:    req.CountryCode,
		Payload:        req.Payload,
		Metadata:       req.Metadata,
		Priority:       req.Priority,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
		ScheduledFor:   req.ScheduledFor,
		AttemptNumber:  0,
		MaxAttempts:    entity.DefaultMaxAttempts,
		TraceID:        s.opts.ids.NewTraceID(),
		IdempotencyKey: req.IdempotencyKey,
	}

	var created *entity.Notification
	err := s.tm.ExecuteInTransaction(ctx, func(qe pgxdriver.QueryExecuter) error {
		admitted, _, admitErr := s.rateLimit.TryAdmit(ctx, qe, req.RecipientPhone, limit, now)
		if admitErr != nil {
			return fmt.Errorf("rate limit check: %w", admitErr)
		}
		if !admitted {
			return entity.ErrRateLimited
		}

		var createErr error
		created, createErr = s.repo.Create(ctx, qe, notify)
		if createErr != nil {
			return createErr
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, entity.ErrConflictingData) {
			existing, getErr := s.repo.GetByID(ctx, nil, id)
			if getErr == nil {
				return &CreateResult{ID: existing.ID, Status: existing.Status}, nil
			}
		}
		if errors.Is(err, entity.ErrRateLimited) {
			metrics.NotificationsRateLimited.Inc()
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.NotificationsCreated.WithLabelValues(string(created.Priority)).Inc()

	if created.Status == entity.StatusQueued {
		item := entity.WorkItem{
			NotificationID: created.ID,
			TenantID:       created.TenantID,
			TraceID:        created.TraceID,
			EventType:      created.EventType,
			RecipientPhone: created.RecipientPhone,
			Payload:        created.Payload,
			AttemptNumber:  created.AttemptNumber,
			MaxAttempts:    created.MaxAttempts,
		}
		if pubErr := s.q.Publish(ctx, item, 0); pubErr != nil {
			// Row stays queued; the startup reconciliation pass and
			// retry scheduler will pick it up even though the enqueue
			// itself failed (spec.md §4.C5 note on non-atomic enqueue).
			s.log.LogAttrs(ctx, logger.ErrorLevel, "enqueue failed after persistence, relying on reconciliation", logger.Any("notification_id", created.ID.String()), logger.Any("error", pubErr.Error()))
		}
	}

	return &CreateResult{ID: created.ID, Status: created.Status}, nil
}

// BulkResult is the per-entry outcome for the bulk ingestion endpoint.
type BulkResult struct {
	Result *CreateResult
	Err    error
}

// CreateBulk implements spec.md §4.C5's bulk path: up to maxBulkSize
// requests, each run independently so one entry's failure does not
// abort the others.
func (s *IngestService) CreateBulk(ctx context.Context, tenant entity.Tenant, reqs []CreateRequest) ([]BulkResult, error) {
	const op = "service.ingest.CreateBulk"

	if len(reqs) == 0 {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrEmptyBatch)
	}
	if len(reqs) > s.opts.maxBulkSize {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrBatchTooLarge)
	}

	results := make([]BulkResult, len(reqs))
	for i, req := range reqs {
		res, err := s.Create(ctx, tenant, req)
		results[i] = BulkResult{Result: res, Err: err}
	}
	return results, nil
}

// GetStatus serves spec.md §6's tenant-scoped status endpoint.
func (s *IngestService) GetStatus(ctx context.Context, tenant entity.Tenant, id uuid.UUID) (*entity.Notification, []entity.DeliveryLog, error) {
	const op = "service.ingest.GetStatus"

	n, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if n.TenantID != tenant.ID {
		return nil, nil, fmt.Errorf("%s: %w", op, entity.ErrForbidden)
	}

	logs, err := s.repo.ListDeliveryLogs(ctx, nil, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return n, logs, nil
}

// ListNotifications serves the analytics listing endpoint.
func (s *IngestService) ListNotifications(ctx context.Context, tenant entity.Tenant, f repository.ListFilter) ([]entity.Notification, error) {
	return s.repo.ListByTenant(ctx, nil, tenant.ID, f)
}

// Stats serves the analytics summary endpoint.
func (s *IngestService) Stats(ctx context.Context, tenant entity.Tenant, start, end time.Time) (*repository.Stats, error) {
	return s.repo.Stats(ctx, nil, tenant.ID, start, end)
}

// ReconcileStuckQueued runs the startup reconciliation pass described in
// spec.md §4.C5: rows still queued past the reconcile grace window are
// pulled back into the retry path, whether or not their enqueue
// succeeded.
func (s *IngestService) ReconcileStuckQueued(ctx context.Context) (int64, error) {
	now := s.opts.clock.Now()
	return s.repo.ReconcileStuckQueued(ctx, nil, now.Add(-s.opts.reconcileGrace), now)
}
