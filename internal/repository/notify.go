package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notifyrelay/internal/entity"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

const notificationColumns = `id, tenant_id, event_type, recipient_phone, country_code, payload,
	metadata, priority, status, provider_message_id, created_at, updated_at, scheduled_for,
	sent_at, delivered_at, read_at, failed_at, attempt_number, max_attempts, next_retry_at,
	last_error_code, last_error_message, trace_id, idempotency_key`

// NotifyRepository is C1, the notification store. Every mutator accepts
// a pgxdriver.QueryExecuter so callers can compose persistence with a
// single transaction commit (spec.md §9's dependency-injection note).
type NotifyRepository struct {
	db *pgxdriver.Postgres
}

func NewNotifyRepository(db *pgxdriver.Postgres) *NotifyRepository {
	return &NotifyRepository{db: db}
}

func (r *NotifyRepository) exec(qe pgxdriver.QueryExecuter) pgxdriver.QueryExecuter {
	if qe != nil {
		return qe
	}
	return r.db
}

func (r *NotifyRepository) Create(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	notify entity.Notification,
) (*entity.Notification, error) {
	const op = "repository.notify.Create"

	executor := r.exec(qe)

	if err := notify.Payload.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if notify.AttemptNumber > notify.MaxAttempts {
		return nil, fmt.Errorf("%s: attempt_number exceeds max_attempts: %w", op, entity.ErrInvalidData)
	}

	payloadJSON, err := json.Marshal(notify.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal payload: %w", op, err)
	}

	sql, args, err := r.db.Insert("notifications").
		Columns("id", "tenant_id", "event_type", "recipient_phone", "country_code", "payload",
			"metadata", "priority", "status", "created_at", "updated_at", "scheduled_for",
			"attempt_number", "max_attempts", "trace_id", "idempotency_key").
		Values(notify.ID, notify.TenantID, notify.EventType, notify.RecipientPhone, notify.CountryCode, payloadJSON,
			notify.Metadata, notify.Priority, notify.Status, notify.CreatedAt, notify.UpdatedAt, notify.ScheduledFor,
			notify.AttemptNumber, notify.MaxAttempts, notify.TraceID, notify.IdempotencyKey).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: insert query: %w", op, err)
	}

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrConflictingData)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &notify, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*entity.Notification, error) {
	var n entity.Notification
	var payload []byte
	var sentAt, deliveredAt, readAt, failedAt, scheduledFor, nextRetryAt pgtype.Timestamptz
	var countryCode, providerMessageID, lastErrorCode, lastErrorMessage, idempotencyKey pgtype.Text

	err := row.Scan(
		&n.ID, &n.TenantID, &n.EventType, &n.RecipientPhone, &countryCode, &payload,
		&n.Metadata, &n.Priority, &n.Status, &providerMessageID, &n.CreatedAt, &n.UpdatedAt, &scheduledFor,
		&sentAt, &deliveredAt, &readAt, &failedAt, &n.AttemptNumber, &n.MaxAttempts, &nextRetryAt,
		&lastErrorCode, &lastErrorMessage, &n.TraceID, &idempotencyKey,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if countryCode.Valid {
		n.CountryCode = &countryCode.String
	}
	if providerMessageID.Valid {
		n.ProviderMessageID = &providerMessageID.String
	}
	if lastErrorCode.Valid {
		n.LastErrorCode = &lastErrorCode.String
	}
	if lastErrorMessage.Valid {
		n.LastErrorMessage = &lastErrorMessage.String
	}
	if idempotencyKey.Valid {
		n.IdempotencyKey = &idempotencyKey.String
	}
	if scheduledFor.Valid {
		n.ScheduledFor = &scheduledFor.Time
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		n.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	if failedAt.Valid {
		n.FailedAt = &failedAt.Time
	}
	if nextRetryAt.Valid {
		n.NextRetryAt = &nextRetryAt.Time
	}

	return &n, nil
}

func (r *NotifyRepository) GetByID(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	id uuid.UUID,
) (*entity.Notification, error) {
	const op = "repository.notify.GetByID"

	executor := r.exec(qe)

	sql, args, err := r.db.Select(notificationColumns).
		From("notifications").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	result, err := scanNotification(executor.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotificationNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

func (r *NotifyRepository) GetByIdempotencyKey(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	key string,
) (*entity.Notification, error) {
	const op = "repository.notify.GetByIdempotencyKey"

	sql, args, err := r.db.Select(notificationColumns).
		From("notifications").
		Where(squirrel.Eq{"tenant_id": tenantID, "idempotency_key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	result, err := scanNotification(r.exec(qe).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotificationNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

func (r *NotifyRepository) GetByProviderMessageID(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	providerMessageID string,
) (*entity.Notification, error) {
	const op = "repository.notify.GetByProviderMessageID"

	sql, args, err := r.db.Select(notificationColumns).
		From("notifications").
		Where(squirrel.Eq{"provider_message_id": providerMessageID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	result, err := scanNotification(r.exec(qe).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotificationNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

func (r *NotifyRepository) listDue(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	statuses []entity.Status,
	dueColumn string,
	now time.Time,
	limit uint64,
) ([]entity.Notification, error) {
	op := "repository.notify.listDue." + dueColumn

	executor := r.exec(qe)

	if limit == 0 {
		return nil, fmt.Errorf("%s: limit must be > 0", op)
	}

	sql, args, err := r.db.Select(notificationColumns).
		From("notifications").
		Where(squirrel.Eq{"status": statuses}).
		Where(squirrel.LtOrEq{dueColumn: now}).
		OrderBy(dueColumn + " ASC").
		Limit(limit).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var notifies []entity.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		notifies = append(notifies, *n)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}

	return notifies, nil
}

// FindDueRetries returns failed notifications with next_retry_at <= now
// and attempt budget remaining, plus rate_limited notifications whose
// admission window has rolled over, ordered ascending (spec.md
// §4.C1/§4.C8, §7's processing-time RateLimited requeue).
func (r *NotifyRepository) FindDueRetries(ctx context.Context, qe pgxdriver.QueryExecuter, now time.Time, limit uint64) ([]entity.Notification, error) {
	return r.listDue(ctx, qe, []entity.Status{entity.StatusFailed, entity.StatusRateLimited}, "next_retry_at", now, limit)
}

// FindDueScheduled returns scheduled notifications whose scheduled_for
// has passed, ordered ascending (spec.md §4.C1/§4.C9).
func (r *NotifyRepository) FindDueScheduled(ctx context.Context, qe pgxdriver.QueryExecuter, now time.Time, limit uint64) ([]entity.Notification, error) {
	return r.listDue(ctx, qe, []entity.Status{entity.StatusScheduled}, "scheduled_for", now, limit)
}

// StatePatch carries the state-specific columns that accompany a status
// flip so the UPDATE can set them atomically with the CAS guard.
type StatePatch struct {
	ProviderMessageID *string
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	FailedAt          *time.Time
	NextRetryAt       *time.Time
	ClearNextRetryAt  bool
	LastErrorCode     *string
	LastErrorMessage  *string
	IncrementAttempt  bool
}

// UpdateStateCAS performs the compare-and-set transition required by
// spec.md §5: the UPDATE only succeeds if the current status is one of
// AllowedPredecessors[newState].
func (r *NotifyRepository) UpdateStateCAS(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	id uuid.UUID,
	newState entity.Status,
	patch StatePatch,
	now time.Time,
) (*entity.Notification, error) {
	const op = "repository.notify.UpdateStateCAS"

	predecessors, ok := entity.AllowedPredecessors[newState]
	if !ok {
		return nil, fmt.Errorf("%s: no predecessor rule for %s: %w", op, newState, entity.ErrIllegalTransition)
	}

	update := r.db.Update("notifications").
		Set("status", newState).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"status": predecessors})

	if patch.ProviderMessageID != nil {
		update = update.Set("provider_message_id", squirrel.Expr("COALESCE(provider_message_id, ?)", *patch.ProviderMessageID))
	}
	if patch.SentAt != nil {
		update = update.Set("sent_at", *patch.SentAt)
	}
	if patch.DeliveredAt != nil {
		update = update.Set("delivered_at", squirrel.Expr("COALESCE(delivered_at, ?)", *patch.DeliveredAt))
	}
	if patch.ReadAt != nil {
		update = update.Set("read_at", squirrel.Expr("COALESCE(read_at, ?)", *patch.ReadAt))
	}
	if patch.FailedAt != nil {
		update = update.Set("failed_at", squirrel.Expr("COALESCE(failed_at, ?)", *patch.FailedAt))
	}
	if patch.ClearNextRetryAt {
		update = update.Set("next_retry_at", nil)
	} else if patch.NextRetryAt != nil {
		update = update.Set("next_retry_at", *patch.NextRetryAt)
	}
	update = update.Set("last_error_code", patch.LastErrorCode)
	update = update.Set("last_error_message", patch.LastErrorMessage)
	if patch.IncrementAttempt {
		update = update.Set("attempt_number", squirrel.Expr("attempt_number + 1"))
	}

	sql, args, err := update.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: update query: %w", op, err)
	}

	res, err := r.exec(qe).Exec(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if res.RowsAffected() == 0 {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrIllegalTransition)
	}

	return r.GetByID(ctx, qe, id)
}

// StampOutOfOrder persists the monotonic timestamp columns carried by
// patch without gating on the status CAS predecessor check. It backs
// spec.md §5's "callbacks may arrive out of order ... the handler must
// tolerate this by setting each timestamp independently" rule for the
// case where the status transition itself is stale (the row already
// advanced past the callback's target state) but the timestamp still
// needs recording. Status, attempt counters, and retry scheduling are
// left untouched; only sent_at/delivered_at/read_at/failed_at are ever
// set here, each guarded by COALESCE so a repeated callback is a no-op.
func (r *NotifyRepository) StampOutOfOrder(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	id uuid.UUID,
	patch StatePatch,
	now time.Time,
) error {
	const op = "repository.notify.StampOutOfOrder"

	update := r.db.Update("notifications").
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id})

	touched := false
	if patch.SentAt != nil {
		update = update.Set("sent_at", squirrel.Expr("COALESCE(sent_at, ?)", *patch.SentAt))
		touched = true
	}
	if patch.DeliveredAt != nil {
		update = update.Set("delivered_at", squirrel.Expr("COALESCE(delivered_at, ?)", *patch.DeliveredAt))
		touched = true
	}
	if patch.ReadAt != nil {
		update = update.Set("read_at", squirrel.Expr("COALESCE(read_at, ?)", *patch.ReadAt))
		touched = true
	}
	if patch.FailedAt != nil {
		update = update.Set("failed_at", squirrel.Expr("COALESCE(failed_at, ?)", *patch.FailedAt))
		touched = true
	}
	if !touched {
		return nil
	}

	sql, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("%s: build update: %w", op, err)
	}
	if _, err := r.exec(qe).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListFilter narrows the analytics listing endpoint.
type ListFilter struct {
	Status    *entity.Status
	EventType *string
	Page      int
	Limit     int
}

func (r *NotifyRepository) ListByTenant(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	f ListFilter,
) ([]entity.Notification, error) {
	const op = "repository.notify.ListByTenant"

	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Page < 0 {
		f.Page = 0
	}

	q := r.db.Select(notificationColumns).
		From("notifications").
		Where(squirrel.Eq{"tenant_id": tenantID}).
		OrderBy("created_at DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Page * f.Limit))

	if f.Status != nil {
		q = q.Where(squirrel.Eq{"status": *f.Status})
	}
	if f.EventType != nil {
		q = q.Where(squirrel.Eq{"event_type": *f.EventType})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := r.exec(qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var notifies []entity.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		notifies = append(notifies, *n)
	}
	return notifies, rows.Err()
}

// Stats aggregates counts and average latency for the analytics summary
// endpoint.
type Stats struct {
	Total        int64
	Sent         int64
	Failed       int64
	Delivered    int64
	Read         int64
	AvgLatencyMs float64
}

func (r *NotifyRepository) Stats(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	tenantID uuid.UUID,
	start, end time.Time,
) (*Stats, error) {
	const op = "repository.notify.Stats"

	sql, args, err := squirrel.Select(
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE n.status = 'sent')",
		"COUNT(*) FILTER (WHERE n.status = 'failed')",
		"COUNT(*) FILTER (WHERE n.status = 'delivered')",
		"COUNT(*) FILTER (WHERE n.status = 'read')",
		"COALESCE(AVG(d.latency_ms), 0)",
	).
		From("notifications n").
		LeftJoin("delivery_logs d ON d.notification_id = n.id").
		Where(squirrel.Eq{"n.tenant_id": tenantID}).
		Where(squirrel.GtOrEq{"n.created_at": start}).
		Where(squirrel.LtOrEq{"n.created_at": end}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	var s Stats
	err = r.exec(qe).QueryRow(ctx, sql, args...).Scan(&s.Total, &s.Sent, &s.Failed, &s.Delivered, &s.Read, &s.AvgLatencyMs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &s, nil
}

// ReconcileStuckQueued implements the startup reconciliation pass from
// spec.md §4.C5: every row still queued whose updated_at is older than
// olderThan is flipped to failed with an immediate next_retry_at so C8
// picks it back up. The queue itself is not consulted, so a row whose
// message is still in flight is flipped as well.
func (r *NotifyRepository) ReconcileStuckQueued(
	ctx context.Context,
	qe pgxdriver.QueryExecuter,
	olderThan time.Time,
	now time.Time,
) (int64, error) {
	const op = "repository.notify.ReconcileStuckQueued"

	sql, args, err := r.db.Update("notifications").
		Set("status", entity.StatusFailed).
		Set("next_retry_at", now).
		Set("updated_at", now).
		Where(squirrel.Eq{"status": entity.StatusQueued}).
		Where(squirrel.Lt{"updated_at": olderThan}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: update query: %w", op, err)
	}

	res, err := r.exec(qe).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.RowsAffected(), nil
}

// AppendDeliveryLog writes the append-only attempt audit row.
func (r *NotifyRepository) AppendDeliveryLog(ctx context.Context, qe pgxdriver.QueryExecuter, log entity.DeliveryLog) error {
	const op = "repository.notify.AppendDeliveryLog"

	sql, args, err := r.db.Insert("delivery_logs").
		Columns("id", "notification_id", "attempt_ordinal", "state", "provider_message_id",
			"error_code", "error_message", "latency_ms", "raw_response", "created_at").
		Values(log.ID, log.NotificationID, log.AttemptOrdinal, log.State, log.ProviderMessageID,
			log.ErrorCode, log.ErrorMessage, log.LatencyMs, log.RawResponse, log.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: insert query: %w", op, err)
	}

	if _, err := r.exec(qe).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *NotifyRepository) ListDeliveryLogs(ctx context.Context, qe pgxdriver.QueryExecuter, notificationID uuid.UUID) ([]entity.DeliveryLog, error) {
	const op = "repository.notify.ListDeliveryLogs"

	sql, args, err := r.db.Select(
		"id", "notification_id", "attempt_ordinal", "state", "provider_message_id",
		"error_code", "error_message", "latency_ms", "raw_response", "created_at",
	).
		From("delivery_logs").
		Where(squirrel.Eq{"notification_id": notificationID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: select query: %w", op, err)
	}

	rows, err := r.exec(qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var logs []entity.DeliveryLog
	for rows.Next() {
		var l entity.DeliveryLog
		var providerMessageID, errorCode, errorMessage pgtype.Text
		var latencyMs pgtype.Int8
		if err := rows.Scan(&l.ID, &l.NotificationID, &l.AttemptOrdinal, &l.State, &providerMessageID,
			&errorCode, &errorMessage, &latencyMs, &l.RawResponse, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if providerMessageID.Valid {
			l.ProviderMessageID = &providerMessageID.String
		}
		if errorCode.Valid {
			l.ErrorCode = &errorCode.String
		}
		if errorMessage.Valid {
			l.ErrorMessage = &errorMessage.String
		}
		if latencyMs.Valid {
			l.LatencyMs = &latencyMs.Int64
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
