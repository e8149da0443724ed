package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notifyrelay/internal/entity"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

// RateLimitRepository backs C2, the per-recipient admission limiter
// from spec.md §4. Windows are hour-aligned rows keyed by recipient
// phone; admission increments the current bucket with an UPSERT and
// then compares the running total against the cap. The increment is
// unconditional (a denied attempt still counts) and is not bounded by
// the cap, so concurrent callers are not serialized against it.
type RateLimitRepository struct {
	db *pgxdriver.Postgres
}

func NewRateLimitRepository(db *pgxdriver.Postgres) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

func (r *RateLimitRepository) exec(qe pgxdriver.QueryExecuter) pgxdriver.QueryExecuter {
	if qe != nil {
		return qe
	}
	return r.db
}

func windowBounds(now time.Time) (time.Time, time.Time) {
	start := now.Truncate(time.Hour)
	return start, start.Add(time.Hour)
}

// TryAdmit atomically increments the recipient's current hour bucket,
// then sums it against the immediately preceding bucket to approximate
// the sliding trailing hour spec.md §4.C2 requires: admission is a
// property of `[now-1h, now]`, not of a single hour-aligned bucket, so
// a recipient straddling a bucket boundary can't be admitted for up to
// 2x limitPerHour just because the fixed window rolled over. Only the
// current and previous buckets can overlap a 1h-wide trailing window,
// so summing those two covers it. The previous bucket is counted whole,
// including messages older than now-1h, so the sum can exceed the true
// trailing-hour count and errs toward denial.
func (r *RateLimitRepository) TryAdmit(ctx context.Context, qe pgxdriver.QueryExecuter, recipient string, limit int, now time.Time) (bool, *entity.RateLimitWindow, error) {
	const op = "repository.ratelimit.TryAdmit"

	windowStart, windowEnd := windowBounds(now)
	prevStart := windowStart.Add(-time.Hour)

	sql, args, err := r.db.Insert("rate_limit_windows").
		Columns("recipient", "window_start", "window_end", "message_count").
		Values(recipient, windowStart, windowEnd, 1).
		Suffix(`ON CONFLICT (recipient, window_start) DO UPDATE SET
			message_count = rate_limit_windows.message_count + 1
			RETURNING message_count`).
		ToSql()
	if err != nil {
		return false, nil, fmt.Errorf("%s: build upsert: %w", op, err)
	}

	var count int
	if err := r.exec(qe).QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return false, nil, fmt.Errorf("%s: exec: %w", op, err)
	}

	prevSQL, prevArgs, err := r.db.Select("message_count").
		From("rate_limit_windows").
		Where(squirrel.Eq{"recipient": recipient, "window_start": prevStart}).
		ToSql()
	if err != nil {
		return false, nil, fmt.Errorf("%s: build prev select: %w", op, err)
	}

	var prevCount int
	if err := r.exec(qe).QueryRow(ctx, prevSQL, prevArgs...).Scan(&prevCount); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, nil, fmt.Errorf("%s: prev exec: %w", op, err)
		}
		prevCount = 0
	}

	total := count + prevCount

	w := &entity.RateLimitWindow{
		Recipient:    recipient,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		MessageCount: count,
	}

	return total <= limit, w, nil
}

// RetryAfter reports how long the caller must wait before the current
// window closes, for the Retry-After response header on a 429.
func (r *RateLimitRepository) RetryAfter(now time.Time) time.Duration {
	_, windowEnd := windowBounds(now)
	return windowEnd.Sub(now)
}

// PruneExpiredWindows deletes bucket rows whose window has closed,
// invoked by the scheduler janitor (robfig/cron) so the table doesn't
// grow unbounded.
func (r *RateLimitRepository) PruneExpiredWindows(ctx context.Context, qe pgxdriver.QueryExecuter, olderThan time.Time) (int64, error) {
	const op = "repository.ratelimit.PruneExpiredWindows"

	sql, args, err := r.db.Delete("rate_limit_windows").
		Where(squirrel.Lt{"window_end": olderThan}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: build delete: %w", op, err)
	}

	res, err := r.exec(qe).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: exec: %w", op, err)
	}
	return res.RowsAffected(), nil
}
