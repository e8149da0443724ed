package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"notifyrelay/internal/entity"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

// TenantRepository resolves Open Question 2 from spec.md §9: API keys
// map to a tenant rather than serving as the tenant identifier
// themselves.
type TenantRepository struct {
	db *pgxdriver.Postgres
}

func NewTenantRepository(db *pgxdriver.Postgres) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) exec(qe pgxdriver.QueryExecuter) pgxdriver.QueryExecuter {
	if qe != nil {
		return qe
	}
	return r.db
}

// HashAPIKey is the lookup form stored alongside api_keys; raw keys
// never touch the database.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (r *TenantRepository) GetByID(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID) (*entity.Tenant, error) {
	const op = "repository.tenant.GetByID"

	sql, args, err := r.db.Select("id", "name", "rate_limit_per_hour", "rate_limit_per_minute", "created_at").
		From("tenants").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build select: %w", op, err)
	}

	var t entity.Tenant
	err = r.exec(qe).QueryRow(ctx, sql, args...).Scan(&t.ID, &t.Name, &t.RateLimitPerHour, &t.RateLimitPerMinute, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrTenantNotFound)
		}
		return nil, fmt.Errorf("%s: scan: %w", op, err)
	}
	return &t, nil
}

// AuthenticateAPIKey resolves a bearer key to its tenant, rejecting
// revoked keys. The raw key is hashed before the lookup so the
// database never stores credential material in cleartext.
func (r *TenantRepository) AuthenticateAPIKey(ctx context.Context, qe pgxdriver.QueryExecuter, rawKey string) (*entity.Tenant, error) {
	const op = "repository.tenant.AuthenticateAPIKey"

	hash := HashAPIKey(rawKey)

	sql, args, err := r.db.Select("tenant_id", "revoked").
		From("api_keys").
		Where(squirrel.Eq{"key_hash": hash}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build select: %w", op, err)
	}

	var tenantID uuid.UUID
	var revoked bool
	err = r.exec(qe).QueryRow(ctx, sql, args...).Scan(&tenantID, &revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrInvalidAPIKey)
		}
		return nil, fmt.Errorf("%s: scan: %w", op, err)
	}
	if revoked {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrInvalidAPIKey)
	}

	return r.GetByID(ctx, qe, tenantID)
}
