package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/tenant"
)

// Compile-time checks.
var (
	_ SubscriptionRepository = (*PostgresSubscriptionRepository)(nil)
	_ IdempotencyStore       = (*PostgresIdempotencyStore)(nil)
	_ TenantStore            = (*PostgresTenantStore)(nil)
	_ DeadLetterStore        = (*PostgresDeadLetterStore)(nil)
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresSubscriptionRepository implements SubscriptionRepository using
// PostgreSQL.
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptionRepository(pool *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool}
}

const subscriptionColumns = `id, tenant_id, processor, processor_subscription_id, plan_id,
	billing_cycle, state, version, last_event_id, current_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.TenantID,
		&sub.Processor,
		&sub.ProcessorSubscriptionID,
		&sub.PlanID,
		&sub.BillingCycle,
		&sub.State,
		&sub.Version,
		&sub.LastEventID,
		&sub.CurrentPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &sub, nil
}

func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresSubscriptionRepository) GetByProcessorID(ctx context.Context, processor domain.Processor, psid string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE processor = $1 AND processor_subscription_id = $2
		ORDER BY created_at DESC
		LIMIT 1`
	return scanSubscription(r.pool.QueryRow(ctx, query, processor, psid))
}

func (r *PostgresSubscriptionRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	return scanSubscription(r.pool.QueryRow(ctx, query, tenantID))
}

func (r *PostgresSubscriptionRepository) Insert(ctx context.Context, sub *domain.Subscription) error {
	query := `INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		sub.ID,
		sub.TenantID,
		sub.Processor,
		sub.ProcessorSubscriptionID,
		sub.PlanID,
		sub.BillingCycle,
		sub.State,
		sub.Version,
		sub.LastEventID,
		sub.CurrentPeriodEnd,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	query := `UPDATE subscriptions
		SET plan_id = $1, billing_cycle = $2, state = $3, version = $4,
			last_event_id = $5, current_period_end = $6, updated_at = $7
		WHERE id = $8 AND version = $9`
	tag, err := r.pool.Exec(ctx, query,
		sub.PlanID,
		sub.BillingCycle,
		sub.State,
		sub.Version,
		sub.LastEventID,
		sub.CurrentPeriodEnd,
		sub.UpdatedAt,
		sub.ID,
		sub.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row vanished or the version moved under us.
		if _, getErr := r.GetByID(ctx, sub.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// PostgresIdempotencyStore implements IdempotencyStore using PostgreSQL.
type PostgresIdempotencyStore struct {
	pool *pgxpool.Pool
}

func NewPostgresIdempotencyStore(pool *pgxpool.Pool) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{pool: pool}
}

func (s *PostgresIdempotencyStore) Get(ctx context.Context, processor domain.Processor, rawEventID string) (*IdempotencyRecord, error) {
	query := `SELECT processor, raw_event_id, applied_at, resulting_subscription_version
		FROM idempotency_records
		WHERE processor = $1 AND raw_event_id = $2`
	var rec IdempotencyRecord
	err := s.pool.QueryRow(ctx, query, processor, rawEventID).Scan(
		&rec.Processor,
		&rec.RawEventID,
		&rec.AppliedAt,
		&rec.ResultingSubscriptionVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresIdempotencyStore) Put(ctx context.Context, rec *IdempotencyRecord) error {
	query := `INSERT INTO idempotency_records (processor, raw_event_id, applied_at, resulting_subscription_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (processor, raw_event_id)
		DO UPDATE SET applied_at = EXCLUDED.applied_at,
			resulting_subscription_version = EXCLUDED.resulting_subscription_version`
	_, err := s.pool.Exec(ctx, query, rec.Processor, rec.RawEventID, rec.AppliedAt, rec.ResultingSubscriptionVersion)
	if err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}

// PostgresTenantStore implements TenantStore using PostgreSQL.
type PostgresTenantStore struct {
	pool *pgxpool.Pool
}

func NewPostgresTenantStore(pool *pgxpool.Pool) *PostgresTenantStore {
	return &PostgresTenantStore{pool: pool}
}

func (s *PostgresTenantStore) Get(ctx context.Context, tenantID uuid.UUID) (*tenant.Tenant, error) {
	query := `SELECT id, plan, plan_status, subscription_expires_at
		FROM tenants
		WHERE id = $1`
	var t tenant.Tenant
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&t.ID,
		&t.Plan,
		&t.PlanStatus,
		&t.SubscriptionExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresTenantStore) UpdateEntitlement(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID, status domain.PlanStatus, expiresAt time.Time) error {
	query := `UPDATE tenants
		SET plan = $1, plan_status = $2, subscription_expires_at = $3, updated_at = now()
		WHERE id = $4`
	tag, err := s.pool.Exec(ctx, query, plan, status, expiresAt, tenantID)
	if err != nil {
		return fmt.Errorf("update tenant entitlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresDeadLetterStore implements DeadLetterStore using PostgreSQL.
// The canonical event is stored as JSONB so letters can be replayed.
type PostgresDeadLetterStore struct {
	pool *pgxpool.Pool
}

func NewPostgresDeadLetterStore(pool *pgxpool.Pool) *PostgresDeadLetterStore {
	return &PostgresDeadLetterStore{pool: pool}
}

func (s *PostgresDeadLetterStore) Add(ctx context.Context, dl *DeadLetter) error {
	event, err := json.Marshal(dl.Event)
	if err != nil {
		return fmt.Errorf("encode dead letter event: %w", err)
	}
	query := `INSERT INTO payment_dead_letters (id, event, attempts, last_error, first_seen, dead_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.pool.Exec(ctx, query, dl.ID, event, dl.Attempts, dl.LastError, dl.FirstSeen, dl.DeadAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *PostgresDeadLetterStore) List(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, event, attempts, last_error, first_seen, dead_at
		FROM payment_dead_letters
		ORDER BY dead_at DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*DeadLetter
	for rows.Next() {
		var (
			dl    DeadLetter
			event []byte
		)
		if err := rows.Scan(&dl.ID, &event, &dl.Attempts, &dl.LastError, &dl.FirstSeen, &dl.DeadAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal(event, &dl.Event); err != nil {
			return nil, fmt.Errorf("decode dead letter event: %w", err)
		}
		out = append(out, &dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}
