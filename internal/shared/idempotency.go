package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Idempotency modules, one per kind of created resource.
const (
	IdempotencyDelegations = "delegations"
	IdempotencySales       = "sales"
	IdempotencyReturns     = "returns"
)

// ErrIdempotencyConflict indicates a key that was claimed but never completed.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// Querier is satisfied by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ClaimIdempotencyKey reserves key for module inside the caller's transaction.
// When the key was already completed by an earlier request it returns that
// request's resource id and claimed=false. Concurrent claims of the same key
// block on the primary key until the first transaction finishes.
func ClaimIdempotencyKey(ctx context.Context, q Querier, key, module string) (resourceID int64, claimed bool, err error) {
	if key == "" || module == "" {
		return 0, false, errors.New("idempotency key and module required")
	}
	tag, err := q.Exec(ctx, `INSERT INTO idempotency_keys (module, key, created_at) VALUES ($1, $2, $3)
ON CONFLICT (module, key) DO NOTHING`, module, key, time.Now())
	if err != nil {
		return 0, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return 0, true, nil
	}
	var id *int64
	if err := q.QueryRow(ctx, `SELECT resource_id FROM idempotency_keys WHERE module=$1 AND key=$2`, module, key).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("load idempotency key: %w", err)
	}
	if id == nil {
		return 0, false, ErrIdempotencyConflict
	}
	return *id, false, nil
}

// CompleteIdempotencyKey records the resource created under a claimed key.
func CompleteIdempotencyKey(ctx context.Context, q Querier, key, module string, resourceID int64) error {
	_, err := q.Exec(ctx, `UPDATE idempotency_keys SET resource_id=$3 WHERE module=$1 AND key=$2`, module, key, resourceID)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// IdempotencyStore maintains processed keys outside request transactions.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Cleanup removes entries older than retention and reports how many were removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
