package delegations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/db"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// remainingExpr projects the unsold balance of delegation alias d.
const remainingExpr = `GREATEST(0, d.original_quantity
 - COALESCE((SELECT SUM(sa.quantity - sa.returned_quantity) FROM sale_allocations sa WHERE sa.delegation_id = d.id), 0)
 - COALESCE((SELECT SUM(da.quantity) FROM delegation_adjustments da WHERE da.delegation_id = d.id), 0))::bigint`

const delegationSelect = `SELECT d.id, d.medicine_id, m.name, d.delegated_by, d.delegated_to, d.quantity, d.original_quantity,
` + remainingExpr + `, d.remarks, d.delegation_date, d.created_at
FROM delegations d
JOIN medicines m ON m.id = d.medicine_id`

// PGRepository persists the delegation ledger in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn inside one ledger transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.LedgerTx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads one delegation.
func (r *PGRepository) Get(ctx context.Context, id int64) (Delegation, error) {
	d, err := scanDelegation(r.pool.QueryRow(ctx, delegationSelect+` WHERE d.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Delegation{}, shared.NotFoundf("delegation %d", id)
	}
	return d, err
}

// List returns a page of delegations, newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Delegation, int, error) {
	where := ` WHERE ($1::bigint = 0 OR d.medicine_id = $1) AND ($2::text = '' OR d.delegated_to = $2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delegations d`+where, filter.MedicineID, string(filter.DelegatedTo)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count delegations: %w", err)
	}
	rows, err := r.pool.Query(ctx, delegationSelect+where+` ORDER BY d.delegation_date DESC, d.id DESC LIMIT $3 OFFSET $4`,
		filter.MedicineID, string(filter.DelegatedTo), filter.Page.Limit(), filter.Page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list delegations: %w", err)
	}
	defer rows.Close()
	var out []Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// ListNotifications returns notifications addressed to role, newest first.
func (r *PGRepository) ListNotifications(ctx context.Context, role shared.Role, unreadOnly bool) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT n.id, n.medicine_id, m.name, n.delegated_to, n.quantity, n.message, n.is_read, n.created_at
FROM delegation_notifications n
JOIN medicines m ON m.id = n.medicine_id
WHERE n.delegated_to = $1 AND (NOT $2 OR NOT n.is_read)
ORDER BY n.created_at DESC, n.id DESC`, string(role), unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var (
			n    Notification
			role string
		)
		if err := rows.Scan(&n.ID, &n.MedicineID, &n.MedicineName, &role, &n.Quantity, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.DelegatedTo = shared.Role(role)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags one notification of role as read.
func (r *PGRepository) MarkNotificationRead(ctx context.Context, id int64, role shared.Role) error {
	tag, err := r.pool.Exec(ctx, `UPDATE delegation_notifications SET is_read = TRUE WHERE id = $1 AND delegated_to = $2`, id, string(role))
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("notification %d", id)
	}
	return nil
}

// MarkAllNotificationsRead flags every unread notification of role.
func (r *PGRepository) MarkAllNotificationsRead(ctx context.Context, role shared.Role) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE delegation_notifications SET is_read = TRUE WHERE delegated_to = $1 AND NOT is_read`, string(role))
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepository) ClaimIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	return shared.ClaimIdempotencyKey(ctx, t.tx, key, shared.IdempotencyDelegations)
}

func (t *txRepository) CompleteIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	return shared.CompleteIdempotencyKey(ctx, t.tx, key, shared.IdempotencyDelegations, resourceID)
}

func (t *txRepository) LockMedicine(ctx context.Context, id int64) (medicines.Stock, error) {
	return medicines.LockStock(ctx, t.tx, id)
}

func (t *txRepository) SetMedicineQuantity(ctx context.Context, id, quantity int64) error {
	return medicines.SetQuantity(ctx, t.tx, id, quantity)
}

func (t *txRepository) LockBalances(ctx context.Context, medicineID int64, role shared.Role) ([]Balance, error) {
	return LockBalances(ctx, t.tx, medicineID, role)
}

func (t *txRepository) InsertDelegation(ctx context.Context, d Delegation) (Delegation, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO delegations
(medicine_id, delegated_by, delegated_to, quantity, original_quantity, remarks, delegation_date)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`,
		d.MedicineID, d.DelegatedBy, string(d.DelegatedTo), d.Quantity, d.OriginalQuantity, d.Remarks, d.DelegationDate).
		Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return Delegation{}, fmt.Errorf("insert delegation: %w", err)
	}
	return d, nil
}

func (t *txRepository) InsertNotification(ctx context.Context, n Notification) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO delegation_notifications (medicine_id, delegated_to, quantity, message)
VALUES ($1, $2, $3, $4) RETURNING id`, n.MedicineID, string(n.DelegatedTo), n.Quantity, n.Message).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

func (t *txRepository) InsertAdjustments(ctx context.Context, adjustments []Adjustment) error {
	batch := &pgx.Batch{}
	for _, a := range adjustments {
		batch.Queue(`INSERT INTO delegation_adjustments (delegation_id, quantity, reason, created_by) VALUES ($1, $2, $3, $4)`,
			a.DelegationID, a.Quantity, a.Reason, a.CreatedBy)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert adjustments: %w", err)
	}
	return nil
}

// LockBalances locks every delegation of medicineID to role inside tx, oldest
// first, and returns their balances. Sale allocations and adjustments of a
// delegation are only written while its row is locked, so the sums read here
// stay valid until tx ends.
func LockBalances(ctx context.Context, tx pgx.Tx, medicineID int64, role shared.Role) ([]Balance, error) {
	rows, err := tx.Query(ctx, `SELECT id FROM delegations
WHERE medicine_id = $1 AND delegated_to = $2
ORDER BY delegation_date, id
FOR UPDATE`, medicineID, string(role))
	if err != nil {
		return nil, fmt.Errorf("lock delegations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("lock delegations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return loadBalances(ctx, tx, ids)
}

// LockBalance locks a single delegation inside tx and returns its balance.
func LockBalance(ctx context.Context, tx pgx.Tx, delegationID int64) (Balance, error) {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM delegations WHERE id = $1 FOR UPDATE`, delegationID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, shared.NotFoundf("delegation %d", delegationID)
	}
	if err != nil {
		return Balance{}, fmt.Errorf("lock delegation %d: %w", delegationID, err)
	}
	balances, err := loadBalances(ctx, tx, []int64{id})
	if err != nil {
		return Balance{}, err
	}
	return balances[0], nil
}

func loadBalances(ctx context.Context, tx pgx.Tx, ids []int64) ([]Balance, error) {
	rows, err := tx.Query(ctx, `SELECT d.id, d.medicine_id, d.delegated_to, d.original_quantity, d.delegation_date,
 COALESCE((SELECT SUM(sa.quantity - sa.returned_quantity) FROM sale_allocations sa WHERE sa.delegation_id = d.id), 0)::bigint,
 COALESCE((SELECT SUM(da.quantity) FROM delegation_adjustments da WHERE da.delegation_id = d.id), 0)::bigint
FROM delegations d
WHERE d.id = ANY($1)
ORDER BY d.delegation_date, d.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var (
			b    Balance
			role string
		)
		if err := rows.Scan(&b.DelegationID, &b.MedicineID, &role, &b.OriginalQuantity, &b.DelegationDate, &b.Consumed, &b.Adjusted); err != nil {
			return nil, err
		}
		b.DelegatedTo = shared.Role(role)
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanDelegation(row pgx.Row) (Delegation, error) {
	var (
		d    Delegation
		role string
	)
	err := row.Scan(&d.ID, &d.MedicineID, &d.MedicineName, &d.DelegatedBy, &role, &d.Quantity, &d.OriginalQuantity,
		&d.RemainingQuantity, &d.Remarks, &d.DelegationDate, &d.CreatedAt)
	d.DelegatedTo = shared.Role(role)
	return d, err
}

var _ Repository = (*PGRepository)(nil)
