package returns

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/db"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

const returnColumns = `r.id, r.reference::text, r.sale_id, r.patient_name, r.reason, r.total_returned, r.total_original,
r.is_full_return, r.returned_by, r.return_date, r.created_at`

// PGRepository persists the return ledger in PostgreSQL.
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

// Get loads one return with items and credits.
func (r *PGRepository) Get(ctx context.Context, id int64) (Return, error) {
	ret, err := scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM sales_returns r WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, shared.NotFoundf("return %d", id)
	}
	if err != nil {
		return Return{}, err
	}
	out := []Return{ret}
	if err := attachItems(ctx, r.pool, out); err != nil {
		return Return{}, err
	}
	return out[0], nil
}

// List returns a page of returns, newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Return, int, error) {
	where := ` WHERE ($1::bigint = 0 OR r.sale_id = $1)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales_returns r`+where, filter.SaleID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count returns: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+returnColumns+` FROM sales_returns r`+where+`
ORDER BY r.return_date DESC, r.id DESC LIMIT $2 OFFSET $3`, filter.SaleID, filter.Page.Limit(), filter.Page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list returns: %w", err)
	}
	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, ret)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := attachItems(ctx, r.pool, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (t *txRepository) ClaimIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	return shared.ClaimIdempotencyKey(ctx, t.tx, key, shared.IdempotencyReturns)
}

func (t *txRepository) CompleteIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	return shared.CompleteIdempotencyKey(ctx, t.tx, key, shared.IdempotencyReturns, resourceID)
}

func (t *txRepository) LockReceipt(ctx context.Context, saleID int64) (sales.Receipt, error) {
	return sales.LockReceipt(ctx, t.tx, saleID)
}

func (t *txRepository) LockMedicine(ctx context.Context, id int64) (medicines.Stock, error) {
	return medicines.LockStock(ctx, t.tx, id)
}

func (t *txRepository) SetMedicineQuantity(ctx context.Context, id, quantity int64) error {
	return medicines.SetQuantity(ctx, t.tx, id, quantity)
}

func (t *txRepository) LockBalance(ctx context.Context, delegationID int64) (delegations.Balance, error) {
	return delegations.LockBalance(ctx, t.tx, delegationID)
}

func (t *txRepository) SetLineReturned(ctx context.Context, lineID, returned int64, status sales.Status) error {
	return sales.SetLineReturned(ctx, t.tx, lineID, returned, status)
}

func (t *txRepository) SetAllocationReturned(ctx context.Context, allocationID, returned int64) error {
	return sales.SetAllocationReturned(ctx, t.tx, allocationID, returned)
}

func (t *txRepository) InsertReturn(ctx context.Context, r Return) (Return, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO sales_returns
(reference, sale_id, patient_name, reason, total_returned, total_original, is_full_return, returned_by, return_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at`,
		r.Reference, r.SaleID, r.PatientName, r.Reason, r.TotalReturned, r.TotalOriginal, r.IsFullReturn,
		r.ReturnedBy, r.ReturnDate).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return Return{}, fmt.Errorf("insert return: %w", err)
	}
	for i := range r.Items {
		item := &r.Items[i]
		item.ReturnID = r.ID
		err := t.tx.QueryRow(ctx, `INSERT INTO sales_return_items (return_id, sale_line_id, medicine_id, quantity_returned, refund_amount)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			r.ID, item.SaleLineID, item.MedicineID, item.QuantityReturned, item.RefundAmount).Scan(&item.ID)
		if err != nil {
			return Return{}, fmt.Errorf("insert return item: %w", err)
		}
		for j := range item.Credits {
			c := &item.Credits[j]
			c.ReturnItemID = item.ID
			err := t.tx.QueryRow(ctx, `INSERT INTO sales_return_credits (return_item_id, allocation_id, delegation_id, quantity)
VALUES ($1, $2, $3, $4) RETURNING id`, item.ID, c.AllocationID, c.DelegationID, c.Quantity).Scan(&c.ID)
			if err != nil {
				return Return{}, fmt.Errorf("insert return credit: %w", err)
			}
		}
	}
	return r, nil
}

func (t *txRepository) LockReturn(ctx context.Context, id int64) (Return, error) {
	ret, err := scanReturn(t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM sales_returns r WHERE r.id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, shared.NotFoundf("return %d", id)
	}
	if err != nil {
		return Return{}, fmt.Errorf("lock return %d: %w", id, err)
	}
	out := []Return{ret}
	if err := attachItems(ctx, t.tx, out); err != nil {
		return Return{}, err
	}
	return out[0], nil
}

func (t *txRepository) DeleteReturn(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM sales_returns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete return %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("return %d", id)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func attachItems(ctx context.Context, q querier, returns []Return) error {
	if len(returns) == 0 {
		return nil
	}
	ids := make([]int64, len(returns))
	index := make(map[int64]int, len(returns))
	for i, r := range returns {
		ids[i] = r.ID
		index[r.ID] = i
	}

	rows, err := q.Query(ctx, `SELECT c.id, c.return_item_id, c.allocation_id, c.delegation_id, c.quantity
FROM sales_return_credits c
JOIN sales_return_items i ON i.id = c.return_item_id
WHERE i.return_id = ANY($1)
ORDER BY c.id`, ids)
	if err != nil {
		return fmt.Errorf("load return credits: %w", err)
	}
	credits := make(map[int64][]Credit)
	for rows.Next() {
		var c Credit
		if err := rows.Scan(&c.ID, &c.ReturnItemID, &c.AllocationID, &c.DelegationID, &c.Quantity); err != nil {
			rows.Close()
			return err
		}
		credits[c.ReturnItemID] = append(credits[c.ReturnItemID], c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `SELECT i.id, i.return_id, i.sale_line_id, i.medicine_id, m.name, i.quantity_returned, i.refund_amount
FROM sales_return_items i
JOIN medicines m ON m.id = i.medicine_id
WHERE i.return_id = ANY($1)
ORDER BY i.return_id, i.id`, ids)
	if err != nil {
		return fmt.Errorf("load return items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ReturnID, &item.SaleLineID, &item.MedicineID, &item.MedicineName,
			&item.QuantityReturned, &item.RefundAmount); err != nil {
			return err
		}
		item.Credits = credits[item.ID]
		i := index[item.ReturnID]
		returns[i].Items = append(returns[i].Items, item)
	}
	return rows.Err()
}

func scanReturn(row pgx.Row) (Return, error) {
	var r Return
	err := row.Scan(&r.ID, &r.Reference, &r.SaleID, &r.PatientName, &r.Reason, &r.TotalReturned, &r.TotalOriginal,
		&r.IsFullReturn, &r.ReturnedBy, &r.ReturnDate, &r.CreatedAt)
	return r, err
}

var _ Repository = (*PGRepository)(nil)
