package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/db"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

const receiptColumns = `r.id, r.reference::text, r.patient_name, r.unit, r.subtotal, r.discount, r.discount_amount, r.total_amount,
r.sold_by, r.sold_by_role, r.sale_date, r.created_at`

// dateFilter restricts receipt alias r to [$1, $2).
const dateFilter = `($1::timestamptz IS NULL OR r.sale_date >= $1) AND ($2::timestamptz IS NULL OR r.sale_date < $2)`

// PGRepository persists the sale ledger in PostgreSQL.
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

// GetReceipt loads a receipt with lines and allocations.
func (r *PGRepository) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	receipt, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM sale_receipts r WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, shared.NotFoundf("sale %d", id)
	}
	if err != nil {
		return Receipt{}, err
	}
	receipts := []Receipt{receipt}
	if err := attachLines(ctx, r.pool, receipts, false); err != nil {
		return Receipt{}, err
	}
	return receipts[0], nil
}

// ListReceipts returns a page of receipts, newest first.
func (r *PGRepository) ListReceipts(ctx context.Context, filter ListFilter) ([]Receipt, int, error) {
	from, to := filterBounds(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sale_receipts r WHERE `+dateFilter, from, to).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count receipts: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM sale_receipts r WHERE `+dateFilter+`
ORDER BY r.sale_date DESC, r.id DESC LIMIT $3 OFFSET $4`, from, to, filter.Page.Limit(), filter.Page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()
	var receipts []Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := attachLines(ctx, r.pool, receipts, false); err != nil {
		return nil, 0, err
	}
	return receipts, total, nil
}

// Totals aggregates every receipt matching filter. Revenue is net of refunds.
func (r *PGRepository) Totals(ctx context.Context, filter ListFilter) (Totals, error) {
	from, to := filterBounds(filter)
	var (
		totals  Totals
		gross   decimal.Decimal
		refunds decimal.Decimal
	)
	err := r.pool.QueryRow(ctx, `SELECT
 COALESCE((SELECT SUM(r.total_amount) FROM sale_receipts r WHERE `+dateFilter+`), 0),
 (SELECT COUNT(*) FROM sale_receipts r WHERE `+dateFilter+`),
 COALESCE((SELECT SUM(s.quantity - s.returned_quantity) FROM sales s JOIN sale_receipts r ON r.id = s.receipt_id WHERE `+dateFilter+`), 0)::bigint,
 COALESCE((SELECT SUM(ret.total_returned) FROM sales_returns ret JOIN sale_receipts r ON r.id = ret.sale_id WHERE `+dateFilter+`), 0)`,
		from, to).Scan(&gross, &totals.TxCount, &totals.ItemsSold, &refunds)
	if err != nil {
		return Totals{}, fmt.Errorf("sales totals: %w", err)
	}
	totals.Refunded = refunds
	totals.Revenue = gross.Sub(refunds)
	return totals, nil
}

// UnitDiscount returns the configured discount of unit.
func (r *PGRepository) UnitDiscount(ctx context.Context, unit string) (decimal.Decimal, bool, error) {
	var d decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT discount FROM units WHERE LOWER(name) = LOWER($1)`, unit).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

func filterBounds(filter ListFilter) (from, to *time.Time) {
	if !filter.From.IsZero() {
		f := filter.From
		from = &f
	}
	if !filter.To.IsZero() {
		t := filter.To.AddDate(0, 0, 1)
		to = &t
	}
	return from, to
}

func (t *txRepository) ClaimIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	return shared.ClaimIdempotencyKey(ctx, t.tx, key, shared.IdempotencySales)
}

func (t *txRepository) CompleteIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	return shared.CompleteIdempotencyKey(ctx, t.tx, key, shared.IdempotencySales, resourceID)
}

func (t *txRepository) LockMedicine(ctx context.Context, id int64) (medicines.Stock, error) {
	return medicines.LockStock(ctx, t.tx, id)
}

func (t *txRepository) SetMedicineQuantity(ctx context.Context, id, quantity int64) error {
	return medicines.SetQuantity(ctx, t.tx, id, quantity)
}

func (t *txRepository) LockBalances(ctx context.Context, medicineID int64, role shared.Role) ([]delegations.Balance, error) {
	return delegations.LockBalances(ctx, t.tx, medicineID, role)
}

func (t *txRepository) InsertReceipt(ctx context.Context, r Receipt) (Receipt, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_receipts
(reference, patient_name, unit, subtotal, discount, discount_amount, total_amount, sold_by, sold_by_role, sale_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, created_at`,
		r.Reference, r.PatientName, r.Unit, r.Subtotal, r.Discount, r.DiscountAmount, r.TotalAmount,
		r.SoldBy, string(r.SoldByRole), r.SaleDate).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}
	return r, nil
}

func (t *txRepository) InsertSale(ctx context.Context, s Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales
(receipt_id, medicine_id, quantity, selling_price, total_price, status, returned_quantity, sold_by, sold_by_role, sale_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		s.ReceiptID, s.MedicineID, s.Quantity, s.SellingPrice, s.TotalPrice, string(s.Status), s.ReturnedQuantity,
		s.SoldBy, string(s.SoldByRole), s.SaleDate).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sale: %w", err)
	}
	return id, nil
}

func (t *txRepository) InsertAllocation(ctx context.Context, a Allocation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_allocations (sale_id, delegation_id, quantity, returned_quantity)
VALUES ($1, $2, $3, $4) RETURNING id`, a.SaleID, a.DelegationID, a.Quantity, a.ReturnedQuantity).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert allocation: %w", err)
	}
	return id, nil
}

// LockReceipt loads a receipt inside tx with the receipt, its lines and their
// allocations locked FOR UPDATE.
func LockReceipt(ctx context.Context, tx pgx.Tx, id int64) (Receipt, error) {
	receipt, err := scanReceipt(tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM sale_receipts r WHERE r.id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, shared.NotFoundf("sale %d", id)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("lock sale %d: %w", id, err)
	}
	receipts := []Receipt{receipt}
	if err := attachLines(ctx, tx, receipts, true); err != nil {
		return Receipt{}, err
	}
	return receipts[0], nil
}

// SetLineReturned writes the returned quantity and status of a locked line.
func SetLineReturned(ctx context.Context, tx pgx.Tx, lineID, returned int64, status Status) error {
	tag, err := tx.Exec(ctx, `UPDATE sales SET returned_quantity = $2, status = $3 WHERE id = $1`, lineID, returned, string(status))
	if err != nil {
		return fmt.Errorf("update sale line %d: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("sale line %d", lineID)
	}
	return nil
}

// SetAllocationReturned writes the returned quantity of a locked allocation.
func SetAllocationReturned(ctx context.Context, tx pgx.Tx, allocationID, returned int64) error {
	tag, err := tx.Exec(ctx, `UPDATE sale_allocations SET returned_quantity = $2 WHERE id = $1`, allocationID, returned)
	if err != nil {
		return fmt.Errorf("update allocation %d: %w", allocationID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("allocation %d", allocationID)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func attachLines(ctx context.Context, q querier, receipts []Receipt, forUpdate bool) error {
	if len(receipts) == 0 {
		return nil
	}
	ids := make([]int64, len(receipts))
	index := make(map[int64]int, len(receipts))
	for i, r := range receipts {
		ids[i] = r.ID
		index[r.ID] = i
	}
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE OF s"
	}
	rows, err := q.Query(ctx, `SELECT s.id, s.receipt_id, s.medicine_id, m.name, s.quantity, s.selling_price, s.total_price,
s.status, s.returned_quantity, s.sold_by, s.sold_by_role, s.sale_date,
COALESCE((SELECT SUM(i.refund_amount) FROM sales_return_items i WHERE i.sale_line_id = s.id), 0)
FROM sales s JOIN medicines m ON m.id = s.medicine_id
WHERE s.receipt_id = ANY($1)
ORDER BY s.receipt_id, s.id`+lock, ids)
	if err != nil {
		return fmt.Errorf("load sale lines: %w", err)
	}
	var lines []Sale
	for rows.Next() {
		var (
			s            Sale
			status, role string
		)
		if err := rows.Scan(&s.ID, &s.ReceiptID, &s.MedicineID, &s.MedicineName, &s.Quantity, &s.SellingPrice, &s.TotalPrice,
			&status, &s.ReturnedQuantity, &s.SoldBy, &role, &s.SaleDate, &s.Refunded); err != nil {
			rows.Close()
			return err
		}
		s.Status, s.SoldByRole = Status(status), shared.Role(role)
		lines = append(lines, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	lineIDs := make([]int64, len(lines))
	for i, l := range lines {
		lineIDs[i] = l.ID
	}
	lock = ""
	if forUpdate {
		lock = " FOR UPDATE"
	}
	rows, err = q.Query(ctx, `SELECT id, sale_id, delegation_id, quantity, returned_quantity
FROM sale_allocations WHERE sale_id = ANY($1) ORDER BY sale_id, id`+lock, lineIDs)
	if err != nil {
		return fmt.Errorf("load allocations: %w", err)
	}
	allocations := make(map[int64][]Allocation)
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.SaleID, &a.DelegationID, &a.Quantity, &a.ReturnedQuantity); err != nil {
			rows.Close()
			return err
		}
		allocations[a.SaleID] = append(allocations[a.SaleID], a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, l := range lines {
		l.Allocations = allocations[l.ID]
		i := index[l.ReceiptID]
		receipts[i].Lines = append(receipts[i].Lines, l)
	}
	return nil
}

func scanReceipt(row pgx.Row) (Receipt, error) {
	var (
		r    Receipt
		role string
	)
	err := row.Scan(&r.ID, &r.Reference, &r.PatientName, &r.Unit, &r.Subtotal, &r.Discount, &r.DiscountAmount, &r.TotalAmount,
		&r.SoldBy, &role, &r.SaleDate, &r.CreatedAt)
	r.SoldByRole = shared.Role(role)
	return r, err
}

var _ Repository = (*PGRepository)(nil)
