package medicines

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

const medicineColumns = `id, name, generic_name, package_type, quantity, buy_price, selling_price, total_price,
manufacturing_date, expiry_date, low_stock_threshold, created_at, updated_at`

// Repository persists medicines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts m and returns the stored row.
func (r *Repository) Create(ctx context.Context, m Medicine) (Medicine, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO medicines
(name, generic_name, package_type, quantity, buy_price, selling_price, total_price, manufacturing_date, expiry_date, low_stock_threshold)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+medicineColumns,
		m.Name, m.GenericName, m.PackageType, m.Quantity, m.BuyPrice, m.SellingPrice, m.TotalPrice,
		m.ManufacturingDate, m.ExpiryDate, m.LowStockThreshold)
	return scanMedicine(row)
}

// Get loads one medicine.
func (r *Repository) Get(ctx context.Context, id int64) (Medicine, error) {
	m, err := scanMedicine(r.pool.QueryRow(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Medicine{}, shared.NotFoundf("medicine %d", id)
	}
	return m, err
}

// List returns one page of medicines ordered by name.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Medicine, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM medicines
WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR generic_name ILIKE '%' || $1 || '%'`, filter.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medicines: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+medicineColumns+` FROM medicines
WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR generic_name ILIKE '%' || $1 || '%'
ORDER BY LOWER(name), id
LIMIT $2 OFFSET $3`, filter.Search, filter.Page.Limit(), filter.Page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list medicines: %w", err)
	}
	defer rows.Close()
	var out []Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// AlertCandidates returns medicines that are expired as of asOf or at or below
// their low stock threshold.
func (r *Repository) AlertCandidates(ctx context.Context, asOf time.Time) ([]Medicine, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+medicineColumns+` FROM medicines
WHERE (expiry_date IS NOT NULL AND expiry_date < $1::date) OR quantity <= low_stock_threshold
ORDER BY LOWER(name), id`, asOf)
	if err != nil {
		return nil, fmt.Errorf("alert candidates: %w", err)
	}
	defer rows.Close()
	var out []Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMedicine(row pgx.Row) (Medicine, error) {
	var m Medicine
	err := row.Scan(&m.ID, &m.Name, &m.GenericName, &m.PackageType, &m.Quantity, &m.BuyPrice, &m.SellingPrice,
		&m.TotalPrice, &m.ManufacturingDate, &m.ExpiryDate, &m.LowStockThreshold, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// LockStock selects a medicine FOR UPDATE inside tx. Shared by the ledgers so
// every stock mutation takes the same row lock.
func LockStock(ctx context.Context, tx pgx.Tx, id int64) (Stock, error) {
	var s Stock
	err := tx.QueryRow(ctx, `SELECT id, name, quantity, selling_price FROM medicines WHERE id=$1 FOR UPDATE`, id).
		Scan(&s.ID, &s.Name, &s.Quantity, &s.SellingPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, shared.NotFoundf("medicine %d", id)
	}
	if err != nil {
		return Stock{}, fmt.Errorf("lock medicine %d: %w", id, err)
	}
	return s, nil
}

// SetQuantity writes the central quantity of a locked medicine.
func SetQuantity(ctx context.Context, tx pgx.Tx, id, quantity int64) error {
	tag, err := tx.Exec(ctx, `UPDATE medicines SET quantity=$2, updated_at=NOW() WHERE id=$1`, id, quantity)
	if err != nil {
		return fmt.Errorf("update medicine %d quantity: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("medicine %d", id)
	}
	return nil
}
