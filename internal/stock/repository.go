package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence for balances and the movement ledger.
type Repository interface {
	GetBalance(ctx context.Context, warehouse, productCode, lot string) (*Balance, error)
	// Consume applies a guarded decrement; reports ErrInsufficient when the
	// balance cannot cover qty.
	Consume(ctx context.Context, m Movement) error
	// Restore credits a previously consumed quantity back.
	Restore(ctx context.Context, m Movement) error
}

// querier is the subset of pgx shared by pgxpool.Pool and pgx.Tx, letting the
// same repository run standalone or inside an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db querier
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

// NewTxRepository binds the repository to an open transaction, used by the
// exchange compensation path to restore stock atomically with the document
// delete.
func NewTxRepository(tx pgx.Tx) Repository {
	return &repository{db: tx}
}

func (r *repository) GetBalance(ctx context.Context, warehouse, productCode, lot string) (*Balance, error) {
	var b Balance
	err := r.db.QueryRow(ctx, `
		SELECT warehouse, product_code, lot, quantity
		FROM stock_balances
		WHERE warehouse = $1 AND product_code = $2 AND lot = $3
	`, warehouse, productCode, lot).Scan(&b.Warehouse, &b.ProductCode, &b.Lot, &b.Quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownBalance
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) Consume(ctx context.Context, m Movement) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE stock_balances
		SET quantity = quantity - $1
		WHERE warehouse = $2 AND product_code = $3 AND lot = $4 AND quantity >= $1
	`, m.QtyChange, m.Warehouse, m.ProductCode, m.Lot)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficient
	}
	return r.insertMovement(ctx, m, -m.QtyChange)
}

func (r *repository) Restore(ctx context.Context, m Movement) error {
	_, err := r.db.Exec(ctx, `
		UPDATE stock_balances
		SET quantity = quantity + $1
		WHERE warehouse = $2 AND product_code = $3 AND lot = $4
	`, m.QtyChange, m.Warehouse, m.ProductCode, m.Lot)
	if err != nil {
		return err
	}
	return r.insertMovement(ctx, m, m.QtyChange)
}

func (r *repository) insertMovement(ctx context.Context, m Movement, signedQty float64) error {
	postedAt := m.PostedAt
	if postedAt.IsZero() {
		postedAt = time.Now()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO stock_movements (code, warehouse, product_code, lot, qty_change, tx_type, ref_document, note, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.Code, m.Warehouse, m.ProductCode, m.Lot, signedQty, m.TxType, m.RefDocument, m.Note, postedAt)
	return err
}
