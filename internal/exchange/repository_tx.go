package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/farmadist/farmadist/internal/platform/db"
	"github.com/farmadist/farmadist/internal/stock"
)

// DeleteExchangeComplete reverses a registered exchange document in a single
// transaction: the donor counter is restored, consumed stock is returned to
// the donor warehouse, and the detail and header rows are removed. Documents
// with a linked remission guide are refused. Only side effects the recorded
// progress and the movement ledger confirm are undone, so a document that
// failed mid-registration is deleted without over-crediting.
func (r *repository) DeleteExchangeComplete(ctx context.Context, documentNumber string) (ReversalSummary, error) {
	var summary ReversalSummary

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		state, err := loadReversalState(ctx, tx, documentNumber)
		if err != nil {
			return err
		}
		plan, err := planReversal(state)
		if err != nil {
			return err
		}

		if plan.CounterCredit > 0 {
			tag, err := tx.Exec(ctx, `
				UPDATE laboratory_allowances
				SET remaining = remaining + $1, last_document = $2
				WHERE laboratory_code = $3
			`, plan.CounterCredit, documentNumber, state.LaboratoryCode)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("laboratory allowance row missing for %s", state.LaboratoryCode)
			}
		}

		stocks := stock.NewService(stock.NewTxRepository(tx))
		note := fmt.Sprintf("reversal of exchange %s", documentNumber)
		for _, c := range plan.StockCredits {
			if err := stocks.Restore(ctx, r.warehouse, c.ProductCode, c.Lot, c.Quantity, documentNumber, note); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM exchange_details WHERE document_number = $1
		`, documentNumber); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM exchange_headers WHERE document_number = $1
		`, documentNumber); err != nil {
			return err
		}

		summary = plan.Summary
		return nil
	})
	if err != nil {
		return ReversalSummary{}, err
	}
	return summary, nil
}

// loadReversalState gathers, inside the open transaction, everything
// planReversal needs: the locked header with its recorded progress, the
// remission link, the detail rows, and the per-lot consumption the movement
// ledger recorded for the document.
func loadReversalState(ctx context.Context, tx pgx.Tx, documentNumber string) (reversalState, error) {
	state := reversalState{DocumentNumber: documentNumber}

	var lastStep string
	err := tx.QueryRow(ctx, `
		SELECT laboratory_code, last_step FROM exchange_headers WHERE document_number = $1
		FOR UPDATE
	`, documentNumber).Scan(&state.LaboratoryCode, &lastStep)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state, nil
		}
		return state, err
	}
	state.Found = true
	state.LastStep = Step(lastStep)

	var remissionNumber string
	err = tx.QueryRow(ctx, `
		SELECT remission_number FROM remission_headers WHERE linked_exchange_number = $1
	`, documentNumber).Scan(&remissionNumber)
	if err == nil {
		state.RemissionLinked = true
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return state, err
	}

	rows, err := tx.Query(ctx, `
		SELECT document_number, line_index, product_code, lot, quantity
		FROM exchange_details
		WHERE document_number = $1
		ORDER BY line_index
	`, documentNumber)
	if err != nil {
		return state, err
	}
	for rows.Next() {
		var d StoredDetail
		if err := rows.Scan(&d.DocumentNumber, &d.LineIndex, &d.Key.ProductCode, &d.Key.Lot, &d.Quantity); err != nil {
			rows.Close()
			return state, err
		}
		state.Details = append(state.Details, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return state, err
	}

	rows, err = tx.Query(ctx, `
		SELECT product_code, lot, COALESCE(SUM(-qty_change), 0)
		FROM stock_movements
		WHERE ref_document = $1 AND tx_type = $2
		GROUP BY product_code, lot
		ORDER BY product_code, lot
	`, documentNumber, string(stock.TransactionTypeOut))
	if err != nil {
		return state, err
	}
	for rows.Next() {
		var c lotCredit
		if err := rows.Scan(&c.ProductCode, &c.Lot, &c.Quantity); err != nil {
			rows.Close()
			return state, err
		}
		if c.Quantity > 0 {
			state.Consumed = append(state.Consumed, c)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return state, err
	}

	return state, nil
}
