// Package stock tracks physical balances in the donor warehouse and the
// movement ledger behind them.
package stock

import (
	"errors"
	"time"
)

// TransactionType classifies ledger movements.
type TransactionType string

const (
	// TransactionTypeOut records stock leaving the warehouse on an exchange guide.
	TransactionTypeOut TransactionType = "OUT"
	// TransactionTypeRestore records stock returned by a compensating delete.
	TransactionTypeRestore TransactionType = "RESTORE"
)

// Balance is the on-hand quantity for one product/lot in a warehouse.
type Balance struct {
	Warehouse   string  `json:"warehouse" db:"warehouse"`
	ProductCode string  `json:"product_code" db:"product_code"`
	Lot         string  `json:"lot" db:"lot"`
	Quantity    float64 `json:"quantity" db:"quantity"`
}

// Movement is one row of the stock ledger.
type Movement struct {
	Code        string          `json:"code" db:"code"`
	Warehouse   string          `json:"warehouse" db:"warehouse"`
	ProductCode string          `json:"product_code" db:"product_code"`
	Lot         string          `json:"lot" db:"lot"`
	QtyChange   float64         `json:"qty_change" db:"qty_change"`
	TxType      TransactionType `json:"tx_type" db:"tx_type"`
	RefDocument string          `json:"ref_document" db:"ref_document"`
	Note        string          `json:"note" db:"note"`
	PostedAt    time.Time       `json:"posted_at" db:"posted_at"`
}

// Domain errors.
var (
	ErrInsufficient    = errors.New("stock: insufficient balance")
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	ErrUnknownBalance  = errors.New("stock: no balance row for product/lot")
)
