package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Service coordinates stock verification and the reversal credit used by the
// exchange compensation path.
type Service struct {
	repo Repository
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Verify confirms the warehouse holds at least qty of the product/lot.
func (s *Service) Verify(ctx context.Context, warehouse, productCode, lot string, qty float64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	balance, err := s.repo.GetBalance(ctx, warehouse, productCode, lot)
	if err != nil {
		if errors.Is(err, ErrUnknownBalance) {
			return fmt.Errorf("%w: %s/%s", ErrInsufficient, productCode, lot)
		}
		return err
	}
	if balance.Quantity < qty {
		return fmt.Errorf("%w: %s/%s has %.2f, need %.2f", ErrInsufficient, productCode, lot, balance.Quantity, qty)
	}
	return nil
}

// Consume takes qty out of the warehouse against a document reference.
func (s *Service) Consume(ctx context.Context, warehouse, productCode, lot string, qty float64, refDocument, note string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return s.repo.Consume(ctx, Movement{
		Code:        uuid.NewString(),
		Warehouse:   warehouse,
		ProductCode: productCode,
		Lot:         lot,
		QtyChange:   qty,
		TxType:      TransactionTypeOut,
		RefDocument: refDocument,
		Note:        note,
	})
}

// Restore credits qty back after a compensating delete.
func (s *Service) Restore(ctx context.Context, warehouse, productCode, lot string, qty float64, refDocument, note string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return s.repo.Restore(ctx, Movement{
		Code:        uuid.NewString(),
		Warehouse:   warehouse,
		ProductCode: productCode,
		Lot:         lot,
		QtyChange:   qty,
		TxType:      TransactionTypeRestore,
		RefDocument: refDocument,
		Note:        note,
	})
}
