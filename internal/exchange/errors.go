package exchange

import (
	"errors"
	"fmt"
)

// Input and draft errors, recovered locally and never sent to the backend.
var (
	ErrDraftNotFound   = errors.New("exchange: draft not found")
	ErrLineNotFound    = errors.New("exchange: detail line not found")
	ErrInvalidQuantity = errors.New("exchange: quantity must be greater than zero")
	ErrIncompleteInput = errors.New("exchange: header incomplete or no detail lines")
	ErrDraftImmutable  = errors.New("exchange: draft is committed and read-only")
	ErrOrphanedLine    = errors.New("exchange: detail line lost its catalog source on refresh")
)

// Catalog errors.
var (
	// ErrCatalogUnavailable wraps a failed backing query. An empty catalog is
	// not an error.
	ErrCatalogUnavailable = errors.New("exchange: return line catalog unavailable")
)

// CapacityError reports an attempt to redeem more than the captured maximum
// for one source line.
type CapacityError struct {
	Key       LineKey
	Attempted float64
	Max       float64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("exchange: capacity exceeded for %s lot %s guide %s: attempted %.2f, max %.2f",
		e.Key.ProductCode, e.Key.Lot, e.Key.SourceGuideNumber, e.Attempted, e.Max)
}

// Saga step errors, one sentinel per numbered step.
var (
	ErrInsufficientStock      = errors.New("exchange: insufficient stock in donor warehouse")
	ErrDuplicateDocument      = errors.New("exchange: document number already registered")
	ErrHeaderInsertFailed     = errors.New("exchange: header insert failed")
	ErrDetailInsertFailed     = errors.New("exchange: detail insert failed")
	ErrCounterUpdateFailed    = errors.New("exchange: donor counter update failed")
	ErrCounterInsufficient    = errors.New("exchange: donor counter below requested quantity")
	ErrSequenceExhausted      = errors.New("exchange: remission number sequence exhausted")
	ErrDuplicateRemission     = errors.New("exchange: remission number already registered")
	ErrRemissionInsertFailed  = errors.New("exchange: remission insert failed")
	ErrPrintPrepFailed        = errors.New("exchange: print data staging failed")
	ErrRemissionCounterFailed = errors.New("exchange: remission counter update failed")
	ErrNotAwaitingRemission   = errors.New("exchange: draft is not awaiting remission input")
)

// StepError carries the failing saga step and document so the operator can
// tell how far issuance progressed and whether compensation is required.
type StepError struct {
	Step           Step
	DocumentNumber string
	Err            error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("exchange: saga step %s failed for document %s: %v", e.Step, e.DocumentNumber, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// DetailInsertError identifies which detail line failed to persist. Lines
// inserted before the failing index remain committed.
type DetailInsertError struct {
	Index int
	Err   error
}

func (e *DetailInsertError) Error() string {
	return fmt.Sprintf("exchange: detail insert failed at index %d: %v", e.Index, e.Err)
}

func (e *DetailInsertError) Unwrap() error {
	return ErrDetailInsertFailed
}

// Compensation and consultation errors.
var (
	ErrNotFound          = errors.New("exchange: document not found")
	ErrRemissionAttached = errors.New("exchange: document has a linked remission guide and cannot be deleted")
)

// ReversalError reports a compensating delete that could not complete. The
// document must be treated as still partially committed and retried.
type ReversalError struct {
	DocumentNumber string
	Reason         string
	Err            error
}

func (e *ReversalError) Error() string {
	return fmt.Sprintf("exchange: reversal of %s failed: %s", e.DocumentNumber, e.Reason)
}

func (e *ReversalError) Unwrap() error {
	return e.Err
}
