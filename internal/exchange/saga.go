package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// StockGate abstracts the donor-warehouse balance operations the saga needs.
type StockGate interface {
	Verify(ctx context.Context, warehouse, productCode, lot string, qty float64) error
	Consume(ctx context.Context, warehouse, productCode, lot string, qty float64, refDocument, note string) error
}

// RemissionSequencer hands out the next remission guide number.
type RemissionSequencer interface {
	NextRemissionNumber(ctx context.Context) (string, error)
}

// PrintStager requests the downstream system to stage printable data for a
// remission guide. Implementations must be idempotent by remission number.
type PrintStager interface {
	Stage(ctx context.Context, exchangeNumber, remissionNumber string) error
}

// RemissionInput carries the operator-entered fields required before Phase 2.
type RemissionInput struct {
	Weight  float64
	Address *string
}

// Saga executes the ten-step, two-phase issuance commit. Steps run strictly
// in order; the first failure halts the saga and no step compensates
// automatically. A failure after InsertHeader leaves a partially committed
// document that the operator must resolve through the compensation path.
type Saga struct {
	repo      Repository
	stock     StockGate
	sequencer RemissionSequencer
	printer   PrintStager
	warehouse string
	logger    *slog.Logger
}

// NewSaga builds a Saga committing against the given donor warehouse.
func NewSaga(repo Repository, stock StockGate, sequencer RemissionSequencer, printer PrintStager, warehouse string, logger *slog.Logger) *Saga {
	return &Saga{
		repo:      repo,
		stock:     stock,
		sequencer: sequencer,
		printer:   printer,
		warehouse: warehouse,
		logger:    logger,
	}
}

// Register runs Phase 1 (steps 1-6): verify balances, check header
// uniqueness, persist header and details, advance the donor counter and
// obtain the remission number. On success the draft is left awaiting
// remission input and the remission number is returned.
func (s *Saga) Register(ctx context.Context, d *Draft) (string, error) {
	d.mu.Lock()
	if d.State != StateDraft {
		d.mu.Unlock()
		return "", ErrDraftImmutable
	}
	if len(d.Details) == 0 || d.Header.DocumentNumber == "" || d.Header.Date.IsZero() {
		d.mu.Unlock()
		return "", ErrIncompleteInput
	}
	for _, line := range d.Details {
		if line.Orphaned {
			d.mu.Unlock()
			return "", ErrOrphanedLine
		}
	}
	d.State = StateVerifying
	details := make([]DetailLine, len(d.Details))
	copy(details, d.Details)
	header := d.Header
	d.mu.Unlock()

	// Step 1: VerifyBalances. Nothing is committed yet; a failure returns
	// the draft to an editable state.
	for _, pair := range distinctProductLots(details) {
		if err := s.stock.Verify(ctx, s.warehouse, pair.ProductCode, pair.Lot, pair.Quantity); err != nil {
			s.setState(d, StateDraft, StepVerifyBalances)
			return "", s.fail(StepVerifyBalances, header.DocumentNumber,
				fmt.Errorf("%w: %s: %v", ErrInsufficientStock, pair.ProductCode, err))
		}
	}

	// Step 2: CheckHeaderUniqueness.
	existing, err := s.repo.FindExchangeHeader(ctx, header.DocumentNumber)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.setState(d, StateDraft, StepCheckHeaderUniqueness)
		return "", s.fail(StepCheckHeaderUniqueness, header.DocumentNumber, err)
	}
	if existing != nil {
		s.setState(d, StateDraft, StepCheckHeaderUniqueness)
		return "", s.fail(StepCheckHeaderUniqueness, header.DocumentNumber, ErrDuplicateDocument)
	}

	// Step 3: InsertHeader. The insert either lands or it does not; a
	// failure here leaves nothing behind.
	if err := s.repo.InsertExchangeHeader(ctx, header); err != nil {
		s.setState(d, StateDraft, StepInsertHeader)
		return "", s.fail(StepInsertHeader, header.DocumentNumber, fmt.Errorf("%w: %v", ErrHeaderInsertFailed, err))
	}
	s.advance(ctx, d, StateHeaderCommitted, StepInsertHeader, header.DocumentNumber)

	// Step 4: InsertDetails, one line at a time in aggregation order. Lines
	// inserted before a failure stay committed; no automatic rollback.
	for i, line := range details {
		if err := s.insertDetail(ctx, header, i, line); err != nil {
			s.setState(d, StateFailed, StepInsertDetails)
			return "", s.fail(StepInsertDetails, header.DocumentNumber, &DetailInsertError{Index: i, Err: err})
		}
	}
	s.advance(ctx, d, StateDetailsCommitted, StepInsertDetails, header.DocumentNumber)

	// Step 5: UpdateDonorCounter. The guarded decrement in the store is the
	// authoritative capacity check; a rejection is a retryable capacity
	// condition, not a broken saga.
	total := sumQuantities(details)
	if err := s.repo.AdvanceDonorCounter(ctx, header.LaboratoryCode, header.DocumentNumber, total); err != nil {
		s.setState(d, StateFailed, StepUpdateDonorCounter)
		if errors.Is(err, ErrCounterInsufficient) {
			return "", s.fail(StepUpdateDonorCounter, header.DocumentNumber, err)
		}
		return "", s.fail(StepUpdateDonorCounter, header.DocumentNumber, fmt.Errorf("%w: %v", ErrCounterUpdateFailed, err))
	}
	s.advance(ctx, d, StateDonorCounterUpdated, StepUpdateDonorCounter, header.DocumentNumber)

	// Step 6: ObtainRemissionNumber.
	remissionNumber, err := s.sequencer.NextRemissionNumber(ctx)
	if err != nil {
		s.setState(d, StateFailed, StepObtainRemissionNumber)
		return "", s.fail(StepObtainRemissionNumber, header.DocumentNumber, fmt.Errorf("%w: %v", ErrSequenceExhausted, err))
	}

	d.mu.Lock()
	d.RemissionNumber = remissionNumber
	d.State = StateAwaitingRemissionInput
	d.LastStep = StepObtainRemissionNumber
	d.mu.Unlock()
	s.record(ctx, header.DocumentNumber, StepObtainRemissionNumber)

	return remissionNumber, nil
}

// Finalize runs Phase 2 (steps 7-10) once the operator supplied weight and
// address. A failed step leaves the draft at its last completed milestone so
// re-invocation resumes at the failed step rather than re-running committed
// ones.
func (s *Saga) Finalize(ctx context.Context, d *Draft, input RemissionInput) error {
	d.mu.Lock()
	state := d.State
	header := d.Header
	remissionNumber := d.RemissionNumber
	d.mu.Unlock()

	switch state {
	case StateAwaitingRemissionInput, StateRemissionCommitted, StatePrintDataPrepared:
	default:
		return ErrNotAwaitingRemission
	}

	remission := RemissionHeader{
		RemissionNumber:      remissionNumber,
		LinkedExchangeNumber: header.DocumentNumber,
		Weight:               input.Weight,
		Address:              input.Address,
		Date:                 header.Date,
		CarrierName:          header.CarrierName,
		CarrierTaxID:         header.CarrierTaxID,
		ArrivalPoint:         header.ArrivalPoint,
	}

	if state == StateAwaitingRemissionInput {
		// Step 7: CheckRemissionUniqueness.
		existing, err := s.repo.FindRemissionHeader(ctx, remissionNumber)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return s.fail(StepCheckRemissionUniqueness, header.DocumentNumber, err)
		}
		if existing != nil {
			return s.fail(StepCheckRemissionUniqueness, header.DocumentNumber, ErrDuplicateRemission)
		}

		// Step 8: InsertRemissionHeader.
		if err := s.repo.InsertRemissionHeader(ctx, remission); err != nil {
			return s.fail(StepInsertRemissionHeader, header.DocumentNumber, fmt.Errorf("%w: %v", ErrRemissionInsertFailed, err))
		}
		s.advance(ctx, d, StateRemissionCommitted, StepInsertRemissionHeader, header.DocumentNumber)
		state = StateRemissionCommitted
	}

	if state == StateRemissionCommitted {
		// Step 9: PreparePrintData. Idempotent by remission number, so
		// re-invocation after a failure is always safe.
		if err := s.printer.Stage(ctx, header.DocumentNumber, remissionNumber); err != nil {
			return s.fail(StepPreparePrintData, header.DocumentNumber, fmt.Errorf("%w: %v", ErrPrintPrepFailed, err))
		}
		s.advance(ctx, d, StatePrintDataPrepared, StepPreparePrintData, header.DocumentNumber)
		state = StatePrintDataPrepared
	}

	// Step 10: UpdateRemissionCounter.
	if err := s.repo.AdvanceRemissionCounter(ctx, remissionNumber); err != nil {
		return s.fail(StepUpdateRemissionCounter, header.DocumentNumber, fmt.Errorf("%w: %v", ErrRemissionCounterFailed, err))
	}
	s.advance(ctx, d, StateCompleted, StepUpdateRemissionCounter, header.DocumentNumber)

	return nil
}

func (s *Saga) insertDetail(ctx context.Context, header ExchangeHeader, index int, line DetailLine) error {
	if err := s.repo.InsertExchangeDetail(ctx, header.DocumentNumber, index, line); err != nil {
		return err
	}
	note := fmt.Sprintf("exchange %s line %d", header.DocumentNumber, index)
	return s.stock.Consume(ctx, s.warehouse, line.Key.ProductCode, line.Key.Lot, line.Quantity, header.DocumentNumber, note)
}

// advance moves the draft to the next milestone and records progress so a
// crashed client can tell how far issuance got.
func (s *Saga) advance(ctx context.Context, d *Draft, state State, step Step, documentNumber string) {
	s.setState(d, state, step)
	s.record(ctx, documentNumber, step)
}

func (s *Saga) setState(d *Draft, state State, step Step) {
	d.mu.Lock()
	d.State = state
	d.LastStep = step
	d.mu.Unlock()
}

func (s *Saga) record(ctx context.Context, documentNumber string, step Step) {
	if err := s.repo.RecordProgress(ctx, documentNumber, step); err != nil {
		s.logger.Warn("record saga progress",
			slog.String("document", documentNumber),
			slog.String("step", string(step)),
			slog.Any("error", err))
	}
}

func (s *Saga) fail(step Step, documentNumber string, err error) error {
	s.logger.Error("saga step failed",
		slog.String("document", documentNumber),
		slog.String("step", string(step)),
		slog.Any("error", err))
	return &StepError{Step: step, DocumentNumber: documentNumber, Err: err}
}

// productLot aggregates requested quantity per distinct product/lot pair.
type productLot struct {
	ProductCode string
	Lot         string
	Quantity    float64
}

func distinctProductLots(details []DetailLine) []productLot {
	index := make(map[[2]string]int)
	var out []productLot
	for _, line := range details {
		k := [2]string{line.Key.ProductCode, line.Key.Lot}
		if i, ok := index[k]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[k] = len(out)
		out = append(out, productLot{ProductCode: line.Key.ProductCode, Lot: line.Key.Lot, Quantity: line.Quantity})
	}
	return out
}

func sumQuantities(details []DetailLine) float64 {
	var total float64
	for _, line := range details {
		total += line.Quantity
	}
	return total
}
