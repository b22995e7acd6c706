package exchange

import (
	"context"
	"errors"
	"log/slog"

	"github.com/farmadist/farmadist/internal/shared"
)

// ExchangeSequencer hands out the next exchange document number.
type ExchangeSequencer interface {
	NextExchangeNumber(ctx context.Context) (string, error)
}

// Auditor records workflow milestones. Satisfied by shared.AuditLogger.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the issuance workflow: draft lifecycle, catalog
// access, the two-phase saga, the compensating delete and consultation.
type Service struct {
	drafts    *DraftStore
	catalog   *Catalog
	saga      *Saga
	repo      Repository
	sequencer ExchangeSequencer
	loader    *ConsultationLoader
	audit     Auditor
	logger    *slog.Logger
}

// NewService wires the workflow components together.
func NewService(drafts *DraftStore, catalog *Catalog, saga *Saga, repo Repository, sequencer ExchangeSequencer, loader *ConsultationLoader, audit Auditor, logger *slog.Logger) *Service {
	return &Service{
		drafts:    drafts,
		catalog:   catalog,
		saga:      saga,
		repo:      repo,
		sequencer: sequencer,
		loader:    loader,
		audit:     audit,
		logger:    logger,
	}
}

// StartDraft loads the return-line catalog for a laboratory, reserves the
// next exchange document number and opens an editable draft. An empty catalog
// still yields a usable draft.
func (s *Service) StartDraft(ctx context.Context, actor, labCode string) (*Draft, error) {
	snapshot, err := s.catalog.Load(ctx, labCode)
	if err != nil {
		return nil, err
	}

	documentNumber, err := s.sequencer.NextExchangeNumber(ctx)
	if err != nil {
		return nil, err
	}

	draft := s.drafts.Create(ExchangeHeader{
		DocumentNumber: documentNumber,
		LaboratoryCode: labCode,
	}, snapshot)

	s.logger.Info("draft opened",
		slog.String("draft", draft.ID),
		slog.String("document", documentNumber),
		slog.String("laboratory", labCode),
		slog.Int("catalog_lines", len(snapshot.Lines)),
		slog.String("actor", actor))
	return draft, nil
}

// Draft returns a draft by ID.
func (s *Service) Draft(id string) (*Draft, error) {
	return s.drafts.Get(id)
}

// UpdateHeader sets the operator-entered header fields. The document number
// and laboratory are fixed at draft start and never change.
func (s *Service) UpdateHeader(id string, req UpdateHeaderRequest) (*Draft, error) {
	draft, err := s.drafts.Get(id)
	if err != nil {
		return nil, err
	}

	draft.mu.Lock()
	defer draft.mu.Unlock()
	if !draft.editable() {
		return nil, ErrDraftImmutable
	}
	draft.Header.Date = req.Date
	draft.Header.ProviderCode = req.ProviderCode
	draft.Header.CarrierName = req.CarrierName
	draft.Header.CarrierTaxID = req.CarrierTaxID
	draft.Header.Plate = req.Plate
	draft.Header.ArrivalPoint = req.ArrivalPoint
	draft.Header.Consignee = req.Consignee
	return draft, nil
}

// SearchCatalog filters the draft's snapshot without touching the backend.
func (s *Service) SearchCatalog(id, query string) ([]ReturnableLine, error) {
	draft, err := s.drafts.Get(id)
	if err != nil {
		return nil, err
	}
	return Search(draft.Snapshot, query), nil
}

// CommitSelection resolves a catalog line by its full composite key and folds
// the requested quantity into the detail set.
func (s *Service) CommitSelection(id string, req CommitSelectionRequest) (*Draft, error) {
	draft, err := s.drafts.Get(id)
	if err != nil {
		return nil, err
	}
	line, ok := draft.Snapshot.Find(req.Key)
	if !ok {
		return nil, ErrLineNotFound
	}
	sel := draft.Select(line)
	sel.Quantity = req.Quantity
	if err := draft.Commit(sel); err != nil {
		return nil, err
	}
	return draft, nil
}

// EditQuantity replaces the quantity on an accumulated line.
func (s *Service) EditQuantity(id, detailID string, quantity float64) (*Draft, error) {
	draft, err := s.drafts.Get(id)
	if err != nil {
		return nil, err
	}
	if err := draft.EditQuantity(detailID, quantity); err != nil {
		return nil, err
	}
	return draft, nil
}

// RemoveLine drops a detail line from the draft.
func (s *Service) RemoveLine(id, detailID string) (*Draft, error) {
	draft, err := s.drafts.Get(id)
	if err != nil {
		return nil, err
	}
	if err := draft.Remove(detailID); err != nil {
		return nil, err
	}
	return draft, nil
}

// RefreshCatalog re-queries the return lines and rebinds the draft's details
// to the fresh snapshot, flagging lines whose source vanished.
func (s *Service) RefreshCatalog(ctx context.Context, id string) (*Draft, error) {
	draft, err := s.drafts.Get(id)
	if err != nil {
		return nil, err
	}
	draft.mu.Lock()
	editable := draft.editable()
	labCode := draft.Header.LaboratoryCode
	draft.mu.Unlock()
	if !editable {
		return nil, ErrDraftImmutable
	}

	snapshot, err := s.catalog.Refresh(ctx, labCode)
	if err != nil {
		return nil, err
	}
	draft.Rebind(snapshot)
	return draft, nil
}

// Register runs Phase 1 of the issuance saga. On success the draft awaits
// remission input and the obtained remission number is returned.
func (s *Service) Register(ctx context.Context, actor, id string) (string, error) {
	draft, err := s.drafts.Get(id)
	if err != nil {
		return "", err
	}

	remissionNumber, err := s.saga.Register(ctx, draft)
	if err != nil {
		return "", err
	}

	s.recordAudit(ctx, actor, "exchange.register", draft.Header.DocumentNumber, map[string]any{
		"remission_number": remissionNumber,
		"lines":            len(draft.DetailLines()),
		"total_quantity":   draft.TotalQuantity(),
	})
	return remissionNumber, nil
}

// Finalize runs Phase 2 of the issuance saga with the supplied remission
// fields. Safe to re-invoke after a step failure; committed steps are skipped.
func (s *Service) Finalize(ctx context.Context, actor, id string, req FinalizeRequest) (*Draft, error) {
	draft, err := s.drafts.Get(id)
	if err != nil {
		return nil, err
	}

	input := RemissionInput{Weight: req.Weight, Address: req.Address}
	if err := s.saga.Finalize(ctx, draft, input); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "exchange.finalize", draft.Header.DocumentNumber, map[string]any{
		"remission_number": draft.RemissionNumber,
		"weight":           req.Weight,
	})

	// The workflow is done; the completed draft has nothing left to edit.
	s.drafts.Delete(id)
	return draft, nil
}

// Abandon discards a draft that has not committed anything durable. Drafts
// past header insert must go through the compensating delete instead.
func (s *Service) Abandon(id string) error {
	draft, err := s.drafts.Get(id)
	if err != nil {
		return err
	}
	draft.mu.Lock()
	state := draft.State
	draft.mu.Unlock()
	switch state {
	case StateDraft, StateVerifying, StateCompleted:
		s.drafts.Delete(id)
		return nil
	default:
		return ErrDraftImmutable
	}
}

// DeleteComplete reverses a registered document: counter restored, stock
// returned, rows removed, all in one transaction. Refused once a remission
// guide is linked.
func (s *Service) DeleteComplete(ctx context.Context, actor, documentNumber string) (ReversalSummary, error) {
	summary, err := s.repo.DeleteExchangeComplete(ctx, documentNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRemissionAttached) {
			return ReversalSummary{}, err
		}
		return ReversalSummary{}, &ReversalError{
			DocumentNumber: documentNumber,
			Reason:         "reversal transaction failed",
			Err:            err,
		}
	}

	s.recordAudit(ctx, actor, "exchange.delete", documentNumber, map[string]any{
		"lines_removed":     summary.LinesRemoved,
		"quantity_restored": summary.QuantityRestored,
	})
	return summary, nil
}

// Consult loads a registered document read-only.
func (s *Service) Consult(ctx context.Context, documentNumber string) (*ConsultationView, error) {
	return s.loader.Load(ctx, documentNumber)
}

// ListDocuments pages through registered documents, newest first.
func (s *Service) ListDocuments(ctx context.Context, page, perPage int) ([]ExchangeHeader, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	headers, total, err := s.repo.ListExchangeHeaders(ctx, p.PerPage, (p.Page-1)*p.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return headers, shared.NewPagination(p.Page, p.PerPage, total), nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action, documentNumber string, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "exchange_document",
		EntityID: documentNumber,
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record",
			slog.String("action", action),
			slog.String("document", documentNumber),
			slog.Any("error", err))
	}
}
