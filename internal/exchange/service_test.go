package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmadist/farmadist/internal/shared"
)

type mockExchangeSequencer struct {
	next string
	err  error
}

func (m *mockExchangeSequencer) NextExchangeNumber(ctx context.Context) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.next, nil
}

type mockAuditor struct {
	logs []shared.AuditLog
	err  error
}

func (m *mockAuditor) Record(ctx context.Context, log shared.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

type serviceFixture struct {
	repo    *mockRepo
	stock   *mockStock
	stager  *mockStager
	auditor *mockAuditor
	service *Service
}

func newServiceFixture() *serviceFixture {
	repo := newMockRepo()
	repo.catalogLines = []ReturnableLine{
		{SourceGuideNumber: "G-1", ProductCode: "P-100", ProductName: "Ibuprofeno 400mg", Lot: "L1", Reference: "R1", DocumentType: "03", AvailableQuantity: 40},
		{SourceGuideNumber: "G-2", ProductCode: "P-200", ProductName: "Amoxicilina 500mg", Lot: "L7", Reference: "R2", DocumentType: "03", AvailableQuantity: 5},
	}

	stock := newMockStock()
	stock.balances["P-100/L1"] = 50
	stock.balances["P-200/L7"] = 5

	stager := &mockStager{}
	auditor := &mockAuditor{}
	logger := testLogger()

	catalog := NewCatalog(repo)
	saga := NewSaga(repo, stock, &mockSequencer{next: "REM-00000007"}, stager, "ALM-01", logger)
	loader := NewConsultationLoader(repo, &stubProviderResolver{names: map[string]string{"PRV-9": "Droguería San Martín"}}, logger)
	drafts := NewDraftStore()
	service := NewService(drafts, catalog, saga, repo, &mockExchangeSequencer{next: "CAN-00000042"}, loader, auditor, logger)

	return &serviceFixture{repo: repo, stock: stock, stager: stager, auditor: auditor, service: service}
}

func TestIssuanceEndToEnd(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	draft, err := f.service.StartDraft(ctx, "operator1", "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, "CAN-00000042", draft.Header.DocumentNumber)
	require.NotNil(t, draft.Snapshot)
	assert.Len(t, draft.Snapshot.Lines, 2)

	_, err = f.service.UpdateHeader(draft.ID, UpdateHeaderRequest{
		Date:         time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		ProviderCode: "PRV-9",
		CarrierName:  "Transportes Andinos",
		CarrierTaxID: "20100012345",
		ArrivalPoint: "Av. Industrial 450",
	})
	require.NoError(t, err)

	lines, err := f.service.SearchCatalog(draft.ID, "ibupro")
	require.NoError(t, err)
	require.Len(t, lines, 1)

	_, err = f.service.CommitSelection(draft.ID, CommitSelectionRequest{Key: lines[0].Key(), Quantity: 10})
	require.NoError(t, err)

	all, err := f.service.SearchCatalog(draft.ID, "")
	require.NoError(t, err)
	_, err = f.service.CommitSelection(draft.ID, CommitSelectionRequest{Key: all[1].Key(), Quantity: 5})
	require.NoError(t, err)

	remission, err := f.service.Register(ctx, "operator1", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "REM-00000007", remission)

	finalized, err := f.service.Finalize(ctx, "operator1", draft.ID, FinalizeRequest{Weight: 12.5})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, finalized.State)

	assert.Len(t, f.repo.details, 2)
	assert.Equal(t, float64(985), f.repo.allowance)
	assert.Equal(t, []string{"REM-00000007"}, f.stager.staged)

	require.Len(t, f.auditor.logs, 2)
	assert.Equal(t, "exchange.register", f.auditor.logs[0].Action)
	assert.Equal(t, "exchange.finalize", f.auditor.logs[1].Action)

	// Completed drafts leave the store.
	_, err = f.service.Draft(draft.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestCommitSelectionUnknownKey(t *testing.T) {
	f := newServiceFixture()
	draft, err := f.service.StartDraft(context.Background(), "operator1", "LAB-01")
	require.NoError(t, err)

	_, err = f.service.CommitSelection(draft.ID, CommitSelectionRequest{
		Key:      LineKey{ProductCode: "P-999", Lot: "LX"},
		Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestRefreshCatalogRebindsDraft(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	draft, err := f.service.StartDraft(ctx, "operator1", "LAB-01")
	require.NoError(t, err)

	key := draft.Snapshot.Lines[1].Key() // P-200/L7
	_, err = f.service.CommitSelection(draft.ID, CommitSelectionRequest{Key: key, Quantity: 3})
	require.NoError(t, err)

	// The backing rows changed: P-200 disappeared.
	f.repo.catalogLines = f.repo.catalogLines[:1]

	refreshed, err := f.service.RefreshCatalog(ctx, draft.ID)
	require.NoError(t, err)
	details := refreshed.DetailLines()
	require.Len(t, details, 1)
	assert.True(t, details[0].Orphaned)
}

func TestStartDraftCatalogUnavailable(t *testing.T) {
	f := newServiceFixture()
	f.repo.catalogErr = errors.New("connection refused")
	_, err := f.service.StartDraft(context.Background(), "operator1", "LAB-01")
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
}

func TestAbandonOnlyBeforeCommit(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	draft, err := f.service.StartDraft(ctx, "operator1", "LAB-01")
	require.NoError(t, err)
	require.NoError(t, f.service.Abandon(draft.ID))
	_, err = f.service.Draft(draft.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)

	// A draft with committed backend state cannot be silently discarded.
	committed, err := f.service.StartDraft(ctx, "operator1", "LAB-01")
	require.NoError(t, err)
	committed.State = StateFailed
	assert.ErrorIs(t, f.service.Abandon(committed.ID), ErrDraftImmutable)
}

func TestDeleteCompleteSuccess(t *testing.T) {
	f := newServiceFixture()
	f.repo.deleteSummary = ReversalSummary{
		DocumentNumber:   "CAN-00000042",
		LinesRemoved:     2,
		QuantityRestored: 15,
		CounterRestored:  15,
	}

	summary, err := f.service.DeleteComplete(context.Background(), "operator1", "CAN-00000042")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.LinesRemoved)
	assert.Equal(t, float64(15), summary.QuantityRestored)

	require.Len(t, f.auditor.logs, 1)
	assert.Equal(t, "exchange.delete", f.auditor.logs[0].Action)
}

func TestDeleteCompletePassesThroughSentinels(t *testing.T) {
	f := newServiceFixture()

	f.repo.deleteErr = ErrNotFound
	_, err := f.service.DeleteComplete(context.Background(), "operator1", "CAN-1")
	assert.ErrorIs(t, err, ErrNotFound)

	f.repo.deleteErr = ErrRemissionAttached
	_, err = f.service.DeleteComplete(context.Background(), "operator1", "CAN-1")
	assert.ErrorIs(t, err, ErrRemissionAttached)
	assert.Empty(t, f.auditor.logs)
}

func TestDeleteCompleteWrapsTransactionFailure(t *testing.T) {
	f := newServiceFixture()
	f.repo.deleteErr = errors.New("deadlock detected")

	_, err := f.service.DeleteComplete(context.Background(), "operator1", "CAN-1")
	var revErr *ReversalError
	require.ErrorAs(t, err, &revErr)
	assert.Equal(t, "CAN-1", revErr.DocumentNumber)
}

func TestListDocumentsPaginates(t *testing.T) {
	f := newServiceFixture()
	for _, n := range []string{"CAN-1", "CAN-2", "CAN-3"} {
		f.repo.headers[n] = ExchangeHeader{DocumentNumber: n}
	}

	headers, pagination, err := f.service.ListDocuments(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Len(t, headers, 2)
	assert.Equal(t, 3, pagination.Total)
	assert.Equal(t, 2, pagination.TotalPages)
}

func TestConsultThroughService(t *testing.T) {
	f := newServiceFixture()
	f.repo.headers["CAN-00000042"] = ExchangeHeader{DocumentNumber: "CAN-00000042", ProviderCode: "PRV-9"}

	view, err := f.service.Consult(context.Background(), "CAN-00000042")
	require.NoError(t, err)
	assert.Equal(t, "Droguería San Martín", view.ProviderName)
}
