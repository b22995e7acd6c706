package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	lines []ReturnableLine
	err   error
	calls int
}

func (s *stubSource) ReturnableLines(ctx context.Context, labCode string) ([]ReturnableLine, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]ReturnableLine, len(s.lines))
	copy(out, s.lines)
	return out, nil
}

func TestLoadAssignsOrdinals(t *testing.T) {
	source := &stubSource{lines: []ReturnableLine{
		{ProductCode: "P-100", Lot: "L1", SourceGuideNumber: "G-1", AvailableQuantity: 10},
		{ProductCode: "P-100", Lot: "L1", SourceGuideNumber: "G-1", AvailableQuantity: 4},
		{ProductCode: "P-200", Lot: "L7", SourceGuideNumber: "G-2", AvailableQuantity: 5},
	}}
	catalog := NewCatalog(source)

	snap, err := catalog.Load(context.Background(), "LAB-01")
	require.NoError(t, err)
	assert.Equal(t, "LAB-01", snap.LaboratoryCode)
	require.Len(t, snap.Lines, 3)
	for i, line := range snap.Lines {
		assert.Equal(t, i, line.OrdinalIndex)
	}

	// Identical rows stay distinct through the ordinal.
	assert.NotEqual(t, snap.Lines[0].Key(), snap.Lines[1].Key())
}

func TestLoadEmptyCatalogIsValid(t *testing.T) {
	catalog := NewCatalog(&stubSource{})
	snap, err := catalog.Load(context.Background(), "LAB-99")
	require.NoError(t, err)
	assert.Empty(t, snap.Lines)
}

func TestLoadWrapsSourceFailure(t *testing.T) {
	catalog := NewCatalog(&stubSource{err: errors.New("connection refused")})
	_, err := catalog.Load(context.Background(), "LAB-01")
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
}

type ctxAwareSource struct {
	lines []ReturnableLine
}

func (s *ctxAwareSource) ReturnableLines(ctx context.Context, labCode string) ([]ReturnableLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.lines, nil
}

func TestLoadSurvivesCallerCancellation(t *testing.T) {
	source := &ctxAwareSource{lines: []ReturnableLine{{ProductCode: "P-100", Lot: "L1"}}}
	catalog := NewCatalog(source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := catalog.Load(ctx, "LAB-01")
	require.NoError(t, err)
	assert.Len(t, snap.Lines, 1)
}

func TestRefreshIssuesNewQuery(t *testing.T) {
	source := &stubSource{lines: []ReturnableLine{{ProductCode: "P-100", Lot: "L1"}}}
	catalog := NewCatalog(source)

	first, err := catalog.Load(context.Background(), "LAB-01")
	require.NoError(t, err)

	source.lines = append(source.lines, ReturnableLine{ProductCode: "P-300", Lot: "L2"})
	second, err := catalog.Refresh(context.Background(), "LAB-01")
	require.NoError(t, err)

	assert.Len(t, first.Lines, 1)
	assert.Len(t, second.Lines, 2)
	assert.GreaterOrEqual(t, source.calls, 2)
}

func TestSearchFoldsCaseAndAccents(t *testing.T) {
	snap := &Snapshot{Lines: []ReturnableLine{
		{ProductCode: "P-100", ProductName: "Ibuprofeno 400mg", Lot: "L1", SourceGuideNumber: "G-1"},
		{ProductCode: "P-200", ProductName: "Jarabé para la tos", Lot: "L7", SourceGuideNumber: "G-2"},
		{ProductCode: "P-300", ProductName: "Paracetamol", Lot: "L9", SourceGuideNumber: "G-3", Reference: "FACT-88"},
	}}

	assert.Len(t, Search(snap, "ibupro"), 1)
	assert.Len(t, Search(snap, "JARABE"), 1)
	assert.Len(t, Search(snap, "fact-88"), 1)
	assert.Len(t, Search(snap, "g-"), 3)
	assert.Empty(t, Search(snap, "omeprazol"))
}

func TestSearchBlankQueryReturnsEverything(t *testing.T) {
	snap := &Snapshot{Lines: []ReturnableLine{
		{ProductCode: "P-100"}, {ProductCode: "P-200"},
	}}
	out := Search(snap, "   ")
	assert.Len(t, out, 2)

	// The result is a copy; mutating it must not touch the snapshot.
	out[0].ProductCode = "mutated"
	assert.Equal(t, "P-100", snap.Lines[0].ProductCode)
}

func TestSearchNilSnapshot(t *testing.T) {
	assert.Nil(t, Search(nil, "anything"))
}

func TestSnapshotFindByIdentityIgnoresOrdinal(t *testing.T) {
	snap := &Snapshot{Lines: []ReturnableLine{
		{ProductCode: "P-100", Lot: "L1", SourceGuideNumber: "G-1", Reference: "R1", DocumentType: "03", OrdinalIndex: 4},
	}}

	id := LineIdentity{ProductCode: "P-100", Lot: "L1", SourceGuideNumber: "G-1", Reference: "R1", DocumentType: "03"}
	line, ok := snap.FindByIdentity(id)
	require.True(t, ok)
	assert.Equal(t, 4, line.OrdinalIndex)

	_, ok = snap.FindByIdentity(LineIdentity{ProductCode: "P-999"})
	assert.False(t, ok)
}
