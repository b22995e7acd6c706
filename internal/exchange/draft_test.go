package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		LaboratoryCode: "LAB-01",
		LoadedAt:       time.Now(),
		Lines: []ReturnableLine{
			{SourceGuideNumber: "G-1", ProductCode: "P-100", ProductName: "Ibuprofeno 400mg", Lot: "L1", Reference: "R1", DocumentType: "03", AvailableQuantity: 40, OrdinalIndex: 0},
			{SourceGuideNumber: "G-1", ProductCode: "P-100", ProductName: "Ibuprofeno 400mg", Lot: "L2", Reference: "R1", DocumentType: "03", AvailableQuantity: 15, OrdinalIndex: 1},
			{SourceGuideNumber: "G-2", ProductCode: "P-200", ProductName: "Amoxicilina 500mg", Lot: "L7", Reference: "R2", DocumentType: "03", AvailableQuantity: 5, OrdinalIndex: 2},
		},
	}
}

func emptyDraft() *Draft {
	return &Draft{
		ID:       "draft-1",
		Header:   ExchangeHeader{DocumentNumber: "CAN-00000042", LaboratoryCode: "LAB-01"},
		State:    StateDraft,
		Snapshot: sampleSnapshot(),
	}
}

func TestCommitMergesByFullKey(t *testing.T) {
	d := emptyDraft()
	line := d.Snapshot.Lines[0]

	sel := d.Select(line)
	sel.Quantity = 10
	require.NoError(t, d.Commit(sel))

	again := d.Select(line)
	again.Quantity = 15
	require.NoError(t, d.Commit(again))

	details := d.DetailLines()
	require.Len(t, details, 1)
	assert.Equal(t, float64(25), details[0].Quantity)
	assert.Equal(t, float64(25), d.TotalQuantity())
}

func TestCommitSameProductDifferentLotStaysSeparate(t *testing.T) {
	d := emptyDraft()

	selA := d.Select(d.Snapshot.Lines[0])
	selA.Quantity = 10
	require.NoError(t, d.Commit(selA))

	selB := d.Select(d.Snapshot.Lines[1])
	selB.Quantity = 5
	require.NoError(t, d.Commit(selB))

	details := d.DetailLines()
	require.Len(t, details, 2)
	assert.Equal(t, "L1", details[0].Key.Lot)
	assert.Equal(t, "L2", details[1].Key.Lot)
}

func TestCommitCapacityExceeded(t *testing.T) {
	d := emptyDraft()
	line := d.Snapshot.Lines[2] // max 5

	sel := d.Select(line)
	sel.Quantity = 4
	require.NoError(t, d.Commit(sel))

	over := d.Select(line)
	over.Quantity = 2
	err := d.Commit(over)

	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, float64(6), capErr.Attempted)
	assert.Equal(t, float64(5), capErr.Max)

	// Rejected commit leaves the accumulated quantity untouched.
	details := d.DetailLines()
	require.Len(t, details, 1)
	assert.Equal(t, float64(4), details[0].Quantity)
}

func TestCommitRejectsNonPositiveQuantity(t *testing.T) {
	d := emptyDraft()
	sel := d.Select(d.Snapshot.Lines[0])

	sel.Quantity = 0
	assert.ErrorIs(t, d.Commit(sel), ErrInvalidQuantity)

	sel.Quantity = -3
	assert.ErrorIs(t, d.Commit(sel), ErrInvalidQuantity)
	assert.Empty(t, d.DetailLines())
}

func TestCommitAfterSagaStartRefused(t *testing.T) {
	d := emptyDraft()
	sel := d.Select(d.Snapshot.Lines[0])
	sel.Quantity = 1
	require.NoError(t, d.Commit(sel))

	d.State = StateAwaitingRemissionInput
	next := d.Select(d.Snapshot.Lines[1])
	next.Quantity = 1
	assert.ErrorIs(t, d.Commit(next), ErrDraftImmutable)
}

func TestEditQuantityRerunsCapacityCheck(t *testing.T) {
	d := emptyDraft()
	sel := d.Select(d.Snapshot.Lines[2]) // max 5
	sel.Quantity = 3
	require.NoError(t, d.Commit(sel))
	id := d.DetailLines()[0].ID

	require.NoError(t, d.EditQuantity(id, 5))
	assert.Equal(t, float64(5), d.DetailLines()[0].Quantity)

	var capErr *CapacityError
	err := d.EditQuantity(id, 6)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, float64(5), d.DetailLines()[0].Quantity)

	assert.ErrorIs(t, d.EditQuantity(id, 0), ErrInvalidQuantity)
	assert.ErrorIs(t, d.EditQuantity("missing", 2), ErrLineNotFound)
}

func TestRemoveLine(t *testing.T) {
	d := emptyDraft()
	sel := d.Select(d.Snapshot.Lines[0])
	sel.Quantity = 2
	require.NoError(t, d.Commit(sel))
	id := d.DetailLines()[0].ID

	require.NoError(t, d.Remove(id))
	assert.Empty(t, d.DetailLines())
	assert.ErrorIs(t, d.Remove(id), ErrLineNotFound)
}

func TestRebindReresolvesAndOrphans(t *testing.T) {
	d := emptyDraft()

	selA := d.Select(d.Snapshot.Lines[0]) // P-100/L1
	selA.Quantity = 10
	require.NoError(t, d.Commit(selA))

	selB := d.Select(d.Snapshot.Lines[2]) // P-200/L7
	selB.Quantity = 3
	require.NoError(t, d.Commit(selB))

	// The refreshed catalog dropped P-200/L7 and re-ordered what is left.
	refreshed := &Snapshot{
		LaboratoryCode: "LAB-01",
		LoadedAt:       time.Now(),
		Lines: []ReturnableLine{
			{SourceGuideNumber: "G-1", ProductCode: "P-100", ProductName: "Ibuprofeno 400mg", Lot: "L2", Reference: "R1", DocumentType: "03", AvailableQuantity: 15, OrdinalIndex: 0},
			{SourceGuideNumber: "G-1", ProductCode: "P-100", ProductName: "Ibuprofeno 400mg", Lot: "L1", Reference: "R1", DocumentType: "03", AvailableQuantity: 32, OrdinalIndex: 1},
		},
	}
	d.Rebind(refreshed)

	details := d.DetailLines()
	require.Len(t, details, 2)

	assert.False(t, details[0].Orphaned)
	assert.Equal(t, 1, details[0].Key.OrdinalIndex, "ordinal tracks the new snapshot position")
	assert.Equal(t, float64(32), details[0].MaxQuantity, "capacity bound refreshed")

	assert.True(t, details[1].Orphaned)

	// Orphaned lines block edits until removed.
	assert.ErrorIs(t, d.EditQuantity(details[1].ID, 1), ErrOrphanedLine)
}

func TestDraftStoreLifecycle(t *testing.T) {
	store := NewDraftStore()
	draft := store.Create(ExchangeHeader{DocumentNumber: "CAN-1", LaboratoryCode: "LAB-01"}, sampleSnapshot())
	require.NotEmpty(t, draft.ID)
	assert.Equal(t, StateDraft, draft.State)

	got, err := store.Get(draft.ID)
	require.NoError(t, err)
	assert.Same(t, draft, got)

	store.Delete(draft.ID)
	_, err = store.Get(draft.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}
