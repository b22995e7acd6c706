package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registeredReversalState() reversalState {
	return reversalState{
		Found:          true,
		DocumentNumber: "CAN-00000042",
		LaboratoryCode: "LAB-7",
		LastStep:       StepObtainRemissionNumber,
		Details: []StoredDetail{
			{DocumentNumber: "CAN-00000042", LineIndex: 0, DetailLine: DetailLine{Key: LineKey{ProductCode: "P-100", Lot: "L1"}, Quantity: 10}},
			{DocumentNumber: "CAN-00000042", LineIndex: 1, DetailLine: DetailLine{Key: LineKey{ProductCode: "P-200", Lot: "L7"}, Quantity: 5}},
		},
		Consumed: []lotCredit{
			{ProductCode: "P-100", Lot: "L1", Quantity: 10},
			{ProductCode: "P-200", Lot: "L7", Quantity: 5},
		},
	}
}

func TestPlanReversalFullyRegistered(t *testing.T) {
	plan, err := planReversal(registeredReversalState())
	require.NoError(t, err)

	assert.Equal(t, float64(15), plan.CounterCredit)
	require.Len(t, plan.StockCredits, 2)
	assert.Equal(t, float64(10), plan.StockCredits[0].Quantity)
	assert.Equal(t, float64(5), plan.StockCredits[1].Quantity)

	assert.Equal(t, "CAN-00000042", plan.Summary.DocumentNumber)
	assert.Equal(t, 2, plan.Summary.LinesRemoved)
	assert.Equal(t, float64(15), plan.Summary.QuantityRestored)
	assert.Equal(t, float64(15), plan.Summary.CounterRestored)
}

// A registration that failed inside InsertDetails can leave a persisted
// detail row while the ledger shows nothing was consumed and the donor
// counter was never touched. The reversal must remove the row without
// crediting anything back.
func TestPlanReversalPartialRegistration(t *testing.T) {
	st := reversalState{
		Found:          true,
		DocumentNumber: "CAN-00000043",
		LaboratoryCode: "LAB-7",
		LastStep:       StepInsertDetails,
		Details: []StoredDetail{
			{DocumentNumber: "CAN-00000043", LineIndex: 0, DetailLine: DetailLine{Key: LineKey{ProductCode: "P-100", Lot: "L1"}, Quantity: 10}},
		},
	}

	plan, err := planReversal(st)
	require.NoError(t, err)

	assert.Zero(t, plan.CounterCredit)
	assert.Empty(t, plan.StockCredits)
	assert.Equal(t, 1, plan.Summary.LinesRemoved)
	assert.Zero(t, plan.Summary.QuantityRestored)
	assert.Zero(t, plan.Summary.CounterRestored)
}

// When the first detail consumed stock but the second failed, only the
// ledger-confirmed lot is credited; the counter stays untouched because the
// donor counter step never ran.
func TestPlanReversalCreditsOnlyConsumedLots(t *testing.T) {
	st := reversalState{
		Found:          true,
		DocumentNumber: "CAN-00000044",
		LaboratoryCode: "LAB-7",
		LastStep:       StepInsertDetails,
		Details: []StoredDetail{
			{DocumentNumber: "CAN-00000044", LineIndex: 0, DetailLine: DetailLine{Key: LineKey{ProductCode: "P-100", Lot: "L1"}, Quantity: 10}},
			{DocumentNumber: "CAN-00000044", LineIndex: 1, DetailLine: DetailLine{Key: LineKey{ProductCode: "P-200", Lot: "L7"}, Quantity: 5}},
		},
		Consumed: []lotCredit{
			{ProductCode: "P-100", Lot: "L1", Quantity: 10},
		},
	}

	plan, err := planReversal(st)
	require.NoError(t, err)

	assert.Zero(t, plan.CounterCredit)
	require.Len(t, plan.StockCredits, 1)
	assert.Equal(t, "P-100", plan.StockCredits[0].ProductCode)
	assert.Equal(t, float64(10), plan.Summary.QuantityRestored)
	assert.Zero(t, plan.Summary.CounterRestored)
}

func TestPlanReversalRefusesLinkedRemission(t *testing.T) {
	st := registeredReversalState()
	st.RemissionLinked = true

	_, err := planReversal(st)
	assert.ErrorIs(t, err, ErrRemissionAttached)
}

func TestPlanReversalMissingDocument(t *testing.T) {
	_, err := planReversal(reversalState{DocumentNumber: "CAN-99999999"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStepReachedOrdering(t *testing.T) {
	assert.True(t, StepUpdateDonorCounter.Reached(StepUpdateDonorCounter))
	assert.True(t, StepObtainRemissionNumber.Reached(StepUpdateDonorCounter))
	assert.False(t, StepInsertDetails.Reached(StepUpdateDonorCounter))
	assert.False(t, Step("").Reached(StepVerifyBalances))
}
