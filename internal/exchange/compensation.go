package exchange

// lotCredit is a consumed quantity owed back to the donor warehouse.
type lotCredit struct {
	ProductCode string
	Lot         string
	Quantity    float64
}

// reversalState is everything a compensating delete needs to decide what to
// undo, loaded inside the delete transaction.
type reversalState struct {
	Found           bool
	DocumentNumber  string
	LaboratoryCode  string
	LastStep        Step
	RemissionLinked bool
	Details         []StoredDetail
	// Consumed holds the per-lot quantities the movement ledger says were
	// actually taken for this document.
	Consumed []lotCredit
}

// reversalPlan is the computed undo. The counter credit is zero when the
// donor counter step never committed, and stock credits come from the
// movement ledger rather than the detail rows, so a document that failed
// mid-registration never over-credits quantities that were never consumed.
type reversalPlan struct {
	CounterCredit float64
	StockCredits  []lotCredit
	Summary       ReversalSummary
}

// planReversal validates the loaded state and computes what to undo.
func planReversal(st reversalState) (reversalPlan, error) {
	if !st.Found {
		return reversalPlan{}, ErrNotFound
	}
	if st.RemissionLinked {
		return reversalPlan{}, ErrRemissionAttached
	}

	var counterCredit float64
	if st.LastStep.Reached(StepUpdateDonorCounter) {
		for _, d := range st.Details {
			counterCredit += d.Quantity
		}
	}

	var restored float64
	for _, c := range st.Consumed {
		restored += c.Quantity
	}

	return reversalPlan{
		CounterCredit: counterCredit,
		StockCredits:  st.Consumed,
		Summary: ReversalSummary{
			DocumentNumber:   st.DocumentNumber,
			LinesRemoved:     len(st.Details),
			QuantityRestored: restored,
			CounterRestored:  counterCredit,
		},
	}, nil
}
