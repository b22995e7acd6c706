package exchange

import "time"

// StartDraftRequest opens a new issuance draft for one laboratory.
type StartDraftRequest struct {
	LaboratoryCode string `json:"laboratory_code" validate:"required"`
}

// UpdateHeaderRequest sets the operator-entered header fields on a draft.
type UpdateHeaderRequest struct {
	Date         time.Time `json:"date" validate:"required"`
	ProviderCode string    `json:"provider_code" validate:"required"`
	CarrierName  string    `json:"carrier_name" validate:"required"`
	CarrierTaxID string    `json:"carrier_tax_id" validate:"required"`
	Plate        string    `json:"plate"`
	ArrivalPoint string    `json:"arrival_point" validate:"required"`
	Consignee    string    `json:"consignee"`
}

// CommitSelectionRequest folds one catalog line into the draft detail set.
type CommitSelectionRequest struct {
	Key      LineKey `json:"key" validate:"required"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

// EditQuantityRequest replaces the quantity on an accumulated line.
type EditQuantityRequest struct {
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

// FinalizeRequest supplies the remission fields required before Phase 2.
type FinalizeRequest struct {
	Weight  float64 `json:"weight" validate:"gt=0"`
	Address *string `json:"address"`
}

// DraftResponse is the client view of an in-progress draft.
type DraftResponse struct {
	ID              string         `json:"id"`
	Header          ExchangeHeader `json:"header"`
	Details         []DetailLine   `json:"details"`
	State           State          `json:"state"`
	LastStep        Step           `json:"last_step,omitempty"`
	RemissionNumber string         `json:"remission_number,omitempty"`
	TotalQuantity   float64        `json:"total_quantity"`
}

// RegisterResponse reports a successful Phase 1 commit.
type RegisterResponse struct {
	DocumentNumber  string `json:"document_number"`
	RemissionNumber string `json:"remission_number"`
	State           State  `json:"state"`
}

func draftResponse(d *Draft) DraftResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	details := make([]DetailLine, len(d.Details))
	copy(details, d.Details)
	var total float64
	for _, line := range details {
		total += line.Quantity
	}
	return DraftResponse{
		ID:              d.ID,
		Header:          d.Header,
		Details:         details,
		State:           d.State,
		LastStep:        d.LastStep,
		RemissionNumber: d.RemissionNumber,
		TotalQuantity:   total,
	}
}
