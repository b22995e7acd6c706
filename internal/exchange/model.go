// Package exchange implements the exchange/return guide issuance workflow:
// the return-line catalog, draft aggregation, the two-phase issuance saga,
// the compensating delete and the read-only consultation path.
package exchange

import (
	"time"
)

// ReturnableLine is one previously-dispatched lot eligible for return,
// snapshotted at catalog load time.
type ReturnableLine struct {
	SourceGuideNumber string     `json:"source_guide_number" db:"source_guide_number"`
	ProductCode       string     `json:"product_code" db:"product_code"`
	ProductName       string     `json:"product_name" db:"product_name"`
	Lot               string     `json:"lot" db:"lot"`
	Expiry            *time.Time `json:"expiry,omitempty" db:"expiry"`
	Reference         string     `json:"reference" db:"reference"`
	DocumentType      string     `json:"document_type" db:"document_type"`
	AvailableQuantity float64    `json:"available_quantity" db:"available_quantity"`
	// OrdinalIndex is the 0-based snapshot position. It discriminates lines
	// that share identical code/lot/guide/reference/type and is stable only
	// for the lifetime of one snapshot.
	OrdinalIndex int `json:"ordinal_index"`
}

// Key returns the composite identity of the line.
func (l ReturnableLine) Key() LineKey {
	return LineKey{
		OrdinalIndex:      l.OrdinalIndex,
		ProductCode:       l.ProductCode,
		Lot:               l.Lot,
		SourceGuideNumber: l.SourceGuideNumber,
		Reference:         l.Reference,
		DocumentType:      l.DocumentType,
	}
}

// LineKey identifies which ReturnableLine a detail line redeems. Matching is
// by the full composite, never by product code alone.
type LineKey struct {
	OrdinalIndex      int    `json:"ordinal_index"`
	ProductCode       string `json:"product_code"`
	Lot               string `json:"lot"`
	SourceGuideNumber string `json:"source_guide_number"`
	Reference         string `json:"reference"`
	DocumentType      string `json:"document_type"`
}

// Identity is the key without the positional ordinal, used to re-resolve
// lines against a fresh snapshot after a refresh.
func (k LineKey) Identity() LineIdentity {
	return LineIdentity{
		ProductCode:       k.ProductCode,
		Lot:               k.Lot,
		SourceGuideNumber: k.SourceGuideNumber,
		Reference:         k.Reference,
		DocumentType:      k.DocumentType,
	}
}

// LineIdentity is the non-positional part of a LineKey.
type LineIdentity struct {
	ProductCode       string
	Lot               string
	SourceGuideNumber string
	Reference         string
	DocumentType      string
}

// DetailLine is one accumulated entry on the exchange document being built.
type DetailLine struct {
	ID          string     `json:"id"`
	Key         LineKey    `json:"key"`
	ProductName string     `json:"product_name"`
	Expiry      *time.Time `json:"expiry,omitempty"`
	Quantity    float64    `json:"quantity"`
	// MaxQuantity is the available quantity captured from the matching
	// ReturnableLine at selection time.
	MaxQuantity float64 `json:"max_quantity"`
	// Orphaned marks a line whose source vanished from a refreshed snapshot.
	Orphaned bool `json:"orphaned,omitempty"`
}

// ExchangeHeader is the canje/exchange document being issued.
type ExchangeHeader struct {
	DocumentNumber string    `json:"document_number" db:"document_number"`
	Date           time.Time `json:"date" db:"date"`
	ProviderCode   string    `json:"provider_code" db:"provider_code"`
	CarrierName    string    `json:"carrier_name" db:"carrier_name"`
	CarrierTaxID   string    `json:"carrier_tax_id" db:"carrier_tax_id"`
	Plate          string    `json:"plate" db:"plate"`
	ArrivalPoint   string    `json:"arrival_point" db:"arrival_point"`
	Consignee      string    `json:"consignee" db:"consignee"`
	LaboratoryCode string    `json:"laboratory_code" db:"laboratory_code"`
}

// RemissionHeader is the linked downstream shipping document.
type RemissionHeader struct {
	RemissionNumber      string    `json:"remission_number" db:"remission_number"`
	LinkedExchangeNumber string    `json:"linked_exchange_number" db:"linked_exchange_number"`
	Weight               float64   `json:"weight" db:"weight"`
	Address              *string   `json:"address,omitempty" db:"address"`
	Date                 time.Time `json:"date" db:"date"`
	CarrierName          string    `json:"carrier_name" db:"carrier_name"`
	CarrierTaxID         string    `json:"carrier_tax_id" db:"carrier_tax_id"`
	ArrivalPoint         string    `json:"arrival_point" db:"arrival_point"`
}

// State tracks the issuance saga lifecycle of a draft.
type State string

const (
	StateDraft                  State = "DRAFT"
	StateVerifying              State = "VERIFYING"
	StateHeaderCommitted        State = "HEADER_COMMITTED"
	StateDetailsCommitted       State = "DETAILS_COMMITTED"
	StateDonorCounterUpdated    State = "DONOR_COUNTER_UPDATED"
	StateAwaitingRemissionInput State = "AWAITING_REMISSION_INPUT"
	StateRemissionCommitted     State = "REMISSION_COMMITTED"
	StatePrintDataPrepared      State = "PRINT_DATA_PREPARED"
	StateCompleted              State = "COMPLETED"
	StateFailed                 State = "FAILED"
)

// Step names the numbered saga steps. Failures carry the step verbatim so the
// operator knows how far issuance progressed.
type Step string

const (
	StepVerifyBalances           Step = "VerifyBalances"
	StepCheckHeaderUniqueness    Step = "CheckHeaderUniqueness"
	StepInsertHeader             Step = "InsertHeader"
	StepInsertDetails            Step = "InsertDetails"
	StepUpdateDonorCounter       Step = "UpdateDonorCounter"
	StepObtainRemissionNumber    Step = "ObtainRemissionNumber"
	StepCheckRemissionUniqueness Step = "CheckRemissionUniqueness"
	StepInsertRemissionHeader    Step = "InsertRemissionHeader"
	StepPreparePrintData         Step = "PreparePrintData"
	StepUpdateRemissionCounter   Step = "UpdateRemissionCounter"
)

// stepOrder fixes the execution order for progress comparisons. A progress
// value outside the table (including the empty string) orders before every
// step.
var stepOrder = map[Step]int{
	StepVerifyBalances:           1,
	StepCheckHeaderUniqueness:    2,
	StepInsertHeader:             3,
	StepInsertDetails:            4,
	StepUpdateDonorCounter:       5,
	StepObtainRemissionNumber:    6,
	StepCheckRemissionUniqueness: 7,
	StepInsertRemissionHeader:    8,
	StepPreparePrintData:         9,
	StepUpdateRemissionCounter:   10,
}

// Reached reports whether s is at or past target in execution order, used to
// decide which side effects a recorded progress value implies.
func (s Step) Reached(target Step) bool {
	return stepOrder[s] >= stepOrder[target] && stepOrder[s] > 0
}

// ReversalSummary reports what a compensating delete undid.
type ReversalSummary struct {
	DocumentNumber   string  `json:"document_number"`
	LinesRemoved     int     `json:"lines_removed"`
	QuantityRestored float64 `json:"quantity_restored"`
	CounterRestored  float64 `json:"counter_restored"`
}
