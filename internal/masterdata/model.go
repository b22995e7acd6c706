// Package masterdata serves the lookup catalogs the issuance screens consume:
// laboratories, providers and carriers.
package masterdata

// Laboratory identifies a laboratory whose returns can be redeemed.
type Laboratory struct {
	Code        string `json:"code" db:"code"`
	Description string `json:"description" db:"description"`
}

// Provider is a supplier registered for a laboratory.
type Provider struct {
	Code           string `json:"code" db:"code"`
	Name           string `json:"name" db:"name"`
	LaboratoryCode string `json:"laboratory_code" db:"laboratory_code"`
}

// Carrier is a transport company usable on exchange and remission guides.
type Carrier struct {
	Code  string `json:"code" db:"code"`
	Name  string `json:"name" db:"name"`
	TaxID string `json:"tax_id" db:"tax_id"`
}
