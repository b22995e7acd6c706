package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoredDetail is a persisted exchange detail row.
type StoredDetail struct {
	DocumentNumber string `json:"document_number"`
	LineIndex      int    `json:"line_index"`
	DetailLine
}

// Repository defines persistence for the issuance workflow.
type Repository interface {
	// Catalog query.
	ReturnableLines(ctx context.Context, labCode string) ([]ReturnableLine, error)

	// Header/detail persistence.
	FindExchangeHeader(ctx context.Context, documentNumber string) (*ExchangeHeader, error)
	ListExchangeHeaders(ctx context.Context, limit, offset int) ([]ExchangeHeader, int, error)
	InsertExchangeHeader(ctx context.Context, header ExchangeHeader) error
	InsertExchangeDetail(ctx context.Context, documentNumber string, index int, line DetailLine) error
	ListExchangeDetails(ctx context.Context, documentNumber string) ([]StoredDetail, error)

	// Counter mutation. AdvanceDonorCounter is a guarded decrement and the
	// authoritative capacity check; it reports ErrCounterInsufficient when
	// the laboratory allowance cannot cover qty.
	AdvanceDonorCounter(ctx context.Context, labCode, documentNumber string, qty float64) error
	AdvanceRemissionCounter(ctx context.Context, remissionNumber string) error

	// Remission persistence.
	InsertRemissionHeader(ctx context.Context, remission RemissionHeader) error
	FindRemissionHeader(ctx context.Context, remissionNumber string) (*RemissionHeader, error)
	FindRemissionByExchange(ctx context.Context, documentNumber string) (*RemissionHeader, error)

	// Saga progress bookkeeping on the header row.
	RecordProgress(ctx context.Context, documentNumber string, step Step) error

	// Compensation.
	DeleteExchangeComplete(ctx context.Context, documentNumber string) (ReversalSummary, error)
}

// repository implements Repository using pgxpool.
type repository struct {
	pool      *pgxpool.Pool
	warehouse string
}

// NewRepository creates a new repository bound to the donor warehouse.
func NewRepository(pool *pgxpool.Pool, warehouse string) Repository {
	return &repository{pool: pool, warehouse: warehouse}
}

func (r *repository) ReturnableLines(ctx context.Context, labCode string) ([]ReturnableLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT source_guide_number, product_code, product_name, lot, expiry,
		       reference, document_type, available_qty
		FROM returnable_lines
		WHERE laboratory_code = $1 AND available_qty > 0
		ORDER BY source_guide_number, product_code, lot
	`, labCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []ReturnableLine
	for rows.Next() {
		var l ReturnableLine
		if err := rows.Scan(
			&l.SourceGuideNumber, &l.ProductCode, &l.ProductName, &l.Lot,
			&l.Expiry, &l.Reference, &l.DocumentType, &l.AvailableQuantity,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) FindExchangeHeader(ctx context.Context, documentNumber string) (*ExchangeHeader, error) {
	var h ExchangeHeader
	err := r.pool.QueryRow(ctx, `
		SELECT document_number, date, provider_code, carrier_name, carrier_tax_id,
		       plate, arrival_point, consignee, laboratory_code
		FROM exchange_headers
		WHERE document_number = $1
	`, documentNumber).Scan(
		&h.DocumentNumber, &h.Date, &h.ProviderCode, &h.CarrierName, &h.CarrierTaxID,
		&h.Plate, &h.ArrivalPoint, &h.Consignee, &h.LaboratoryCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *repository) ListExchangeHeaders(ctx context.Context, limit, offset int) ([]ExchangeHeader, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exchange_headers`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT document_number, date, provider_code, carrier_name, carrier_tax_id,
		       plate, arrival_point, consignee, laboratory_code
		FROM exchange_headers
		ORDER BY date DESC, document_number DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var headers []ExchangeHeader
	for rows.Next() {
		var h ExchangeHeader
		if err := rows.Scan(
			&h.DocumentNumber, &h.Date, &h.ProviderCode, &h.CarrierName, &h.CarrierTaxID,
			&h.Plate, &h.ArrivalPoint, &h.Consignee, &h.LaboratoryCode,
		); err != nil {
			return nil, 0, err
		}
		headers = append(headers, h)
	}
	return headers, total, rows.Err()
}

func (r *repository) InsertExchangeHeader(ctx context.Context, header ExchangeHeader) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO exchange_headers (
			document_number, date, provider_code, carrier_name, carrier_tax_id,
			plate, arrival_point, consignee, laboratory_code, last_step
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		header.DocumentNumber, header.Date, header.ProviderCode, header.CarrierName,
		header.CarrierTaxID, header.Plate, header.ArrivalPoint, header.Consignee,
		header.LaboratoryCode, StepInsertHeader,
	)
	return err
}

func (r *repository) InsertExchangeDetail(ctx context.Context, documentNumber string, index int, line DetailLine) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO exchange_details (
			document_number, line_index, ordinal_index, product_code, product_name,
			lot, expiry, quantity, max_quantity, source_guide_number, reference, document_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		documentNumber, index, line.Key.OrdinalIndex, line.Key.ProductCode, line.ProductName,
		line.Key.Lot, line.Expiry, line.Quantity, line.MaxQuantity,
		line.Key.SourceGuideNumber, line.Key.Reference, line.Key.DocumentType,
	)
	return err
}

func (r *repository) ListExchangeDetails(ctx context.Context, documentNumber string) ([]StoredDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT document_number, line_index, ordinal_index, product_code, product_name,
		       lot, expiry, quantity, max_quantity, source_guide_number, reference, document_type
		FROM exchange_details
		WHERE document_number = $1
		ORDER BY line_index
	`, documentNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []StoredDetail
	for rows.Next() {
		var d StoredDetail
		if err := rows.Scan(
			&d.DocumentNumber, &d.LineIndex, &d.Key.OrdinalIndex, &d.Key.ProductCode, &d.ProductName,
			&d.Key.Lot, &d.Expiry, &d.Quantity, &d.MaxQuantity,
			&d.Key.SourceGuideNumber, &d.Key.Reference, &d.Key.DocumentType,
		); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (r *repository) AdvanceDonorCounter(ctx context.Context, labCode, documentNumber string, qty float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE laboratory_allowances
		SET remaining = remaining - $1, last_document = $2
		WHERE laboratory_code = $3 AND remaining >= $1
	`, qty, documentNumber, labCode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCounterInsufficient
	}
	return nil
}

func (r *repository) AdvanceRemissionCounter(ctx context.Context, remissionNumber string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE document_counters
		SET issued = issued + 1, last_document = $1
		WHERE counter = 'REMISSION'
	`, remissionNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remission counter row missing")
	}
	return nil
}

func (r *repository) InsertRemissionHeader(ctx context.Context, remission RemissionHeader) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO remission_headers (
			remission_number, linked_exchange_number, weight, address, date,
			carrier_name, carrier_tax_id, arrival_point
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		remission.RemissionNumber, remission.LinkedExchangeNumber, remission.Weight,
		remission.Address, remission.Date, remission.CarrierName, remission.CarrierTaxID,
		remission.ArrivalPoint,
	)
	return err
}

func (r *repository) FindRemissionHeader(ctx context.Context, remissionNumber string) (*RemissionHeader, error) {
	return r.findRemission(ctx, `remission_number = $1`, remissionNumber)
}

func (r *repository) FindRemissionByExchange(ctx context.Context, documentNumber string) (*RemissionHeader, error) {
	return r.findRemission(ctx, `linked_exchange_number = $1`, documentNumber)
}

func (r *repository) findRemission(ctx context.Context, where, arg string) (*RemissionHeader, error) {
	var rem RemissionHeader
	err := r.pool.QueryRow(ctx, `
		SELECT remission_number, linked_exchange_number, weight, address, date,
		       carrier_name, carrier_tax_id, arrival_point
		FROM remission_headers
		WHERE `+where, arg).Scan(
		&rem.RemissionNumber, &rem.LinkedExchangeNumber, &rem.Weight, &rem.Address,
		&rem.Date, &rem.CarrierName, &rem.CarrierTaxID, &rem.ArrivalPoint,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rem, nil
}

func (r *repository) RecordProgress(ctx context.Context, documentNumber string, step Step) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE exchange_headers SET last_step = $1 WHERE document_number = $2
	`, step, documentNumber)
	return err
}
