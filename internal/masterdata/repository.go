package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines read access to the lookup catalogs.
type Repository interface {
	ListLaboratories(ctx context.Context) ([]Laboratory, error)
	ListProviders(ctx context.Context, labCode string) ([]Provider, error)
	ListCarriers(ctx context.Context) ([]Carrier, error)
	FindProvider(ctx context.Context, code string) (*Provider, error)
	FindCarrier(ctx context.Context, code string) (*Carrier, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) ListLaboratories(ctx context.Context) ([]Laboratory, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, description FROM laboratories ORDER BY description`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labs []Laboratory
	for rows.Next() {
		var l Laboratory
		if err := rows.Scan(&l.Code, &l.Description); err != nil {
			return nil, err
		}
		labs = append(labs, l)
	}
	return labs, rows.Err()
}

func (r *repository) ListProviders(ctx context.Context, labCode string) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT code, name, laboratory_code
		FROM providers
		WHERE laboratory_code = $1
		ORDER BY name
	`, labCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.Code, &p.Name, &p.LaboratoryCode); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (r *repository) ListCarriers(ctx context.Context) ([]Carrier, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, name, tax_id FROM carriers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var carriers []Carrier
	for rows.Next() {
		var c Carrier
		if err := rows.Scan(&c.Code, &c.Name, &c.TaxID); err != nil {
			return nil, err
		}
		carriers = append(carriers, c)
	}
	return carriers, rows.Err()
}

func (r *repository) FindProvider(ctx context.Context, code string) (*Provider, error) {
	var p Provider
	err := r.pool.QueryRow(ctx, `SELECT code, name, laboratory_code FROM providers WHERE code = $1`, code).
		Scan(&p.Code, &p.Name, &p.LaboratoryCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) FindCarrier(ctx context.Context, code string) (*Carrier, error) {
	var c Carrier
	err := r.pool.QueryRow(ctx, `SELECT code, name, tax_id FROM carriers WHERE code = $1`, code).
		Scan(&c.Code, &c.Name, &c.TaxID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
