// Package sequence issues guide numbers for exchange and remission documents.
// Numbers come from per-series rows in document_series and must stay monotonic
// and collision-free under concurrent callers.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Series identifiers. Exchange and remission guides draw from distinct series.
const (
	SeriesExchange  = "EXCHANGE"
	SeriesRemission = "REMISSION"
)

var (
	// ErrSeriesNotFound indicates the series row is missing.
	ErrSeriesNotFound = errors.New("sequence: series not found")
	// ErrSeriesExhausted indicates the series reached its configured ceiling.
	ErrSeriesExhausted = errors.New("sequence: series exhausted")
	// ErrSeriesExists indicates a duplicate series registration.
	ErrSeriesExists = errors.New("sequence: series already registered")
)

// Sequencer hands out the next number of a series.
type Sequencer interface {
	NextExchangeNumber(ctx context.Context) (string, error)
	NextRemissionNumber(ctx context.Context) (string, error)
}

// Store implements Sequencer on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RegisterSeries creates a series row with its prefix and ceiling.
func (s *Store) RegisterSeries(ctx context.Context, series, prefix string, ceiling int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_series (series, prefix, last_number, ceiling)
		VALUES ($1, $2, 0, $3)
	`, series, prefix, ceiling)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return ErrSeriesExists
		}
		return err
	}
	return nil
}

// NextExchangeNumber advances the exchange series.
func (s *Store) NextExchangeNumber(ctx context.Context) (string, error) {
	return s.next(ctx, SeriesExchange)
}

// NextRemissionNumber advances the remission series.
func (s *Store) NextRemissionNumber(ctx context.Context) (string, error) {
	return s.next(ctx, SeriesRemission)
}

// next advances a series atomically. The guarded UPDATE keeps the series
// monotonic across concurrent callers without an explicit lock.
func (s *Store) next(ctx context.Context, series string) (string, error) {
	var (
		prefix string
		number int64
	)
	err := s.pool.QueryRow(ctx, `
		UPDATE document_series
		SET last_number = last_number + 1
		WHERE series = $1 AND last_number < ceiling
		RETURNING prefix, last_number
	`, series).Scan(&prefix, &number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", s.classifyMiss(ctx, series)
		}
		return "", fmt.Errorf("sequence: advance %s: %w", series, err)
	}
	return Format(prefix, number), nil
}

// classifyMiss distinguishes a missing series from an exhausted one.
func (s *Store) classifyMiss(ctx context.Context, series string) error {
	var last, ceiling int64
	err := s.pool.QueryRow(ctx, `SELECT last_number, ceiling FROM document_series WHERE series = $1`, series).Scan(&last, &ceiling)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSeriesNotFound
		}
		return err
	}
	if last >= ceiling {
		return ErrSeriesExhausted
	}
	return ErrSeriesNotFound
}

// Format renders a guide number in the NNN-NNNNNNNN form used on the guides.
func Format(prefix string, number int64) string {
	return fmt.Sprintf("%s-%08d", prefix, number)
}
