package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/farmadist/farmadist/internal/platform/httpx"
)

// ErrNotFound indicates a missing catalog entry. It wraps the transport
// sentinel so handlers can map it straight to a 404.
var ErrNotFound = fmt.Errorf("masterdata: %w", httpx.ErrNotFound)

// Service serves the lookup catalogs, caching list results.
type Service struct {
	repo  Repository
	cache *Cache
}

// NewService builds Service.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Laboratories lists every laboratory with a return allowance.
func (s *Service) Laboratories(ctx context.Context) ([]Laboratory, error) {
	var labs []Laboratory
	err := s.cache.FetchJSON(ctx, keyLaboratories(), &labs, func(ctx context.Context) (interface{}, error) {
		return s.repo.ListLaboratories(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("masterdata: list laboratories: %w", err)
	}
	return labs, nil
}

// Providers lists the providers registered for a laboratory.
func (s *Service) Providers(ctx context.Context, labCode string) ([]Provider, error) {
	if labCode == "" {
		return nil, errors.New("masterdata: laboratory code required")
	}
	var providers []Provider
	err := s.cache.FetchJSON(ctx, keyProviders(labCode), &providers, func(ctx context.Context) (interface{}, error) {
		return s.repo.ListProviders(ctx, labCode)
	})
	if err != nil {
		return nil, fmt.Errorf("masterdata: list providers: %w", err)
	}
	return providers, nil
}

// Carriers lists the registered transport companies.
func (s *Service) Carriers(ctx context.Context) ([]Carrier, error) {
	var carriers []Carrier
	err := s.cache.FetchJSON(ctx, keyCarriers(), &carriers, func(ctx context.Context) (interface{}, error) {
		return s.repo.ListCarriers(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("masterdata: list carriers: %w", err)
	}
	return carriers, nil
}

// Provider resolves a single provider by code, bypassing the cache. Used for
// display resolution on consultation loads.
func (s *Service) Provider(ctx context.Context, code string) (*Provider, error) {
	return s.repo.FindProvider(ctx, code)
}

// Carrier resolves a single carrier by code.
func (s *Service) Carrier(ctx context.Context, code string) (*Carrier, error) {
	return s.repo.FindCarrier(ctx, code)
}
