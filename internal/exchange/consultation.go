package exchange

import (
	"context"
	"errors"
	"log/slog"
)

// ProviderResolver resolves a provider code to its display name.
type ProviderResolver interface {
	ProviderName(ctx context.Context, code string) (string, error)
}

// ConsultationView is a read-only projection of a registered exchange
// document, its detail lines and the linked remission guide when one exists.
type ConsultationView struct {
	Header        ExchangeHeader   `json:"header"`
	ProviderName  string           `json:"provider_name,omitempty"`
	Details       []StoredDetail   `json:"details"`
	Remission     *RemissionHeader `json:"remission,omitempty"`
	TotalQuantity float64          `json:"total_quantity"`
	// Deletable is false once a remission guide is linked; such documents can
	// only be consulted, never reversed.
	Deletable bool `json:"deletable"`
}

// ConsultationLoader serves read-only document lookups. Loading never takes
// locks and never mutates counters, balances or documents.
type ConsultationLoader struct {
	repo      Repository
	providers ProviderResolver
	logger    *slog.Logger
}

// NewConsultationLoader builds a loader over the repository and provider
// lookup.
func NewConsultationLoader(repo Repository, providers ProviderResolver, logger *slog.Logger) *ConsultationLoader {
	return &ConsultationLoader{repo: repo, providers: providers, logger: logger}
}

// Load fetches a registered document by number. A missing provider lookup
// degrades to an unresolved name rather than failing the consultation.
func (l *ConsultationLoader) Load(ctx context.Context, documentNumber string) (*ConsultationView, error) {
	header, err := l.repo.FindExchangeHeader(ctx, documentNumber)
	if err != nil {
		return nil, err
	}

	details, err := l.repo.ListExchangeDetails(ctx, documentNumber)
	if err != nil {
		return nil, err
	}

	remission, err := l.repo.FindRemissionByExchange(ctx, documentNumber)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	view := &ConsultationView{
		Header:    *header,
		Details:   details,
		Remission: remission,
		Deletable: remission == nil,
	}
	for _, d := range details {
		view.TotalQuantity += d.Quantity
	}

	if header.ProviderCode != "" {
		name, err := l.providers.ProviderName(ctx, header.ProviderCode)
		if err != nil {
			l.logger.Warn("resolve provider name",
				slog.String("document", documentNumber),
				slog.String("provider", header.ProviderCode),
				slog.Any("error", err))
		} else {
			view.ProviderName = name
		}
	}

	return view, nil
}
