package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProviderResolver struct {
	names map[string]string
	err   error
}

func (s *stubProviderResolver) ProviderName(ctx context.Context, code string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	name, ok := s.names[code]
	if !ok {
		return "", errors.New("unknown provider")
	}
	return name, nil
}

func consultationFixture() (*mockRepo, *ConsultationLoader) {
	repo := newMockRepo()
	repo.headers["CAN-00000042"] = ExchangeHeader{
		DocumentNumber: "CAN-00000042",
		ProviderCode:   "PRV-9",
		LaboratoryCode: "LAB-01",
	}
	repo.details = []StoredDetail{
		{DocumentNumber: "CAN-00000042", LineIndex: 0, DetailLine: DetailLine{Quantity: 10}},
		{DocumentNumber: "CAN-00000042", LineIndex: 1, DetailLine: DetailLine{Quantity: 5}},
	}
	resolver := &stubProviderResolver{names: map[string]string{"PRV-9": "Droguería San Martín"}}
	return repo, NewConsultationLoader(repo, resolver, testLogger())
}

func TestConsultationLoad(t *testing.T) {
	_, loader := consultationFixture()

	view, err := loader.Load(context.Background(), "CAN-00000042")
	require.NoError(t, err)
	assert.Equal(t, "CAN-00000042", view.Header.DocumentNumber)
	assert.Equal(t, "Droguería San Martín", view.ProviderName)
	assert.Len(t, view.Details, 2)
	assert.Equal(t, float64(15), view.TotalQuantity)
	assert.Nil(t, view.Remission)
	assert.True(t, view.Deletable)
}

func TestConsultationWithLinkedRemission(t *testing.T) {
	repo, loader := consultationFixture()
	repo.remissions["REM-00000007"] = RemissionHeader{
		RemissionNumber:      "REM-00000007",
		LinkedExchangeNumber: "CAN-00000042",
		Weight:               12.5,
	}

	view, err := loader.Load(context.Background(), "CAN-00000042")
	require.NoError(t, err)
	require.NotNil(t, view.Remission)
	assert.Equal(t, "REM-00000007", view.Remission.RemissionNumber)
	assert.False(t, view.Deletable, "linked remission blocks deletion")
}

func TestConsultationUnknownDocument(t *testing.T) {
	_, loader := consultationFixture()
	_, err := loader.Load(context.Background(), "CAN-99999999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsultationDegradesOnLookupFailure(t *testing.T) {
	repo := newMockRepo()
	repo.headers["CAN-00000042"] = ExchangeHeader{DocumentNumber: "CAN-00000042", ProviderCode: "PRV-9"}
	loader := NewConsultationLoader(repo, &stubProviderResolver{err: errors.New("lookup down")}, testLogger())

	view, err := loader.Load(context.Background(), "CAN-00000042")
	require.NoError(t, err, "a dead lookup must not fail the consultation")
	assert.Empty(t, view.ProviderName)
}
