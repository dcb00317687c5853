package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	"github.com/stacklayer/custody-service/internal/domain/services"
	"github.com/stacklayer/custody-service/internal/infrastructure/config"
	"github.com/stacklayer/custody-service/pkg/logger"
)

type mockDenylist struct {
	blocked map[string]bool
}

func (m *mockDenylist) Contains(ctx context.Context, chain entities.Chain, address string) (bool, error) {
	return m.blocked[string(chain)+":"+address], nil
}

type mockHistory struct {
	recent decimal.Decimal
}

func (m *mockHistory) SumCompletedSince(ctx context.Context, userID uuid.UUID, assetID string, since time.Time) (decimal.Decimal, error) {
	return m.recent, nil
}

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		ReviewAmounts:     map[string]string{"ETH": "1", "BTC": "0.1"},
		HighAmounts:       map[string]string{"ETH": "10", "BTC": "1"},
		VelocityWindowMin: 60,
		VelocityMaxAmount: "5",
	}
}

func newRiskService(t *testing.T, denylist *mockDenylist, history *mockHistory) *services.RiskService {
	t.Helper()
	svc, err := services.NewRiskService(denylist, history, riskConfig(), logger.NewNop())
	require.NoError(t, err)
	return svc
}

func withdrawalFor(chain entities.Chain, assetID, destination string, amount string) *entities.Withdrawal {
	return &entities.Withdrawal{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		Chain:              chain,
		AssetID:            assetID,
		Amount:             decimal.RequireFromString(amount),
		DestinationAddress: destination,
	}
}

func TestAssessSmallAmountIsLowTier(t *testing.T) {
	svc := newRiskService(t, &mockDenylist{}, &mockHistory{recent: decimal.Zero})

	assessment, err := svc.Assess(context.Background(),
		withdrawalFor(entities.ChainEthereum, "ETH", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, entities.RiskTierLow, assessment.Tier)
	assert.Empty(t, assessment.Signals)
	assert.False(t, assessment.Tier.RequiresReview())
}

func TestAssessAmountThresholds(t *testing.T) {
	svc := newRiskService(t, &mockDenylist{}, &mockHistory{recent: decimal.Zero})
	ctx := context.Background()
	dest := "0xab5801a7d398351b8be11c439e05c5b3259aec9b"

	// At the review threshold.
	assessment, err := svc.Assess(ctx, withdrawalFor(entities.ChainEthereum, "ETH", dest, "1"))
	require.NoError(t, err)
	assert.Equal(t, entities.RiskTierMedium, assessment.Tier)
	assert.True(t, assessment.Tier.RequiresReview())

	// At the high threshold.
	assessment, err = svc.Assess(ctx, withdrawalFor(entities.ChainEthereum, "ETH", dest, "10"))
	require.NoError(t, err)
	assert.Equal(t, entities.RiskTierHigh, assessment.Tier)
	assert.NotEmpty(t, assessment.Signals)
}

func TestAssessDenylistedDestinationIsRejected(t *testing.T) {
	dest := "0xab5801a7d398351b8be11c439e05c5b3259aec9b"
	denylist := &mockDenylist{blocked: map[string]bool{"ethereum:" + dest: true}}
	svc := newRiskService(t, denylist, &mockHistory{recent: decimal.Zero})

	_, err := svc.Assess(context.Background(),
		withdrawalFor(entities.ChainEthereum, "ETH", dest, "0.1"))
	assert.ErrorIs(t, err, services.ErrDestinationDenied)
}

func TestAssessVelocityEscalatesLowTier(t *testing.T) {
	// 4.8 already withdrawn plus 0.5 now crosses the 5 limit.
	svc := newRiskService(t, &mockDenylist{}, &mockHistory{recent: decimal.RequireFromString("4.8")})

	assessment, err := svc.Assess(context.Background(),
		withdrawalFor(entities.ChainEthereum, "ETH", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, entities.RiskTierMedium, assessment.Tier)
	assert.NotEmpty(t, assessment.Signals)
}

func TestAssessVelocityDoesNotDowngradeHighTier(t *testing.T) {
	svc := newRiskService(t, &mockDenylist{}, &mockHistory{recent: decimal.RequireFromString("100")})

	assessment, err := svc.Assess(context.Background(),
		withdrawalFor(entities.ChainEthereum, "ETH", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", "50"))
	require.NoError(t, err)
	assert.Equal(t, entities.RiskTierHigh, assessment.Tier)
	// Both the amount and velocity signals are recorded.
	assert.Len(t, assessment.Signals, 2)
}

func TestNewRiskServiceRejectsBadThresholds(t *testing.T) {
	cfg := riskConfig()
	cfg.HighAmounts["ETH"] = "not-a-number"

	_, err := services.NewRiskService(&mockDenylist{}, &mockHistory{}, cfg, logger.NewNop())
	assert.Error(t, err)
}
