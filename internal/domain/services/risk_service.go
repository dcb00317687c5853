package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	"github.com/stacklayer/custody-service/internal/infrastructure/config"
	"github.com/stacklayer/custody-service/pkg/logger"
	"github.com/stacklayer/custody-service/pkg/security"
)

// DenylistChecker checks destinations against the denylist
type DenylistChecker interface {
	Contains(ctx context.Context, chain entities.Chain, address string) (bool, error)
}

// WithdrawalHistory exposes the velocity data the risk engine reads
type WithdrawalHistory interface {
	SumCompletedSince(ctx context.Context, userID uuid.UUID, assetID string, since time.Time) (decimal.Decimal, error)
}

// RiskService scores withdrawal requests. Scoring is deliberately
// simple and rule-based; every signal that fired is recorded on the
// assessment so reviewers see why a request was held.
type RiskService struct {
	denylist DenylistChecker
	history  WithdrawalHistory
	cfg      config.RiskConfig
	logger   *logger.Logger

	reviewAmounts map[string]decimal.Decimal
	highAmounts   map[string]decimal.Decimal
	velocityMax   decimal.Decimal
}

// ErrDestinationDenied rejects a withdrawal outright rather than
// holding it for review.
var ErrDestinationDenied = fmt.Errorf("destination address is denylisted")

// NewRiskService creates a new risk service
func NewRiskService(denylist DenylistChecker, history WithdrawalHistory, cfg config.RiskConfig, logger *logger.Logger) (*RiskService, error) {
	s := &RiskService{
		denylist:      denylist,
		history:       history,
		cfg:           cfg,
		logger:        logger,
		reviewAmounts: make(map[string]decimal.Decimal),
		highAmounts:   make(map[string]decimal.Decimal),
	}

	for asset, raw := range cfg.ReviewAmounts {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid review amount for %s: %w", asset, err)
		}
		s.reviewAmounts[asset] = amount
	}
	for asset, raw := range cfg.HighAmounts {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid high amount for %s: %w", asset, err)
		}
		s.highAmounts[asset] = amount
	}

	if cfg.VelocityMaxAmount != "" {
		v, err := decimal.NewFromString(cfg.VelocityMaxAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid velocity max amount: %w", err)
		}
		s.velocityMax = v
	}

	return s, nil
}

// Assess scores a withdrawal request. A denylisted destination returns
// ErrDestinationDenied; everything else maps to a tier.
func (s *RiskService) Assess(ctx context.Context, w *entities.Withdrawal) (*entities.RiskAssessment, error) {
	denied, err := s.denylist.Contains(ctx, w.Chain, w.Chain.NormalizeAddress(w.DestinationAddress))
	if err != nil {
		return nil, fmt.Errorf("denylist check: %w", err)
	}
	if denied {
		s.logger.Warn("Withdrawal to denylisted destination rejected",
			"user_id", w.UserID,
			"chain", w.Chain,
			"destination", security.MaskAddress(w.DestinationAddress))
		return nil, ErrDestinationDenied
	}

	assessment := &entities.RiskAssessment{Tier: entities.RiskTierLow}

	if high, ok := s.highAmounts[w.AssetID]; ok && w.Amount.GreaterThanOrEqual(high) {
		assessment.Tier = entities.RiskTierHigh
		assessment.Signals = append(assessment.Signals, fmt.Sprintf("amount %s at or above high threshold %s", w.Amount, high))
	} else if review, ok := s.reviewAmounts[w.AssetID]; ok && w.Amount.GreaterThanOrEqual(review) {
		assessment.Tier = entities.RiskTierMedium
		assessment.Signals = append(assessment.Signals, fmt.Sprintf("amount %s at or above review threshold %s", w.Amount, review))
	}

	if s.velocityMax.Sign() > 0 {
		window := time.Duration(s.cfg.VelocityWindowMin) * time.Minute
		recent, err := s.history.SumCompletedSince(ctx, w.UserID, w.AssetID, time.Now().Add(-window))
		if err != nil {
			return nil, fmt.Errorf("velocity check: %w", err)
		}
		if recent.Add(w.Amount).GreaterThan(s.velocityMax) {
			if assessment.Tier == entities.RiskTierLow {
				assessment.Tier = entities.RiskTierMedium
			}
			assessment.Signals = append(assessment.Signals, fmt.Sprintf("velocity %s in last %s exceeds limit %s", recent.Add(w.Amount), window, s.velocityMax))
		}
	}

	return assessment, nil
}
