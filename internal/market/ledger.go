package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/metrics"
	"github.com/propshare/settlement-core/internal/model"
)

// Deposit credits the user's available balance. This is the entry point the
// external payment rail calls once real funds have cleared; it only ever
// touches the available partition.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Balance, error) {
	if userID == "" {
		return nil, &model.ValidationError{Message: "user_id is required"}
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, &model.ValidationError{Message: "amount must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bal, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	bal.Available = bal.Available.Add(amount)
	bal.UpdatedAt = time.Now().UTC()
	if err := s.store.PutBalance(ctx, bal); err != nil {
		return nil, err
	}

	slog.Info("deposit", "user", userID, "amount", amount.String())
	return bal, nil
}

// Withdraw debits the user's available balance. The actor must be the
// account owner or an operator. Locked and pending funds cannot be withdrawn.
func (s *Service) Withdraw(ctx context.Context, actor model.Actor, userID string, amount decimal.Decimal) (*model.Balance, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, &model.ValidationError{Message: "amount must be positive"}
	}
	if !actor.CanActFor(userID) {
		return nil, fmt.Errorf("actor %s cannot withdraw for %s: %w", actor.ID, userID, model.ErrUnauthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bal, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bal.Available.LessThan(amount) {
		return nil, fmt.Errorf("available %s < %s: %w", bal.Available, amount, model.ErrInsufficientFunds)
	}
	bal.Available = bal.Available.Sub(amount)
	bal.UpdatedAt = time.Now().UTC()
	if err := s.store.PutBalance(ctx, bal); err != nil {
		return nil, err
	}

	slog.Info("withdrawal", "user", userID, "amount", amount.String())
	return bal, nil
}

// GetBalance returns the user's balance record.
func (s *Service) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	return s.store.GetBalance(ctx, userID)
}

// GrantShares records a primary issuance: the user acquires shares of an
// asset at the given unit cost outside the secondary market (the offering
// flow). Operator only. The grant is an ordinary trade row with no seller,
// so position recomputation treats it like any other acquisition.
func (s *Service) GrantShares(ctx context.Context, actor model.Actor, userID, assetID string, shares int64, unitCost decimal.Decimal) (*model.Position, error) {
	if !actor.Operator {
		return nil, fmt.Errorf("grant requires an operator: %w", model.ErrUnauthorized)
	}
	if userID == "" || assetID == "" {
		return nil, &model.ValidationError{Message: "user_id and asset_id are required"}
	}
	if shares <= 0 {
		return nil, &model.ValidationError{Message: "shares must be positive"}
	}
	if unitCost.IsNegative() {
		return nil, &model.ValidationError{Message: "unit_cost must not be negative"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trade := &model.Trade{
		ID:            uuid.New().String(),
		AssetID:       assetID,
		BuyerID:       userID,
		Shares:        shares,
		PricePerShare: unitCost,
		RealizedPnL:   decimal.Zero,
		ExecutedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record grant: %w", err)
	}

	pos, err := s.recomputePosition(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}

	metrics.SharesGranted.WithLabelValues(assetID).Add(float64(shares))
	slog.Info("shares granted",
		"user", userID,
		"asset", assetID,
		"shares", shares,
		"unit_cost", unitCost.String(),
	)
	return pos, nil
}
