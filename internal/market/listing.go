package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/metrics"
	"github.com/propshare/settlement-core/internal/model"
)

// CreateListing opens a sell offer for the actor's shares. The seller must
// hold at least `shares` free units of the asset: owned shares minus shares
// already committed to other active listings. The committed-shares check
// parks the listed supply so a seller cannot oversell across simultaneous
// listings.
func (s *Service) CreateListing(ctx context.Context, actor model.Actor, assetID string, shares int64, pricePerShare decimal.Decimal) (*model.Listing, error) {
	if assetID == "" {
		return nil, &model.ValidationError{Message: "asset_id is required"}
	}
	if shares <= 0 {
		return nil, &model.ValidationError{Message: "shares must be positive"}
	}
	if pricePerShare.LessThanOrEqual(decimal.Zero) {
		return nil, &model.ValidationError{Message: "price_per_share must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owned := int64(0)
	pos, err := s.store.GetPosition(ctx, actor.ID, assetID)
	if err == nil {
		owned = pos.TotalShares
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	committed, err := s.store.CommittedShares(ctx, actor.ID, assetID)
	if err != nil {
		return nil, err
	}
	free := owned - committed
	if shares > free {
		return nil, fmt.Errorf("%d shares requested, %d free (%d owned, %d parked): %w",
			shares, free, owned, committed, model.ErrInsufficientSupply)
	}

	now := time.Now().UTC()
	listing := &model.Listing{
		ID:              uuid.New().String(),
		SellerID:        actor.ID,
		AssetID:         assetID,
		SharesTotal:     shares,
		SharesRemaining: shares,
		PricePerShare:   pricePerShare,
		Status:          model.ListingStatusActive,
		ExpiresAt:       now.Add(s.timing.ListingTTL),
		CreatedAt:       now,
	}
	if err := s.store.CreateListing(ctx, listing); err != nil {
		return nil, err
	}
	if err := s.recordEvent(ctx, listing.ID, model.EventListingCreated, actor, map[string]string{
		"shares": strconv.FormatInt(shares, 10),
		"price":  pricePerShare.String(),
	}); err != nil {
		return nil, err
	}

	metrics.ListingsCreated.Inc()
	slog.Info("listing created",
		"listing_id", listing.ID,
		"seller", actor.ID,
		"asset", assetID,
		"shares", shares,
		"price", pricePerShare.String(),
	)
	return listing, nil
}

// CancelListing withdraws an active listing. The actor must be the seller or
// an operator. Fails with ErrConflict while any hold or reservation is still
// outstanding against the listing; the parked-but-unheld shares are released
// implicitly because only active listings count toward committed shares.
func (s *Service) CancelListing(ctx context.Context, actor model.Actor, listingID string) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(listing.SellerID) {
		return nil, fmt.Errorf("actor %s cannot cancel listing of %s: %w", actor.ID, listing.SellerID, model.ErrUnauthorized)
	}
	if listing.Status != model.ListingStatusActive {
		return nil, fmt.Errorf("listing %s is %s: %w", listingID, listing.Status, model.ErrNotActive)
	}

	outstanding, err := s.outstandingCommitments(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if outstanding > 0 {
		return nil, fmt.Errorf("listing %s has %d outstanding holds/reservations: %w", listingID, outstanding, model.ErrConflict)
	}

	listing.Status = model.ListingStatusCancelled
	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return nil, err
	}
	if err := s.recordEvent(ctx, listingID, model.EventListingCancelled, actor, nil); err != nil {
		return nil, err
	}

	slog.Info("listing cancelled", "listing_id", listingID, "actor", actor.ID)
	return listing, nil
}

// outstandingCommitments counts non-terminal holds plus active reservations
// against a listing.
func (s *Service) outstandingCommitments(ctx context.Context, listingID string) (int, error) {
	holds, err := s.store.ListHoldsByListing(ctx, listingID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, h := range holds {
		if !h.Terminal() {
			n++
		}
	}
	reservations, err := s.store.ListReservationsByListing(ctx, listingID)
	if err != nil {
		return 0, err
	}
	for _, r := range reservations {
		if r.Status == model.ReservationStatusActive {
			n++
		}
	}
	return n, nil
}

// restoreListingSupply returns shares to a listing after a hold release or a
// failed settlement. A listing that was marked completed regains active
// status because supply is back on the market.
func (s *Service) restoreListingSupply(ctx context.Context, listing *model.Listing, shares int64) error {
	listing.SharesRemaining += shares
	if listing.SharesRemaining > listing.SharesTotal {
		return fmt.Errorf("listing %s remaining %d exceeds total %d: %w",
			listing.ID, listing.SharesRemaining, listing.SharesTotal, model.ErrConflict)
	}
	if listing.Status == model.ListingStatusCompleted {
		listing.Status = model.ListingStatusActive
	}
	return s.store.UpdateListing(ctx, listing)
}
