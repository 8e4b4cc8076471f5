package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/model"
)

// ListActiveListings returns the asset's open listings, best price first.
func (s *Service) ListActiveListings(ctx context.Context, assetID string) ([]model.Listing, error) {
	if assetID == "" {
		return nil, &model.ValidationError{Message: "asset_id is required"}
	}
	return s.store.ListActiveListings(ctx, assetID)
}

// GetListing returns a listing by id.
func (s *Service) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	return s.store.GetListing(ctx, id)
}

// GetHold returns a hold by id. Any party to the hold or an operator may read it.
func (s *Service) GetHold(ctx context.Context, actor model.Actor, id string) (*model.Hold, error) {
	hold, err := s.store.GetHold(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Operator || actor.Is(hold.BuyerID) {
		return hold, nil
	}
	listing, err := s.store.GetListing(ctx, hold.ListingID)
	if err != nil {
		return nil, err
	}
	if !actor.Is(listing.SellerID) {
		return nil, model.ErrUnauthorized
	}
	return hold, nil
}

// ListPendingHoldsForSeller returns the non-terminal holds awaiting the
// seller's attention, oldest first.
func (s *Service) ListPendingHoldsForSeller(ctx context.Context, actor model.Actor, sellerID string) ([]model.Hold, error) {
	if !actor.CanActFor(sellerID) {
		return nil, model.ErrUnauthorized
	}
	return s.store.ListPendingHoldsForSeller(ctx, sellerID)
}

// GetReservation returns a reservation by id.
func (s *Service) GetReservation(ctx context.Context, actor model.Actor, id string) (*model.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Operator && !actor.Is(r.BuyerID) && !actor.Is(r.SellerID) {
		return nil, model.ErrUnauthorized
	}
	return r, nil
}

// GetPosition returns the user's position in an asset. A user who has never
// traded the asset gets an empty position rather than a not-found error.
func (s *Service) GetPosition(ctx context.Context, userID, assetID string) (*model.Position, error) {
	pos, err := s.store.GetPosition(ctx, userID, assetID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return emptyPosition(userID, assetID), nil
		}
		return nil, err
	}
	return pos, nil
}

// GetOrderEvents returns the append-only audit trail for a listing.
func (s *Service) GetOrderEvents(ctx context.Context, listingID string) ([]model.OrderEvent, error) {
	if _, err := s.store.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.store.ListOrderEvents(ctx, listingID)
}

func emptyPosition(userID, assetID string) *model.Position {
	return &model.Position{
		UserID:      userID,
		AssetID:     assetID,
		Lots:        []model.Lot{},
		CostBasis:   decimal.Zero,
		AvgCost:     decimal.Zero,
		RealizedPnL: decimal.Zero,
		UpdatedAt:   time.Now().UTC(),
	}
}
