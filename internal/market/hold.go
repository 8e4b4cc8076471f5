package market

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/metrics"
	"github.com/propshare/settlement-core/internal/model"
)

// CreateHold reserves a slice of a listing's shares plus the buyer's funds
// while both parties confirm intent. The supply check and the decrement
// happen under the service mutex, so concurrent buyers can never
// oversubscribe a listing.
func (s *Service) CreateHold(ctx context.Context, actor model.Actor, listingID string, shares int64) (*model.Hold, error) {
	if shares <= 0 {
		return nil, &model.ValidationError{Message: "shares must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != model.ListingStatusActive {
		return nil, fmt.Errorf("listing %s is %s: %w", listingID, listing.Status, model.ErrNotActive)
	}
	if actor.ID == listing.SellerID {
		return nil, fmt.Errorf("buyer %s is the seller: %w", actor.ID, model.ErrSelfTrade)
	}
	if shares > listing.SharesRemaining {
		return nil, fmt.Errorf("%d shares requested, %d remaining: %w", shares, listing.SharesRemaining, model.ErrInsufficientSupply)
	}

	amount := listing.PricePerShare.Mul(decimal.NewFromInt(shares))
	bal, err := s.store.GetBalance(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if bal.Available.LessThan(amount) {
		return nil, fmt.Errorf("available %s < %s: %w", bal.Available, amount, model.ErrInsufficientFunds)
	}

	now := time.Now().UTC()

	// Lock buyer funds and drain listing supply together with the hold
	// insert; the service mutex makes the three writes one atomic step to
	// every other operation.
	bal.Available = bal.Available.Sub(amount)
	bal.Locked = bal.Locked.Add(amount)
	bal.UpdatedAt = now
	if err := s.store.PutBalance(ctx, bal); err != nil {
		return nil, err
	}

	listing.SharesRemaining -= shares
	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return nil, err
	}

	hold := &model.Hold{
		ID:        uuid.New().String(),
		ListingID: listingID,
		BuyerID:   actor.ID,
		Shares:    shares,
		Status:    model.HoldStatusActive,
		ExpiresAt: now.Add(s.timing.HoldTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateHold(ctx, hold); err != nil {
		return nil, err
	}
	if err := s.recordEvent(ctx, listingID, model.EventHoldCreated, actor, map[string]string{
		"hold_id": hold.ID,
		"shares":  strconv.FormatInt(shares, 10),
		"amount":  amount.String(),
	}); err != nil {
		return nil, err
	}

	metrics.HoldsCreated.Inc()
	slog.Info("hold created",
		"hold_id", hold.ID,
		"listing_id", listingID,
		"buyer", actor.ID,
		"shares", shares,
		"amount", amount.String(),
	)
	s.notify(model.EventHoldCreated, hold)
	return hold, nil
}

// ConfirmHoldAsBuyer records the buyer's confirmation on a hold.
func (s *Service) ConfirmHoldAsBuyer(ctx context.Context, actor model.Actor, holdID string) (*model.Hold, *model.Reservation, error) {
	return s.confirmHold(ctx, actor, holdID, true)
}

// ConfirmHoldAsSeller records the seller's confirmation on a hold. The
// expected seller is resolved through the listing.
func (s *Service) ConfirmHoldAsSeller(ctx context.Context, actor model.Actor, holdID string) (*model.Hold, *model.Reservation, error) {
	return s.confirmHold(ctx, actor, holdID, false)
}

// confirmHold sets one party's confirmation flag. The first confirmation
// extends the hold's lifetime so the short initial TTL cannot lapse before
// the counterpart acts. When both flags land, the hold is promoted to a
// reservation and the buyer's funds move locked→pending.
func (s *Service) confirmHold(ctx context.Context, actor model.Actor, holdID string, asBuyer bool) (*model.Hold, *model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hold, err := s.store.GetHold(ctx, holdID)
	if err != nil {
		return nil, nil, err
	}
	if hold.Terminal() {
		return nil, nil, fmt.Errorf("hold %s is %s: %w", holdID, hold.Status, model.ErrAlreadyTerminal)
	}
	now := time.Now().UTC()
	if !hold.ExpiresAt.After(now) {
		return nil, nil, fmt.Errorf("hold %s expired at %s: %w", holdID, hold.ExpiresAt.Format(time.RFC3339), model.ErrExpired)
	}

	listing, err := s.store.GetListing(ctx, hold.ListingID)
	if err != nil {
		return nil, nil, err
	}

	side := "seller"
	if asBuyer {
		side = "buyer"
		if !actor.Is(hold.BuyerID) {
			return nil, nil, fmt.Errorf("actor %s is not the buyer: %w", actor.ID, model.ErrUnauthorized)
		}
		hold.BuyerConfirmed = true
	} else {
		if !actor.Is(listing.SellerID) {
			return nil, nil, fmt.Errorf("actor %s is not the seller: %w", actor.ID, model.ErrUnauthorized)
		}
		hold.SellerConfirmed = true
	}

	both := hold.BuyerConfirmed && hold.SellerConfirmed
	switch {
	case both:
		hold.Status = model.HoldStatusBothConfirmed
	case hold.BuyerConfirmed:
		hold.Status = model.HoldStatusBuyerConfirmed
		hold.ExpiresAt = now.Add(s.timing.ConfirmTTL)
	default:
		hold.Status = model.HoldStatusSellerConfirmed
		hold.ExpiresAt = now.Add(s.timing.ConfirmTTL)
	}

	if err := s.store.UpdateHold(ctx, hold); err != nil {
		return nil, nil, err
	}
	if err := s.recordEvent(ctx, hold.ListingID, model.EventHoldConfirmed, actor, map[string]string{
		"hold_id": hold.ID,
		"side":    side,
	}); err != nil {
		return nil, nil, err
	}

	var reservation *model.Reservation
	if both {
		reservation, err = s.promoteHold(ctx, hold, listing, now)
		if err != nil {
			return nil, nil, err
		}
	}

	slog.Info("hold confirmed", "hold_id", hold.ID, "side", side, "status", hold.Status)
	s.notify(model.EventHoldConfirmed+"_"+side, hold)
	return hold, reservation, nil
}

// promoteHold converts a dual-confirmed hold into a reservation, moving the
// buyer's funds locked→pending. The hold's shares stay deducted from the
// listing; the reservation now owns them.
func (s *Service) promoteHold(ctx context.Context, hold *model.Hold, listing *model.Listing, now time.Time) (*model.Reservation, error) {
	amount := hold.Amount(listing.PricePerShare)

	bal, err := s.store.GetBalance(ctx, hold.BuyerID)
	if err != nil {
		return nil, err
	}
	if bal.Locked.LessThan(amount) {
		return nil, fmt.Errorf("locked %s < hold amount %s: %w", bal.Locked, amount, model.ErrConflict)
	}
	bal.Locked = bal.Locked.Sub(amount)
	bal.Pending = bal.Pending.Add(amount)
	bal.UpdatedAt = now
	if err := s.store.PutBalance(ctx, bal); err != nil {
		return nil, err
	}

	reservation := &model.Reservation{
		ID:            uuid.New().String(),
		HoldID:        hold.ID,
		ListingID:     listing.ID,
		BuyerID:       hold.BuyerID,
		SellerID:      listing.SellerID,
		AssetID:       listing.AssetID,
		Shares:        hold.Shares,
		PricePerShare: listing.PricePerShare,
		Status:        model.ReservationStatusActive,
		ExpiresAt:     now.Add(s.timing.ReservationTTL),
		CreatedAt:     now,
	}
	if err := s.store.CreateReservation(ctx, reservation); err != nil {
		return nil, err
	}
	if err := s.recordEvent(ctx, listing.ID, model.EventReservationMade, model.Actor{ID: hold.BuyerID}, map[string]string{
		"hold_id":        hold.ID,
		"reservation_id": reservation.ID,
		"amount":         amount.String(),
	}); err != nil {
		return nil, err
	}

	metrics.ReservationsCreated.Inc()
	slog.Info("reservation created",
		"reservation_id", reservation.ID,
		"hold_id", hold.ID,
		"buyer", hold.BuyerID,
		"seller", listing.SellerID,
		"amount", amount.String(),
	)
	return reservation, nil
}

// CancelHold releases a hold, returning shares to the listing and funds to
// the buyer. The actor must be the buyer, the seller, or an operator. A hold
// already released or expired is a no-op; a dual-confirmed hold is
// irrevocable because a reservation owns its resources.
func (s *Service) CancelHold(ctx context.Context, actor model.Actor, holdID string) (*model.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hold, err := s.store.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	switch hold.Status {
	case model.HoldStatusReleased, model.HoldStatusExpired:
		return hold, nil // idempotent
	case model.HoldStatusBothConfirmed:
		return nil, fmt.Errorf("hold %s is dual-confirmed: %w", holdID, model.ErrAlreadyTerminal)
	}

	listing, err := s.store.GetListing(ctx, hold.ListingID)
	if err != nil {
		return nil, err
	}
	if !actor.Operator && !actor.Is(hold.BuyerID) && !actor.Is(listing.SellerID) {
		return nil, fmt.Errorf("actor %s is neither party: %w", actor.ID, model.ErrUnauthorized)
	}

	if err := s.releaseHold(ctx, hold, listing, actor); err != nil {
		return nil, err
	}
	return hold, nil
}

// releaseHold performs the unwind shared by CancelHold and the expiry sweep:
// shares back to the listing, funds locked→available, status released.
// Caller holds the service mutex.
func (s *Service) releaseHold(ctx context.Context, hold *model.Hold, listing *model.Listing, actor model.Actor) error {
	amount := hold.Amount(listing.PricePerShare)
	now := time.Now().UTC()

	bal, err := s.store.GetBalance(ctx, hold.BuyerID)
	if err != nil {
		return err
	}
	if bal.Locked.LessThan(amount) {
		return fmt.Errorf("locked %s < hold amount %s: %w", bal.Locked, amount, model.ErrConflict)
	}
	bal.Locked = bal.Locked.Sub(amount)
	bal.Available = bal.Available.Add(amount)
	bal.UpdatedAt = now
	if err := s.store.PutBalance(ctx, bal); err != nil {
		return err
	}

	if err := s.restoreListingSupply(ctx, listing, hold.Shares); err != nil {
		return err
	}

	hold.Status = model.HoldStatusReleased
	if err := s.store.UpdateHold(ctx, hold); err != nil {
		return err
	}
	if err := s.recordEvent(ctx, hold.ListingID, model.EventHoldReleased, actor, map[string]string{
		"hold_id": hold.ID,
		"amount":  amount.String(),
	}); err != nil {
		return err
	}

	metrics.HoldsReleased.Inc()
	slog.Info("hold released", "hold_id", hold.ID, "actor", actor.ID, "amount", amount.String())
	s.notify(model.EventHoldReleased, hold)
	return nil
}
