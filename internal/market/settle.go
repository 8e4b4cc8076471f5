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
	"github.com/propshare/settlement-core/internal/position"
)

// SettleReservation finalizes a reservation. Operator only.
//
// On success the shares and funds change hands: the buyer's position gains a
// lot at the reservation price, the seller's position is consumed FIFO, the
// buyer's pending funds are spent, and the seller's available balance is
// credited. On failure the shares return to the listing and the buyer's
// pending funds return to available.
//
// Settling an already-terminal reservation is a no-op, not an error, so
// retried operator actions never double-apply a transfer.
func (s *Service) SettleReservation(ctx context.Context, actor model.Actor, reservationID string, success bool, notes string) (*model.Reservation, error) {
	if !actor.Operator {
		return nil, fmt.Errorf("settlement requires an operator: %w", model.ErrUnauthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation.Terminal() {
		return reservation, nil // idempotent
	}

	if success {
		err = s.settleSuccess(ctx, reservation, actor, notes)
	} else {
		err = s.settleFailure(ctx, reservation, model.ReservationStatusCancelled, actor, notes)
	}
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// settleSuccess applies the final transfer of shares and funds. Caller holds
// the service mutex.
func (s *Service) settleSuccess(ctx context.Context, r *model.Reservation, actor model.Actor, notes string) error {
	amount := r.Amount()
	now := time.Now().UTC()

	// Preview the seller's FIFO consumption to produce the realized P&L
	// recorded on the trade row. The authoritative lot state still comes
	// from recomputation below.
	realized := decimal.Zero
	sellerPos, err := s.store.GetPosition(ctx, r.SellerID, r.AssetID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	if sellerPos == nil || sellerPos.TotalShares < r.Shares {
		held := int64(0)
		if sellerPos != nil {
			held = sellerPos.TotalShares
		}
		return fmt.Errorf("seller %s holds %d of %d shares: %w", r.SellerID, held, r.Shares, model.ErrConflict)
	}
	if _, realized, err = position.Consume(sellerPos.Lots, r.Shares, r.PricePerShare); err != nil {
		return fmt.Errorf("seller lot consumption: %w", err)
	}

	// Buyer: pending funds are spent.
	buyerBal, err := s.store.GetBalance(ctx, r.BuyerID)
	if err != nil {
		return err
	}
	if buyerBal.Pending.LessThan(amount) {
		return fmt.Errorf("buyer pending %s < %s: %w", buyerBal.Pending, amount, model.ErrConflict)
	}
	buyerBal.Pending = buyerBal.Pending.Sub(amount)
	buyerBal.UpdatedAt = now
	if err := s.store.PutBalance(ctx, buyerBal); err != nil {
		return err
	}

	// Seller: proceeds land in available.
	sellerBal, err := s.store.GetBalance(ctx, r.SellerID)
	if err != nil {
		return err
	}
	sellerBal.Available = sellerBal.Available.Add(amount)
	sellerBal.UpdatedAt = now
	if err := s.store.PutBalance(ctx, sellerBal); err != nil {
		return err
	}

	trade := &model.Trade{
		ID:            uuid.New().String(),
		ReservationID: r.ID,
		ListingID:     r.ListingID,
		AssetID:       r.AssetID,
		BuyerID:       r.BuyerID,
		SellerID:      r.SellerID,
		Shares:        r.Shares,
		PricePerShare: r.PricePerShare,
		RealizedPnL:   realized,
		ExecutedAt:    now,
	}
	if err := s.store.InsertTrade(ctx, trade); err != nil {
		return err
	}

	// Recompute both touched (user, asset) pairs. Settlement is the only
	// writer of position state.
	if _, err := s.recomputePosition(ctx, r.BuyerID, r.AssetID); err != nil {
		return err
	}
	if _, err := s.recomputePosition(ctx, r.SellerID, r.AssetID); err != nil {
		return err
	}

	r.Status = model.ReservationStatusCompleted
	if err := s.store.UpdateReservation(ctx, r); err != nil {
		return err
	}

	listing, err := s.store.GetListing(ctx, r.ListingID)
	if err != nil {
		return err
	}
	if listing.SharesRemaining == 0 && listing.Status == model.ListingStatusActive {
		listing.Status = model.ListingStatusCompleted
		if err := s.store.UpdateListing(ctx, listing); err != nil {
			return err
		}
		if err := s.recordEvent(ctx, listing.ID, model.EventListingCompleted, actor, nil); err != nil {
			return err
		}
	}

	if err := s.recordEvent(ctx, r.ListingID, model.EventSettled, actor, map[string]string{
		"reservation_id": r.ID,
		"success":        "true",
		"notes":          notes,
		"amount":         amount.String(),
		"realized_pnl":   realized.String(),
	}); err != nil {
		return err
	}

	metrics.Settlements.WithLabelValues("success").Inc()
	slog.Info("reservation settled",
		"reservation_id", r.ID,
		"trade_id", trade.ID,
		"shares", r.Shares,
		"amount", amount.String(),
		"realized_pnl", realized.String(),
	)
	s.notify(model.EventSettled, trade)
	return nil
}

// settleFailure unwinds a reservation without a transfer: shares back to the
// listing, buyer funds pending→available. The terminal status distinguishes
// an operator's rejection (cancelled) from a lapsed settlement window
// (expired). Caller holds the service mutex.
func (s *Service) settleFailure(ctx context.Context, r *model.Reservation, status string, actor model.Actor, notes string) error {
	amount := r.Amount()
	now := time.Now().UTC()

	buyerBal, err := s.store.GetBalance(ctx, r.BuyerID)
	if err != nil {
		return err
	}
	if buyerBal.Pending.LessThan(amount) {
		return fmt.Errorf("buyer pending %s < %s: %w", buyerBal.Pending, amount, model.ErrConflict)
	}
	buyerBal.Pending = buyerBal.Pending.Sub(amount)
	buyerBal.Available = buyerBal.Available.Add(amount)
	buyerBal.UpdatedAt = now
	if err := s.store.PutBalance(ctx, buyerBal); err != nil {
		return err
	}

	listing, err := s.store.GetListing(ctx, r.ListingID)
	if err != nil {
		return err
	}
	if err := s.restoreListingSupply(ctx, listing, r.Shares); err != nil {
		return err
	}

	r.Status = status
	if err := s.store.UpdateReservation(ctx, r); err != nil {
		return err
	}
	if err := s.recordEvent(ctx, r.ListingID, model.EventSettled, actor, map[string]string{
		"reservation_id": r.ID,
		"success":        "false",
		"status":         status,
		"notes":          notes,
		"amount":         amount.String(),
	}); err != nil {
		return err
	}

	metrics.Settlements.WithLabelValues("failure").Inc()
	slog.Info("reservation unwound",
		"reservation_id", r.ID,
		"status", status,
		"shares", r.Shares,
		"amount", amount.String(),
	)
	s.notify(model.EventSettled, r)
	return nil
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	HoldsReleased       int `json:"holds_released"`
	ReservationsExpired int `json:"reservations_expired"`
	ListingsExpired     int `json:"listings_expired"`
	Errors              int `json:"errors"`
}

// RunExpirySweep unwinds every hold and reservation whose expires_at is at
// or before now, and expires stale listings with nothing outstanding. A
// failure on one row is logged and does not stop the sweep. Operator only;
// the reaper calls this as model.System.
func (s *Service) RunExpirySweep(ctx context.Context, actor model.Actor, now time.Time) (SweepResult, error) {
	if !actor.Operator {
		return SweepResult{}, fmt.Errorf("sweep requires an operator: %w", model.ErrUnauthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res SweepResult

	holds, err := s.store.ListExpiredHolds(ctx, now)
	if err != nil {
		return res, err
	}
	for i := range holds {
		hold := holds[i]
		listing, err := s.store.GetListing(ctx, hold.ListingID)
		if err != nil {
			slog.Error("sweep: load listing failed", "hold_id", hold.ID, "err", err)
			res.Errors++
			continue
		}
		if err := s.releaseHold(ctx, &hold, listing, actor); err != nil {
			slog.Error("sweep: hold release failed", "hold_id", hold.ID, "err", err)
			res.Errors++
			continue
		}
		res.HoldsReleased++
	}

	reservations, err := s.store.ListExpiredReservations(ctx, now)
	if err != nil {
		return res, err
	}
	for i := range reservations {
		r := reservations[i]
		if err := s.settleFailure(ctx, &r, model.ReservationStatusExpired, actor, "settlement window lapsed"); err != nil {
			slog.Error("sweep: reservation unwind failed", "reservation_id", r.ID, "err", err)
			res.Errors++
			continue
		}
		res.ReservationsExpired++
	}

	expired, err := s.expireStaleListings(ctx, actor, now)
	if err != nil {
		return res, err
	}
	res.ListingsExpired = expired

	metrics.SweepRuns.Inc()
	if res.HoldsReleased+res.ReservationsExpired+res.ListingsExpired+res.Errors > 0 {
		slog.Info("expiry sweep",
			"holds_released", res.HoldsReleased,
			"reservations_expired", res.ReservationsExpired,
			"listings_expired", res.ListingsExpired,
			"errors", res.Errors,
		)
	}
	return res, nil
}

// expireStaleListings transitions active listings past their expiry to
// expired, but only once nothing is outstanding against them.
func (s *Service) expireStaleListings(ctx context.Context, actor model.Actor, now time.Time) (int, error) {
	n := 0
	listings, err := s.store.ListExpiredListings(ctx, now)
	if err != nil {
		return 0, err
	}
	for i := range listings {
		l := listings[i]
		outstanding, err := s.outstandingCommitments(ctx, l.ID)
		if err != nil {
			slog.Error("sweep: commitment check failed", "listing_id", l.ID, "err", err)
			continue
		}
		if outstanding > 0 {
			continue
		}
		l.Status = model.ListingStatusExpired
		if err := s.store.UpdateListing(ctx, &l); err != nil {
			slog.Error("sweep: listing expire failed", "listing_id", l.ID, "err", err)
			continue
		}
		if err := s.recordEvent(ctx, l.ID, model.EventListingExpired, actor, map[string]string{
			"shares_remaining": strconv.FormatInt(l.SharesRemaining, 10),
		}); err != nil {
			slog.Error("sweep: listing expire event failed", "listing_id", l.ID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}
