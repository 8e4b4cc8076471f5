// Package store defines the persistence interface for the settlement core.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Implementations must be safe
// for concurrent use; multi-row atomicity is provided by the service layer,
// which serializes mutating operations.
type Store interface {
	// --- Balances ---

	// GetBalance returns the user's balance record, or a zero-valued record
	// if the user has never been funded.
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)

	// PutBalance creates or replaces a balance record.
	PutBalance(ctx context.Context, b *model.Balance) error

	// --- Listings ---

	CreateListing(ctx context.Context, l *model.Listing) error
	GetListing(ctx context.Context, id string) (*model.Listing, error)
	UpdateListing(ctx context.Context, l *model.Listing) error

	// ListActiveListings returns active listings for an asset ordered by
	// ascending price (best price first), then creation time.
	ListActiveListings(ctx context.Context, assetID string) ([]model.Listing, error)

	// CommittedShares returns the number of the seller's shares still
	// promised to active listings of the asset: for each active listing,
	// shares_total minus the shares already transferred out by settlement.
	CommittedShares(ctx context.Context, sellerID, assetID string) (int64, error)

	// ListExpiredListings returns active listings with expires_at <= now.
	ListExpiredListings(ctx context.Context, now time.Time) ([]model.Listing, error)

	// --- Holds ---

	CreateHold(ctx context.Context, h *model.Hold) error
	GetHold(ctx context.Context, id string) (*model.Hold, error)
	UpdateHold(ctx context.Context, h *model.Hold) error

	// ListHoldsByListing returns every hold against a listing.
	ListHoldsByListing(ctx context.Context, listingID string) ([]model.Hold, error)

	// ListPendingHoldsForSeller returns non-terminal holds against the
	// seller's listings, oldest first.
	ListPendingHoldsForSeller(ctx context.Context, sellerID string) ([]model.Hold, error)

	// ListExpiredHolds returns non-terminal holds with expires_at <= now.
	ListExpiredHolds(ctx context.Context, now time.Time) ([]model.Hold, error)

	// --- Reservations ---

	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	UpdateReservation(ctx context.Context, r *model.Reservation) error

	// ListReservationsByListing returns every reservation against a listing.
	ListReservationsByListing(ctx context.Context, listingID string) ([]model.Reservation, error)

	// ListExpiredReservations returns active reservations with expires_at <= now.
	ListExpiredReservations(ctx context.Context, now time.Time) ([]model.Reservation, error)

	// --- Trades (immutable) ---

	// InsertTrade appends an immutable transfer record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTrades returns every trade where the user is buyer or seller of
	// the asset, ordered by execution time then id.
	ListTrades(ctx context.Context, userID, assetID string) ([]model.Trade, error)

	// --- Positions (derived) ---

	GetPosition(ctx context.Context, userID, assetID string) (*model.Position, error)
	PutPosition(ctx context.Context, p *model.Position) error

	// --- Audit events (append-only) ---

	InsertOrderEvent(ctx context.Context, e *model.OrderEvent) error
	ListOrderEvents(ctx context.Context, listingID string) ([]model.OrderEvent, error)
}

// zeroBalance returns an unfunded balance record for the user.
func zeroBalance(userID string) *model.Balance {
	return &model.Balance{
		UserID:    userID,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		Pending:   decimal.Zero,
	}
}
