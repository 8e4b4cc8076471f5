// Package model defines the core domain types shared across the settlement
// engine. All monetary values use shopspring/decimal, never float64.
// Share counts are whole units and use int64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing statuses.
const (
	ListingStatusActive    = "active"
	ListingStatusCompleted = "completed"
	ListingStatusCancelled = "cancelled"
	ListingStatusExpired   = "expired"
)

// Hold statuses.
const (
	HoldStatusActive          = "active"
	HoldStatusBuyerConfirmed  = "buyer_confirmed"
	HoldStatusSellerConfirmed = "seller_confirmed"
	HoldStatusBothConfirmed   = "both_confirmed"
	HoldStatusReleased        = "released"
	HoldStatusExpired         = "expired"
)

// Reservation statuses.
const (
	ReservationStatusActive    = "active"
	ReservationStatusCompleted = "completed"
	ReservationStatusCancelled = "cancelled"
	ReservationStatusExpired   = "expired"
)

// Order event types, one per state transition.
const (
	EventListingCreated   = "listing_created"
	EventListingCancelled = "listing_cancelled"
	EventListingCompleted = "listing_completed"
	EventListingExpired   = "listing_expired"
	EventHoldCreated      = "hold_created"
	EventHoldConfirmed    = "hold_confirmed"
	EventHoldReleased     = "released"
	EventReservationMade  = "reservation_created"
	EventSettled          = "settled"
)

// Balance is a user's escrow ledger record, partitioned by how the funds
// are committed. available + locked + pending never goes negative and only
// decreases through an authorized withdrawal.
type Balance struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Available decimal.Decimal `json:"available" db:"available"`
	Locked    decimal.Decimal `json:"locked" db:"locked"`   // backing active holds
	Pending   decimal.Decimal `json:"pending" db:"pending"` // backing confirmed reservations
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Total returns available + locked + pending.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked).Add(b.Pending)
}

// Listing is a seller's open offer: a fixed quantity of an asset's shares at
// a fixed per-share price. SharesRemaining drains as holds are granted and is
// restored when holds or reservations unwind.
type Listing struct {
	ID              string          `json:"id" db:"id"`
	SellerID        string          `json:"seller_id" db:"seller_id"`
	AssetID         string          `json:"asset_id" db:"asset_id"`
	SharesTotal     int64           `json:"shares_total" db:"shares_total"`
	SharesRemaining int64           `json:"shares_remaining" db:"shares_remaining"`
	PricePerShare   decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	Status          string          `json:"status" db:"status"`
	ExpiresAt       time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Hold is a short-lived reservation of a listing slice plus the buyer's
// funds while both parties confirm intent. Created with funds already moved
// available→locked and shares already decremented from the listing.
type Hold struct {
	ID              string    `json:"id" db:"id"`
	ListingID       string    `json:"listing_id" db:"listing_id"`
	BuyerID         string    `json:"buyer_id" db:"buyer_id"`
	Shares          int64     `json:"shares" db:"shares"`
	BuyerConfirmed  bool      `json:"buyer_confirmed" db:"buyer_confirmed"`
	SellerConfirmed bool      `json:"seller_confirmed" db:"seller_confirmed"`
	Status          string    `json:"status" db:"status"`
	ExpiresAt       time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Terminal reports whether the hold can no longer change state. A
// both_confirmed hold counts as terminal: a reservation owns its resources.
func (h *Hold) Terminal() bool {
	return h.Status == HoldStatusReleased || h.Status == HoldStatusExpired ||
		h.Status == HoldStatusBothConfirmed
}

// Amount returns the funds backing the hold at the given listing price.
func (h *Hold) Amount(pricePerShare decimal.Decimal) decimal.Decimal {
	return pricePerShare.Mul(decimal.NewFromInt(h.Shares))
}

// Reservation is the binding successor to a dual-confirmed hold. The funds
// backing it sit in the buyer's pending partition until settlement.
type Reservation struct {
	ID            string          `json:"id" db:"id"`
	HoldID        string          `json:"hold_id" db:"hold_id"`
	ListingID     string          `json:"listing_id" db:"listing_id"`
	BuyerID       string          `json:"buyer_id" db:"buyer_id"`
	SellerID      string          `json:"seller_id" db:"seller_id"`
	AssetID       string          `json:"asset_id" db:"asset_id"`
	Shares        int64           `json:"shares" db:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	Status        string          `json:"status" db:"status"`
	ExpiresAt     time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Amount returns the funds backing the reservation.
func (r *Reservation) Amount() decimal.Decimal {
	return r.PricePerShare.Mul(decimal.NewFromInt(r.Shares))
}

// Terminal reports whether the reservation has reached a final state.
func (r *Reservation) Terminal() bool {
	return r.Status != ReservationStatusActive
}

// Trade is an immutable record of transferred shares: either a settled
// reservation or a primary issuance (SellerID empty). The ordered trade
// history per (user, asset) is the sole input to position recomputation.
type Trade struct {
	ID            string          `json:"id" db:"id"`
	ReservationID string          `json:"reservation_id,omitempty" db:"reservation_id"`
	ListingID     string          `json:"listing_id,omitempty" db:"listing_id"`
	AssetID       string          `json:"asset_id" db:"asset_id"`
	BuyerID       string          `json:"buyer_id" db:"buyer_id"`
	SellerID      string          `json:"seller_id" db:"seller_id"` // "" for primary issuance
	Shares        int64           `json:"shares" db:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // seller side
	ExecutedAt    time.Time       `json:"executed_at" db:"executed_at"`
}

// Lot is a discrete batch of shares acquired at one price and time,
// consumed oldest-first on sale.
type Lot struct {
	SourceID   string          `json:"source_id"` // trade that created the lot
	Shares     int64           `json:"shares"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	AcquiredAt time.Time       `json:"acquired_at"`
}

// Position is a user's derived holding in one asset: the FIFO lot list plus
// totals recomputed from trade history. Never hand-edited.
type Position struct {
	UserID      string          `json:"user_id" db:"user_id"`
	AssetID     string          `json:"asset_id" db:"asset_id"`
	Lots        []Lot           `json:"lots" db:"lots"`
	TotalShares int64           `json:"total_shares" db:"total_shares"`
	CostBasis   decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	AvgCost     decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// OrderEvent is an append-only audit row. Every state transition writes
// exactly one event; events are never mutated or deleted.
type OrderEvent struct {
	ID        string            `json:"id" db:"id"`
	ListingID string            `json:"listing_id" db:"listing_id"`
	EventType string            `json:"event_type" db:"event_type"`
	ActorID   string            `json:"actor_id" db:"actor_id"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
