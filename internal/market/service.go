// Package market implements the secondary-market settlement core: listings,
// holds, reservations, settlement, and the balance rail, exposed both as
// direct service methods and as HTTP handlers.
//
// All monetary values use shopspring/decimal, never float64.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/propshare/settlement-core/internal/model"
	"github.com/propshare/settlement-core/internal/position"
	"github.com/propshare/settlement-core/internal/store"
)

// Timing groups the lifetimes of the settlement entities.
type Timing struct {
	HoldTTL        time.Duration // initial hold lifetime
	ConfirmTTL     time.Duration // extension after a single confirmation
	ReservationTTL time.Duration // settlement window after dual confirmation
	ListingTTL     time.Duration // listing lifetime
}

// DefaultTiming matches the documented defaults: 10m holds extended to 60m on
// first confirmation, a 24h settlement window, and 30d listings.
var DefaultTiming = Timing{
	HoldTTL:        10 * time.Minute,
	ConfirmTTL:     60 * time.Minute,
	ReservationTTL: 24 * time.Hour,
	ListingTTL:     30 * 24 * time.Hour,
}

// Notifier receives fire-and-forget event notifications after state
// transitions. Implementations must never block; failures are the
// implementation's problem and never propagate into the core.
type Notifier interface {
	Dispatch(eventType string, payload any)
}

// Service orchestrates all settlement operations. Mutating operations are
// serialized with a mutex so that every multi-row transition is observed
// atomically (single-instance). For horizontal scaling, replace with
// database row locks acquired in Listing → Balance → Hold order.
type Service struct {
	store    store.Store
	timing   Timing
	notifier Notifier // optional
	mu       sync.Mutex
}

// NewService creates a settlement service. Pass nil for notifier if event
// notifications are not needed.
func NewService(st store.Store, timing Timing, notifier Notifier) *Service {
	if timing == (Timing{}) {
		timing = DefaultTiming
	}
	return &Service{
		store:    st,
		timing:   timing,
		notifier: notifier,
	}
}

// notify dispatches an event to the notifier, if one is configured.
func (s *Service) notify(eventType string, payload any) {
	if s.notifier != nil {
		s.notifier.Dispatch(eventType, payload)
	}
}

// recordEvent appends one audit row for a state transition.
func (s *Service) recordEvent(ctx context.Context, listingID, eventType string, actor model.Actor, metadata map[string]string) error {
	return s.store.InsertOrderEvent(ctx, &model.OrderEvent{
		ID:        uuid.New().String(),
		ListingID: listingID,
		EventType: eventType,
		ActorID:   actor.ID,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
}

// recomputePosition rebuilds the derived position of one (user, asset) pair
// from its full trade history and persists it. It is the only writer of
// Position state.
func (s *Service) recomputePosition(ctx context.Context, userID, assetID string) (*model.Position, error) {
	trades, err := s.store.ListTrades(ctx, userID, assetID)
	if err != nil {
		return nil, fmt.Errorf("load trades for %s/%s: %w", userID, assetID, err)
	}
	pos, err := position.Rebuild(userID, assetID, trades, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.PutPosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("store position %s/%s: %w", userID, assetID, err)
	}
	return pos, nil
}
