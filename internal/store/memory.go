package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/propshare/settlement-core/internal/model"
)

// listingEntry is the btree key for the per-asset price index: price
// ascending, then creation time, then id. Min() is the best-priced listing.
type listingEntry struct {
	createdAt time.Time
	listingID string
	listing   *model.Listing
}

func listingLess(a, b listingEntry) bool {
	if c := a.listing.PricePerShare.Cmp(b.listing.PricePerShare); c != 0 {
		return c < 0
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.listingID < b.listingID
}

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). Active listings
// are additionally indexed in a per-asset B-tree ordered by price so the
// query surface returns best price first without sorting on every read.
type MemoryStore struct {
	mu           sync.RWMutex
	balances     map[string]*model.Balance
	listings     map[string]*model.Listing
	activeIndex  map[string]*btree.BTreeG[listingEntry] // asset_id → price-ordered active listings
	holds        map[string]*model.Hold
	reservations map[string]*model.Reservation
	trades       []model.Trade
	positions    map[string]*model.Position // userID+"/"+assetID
	events       []model.OrderEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:     make(map[string]*model.Balance),
		listings:     make(map[string]*model.Listing),
		activeIndex:  make(map[string]*btree.BTreeG[listingEntry]),
		holds:        make(map[string]*model.Hold),
		reservations: make(map[string]*model.Reservation),
		positions:    make(map[string]*model.Position),
	}
}

// --- Balances ---

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (*model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[userID]
	if !ok {
		return zeroBalance(userID), nil
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) PutBalance(_ context.Context, b *model.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	s.balances[b.UserID] = &cp
	return nil
}

// --- Listings ---

func (s *MemoryStore) CreateListing(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[l.ID]; ok {
		return fmt.Errorf("listing %s already exists: %w", l.ID, model.ErrConflict)
	}
	cp := *l
	s.listings[l.ID] = &cp
	s.reindexListing(&cp)
	return nil
}

func (s *MemoryStore) GetListing(_ context.Context, id string) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", id, model.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) UpdateListing(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[l.ID]; !ok {
		return fmt.Errorf("listing %s: %w", l.ID, model.ErrNotFound)
	}
	cp := *l
	s.listings[l.ID] = &cp
	s.reindexListing(&cp)
	return nil
}

// reindexListing keeps the per-asset price index consistent with the
// listing's status. Caller holds the write lock.
func (s *MemoryStore) reindexListing(l *model.Listing) {
	tree, ok := s.activeIndex[l.AssetID]
	if !ok {
		tree = btree.NewG[listingEntry](32, listingLess)
		s.activeIndex[l.AssetID] = tree
	}
	entry := listingEntry{
		createdAt: l.CreatedAt,
		listingID: l.ID,
		listing:   l,
	}
	tree.Delete(entry)
	if l.Status == model.ListingStatusActive {
		tree.ReplaceOrInsert(entry)
	}
}

func (s *MemoryStore) ListActiveListings(_ context.Context, assetID string) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.activeIndex[assetID]
	if !ok {
		return nil, nil
	}
	var out []model.Listing
	tree.Ascend(func(e listingEntry) bool {
		out = append(out, *e.listing)
		return true
	})
	return out, nil
}

func (s *MemoryStore) ListExpiredListings(_ context.Context, now time.Time) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Listing
	for _, l := range s.listings {
		if l.Status == model.ListingStatusActive && !l.ExpiresAt.After(now) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CommittedShares(_ context.Context, sellerID, assetID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// settled shares per listing = Σ trades referencing the listing.
	settled := make(map[string]int64)
	for _, t := range s.trades {
		if t.ListingID != "" {
			settled[t.ListingID] += t.Shares
		}
	}

	var committed int64
	for _, l := range s.listings {
		if l.SellerID != sellerID || l.AssetID != assetID || l.Status != model.ListingStatusActive {
			continue
		}
		committed += l.SharesTotal - settled[l.ID]
	}
	return committed, nil
}

// --- Holds ---

func (s *MemoryStore) CreateHold(_ context.Context, h *model.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holds[h.ID]; ok {
		return fmt.Errorf("hold %s already exists: %w", h.ID, model.ErrConflict)
	}
	cp := *h
	s.holds[h.ID] = &cp
	return nil
}

func (s *MemoryStore) GetHold(_ context.Context, id string) (*model.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holds[id]
	if !ok {
		return nil, fmt.Errorf("hold %s: %w", id, model.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) UpdateHold(_ context.Context, h *model.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holds[h.ID]; !ok {
		return fmt.Errorf("hold %s: %w", h.ID, model.ErrNotFound)
	}
	cp := *h
	s.holds[h.ID] = &cp
	return nil
}

func (s *MemoryStore) ListHoldsByListing(_ context.Context, listingID string) ([]model.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Hold
	for _, h := range s.holds {
		if h.ListingID == listingID {
			out = append(out, *h)
		}
	}
	sortHolds(out)
	return out, nil
}

func (s *MemoryStore) ListPendingHoldsForSeller(_ context.Context, sellerID string) ([]model.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Hold
	for _, h := range s.holds {
		if h.Terminal() {
			continue
		}
		l, ok := s.listings[h.ListingID]
		if !ok || l.SellerID != sellerID {
			continue
		}
		out = append(out, *h)
	}
	sortHolds(out)
	return out, nil
}

func (s *MemoryStore) ListExpiredHolds(_ context.Context, now time.Time) ([]model.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Hold
	for _, h := range s.holds {
		if !h.Terminal() && !h.ExpiresAt.After(now) {
			out = append(out, *h)
		}
	}
	sortHolds(out)
	return out, nil
}

func sortHolds(holds []model.Hold) {
	sort.Slice(holds, func(i, j int) bool {
		if !holds[i].CreatedAt.Equal(holds[j].CreatedAt) {
			return holds[i].CreatedAt.Before(holds[j].CreatedAt)
		}
		return holds[i].ID < holds[j].ID
	})
}

// --- Reservations ---

func (s *MemoryStore) CreateReservation(_ context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s already exists: %w", r.ID, model.ErrConflict)
	}
	cp := *r
	s.reservations[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetReservation(_ context.Context, id string) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateReservation(_ context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[r.ID]; !ok {
		return fmt.Errorf("reservation %s: %w", r.ID, model.ErrNotFound)
	}
	cp := *r
	s.reservations[r.ID] = &cp
	return nil
}

func (s *MemoryStore) ListReservationsByListing(_ context.Context, listingID string) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Reservation
	for _, r := range s.reservations {
		if r.ListingID == listingID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListExpiredReservations(_ context.Context, now time.Time) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Reservation
	for _, r := range s.reservations {
		if r.Status == model.ReservationStatusActive && !r.ExpiresAt.After(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Trades ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, userID, assetID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.AssetID != assetID {
			continue
		}
		if t.BuyerID != userID && t.SellerID != userID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExecutedAt.Before(out[j].ExecutedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, assetID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[userID+"/"+assetID]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", userID, assetID, model.ErrNotFound)
	}
	cp := *p
	cp.Lots = append([]model.Lot(nil), p.Lots...)
	return &cp, nil
}

func (s *MemoryStore) PutPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	cp.Lots = append([]model.Lot(nil), p.Lots...)
	s.positions[p.UserID+"/"+p.AssetID] = &cp
	return nil
}

// --- Events ---

func (s *MemoryStore) InsertOrderEvent(_ context.Context, e *model.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) ListOrderEvents(_ context.Context, listingID string) ([]model.OrderEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.OrderEvent
	for _, e := range s.events {
		if e.ListingID == listingID {
			out = append(out, e)
		}
	}
	return out, nil
}
