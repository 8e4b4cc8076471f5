package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propshare/settlement-core/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: the listing query surface, balances, and
// positions. Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutBalance(ctx context.Context, b *model.Balance) error {
	if err := s.Store.PutBalance(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx, balanceKey(b.UserID))
	return nil
}

func (s *CachedStore) CreateListing(ctx context.Context, l *model.Listing) error {
	if err := s.Store.CreateListing(ctx, l); err != nil {
		return err
	}
	s.rdb.Del(ctx, listingKey(l.ID), assetListingsKey(l.AssetID))
	return nil
}

func (s *CachedStore) UpdateListing(ctx context.Context, l *model.Listing) error {
	if err := s.Store.UpdateListing(ctx, l); err != nil {
		return err
	}
	s.rdb.Del(ctx, listingKey(l.ID), assetListingsKey(l.AssetID))
	return nil
}

func (s *CachedStore) PutPosition(ctx context.Context, p *model.Position) error {
	if err := s.Store.PutPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.UserID, p.AssetID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	if s.cacheGet(ctx, balanceKey(userID), &b) {
		return &b, nil
	}
	fresh, err := s.Store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, balanceKey(userID), fresh)
	return fresh, nil
}

func (s *CachedStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	var l model.Listing
	if s.cacheGet(ctx, listingKey(id), &l) {
		return &l, nil
	}
	fresh, err := s.Store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, listingKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListActiveListings(ctx context.Context, assetID string) ([]model.Listing, error) {
	var listings []model.Listing
	if s.cacheGet(ctx, assetListingsKey(assetID), &listings) {
		return listings, nil
	}
	fresh, err := s.Store.ListActiveListings(ctx, assetID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, assetListingsKey(assetID), fresh)
	return fresh, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, assetID string) (*model.Position, error) {
	var p model.Position
	if s.cacheGet(ctx, positionKey(userID, assetID), &p) {
		return &p, nil
	}
	fresh, err := s.Store.GetPosition(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, positionKey(userID, assetID), fresh)
	return fresh, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheGet(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func balanceKey(userID string) string { return fmt.Sprintf("balance:%s", userID) }
func listingKey(id string) string     { return fmt.Sprintf("listing:%s", id) }
func assetListingsKey(assetID string) string { return fmt.Sprintf("listings:%s", assetID) }
func positionKey(userID, assetID string) string { return fmt.Sprintf("position:%s:%s", userID, assetID) }
