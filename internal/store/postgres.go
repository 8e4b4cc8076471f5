package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// round-tripped through their string form.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Balances ---

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	var available, locked, pending string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, available::TEXT, locked::TEXT, pending::TEXT, updated_at
		 FROM balances WHERE user_id = $1`, userID).
		Scan(&b.UserID, &available, &locked, &pending, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zeroBalance(userID), nil
		}
		return nil, fmt.Errorf("get balance %s: %w", userID, err)
	}

	b.Available, _ = decimal.NewFromString(available)
	b.Locked, _ = decimal.NewFromString(locked)
	b.Pending, _ = decimal.NewFromString(pending)
	return &b, nil
}

func (s *PostgresStore) PutBalance(ctx context.Context, b *model.Balance) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (user_id, available, locked, pending, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (user_id) DO UPDATE
		 SET available = EXCLUDED.available, locked = EXCLUDED.locked,
		     pending = EXCLUDED.pending, updated_at = EXCLUDED.updated_at`,
		b.UserID, b.Available.String(), b.Locked.String(), b.Pending.String(), b.UpdatedAt,
	)
	return err
}

// --- Listings ---

func (s *PostgresStore) CreateListing(ctx context.Context, l *model.Listing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listings (id, seller_id, asset_id, shares_total, shares_remaining, price_per_share, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9)`,
		l.ID, l.SellerID, l.AssetID, l.SharesTotal, l.SharesRemaining,
		l.PricePerShare.String(), l.Status, l.ExpiresAt, l.CreatedAt,
	)
	return err
}

const listingColumns = `id, seller_id, asset_id, shares_total, shares_remaining,
       price_per_share::TEXT, status, expires_at, created_at`

func scanListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	var price string
	if err := row.Scan(&l.ID, &l.SellerID, &l.AssetID, &l.SharesTotal, &l.SharesRemaining,
		&price, &l.Status, &l.ExpiresAt, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.PricePerShare, _ = decimal.NewFromString(price)
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("listing %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}
	return l, nil
}

func (s *PostgresStore) UpdateListing(ctx context.Context, l *model.Listing) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings
		 SET shares_remaining = $2, status = $3, expires_at = $4
		 WHERE id = $1`,
		l.ID, l.SharesRemaining, l.Status, l.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("listing %s: %w", l.ID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListActiveListings(ctx context.Context, assetID string) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+`
		 FROM listings
		 WHERE asset_id = $1 AND status = 'active'
		 ORDER BY price_per_share ASC, created_at ASC, id ASC`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) ListExpiredListings(ctx context.Context, now time.Time) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+`
		 FROM listings
		 WHERE status = 'active' AND expires_at <= $1
		 ORDER BY created_at ASC, id ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) CommittedShares(ctx context.Context, sellerID, assetID string) (int64, error) {
	var committed int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(l.shares_total - COALESCE(t.settled, 0)), 0)
		 FROM listings l
		 LEFT JOIN (
		     SELECT listing_id, SUM(shares) AS settled
		     FROM trades
		     WHERE listing_id IS NOT NULL
		     GROUP BY listing_id
		 ) t ON t.listing_id = l.id
		 WHERE l.seller_id = $1 AND l.asset_id = $2 AND l.status = 'active'`,
		sellerID, assetID).Scan(&committed)
	if err != nil {
		return 0, fmt.Errorf("committed shares %s/%s: %w", sellerID, assetID, err)
	}
	return committed, nil
}

// --- Holds ---

const holdColumns = `id, listing_id, buyer_id, shares, buyer_confirmed, seller_confirmed,
       status, expires_at, created_at`

func scanHold(row pgx.Row) (*model.Hold, error) {
	var h model.Hold
	if err := row.Scan(&h.ID, &h.ListingID, &h.BuyerID, &h.Shares,
		&h.BuyerConfirmed, &h.SellerConfirmed, &h.Status, &h.ExpiresAt, &h.CreatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PostgresStore) CreateHold(ctx context.Context, h *model.Hold) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holds (id, listing_id, buyer_id, shares, buyer_confirmed, seller_confirmed, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID, h.ListingID, h.BuyerID, h.Shares,
		h.BuyerConfirmed, h.SellerConfirmed, h.Status, h.ExpiresAt, h.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetHold(ctx context.Context, id string) (*model.Hold, error) {
	h, err := scanHold(s.pool.QueryRow(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("hold %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get hold %s: %w", id, err)
	}
	return h, nil
}

func (s *PostgresStore) UpdateHold(ctx context.Context, h *model.Hold) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE holds
		 SET buyer_confirmed = $2, seller_confirmed = $3, status = $4, expires_at = $5
		 WHERE id = $1`,
		h.ID, h.BuyerConfirmed, h.SellerConfirmed, h.Status, h.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("hold %s: %w", h.ID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListHoldsByListing(ctx context.Context, listingID string) ([]model.Hold, error) {
	return s.queryHolds(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE listing_id = $1 ORDER BY created_at, id`, listingID)
}

func (s *PostgresStore) ListPendingHoldsForSeller(ctx context.Context, sellerID string) ([]model.Hold, error) {
	return s.queryHolds(ctx,
		`SELECT h.id, h.listing_id, h.buyer_id, h.shares, h.buyer_confirmed, h.seller_confirmed,
		        h.status, h.expires_at, h.created_at
		 FROM holds h
		 JOIN listings l ON l.id = h.listing_id
		 WHERE l.seller_id = $1
		   AND h.status IN ('active', 'buyer_confirmed', 'seller_confirmed')
		 ORDER BY h.created_at, h.id`, sellerID)
}

func (s *PostgresStore) ListExpiredHolds(ctx context.Context, now time.Time) ([]model.Hold, error) {
	return s.queryHolds(ctx,
		`SELECT `+holdColumns+`
		 FROM holds
		 WHERE status IN ('active', 'buyer_confirmed', 'seller_confirmed')
		   AND expires_at <= $1
		 ORDER BY created_at, id`, now)
}

func (s *PostgresStore) queryHolds(ctx context.Context, sql string, args ...any) ([]model.Hold, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []model.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, *h)
	}
	return holds, rows.Err()
}

// --- Reservations ---

const reservationColumns = `id, hold_id, listing_id, buyer_id, seller_id, asset_id,
       shares, price_per_share::TEXT, status, expires_at, created_at`

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	var r model.Reservation
	var price string
	if err := row.Scan(&r.ID, &r.HoldID, &r.ListingID, &r.BuyerID, &r.SellerID, &r.AssetID,
		&r.Shares, &price, &r.Status, &r.ExpiresAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.PricePerShare, _ = decimal.NewFromString(price)
	return &r, nil
}

func (s *PostgresStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reservations (id, hold_id, listing_id, buyer_id, seller_id, asset_id, shares, price_per_share, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10, $11)`,
		r.ID, r.HoldID, r.ListingID, r.BuyerID, r.SellerID, r.AssetID,
		r.Shares, r.PricePerShare.String(), r.Status, r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := scanReservation(s.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reservations SET status = $2, expires_at = $3 WHERE id = $1`,
		r.ID, r.Status, r.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation %s: %w", r.ID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListReservationsByListing(ctx context.Context, listingID string) ([]model.Reservation, error) {
	return s.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE listing_id = $1 ORDER BY created_at, id`, listingID)
}

func (s *PostgresStore) ListExpiredReservations(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	return s.queryReservations(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE status = 'active' AND expires_at <= $1
		 ORDER BY created_at, id`, now)
}

func (s *PostgresStore) queryReservations(ctx context.Context, sql string, args ...any) ([]model.Reservation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, *r)
	}
	return reservations, rows.Err()
}

// --- Trades ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, reservation_id, listing_id, asset_id, buyer_id, seller_id, shares, price_per_share, realized_pnl, executed_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10)`,
		t.ID, t.ReservationID, t.ListingID, t.AssetID, t.BuyerID, t.SellerID,
		t.Shares, t.PricePerShare.String(), t.RealizedPnL.String(), t.ExecutedAt,
	)
	return err
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID, assetID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(reservation_id, ''), COALESCE(listing_id, ''), asset_id,
		        buyer_id, seller_id, shares, price_per_share::TEXT, realized_pnl::TEXT, executed_at
		 FROM trades
		 WHERE asset_id = $2 AND (buyer_id = $1 OR seller_id = $1)
		 ORDER BY executed_at, id`, userID, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var price, pnl string
		if err := rows.Scan(&t.ID, &t.ReservationID, &t.ListingID, &t.AssetID,
			&t.BuyerID, &t.SellerID, &t.Shares, &price, &pnl, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.PricePerShare, _ = decimal.NewFromString(price)
		t.RealizedPnL, _ = decimal.NewFromString(pnl)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, userID, assetID string) (*model.Position, error) {
	var p model.Position
	var costBasis, avgCost, realized string
	var lotsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, asset_id, lots, total_shares, cost_basis::TEXT, avg_cost::TEXT, realized_pnl::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND asset_id = $2`, userID, assetID).
		Scan(&p.UserID, &p.AssetID, &lotsJSON, &p.TotalShares, &costBasis, &avgCost, &realized, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("position %s/%s: %w", userID, assetID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get position %s/%s: %w", userID, assetID, err)
	}

	if err := json.Unmarshal(lotsJSON, &p.Lots); err != nil {
		return nil, fmt.Errorf("decode lots for %s/%s: %w", userID, assetID, err)
	}
	p.CostBasis, _ = decimal.NewFromString(costBasis)
	p.AvgCost, _ = decimal.NewFromString(avgCost)
	p.RealizedPnL, _ = decimal.NewFromString(realized)
	return &p, nil
}

func (s *PostgresStore) PutPosition(ctx context.Context, p *model.Position) error {
	lots := p.Lots
	if lots == nil {
		lots = []model.Lot{}
	}
	lotsJSON, err := json.Marshal(lots)
	if err != nil {
		return fmt.Errorf("encode lots for %s/%s: %w", p.UserID, p.AssetID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, asset_id, lots, total_shares, cost_basis, avg_cost, realized_pnl, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)
		 ON CONFLICT (user_id, asset_id) DO UPDATE
		 SET lots = EXCLUDED.lots, total_shares = EXCLUDED.total_shares,
		     cost_basis = EXCLUDED.cost_basis, avg_cost = EXCLUDED.avg_cost,
		     realized_pnl = EXCLUDED.realized_pnl, updated_at = EXCLUDED.updated_at`,
		p.UserID, p.AssetID, lotsJSON, p.TotalShares,
		p.CostBasis.String(), p.AvgCost.String(), p.RealizedPnL.String(), p.UpdatedAt,
	)
	return err
}

// --- Events ---

func (s *PostgresStore) InsertOrderEvent(ctx context.Context, e *model.OrderEvent) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO order_events (id, listing_id, event_type, actor_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ListingID, e.EventType, e.ActorID, metaJSON, e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListOrderEvents(ctx context.Context, listingID string) ([]model.OrderEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, listing_id, event_type, actor_id, metadata, created_at
		 FROM order_events WHERE listing_id = $1 ORDER BY created_at, id`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OrderEvent
	for rows.Next() {
		var e model.OrderEvent
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.ListingID, &e.EventType, &e.ActorID, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
