package market_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/market"
	"github.com/propshare/settlement-core/internal/model"
	"github.com/propshare/settlement-core/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	operator = model.Actor{ID: "ops-1", Operator: true}
	seller   = model.Actor{ID: "seller-1"}
	buyer    = model.Actor{ID: "buyer-1"}
)

// mockNotifier records dispatched events.
type mockNotifier struct {
	mu     sync.Mutex
	events []string
}

func (m *mockNotifier) Dispatch(eventType string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

func (m *mockNotifier) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

// newTestService creates a Service backed by the in-memory store.
func newTestService(t *testing.T) (*market.Service, *store.MemoryStore, *mockNotifier) {
	t.Helper()
	ms := store.NewMemoryStore()
	n := &mockNotifier{}
	svc := market.NewService(ms, market.DefaultTiming, n)
	return svc, ms, n
}

// seedTrader grants the seller shares and funds the buyer.
func seedTrader(t *testing.T, svc *market.Service, sellerShares int64, sellerCost float64, buyerFunds float64) {
	t.Helper()
	ctx := context.Background()
	if sellerShares > 0 {
		if _, err := svc.GrantShares(ctx, operator, seller.ID, "prop-1", sellerShares, d(sellerCost)); err != nil {
			t.Fatalf("grant shares: %v", err)
		}
	}
	if buyerFunds > 0 {
		if _, err := svc.Deposit(ctx, buyer.ID, d(buyerFunds)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
}

// openHold lists the asset and places a hold, returning both.
func openHold(t *testing.T, svc *market.Service, shares int64, price float64, holdShares int64) (*model.Listing, *model.Hold) {
	t.Helper()
	ctx := context.Background()
	listing, err := svc.CreateListing(ctx, seller, "prop-1", shares, d(price))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	hold, err := svc.CreateHold(ctx, buyer, listing.ID, holdShares)
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	return listing, hold
}

// confirmBoth confirms a hold from both sides and returns the reservation.
func confirmBoth(t *testing.T, svc *market.Service, holdID string) *model.Reservation {
	t.Helper()
	ctx := context.Background()
	if _, _, err := svc.ConfirmHoldAsBuyer(ctx, buyer, holdID); err != nil {
		t.Fatalf("buyer confirm: %v", err)
	}
	_, reservation, err := svc.ConfirmHoldAsSeller(ctx, seller, holdID)
	if err != nil {
		t.Fatalf("seller confirm: %v", err)
	}
	if reservation == nil {
		t.Fatal("dual confirmation should produce a reservation")
	}
	return reservation
}

// --- Full lifecycle ---

func TestSettlementFlow_Success(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	seedTrader(t, svc, 100, 1000, 200000)
	listing, hold := openHold(t, svc, 100, 1500, 100)

	// Hold locks 100 × 1500 = 150000 of the buyer's funds.
	bal, _ := svc.GetBalance(ctx, buyer.ID)
	if !bal.Available.Equal(d(50000)) || !bal.Locked.Equal(d(150000)) {
		t.Fatalf("after hold: available %s, locked %s", bal.Available, bal.Locked)
	}

	reservation := confirmBoth(t, svc, hold.ID)

	// Dual confirmation moves the funds locked → pending.
	bal, _ = svc.GetBalance(ctx, buyer.ID)
	if !bal.Locked.IsZero() || !bal.Pending.Equal(d(150000)) {
		t.Fatalf("after confirmation: locked %s, pending %s", bal.Locked, bal.Pending)
	}

	settled, err := svc.SettleReservation(ctx, operator, reservation.ID, true, "payment cleared")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != model.ReservationStatusCompleted {
		t.Errorf("reservation should be completed, got %s", settled.Status)
	}

	// Buyer paid 150000; seller received it.
	bal, _ = svc.GetBalance(ctx, buyer.ID)
	if !bal.Available.Equal(d(50000)) || !bal.Pending.IsZero() {
		t.Errorf("buyer after settle: available %s, pending %s", bal.Available, bal.Pending)
	}
	sellerBal, _ := svc.GetBalance(ctx, seller.ID)
	if !sellerBal.Available.Equal(d(150000)) {
		t.Errorf("seller after settle: available %s", sellerBal.Available)
	}

	// Shares moved; seller realized 100 × (1500 − 1000).
	buyerPos, _ := svc.GetPosition(ctx, buyer.ID, "prop-1")
	if buyerPos.TotalShares != 100 || !buyerPos.AvgCost.Equal(d(1500)) {
		t.Errorf("buyer position: %d shares at %s", buyerPos.TotalShares, buyerPos.AvgCost)
	}
	sellerPos, _ := svc.GetPosition(ctx, seller.ID, "prop-1")
	if sellerPos.TotalShares != 0 {
		t.Errorf("seller should hold 0 shares, got %d", sellerPos.TotalShares)
	}
	if !sellerPos.RealizedPnL.Equal(d(50000)) {
		t.Errorf("seller realized should be 50000, got %s", sellerPos.RealizedPnL)
	}

	// Fully settled listing is completed.
	got, _ := svc.GetListing(ctx, listing.ID)
	if got.Status != model.ListingStatusCompleted {
		t.Errorf("listing should be completed, got %s", got.Status)
	}

	// Audit trail covers every transition.
	events, err := svc.GetOrderEvents(ctx, listing.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	want := []string{
		model.EventListingCreated,
		model.EventHoldCreated,
		model.EventHoldConfirmed,
		model.EventHoldConfirmed,
		model.EventReservationMade,
		model.EventListingCompleted,
		model.EventSettled,
	}
	if len(types) != len(want) {
		t.Fatalf("event trail %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}

	// Notifications fired for hold, confirmations, and settlement.
	got2 := notifier.types()
	if len(got2) == 0 || got2[len(got2)-1] != model.EventSettled {
		t.Errorf("last notification should be settled, got %v", got2)
	}
}

// Conservation: across the whole lifecycle no money is created or destroyed.
func TestSettlementFlow_ConservesMoney(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	seedTrader(t, svc, 50, 800, 100000)
	total := func() decimal.Decimal {
		b, _ := svc.GetBalance(ctx, buyer.ID)
		s, _ := svc.GetBalance(ctx, seller.ID)
		return b.Total().Add(s.Total())
	}
	start := total()

	_, hold := openHold(t, svc, 50, 1000, 30)
	if !total().Equal(start) {
		t.Errorf("hold changed total money: %s != %s", total(), start)
	}

	reservation := confirmBoth(t, svc, hold.ID)
	if !total().Equal(start) {
		t.Errorf("confirmation changed total money: %s != %s", total(), start)
	}

	if _, err := svc.SettleReservation(ctx, operator, reservation.ID, true, ""); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !total().Equal(start) {
		t.Errorf("settlement changed total money: %s != %s", total(), start)
	}
}

// --- Listings ---

func TestCreateListing_RejectsOversellAcrossListings(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 0)

	if _, err := svc.CreateListing(ctx, seller, "prop-1", 70, d(1500)); err != nil {
		t.Fatalf("first listing: %v", err)
	}
	// 70 of 100 shares are parked; only 30 remain free.
	if _, err := svc.CreateListing(ctx, seller, "prop-1", 40, d(1600)); !errors.Is(err, model.ErrInsufficientSupply) {
		t.Fatalf("expected ErrInsufficientSupply, got %v", err)
	}
	if _, err := svc.CreateListing(ctx, seller, "prop-1", 30, d(1600)); err != nil {
		t.Fatalf("listing the free remainder should succeed: %v", err)
	}
}

func TestCreateListing_NoShares(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateListing(context.Background(), seller, "prop-1", 10, d(1500))
	if !errors.Is(err, model.ErrInsufficientSupply) {
		t.Fatalf("expected ErrInsufficientSupply, got %v", err)
	}
}

func TestCancelListing_BlockedByOutstandingHold(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	listing, hold := openHold(t, svc, 100, 1500, 10)

	if _, err := svc.CancelListing(ctx, seller, listing.ID); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict while hold outstanding, got %v", err)
	}

	if _, err := svc.CancelHold(ctx, buyer, hold.ID); err != nil {
		t.Fatalf("cancel hold: %v", err)
	}
	cancelled, err := svc.CancelListing(ctx, seller, listing.ID)
	if err != nil {
		t.Fatalf("cancel listing after hold released: %v", err)
	}
	if cancelled.Status != model.ListingStatusCancelled {
		t.Errorf("listing should be cancelled, got %s", cancelled.Status)
	}

	// Cancelled listing no longer parks the seller's shares.
	if _, err := svc.CreateListing(ctx, seller, "prop-1", 100, d(1500)); err != nil {
		t.Fatalf("relisting freed shares should succeed: %v", err)
	}
}

func TestCancelListing_NotSeller(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 0)
	listing, err := svc.CreateListing(ctx, seller, "prop-1", 100, d(1500))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}

	if _, err := svc.CancelListing(ctx, buyer, listing.ID); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// Operators can cancel on the seller's behalf.
	if _, err := svc.CancelListing(ctx, operator, listing.ID); err != nil {
		t.Fatalf("operator cancel: %v", err)
	}
}

// --- Holds ---

func TestCreateHold_InsufficientFunds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 1000) // far below 10 × 1500

	listing, err := svc.CreateListing(ctx, seller, "prop-1", 100, d(1500))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if _, err := svc.CreateHold(ctx, buyer, listing.ID, 10); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestCreateHold_SelfTrade(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 0)
	listing, err := svc.CreateListing(ctx, seller, "prop-1", 100, d(1500))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}

	if _, err := svc.CreateHold(ctx, seller, listing.ID, 10); !errors.Is(err, model.ErrSelfTrade) {
		t.Fatalf("expected ErrSelfTrade, got %v", err)
	}
}

func TestCreateHold_CannotOversubscribe(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 500000)
	listing, _ := openHold(t, svc, 100, 1500, 80)

	// 20 shares remain; a second buyer cannot hold 30.
	other := model.Actor{ID: "buyer-2"}
	if _, err := svc.Deposit(ctx, other.ID, d(100000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.CreateHold(ctx, other, listing.ID, 30); !errors.Is(err, model.ErrInsufficientSupply) {
		t.Fatalf("expected ErrInsufficientSupply, got %v", err)
	}
	if _, err := svc.CreateHold(ctx, other, listing.ID, 20); err != nil {
		t.Fatalf("holding the remainder should succeed: %v", err)
	}
}

func TestConfirmHold_FirstConfirmationExtendsExpiry(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	_, hold := openHold(t, svc, 100, 1500, 10)

	confirmed, reservation, err := svc.ConfirmHoldAsBuyer(ctx, buyer, hold.ID)
	if err != nil {
		t.Fatalf("buyer confirm: %v", err)
	}
	if reservation != nil {
		t.Fatal("single confirmation must not create a reservation")
	}
	if confirmed.Status != model.HoldStatusBuyerConfirmed {
		t.Errorf("status should be buyer_confirmed, got %s", confirmed.Status)
	}
	if !confirmed.ExpiresAt.After(hold.ExpiresAt) {
		t.Errorf("first confirmation should extend expiry beyond %s, got %s", hold.ExpiresAt, confirmed.ExpiresAt)
	}
}

func TestConfirmHold_Unauthorized(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	_, hold := openHold(t, svc, 100, 1500, 10)

	stranger := model.Actor{ID: "stranger"}
	if _, _, err := svc.ConfirmHoldAsBuyer(ctx, stranger, hold.ID); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for fake buyer, got %v", err)
	}
	if _, _, err := svc.ConfirmHoldAsSeller(ctx, stranger, hold.ID); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for fake seller, got %v", err)
	}
}

func TestCancelHold_RestoresSupplyAndFunds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	listing, hold := openHold(t, svc, 100, 1500, 40)

	released, err := svc.CancelHold(ctx, buyer, hold.ID)
	if err != nil {
		t.Fatalf("cancel hold: %v", err)
	}
	if released.Status != model.HoldStatusReleased {
		t.Errorf("hold should be released, got %s", released.Status)
	}

	bal, _ := svc.GetBalance(ctx, buyer.ID)
	if !bal.Available.Equal(d(200000)) || !bal.Locked.IsZero() {
		t.Errorf("funds not restored: available %s, locked %s", bal.Available, bal.Locked)
	}
	got, _ := svc.GetListing(ctx, listing.ID)
	if got.SharesRemaining != 100 {
		t.Errorf("supply not restored: %d remaining", got.SharesRemaining)
	}

	// Cancelling again is a no-op.
	again, err := svc.CancelHold(ctx, buyer, hold.ID)
	if err != nil {
		t.Fatalf("idempotent cancel: %v", err)
	}
	if again.Status != model.HoldStatusReleased {
		t.Errorf("second cancel changed status to %s", again.Status)
	}
	bal, _ = svc.GetBalance(ctx, buyer.ID)
	if !bal.Available.Equal(d(200000)) {
		t.Errorf("second cancel moved money: available %s", bal.Available)
	}
}

func TestCancelHold_DualConfirmedIsIrrevocable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	_, hold := openHold(t, svc, 100, 1500, 10)
	confirmBoth(t, svc, hold.ID)

	if _, err := svc.CancelHold(ctx, buyer, hold.ID); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

// --- Settlement ---

func TestSettleReservation_FailureRefundsBuyer(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	listing, hold := openHold(t, svc, 100, 1500, 25)
	reservation := confirmBoth(t, svc, hold.ID)

	failed, err := svc.SettleReservation(ctx, operator, reservation.ID, false, "payment bounced")
	if err != nil {
		t.Fatalf("settle failure: %v", err)
	}
	if failed.Status != model.ReservationStatusCancelled {
		t.Errorf("reservation should be cancelled, got %s", failed.Status)
	}

	bal, _ := svc.GetBalance(ctx, buyer.ID)
	if !bal.Available.Equal(d(200000)) || !bal.Pending.IsZero() {
		t.Errorf("buyer not refunded: available %s, pending %s", bal.Available, bal.Pending)
	}
	got, _ := svc.GetListing(ctx, listing.ID)
	if got.SharesRemaining != 100 {
		t.Errorf("supply not restored: %d remaining", got.SharesRemaining)
	}

	// No shares changed hands.
	pos, _ := svc.GetPosition(ctx, buyer.ID, "prop-1")
	if pos.TotalShares != 0 {
		t.Errorf("buyer should hold no shares, got %d", pos.TotalShares)
	}
}

func TestSettleReservation_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	_, hold := openHold(t, svc, 100, 1500, 10)
	reservation := confirmBoth(t, svc, hold.ID)

	if _, err := svc.SettleReservation(ctx, operator, reservation.ID, true, ""); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	sellerBal, _ := svc.GetBalance(ctx, seller.ID)

	// A retry must not double-pay the seller.
	again, err := svc.SettleReservation(ctx, operator, reservation.ID, true, "")
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if again.Status != model.ReservationStatusCompleted {
		t.Errorf("status changed on retry: %s", again.Status)
	}
	sellerBal2, _ := svc.GetBalance(ctx, seller.ID)
	if !sellerBal2.Available.Equal(sellerBal.Available) {
		t.Errorf("retry double-paid: %s then %s", sellerBal.Available, sellerBal2.Available)
	}
}

func TestSettleReservation_RequiresOperator(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	_, hold := openHold(t, svc, 100, 1500, 10)
	reservation := confirmBoth(t, svc, hold.ID)

	if _, err := svc.SettleReservation(ctx, buyer, reservation.ID, true, ""); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestPartialSettlement_ListingCompletesOnLastShare(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 500000)

	listing, err := svc.CreateListing(ctx, seller, "prop-1", 100, d(1500))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}

	settleShares := func(n int64) {
		t.Helper()
		hold, err := svc.CreateHold(ctx, buyer, listing.ID, n)
		if err != nil {
			t.Fatalf("hold %d: %v", n, err)
		}
		reservation := confirmBoth(t, svc, hold.ID)
		if _, err := svc.SettleReservation(ctx, operator, reservation.ID, true, ""); err != nil {
			t.Fatalf("settle %d: %v", n, err)
		}
	}

	settleShares(60)
	got, _ := svc.GetListing(ctx, listing.ID)
	if got.Status != model.ListingStatusActive {
		t.Errorf("partially settled listing should stay active, got %s", got.Status)
	}

	settleShares(40)
	got, _ = svc.GetListing(ctx, listing.ID)
	if got.Status != model.ListingStatusCompleted {
		t.Errorf("fully settled listing should be completed, got %s", got.Status)
	}

	pos, _ := svc.GetPosition(ctx, buyer.ID, "prop-1")
	if pos.TotalShares != 100 {
		t.Errorf("buyer should hold 100 shares, got %d", pos.TotalShares)
	}
}

// --- Expiry sweep ---

func TestSweep_ReleasesExpiredHolds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	listing, hold := openHold(t, svc, 100, 1500, 40)

	// Sweep with a clock far past the hold TTL.
	res, err := svc.RunExpirySweep(ctx, model.System, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.HoldsReleased != 1 {
		t.Fatalf("expected 1 hold released, got %+v", res)
	}

	got, err := svc.GetHold(ctx, model.System, hold.ID)
	if err != nil {
		t.Fatalf("get hold: %v", err)
	}
	if got.Status != model.HoldStatusReleased {
		t.Errorf("swept hold should be released, got %s", got.Status)
	}

	bal, _ := svc.GetBalance(ctx, buyer.ID)
	if !bal.Available.Equal(d(200000)) || !bal.Locked.IsZero() {
		t.Errorf("funds not restored: available %s, locked %s", bal.Available, bal.Locked)
	}
	l, _ := svc.GetListing(ctx, listing.ID)
	if l.SharesRemaining != 100 {
		t.Errorf("supply not restored: %d", l.SharesRemaining)
	}
}

func TestSweep_ExpiresLapsedReservations(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	listing, hold := openHold(t, svc, 100, 1500, 25)
	reservation := confirmBoth(t, svc, hold.ID)

	// Past the 24h settlement window.
	res, err := svc.RunExpirySweep(ctx, model.System, time.Now().UTC().Add(25*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.ReservationsExpired != 1 {
		t.Fatalf("expected 1 reservation expired, got %+v", res)
	}

	got, err := svc.GetReservation(ctx, model.System, reservation.ID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if got.Status != model.ReservationStatusExpired {
		t.Errorf("lapsed reservation should be expired, got %s", got.Status)
	}

	bal, _ := svc.GetBalance(ctx, buyer.ID)
	if !bal.Available.Equal(d(200000)) || !bal.Pending.IsZero() {
		t.Errorf("buyer not refunded: available %s, pending %s", bal.Available, bal.Pending)
	}
	l, _ := svc.GetListing(ctx, listing.ID)
	if l.SharesRemaining != 100 {
		t.Errorf("supply not restored: %d", l.SharesRemaining)
	}
}

func TestSweep_ExpiresStaleListings(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 0)
	listing, err := svc.CreateListing(ctx, seller, "prop-1", 100, d(1500))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}

	// Past the 30-day listing TTL.
	res, err := svc.RunExpirySweep(ctx, model.System, time.Now().UTC().Add(31*24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.ListingsExpired != 1 {
		t.Fatalf("expected 1 listing expired, got %+v", res)
	}

	got, _ := svc.GetListing(ctx, listing.ID)
	if got.Status != model.ListingStatusExpired {
		t.Errorf("stale listing should be expired, got %s", got.Status)
	}
}

func TestSweep_NothingExpired(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	openHold(t, svc, 100, 1500, 10)

	res, err := svc.RunExpirySweep(ctx, model.System, time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.HoldsReleased != 0 || res.ReservationsExpired != 0 || res.ListingsExpired != 0 {
		t.Errorf("nothing should expire yet: %+v", res)
	}
}

func TestSweep_RequiresOperator(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.RunExpirySweep(context.Background(), buyer, time.Now().UTC()); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

// --- Balance rail ---

func TestWithdraw_OnlyAvailableFunds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 100, 1000, 200000)
	openHold(t, svc, 100, 1500, 100) // locks 150000

	// Only 50000 is available.
	if _, err := svc.Withdraw(ctx, buyer, buyer.ID, d(60000)); !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	bal, err := svc.Withdraw(ctx, buyer, buyer.ID, d(50000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !bal.Available.IsZero() || !bal.Locked.Equal(d(150000)) {
		t.Errorf("after withdraw: available %s, locked %s", bal.Available, bal.Locked)
	}
}

func TestWithdraw_Unauthorized(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedTrader(t, svc, 0, 0, 1000)

	if _, err := svc.Withdraw(ctx, seller, buyer.ID, d(100)); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// An operator may withdraw on the user's behalf.
	if _, err := svc.Withdraw(ctx, operator, buyer.ID, d(100)); err != nil {
		t.Fatalf("operator withdraw: %v", err)
	}
}

func TestDeposit_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var verr *model.ValidationError
	if _, err := svc.Deposit(ctx, "", d(100)); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for empty user, got %v", err)
	}
	if _, err := svc.Deposit(ctx, buyer.ID, d(-5)); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for negative amount, got %v", err)
	}
}

func TestGrantShares_RequiresOperator(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GrantShares(context.Background(), seller, seller.ID, "prop-1", 10, d(1000))
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetPosition_UnknownUserIsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)

	pos, err := svc.GetPosition(context.Background(), "nobody", "prop-1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.TotalShares != 0 || len(pos.Lots) != 0 {
		t.Errorf("expected empty position, got %+v", pos)
	}
}
