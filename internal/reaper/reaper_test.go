package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/market"
	"github.com/propshare/settlement-core/internal/model"
	"github.com/propshare/settlement-core/internal/store"
)

func TestReaper_ReleasesExpiredHold(t *testing.T) {
	ms := store.NewMemoryStore()
	// Millisecond TTLs so the ticker can observe a real expiry.
	timing := market.Timing{
		HoldTTL:        5 * time.Millisecond,
		ConfirmTTL:     5 * time.Millisecond,
		ReservationTTL: 5 * time.Millisecond,
		ListingTTL:     time.Hour,
	}
	svc := market.NewService(ms, timing, nil)
	ctx := context.Background()

	op := model.Actor{ID: "ops", Operator: true}
	sellerA := model.Actor{ID: "s1"}
	buyerA := model.Actor{ID: "b1"}
	if _, err := svc.GrantShares(ctx, op, sellerA.ID, "prop-1", 10, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.Deposit(ctx, buyerA.ID, decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	listing, err := svc.CreateListing(ctx, sellerA, "prop-1", 10, decimal.NewFromInt(200))
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	hold, err := svc.CreateHold(ctx, buyerA, listing.ID, 10)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	reaperCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	New(svc, 10*time.Millisecond).Start(reaperCtx)

	deadline := time.After(2 * time.Second)
	for {
		got, err := svc.GetHold(ctx, op, hold.ID)
		if err != nil {
			t.Fatalf("get hold: %v", err)
		}
		if got.Status == model.HoldStatusReleased {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("hold not released by reaper, status %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	bal, _ := svc.GetBalance(ctx, buyerA.ID)
	if !bal.Locked.IsZero() {
		t.Errorf("locked funds not returned: %s", bal.Locked)
	}
}

func TestReaper_StopsOnContextCancel(t *testing.T) {
	svc := market.NewService(store.NewMemoryStore(), market.DefaultTiming, nil)

	ctx, cancel := context.WithCancel(context.Background())
	New(svc, time.Millisecond).Start(ctx)
	cancel()
	// The goroutine exits on its next select; nothing to assert beyond
	// the absence of a panic or leak under -race.
	time.Sleep(5 * time.Millisecond)
}
