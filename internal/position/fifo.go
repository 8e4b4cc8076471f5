// Package position implements the FIFO lot engine: positions are derived
// deterministically from the full trade history of a (user, asset) pair and
// never mutated directly. Acquisitions append lots; disposals consume the
// oldest lots first, splitting a lot when partially consumed so the remainder
// keeps its original acquisition cost.
package position

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/model"
)

// Consume removes shares from the lot list oldest-first and returns the
// remaining lots plus the realized P&L of the sale at salePrice:
// Σ sharesFromLot × (salePrice − lot.UnitCost). The input slice is not
// modified. Fails when the lots hold fewer shares than requested.
func Consume(lots []model.Lot, shares int64, salePrice decimal.Decimal) ([]model.Lot, decimal.Decimal, error) {
	if shares <= 0 {
		return nil, decimal.Zero, fmt.Errorf("shares must be positive, got %d", shares)
	}

	var held int64
	for _, l := range lots {
		held += l.Shares
	}
	if held < shares {
		return nil, decimal.Zero, fmt.Errorf("consume %d shares from %d held: %w", shares, held, model.ErrInsufficientSupply)
	}

	remaining := make([]model.Lot, 0, len(lots))
	realized := decimal.Zero
	left := shares

	for _, lot := range lots {
		if left == 0 {
			remaining = append(remaining, lot)
			continue
		}
		take := lot.Shares
		if take > left {
			take = left
		}
		realized = realized.Add(salePrice.Sub(lot.UnitCost).Mul(decimal.NewFromInt(take)))
		left -= take

		if take < lot.Shares {
			// Partial consumption splits the lot; the remainder keeps its
			// original acquisition cost and time.
			rest := lot
			rest.Shares = lot.Shares - take
			remaining = append(remaining, rest)
		}
	}

	return remaining, realized, nil
}

// Rebuild derives the position of (userID, assetID) from the complete trade
// history, ordered by execution time with trade ID as tie-break. Trades where
// the user is the buyer append a lot; trades where the user is the seller
// consume lots FIFO and accumulate realized P&L.
func Rebuild(userID, assetID string, trades []model.Trade, now time.Time) (*model.Position, error) {
	ordered := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if t.AssetID != assetID {
			continue
		}
		if t.BuyerID != userID && t.SellerID != userID {
			continue
		}
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].ExecutedAt.Equal(ordered[j].ExecutedAt) {
			return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	var lots []model.Lot
	realized := decimal.Zero

	for _, t := range ordered {
		switch userID {
		case t.BuyerID:
			lots = append(lots, model.Lot{
				SourceID:   t.ID,
				Shares:     t.Shares,
				UnitCost:   t.PricePerShare,
				AcquiredAt: t.ExecutedAt,
			})
		case t.SellerID:
			rest, pnl, err := Consume(lots, t.Shares, t.PricePerShare)
			if err != nil {
				return nil, fmt.Errorf("rebuild %s/%s at trade %s: %w", userID, assetID, t.ID, err)
			}
			lots = rest
			realized = realized.Add(pnl)
		}
	}

	pos := &model.Position{
		UserID:      userID,
		AssetID:     assetID,
		Lots:        lots,
		CostBasis:   decimal.Zero,
		AvgCost:     decimal.Zero,
		RealizedPnL: realized,
		UpdatedAt:   now,
	}
	for _, l := range lots {
		pos.TotalShares += l.Shares
		pos.CostBasis = pos.CostBasis.Add(l.UnitCost.Mul(decimal.NewFromInt(l.Shares)))
	}
	if pos.TotalShares > 0 {
		pos.AvgCost = pos.CostBasis.Div(decimal.NewFromInt(pos.TotalShares))
	}
	return pos, nil
}
