// Package position implements the weighted-average-cost position accounting
// transition. It is pure: callers own persistence and locking.
package position

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantlog/tradeledger/internal/ledger"
	"github.com/quantlog/tradeledger/internal/ledger/model"
)

var hundred = decimal.NewFromInt(100)

// Change describes the outcome of applying one fill to a position
type Change struct {
	Quantity    decimal.Decimal // new signed quantity
	AvgPrice    decimal.Decimal // new cost basis, always >= 0
	RealizedPnL decimal.Decimal // non-zero only when the fill reduced, closed or flipped the position
	Clamped     bool            // sell on a non-shortable instrument was clamped to flat
}

// Apply computes the next (quantity, avgPrice) state for a position after a
// fill of delta units at execPrice.
//
// Same-direction fills blend the cost basis by quantity weight. Opposite
// fills realize P&L on the closed amount; a fill larger than the open
// quantity closes it fully and opens the remainder in the other direction at
// execPrice. Instruments that cannot go short are clamped to flat instead of
// flipping. Any intermediate notional above maxNotional aborts the
// transition.
func Apply(sym *model.Symbol, quantity, avgPrice decimal.Decimal, side string, delta, execPrice, maxNotional decimal.Decimal) (Change, error) {
	if !delta.IsPositive() {
		return Change{}, fmt.Errorf("%w: quantity delta must be positive, got %s", ledger.ErrValidation, delta)
	}
	if execPrice.IsNegative() {
		return Change{}, fmt.Errorf("%w: execution price must not be negative, got %s", ledger.ErrValidation, execPrice)
	}

	mult := sym.Multiplier()
	if err := guardNotional(delta.Mul(execPrice).Mul(mult), maxNotional); err != nil {
		return Change{}, err
	}

	buying := side == model.SideBuy

	// Same-direction fill: accumulate and blend the cost basis.
	if (buying && !quantity.IsNegative()) || (!buying && !quantity.IsPositive()) {
		if !buying && !sym.Shortable() {
			// A plain sell with nothing held cannot open a short.
			return Change{Quantity: quantity, AvgPrice: avgPrice, Clamped: true}, nil
		}

		abs := quantity.Abs()
		blended := abs.Mul(avgPrice).Add(delta.Mul(execPrice)).Div(abs.Add(delta)).Round(4)
		next := quantity.Add(delta)
		if !buying {
			next = quantity.Sub(delta)
		}
		if err := guardNotional(next.Abs().Mul(blended).Mul(mult), maxNotional); err != nil {
			return Change{}, err
		}
		return Change{Quantity: next, AvgPrice: blended}, nil
	}

	// Opposite-direction fill: realize P&L on the closed amount.
	abs := quantity.Abs()
	closeQty := decimal.Min(delta, abs)

	realized := sym.CalculateProfitLoss(avgPrice, execPrice, closeQty)
	if quantity.IsNegative() {
		realized = realized.Neg()
	}
	realized = realized.Round(2)
	if err := guardNotional(realized, maxNotional); err != nil {
		return Change{}, err
	}

	if delta.LessThanOrEqual(abs) {
		// Partial or exact close: magnitude shrinks toward zero.
		next := quantity.Sub(closeQty)
		if quantity.IsNegative() {
			next = quantity.Add(closeQty)
		}
		nextAvg := avgPrice
		if next.IsZero() {
			nextAvg = decimal.Zero
		}
		return Change{Quantity: next, AvgPrice: nextAvg, RealizedPnL: realized}, nil
	}

	// Reversal: the existing position is fully closed, the remainder opens
	// in the new direction at the execution price.
	remaining := delta.Sub(abs)
	if !buying && !sym.Shortable() {
		return Change{RealizedPnL: realized, Clamped: true}, nil
	}
	if err := guardNotional(remaining.Mul(execPrice).Mul(mult), maxNotional); err != nil {
		return Change{}, err
	}
	next := remaining
	if !buying {
		next = remaining.Neg()
	}
	return Change{Quantity: next, AvgPrice: execPrice.Round(4), RealizedPnL: realized}, nil
}

// MarkToMarket recomputes the derived market value and unrealized P&L fields
// of a position from a current price. Prices of zero leave the P&L untouched
// at zero rather than marking against a bogus quote.
func MarkToMarket(sym *model.Symbol, p *model.Position, currentPrice decimal.Decimal) {
	p.CurrentPrice = currentPrice
	p.MarketValue = p.Quantity.Abs().Mul(currentPrice).Round(2)

	if !p.AvgPrice.IsPositive() || !currentPrice.IsPositive() || p.Quantity.IsZero() {
		p.UnrealizedPnL = decimal.Zero
		p.UnrealizedPnLRatio = decimal.Zero
		return
	}

	diff := currentPrice.Sub(p.AvgPrice)
	if p.Quantity.IsNegative() {
		diff = p.AvgPrice.Sub(currentPrice)
	}
	p.UnrealizedPnL = diff.Mul(p.Quantity.Abs()).Mul(sym.Multiplier()).Round(2)
	p.UnrealizedPnLRatio = diff.Div(p.AvgPrice).Mul(hundred).Round(2)
}

func guardNotional(v, maxNotional decimal.Decimal) error {
	if maxNotional.IsPositive() && v.Abs().GreaterThan(maxNotional) {
		return fmt.Errorf("%w: %s exceeds %s", ledger.ErrNotionalLimit, v, maxNotional)
	}
	return nil
}
