// Package fees computes built-in fees, normalized royalty top-ups, and
// pro-rata global fees-on-top apportionment (spec.md §4.4, component C6).
package fees

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
)

// Converter is the subset of the price oracle (C2) the fee engine needs:
// convert an amount from one currency to another, accepting stale quotes.
type Converter interface {
	Convert(ctx context.Context, from, to common.Address, amount *big.Int, atTime time.Time, acceptStale bool) (*big.Int, error)
}

// GlobalFeeSpec is one caller-supplied "recipient:raw_amount" fee pair.
type GlobalFeeSpec struct {
	Recipient common.Address
	RawAmount *big.Int
}

// ParseGlobalFees parses the request's fees_on_top[] strings (spec.md §6).
func ParseGlobalFees(specs []string) ([]GlobalFeeSpec, error) {
	out := make([]GlobalFeeSpec, 0, len(specs))
	for _, s := range specs {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("fees: malformed fees_on_top entry %q", s)
		}
		amt, ok := new(big.Int).SetString(parts[1], 10)
		if !ok {
			return nil, fmt.Errorf("fees: malformed raw_amount in %q", s)
		}
		out = append(out, GlobalFeeSpec{Recipient: common.HexToAddress(parts[0]), RawAmount: amt})
	}
	return out, nil
}

// BuiltInFeeAmounts computes raw_amount = unit_price * bps / 10_000 for
// every built-in fee on an order.
func BuiltInFeeAmounts(unitPrice string, fees []planner.BuiltInFee) ([]*big.Int, error) {
	price, ok := new(big.Int).SetString(unitPrice, 10)
	if !ok {
		return nil, fmt.Errorf("fees: invalid unit price %q", unitPrice)
	}
	out := make([]*big.Int, len(fees))
	for i, f := range fees {
		amt := new(big.Int).Mul(price, big.NewInt(int64(f.Bps)))
		amt.Div(amt, big.NewInt(10_000))
		out[i] = amt
	}
	return out, nil
}

// MissingRoyaltyBps computes bps = entry.amount * 10_000 / unit_price for
// reporting alongside a normalized royalty top-up.
func MissingRoyaltyBps(unitPrice string, amount string) (uint32, error) {
	price, ok := new(big.Int).SetString(unitPrice, 10)
	if !ok || price.Sign() == 0 {
		return 0, fmt.Errorf("fees: invalid unit price %q", unitPrice)
	}
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return 0, fmt.Errorf("fees: invalid royalty amount %q", amount)
	}
	bps := new(big.Int).Mul(amt, big.NewInt(10_000))
	bps.Div(bps, price)
	return uint32(bps.Int64()), nil
}

// IsGlobalFeeEligible reports whether an order belongs to the
// eligible-for-global-fees set E (spec.md §4.4): Blur listings are
// always excluded; when any Blur listing is present anywhere in the
// cart, OpenSea ERC-721 Seaport listings are excluded too.
func IsGlobalFeeEligible(o *planner.Order, cartHasBlur bool) bool {
	if o.Kind == planner.KindBlur {
		return false
	}
	if cartHasBlur && o.Kind == planner.KindSeaport && o.IsOpenseaERC721 {
		return false
	}
	return true
}

// CartHasBlur reports whether any order behind the given path items is a
// Blur listing.
func CartHasBlur(orders map[string]*planner.Order, path []planner.PathItem) bool {
	for _, p := range path {
		if o, ok := orders[p.OrderID]; ok && o.Kind == planner.KindBlur {
			return true
		}
	}
	return false
}

// ApplyGlobalFees apportions each global fee across the eligible subset
// of path (by index, matching orders), converting through conv when an
// item's currency differs from buyIn, and mutates path in place:
// appending a FeeOnTop entry and updating TotalPrice/TotalRawPrice.
func ApplyGlobalFees(ctx context.Context, path []planner.PathItem, orders map[string]*planner.Order, globals []GlobalFeeSpec, buyIn common.Address, conv Converter, atTime time.Time) error {
	if len(globals) == 0 {
		return nil
	}
	cartHasBlur := CartHasBlur(orders, path)

	var eligibleIdx []int
	for i, p := range path {
		o, ok := orders[p.OrderID]
		if !ok {
			continue
		}
		if IsGlobalFeeEligible(o, cartHasBlur) {
			eligibleIdx = append(eligibleIdx, i)
		}
	}
	if len(eligibleIdx) == 0 {
		return nil
	}
	numEligible := big.NewInt(int64(len(eligibleIdx)))

	for _, gf := range globals {
		for _, idx := range eligibleIdx {
			item := &path[idx]
			qty := big.NewInt(int64(item.Quantity))
			if qty.Sign() == 0 {
				qty = big.NewInt(1)
			}
			perUnit := new(big.Int).Div(gf.RawAmount, qty)
			adjusted := new(big.Int).Div(perUnit, numEligible)

			buyInPerUnit, buyInAdjusted := perUnit, adjusted
			if item.Currency != buyIn {
				var err error
				buyInPerUnit, err = conv.Convert(ctx, item.Currency, buyIn, perUnit, atTime, true)
				if err != nil {
					return fmt.Errorf("fees: convert global fee: %w", err)
				}
				buyInAdjusted, err = conv.Convert(ctx, item.Currency, buyIn, adjusted, atTime, true)
				if err != nil {
					return fmt.Errorf("fees: convert global fee: %w", err)
				}
			}

			rawQuote, ok := new(big.Int).SetString(item.RawQuote, 10)
			if !ok || rawQuote.Sign() == 0 {
				return fmt.Errorf("fees: item %s has invalid raw_quote %q", item.OrderID, item.RawQuote)
			}
			bpsInt := new(big.Int).Mul(perUnit, big.NewInt(10_000))
			bpsInt.Div(bpsInt, rawQuote)
			var bps *uint32
			if bpsInt.Cmp(big.NewInt(10_000)) <= 0 {
				v := uint32(bpsInt.Int64())
				bps = &v
			}

			fot := planner.FeeOnTop{
				Recipient:   gf.Recipient,
				RawAmount:   adjusted.String(),
				Bps:         bps,
				BuyInRawAmt: buyInAdjusted.String(),
				BuyInQuote:  buyInPerUnit.String(),
			}
			item.FeesOnTop = append(item.FeesOnTop, fot)

			total, ok := new(big.Int).SetString(item.TotalRawPrice, 10)
			if !ok {
				total = new(big.Int).Set(rawQuote)
			}
			total.Add(total, adjusted)
			item.TotalRawPrice = total.String()

			totalPrice, ok := new(big.Int).SetString(item.TotalPrice, 10)
			if !ok {
				totalPrice = new(big.Int).Set(rawQuote)
			}
			totalPrice.Add(totalPrice, adjusted)
			item.TotalPrice = totalPrice.String()
		}
	}
	return nil
}

// SelectBuyInCurrency implements spec.md §4.4's buy-in currency
// selection: caller override, else the cart's single shared currency,
// else the chain's native currency.
func SelectBuyInCurrency(requested *common.Address, path []planner.PathItem, native common.Address) common.Address {
	if requested != nil {
		return *requested
	}
	if len(path) == 0 {
		return native
	}
	first := path[0].Currency
	for _, p := range path[1:] {
		if p.Currency != first {
			return native
		}
	}
	return first
}
