// Package oracle provides cross-currency conversion (native <-> ERC20 <->
// USD) with a staleness policy, per spec.md §4.4 and the "Clock and
// PriceOracle trait" design note (§9). Grounded on the teacher's
// pkg/util/clock.go Clock abstraction.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/util"
)

// Quote is one currency's price sample as supplied by the backing feed.
type Quote struct {
	Currency  common.Address
	USDPrice  *big.Float // price of one whole unit of Currency, in USD
	Decimals  int
	Symbol    string
	ObservedAt time.Time
}

// Feed is the external collaborator the oracle reads through; a real
// implementation backs it with a price-feed cache, tests back it with a
// fixed map.
type Feed interface {
	Quote(ctx context.Context, currency common.Address) (Quote, error)
}

// Oracle converts amounts between currencies, applying a staleness
// policy on every read.
type Oracle struct {
	clock     util.Clock
	feed      Feed
	maxStaleness time.Duration
}

// New constructs an Oracle. maxStaleness is the longest a Quote may be
// held before Convert refuses it unless acceptStale is set.
func New(clock util.Clock, feed Feed, maxStaleness time.Duration) *Oracle {
	return &Oracle{clock: clock, feed: feed, maxStaleness: maxStaleness}
}

// Convert converts amount (raw integer units of from) into raw integer
// units of to, at the given evaluation time. When acceptStale is false
// and either quote is older than maxStaleness relative to atTime, it
// returns an error instead of a value (spec.md §9: "Staleness acceptance
// is a per-call flag").
func (o *Oracle) Convert(ctx context.Context, from, to common.Address, amount *big.Int, atTime time.Time, acceptStale bool) (*big.Int, error) {
	if from == to {
		return new(big.Int).Set(amount), nil
	}

	fromQ, err := o.feed.Quote(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("oracle: quote %s: %w", from, err)
	}
	toQ, err := o.feed.Quote(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("oracle: quote %s: %w", to, err)
	}

	if !acceptStale {
		if atTime.Sub(fromQ.ObservedAt) > o.maxStaleness {
			return nil, fmt.Errorf("oracle: stale quote for %s", from)
		}
		if atTime.Sub(toQ.ObservedAt) > o.maxStaleness {
			return nil, fmt.Errorf("oracle: stale quote for %s", to)
		}
	}

	// amount (raw, `from` decimals) -> whole `from` units -> USD -> whole
	// `to` units -> raw `to` units.
	fromWhole := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		new(big.Float).SetInt(pow10(fromQ.Decimals)),
	)
	usd := new(big.Float).Mul(fromWhole, fromQ.USDPrice)
	if toQ.USDPrice.Sign() == 0 {
		return nil, fmt.Errorf("oracle: zero price for %s", to)
	}
	toWhole := new(big.Float).Quo(usd, toQ.USDPrice)
	toRaw := new(big.Float).Mul(toWhole, new(big.Float).SetInt(pow10(toQ.Decimals)))

	result, _ := toRaw.Int(nil)
	return result, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
