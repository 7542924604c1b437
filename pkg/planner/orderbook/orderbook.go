// Package orderbook implements the read-only queries the planner issues
// against indexed orders, tokens, balances, collections and mints
// (spec.md §4, component C1). The production Reader is backed by
// Postgres via pgx, grounded on leanlp-BTC-coinjoin's internal/db/postgres.go
// pgxpool usage; tests use the in-memory Fake in fake.go.
package orderbook

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
)

// OrderFilter narrows a Reader query to fillable, approved, non-self-fill
// candidates, honoring the intent's source affinity/exclusion rules
// (spec.md §4.1).
type OrderFilter struct {
	ExactSource   string
	Exclusions    []string
	ExcludeBlur   bool
	Taker         common.Address
	Limit         int
}

// Reader is the read-only surface C4/C5 consult. Implementations must
// not mutate shared state; every call may suspend (spec.md §5).
type Reader interface {
	// OrdersForToken returns fillable sell orders for one (contract, tokenId),
	// sorted cheapest-first by normalized value with deterministic tie-break
	// (spec.md §4.1).
	OrdersForToken(ctx context.Context, contract common.Address, tokenID string, f OrderFilter) ([]*planner.Order, error)

	// OrderByID fetches a single order.
	OrderByID(ctx context.Context, orderID string) (*planner.Order, error)

	// CheapestTokensInCollection returns up to n token ids from the
	// collection's floor, cheapest-first, for collection-intent expansion
	// (spec.md §4.1).
	CheapestTokensInCollection(ctx context.Context, collection common.Address, n int) ([]string, error)

	// OpenMints returns open mints for a collection, optionally filtered
	// by stage and/or a specific token id.
	OpenMints(ctx context.Context, collection common.Address, stage string, tokenID *string) ([]*planner.Mint, error)

	// MintableByWallet returns the remaining amount the given wallet may
	// still mint from this mint descriptor.
	MintableByWallet(ctx context.Context, m *planner.Mint, wallet common.Address) (uint64, error)

	// MakerBalance returns the maker's current on-chain balance of
	// (contract, tokenID), consulted once per maker per request by C5.
	MakerBalance(ctx context.Context, maker, contract common.Address, tokenID string) (uint64, error)

	// CurrencyMetadata resolves a currency's display symbol and decimals.
	CurrencyMetadata(ctx context.Context, currency common.Address) (symbol string, decimals int, err error)

	// PoolPrices returns a pool's published price curve in fill order
	// (index 0 prices the first unit filled from the pool), for seeding poolcurve.Tracker before the pool's first reprice
	// (spec.md §8 seed case 2: sudoswap/sudoswap-v2/nftx/nftx-v3/zora-v4
	// orders carry a pool_id that must resolve to this curve).
	PoolPrices(ctx context.Context, poolID string) ([]string, error)

	// IngestRawOrder ingests a caller-supplied raw protocol payload and
	// returns the resulting order_id (spec.md §9: "direct function call
	// to the order-book ingestion API").
	IngestRawOrder(ctx context.Context, raw []byte) (orderID string, err error)
}

// sortCandidates orders fillable candidates cheapest-first by normalized
// value (falling back to raw value when normalization is disabled), then
// tie-breaks by preferredSource affinity, then by ascending fee bps
// (spec.md §4.1).
func sortCandidates(orders []*planner.Order, normalize bool, preferredSource string) {
	sort.SliceStable(orders, func(i, j int) bool {
		vi, vj := toBigInt(normalizedValue(orders[i], normalize)), toBigInt(normalizedValue(orders[j], normalize))
		if cmp := vi.Cmp(vj); cmp != 0 {
			return cmp < 0
		}
		if preferredSource != "" {
			pi := string(orders[i].Kind) == preferredSource
			pj := string(orders[j].Kind) == preferredSource
			if pi != pj {
				return pi
			}
		}
		return totalBps(orders[i]) < totalBps(orders[j])
	})
}

// normalizedValue returns the value an order sorts by: its raw price, plus
// any missing royalties it would owe once normalized, when normalize is
// true (spec.md §4.1: "sort primarily by normalized value (or raw value
// if normalization disabled)").
func normalizedValue(o *planner.Order, normalize bool) string {
	if !normalize || len(o.MissingRoyalties) == 0 {
		return o.Price
	}
	total := toBigInt(o.Price)
	for _, mr := range o.MissingRoyalties {
		total.Add(total, toBigInt(mr.Amount))
	}
	return total.String()
}

func toBigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func totalBps(o *planner.Order) uint32 {
	var total uint32
	for _, f := range o.BuiltInFees {
		total += f.Bps
	}
	return total
}
