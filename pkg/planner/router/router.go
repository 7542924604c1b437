// Package router implements the Router Driver (component C9): per-
// protocol calldata dispatch, swap-price validation, mint simulation,
// and the final balance check (spec.md §4.7). The registry pattern is
// grounded on the teacher's pkg/app/core/market/registry.go
// MarketRegistry (thread-safe register/lookup-by-key).
package router

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
)

// ListingDetail is what C5 hands to C9 for one path item: enough to let
// a protocol filler build calldata.
type ListingDetail struct {
	OrderID  string
	Kind     planner.OrderKind
	Contract common.Address
	TokenID  *string
	Quantity uint64
	Currency common.Address
	RawQuote string
	RawData  []byte
	Fees     []planner.FeeOnTop
}

// MintDetail is what C5/C4 hand to C9 for a resolved mint candidate.
type MintDetail struct {
	Mint     *planner.Mint
	Quantity uint64
}

// FillOptions carries per-request options a filler may need (conduit
// key, relayer, gas overrides, swap provider, protocol API keys).
type FillOptions struct {
	Taker                common.Address
	Relayer              *common.Address
	ConduitKey           string
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
	SwapProvider         string
	ProtocolAPIKeys      map[string]string
	// ForceDirectFilling re-targets a mint build at the mint contract
	// itself instead of the router, per spec.md §4.7 step 3: set when a
	// prior simulation failed to deliver to the taker, or carried an
	// ERC-20 approval.
	ForceDirectFilling bool
}

// CallBundle is one protocol filler's output for a ListingDetail/MintDetail.
type CallBundle struct {
	TxData         planner.TxData
	Approvals      []planner.TxData
	Permits        []authcachePermitRef
	PreSignatures  []authcachePresigRef
	TxTags         map[string]bool // e.g. {"swaps": true}
	OrderIDs       []string
}

// authcachePermitRef/authcachePresigRef avoid an import cycle with
// pkg/planner/authcache (which never needs to import router); the facade
// turns them into authcache records and signature steps by id.
type authcachePermitRef struct {
	Token  common.Address
	Amount *big.Int
}

type authcachePresigRef struct {
	UniqueID string
	OrderID  string
}

// ProtocolFiller is the per-protocol adapter seam (spec.md §4.7, SPEC_FULL §4).
type ProtocolFiller interface {
	Kind() planner.OrderKind
	BuildFill(ctx context.Context, listing ListingDetail, opts FillOptions) (CallBundle, error)
}

// MintFiller builds mint transactions, separate from ProtocolFiller
// because mints have no order-book ListingDetail.
type MintFiller interface {
	BuildMint(ctx context.Context, mint MintDetail, opts FillOptions) (CallBundle, error)
	// SimulateMint verifies at least one Transfer event landed and that
	// every minted (contract, tokenId) has the taker as final recipient
	// (spec.md §4.7 step 3).
	SimulateMint(ctx context.Context, mint MintDetail, bundle CallBundle, taker common.Address) (ok bool, carriesApproval bool, err error)
}

// Registry dispatches by OrderKind, mirroring market.MarketRegistry's
// thread-safe register/lookup-by-key pattern.
type Registry struct {
	mu      sync.RWMutex
	fillers map[planner.OrderKind]ProtocolFiller
	mints   MintFiller
}

func NewRegistry() *Registry {
	return &Registry{fillers: make(map[planner.OrderKind]ProtocolFiller)}
}

func (r *Registry) Register(f ProtocolFiller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fillers[f.Kind()] = f
}

func (r *Registry) RegisterMintFiller(f MintFiller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mints = f
}

func (r *Registry) Get(kind planner.OrderKind) (ProtocolFiller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fillers[kind]
	return f, ok
}

func (r *Registry) MintFillerOrNil() MintFiller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mints
}

// Result is the aggregated outcome of driving every listing through
// its filler: successes by order id, per-order errors, and the
// aggregated transaction bundles to be sequenced by C8.
type Result struct {
	Success  map[string]CallBundle
	Errors   []planner.ResolutionError
}

// Drive runs step 1 of §4.7: call the per-protocol filler for every
// ListingDetail, aggregating bundles and per-order failures. If
// !partial, the first failure aborts and is returned as err.
func (r *Registry) Drive(ctx context.Context, listings []ListingDetail, opts FillOptions, partial bool) (Result, error) {
	res := Result{Success: make(map[string]CallBundle)}
	for _, l := range listings {
		filler, ok := r.Get(l.Kind)
		if !ok {
			e := planner.ResolutionError{OrderID: l.OrderID, Kind: string(planner.ErrCalldataBuildFailed), Message: fmt.Sprintf("no filler registered for %s", l.Kind)}
			if !partial {
				return res, &planner.PlannerError{Kind: planner.ErrCalldataBuildFailed, OrderID: l.OrderID, Message: e.Message}
			}
			res.Errors = append(res.Errors, e)
			continue
		}
		bundle, err := filler.BuildFill(ctx, l, opts)
		if err != nil {
			e := planner.ResolutionError{OrderID: l.OrderID, Kind: string(planner.ErrCalldataBuildFailed), Message: err.Error()}
			if !partial {
				return res, &planner.PlannerError{Kind: planner.ErrCalldataBuildFailed, OrderID: l.OrderID, Message: err.Error(), Cause: err}
			}
			res.Errors = append(res.Errors, e)
			continue
		}
		res.Success[l.OrderID] = bundle
	}
	return res, nil
}

// ValidateSwapPrice implements §4.7 step 2: the swap's received amount
// must be within slippageBps of the expected quote.
func ValidateSwapPrice(received, expected *big.Int, slippageBps uint32) error {
	if expected.Sign() == 0 {
		return fmt.Errorf("router: expected quote is zero")
	}
	diff := new(big.Int).Sub(expected, received)
	diff.Abs(diff)
	tolerance := new(big.Int).Mul(expected, big.NewInt(int64(slippageBps)))
	tolerance.Div(tolerance, big.NewInt(10_000))
	if diff.Cmp(tolerance) > 0 {
		return &planner.PlannerError{
			Kind:    planner.ErrSwapPriceOutOfRange,
			Message: fmt.Sprintf("received %s outside %d bps of expected %s", received, slippageBps, expected),
		}
	}
	return nil
}

// FilterPathToSuccess implements §4.7 step 4: keep only path items whose
// order id appears in the router's success map.
func FilterPathToSuccess(path []planner.PathItem, success map[string]CallBundle) []planner.PathItem {
	out := make([]planner.PathItem, 0, len(path))
	for _, p := range path {
		if _, ok := success[p.OrderID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// CheckBalance implements §4.7 step 5: for native buy-in, sum
// transaction values; for ERC-20 buy-in, sum approval amounts. Only the
// single walletBalance is compared; no BETH balance is added when Blur
// listings are present. The caller passes skipBalanceCheck=false whenever
// Blur is in the cart (pkg/planner/facade, not here, since only the caller
// has the full cart context).
func CheckBalance(native bool, bundles map[string]CallBundle, walletBalance *big.Int, skipBalanceCheck bool) error {
	if skipBalanceCheck {
		return nil
	}
	var required big.Int
	for _, b := range bundles {
		if native {
			v, ok := new(big.Int).SetString(b.TxData.Value, 10)
			if ok {
				required.Add(&required, v)
			}
		} else {
			for _, a := range b.Approvals {
				v, ok := new(big.Int).SetString(a.Value, 10)
				if ok {
					required.Add(&required, v)
				}
			}
		}
	}
	if walletBalance.Cmp(&required) < 0 {
		return &planner.PlannerError{Kind: planner.ErrBalanceTooLow, Message: fmt.Sprintf("have %s, need %s", walletBalance, &required)}
	}
	return nil
}
