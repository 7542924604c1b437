// Package resolver implements the Candidate Resolver (component C4,
// spec.md §4.1): turns each cart intent into path appends, using a FIFO
// work queue so collection-intent expansion pushes new token intents to
// the back of the same queue rather than mutating a list mid-iteration
// (spec.md §9 design note). Grounded on the teacher's
// pkg/app/core/mempool/mempool.go FIFO queue discipline.
package resolver

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
	"github.com/nftrouter/planner-core/pkg/planner/orderbook"
	"github.com/nftrouter/planner-core/pkg/planner/pathbuilder"
)

// MintAppender is the narrow seam the resolver uses to turn a resolved
// mint candidate into a path entry; facade.mintAdapter wires this to the
// router's mint filler plus pathbuilder.Builder.AppendPrebuilt.
type MintAppender interface {
	AppendMint(ctx context.Context, m *planner.Mint, wallet common.Address, quantity uint64) (*planner.PathItem, error)
}

// Config carries the tunables from params.Config that affect resolution.
type Config struct {
	CollectionRedundancyFactor int
	MaxCandidateOrders         int
	PreviewDefaultQuantity     uint64
}

// Engine resolves a cart of intents against a Reader (C1), a
// pathbuilder.Builder (C5), and a MintAppender.
type Engine struct {
	reader orderbook.Reader
	path   *pathbuilder.Builder
	mints  MintAppender
	cfg    Config
}

func New(reader orderbook.Reader, path *pathbuilder.Builder, mints MintAppender, cfg Config) *Engine {
	return &Engine{reader: reader, path: path, mints: mints, cfg: cfg}
}

// queueItem wraps an intent with its original cart index, preserved
// through collection expansion so MaxQuantities can still be reported
// per original intent in preview mode.
type queueItem struct {
	intent      planner.Intent
	originIndex int
}

// Outcome is the result of resolving the whole cart.
type Outcome struct {
	Errors        []planner.ResolutionError
	MaxQuantities []planner.MaxQuantity
}

// Resolve drains the cart through the FIFO queue described above,
// appending every successfully resolved candidate to the Engine's
// pathbuilder. taker is used for self-fill exclusion and mint-cap
// lookups. partial controls whether a per-intent failure is recorded
// and skipped (true) or aborts resolution immediately (false).
func (e *Engine) Resolve(ctx context.Context, cart []planner.Intent, taker common.Address, partial bool, preview bool) (Outcome, error) {
	var out Outcome
	queue := make([]queueItem, 0, len(cart))
	for i, it := range cart {
		if preview && it.Quantity == 0 {
			it.Quantity = e.cfg.PreviewDefaultQuantity
		}
		queue = append(queue, queueItem{intent: it, originIndex: i})
	}

	for len(queue) > 0 {
		qi := queue[0]
		queue = queue[1:]

		appended, maxQty, more, err := e.resolveOne(ctx, qi.intent, taker, partial)
		if err != nil {
			if !partial {
				return out, err
			}
			out.Errors = append(out.Errors, planner.ResolutionError{
				Kind:    errKind(err),
				Message: err.Error(),
			})
		}
		if preview {
			out.MaxQuantities = append(out.MaxQuantities, planner.MaxQuantity{IntentIndex: qi.originIndex, Max: maxQty})
		}
		_ = appended
		// Collection intents expand into new token intents appended to
		// the back of the same queue, so later original intents still
		// see inventory already consumed by earlier ones (spec.md §5).
		for _, next := range more {
			queue = append(queue, queueItem{intent: next, originIndex: qi.originIndex})
		}
	}

	return out, nil
}

func errKind(err error) string {
	if pe, ok := err.(*planner.PlannerError); ok {
		return string(pe.Kind)
	}
	return string(planner.ErrNoFillableOrders)
}

// resolveOne resolves a single queue entry, returning any newly appended
// path items, the max fillable quantity (preview mode only), and any
// token-intents to push onto the back of the queue (collection
// expansion).
func (e *Engine) resolveOne(ctx context.Context, it planner.Intent, taker common.Address, partial bool) ([]*planner.PathItem, uint64, []planner.Intent, error) {
	var appended []*planner.PathItem
	residual := it.Quantity
	if residual == 0 {
		residual = 1
	}

	// 1. Mint-first resolution. A pure mint intent reports any failure
	// directly; prefer_mint swallows it and falls through to trade
	// resolution against whatever residual remains.
	if it.FillType == planner.FillMint || it.FillType == planner.FillPreferMint {
		filled, mintErr := e.resolveMints(ctx, it, taker, &residual)
		appended = append(appended, filled...)
		if it.FillType == planner.FillMint {
			return appended, filledQuantity(appended), nil, mintErr
		}
	}

	if residual == 0 {
		return appended, filledQuantity(appended), nil, nil
	}

	// 2. Trade resolution by intent shape.
	switch {
	case it.Token != nil:
		got, err := e.resolveToken(ctx, *it.Token, it, taker, residual)
		appended = append(appended, got...)
		return appended, filledQuantity(appended), nil, err

	case it.Collection != nil:
		tokens, err := e.reader.CheapestTokensInCollection(ctx, *it.Collection, int(residual)*e.cfg.CollectionRedundancyFactor)
		if err != nil {
			return appended, filledQuantity(appended), nil, fmt.Errorf("resolver: collection expansion: %w", err)
		}
		if len(tokens) == 0 {
			return appended, filledQuantity(appended), nil, &planner.PlannerError{Kind: planner.ErrNoFillableOrders, Message: "no eligible tokens in collection"}
		}
		var expanded []planner.Intent
		for _, tokenID := range tokens {
			next := it
			next.Collection = nil
			next.Token = &planner.TokenRef{Contract: *it.Collection, TokenID: tokenID}
			next.Quantity = 1
			expanded = append(expanded, next)
		}
		return appended, filledQuantity(appended), expanded, nil

	case it.OrderID != "":
		got, err := e.resolveOrderID(ctx, it, taker, residual)
		appended = append(appended, got...)
		return appended, filledQuantity(appended), nil, err

	case len(it.RawOrder) > 0:
		orderID, err := e.reader.IngestRawOrder(ctx, it.RawOrder)
		if err != nil {
			return appended, filledQuantity(appended), nil, &planner.PlannerError{Kind: planner.ErrIngestFailed, Message: err.Error(), Cause: err}
		}
		next := it
		next.RawOrder = nil
		next.OrderID = orderID
		got, err := e.resolveOrderID(ctx, next, taker, residual)
		appended = append(appended, got...)
		return appended, filledQuantity(appended), nil, err

	default:
		return appended, 0, nil, &planner.PlannerError{Kind: planner.ErrUnknownItemShape, Message: "intent has no recognized shape"}
	}
}

// filledQuantity sums the quantities actually committed across the path
// items appended for one intent, used to report true fillable maxima in
// preview mode rather than the caller's requested quantity.
func filledQuantity(items []*planner.PathItem) uint64 {
	var total uint64
	for _, it := range items {
		total += it.Quantity
	}
	return total
}

func (e *Engine) resolveMints(ctx context.Context, it planner.Intent, taker common.Address, residual *uint64) ([]*planner.PathItem, error) {
	var collection common.Address
	var tokenID *string
	switch {
	case it.Collection != nil:
		collection = *it.Collection
	case it.Token != nil:
		collection = it.Token.Contract
		tid := it.Token.TokenID
		tokenID = &tid
	default:
		return nil, &planner.PlannerError{Kind: planner.ErrUnknownItemShape, Message: "mint intent needs collection or token"}
	}

	mints, err := e.reader.OpenMints(ctx, collection, it.PreferredMintStage, tokenID)
	if err != nil {
		return nil, fmt.Errorf("resolver: open mints: %w", err)
	}
	if len(mints) == 0 {
		return nil, &planner.PlannerError{Kind: planner.ErrCollectionNoEligibleMints, Message: "no open mints for collection"}
	}

	var appended []*planner.PathItem
	for _, m := range mints {
		if *residual == 0 {
			break
		}
		mintable, err := e.reader.MintableByWallet(ctx, m, taker)
		if err != nil {
			return appended, fmt.Errorf("resolver: mintable by wallet: %w", err)
		}
		if mintable == 0 {
			continue // allowlist/cap failures are silently skipped (spec.md §4.1)
		}
		want := *residual
		if tokenID != nil && want > 1 {
			want = 1 // token-bound mints clamp to 1
		}
		if want > mintable {
			want = mintable
		}
		item, err := e.mints.AppendMint(ctx, m, taker, want)
		if err != nil {
			return appended, &planner.PlannerError{Kind: planner.ErrMintQuotaExceeded, Message: err.Error(), Cause: err}
		}
		appended = append(appended, item)
		*residual -= want
	}
	return appended, nil
}

func (e *Engine) resolveToken(ctx context.Context, tok planner.TokenRef, it planner.Intent, taker common.Address, residual uint64) ([]*planner.PathItem, error) {
	filter := orderbook.OrderFilter{
		ExactSource: it.ExactOrderSource,
		Exclusions:  it.Exclusions,
		Taker:       taker,
		Limit:       e.cfg.MaxCandidateOrders,
	}
	orders, err := e.reader.OrdersForToken(ctx, tok.Contract, tok.TokenID, filter)
	if err != nil {
		return nil, fmt.Errorf("resolver: orders for token: %w", err)
	}
	if len(orders) == 0 {
		return nil, &planner.PlannerError{Kind: planner.ErrNoFillableOrders, OrderID: "", Message: fmt.Sprintf("no fillable orders for %s:%s", tok.Contract.Hex(), tok.TokenID)}
	}

	var appended []*planner.PathItem
	remaining := residual
	for _, o := range orders {
		if remaining == 0 {
			break
		}
		if o.Maker == taker {
			continue
		}
		take := remaining
		if avail := o.QuantityRemaining; avail < take {
			take = avail
		}
		item, err := e.path.Append(ctx, o, tok.Contract, pathbuilder.Token{Quantity: take, TokenID: &tok.TokenID})
		if err != nil {
			continue // this candidate failed precommit/inventory; try the next cheapest
		}
		appended = append(appended, item)
		remaining -= take
	}
	if remaining > 0 && len(appended) == 0 {
		return appended, &planner.PlannerError{Kind: planner.ErrNoFillableOrders, Message: "all candidates failed"}
	}
	if remaining > 0 {
		return appended, &planner.PlannerError{Kind: planner.ErrQuantityUnavailable, Message: fmt.Sprintf("only %d of %d filled", residual-remaining, residual)}
	}
	return appended, nil
}

func (e *Engine) resolveOrderID(ctx context.Context, it planner.Intent, taker common.Address, residual uint64) ([]*planner.PathItem, error) {
	o, err := e.reader.OrderByID(ctx, it.OrderID)
	if err != nil {
		return nil, &planner.PlannerError{Kind: planner.ErrOrderInactive, OrderID: it.OrderID, Message: err.Error(), Cause: err}
	}
	if !it.AllowInactiveOrderID {
		switch o.FillabilityStatus {
		case planner.Cancelled:
			return nil, &planner.PlannerError{Kind: planner.ErrOrderCancelled, OrderID: it.OrderID, Message: "order cancelled"}
		case planner.Expired:
			return nil, &planner.PlannerError{Kind: planner.ErrOrderExpired, OrderID: it.OrderID, Message: "order expired"}
		case planner.Filled:
			return nil, &planner.PlannerError{Kind: planner.ErrOrderFilled, OrderID: it.OrderID, Message: "order filled"}
		case planner.NoBalance:
			return nil, &planner.PlannerError{Kind: planner.ErrOrderInactive, OrderID: it.OrderID, Message: "maker has no balance"}
		}
	}
	if o.Maker == taker {
		return nil, &planner.PlannerError{Kind: planner.ErrSelfFill, OrderID: it.OrderID, Message: "maker equals taker"}
	}
	take := residual
	if o.QuantityRemaining < take {
		take = o.QuantityRemaining
	}
	if take == 0 {
		return nil, &planner.PlannerError{Kind: planner.ErrQuantityUnavailable, OrderID: it.OrderID, Message: "no remaining quantity"}
	}
	var tokenID *string
	if it.Token != nil {
		tokenID = &it.Token.TokenID
	}
	var contract common.Address
	if it.Token != nil {
		contract = it.Token.Contract
	}
	item, err := e.path.Append(ctx, o, contract, pathbuilder.Token{Quantity: take, TokenID: tokenID})
	if err != nil {
		return nil, err
	}
	var out []*planner.PathItem
	out = append(out, item)
	if take < residual {
		return out, &planner.PlannerError{Kind: planner.ErrQuantityUnavailable, OrderID: it.OrderID, Message: "order could not cover full requested quantity"}
	}
	return out, nil
}
