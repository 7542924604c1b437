// Package facade wires components C1-C9 into the single entry point a
// transport handler calls: Plan(ctx, Request) (*ExecutionPlan, error).
// Grounded on the teacher's core.go facade package, which re-exports and
// wires together account/market/orderbook into one surface for
// pkg/api/server.go to call.
package facade

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/params"
	"github.com/nftrouter/planner-core/pkg/planner"
	"github.com/nftrouter/planner-core/pkg/planner/authcache"
	"github.com/nftrouter/planner-core/pkg/planner/fees"
	"github.com/nftrouter/planner-core/pkg/planner/oracle"
	"github.com/nftrouter/planner-core/pkg/planner/orderbook"
	"github.com/nftrouter/planner-core/pkg/planner/pathbuilder"
	"github.com/nftrouter/planner-core/pkg/planner/poolcurve"
	"github.com/nftrouter/planner-core/pkg/planner/resolver"
	"github.com/nftrouter/planner-core/pkg/planner/router"
	"github.com/nftrouter/planner-core/pkg/planner/sequencer"
	"github.com/nftrouter/planner-core/pkg/util"
)

// BalanceReader resolves a taker's on-chain balance of the buy-in
// currency for the final balance check, separate from orderbook.Reader
// since it reads the taker's wallet, not a maker's inventory.
type BalanceReader interface {
	WalletBalance(ctx context.Context, wallet, currency common.Address) (*big.Int, error)
}

// SanctionsList screens a taker address before any resolution begins
// (spec.md §6/§7: HTTP 401 for a taker on the OFAC sanctions list). The
// core refuses to plan for a blocked taker even when invoked as a
// library, so the check lives here rather than only at the HTTP edge.
type SanctionsList interface {
	IsBlocked(addr common.Address) bool
}

// InMemorySanctionsList is a fixed blocklist loaded once at startup; a
// real deployment would swap in a client for a live OFAC feed behind the
// same interface.
type InMemorySanctionsList struct {
	blocked map[common.Address]bool
}

// NewInMemorySanctionsList builds a SanctionsList from a fixed address set.
func NewInMemorySanctionsList(addrs ...common.Address) *InMemorySanctionsList {
	blocked := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		blocked[a] = true
	}
	return &InMemorySanctionsList{blocked: blocked}
}

func (l *InMemorySanctionsList) IsBlocked(addr common.Address) bool {
	return l.blocked[addr]
}

// Planner wires every component into the single Plan entry point.
type Planner struct {
	Reader      orderbook.Reader
	Registry    *router.Registry
	Store       *authcache.Store
	Oracle      *oracle.Oracle
	Wallets     BalanceReader
	Clock       util.Clock
	Cfg         params.Planner
	NativeToken common.Address
	Sanctions   SanctionsList
}

// precommitAdapter satisfies pathbuilder.Precommitter by checking that a
// filler exists for the order's protocol; the real calldata build
// happens later, in bulk, via router.Registry.Drive.
type precommitAdapter struct{ registry *router.Registry }

func (p precommitAdapter) PreCommit(_ context.Context, order *planner.Order) error {
	if _, ok := p.registry.Get(order.Kind); !ok {
		return fmt.Errorf("facade: no filler registered for %s", order.Kind)
	}
	return nil
}

// mintAdapter satisfies resolver.MintAppender: it drives the mint
// through the router's MintFiller immediately (build + simulate), then
// appends the resulting priced item straight onto the path builder,
// since a resolved mint needs none of pathbuilder.Append's pool/maker
// bookkeeping.
type mintAdapter struct {
	registry *router.Registry
	path     *pathbuilder.Builder
	opts     router.FillOptions
	bundles  map[string]router.CallBundle
}

func (m mintAdapter) AppendMint(ctx context.Context, mint *planner.Mint, wallet common.Address, quantity uint64) (*planner.PathItem, error) {
	filler := m.registry.MintFillerOrNil()
	if filler == nil {
		return nil, fmt.Errorf("facade: no mint filler registered")
	}
	detail := router.MintDetail{Mint: mint, Quantity: quantity}
	opts := m.opts
	opts.Taker = wallet
	bundle, err := filler.BuildMint(ctx, detail, opts)
	if err != nil {
		return nil, fmt.Errorf("facade: build mint: %w", err)
	}
	ok, carriesApproval, err := filler.SimulateMint(ctx, detail, bundle, wallet)
	if err != nil {
		return nil, fmt.Errorf("facade: simulate mint: %w", err)
	}
	if !ok || carriesApproval {
		// spec.md §4.7 step 3: a Transfer that doesn't land with the taker,
		// or a mint that carries an ERC-20 approval, forces a re-run
		// directly against the mint contract instead of the router.
		opts.ForceDirectFilling = true
		bundle, err = filler.BuildMint(ctx, detail, opts)
		if err != nil {
			return nil, fmt.Errorf("facade: build mint (direct): %w", err)
		}
		ok, _, err = filler.SimulateMint(ctx, detail, bundle, wallet)
		if err != nil {
			return nil, fmt.Errorf("facade: simulate mint (direct): %w", err)
		}
	}
	if !ok {
		return nil, &planner.PlannerError{Kind: planner.ErrMintSimulationFailed, Message: "mint simulation did not confirm delivery to taker"}
	}

	price, okPrice := new(big.Int).SetString(mint.Price, 10)
	if !okPrice {
		price = big.NewInt(0)
	}
	rawQuote := new(big.Int).Mul(price, big.NewInt(int64(quantity)))

	item := planner.PathItem{
		OrderID:       fmt.Sprintf("mint:%s:%d", mint.Contract.Hex(), quantity),
		Contract:      mint.Contract,
		TokenID:       mint.TokenID,
		Quantity:      quantity,
		Source:        planner.KindMint,
		Currency:      mint.Currency,
		Quote:         mint.Price,
		RawQuote:      rawQuote.String(),
		TotalPrice:    mint.Price,
		TotalRawPrice: rawQuote.String(),
	}
	m.path.AppendPrebuilt(item)
	if m.bundles != nil {
		m.bundles[item.OrderID] = bundle
	}
	return &item, nil
}

// Plan runs the full cart-to-execution-plan pipeline, bounding the
// whole call at Cfg.RequestDeadline (spec.md §5).
func (p *Planner) Plan(ctx context.Context, req planner.Request) (*planner.ExecutionPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Cfg.RequestDeadline)
	defer cancel()

	if p.Sanctions != nil && p.Sanctions.IsBlocked(req.Taker) {
		return nil, &planner.PlannerError{Kind: planner.ErrSanctioned, Message: "taker is on the sanctions list"}
	}

	at := req.At
	if at.IsZero() {
		at = p.Clock.Now()
	}

	pools := poolcurve.New()
	pb := pathbuilder.New(pools, p.Reader, precommitAdapter{p.Registry}, req.NormalizeRoyalties)

	fillOpts := router.FillOptions{
		Taker:                req.Taker,
		Relayer:              req.Relayer,
		ConduitKey:           req.ConduitKey,
		MaxFeePerGas:         req.MaxFeePerGas,
		MaxPriorityFeePerGas: req.MaxPriorityFeePerGas,
		SwapProvider:         req.SwapProvider,
		ProtocolAPIKeys:      req.ProtocolAPIKeys,
	}
	mintBundles := make(map[string]router.CallBundle)
	mints := mintAdapter{registry: p.Registry, path: pb, opts: fillOpts, bundles: mintBundles}

	eng := resolver.New(p.Reader, pb, mints, resolver.Config{
		CollectionRedundancyFactor: p.Cfg.CollectionRedundancyFactor,
		MaxCandidateOrders:         p.Cfg.MaxCandidateOrders,
		PreviewDefaultQuantity:     p.Cfg.PreviewDefaultQuantity,
	})

	preview := req.OnlyPath && req.Partial && allItemsLackQuantity(req.Items)
	outcome, err := eng.Resolve(ctx, req.Items, req.Taker, req.Partial, preview)
	if err != nil {
		return nil, err
	}

	path := pb.Path()
	orders, err := p.loadOrders(ctx, path)
	if err != nil {
		return nil, err
	}

	buyIn := fees.SelectBuyInCurrency(req.Currency, path, p.NativeToken)

	globals, err := fees.ParseGlobalFees(req.FeesOnTop)
	if err != nil {
		return nil, &planner.PlannerError{Kind: planner.ErrUnknownItemShape, Message: err.Error(), Cause: err}
	}
	if err := fees.ApplyGlobalFees(ctx, path, orders, globals, buyIn, p.Oracle, at); err != nil {
		return nil, err
	}

	plan := &planner.ExecutionPlan{
		Errors:        outcome.Errors,
		Path:          path,
		MaxQuantities: outcome.MaxQuantities,
	}

	if req.OnlyPath {
		return plan, nil
	}

	listings := buildListings(path, orders)
	driveRes, err := p.Registry.Drive(ctx, listings, fillOpts, req.Partial)
	if err != nil {
		return nil, err
	}
	plan.Errors = append(plan.Errors, driveRes.Errors...)

	// Mint bundles were already built and simulated during resolution
	// (mintAdapter.AppendMint), not by Drive (which only sees non-mint
	// listings); merge them in so mint path items survive the
	// success-filter and take part in the balance check and sale step.
	success := driveRes.Success
	for id, b := range mintBundles {
		success[id] = b
	}

	plan.Path = router.FilterPathToSuccess(path, success)

	skipBalanceCheck := req.SkipBalanceCheck && !fees.CartHasBlur(orders, plan.Path)
	nativeBuyIn := buyIn == p.NativeToken
	if !req.SkipBalanceCheck || fees.CartHasBlur(orders, plan.Path) {
		balance, err := p.Wallets.WalletBalance(ctx, req.Taker, buyIn)
		if err != nil {
			return nil, fmt.Errorf("facade: wallet balance: %w", err)
		}
		if err := router.CheckBalance(nativeBuyIn, success, balance, skipBalanceCheck); err != nil {
			return nil, err
		}
	}

	steps, err := p.assembleSteps(req, plan.Path, orders, success, buyIn, nativeBuyIn, at)
	if err != nil {
		return nil, err
	}
	plan.Steps = steps

	return plan, nil
}

func allItemsLackQuantity(items []planner.Intent) bool {
	for _, it := range items {
		if it.Quantity != 0 {
			return false
		}
	}
	return true
}

func (p *Planner) loadOrders(ctx context.Context, path []planner.PathItem) (map[string]*planner.Order, error) {
	out := make(map[string]*planner.Order, len(path))
	for _, item := range path {
		if item.Source == planner.KindMint {
			continue
		}
		if _, ok := out[item.OrderID]; ok {
			continue
		}
		o, err := p.Reader.OrderByID(ctx, item.OrderID)
		if err != nil {
			return nil, fmt.Errorf("facade: load order %s: %w", item.OrderID, err)
		}
		out[item.OrderID] = o
	}
	return out, nil
}

func buildListings(path []planner.PathItem, orders map[string]*planner.Order) []router.ListingDetail {
	var out []router.ListingDetail
	for _, item := range path {
		if item.Source == planner.KindMint {
			continue
		}
		o, ok := orders[item.OrderID]
		if !ok {
			continue
		}
		out = append(out, router.ListingDetail{
			OrderID:  item.OrderID,
			Kind:     item.Source,
			Contract: item.Contract,
			TokenID:  item.TokenID,
			Quantity: item.Quantity,
			Currency: item.Currency,
			RawQuote: item.RawQuote,
			RawData:  o.RawData,
			Fees:     item.FeesOnTop,
		})
	}
	return out
}

// assembleSteps builds the seven candidate steps and hands them to the
// sequencer. AuthTransaction (ERC-721C verification-on-chain) is never
// populated: detecting when a collection requires it needs per-contract
// verification-status metadata this exercise's order index does not
// model, so that candidate is always absent (documented in DESIGN.md).
func (p *Planner) assembleSteps(req planner.Request, path []planner.PathItem, orders map[string]*planner.Order, success map[string]router.CallBundle, buyIn common.Address, nativeBuyIn bool, at time.Time) ([]planner.Step, error) {
	cartHasBlur := fees.CartHasBlur(orders, path)

	authCand, err := p.buildAuthCandidate(cartHasBlur, req.Taker, at)
	if err != nil {
		return nil, fmt.Errorf("facade: auth candidate: %w", err)
	}

	approvalItems, approvalTotal := collectApprovals(success)
	approvalCand := sequencer.Candidate{
		Present: !nativeBuyIn && len(approvalItems) > 0,
		Kind:    planner.StepTransaction,
		Items:   approvalItems,
	}

	permitCand, err := p.buildPermitCandidate(req, buyIn, approvalTotal, at)
	if err != nil {
		return nil, fmt.Errorf("facade: permit candidate: %w", err)
	}

	presigCand, err := p.buildPreSignatureCandidate(req, success, at)
	if err != nil {
		return nil, fmt.Errorf("facade: pre-signature candidate: %w", err)
	}

	saleCand := sequencer.Candidate{
		Present: len(path) > 0,
		Kind:    planner.StepTransaction,
		Items:   buildSaleItems(path, success),
	}

	swapCand := sequencer.Candidate{Present: needsSwap(path, buyIn)}
	if swapCand.Present {
		swapCand.Kind = planner.StepTransaction
		swapCand.Items = []planner.StepItem{{Status: planner.StatusIncomplete, Tx: &planner.TxData{}}}
	}

	in := sequencer.Input{
		Auth:                       authCand,
		CurrencyApproval:           approvalCand,
		CurrencyPermit:             permitCand,
		PreSignature:               presigCand,
		AuthTransaction:            sequencer.Candidate{Present: false},
		Swap:                       swapCand,
		Sale:                       saleCand,
		BuyInIsNative:              nativeBuyIn,
		ERC721CVerificationPending: false,
		UsePermit:                  req.UsePermit,
	}
	// earlyReturn flags that an incomplete auth step gates everything
	// after it; ExecutionPlan has nothing beyond Steps/Path/Errors/Fees
	// that depends on later step completion, so there is nothing further
	// to suppress here.
	steps, _ := sequencer.Assemble(in)
	return steps, nil
}

// buildAuthCandidate surfaces a Blur sign-in challenge when the
// cart contains any Blur listing (spec.md §4.5); no other marketplace
// modeled here requires an auth challenge.
func (p *Planner) buildAuthCandidate(needed bool, taker common.Address, at time.Time) (sequencer.Candidate, error) {
	if !needed {
		return sequencer.Candidate{Present: false}, nil
	}
	key := authcache.AuthChallengeKey("blur", taker.Hex())
	challenge, err := p.Store.GetOrInitAuthChallenge(key, at, func() authcache.AuthChallenge {
		raw, _ := util.ContentID(map[string]string{"marketplace": "blur", "taker": taker.Hex()}, "auth-challenge", at.String())
		return authcache.AuthChallenge{
			Marketplace: "blur",
			Taker:       taker.Hex(),
			Challenge:   raw,
			ExpiresAt:   at.Add(10 * time.Minute),
		}
	})
	if err != nil {
		return sequencer.Candidate{}, err
	}
	status := planner.StatusIncomplete
	if challenge.Complete() {
		status = planner.StatusComplete
	}
	return sequencer.Candidate{
		Present: true,
		Kind:    planner.StepSignature,
		Items: []planner.StepItem{{
			Status: status,
			Signature: &planner.SignaturePayload{
				SignatureKind: "eip191",
				Message:       challenge.Challenge,
				PostEndpoint:  "/execute/auth-signature/v1",
				PostMethod:    "POST",
				PostBody:      map[string]any{"key": key, "marketplace": "blur", "taker": taker.Hex()},
			},
		}},
	}, nil
}

// collectApprovals gathers every ERC-20 approval transaction any filler
// produced and the total amount across them, used as the permit amount
// when UsePermit is requested instead.
func collectApprovals(success map[string]router.CallBundle) ([]planner.StepItem, *big.Int) {
	total := new(big.Int)
	var items []planner.StepItem
	for orderID, bundle := range success {
		for i := range bundle.Approvals {
			tx := bundle.Approvals[i]
			if v, ok := new(big.Int).SetString(tx.Value, 10); ok {
				total.Add(total, v)
			}
			items = append(items, planner.StepItem{
				Status:   planner.StatusIncomplete,
				OrderIDs: []string{orderID},
				Tx:       &tx,
			})
		}
	}
	return items, total
}

func (p *Planner) buildPermitCandidate(req planner.Request, buyIn common.Address, amount *big.Int, at time.Time) (sequencer.Candidate, error) {
	if !req.UsePermit || amount == nil || amount.Sign() == 0 {
		return sequencer.Candidate{Present: false}, nil
	}
	id, err := authcache.PermitID(req, buyIn.Hex(), amount.String())
	if err != nil {
		return sequencer.Candidate{}, err
	}
	deadline := at.Add(30 * time.Minute).Unix()
	permit, err := p.Store.GetOrInitPermit(id, func() authcache.Permit {
		return authcache.Permit{
			Token:    buyIn.Hex(),
			Amount:   amount.String(),
			Owner:    req.Taker.Hex(),
			Spender:  req.Taker.Hex(),
			Deadline: fmt.Sprintf("%d", deadline),
		}
	})
	if err != nil {
		return sequencer.Candidate{}, err
	}
	status := planner.StatusIncomplete
	if permit.Complete() {
		status = planner.StatusComplete
	}
	return sequencer.Candidate{
		Present: true,
		Kind:    planner.StepSignature,
		Items: []planner.StepItem{{
			Status: status,
			Signature: &planner.SignaturePayload{
				SignatureKind: "eip712",
				PostEndpoint:  "/execute/permit-signature/v1",
				PostMethod:    "POST",
				PostBody:      map[string]any{"id": permit.ID},
			},
		}},
	}, nil
}

func (p *Planner) buildPreSignatureCandidate(req planner.Request, success map[string]router.CallBundle, at time.Time) (sequencer.Candidate, error) {
	var items []planner.StepItem
	for orderID, bundle := range success {
		for _, ref := range bundle.PreSignatures {
			id, err := authcache.PreSignatureID(req, ref.UniqueID)
			if err != nil {
				return sequencer.Candidate{}, err
			}
			presig, err := p.Store.GetOrInitPreSignature(id, func() authcache.PreSignature {
				return authcache.PreSignature{UniqueID: ref.UniqueID, OrderID: ref.OrderID}
			})
			if err != nil {
				return sequencer.Candidate{}, err
			}
			status := planner.StatusIncomplete
			if presig.Complete() {
				status = planner.StatusComplete
			}
			items = append(items, planner.StepItem{
				Status:   status,
				OrderIDs: []string{orderID},
				Signature: &planner.SignaturePayload{
					SignatureKind: "eip712",
					PostEndpoint:  "/execute/pre-signature/v1",
					PostMethod:    "POST",
					PostBody:      map[string]any{"id": presig.ID},
				},
			})
		}
	}
	return sequencer.Candidate{
		Present: len(items) > 0,
		Kind:    planner.StepSignature,
		Items:   items,
	}, nil
}

func buildSaleItems(path []planner.PathItem, success map[string]router.CallBundle) []planner.StepItem {
	items := make([]planner.StepItem, 0, len(path))
	for _, item := range path {
		bundle, ok := success[item.OrderID]
		if !ok {
			continue
		}
		tx := bundle.TxData
		items = append(items, planner.StepItem{
			Status:   planner.StatusIncomplete,
			OrderIDs: []string{item.OrderID},
			Tx:       &tx,
		})
	}
	return items
}

// needsSwap reports whether any path item is priced in a currency other
// than the selected buy-in currency, meaning a swap leg must run before
// the sale transactions (spec.md §4.7's swap step). No swap-provider
// client is wired anywhere; the swap leg is represented as a placeholder
// transaction the sequencer schedules ahead of Sale.
func needsSwap(path []planner.PathItem, buyIn common.Address) bool {
	for _, item := range path {
		if item.Currency != buyIn {
			return true
		}
	}
	return false
}
