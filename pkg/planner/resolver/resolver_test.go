package resolver

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
	"github.com/nftrouter/planner-core/pkg/planner/orderbook"
	"github.com/nftrouter/planner-core/pkg/planner/pathbuilder"
	"github.com/nftrouter/planner-core/pkg/planner/poolcurve"
)

type noopPrecommit struct{}

func (noopPrecommit) PreCommit(_ context.Context, _ *planner.Order) error { return nil }

type fakeMints struct {
	appended []*planner.PathItem
	fail     bool
}

func (f *fakeMints) AppendMint(_ context.Context, m *planner.Mint, _ common.Address, quantity uint64) (*planner.PathItem, error) {
	if f.fail {
		return nil, errFakeMint
	}
	item := &planner.PathItem{
		OrderID:  "mint:" + m.Collection.Hex(),
		Contract: m.Contract,
		Quantity: quantity,
		Source:   planner.KindMint,
		Currency: m.Currency,
		Quote:    m.Price,
	}
	f.appended = append(f.appended, item)
	return item, nil
}

type errFake struct{ msg string }

func (e *errFake) Error() string { return e.msg }

var errFakeMint = &errFake{"mint build failed"}

func newFake() *orderbook.Fake {
	return orderbook.NewFake()
}

func TestResolveTokenIntentFillsFromCheapestOrder(t *testing.T) {
	reader := newFake()
	contract := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xBUYER")
	maker := common.HexToAddress("0xMAKER")

	reader.AddOrder(contract, "1", &planner.Order{
		OrderID: "o1", Kind: planner.KindSeaport, Maker: maker,
		Currency: common.HexToAddress("0xWETH"), QuantityRemaining: 1,
		Price: "1000", FillabilityStatus: planner.Fillable, ApprovalStatus: planner.Approved,
	})
	reader.MakerBalances[maker.Hex()+":"+contract.Hex()+":1"] = 1

	pb := pathbuilder.New(poolcurve.New(), reader, noopPrecommit{}, false)
	eng := New(reader, pb, &fakeMints{}, Config{CollectionRedundancyFactor: 10, MaxCandidateOrders: 20, PreviewDefaultQuantity: 30})

	cart := []planner.Intent{{
		Token:    &planner.TokenRef{Contract: contract, TokenID: "1"},
		Quantity: 1,
		FillType: planner.FillTrade,
	}}

	out, err := eng.Resolve(context.Background(), cart, taker, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Errors) != 0 {
		t.Fatalf("expected no errors, got %+v", out.Errors)
	}
	if len(pb.Path()) != 1 {
		t.Fatalf("expected 1 path item, got %d", len(pb.Path()))
	}
}

func TestResolveTokenIntentExcludesSelfFill(t *testing.T) {
	reader := newFake()
	contract := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xBUYER")

	reader.AddOrder(contract, "1", &planner.Order{
		OrderID: "o1", Kind: planner.KindSeaport, Maker: taker,
		Currency: common.HexToAddress("0xWETH"), QuantityRemaining: 1,
		Price: "1000", FillabilityStatus: planner.Fillable, ApprovalStatus: planner.Approved,
	})

	pb := pathbuilder.New(poolcurve.New(), reader, noopPrecommit{}, false)
	eng := New(reader, pb, &fakeMints{}, Config{CollectionRedundancyFactor: 10, MaxCandidateOrders: 20, PreviewDefaultQuantity: 30})

	cart := []planner.Intent{{
		Token:    &planner.TokenRef{Contract: contract, TokenID: "1"},
		Quantity: 1,
		FillType: planner.FillTrade,
	}}

	out, err := eng.Resolve(context.Background(), cart, taker, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Errors) != 1 {
		t.Fatalf("expected one no-fillable-orders error, got %+v", out.Errors)
	}
	if out.Errors[0].Kind != string(planner.ErrNoFillableOrders) {
		t.Errorf("got error kind %s, want %s", out.Errors[0].Kind, planner.ErrNoFillableOrders)
	}
}

func TestResolveCollectionIntentExpandsFIFO(t *testing.T) {
	reader := newFake()
	collection := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xBUYER")
	maker := common.HexToAddress("0xMAKER")

	reader.Collections[collection] = []string{"1", "2", "3"}
	for _, tok := range []string{"1", "2", "3"} {
		reader.AddOrder(collection, tok, &planner.Order{
			OrderID: "o-" + tok, Kind: planner.KindSeaport, Maker: maker,
			Currency: common.HexToAddress("0xWETH"), QuantityRemaining: 1,
			Price: "1000", FillabilityStatus: planner.Fillable, ApprovalStatus: planner.Approved,
		})
		reader.MakerBalances[maker.Hex()+":"+collection.Hex()+":"+tok] = 1
	}

	pb := pathbuilder.New(poolcurve.New(), reader, noopPrecommit{}, false)
	eng := New(reader, pb, &fakeMints{}, Config{CollectionRedundancyFactor: 10, MaxCandidateOrders: 20, PreviewDefaultQuantity: 30})

	cart := []planner.Intent{{
		Collection: &collection,
		Quantity:   2,
		FillType:   planner.FillTrade,
	}}

	out, err := eng.Resolve(context.Background(), cart, taker, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Errors) != 0 {
		t.Fatalf("expected no errors, got %+v", out.Errors)
	}
	if len(pb.Path()) == 0 {
		t.Fatal("expected at least one path item from collection expansion")
	}
}

func TestResolvePreviewModeDefaultsQuantityAndReportsMax(t *testing.T) {
	reader := newFake()
	contract := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xBUYER")
	maker := common.HexToAddress("0xMAKER")

	reader.AddOrder(contract, "1", &planner.Order{
		OrderID: "o1", Kind: planner.KindSeaport, Maker: maker,
		Currency: common.HexToAddress("0xWETH"), QuantityRemaining: 5,
		Price: "1000", FillabilityStatus: planner.Fillable, ApprovalStatus: planner.Approved,
	})
	reader.MakerBalances[maker.Hex()+":"+contract.Hex()+":1"] = 5

	pb := pathbuilder.New(poolcurve.New(), reader, noopPrecommit{}, false)
	eng := New(reader, pb, &fakeMints{}, Config{CollectionRedundancyFactor: 10, MaxCandidateOrders: 20, PreviewDefaultQuantity: 30})

	cart := []planner.Intent{{
		Token:    &planner.TokenRef{Contract: contract, TokenID: "1"},
		Quantity: 0,
		FillType: planner.FillTrade,
	}}

	out, err := eng.Resolve(context.Background(), cart, taker, true, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.MaxQuantities) != 1 {
		t.Fatalf("expected one max_quantity entry, got %d", len(out.MaxQuantities))
	}
	if out.MaxQuantities[0].Max != 5 {
		t.Errorf("expected max quantity reported as 5 (order's quantity_remaining), got %d", out.MaxQuantities[0].Max)
	}
}

func TestResolveMintIntentDecrementsResidualAndSkipsAllowlistFailures(t *testing.T) {
	reader := newFake()
	collection := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xBUYER")

	zeroCap := uint64(0)
	reader.Mints[collection] = []*planner.Mint{
		{Collection: collection, Contract: collection, Currency: common.HexToAddress("0x0"), Price: "0", Stage: "public", Allowlist: true, MaxPerWallet: &zeroCap},
		{Collection: collection, Contract: collection, Currency: common.HexToAddress("0x0"), Price: "0", Stage: "public"},
	}

	pb := pathbuilder.New(poolcurve.New(), reader, noopPrecommit{}, false)
	mints := &fakeMints{}
	eng := New(reader, pb, mints, Config{CollectionRedundancyFactor: 10, MaxCandidateOrders: 20, PreviewDefaultQuantity: 30})

	cart := []planner.Intent{{
		Collection: &collection,
		Quantity:   2,
		FillType:   planner.FillMint,
	}}

	out, err := eng.Resolve(context.Background(), cart, taker, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Errors) != 0 {
		t.Fatalf("expected no errors, got %+v", out.Errors)
	}
	if len(mints.appended) != 1 {
		t.Fatalf("expected exactly one mint appended (allowlist mint skipped), got %d", len(mints.appended))
	}
	if mints.appended[0].Quantity != 2 {
		t.Errorf("expected mint quantity 2, got %d", mints.appended[0].Quantity)
	}
}

func TestResolveCollectionIntentNoEligibleMintsErrors(t *testing.T) {
	reader := newFake()
	collection := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xBUYER")

	pb := pathbuilder.New(poolcurve.New(), reader, noopPrecommit{}, false)
	eng := New(reader, pb, &fakeMints{}, Config{CollectionRedundancyFactor: 10, MaxCandidateOrders: 20, PreviewDefaultQuantity: 30})

	cart := []planner.Intent{{
		Collection: &collection,
		Quantity:   1,
		FillType:   planner.FillMint,
	}}

	out, err := eng.Resolve(context.Background(), cart, taker, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Errors) != 1 || out.Errors[0].Kind != string(planner.ErrCollectionNoEligibleMints) {
		t.Fatalf("expected collection-no-eligible-mints error, got %+v", out.Errors)
	}
}
