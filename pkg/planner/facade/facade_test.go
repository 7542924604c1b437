package facade

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/params"
	"github.com/nftrouter/planner-core/pkg/planner"
	"github.com/nftrouter/planner-core/pkg/planner/authcache"
	"github.com/nftrouter/planner-core/pkg/planner/oracle"
	"github.com/nftrouter/planner-core/pkg/planner/orderbook"
	"github.com/nftrouter/planner-core/pkg/planner/router"
	"github.com/nftrouter/planner-core/pkg/util"
)

type fakeWallets struct{ balance *big.Int }

func (f fakeWallets) WalletBalance(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return f.balance, nil
}

type fakeFeed struct{}

func (fakeFeed) Quote(_ context.Context, _ common.Address) (oracle.Quote, error) {
	return oracle.Quote{}, nil
}

func newTestPlanner(t *testing.T, reader orderbook.Reader, reg *router.Registry, native common.Address, balance *big.Int) *Planner {
	t.Helper()
	store, err := authcache.Open(filepath.Join(t.TempDir(), "authcache.db"))
	if err != nil {
		t.Fatalf("open authcache store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &Planner{
		Reader:   reader,
		Registry: reg,
		Store:    store,
		Oracle:   oracle.New(util.RealClock{}, fakeFeed{}, time.Hour),
		Wallets:  fakeWallets{balance: balance},
		Clock:    util.RealClock{},
		Cfg: params.Planner{
			RequestDeadline:            5 * time.Second,
			CollectionRedundancyFactor: 10,
			MaxCandidateOrders:         20,
			PreviewDefaultQuantity:     30,
		},
		NativeToken: native,
	}
}

func TestPlanFillsSingleTokenIntentAndAssemblesSaleStep(t *testing.T) {
	reader := orderbook.NewFake()
	contract := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xBUYER")
	maker := common.HexToAddress("0xMAKER")
	native := common.HexToAddress("0xETH")
	routerAddr := common.HexToAddress("0xROUTER")

	reader.AddOrder(contract, "1", &planner.Order{
		OrderID: "o1", Kind: planner.KindSeaport, Maker: maker,
		Currency: native, QuantityRemaining: 1, Price: "1000",
		FillabilityStatus: planner.Fillable, ApprovalStatus: planner.Approved,
		RawData: []byte{0x1},
	})
	reader.MakerBalances[maker.Hex()+":"+contract.Hex()+":1"] = 1

	reg := router.NewRegistry()
	reg.Register(router.NewSeaportFiller(routerAddr))

	p := newTestPlanner(t, reader, reg, native, big.NewInt(1_000_000))

	req := planner.Request{
		Items: []planner.Intent{{
			Token:    &planner.TokenRef{Contract: contract, TokenID: "1"},
			Quantity: 1,
			FillType: planner.FillTrade,
		}},
		Taker: taker,
	}

	plan, err := p.Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Path) != 1 {
		t.Fatalf("expected 1 path item, got %d", len(plan.Path))
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Action != planner.ActionSale {
		t.Fatalf("expected a single sale step, got %+v", plan.Steps)
	}
	items := plan.Steps[0].Items
	if len(items) != 1 || items[0].Tx == nil {
		t.Fatalf("expected sale step to carry its transaction, got %+v", items)
	}
	if items[0].Tx.Value != "1000" {
		t.Errorf("expected tx value 1000, got %s", items[0].Tx.Value)
	}
}

func TestPlanOnlyPathSkipsRoutingAndSteps(t *testing.T) {
	reader := orderbook.NewFake()
	contract := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xBUYER")
	maker := common.HexToAddress("0xMAKER")
	native := common.HexToAddress("0xETH")

	reader.AddOrder(contract, "1", &planner.Order{
		OrderID: "o1", Kind: planner.KindSeaport, Maker: maker,
		Currency: native, QuantityRemaining: 1, Price: "1000",
		FillabilityStatus: planner.Fillable, ApprovalStatus: planner.Approved,
	})
	reader.MakerBalances[maker.Hex()+":"+contract.Hex()+":1"] = 1

	// The order carries no RawData, so Drive's calldata build would fail
	// for it: OnlyPath must return before Drive, so the plan still
	// succeeds. A filler is registered because path building's pre-commit
	// only checks that one exists for the order's kind.
	reg := router.NewRegistry()
	reg.Register(router.NewSeaportFiller(common.HexToAddress("0xROUTER")))
	p := newTestPlanner(t, reader, reg, native, big.NewInt(0))

	req := planner.Request{
		Items: []planner.Intent{{
			Token:    &planner.TokenRef{Contract: contract, TokenID: "1"},
			Quantity: 1,
			FillType: planner.FillTrade,
		}},
		Taker:    taker,
		OnlyPath: true,
	}

	plan, err := p.Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Path) != 1 {
		t.Fatalf("expected 1 path item, got %d", len(plan.Path))
	}
	if plan.Steps != nil {
		t.Fatalf("expected no steps when only_path is set, got %+v", plan.Steps)
	}
}

func TestPlanMintIntentBundleSurvivesToSaleStep(t *testing.T) {
	reader := orderbook.NewFake()
	collection := common.HexToAddress("0xCOLLECTION")
	taker := common.HexToAddress("0xBUYER")
	native := common.HexToAddress("0xETH")
	routerAddr := common.HexToAddress("0xMINTROUTER")

	reader.Mints[collection] = []*planner.Mint{
		{Collection: collection, Contract: collection, Currency: native, Price: "500", Stage: "public"},
	}

	reg := router.NewRegistry()
	reg.RegisterMintFiller(router.NewMintStageFiller(routerAddr))

	p := newTestPlanner(t, reader, reg, native, big.NewInt(10_000))

	req := planner.Request{
		Items: []planner.Intent{{
			Collection: &collection,
			Quantity:   2,
			FillType:   planner.FillMint,
		}},
		Taker: taker,
	}

	plan, err := p.Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Path) != 1 || plan.Path[0].Source != planner.KindMint {
		t.Fatalf("expected the mint item to survive to the final path, got %+v", plan.Path)
	}

	var sale *planner.Step
	for i := range plan.Steps {
		if plan.Steps[i].Action == planner.ActionSale {
			sale = &plan.Steps[i]
		}
	}
	if sale == nil {
		t.Fatal("expected a sale step")
	}
	if len(sale.Items) != 1 || sale.Items[0].Tx == nil {
		t.Fatalf("expected the mint's built transaction to reach the sale step, got %+v", sale.Items)
	}
	if sale.Items[0].Tx.Value != "1000" {
		t.Errorf("expected mint total 500*2=1000, got %s", sale.Items[0].Tx.Value)
	}
}

func TestPlanBlurCartGatesSaleBehindAuthSignature(t *testing.T) {
	reader := orderbook.NewFake()
	contract := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xBUYER")
	maker := common.HexToAddress("0xMAKER")
	native := common.HexToAddress("0xETH")
	routerAddr := common.HexToAddress("0xROUTER")

	reader.AddOrder(contract, "1", &planner.Order{
		OrderID: "o1", Kind: planner.KindBlur, Maker: maker,
		Currency: native, QuantityRemaining: 1, Price: "1000",
		FillabilityStatus: planner.Fillable, ApprovalStatus: planner.Approved,
		RawData: []byte{0x1},
	})
	reader.MakerBalances[maker.Hex()+":"+contract.Hex()+":1"] = 1

	reg := router.NewRegistry()
	reg.Register(router.NewBlurFiller(routerAddr))

	p := newTestPlanner(t, reader, reg, native, big.NewInt(1_000_000))

	req := planner.Request{
		Items: []planner.Intent{{
			Token:    &planner.TokenRef{Contract: contract, TokenID: "1"},
			Quantity: 1,
			FillType: planner.FillTrade,
		}},
		Taker: taker,
	}

	plan, err := p.Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Steps) == 0 || plan.Steps[0].Action != planner.ActionAuth {
		t.Fatalf("expected auth to be the first step, got %+v", plan.Steps)
	}
	if plan.Steps[0].Items[0].Signature == nil {
		t.Fatal("expected the auth step to carry a signature payload")
	}

	var sale *planner.Step
	for i := range plan.Steps {
		if plan.Steps[i].Action == planner.ActionSale {
			sale = &plan.Steps[i]
		}
	}
	if sale == nil {
		t.Fatal("expected a sale step")
	}
	if sale.Items[0].Tx != nil {
		t.Fatal("expected the sale step's transaction to be withheld behind the incomplete auth signature")
	}
	if len(sale.Items[0].OrderIDs) != 1 || sale.Items[0].OrderIDs[0] != "o1" {
		t.Fatalf("expected withheld sale item to still carry its order id, got %+v", sale.Items[0])
	}
}
