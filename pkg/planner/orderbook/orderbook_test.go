package orderbook

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
)

func TestOrdersForTokenSortsCheapestFirst(t *testing.T) {
	f := NewFake()
	contract := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xA11CE")
	maker := common.HexToAddress("0xB0B")

	mk := func(id, price string) *planner.Order {
		return &planner.Order{
			OrderID: id, Kind: planner.KindSeaport, Maker: maker,
			FillabilityStatus: planner.Fillable, ApprovalStatus: planner.Approved,
			Price: price, QuantityRemaining: 1,
		}
	}
	f.AddOrder(contract, "1", mk("expensive", "5000"))
	f.AddOrder(contract, "1", mk("cheap", "1000"))
	f.AddOrder(contract, "1", mk("mid", "2000"))

	got, err := f.OrdersForToken(context.Background(), contract, "1", OrderFilter{Taker: taker})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"cheap", "mid", "expensive"}
	if len(got) != len(want) {
		t.Fatalf("got %d orders, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].OrderID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].OrderID, id)
		}
	}
}

func TestOrdersForTokenExcludesSelfFill(t *testing.T) {
	f := NewFake()
	contract := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xTAKER")

	f.AddOrder(contract, "1", &planner.Order{
		OrderID: "self", Kind: planner.KindSeaport, Maker: taker,
		FillabilityStatus: planner.Fillable, ApprovalStatus: planner.Approved,
		Price: "1000", QuantityRemaining: 1,
	})

	got, err := f.OrdersForToken(context.Background(), contract, "1", OrderFilter{Taker: taker})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected self-fill order to be excluded, got %d results", len(got))
	}
}

func TestOrdersForTokenExcludesNonFillable(t *testing.T) {
	f := NewFake()
	contract := common.HexToAddress("0xC0FFEE")
	taker := common.HexToAddress("0xA11CE")
	maker := common.HexToAddress("0xB0B")

	f.AddOrder(contract, "1", &planner.Order{
		OrderID: "cancelled", Kind: planner.KindSeaport, Maker: maker,
		FillabilityStatus: planner.Cancelled, ApprovalStatus: planner.Approved,
		Price: "1000", QuantityRemaining: 1,
	})

	got, err := f.OrdersForToken(context.Background(), contract, "1", OrderFilter{Taker: taker})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected cancelled order to be excluded, got %d", len(got))
	}
}
