package fees

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
)

type identityConverter struct{}

func (identityConverter) Convert(_ context.Context, from, to common.Address, amount *big.Int, _ time.Time, _ bool) (*big.Int, error) {
	if from == to {
		return amount, nil
	}
	return amount, nil
}

func TestBuiltInFeeAmounts(t *testing.T) {
	got, err := BuiltInFeeAmounts("10000", []planner.BuiltInFee{{Bps: 250}, {Bps: 100}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"250", "100"}
	for i, w := range want {
		if got[i].String() != w {
			t.Errorf("fee %d: got %s, want %s", i, got[i], w)
		}
	}
}

func TestApplyGlobalFeesEvenSplitAcrossEligible(t *testing.T) {
	currency := common.HexToAddress("0xUSDC")
	orders := map[string]*planner.Order{
		"a": {OrderID: "a", Kind: planner.KindSeaport, Currency: currency},
		"b": {OrderID: "b", Kind: planner.KindSeaport, Currency: currency},
		"c": {OrderID: "c", Kind: planner.KindSeaport, Currency: currency},
	}
	path := []planner.PathItem{
		{OrderID: "a", Currency: currency, Quantity: 1, RawQuote: "10000", TotalRawPrice: "10000"},
		{OrderID: "b", Currency: currency, Quantity: 1, RawQuote: "10000", TotalRawPrice: "10000"},
		{OrderID: "c", Currency: currency, Quantity: 1, RawQuote: "10000", TotalRawPrice: "10000"},
	}
	globals := []GlobalFeeSpec{{Recipient: common.HexToAddress("0xFEE"), RawAmount: big.NewInt(300)}}

	if err := ApplyGlobalFees(context.Background(), path, orders, globals, currency, identityConverter{}, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var total int64
	for _, p := range path {
		if len(p.FeesOnTop) != 1 {
			t.Fatalf("expected 1 fee on top, got %d", len(p.FeesOnTop))
		}
		amt, _ := new(big.Int).SetString(p.FeesOnTop[0].RawAmount, 10)
		total += amt.Int64()
		if amt.Int64() != 100 {
			t.Errorf("got fee %s, want 100", p.FeesOnTop[0].RawAmount)
		}
	}
	if total != 300 {
		t.Fatalf("total collected = %d, want 300", total)
	}
}

func TestBlurExcludesOpenseaERC721FromGlobalFees(t *testing.T) {
	currency := common.HexToAddress("0xUSDC")
	orders := map[string]*planner.Order{
		"blur":      {OrderID: "blur", Kind: planner.KindBlur, Currency: currency},
		"opensea":   {OrderID: "opensea", Kind: planner.KindSeaport, Currency: currency, IsOpenseaERC721: true},
		"looksrare": {OrderID: "looksrare", Kind: planner.KindLooksRare, Currency: currency},
	}
	path := []planner.PathItem{
		{OrderID: "blur", Currency: currency, Quantity: 1, RawQuote: "10000", TotalRawPrice: "10000"},
		{OrderID: "opensea", Currency: currency, Quantity: 1, RawQuote: "10000", TotalRawPrice: "10000"},
		{OrderID: "looksrare", Currency: currency, Quantity: 1, RawQuote: "10000", TotalRawPrice: "10000"},
	}
	globals := []GlobalFeeSpec{{Recipient: common.HexToAddress("0xFEE"), RawAmount: big.NewInt(300)}}

	if err := ApplyGlobalFees(context.Background(), path, orders, globals, currency, identityConverter{}, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(path[0].FeesOnTop) != 0 {
		t.Error("blur item must not bear a global fee")
	}
	if len(path[1].FeesOnTop) != 0 {
		t.Error("opensea-erc721 item must be excluded when blur is present in the cart")
	}
	if len(path[2].FeesOnTop) != 1 {
		t.Fatal("looksrare item must bear the entire global fee")
	}
	amt, _ := new(big.Int).SetString(path[2].FeesOnTop[0].RawAmount, 10)
	if amt.Int64() != 300 {
		t.Errorf("got %s, want 300 (sole eligible item absorbs full fee)", amt)
	}
}

func TestSelectBuyInCurrency(t *testing.T) {
	native := common.HexToAddress("0x0")
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	if got := SelectBuyInCurrency(&usdc, nil, native); got != usdc {
		t.Errorf("explicit request should win, got %s", got.Hex())
	}

	samePath := []planner.PathItem{{Currency: usdc}, {Currency: usdc}}
	if got := SelectBuyInCurrency(nil, samePath, native); got != usdc {
		t.Errorf("shared currency should be used, got %s", got.Hex())
	}

	mixedPath := []planner.PathItem{{Currency: usdc}, {Currency: weth}}
	if got := SelectBuyInCurrency(nil, mixedPath, native); got != native {
		t.Errorf("mixed currencies should fall back to native, got %s", got.Hex())
	}
}
