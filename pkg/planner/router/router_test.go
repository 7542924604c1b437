package router

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
)

func TestRegistryDispatchesByKind(t *testing.T) {
	reg := NewRegistry()
	routerAddr := common.HexToAddress("0xROUTER")
	reg.Register(NewSeaportFiller(routerAddr))
	reg.Register(NewBlurFiller(routerAddr))

	if _, ok := reg.Get(planner.KindSeaport); !ok {
		t.Fatal("expected seaport filler registered")
	}
	if _, ok := reg.Get(planner.KindX2Y2); ok {
		t.Fatal("expected no x2y2 filler registered")
	}
}

func TestDriveAggregatesSuccessAndPartialFailure(t *testing.T) {
	reg := NewRegistry()
	routerAddr := common.HexToAddress("0xROUTER")
	reg.Register(NewSeaportFiller(routerAddr))

	listings := []ListingDetail{
		{OrderID: "ok-1", Kind: planner.KindSeaport, RawQuote: "1000", RawData: []byte{0x1}},
		{OrderID: "no-filler", Kind: planner.KindX2Y2, RawQuote: "1000", RawData: []byte{0x1}},
	}
	res, err := reg.Drive(context.Background(), listings, FillOptions{}, true)
	if err != nil {
		t.Fatalf("partial=true must not abort: %v", err)
	}
	if _, ok := res.Success["ok-1"]; !ok {
		t.Fatal("expected ok-1 to succeed")
	}
	if len(res.Errors) != 1 || res.Errors[0].OrderID != "no-filler" {
		t.Fatalf("expected one error for no-filler, got %+v", res.Errors)
	}
}

func TestDriveAbortsOnFirstFailureWhenNotPartial(t *testing.T) {
	reg := NewRegistry()
	listings := []ListingDetail{{OrderID: "x", Kind: planner.KindX2Y2, RawQuote: "1000"}}
	_, err := reg.Drive(context.Background(), listings, FillOptions{}, false)
	if err == nil {
		t.Fatal("expected error when partial=false and no filler is registered")
	}
}

func TestValidateSwapPriceWithinTolerance(t *testing.T) {
	expected := big.NewInt(10000)
	received := big.NewInt(9600) // 4% below
	if err := ValidateSwapPrice(received, expected, 500); err != nil {
		t.Fatalf("expected 4%% deviation to pass a 5%% tolerance: %v", err)
	}
}

func TestValidateSwapPriceOutsideTolerance(t *testing.T) {
	expected := big.NewInt(10000)
	received := big.NewInt(9000) // 10% below
	if err := ValidateSwapPrice(received, expected, 500); err == nil {
		t.Fatal("expected 10% deviation to fail a 5% tolerance")
	}
}

func TestCheckBalanceNativeSumsValues(t *testing.T) {
	bundles := map[string]CallBundle{
		"a": {TxData: planner.TxData{Value: "1000"}},
		"b": {TxData: planner.TxData{Value: "500"}},
	}
	if err := CheckBalance(true, bundles, big.NewInt(1500), false); err != nil {
		t.Fatalf("exact balance should pass: %v", err)
	}
	if err := CheckBalance(true, bundles, big.NewInt(1499), false); err == nil {
		t.Fatal("expected balance-too-low")
	}
}

func TestCheckBalanceSkipped(t *testing.T) {
	bundles := map[string]CallBundle{"a": {TxData: planner.TxData{Value: "1000000"}}}
	if err := CheckBalance(true, bundles, big.NewInt(0), true); err != nil {
		t.Fatalf("skipBalanceCheck=true must bypass the check: %v", err)
	}
}

func TestFilterPathToSuccess(t *testing.T) {
	path := []planner.PathItem{{OrderID: "a"}, {OrderID: "b"}}
	success := map[string]CallBundle{"a": {}}
	got := FilterPathToSuccess(path, success)
	if len(got) != 1 || got[0].OrderID != "a" {
		t.Fatalf("expected only order a to survive, got %+v", got)
	}
}
