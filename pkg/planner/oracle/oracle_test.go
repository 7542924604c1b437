package oracle

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/util"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                         { return c.now }
func (c fixedClock) After(d time.Duration) <-chan time.Time  { return time.After(d) }

type fakeFeed struct {
	quotes map[common.Address]Quote
}

func (f fakeFeed) Quote(_ context.Context, currency common.Address) (Quote, error) {
	return f.quotes[currency], nil
}

var _ util.Clock = fixedClock{}

func TestConvertSameCurrencyIsIdentity(t *testing.T) {
	o := New(fixedClock{time.Now()}, fakeFeed{}, time.Hour)
	addr := common.HexToAddress("0x1")
	amt := big.NewInt(1000)
	got, err := o.Convert(context.Background(), addr, addr, amt, time.Now(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(amt) != 0 {
		t.Fatalf("got %s, want %s", got, amt)
	}
}

func TestConvertAppliesStalenessPolicy(t *testing.T) {
	now := time.Now()
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	feed := fakeFeed{quotes: map[common.Address]Quote{
		weth: {Currency: weth, USDPrice: big.NewFloat(2000), Decimals: 18, ObservedAt: now.Add(-2 * time.Hour)},
		usdc: {Currency: usdc, USDPrice: big.NewFloat(1), Decimals: 6, ObservedAt: now},
	}}
	o := New(fixedClock{now}, feed, time.Hour)

	_, err := o.Convert(context.Background(), weth, usdc, big.NewInt(1e18), now, false)
	if err == nil {
		t.Fatal("expected staleness error for a 2h-old weth quote with 1h max staleness")
	}

	got, err := o.Convert(context.Background(), weth, usdc, big.NewInt(1e18), now, true)
	if err != nil {
		t.Fatalf("acceptStale=true should ignore staleness: %v", err)
	}
	want := big.NewInt(2000 * 1e6)
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", got, want)
	}
}
