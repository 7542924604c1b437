package orderbook

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftrouter/planner-core/pkg/planner"
)

// Fake is an in-memory Reader used by this package's own tests and by
// other components' tests that need a stand-in order index.
type Fake struct {
	Orders        map[string]*planner.Order
	TokenOrders   map[string][]string // "contract:tokenID" -> order ids, insertion order
	Collections   map[common.Address][]string
	Mints         map[common.Address][]*planner.Mint
	WalletMinted  map[string]uint64 // "contract:wallet" -> minted so far
	MakerBalances map[string]uint64 // "maker:contract:tokenID" -> balance
	CurrencySym   map[common.Address]string
	CurrencyDec   map[common.Address]int
	PoolPriceList map[string][]string // pool_id -> published price curve
}

// NewFake returns an empty Fake ready for population by a test.
func NewFake() *Fake {
	return &Fake{
		Orders:        make(map[string]*planner.Order),
		TokenOrders:   make(map[string][]string),
		Collections:   make(map[common.Address][]string),
		Mints:         make(map[common.Address][]*planner.Mint),
		WalletMinted:  make(map[string]uint64),
		MakerBalances: make(map[string]uint64),
		CurrencySym:   make(map[common.Address]string),
		CurrencyDec:   make(map[common.Address]int),
		PoolPriceList: make(map[string][]string),
	}
}

func tokenKey(contract common.Address, tokenID string) string {
	return contract.Hex() + ":" + tokenID
}

// AddOrder registers an order under its (contract, tokenID).
func (f *Fake) AddOrder(contract common.Address, tokenID string, o *planner.Order) {
	f.Orders[o.OrderID] = o
	key := tokenKey(contract, tokenID)
	f.TokenOrders[key] = append(f.TokenOrders[key], o.OrderID)
}

func (f *Fake) OrdersForToken(_ context.Context, contract common.Address, tokenID string, filt OrderFilter) ([]*planner.Order, error) {
	var out []*planner.Order
	for _, id := range f.TokenOrders[tokenKey(contract, tokenID)] {
		o := f.Orders[id]
		if o.FillabilityStatus != planner.Fillable || o.ApprovalStatus != planner.Approved {
			continue
		}
		if o.Maker == filt.Taker {
			continue
		}
		if excluded(o, filt) {
			continue
		}
		out = append(out, o)
	}
	limit := filt.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	sortCandidates(out, true, filt.ExactSource)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) OrderByID(_ context.Context, orderID string) (*planner.Order, error) {
	o, ok := f.Orders[orderID]
	if !ok {
		return nil, fmt.Errorf("orderbook: order %s not found", orderID)
	}
	return o, nil
}

func (f *Fake) CheapestTokensInCollection(_ context.Context, collection common.Address, n int) ([]string, error) {
	tokens := f.Collections[collection]
	if n < len(tokens) {
		tokens = tokens[:n]
	}
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out, nil
}

func (f *Fake) OpenMints(_ context.Context, collection common.Address, stage string, tokenID *string) ([]*planner.Mint, error) {
	var out []*planner.Mint
	for _, m := range f.Mints[collection] {
		if stage != "" && m.Stage != stage {
			continue
		}
		if tokenID != nil {
			if m.TokenID == nil || *m.TokenID != *tokenID {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *Fake) MintableByWallet(_ context.Context, m *planner.Mint, wallet common.Address) (uint64, error) {
	if m.MaxPerWallet == nil {
		return ^uint64(0), nil
	}
	minted := f.WalletMinted[m.Contract.Hex()+":"+wallet.Hex()]
	cap := *m.MaxPerWallet
	if minted >= cap {
		return 0, nil
	}
	return cap - minted, nil
}

func (f *Fake) MakerBalance(_ context.Context, maker, contract common.Address, tokenID string) (uint64, error) {
	return f.MakerBalances[maker.Hex()+":"+contract.Hex()+":"+tokenID], nil
}

func (f *Fake) CurrencyMetadata(_ context.Context, currency common.Address) (string, int, error) {
	return f.CurrencySym[currency], f.CurrencyDec[currency], nil
}

func (f *Fake) PoolPrices(_ context.Context, poolID string) ([]string, error) {
	prices, ok := f.PoolPriceList[poolID]
	if !ok {
		return nil, fmt.Errorf("orderbook: pool %q not found", poolID)
	}
	return prices, nil
}

func (f *Fake) IngestRawOrder(_ context.Context, raw []byte) (string, error) {
	id := fmt.Sprintf("ingested-%d", len(f.Orders)+1)
	f.Orders[id] = &planner.Order{OrderID: id, RawData: raw}
	return id, nil
}

var _ Reader = (*Fake)(nil)
