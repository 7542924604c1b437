package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HTTPFeed implements Feed against a REST price-feed API keyed by
// currency contract address (empty-address query parameter for the
// chain's native asset), the way cowswap-style API clients in the pack
// wrap a plain *http.Client with a small typed response struct.
type HTTPFeed struct {
	httpClient  *http.Client
	baseURL     string
	nativeToken common.Address
}

// NewHTTPFeed constructs a feed hitting baseURL + "?currency=<hex>" for
// every quote. baseURL is expected to answer with
// {"usdPrice": "1234.56", "decimals": 18, "symbol": "WETH"}.
func NewHTTPFeed(baseURL string, nativeToken common.Address) *HTTPFeed {
	return &HTTPFeed{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		nativeToken: nativeToken,
	}
}

type priceFeedResponse struct {
	USDPrice string `json:"usdPrice"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
}

func (f *HTTPFeed) Quote(ctx context.Context, currency common.Address) (Quote, error) {
	url := fmt.Sprintf("%s?currency=%s", f.baseURL, currency.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: fetch %s: %w", currency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("oracle: feed returned %d for %s", resp.StatusCode, currency)
	}

	var body priceFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("oracle: decode response: %w", err)
	}

	price, ok := new(big.Float).SetString(body.USDPrice)
	if !ok {
		return Quote{}, fmt.Errorf("oracle: invalid usdPrice %q for %s", body.USDPrice, currency)
	}

	return Quote{
		Currency:   currency,
		USDPrice:   price,
		Decimals:   body.Decimals,
		Symbol:     body.Symbol,
		ObservedAt: time.Now(),
	}, nil
}
