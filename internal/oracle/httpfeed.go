package oracle

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/memeperp/engine/internal/types"
)

// HTTPFeed is a concrete oracle.Source: one HTTP GET per market, decoding
// a `{"price": "..."}` JSON body into a decimal and rescaling it to the
// market's tick size.
//
// Grounded on web3guy0-polybot/feeds/chainlink.go's JSON-over-HTTP price
// fetch (decode a numeric quote with shopspring/decimal); simplified to a
// single configured endpoint per market instead of that file's three-tier
// Chainlink/CMC/Binance fallback chain, since spec.md's oracle port
// (§4.A) asks only for one spot-price source per market with a
// staleness bound — internal/oracle.Tracker already supplies the
// last-good-value fallback behavior a multi-source cascade would add.
type HTTPFeed struct {
	client *http.Client

	mu        sync.RWMutex
	endpoints map[string]string
	tickSize  map[string]types.Ticks
}

// NewHTTPFeed builds an HTTPFeed. A nil client gets a conservative
// request timeout.
func NewHTTPFeed(client *http.Client) *HTTPFeed {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &HTTPFeed{
		client:    client,
		endpoints: make(map[string]string),
		tickSize:  make(map[string]types.Ticks),
	}
}

// Register binds a market symbol to its feed URL and tick size, so raw
// decimal quotes can be rescaled into the market's fixed-point Ticks.
func (f *HTTPFeed) Register(market, url string, tickSize types.Ticks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints[market] = url
	f.tickSize[market] = tickSize
}

type quoteBody struct {
	Price string `json:"price"`
}

// SpotPrice implements Source.
func (f *HTTPFeed) SpotPrice(market string) (types.Ticks, error) {
	f.mu.RLock()
	url, ok := f.endpoints[market]
	tickSize := f.tickSize[market]
	f.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("oracle: no feed registered for market %s", market)
	}

	resp, err := f.client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("oracle: fetch %s: %w", market, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle: %s returned status %d", market, resp.StatusCode)
	}

	var body quoteBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("oracle: decode %s: %w", market, err)
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return 0, fmt.Errorf("oracle: parse %s price: %w", market, err)
	}
	if tickSize <= 0 {
		tickSize = 1
	}

	ticks := price.Div(decimal.New(int64(tickSize), -6)).Round(0)
	return types.Ticks(ticks.IntPart()), nil
}
