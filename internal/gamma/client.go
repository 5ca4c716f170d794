// Package gamma resolves the currently-open instance of a periodic up/down
// market from Polymarket's Gamma API.
//
// Market instances use timestamp-bucketed slugs: eth-updown-15m-1766671200 is
// the 15-minute ETH window starting at that Unix time.
package gamma

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// DefaultHost is the public Gamma API endpoint.
const DefaultHost = "https://gamma-api.polymarket.com"

// coinSlugPrefixes maps interval -> coin -> slug prefix.
var coinSlugPrefixes = map[int]map[string]string{
	15: {
		"BTC": "btc-updown-15m",
		"ETH": "eth-updown-15m",
		"SOL": "sol-updown-15m",
		"XRP": "xrp-updown-15m",
	},
	5: {
		"BTC": "btc-updown-5m",
		"ETH": "eth-updown-5m",
		"SOL": "sol-updown-5m",
		"XRP": "xrp-updown-5m",
	},
}

// Client fetches market metadata from the Gamma API.
type Client struct {
	host   string
	client *http.Client

	now func() time.Time
}

// NewClient creates a Gamma client. An empty host selects the public API.
func NewClient(host string) *Client {
	if host == "" {
		host = DefaultHost
	}
	return &Client{
		host:   strings.TrimRight(host, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// rawMarket is the Gamma wire shape. List-valued fields arrive as JSON
// encoded strings.
type rawMarket struct {
	Slug            string `json:"slug"`
	Question        string `json:"question"`
	EndDate         string `json:"endDate"`
	AcceptingOrders bool   `json:"acceptingOrders"`
	Outcomes        string `json:"outcomes"`
	OutcomePrices   string `json:"outcomePrices"`
	ClobTokenIDs    string `json:"clobTokenIds"`
}

// GetMarketBySlug fetches one market. A missing market returns (nil, nil).
func (c *Client) GetMarketBySlug(slug string) (*types.MarketInfo, error) {
	url := fmt.Sprintf("%s/markets/slug/%s", c.host, slug)

	resp, err := c.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("gamma request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gamma returned status %d", resp.StatusCode)
	}

	var raw rawMarket
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("gamma decode failed: %w", err)
	}

	return parseMarket(raw)
}

// GetMarketInfo resolves the currently-open market for a coin/interval pair,
// trying the current, next, then previous time bucket and accepting the first
// one flagged as open for trading.
func (c *Client) GetMarketInfo(coin string, intervalMinutes int) (*types.MarketInfo, error) {
	prefix, err := slugPrefix(coin, intervalMinutes)
	if err != nil {
		return nil, err
	}

	interval := int64(intervalMinutes * 60)
	current := c.now().Unix() / interval * interval

	for _, ts := range []int64{current, current + interval, current - interval} {
		slug := fmt.Sprintf("%s-%d", prefix, ts)
		market, err := c.GetMarketBySlug(slug)
		if err != nil {
			continue
		}
		if market != nil && market.AcceptingOrders {
			return market, nil
		}
	}

	return nil, nil
}

func slugPrefix(coin string, intervalMinutes int) (string, error) {
	coin = strings.ToUpper(coin)
	mapping, ok := coinSlugPrefixes[intervalMinutes]
	if !ok {
		return "", fmt.Errorf("unsupported interval %dm", intervalMinutes)
	}
	prefix, ok := mapping[coin]
	if !ok {
		return "", fmt.Errorf("unsupported coin %s for %dm markets", coin, intervalMinutes)
	}
	return prefix, nil
}

func parseMarket(raw rawMarket) (*types.MarketInfo, error) {
	outcomes, err := parseStringList(raw.Outcomes, []string{"Up", "Down"})
	if err != nil {
		return nil, fmt.Errorf("bad outcomes field: %w", err)
	}
	tokenIDs, err := parseStringList(raw.ClobTokenIDs, nil)
	if err != nil {
		return nil, fmt.Errorf("bad clobTokenIds field: %w", err)
	}
	priceStrs, err := parseStringList(raw.OutcomePrices, []string{"0.5", "0.5"})
	if err != nil {
		return nil, fmt.Errorf("bad outcomePrices field: %w", err)
	}

	info := &types.MarketInfo{
		Slug:            raw.Slug,
		Question:        raw.Question,
		TokenIDs:        make(map[types.Side]string),
		Prices:          make(map[types.Side]decimal.Decimal),
		AcceptingOrders: raw.AcceptingOrders,
	}

	if raw.EndDate != "" {
		if end, err := time.Parse(time.RFC3339, raw.EndDate); err == nil {
			info.EndDate = end
		}
	}

	for i, outcome := range outcomes {
		side := types.Side(strings.ToLower(outcome))
		if i < len(tokenIDs) {
			info.TokenIDs[side] = tokenIDs[i]
		}
		if i < len(priceStrs) {
			if price, err := decimal.NewFromString(priceStrs[i]); err == nil {
				info.Prices[side] = price
			}
		}
	}

	return info, nil
}

// parseStringList decodes a JSON-encoded string list field, e.g.
// "[\"Up\", \"Down\"]". Empty input falls back to the provided default.
func parseStringList(value string, fallback []string) ([]string, error) {
	if value == "" || value == "null" {
		return fallback, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return nil, err
	}
	return out, nil
}
