package gamma

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/flashcrash/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func rawETHMarket(slug string, accepting bool) rawMarket {
	return rawMarket{
		Slug:            slug,
		Question:        "Ethereum Up or Down?",
		EndDate:         "2026-09-01T12:15:00Z",
		AcceptingOrders: accepting,
		Outcomes:        `["Up", "Down"]`,
		OutcomePrices:   `["0.52", "0.48"]`,
		ClobTokenIDs:    `["token-up", "token-down"]`,
	}
}

// newServerClient serves the given slug->market set and pins the client clock.
func newServerClient(t *testing.T, markets map[string]rawMarket, now time.Time) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var slug string
		if _, err := fmt.Sscanf(r.URL.Path, "/markets/slug/%s", &slug); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		raw, ok := markets[slug]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(raw)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	c.now = func() time.Time { return now }
	return c, srv
}

func TestGetMarketBySlug(t *testing.T) {
	c, _ := newServerClient(t, map[string]rawMarket{
		"eth-updown-15m-1766671200": rawETHMarket("eth-updown-15m-1766671200", true),
	}, time.Unix(1766671300, 0))

	info, err := c.GetMarketBySlug("eth-updown-15m-1766671200")
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.Equal(t, "eth-updown-15m-1766671200", info.Slug)
	assert.True(t, info.AcceptingOrders)
	assert.Equal(t, "token-up", info.TokenIDs[types.SideUp])
	assert.Equal(t, "token-down", info.TokenIDs[types.SideDown])
	assert.True(t, info.Prices[types.SideUp].Equal(dec("0.52")))
	assert.Equal(t, 2026, info.EndDate.Year())
}

func TestGetMarketBySlugMissingIsNilNil(t *testing.T) {
	c, _ := newServerClient(t, nil, time.Unix(1766671300, 0))

	info, err := c.GetMarketBySlug("nope")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestGetMarketInfoUsesCurrentBucket(t *testing.T) {
	now := time.Unix(1766671300, 0) // inside the 1766671200 15m bucket
	c, _ := newServerClient(t, map[string]rawMarket{
		"eth-updown-15m-1766671200": rawETHMarket("eth-updown-15m-1766671200", true),
	}, now)

	info, err := c.GetMarketInfo("ETH", 15)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "eth-updown-15m-1766671200", info.Slug)
}

func TestGetMarketInfoFallsForwardThenBack(t *testing.T) {
	now := time.Unix(1766671300, 0)

	// Current bucket closed, next bucket open.
	c, _ := newServerClient(t, map[string]rawMarket{
		"eth-updown-15m-1766671200": rawETHMarket("eth-updown-15m-1766671200", false),
		"eth-updown-15m-1766672100": rawETHMarket("eth-updown-15m-1766672100", true),
	}, now)

	info, err := c.GetMarketInfo("ETH", 15)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "eth-updown-15m-1766672100", info.Slug)

	// Current and next missing, previous still accepting.
	c2, _ := newServerClient(t, map[string]rawMarket{
		"eth-updown-15m-1766670300": rawETHMarket("eth-updown-15m-1766670300", true),
	}, now)

	info2, err := c2.GetMarketInfo("ETH", 15)
	require.NoError(t, err)
	require.NotNil(t, info2)
	assert.Equal(t, "eth-updown-15m-1766670300", info2.Slug)
}

func TestGetMarketInfoNoneOpen(t *testing.T) {
	c, _ := newServerClient(t, map[string]rawMarket{
		"eth-updown-15m-1766671200": rawETHMarket("eth-updown-15m-1766671200", false),
	}, time.Unix(1766671300, 0))

	info, err := c.GetMarketInfo("ETH", 15)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestGetMarketInfoRejectsUnknownCoinOrInterval(t *testing.T) {
	c := NewClient("")

	_, err := c.GetMarketInfo("DOGE", 15)
	assert.Error(t, err)

	_, err = c.GetMarketInfo("ETH", 7)
	assert.Error(t, err)
}

func TestParseStringListFallbacks(t *testing.T) {
	got, err := parseStringList("", []string{"Up", "Down"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Up", "Down"}, got)

	got, err = parseStringList(`["a","b"]`, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	_, err = parseStringList("{not a list}", nil)
	assert.Error(t, err)
}
