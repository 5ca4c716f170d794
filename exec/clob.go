package exec

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CLOB EXECUTION CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Order placement and management against the Polymarket CLOB API. Order
// signing happens upstream of this client; it authenticates with the derived
// API credentials only.
//
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultCLOBURL is the production CLOB endpoint.
const DefaultCLOBURL = "https://clob.polymarket.com"

// CLOBClient talks to the CLOB REST API.
type CLOBClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	passphrase string
	httpClient *http.Client
}

// NewCLOBClient creates a client with the given API credentials.
func NewCLOBClient(baseURL, apiKey, apiSecret, passphrase string) *CLOBClient {
	if baseURL == "" {
		baseURL = DefaultCLOBURL
	}
	return &CLOBClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// PlaceOrder submits a limit order. Failures come back as a negative result
// with the API message, never a partial side effect.
func (c *CLOBClient) PlaceOrder(tokenID string, price, size decimal.Decimal, side string) types.OrderResult {
	payload := map[string]any{
		"tokenID":    tokenID,
		"price":      price.String(),
		"size":       size.String(),
		"side":       side,
		"feeRateBps": "0",
		"nonce":      time.Now().UnixNano(),
	}

	resp, err := c.post("/order", payload)
	if err != nil {
		return types.OrderResult{Success: false, Message: err.Error()}
	}

	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return types.OrderResult{Success: false, Message: fmt.Sprintf("parse response: %v", err)}
	}
	if result.Error != "" {
		return types.OrderResult{Success: false, Message: result.Error}
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("status", result.Status).
		Msg("✅ Order placed")

	return types.OrderResult{
		Success: true,
		OrderID: result.OrderID,
		Status:  result.Status,
		Message: "ok",
	}
}

// GetOpenOrders returns all live orders.
func (c *CLOBClient) GetOpenOrders() ([]types.OpenOrder, error) {
	resp, err := c.get("/orders?status=live")
	if err != nil {
		return nil, err
	}

	var orders []types.OpenOrder
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelAllOrders cancels every open order.
func (c *CLOBClient) CancelAllOrders() types.OrderResult {
	if _, err := c.delete("/cancel-all"); err != nil {
		return types.OrderResult{Success: false, Message: err.Error()}
	}
	return types.OrderResult{Success: true, Message: "cancelled"}
}

// ─────────────────────────────────────────────────────────────────────────────
// HTTP helpers
// ─────────────────────────────────────────────────────────────────────────────

func (c *CLOBClient) get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *CLOBClient) post(path string, body any) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *CLOBClient) delete(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *CLOBClient) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path
		req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
	}
}

func (c *CLOBClient) hmacSign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *CLOBClient) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
