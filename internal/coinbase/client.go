// Package coinbase is a minimal REST client for Coinbase's public spot
// price endpoint, the crypto reference feed PriceFeed polls on a per-symbol
// cadence (spec §6: "Coinbase: crypto spot price").
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/recio/trading-core/internal/domain"
)

const baseURL = "https://api.coinbase.com/v2"

// Client fetches spot prices from Coinbase's unauthenticated public API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New constructs a Client with a bounded request timeout.
func New() *Client {
	return &Client{httpClient: &http.Client{Timeout: 5 * time.Second}, baseURL: baseURL}
}

type spotPriceResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// SpotPrice fetches the current spot price for a symbol (e.g. "BTC") quoted
// in USD.
func (c *Client) SpotPrice(ctx context.Context, symbol string) (domain.PriceTick, error) {
	url := fmt.Sprintf("%s/prices/%s-USD/spot", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.PriceTick{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PriceTick{}, &domain.TransientError{Component: "coinbase", Message: "spot price request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.PriceTick{}, &domain.TransientError{Component: "coinbase", Message: fmt.Sprintf("coinbase returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return domain.PriceTick{}, &domain.PermanentExchangeError{Code: resp.StatusCode, Message: "coinbase rejected spot price request for " + symbol}
	}

	var out spotPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.PriceTick{}, &domain.TransientError{Component: "coinbase", Message: "decode failed", Err: err}
	}

	price, err := strconv.ParseFloat(out.Data.Amount, 64)
	if err != nil {
		return domain.PriceTick{}, &domain.TransientError{Component: "coinbase", Message: "invalid price payload", Err: err}
	}

	return domain.PriceTick{Symbol: symbol, Timestamp: time.Now(), Price: price}, nil
}
