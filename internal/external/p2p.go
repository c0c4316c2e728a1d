package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjannette/p2p-ledger/internal/httputil"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/rates"
)

const DefaultP2PEndpoint = "https://p2p.binance.com/bapi/c2c/v2/friendly/c2c/adv/search"

type P2POptions struct {
	Endpoint string
	Asset    string // stablecoin used as the USD proxy
	Offers   int    // how many of the cheapest offers to average
	// MinInterval spaces out outbound searches; the exchange throttles hard.
	MinInterval time.Duration
}

// P2PClient derives USD/RUB from the cheapest public P2P offers.
type P2PClient struct {
	opts       P2POptions
	httpClient *http.Client
	retry      httputil.RetryConfig
	limiter    *rate.Limiter
}

func NewP2PClient(opts P2POptions, logger *zap.Logger) *P2PClient {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultP2PEndpoint
	}
	if opts.Asset == "" {
		opts.Asset = "USDT"
	}
	if opts.Offers <= 0 {
		opts.Offers = 5
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 2 * time.Second
	}
	return &P2PClient{
		opts:       opts,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Logger:      logger,
		},
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), 1),
	}
}

func (c *P2PClient) Name() string { return "p2p" }

func (c *P2PClient) Rate(ctx context.Context, base, quote models.Currency) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}
	avg, err := c.averageBuyPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return orient(avg, base, quote)
}

type p2pSearch struct {
	Asset     string `json:"asset"`
	Fiat      string `json:"fiat"`
	TradeType string `json:"tradeType"`
	Page      int    `json:"page"`
	Rows      int    `json:"rows"`
}

type p2pResponse struct {
	Code string `json:"code"`
	Data []struct {
		Adv struct {
			Price string `json:"price"`
		} `json:"adv"`
	} `json:"data"`
}

func (c *P2PClient) averageBuyPrice(ctx context.Context) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("p2p throttle: %w", err)
	}

	body, err := json.Marshal(p2pSearch{
		Asset:     c.opts.Asset,
		Fiat:      string(models.RUB),
		TradeType: "BUY",
		Page:      1,
		Rows:      c.opts.Offers * 2,
	})
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("p2p search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("p2p search returned status %d: %w", resp.StatusCode, rates.ErrUnavailable)
	}

	var data p2pResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return decimal.Zero, fmt.Errorf("decode: %w", err)
	}

	prices := make([]decimal.Decimal, 0, len(data.Data))
	for _, d := range data.Data {
		p, err := decimal.NewFromString(d.Adv.Price)
		if err != nil || !p.IsPositive() {
			continue
		}
		prices = append(prices, p)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("p2p search: no offers: %w", rates.ErrUnavailable)
	}

	return lowestAverage(prices, c.opts.Offers), nil
}

// lowestAverage averages the n cheapest prices.
func lowestAverage(prices []decimal.Decimal, n int) decimal.Decimal {
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	if n > len(prices) {
		n = len(prices)
	}
	return decimal.Avg(prices[0], prices[1:n]...)
}
