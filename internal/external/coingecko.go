package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kjannette/p2p-ledger/internal/httputil"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/rates"
)

const coingeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=tether&vs_currencies=rub"

// CoinGeckoClient quotes USDT/RUB as the USD/RUB proxy.
type CoinGeckoClient struct {
	url        string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewCoinGeckoClient(logger *zap.Logger) *CoinGeckoClient {
	return &CoinGeckoClient{
		url:        coingeckoURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Logger:      logger,
		},
	}
}

// WithURL points the client at another endpoint (tests, mirrors).
func (c *CoinGeckoClient) WithURL(url string) *CoinGeckoClient {
	c.url = url
	return c
}

func (c *CoinGeckoClient) Name() string { return "coingecko" }

func (c *CoinGeckoClient) Rate(ctx context.Context, base, quote models.Currency) (decimal.Decimal, error) {
	usdRub, err := c.usdtRub(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return orient(usdRub, base, quote)
}

func (c *CoinGeckoClient) usdtRub(ctx context.Context) (decimal.Decimal, error) {
	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("coingecko returned status %d: %w", resp.StatusCode, rates.ErrUnavailable)
	}

	var data struct {
		Tether struct {
			RUB json.Number `json:"rub"`
		} `json:"tether"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return decimal.Zero, fmt.Errorf("decode: %w", err)
	}

	price, err := decimal.NewFromString(data.Tether.RUB.String())
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", data.Tether.RUB, rates.ErrUnavailable)
	}
	return price, nil
}

// orient turns a USD→RUB price into the requested direction.
func orient(usdRub decimal.Decimal, base, quote models.Currency) (decimal.Decimal, error) {
	switch {
	case base == models.USD && quote == models.RUB:
		return usdRub, nil
	case base == models.RUB && quote == models.USD:
		return decimal.NewFromInt(1).Div(usdRub), nil
	case base == quote:
		return decimal.NewFromInt(1), nil
	}
	return decimal.Zero, fmt.Errorf("pair %s/%s: %w", base, quote, rates.ErrUnavailable)
}
