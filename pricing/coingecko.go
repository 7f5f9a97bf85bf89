package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/coffee/types"
)

// QuoteSource returns the current fiat price of one unit of the base asset.
type QuoteSource interface {
	FetchQuote(ctx context.Context) (decimal.Decimal, error)
}

// CoinGecko reads quotes from the /simple/price endpoint.
type CoinGecko struct {
	baseURL    string
	assetID    string
	fiatCode   string
	httpClient *http.Client
}

func NewCoinGecko(baseURL, assetID, fiatCode string, timeout time.Duration) *CoinGecko {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CoinGecko{
		baseURL:    strings.TrimRight(baseURL, "/"),
		assetID:    assetID,
		fiatCode:   strings.ToLower(fiatCode),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CoinGecko) endpoint() string {
	q := url.Values{}
	q.Set("ids", c.assetID)
	q.Set("vs_currencies", c.fiatCode)
	return c.baseURL + "/simple/price?" + q.Encode()
}

// FetchQuote returns the price for one unit of the asset, e.g. {"ethereum":{"usd":2000.5}}.
func (c *CoinGecko) FetchQuote(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(), nil)
	if err != nil {
		return decimal.Zero, types.ErrQuoteFetchFailed.Wrap(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, types.ErrQuoteFetchFailed.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, types.ErrQuoteFetchFailed.Wrap(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, types.ErrQuoteFetchFailed.Wrap(err)
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var data map[string]map[string]json.Number
	if err := dec.Decode(&data); err != nil {
		return decimal.Zero, types.ErrQuoteFetchFailed.Wrap(fmt.Errorf("malformed response: %w", err))
	}

	raw, ok := data[c.assetID][c.fiatCode]
	if !ok {
		return decimal.Zero, types.ErrQuoteFetchFailed.Wrap(fmt.Errorf("no %s quote for %s", c.fiatCode, c.assetID))
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, types.ErrQuoteFetchFailed.Wrap(fmt.Errorf("invalid price %q: %w", raw, err))
	}
	if !price.IsPositive() {
		return decimal.Zero, types.ErrQuoteFetchFailed.Wrap(fmt.Errorf("non-positive price %s", price))
	}
	return price, nil
}
