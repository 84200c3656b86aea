package frankfurter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/resilience"
)

// Client looks up historical EUR exchange rates on the Frankfurter API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, executor *resilience.Executor) *Client {
	if baseURL == "" {
		baseURL = "https://api.frankfurter.dev/v1"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		executor:   executor,
	}
}

// RateToEUR returns the exchange rate on the given ISO date (or "latest"),
// rounded to 4 decimals. The bookkeeping convention stores units of the
// source currency per EUR, so the API's EUR-per-unit quote is inverted.
func (c *Client) RateToEUR(ctx context.Context, isoDate, currency string) (float64, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return 0, fmt.Errorf("empty currency")
	}
	if currency == "EUR" {
		return 1, nil
	}
	if isoDate == "" {
		isoDate = "latest"
	}

	var payload ratesResponse
	call := func(ctx context.Context) error {
		return c.fetch(ctx, isoDate, currency, &payload)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "frankfurter.rates", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return 0, err
	}

	eurPerUnit, ok := payload.Rates["EUR"]
	if !ok || eurPerUnit == 0 {
		return 0, fmt.Errorf("no EUR rate for %s on %s", currency, isoDate)
	}
	return math.Round(10000/eurPerUnit) / 10000, nil
}

type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

func (c *Client) fetch(ctx context.Context, isoDate, currency string, out *ratesResponse) error {
	endpoint := fmt.Sprintf("%s/%s?from=%s&to=EUR", c.baseURL, url.PathEscape(isoDate), url.QueryEscape(currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create rates request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("frankfurter request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    "frankfurter",
			Operation:  "rates",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode rates response: %w", err)
	}
	return nil
}
