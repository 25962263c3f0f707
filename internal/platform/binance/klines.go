package binance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"golang.org/x/time/rate"
)

// DefaultRESTURL is the Binance spot REST root.
const DefaultRESTURL = "https://api.binance.com"

const (
	// Binance allows 6000 request weight per minute; klines costs 2.
	// Stay well under it since sessions may open in bursts.
	restRatePerSec = 10
	restBurst      = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// RESTClient fetches historical bars from the Binance REST API.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewRESTClient creates a REST client. An empty baseURL selects production.
func NewRESTClient(baseURL string, logger *slog.Logger) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	return &RESTClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(restRatePerSec, restBurst),
		logger:  logger.With(slog.String("component", "binance_rest")),
	}
}

// Klines returns up to limit bars of the given interval for symbol, oldest first.
func (c *RESTClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doGet(ctx, "/api/v3/klines?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("binance/rest: klines %s: %w", symbol, err)
	}
	candles, err := parseKlines(body)
	if err != nil {
		return nil, fmt.Errorf("binance/rest: klines %s: %w", symbol, err)
	}
	return candles, nil
}

// doGet performs a rate-limited GET, retrying transport errors, 429 and 5xx
// with exponential backoff.
func (c *RESTClient) doGet(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.logger.Warn("binance request retrying",
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
			)
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
			continue
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
		}
		return body, nil
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

func (c *RESTClient) sleep(ctx context.Context, attempt int) error {
	wait := baseRetryWait << attempt
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
