package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config describes how to reach an EVM JSON-RPC node
type Config struct {
	Endpoint    string
	ApiKey      string
	RateLimit   float64
	HTTPTimeout time.Duration
}

// Dial connects an ethclient through an HTTP client that adds the API key
// and rate limits every request.
func Dial(ctx context.Context, cfg Config, logger *zerolog.Logger) (*ethclient.Client, error) {
	httpClient := NewHTTPClient(cfg, logger)

	client, err := gethrpc.DialOptions(ctx, cfg.Endpoint, gethrpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Endpoint, err)
	}

	return ethclient.NewClient(client), nil
}

// NewHTTPClient builds the rate limited, authenticated HTTP client used for RPC
func NewHTTPClient(cfg Config, logger *zerolog.Logger) *http.Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &CustomTransport{
			Base:        http.DefaultTransport,
			ApiKey:      cfg.ApiKey,
			RateLimiter: rate.NewLimiter(limit, 1),
			Logger:      logger,
		},
	}
}

// CustomTransport adds API key authentication and rate limiting to HTTP requests
type CustomTransport struct {
	Base        http.RoundTripper
	ApiKey      string
	RateLimiter *rate.Limiter
	Logger      *zerolog.Logger
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.RateLimiter != nil {
		if err := t.RateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit error: %w", err)
		}
	}

	req = req.Clone(req.Context())
	req.Header.Set("Content-Type", "application/json")
	if t.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.ApiKey)
	}

	if t.Logger != nil {
		t.Logger.Debug().
			Str("url", req.URL.Redacted()).
			Msg("Making RPC call")
	}

	return t.Base.RoundTrip(req)
}

// Retry executes fn up to attempts times, sleeping delay between failures.
// It stops early when ctx is done.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(delay):
		}
	}
	return err
}
