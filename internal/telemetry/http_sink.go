package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPSinkConfig configures delivery to a record-collection HTTP service.
type HTTPSinkConfig struct {
	BaseURL       string
	Collection    string
	TokenEnv      string
	Timeout       time.Duration
	MaxRetries    uint64
	RatePerSecond float64
}

// HTTPSink posts each record to {base}/api/collections/{collection}/records.
// Delivery is at-least-once within MaxRetries attempts.
type HTTPSink struct {
	endpoint   string
	token      string
	maxRetries uint64
	client     *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// initial backoff interval, shortened in tests
	retryInterval time.Duration
}

func NewHTTPSink(cfg HTTPSinkConfig, logger *zap.Logger) (*HTTPSink, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("telemetry http sink: base url is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("telemetry http sink: collection is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("telemetry http sink: invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	var token string
	if cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
	}

	return &HTTPSink{
		endpoint:      base.JoinPath("api", "collections", cfg.Collection, "records").String(),
		token:         token,
		maxRetries:    cfg.MaxRetries,
		client:        &http.Client{Timeout: cfg.Timeout},
		limiter:       rate.NewLimiter(limit, 1),
		logger:        logger,
		retryInterval: 200 * time.Millisecond,
	}, nil
}

func (s *HTTPSink) Endpoint() string { return s.endpoint }

func (s *HTTPSink) Publish(ctx context.Context, d Data) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx)

	attempt := 0
	op := func() error {
		attempt++
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := s.post(ctx, body)
		if err != nil {
			s.logger.Debug("Telemetry post failed",
				zap.String("source", d.Source),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}

	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("publish %s after %d attempt(s): %w", d.Source, attempt, err)
	}
	return nil
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
