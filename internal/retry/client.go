// Package retry wraps broker calls that must eventually succeed, such as
// closing a protective put before expiry.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feyerinaGO/OptimalInvesting/internal/broker"
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// Config controls the retry loop.
type Config struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
}

// DefaultConfig is used for any unset or invalid Config field.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries broker operations on transient failures.
type Client struct {
	broker broker.Broker
	logger logrus.FieldLogger
	config Config
}

// NewClient creates a Client. A nil logger falls back to the standard logger.
func NewClient(b broker.Broker, logger logrus.FieldLogger, config ...Config) *Client {
	if b == nil {
		panic("retry: nil broker passed to NewClient")
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = sanitize(config[0])
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

func sanitize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	return cfg
}

// LiquidateWithRetry closes the whole position in symbol, retrying transient
// broker errors with jittered exponential backoff until the timeout.
func (c *Client) LiquidateWithRetry(ctx context.Context, symbol string) (*models.OrderEvent, error) {
	if strings.TrimSpace(symbol) == "" {
		c.logger.Error("LiquidateWithRetry called with empty symbol")
		return nil, errors.New("liquidate: empty symbol")
	}

	closeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff
	log := c.logger.WithField("symbol", symbol)

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		select {
		case <-closeCtx.Done():
			return nil, fmt.Errorf("liquidate timed out after %v: %w", c.config.Timeout, closeCtx.Err())
		default:
		}

		log.Debugf("Liquidate attempt %d/%d", attempt+1, c.config.MaxRetries+1)

		ev, err := c.broker.Liquidate(closeCtx, symbol)
		if err == nil {
			if ev != nil {
				log.WithField("order_id", ev.OrderID).Debugf("Liquidate order placed on attempt %d", attempt+1)
			}
			return ev, nil
		}

		lastErr = err
		log.WithError(err).Warnf("Liquidate attempt %d failed", attempt+1)

		if !c.isTransientError(err) || attempt >= c.config.MaxRetries {
			break
		}

		log.Debugf("Transient error detected, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-ctx.Done():
			return nil, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		case <-closeCtx.Done():
			return nil, fmt.Errorf("liquidate timed out during backoff: %w", closeCtx.Err())
		}
	}

	return nil, fmt.Errorf("failed to liquidate %s after %d attempts: %w", symbol, c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"too many requests",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
