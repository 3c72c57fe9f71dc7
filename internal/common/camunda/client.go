// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"loan-catalog/internal/common/config"
	"loan-catalog/internal/common/errors"
	"loan-catalog/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultRequestTimeout = 5 * time.Second
)

// RetryConfig bounds the exponential backoff used for gateway commands.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   10 * time.Second,
}

// settings is the resolved form of the camunda config section.
type settings struct {
	gateway        string
	dialTimeout    time.Duration
	requestTimeout time.Duration
	retry          RetryConfig
}

func settingsFrom(cfg config.CamundaConfig) settings {
	s := settings{
		gateway:        cfg.BrokerAddress,
		dialTimeout:    config.GetDuration(cfg.Timeout),
		requestTimeout: config.GetDuration(cfg.RequestTimeout),
		retry:          DefaultRetryConfig,
	}
	if s.dialTimeout <= 0 {
		s.dialTimeout = defaultDialTimeout
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = defaultRequestTimeout
	}
	return s
}

// Client is the gateway connection the catalog job workers subscribe on.
type Client struct {
	zb       zbc.Client
	settings settings
	logger   logger.Logger
}

// Dial connects to the gateway and waits until it answers a topology
// request, retrying while the broker is still coming up.
func Dial(ctx context.Context, cfg config.CamundaConfig, log logger.Logger) (*Client, error) {
	s := settingsFrom(cfg)
	zb, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         s.gateway,
		UsePlaintextConnection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create zeebe client for %s: %w", s.gateway, err)
	}

	c := &Client{zb: zb, settings: s, logger: log.WithFields(map[string]interface{}{"gateway": s.gateway})}

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()
	brokers, err := withRetry(dialCtx, s.retry, "topology", func(ctx context.Context) (int, error) {
		return c.topology(ctx)
	})
	if err != nil {
		_ = zb.Close()
		return nil, err
	}
	c.logger.Info("zeebe gateway connected", map[string]interface{}{"brokers": brokers})
	return c, nil
}

func (c *Client) topology(ctx context.Context) (int, error) {
	resp, err := c.zb.NewTopologyCommand().Send(ctx)
	if err != nil {
		return 0, err
	}
	return len(resp.GetBrokers()), nil
}

// Zeebe returns the raw client for job worker registration.
func (c *Client) Zeebe() zbc.Client {
	return c.zb
}

// Ready is the readiness probe for the gateway connection.
func (c *Client) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.settings.requestTimeout)
	defer cancel()

	brokers, err := c.topology(ctx)
	if err != nil {
		return mapZeebeError(err, "topology", 0)
	}
	if brokers == 0 {
		return errors.NewBrokerUnavailableError("topology", fmt.Errorf("gateway %s reports no brokers", c.settings.gateway))
	}
	return nil
}

func (c *Client) Close() error {
	return c.zb.Close()
}

// withRetry runs fn with exponential backoff. Only transient gateway
// errors are retried.
func withRetry[T any](ctx context.Context, retry RetryConfig, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !isTransient(err) || attempt >= retry.MaxRetries {
			return zero, mapZeebeError(err, operation, attempt)
		}

		delay := retry.BaseDelay << attempt
		if delay > retry.MaxDelay {
			delay = retry.MaxDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("zeebe %s cancelled after %d attempts: %w", operation, attempt+1, ctx.Err())
		}
	}
}

// isTransient classifies gRPC status codes; errors without a status fall
// back to the transport messages seen before a connection is established.
func isTransient(err error) bool {
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"connection refused", "connection reset", "unavailable", "deadline exceeded", "timeout"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func mapZeebeError(err error, operation string, attempt int) error {
	transient := isTransient(err)
	if attempt > 0 {
		err = fmt.Errorf("after %d retries: %w", attempt, err)
	}
	if transient {
		return errors.NewBrokerUnavailableError(operation, err)
	}
	return errors.NewInternalError(fmt.Errorf("zeebe %s: %w", operation, err))
}
