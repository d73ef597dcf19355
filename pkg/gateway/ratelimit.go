package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/rebill/pkg/billing"
)

// ErrThrottled is returned when a charge could not get a slot in the shared window in time
var ErrThrottled = fmt.Errorf("gateway rate limit exceeded: %w", billing.ErrGatewayUnavailable)

// WindowConfig configures a fixed window shared through Redis
type WindowConfig struct {
	Requests int
	Window   time.Duration
}

// WindowLimiter counts charges per fixed window in Redis so that every process
// calling the same provider shares one budget
type WindowLimiter struct {
	redis  *redis.Client
	config WindowConfig
	prefix string
}

// NewWindowLimiter creates a Redis-backed window limiter
func NewWindowLimiter(client *redis.Client, config WindowConfig, prefix string) *WindowLimiter {
	if config.Requests <= 0 {
		config.Requests = 25
	}
	if config.Window <= 0 {
		config.Window = time.Second
	}
	if prefix == "" {
		prefix = "rebill:gateway"
	}
	return &WindowLimiter{redis: client, config: config, prefix: prefix}
}

func (l *WindowLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

// Allow counts one request against key. On a Redis error it allows the request
// and returns the error.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.key(key)

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// only the first request of a window sets the expiry
	pipe.ExpireNX(ctx, redisKey, l.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	return incr.Val() <= int64(l.config.Requests), nil
}

// TTL returns the time until the current window resets
func (l *WindowLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return l.redis.TTL(ctx, l.key(key)).Result()
}

// Throttled limits the rate of charges sent to the wrapped gateway
type Throttled struct {
	next    billing.PaymentGateway
	local   *rate.Limiter
	shared  *WindowLimiter
	key     string
	maxWait time.Duration
	logger  *logrus.Logger
}

// NewThrottled wraps next. local and shared are both optional.
func NewThrottled(next billing.PaymentGateway, local *rate.Limiter, shared *WindowLimiter, key string, logger *logrus.Logger) *Throttled {
	return &Throttled{
		next:    next,
		local:   local,
		shared:  shared,
		key:     key,
		maxWait: 30 * time.Second,
		logger:  logger,
	}
}

// WithMaxWait bounds how long a charge waits for the shared window
func (t *Throttled) WithMaxWait(d time.Duration) *Throttled {
	t.maxWait = d
	return t
}

// Charge waits for a slot and forwards the charge. Any error before forwarding
// wraps billing.ErrGatewayUnavailable.
func (t *Throttled) Charge(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error) {
	if t.local != nil {
		if err := t.local.Wait(ctx); err != nil {
			return billing.ChargeResult{}, fmt.Errorf("%w: failed to wait for rate limiter: %w", billing.ErrGatewayUnavailable, err)
		}
	}
	if t.shared != nil {
		if err := t.waitShared(ctx); err != nil {
			return billing.ChargeResult{}, err
		}
	}
	return t.next.Charge(ctx, req)
}

func (t *Throttled) waitShared(ctx context.Context) error {
	deadline := time.Now().Add(t.maxWait)
	for {
		allowed, err := t.shared.Allow(ctx, t.key)
		if err != nil {
			// fail open
			t.logger.WithError(err).Warn("Shared gateway rate limit unavailable")
			return nil
		}
		if allowed {
			return nil
		}

		wait, err := t.shared.TTL(ctx, t.key)
		if err != nil || wait <= 0 {
			wait = t.shared.config.Window
		}
		if time.Now().Add(wait).After(deadline) {
			return fmt.Errorf("%s: %w", t.key, ErrThrottled)
		}

		t.logger.WithField("wait", wait).Debug("Gateway window exhausted, waiting")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", billing.ErrGatewayUnavailable, ctx.Err())
		case <-timer.C:
		}
	}
}
