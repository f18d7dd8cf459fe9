package feerate

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// RetryConfig bounds the backoff schedule and request rate applied to a flaky
// upstream source.
type RetryConfig struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RequestsPerSec  rate.Limit
	Burst           int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		RequestsPerSec:  100,
		Burst:           100,
	}
}

// Retrying wraps a Source with exponential backoff and a client-side rate
// limit, so transient RPC failures do not surface as missing quotes and bursts
// of lookups do not hammer the endpoint.
type Retrying struct {
	inner   Source
	cfg     RetryConfig
	limiter *rate.Limiter
}

func NewRetrying(inner Source, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	return &Retrying{
		inner:   inner,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RequestsPerSec, cfg.Burst),
	}
}

func (r *Retrying) Current(ctx context.Context) (*Quote, error) {
	var quote *Quote
	attempt := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		q, err := r.inner.Current(ctx)
		if err != nil {
			return err
		}
		quote = q
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval
	policy.Multiplier = r.cfg.Multiplier

	err := backoff.Retry(attempt, backoff.WithMaxRetries(backoff.WithContext(policy, ctx), r.cfg.MaxAttempts-1))
	if err != nil {
		return nil, err
	}
	return quote, nil
}
