package feerate

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveGasPrice(t *testing.T) {
	quote := &Quote{BaseFee: big.NewInt(100), PriorityFee: big.NewInt(10)}

	t.Run("caps at maxFeePerGas", func(t *testing.T) {
		price := EffectiveGasPrice(quote, big.NewInt(105), big.NewInt(10))
		assert.Equal(t, int64(105), price.Int64())
	})

	t.Run("caps tip at maxPriorityFeePerGas", func(t *testing.T) {
		price := EffectiveGasPrice(quote, big.NewInt(1000), big.NewInt(3))
		assert.Equal(t, int64(103), price.Int64())
	})

	t.Run("uncapped path", func(t *testing.T) {
		price := EffectiveGasPrice(quote, big.NewInt(1000), big.NewInt(50))
		assert.Equal(t, int64(110), price.Int64())
	})
}

type countingSource struct {
	calls int
	quote Quote
}

func (c *countingSource) Current(ctx context.Context) (*Quote, error) {
	c.calls++
	return &Quote{
		BaseFee:     new(big.Int).Set(c.quote.BaseFee),
		PriorityFee: new(big.Int).Set(c.quote.PriorityFee),
	}, nil
}

func TestCachedSource(t *testing.T) {
	inner := &countingSource{quote: Quote{BaseFee: big.NewInt(7), PriorityFee: big.NewInt(1)}}
	cached, err := NewCached(inner, time.Minute, nil)
	require.NoError(t, err)
	defer cached.Close()

	for i := 0; i < 5; i++ {
		q, err := cached.Current(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(7), q.BaseFee.Int64())
	}

	assert.Equal(t, 1, inner.calls, "cache should serve repeat lookups")
}

type flakySource struct {
	calls    int
	failures int
	quote    Quote
}

func (f *flakySource) Current(ctx context.Context) (*Quote, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return &Quote{
		BaseFee:     new(big.Int).Set(f.quote.BaseFee),
		PriorityFee: new(big.Int).Set(f.quote.PriorityFee),
	}, nil
}

func fastRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	return cfg
}

func TestRetryingSource(t *testing.T) {
	t.Run("recovers after transient failures", func(t *testing.T) {
		inner := &flakySource{failures: 2, quote: Quote{BaseFee: big.NewInt(9), PriorityFee: big.NewInt(2)}}
		src := NewRetrying(inner, fastRetryConfig())

		q, err := src.Current(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(9), q.BaseFee.Int64())
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		inner := &flakySource{failures: 100}
		src := NewRetrying(inner, fastRetryConfig())

		_, err := src.Current(context.Background())
		require.Error(t, err)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		inner := &flakySource{failures: 100}
		src := NewRetrying(inner, fastRetryConfig())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := src.Current(ctx)
		require.Error(t, err)
		assert.LessOrEqual(t, inner.calls, 1)
	})
}
