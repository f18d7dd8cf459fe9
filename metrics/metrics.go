package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics is the instrumentation surface the processing engine calls
// into. A no-op implementation keeps the engine runnable without a registry.
type EngineMetrics interface {
	IncOperationsSettled(status string)
	IncBatchesAborted(reason string)
	AddGasCollected(wei float64)
	ObserveBatchSize(size float64)
	IncAccountsCreated()
	IncFeeQuoteCacheHit()
	IncFeeQuoteCacheMiss()
}

const namespace = "aaengine"

// PromMetrics implements EngineMetrics on a prometheus registry.
type PromMetrics struct {
	operationsSettled *prometheus.CounterVec
	batchesAborted    *prometheus.CounterVec
	gasCollected      prometheus.Counter
	batchSize         prometheus.Histogram
	accountsCreated   prometheus.Counter
	feeQuoteCache     *prometheus.CounterVec
}

func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	return &PromMetrics{
		operationsSettled: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_settled_total",
				Help:      "Operations that went through the execution pass, by outcome",
			}, []string{"status"}),

		batchesAborted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_aborted_total",
				Help:      "Batches rejected during the validation pass, by reason code",
			}, []string{"reason"}),

		gasCollected: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gas_collected_wei_total",
				Help:      "Total execution cost collected from accounts and sponsors",
			}),

		batchSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size_operations",
				Help:      "Number of operations per submitted batch",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			}),

		accountsCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accounts_created_total",
				Help:      "Accounts deployed through the factory",
			}),

		feeQuoteCache: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fee_quote_cache_total",
				Help:      "Fee quote cache lookups, by result",
			}, []string{"result"}),
	}
}

func (m *PromMetrics) IncOperationsSettled(status string) {
	m.operationsSettled.WithLabelValues(status).Inc()
}

func (m *PromMetrics) IncBatchesAborted(reason string) {
	m.batchesAborted.WithLabelValues(reason).Inc()
}

func (m *PromMetrics) AddGasCollected(wei float64) {
	m.gasCollected.Add(wei)
}

func (m *PromMetrics) ObserveBatchSize(size float64) {
	m.batchSize.Observe(size)
}

func (m *PromMetrics) IncAccountsCreated() {
	m.accountsCreated.Inc()
}

func (m *PromMetrics) IncFeeQuoteCacheHit() {
	m.feeQuoteCache.WithLabelValues("hit").Inc()
}

func (m *PromMetrics) IncFeeQuoteCacheMiss() {
	m.feeQuoteCache.WithLabelValues("miss").Inc()
}

// NoopMetrics satisfies EngineMetrics without recording anything.
type NoopMetrics struct{}

func (NoopMetrics) IncOperationsSettled(status string) {}
func (NoopMetrics) IncBatchesAborted(reason string)    {}
func (NoopMetrics) AddGasCollected(wei float64)        {}
func (NoopMetrics) ObserveBatchSize(size float64)      {}
func (NoopMetrics) IncAccountsCreated()                {}
func (NoopMetrics) IncFeeQuoteCacheHit()               {}
func (NoopMetrics) IncFeeQuoteCacheMiss()              {}
