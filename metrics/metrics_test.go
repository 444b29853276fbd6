package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.IncCounter("settlement_failed", map[string]string{"network": "solana-devnet", "code": "SimulationFailure"})
	rec.IncCounter("settlement_failed", map[string]string{"network": "solana-devnet", "code": "SimulationFailure"})
	rec.ObserveLatency("settlement", 150*time.Millisecond, map[string]string{"network": "solana-devnet"})

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.counters.WithLabelValues("settlement_failed", "solana-devnet", "SimulationFailure")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.histogram))
}

func TestMemoryRecorder(t *testing.T) {
	var rec MemoryRecorder
	rec.IncCounter("quote_created", nil)
	rec.IncCounter("settlement_failed", map[string]string{"code": "OnChainFailure"})
	rec.ObserveLatency("settlement", time.Second, nil)

	assert.Equal(t, 1, rec.Count("quote_created"))
	assert.Equal(t, 1, rec.Count("settlement_failed:OnChainFailure"))
	assert.Equal(t, 1, rec.Observations("settlement"))

	var _ Recorder = &rec
	var _ Recorder = NoopRecorder{}
}
