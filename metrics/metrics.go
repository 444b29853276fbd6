// Package metrics records payment engine events and latencies.
package metrics

import "time"

// Event names passed to IncCounter.
const (
	QuoteCreated        = "quote_created"
	QuoteRejected       = "quote_rejected"
	SettlementRejected  = "settlement_rejected"
	SettlementFailed    = "settlement_failed"
	SettlementCompleted = "settlement_completed"
	ReconciliationAlert = "reconciliation_alert"
)

// Latency names passed to ObserveLatency.
const (
	SettleLatency = "settle"
	SubmitLatency = "settlement_submit"
)

// Recorder receives engine events. Labels carry "network" and, for
// failures, the error "code".
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
