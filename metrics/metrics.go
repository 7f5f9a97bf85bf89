package metrics

import "time"

// Recorder counts workflow events and times wallet round-trips.
// Labels are free-form; the Prometheus recorder only keeps "tier" and "outcome".
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names
const (
	EventPurchase    = "purchase"
	EventWithdraw    = "withdraw"
	EventBalance     = "balance_query"
	EventConnect     = "connect"
	EventDisconnect  = "disconnect"
	EventQuoteFetch  = "quote_fetch"
	EventChainChange = "chain_changed"
)

// Outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
