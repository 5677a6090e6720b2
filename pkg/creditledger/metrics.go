package creditledger

import "time"

// Metrics defines the interface for tracking ledger operations.
// All methods must be safe for concurrent use.
type Metrics interface {
	// RecordGrant records the outcome of an ApplyGrant call.
	// result: "applied", "duplicate" or "error".
	RecordGrant(result string)

	// RecordGrantDuration records how long an ApplyGrant call took.
	RecordGrantDuration(d time.Duration)

	// RecordStatusChange records an applied status change.
	RecordStatusChange(status string)

	// RecordVersionConflict records one conditional-write conflict that
	// forced a re-read.
	RecordVersionConflict()

	// RecordStoreError records a store failure by operation ("read",
	// "write").
	RecordStoreError(op string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordGrant(_ string)                 {}
func (n *NoopMetrics) RecordGrantDuration(_ time.Duration)  {}
func (n *NoopMetrics) RecordStatusChange(_ string)          {}
func (n *NoopMetrics) RecordVersionConflict()               {}
func (n *NoopMetrics) RecordStoreError(_ string)            {}
