package agentcore

import "sync/atomic"

// Metrics is the counter surface the runtime reports through. No suitable
// third-party metrics library in the retrieval pack fits an in-process
// counter set this small (the pack's heavier options pull in a collector
// and exporter pipeline this runtime has no use for) so this is built on
// sync/atomic directly; see DESIGN.md.
type Metrics interface {
	IncPass()
	IncCommandRun()
	IncCommandFailed()
	IncValidationFailure()
	IncCompaction()
	IncDroppedEvent()
	ObserveTokens(used int)
	Snapshot() MetricsSnapshot
}

// MetricsSnapshot is a point-in-time read of every counter.
type MetricsSnapshot struct {
	Passes             int64
	CommandsRun        int64
	CommandsFailed     int64
	ValidationFailures int64
	Compactions        int64
	DroppedEvents      int64
	TokensMin          int64
	TokensMax          int64
	TokensLastObserved int64
}

// NoOpMetrics discards every observation.
type NoOpMetrics struct{}

func (NoOpMetrics) IncPass()                  {}
func (NoOpMetrics) IncCommandRun()             {}
func (NoOpMetrics) IncCommandFailed()          {}
func (NoOpMetrics) IncValidationFailure()      {}
func (NoOpMetrics) IncCompaction()             {}
func (NoOpMetrics) IncDroppedEvent()           {}
func (NoOpMetrics) ObserveTokens(int)          {}
func (NoOpMetrics) Snapshot() MetricsSnapshot  { return MetricsSnapshot{} }

// InMemoryMetrics is the default Metrics implementation: atomic counters
// plus a running min/max over ObserveTokens calls.
type InMemoryMetrics struct {
	passes             int64
	commandsRun        int64
	commandsFailed     int64
	validationFailures int64
	compactions        int64
	droppedEvents      int64
	tokensMin          int64
	tokensMax          int64
	tokensLast         int64
}

// NewInMemoryMetrics returns a ready-to-use InMemoryMetrics.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{tokensMin: -1}
}

func (m *InMemoryMetrics) IncPass()             { atomic.AddInt64(&m.passes, 1) }
func (m *InMemoryMetrics) IncCommandRun()        { atomic.AddInt64(&m.commandsRun, 1) }
func (m *InMemoryMetrics) IncCommandFailed()     { atomic.AddInt64(&m.commandsFailed, 1) }
func (m *InMemoryMetrics) IncValidationFailure() { atomic.AddInt64(&m.validationFailures, 1) }
func (m *InMemoryMetrics) IncCompaction()        { atomic.AddInt64(&m.compactions, 1) }
func (m *InMemoryMetrics) IncDroppedEvent()       { atomic.AddInt64(&m.droppedEvents, 1) }

func (m *InMemoryMetrics) ObserveTokens(used int) {
	v := int64(used)
	atomic.StoreInt64(&m.tokensLast, v)
	for {
		cur := atomic.LoadInt64(&m.tokensMin)
		if cur != -1 && cur <= v {
			break
		}
		if atomic.CompareAndSwapInt64(&m.tokensMin, cur, v) {
			break
		}
	}
	for {
		cur := atomic.LoadInt64(&m.tokensMax)
		if cur >= v {
			break
		}
		if atomic.CompareAndSwapInt64(&m.tokensMax, cur, v) {
			break
		}
	}
}

func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	min := atomic.LoadInt64(&m.tokensMin)
	if min == -1 {
		min = 0
	}
	return MetricsSnapshot{
		Passes:             atomic.LoadInt64(&m.passes),
		CommandsRun:        atomic.LoadInt64(&m.commandsRun),
		CommandsFailed:     atomic.LoadInt64(&m.commandsFailed),
		ValidationFailures: atomic.LoadInt64(&m.validationFailures),
		Compactions:        atomic.LoadInt64(&m.compactions),
		DroppedEvents:      atomic.LoadInt64(&m.droppedEvents),
		TokensMin:          min,
		TokensMax:          atomic.LoadInt64(&m.tokensMax),
		TokensLastObserved: atomic.LoadInt64(&m.tokensLast),
	}
}
