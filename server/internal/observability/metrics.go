package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and aggregates counters for coaching operations.
type Metrics struct {
	mu sync.Mutex

	requestTotal  atomic.Int64
	requestFailed atomic.Int64
	notesSaved    atomic.Int64

	opMetrics map[string]*OperationMetrics
}

// OperationMetrics represents counters for a single operation kind.
type OperationMetrics struct {
	executionCount atomic.Int64
	totalDuration  atomic.Int64 // milliseconds
	errorCount     atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		opMetrics: make(map[string]*OperationMetrics),
	}
}

var globalMetrics = NewMetrics()

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

// RecordRequest records a request for an operation.
func (m *Metrics) RecordRequest(operation string) {
	m.requestTotal.Add(1)
	m.getOperationMetrics(operation).executionCount.Add(1)
}

// RecordFailure records a failed request for an operation.
func (m *Metrics) RecordFailure(operation string) {
	m.requestFailed.Add(1)
	m.getOperationMetrics(operation).errorCount.Add(1)
}

// RecordDuration records a request duration for an operation.
func (m *Metrics) RecordDuration(operation string, duration time.Duration) {
	m.getOperationMetrics(operation).totalDuration.Add(duration.Milliseconds())
}

// RecordNoteSaved records a durable note write.
func (m *Metrics) RecordNoteSaved() {
	m.notesSaved.Add(1)
}

// GetRequestTotal returns the total number of requests.
func (m *Metrics) GetRequestTotal() int64 {
	return m.requestTotal.Load()
}

// GetRequestFailed returns the total number of failed requests.
func (m *Metrics) GetRequestFailed() int64 {
	return m.requestFailed.Load()
}

// GetNotesSaved returns the total number of notes saved.
func (m *Metrics) GetNotesSaved() int64 {
	return m.notesSaved.Load()
}

func (m *Metrics) getOperationMetrics(operation string) *OperationMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	om, ok := m.opMetrics[operation]
	if !ok {
		om = &OperationMetrics{}
		m.opMetrics[operation] = om
	}
	return om
}

// GetAverageDuration returns the average duration in milliseconds for an operation.
func (m *Metrics) GetAverageDuration(operation string) int64 {
	om := m.getOperationMetrics(operation)
	count := om.executionCount.Load()
	if count == 0 {
		return 0
	}
	return om.totalDuration.Load() / count
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.requestTotal.Store(0)
	m.requestFailed.Store(0)
	m.notesSaved.Store(0)

	m.mu.Lock()
	m.opMetrics = make(map[string]*OperationMetrics)
	m.mu.Unlock()
}

// Snapshot returns a point-in-time snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := make(map[string]*OperationSnapshot, len(m.opMetrics))
	for operation, om := range m.opMetrics {
		count := om.executionCount.Load()
		var avg int64
		if count > 0 {
			avg = om.totalDuration.Load() / count
		}
		ops[operation] = &OperationSnapshot{
			ExecutionCount:  count,
			TotalDuration:   om.totalDuration.Load(),
			ErrorCount:      om.errorCount.Load(),
			AverageDuration: avg,
		}
	}

	return &MetricsSnapshot{
		RequestTotal:  m.requestTotal.Load(),
		RequestFailed: m.requestFailed.Load(),
		NotesSaved:    m.notesSaved.Load(),
		Operations:    ops,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RequestTotal  int64
	RequestFailed int64
	NotesSaved    int64
	Operations    map[string]*OperationSnapshot
}

// OperationSnapshot represents counters for a single operation kind.
type OperationSnapshot struct {
	ExecutionCount  int64
	TotalDuration   int64
	ErrorCount      int64
	AverageDuration int64
}

// SuccessRate returns the success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.RequestTotal == 0 {
		return 100.0
	}
	return float64(s.RequestTotal-s.RequestFailed) / float64(s.RequestTotal) * 100.0
}
