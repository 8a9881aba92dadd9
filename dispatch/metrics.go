package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Metrics collects dispatch statistics keyed by action type.
type Metrics struct {
	mu sync.RWMutex

	actionMetrics map[string]*ActionMetrics

	totalDispatches uint64
	totalErrors     uint64
	totalDeadlocks  uint64
	totalDuration   time.Duration
}

// ActionMetrics holds statistics for one action type.
type ActionMetrics struct {
	ActionType    string
	DispatchCount uint64
	ErrorCount    uint64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
	LastDispatch  time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		actionMetrics: make(map[string]*ActionMetrics),
	}
}

// Record records the outcome of one dispatch.
func (m *Metrics) Record(actionType string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalDispatches++
	m.totalDuration += duration
	if err != nil {
		m.totalErrors++
		if errors.Is(err, ErrDeadlock) {
			m.totalDeadlocks++
		}
	}

	am := m.actionMetrics[actionType]
	if am == nil {
		am = &ActionMetrics{
			ActionType:  actionType,
			MinDuration: duration,
			MaxDuration: duration,
		}
		m.actionMetrics[actionType] = am
	}

	am.DispatchCount++
	am.TotalDuration += duration
	am.LastDispatch = time.Now()
	if err != nil {
		am.ErrorCount++
	}
	if duration < am.MinDuration {
		am.MinDuration = duration
	}
	if duration > am.MaxDuration {
		am.MaxDuration = duration
	}
}

// TotalDispatches returns the total number of dispatches recorded.
func (m *Metrics) TotalDispatches() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalDispatches
}

// TotalErrors returns the number of dispatches that failed.
func (m *Metrics) TotalErrors() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalErrors
}

// TotalDeadlocks returns the number of dispatches aborted by deadlock.
func (m *Metrics) TotalDeadlocks() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalDeadlocks
}

// AverageDuration returns the average dispatch duration.
func (m *Metrics) AverageDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.totalDispatches == 0 {
		return 0
	}
	return m.totalDuration / time.Duration(m.totalDispatches)
}

// ActionStats returns a copy of the metrics for one action type, or nil if
// the type has never been dispatched.
func (m *Metrics) ActionStats(actionType string) *ActionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	am := m.actionMetrics[actionType]
	if am == nil {
		return nil
	}
	statsCopy := *am
	return &statsCopy
}

// TopActions returns the n most dispatched action types.
func (m *Metrics) TopActions(n int) []*ActionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actions := make([]*ActionMetrics, 0, len(m.actionMetrics))
	for _, am := range m.actionMetrics {
		statsCopy := *am
		actions = append(actions, &statsCopy)
	}

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].DispatchCount > actions[j].DispatchCount
	})

	if n > len(actions) {
		n = len(actions)
	}
	return actions[:n]
}

// Reset clears all recorded metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.actionMetrics = make(map[string]*ActionMetrics)
	m.totalDispatches = 0
	m.totalErrors = 0
	m.totalDeadlocks = 0
	m.totalDuration = 0
}

// AverageActionDuration returns the average duration for this action type.
func (am *ActionMetrics) AverageActionDuration() time.Duration {
	if am.DispatchCount == 0 {
		return 0
	}
	return am.TotalDuration / time.Duration(am.DispatchCount)
}

// actionTypeName names an action for metrics and tracing.
func actionTypeName(action any) string {
	return fmt.Sprintf("%T", action)
}
