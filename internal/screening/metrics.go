package screening

import (
	"sync/atomic"

	"github.com/sells-group/watchlist-screen/internal/model"
)

// Metrics are append-only counters, independent of decision correctness.
type Metrics struct {
	requests      atomic.Int64
	skip          atomic.Int64
	low           atomic.Int64
	medium        atomic.Int64
	high          atomic.Int64
	review        atomic.Int64
	degraded      atomic.Int64
	auditFailures atomic.Int64

	exactFailures  atomic.Int64
	fuzzyFailures  atomic.Int64
	vectorFailures atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Requests         int64            `json:"requests"`
	ByRisk           map[string]int64 `json:"by_risk"`
	ReviewRequired   int64            `json:"review_required"`
	Degraded         int64            `json:"degraded"`
	AuditFailures    int64            `json:"audit_failures"`
	StrategyFailures map[string]int64 `json:"strategy_failures"`
}

func (m *Metrics) observe(d model.Decision, degraded []string) {
	m.requests.Add(1)
	switch d.Risk {
	case model.RiskSkip:
		m.skip.Add(1)
	case model.RiskLow:
		m.low.Add(1)
	case model.RiskMedium:
		m.medium.Add(1)
	case model.RiskHigh:
		m.high.Add(1)
	}
	if d.ReviewRequired {
		m.review.Add(1)
	}
	if len(degraded) > 0 {
		m.degraded.Add(1)
	}
	for _, name := range degraded {
		switch model.SearchType(name) {
		case model.SearchExact:
			m.exactFailures.Add(1)
		case model.SearchFuzzy:
			m.fuzzyFailures.Add(1)
		case model.SearchVector:
			m.vectorFailures.Add(1)
		}
	}
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests: m.requests.Load(),
		ByRisk: map[string]int64{
			string(model.RiskSkip):   m.skip.Load(),
			string(model.RiskLow):    m.low.Load(),
			string(model.RiskMedium): m.medium.Load(),
			string(model.RiskHigh):   m.high.Load(),
		},
		ReviewRequired: m.review.Load(),
		Degraded:       m.degraded.Load(),
		AuditFailures:  m.auditFailures.Load(),
		StrategyFailures: map[string]int64{
			string(model.SearchExact):  m.exactFailures.Load(),
			string(model.SearchFuzzy):  m.fuzzyFailures.Load(),
			string(model.SearchVector): m.vectorFailures.Load(),
		},
	}
}
