package quota

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"rssagg/models"
)

const (
	ScopeGlobal     = "global"
	ScopeAllSources = "all-sources"
)

// Limits are the guest preview budgets. Broad scopes get more than a single source.
type Limits struct {
	Total      int
	Global     int
	AllSources int
	Source     int
	Window     time.Duration
}

func DefaultLimits() Limits {
	return Limits{Total: 30, Global: 7, AllSources: 5, Source: 3, Window: 60 * time.Minute}
}

// ForScope returns the limit of a scope. Anything that is not global or
// all-sources names a single source.
func (l Limits) ForScope(scope string) int {
	switch scope {
	case ScopeGlobal:
		return l.Global
	case ScopeAllSources:
		return l.AllSources
	default:
		return l.Source
	}
}

// Store performs one atomic consume per call
type Store interface {
	ConsumeQuota(ctx context.Context, fingerprint, scope string, now time.Time, window time.Duration) (models.QuotaCounts, error)
}

// Result is what one guest read is entitled to
type Result struct {
	RemainingTotal int  `json:"remainingTotal"`
	RemainingScope int  `json:"remainingScope"`
	LimitTotal     int  `json:"limitTotal"`
	LimitScope     int  `json:"limitScope"`
	Exhausted      bool `json:"exhausted"`
	// Degraded is set when the store failed and the read was let through
	Degraded bool `json:"-"`
}

// Reveal returns how many of requested items the guest may see
func (r Result) Reveal(requested int) int {
	if r.Exhausted {
		return 0
	}
	return min(requested, r.LimitScope)
}

// Gate tracks guest consumption. It never fails a request: store errors are
// logged and the full limits are returned.
type Gate struct {
	store  Store
	limits Limits
	now    func() time.Time
}

func NewGate(store Store, limits Limits) *Gate {
	return &Gate{store: store, limits: limits, now: time.Now}
}

// SetClock replaces the time source
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

func (g *Gate) Limits() Limits {
	return g.limits
}

// CheckAndConsume counts one read of scope by fingerprint
func (g *Gate) CheckAndConsume(ctx context.Context, fingerprint, scope string) Result {
	limitScope := g.limits.ForScope(scope)
	result := Result{
		RemainingTotal: g.limits.Total,
		RemainingScope: limitScope,
		LimitTotal:     g.limits.Total,
		LimitScope:     limitScope,
	}

	counts, err := g.store.ConsumeQuota(ctx, fingerprint, scope, g.now(), g.limits.Window)
	if err != nil {
		consumes.WithLabelValues("degraded").Inc()
		log.WithFields(log.Fields{
			"scope": scope,
			"error": err,
		}).Warn("Guest quota store failed, letting read through")
		result.Degraded = true
		return result
	}

	result.RemainingTotal = max(g.limits.Total-counts.Total, 0)
	result.RemainingScope = max(limitScope-counts.ScopeCount, 0)
	result.Exhausted = counts.Total > g.limits.Total || counts.ScopeCount > limitScope

	if result.Exhausted {
		consumes.WithLabelValues("exhausted").Inc()
	} else {
		consumes.WithLabelValues("allowed").Inc()
	}
	return result
}
