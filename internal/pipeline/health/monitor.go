package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/lens/internal/core/fault"
)

// Checker probes one dependency. A nil error means healthy; a recoverable
// fault means degraded; anything else means critical.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.ComponentName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// Monitor fans health checks out to all registered checkers. Results are
// cached briefly so probe endpoints cannot hammer the dependencies.
type Monitor struct {
	checkers []Checker
	cacheTTL time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a monitor over the given checkers.
func NewMonitor(checkers ...Checker) *Monitor {
	return &Monitor{
		checkers: checkers,
		cacheTTL: 10 * time.Second,
	}
}

// CheckHealth runs every checker concurrently and aggregates the report.
// The worst component status wins. The lock covers only the cache, never
// the probes themselves, so one slow dependency cannot serialize every
// health request behind it.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	if time.Since(m.lastCheck) < m.cacheTTL && m.lastReport.Components != nil {
		report := m.lastReport
		m.mu.Unlock()
		return report
	}
	m.mu.Unlock()

	components := make([]ComponentHealth, len(m.checkers))
	g, ctx := errgroup.WithContext(ctx)
	for i, checker := range m.checkers {
		g.Go(func() error {
			components[i] = runCheck(ctx, checker)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(components)),
	}
	for _, c := range components {
		report.Components[c.Name] = c
		switch {
		case c.Status == StatusCritical:
			report.SystemStatus = StatusCritical
		case c.Status == StatusDegraded && report.SystemStatus == StatusHealthy:
			report.SystemStatus = StatusDegraded
		}
	}

	m.mu.Lock()
	m.lastCheck = time.Now()
	m.lastReport = report
	m.mu.Unlock()
	return report
}

func runCheck(ctx context.Context, checker Checker) ComponentHealth {
	health := ComponentHealth{
		Name:      checker.Name(),
		Status:    StatusHealthy,
		CheckedAt: time.Now(),
	}

	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := checker.Check(checkCtx); err != nil {
		health.Detail = err.Error()
		if fault.IsRecoverable(err) {
			health.Status = StatusDegraded
		} else {
			health.Status = StatusCritical
		}
	}
	return health
}
