package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/lens/internal/core/fault"
)

func checker(name string, err error) Checker {
	return CheckerFunc{
		ComponentName: name,
		Fn:            func(context.Context) error { return err },
	}
}

func TestMonitor_Healthy(t *testing.T) {
	monitor := NewMonitor(
		checker("toolserver", nil),
		checker("vision", nil),
	)

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.SystemStatus)
	}
	if len(report.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(report.Components))
	}
}

func TestMonitor_Degraded(t *testing.T) {
	monitor := NewMonitor(
		checker("toolserver", nil),
		checker("vision", fault.Network("endpoint flapping")),
	)

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
	if report.Components["vision"].Detail == "" {
		t.Error("expected failure detail on the vision component")
	}
}

func TestMonitor_Critical(t *testing.T) {
	monitor := NewMonitor(
		checker("toolserver", fault.Config("tool server binary missing")),
		checker("vision", fault.Network("endpoint flapping")),
	)

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical, got %s", report.SystemStatus)
	}
}

func TestMonitor_CachesReports(t *testing.T) {
	calls := 0
	monitor := NewMonitor(CheckerFunc{
		ComponentName: "toolserver",
		Fn: func(context.Context) error {
			calls++
			return nil
		},
	})

	monitor.CheckHealth(context.Background())
	monitor.CheckHealth(context.Background())
	if calls != 1 {
		t.Errorf("expected 1 check within the cache window, got %d", calls)
	}
}

func TestMonitor_ConcurrentChecksDoNotSerialize(t *testing.T) {
	var inflight, peak int32
	slow := CheckerFunc{
		ComponentName: "toolserver",
		Fn: func(context.Context) error {
			n := atomic.AddInt32(&inflight, 1)
			defer atomic.AddInt32(&inflight, -1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	monitor := NewMonitor(slow)
	monitor.cacheTTL = 0

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.CheckHealth(context.Background())
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&peak) < 2 {
		t.Error("a slow probe must not block a concurrent health request")
	}
}

func TestServerStartReturnsNilAfterGracefulStop(t *testing.T) {
	srv := NewServer(NewMonitor(), 0)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	time.Sleep(50 * time.Millisecond)

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("graceful stop surfaced as a start error: %v", err)
	}
}

func TestServerEndpoints(t *testing.T) {
	srv := NewServer(NewMonitor(checker("toolserver", nil)), 0)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Errorf("healthy system: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.handleDetailed(rec, httptest.NewRequest("GET", "/health/detailed", nil))
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("detailed report is not JSON: %v", err)
	}
	if _, ok := report.Components["toolserver"]; !ok {
		t.Error("detailed report missing toolserver component")
	}
}

func TestServerCriticalIs503(t *testing.T) {
	srv := NewServer(NewMonitor(checker("toolserver", fault.Config("broken"))), 0)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 503 {
		t.Errorf("critical system: status = %d, want 503", rec.Code)
	}
}
