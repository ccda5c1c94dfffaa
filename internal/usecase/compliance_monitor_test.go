package usecase

import (
	"context"
	"testing"
	"time"
)

func TestComplianceMonitor_RunOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2, 3)
	now := time.Now().UTC()
	env.drills.now = func() time.Time { return now }

	if _, err := env.drills.ScheduleDrill(ctx, DrillRequest{Name: "tabletop", Type: "tabletop", ScheduledAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("ScheduleDrill() error = %v", err)
	}
	env.activate(t)

	m := NewComplianceMonitor(env.drills, env.metrics, time.Hour)

	report, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(report.Alerts) != 0 {
		t.Errorf("Alerts = %q, want none", report.Alerts)
	}
	if report.Drills.Scheduled != 1 {
		t.Errorf("Drills.Scheduled = %d, want 1", report.Drills.Scheduled)
	}
	if got := env.metrics.gauge("open_activations"); got != 1 {
		t.Errorf("open_activations gauge = %d, want 1", got)
	}

	// 200日後には訓練が未実施になり、期限切れが計上される
	now = now.Add(200 * 24 * time.Hour)
	report, err = m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Drills.Missed != 1 || report.Drills.Scheduled != 0 {
		t.Errorf("Drills = %+v, want 1 missed", report.Drills)
	}
	if got := env.metrics.gauge("overdue_configs"); got != 1 {
		t.Errorf("overdue_configs gauge = %d, want 1", got)
	}
	if got := env.metrics.gauge("holders_due:verification"); got != 3 {
		t.Errorf("holders_due:verification gauge = %d, want 3", got)
	}
	if got := env.metrics.gauge("holders_due:rotation"); got != 0 {
		t.Errorf("holders_due:rotation gauge = %d, want 0", got)
	}
}

func TestComplianceMonitor_RunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	m := NewComplianceMonitor(env.drills, env.metrics, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
