package usecase

import (
	"context"
	"log/slog"
	"time"
)

// DefaultDrillGrace は予定日時を過ぎた訓練を未実施とみなすまでの猶予。
const DefaultDrillGrace = 24 * time.Hour

// ComplianceMonitor は定期的に訓練期限と保有者の期限を確認し、警告とメトリクスを更新する。
type ComplianceMonitor struct {
	drills   *DrillService
	metrics  Metrics
	interval time.Duration
	grace    time.Duration
}

// NewComplianceMonitor は新しいComplianceMonitorを生成する。
func NewComplianceMonitor(drills *DrillService, metrics Metrics, interval time.Duration) *ComplianceMonitor {
	return &ComplianceMonitor{
		drills:   drills,
		metrics:  metricsOrNop(metrics),
		interval: interval,
		grace:    DefaultDrillGrace,
	}
}

// Run は ctx がキャンセルされるまで interval ごとに確認を行う。起動直後に1回実行する。
func (m *ComplianceMonitor) Run(ctx context.Context) {
	slog.InfoContext(ctx, "compliance monitor started", "interval", m.interval.String())
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "compliance check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "compliance monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce は1回分の確認を行い、レポートを返す。
func (m *ComplianceMonitor) RunOnce(ctx context.Context) (*ComplianceReport, error) {
	if _, err := m.drills.MarkStaleMissed(ctx, m.grace); err != nil {
		return nil, err
	}
	report, err := m.drills.ComplianceReport(ctx)
	if err != nil {
		return nil, err
	}

	m.metrics.SetOverdueConfigs(len(report.OverdueConfigs))
	m.metrics.SetHoldersDue("rotation", len(report.HoldersDueForRotation))
	m.metrics.SetHoldersDue("training", len(report.HoldersDueForTraining))
	m.metrics.SetHoldersDue("verification", len(report.HoldersDueForVerification))
	m.metrics.SetOpenActivations(len(report.OpenActivations))

	for _, alert := range report.Alerts {
		slog.WarnContext(ctx, "compliance alert", "alert", alert)
	}
	return report, nil
}
