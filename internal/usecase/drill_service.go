package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"breakglass-service/internal/domain"
)

// reminderWindow はコンプライアンスレポートで期限接近とみなす幅。
const reminderWindow = 30 * 24 * time.Hour

// DrillRepository は災害復旧訓練へのアクセスのインターフェース。
type DrillRepository interface {
	Create(ctx context.Context, d *domain.DisasterRecoveryDrill) error
	FindByID(ctx context.Context, id string) (*domain.DisasterRecoveryDrill, error)
	List(ctx context.Context, status domain.DrillStatus) ([]*domain.DisasterRecoveryDrill, error)
	ListScheduledBefore(ctx context.Context, before time.Time) ([]*domain.DisasterRecoveryDrill, error)
	Complete(ctx context.Context, d *domain.DisasterRecoveryDrill, nextDue time.Time) error
	MarkMissed(ctx context.Context, id string) (bool, error)
}

// OpenActivationLister は未終了の発動の一覧のインターフェース。
type OpenActivationLister interface {
	ListOpen(ctx context.Context) ([]*domain.EmergencyActivation, error)
}

// DrillRequest は訓練予定の入力。
type DrillRequest struct {
	Name                string
	Type                string
	Scenario            string
	ScheduledAt         time.Time
	Participants        []string
	Objectives          []string
	TargetRecoveryHours float64
}

// DrillResult は訓練結果の入力。採点は人が行う。
type DrillResult struct {
	ActualStart   time.Time
	ActualEnd     time.Time
	ObjectivesMet []string
	Score         int
	Issues        []string
	Remediation   []string
}

// DrillStatistics は訓練の集計。
type DrillStatistics struct {
	Scheduled    int
	Completed    int
	Missed       int
	AverageScore float64
}

// ActivationProgress は未終了の発動と進捗の組。
type ActivationProgress struct {
	Activation *domain.EmergencyActivation
	Progress   *domain.RecoveryProgress
}

// ComplianceReport はコンプライアンスの現況。指摘は報告のみで、エラーにはしない。
type ComplianceReport struct {
	GeneratedAt               time.Time
	OverdueConfigs            []*domain.ThresholdConfig
	HoldersDueForRotation     []*domain.HolderSummary
	HoldersDueForTraining     []*domain.HolderSummary
	HoldersDueForVerification []*domain.HolderSummary
	Drills                    DrillStatistics
	OpenActivations           []ActivationProgress
	Alerts                    []string
}

// DrillService は訓練の予定・記録とコンプライアンスレポートを提供する。
type DrillService struct {
	drills      DrillRepository
	configs     ConfigRepository
	holders     HolderRepository
	activations OpenActivationLister
	now         func() time.Time
}

// NewDrillService は新しいDrillServiceを生成する。
func NewDrillService(drills DrillRepository, configs ConfigRepository, holders HolderRepository, activations OpenActivationLister) *DrillService {
	return &DrillService{
		drills:      drills,
		configs:     configs,
		holders:     holders,
		activations: activations,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleDrill は現行世代に対する訓練を予定する。予定の重複は確認しない。
func (s *DrillService) ScheduleDrill(ctx context.Context, req DrillRequest) (*domain.DisasterRecoveryDrill, error) {
	drillType, err := domain.ParseDrillType(req.Type)
	if err != nil {
		return nil, err
	}
	if !req.ScheduledAt.After(s.now()) {
		return nil, domain.ErrDrillInPast
	}
	cfg, err := s.configs.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding current config: %w", err)
	}
	if cfg == nil {
		return nil, domain.ErrNoActiveConfig
	}

	d := &domain.DisasterRecoveryDrill{
		Generation:          cfg.Generation,
		Name:                strings.TrimSpace(req.Name),
		Type:                drillType,
		Scenario:            req.Scenario,
		ScheduledAt:         req.ScheduledAt.UTC(),
		Participants:        req.Participants,
		Objectives:          req.Objectives,
		TargetRecoveryHours: req.TargetRecoveryHours,
		Status:              domain.DrillStatusScheduled,
	}
	if err := s.drills.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("creating drill: %w", err)
	}
	slog.InfoContext(ctx, "drill scheduled",
		"drill_id", d.ID,
		"type", string(d.Type),
		"scheduled_at", d.ScheduledAt,
	)
	return d, nil
}

// CompleteDrill は訓練結果を記録し、所属世代の次回訓練期限を実施終了の90日後にする。
func (s *DrillService) CompleteDrill(ctx context.Context, id string, res DrillResult) (*domain.DisasterRecoveryDrill, error) {
	d, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DrillStatusScheduled {
		return nil, domain.ErrDrillNotScheduled
	}
	if res.ActualEnd.Before(res.ActualStart) {
		return nil, domain.ErrInvalidDrillWindow
	}

	start, end := res.ActualStart.UTC(), res.ActualEnd.UTC()
	d.ActualStart = &start
	d.ActualEnd = &end
	d.DurationMinutes = int(math.Round(end.Sub(start).Minutes()))
	d.ObjectivesMet = res.ObjectivesMet
	d.Score = res.Score
	d.Issues = res.Issues
	d.Remediation = res.Remediation

	if err := s.drills.Complete(ctx, d, end.Add(domain.DrillCadence)); err != nil {
		return nil, fmt.Errorf("completing drill: %w", err)
	}
	slog.InfoContext(ctx, "drill completed",
		"drill_id", d.ID,
		"generation", d.Generation,
		"duration_minutes", d.DurationMinutes,
		"score", d.Score,
	)
	return d, nil
}

// MarkMissed は予定状態の訓練を未実施にする。
func (s *DrillService) MarkMissed(ctx context.Context, id string) (*domain.DisasterRecoveryDrill, error) {
	d, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.drills.MarkMissed(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("marking drill missed: %w", err)
	}
	if !ok {
		return nil, domain.ErrDrillNotScheduled
	}
	d.Status = domain.DrillStatusMissed
	return d, nil
}

// MarkStaleMissed は予定日時から grace 以上過ぎた訓練を未実施にし、件数を返す。
func (s *DrillService) MarkStaleMissed(ctx context.Context, grace time.Duration) (int, error) {
	stale, err := s.drills.ListScheduledBefore(ctx, s.now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("listing stale drills: %w", err)
	}
	marked := 0
	for _, d := range stale {
		ok, err := s.drills.MarkMissed(ctx, d.ID)
		if err != nil {
			return marked, fmt.Errorf("marking drill missed: %w", err)
		}
		if ok {
			marked++
			slog.WarnContext(ctx, "drill marked missed",
				"drill_id", d.ID,
				"scheduled_at", d.ScheduledAt,
			)
		}
	}
	return marked, nil
}

// GetDrill は訓練を返す。
func (s *DrillService) GetDrill(ctx context.Context, id string) (*domain.DisasterRecoveryDrill, error) {
	return s.find(ctx, id)
}

// ListDrills は訓練を返す。status が空の場合は全件。
func (s *DrillService) ListDrills(ctx context.Context, status domain.DrillStatus) ([]*domain.DisasterRecoveryDrill, error) {
	drills, err := s.drills.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("listing drills: %w", err)
	}
	return drills, nil
}

// GetOverdueDrills は訓練期限を過ぎた有効な世代を返す。
func (s *DrillService) GetOverdueDrills(ctx context.Context) ([]*domain.ThresholdConfig, error) {
	configs, err := s.configs.ListOverdue(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("listing overdue configs: %w", err)
	}
	return configs, nil
}

// ComplianceReport はコンプライアンスの現況を集計する。
func (s *DrillService) ComplianceReport(ctx context.Context) (*ComplianceReport, error) {
	now := s.now()
	report := &ComplianceReport{GeneratedAt: now}

	overdue, err := s.GetOverdueDrills(ctx)
	if err != nil {
		return nil, err
	}
	report.OverdueConfigs = overdue
	for _, c := range overdue {
		report.Alerts = append(report.Alerts,
			fmt.Sprintf("generation %d drill overdue since %s", c.Generation, c.NextTestDueAt.Format(time.RFC3339)))
	}

	before := now.Add(reminderWindow)
	rotation, err := s.holders.ListDueForRotation(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("listing holders due for rotation: %w", err)
	}
	training, err := s.holders.ListDueForTraining(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("listing holders due for training: %w", err)
	}
	verification, err := s.holders.ListDueForVerification(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("listing holders due for verification: %w", err)
	}
	report.HoldersDueForRotation = summaries(rotation)
	report.HoldersDueForTraining = summaries(training)
	report.HoldersDueForVerification = summaries(verification)
	if n := len(rotation); n > 0 {
		report.Alerts = append(report.Alerts, fmt.Sprintf("%d holders due for key rotation", n))
	}
	if n := len(training); n > 0 {
		report.Alerts = append(report.Alerts, fmt.Sprintf("%d holders due for training", n))
	}
	if n := len(verification); n > 0 {
		report.Alerts = append(report.Alerts, fmt.Sprintf("%d holders due for share verification", n))
	}

	drills, err := s.drills.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing drills: %w", err)
	}
	report.Drills = drillStatistics(drills)

	open, err := s.activations.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing open activations: %w", err)
	}
	for _, a := range open {
		p := ComputeProgress(a, now)
		report.OpenActivations = append(report.OpenActivations, ActivationProgress{Activation: a, Progress: p})
		if !p.OnTrack {
			report.Alerts = append(report.Alerts, fmt.Sprintf("activation %s is off track (%.1fh elapsed)", a.ID, p.HoursElapsed))
		}
	}
	return report, nil
}

func drillStatistics(drills []*domain.DisasterRecoveryDrill) DrillStatistics {
	var st DrillStatistics
	total := 0
	for _, d := range drills {
		switch d.Status {
		case domain.DrillStatusScheduled:
			st.Scheduled++
		case domain.DrillStatusCompleted:
			st.Completed++
			total += d.Score
		case domain.DrillStatusMissed:
			st.Missed++
		}
	}
	if st.Completed > 0 {
		st.AverageScore = float64(total) / float64(st.Completed)
	}
	return st
}

func (s *DrillService) find(ctx context.Context, id string) (*domain.DisasterRecoveryDrill, error) {
	d, err := s.drills.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding drill: %w", err)
	}
	if d == nil {
		return nil, domain.ErrDrillNotFound
	}
	return d, nil
}
