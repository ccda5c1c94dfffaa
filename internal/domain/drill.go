package domain

import "time"

// DrillType は訓練種別を表す。
type DrillType string

const (
	DrillTypeTabletop   DrillType = "tabletop"
	DrillTypeSimulation DrillType = "simulation"
	DrillTypeFullTest   DrillType = "full_test"
	DrillTypeSurprise   DrillType = "surprise"
)

// ParseDrillType は文字列を訓練種別に変換する。
func ParseDrillType(s string) (DrillType, error) {
	switch DrillType(s) {
	case DrillTypeTabletop, DrillTypeSimulation, DrillTypeFullTest, DrillTypeSurprise:
		return DrillType(s), nil
	}
	return "", ErrInvalidDrillType
}

// DrillStatus は訓練の状態を表す。
type DrillStatus string

const (
	DrillStatusScheduled DrillStatus = "scheduled"
	DrillStatusCompleted DrillStatus = "completed"
	DrillStatusMissed    DrillStatus = "missed"
)

// DisasterRecoveryDrill は1回の災害復旧訓練を表す。
// 採点と目標達成の判定は人が行い、エンジンは記録と期限管理のみを担う。
type DisasterRecoveryDrill struct {
	ID                  string
	Generation          uint
	Name                string
	Type                DrillType
	Scenario            string
	ScheduledAt         time.Time
	Participants        []string
	Objectives          []string
	TargetRecoveryHours float64
	ActualStart         *time.Time
	ActualEnd           *time.Time
	DurationMinutes     int
	ObjectivesMet       []string
	Score               int
	Issues              []string
	Remediation         []string
	Status              DrillStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
