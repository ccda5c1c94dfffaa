package domain

import "time"

const (
	// RecoveryCeiling は緊急復旧の全体目標時間（48時間）。
	RecoveryCeiling = 48 * time.Hour
	// BreachNotificationWindow は侵害通知の目標時間（72時間）。
	BreachNotificationWindow = 72 * time.Hour
	// MilestoneLeadWindow はマイルストーンを進行中とみなす目標時刻前の幅。
	MilestoneLeadWindow = 2 * time.Hour
)

// MilestoneStatus はマイルストーンの評価結果を表す。
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
)

// Milestone は復旧マイルストーンの評価結果を表す。
type Milestone struct {
	Name        string
	TargetHours float64
	Status      MilestoneStatus
}

// RecoveryProgress は発動に対する復旧時間の進捗（導出値）を表す。
type RecoveryProgress struct {
	ActivationID                string
	HoursElapsed                float64
	HoursRemaining              float64
	PercentComplete             int
	OnTrack                     bool
	Milestones                  []Milestone
	BreachNotificationDeadline  time.Time
	BreachNotificationRemaining float64
}

// ComponentRecoveryStatus は構成要素ごとのRTO/RPO達成状況を表す。
type ComponentRecoveryStatus struct {
	Component        string
	Tier             CriticalityTier
	RecoveryDeadline time.Time
	HoursRemaining   float64
	Breached         bool
	DependsOn        []string
}
