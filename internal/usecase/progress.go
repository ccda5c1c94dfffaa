package usecase

import (
	"math"
	"time"

	"breakglass-service/internal/domain"
)

// recoveryMilestones は発動からの経過時間で評価する復旧マイルストーン。
var recoveryMilestones = []struct {
	name  string
	hours float64
}{
	{"initial assessment", 1},
	{"systems stabilized", 4},
	{"data integrity verified", 8},
	{"read-only restore", 12},
	{"full restore", 24},
	{"post-incident review started", 36},
	{"recovery fully verified", 48},
}

// ComputeProgress は発動の復旧進捗を now 時点で計算する。
// 経過時間は0未満にならず、進捗率は100を超えない。
func ComputeProgress(a *domain.EmergencyActivation, now time.Time) *domain.RecoveryProgress {
	elapsed := now.Sub(a.ActivatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	hours := elapsed.Hours()
	ceiling := domain.RecoveryCeiling.Hours()
	lead := domain.MilestoneLeadWindow.Hours()

	milestones := make([]domain.Milestone, len(recoveryMilestones))
	for i, m := range recoveryMilestones {
		status := domain.MilestonePending
		switch {
		case hours >= m.hours:
			status = domain.MilestoneCompleted
		case hours >= m.hours-lead:
			status = domain.MilestoneInProgress
		}
		milestones[i] = domain.Milestone{Name: m.name, TargetHours: m.hours, Status: status}
	}

	deadline := a.ActivatedAt.Add(domain.BreachNotificationWindow)
	return &domain.RecoveryProgress{
		ActivationID:                a.ID,
		HoursElapsed:                hours,
		HoursRemaining:              math.Max(0, ceiling-hours),
		PercentComplete:             int(math.Min(100, math.Round(100*hours/ceiling))),
		OnTrack:                     hours <= ceiling && !a.Extended,
		Milestones:                  milestones,
		BreachNotificationDeadline:  deadline,
		BreachNotificationRemaining: math.Max(0, deadline.Sub(now).Hours()),
	}
}
