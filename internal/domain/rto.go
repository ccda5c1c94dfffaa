package domain

import "time"

// CriticalityTier はシステム構成要素の重要度区分を表す。
type CriticalityTier string

const (
	TierCritical CriticalityTier = "critical"
	TierHigh     CriticalityTier = "high"
	TierMedium   CriticalityTier = "medium"
	TierLow      CriticalityTier = "low"
)

// ParseTier は文字列を重要度区分に変換する。
func ParseTier(s string) (CriticalityTier, error) {
	switch CriticalityTier(s) {
	case TierCritical, TierHigh, TierMedium, TierLow:
		return CriticalityTier(s), nil
	}
	return "", ErrInvalidRTO
}

// RecoveryTimeObjective は構成要素ごとの復旧目標を表す。
// DependsOn は復旧作業の順序付けのための情報で、強制はしない。
type RecoveryTimeObjective struct {
	ID                  string
	Component           string
	Description         string
	TargetRecoveryHours float64
	TargetPointHours    float64
	Tier                CriticalityTier
	DependsOn           []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
