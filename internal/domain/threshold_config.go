package domain

import "time"

// DrillCadence は訓練の実施間隔（四半期）。
const DrillCadence = 90 * 24 * time.Hour

// ThresholdConfig は1つの秘密分散世代を表す。
// 世代番号で管理され、現行世代は TrustRoot が指す。
type ThresholdConfig struct {
	Generation    uint
	Threshold     int
	TotalShares   int
	Superseded    bool
	SupersededAt  *time.Time
	LastTestedAt  *time.Time
	NextTestDueAt time.Time
	CreatedAt     time.Time
}

// ValidateThreshold は 1 <= T <= N <= 255 を検証する。
func ValidateThreshold(threshold, total int) error {
	if threshold < 1 || total < threshold || total > 255 {
		return ErrInvalidThreshold
	}
	return nil
}

// IsTestOverdue は訓練期限を過ぎているかを返す。
func (c *ThresholdConfig) IsTestOverdue(now time.Time) bool {
	return !c.Superseded && now.After(c.NextTestDueAt)
}
