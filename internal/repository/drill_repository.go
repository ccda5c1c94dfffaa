package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"breakglass-service/internal/domain"
)

// DrillRepository は災害復旧訓練へのアクセスを提供する。
type DrillRepository struct {
	db *gorm.DB
}

// NewDrillRepository は新しいDrillRepositoryを生成する。
func NewDrillRepository(db *gorm.DB) *DrillRepository {
	return &DrillRepository{db: db}
}

// Create は訓練予定を保存する。
func (r *DrillRepository) Create(ctx context.Context, d *domain.DisasterRecoveryDrill) error {
	model := &DrillModel{
		ID:                  d.ID,
		Generation:          d.Generation,
		Name:                d.Name,
		DrillType:           string(d.Type),
		Scenario:            d.Scenario,
		ScheduledAt:         d.ScheduledAt,
		Participants:        d.Participants,
		Objectives:          d.Objectives,
		TargetRecoveryHours: d.TargetRecoveryHours,
		Status:              string(d.Status),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create drill",
			"operation", "create",
			"generation", d.Generation,
			"error", err,
		)
		return err
	}
	d.ID = model.ID
	d.CreatedAt = model.CreatedAt
	d.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID は訓練を取得する。存在しない場合は nil を返す。
func (r *DrillRepository) FindByID(ctx context.Context, id string) (*domain.DisasterRecoveryDrill, error) {
	var model DrillModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find drill",
			"operation", "find_by_id",
			"drill_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// List は訓練を予定日時順に取得する。status が空の場合は全件。
func (r *DrillRepository) List(ctx context.Context, status domain.DrillStatus) ([]*domain.DisasterRecoveryDrill, error) {
	q := r.db.WithContext(ctx).Order("scheduled_at ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	return r.find(ctx, "list", q)
}

// ListScheduledBefore は予定日時が before より前のまま未実施の訓練を取得する。
func (r *DrillRepository) ListScheduledBefore(ctx context.Context, before time.Time) ([]*domain.DisasterRecoveryDrill, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at < ?", string(domain.DrillStatusScheduled), before).
		Order("scheduled_at ASC")
	return r.find(ctx, "list_scheduled_before", q)
}

func (r *DrillRepository) find(ctx context.Context, operation string, q *gorm.DB) ([]*domain.DisasterRecoveryDrill, error) {
	var models []DrillModel
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to list drills",
			"operation", operation,
			"error", err,
		)
		return nil, err
	}
	drills := make([]*domain.DisasterRecoveryDrill, len(models))
	for i := range models {
		drills[i] = models[i].toDomain()
	}
	return drills, nil
}

// Complete は訓練結果を記録し、同じトランザクションで所属世代の訓練期限を進める。
// 世代の最終訓練日時より前に終わった訓練では期限を更新しない。
// 予定状態でない場合は ErrDrillNotScheduled を返す。
func (r *DrillRepository) Complete(ctx context.Context, d *domain.DisasterRecoveryDrill, nextDue time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 一覧項目はJSONシリアライザを通すため構造体で更新する。
		res := tx.Model(&DrillModel{}).
			Where("id = ? AND status = ?", d.ID, string(domain.DrillStatusScheduled)).
			Select("status", "actual_start", "actual_end", "duration_minutes", "objectives_met", "score", "issues", "remediation").
			Updates(&DrillModel{
				Status:          string(domain.DrillStatusCompleted),
				ActualStart:     d.ActualStart,
				ActualEnd:       d.ActualEnd,
				DurationMinutes: d.DurationMinutes,
				ObjectivesMet:   d.ObjectivesMet,
				Score:           d.Score,
				Issues:          d.Issues,
				Remediation:     d.Remediation,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return domain.ErrDrillNotScheduled
		}
		// 後から古い訓練を完了しても期限は戻さない
		return tx.Model(&ThresholdConfigModel{}).
			Where("generation = ? AND (last_tested_at IS NULL OR last_tested_at < ?)", d.Generation, d.ActualEnd).
			Updates(map[string]interface{}{
				"last_tested_at":   d.ActualEnd,
				"next_test_due_at": nextDue,
			}).Error
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDrillNotScheduled) {
			slog.ErrorContext(ctx, "failed to complete drill",
				"operation", "complete",
				"drill_id", d.ID,
				"error", err,
			)
		}
		return err
	}
	d.Status = domain.DrillStatusCompleted
	return nil
}

// MarkMissed は予定状態の訓練を未実施にする。遷移できた場合に true を返す。
func (r *DrillRepository) MarkMissed(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&DrillModel{}).
		Where("id = ? AND status = ?", id, string(domain.DrillStatusScheduled)).
		Update("status", string(domain.DrillStatusMissed))
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to mark drill missed",
			"operation", "mark_missed",
			"drill_id", id,
			"error", res.Error,
		)
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
