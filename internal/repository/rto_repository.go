package repository

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"breakglass-service/internal/domain"
)

// RTORepository は構成要素ごとの復旧目標へのアクセスを提供する。
type RTORepository struct {
	db *gorm.DB
}

// NewRTORepository は新しいRTORepositoryを生成する。
func NewRTORepository(db *gorm.DB) *RTORepository {
	return &RTORepository{db: db}
}

// Create は復旧目標を保存する。構成要素名の重複は ErrInvalidRTO を返す。
func (r *RTORepository) Create(ctx context.Context, rto *domain.RecoveryTimeObjective) error {
	model := &RecoveryTimeObjectiveModel{
		ID:                  rto.ID,
		Component:           rto.Component,
		Description:         rto.Description,
		TargetRecoveryHours: rto.TargetRecoveryHours,
		TargetPointHours:    rto.TargetPointHours,
		Tier:                string(rto.Tier),
		DependsOn:           rto.DependsOn,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrInvalidRTO
		}
		slog.ErrorContext(ctx, "failed to create rto",
			"operation", "create",
			"component", rto.Component,
			"error", err,
		)
		return err
	}
	rto.ID = model.ID
	rto.CreatedAt = model.CreatedAt
	rto.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID は復旧目標を取得する。存在しない場合は nil を返す。
func (r *RTORepository) FindByID(ctx context.Context, id string) (*domain.RecoveryTimeObjective, error) {
	var model RecoveryTimeObjectiveModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find rto",
			"operation", "find_by_id",
			"rto_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// List は全ての復旧目標を構成要素名順に取得する。
func (r *RTORepository) List(ctx context.Context) ([]*domain.RecoveryTimeObjective, error) {
	var models []RecoveryTimeObjectiveModel
	if err := r.db.WithContext(ctx).Order("component ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to list rtos",
			"operation", "list",
			"error", err,
		)
		return nil, err
	}
	rtos := make([]*domain.RecoveryTimeObjective, len(models))
	for i := range models {
		rtos[i] = models[i].toDomain()
	}
	return rtos, nil
}

// Delete は復旧目標を削除する。削除できた場合に true を返す。
func (r *RTORepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&RecoveryTimeObjectiveModel{})
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to delete rto",
			"operation", "delete",
			"rto_id", id,
			"error", res.Error,
		)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
