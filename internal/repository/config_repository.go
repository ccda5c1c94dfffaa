package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"breakglass-service/internal/domain"
)

// ConfigRepository は閾値構成（世代）と現行世代ポインタへのアクセスを提供する。
type ConfigRepository struct {
	db *gorm.DB
}

// NewConfigRepository は新しいConfigRepositoryを生成する。
func NewConfigRepository(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// GetCurrent は現行世代の構成を取得する。存在しない場合は nil を返す。
func (r *ConfigRepository) GetCurrent(ctx context.Context) (*domain.ThresholdConfig, error) {
	var root TrustRootModel
	err := r.db.WithContext(ctx).Where("id = ?", trustRootRowID).First(&root).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find trust root",
			"operation", "get_current",
			"error", err,
		)
		return nil, err
	}
	return r.FindByGeneration(ctx, root.CurrentGeneration)
}

// FindByGeneration は指定世代の構成を取得する。存在しない場合は nil を返す。
func (r *ConfigRepository) FindByGeneration(ctx context.Context, generation uint) (*domain.ThresholdConfig, error) {
	var model ThresholdConfigModel
	err := r.db.WithContext(ctx).Where("generation = ?", generation).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find config",
			"operation", "find_by_generation",
			"generation", generation,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// ListAll は全世代の構成を世代順に取得する。
func (r *ConfigRepository) ListAll(ctx context.Context) ([]*domain.ThresholdConfig, error) {
	var models []ThresholdConfigModel
	if err := r.db.WithContext(ctx).Order("generation ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to list configs",
			"operation", "list_all",
			"error", err,
		)
		return nil, err
	}
	configs := make([]*domain.ThresholdConfig, len(models))
	for i := range models {
		configs[i] = models[i].toDomain()
	}
	return configs, nil
}

// CreateGeneration は新しい世代と保有者を登録し、現行世代ポインタを付け替える。
// expectedCurrent は呼び出し時点で観測した現行世代（未初期化なら0）で、
// 他の付け替えと競合した場合は ErrConcurrentRotation を返す。
func (r *ConfigRepository) CreateGeneration(ctx context.Context, cfg *domain.ThresholdConfig, holders []*domain.KeyHolder, expectedCurrent uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := &ThresholdConfigModel{
			Generation:    cfg.Generation,
			Threshold:     cfg.Threshold,
			TotalShares:   cfg.TotalShares,
			NextTestDueAt: cfg.NextTestDueAt,
		}
		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrConcurrentRotation
			}
			return err
		}
		cfg.CreatedAt = model.CreatedAt

		if expectedCurrent == 0 {
			root := &TrustRootModel{ID: trustRootRowID, CurrentGeneration: cfg.Generation}
			if err := tx.Create(root).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return domain.ErrConfigAlreadyInitialized
				}
				return err
			}
		} else {
			res := tx.Model(&TrustRootModel{}).
				Where("id = ? AND current_generation = ?", trustRootRowID, expectedCurrent).
				Update("current_generation", cfg.Generation)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return domain.ErrConcurrentRotation
			}
			now := cfg.CreatedAt
			if err := tx.Model(&ThresholdConfigModel{}).
				Where("generation = ?", expectedCurrent).
				Updates(map[string]interface{}{"superseded": true, "superseded_at": now}).Error; err != nil {
				return err
			}
		}

		for _, h := range holders {
			hm := newKeyHolderModel(h)
			if err := tx.Create(hm).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return domain.ErrInvalidEnrollment
				}
				return err
			}
			h.ID = hm.ID
			h.CreatedAt = hm.CreatedAt
			h.UpdatedAt = hm.UpdatedAt
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create generation",
			"operation", "create_generation",
			"generation", cfg.Generation,
			"error", err,
		)
		return err
	}
	return nil
}

// ListOverdue は訓練期限を過ぎた有効な構成を取得する。
func (r *ConfigRepository) ListOverdue(ctx context.Context, now time.Time) ([]*domain.ThresholdConfig, error) {
	var models []ThresholdConfigModel
	err := r.db.WithContext(ctx).
		Where("superseded = ? AND next_test_due_at < ?", false, now).
		Order("generation ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to list overdue configs",
			"operation", "list_overdue",
			"error", err,
		)
		return nil, err
	}
	configs := make([]*domain.ThresholdConfig, len(models))
	for i := range models {
		configs[i] = models[i].toDomain()
	}
	return configs, nil
}
