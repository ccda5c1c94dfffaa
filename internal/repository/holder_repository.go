package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"breakglass-service/internal/domain"
)

// HolderRepository は鍵保有者レジストリへのアクセスを提供する。
type HolderRepository struct {
	db *gorm.DB
}

// NewHolderRepository は新しいHolderRepositoryを生成する。
func NewHolderRepository(db *gorm.DB) *HolderRepository {
	return &HolderRepository{db: db}
}

// Create は新しい保有者を保存する。
// 一意制約違反は順序位置の重複として ErrDuplicateOrdinal を返す。
func (r *HolderRepository) Create(ctx context.Context, h *domain.KeyHolder) error {
	model := newKeyHolderModel(h)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateOrdinal
		}
		slog.ErrorContext(ctx, "failed to create holder",
			"operation", "create",
			"generation", h.Generation,
			"ordinal", h.Ordinal,
			"error", err,
		)
		return err
	}
	h.ID = model.ID
	h.CreatedAt = model.CreatedAt
	h.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID は指定IDの保有者を取得する。存在しない場合は nil を返す。
func (r *HolderRepository) FindByID(ctx context.Context, id string) (*domain.KeyHolder, error) {
	var model KeyHolderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find holder",
			"operation", "find_by_id",
			"holder_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// ExistsOrdinal は世代内で順序位置が使用済みか確認する。
func (r *HolderRepository) ExistsOrdinal(ctx context.Context, generation uint, ordinal int) (bool, error) {
	return r.exists(ctx, "exists_ordinal", "generation = ? AND ordinal = ?", generation, ordinal)
}

// ExistsIdentity は世代内に同じ識別子の保有者がいるか確認する。
func (r *HolderRepository) ExistsIdentity(ctx context.Context, generation uint, identity string) (bool, error) {
	return r.exists(ctx, "exists_identity", "generation = ? AND identity = ?", generation, identity)
}

func (r *HolderRepository) exists(ctx context.Context, operation, query string, args ...interface{}) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&KeyHolderModel{}).
		Where(query, args...).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count holders",
			"operation", operation,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// ListByGeneration は世代の全保有者を順序位置順に取得する。
func (r *HolderRepository) ListByGeneration(ctx context.Context, generation uint) ([]*domain.KeyHolder, error) {
	return r.list(ctx, "list_by_generation", "generation = ?", generation)
}

// ListActiveByGeneration は世代の有効な保有者を取得する。
func (r *HolderRepository) ListActiveByGeneration(ctx context.Context, generation uint) ([]*domain.KeyHolder, error) {
	return r.list(ctx, "list_active_by_generation", "generation = ? AND status = ?", generation, string(domain.HolderStatusActive))
}

// ListDueForRotation は期限 before までに鍵ローテーションが必要な有効保有者を取得する。
func (r *HolderRepository) ListDueForRotation(ctx context.Context, before time.Time) ([]*domain.KeyHolder, error) {
	return r.list(ctx, "list_due_for_rotation", "status = ? AND rotation_due_at <= ?", string(domain.HolderStatusActive), before)
}

// ListDueForTraining は期限 before までに研修が失効する有効保有者を取得する。
func (r *HolderRepository) ListDueForTraining(ctx context.Context, before time.Time) ([]*domain.KeyHolder, error) {
	return r.list(ctx, "list_due_for_training", "status = ? AND training_expires_at <= ?", string(domain.HolderStatusActive), before)
}

// ListDueForVerification は期限 before までに保有確認が必要な有効保有者を取得する。
func (r *HolderRepository) ListDueForVerification(ctx context.Context, before time.Time) ([]*domain.KeyHolder, error) {
	return r.list(ctx, "list_due_for_verification", "status = ? AND verification_due_at <= ?", string(domain.HolderStatusActive), before)
}

func (r *HolderRepository) list(ctx context.Context, operation, query string, args ...interface{}) ([]*domain.KeyHolder, error) {
	var models []KeyHolderModel
	err := r.db.WithContext(ctx).
		Where(query, args...).
		Order("generation ASC, ordinal ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to list holders",
			"operation", operation,
			"error", err,
		)
		return nil, err
	}
	holders := make([]*domain.KeyHolder, len(models))
	for i := range models {
		holders[i] = models[i].toDomain()
	}
	return holders, nil
}

// UpdateStatus は保有者のステータスを更新する。
func (r *HolderRepository) UpdateStatus(ctx context.Context, id string, status domain.HolderStatus) error {
	return r.update(ctx, "update_status", id, map[string]interface{}{"status": string(status)})
}

// UpdateTraining は研修の有効期限を更新する。
func (r *HolderRepository) UpdateTraining(ctx context.Context, id string, expiresAt time.Time) error {
	return r.update(ctx, "update_training", id, map[string]interface{}{"training_expires_at": expiresAt})
}

// UpdateVerification は保有確認の次回期限を更新する。
func (r *HolderRepository) UpdateVerification(ctx context.Context, id string, dueAt time.Time) error {
	return r.update(ctx, "update_verification", id, map[string]interface{}{"verification_due_at": dueAt})
}

func (r *HolderRepository) update(ctx context.Context, operation, id string, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&KeyHolderModel{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update holder",
			"operation", operation,
			"holder_id", id,
			"error", err,
		)
		return err
	}
	return nil
}
