package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"breakglass-service/internal/domain"
)

// maxSignatureAttempts は署名カウントのCAS競合時の再試行上限。
const maxSignatureAttempts = 8

// errCountConflict は署名カウントのCASが他の提出と競合したことを表す。
var errCountConflict = errors.New("signature count changed concurrently")

// ActivationRepository は緊急発動とその署名・拒否・復旧ログへのアクセスを提供する。
type ActivationRepository struct {
	db *gorm.DB
}

// NewActivationRepository は新しいActivationRepositoryを生成する。
func NewActivationRepository(db *gorm.DB) *ActivationRepository {
	return &ActivationRepository{db: db}
}

// Create は新しい発動を保存する。
func (r *ActivationRepository) Create(ctx context.Context, a *domain.EmergencyActivation) error {
	model := &EmergencyActivationModel{
		ID:          a.ID,
		TriggerRef:  a.TriggerRef,
		Reason:      a.Reason,
		Severity:    string(a.Severity),
		ActivatedBy: a.ActivatedBy,
		ActivatedAt: a.ActivatedAt,
		Generation:  a.Generation,
		Threshold:   a.Threshold,
		TotalShares: a.TotalShares,
		Status:      string(a.Status),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create activation",
			"operation", "create",
			"generation", a.Generation,
			"error", err,
		)
		return err
	}
	a.ID = model.ID
	return nil
}

// FindByID は発動本体を取得する。存在しない場合は nil を返す。
func (r *ActivationRepository) FindByID(ctx context.Context, id string) (*domain.EmergencyActivation, error) {
	var model EmergencyActivationModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find activation",
			"operation", "find_by_id",
			"activation_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// signatureRow は分割片本体を読まずに保持有無だけを取り出す署名枠の行。
type signatureRow struct {
	ActivationID string
	Slot         int
	HolderID     string
	SubmittedAt  time.Time
	Origin       string
	ShareHeld    bool
}

// FindDetail は署名枠・拒否・復旧ログを含む発動を取得する。
// 署名枠の暗号化分割片は含めず、保持有無のみ返す。
func (r *ActivationRepository) FindDetail(ctx context.Context, id string) (*domain.EmergencyActivation, error) {
	a, err := r.FindByID(ctx, id)
	if err != nil || a == nil {
		return a, err
	}

	var sigs []signatureRow
	if err := r.db.WithContext(ctx).
		Model(&ActivationSignatureModel{}).
		Select("activation_id, slot, holder_id, submitted_at, origin, sealed_share IS NOT NULL AS share_held").
		Where("activation_id = ?", id).
		Order("slot ASC").
		Scan(&sigs).Error; err != nil {
		slog.ErrorContext(ctx, "failed to list signatures",
			"operation", "find_detail",
			"activation_id", id,
			"error", err,
		)
		return nil, err
	}
	a.Signatures = make([]*domain.SignatureSlot, len(sigs))
	for i, s := range sigs {
		a.Signatures[i] = &domain.SignatureSlot{
			ActivationID: s.ActivationID,
			Slot:         s.Slot,
			HolderID:     s.HolderID,
			SubmittedAt:  s.SubmittedAt,
			Origin:       s.Origin,
			ShareHeld:    s.ShareHeld,
		}
	}

	var rejections []ActivationRejectionModel
	if err := r.db.WithContext(ctx).
		Where("activation_id = ?", id).
		Order("rejected_at ASC").
		Find(&rejections).Error; err != nil {
		slog.ErrorContext(ctx, "failed to list rejections",
			"operation", "find_detail",
			"activation_id", id,
			"error", err,
		)
		return nil, err
	}
	a.Rejections = make([]*domain.Rejection, len(rejections))
	for i, m := range rejections {
		a.Rejections[i] = &domain.Rejection{
			ActivationID: m.ActivationID,
			HolderID:     m.HolderID,
			Reason:       m.Reason,
			RejectedAt:   m.RejectedAt,
		}
	}

	actions, err := r.ListActions(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Actions = actions
	return a, nil
}

// List は発動一覧を新しい順に取得する。status が空の場合は全件。
func (r *ActivationRepository) List(ctx context.Context, status domain.ActivationStatus) ([]*domain.EmergencyActivation, error) {
	q := r.db.WithContext(ctx).Order("activated_at DESC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var models []EmergencyActivationModel
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to list activations",
			"operation", "list",
			"status", status,
			"error", err,
		)
		return nil, err
	}
	activations := make([]*domain.EmergencyActivation, len(models))
	for i := range models {
		activations[i] = models[i].toDomain()
	}
	return activations, nil
}

// ListOpen は終端状態でない発動を取得する。
func (r *ActivationRepository) ListOpen(ctx context.Context) ([]*domain.EmergencyActivation, error) {
	var models []EmergencyActivationModel
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []string{string(domain.ActivationStatusResolved), string(domain.ActivationStatusCancelled)}).
		Order("activated_at ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to list open activations",
			"operation", "list_open",
			"error", err,
		)
		return nil, err
	}
	activations := make([]*domain.EmergencyActivation, len(models))
	for i := range models {
		activations[i] = models[i].toDomain()
	}
	return activations, nil
}

// AppendSignature は署名を次の空き枠に記録し、受領数を原子的に加算する。
//
// 受領数は「読み取った値と一致する場合のみ+1」するCASで更新するため、
// 同時提出が同じ枠番号を得ることはなく、受領数がNを超えることもない。
// 受領数がTに達した提出のうち、collecting→authorized のCASに成功した
// 1件だけが QuorumReached=true を受け取る。
func (r *ActivationRepository) AppendSignature(ctx context.Context, sig *domain.SignatureSlot) (*domain.SignatureResult, error) {
	for attempt := 0; attempt < maxSignatureAttempts; attempt++ {
		result, err := r.appendSignatureOnce(ctx, sig)
		if errors.Is(err, errCountConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	slog.WarnContext(ctx, "signature append retries exhausted",
		"operation", "append_signature",
		"activation_id", sig.ActivationID,
	)
	return nil, domain.ErrConcurrentUpdate
}

func (r *ActivationRepository) appendSignatureOnce(ctx context.Context, sig *domain.SignatureSlot) (*domain.SignatureResult, error) {
	var result *domain.SignatureResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var act EmergencyActivationModel
		if err := tx.Where("id = ?", sig.ActivationID).First(&act).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUnknownActivation
			}
			return err
		}
		status := domain.ActivationStatus(act.Status)
		if status.IsClosed() {
			return domain.ErrActivationClosed
		}

		var signed int64
		if err := tx.Model(&ActivationSignatureModel{}).
			Where("activation_id = ? AND holder_id = ?", sig.ActivationID, sig.HolderID).
			Count(&signed).Error; err != nil {
			return err
		}
		if signed > 0 {
			return domain.ErrDuplicateSignature
		}
		if act.SignaturesReceived >= act.TotalShares {
			return domain.ErrSignatureSlotsFull
		}

		res := tx.Model(&EmergencyActivationModel{}).
			Where("id = ? AND signatures_received = ? AND signatures_received < total_shares AND status NOT IN ?",
				act.ID, act.SignaturesReceived,
				[]string{string(domain.ActivationStatusCancelled), string(domain.ActivationStatusResolved)}).
			Update("signatures_received", gorm.Expr("signatures_received + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errCountConflict
		}

		slot := act.SignaturesReceived + 1
		sealed := sig.SealedShare
		if status != domain.ActivationStatusCollecting {
			// 定足数到達後の署名は記録のみで、分割片は保持しない。
			sealed = nil
		}
		model := &ActivationSignatureModel{
			ActivationID: act.ID,
			Slot:         slot,
			HolderID:     sig.HolderID,
			SubmittedAt:  sig.SubmittedAt,
			Origin:       sig.Origin,
			SealedShare:  sealed,
		}
		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrDuplicateSignature
			}
			return err
		}

		quorum := false
		if status == domain.ActivationStatusCollecting && slot >= act.Threshold {
			res := tx.Model(&EmergencyActivationModel{}).
				Where("id = ? AND status = ?", act.ID, string(domain.ActivationStatusCollecting)).
				Updates(map[string]interface{}{
					"status":        string(domain.ActivationStatusAuthorized),
					"authorized_at": sig.SubmittedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				quorum = true
				status = domain.ActivationStatusAuthorized
			}
		}

		sig.Slot = slot
		result = &domain.SignatureResult{
			Slot:               slot,
			SignaturesReceived: slot,
			Status:             status,
			QuorumReached:      quorum,
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errCountConflict) && !isDomainError(err) {
			slog.ErrorContext(ctx, "failed to append signature",
				"operation", "append_signature",
				"activation_id", sig.ActivationID,
				"error", err,
			)
		}
		return nil, err
	}
	return result, nil
}

// HasSigned は保有者が発動に署名済みか確認する。
func (r *ActivationRepository) HasSigned(ctx context.Context, activationID, holderID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ActivationSignatureModel{}).
		Where("activation_id = ? AND holder_id = ?", activationID, holderID).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count signatures",
			"operation", "has_signed",
			"activation_id", activationID,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// CreateRejection は拒否を記録する。重複時は ErrDuplicateRejection を返す。
func (r *ActivationRepository) CreateRejection(ctx context.Context, rej *domain.Rejection) error {
	model := &ActivationRejectionModel{
		ActivationID: rej.ActivationID,
		HolderID:     rej.HolderID,
		Reason:       rej.Reason,
		RejectedAt:   rej.RejectedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateRejection
		}
		slog.ErrorContext(ctx, "failed to create rejection",
			"operation", "create_rejection",
			"activation_id", rej.ActivationID,
			"error", err,
		)
		return err
	}
	return nil
}

// ListSealedShares は暗号化分割片を持つ署名枠を枠番号順に取得する。
func (r *ActivationRepository) ListSealedShares(ctx context.Context, activationID string) ([]*domain.SignatureSlot, error) {
	var models []ActivationSignatureModel
	err := r.db.WithContext(ctx).
		Where("activation_id = ? AND sealed_share IS NOT NULL", activationID).
		Order("slot ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to list sealed shares",
			"operation", "list_sealed_shares",
			"activation_id", activationID,
			"error", err,
		)
		return nil, err
	}
	slots := make([]*domain.SignatureSlot, len(models))
	for i := range models {
		slots[i] = models[i].toDomain()
	}
	return slots, nil
}

// Transition は現在の状態が from のいずれかである場合のみ状態を to に更新する。
// 遷移できた場合に true を返す。取消時は封印済み分割片も消去する。
func (r *ActivationRepository) Transition(ctx context.Context, id string, from []domain.ActivationStatus, to domain.ActivationStatus, fields map[string]interface{}) (bool, error) {
	froms := make([]string, len(from))
	for i, s := range from {
		froms[i] = string(s)
	}
	updates := map[string]interface{}{"status": string(to)}
	for k, v := range fields {
		updates[k] = v
	}

	moved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&EmergencyActivationModel{}).
			Where("id = ? AND status IN ?", id, froms).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		moved = true
		if to != domain.ActivationStatusCancelled {
			return nil
		}
		return tx.Model(&ActivationSignatureModel{}).
			Where("activation_id = ?", id).
			Update("sealed_share", nil).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to transition activation",
			"operation", "transition",
			"activation_id", id,
			"to", to,
			"error", err,
		)
		return false, err
	}
	return moved, nil
}

// MarkExtended は延長フラグを立てる。
func (r *ActivationRepository) MarkExtended(ctx context.Context, id, reason string) error {
	err := r.db.WithContext(ctx).
		Model(&EmergencyActivationModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"extended": true, "extension_reason": reason}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark activation extended",
			"operation", "mark_extended",
			"activation_id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// ClaimRecovery は復旧実行権を取得する。
// authorized/recovery_executing かつ未実行の場合のみ成功し、状態を recovery_executing にする。
func (r *ActivationRepository) ClaimRecovery(ctx context.Context, id string, now time.Time) (bool, error) {
	var claimed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&EmergencyActivationModel{}).
			Where("id = ? AND recovery_in_progress = ? AND recovery_completed_at IS NULL AND status IN ?", id, false,
				[]string{string(domain.ActivationStatusAuthorized), string(domain.ActivationStatusRecovering)}).
			Updates(map[string]interface{}{
				"recovery_in_progress": true,
				"status":               string(domain.ActivationStatusRecovering),
				"last_recovery_error":  "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		claimed = true
		return tx.Model(&EmergencyActivationModel{}).
			Where("id = ? AND recovery_started_at IS NULL", id).
			Update("recovery_started_at", now).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to claim recovery",
			"operation", "claim_recovery",
			"activation_id", id,
			"error", err,
		)
		return false, err
	}
	return claimed, nil
}

// ReleaseRecovery は復旧実行権を解放し、結果を記録する。
// completedAt が nil の場合は失敗として lastErr を残す。
func (r *ActivationRepository) ReleaseRecovery(ctx context.Context, id string, completedAt *time.Time, lastErr string) error {
	updates := map[string]interface{}{
		"recovery_in_progress": false,
		"last_recovery_error":  lastErr,
	}
	if completedAt != nil {
		updates["recovery_completed_at"] = *completedAt
	}
	err := r.db.WithContext(ctx).
		Model(&EmergencyActivationModel{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to release recovery",
			"operation", "release_recovery",
			"activation_id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// ResetStaleRecoveries は異常終了で残った実行中フラグを解除する（起動時に使用）。
func (r *ActivationRepository) ResetStaleRecoveries(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&EmergencyActivationModel{}).
		Where("recovery_in_progress = ?", true).
		Updates(map[string]interface{}{
			"recovery_in_progress": false,
			"last_recovery_error":  "recovery interrupted by restart",
		})
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to reset stale recoveries",
			"operation", "reset_stale_recoveries",
			"error", res.Error,
		)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Resolve は復旧完了済みの発動を解決済みにし、暗号化分割片を消去する。
func (r *ActivationRepository) Resolve(ctx context.Context, id, by string, now time.Time) (bool, error) {
	var resolved bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&EmergencyActivationModel{}).
			Where("id = ? AND status = ? AND recovery_completed_at IS NOT NULL AND recovery_in_progress = ?",
				id, string(domain.ActivationStatusRecovering), false).
			Updates(map[string]interface{}{
				"status":      string(domain.ActivationStatusResolved),
				"resolved_at": now,
				"resolved_by": by,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		resolved = true
		return tx.Model(&ActivationSignatureModel{}).
			Where("activation_id = ?", id).
			Update("sealed_share", nil).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve activation",
			"operation", "resolve",
			"activation_id", id,
			"error", err,
		)
		return false, err
	}
	return resolved, nil
}

// AppendAction は復旧アクションログに追記する。
func (r *ActivationRepository) AppendAction(ctx context.Context, action *domain.RecoveryAction) error {
	model := &RecoveryActionModel{
		ActivationID: action.ActivationID,
		Action:       action.Action,
		Detail:       action.Detail,
		RecordedAt:   action.RecordedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to append recovery action",
			"operation", "append_action",
			"activation_id", action.ActivationID,
			"action", action.Action,
			"error", err,
		)
		return err
	}
	action.Sequence = model.ID
	return nil
}

// ListActions は復旧アクションログを記録順に取得する。
func (r *ActivationRepository) ListActions(ctx context.Context, activationID string) ([]*domain.RecoveryAction, error) {
	var models []RecoveryActionModel
	err := r.db.WithContext(ctx).
		Where("activation_id = ?", activationID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to list recovery actions",
			"operation", "list_actions",
			"activation_id", activationID,
			"error", err,
		)
		return nil, err
	}
	actions := make([]*domain.RecoveryAction, len(models))
	for i, m := range models {
		actions[i] = &domain.RecoveryAction{
			ActivationID: m.ActivationID,
			Sequence:     m.ID,
			Action:       m.Action,
			Detail:       m.Detail,
			RecordedAt:   m.RecordedAt,
		}
	}
	return actions, nil
}

// isDomainError は呼び出し元に返すべき業務エラーかを判定する。
func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrUnknownActivation) ||
		errors.Is(err, domain.ErrActivationClosed) ||
		errors.Is(err, domain.ErrDuplicateSignature) ||
		errors.Is(err, domain.ErrSignatureSlotsFull)
}
