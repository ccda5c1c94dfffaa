package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/threshold"
	"breakglass-service/internal/vault"
)

// vaultUnlockMaxRetries は保管庫の開封を再試行する回数。
const vaultUnlockMaxRetries = 4

// RecoveryRepository は復旧処理が使う発動へのアクセスのインターフェース。
type RecoveryRepository interface {
	FindByID(ctx context.Context, id string) (*domain.EmergencyActivation, error)
	ClaimRecovery(ctx context.Context, id string, now time.Time) (bool, error)
	ReleaseRecovery(ctx context.Context, id string, completedAt *time.Time, lastErr string) error
	ListSealedShares(ctx context.Context, activationID string) ([]*domain.SignatureSlot, error)
	AppendAction(ctx context.Context, action *domain.RecoveryAction) error
}

// ShareOpener はエスクロー鍵で暗号化された分割片を復号するインターフェース。
type ShareOpener interface {
	Open(ctx context.Context, ciphertext, label []byte) ([]byte, error)
}

// RecoveryVault は復旧処理が使う保管庫のインターフェース。
type RecoveryVault interface {
	Unlock(ctx context.Context, generation uint, secret []byte) (*vault.BackupHandle, error)
	Restore(ctx context.Context, h *vault.BackupHandle) (*vault.RestoreReport, error)
	VerifyIntegrity(ctx context.Context, h *vault.BackupHandle, report *vault.RestoreReport) error
}

// RecoveryRunner は定足数に達した発動の復旧処理をバックグラウンドで実行する。
//
// 実行権は発動ごとにDBのCASで取得するため、Start を何度呼んでも同時に走る処理は1つだけ。
// 保管庫のエラーはアクションログと last_recovery_error に記録し、authorized の事実は変えない。
type RecoveryRunner struct {
	activations RecoveryRepository
	opener      ShareOpener
	vault       RecoveryVault
	metrics     Metrics
	now         func() time.Time
	backoff     func() backoff.BackOff

	ctx context.Context
	wg  sync.WaitGroup
}

// NewRecoveryRunner は新しいRecoveryRunnerを生成する。
// ctx はバックグラウンド処理全体の寿命で、キャンセルすると実行中の処理も中断する。
func NewRecoveryRunner(ctx context.Context, activations RecoveryRepository, opener ShareOpener, v RecoveryVault, metrics Metrics) *RecoveryRunner {
	return &RecoveryRunner{
		activations: activations,
		opener:      opener,
		vault:       v,
		metrics:     metricsOrNop(metrics),
		now:         func() time.Time { return time.Now().UTC() },
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return backoff.WithMaxRetries(b, vaultUnlockMaxRetries)
		},
		ctx: ctx,
	}
}

// Start は復旧処理をバックグラウンドで開始する。
func (r *RecoveryRunner) Start(activationID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Run(r.ctx, activationID); err != nil && !errors.Is(err, domain.ErrRecoveryInProgress) {
			slog.ErrorContext(r.ctx, "recovery run failed",
				"activation_id", activationID,
				"error", err,
			)
		}
	}()
}

// Wait は実行中の復旧処理の終了を待つ。
func (r *RecoveryRunner) Wait() {
	r.wg.Wait()
}

// Run は復旧処理を同期的に実行する。
// 実行権を取得できない場合は ErrRecoveryInProgress を返す。
func (r *RecoveryRunner) Run(ctx context.Context, activationID string) error {
	claimed, err := r.activations.ClaimRecovery(ctx, activationID, r.now())
	if err != nil {
		return fmt.Errorf("claiming recovery: %w", err)
	}
	if !claimed {
		return domain.ErrRecoveryInProgress
	}

	a, err := r.activations.FindByID(ctx, activationID)
	if err != nil || a == nil {
		if err == nil {
			err = domain.ErrUnknownActivation
		}
		r.release(ctx, activationID, nil, err)
		return fmt.Errorf("finding activation: %w", err)
	}

	r.record(ctx, a.ID, domain.ActionRecoveryStarted,
		fmt.Sprintf("generation %d, threshold %d of %d", a.Generation, a.Threshold, a.TotalShares))

	secret, n, err := r.combine(ctx, a)
	if err != nil {
		return r.fail(ctx, a.ID, "combine", err)
	}
	defer threshold.Wipe(secret)
	r.metrics.RecoveryStep("combine", "ok")
	r.record(ctx, a.ID, domain.ActionSharesCombined, fmt.Sprintf("%d shares", n))

	h, err := r.unlock(ctx, a.Generation, secret)
	if err != nil {
		if errors.Is(err, domain.ErrVaultUnreachable) {
			r.metrics.RecoveryStep("vault", "unreachable")
			slog.ErrorContext(ctx, "vault unreachable",
				"activation_id", a.ID,
				"generation", a.Generation,
				"error", err,
			)
			r.record(ctx, a.ID, domain.ActionVaultUnreachable, err.Error())
			r.release(ctx, a.ID, nil, err)
			return err
		}
		return r.fail(ctx, a.ID, "vault", err)
	}
	defer h.Close()
	r.metrics.RecoveryStep("vault", "ok")
	r.record(ctx, a.ID, domain.ActionVaultAccessed, fmt.Sprintf("generation %d", a.Generation))

	report, err := r.vault.Restore(ctx, h)
	if err != nil {
		return r.fail(ctx, a.ID, "restore", err)
	}
	r.metrics.RecoveryStep("restore", "ok")
	r.record(ctx, a.ID, domain.ActionBackupRestored, fmt.Sprintf("%d files to %s", len(report.Files), report.Dir))

	if err := r.vault.VerifyIntegrity(ctx, h, report); err != nil {
		return r.fail(ctx, a.ID, "verify", err)
	}
	r.metrics.RecoveryStep("verify", "ok")
	r.record(ctx, a.ID, domain.ActionIntegrityVerified, fmt.Sprintf("%d files", len(report.Files)))

	completed := r.now()
	r.record(ctx, a.ID, domain.ActionRecoveryCompleted, "")
	if err := r.activations.ReleaseRecovery(ctx, a.ID, &completed, ""); err != nil {
		return fmt.Errorf("releasing recovery: %w", err)
	}
	slog.WarnContext(ctx, "recovery completed",
		"activation_id", a.ID,
		"generation", a.Generation,
		"files", len(report.Files),
	)
	return nil
}

// combine は保管された分割片を復号して結合する。閾値未満の場合は失敗する。
func (r *RecoveryRunner) combine(ctx context.Context, a *domain.EmergencyActivation) ([]byte, int, error) {
	slots, err := r.activations.ListSealedShares(ctx, a.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("listing sealed shares: %w", err)
	}
	if len(slots) < a.Threshold {
		return nil, 0, fmt.Errorf("%w: %d of %d", domain.ErrInsufficientShares, len(slots), a.Threshold)
	}

	shares := make([][]byte, 0, len(slots))
	defer func() { threshold.WipeAll(shares) }()
	for _, slot := range slots {
		share, err := r.opener.Open(ctx, slot.SealedShare, shareLabel(a.ID, slot.HolderID))
		if err != nil {
			return nil, 0, fmt.Errorf("opening share in slot %d: %w", slot.Slot, err)
		}
		shares = append(shares, share)
	}

	secret, err := threshold.Combine(shares, a.Threshold)
	if err != nil {
		return nil, 0, err
	}
	return secret, len(shares), nil
}

// unlock は保管庫の開封を到達不能の間だけ再試行する。
func (r *RecoveryRunner) unlock(ctx context.Context, generation uint, secret []byte) (*vault.BackupHandle, error) {
	var h *vault.BackupHandle
	op := func() error {
		var err error
		h, err = r.vault.Unlock(ctx, generation, secret)
		if err != nil && !errors.Is(err, domain.ErrVaultUnreachable) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(r.backoff(), ctx)); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *RecoveryRunner) fail(ctx context.Context, activationID, step string, err error) error {
	r.metrics.RecoveryStep(step, "failed")
	slog.ErrorContext(ctx, "recovery step failed",
		"activation_id", activationID,
		"step", step,
		"error", err,
	)
	r.record(ctx, activationID, domain.ActionRecoveryFailed, step+": "+err.Error())
	r.release(ctx, activationID, nil, err)
	return err
}

func (r *RecoveryRunner) release(ctx context.Context, activationID string, completedAt *time.Time, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	// 処理中のctxがキャンセルされていても実行権は解放する
	if err := r.activations.ReleaseRecovery(context.WithoutCancel(ctx), activationID, completedAt, msg); err != nil {
		slog.ErrorContext(ctx, "failed to release recovery claim",
			"activation_id", activationID,
			"error", err,
		)
	}
}

func (r *RecoveryRunner) record(ctx context.Context, activationID, action, detail string) {
	err := r.activations.AppendAction(context.WithoutCancel(ctx), &domain.RecoveryAction{
		ActivationID: activationID,
		Action:       action,
		Detail:       detail,
		RecordedAt:   r.now(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to record recovery action",
			"activation_id", activationID,
			"action", action,
			"error", err,
		)
	}
}
