package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/notify"
	"breakglass-service/internal/threshold"
)

// notifyTimeout は発動通知1回あたりの上限時間。
const notifyTimeout = 2 * time.Minute

// ActivationRepository は緊急発動へのアクセスのインターフェース。
type ActivationRepository interface {
	Create(ctx context.Context, a *domain.EmergencyActivation) error
	FindByID(ctx context.Context, id string) (*domain.EmergencyActivation, error)
	FindDetail(ctx context.Context, id string) (*domain.EmergencyActivation, error)
	List(ctx context.Context, status domain.ActivationStatus) ([]*domain.EmergencyActivation, error)
	ListOpen(ctx context.Context) ([]*domain.EmergencyActivation, error)
	AppendSignature(ctx context.Context, sig *domain.SignatureSlot) (*domain.SignatureResult, error)
	HasSigned(ctx context.Context, activationID, holderID string) (bool, error)
	CreateRejection(ctx context.Context, rej *domain.Rejection) error
	Transition(ctx context.Context, id string, from []domain.ActivationStatus, to domain.ActivationStatus, fields map[string]interface{}) (bool, error)
	MarkExtended(ctx context.Context, id, reason string) error
	Resolve(ctx context.Context, id, by string, now time.Time) (bool, error)
	AppendAction(ctx context.Context, action *domain.RecoveryAction) error
}

// ShareSealer は提出された分割片をエスクロー鍵で暗号化するインターフェース。
// label は暗号文を発動と保有者に結び付ける追加認証データ。
type ShareSealer interface {
	Seal(ctx context.Context, plaintext, label []byte) ([]byte, error)
}

// Notifier は通知送信のインターフェース。
type Notifier interface {
	Notify(ctx context.Context, channels []string, msg notify.Message) error
}

// RecoveryStarter は定足数到達後の復旧処理を開始するインターフェース。
type RecoveryStarter interface {
	Start(activationID string)
}

// ActivationRequest は発動の入力。
type ActivationRequest struct {
	TriggerRef  string
	Reason      string
	Severity    string
	ActivatedBy string
}

// SignatureSubmission は署名提出の入力。Share は保有者が復号した平文の分割片。
type SignatureSubmission struct {
	ActivationID string
	HolderID     string
	Share        []byte
	Origin       string
}

// ActivationService は緊急発動の状態遷移と署名収集を提供する。
type ActivationService struct {
	activations ActivationRepository
	configs     ConfigRepository
	holders     HolderRepository
	sealer      ShareSealer
	notifier    Notifier
	recovery    RecoveryStarter
	metrics     Metrics
	now         func() time.Time

	notifications sync.WaitGroup
}

// NewActivationService は新しいActivationServiceを生成する。
// notifier と metrics は nil でもよい。
func NewActivationService(
	activations ActivationRepository,
	configs ConfigRepository,
	holders HolderRepository,
	sealer ShareSealer,
	notifier Notifier,
	recovery RecoveryStarter,
	metrics Metrics,
) *ActivationService {
	return &ActivationService{
		activations: activations,
		configs:     configs,
		holders:     holders,
		sealer:      sealer,
		notifier:    notifier,
		recovery:    recovery,
		metrics:     metricsOrNop(metrics),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Activate は現行世代の構成をスナップショットして発動を作成する。
// 保有者への通知はバックグラウンドで行い、失敗しても発動は成功する。
func (s *ActivationService) Activate(ctx context.Context, req ActivationRequest) (*domain.EmergencyActivation, error) {
	ctx, span := tracer.Start(ctx, "ActivationService.Activate")
	defer span.End()

	severity, err := domain.ParseSeverity(req.Severity)
	if err != nil {
		return nil, err
	}
	cfg, err := s.configs.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding current config: %w", err)
	}
	if cfg == nil || cfg.Superseded {
		return nil, domain.ErrNoActiveConfig
	}

	a := &domain.EmergencyActivation{
		TriggerRef:  strings.TrimSpace(req.TriggerRef),
		Reason:      strings.TrimSpace(req.Reason),
		Severity:    severity,
		ActivatedBy: strings.TrimSpace(req.ActivatedBy),
		ActivatedAt: s.now(),
		Generation:  cfg.Generation,
		Threshold:   cfg.Threshold,
		TotalShares: cfg.TotalShares,
		Status:      domain.ActivationStatusCollecting,
	}
	if err := s.activations.Create(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create activation")
		return nil, fmt.Errorf("creating activation: %w", err)
	}
	span.SetAttributes(
		attribute.String("activation.id", a.ID),
		attribute.Int("activation.generation", int(a.Generation)),
		attribute.String("activation.severity", string(a.Severity)),
	)
	s.metrics.ActivationCreated(string(severity))

	slog.WarnContext(ctx, "emergency activation created",
		"activation_id", a.ID,
		"severity", string(a.Severity),
		"generation", a.Generation,
		"threshold", a.Threshold,
		"total_shares", a.TotalShares,
	)

	s.notifyHolders(ctx, a)
	return a, nil
}

// notifyHolders は世代の有効な保有者へ署名依頼を送る。
func (s *ActivationService) notifyHolders(ctx context.Context, a *domain.EmergencyActivation) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		holders, err := s.holders.ListActiveByGeneration(ctx, a.Generation)
		if err != nil {
			slog.ErrorContext(ctx, "failed to list holders for notification",
				"activation_id", a.ID,
				"error", err,
			)
			s.metrics.NotificationFailed()
			return
		}
		msg := notify.Message{
			Kind:         "activation",
			Subject:      fmt.Sprintf("[%s] emergency recovery requested", a.Severity),
			Body:         fmt.Sprintf("Emergency activation %s requires %d of %d signatures.\nReason: %s\nRequested by: %s", a.ID, a.Threshold, a.TotalShares, a.Reason, a.ActivatedBy),
			ActivationID: a.ID,
			Severity:     string(a.Severity),
		}
		for _, h := range holders {
			if err := s.notifier.Notify(ctx, h.ContactChannels, msg); err != nil {
				slog.WarnContext(ctx, "holder notification failed",
					"activation_id", a.ID,
					"holder_id", h.ID,
					"error", err,
				)
				s.metrics.NotificationFailed()
			}
		}
	}()
}

// WaitNotifications はバックグラウンドの通知送信の完了を待つ。
func (s *ActivationService) WaitNotifications() {
	s.notifications.Wait()
}

// SubmitSignature は保有者の署名（分割片）を受け付ける。
// 今回の提出で定足数に達した場合のみ復旧処理を開始する。
func (s *ActivationService) SubmitSignature(ctx context.Context, sub SignatureSubmission) (*domain.SignatureResult, error) {
	ctx, span := tracer.Start(ctx, "ActivationService.SubmitSignature")
	defer span.End()
	span.SetAttributes(
		attribute.String("activation.id", sub.ActivationID),
		attribute.String("holder.id", sub.HolderID),
	)
	defer threshold.Wipe(sub.Share)

	result, err := s.submitSignature(ctx, sub)
	if err != nil {
		s.metrics.SignatureSubmitted(signatureResultLabel(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit signature")
		return nil, err
	}
	s.metrics.SignatureSubmitted("accepted")
	span.SetAttributes(
		attribute.Int("activation.signatures_received", result.SignaturesReceived),
		attribute.Bool("activation.quorum_reached", result.QuorumReached),
	)

	slog.InfoContext(ctx, "signature accepted",
		"activation_id", sub.ActivationID,
		"holder_id", sub.HolderID,
		"slot", result.Slot,
		"signatures_received", result.SignaturesReceived,
		"status", string(result.Status),
	)
	if result.QuorumReached {
		slog.WarnContext(ctx, "activation authorized",
			"activation_id", sub.ActivationID,
			"signatures_received", result.SignaturesReceived,
		)
		s.recovery.Start(sub.ActivationID)
	}
	return result, nil
}

func (s *ActivationService) submitSignature(ctx context.Context, sub SignatureSubmission) (*domain.SignatureResult, error) {
	a, err := s.activations.FindByID(ctx, sub.ActivationID)
	if err != nil {
		return nil, fmt.Errorf("finding activation: %w", err)
	}
	if a == nil {
		return nil, domain.ErrUnknownActivation
	}
	if a.Status.IsClosed() {
		return nil, domain.ErrActivationClosed
	}

	h, err := s.holders.FindByID(ctx, sub.HolderID)
	if err != nil {
		return nil, fmt.Errorf("finding holder: %w", err)
	}
	if h == nil {
		return nil, domain.ErrUnknownHolder
	}
	if !h.IsActive() {
		return nil, domain.ErrInactiveHolder
	}
	if h.Generation != a.Generation {
		return nil, domain.ErrGenerationMismatch
	}

	collecting := a.Status == domain.ActivationStatusCollecting
	if collecting && len(sub.Share) == 0 {
		return nil, fmt.Errorf("%w: share is required before quorum", domain.ErrMalformedShare)
	}
	if len(sub.Share) > 0 && !threshold.VerifyFingerprint(sub.Share, h.ShareFingerprint) {
		return nil, domain.ErrFingerprintMismatch
	}

	var sealed []byte
	if collecting {
		sealed, err = s.sealer.Seal(ctx, sub.Share, shareLabel(a.ID, h.ID))
		if err != nil {
			return nil, fmt.Errorf("sealing share: %w", err)
		}
	}

	return s.activations.AppendSignature(ctx, &domain.SignatureSlot{
		ActivationID: a.ID,
		HolderID:     h.ID,
		SubmittedAt:  s.now(),
		Origin:       sub.Origin,
		SealedShare:  sealed,
	})
}

// shareLabel はエスクロー暗号文の追加認証データ。
func shareLabel(activationID, holderID string) []byte {
	return []byte("breakglass/activation/" + activationID + "/holder/" + holderID)
}

func signatureResultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateSignature):
		return "duplicate"
	case errors.Is(err, domain.ErrFingerprintMismatch), errors.Is(err, domain.ErrMalformedShare):
		return "invalid_share"
	case errors.Is(err, domain.ErrInactiveHolder), errors.Is(err, domain.ErrUnknownHolder), errors.Is(err, domain.ErrGenerationMismatch):
		return "unauthorized"
	case errors.Is(err, domain.ErrActivationClosed), errors.Is(err, domain.ErrUnknownActivation), errors.Is(err, domain.ErrSignatureSlotsFull):
		return "rejected"
	}
	return "error"
}

// RecordRejection は保有者の拒否を記録する。拒否は定足数に数えない。
func (s *ActivationService) RecordRejection(ctx context.Context, activationID, holderID, reason string) (*domain.Rejection, error) {
	a, err := s.find(ctx, activationID)
	if err != nil {
		return nil, err
	}
	if a.Status.IsClosed() {
		return nil, domain.ErrActivationClosed
	}

	h, err := s.holders.FindByID(ctx, holderID)
	if err != nil {
		return nil, fmt.Errorf("finding holder: %w", err)
	}
	if h == nil {
		return nil, domain.ErrUnknownHolder
	}
	if !h.IsActive() {
		return nil, domain.ErrInactiveHolder
	}
	if h.Generation != a.Generation {
		return nil, domain.ErrGenerationMismatch
	}

	signed, err := s.activations.HasSigned(ctx, activationID, holderID)
	if err != nil {
		return nil, fmt.Errorf("checking signature: %w", err)
	}
	if signed {
		return nil, domain.ErrAlreadySigned
	}

	rej := &domain.Rejection{
		ActivationID: activationID,
		HolderID:     holderID,
		Reason:       strings.TrimSpace(reason),
		RejectedAt:   s.now(),
	}
	if err := s.activations.CreateRejection(ctx, rej); err != nil {
		return nil, fmt.Errorf("creating rejection: %w", err)
	}
	slog.InfoContext(ctx, "activation rejected by holder",
		"activation_id", activationID,
		"holder_id", holderID,
	)
	return rej, nil
}

// Cancel は署名収集中の発動を取り消す。
func (s *ActivationService) Cancel(ctx context.Context, id, by, reason string) (*domain.EmergencyActivation, error) {
	a, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsClosed() {
		return nil, domain.ErrActivationClosed
	}

	now := s.now()
	ok, err := s.activations.Transition(ctx, id,
		[]domain.ActivationStatus{domain.ActivationStatusCollecting},
		domain.ActivationStatusCancelled,
		map[string]interface{}{"cancelled_at": now, "cancel_reason": strings.TrimSpace(reason)},
	)
	if err != nil {
		return nil, fmt.Errorf("cancelling activation: %w", err)
	}
	if !ok {
		return nil, domain.ErrInvalidTransition
	}

	slog.WarnContext(ctx, "activation cancelled",
		"activation_id", id,
		"cancelled_by", by,
	)
	a.Status = domain.ActivationStatusCancelled
	a.CancelledAt = &now
	a.CancelReason = strings.TrimSpace(reason)
	return a, nil
}

// Extend は発動に延長フラグを付ける。延長された発動は onTrack にならない。
func (s *ActivationService) Extend(ctx context.Context, id, reason string) (*domain.EmergencyActivation, error) {
	a, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsClosed() {
		return nil, domain.ErrActivationClosed
	}
	reason = strings.TrimSpace(reason)
	if err := s.activations.MarkExtended(ctx, id, reason); err != nil {
		return nil, fmt.Errorf("extending activation: %w", err)
	}
	if err := s.activations.AppendAction(ctx, &domain.RecoveryAction{
		ActivationID: id,
		Action:       domain.ActionActivationExtended,
		Detail:       reason,
		RecordedAt:   s.now(),
	}); err != nil {
		return nil, fmt.Errorf("recording extension: %w", err)
	}
	a.Extended = true
	a.ExtensionReason = reason
	return a, nil
}

// Resolve は復旧が完了した発動を解決済みにする。保管していた分割片は消去される。
func (s *ActivationService) Resolve(ctx context.Context, id, by string) (*domain.EmergencyActivation, error) {
	a, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsClosed() {
		return nil, domain.ErrActivationClosed
	}
	if a.RecoveryInProgress {
		return nil, domain.ErrRecoveryInProgress
	}

	now := s.now()
	ok, err := s.activations.Resolve(ctx, id, by, now)
	if err != nil {
		return nil, fmt.Errorf("resolving activation: %w", err)
	}
	if !ok {
		return nil, domain.ErrInvalidTransition
	}
	if err := s.activations.AppendAction(ctx, &domain.RecoveryAction{
		ActivationID: id,
		Action:       domain.ActionActivationResolved,
		Detail:       by,
		RecordedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("recording resolution: %w", err)
	}

	slog.InfoContext(ctx, "activation resolved",
		"activation_id", id,
		"resolved_by", by,
	)
	a.Status = domain.ActivationStatusResolved
	a.ResolvedAt = &now
	a.ResolvedBy = by
	return a, nil
}

// RetryRecovery は運用エラーで停止した復旧処理を再開する。
func (s *ActivationService) RetryRecovery(ctx context.Context, id string) error {
	a, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if a.Status.IsClosed() {
		return domain.ErrActivationClosed
	}
	if !a.Status.IsAuthorized() || a.RecoveryCompletedAt != nil {
		return domain.ErrInvalidTransition
	}
	if a.RecoveryInProgress {
		return domain.ErrRecoveryInProgress
	}
	slog.InfoContext(ctx, "recovery retry requested", "activation_id", id)
	s.recovery.Start(id)
	return nil
}

// Get は署名枠・拒否・アクションログを含む発動を返す。
func (s *ActivationService) Get(ctx context.Context, id string) (*domain.EmergencyActivation, error) {
	a, err := s.activations.FindDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding activation: %w", err)
	}
	if a == nil {
		return nil, domain.ErrUnknownActivation
	}
	return a, nil
}

// List は発動を返す。status が空の場合は全件。
func (s *ActivationService) List(ctx context.Context, status domain.ActivationStatus) ([]*domain.EmergencyActivation, error) {
	activations, err := s.activations.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("listing activations: %w", err)
	}
	return activations, nil
}

// Progress は発動の復旧進捗を返す。
func (s *ActivationService) Progress(ctx context.Context, id string) (*domain.RecoveryProgress, error) {
	a, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return ComputeProgress(a, s.now()), nil
}

func (s *ActivationService) find(ctx context.Context, id string) (*domain.EmergencyActivation, error) {
	a, err := s.activations.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding activation: %w", err)
	}
	if a == nil {
		return nil, domain.ErrUnknownActivation
	}
	return a, nil
}
