package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/threshold"
)

// HolderRepository は鍵保有者へのアクセスのインターフェース。
type HolderRepository interface {
	Create(ctx context.Context, h *domain.KeyHolder) error
	FindByID(ctx context.Context, id string) (*domain.KeyHolder, error)
	ExistsOrdinal(ctx context.Context, generation uint, ordinal int) (bool, error)
	ExistsIdentity(ctx context.Context, generation uint, identity string) (bool, error)
	ListByGeneration(ctx context.Context, generation uint) ([]*domain.KeyHolder, error)
	ListActiveByGeneration(ctx context.Context, generation uint) ([]*domain.KeyHolder, error)
	ListDueForRotation(ctx context.Context, before time.Time) ([]*domain.KeyHolder, error)
	ListDueForTraining(ctx context.Context, before time.Time) ([]*domain.KeyHolder, error)
	ListDueForVerification(ctx context.Context, before time.Time) ([]*domain.KeyHolder, error)
	UpdateStatus(ctx context.Context, id string, status domain.HolderStatus) error
	UpdateTraining(ctx context.Context, id string, expiresAt time.Time) error
	UpdateVerification(ctx context.Context, id string, dueAt time.Time) error
}

// HolderRegistration は保有者登録の入力。
// EncryptedShare と ShareFingerprint はオフラインのセレモニーで生成されたもの。
type HolderRegistration struct {
	Identity          string
	RoleLabel         string
	Ordinal           int
	EncryptedShare    []byte
	ShareFingerprint  string
	RecipientKey      string
	ContactChannels   []string
	TrainingExpiresAt time.Time
}

// HolderService は鍵保有者レジストリのビジネスロジックを提供する。
type HolderService struct {
	holders HolderRepository
	configs ConfigRepository
	now     func() time.Time
}

// NewHolderService は新しいHolderServiceを生成する。
func NewHolderService(holders HolderRepository, configs ConfigRepository) *HolderService {
	return &HolderService{
		holders: holders,
		configs: configs,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterHolder は現行世代に保有者を登録する。
func (s *HolderService) RegisterHolder(ctx context.Context, reg HolderRegistration) (*domain.HolderSummary, error) {
	cfg, err := s.configs.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding current config: %w", err)
	}
	if cfg == nil {
		return nil, domain.ErrNoActiveConfig
	}

	identity := strings.TrimSpace(reg.Identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is required", domain.ErrInvalidEnrollment)
	}
	fingerprint := strings.ToLower(strings.TrimSpace(reg.ShareFingerprint))
	if !threshold.ValidFingerprint(fingerprint) {
		return nil, domain.ErrInvalidFingerprint
	}
	if reg.Ordinal < 1 || reg.Ordinal > cfg.TotalShares {
		return nil, domain.ErrInvalidOrdinal
	}
	if len(reg.EncryptedShare) == 0 {
		return nil, fmt.Errorf("%w: encrypted share is required", domain.ErrInvalidEnrollment)
	}
	if reg.RecipientKey != "" {
		if err := threshold.ValidateRecipient(reg.RecipientKey); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEnrollment, err)
		}
	}
	if err := validateChannels(reg.ContactChannels); err != nil {
		return nil, err
	}

	exists, err := s.holders.ExistsOrdinal(ctx, cfg.Generation, reg.Ordinal)
	if err != nil {
		return nil, fmt.Errorf("checking ordinal: %w", err)
	}
	if exists {
		return nil, domain.ErrDuplicateOrdinal
	}
	exists, err = s.holders.ExistsIdentity(ctx, cfg.Generation, identity)
	if err != nil {
		return nil, fmt.Errorf("checking identity: %w", err)
	}
	if exists {
		return nil, domain.ErrDuplicateHolder
	}

	now := s.now()
	training := reg.TrainingExpiresAt
	if training.IsZero() {
		training = now.Add(domain.TrainingValidity)
	}
	h := &domain.KeyHolder{
		Generation:        cfg.Generation,
		Identity:          identity,
		RoleLabel:         reg.RoleLabel,
		Ordinal:           reg.Ordinal,
		EncryptedShare:    reg.EncryptedShare,
		ShareFingerprint:  fingerprint,
		RecipientKey:      reg.RecipientKey,
		ContactChannels:   reg.ContactChannels,
		KeyIssuedAt:       now,
		RotationDueAt:     now.Add(domain.KeyRotationInterval),
		VerificationDueAt: now.Add(domain.VerificationInterval),
		TrainingExpiresAt: training,
		Status:            domain.HolderStatusActive,
	}
	if err := s.holders.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("creating holder: %w", err)
	}

	slog.InfoContext(ctx, "key holder registered",
		"holder_id", h.ID,
		"generation", h.Generation,
		"ordinal", h.Ordinal,
	)
	return h.Summary(), nil
}

// GetHolder は保有者の公開情報を返す。
func (s *HolderService) GetHolder(ctx context.Context, id string) (*domain.HolderSummary, error) {
	h, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return h.Summary(), nil
}

// GetEncryptedShare は保有者の公開鍵で暗号化された分割片を返す。
// 復号は保有者の手元（breakglassctl decrypt-share）で行う。
func (s *HolderService) GetEncryptedShare(ctx context.Context, id string) ([]byte, error) {
	h, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return h.EncryptedShare, nil
}

// ListHolders は世代の保有者を返す。generation が0の場合は現行世代。
func (s *HolderService) ListHolders(ctx context.Context, generation uint) ([]*domain.HolderSummary, error) {
	if generation == 0 {
		cfg, err := s.configs.GetCurrent(ctx)
		if err != nil {
			return nil, fmt.Errorf("finding current config: %w", err)
		}
		if cfg == nil {
			return nil, domain.ErrNoActiveConfig
		}
		generation = cfg.Generation
	}
	holders, err := s.holders.ListByGeneration(ctx, generation)
	if err != nil {
		return nil, fmt.Errorf("listing holders: %w", err)
	}
	return summaries(holders), nil
}

// RevokeHolder は保有者を失効させる。失効は取り消せない。
func (s *HolderService) RevokeHolder(ctx context.Context, id string) (*domain.HolderSummary, error) {
	return s.transition(ctx, id, domain.HolderStatusRevoked, domain.HolderStatusActive, domain.HolderStatusSuspended)
}

// SuspendHolder は保有者を一時停止する。
func (s *HolderService) SuspendHolder(ctx context.Context, id string) (*domain.HolderSummary, error) {
	return s.transition(ctx, id, domain.HolderStatusSuspended, domain.HolderStatusActive)
}

// ReinstateHolder は一時停止中の保有者を復帰させる。
func (s *HolderService) ReinstateHolder(ctx context.Context, id string) (*domain.HolderSummary, error) {
	return s.transition(ctx, id, domain.HolderStatusActive, domain.HolderStatusSuspended)
}

func (s *HolderService) transition(ctx context.Context, id string, to domain.HolderStatus, from ...domain.HolderStatus) (*domain.HolderSummary, error) {
	h, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, st := range from {
		if h.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return nil, domain.ErrInvalidTransition
	}
	if err := s.holders.UpdateStatus(ctx, id, to); err != nil {
		return nil, fmt.Errorf("updating holder status: %w", err)
	}
	slog.InfoContext(ctx, "key holder status changed",
		"holder_id", id,
		"from", string(h.Status),
		"to", string(to),
	)
	h.Status = to
	return h.Summary(), nil
}

// ListDueForRotation は within 以内に鍵ローテーション期限を迎える保有者を返す。
func (s *HolderService) ListDueForRotation(ctx context.Context, within time.Duration) ([]*domain.HolderSummary, error) {
	holders, err := s.holders.ListDueForRotation(ctx, s.now().Add(within))
	if err != nil {
		return nil, fmt.Errorf("listing holders due for rotation: %w", err)
	}
	return summaries(holders), nil
}

// ListDueForTraining は within 以内に研修期限を迎える保有者を返す。
func (s *HolderService) ListDueForTraining(ctx context.Context, within time.Duration) ([]*domain.HolderSummary, error) {
	holders, err := s.holders.ListDueForTraining(ctx, s.now().Add(within))
	if err != nil {
		return nil, fmt.Errorf("listing holders due for training: %w", err)
	}
	return summaries(holders), nil
}

// ListDueForVerification は within 以内に保有確認期限を迎える保有者を返す。
func (s *HolderService) ListDueForVerification(ctx context.Context, within time.Duration) ([]*domain.HolderSummary, error) {
	holders, err := s.holders.ListDueForVerification(ctx, s.now().Add(within))
	if err != nil {
		return nil, fmt.Errorf("listing holders due for verification: %w", err)
	}
	return summaries(holders), nil
}

// RecordTraining は研修の修了を記録する。
func (s *HolderService) RecordTraining(ctx context.Context, id string, expiresAt time.Time) (*domain.HolderSummary, error) {
	h, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(domain.TrainingValidity)
	}
	if err := s.holders.UpdateTraining(ctx, id, expiresAt.UTC()); err != nil {
		return nil, fmt.Errorf("recording training: %w", err)
	}
	h.TrainingExpiresAt = expiresAt.UTC()
	return h.Summary(), nil
}

// RecordVerification は分割片の保有確認を記録し、次回期限を半年後にする。
func (s *HolderService) RecordVerification(ctx context.Context, id string) (*domain.HolderSummary, error) {
	h, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	due := s.now().Add(domain.VerificationInterval)
	if err := s.holders.UpdateVerification(ctx, id, due); err != nil {
		return nil, fmt.Errorf("recording verification: %w", err)
	}
	h.VerificationDueAt = due
	return h.Summary(), nil
}

func (s *HolderService) find(ctx context.Context, id string) (*domain.KeyHolder, error) {
	h, err := s.holders.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding holder: %w", err)
	}
	if h == nil {
		return nil, domain.ErrUnknownHolder
	}
	return h, nil
}

func summaries(holders []*domain.KeyHolder) []*domain.HolderSummary {
	out := make([]*domain.HolderSummary, len(holders))
	for i, h := range holders {
		out[i] = h.Summary()
	}
	return out
}
