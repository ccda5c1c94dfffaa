// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/notify"
	"breakglass-service/internal/threshold"
)

// ConfigRepository は閾値構成（世代）へのアクセスのインターフェース。
type ConfigRepository interface {
	GetCurrent(ctx context.Context) (*domain.ThresholdConfig, error)
	FindByGeneration(ctx context.Context, generation uint) (*domain.ThresholdConfig, error)
	ListAll(ctx context.Context) ([]*domain.ThresholdConfig, error)
	CreateGeneration(ctx context.Context, cfg *domain.ThresholdConfig, holders []*domain.KeyHolder, expectedCurrent uint) error
	ListOverdue(ctx context.Context, now time.Time) ([]*domain.ThresholdConfig, error)
}

// VaultSealer は世代の保管庫を封印するインターフェース。
type VaultSealer interface {
	Seal(ctx context.Context, generation uint, secret []byte) error
}

// Enrollment は鍵生成セレモニーに参加する保有者の指定。
type Enrollment struct {
	Identity          string
	RoleLabel         string
	RecipientKey      string
	ContactChannels   []string
	TrainingExpiresAt time.Time
}

// CeremonyRequest は Initialize/Rotate の入力。
// Enrollments が空の場合は世代のみを作成し、分割と封印は外部（オフライン）で行う。
type CeremonyRequest struct {
	Threshold   int
	TotalShares int
	Enrollments []Enrollment
}

// IssuedShare は保有者に配布する暗号化済み分割片。
type IssuedShare struct {
	HolderID       string
	Identity       string
	Ordinal        int
	RecipientKey   string
	EncryptedShare []byte
}

// CeremonyResult はセレモニーの結果。
type CeremonyResult struct {
	Config *domain.ThresholdConfig
	Shares []IssuedShare
}

// PreparedShare は保有者の公開鍵で暗号化した分割片とそのフィンガープリント。
type PreparedShare struct {
	Ordinal        int
	Identity       string
	RecipientKey   string
	EncryptedShare []byte
	Fingerprint    string
}

// PrepareShares はシークレットを分割し、各分割片を参加者の公開鍵で暗号化する。
// 順序位置は参加者の並び順（1始まり）。平文の分割片は返す前に消去する。
func PrepareShares(secret []byte, t int, enrollments []Enrollment) ([]PreparedShare, error) {
	shares, err := threshold.Split(secret, t, len(enrollments))
	if err != nil {
		return nil, err
	}
	defer threshold.WipeAll(shares)

	prepared := make([]PreparedShare, len(enrollments))
	for i, e := range enrollments {
		ct, err := threshold.EncryptShareForHolder(shares[i], e.RecipientKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidEnrollment, e.Identity, err)
		}
		prepared[i] = PreparedShare{
			Ordinal:        i + 1,
			Identity:       e.Identity,
			RecipientKey:   e.RecipientKey,
			EncryptedShare: ct,
			Fingerprint:    threshold.Fingerprint(shares[i]),
		}
	}
	return prepared, nil
}

// ValidateEnrollments はセレモニーの参加者指定を検証する。
func ValidateEnrollments(t, n int, enrollments []Enrollment) error {
	if err := domain.ValidateThreshold(t, n); err != nil {
		return err
	}
	if len(enrollments) == 0 {
		return nil
	}
	if len(enrollments) != n {
		return fmt.Errorf("%w: %d enrollments for %d shares", domain.ErrInvalidEnrollment, len(enrollments), n)
	}
	seen := make(map[string]struct{}, n)
	for _, e := range enrollments {
		id := strings.TrimSpace(e.Identity)
		if id == "" {
			return fmt.Errorf("%w: identity is required", domain.ErrInvalidEnrollment)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s enrolled twice", domain.ErrInvalidEnrollment, id)
		}
		seen[id] = struct{}{}
		if err := threshold.ValidateRecipient(e.RecipientKey); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrInvalidEnrollment, id, err)
		}
		if err := validateChannels(e.ContactChannels); err != nil {
			return err
		}
	}
	return nil
}

func validateChannels(channels []string) error {
	for _, ch := range channels {
		if _, _, err := notify.ParseChannel(ch); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEnrollment, err)
		}
	}
	return nil
}

// TrustRootService は閾値構成の世代管理（初期化・ローテーション）を提供する。
type TrustRootService struct {
	configs ConfigRepository
	vault   VaultSealer
	now     func() time.Time
}

// NewTrustRootService は新しいTrustRootServiceを生成する。
func NewTrustRootService(configs ConfigRepository, vault VaultSealer) *TrustRootService {
	return &TrustRootService{
		configs: configs,
		vault:   vault,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Initialize は最初の世代を作成する。既に現行世代がある場合は ErrConfigAlreadyInitialized を返す。
func (s *TrustRootService) Initialize(ctx context.Context, req CeremonyRequest) (*CeremonyResult, error) {
	if err := ValidateEnrollments(req.Threshold, req.TotalShares, req.Enrollments); err != nil {
		return nil, err
	}
	current, err := s.configs.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding current config: %w", err)
	}
	if current != nil {
		return nil, domain.ErrConfigAlreadyInitialized
	}
	return s.ceremony(ctx, req, 1, 0)
}

// Rotate は新しい世代を作成して現行世代を置き換える。旧世代は superseded になる。
func (s *TrustRootService) Rotate(ctx context.Context, req CeremonyRequest) (*CeremonyResult, error) {
	if err := ValidateEnrollments(req.Threshold, req.TotalShares, req.Enrollments); err != nil {
		return nil, err
	}
	current, err := s.configs.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding current config: %w", err)
	}
	if current == nil {
		return nil, domain.ErrNoActiveConfig
	}
	return s.ceremony(ctx, req, current.Generation+1, current.Generation)
}

// ceremony は保管庫を封印してから世代を登録する。
// 封印済みで登録に失敗した世代番号は再封印できないため、次の試行は競合として失敗する。
func (s *TrustRootService) ceremony(ctx context.Context, req CeremonyRequest, generation, expectedCurrent uint) (*CeremonyResult, error) {
	now := s.now()
	cfg := &domain.ThresholdConfig{
		Generation:    generation,
		Threshold:     req.Threshold,
		TotalShares:   req.TotalShares,
		NextTestDueAt: now.Add(domain.DrillCadence),
	}

	if len(req.Enrollments) == 0 {
		if err := s.configs.CreateGeneration(ctx, cfg, nil, expectedCurrent); err != nil {
			return nil, fmt.Errorf("creating generation: %w", err)
		}
		slog.InfoContext(ctx, "generation created for offline ceremony",
			"generation", generation,
			"threshold", req.Threshold,
			"total_shares", req.TotalShares,
		)
		return &CeremonyResult{Config: cfg}, nil
	}

	secret, err := threshold.NewMasterSecret()
	if err != nil {
		return nil, err
	}
	defer threshold.Wipe(secret)

	prepared, err := PrepareShares(secret, req.Threshold, req.Enrollments)
	if err != nil {
		return nil, err
	}

	holders := make([]*domain.KeyHolder, len(prepared))
	for i, p := range prepared {
		e := req.Enrollments[i]
		training := e.TrainingExpiresAt
		if training.IsZero() {
			training = now.Add(domain.TrainingValidity)
		}
		holders[i] = &domain.KeyHolder{
			Generation:        generation,
			Identity:          strings.TrimSpace(e.Identity),
			RoleLabel:         e.RoleLabel,
			Ordinal:           p.Ordinal,
			EncryptedShare:    p.EncryptedShare,
			ShareFingerprint:  p.Fingerprint,
			RecipientKey:      p.RecipientKey,
			ContactChannels:   e.ContactChannels,
			KeyIssuedAt:       now,
			RotationDueAt:     now.Add(domain.KeyRotationInterval),
			VerificationDueAt: now.Add(domain.VerificationInterval),
			TrainingExpiresAt: training,
			Status:            domain.HolderStatusActive,
		}
	}

	if err := s.vault.Seal(ctx, generation, secret); err != nil {
		return nil, fmt.Errorf("sealing vault: %w", err)
	}
	if err := s.configs.CreateGeneration(ctx, cfg, holders, expectedCurrent); err != nil {
		return nil, fmt.Errorf("creating generation: %w", err)
	}

	shares := make([]IssuedShare, len(holders))
	for i, h := range holders {
		shares[i] = IssuedShare{
			HolderID:       h.ID,
			Identity:       h.Identity,
			Ordinal:        h.Ordinal,
			RecipientKey:   h.RecipientKey,
			EncryptedShare: h.EncryptedShare,
		}
	}

	slog.InfoContext(ctx, "threshold config generation created",
		"generation", generation,
		"threshold", req.Threshold,
		"total_shares", req.TotalShares,
		"superseded", expectedCurrent,
	)
	return &CeremonyResult{Config: cfg, Shares: shares}, nil
}

// Current は現行世代の構成を返す。
func (s *TrustRootService) Current(ctx context.Context) (*domain.ThresholdConfig, error) {
	cfg, err := s.configs.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding current config: %w", err)
	}
	if cfg == nil {
		return nil, domain.ErrNoActiveConfig
	}
	return cfg, nil
}

// ListGenerations は全世代を返す。
func (s *TrustRootService) ListGenerations(ctx context.Context) ([]*domain.ThresholdConfig, error) {
	configs, err := s.configs.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing configs: %w", err)
	}
	return configs, nil
}
