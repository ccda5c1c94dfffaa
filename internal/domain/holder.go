// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// HolderStatus は鍵保有者のライフサイクル状態を表す。
type HolderStatus string

const (
	// HolderStatusActive は署名可能な保有者を表す。
	HolderStatusActive HolderStatus = "active"
	// HolderStatusSuspended は一時停止中の保有者を表す。
	HolderStatusSuspended HolderStatus = "suspended"
	// HolderStatusRevoked は失効した保有者を表す（終端状態）。
	HolderStatusRevoked HolderStatus = "revoked"
)

const (
	// KeyRotationInterval は鍵ローテーション期限（年1回）。
	KeyRotationInterval = 365 * 24 * time.Hour
	// VerificationInterval は分割片の保有確認期限（半年に1回）。
	VerificationInterval = 182 * 24 * time.Hour
	// TrainingValidity は研修の既定有効期間。
	TrainingValidity = 365 * 24 * time.Hour
)

// KeyHolder は分割片を1つ保有する受託者を表す。
// ShareFingerprint は平文分割片のハッシュで、ログ出力・外部送信してはならない。
type KeyHolder struct {
	ID                string
	Generation        uint
	Identity          string
	RoleLabel         string
	Ordinal           int
	EncryptedShare    []byte
	ShareFingerprint  string
	RecipientKey      string
	ContactChannels   []string
	KeyIssuedAt       time.Time
	RotationDueAt     time.Time
	VerificationDueAt time.Time
	TrainingExpiresAt time.Time
	Status            HolderStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive は保有者が署名可能かを返す。
func (h *KeyHolder) IsActive() bool {
	return h.Status == HolderStatusActive
}

// HolderSummary は分割片情報を含まない保有者の公開情報を表す。
type HolderSummary struct {
	ID                string
	Generation        uint
	Identity          string
	RoleLabel         string
	Ordinal           int
	RecipientKey      string
	KeyIssuedAt       time.Time
	RotationDueAt     time.Time
	VerificationDueAt time.Time
	TrainingExpiresAt time.Time
	Status            HolderStatus
}

// Summary は保有者の公開情報を返す。
func (h *KeyHolder) Summary() *HolderSummary {
	return &HolderSummary{
		ID:                h.ID,
		Generation:        h.Generation,
		Identity:          h.Identity,
		RoleLabel:         h.RoleLabel,
		Ordinal:           h.Ordinal,
		RecipientKey:      h.RecipientKey,
		KeyIssuedAt:       h.KeyIssuedAt,
		RotationDueAt:     h.RotationDueAt,
		VerificationDueAt: h.VerificationDueAt,
		TrainingExpiresAt: h.TrainingExpiresAt,
		Status:            h.Status,
	}
}
