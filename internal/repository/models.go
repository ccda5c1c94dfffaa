// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"breakglass-service/internal/domain"
)

// TrustRootModel は現行世代を指す単一行のポインタ。
type TrustRootModel struct {
	ID                uint      `gorm:"primaryKey"`
	CurrentGeneration uint      `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (TrustRootModel) TableName() string {
	return "trust_roots"
}

// trustRootRowID は trust_roots の唯一の行のID。
const trustRootRowID = 1

// ThresholdConfigModel はgorm用のモデル定義。
type ThresholdConfigModel struct {
	Generation    uint       `gorm:"primaryKey;autoIncrement:false"`
	Threshold     int        `gorm:"not null"`
	TotalShares   int        `gorm:"not null"`
	Superseded    bool       `gorm:"not null;default:false;index:idx_superseded"`
	SupersededAt  *time.Time `gorm:"type:datetime(6)"`
	LastTestedAt  *time.Time `gorm:"type:datetime(6)"`
	NextTestDueAt time.Time  `gorm:"type:datetime(6);not null"`
	CreatedAt     time.Time  `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (ThresholdConfigModel) TableName() string {
	return "threshold_configs"
}

func (m *ThresholdConfigModel) toDomain() *domain.ThresholdConfig {
	return &domain.ThresholdConfig{
		Generation:    m.Generation,
		Threshold:     m.Threshold,
		TotalShares:   m.TotalShares,
		Superseded:    m.Superseded,
		SupersededAt:  m.SupersededAt,
		LastTestedAt:  m.LastTestedAt,
		NextTestDueAt: m.NextTestDueAt,
		CreatedAt:     m.CreatedAt,
	}
}

// KeyHolderModel はgorm用のモデル定義。
type KeyHolderModel struct {
	ID                string    `gorm:"type:char(36);primaryKey"`
	Generation        uint      `gorm:"not null;uniqueIndex:uk_generation_ordinal;uniqueIndex:uk_generation_identity"`
	Identity          string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_generation_identity"`
	RoleLabel         string    `gorm:"type:varchar(128);not null;default:''"`
	Ordinal           int       `gorm:"not null;uniqueIndex:uk_generation_ordinal"`
	EncryptedShare    []byte    `gorm:"type:blob;not null"`
	ShareFingerprint  string    `gorm:"type:char(64);not null"`
	RecipientKey      string    `gorm:"type:varchar(128);not null;default:''"`
	ContactChannels   []string  `gorm:"type:text;serializer:json"`
	KeyIssuedAt       time.Time `gorm:"type:datetime(6);not null"`
	RotationDueAt     time.Time `gorm:"type:datetime(6);not null;index:idx_rotation_due"`
	VerificationDueAt time.Time `gorm:"type:datetime(6);not null"`
	TrainingExpiresAt time.Time `gorm:"type:datetime(6);not null;index:idx_training_expires"`
	Status            string    `gorm:"type:varchar(16);not null;default:'active'"`
	CreatedAt         time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (KeyHolderModel) TableName() string {
	return "key_holders"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *KeyHolderModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func newKeyHolderModel(h *domain.KeyHolder) *KeyHolderModel {
	return &KeyHolderModel{
		ID:                h.ID,
		Generation:        h.Generation,
		Identity:          h.Identity,
		RoleLabel:         h.RoleLabel,
		Ordinal:           h.Ordinal,
		EncryptedShare:    h.EncryptedShare,
		ShareFingerprint:  h.ShareFingerprint,
		RecipientKey:      h.RecipientKey,
		ContactChannels:   h.ContactChannels,
		KeyIssuedAt:       h.KeyIssuedAt,
		RotationDueAt:     h.RotationDueAt,
		VerificationDueAt: h.VerificationDueAt,
		TrainingExpiresAt: h.TrainingExpiresAt,
		Status:            string(h.Status),
	}
}

func (m *KeyHolderModel) toDomain() *domain.KeyHolder {
	return &domain.KeyHolder{
		ID:                m.ID,
		Generation:        m.Generation,
		Identity:          m.Identity,
		RoleLabel:         m.RoleLabel,
		Ordinal:           m.Ordinal,
		EncryptedShare:    m.EncryptedShare,
		ShareFingerprint:  m.ShareFingerprint,
		RecipientKey:      m.RecipientKey,
		ContactChannels:   m.ContactChannels,
		KeyIssuedAt:       m.KeyIssuedAt,
		RotationDueAt:     m.RotationDueAt,
		VerificationDueAt: m.VerificationDueAt,
		TrainingExpiresAt: m.TrainingExpiresAt,
		Status:            domain.HolderStatus(m.Status),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// EmergencyActivationModel はgorm用のモデル定義。
type EmergencyActivationModel struct {
	ID                  string     `gorm:"type:char(36);primaryKey"`
	TriggerRef          string     `gorm:"type:varchar(128);not null;default:''"`
	Reason              string     `gorm:"type:text;not null"`
	Severity            string     `gorm:"type:varchar(16);not null"`
	ActivatedBy         string     `gorm:"type:varchar(128);not null"`
	ActivatedAt         time.Time  `gorm:"type:datetime(6);not null"`
	Generation          uint       `gorm:"not null"`
	Threshold           int        `gorm:"not null"`
	TotalShares         int        `gorm:"not null"`
	Status              string     `gorm:"type:varchar(32);not null;index:idx_activation_status"`
	SignaturesReceived  int        `gorm:"not null;default:0"`
	AuthorizedAt        *time.Time `gorm:"type:datetime(6)"`
	Extended            bool       `gorm:"not null;default:false"`
	ExtensionReason     string     `gorm:"type:text"`
	RecoveryInProgress  bool       `gorm:"not null;default:false"`
	RecoveryStartedAt   *time.Time `gorm:"type:datetime(6)"`
	RecoveryCompletedAt *time.Time `gorm:"type:datetime(6)"`
	LastRecoveryError   string     `gorm:"type:text"`
	CancelledAt         *time.Time `gorm:"type:datetime(6)"`
	CancelReason        string     `gorm:"type:text"`
	ResolvedAt          *time.Time `gorm:"type:datetime(6)"`
	ResolvedBy          string     `gorm:"type:varchar(128);not null;default:''"`
	CreatedAt           time.Time  `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (EmergencyActivationModel) TableName() string {
	return "emergency_activations"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *EmergencyActivationModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *EmergencyActivationModel) toDomain() *domain.EmergencyActivation {
	return &domain.EmergencyActivation{
		ID:                  m.ID,
		TriggerRef:          m.TriggerRef,
		Reason:              m.Reason,
		Severity:            domain.Severity(m.Severity),
		ActivatedBy:         m.ActivatedBy,
		ActivatedAt:         m.ActivatedAt,
		Generation:          m.Generation,
		Threshold:           m.Threshold,
		TotalShares:         m.TotalShares,
		Status:              domain.ActivationStatus(m.Status),
		SignaturesReceived:  m.SignaturesReceived,
		AuthorizedAt:        m.AuthorizedAt,
		Extended:            m.Extended,
		ExtensionReason:     m.ExtensionReason,
		RecoveryInProgress:  m.RecoveryInProgress,
		RecoveryStartedAt:   m.RecoveryStartedAt,
		RecoveryCompletedAt: m.RecoveryCompletedAt,
		LastRecoveryError:   m.LastRecoveryError,
		CancelledAt:         m.CancelledAt,
		CancelReason:        m.CancelReason,
		ResolvedAt:          m.ResolvedAt,
		ResolvedBy:          m.ResolvedBy,
	}
}

// ActivationSignatureModel は署名枠のモデル定義。
type ActivationSignatureModel struct {
	ID           string    `gorm:"type:char(36);primaryKey"`
	ActivationID string    `gorm:"type:char(36);not null;uniqueIndex:uk_activation_slot;uniqueIndex:uk_activation_holder"`
	Slot         int       `gorm:"not null;uniqueIndex:uk_activation_slot"`
	HolderID     string    `gorm:"type:char(36);not null;uniqueIndex:uk_activation_holder"`
	SubmittedAt  time.Time `gorm:"type:datetime(6);not null"`
	Origin       string    `gorm:"type:varchar(255);not null;default:''"`
	SealedShare  []byte    `gorm:"type:blob"`
}

// TableName はテーブル名を返す。
func (ActivationSignatureModel) TableName() string {
	return "activation_signatures"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *ActivationSignatureModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *ActivationSignatureModel) toDomain() *domain.SignatureSlot {
	return &domain.SignatureSlot{
		ActivationID: m.ActivationID,
		Slot:         m.Slot,
		HolderID:     m.HolderID,
		SubmittedAt:  m.SubmittedAt,
		Origin:       m.Origin,
		SealedShare:  m.SealedShare,
	}
}

// ActivationRejectionModel は拒否記録のモデル定義。
type ActivationRejectionModel struct {
	ID           string    `gorm:"type:char(36);primaryKey"`
	ActivationID string    `gorm:"type:char(36);not null;uniqueIndex:uk_rejection_holder"`
	HolderID     string    `gorm:"type:char(36);not null;uniqueIndex:uk_rejection_holder"`
	Reason       string    `gorm:"type:text"`
	RejectedAt   time.Time `gorm:"type:datetime(6);not null"`
}

// TableName はテーブル名を返す。
func (ActivationRejectionModel) TableName() string {
	return "activation_rejections"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *ActivationRejectionModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// RecoveryActionModel は復旧アクションログのモデル定義（追記のみ）。
type RecoveryActionModel struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	ActivationID string    `gorm:"type:char(36);not null;index:idx_action_activation"`
	Action       string    `gorm:"type:varchar(64);not null"`
	Detail       string    `gorm:"type:text"`
	RecordedAt   time.Time `gorm:"type:datetime(6);not null"`
}

// TableName はテーブル名を返す。
func (RecoveryActionModel) TableName() string {
	return "recovery_actions"
}

// RecoveryTimeObjectiveModel はRTOのモデル定義。
type RecoveryTimeObjectiveModel struct {
	ID                  string    `gorm:"type:char(36);primaryKey"`
	Component           string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_rto_component"`
	Description         string    `gorm:"type:text"`
	TargetRecoveryHours float64   `gorm:"not null"`
	TargetPointHours    float64   `gorm:"not null"`
	Tier                string    `gorm:"type:varchar(16);not null"`
	DependsOn           []string  `gorm:"type:text;serializer:json"`
	CreatedAt           time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (RecoveryTimeObjectiveModel) TableName() string {
	return "recovery_time_objectives"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *RecoveryTimeObjectiveModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *RecoveryTimeObjectiveModel) toDomain() *domain.RecoveryTimeObjective {
	return &domain.RecoveryTimeObjective{
		ID:                  m.ID,
		Component:           m.Component,
		Description:         m.Description,
		TargetRecoveryHours: m.TargetRecoveryHours,
		TargetPointHours:    m.TargetPointHours,
		Tier:                domain.CriticalityTier(m.Tier),
		DependsOn:           m.DependsOn,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// DrillModel は災害復旧訓練のモデル定義。
type DrillModel struct {
	ID                  string     `gorm:"type:char(36);primaryKey"`
	Generation          uint       `gorm:"not null;index:idx_drill_generation"`
	Name                string     `gorm:"type:varchar(255);not null"`
	DrillType           string     `gorm:"type:varchar(16);not null"`
	Scenario            string     `gorm:"type:varchar(255);not null;default:''"`
	ScheduledAt         time.Time  `gorm:"type:datetime(6);not null"`
	Participants        []string   `gorm:"type:text;serializer:json"`
	Objectives          []string   `gorm:"type:text;serializer:json"`
	TargetRecoveryHours float64    `gorm:"not null;default:0"`
	ActualStart         *time.Time `gorm:"type:datetime(6)"`
	ActualEnd           *time.Time `gorm:"type:datetime(6)"`
	DurationMinutes     int        `gorm:"not null;default:0"`
	ObjectivesMet       []string   `gorm:"type:text;serializer:json"`
	Score               int        `gorm:"not null;default:0"`
	Issues              []string   `gorm:"type:text;serializer:json"`
	Remediation         []string   `gorm:"type:text;serializer:json"`
	Status              string     `gorm:"type:varchar(16);not null;index:idx_drill_status"`
	CreatedAt           time.Time  `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (DrillModel) TableName() string {
	return "dr_drills"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *DrillModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *DrillModel) toDomain() *domain.DisasterRecoveryDrill {
	return &domain.DisasterRecoveryDrill{
		ID:                  m.ID,
		Generation:          m.Generation,
		Name:                m.Name,
		Type:                domain.DrillType(m.DrillType),
		Scenario:            m.Scenario,
		ScheduledAt:         m.ScheduledAt,
		Participants:        m.Participants,
		Objectives:          m.Objectives,
		TargetRecoveryHours: m.TargetRecoveryHours,
		ActualStart:         m.ActualStart,
		ActualEnd:           m.ActualEnd,
		DurationMinutes:     m.DurationMinutes,
		ObjectivesMet:       m.ObjectivesMet,
		Score:               m.Score,
		Issues:              m.Issues,
		Remediation:         m.Remediation,
		Status:              domain.DrillStatus(m.Status),
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}
