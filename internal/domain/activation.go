package domain

import "time"

// Severity は緊急発動の重大度を表す。
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// ParseSeverity は文字列を重大度に変換する。
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium:
		return Severity(s), nil
	}
	return "", ErrInvalidSeverity
}

// ActivationStatus は緊急発動の状態を表す。
type ActivationStatus string

const (
	// ActivationStatusCollecting は署名収集中を表す。
	ActivationStatusCollecting ActivationStatus = "collecting_signatures"
	// ActivationStatusAuthorized は定足数に達した状態を表す。
	ActivationStatusAuthorized ActivationStatus = "authorized"
	// ActivationStatusRecovering は復旧実行中を表す。
	ActivationStatusRecovering ActivationStatus = "recovery_executing"
	// ActivationStatusResolved は解決済みを表す（終端状態）。
	ActivationStatusResolved ActivationStatus = "resolved"
	// ActivationStatusCancelled は取消済みを表す（終端状態）。
	ActivationStatusCancelled ActivationStatus = "cancelled"
)

// IsClosed は終端状態かを返す。
func (s ActivationStatus) IsClosed() bool {
	return s == ActivationStatusResolved || s == ActivationStatusCancelled
}

// IsAuthorized は定足数到達後の状態かを返す。
func (s ActivationStatus) IsAuthorized() bool {
	return s == ActivationStatusAuthorized || s == ActivationStatusRecovering || s == ActivationStatusResolved
}

// EmergencyActivation は1回の復旧試行を表す。
// Generation/Threshold/TotalShares は作成時点の構成のスナップショット。
type EmergencyActivation struct {
	ID                  string
	TriggerRef          string
	Reason              string
	Severity            Severity
	ActivatedBy         string
	ActivatedAt         time.Time
	Generation          uint
	Threshold           int
	TotalShares         int
	Status              ActivationStatus
	SignaturesReceived  int
	AuthorizedAt        *time.Time
	Extended            bool
	ExtensionReason     string
	RecoveryInProgress  bool
	RecoveryStartedAt   *time.Time
	RecoveryCompletedAt *time.Time
	LastRecoveryError   string
	CancelledAt         *time.Time
	CancelReason        string
	ResolvedAt          *time.Time
	ResolvedBy          string

	Signatures []*SignatureSlot
	Rejections []*Rejection
	Actions    []*RecoveryAction
}

// SignatureSlot は署名枠（1..N）を表す。
// SealedShare はエスクロー鍵で暗号化された分割片で、定足数到達後の署名では空になる。
type SignatureSlot struct {
	ActivationID string
	Slot         int
	HolderID     string
	SubmittedAt  time.Time
	Origin       string
	SealedShare  []byte
	// ShareHeld は封印済み分割片がまだ保持されているかを示す。
	ShareHeld bool
}

// Rejection は保有者による拒否の記録（定足数には数えない）。
type Rejection struct {
	ActivationID string
	HolderID     string
	Reason       string
	RejectedAt   time.Time
}

// RecoveryAction は復旧アクションログの1エントリ（追記のみ）。
type RecoveryAction struct {
	ActivationID string
	Sequence     uint
	Action       string
	Detail       string
	RecordedAt   time.Time
}

// 復旧アクションログに記録するアクション名。
const (
	ActionRecoveryStarted    = "recovery started"
	ActionSharesCombined     = "shares combined"
	ActionVaultAccessed      = "vault accessed"
	ActionVaultUnreachable   = "vault unreachable"
	ActionBackupRestored     = "backup restored"
	ActionIntegrityVerified  = "integrity verified"
	ActionRecoveryCompleted  = "recovery completed"
	ActionRecoveryFailed     = "recovery step failed"
	ActionActivationExtended = "activation extended"
	ActionActivationResolved = "activation resolved"
)

// SignatureResult は署名提出の結果を表す。
type SignatureResult struct {
	Slot               int
	SignaturesReceived int
	Status             ActivationStatus
	// QuorumReached は今回の提出で collecting→authorized に遷移した場合のみ true。
	QuorumReached bool
}
