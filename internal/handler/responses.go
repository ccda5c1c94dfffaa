package handler

import (
	"time"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/usecase"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// ConfigResponse は閾値構成（世代）のレスポンス形式。
type ConfigResponse struct {
	Generation    uint   `json:"generation"`
	Threshold     int    `json:"threshold"`
	TotalShares   int    `json:"total_shares"`
	Superseded    bool   `json:"superseded"`
	SupersededAt  string `json:"superseded_at,omitempty"`
	LastTestedAt  string `json:"last_tested_at,omitempty"`
	NextTestDueAt string `json:"next_test_due_at"`
	CreatedAt     string `json:"created_at,omitempty"`
}

func newConfigResponse(c *domain.ThresholdConfig) ConfigResponse {
	return ConfigResponse{
		Generation:    c.Generation,
		Threshold:     c.Threshold,
		TotalShares:   c.TotalShares,
		Superseded:    c.Superseded,
		SupersededAt:  formatTimePtr(c.SupersededAt),
		LastTestedAt:  formatTimePtr(c.LastTestedAt),
		NextTestDueAt: formatTime(c.NextTestDueAt),
		CreatedAt:     formatTime(c.CreatedAt),
	}
}

// IssuedShareResponse は配布用に暗号化された分割片のレスポンス形式。
// encrypted_share は保有者のage公開鍵宛てで、本人の秘密鍵でのみ復号できる。
type IssuedShareResponse struct {
	HolderID       string `json:"holder_id"`
	Identity       string `json:"identity"`
	Ordinal        int    `json:"ordinal"`
	RecipientKey   string `json:"recipient_key"`
	EncryptedShare []byte `json:"encrypted_share"`
}

// CeremonyResponse は鍵生成セレモニーのレスポンス形式。
type CeremonyResponse struct {
	Config ConfigResponse        `json:"config"`
	Shares []IssuedShareResponse `json:"shares"`
}

func newCeremonyResponse(res *usecase.CeremonyResult) CeremonyResponse {
	resp := CeremonyResponse{
		Config: newConfigResponse(res.Config),
		Shares: make([]IssuedShareResponse, len(res.Shares)),
	}
	for i, s := range res.Shares {
		resp.Shares[i] = IssuedShareResponse{
			HolderID:       s.HolderID,
			Identity:       s.Identity,
			Ordinal:        s.Ordinal,
			RecipientKey:   s.RecipientKey,
			EncryptedShare: s.EncryptedShare,
		}
	}
	return resp
}

// HolderResponse は保有者の公開情報のレスポンス形式。
type HolderResponse struct {
	ID                string `json:"id"`
	Generation        uint   `json:"generation"`
	Identity          string `json:"identity"`
	RoleLabel         string `json:"role_label,omitempty"`
	Ordinal           int    `json:"ordinal"`
	RecipientKey      string `json:"recipient_key,omitempty"`
	Status            string `json:"status"`
	KeyIssuedAt       string `json:"key_issued_at"`
	RotationDueAt     string `json:"rotation_due_at"`
	VerificationDueAt string `json:"verification_due_at"`
	TrainingExpiresAt string `json:"training_expires_at"`
}

func newHolderResponse(h *domain.HolderSummary) HolderResponse {
	return HolderResponse{
		ID:                h.ID,
		Generation:        h.Generation,
		Identity:          h.Identity,
		RoleLabel:         h.RoleLabel,
		Ordinal:           h.Ordinal,
		RecipientKey:      h.RecipientKey,
		Status:            string(h.Status),
		KeyIssuedAt:       formatTime(h.KeyIssuedAt),
		RotationDueAt:     formatTime(h.RotationDueAt),
		VerificationDueAt: formatTime(h.VerificationDueAt),
		TrainingExpiresAt: formatTime(h.TrainingExpiresAt),
	}
}

func newHolderResponses(hs []*domain.HolderSummary) []HolderResponse {
	out := make([]HolderResponse, len(hs))
	for i, h := range hs {
		out[i] = newHolderResponse(h)
	}
	return out
}

// SignatureResponse は署名枠のレスポンス形式。封印済み分割片は返さない。
type SignatureResponse struct {
	Slot        int    `json:"slot"`
	HolderID    string `json:"holder_id"`
	SubmittedAt string `json:"submitted_at"`
	Origin      string `json:"origin,omitempty"`
	ShareHeld   bool   `json:"share_held"`
}

// RejectionResponse は拒否記録のレスポンス形式。
type RejectionResponse struct {
	HolderID   string `json:"holder_id"`
	Reason     string `json:"reason,omitempty"`
	RejectedAt string `json:"rejected_at"`
}

// ActionResponse は復旧アクションログのレスポンス形式。
type ActionResponse struct {
	Sequence   uint   `json:"sequence"`
	Action     string `json:"action"`
	Detail     string `json:"detail,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// ActivationResponse は緊急発動のレスポンス形式。
type ActivationResponse struct {
	ID                  string              `json:"id"`
	TriggerRef          string              `json:"trigger_ref"`
	Reason              string              `json:"reason"`
	Severity            string              `json:"severity"`
	ActivatedBy         string              `json:"activated_by"`
	ActivatedAt         string              `json:"activated_at"`
	Generation          uint                `json:"generation"`
	Threshold           int                 `json:"threshold"`
	TotalShares         int                 `json:"total_shares"`
	Status              string              `json:"status"`
	SignaturesReceived  int                 `json:"signatures_received"`
	AuthorizedAt        string              `json:"authorized_at,omitempty"`
	Extended            bool                `json:"extended"`
	ExtensionReason     string              `json:"extension_reason,omitempty"`
	RecoveryInProgress  bool                `json:"recovery_in_progress"`
	RecoveryStartedAt   string              `json:"recovery_started_at,omitempty"`
	RecoveryCompletedAt string              `json:"recovery_completed_at,omitempty"`
	LastRecoveryError   string              `json:"last_recovery_error,omitempty"`
	CancelledAt         string              `json:"cancelled_at,omitempty"`
	CancelReason        string              `json:"cancel_reason,omitempty"`
	ResolvedAt          string              `json:"resolved_at,omitempty"`
	ResolvedBy          string              `json:"resolved_by,omitempty"`
	Signatures          []SignatureResponse `json:"signatures,omitempty"`
	Rejections          []RejectionResponse `json:"rejections,omitempty"`
	Actions             []ActionResponse    `json:"actions,omitempty"`
}

func newActivationResponse(a *domain.EmergencyActivation) ActivationResponse {
	resp := ActivationResponse{
		ID:                  a.ID,
		TriggerRef:          a.TriggerRef,
		Reason:              a.Reason,
		Severity:            string(a.Severity),
		ActivatedBy:         a.ActivatedBy,
		ActivatedAt:         formatTime(a.ActivatedAt),
		Generation:          a.Generation,
		Threshold:           a.Threshold,
		TotalShares:         a.TotalShares,
		Status:              string(a.Status),
		SignaturesReceived:  a.SignaturesReceived,
		AuthorizedAt:        formatTimePtr(a.AuthorizedAt),
		Extended:            a.Extended,
		ExtensionReason:     a.ExtensionReason,
		RecoveryInProgress:  a.RecoveryInProgress,
		RecoveryStartedAt:   formatTimePtr(a.RecoveryStartedAt),
		RecoveryCompletedAt: formatTimePtr(a.RecoveryCompletedAt),
		LastRecoveryError:   a.LastRecoveryError,
		CancelledAt:         formatTimePtr(a.CancelledAt),
		CancelReason:        a.CancelReason,
		ResolvedAt:          formatTimePtr(a.ResolvedAt),
		ResolvedBy:          a.ResolvedBy,
	}
	for _, s := range a.Signatures {
		resp.Signatures = append(resp.Signatures, SignatureResponse{
			Slot:        s.Slot,
			HolderID:    s.HolderID,
			SubmittedAt: formatTime(s.SubmittedAt),
			Origin:      s.Origin,
			ShareHeld:   s.ShareHeld,
		})
	}
	for _, r := range a.Rejections {
		resp.Rejections = append(resp.Rejections, RejectionResponse{
			HolderID:   r.HolderID,
			Reason:     r.Reason,
			RejectedAt: formatTime(r.RejectedAt),
		})
	}
	for _, act := range a.Actions {
		resp.Actions = append(resp.Actions, ActionResponse{
			Sequence:   act.Sequence,
			Action:     act.Action,
			Detail:     act.Detail,
			RecordedAt: formatTime(act.RecordedAt),
		})
	}
	return resp
}

// SignatureResultResponse は署名提出結果のレスポンス形式。
type SignatureResultResponse struct {
	Slot               int    `json:"slot"`
	SignaturesReceived int    `json:"signatures_received"`
	Status             string `json:"status"`
	QuorumReached      bool   `json:"quorum_reached"`
}

// MilestoneResponse はマイルストーンのレスポンス形式。
type MilestoneResponse struct {
	Name        string  `json:"name"`
	TargetHours float64 `json:"target_hours"`
	Status      string  `json:"status"`
}

// ProgressResponse は復旧進捗のレスポンス形式。
type ProgressResponse struct {
	ActivationID                string              `json:"activation_id"`
	HoursElapsed                float64             `json:"hours_elapsed"`
	HoursRemaining              float64             `json:"hours_remaining"`
	PercentComplete             int                 `json:"percent_complete"`
	OnTrack                     bool                `json:"on_track"`
	Milestones                  []MilestoneResponse `json:"milestones"`
	BreachNotificationDeadline  string              `json:"breach_notification_deadline"`
	BreachNotificationRemaining float64             `json:"breach_notification_remaining_hours"`
}

func newProgressResponse(p *domain.RecoveryProgress) ProgressResponse {
	resp := ProgressResponse{
		ActivationID:                p.ActivationID,
		HoursElapsed:                p.HoursElapsed,
		HoursRemaining:              p.HoursRemaining,
		PercentComplete:             p.PercentComplete,
		OnTrack:                     p.OnTrack,
		Milestones:                  make([]MilestoneResponse, len(p.Milestones)),
		BreachNotificationDeadline:  formatTime(p.BreachNotificationDeadline),
		BreachNotificationRemaining: p.BreachNotificationRemaining,
	}
	for i, m := range p.Milestones {
		resp.Milestones[i] = MilestoneResponse{Name: m.Name, TargetHours: m.TargetHours, Status: string(m.Status)}
	}
	return resp
}

// ComponentStatusResponse は構成要素ごとのRTO達成状況のレスポンス形式。
type ComponentStatusResponse struct {
	Component        string   `json:"component"`
	Tier             string   `json:"tier"`
	RecoveryDeadline string   `json:"recovery_deadline"`
	HoursRemaining   float64  `json:"hours_remaining"`
	Breached         bool     `json:"breached"`
	DependsOn        []string `json:"depends_on,omitempty"`
}

// RTOResponse はRTO/RPOのレスポンス形式。
type RTOResponse struct {
	ID                  string   `json:"id"`
	Component           string   `json:"component"`
	Description         string   `json:"description,omitempty"`
	TargetRecoveryHours float64  `json:"target_recovery_hours"`
	TargetPointHours    float64  `json:"target_point_hours"`
	Tier                string   `json:"tier"`
	DependsOn           []string `json:"depends_on,omitempty"`
	CreatedAt           string   `json:"created_at,omitempty"`
}

func newRTOResponse(r *domain.RecoveryTimeObjective) RTOResponse {
	return RTOResponse{
		ID:                  r.ID,
		Component:           r.Component,
		Description:         r.Description,
		TargetRecoveryHours: r.TargetRecoveryHours,
		TargetPointHours:    r.TargetPointHours,
		Tier:                string(r.Tier),
		DependsOn:           r.DependsOn,
		CreatedAt:           formatTime(r.CreatedAt),
	}
}

// DrillResponse は訓練のレスポンス形式。
type DrillResponse struct {
	ID                  string   `json:"id"`
	Generation          uint     `json:"generation"`
	Name                string   `json:"name"`
	Type                string   `json:"type"`
	Scenario            string   `json:"scenario,omitempty"`
	ScheduledAt         string   `json:"scheduled_at"`
	Participants        []string `json:"participants,omitempty"`
	Objectives          []string `json:"objectives,omitempty"`
	TargetRecoveryHours float64  `json:"target_recovery_hours,omitempty"`
	ActualStart         string   `json:"actual_start,omitempty"`
	ActualEnd           string   `json:"actual_end,omitempty"`
	DurationMinutes     int      `json:"duration_minutes,omitempty"`
	ObjectivesMet       []string `json:"objectives_met,omitempty"`
	Score               int      `json:"score,omitempty"`
	Issues              []string `json:"issues,omitempty"`
	Remediation         []string `json:"remediation,omitempty"`
	Status              string   `json:"status"`
}

func newDrillResponse(d *domain.DisasterRecoveryDrill) DrillResponse {
	return DrillResponse{
		ID:                  d.ID,
		Generation:          d.Generation,
		Name:                d.Name,
		Type:                string(d.Type),
		Scenario:            d.Scenario,
		ScheduledAt:         formatTime(d.ScheduledAt),
		Participants:        d.Participants,
		Objectives:          d.Objectives,
		TargetRecoveryHours: d.TargetRecoveryHours,
		ActualStart:         formatTimePtr(d.ActualStart),
		ActualEnd:           formatTimePtr(d.ActualEnd),
		DurationMinutes:     d.DurationMinutes,
		ObjectivesMet:       d.ObjectivesMet,
		Score:               d.Score,
		Issues:              d.Issues,
		Remediation:         d.Remediation,
		Status:              string(d.Status),
	}
}

// DrillStatisticsResponse は訓練集計のレスポンス形式。
type DrillStatisticsResponse struct {
	Scheduled    int     `json:"scheduled"`
	Completed    int     `json:"completed"`
	Missed       int     `json:"missed"`
	AverageScore float64 `json:"average_score"`
}

// OpenActivationResponse は未終了の発動と進捗のレスポンス形式。
type OpenActivationResponse struct {
	ID       string           `json:"id"`
	Status   string           `json:"status"`
	Progress ProgressResponse `json:"progress"`
}

// ComplianceResponse はコンプライアンスレポートのレスポンス形式。
type ComplianceResponse struct {
	GeneratedAt               string                   `json:"generated_at"`
	OverdueConfigs            []ConfigResponse         `json:"overdue_configs"`
	HoldersDueForRotation     []HolderResponse         `json:"holders_due_for_rotation"`
	HoldersDueForTraining     []HolderResponse         `json:"holders_due_for_training"`
	HoldersDueForVerification []HolderResponse         `json:"holders_due_for_verification"`
	Drills                    DrillStatisticsResponse  `json:"drills"`
	OpenActivations           []OpenActivationResponse `json:"open_activations"`
	Alerts                    []string                 `json:"alerts"`
}

func newComplianceResponse(r *usecase.ComplianceReport) ComplianceResponse {
	resp := ComplianceResponse{
		GeneratedAt:               formatTime(r.GeneratedAt),
		OverdueConfigs:            make([]ConfigResponse, len(r.OverdueConfigs)),
		HoldersDueForRotation:     newHolderResponses(r.HoldersDueForRotation),
		HoldersDueForTraining:     newHolderResponses(r.HoldersDueForTraining),
		HoldersDueForVerification: newHolderResponses(r.HoldersDueForVerification),
		Drills: DrillStatisticsResponse{
			Scheduled:    r.Drills.Scheduled,
			Completed:    r.Drills.Completed,
			Missed:       r.Drills.Missed,
			AverageScore: r.Drills.AverageScore,
		},
		OpenActivations: make([]OpenActivationResponse, len(r.OpenActivations)),
		Alerts:          r.Alerts,
	}
	for i, c := range r.OverdueConfigs {
		resp.OverdueConfigs[i] = newConfigResponse(c)
	}
	for i, a := range r.OpenActivations {
		resp.OpenActivations[i] = OpenActivationResponse{
			ID:       a.Activation.ID,
			Status:   string(a.Activation.Status),
			Progress: newProgressResponse(a.Progress),
		}
	}
	if resp.Alerts == nil {
		resp.Alerts = []string{}
	}
	return resp
}
