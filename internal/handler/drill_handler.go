package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/usecase"
	"breakglass-service/pkg/httputil"
)

// DrillHandler は訓練とコンプライアンスのHTTPハンドラを提供する。
type DrillHandler struct {
	service *usecase.DrillService
}

// NewDrillHandler は新しいDrillHandlerを生成する。
func NewDrillHandler(service *usecase.DrillService) *DrillHandler {
	return &DrillHandler{service: service}
}

// ScheduleDrillRequest は訓練予定のリクエスト形式。
type ScheduleDrillRequest struct {
	Name                string    `json:"name"`
	Type                string    `json:"type"`
	Scenario            string    `json:"scenario"`
	ScheduledAt         time.Time `json:"scheduled_at"`
	Participants        []string  `json:"participants"`
	Objectives          []string  `json:"objectives"`
	TargetRecoveryHours float64   `json:"target_recovery_hours"`
}

// CompleteDrillRequest は訓練結果のリクエスト形式。
type CompleteDrillRequest struct {
	ActualStart   time.Time `json:"actual_start"`
	ActualEnd     time.Time `json:"actual_end"`
	ObjectivesMet []string  `json:"objectives_met"`
	Score         int       `json:"score"`
	Issues        []string  `json:"issues"`
	Remediation   []string  `json:"remediation"`
}

// DrillListResponse は訓練一覧のレスポンス形式。
type DrillListResponse struct {
	Drills []DrillResponse `json:"drills"`
}

// OverdueResponse は訓練期限切れ世代のレスポンス形式。
type OverdueResponse struct {
	Configs []ConfigResponse `json:"configs"`
}

// ScheduleDrill は訓練を予定する。
func (h *DrillHandler) ScheduleDrill(w http.ResponseWriter, r *http.Request) {
	var req ScheduleDrillRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	d, err := h.service.ScheduleDrill(r.Context(), usecase.DrillRequest{
		Name:                req.Name,
		Type:                req.Type,
		Scenario:            req.Scenario,
		ScheduledAt:         req.ScheduledAt,
		Participants:        req.Participants,
		Objectives:          req.Objectives,
		TargetRecoveryHours: req.TargetRecoveryHours,
	})
	if err != nil {
		audit(r, "SCHEDULE_DRILL", "", "", err)
		writeError(w, r, err)
		return
	}

	audit(r, "SCHEDULE_DRILL", d.ID, "", nil)
	httputil.JSON(w, http.StatusCreated, newDrillResponse(d))
}

// ListDrills は訓練一覧を返す。status で絞り込める。
func (h *DrillHandler) ListDrills(w http.ResponseWriter, r *http.Request) {
	drills, err := h.service.ListDrills(r.Context(), domain.DrillStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := DrillListResponse{Drills: make([]DrillResponse, len(drills))}
	for i, d := range drills {
		resp.Drills[i] = newDrillResponse(d)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// GetDrill は訓練を返す。
func (h *DrillHandler) GetDrill(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.GetDrill(r.Context(), chi.URLParam(r, "drill_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newDrillResponse(d))
}

// CompleteDrill は訓練結果を記録する。
func (h *DrillHandler) CompleteDrill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "drill_id")
	var req CompleteDrillRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	d, err := h.service.CompleteDrill(r.Context(), id, usecase.DrillResult{
		ActualStart:   req.ActualStart,
		ActualEnd:     req.ActualEnd,
		ObjectivesMet: req.ObjectivesMet,
		Score:         req.Score,
		Issues:        req.Issues,
		Remediation:   req.Remediation,
	})
	if err != nil {
		audit(r, "COMPLETE_DRILL", id, "", err)
		writeError(w, r, err)
		return
	}

	audit(r, "COMPLETE_DRILL", id, "", nil)
	httputil.JSON(w, http.StatusOK, newDrillResponse(d))
}

// MarkMissed は訓練を未実施にする。
func (h *DrillHandler) MarkMissed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "drill_id")
	d, err := h.service.MarkMissed(r.Context(), id)
	if err != nil {
		audit(r, "MARK_DRILL_MISSED", id, "", err)
		writeError(w, r, err)
		return
	}
	audit(r, "MARK_DRILL_MISSED", id, "", nil)
	httputil.JSON(w, http.StatusOK, newDrillResponse(d))
}

// GetOverdue は訓練期限を過ぎた世代を返す。
func (h *DrillHandler) GetOverdue(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.GetOverdueDrills(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := OverdueResponse{Configs: make([]ConfigResponse, len(configs))}
	for i, c := range configs {
		resp.Configs[i] = newConfigResponse(c)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// GetComplianceReport はコンプライアンスレポートを返す。
func (h *DrillHandler) GetComplianceReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ComplianceReport(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newComplianceResponse(report))
}
