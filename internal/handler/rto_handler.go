package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"breakglass-service/internal/usecase"
	"breakglass-service/pkg/httputil"
)

// RTOHandler は構成要素ごとのRTO/RPOのHTTPハンドラを提供する。
type RTOHandler struct {
	service *usecase.RTOService
}

// NewRTOHandler は新しいRTOHandlerを生成する。
func NewRTOHandler(service *usecase.RTOService) *RTOHandler {
	return &RTOHandler{service: service}
}

// CreateRTORequest はRTO登録のリクエスト形式。
type CreateRTORequest struct {
	Component           string   `json:"component"`
	Description         string   `json:"description"`
	TargetRecoveryHours float64  `json:"target_recovery_hours"`
	TargetPointHours    float64  `json:"target_point_hours"`
	Tier                string   `json:"tier"`
	DependsOn           []string `json:"depends_on"`
}

// RTOListResponse はRTO一覧のレスポンス形式。
type RTOListResponse struct {
	Objectives []RTOResponse `json:"objectives"`
}

// ComponentStatusListResponse は構成要素ごとの達成状況一覧のレスポンス形式。
type ComponentStatusListResponse struct {
	ActivationID string                    `json:"activation_id"`
	Components   []ComponentStatusResponse `json:"components"`
}

// CreateRTO はRTOを登録する。
func (h *RTOHandler) CreateRTO(w http.ResponseWriter, r *http.Request) {
	var req CreateRTORequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	rto, err := h.service.Create(r.Context(), usecase.RTORequest{
		Component:           req.Component,
		Description:         req.Description,
		TargetRecoveryHours: req.TargetRecoveryHours,
		TargetPointHours:    req.TargetPointHours,
		Tier:                req.Tier,
		DependsOn:           req.DependsOn,
	})
	if err != nil {
		audit(r, "CREATE_RTO", req.Component, "", err)
		writeError(w, r, err)
		return
	}

	audit(r, "CREATE_RTO", rto.ID, "", nil)
	httputil.JSON(w, http.StatusCreated, newRTOResponse(rto))
}

// ListRTOs はRTO一覧を返す。
func (h *RTOHandler) ListRTOs(w http.ResponseWriter, r *http.Request) {
	rtos, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := RTOListResponse{Objectives: make([]RTOResponse, len(rtos))}
	for i, rto := range rtos {
		resp.Objectives[i] = newRTOResponse(rto)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// GetRTO はRTOを返す。
func (h *RTOHandler) GetRTO(w http.ResponseWriter, r *http.Request) {
	rto, err := h.service.Get(r.Context(), chi.URLParam(r, "rto_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newRTOResponse(rto))
}

// DeleteRTO はRTOを削除する。
func (h *RTOHandler) DeleteRTO(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rto_id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		audit(r, "DELETE_RTO", id, "", err)
		writeError(w, r, err)
		return
	}
	audit(r, "DELETE_RTO", id, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

// ComponentStatus は発動に対する構成要素ごとの復旧期限を返す。
func (h *RTOHandler) ComponentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activation_id")
	statuses, err := h.service.ComponentStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := ComponentStatusListResponse{ActivationID: id, Components: make([]ComponentStatusResponse, len(statuses))}
	for i, s := range statuses {
		resp.Components[i] = ComponentStatusResponse{
			Component:        s.Component,
			Tier:             string(s.Tier),
			RecoveryDeadline: formatTime(s.RecoveryDeadline),
			HoursRemaining:   s.HoursRemaining,
			Breached:         s.Breached,
			DependsOn:        s.DependsOn,
		}
	}
	httputil.JSON(w, http.StatusOK, resp)
}
