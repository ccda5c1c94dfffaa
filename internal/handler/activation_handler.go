package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/threshold"
	"breakglass-service/internal/usecase"
	"breakglass-service/pkg/httputil"
)

// ActivationHandler は緊急発動のHTTPハンドラを提供する。
type ActivationHandler struct {
	service *usecase.ActivationService
}

// NewActivationHandler は新しいActivationHandlerを生成する。
func NewActivationHandler(service *usecase.ActivationService) *ActivationHandler {
	return &ActivationHandler{service: service}
}

// ActivateRequest は緊急発動のリクエスト形式。
type ActivateRequest struct {
	TriggerRef  string `json:"trigger_ref"`
	Reason      string `json:"reason"`
	Severity    string `json:"severity"`
	ActivatedBy string `json:"activated_by"`
}

// SubmitSignatureRequest は署名提出のリクエスト形式。
// share は保有者が手元で復号した平文の分割片（base64）。
// 提出元は接続元アドレスを記録し、クライアントの申告は受け付けない。
type SubmitSignatureRequest struct {
	HolderID string `json:"holder_id"`
	Share    []byte `json:"share"`
}

// RejectRequest は拒否記録のリクエスト形式。
type RejectRequest struct {
	HolderID string `json:"holder_id"`
	Reason   string `json:"reason"`
}

// CancelRequest は取消のリクエスト形式。
type CancelRequest struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

// ExtendRequest は延長のリクエスト形式。
type ExtendRequest struct {
	Reason string `json:"reason"`
}

// ResolveRequest は解決のリクエスト形式。
type ResolveRequest struct {
	By string `json:"by"`
}

// ActivationListResponse は発動一覧のレスポンス形式。
type ActivationListResponse struct {
	Activations []ActivationResponse `json:"activations"`
}

// Activate は緊急発動を作成する。
func (h *ActivationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	a, err := h.service.Activate(r.Context(), usecase.ActivationRequest{
		TriggerRef:  req.TriggerRef,
		Reason:      req.Reason,
		Severity:    req.Severity,
		ActivatedBy: req.ActivatedBy,
	})
	if err != nil {
		audit(r, "ACTIVATE", "", req.ActivatedBy, err)
		writeError(w, r, err)
		return
	}

	audit(r, "ACTIVATE", a.ID, req.ActivatedBy, nil)
	httputil.JSON(w, http.StatusCreated, newActivationResponse(a))
}

// ListActivations は発動一覧を返す。status で絞り込める。
func (h *ActivationHandler) ListActivations(w http.ResponseWriter, r *http.Request) {
	status := domain.ActivationStatus(r.URL.Query().Get("status"))
	activations, err := h.service.List(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := ActivationListResponse{Activations: make([]ActivationResponse, len(activations))}
	for i, a := range activations {
		resp.Activations[i] = newActivationResponse(a)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// GetActivation は署名枠・拒否・アクションログを含む発動を返す。
func (h *ActivationHandler) GetActivation(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Get(r.Context(), chi.URLParam(r, "activation_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newActivationResponse(a))
}

// SubmitSignature は保有者の署名と分割片を受け付ける。
func (h *ActivationHandler) SubmitSignature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activation_id")
	var req SubmitSignatureRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}
	defer threshold.Wipe(req.Share)

	res, err := h.service.SubmitSignature(r.Context(), usecase.SignatureSubmission{
		ActivationID: id,
		HolderID:     req.HolderID,
		Share:        req.Share,
		Origin:       r.RemoteAddr,
	})
	if err != nil {
		audit(r, "SUBMIT_SIGNATURE", id, req.HolderID, err)
		writeError(w, r, err)
		return
	}

	audit(r, "SUBMIT_SIGNATURE", id, req.HolderID, nil)
	httputil.JSON(w, http.StatusCreated, SignatureResultResponse{
		Slot:               res.Slot,
		SignaturesReceived: res.SignaturesReceived,
		Status:             string(res.Status),
		QuorumReached:      res.QuorumReached,
	})
}

// RecordRejection は保有者の拒否を記録する。
func (h *ActivationHandler) RecordRejection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activation_id")
	var req RejectRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	rej, err := h.service.RecordRejection(r.Context(), id, req.HolderID, req.Reason)
	if err != nil {
		audit(r, "RECORD_REJECTION", id, req.HolderID, err)
		writeError(w, r, err)
		return
	}

	audit(r, "RECORD_REJECTION", id, req.HolderID, nil)
	httputil.JSON(w, http.StatusCreated, RejectionResponse{
		HolderID:   rej.HolderID,
		Reason:     rej.Reason,
		RejectedAt: formatTime(rej.RejectedAt),
	})
}

// Cancel は署名収集中の発動を取り消す。
func (h *ActivationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activation_id")
	var req CancelRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	a, err := h.service.Cancel(r.Context(), id, req.By, req.Reason)
	if err != nil {
		audit(r, "CANCEL_ACTIVATION", id, req.By, err)
		writeError(w, r, err)
		return
	}

	audit(r, "CANCEL_ACTIVATION", id, req.By, nil)
	httputil.JSON(w, http.StatusOK, newActivationResponse(a))
}

// Extend は48時間の目標を超える延長を記録する。
func (h *ActivationHandler) Extend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activation_id")
	var req ExtendRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	a, err := h.service.Extend(r.Context(), id, req.Reason)
	if err != nil {
		audit(r, "EXTEND_ACTIVATION", id, "", err)
		writeError(w, r, err)
		return
	}

	audit(r, "EXTEND_ACTIVATION", id, "", nil)
	httputil.JSON(w, http.StatusOK, newActivationResponse(a))
}

// Resolve は復旧が完了した発動を解決済みにする。
func (h *ActivationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activation_id")
	var req ResolveRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	a, err := h.service.Resolve(r.Context(), id, req.By)
	if err != nil {
		audit(r, "RESOLVE_ACTIVATION", id, req.By, err)
		writeError(w, r, err)
		return
	}

	audit(r, "RESOLVE_ACTIVATION", id, req.By, nil)
	httputil.JSON(w, http.StatusOK, newActivationResponse(a))
}

// RetryRecovery は停止した復旧処理を再開する。結果はアクションログで確認する。
func (h *ActivationHandler) RetryRecovery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activation_id")
	if err := h.service.RetryRecovery(r.Context(), id); err != nil {
		audit(r, "RETRY_RECOVERY", id, "", err)
		writeError(w, r, err)
		return
	}
	audit(r, "RETRY_RECOVERY", id, "", nil)
	w.WriteHeader(http.StatusAccepted)
}

// GetProgress は復旧進捗を返す。
func (h *ActivationHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Progress(r.Context(), chi.URLParam(r, "activation_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newProgressResponse(p))
}
