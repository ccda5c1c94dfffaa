package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/usecase"
	"breakglass-service/pkg/httputil"
)

// defaultDueWithinDays は期限一覧の既定の先読み日数。
const defaultDueWithinDays = 30

// HolderHandler は鍵保有者レジストリのHTTPハンドラを提供する。
type HolderHandler struct {
	service *usecase.HolderService
}

// NewHolderHandler は新しいHolderHandlerを生成する。
func NewHolderHandler(service *usecase.HolderService) *HolderHandler {
	return &HolderHandler{service: service}
}

// RegisterHolderRequest は保有者登録のリクエスト形式。
type RegisterHolderRequest struct {
	Identity          string    `json:"identity"`
	RoleLabel         string    `json:"role_label"`
	Ordinal           int       `json:"ordinal"`
	EncryptedShare    []byte    `json:"encrypted_share"`
	ShareFingerprint  string    `json:"share_fingerprint"`
	RecipientKey      string    `json:"recipient_key"`
	ContactChannels   []string  `json:"contact_channels"`
	TrainingExpiresAt time.Time `json:"training_expires_at"`
}

// HolderListResponse は保有者一覧のレスポンス形式。
type HolderListResponse struct {
	Holders []HolderResponse `json:"holders"`
}

// EncryptedShareResponse は保有者宛て暗号化分割片のレスポンス形式。
type EncryptedShareResponse struct {
	HolderID       string `json:"holder_id"`
	EncryptedShare []byte `json:"encrypted_share"`
}

// RecordTrainingRequest は研修記録のリクエスト形式。expires_at 省略時は1年後。
type RecordTrainingRequest struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterHolder は現行世代に保有者を登録する。
func (h *HolderHandler) RegisterHolder(w http.ResponseWriter, r *http.Request) {
	var req RegisterHolderRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	holder, err := h.service.RegisterHolder(r.Context(), usecase.HolderRegistration{
		Identity:          req.Identity,
		RoleLabel:         req.RoleLabel,
		Ordinal:           req.Ordinal,
		EncryptedShare:    req.EncryptedShare,
		ShareFingerprint:  req.ShareFingerprint,
		RecipientKey:      req.RecipientKey,
		ContactChannels:   req.ContactChannels,
		TrainingExpiresAt: req.TrainingExpiresAt,
	})
	if err != nil {
		audit(r, "REGISTER_HOLDER", "", req.Identity, err)
		writeError(w, r, err)
		return
	}

	audit(r, "REGISTER_HOLDER", holder.ID, req.Identity, nil)
	httputil.JSON(w, http.StatusCreated, newHolderResponse(holder))
}

// ListHolders は世代の保有者一覧を返す。generation 省略時は現行世代。
func (h *HolderHandler) ListHolders(w http.ResponseWriter, r *http.Request) {
	gen, ok := queryGeneration(r)
	if !ok {
		badRequest(w, "INVALID_GENERATION", "invalid generation number")
		return
	}
	holders, err := h.service.ListHolders(r.Context(), gen)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, HolderListResponse{Holders: newHolderResponses(holders)})
}

// GetHolder は保有者を返す。
func (h *HolderHandler) GetHolder(w http.ResponseWriter, r *http.Request) {
	holder, err := h.service.GetHolder(r.Context(), chi.URLParam(r, "holder_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newHolderResponse(holder))
}

// GetEncryptedShare は保有者宛てに暗号化された分割片を返す。
func (h *HolderHandler) GetEncryptedShare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "holder_id")
	share, err := h.service.GetEncryptedShare(r.Context(), id)
	if err != nil {
		audit(r, "GET_ENCRYPTED_SHARE", id, "", err)
		writeError(w, r, err)
		return
	}
	audit(r, "GET_ENCRYPTED_SHARE", id, "", nil)
	httputil.JSON(w, http.StatusOK, EncryptedShareResponse{HolderID: id, EncryptedShare: share})
}

// RevokeHolder は保有者を失効させる。
func (h *HolderHandler) RevokeHolder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "REVOKE_HOLDER", h.service.RevokeHolder)
}

// SuspendHolder は保有者を一時停止する。
func (h *HolderHandler) SuspendHolder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "SUSPEND_HOLDER", h.service.SuspendHolder)
}

// ReinstateHolder は一時停止中の保有者を復帰させる。
func (h *HolderHandler) ReinstateHolder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "REINSTATE_HOLDER", h.service.ReinstateHolder)
}

func (h *HolderHandler) transition(w http.ResponseWriter, r *http.Request, operation string,
	run func(context.Context, string) (*domain.HolderSummary, error)) {
	id := chi.URLParam(r, "holder_id")
	holder, err := run(r.Context(), id)
	if err != nil {
		audit(r, operation, id, "", err)
		writeError(w, r, err)
		return
	}
	audit(r, operation, id, "", nil)
	httputil.JSON(w, http.StatusOK, newHolderResponse(holder))
}

// RecordTraining は研修の修了を記録する。
func (h *HolderHandler) RecordTraining(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "holder_id")
	var req RecordTrainingRequest
	if r.ContentLength != 0 {
		if err := httputil.Decode(r, &req); err != nil {
			badRequest(w, "INVALID_REQUEST", err.Error())
			return
		}
	}
	holder, err := h.service.RecordTraining(r.Context(), id, req.ExpiresAt)
	if err != nil {
		audit(r, "RECORD_TRAINING", id, "", err)
		writeError(w, r, err)
		return
	}
	audit(r, "RECORD_TRAINING", id, "", nil)
	httputil.JSON(w, http.StatusOK, newHolderResponse(holder))
}

// RecordVerification は分割片の保有確認を記録する。
func (h *HolderHandler) RecordVerification(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "RECORD_VERIFICATION", h.service.RecordVerification)
}

// ListDue は期限が近い保有者を返す。kind は rotation / training / verification。
func (h *HolderHandler) ListDue(w http.ResponseWriter, r *http.Request) {
	days := defaultDueWithinDays
	if s := r.URL.Query().Get("within_days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(w, "INVALID_REQUEST", "within_days must be a non-negative integer")
			return
		}
		days = n
	}
	within := time.Duration(days) * 24 * time.Hour

	var list func(context.Context, time.Duration) ([]*domain.HolderSummary, error)
	switch chi.URLParam(r, "kind") {
	case "rotation":
		list = h.service.ListDueForRotation
	case "training":
		list = h.service.ListDueForTraining
	case "verification":
		list = h.service.ListDueForVerification
	default:
		httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "unknown reminder kind")
		return
	}

	holders, err := list(r.Context(), within)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, HolderListResponse{Holders: newHolderResponses(holders)})
}
