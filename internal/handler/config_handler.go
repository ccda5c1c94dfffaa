package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"breakglass-service/internal/usecase"
	"breakglass-service/pkg/httputil"
)

// ConfigHandler は閾値構成（トラストルート）のHTTPハンドラを提供する。
type ConfigHandler struct {
	service *usecase.TrustRootService
}

// NewConfigHandler は新しいConfigHandlerを生成する。
func NewConfigHandler(service *usecase.TrustRootService) *ConfigHandler {
	return &ConfigHandler{service: service}
}

// EnrollmentRequest はセレモニー参加者のリクエスト形式。
type EnrollmentRequest struct {
	Identity          string    `json:"identity"`
	RoleLabel         string    `json:"role_label"`
	RecipientKey      string    `json:"recipient_key"`
	ContactChannels   []string  `json:"contact_channels"`
	TrainingExpiresAt time.Time `json:"training_expires_at"`
}

// CeremonyRequest は鍵生成セレモニーのリクエスト形式。
// enrollments が空の場合は世代のみを作成する（オフラインセレモニー）。
type CeremonyRequest struct {
	Threshold   int                 `json:"threshold"`
	TotalShares int                 `json:"total_shares"`
	Enrollments []EnrollmentRequest `json:"enrollments"`
}

func (c CeremonyRequest) toUsecase() usecase.CeremonyRequest {
	out := usecase.CeremonyRequest{Threshold: c.Threshold, TotalShares: c.TotalShares}
	for _, e := range c.Enrollments {
		out.Enrollments = append(out.Enrollments, usecase.Enrollment{
			Identity:          e.Identity,
			RoleLabel:         e.RoleLabel,
			RecipientKey:      e.RecipientKey,
			ContactChannels:   e.ContactChannels,
			TrainingExpiresAt: e.TrainingExpiresAt,
		})
	}
	return out
}

// Initialize は最初の世代を作成する。
func (h *ConfigHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	h.ceremony(w, r, "INITIALIZE_CONFIG", h.service.Initialize)
}

// Rotate は新しい世代へローテーションする。
func (h *ConfigHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	h.ceremony(w, r, "ROTATE_CONFIG", h.service.Rotate)
}

func (h *ConfigHandler) ceremony(w http.ResponseWriter, r *http.Request, operation string,
	run func(context.Context, usecase.CeremonyRequest) (*usecase.CeremonyResult, error)) {
	var req CeremonyRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := run(r.Context(), req.toUsecase())
	if err != nil {
		audit(r, operation, "", "", err)
		writeError(w, r, err)
		return
	}

	audit(r, operation, strconv.FormatUint(uint64(res.Config.Generation), 10), "", nil)
	httputil.JSON(w, http.StatusCreated, newCeremonyResponse(res))
}

// GetCurrent は現行世代を返す。
func (h *ConfigHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.Current(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newConfigResponse(cfg))
}

// ConfigListResponse は世代一覧のレスポンス形式。
type ConfigListResponse struct {
	Generations []ConfigResponse `json:"generations"`
}

// ListGenerations は全世代を返す。
func (h *ConfigHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.ListGenerations(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := ConfigListResponse{Generations: make([]ConfigResponse, len(configs))}
	for i, c := range configs {
		resp.Generations[i] = newConfigResponse(c)
	}
	httputil.JSON(w, http.StatusOK, resp)
}
