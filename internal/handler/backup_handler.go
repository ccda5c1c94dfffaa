package handler

import (
	"net/http"

	"breakglass-service/internal/usecase"
	"breakglass-service/internal/vault"
	"breakglass-service/pkg/httputil"
)

// BackupHandler は保管庫バックアップのHTTPハンドラを提供する。
type BackupHandler struct {
	service *usecase.BackupService
}

// NewBackupHandler は新しいBackupHandlerを生成する。
func NewBackupHandler(service *usecase.BackupService) *BackupHandler {
	return &BackupHandler{service: service}
}

// PutBackupRequest はバックアップ登録のリクエスト形式。generation 省略時は現行世代。
type PutBackupRequest struct {
	Generation uint   `json:"generation"`
	Name       string `json:"name"`
	Data       []byte `json:"data"`
}

// BackupEntryResponse はバックアップ1件のレスポンス形式。
type BackupEntryResponse struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	SHA256   string `json:"sha256"`
	StoredAt string `json:"stored_at"`
}

// ManifestResponse はマニフェストのレスポンス形式。
type ManifestResponse struct {
	Generation uint                  `json:"generation"`
	Entries    []BackupEntryResponse `json:"entries"`
}

func newBackupEntryResponse(e *vault.ManifestEntry) BackupEntryResponse {
	return BackupEntryResponse{
		Name:     e.Name,
		Size:     e.Size,
		SHA256:   e.SHA256,
		StoredAt: formatTime(e.StoredAt),
	}
}

// PutBackup はバックアップを世代の公開鍵で暗号化して保存する。
func (h *BackupHandler) PutBackup(w http.ResponseWriter, r *http.Request) {
	var req PutBackupRequest
	if err := httputil.Decode(r, &req); err != nil {
		badRequest(w, "INVALID_REQUEST", err.Error())
		return
	}

	entry, err := h.service.Put(r.Context(), req.Generation, req.Name, req.Data)
	if err != nil {
		audit(r, "PUT_BACKUP", req.Name, "", err)
		writeError(w, r, err)
		return
	}

	audit(r, "PUT_BACKUP", entry.Name, "", nil)
	httputil.JSON(w, http.StatusCreated, newBackupEntryResponse(entry))
}

// GetManifest は世代のバックアップ一覧を返す。
func (h *BackupHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	gen, ok := queryGeneration(r)
	if !ok {
		badRequest(w, "INVALID_GENERATION", "invalid generation number")
		return
	}
	m, err := h.service.Manifest(r.Context(), gen)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := ManifestResponse{Generation: m.Generation, Entries: make([]BackupEntryResponse, len(m.Entries))}
	for i := range m.Entries {
		resp.Entries[i] = newBackupEntryResponse(&m.Entries[i])
	}
	httputil.JSON(w, http.StatusOK, resp)
}
