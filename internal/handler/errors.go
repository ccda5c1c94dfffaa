package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"breakglass-service/internal/domain"
	"breakglass-service/internal/vault"
	"breakglass-service/pkg/httputil"
)

// errorMapping はドメインエラーとHTTPステータス・エラーコードの対応。
type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	// 構成
	{domain.ErrNoActiveConfig, http.StatusConflict, "NO_ACTIVE_CONFIG"},
	{domain.ErrConfigAlreadyInitialized, http.StatusConflict, "CONFIG_ALREADY_INITIALIZED"},
	{domain.ErrInvalidThreshold, http.StatusBadRequest, "INVALID_THRESHOLD"},
	{domain.ErrInvalidFingerprint, http.StatusBadRequest, "INVALID_FINGERPRINT"},
	{domain.ErrInvalidOrdinal, http.StatusBadRequest, "INVALID_ORDINAL"},
	{domain.ErrDuplicateOrdinal, http.StatusConflict, "DUPLICATE_ORDINAL"},
	{domain.ErrDuplicateHolder, http.StatusConflict, "DUPLICATE_HOLDER"},
	{domain.ErrInvalidEnrollment, http.StatusBadRequest, "INVALID_ENROLLMENT"},
	{domain.ErrConcurrentRotation, http.StatusConflict, "CONCURRENT_ROTATION"},

	// 認可
	{domain.ErrUnknownActivation, http.StatusNotFound, "UNKNOWN_ACTIVATION"},
	{domain.ErrUnknownHolder, http.StatusNotFound, "UNKNOWN_HOLDER"},
	{domain.ErrInactiveHolder, http.StatusForbidden, "INACTIVE_HOLDER"},
	{domain.ErrDuplicateSignature, http.StatusConflict, "DUPLICATE_SIGNATURE"},
	{domain.ErrDuplicateRejection, http.StatusConflict, "DUPLICATE_REJECTION"},
	{domain.ErrAlreadySigned, http.StatusConflict, "ALREADY_SIGNED"},
	{domain.ErrGenerationMismatch, http.StatusConflict, "GENERATION_MISMATCH"},
	{domain.ErrSignatureSlotsFull, http.StatusConflict, "SIGNATURE_SLOTS_FULL"},
	{domain.ErrActivationClosed, http.StatusConflict, "ACTIVATION_CLOSED"},
	{domain.ErrInvalidTransition, http.StatusConflict, "INVALID_STATE_TRANSITION"},
	{domain.ErrInvalidSeverity, http.StatusBadRequest, "INVALID_SEVERITY"},
	{domain.ErrConcurrentUpdate, http.StatusConflict, "CONCURRENT_UPDATE"},
	{domain.ErrRecoveryInProgress, http.StatusConflict, "RECOVERY_IN_PROGRESS"},

	// 暗号
	{domain.ErrInsufficientShares, http.StatusUnprocessableEntity, "INSUFFICIENT_SHARES"},
	{domain.ErrFingerprintMismatch, http.StatusUnprocessableEntity, "FINGERPRINT_MISMATCH"},
	{domain.ErrMalformedShare, http.StatusBadRequest, "MALFORMED_SHARE"},

	// 保管庫
	{domain.ErrVaultUnreachable, http.StatusServiceUnavailable, "VAULT_UNREACHABLE"},
	{domain.ErrVaultKeyMismatch, http.StatusUnprocessableEntity, "VAULT_KEY_MISMATCH"},
	{domain.ErrVaultNotSealed, http.StatusConflict, "VAULT_NOT_SEALED"},
	{domain.ErrIntegrityCheckFailed, http.StatusUnprocessableEntity, "INTEGRITY_CHECK_FAILED"},
	{vault.ErrAlreadySealed, http.StatusConflict, "VAULT_ALREADY_SEALED"},
	{vault.ErrInvalidBackupName, http.StatusBadRequest, "INVALID_BACKUP_NAME"},

	// 訓練・RTO
	{domain.ErrDrillNotFound, http.StatusNotFound, "DRILL_NOT_FOUND"},
	{domain.ErrDrillNotScheduled, http.StatusConflict, "DRILL_NOT_SCHEDULED"},
	{domain.ErrDrillInPast, http.StatusBadRequest, "DRILL_IN_PAST"},
	{domain.ErrInvalidDrillType, http.StatusBadRequest, "INVALID_DRILL_TYPE"},
	{domain.ErrInvalidDrillWindow, http.StatusBadRequest, "INVALID_DRILL_WINDOW"},
	{domain.ErrRTONotFound, http.StatusNotFound, "RTO_NOT_FOUND"},
	{domain.ErrInvalidRTO, http.StatusBadRequest, "INVALID_RTO"},
}

// classify はエラーに対応するステータスとコードを返す。
func classify(err error) (int, string, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code, true
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", false
}

// writeError はエラーをレスポンスに変換する。内部エラーの詳細は返さない。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, known := classify(err)
	if !known {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		httputil.Error(w, status, code, "internal server error")
		return
	}
	httputil.Error(w, status, code, err.Error())
}

func badRequest(w http.ResponseWriter, code, message string) {
	httputil.Error(w, http.StatusBadRequest, code, message)
}
