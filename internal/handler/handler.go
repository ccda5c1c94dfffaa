// Package handler はHTTPハンドラを提供する。
package handler

import (
	"net/http"
	"strconv"

	"breakglass-service/internal/middleware"
)

// audit は操作結果を監査ログに出力する。
func audit(r *http.Request, operation, subjectID, actor string, err error) {
	result := middleware.ResultSuccess
	if err != nil {
		result = middleware.ResultFailed
	}
	middleware.WriteAuditLog(r.Context(), middleware.AuditLog{
		Operation: operation,
		SubjectID: subjectID,
		Actor:     actor,
		Result:    result,
	})
}

// queryGeneration は generation クエリを読む。未指定は0（現行世代）。
func queryGeneration(r *http.Request) (uint, bool) {
	s := r.URL.Query().Get("generation")
	if s == "" {
		return 0, true
	}
	gen, err := strconv.ParseUint(s, 10, 32)
	if err != nil || gen < 1 {
		return 0, false
	}
	return uint(gen), true
}
