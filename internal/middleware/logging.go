// Package middleware はHTTPミドルウェアと監査ログを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// 監査ログの結果。
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string `json:"operation"`
	SubjectID string `json:"subject_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。分割片やフィンガープリントは渡さないこと。
func WriteAuditLog(ctx context.Context, entry AuditLog) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	slog.InfoContext(ctx, "breakglass operation completed",
		"operation", entry.Operation,
		"subject_id", entry.SubjectID,
		"actor", entry.Actor,
		"result", entry.Result,
		"timestamp", entry.Timestamp,
	)
}
