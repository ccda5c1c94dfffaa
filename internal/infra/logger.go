package infra

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"breakglass-service/config"
)

// redactedKeys は値を出力しない属性キー。
var redactedKeys = map[string]struct{}{
	"share":           {},
	"shares":          {},
	"secret":          {},
	"master_secret":   {},
	"encrypted_share": {},
	"fingerprint":     {},
	"identity_file":   {},
}

const redacted = "[REDACTED]"

// TraceHandler はトレース情報をログに付与するslogハンドラ。
type TraceHandler struct {
	next        slog.Handler
	projectID   string
	otelEnabled bool
}

// NewTraceHandler は next に委譲する TraceHandler を生成する。
func NewTraceHandler(next slog.Handler, cfg *config.Config) *TraceHandler {
	return &TraceHandler{next: next, projectID: cfg.GoogleCloudProject, otelEnabled: cfg.OtelEnabled}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle はスパンが有効ならトレースIDを付与する。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.otelEnabled {
		return h.next.Handle(ctx, r)
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return h.next.Handle(ctx, r)
	}
	r.AddAttrs(
		slog.String("trace", sc.TraceID().String()),
		slog.String("spanId", sc.SpanID().String()),
		slog.Bool("traceSampled", sc.IsSampled()),
	)
	if h.projectID != "" {
		// Cloud Logging はこの2フィールドでトレースと結び付ける
		r.AddAttrs(
			slog.String("logging.googleapis.com/trace", "projects/"+h.projectID+"/traces/"+sc.TraceID().String()),
			slog.String("logging.googleapis.com/spanId", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}

// ParseLogLevel は LOG_LEVEL の値をslogのレベルに変換する。不明な値は INFO。
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactAttr は秘匿キーの値を置き換える。
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

// NewLogger は w にJSONで出力するロガーを生成する。
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLogLevel(cfg.LogLevel),
		ReplaceAttr: redactAttr,
	})
	return slog.New(NewTraceHandler(jsonHandler, cfg)).With("service", cfg.OtelServiceName)
}

// SetupLogger は標準出力向けのロガーをデフォルトに設定する。
func SetupLogger(cfg *config.Config) {
	slog.SetDefault(NewLogger(os.Stdout, cfg))
}
