package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"breakglass-service/internal/middleware"
)

// Handlers はルーターに登録するハンドラ一式。
type Handlers struct {
	Config     *ConfigHandler
	Holder     *HolderHandler
	Activation *ActivationHandler
	RTO        *RTOHandler
	Drill      *DrillHandler
	Backup     *BackupHandler
	// Metrics は /metrics に公開するハンドラ。nil の場合は公開しない。
	Metrics http.Handler
}

// NewRouter はルーターを生成する。
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ルート定義
	r.Route("/v1/config", func(r chi.Router) {
		r.Post("/initialize", h.Config.Initialize)
		r.Post("/rotate", h.Config.Rotate)
		r.Get("/current", h.Config.GetCurrent)
		r.Get("/generations", h.Config.ListGenerations)
	})

	r.Route("/v1/holders", func(r chi.Router) {
		r.Post("/", h.Holder.RegisterHolder)
		r.Get("/", h.Holder.ListHolders)
		r.Get("/due/{kind}", h.Holder.ListDue)
		r.Route("/{holder_id}", func(r chi.Router) {
			r.Get("/", h.Holder.GetHolder)
			r.Get("/share", h.Holder.GetEncryptedShare)
			r.Post("/revoke", h.Holder.RevokeHolder)
			r.Post("/suspend", h.Holder.SuspendHolder)
			r.Post("/reinstate", h.Holder.ReinstateHolder)
			r.Post("/training", h.Holder.RecordTraining)
			r.Post("/verification", h.Holder.RecordVerification)
		})
	})

	r.Route("/v1/activations", func(r chi.Router) {
		r.Post("/", h.Activation.Activate)
		r.Get("/", h.Activation.ListActivations)
		r.Route("/{activation_id}", func(r chi.Router) {
			r.Get("/", h.Activation.GetActivation)
			r.Post("/signatures", h.Activation.SubmitSignature)
			r.Post("/rejections", h.Activation.RecordRejection)
			r.Post("/cancel", h.Activation.Cancel)
			r.Post("/extend", h.Activation.Extend)
			r.Post("/resolve", h.Activation.Resolve)
			r.Post("/retry", h.Activation.RetryRecovery)
			r.Get("/progress", h.Activation.GetProgress)
			r.Get("/components", h.RTO.ComponentStatus)
		})
	})

	r.Route("/v1/rtos", func(r chi.Router) {
		r.Post("/", h.RTO.CreateRTO)
		r.Get("/", h.RTO.ListRTOs)
		r.Get("/{rto_id}", h.RTO.GetRTO)
		r.Delete("/{rto_id}", h.RTO.DeleteRTO)
	})

	r.Route("/v1/drills", func(r chi.Router) {
		r.Post("/", h.Drill.ScheduleDrill)
		r.Get("/", h.Drill.ListDrills)
		r.Get("/overdue", h.Drill.GetOverdue)
		r.Get("/{drill_id}", h.Drill.GetDrill)
		r.Post("/{drill_id}/complete", h.Drill.CompleteDrill)
		r.Post("/{drill_id}/missed", h.Drill.MarkMissed)
	})
	r.Get("/v1/compliance", h.Drill.GetComplianceReport)

	r.Route("/v1/backups", func(r chi.Router) {
		r.Post("/", h.Backup.PutBackup)
		r.Get("/", h.Backup.GetManifest)
	})

	return otelhttp.NewHandler(r, "breakglass-service",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)
}
