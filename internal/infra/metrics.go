package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics はPrometheusのメトリクスを保持する。
type Metrics struct {
	registry *prometheus.Registry

	activations     *prometheus.CounterVec
	signatures      *prometheus.CounterVec
	recoverySteps   *prometheus.CounterVec
	notifyFailures  prometheus.Counter
	overdueConfigs  prometheus.Gauge
	holdersDue      *prometheus.GaugeVec
	openActivations prometheus.Gauge
}

// NewMetrics は専用レジストリにメトリクスを登録する。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakglass",
			Name:      "activations_total",
			Help:      "Emergency activations by severity.",
		}, []string{"severity"}),
		signatures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakglass",
			Name:      "signatures_total",
			Help:      "Signature submissions by result.",
		}, []string{"result"}),
		recoverySteps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakglass",
			Name:      "recovery_steps_total",
			Help:      "Recovery steps by step name and result.",
		}, []string{"step", "result"}),
		notifyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "breakglass",
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered.",
		}),
		overdueConfigs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "breakglass",
			Name:      "overdue_drill_configs",
			Help:      "Active threshold configs whose drill is overdue.",
		}),
		holdersDue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "breakglass",
			Name:      "holders_due",
			Help:      "Active holders due for a reminder by kind.",
		}, []string{"kind"}),
		openActivations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "breakglass",
			Name:      "open_activations",
			Help:      "Activations not yet resolved or cancelled.",
		}),
	}
}

// Handler は /metrics 用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ActivationCreated は発動を数える。
func (m *Metrics) ActivationCreated(severity string) {
	m.activations.WithLabelValues(severity).Inc()
}

// SignatureSubmitted は署名提出の結果を数える。
func (m *Metrics) SignatureSubmitted(result string) {
	m.signatures.WithLabelValues(result).Inc()
}

// RecoveryStep は復旧ステップの結果を数える。
func (m *Metrics) RecoveryStep(step, result string) {
	m.recoverySteps.WithLabelValues(step, result).Inc()
}

// NotificationFailed は通知失敗を数える。
func (m *Metrics) NotificationFailed() {
	m.notifyFailures.Inc()
}

// SetOverdueConfigs は訓練期限超過の構成数を設定する。
func (m *Metrics) SetOverdueConfigs(n int) {
	m.overdueConfigs.Set(float64(n))
}

// SetHoldersDue はリマインダー種別ごとの対象保有者数を設定する。
func (m *Metrics) SetHoldersDue(kind string, n int) {
	m.holdersDue.WithLabelValues(kind).Set(float64(n))
}

// SetOpenActivations は未終了の発動数を設定する。
func (m *Metrics) SetOpenActivations(n int) {
	m.openActivations.Set(float64(n))
}
