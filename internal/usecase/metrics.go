package usecase

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("breakglass-service/internal/usecase")

// Metrics はユースケースが記録するメトリクスのインターフェース。
type Metrics interface {
	ActivationCreated(severity string)
	SignatureSubmitted(result string)
	RecoveryStep(step, result string)
	NotificationFailed()
	SetOverdueConfigs(n int)
	SetHoldersDue(kind string, n int)
	SetOpenActivations(n int)
}

type nopMetrics struct{}

func (nopMetrics) ActivationCreated(string)    {}
func (nopMetrics) SignatureSubmitted(string)   {}
func (nopMetrics) RecoveryStep(string, string) {}
func (nopMetrics) NotificationFailed()         {}
func (nopMetrics) SetOverdueConfigs(int)       {}
func (nopMetrics) SetHoldersDue(string, int)   {}
func (nopMetrics) SetOpenActivations(int)      {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
