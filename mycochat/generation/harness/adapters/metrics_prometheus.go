package adapters

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
)

// PrometheusMetrics records pipeline outcomes as Prometheus counters.
type PrometheusMetrics struct {
	TurnsTotal         *prometheus.CounterVec
	InterceptsTotal    *prometheus.CounterVec
	ExtractionsTotal   *prometheus.CounterVec
	StreamsTotal       *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers the pipeline metrics on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mycochat_turns_total",
				Help: "Total number of handled turns by reply strategy",
			},
			[]string{"strategy"},
		),
		InterceptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mycochat_risk_intercepts_total",
				Help: "Total number of turns intercepted by risk category",
			},
			[]string{"category"},
		),
		ExtractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mycochat_extractions_total",
				Help: "Total number of species extractions by success",
			},
			[]string{"ok"},
		),
		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mycochat_streams_total",
				Help: "Total number of generation streams by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *PrometheusMetrics) TurnHandled(strategy string) {
	m.TurnsTotal.WithLabelValues(strategy).Inc()
}

func (m *PrometheusMetrics) RiskIntercepted(category string) {
	m.InterceptsTotal.WithLabelValues(category).Inc()
}

func (m *PrometheusMetrics) ExtractionFinished(ok bool) {
	m.ExtractionsTotal.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (m *PrometheusMetrics) StreamFinished(outcome string) {
	m.StreamsTotal.WithLabelValues(outcome).Inc()
}

var _ ports.Metrics = (*PrometheusMetrics)(nil)
