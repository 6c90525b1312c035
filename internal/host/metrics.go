package host

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"alia/internal/core"
)

// Metrics are the runner's Prometheus collectors.
type Metrics struct {
	cycles     *prometheus.CounterVec
	think      prometheus.Histogram
	foci       prometheus.Gauge
	nodes      *prometheus.GaugeVec
	knowledge  *prometheus.GaugeVec
	sentences  prometheus.Gauge
	parseFails prometheus.Gauge
	skipped    prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil reg uses a private
// registry, so several runners can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alia_cycles_total",
			Help: "Exchange cycles by Think return code",
		}, []string{"code"}),
		think: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "alia_think_seconds",
			Help:    "Wall time of one Think",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		foci: f.NewGauge(prometheus.GaugeOpts{
			Name: "alia_foci",
			Help: "Foci on the stack after the last cycle",
		}),
		nodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alia_wmem_nodes",
			Help: "Working memory nodes by partition",
		}, []string{"part"}),
		knowledge: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alia_knowledge",
			Help: "Stored rules and operators",
		}, []string{"kind"}),
		sentences: f.NewGauge(prometheus.GaugeOpts{
			Name: "alia_sentences",
			Help: "Sentences interpreted since reset",
		}),
		parseFails: f.NewGauge(prometheus.GaugeOpts{
			Name: "alia_parse_failures",
			Help: "Sentences that could not be parsed since reset",
		}),
		skipped: f.NewGauge(prometheus.GaugeOpts{
			Name: "alia_skipped_steps",
			Help: "Catch-up think steps cut by the time budget since reset",
		}),
	}
}

func (m *Metrics) observe(code int, seconds float64, st core.Stats) {
	m.cycles.WithLabelValues(strconv.Itoa(code)).Inc()
	m.think.Observe(seconds)
	m.foci.Set(float64(st.Foci))
	m.nodes.WithLabelValues("main").Set(float64(st.Main))
	m.nodes.WithLabelValues("halo").Set(float64(st.Halo))
	m.knowledge.WithLabelValues("rules").Set(float64(st.Rules))
	m.knowledge.WithLabelValues("ops").Set(float64(st.Ops))
	m.sentences.Set(float64(st.Sentences))
	m.parseFails.Set(float64(st.ParseFails))
	m.skipped.Set(float64(st.Skipped))
}
