package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vault_bridge"

// Metrics of the bridge service. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	psbtsBuilt   *prometheus.CounterVec
	broadcasts   *prometheus.CounterVec
	burnSteps    *prometheus.CounterVec
	feeFallbacks prometheus.Counter
	evmTxSeconds *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	resumed      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		Registry: reg,
		psbtsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "psbts_built_total",
			Help:      "Unsigned PSBTs built, by kind and network.",
		}, []string{"kind", "network"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "btc_broadcasts_total",
			Help:      "Bitcoin transactions handed to a node, by network and result.",
		}, []string{"network", "result"}),
		burnSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "burn_steps_total",
			Help:      "Burn saga steps, by step and result.",
		}, []string{"step", "result"}),
		feeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_fallbacks_total",
			Help:      "Times the default fee rate replaced an unavailable mempool estimate.",
		}),
		evmTxSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evm_tx_seconds",
			Help:      "Time from sending an evm transaction until it is mined.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"method"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests, by route and reported status.",
		}, []string{"route", "status"}),
		resumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "burns_resumed_total",
			Help:      "Burned intents finished by the resume loop.",
		}),
	}
	reg.MustRegister(m.psbtsBuilt, m.broadcasts, m.burnSteps, m.feeFallbacks, m.evmTxSeconds, m.httpRequests, m.resumed)
	return m
}

// Handler exposes the registry in the prometheus text or openmetrics format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) PsbtBuilt(kind, network string) {
	if m == nil {
		return
	}
	m.psbtsBuilt.WithLabelValues(kind, network).Inc()
}

func (m *Metrics) Broadcast(network string, err error) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(network, result(err)).Inc()
}

func (m *Metrics) BurnStep(step string, err error) {
	if m == nil {
		return
	}
	m.burnSteps.WithLabelValues(step, result(err)).Inc()
}

func (m *Metrics) FeeFallback() {
	if m == nil {
		return
	}
	m.feeFallbacks.Inc()
}

func (m *Metrics) EvmTx(method string, took time.Duration) {
	if m == nil {
		return
	}
	m.evmTxSeconds.WithLabelValues(method).Observe(took.Seconds())
}

func (m *Metrics) HttpRequest(route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
}

func (m *Metrics) Resumed() {
	if m == nil {
		return
	}
	m.resumed.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
