package apiclient

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Requests  *prometheus.CounterVec
	Refreshes *prometheus.CounterVec
	Retries   prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_client_requests_total",
				Help: "Total API requests sent, by method and status.",
			},
			[]string{"method", "status"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_client_token_refresh_total",
				Help: "Access token refresh attempts triggered by 401 responses.",
			},
			[]string{"result"},
		),
		Retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fintrack_client_retries_total",
				Help: "Requests replayed after a token refresh.",
			},
		),
	}

	registry.MustRegister(m.Requests, m.Refreshes, m.Retries)
	return m
}

func (m *Metrics) request(method string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.Requests.WithLabelValues(method, label).Inc()
}

func (m *Metrics) refreshed(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}
