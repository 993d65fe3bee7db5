package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nidentity/cmd/internal/fragment"
	"nidentity/cmd/internal/gotrue"
)

// Metrics holds the Prometheus collectors of the session controller.
// A nil *Metrics records nothing.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationErrors   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	AuthChanges       *prometheus.CounterVec
	Fragments         *prometheus.CounterVec
	Exchanges         *prometheus.CounterVec
	Refreshes         prometheus.Counter
	Fetches           *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nidentity",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session operations started, by operation.",
		}, []string{"op"}),
		OperationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nidentity",
			Subsystem: "session",
			Name:      "operation_errors_total",
			Help:      "Session operations that failed remotely, by operation.",
		}, []string{"op"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nidentity",
			Subsystem: "session",
			Name:      "operation_duration_seconds",
			Help:      "Duration of session operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		AuthChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nidentity",
			Subsystem: "session",
			Name:      "auth_changes_total",
			Help:      "User changes passed through the session choke point.",
		}, []string{"state"}),
		Fragments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nidentity",
			Subsystem: "fragment",
			Name:      "classified_total",
			Help:      "Fragment classifications returned to the caller.",
		}, []string{"kind"}),
		Exchanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nidentity",
			Subsystem: "fragment",
			Name:      "exchanges_total",
			Help:      "Token exchanges performed while parsing a fragment.",
		}, []string{"type", "result"}),
		Refreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nidentity",
			Subsystem: "session",
			Name:      "token_refreshes_total",
			Help:      "Access tokens refreshed by GetFreshJWT.",
		}),
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nidentity",
			Subsystem: "session",
			Name:      "authed_fetches_total",
			Help:      "Authenticated fetches, by method and status class.",
		}, []string{"method", "class"}),
	}
}

func (m *Metrics) track(op string, start time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) fail(op string) {
	if m == nil {
		return
	}
	m.OperationErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) observeAuthChange(u *gotrue.User) {
	if m == nil {
		return
	}
	state := "login"
	if u == nil {
		state = "logout"
	}
	m.AuthChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) observeParam(p fragment.TokenParam) {
	if m == nil {
		return
	}
	kind := "none"
	switch {
	case p.IsError():
		kind = p.Error
	case p.HasToken():
		kind = string(p.Type)
	}
	m.Fragments.WithLabelValues(kind).Inc()
}

// observeExchange matches fragment.Parser.Observe. It must be usable on a nil receiver.
func (m *Metrics) observeExchange(t fragment.Type, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Exchanges.WithLabelValues(string(t), result).Inc()
}

func (m *Metrics) refreshed() {
	if m == nil {
		return
	}
	m.Refreshes.Inc()
}

func (m *Metrics) fetched(method string, status int) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	}
	return "other"
}
