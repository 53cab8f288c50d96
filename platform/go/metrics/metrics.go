// Package metrics defines the Prometheus collectors of the owner service.
// A nil *Provisioning is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "palmyra_owner"

// Provisioning groups the provisioning and template sync collectors.
type Provisioning struct {
	requests      *prometheus.CounterVec
	polls         *prometheus.CounterVec
	watchOutcomes *prometheus.CounterVec
	watchers      prometheus.Gauge
	templateSyncs *prometheus.CounterVec
}

// NewProvisioning registers the provisioning collectors on reg.
func NewProvisioning(reg prometheus.Registerer) *Provisioning {
	m := &Provisioning{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "requests_total",
			Help:      "Provisioning requests by outcome",
		}, []string{"outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "polls_total",
			Help:      "Deployment status polls by normalized state; poll errors use state=error",
		}, []string{"state"}),
		watchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "finished_total",
			Help:      "Deployment watches that stopped, by final state",
		}, []string{"state"}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "active",
			Help:      "Deployment watches running in this process",
		}),
		templateSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "templates",
			Name:      "syncs_total",
			Help:      "Template sync runs by outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.requests, m.polls, m.watchOutcomes, m.watchers, m.templateSyncs)
	return m
}

func (m *Provisioning) ProvisionRequested(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Provisioning) Polled(state string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(state).Inc()
}

func (m *Provisioning) WatchStarted() {
	if m == nil {
		return
	}
	m.watchers.Inc()
}

func (m *Provisioning) WatchFinished(state string) {
	if m == nil {
		return
	}
	m.watchers.Dec()
	m.watchOutcomes.WithLabelValues(state).Inc()
}

func (m *Provisioning) TemplateSynced(outcome string) {
	if m == nil {
		return
	}
	m.templateSyncs.WithLabelValues(outcome).Inc()
}

// HTTP records request counts and latency labelled by chi route pattern.
func HTTP(reg prometheus.Registerer) func(http.Handler) http.Handler {
	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "code"})
	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	reg.MustRegister(reqs, durs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reqs.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			durs.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
