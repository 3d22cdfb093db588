package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PlanRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_plan_requests_total",
		Help: "Total number of plan requests by outcome and code",
	}, []string{"outcome", "code"})

	VerifyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_verify_requests_total",
		Help: "Total number of verify requests by outcome and code",
	}, []string{"outcome", "code"})

	PolicyDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_policy_denials_total",
		Help: "Total number of policy denials",
	}, []string{"code"})

	FacilitatorSelectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_facilitator_selected_total",
		Help: "Total number of selections per facilitator",
	}, []string{"facilitator_id"})

	ReplayRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_replay_rejections_total",
		Help: "Total number of authorizations rejected as replays",
	})

	OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "router_oracle_verify_latency_seconds",
		Help:    "Latency of chain oracle verification calls",
		Buckets: prometheus.DefBuckets,
	})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "router_settlement_latency_seconds",
		Help:    "Latency of settlement calls",
		Buckets: prometheus.DefBuckets,
	})

	EventPersistFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_event_persist_failures_total",
		Help: "Total number of events that failed to persist",
	})

	DispatchDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_dispatch_dropped_total",
		Help: "Total number of background tasks dropped because the queue was full",
	})

	RegistryFacilitators = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_registry_facilitators",
		Help: "Number of facilitators in the current registry snapshot",
	})

	HealthPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_health_polls_total",
		Help: "Total number of facilitator health polls by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
