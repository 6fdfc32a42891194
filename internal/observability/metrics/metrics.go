package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "energy_dashboard_"

	resultSuccess = "success"
	resultError   = "error"
	resultTimeout = "timeout"

	cacheHit   = "hit"
	cacheMiss  = "miss"
	cacheError = "error"

	triggerTimer  = "timer"
	triggerManual = "manual"
)

var (
	registerOnce sync.Once

	aggregationTotal   *prometheus.CounterVec
	aggregationLatency *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec
	cacheErrors  *prometheus.CounterVec

	broadcastCycles  *prometheus.CounterVec
	broadcastLatency *prometheus.HistogramVec
	broadcastRooms   *prometheus.CounterVec

	messagesPushed  *prometheus.CounterVec
	messagesDropped prometheus.Counter

	activeSessions prometheus.Gauge
	activeRooms    prometheus.Gauge

	subscriptionsRejected *prometheus.CounterVec
	authFailures          *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers service metrics. Optional collectors (DB pool, breaker
// state) are registered alongside.
func Init(extra ...prometheus.Collector) {
	registerOnce.Do(func() {
		aggregationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregation_total",
				Help: "Total aggregation computations by level and result",
			},
			[]string{"level", "result"},
		)
		aggregationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregation_latency_seconds",
				Help:    "Aggregation computation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"level", "result"},
		)

		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Total cache lookups by result",
			},
			[]string{"result"},
		)
		cacheErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_errors_total",
				Help: "Cache errors demoted to miss or no-op, by operation",
			},
			[]string{"op"},
		)

		broadcastCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_cycles_total",
				Help: "Total broadcast cycles by trigger",
			},
			[]string{"trigger"},
		)
		broadcastLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "broadcast_cycle_latency_seconds",
				Help:    "Broadcast cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		)
		broadcastRooms = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_rooms_total",
				Help: "Total rooms processed by broadcast cycles, by result",
			},
			[]string{"result"},
		)

		messagesPushed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_pushed_total",
				Help: "Total messages queued to clients by type",
			},
			[]string{"type"},
		)
		messagesDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_dropped_total",
				Help: "Total messages dropped because a client queue was full",
			},
		)

		activeSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sessions_active",
				Help: "Connected real-time sessions",
			},
		)
		activeRooms = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "rooms_active",
				Help: "Rooms with at least one member at the last cycle",
			},
		)

		subscriptionsRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "subscriptions_rejected_total",
				Help: "Rejected subscribe requests by reason",
			},
			[]string{"reason"},
		)
		authFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "auth_failures_total",
				Help: "Authentication failures by transport",
			},
			[]string{"transport"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dashboard_export_total",
				Help: "Total dashboard export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dashboard_export_latency_seconds",
				Help:    "Dashboard export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			aggregationTotal,
			aggregationLatency,
			cacheLookups,
			cacheErrors,
			broadcastCycles,
			broadcastLatency,
			broadcastRooms,
			messagesPushed,
			messagesDropped,
			activeSessions,
			activeRooms,
			subscriptionsRejected,
			authFailures,
			exportTotal,
			exportLatency,
		)
		for _, collector := range extra {
			if collector != nil {
				prometheus.MustRegister(collector)
			}
		}
	})
}

// ObserveAggregation records a computation.
func ObserveAggregation(level, result string, duration time.Duration) {
	if level == "" {
		level = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if aggregationTotal != nil {
		aggregationTotal.WithLabelValues(level, result).Inc()
	}
	if aggregationLatency != nil {
		aggregationLatency.WithLabelValues(level, result).Observe(duration.Seconds())
	}
}

// IncCacheLookup increments cache lookup counters.
func IncCacheLookup(result string) {
	if result == "" {
		result = cacheMiss
	}
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(result).Inc()
	}
}

// IncCacheError increments demoted cache errors.
func IncCacheError(op string) {
	if op == "" {
		op = "unknown"
	}
	if cacheErrors != nil {
		cacheErrors.WithLabelValues(op).Inc()
	}
}

// ObserveBroadcastCycle records one broadcast cycle.
func ObserveBroadcastCycle(trigger string, duration time.Duration) {
	if trigger == "" {
		trigger = triggerTimer
	}
	if broadcastCycles != nil {
		broadcastCycles.WithLabelValues(trigger).Inc()
	}
	if broadcastLatency != nil {
		broadcastLatency.WithLabelValues(trigger).Observe(duration.Seconds())
	}
}

// IncBroadcastRoom increments the per-room outcome counter.
func IncBroadcastRoom(result string) {
	if result == "" {
		result = resultSuccess
	}
	if broadcastRooms != nil {
		broadcastRooms.WithLabelValues(result).Inc()
	}
}

// AddMessagesPushed increments pushed message counters by count.
func AddMessagesPushed(messageType string, count int) {
	if count <= 0 {
		return
	}
	if messageType == "" {
		messageType = "unknown"
	}
	if messagesPushed != nil {
		messagesPushed.WithLabelValues(messageType).Add(float64(count))
	}
}

// IncMessageDropped increments the dropped message counter.
func IncMessageDropped() {
	if messagesDropped != nil {
		messagesDropped.Inc()
	}
}

// SetActiveSessions sets the connected sessions gauge.
func SetActiveSessions(count int) {
	if activeSessions != nil {
		activeSessions.Set(float64(count))
	}
}

// SetActiveRooms sets the active rooms gauge.
func SetActiveRooms(count int) {
	if activeRooms != nil {
		activeRooms.Set(float64(count))
	}
}

// IncSubscriptionRejected increments rejected subscriptions by reason.
func IncSubscriptionRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if subscriptionsRejected != nil {
		subscriptionsRejected.WithLabelValues(reason).Inc()
	}
}

// IncAuthFailure increments authentication failures.
func IncAuthFailure(transport string) {
	if transport == "" {
		transport = "http"
	}
	if authFailures != nil {
		authFailures.WithLabelValues(transport).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultTimeout = resultTimeout

	CacheHit   = cacheHit
	CacheMiss  = cacheMiss
	CacheError = cacheError

	TriggerTimer  = triggerTimer
	TriggerManual = triggerManual
)
