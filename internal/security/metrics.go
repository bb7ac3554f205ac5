package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// SlotLatency records durable slot operation latency per backend.
	SlotLatency *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// StoreLoadFallbacks counts loads that fell back to the default snapshot.
	StoreLoadFallbacks *prometheus.CounterVec

	// StoreSaveFailures counts snapshots that could not be persisted.
	StoreSaveFailures *prometheus.CounterVec

	// StoreDroppedRecords counts records dropped while decoding a snapshot.
	StoreDroppedRecords *prometheus.CounterVec

	// ProxyUpstreamCalls counts upstream calls made by the proxy functions.
	ProxyUpstreamCalls *prometheus.CounterVec

	RemindersFiredTotal prometheus.Counter

	// WorkflowExecutions counts workflow trigger executions by outcome.
	WorkflowExecutions *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_state_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_state_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	SlotLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_state_slot_latency_seconds",
			Help:    "Durable slot operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "assistant_state_slot_cache_hits_total",
		Help: "Total slot read cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "assistant_state_slot_cache_misses_total",
		Help: "Total slot read cache misses",
	})

	StoreLoadFallbacks = f.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_state_store_load_fallbacks_total",
		Help: "Store loads that fell back to the default snapshot",
	}, []string{"store", "reason"})

	StoreSaveFailures = f.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_state_store_save_failures_total",
		Help: "Store snapshots that could not be persisted",
	}, []string{"store"})

	StoreDroppedRecords = f.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_state_store_dropped_records_total",
		Help: "Records dropped while decoding a stored snapshot",
	}, []string{"store"})

	ProxyUpstreamCalls = f.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_state_proxy_upstream_calls_total",
		Help: "Upstream calls made by the proxy functions",
	}, []string{"function", "status"})

	RemindersFiredTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "assistant_state_reminders_fired_total",
		Help: "Reminders that became due and were notified",
	})

	WorkflowExecutions = f.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_state_workflow_executions_total",
		Help: "Workflow trigger executions by outcome",
	}, []string{"outcome"})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_state_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_state_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// CountLoadFallback records a store load that fell back to defaults.
func CountLoadFallback(store, reason string) {
	if StoreLoadFallbacks != nil {
		StoreLoadFallbacks.WithLabelValues(store, reason).Inc()
	}
}

// CountSaveFailure records a snapshot that could not be persisted.
func CountSaveFailure(store string) {
	if StoreSaveFailures != nil {
		StoreSaveFailures.WithLabelValues(store).Inc()
	}
}

// CountDroppedRecords records decode drops for a store.
func CountDroppedRecords(store string, n int) {
	if StoreDroppedRecords != nil && n > 0 {
		StoreDroppedRecords.WithLabelValues(store).Add(float64(n))
	}
}

// CountProxyCall records an upstream proxy call with its HTTP status or failure class.
func CountProxyCall(function, status string) {
	if ProxyUpstreamCalls != nil {
		ProxyUpstreamCalls.WithLabelValues(function, status).Inc()
	}
}

// CountRemindersFired records reminders that fired during a due check.
func CountRemindersFired(n int) {
	if RemindersFiredTotal != nil && n > 0 {
		RemindersFiredTotal.Add(float64(n))
	}
}

// CountWorkflowExecution records a workflow execution outcome ("success" or "failure").
func CountWorkflowExecution(outcome string) {
	if WorkflowExecutions != nil {
		WorkflowExecutions.WithLabelValues(outcome).Inc()
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
