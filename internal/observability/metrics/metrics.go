package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "videomonitoring_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	signalsTotal     *prometheus.CounterVec
	admissionLatency *prometheus.HistogramVec
	triggersTotal    *prometheus.CounterVec

	claimResults     *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec

	notificationsTotal *prometheus.CounterVec
	sessionsConnected  prometheus.Gauge

	outboxDispatchTotal *prometheus.CounterVec
	storageRetries      prometheus.Counter

	monthlyResetTotal    *prometheus.CounterVec
	monthlyResetAccounts prometheus.Counter

	auditExportTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		signalsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "signals_total",
				Help: "Total submitted signals by admission result",
			},
			[]string{"result"},
		)
		admissionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "admission_latency_seconds",
				Help:    "Signal admission latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		triggersTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "triggers_total",
				Help: "Total warning/snoozed triggers by kind and entity type",
			},
			[]string{"kind", "entity_type"},
		)
		claimResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "claim_results_total",
				Help: "Total claim operations by result",
			},
			[]string{"result"},
		)
		transitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transitions_total",
				Help: "Total event and alarm transitions by action",
			},
			[]string{"action"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total operator notifications by outcome",
			},
			[]string{"outcome"},
		)
		sessionsConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sessions_connected",
				Help: "Currently connected operator sessions",
			},
		)
		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trigger_dispatch_total",
				Help: "Total trigger outbox deliveries by result",
			},
			[]string{"result"},
		)
		storageRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "storage_retries_total",
				Help: "Total transaction retries after transient storage failures",
			},
		)
		monthlyResetTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "monthly_reset_total",
				Help: "Total monthly reset runs by result",
			},
			[]string{"result"},
		)
		monthlyResetAccounts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "monthly_reset_accounts_total",
				Help: "Total accounts rolled into a new billing period",
			},
		)
		auditExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "audit_export_total",
				Help: "Total audit exports by format and result",
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			signalsTotal,
			admissionLatency,
			triggersTotal,
			claimResults,
			transitionsTotal,
			notificationsTotal,
			sessionsConnected,
			outboxDispatchTotal,
			storageRetries,
			monthlyResetTotal,
			monthlyResetAccounts,
			auditExportTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveSignal records admission latency and result.
func ObserveSignal(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if signalsTotal != nil {
		signalsTotal.WithLabelValues(result).Inc()
	}
	if admissionLatency != nil {
		admissionLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncTrigger increments the trigger counter.
func IncTrigger(kind, entityType string) {
	if triggersTotal != nil {
		triggersTotal.WithLabelValues(kind, entityType).Inc()
	}
}

// IncClaimResult increments claim result counters.
func IncClaimResult(result string) {
	if result == "" {
		result = "unknown"
	}
	if claimResults != nil {
		claimResults.WithLabelValues(result).Inc()
	}
}

// IncTransition increments event/alarm transition counters.
func IncTransition(action string) {
	if action == "" {
		action = "unknown"
	}
	if transitionsTotal != nil {
		transitionsTotal.WithLabelValues(action).Inc()
	}
}

// IncNotification increments notification outcome counters.
func IncNotification(outcome string) {
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(outcome).Inc()
	}
}

// AddNotifications adds n to the notification outcome counter.
func AddNotifications(outcome string, n int) {
	if n <= 0 {
		return
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// SetSessions sets the connected sessions gauge.
func SetSessions(n int) {
	if sessionsConnected != nil {
		sessionsConnected.Set(float64(n))
	}
}

// IncDispatch increments trigger dispatch counters.
func IncDispatch(result string) {
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
}

// IncStorageRetry increments the transient retry counter.
func IncStorageRetry() {
	if storageRetries != nil {
		storageRetries.Inc()
	}
}

// ObserveMonthlyReset records a reset run and the accounts it rolled.
func ObserveMonthlyReset(result string, accounts int) {
	if result == "" {
		result = resultSuccess
	}
	if monthlyResetTotal != nil {
		monthlyResetTotal.WithLabelValues(result).Inc()
	}
	if monthlyResetAccounts != nil && accounts > 0 {
		monthlyResetAccounts.Add(float64(accounts))
	}
}

// IncAuditExport increments audit export counters.
func IncAuditExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if auditExportTotal != nil {
		auditExportTotal.WithLabelValues(format, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
