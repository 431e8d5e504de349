package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks reminder pipeline counters.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	cyclesTotal         prometheus.Counter
	cyclesFailed        prometheus.Counter
	dosesClaimed        prometheus.Counter
	dosesResurrected    prometheus.Counter
	dosesMissedBackfill prometheus.Counter

	sendsTotal  *prometheus.CounterVec
	sendsFailed *prometheus.CounterVec

	actionsTotal  *prometheus.CounterVec
	actionsFailed prometheus.Counter

	supplyAdjustments    prometheus.Counter
	subscriptionsCleared prometheus.Counter

	cycleDuration prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meditrack_dispatch_cycles_total",
			Help: "Dispatch cycles run.",
		}),
		cyclesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meditrack_dispatch_cycles_failed_total",
			Help: "Dispatch cycles that failed before processing any medication.",
		}),
		dosesClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meditrack_doses_claimed_total",
			Help: "Dose occurrences claimed with a new pending record.",
		}),
		dosesResurrected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meditrack_doses_resurrected_total",
			Help: "Delayed doses reset to pending after their snooze deadline.",
		}),
		dosesMissedBackfill: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meditrack_doses_missed_backfilled_total",
			Help: "Missed dose records backfilled by the audit sweep.",
		}),
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meditrack_notifications_sent_total",
			Help: "Reminder notifications sent, by channel.",
		}, []string{"channel"}),
		sendsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meditrack_notifications_failed_total",
			Help: "Reminder notification failures, by channel.",
		}, []string{"channel"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meditrack_dose_actions_total",
			Help: "Dose actions applied, by kind.",
		}, []string{"action"}),
		actionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meditrack_dose_actions_failed_total",
			Help: "Dose actions that failed to apply.",
		}),
		supplyAdjustments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meditrack_supply_adjustments_total",
			Help: "Inventory adjustments applied on taken transitions.",
		}),
		subscriptionsCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meditrack_push_subscriptions_cleared_total",
			Help: "Push subscriptions cleared after gone/expired delivery errors.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meditrack_dispatch_cycle_duration_seconds",
			Help:    "Wall time of a dispatch cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.cyclesTotal, m.cyclesFailed,
		m.dosesClaimed, m.dosesResurrected, m.dosesMissedBackfill,
		m.sendsTotal, m.sendsFailed,
		m.actionsTotal, m.actionsFailed,
		m.supplyAdjustments, m.subscriptionsCleared,
		m.cycleDuration,
	)

	return m
}

func (m *Metrics) RecordCycle(duration time.Duration, failed bool) {
	m.cyclesTotal.Inc()
	if failed {
		m.cyclesFailed.Inc()
	}
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordClaim()        { m.dosesClaimed.Inc() }
func (m *Metrics) RecordResurrection() { m.dosesResurrected.Inc() }
func (m *Metrics) RecordMissedBackfill(n int) {
	m.dosesMissedBackfill.Add(float64(n))
}

func (m *Metrics) RecordSend(channel string, success bool) {
	m.sendsTotal.WithLabelValues(channel).Inc()
	if !success {
		m.sendsFailed.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) RecordAction(action string, success bool) {
	m.actionsTotal.WithLabelValues(action).Inc()
	if !success {
		m.actionsFailed.Inc()
	}
}

func (m *Metrics) RecordSupplyAdjustment()    { m.supplyAdjustments.Inc() }
func (m *Metrics) RecordSubscriptionCleared() { m.subscriptionsCleared.Inc() }

// Uptime returns time since process start.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Handler serves the prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
