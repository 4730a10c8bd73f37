// Package metrics exposes pipeline health to Prometheus. All values are
// gathered at scrape time from provider interfaces so no component carries
// metrics plumbing of its own.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveSessionsProvider exposes the number of sessions still active.
type ActiveSessionsProvider interface {
	ActiveCount() int
}

// TierCounter returns row counts grouped by tier label.
type TierCounter interface {
	CountByTier(ctx context.Context) (map[string]int64, error)
}

// StatusCounter returns notification attempt counts grouped by status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// TypeCounter returns audit entry counts grouped by event type.
type TypeCounter interface {
	CountByType(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers pipeline metrics at scrape time.
type Collector struct {
	sessions  ActiveSessionsProvider
	calls     TierCounter
	alerts    TierCounter
	attempts  StatusCounter
	auditRows TypeCounter
	startTime time.Time

	// Metric descriptors.
	activeSessionsDesc *prometheus.Desc
	callsTotalDesc     *prometheus.Desc
	alertsTotalDesc    *prometheus.Desc
	attemptsDesc       *prometheus.Desc
	auditDesc          *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	sessions ActiveSessionsProvider,
	calls TierCounter,
	alerts TierCounter,
	attempts StatusCounter,
	auditRows TypeCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		sessions:  sessions,
		calls:     calls,
		alerts:    alerts,
		attempts:  attempts,
		auditRows: auditRows,
		startTime: startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"callrelay_active_sessions",
			"Number of call sessions not yet ended",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"callrelay_calls_total",
			"Total calls recorded, by priority tier",
			[]string{"tier"}, nil,
		),
		alertsTotalDesc: prometheus.NewDesc(
			"callrelay_escalations_total",
			"Total escalations fired, by priority tier",
			[]string{"tier"}, nil,
		),
		attemptsDesc: prometheus.NewDesc(
			"callrelay_notification_attempts_total",
			"Total notification delivery attempts, by terminal status",
			[]string{"status"}, nil,
		),
		auditDesc: prometheus.NewDesc(
			"callrelay_audit_entries_total",
			"Total audit trail entries, by event type",
			[]string{"event_type"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callrelay_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.callsTotalDesc
	ch <- c.alertsTotalDesc
	ch <- c.attemptsDesc
	ch <- c.auditDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeSessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.ActiveCount()),
		)
	}

	c.collectGrouped(ctx, ch, c.callsTotalDesc, "calls", func(ctx context.Context) (map[string]int64, error) {
		return c.calls.CountByTier(ctx)
	}, c.calls != nil)

	c.collectGrouped(ctx, ch, c.alertsTotalDesc, "alerts", func(ctx context.Context) (map[string]int64, error) {
		return c.alerts.CountByTier(ctx)
	}, c.alerts != nil)

	c.collectGrouped(ctx, ch, c.attemptsDesc, "attempts", func(ctx context.Context) (map[string]int64, error) {
		return c.attempts.CountByStatus(ctx)
	}, c.attempts != nil)

	c.collectGrouped(ctx, ch, c.auditDesc, "audit", func(ctx context.Context) (map[string]int64, error) {
		return c.auditRows.CountByType(ctx)
	}, c.auditRows != nil)

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

// collectGrouped emits one counter per label value from a grouped count
// query. Query failures are logged and skipped so one bad table never
// breaks the whole scrape.
func (c *Collector) collectGrouped(
	ctx context.Context,
	ch chan<- prometheus.Metric,
	desc *prometheus.Desc,
	name string,
	query func(context.Context) (map[string]int64, error),
	available bool,
) {
	if !available {
		return
	}
	counts, err := query(ctx)
	if err != nil {
		slog.Error("metrics: grouped count failed", "metric", name, "error", err)
		return
	}
	for label, count := range counts {
		if label == "" {
			label = "unclassified"
		}
		ch <- prometheus.MustNewConstMetric(
			desc, prometheus.CounterValue,
			float64(count), label,
		)
	}
}
