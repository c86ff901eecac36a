// Package metrics exposes internal operational instrumentation in
// Prometheus exposition format: agent counts by derived state,
// event-write success/failure, broadcaster subscriber/drop counts,
// advisory-lock wait/timeout counters, and reaper cycle duration. This is
// distinct from the domain ActivityMetric/HeadspaceSnapshot tables — those
// are product data, this is ops visibility.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// EventStats is the subset of eventwriter.Metrics this package reads.
type EventStats struct {
	Total      int64
	Successful int64
	Failed     int64
}

// LockStats is the subset of lock.Stats this package reads.
type LockStats struct {
	Acquired       int64
	Timeouts       int64
	TotalWaitNanos int64
}

// ReaperStats is the subset of reaper.CycleStats this package reads.
type ReaperStats struct {
	LastCycleElapsed time.Duration
}

// Sources are the live counters/snapshots the exporter scrapes on demand.
// Each is a plain getter against an already-running component, so a scrape
// never blocks on more than that component's existing internal lock.
type Sources struct {
	EventStats        func() EventStats
	SubscriberCount    func() int
	BroadcasterDropped func() int64
	LockStats          func() LockStats
	ReaperStats        func() ReaperStats
	AgentStateCounts   func(ctx context.Context) (map[models.CardState]int, error)
}

var cardStates = []models.CardState{
	models.CardIdle, models.CardCommanded, models.CardProcessing,
	models.CardAwaitingInput, models.CardComplete, models.CardTimedOut,
}

// collector implements prometheus.Collector by re-reading Sources on every
// scrape rather than maintaining its own shadow counters.
type collector struct {
	sources Sources

	agentsByState  *prometheus.Desc
	eventsTotal    *prometheus.Desc
	eventsOK       *prometheus.Desc
	eventsFailed   *prometheus.Desc
	sseSubscribers *prometheus.Desc
	sseDropped     *prometheus.Desc
	lockAcquired   *prometheus.Desc
	lockTimeouts   *prometheus.Desc
	lockWaitSeconds *prometheus.Desc
	reaperCycleSeconds *prometheus.Desc
}

const namespace = "headspace"

func newCollector(sources Sources) *collector {
	return &collector{
		sources: sources,
		agentsByState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "agents", "by_state"),
			"Number of agents currently in each card state.",
			[]string{"state"}, nil),
		eventsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "writes_total"),
			"Total event-writer write attempts.", nil, nil),
		eventsOK: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "writes_successful_total"),
			"Total successful event-writer writes.", nil, nil),
		eventsFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "writes_failed_total"),
			"Total failed event-writer writes.", nil, nil),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sse", "subscribers"),
			"Number of currently connected SSE subscribers.", nil, nil),
		sseDropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sse", "messages_dropped_total"),
			"Total buffered SSE messages evicted for slow subscribers.", nil, nil),
		lockAcquired: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lock", "acquired_total"),
			"Total advisory locks successfully acquired.", nil, nil),
		lockTimeouts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lock", "timeouts_total"),
			"Total advisory lock acquisitions that timed out.", nil, nil),
		lockWaitSeconds: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lock", "wait_seconds_total"),
			"Cumulative time spent waiting to acquire advisory locks.", nil, nil),
		reaperCycleSeconds: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "reaper", "last_cycle_seconds"),
			"Duration of the reaper's most recently completed sweep cycle.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.agentsByState
	ch <- c.eventsTotal
	ch <- c.eventsOK
	ch <- c.eventsFailed
	ch <- c.sseSubscribers
	ch <- c.sseDropped
	ch <- c.lockAcquired
	ch <- c.lockTimeouts
	ch <- c.lockWaitSeconds
	ch <- c.reaperCycleSeconds
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.sources.EventStats != nil {
		s := c.sources.EventStats()
		ch <- prometheus.MustNewConstMetric(c.eventsTotal, prometheus.CounterValue, float64(s.Total))
		ch <- prometheus.MustNewConstMetric(c.eventsOK, prometheus.CounterValue, float64(s.Successful))
		ch <- prometheus.MustNewConstMetric(c.eventsFailed, prometheus.CounterValue, float64(s.Failed))
	}

	if c.sources.SubscriberCount != nil {
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(c.sources.SubscriberCount()))
	}
	if c.sources.BroadcasterDropped != nil {
		ch <- prometheus.MustNewConstMetric(c.sseDropped, prometheus.CounterValue, float64(c.sources.BroadcasterDropped()))
	}

	if c.sources.LockStats != nil {
		s := c.sources.LockStats()
		ch <- prometheus.MustNewConstMetric(c.lockAcquired, prometheus.CounterValue, float64(s.Acquired))
		ch <- prometheus.MustNewConstMetric(c.lockTimeouts, prometheus.CounterValue, float64(s.Timeouts))
		ch <- prometheus.MustNewConstMetric(c.lockWaitSeconds, prometheus.CounterValue, time.Duration(s.TotalWaitNanos).Seconds())
	}

	if c.sources.ReaperStats != nil {
		s := c.sources.ReaperStats()
		ch <- prometheus.MustNewConstMetric(c.reaperCycleSeconds, prometheus.GaugeValue, s.LastCycleElapsed.Seconds())
	}

	if c.sources.AgentStateCounts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		counts, err := c.sources.AgentStateCounts(ctx)
		if err == nil {
			for _, state := range cardStates {
				ch <- prometheus.MustNewConstMetric(c.agentsByState, prometheus.GaugeValue,
					float64(counts[state]), string(state))
			}
		}
	}
}

// Exporter owns a dedicated Prometheus registry scoped to this process's
// own instrumentation (the default global registry is left untouched).
type Exporter struct {
	registry *prometheus.Registry
}

// New builds an Exporter pulling from sources on every scrape.
func New(sources Sources) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(sources))
	return &Exporter{registry: reg}
}

// Handler returns the http.Handler serving Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
