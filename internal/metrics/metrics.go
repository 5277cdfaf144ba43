package metrics

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/pushcall/internal/call"
)

// PendingCallsProvider exposes the number of calls awaiting an outcome.
type PendingCallsProvider interface {
	PendingCount() int
}

// RingerStateProvider reports whether the ringtone is playing.
type RingerStateProvider interface {
	Playing() bool
}

// HistoryCounter returns the number of stored history records.
type HistoryCounter interface {
	Count(ctx context.Context) int
}

// TrayCounter returns the notifications currently shown.
type TrayCounter interface {
	Len() int
}

// OutcomeKey labels one resolved-call counter.
type OutcomeKey struct {
	Action call.Action
	Source call.Source
}

// OutcomeCounter counts committed call outcomes. It is a call.Sink.
type OutcomeCounter struct {
	mu     sync.Mutex
	counts map[OutcomeKey]uint64
}

// NewOutcomeCounter creates an empty counter.
func NewOutcomeCounter() *OutcomeCounter {
	return &OutcomeCounter{counts: make(map[OutcomeKey]uint64)}
}

// CallResolved implements call.Sink.
func (o *OutcomeCounter) CallResolved(_ context.Context, res call.Resolution) {
	o.mu.Lock()
	o.counts[OutcomeKey{Action: res.Outcome.Action, Source: res.Outcome.ResolvedBy}]++
	o.mu.Unlock()
}

// Counts returns a copy of the counters.
func (o *OutcomeCounter) Counts() map[OutcomeKey]uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[OutcomeKey]uint64, len(o.counts))
	for k, v := range o.counts {
		out[k] = v
	}
	return out
}

// Collector is a prometheus.Collector that gathers pushcall metrics at scrape time.
type Collector struct {
	pending   PendingCallsProvider
	ringer    RingerStateProvider
	outcomes  *OutcomeCounter
	history   HistoryCounter
	tray      TrayCounter
	startTime time.Time

	pendingDesc  *prometheus.Desc
	ringingDesc  *prometheus.Desc
	outcomesDesc *prometheus.Desc
	historyDesc  *prometheus.Desc
	trayDesc     *prometheus.Desc
	uptimeDesc   *prometheus.Desc
}

// Providers lists the collector's sources. Any of them may be nil.
type Providers struct {
	Pending  PendingCallsProvider
	Ringer   RingerStateProvider
	Outcomes *OutcomeCounter
	History  HistoryCounter
	Tray     TrayCounter
}

// NewCollector creates a new metrics collector.
func NewCollector(p Providers, startTime time.Time) *Collector {
	return &Collector{
		pending:   p.Pending,
		ringer:    p.Ringer,
		outcomes:  p.Outcomes,
		history:   p.History,
		tray:      p.Tray,
		startTime: startTime,

		pendingDesc: prometheus.NewDesc(
			"pushcall_pending_calls",
			"Number of incoming calls awaiting an outcome",
			nil, nil,
		),
		ringingDesc: prometheus.NewDesc(
			"pushcall_ringer_playing",
			"Whether the ringtone is playing (1=playing, 0=idle)",
			nil, nil,
		),
		outcomesDesc: prometheus.NewDesc(
			"pushcall_call_outcomes_total",
			"Resolved calls by outcome and resolving entry point",
			[]string{"action", "resolved_by"}, nil,
		),
		historyDesc: prometheus.NewDesc(
			"pushcall_history_records",
			"Number of records in the notification history",
			nil, nil,
		),
		trayDesc: prometheus.NewDesc(
			"pushcall_active_notifications",
			"Number of notifications currently in the tray",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"pushcall_uptime_seconds",
			"Seconds since the agent process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pendingDesc
	ch <- c.ringingDesc
	ch <- c.outcomesDesc
	ch <- c.historyDesc
	ch <- c.trayDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.pending != nil {
		ch <- prometheus.MustNewConstMetric(
			c.pendingDesc, prometheus.GaugeValue,
			float64(c.pending.PendingCount()),
		)
	}

	if c.ringer != nil {
		val := 0.0
		if c.ringer.Playing() {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.ringingDesc, prometheus.GaugeValue, val)
	}

	if c.outcomes != nil {
		counts := c.outcomes.Counts()
		keys := make([]OutcomeKey, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Action != keys[j].Action {
				return keys[i].Action < keys[j].Action
			}
			return keys[i].Source < keys[j].Source
		})
		for _, k := range keys {
			ch <- prometheus.MustNewConstMetric(
				c.outcomesDesc, prometheus.CounterValue,
				float64(counts[k]), string(k.Action), string(k.Source),
			)
		}
	}

	// History reads never fail; a broken store reports zero.
	if c.history != nil {
		ch <- prometheus.MustNewConstMetric(
			c.historyDesc, prometheus.GaugeValue,
			float64(c.history.Count(ctx)),
		)
	}

	if c.tray != nil {
		ch <- prometheus.MustNewConstMetric(
			c.trayDesc, prometheus.GaugeValue,
			float64(c.tray.Len()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
