package prometheus

import (
	"strconv"
	"time"
)

// DiscoveryMetrics holds every metric the discovery engine exports. It
// satisfies the metrics ports of the aggregation, session, docking and
// discovery packages.
type DiscoveryMetrics struct {
	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec

	// Aggregation
	FetchesTotal          CounterVec
	FetchDuration         HistogramVec
	CandidatesMergedTotal CounterVec
	DuplicatesTotal       CounterVec

	// Sessions
	SessionOpsTotal CounterVec

	// Workflow
	TransitionsTotal   CounterVec
	ActiveRuns         GaugeVec
	GenerationsTotal   CounterVec
	GeneratedMolecules CounterVec

	// Docking
	DockingTotal    CounterVec
	DockingDuration HistogramVec

	// Events
	EventsPublishedTotal CounterVec
	EventsConsumedTotal  CounterVec
	EventHandleDuration  HistogramVec
}

var (
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultFetchDurationBuckets = []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60}
	DefaultDockDurationBuckets  = []float64{1, 5, 10, 30, 60, 120, 300, 600}
	DefaultEventDurationBuckets = []float64{.001, .005, .01, .05, .1, .5, 1, 5}
)

// NewDiscoveryMetrics registers all metrics on collector.
func NewDiscoveryMetrics(collector MetricsCollector) *DiscoveryMetrics {
	m := &DiscoveryMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "route", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "route")

	m.FetchesTotal = collector.RegisterCounter("aggregation_fetches_total", "Candidate fetches per protein", "source", "status")
	m.FetchDuration = collector.RegisterHistogram("aggregation_fetch_duration_seconds", "Candidate fetch duration", DefaultFetchDurationBuckets, "source")
	m.CandidatesMergedTotal = collector.RegisterCounter("aggregation_candidates_merged_total", "Candidates added to a session pool")
	m.DuplicatesTotal = collector.RegisterCounter("aggregation_duplicates_total", "Candidates dropped as duplicates during merge")

	m.SessionOpsTotal = collector.RegisterCounter("session_operations_total", "Session store operations", "op", "status")

	m.TransitionsTotal = collector.RegisterCounter("workflow_transitions_total", "Workflow stage transitions", "from", "to")
	m.ActiveRuns = collector.RegisterGauge("workflow_active_runs", "Open workflow runs")
	m.GenerationsTotal = collector.RegisterCounter("generation_requests_total", "Per-seed generation requests", "status")
	m.GeneratedMolecules = collector.RegisterCounter("generated_molecules_total", "Molecules returned by generation")

	m.DockingTotal = collector.RegisterCounter("docking_runs_total", "Docking pipeline runs", "stage", "status")
	m.DockingDuration = collector.RegisterHistogram("docking_duration_seconds", "Docking pipeline duration", DefaultDockDurationBuckets, "stage")

	m.EventsPublishedTotal = collector.RegisterCounter("events_published_total", "Workflow events handed to the broker", "type", "status")
	m.EventsConsumedTotal = collector.RegisterCounter("events_consumed_total", "Workflow events processed by the worker", "type", "status")
	m.EventHandleDuration = collector.RegisterHistogram("event_handle_duration_seconds", "Worker handling time per event", DefaultEventDurationBuckets, "type")

	return m
}

// RecordHTTPRequest records one served request.
func (m *DiscoveryMetrics) RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordFetch records one aggregation fetch. Memo hits carry no duration.
func (m *DiscoveryMetrics) RecordFetch(source, status string, d time.Duration) {
	m.FetchesTotal.WithLabelValues(source, status).Inc()
	if d > 0 {
		m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
	}
}

func (m *DiscoveryMetrics) RecordMerge(added, duplicates int) {
	m.CandidatesMergedTotal.WithLabelValues().Add(float64(added))
	m.DuplicatesTotal.WithLabelValues().Add(float64(duplicates))
}

func (m *DiscoveryMetrics) RecordSessionOp(op, status string) {
	m.SessionOpsTotal.WithLabelValues(op, status).Inc()
}

func (m *DiscoveryMetrics) RecordTransition(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *DiscoveryMetrics) RecordGeneration(status string, molecules int) {
	m.GenerationsTotal.WithLabelValues(status).Inc()
	m.GeneratedMolecules.WithLabelValues().Add(float64(molecules))
}

// RecordDocking records a pipeline run by the last stage it reached.
func (m *DiscoveryMetrics) RecordDocking(stage, status string, d time.Duration) {
	m.DockingTotal.WithLabelValues(stage, status).Inc()
	m.DockingDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *DiscoveryMetrics) RecordPublish(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// RecordEventConsumed records one event handled by the worker, retries
// included in d.
func (m *DiscoveryMetrics) RecordEventConsumed(eventType, status string, d time.Duration) {
	m.EventsConsumedTotal.WithLabelValues(eventType, status).Inc()
	m.EventHandleDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// SetActiveRuns reports the number of open runs.
func (m *DiscoveryMetrics) SetActiveRuns(n int) {
	m.ActiveRuns.WithLabelValues().Set(float64(n))
}
