package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/application/aggregation"
	"github.com/turtacn/discovery-engine/internal/application/discovery"
	"github.com/turtacn/discovery-engine/internal/application/docking"
	"github.com/turtacn/discovery-engine/internal/application/session"
)

var (
	_ aggregation.Metrics = (*DiscoveryMetrics)(nil)
	_ session.Metrics     = (*DiscoveryMetrics)(nil)
	_ docking.Metrics     = (*DiscoveryMetrics)(nil)
	_ discovery.Metrics   = (*DiscoveryMetrics)(nil)
)

func newTestMetrics(t *testing.T) (*DiscoveryMetrics, MetricsCollector) {
	t.Helper()
	c := newTestCollector(t)
	return NewDiscoveryMetrics(c), c
}

func TestNewDiscoveryMetrics_AllRegistered(t *testing.T) {
	m, c := newTestMetrics(t)
	require.NotNil(t, m)
	assert.NotNil(t, m.FetchesTotal)
	assert.NotNil(t, m.DockingDuration)

	m.SetActiveRuns(2)
	count, err := testutil.GatherAndCount(c.Registry(), "test_unit_workflow_active_runs")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordFetch(t *testing.T) {
	m, c := newTestMetrics(t)
	m.RecordFetch("network", "success", 2*time.Second)
	m.RecordFetch("memo", "hit", 0)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_aggregation_fetches_total{source="network",status="success"} 1`)
	assert.Contains(t, output, `test_unit_aggregation_fetches_total{source="memo",status="hit"} 1`)
	assert.Contains(t, output, `test_unit_aggregation_fetch_duration_seconds_count{source="network"} 1`)
	assert.NotContains(t, output, `test_unit_aggregation_fetch_duration_seconds_count{source="memo"}`)
}

func TestRecordMerge(t *testing.T) {
	m, c := newTestMetrics(t)
	m.RecordMerge(3, 1)
	m.RecordMerge(2, 0)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, "test_unit_aggregation_candidates_merged_total 5")
	assert.Contains(t, output, "test_unit_aggregation_duplicates_total 1")
}

func TestRecordWorkflow(t *testing.T) {
	m, c := newTestMetrics(t)
	m.RecordTransition("DiseaseSelection", "TargetSelection")
	m.RecordGeneration("ok", 15)
	m.RecordGeneration("error", 0)
	m.RecordSessionOp("upsert", "ok")

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_workflow_transitions_total{from="DiseaseSelection",to="TargetSelection"} 1`)
	assert.Contains(t, output, `test_unit_generation_requests_total{status="error"} 1`)
	assert.Contains(t, output, "test_unit_generated_molecules_total 15")
	assert.Contains(t, output, `test_unit_session_operations_total{op="upsert",status="ok"} 1`)
}

func TestRecordDockingAndHTTP(t *testing.T) {
	m, c := newTestMetrics(t)
	m.RecordDocking("done", "ok", 90*time.Second)
	m.RecordHTTPRequest("GET", "/api/v1/sessions", 200, 10*time.Millisecond)
	m.RecordPublish("stage.changed", nil)
	m.RecordPublish("stage.changed", errors.New("broker down"))

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_docking_runs_total{stage="done",status="ok"} 1`)
	assert.Contains(t, output, `test_unit_http_requests_total{method="GET",route="/api/v1/sessions",status_code="200"} 1`)
	assert.Contains(t, output, `test_unit_events_published_total{status="error",type="stage.changed"} 1`)
}

func TestRecordEventConsumed(t *testing.T) {
	m, c := newTestMetrics(t)
	m.RecordEventConsumed("docking.completed", "ok", 20*time.Millisecond)
	m.RecordEventConsumed("docking.completed", "error", time.Second)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_events_consumed_total{status="ok",type="docking.completed"} 1`)
	assert.Contains(t, output, `test_unit_events_consumed_total{status="error",type="docking.completed"} 1`)
	assert.Contains(t, output, `test_unit_event_handle_duration_seconds_count{type="docking.completed"} 2`)
}
