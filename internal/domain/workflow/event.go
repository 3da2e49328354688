package workflow

import "time"

// EventType names a workflow event.
type EventType string

const (
	EventDiseaseSelected     EventType = "disease.selected"
	EventStageChanged        EventType = "stage.changed"
	EventAggregationResolved EventType = "aggregation.resolved"
	EventCandidatesGenerated EventType = "candidates.generated"
	EventDockingCompleted    EventType = "docking.completed"
	EventSessionSaved        EventType = "session.saved"
)

// Event is a notification about one session, published after the change it
// describes has been applied.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	SessionID  string                 `json:"session_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}
