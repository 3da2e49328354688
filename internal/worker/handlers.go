package worker

import (
	"context"
	"fmt"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
)

// ActivityRecorder stores the per-session event projection, e.g.
// redis.ActivityLog.
type ActivityRecorder interface {
	Record(ctx context.Context, ev workflow.Event) error
}

// RecordActivity counts every event against its session.
func RecordActivity(rec ActivityRecorder) Handler {
	return HandlerFunc(rec.Record)
}

// LogDockingOutcome writes one line per docking run. Failed runs carry the
// error code of the stage that stopped them.
func LogDockingOutcome(logger logging.Logger) Handler {
	log := logger.Named("docking")
	return HandlerFunc(func(_ context.Context, ev workflow.Event) error {
		fields := []logging.Field{
			logging.SessionID(ev.SessionID),
			logging.Stage(payloadString(ev.Payload, "stage")),
			logging.String("structure_id", payloadString(ev.Payload, "structure_id")),
		}
		if code := payloadString(ev.Payload, "error_code"); code != "" {
			log.Warn("docking run failed", append(fields, logging.String("error_code", code))...)
			return nil
		}
		log.Info("docking run completed", fields...)
		return nil
	})
}

// LogEvent writes every event at debug level.
func LogEvent(logger logging.Logger) Handler {
	log := logger.Named("events")
	return HandlerFunc(func(_ context.Context, ev workflow.Event) error {
		log.Debug("workflow event",
			logging.String("type", string(ev.Type)),
			logging.String("event_id", ev.ID),
			logging.SessionID(ev.SessionID))
		return nil
	})
}

func payloadString(p map[string]interface{}, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
