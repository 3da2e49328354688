package redis

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

const (
	fieldLastEvent = "_last_event"
	fieldLastSeen  = "_last_seen"
	countPrefix    = "count:"
)

// Activity is the per-session projection of the workflow event stream.
type Activity struct {
	SessionID string                       `json:"session_id"`
	Counts    map[workflow.EventType]int64 `json:"counts"`
	LastEvent workflow.EventType           `json:"last_event,omitempty"`
	LastSeen  time.Time                    `json:"last_seen,omitempty"`
}

// Total sums the per-type counts.
func (a Activity) Total() int64 {
	var n int64
	for _, c := range a.Counts {
		n += c
	}
	return n
}

// ActivityLog keeps one hash per session under <prefix>activity:<session id>
// holding an event counter per type and the most recent event. The key
// expires ttl after the last recorded event.
type ActivityLog struct {
	client *Client
	ttl    time.Duration
	logger logging.Logger
}

func NewActivityLog(client *Client, ttl time.Duration, log logging.Logger) *ActivityLog {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ActivityLog{client: client, ttl: ttl, logger: log.Named("activity")}
}

func (a *ActivityLog) key(sessionID string) string {
	return a.client.Key("activity:" + sessionID)
}

// Record counts ev against its session. Events without a session are
// ignored. LastEvent only moves forward in time, so redelivered or
// reordered events never roll it back.
func (a *ActivityLog) Record(ctx context.Context, ev workflow.Event) error {
	if ev.SessionID == "" {
		return nil
	}
	rdb, err := a.client.Redis()
	if err != nil {
		return err
	}
	key := a.key(ev.SessionID)
	at := ev.OccurredAt.UTC()

	prev, err := rdb.HGet(ctx, key, fieldLastSeen).Result()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return errors.Wrap(err, errors.CodeCacheError, "read session activity")
	}

	pipe := rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, countPrefix+string(ev.Type), 1)
	if prevAt, perr := time.Parse(time.RFC3339Nano, prev); prev == "" || perr != nil || !at.Before(prevAt) {
		pipe.HSet(ctx, key, fieldLastEvent, string(ev.Type), fieldLastSeen, at.Format(time.RFC3339Nano))
	}
	if a.ttl > 0 {
		pipe.Expire(ctx, key, a.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "record session activity")
	}
	return nil
}

// Get returns the activity of sessionID. A session with no recorded events
// yields CodeNotFound.
func (a *ActivityLog) Get(ctx context.Context, sessionID string) (Activity, error) {
	rdb, err := a.client.Redis()
	if err != nil {
		return Activity{}, err
	}
	fields, err := rdb.HGetAll(ctx, a.key(sessionID)).Result()
	if err != nil {
		return Activity{}, errors.Wrap(err, errors.CodeCacheError, "read session activity")
	}
	if len(fields) == 0 {
		return Activity{}, errors.NotFound("no activity recorded").WithDetail("session=" + sessionID)
	}

	out := Activity{SessionID: sessionID, Counts: make(map[workflow.EventType]int64)}
	for k, v := range fields {
		switch {
		case k == fieldLastEvent:
			out.LastEvent = workflow.EventType(v)
		case k == fieldLastSeen:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				out.LastSeen = t
			}
		case strings.HasPrefix(k, countPrefix):
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				a.logger.Warn("skipping malformed activity counter", logging.SessionID(sessionID), logging.String("field", k))
				continue
			}
			out.Counts[workflow.EventType(strings.TrimPrefix(k, countPrefix))] = n
		}
	}
	return out, nil
}

// Forget drops the activity of sessionID.
func (a *ActivityLog) Forget(ctx context.Context, sessionID string) error {
	rdb, err := a.client.Redis()
	if err != nil {
		return err
	}
	if err := rdb.Del(ctx, a.key(sessionID)).Err(); err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "forget session activity")
	}
	return nil
}
