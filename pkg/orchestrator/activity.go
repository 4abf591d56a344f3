package orchestrator

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/telemetry"
	"github.com/rs/zerolog"
)

const activityTimeout = 10 * time.Second

var activityActions = map[string]engine.ActivityAction{
	telemetry.EventTypeDeploySucceeded:   engine.ActivityProjectDeployed,
	telemetry.EventTypeDeployFailed:      engine.ActivityDeploymentFailed,
	telemetry.EventTypeTeardownCompleted: engine.ActivityProjectDeleted,
	telemetry.EventTypeProjectCreated:    engine.ActivityProjectCreated,
	telemetry.EventTypeProjectUpdated:    engine.ActivityProjectUpdated,
	telemetry.EventTypeProjectDeleted:    engine.ActivityProjectDeleted,
}

// ActivityFor maps a lifecycle event to an activity entry. Events with no
// activity counterpart return false.
func ActivityFor(e telemetry.Event) (*engine.Activity, bool) {
	action, ok := activityActions[e.Type]
	if !ok && e.Type == telemetry.EventTypeEnvVarChanged {
		if a, set := e.Data["action"].(string); set {
			action, ok = engine.ActivityAction(a), true
		}
	}
	if !ok || e.UserID == "" {
		return nil, false
	}

	meta := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		meta[k] = v
	}
	if e.AttemptID != "" {
		meta["attempt_id"] = e.AttemptID
	}
	return &engine.Activity{
		ID:        ulid.Make().String(),
		UserID:    e.UserID,
		ProjectID: e.ProjectID,
		Action:    action,
		Metadata:  meta,
		CreatedAt: e.Timestamp,
	}, true
}

// ActivitySubscriber writes activity entries for lifecycle events. Write
// failures are logged and never reach the deploy path.
func ActivitySubscriber(rec engine.ActivityRecorder, logger zerolog.Logger) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		a, ok := ActivityFor(e)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), activityTimeout)
		defer cancel()
		if err := rec.RecordActivity(ctx, a); err != nil {
			logger.Warn().Err(err).Str("action", string(a.Action)).Str("project_id", a.ProjectID).
				Msg("Failed to record activity")
		}
	}
}
