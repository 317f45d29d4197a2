// Package eventlog provides structured JSON operation logging, gated by
// an env var toggle with a plain-text fallback. Mechanism ported from
// the teacher's internal/utils logging helpers and retargeted from
// session/ECS lifecycle events to backend-action lifecycle events.
package eventlog

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// OperationEvent is a structured log record for one uniform action
// dispatch or daemon lifecycle transition.
type OperationEvent struct {
	Timestamp string                 `json:"timestamp"`
	Backend   string                 `json:"backend,omitempty"`
	Profile   string                 `json:"profile,omitempty"`
	EventType string                 `json:"event_type"`
	Action    string                 `json:"action,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

var structuredLogging = os.Getenv("STRUCTURED_LOGGING") != "false"

// Log emits a structured event, or a human-readable fallback line when
// STRUCTURED_LOGGING=false.
func Log(event OperationEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if structuredLogging {
		b, err := json.Marshal(event)
		if err != nil {
			log.Printf("eventlog: marshal error: %v", err)
			return
		}
		log.Println(string(b))
		return
	}

	if event.Error != "" {
		log.Printf("[%s] %s/%s: %s (error: %s)", event.EventType, event.Backend, event.Action, event.Status, event.Error)
	} else {
		log.Printf("[%s] %s/%s: %s", event.EventType, event.Backend, event.Action, event.Status)
	}
}

// ActionStarted logs the start of a uniform action dispatch.
func ActionStarted(backend, profile, action string) {
	Log(OperationEvent{Backend: backend, Profile: profile, EventType: "ACTION_STARTED", Action: action, Status: "started"})
}

// ActionCompleted logs a successfully completed action.
func ActionCompleted(backend, profile, action string, duration time.Duration) {
	Log(OperationEvent{
		Backend: backend, Profile: profile, EventType: "ACTION_COMPLETED",
		Action: action, Status: "completed", Duration: duration.Milliseconds(),
	})
}

// ActionFailed logs a failed action with its error.
func ActionFailed(backend, profile, action string, duration time.Duration, err error) {
	Log(OperationEvent{
		Backend: backend, Profile: profile, EventType: "ACTION_FAILED",
		Action: action, Status: "failed", Duration: duration.Milliseconds(), Error: err.Error(),
	})
}

// BridgeEvent logs a bridge-daemon lifecycle or routing event.
func BridgeEvent(status, detail string, metadata map[string]interface{}) {
	Log(OperationEvent{EventType: "BRIDGE_EVENT", Status: status, Error: detail, Metadata: metadata})
}

// LauncherEvent logs a browser-launch lifecycle event.
func LauncherEvent(profile, status string, metadata map[string]interface{}) {
	Log(OperationEvent{Profile: profile, EventType: "LAUNCHER_EVENT", Status: status, Metadata: metadata})
}
