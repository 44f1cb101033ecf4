package engine

// EventType classifies engine events.
type EventType string

const (
	// EventVariableUpdate reports one tag value change per tick.
	EventVariableUpdate EventType = "variableUpdate"
	// EventBulkUpdate reports a batch of tag changes applied together.
	EventBulkUpdate EventType = "bulkUpdate"
	// EventSystemStatus reports scheduler lifecycle changes.
	EventSystemStatus EventType = "systemStatus"
	// EventFaultStatus reports fault injection, expiry, watchdog, and
	// overflow activity.
	EventFaultStatus EventType = "faultStatus"
	// EventScenarioStep reports progress of a scripted scenario.
	EventScenarioStep EventType = "scenarioStep"
	// EventError reports background failures.
	EventError EventType = "error"
)

// Event is one message on the engine's event stream.
type Event struct {
	Type  EventType      `json:"type"`
	Tag   string         `json:"tag,omitempty"`
	Value any            `json:"value,omitempty"`
	Ts    int64          `json:"ts"`
	Data  map[string]any `json:"data,omitempty"`
}

// EventSink receives engine events. Implementations must not block; a slow
// sink loses messages rather than stalling the scan loop.
type EventSink func(Event)
