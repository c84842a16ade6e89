package audit

import "time"

// EventType names what happened. The prefix groups events by subject.
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventSessionWaiting   EventType = "session.waiting"
	EventSessionResponse  EventType = "session.response"
	EventSessionCompleted EventType = "session.completed"
	EventSessionFailed    EventType = "session.failed"
	EventSessionDeleted   EventType = "session.deleted"
	EventSessionPruned    EventType = "session.pruned"

	EventStageFallback   EventType = "stage.fallback"
	EventReportGenerated EventType = "report.generated"

	EventConfigLoaded EventType = "config.loaded"

	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

type Result string

const (
	ResultSuccess  Result = "success"
	ResultFailure  Result = "failure"
	ResultPending  Result = "pending"
	ResultDegraded Result = "degraded" // a stage answered with its fallback
)

// Event is one audit record. CorrelationID is the session id for
// investigation events and empty for process-level events.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Resource is a session id or a stage name; ResourceType says which.
	Resource     string `json:"resource,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`

	// Action is the operation that produced the event: create, respond,
	// report, delete, prune, transition.
	Action      string                 `json:"action,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent starts a pending event stamped with the current UTC time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithSession sets the correlation id and the resource to the session.
func (e *Event) WithSession(id string) *Event {
	e.CorrelationID = id
	e.Resource = id
	e.ResourceType = "session"
	return e
}

func (e *Event) WithResource(resource, resourceType string) *Event {
	e.Resource = resource
	e.ResourceType = resourceType
	return e
}

func (e *Event) WithAction(action string) *Event {
	e.Action = action
	return e
}

func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError records err and marks the event failed. A nil err is ignored.
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMs = d.Milliseconds()
	return e
}

func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
