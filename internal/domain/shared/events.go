package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Gameplay and recovery code subscribe to these instead of polling the
// security subsystem.
const (
	// Persistence events
	EventDataLoaded EventType = "state.loaded"
	EventDataSaved  EventType = "state.saved"

	// Validation / monitoring events
	EventSecurityWarning EventType = "security.warning"

	// Tamper events
	EventTamperingDetected EventType = "security.tampering_detected"

	// Network events
	EventRequestCompleted   EventType = "network.request_completed"
	EventCommunicationError EventType = "network.communication_error"

	// Session events
	EventSessionOpened  EventType = "session.opened"
	EventSessionClosed  EventType = "session.closed"
	EventSessionExpired EventType = "session.expired"
)

// TamperKind classifies what kind of tampering was observed.
type TamperKind string

const (
	TamperMemoryModified    TamperKind = "memory_modified"
	TamperCodeModified      TamperKind = "code_modified"
	TamperObjectDestroyed   TamperKind = "object_destroyed"
	TamperComponentModified TamperKind = "component_modified"
	TamperTimeManipulation  TamperKind = "time_manipulation"
)

// TamperSeverity drives the dispatch policy for tamper events.
type TamperSeverity string

const (
	// SeverityCritical flags the client for forced resync/restart.
	SeverityCritical TamperSeverity = "critical"
	// SeverityRecoverable means a local restore should be attempted.
	SeverityRecoverable TamperSeverity = "recoverable"
	// SeveritySoft is report-only; references are reset in place.
	SeveritySoft TamperSeverity = "soft"
)

// Severity maps a tamper kind to its dispatch severity.
func (k TamperKind) Severity() TamperSeverity {
	switch k {
	case TamperCodeModified, TamperObjectDestroyed:
		return SeverityCritical
	case TamperMemoryModified, TamperComponentModified:
		return SeverityRecoverable
	default:
		return SeveritySoft
	}
}

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Persistence Events
// ═══════════════════════════════════════════════════════════════════════════

// DataLoadedEvent is emitted after player state has been loaded.
// Source tells the subscriber which copy survived: "primary", "backup"
// (after promotion) or "fresh" (both slots failed integrity).
type DataLoadedEvent struct {
	BaseEvent
	Source string `json:"source"`
}

// Payload implements Event interface.
func (e DataLoadedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"source": e.Source}
}

// NewDataLoadedEvent creates a DataLoadedEvent.
func NewDataLoadedEvent(playerID, source string) DataLoadedEvent {
	return DataLoadedEvent{
		BaseEvent: NewBaseEvent(EventDataLoaded, playerID),
		Source:    source,
	}
}

// DataSavedEvent is emitted after both slots were written successfully.
type DataSavedEvent struct {
	BaseEvent
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e DataSavedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"bytes":       e.Bytes,
		"duration_ms": e.Duration.Milliseconds(),
	}
}

// NewDataSavedEvent creates a DataSavedEvent.
func NewDataSavedEvent(playerID string, bytes int, duration time.Duration) DataSavedEvent {
	return DataSavedEvent{
		BaseEvent: NewBaseEvent(EventDataSaved, playerID),
		Bytes:     bytes,
		Duration:  duration,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Validation Events
// ═══════════════════════════════════════════════════════════════════════════

// SecurityWarningEvent is emitted for rejected mutations, flagged outlier
// mutations, and failed load integrity checks. Rejected tells the
// subscriber whether the mutation was dropped (true) or applied but
// flagged for monitoring (false).
type SecurityWarningEvent struct {
	BaseEvent
	Field    string `json:"field"`
	Reason   string `json:"reason"`
	Rejected bool   `json:"rejected"`
}

// Payload implements Event interface.
func (e SecurityWarningEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"field":    e.Field,
		"reason":   e.Reason,
		"rejected": e.Rejected,
	}
}

// NewSecurityWarningEvent creates a SecurityWarningEvent.
func NewSecurityWarningEvent(playerID, field, reason string, rejected bool) SecurityWarningEvent {
	return SecurityWarningEvent{
		BaseEvent: NewBaseEvent(EventSecurityWarning, playerID),
		Field:     field,
		Reason:    reason,
		Rejected:  rejected,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Tamper Events
// ═══════════════════════════════════════════════════════════════════════════

// TamperingDetectedEvent is emitted by the integrity monitor.
type TamperingDetectedEvent struct {
	BaseEvent
	Kind    TamperKind `json:"kind"`
	Subject string     `json:"subject"`
	Message string     `json:"message"`
}

// Payload implements Event interface.
func (e TamperingDetectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":     string(e.Kind),
		"severity": string(e.Kind.Severity()),
		"subject":  e.Subject,
		"message":  e.Message,
	}
}

// NewTamperingDetectedEvent creates a TamperingDetectedEvent.
func NewTamperingDetectedEvent(kind TamperKind, subject, message string) TamperingDetectedEvent {
	return TamperingDetectedEvent{
		BaseEvent: NewBaseEvent(EventTamperingDetected, subject),
		Kind:      kind,
		Subject:   subject,
		Message:   message,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Network Events
// ═══════════════════════════════════════════════════════════════════════════

// RequestCompletedEvent is emitted after a successful backend call.
type RequestCompletedEvent struct {
	BaseEvent
	Endpoint string        `json:"endpoint"`
	Status   int           `json:"status"`
	Duration time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e RequestCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"endpoint":    e.Endpoint,
		"status":      e.Status,
		"duration_ms": e.Duration.Milliseconds(),
	}
}

// NewRequestCompletedEvent creates a RequestCompletedEvent.
func NewRequestCompletedEvent(endpoint string, status int, duration time.Duration) RequestCompletedEvent {
	return RequestCompletedEvent{
		BaseEvent: NewBaseEvent(EventRequestCompleted, endpoint),
		Endpoint:  endpoint,
		Status:    status,
		Duration:  duration,
	}
}

// CommunicationErrorEvent is emitted when a backend call fails, including
// local throttle rejections (no network call was attempted for those).
type CommunicationErrorEvent struct {
	BaseEvent
	Endpoint string `json:"endpoint"`
	Reason   string `json:"reason"`
	Local    bool   `json:"local"`
}

// Payload implements Event interface.
func (e CommunicationErrorEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"endpoint": e.Endpoint,
		"reason":   e.Reason,
		"local":    e.Local,
	}
}

// NewCommunicationErrorEvent creates a CommunicationErrorEvent.
func NewCommunicationErrorEvent(endpoint, reason string, local bool) CommunicationErrorEvent {
	return CommunicationErrorEvent{
		BaseEvent: NewBaseEvent(EventCommunicationError, endpoint),
		Endpoint:  endpoint,
		Reason:    reason,
		Local:     local,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionEvent covers session lifecycle transitions (opened, closed,
// expired). The aggregate is the player the session belonged to.
type SessionEvent struct {
	BaseEvent
}

// Payload implements Event interface.
func (e SessionEvent) Payload() map[string]interface{} {
	return map[string]interface{}{}
}

// NewSessionEvent creates a SessionEvent of the given lifecycle type.
func NewSessionEvent(eventType EventType, playerID string) SessionEvent {
	return SessionEvent{BaseEvent: NewBaseEvent(eventType, playerID)}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and the audit trail)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     int             `json:"version"`
	Payload     json.RawMessage `json:"payload"`
}

// Envelope converts an event into an envelope with a serialized payload.
func Envelope(id string, event Event) (EventEnvelope, error) {
	raw, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     raw,
	}, nil
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
