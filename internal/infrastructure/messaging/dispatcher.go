package messaging

import (
	"log/slog"
	"sync"

	"github.com/pocketpaws/securecore/internal/domain/shared"
)

// TamperHandler reacts to a tamper event routed by severity.
type TamperHandler func(event shared.TamperingDetectedEvent)

// TamperDispatcher routes TamperingDetected events to severity-specific
// handlers:
//
//   - critical    (code modified, object destroyed): flag the client for
//     forced resync/restart
//   - recoverable (component/memory modified): attempt a local restore,
//     e.g. reload state from backup
//   - soft        (time manipulation): references already reset,
//     report only
//
// Handlers are optional; unrouted events are only logged.
type TamperDispatcher struct {
	mu          sync.RWMutex
	critical    []TamperHandler
	recoverable []TamperHandler
	soft        []TamperHandler
	logger      *slog.Logger
}

// NewTamperDispatcher creates a dispatcher subscribed to tamper events
// on the given bus.
func NewTamperDispatcher(bus shared.EventSubscriber, logger *slog.Logger) (*TamperDispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := &TamperDispatcher{logger: logger}
	if err := bus.Subscribe(shared.EventTamperingDetected, d.route); err != nil {
		return nil, err
	}
	return d, nil
}

// OnCritical registers a handler for critical tamper events.
func (d *TamperDispatcher) OnCritical(h TamperHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.critical = append(d.critical, h)
}

// OnRecoverable registers a handler for recoverable tamper events.
func (d *TamperDispatcher) OnRecoverable(h TamperHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recoverable = append(d.recoverable, h)
}

// OnSoft registers a handler for soft tamper events.
func (d *TamperDispatcher) OnSoft(h TamperHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.soft = append(d.soft, h)
}

func (d *TamperDispatcher) route(event shared.Event) error {
	tampering, ok := event.(shared.TamperingDetectedEvent)
	if !ok {
		d.logger.Warn("unexpected event type on tamper subscription", "event_type", event.EventType())
		return nil
	}

	severity := tampering.Kind.Severity()

	d.mu.RLock()
	var handlers []TamperHandler
	switch severity {
	case shared.SeverityCritical:
		handlers = append(handlers, d.critical...)
	case shared.SeverityRecoverable:
		handlers = append(handlers, d.recoverable...)
	default:
		handlers = append(handlers, d.soft...)
	}
	d.mu.RUnlock()

	d.logger.Warn("tampering detected",
		"kind", tampering.Kind,
		"severity", severity,
		"subject", tampering.Subject,
		"message", tampering.Message,
	)

	for _, h := range handlers {
		h(tampering)
	}
	return nil
}
