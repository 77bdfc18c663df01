// Package publisher decouples services from audit persistence with a bounded
// channel. Services emit and move on; the worker drains into the store.
package publisher

import (
	"log/slog"
	"time"

	audit "gns/pkg/platform/audit"
)

// Publisher accepts events and forwards them to the worker's inbox.
type Publisher struct {
	inbox  chan audit.Event
	logger *slog.Logger
}

// New creates a publisher with the given buffer size.
func New(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		inbox:  make(chan audit.Event, buffer),
		logger: logger,
	}
}

// Inbox exposes the channel the worker consumes.
func (p *Publisher) Inbox() <-chan audit.Event {
	return p.inbox
}

// Emit enqueues an event. Audit is best-effort at this boundary: when the
// buffer is full the event is dropped with a warning rather than blocking a
// domain operation.
func (p *Publisher) Emit(event audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	select {
	case p.inbox <- event:
	default:
		if p.logger != nil {
			p.logger.Warn("audit inbox full, dropping event",
				"action", event.Action,
				"identity", event.Identity,
			)
		}
	}
}
