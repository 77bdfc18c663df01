// Package worker drains the audit inbox into the store.
package worker

import (
	"context"
	"log/slog"

	audit "gns/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. Persistence
// failures are logged, not fatal: one bad row must not stop the drain.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func New(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				if w.logger != nil {
					w.logger.ErrorContext(ctx, "failed to append audit event",
						"action", event.Action,
						"error", err,
					)
				}
			}
		}
	}
}
