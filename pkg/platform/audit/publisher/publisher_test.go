package publisher

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gns/pkg/attrs"
	audit "gns/pkg/platform/audit"
	auditmem "gns/pkg/platform/audit/store/memory"
	"gns/pkg/platform/audit/worker"
)

// capturingHandler records log attrs as flat key-value slices so tests can
// pick values out with attrs.ExtractString.
type capturingHandler struct {
	mu      sync.Mutex
	records [][]any
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	kv := []any{"msg", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		kv = append(kv, a.Key, a.Value.String())
		return true
	})
	h.mu.Lock()
	h.records = append(h.records, kv)
	h.mu.Unlock()
	return nil
}

func (h *capturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *capturingHandler) WithGroup(string) slog.Handler      { return h }

func (h *capturingHandler) find(key, value string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, kv := range h.records {
		if attrs.ExtractString(kv, key) == value {
			return true
		}
	}
	return false
}

func TestEmitFillsDefaults(t *testing.T) {
	p := New(4, slog.Default())
	p.Emit(audit.Event{Action: audit.EventVelocityViolation, Identity: "pk"})

	event := <-p.Inbox()
	assert.Equal(t, audit.CategoryFraud, event.Category)
	assert.False(t, event.Timestamp.IsZero())
}

func TestEmitDropsWhenFullWithoutBlocking(t *testing.T) {
	captured := &capturingHandler{}
	p := New(1, slog.New(captured))

	p.Emit(audit.Event{Action: audit.EventIntentCreated})
	done := make(chan struct{})
	go func() {
		p.Emit(audit.Event{Action: audit.EventAttestationAccepted, Identity: "dropped-pk"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full inbox")
	}
	assert.True(t, captured.find("identity", "dropped-pk"), "expected drop warning with the event identity")
}

func TestWorkerDrainsIntoStore(t *testing.T) {
	store := auditmem.New()
	p := New(16, slog.Default())
	w := worker.New(store, p.Inbox(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	p.Emit(audit.Event{Action: audit.EventEpochPublished, Identity: "pk-1"})
	p.Emit(audit.Event{Action: audit.EventAttestationRejected, Identity: "pk-1", Reason: "rate_limited"})

	require.Eventually(t, func() bool {
		return len(store.Events()) == 2
	}, time.Second, 10*time.Millisecond)

	rejected := store.ByAction(audit.EventAttestationRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "rate_limited", rejected[0].Reason)
	assert.Equal(t, audit.CategoryLedger, rejected[0].Category)
}
