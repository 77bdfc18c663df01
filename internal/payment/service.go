package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gns/internal/identity"
	"gns/internal/platform/metrics"
	"gns/internal/storage"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/audit"
)

// Store is the persistence surface the payment service needs. Every state
// transition is a conditional update keyed on the current status, so
// concurrent callers race safely: exactly one wins, the rest observe zero
// rows and re-read.
type Store interface {
	CreateIntent(ctx context.Context, intent *Intent) error
	GetIntent(ctx context.Context, paymentID string) (*Intent, error)
	// MarkDelivered moves pending -> delivered; false when the intent was
	// not pending.
	MarkDelivered(ctx context.Context, paymentID string, at time.Time) (bool, error)
	// ListForRecipient returns non-terminal intents addressed to the key,
	// created after since, oldest first.
	ListForRecipient(ctx context.Context, to string, since time.Time, limit int) ([]Intent, error)
	// Acknowledge moves pending|delivered -> ack.Verdict and records the
	// ack in the same transaction; false when the intent was terminal.
	Acknowledge(ctx context.Context, ack Ack) (bool, error)
	// ExpireOverdue moves every pending or delivered intent past its
	// expiry to expired and returns the number transitioned.
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

// TrustChecker gates intent creation on the sender's accumulated trajectory.
type TrustChecker interface {
	RequirePaymentTrust(ctx context.Context, publicKey string) error
}

// AuditPublisher emits audit events without blocking the request path.
type AuditPublisher interface {
	Emit(e audit.Event)
}

// Service drives the payment intent state machine.
type Service struct {
	store      Store
	trust      TrustChecker
	defaultTTL time.Duration
	logger     *slog.Logger
	audit      AuditPublisher
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAuditPublisher wires the audit pipeline.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.audit = p }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the payment service.
func NewService(store Store, trust TrustChecker, defaultTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		store:      store,
		trust:      trust,
		defaultTTL: defaultTTL,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest carries a new intent submission.
type CreateRequest struct {
	PaymentID string        `json:"payment_id"`
	Envelope  Envelope      `json:"envelope"`
	TTL       time.Duration `json:"ttl,omitempty"`
}

// Create registers a pending intent. The payment id is the idempotency key:
// a second create with the same id is refused and the stored intent stays
// untouched.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Intent, error) {
	if req.PaymentID == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "payment_id is required")
	}
	if err := identity.ValidatePublicKey(req.Envelope.From); err != nil {
		return nil, domainerrors.New(domainerrors.CodeValidation, "envelope from must be 64 hex chars (ed25519)")
	}
	if err := identity.ValidatePublicKey(req.Envelope.To); err != nil {
		return nil, domainerrors.New(domainerrors.CodeValidation, "envelope to must be 64 hex chars (ed25519)")
	}
	if req.Envelope.EncryptedPayload == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "envelope payload is required")
	}
	if err := s.trust.RequirePaymentTrust(ctx, req.Envelope.From); err != nil {
		return nil, err
	}

	now := s.now()
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	intent := &Intent{
		PaymentID: req.PaymentID,
		From:      req.Envelope.From,
		To:        req.Envelope.To,
		Envelope:  req.Envelope,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.store.CreateIntent(ctx, intent); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, domainerrors.New(domainerrors.CodeConflict, "duplicate payment id")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "create intent")
	}

	if s.metrics != nil {
		s.metrics.IntentsCreated.Inc()
	}
	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Identity:  req.Envelope.From,
			Subject:   req.Envelope.To,
			Action:    audit.EventIntentCreated,
			Decision:  "allowed",
			PaymentID: req.PaymentID,
		})
	}
	s.logger.InfoContext(ctx, "payment intent created",
		"payment_id", req.PaymentID, "from", req.Envelope.From, "to", req.Envelope.To)
	return intent, nil
}

// Poll returns the recipient's undecided intents and marks newly seen ones
// delivered. Delivery happens at most once per intent; re-polls return the
// same intents unchanged.
func (s *Service) Poll(ctx context.Context, to string, since time.Time, limit int) ([]Intent, error) {
	if err := identity.ValidatePublicKey(to); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	intents, err := s.store.ListForRecipient(ctx, to, since, limit)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list intents")
	}

	now := s.now()
	for i := range intents {
		if intents[i].Status != StatusPending || now.After(intents[i].ExpiresAt) {
			continue
		}
		won, err := s.store.MarkDelivered(ctx, intents[i].PaymentID, now)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "mark delivered")
		}
		if won {
			intents[i].Status = StatusDelivered
			at := now
			intents[i].DeliveredAt = &at
			if s.metrics != nil {
				s.metrics.IntentsDelivered.Inc()
			}
			if s.audit != nil {
				s.audit.Emit(audit.Event{
					Identity:  to,
					Action:    audit.EventIntentDelivered,
					Decision:  "allowed",
					PaymentID: intents[i].PaymentID,
				})
			}
		}
	}
	return intents, nil
}

// AckRequest carries a terminal verdict for an intent, signed by the
// responder over AckSigningPayload.
type AckRequest struct {
	Responder string `json:"responder"`
	Verdict   string `json:"verdict"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature"`
}

// Acknowledge applies the recipient's verdict. Only the intent recipient may
// acknowledge; the first terminal transition wins and everything after it is
// a conflict.
func (s *Service) Acknowledge(ctx context.Context, paymentID string, req AckRequest) (*Intent, error) {
	if req.Verdict != VerdictAccepted && req.Verdict != VerdictRejected {
		return nil, domainerrors.New(domainerrors.CodeValidation, "verdict must be accepted or rejected")
	}
	if err := identity.ValidatePublicKey(req.Responder); err != nil {
		return nil, err
	}
	if err := identity.VerifySignature(req.Responder, AckSigningPayload(paymentID, req.Verdict), req.Signature); err != nil {
		return nil, err
	}

	intent, err := s.store.GetIntent(ctx, paymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "no intent for payment id")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load intent")
	}
	if req.Responder != intent.To {
		return nil, domainerrors.New(domainerrors.CodeForbidden, "only the intent recipient may acknowledge")
	}

	now := s.now()
	if !intent.Status.Terminal() && now.After(intent.ExpiresAt) {
		return nil, domainerrors.New(domainerrors.CodeExpired, "intent expired before acknowledgement")
	}

	ack := Ack{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Responder: req.Responder,
		Verdict:   req.Verdict,
		Reason:    req.Reason,
		CreatedAt: now,
	}
	won, err := s.store.Acknowledge(ctx, ack)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "acknowledge intent")
	}
	if !won {
		current, err := s.store.GetIntent(ctx, paymentID)
		if err == nil && current.Status == StatusExpired {
			return nil, domainerrors.New(domainerrors.CodeExpired, "intent expired before acknowledgement")
		}
		return nil, domainerrors.New(domainerrors.CodeConflict, "intent already acknowledged")
	}

	if s.metrics != nil {
		s.metrics.IntentsAcknowledged.WithLabelValues(req.Verdict).Inc()
	}
	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Identity:  intent.To,
			Action:    audit.EventIntentAcknowledged,
			Decision:  req.Verdict,
			Reason:    req.Reason,
			PaymentID: paymentID,
		})
	}
	s.logger.InfoContext(ctx, "payment intent acknowledged",
		"payment_id", paymentID, "verdict", req.Verdict)

	intent.Status = Status(req.Verdict)
	return intent, nil
}

// RunSweeper expires overdue pending and delivered intents on the given
// interval until ctx is cancelled. Multiple instances may sweep concurrently;
// the conditional update makes each expiry land exactly once.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.store.ExpireOverdue(ctx, s.now())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				s.logger.ErrorContext(ctx, "intent expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				if s.metrics != nil {
					s.metrics.IntentsExpired.Add(float64(n))
				}
				s.logger.InfoContext(ctx, "expired overdue intents", "count", n)
			}
		}
	}
}
