package attestation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gns/internal/attestation/ratelimit"
	"gns/internal/identity"
	"gns/internal/platform/metrics"
	"gns/internal/storage"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/geocell"
	"gns/pkg/platform/audit"
)

// Store is the persistence surface the attestation service needs. The append
// is the only write path into an identity's chain and must be atomic: it
// inserts the attestation, advances the chain tip and refreshes the trust
// projection, failing with storage.ErrChainConflict when the tip moved.
type Store interface {
	EnsureIdentity(ctx context.Context, publicKey string, now time.Time) (*identity.Identity, error)
	LatestAttestation(ctx context.Context, publicKey string) (*Attestation, error)
	CellSeen(ctx context.Context, publicKey, cell string) (bool, error)
	AppendAttestation(ctx context.Context, att *Attestation, newScore float64, cellIsNew bool) error
	RecordVelocityCheck(ctx context.Context, check VelocityCheck) error
	RecordFraudEvent(ctx context.Context, event FraudEvent) error
	ListAttestations(ctx context.Context, publicKey string, limit int) ([]Attestation, error)
}

// AuditPublisher emits audit events without blocking the request path.
type AuditPublisher interface {
	Emit(e audit.Event)
}

// AppendRequest carries one signed breadcrumb submission.
type AppendRequest struct {
	Identity  string    `json:"identity"`
	Geocell   string    `json:"geocell"`
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string    `json:"prev_hash"`
	Signature string    `json:"signature"`
}

// AppendResult reports the accepted attestation and the refreshed trust view.
type AppendResult struct {
	AttestationID uuid.UUID          `json:"attestation_id"`
	Hash          string             `json:"hash"`
	TrustScore    float64            `json:"trust_score"`
	Tier          identity.TrustTier `json:"tier"`
}

// Service validates, guards and appends attestations.
type Service struct {
	store   Store
	limiter ratelimit.Limiter
	guard   *Guard
	scorer  identity.Scorer
	logger  *slog.Logger
	audit   AuditPublisher
	metrics *metrics.Metrics
	now     func() time.Time
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

// WithScorer overrides the default trust scorer.
func WithScorer(sc identity.Scorer) Option {
	return func(s *Service) { s.scorer = sc }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the attestation service.
func NewService(store Store, limiter ratelimit.Limiter, guard *Guard, opts ...Option) *Service {
	s := &Service{
		store:   store,
		limiter: limiter,
		guard:   guard,
		scorer:  identity.NewDefaultScorer(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append runs the full admission pipeline: signature, rate limit, chain
// linkage, velocity guard, then the atomic append with a trust recompute.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*AppendResult, error) {
	cell, err := geocell.Parse(req.Geocell)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid geocell")
	}
	if req.Timestamp.IsZero() {
		return nil, domainerrors.New(domainerrors.CodeValidation, "timestamp is required")
	}
	if err := identity.VerifySignature(req.Identity, SigningBytes(req.PrevHash, cell.String(), req.Timestamp), req.Signature); err != nil {
		s.reject(ctx, req.Identity, "invalid_signature")
		return nil, err
	}

	now := s.now()
	id, err := s.store.EnsureIdentity(ctx, req.Identity, now)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "ensure identity")
	}

	allowed, err := s.limiter.Allow(ctx, req.Identity)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeUnavailable, "rate limiter")
	}
	if !allowed {
		s.reject(ctx, req.Identity, "rate_limited")
		return nil, domainerrors.New(domainerrors.CodeRateLimited, "attestation interval too short")
	}

	latest, err := s.store.LatestAttestation(ctx, req.Identity)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load chain tip")
	}

	tip := ""
	if latest != nil {
		tip = latest.Hash
	}
	if req.PrevHash != tip {
		s.reject(ctx, req.Identity, "chain_conflict")
		return nil, domainerrors.New(domainerrors.CodeConflict, "prev_hash does not match current chain tip")
	}

	if latest != nil {
		check, severity := s.guard.Evaluate(latest, cell, req.Timestamp, now)
		if err := s.store.RecordVelocityCheck(ctx, check); err != nil {
			s.logger.WarnContext(ctx, "record velocity check", "error", err, "identity", req.Identity)
		}
		if !check.Valid {
			s.recordFraud(ctx, req.Identity, check, severity, now)
			s.reject(ctx, req.Identity, check.Reason)
			return nil, domainerrors.Newf(domainerrors.CodeValidation, "attestation rejected: %s", Describe(check))
		}
	}

	att := &Attestation{
		ID:        uuid.New(),
		Identity:  req.Identity,
		Geocell:   cell.String(),
		Timestamp: req.Timestamp.UTC(),
		PrevHash:  req.PrevHash,
		Hash:      ChainHash(cell.String(), req.Timestamp, req.PrevHash),
		Signature: req.Signature,
		CreatedAt: now,
	}

	seen, err := s.store.CellSeen(ctx, req.Identity, att.Geocell)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "cell lookup")
	}
	unique := id.UniqueCells
	if !seen {
		unique++
	}
	ts := att.Timestamp
	first := id.FirstAttestationAt
	if first == nil {
		first = &ts
	}
	score := s.scorer.Score(identity.Snapshot{
		AttestationCount:   id.AttestationCount + 1,
		UniqueCells:        unique,
		EpochCount:         id.EpochCount,
		FirstAttestationAt: first,
		LastAttestationAt:  &ts,
		Now:                now,
	})

	if err := s.store.AppendAttestation(ctx, att, score, !seen); err != nil {
		if errors.Is(err, storage.ErrChainConflict) {
			s.reject(ctx, req.Identity, "chain_conflict")
			return nil, domainerrors.New(domainerrors.CodeConflict, "prev_hash does not match current chain tip")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "append attestation")
	}

	if s.metrics != nil {
		s.metrics.AttestationsAccepted.Inc()
	}
	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Identity: req.Identity,
			Subject:  att.Hash,
			Action:   audit.EventAttestationAccepted,
			Decision: "allowed",
		})
	}
	s.logger.InfoContext(ctx, "attestation appended",
		"identity", req.Identity, "geocell", att.Geocell, "hash", att.Hash, "trust_score", score)

	result := &AppendResult{
		AttestationID: att.ID,
		Hash:          att.Hash,
		TrustScore:    score,
		Tier:          identity.TierFromScore(score),
	}
	// The stored score never regresses; mirror that in the response.
	if id.TrustScore > score {
		result.TrustScore = id.TrustScore
		result.Tier = identity.TierFromScore(id.TrustScore)
	}
	return result, nil
}

// List returns the newest attestations for an identity, newest first.
func (s *Service) List(ctx context.Context, publicKey string, limit int) ([]Attestation, error) {
	if err := identity.ValidatePublicKey(publicKey); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	atts, err := s.store.ListAttestations(ctx, publicKey, limit)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list attestations")
	}
	return atts, nil
}

func (s *Service) reject(ctx context.Context, publicKey, reason string) {
	if s.metrics != nil {
		s.metrics.AttestationsRejected.WithLabelValues(reason).Inc()
	}
	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Identity: publicKey,
			Action:   audit.EventAttestationRejected,
			Decision: "denied",
			Reason:   reason,
		})
	}
}

func (s *Service) recordFraud(ctx context.Context, publicKey string, check VelocityCheck, severity Severity, now time.Time) {
	event := FraudEvent{
		ID:        uuid.New(),
		Identity:  publicKey,
		Type:      check.Reason,
		Severity:  severity,
		Details:   Describe(check),
		CreatedAt: now,
	}
	if err := s.store.RecordFraudEvent(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "record fraud event", "error", err, "identity", publicKey)
	}
	if s.metrics != nil {
		s.metrics.FraudEvents.WithLabelValues(string(severity)).Inc()
	}
	if s.audit != nil {
		action := audit.EventVelocityViolation
		if check.Reason == FraudClockRegression {
			action = audit.EventClockRegression
		}
		s.audit.Emit(audit.Event{
			Identity: publicKey,
			Action:   action,
			Decision: "denied",
			Reason:   event.Details,
		})
	}
	s.logger.WarnContext(ctx, "fraud signal recorded",
		"identity", publicKey, "type", check.Reason, "severity", severity, "details", event.Details)
}
