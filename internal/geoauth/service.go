package geoauth

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gns/internal/attestation"
	"gns/internal/identity"
	"gns/internal/merchant"
	"gns/internal/platform/metrics"
	"gns/internal/settlement"
	"gns/internal/storage"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/geocell"
	"gns/pkg/platform/audit"
	"gns/pkg/strkey"
)

// Store is the persistence surface the geoauth service needs. Authorize and
// MarkUsed are conditional updates keyed on the current status so concurrent
// callers race to exactly one winner.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, authID uuid.UUID) (*Session, error)
	// Authorize moves pending -> authorized, recording the winning payer;
	// false when not pending.
	Authorize(ctx context.Context, authID uuid.UUID, identity, cell, envelope string, at time.Time) (bool, error)
	// MarkUsed moves authorized -> used; false when not authorized.
	MarkUsed(ctx context.Context, authID uuid.UUID, at time.Time) (bool, error)
	// ExpireOverdue moves pending and authorized sessions past expiry to
	// expired and returns the number transitioned.
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

// AttestationReader resolves an identity's chain tip.
type AttestationReader interface {
	LatestAttestation(ctx context.Context, publicKey string) (*attestation.Attestation, error)
}

// SettlementRecorder records the settlement produced by a used session.
type SettlementRecorder interface {
	RecordSettlement(ctx context.Context, s settlement.Settlement) error
}

// MerchantDirectory resolves the merchant behind a session, for the payout
// address on recorded settlements.
type MerchantDirectory interface {
	GetMerchant(ctx context.Context, id uuid.UUID) (*merchant.Merchant, error)
}

// AuditPublisher emits audit events without blocking the request path.
type AuditPublisher interface {
	Emit(e audit.Event)
}

// Service drives the geoauth session state machine.
type Service struct {
	store       Store
	chain       AttestationReader
	settlements SettlementRecorder
	merchants   MerchantDirectory
	envelopeKey ed25519.PrivateKey
	defaultTTL  time.Duration
	logger      *slog.Logger
	audit       AuditPublisher
	metrics     *metrics.Metrics
	now         func() time.Time
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

// NewService builds the geoauth service. envelopeKey signs authorization
// envelopes (EdDSA JWTs).
func NewService(store Store, chain AttestationReader, settlements SettlementRecorder,
	merchants MerchantDirectory, envelopeKey ed25519.PrivateKey, defaultTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		store:       store,
		chain:       chain,
		settlements: settlements,
		merchants:   merchants,
		envelopeKey: envelopeKey,
		defaultTTL:  defaultTTL,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest opens a session on behalf of a merchant. The paying identity
// is not part of the request; it is bound later, by whoever authorizes.
type CreateRequest struct {
	AllowedCells []string      `json:"allowed_cells,omitempty"`
	PaymentHash  string        `json:"payment_hash"`
	Amount       string        `json:"amount"`
	Currency     string        `json:"currency"`
	TTL          time.Duration `json:"ttl,omitempty"`
}

// Create opens a pending session for the given merchant.
func (s *Service) Create(ctx context.Context, merchantID uuid.UUID, req CreateRequest) (*Session, error) {
	if req.PaymentHash == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "payment_hash is required")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, domainerrors.New(domainerrors.CodeValidation, "amount must be a positive decimal")
	}
	if req.Currency == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "currency is required")
	}
	for _, raw := range req.AllowedCells {
		if _, err := geocell.Parse(raw); err != nil {
			return nil, domainerrors.Newf(domainerrors.CodeValidation, "invalid allowed cell %q", raw)
		}
	}

	now := s.now()
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	session := &Session{
		AuthID:       uuid.New(),
		MerchantID:   merchantID,
		AllowedCells: req.AllowedCells,
		PaymentHash:  req.PaymentHash,
		Amount:       amount,
		Currency:     req.Currency,
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "create session")
	}

	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Subject:  session.AuthID.String(),
			Action:   audit.EventSessionCreated,
			Decision: "allowed",
		})
	}
	s.logger.InfoContext(ctx, "geoauth session created",
		"auth_id", session.AuthID, "merchant_id", merchantID)
	return session, nil
}

// AuthorizeRequest proves the payer's presence for a session.
type AuthorizeRequest struct {
	Identity  string `json:"identity"`
	Signature string `json:"signature"`
}

// Authorize binds the authorizing payer and their most recent attested
// location to the session and mints the authorization envelope. Exactly one
// caller wins.
func (s *Service) Authorize(ctx context.Context, authID uuid.UUID, req AuthorizeRequest) (*Session, error) {
	if err := identity.ValidatePublicKey(req.Identity); err != nil {
		return nil, err
	}
	if err := identity.VerifySignature(req.Identity, []byte("gns-geoauth-authorize:"+authID.String()), req.Signature); err != nil {
		return nil, err
	}
	session, err := s.getSession(ctx, authID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := checkTransition(session, now, StatusPending); err != nil {
		return nil, err
	}

	latest, err := s.chain.LatestAttestation(ctx, req.Identity)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeForbidden, "stale attestation: identity has no attested location")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load chain tip")
	}
	if !latest.Timestamp.After(session.CreatedAt) {
		return nil, domainerrors.New(domainerrors.CodeForbidden, "stale attestation: latest attestation predates session")
	}

	attested, err := geocell.Parse(latest.Geocell)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "decode attested cell")
	}
	if !s.cellAllowed(session.AllowedCells, attested) {
		return nil, domainerrors.New(domainerrors.CodeForbidden, "attested location outside allowed area")
	}

	session.Identity = req.Identity
	envelope, err := s.mintEnvelope(session, latest.Geocell, now)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "mint envelope")
	}

	won, err := s.store.Authorize(ctx, authID, req.Identity, latest.Geocell, envelope, now)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "authorize session")
	}
	if !won {
		current, err := s.getSession(ctx, authID)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case StatusExpired:
			return nil, domainerrors.New(domainerrors.CodeExpired, "session expired")
		default:
			return nil, domainerrors.New(domainerrors.CodeConflict, "session already authorized")
		}
	}

	if s.metrics != nil {
		s.metrics.SessionsAuthorized.Inc()
	}
	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Identity: req.Identity,
			Subject:  authID.String(),
			Action:   audit.EventSessionAuthorized,
			Decision: "allowed",
		})
	}
	s.logger.InfoContext(ctx, "geoauth session authorized",
		"auth_id", authID, "identity", req.Identity, "cell", latest.Geocell)

	session.Status = StatusAuthorized
	session.AuthorizedCell = latest.Geocell
	session.Envelope = envelope
	at := now
	session.AuthorizedAt = &at
	return session, nil
}

// MarkUsed consumes an authorized session exactly once and records the
// resulting settlement for the merchant.
func (s *Service) MarkUsed(ctx context.Context, authID uuid.UUID) (*Session, error) {
	session, err := s.getSession(ctx, authID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := checkTransition(session, now, StatusAuthorized); err != nil {
		return nil, err
	}

	m, err := s.merchants.GetMerchant(ctx, session.MerchantID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load merchant")
	}
	source, err := payerAddress(session.Identity)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "derive payer address")
	}

	won, err := s.store.MarkUsed(ctx, authID, now)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "mark session used")
	}
	if !won {
		return nil, domainerrors.New(domainerrors.CodeConflict, "session already used")
	}

	if err := s.settlements.RecordSettlement(ctx, settlement.Settlement{
		ID:                 uuid.New(),
		MerchantID:         session.MerchantID,
		Identity:           session.Identity,
		AuthID:             session.AuthID,
		PaymentHash:        session.PaymentHash,
		Geocell:            session.AuthorizedCell,
		SourceAddress:      source,
		DestinationAddress: m.SettlementAddress,
		Amount:             session.Amount,
		Currency:           session.Currency,
		Status:             settlement.SettlementCompleted,
		CreatedAt:          now,
	}); err != nil {
		// The session is used either way; the settlement must not be lost.
		s.logger.ErrorContext(ctx, "record settlement", "error", err, "auth_id", authID)
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "record settlement")
	}

	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Identity: session.Identity,
			Subject:  authID.String(),
			Action:   audit.EventSessionUsed,
			Decision: "allowed",
		})
	}
	s.logger.InfoContext(ctx, "geoauth session used", "auth_id", authID, "merchant_id", session.MerchantID)

	session.Status = StatusUsed
	at := now
	session.UsedAt = &at
	return session, nil
}

// RunSweeper expires overdue sessions on the given interval until ctx is
// cancelled.
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
				s.logger.ErrorContext(ctx, "session expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				if s.metrics != nil {
					s.metrics.SessionsExpired.Add(float64(n))
				}
				s.logger.InfoContext(ctx, "expired geoauth sessions", "count", n)
			}
		}
	}
}

func (s *Service) getSession(ctx context.Context, authID uuid.UUID) (*Session, error) {
	session, err := s.store.GetSession(ctx, authID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "session not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load session")
	}
	return session, nil
}

func checkTransition(session *Session, now time.Time, want Status) error {
	switch session.Status {
	case StatusExpired:
		return domainerrors.New(domainerrors.CodeExpired, "session expired")
	case StatusUsed:
		return domainerrors.New(domainerrors.CodeConflict, "session already used")
	}
	if session.Status != want {
		if want == StatusPending {
			return domainerrors.New(domainerrors.CodeConflict, "session already authorized")
		}
		return domainerrors.New(domainerrors.CodeConflict, "session not authorized")
	}
	if now.After(session.ExpiresAt) {
		return domainerrors.New(domainerrors.CodeExpired, "session expired")
	}
	return nil
}

// payerAddress renders the payer's hex key as a settlement-network account
// address.
func payerAddress(publicKey string) (string, error) {
	raw, err := hex.DecodeString(publicKey)
	if err != nil {
		return "", err
	}
	return strkey.Encode(raw)
}

func (s *Service) cellAllowed(allowed []string, attested geocell.Cell) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, raw := range allowed {
		cell, err := geocell.Parse(raw)
		if err != nil {
			continue
		}
		if cell.Contains(attested) {
			return true
		}
	}
	return false
}

func (s *Service) mintEnvelope(session *Session, cell string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":          session.Identity,
		"auth_id":      session.AuthID.String(),
		"merchant_id":  session.MerchantID.String(),
		"geocell":      cell,
		"payment_hash": session.PaymentHash,
		"amount":       session.Amount.String(),
		"currency":     session.Currency,
		"iat":          now.Unix(),
		"exp":          session.ExpiresAt.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.envelopeKey)
}

// EnvelopeVerifyKey returns the public key that verifies minted envelopes.
func (s *Service) EnvelopeVerifyKey() ed25519.PublicKey {
	return s.envelopeKey.Public().(ed25519.PublicKey)
}
