package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"gns/internal/storage"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/audit"
)

// Store is the persistence surface the identity service needs.
type Store interface {
	GetIdentity(ctx context.Context, publicKey string) (*Identity, error)
	// ClaimHandle sets the handle if and only if the identity has none and
	// no other identity holds it. It returns storage.ErrHandleSet or
	// storage.ErrHandleTaken otherwise.
	ClaimHandle(ctx context.Context, publicKey, handle string) error
}

// AuditPublisher emits audit events without blocking the request path.
type AuditPublisher interface {
	Emit(e audit.Event)
}

var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,31}$`)

// Service answers trust queries and arbitrates handle claims.
type Service struct {
	store       Store
	paymentGate Requirements
	logger      *slog.Logger
	audit       AuditPublisher
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

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPaymentMinTrust overrides the trust-score floor for originating
// payments.
func WithPaymentMinTrust(score float64) Option {
	return func(s *Service) { s.paymentGate.MinTrustScore = score }
}

// NewService builds an identity service around the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		paymentGate: ForPayment(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetTrustState returns the trust read-model for a public key.
func (s *Service) GetTrustState(ctx context.Context, publicKey string) (*TrustState, error) {
	if err := ValidatePublicKey(publicKey); err != nil {
		return nil, err
	}
	id, err := s.store.GetIdentity(ctx, publicKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "identity not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load identity")
	}
	return &TrustState{
		PublicKey:         id.PublicKey,
		Handle:            id.Handle,
		TrustScore:        id.TrustScore,
		Tier:              TierFromScore(id.TrustScore),
		AttestationCount:  id.AttestationCount,
		EpochCount:        id.EpochCount,
		LastAttestationAt: id.LastAttestationAt,
	}, nil
}

// ClaimHandle binds a human-readable handle to an identity. The caller proves
// key ownership by signing "gns-handle-claim:<handle>" with the identity key.
// Claims are gated on accumulated trajectory and are first-write-wins.
func (s *Service) ClaimHandle(ctx context.Context, publicKey, handle, signature string) (*TrustState, error) {
	if err := ValidatePublicKey(publicKey); err != nil {
		return nil, err
	}
	if !handlePattern.MatchString(handle) {
		return nil, domainerrors.New(domainerrors.CodeValidation, "handle must be 3-32 chars of [a-z0-9_-], starting alphanumeric")
	}
	if err := VerifySignature(publicKey, []byte("gns-handle-claim:"+handle), signature); err != nil {
		return nil, err
	}

	id, err := s.store.GetIdentity(ctx, publicKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "identity not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load identity")
	}
	if reason := ForHandleClaim().Check(id, s.now()); reason != "" {
		return nil, domainerrors.Newf(domainerrors.CodeForbidden, "handle claim requirements not met: %s", reason)
	}

	if err := s.store.ClaimHandle(ctx, publicKey, handle); err != nil {
		switch {
		case errors.Is(err, storage.ErrHandleSet):
			return nil, domainerrors.New(domainerrors.CodeConflict, "identity already has a handle")
		case errors.Is(err, storage.ErrHandleTaken):
			return nil, domainerrors.New(domainerrors.CodeConflict, "handle already taken")
		default:
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "claim handle")
		}
	}

	s.logger.InfoContext(ctx, "handle claimed", "public_key", publicKey, "handle", handle)
	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Identity: publicKey,
			Subject:  handle,
			Action:   audit.EventHandleClaimed,
			Decision: "allowed",
		})
	}

	id.Handle = handle
	return &TrustState{
		PublicKey:         id.PublicKey,
		Handle:            handle,
		TrustScore:        id.TrustScore,
		Tier:              TierFromScore(id.TrustScore),
		AttestationCount:  id.AttestationCount,
		EpochCount:        id.EpochCount,
		LastAttestationAt: id.LastAttestationAt,
	}, nil
}

// RequirePaymentTrust verifies the identity clears the payment gate. It is
// used by the payment service via interface.
func (s *Service) RequirePaymentTrust(ctx context.Context, publicKey string) error {
	if err := ValidatePublicKey(publicKey); err != nil {
		return err
	}
	id, err := s.store.GetIdentity(ctx, publicKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domainerrors.New(domainerrors.CodeNotFound, "identity not found")
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "load identity")
	}
	if reason := s.paymentGate.Check(id, s.now()); reason != "" {
		return domainerrors.Newf(domainerrors.CodeForbidden, "payment requirements not met: %s", reason)
	}
	return nil
}

// ValidatePublicKey checks a lowercase-hex Ed25519 public key.
func ValidatePublicKey(publicKey string) error {
	raw, err := hex.DecodeString(publicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return domainerrors.New(domainerrors.CodeValidation, "public key must be 64 hex chars (ed25519)")
	}
	return nil
}

// VerifySignature checks an Ed25519 signature (hex) over payload by the
// hex-encoded public key.
func VerifySignature(publicKey string, payload []byte, signature string) error {
	pk, err := hex.DecodeString(publicKey)
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return domainerrors.New(domainerrors.CodeValidation, "public key must be 64 hex chars (ed25519)")
	}
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return domainerrors.New(domainerrors.CodeValidation, fmt.Sprintf("signature must be %d hex chars", ed25519.SignatureSize*2))
	}
	if !ed25519.Verify(ed25519.PublicKey(pk), payload, sig) {
		return domainerrors.New(domainerrors.CodeUnauthorized, "signature verification failed")
	}
	return nil
}
