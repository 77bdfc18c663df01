package merchant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"gns/internal/storage"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/audit"
)

// Store is the persistence surface the merchant service needs.
type Store interface {
	CreateMerchant(ctx context.Context, m *Merchant) error
	GetMerchant(ctx context.Context, id uuid.UUID) (*Merchant, error)
}

// AuditPublisher emits audit events without blocking the request path.
type AuditPublisher interface {
	Emit(e audit.Event)
}

// Service manages merchant registration and authentication.
type Service struct {
	store  Store
	logger *slog.Logger
	audit  AuditPublisher
	now    func() time.Time
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

// NewService builds the merchant service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registration is the one-time response to a merchant create; the secret is
// never reproducible afterwards.
type Registration struct {
	Merchant *Merchant `json:"merchant"`
	Secret   string    `json:"secret"`
}

// Create registers a merchant and mints its API secret.
func (s *Service) Create(ctx context.Context, name, settlementAddress string) (*Registration, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "generate secret")
	}
	secret := hex.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "hash secret")
	}

	m, err := NewMerchant(name, settlementAddress, string(hash), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateMerchant(ctx, m); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "create merchant")
	}

	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Subject:  m.ID.String(),
			Action:   audit.EventMerchantCreated,
			Decision: "allowed",
		})
	}
	s.logger.InfoContext(ctx, "merchant registered", "merchant_id", m.ID, "name", m.Name)
	return &Registration{Merchant: m, Secret: secret}, nil
}

// Get returns a merchant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Merchant, error) {
	m, err := s.store.GetMerchant(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "merchant not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load merchant")
	}
	return m, nil
}

// Authenticate verifies merchant credentials and returns the merchant.
func (s *Service) Authenticate(ctx context.Context, id uuid.UUID, secret string) (*Merchant, error) {
	m, err := s.store.GetMerchant(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeUnauthorized, "invalid merchant credentials")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load merchant")
	}
	if bcrypt.CompareHashAndPassword([]byte(m.SecretHash), []byte(secret)) != nil {
		return nil, domainerrors.New(domainerrors.CodeUnauthorized, "invalid merchant credentials")
	}
	return m, nil
}
