package epoch

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gns/internal/platform/metrics"
	"gns/internal/storage"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/merkle"
	"gns/pkg/platform/audit"
)

// Store is the persistence surface the aggregator needs. InsertEpoch must
// enforce uniqueness on (identity, sequence) so concurrent instances sealing
// the same period cannot double-publish; the loser gets
// storage.ErrChainConflict.
type Store interface {
	// ActiveIdentities returns the identities whose newest attestation is
	// not yet covered by a sealed epoch.
	ActiveIdentities(ctx context.Context) ([]string, error)
	LatestEpoch(ctx context.Context, publicKey string) (*Epoch, error)
	AttestationHashes(ctx context.Context, publicKey string, after, until time.Time) ([]string, error)
	InsertEpoch(ctx context.Context, e *Epoch) error
	ListEpochs(ctx context.Context, publicKey string, limit int) ([]Epoch, error)
	GetEpoch(ctx context.Context, id uuid.UUID) (*Epoch, error)
}

// AuditPublisher emits audit events without blocking the sealing path.
type AuditPublisher interface {
	Emit(e audit.Event)
}

// sealParallelism bounds concurrent per-identity sealing.
const sealParallelism = 8

// Aggregator seals epochs on an interval and answers epoch queries.
type Aggregator struct {
	store    Store
	interval time.Duration
	signKey  ed25519.PrivateKey
	logger   *slog.Logger
	audit    AuditPublisher
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithAuditPublisher wires the audit pipeline.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(a *Aggregator) { a.audit = p }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator builds an epoch aggregator signing with the given key.
func NewAggregator(store Store, interval time.Duration, signKey ed25519.PrivateKey, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    store,
		interval: interval,
		signKey:  signKey,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run seals epochs on the configured interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.ErrorContext(ctx, "epoch sealing pass failed", "error", err)
			}
		}
	}
}

// RunOnce seals one epoch per identity with activity since its last epoch.
// Selection keys on unsealed activity rather than a sliding window, so a
// backlog left by downtime or a failed pass is still sealed on the next run.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	until := a.now().UTC()
	identities, err := a.store.ActiveIdentities(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sealParallelism)
	for _, pk := range identities {
		pk := pk
		g.Go(func() error {
			if err := a.sealIdentity(gctx, pk, until); err != nil {
				a.logger.ErrorContext(gctx, "seal epoch", "error", err, "identity", pk)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *Aggregator) sealIdentity(ctx context.Context, publicKey string, until time.Time) error {
	prev, err := a.store.LatestEpoch(ctx, publicKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	start := time.Time{}
	prevHash := merkle.EmptyRoot
	sequence := 1
	if prev != nil {
		start = prev.PeriodEnd
		prevHash = prev.Hash
		sequence = prev.Sequence + 1
	}

	hashes, err := a.store.AttestationHashes(ctx, publicKey, start, until)
	if err != nil {
		return err
	}
	if len(hashes) == 0 {
		// Sparse chain: quiet periods produce no epoch.
		return nil
	}

	e := &Epoch{
		ID:               uuid.New(),
		Identity:         publicKey,
		Sequence:         sequence,
		PeriodStart:      start,
		PeriodEnd:        until,
		MerkleRoot:       merkle.Root(hashes),
		PrevEpochHash:    prevHash,
		AttestationCount: len(hashes),
		CreatedAt:        a.now(),
	}
	e.Hash = SealHash(e.Identity, e.Sequence, e.MerkleRoot, e.PrevEpochHash, e.PeriodEnd)
	e.Signature = hex.EncodeToString(ed25519.Sign(a.signKey, []byte(e.Hash)))

	if err := a.store.InsertEpoch(ctx, e); err != nil {
		if errors.Is(err, storage.ErrChainConflict) {
			// Another instance sealed this sequence first.
			return nil
		}
		return err
	}

	if a.metrics != nil {
		a.metrics.EpochsPublished.Inc()
	}
	if a.audit != nil {
		a.audit.Emit(audit.Event{
			Identity: publicKey,
			Subject:  e.Hash,
			Action:   audit.EventEpochPublished,
			Decision: "allowed",
		})
	}
	a.logger.InfoContext(ctx, "epoch sealed",
		"identity", publicKey, "sequence", e.Sequence, "attestations", e.AttestationCount, "merkle_root", e.MerkleRoot)
	return nil
}

// PublicKey returns the aggregator's epoch-signing verification key, hex.
func (a *Aggregator) PublicKey() string {
	return hex.EncodeToString(a.signKey.Public().(ed25519.PublicKey))
}

// List returns the newest epochs for an identity.
func (a *Aggregator) List(ctx context.Context, publicKey string, limit int) ([]Epoch, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	epochs, err := a.store.ListEpochs(ctx, publicKey, limit)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list epochs")
	}
	return epochs, nil
}

// InclusionProof is a verifiable path from an attestation hash to a sealed
// epoch's Merkle root.
type InclusionProof struct {
	EpochID    uuid.UUID    `json:"epoch_id"`
	MerkleRoot string       `json:"merkle_root"`
	Proof      merkle.Proof `json:"proof"`
}

// Prove builds an inclusion proof for an attestation hash within an epoch.
func (a *Aggregator) Prove(ctx context.Context, epochID uuid.UUID, attestationHash string) (*InclusionProof, error) {
	e, err := a.store.GetEpoch(ctx, epochID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "epoch not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load epoch")
	}

	hashes, err := a.store.AttestationHashes(ctx, e.Identity, e.PeriodStart, e.PeriodEnd)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load epoch leaves")
	}
	index := -1
	for i, h := range hashes {
		if h == attestationHash {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, domainerrors.New(domainerrors.CodeNotFound, "attestation is not part of this epoch")
	}

	proof, ok := merkle.Prove(hashes, index)
	if !ok {
		return nil, domainerrors.New(domainerrors.CodeInternal, "proof construction failed")
	}
	return &InclusionProof{EpochID: e.ID, MerkleRoot: e.MerkleRoot, Proof: proof}, nil
}
