package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gns/internal/merchant"
	"gns/internal/platform/metrics"
	"gns/internal/storage"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/audit"
)

// Store is the persistence surface the batcher needs. OpenBatch must claim
// settlements exclusively (conditional on batch_id being unset) so two
// concurrent runs can never double-count a settlement.
type Store interface {
	RecordSettlement(ctx context.Context, s Settlement) error
	// OpenBatch writes the pending batch row and attaches every completed,
	// unclaimed settlement for the batch's merchant and currency to it in
	// one transaction, stamping each row's fee at feePercent. Claimed rows
	// always point at an existing batch row. With nothing to claim the
	// transaction rolls back and no batch row is written.
	OpenBatch(ctx context.Context, b *Batch, feePercent decimal.Decimal) ([]Settlement, error)
	// ReleaseBatch detaches a failed batch's settlements so a later run can
	// claim them again. The batch row keeps its status for inspection.
	ReleaseBatch(ctx context.Context, batchID uuid.UUID) error
	// MarkSettled finalizes a completed batch's settlements.
	MarkSettled(ctx context.Context, batchID uuid.UUID, at time.Time) error
	// FinishBatch persists the batch's terminal state: status, totals,
	// period window, tx ref or failure reason.
	FinishBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, batchID uuid.UUID) (*Batch, error)
}

// MerchantDirectory resolves payout addresses.
type MerchantDirectory interface {
	GetMerchant(ctx context.Context, id uuid.UUID) (*merchant.Merchant, error)
}

// AuditPublisher emits audit events without blocking the batch run.
type AuditPublisher interface {
	Emit(e audit.Event)
}

// Asset identifies the settlement asset on the network.
type Asset struct {
	Code   string
	Issuer string
}

// Service batches completed settlements and executes payouts.
type Service struct {
	store       Store
	merchants   MerchantDirectory
	network     Network
	asset       Asset
	feePercent  decimal.Decimal
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger
	audit       AuditPublisher
	metrics     *metrics.Metrics
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
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

// WithSleeper overrides the backoff sleep, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// NewService builds the settlement batcher. feePercent is the platform fee in
// percent of gross; payouts retry up to maxAttempts with exponential backoff
// from backoffBase.
func NewService(store Store, merchants MerchantDirectory, network Network, asset Asset,
	feePercent float64, maxAttempts int, backoffBase time.Duration, opts ...Option) *Service {
	s := &Service{
		store:       store,
		merchants:   merchants,
		network:     network,
		asset:       asset,
		feePercent:  decimal.NewFromFloat(feePercent),
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      slog.Default(),
		now:         time.Now,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run claims the merchant's completed settlements in one currency and
// executes the payout. A failed payout leaves a failed batch behind and
// releases its settlements; a rerun picks them up again.
func (s *Service) Run(ctx context.Context, merchantID uuid.UUID, currency string) (*Batch, error) {
	if currency == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "currency is required")
	}
	m, err := s.merchants.GetMerchant(ctx, merchantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "merchant not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load merchant")
	}

	now := s.now()
	batch := &Batch{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Currency:   currency,
		Status:     BatchPending,
		TotalGross: decimal.Zero,
		TotalFees:  decimal.Zero,
		TotalNet:   decimal.Zero,
		CreatedAt:  now,
	}

	claimed, err := s.store.OpenBatch(ctx, batch, s.feePercent)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "open batch")
	}
	if len(claimed) == 0 {
		// Nothing to pay out; no batch row is written.
		batch.Status = BatchCompleted
		return batch, nil
	}

	gross, fees := decimal.Zero, decimal.Zero
	periodStart, periodEnd := claimed[0].CreatedAt, claimed[0].CreatedAt
	for _, settled := range claimed {
		gross = gross.Add(settled.Amount)
		fees = fees.Add(settled.FeeAmount)
		if settled.CreatedAt.Before(periodStart) {
			periodStart = settled.CreatedAt
		}
		if settled.CreatedAt.After(periodEnd) {
			periodEnd = settled.CreatedAt
		}
	}
	batch.TransactionCount = len(claimed)
	batch.TotalGross = gross
	batch.TotalFees = fees
	batch.TotalNet = gross.Sub(fees)
	batch.PeriodStart = &periodStart
	batch.PeriodEnd = &periodEnd

	txRef, execErr := s.execute(ctx, PayoutRequest{
		Destination: m.SettlementAddress,
		Amount:      batch.TotalNet,
		AssetCode:   s.asset.Code,
		AssetIssuer: s.asset.Issuer,
		Memo:        batch.ID.String(),
	})
	at := s.now()
	batch.ExecutedAt = &at

	if execErr != nil {
		batch.Status = BatchFailed
		batch.FailureReason = execErr.Error()
		if err := s.store.FinishBatch(ctx, batch); err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "record batch failure")
		}
		if err := s.store.ReleaseBatch(ctx, batch.ID); err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "release settlements")
		}
		if s.metrics != nil {
			s.metrics.BatchesExecuted.WithLabelValues("failed").Inc()
		}
		if s.audit != nil {
			s.audit.Emit(audit.Event{
				Subject:  batch.ID.String(),
				Action:   audit.EventBatchFailed,
				Decision: "denied",
				Reason:   batch.FailureReason,
			})
		}
		s.logger.ErrorContext(ctx, "settlement batch failed",
			"batch_id", batch.ID, "merchant_id", merchantID, "reason", batch.FailureReason)
		return batch, nil
	}

	batch.Status = BatchCompleted
	batch.NetworkTxRef = txRef
	if err := s.store.FinishBatch(ctx, batch); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "finish batch")
	}
	if err := s.store.MarkSettled(ctx, batch.ID, at); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "mark settlements settled")
	}

	if s.metrics != nil {
		s.metrics.BatchesExecuted.WithLabelValues("completed").Inc()
		net, _ := batch.TotalNet.Float64()
		s.metrics.BatchSettlementValue.Add(net)
	}
	if s.audit != nil {
		s.audit.Emit(audit.Event{
			Subject:  batch.ID.String(),
			Action:   audit.EventBatchExecuted,
			Decision: "allowed",
		})
	}
	s.logger.InfoContext(ctx, "settlement batch executed",
		"batch_id", batch.ID, "merchant_id", merchantID, "currency", currency,
		"transactions", batch.TransactionCount, "net", batch.TotalNet.String(), "tx_ref", txRef)
	return batch, nil
}

// execute submits the payout with bounded exponential backoff.
func (s *Service) execute(ctx context.Context, req PayoutRequest) (string, error) {
	var lastErr error
	backoff := s.backoffBase
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		txRef, err := s.network.SubmitPayout(ctx, req)
		if err == nil {
			return txRef, nil
		}
		lastErr = err
		s.logger.Warn("payout attempt failed", "attempt", attempt, "error", err)
		if attempt == s.maxAttempts {
			break
		}
		if err := s.sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
	}
	return "", lastErr
}

// GetBatch returns a batch by id.
func (s *Service) GetBatch(ctx context.Context, batchID uuid.UUID) (*Batch, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "batch not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load batch")
	}
	return b, nil
}
