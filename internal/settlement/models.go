// Package settlement batches completed merchant settlements into payouts and
// executes them against the settlement network.
package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settlement statuses.
const (
	SettlementCompleted = "completed" // eligible for batching
	SettlementSettled   = "settled"   // paid out in a completed batch
)

// Settlement is one completed geoauth payment awaiting payout. A settlement
// belongs to at most one batch at a time; a failed batch releases its
// settlements for a later run.
type Settlement struct {
	ID          uuid.UUID `json:"id"`
	MerchantID  uuid.UUID `json:"merchant_id"`
	Identity    string    `json:"identity"`
	AuthID      uuid.UUID `json:"auth_id"`
	PaymentHash string    `json:"payment_hash"`
	// Geocell is the attested cell the authorization was bound to.
	Geocell string `json:"geocell"`
	// SourceAddress and DestinationAddress are the payer's and merchant's
	// settlement-network account addresses.
	SourceAddress      string          `json:"source_address"`
	DestinationAddress string          `json:"destination_address"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	// FeeAmount and FeePercent are stamped when the settlement is claimed
	// into a batch.
	FeeAmount  decimal.Decimal `json:"fee_amount"`
	FeePercent decimal.Decimal `json:"fee_percent"`
	Status     string          `json:"status"`
	BatchID    *uuid.UUID      `json:"batch_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`
}

// amountPlaces is the decimal precision carried on network amounts.
const amountPlaces = 7

// FeeFor prices the platform fee on one settlement amount.
func FeeFor(amount, feePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(feePercent).Div(decimal.NewFromInt(100)).Round(amountPlaces)
}

// Batch statuses.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Batch is one payout attempt covering a merchant's settlements in a single
// currency.
type Batch struct {
	ID         uuid.UUID `json:"id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	Currency   string    `json:"currency"`
	// PeriodStart and PeriodEnd span the creation times of the batched
	// settlements.
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	TransactionCount int        `json:"transaction_count"`
	TotalGross       decimal.Decimal `json:"total_gross"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	TotalNet         decimal.Decimal `json:"total_net"`
	Status           BatchStatus     `json:"status"`
	// NetworkTxRef is the settlement-network transaction hash on success.
	NetworkTxRef  string     `json:"network_tx_ref,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
}
