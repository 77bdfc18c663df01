// Package geoauth implements location-bound payment authorization sessions:
// a merchant opens a session, the payer proves recent presence inside the
// allowed area, and a signed envelope authorizes exactly one use.
package geoauth

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusUsed       Status = "used"
	StatusExpired    Status = "expired"
)

// Session is one authorization attempt. pending -> authorized -> used, with
// pending and authorized sessions expiring on sweep.
type Session struct {
	AuthID     uuid.UUID `json:"auth_id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	// Identity is the payer key, recorded when the session is authorized.
	// A merchant opening a session does not know who will pay.
	Identity string `json:"identity,omitempty"`
	// AllowedCells are the geocells (any resolution) within which presence
	// authorizes the session. Empty means any location qualifies.
	AllowedCells []string        `json:"allowed_cells,omitempty"`
	PaymentHash  string          `json:"payment_hash"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	// AuthorizedCell is the attested geocell that satisfied the session.
	AuthorizedCell string     `json:"authorized_cell,omitempty"`
	Envelope       string     `json:"envelope,omitempty"`
	AuthorizedAt   *time.Time `json:"authorized_at,omitempty"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
}
