// Package merchant manages the merchant registry: registration, API
// credentials and the settlement address payouts are sent to.
package merchant

import (
	"strings"
	"time"

	"github.com/google/uuid"

	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/strkey"
)

// Merchant is a registered payout recipient. SecretHash is a bcrypt hash of
// the API secret; the plaintext is shown once at registration.
type Merchant struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	SettlementAddress string    `json:"settlement_address"`
	SecretHash        string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewMerchant validates and builds a merchant record.
func NewMerchant(name, settlementAddress, secretHash string, now time.Time) (*Merchant, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 128 {
		return nil, domainerrors.New(domainerrors.CodeValidation, "merchant name must be 1-128 chars")
	}
	if !strkey.IsValid(settlementAddress) {
		return nil, domainerrors.New(domainerrors.CodeValidation, "settlement_address must be a valid account address")
	}
	return &Merchant{
		ID:                uuid.New(),
		Name:              name,
		SettlementAddress: settlementAddress,
		SecretHash:        secretHash,
		CreatedAt:         now,
	}, nil
}
