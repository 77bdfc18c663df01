// Package payment implements the payment intent protocol: creation, polling
// with a delivery side effect, terminal acknowledgements and the expiry sweep.
package payment

import (
	"time"

	"github.com/google/uuid"
)

// Status is an intent's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusExpired
}

// Envelope is the end-to-end encrypted payment message. The service stores
// and relays it; the payload is opaque to everything server-side.
type Envelope struct {
	Version          int       `json:"version"`
	From             string    `json:"from"`
	To               string    `json:"to"`
	EncryptedPayload string    `json:"encrypted_payload"`
	EphemeralKey     string    `json:"ephemeral_key"`
	Signature        string    `json:"signature"`
	Timestamp        time.Time `json:"timestamp"`
}

// Intent is one in-flight payment offer, keyed by the sender-chosen payment
// id so retries are detectable.
type Intent struct {
	PaymentID   string     `json:"payment_id"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Envelope    Envelope   `json:"envelope"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// Ack verdicts.
const (
	VerdictAccepted = "accepted"
	VerdictRejected = "rejected"
)

// Ack is the recipient's terminal answer to an intent. At most one ack ever
// lands per payment id.
type Ack struct {
	ID        uuid.UUID `json:"id"`
	PaymentID string    `json:"payment_id"`
	// Responder is the acknowledging identity, always the intent recipient.
	Responder string    `json:"responder"`
	Verdict   string    `json:"verdict"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AckSigningPayload is the byte string a responder signs to acknowledge an
// intent.
func AckSigningPayload(paymentID, verdict string) []byte {
	return []byte("gns-payment-ack:" + paymentID + ":" + verdict)
}
