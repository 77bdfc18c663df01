// Package audit defines append-only audit events emitted from domain logic.
// Events stay transport-agnostic so stores and sinks can fan out.
package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose. Categories
// drive retention and downstream routing.
type EventCategory string

const (
	// CategoryFraud covers velocity violations and other abuse signals.
	// These feed alerting and long-retention forensic storage.
	CategoryFraud EventCategory = "fraud"

	// CategoryLedger covers chain and epoch lifecycle events.
	CategoryLedger EventCategory = "ledger"

	// CategoryPayments covers intent, session, and settlement lifecycle.
	CategoryPayments EventCategory = "payments"

	// CategoryOperations covers routine events useful for debugging, subject
	// to sampling and short retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Identity is the public key the event concerns, when applicable.
	Identity string
	Subject  string
	Action   AuditEvent
	Decision string
	Reason   string
	// PaymentID correlates payments-category events.
	PaymentID string
	RequestID string
}

// AuditEvent names every action the core emits.
type AuditEvent string

const (
	// Ledger events
	EventAttestationAccepted AuditEvent = "attestation_accepted"
	EventAttestationRejected AuditEvent = "attestation_rejected"
	EventEpochPublished      AuditEvent = "epoch_published"
	EventHandleClaimed       AuditEvent = "handle_claimed"

	// Fraud events
	EventVelocityViolation AuditEvent = "velocity_violation"
	EventClockRegression   AuditEvent = "clock_regression"

	// Payment events
	EventIntentCreated      AuditEvent = "payment_intent_created"
	EventIntentDelivered    AuditEvent = "payment_intent_delivered"
	EventIntentAcknowledged AuditEvent = "payment_intent_acknowledged"
	EventIntentExpired      AuditEvent = "payment_intent_expired"
	EventSessionCreated     AuditEvent = "geoauth_session_created"
	EventSessionAuthorized  AuditEvent = "geoauth_session_authorized"
	EventSessionUsed        AuditEvent = "geoauth_session_used"
	EventSessionExpired     AuditEvent = "geoauth_session_expired"
	EventBatchExecuted      AuditEvent = "settlement_batch_executed"
	EventBatchFailed        AuditEvent = "settlement_batch_failed"

	// Operations events
	EventMerchantCreated AuditEvent = "merchant_created"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAttestationAccepted: CategoryLedger,
	EventAttestationRejected: CategoryLedger,
	EventEpochPublished:      CategoryLedger,
	EventHandleClaimed:       CategoryLedger,

	EventVelocityViolation: CategoryFraud,
	EventClockRegression:   CategoryFraud,

	EventIntentCreated:      CategoryPayments,
	EventIntentDelivered:    CategoryPayments,
	EventIntentAcknowledged: CategoryPayments,
	EventIntentExpired:      CategoryPayments,
	EventSessionCreated:     CategoryPayments,
	EventSessionAuthorized:  CategoryPayments,
	EventSessionUsed:        CategoryPayments,
	EventSessionExpired:     CategoryPayments,
	EventBatchExecuted:      CategoryPayments,
	EventBatchFailed:        CategoryPayments,

	EventMerchantCreated: CategoryOperations,
}

// Category derives the category from the action name. Unknown actions map to
// operations so nothing is dropped.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}

// Store persists audit events append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
}
