package payment_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gns/internal/payment"
	paymentmem "gns/internal/payment/store/memory"
	domainerrors "gns/pkg/domain-errors"
)

// grantAll is a trust checker that lets every sender through; individual
// tests swap in denyTrust to exercise the gate.
type grantAll struct{}

func (grantAll) RequirePaymentTrust(context.Context, string) error { return nil }

type denyTrust struct{}

func (denyTrust) RequirePaymentTrust(context.Context, string) error {
	return domainerrors.New(domainerrors.CodeForbidden, "payment requirements not met: trust score below minimum")
}

type PaymentServiceSuite struct {
	suite.Suite
	store   *paymentmem.Store
	service *payment.Service
	ctx     context.Context
	clock   time.Time

	sender        string
	recipient     string
	recipientPriv ed25519.PrivateKey
}

func TestPaymentServiceSuite(t *testing.T) {
	suite.Run(t, new(PaymentServiceSuite))
}

func (s *PaymentServiceSuite) SetupTest() {
	s.store = paymentmem.New()
	s.ctx = context.Background()
	s.clock = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.service = payment.NewService(s.store, grantAll{}, 5*time.Minute,
		payment.WithClock(func() time.Time { return s.clock }))

	s.sender = newHexKey(s.T())
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.recipient = hex.EncodeToString(pub)
	s.recipientPriv = priv
}

func newHexKey(t *testing.T) string {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return hex.EncodeToString(pub)
}

// ackRequest builds a verdict signed by the recipient.
func (s *PaymentServiceSuite) ackRequest(paymentID, verdict, reason string) payment.AckRequest {
	sig := ed25519.Sign(s.recipientPriv, payment.AckSigningPayload(paymentID, verdict))
	return payment.AckRequest{
		Responder: s.recipient,
		Verdict:   verdict,
		Reason:    reason,
		Signature: hex.EncodeToString(sig),
	}
}

func (s *PaymentServiceSuite) createRequest(paymentID string) payment.CreateRequest {
	return payment.CreateRequest{
		PaymentID: paymentID,
		Envelope: payment.Envelope{
			Version:          1,
			From:             s.sender,
			To:               s.recipient,
			EncryptedPayload: "aGVsbG8gcGF5bWVudA",
			EphemeralKey:     newHexKey(s.T()),
			Timestamp:        s.clock,
		},
	}
}

func (s *PaymentServiceSuite) TestCreate() {
	s.Run("creates a pending intent with default ttl", func() {
		intent, err := s.service.Create(s.ctx, s.createRequest("pay-1"))
		s.Require().NoError(err)
		s.Equal(payment.StatusPending, intent.Status)
		s.Equal(s.clock.Add(5*time.Minute), intent.ExpiresAt)
	})

	s.Run("payment id is idempotency key", func() {
		first, err := s.service.Create(s.ctx, s.createRequest("pay-dup"))
		s.Require().NoError(err)

		retry := s.createRequest("pay-dup")
		retry.Envelope.EncryptedPayload = "different-ciphertext"
		_, err = s.service.Create(s.ctx, retry)
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))

		stored, err := s.store.GetIntent(s.ctx, "pay-dup")
		s.Require().NoError(err)
		s.Equal(first.Envelope.EncryptedPayload, stored.Envelope.EncryptedPayload)
	})

	s.Run("requires payload and well-formed parties", func() {
		req := s.createRequest("pay-bad")
		req.Envelope.EncryptedPayload = ""
		_, err := s.service.Create(s.ctx, req)
		s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))

		req = s.createRequest("pay-bad")
		req.Envelope.From = "nope"
		_, err = s.service.Create(s.ctx, req)
		s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
	})

	s.Run("sender below trust gate is refused", func() {
		gated := payment.NewService(s.store, denyTrust{}, 5*time.Minute,
			payment.WithClock(func() time.Time { return s.clock }))
		_, err := gated.Create(s.ctx, s.createRequest("pay-untrusted"))
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
	})
}

func (s *PaymentServiceSuite) TestPollDeliversExactlyOnce() {
	_, err := s.service.Create(s.ctx, s.createRequest("pay-poll"))
	s.Require().NoError(err)

	intents, err := s.service.Poll(s.ctx, s.recipient, time.Time{}, 10)
	s.Require().NoError(err)
	s.Require().Len(intents, 1)
	s.Equal(payment.StatusDelivered, intents[0].Status)
	s.Require().NotNil(intents[0].DeliveredAt)
	firstDelivery := *intents[0].DeliveredAt

	// A re-poll returns the intent but must not restamp delivery.
	s.clock = s.clock.Add(time.Minute)
	again, err := s.service.Poll(s.ctx, s.recipient, time.Time{}, 10)
	s.Require().NoError(err)
	s.Require().Len(again, 1)
	s.Equal(payment.StatusDelivered, again[0].Status)
	s.Require().NotNil(again[0].DeliveredAt)
	s.Equal(firstDelivery, *again[0].DeliveredAt)
}

func (s *PaymentServiceSuite) TestPollScopedToRecipient() {
	_, err := s.service.Create(s.ctx, s.createRequest("pay-mine"))
	s.Require().NoError(err)

	other := newHexKey(s.T())
	intents, err := s.service.Poll(s.ctx, other, time.Time{}, 10)
	s.Require().NoError(err)
	s.Empty(intents)
}

func (s *PaymentServiceSuite) TestAcknowledge() {
	s.Run("accept from delivered", func() {
		_, err := s.service.Create(s.ctx, s.createRequest("pay-accept"))
		s.Require().NoError(err)
		_, err = s.service.Poll(s.ctx, s.recipient, time.Time{}, 10)
		s.Require().NoError(err)

		intent, err := s.service.Acknowledge(s.ctx, "pay-accept", s.ackRequest("pay-accept", payment.VerdictAccepted, ""))
		s.Require().NoError(err)
		s.Equal(payment.StatusAccepted, intent.Status)

		ack, ok := s.store.AckFor("pay-accept")
		s.Require().True(ok)
		s.Equal(payment.VerdictAccepted, ack.Verdict)
		s.Equal(s.recipient, ack.Responder)
	})

	s.Run("reject straight from pending", func() {
		_, err := s.service.Create(s.ctx, s.createRequest("pay-reject"))
		s.Require().NoError(err)

		intent, err := s.service.Acknowledge(s.ctx, "pay-reject",
			s.ackRequest("pay-reject", payment.VerdictRejected, "unknown counterparty"))
		s.Require().NoError(err)
		s.Equal(payment.StatusRejected, intent.Status)
	})

	s.Run("unknown payment id", func() {
		_, err := s.service.Acknowledge(s.ctx, "no-such-payment",
			s.ackRequest("no-such-payment", payment.VerdictAccepted, ""))
		s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})

	s.Run("invalid verdict", func() {
		req := s.ackRequest("whatever", payment.VerdictAccepted, "")
		req.Verdict = "maybe"
		_, err := s.service.Acknowledge(s.ctx, "whatever", req)
		s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
	})

	s.Run("only the recipient may acknowledge", func() {
		_, err := s.service.Create(s.ctx, s.createRequest("pay-foreign"))
		s.Require().NoError(err)

		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		s.Require().NoError(err)
		sig := ed25519.Sign(priv, payment.AckSigningPayload("pay-foreign", payment.VerdictAccepted))
		_, err = s.service.Acknowledge(s.ctx, "pay-foreign", payment.AckRequest{
			Responder: hex.EncodeToString(pub),
			Verdict:   payment.VerdictAccepted,
			Signature: hex.EncodeToString(sig),
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))

		stored, err := s.store.GetIntent(s.ctx, "pay-foreign")
		s.Require().NoError(err)
		s.Equal(payment.StatusPending, stored.Status)
	})

	s.Run("forged responder signature is refused", func() {
		_, err := s.service.Create(s.ctx, s.createRequest("pay-forged"))
		s.Require().NoError(err)

		req := s.ackRequest("pay-forged", payment.VerdictAccepted, "")
		req.Signature = hex.EncodeToString(make([]byte, ed25519.SignatureSize))
		_, err = s.service.Acknowledge(s.ctx, "pay-forged", req)
		s.True(domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
	})

	s.Run("second verdict is a conflict", func() {
		_, err := s.service.Create(s.ctx, s.createRequest("pay-twice"))
		s.Require().NoError(err)
		_, err = s.service.Acknowledge(s.ctx, "pay-twice", s.ackRequest("pay-twice", payment.VerdictAccepted, ""))
		s.Require().NoError(err)

		_, err = s.service.Acknowledge(s.ctx, "pay-twice", s.ackRequest("pay-twice", payment.VerdictRejected, ""))
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})

	s.Run("acknowledging past expiry", func() {
		_, err := s.service.Create(s.ctx, s.createRequest("pay-late"))
		s.Require().NoError(err)

		s.clock = s.clock.Add(10 * time.Minute)
		_, err = s.service.Acknowledge(s.ctx, "pay-late", s.ackRequest("pay-late", payment.VerdictAccepted, ""))
		s.True(domainerrors.HasCode(err, domainerrors.CodeExpired))
	})
}

func (s *PaymentServiceSuite) TestExpirySweep() {
	_, err := s.service.Create(s.ctx, s.createRequest("pay-sweep"))
	s.Require().NoError(err)

	s.clock = s.clock.Add(10 * time.Minute)
	n, err := s.store.ExpireOverdue(s.ctx, s.clock)
	s.Require().NoError(err)
	s.Equal(1, n)

	stored, err := s.store.GetIntent(s.ctx, "pay-sweep")
	s.Require().NoError(err)
	s.Equal(payment.StatusExpired, stored.Status)

	// An expired intent no longer shows up for the recipient.
	intents, err := s.service.Poll(s.ctx, s.recipient, time.Time{}, 10)
	s.Require().NoError(err)
	s.Empty(intents)
}

func (s *PaymentServiceSuite) TestExpirySweepCoversDeliveredIntents() {
	_, err := s.service.Create(s.ctx, s.createRequest("pay-limbo"))
	s.Require().NoError(err)
	_, err = s.service.Poll(s.ctx, s.recipient, time.Time{}, 10)
	s.Require().NoError(err)

	// The recipient never answers; after expiry the delivered intent must
	// still reach the expired terminal instead of polling forever.
	s.clock = s.clock.Add(10 * time.Minute)
	n, err := s.store.ExpireOverdue(s.ctx, s.clock)
	s.Require().NoError(err)
	s.Equal(1, n)

	stored, err := s.store.GetIntent(s.ctx, "pay-limbo")
	s.Require().NoError(err)
	s.Equal(payment.StatusExpired, stored.Status)

	intents, err := s.service.Poll(s.ctx, s.recipient, time.Time{}, 10)
	s.Require().NoError(err)
	s.Empty(intents)

	_, err = s.service.Acknowledge(s.ctx, "pay-limbo", s.ackRequest("pay-limbo", payment.VerdictAccepted, ""))
	s.True(domainerrors.HasCode(err, domainerrors.CodeExpired))
}
