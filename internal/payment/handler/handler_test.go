package handler

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"gns/internal/payment"
	paymentmem "gns/internal/payment/store/memory"
	"gns/internal/platform/logger"
	"gns/pkg/testutil"
)

type openGate struct{}

func (openGate) RequirePaymentTrust(context.Context, string) error { return nil }

func newRouter(t *testing.T) chi.Router {
	t.Helper()
	svc := payment.NewService(paymentmem.New(), openGate{}, time.Hour)
	r := chi.NewRouter()
	New(svc, logger.New()).Register(r)
	return r
}

func newHexKey(t *testing.T) string {
	t.Helper()
	key, _ := newKeypair(t)
	return key
}

func newKeypair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return hex.EncodeToString(pub), priv
}

func ackBody(responder string, priv ed25519.PrivateKey, paymentID, verdict string) map[string]string {
	sig := ed25519.Sign(priv, payment.AckSigningPayload(paymentID, verdict))
	return map[string]string{
		"responder": responder,
		"verdict":   verdict,
		"signature": hex.EncodeToString(sig),
	}
}

func createBody(from, to string) map[string]any {
	return map[string]any{
		"payment_id": "pay-http-1",
		"envelope": map[string]any{
			"version":           1,
			"from":              from,
			"to":                to,
			"encrypted_payload": "b3BhcXVl",
			"ephemeral_key":     from,
			"timestamp":         time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

func TestIntentLifecycleOverHTTP(t *testing.T) {
	router := newRouter(t)
	from := newHexKey(t)
	to, toPriv := newKeypair(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/payments/intents", createBody(from, to)))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	testutil.AssertJSONContains(t, rr, "status", "pending")

	// Duplicate payment id.
	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/payments/intents", createBody(from, to)))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")

	// Poll delivers.
	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/payments/intents/pending?identity="+to))
	testutil.AssertStatusOK(t, rr)
	polled := testutil.UnmarshalResponse[struct {
		Intents []payment.Intent `json:"intents"`
	}](t, rr)
	if len(polled.Intents) != 1 || polled.Intents[0].Status != payment.StatusDelivered {
		t.Fatalf("expected one delivered intent, got %+v", polled.Intents)
	}

	// A stranger's verdict is refused before any transition.
	stranger, strangerPriv := newKeypair(t)
	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/payments/intents/pay-http-1/ack",
		ackBody(stranger, strangerPriv, "pay-http-1", "accepted")))
	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")

	// The recipient acknowledges.
	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/payments/intents/pay-http-1/ack",
		ackBody(to, toPriv, "pay-http-1", "accepted")))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "accepted")

	// A second verdict conflicts.
	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/payments/intents/pay-http-1/ack",
		ackBody(to, toPriv, "pay-http-1", "rejected")))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
}

func TestPollRequiresIdentity(t *testing.T) {
	router := newRouter(t)
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/payments/intents/pending"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
}

func TestPollRejectsBadSince(t *testing.T) {
	router := newRouter(t)
	to := newHexKey(t)
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet,
		"/v1/payments/intents/pending?identity="+to+"&since=yesterday"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
}

func TestAckUnknownPayment(t *testing.T) {
	router := newRouter(t)
	responder, priv := newKeypair(t)
	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/payments/intents/ghost/ack",
		ackBody(responder, priv, "ghost", "accepted")))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
}
