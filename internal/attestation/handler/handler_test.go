package handler

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"gns/internal/attestation"
	"gns/internal/attestation/ratelimit"
	"gns/internal/platform/logger"
	storagemem "gns/internal/storage/memory"
	"gns/pkg/geocell"
	"gns/pkg/testutil"
)

func newRouter(t *testing.T) (chi.Router, string, ed25519.PrivateKey) {
	t.Helper()
	ledger := storagemem.NewLedger()
	svc := attestation.NewService(ledger, ratelimit.NewMemoryLimiter(0), attestation.NewGuard(1000, 5))
	log := logger.New()

	r := chi.NewRouter()
	New(svc, log).Register(r)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return r, hex.EncodeToString(pub), priv
}

func signedBody(pk string, priv ed25519.PrivateKey, cell string, ts time.Time, prevHash string) map[string]any {
	sig := ed25519.Sign(priv, attestation.SigningBytes(prevHash, cell, ts))
	return map[string]any{
		"identity":  pk,
		"geocell":   cell,
		"timestamp": ts.Format(time.RFC3339Nano),
		"prev_hash": prevHash,
		"signature": hex.EncodeToString(sig),
	}
}

func TestAppendAndList(t *testing.T) {
	router, pk, priv := newRouter(t)
	cell, err := geocell.FromLatLng(52.52, 13.405, 8)
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Now().UTC().Add(-time.Hour)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/attestations",
		signedBody(pk, priv, cell.String(), ts, "")))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	testutil.AssertJSONHasKey(t, rr, "hash")
	testutil.AssertJSONHasKey(t, rr, "trust_score")

	result := testutil.UnmarshalResponse[attestation.AppendResult](t, rr)
	if result.Hash != attestation.ChainHash(cell.String(), ts, "") {
		t.Fatalf("unexpected chain hash %s", result.Hash)
	}

	listRR := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet,
		fmt.Sprintf("/v1/identities/%s/attestations?limit=10", pk)))
	testutil.AssertStatusOK(t, listRR)
	listed := testutil.UnmarshalResponse[struct {
		Attestations []attestation.Attestation `json:"attestations"`
	}](t, listRR)
	if len(listed.Attestations) != 1 {
		t.Fatalf("expected 1 attestation, got %d", len(listed.Attestations))
	}
}

func TestAppendRejectsStaleTip(t *testing.T) {
	router, pk, priv := newRouter(t)
	cell, err := geocell.FromLatLng(52.52, 13.405, 8)
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Now().UTC().Add(-time.Hour)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/attestations",
		signedBody(pk, priv, cell.String(), ts, "")))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	// Same genesis prev hash again: the tip has moved on.
	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/attestations",
		signedBody(pk, priv, cell.String(), ts.Add(time.Minute), "")))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
}

func TestAppendRejectsMalformedBody(t *testing.T) {
	router, _, _ := newRouter(t)
	rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/v1/attestations", "{not json"))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestListValidatesPublicKey(t *testing.T) {
	router, _, _ := newRouter(t)
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/identities/zzz/attestations"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
}
