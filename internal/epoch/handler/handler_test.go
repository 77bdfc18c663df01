package handler

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gns/internal/attestation"
	"gns/internal/epoch"
	"gns/internal/platform/logger"
	storagemem "gns/internal/storage/memory"
	"gns/pkg/testutil"
)

// sealOne seeds a short chain and seals it, returning the router, identity
// and the sealed leaves.
func sealOne(t *testing.T) (chi.Router, string, []string) {
	t.Helper()
	ctx := context.Background()
	ledger := storagemem.NewLedger()
	now := time.Now().UTC()

	_, signKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	agg := epoch.NewAggregator(ledger, time.Hour, signKey,
		epoch.WithClock(func() time.Time { return now }))

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pk := hex.EncodeToString(pub)
	if _, err := ledger.EnsureIdentity(ctx, pk, now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	var hashes []string
	prev := ""
	for i := 0; i < 4; i++ {
		ts := now.Add(time.Duration(i-10) * time.Minute)
		cell := fmt.Sprintf("cell-%d", i)
		att := &attestation.Attestation{
			Identity: pk, Geocell: cell, Timestamp: ts,
			PrevHash: prev, Hash: attestation.ChainHash(cell, ts, prev), CreatedAt: ts,
		}
		if err := ledger.AppendAttestation(ctx, att, 5, true); err != nil {
			t.Fatal(err)
		}
		prev = att.Hash
		hashes = append(hashes, att.Hash)
	}
	if err := agg.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	New(agg, logger.New()).Register(r)
	return r, pk, hashes
}

func TestEpochRoutes(t *testing.T) {
	router, pk, hashes := sealOne(t)

	var epochID string
	testutil.Given(t, "an identity with one sealed epoch", func(t *testing.T) {
		testutil.When(t, "listing its epochs", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/identities/"+pk+"/epochs"))

			testutil.Then(t, "the epoch and the signing key are returned", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				testutil.AssertJSONHasKey(t, rr, "signing_key")
				listed := testutil.UnmarshalResponse[struct {
					Epochs []epoch.Epoch `json:"epochs"`
				}](t, rr)
				if len(listed.Epochs) != 1 {
					t.Fatalf("expected 1 epoch, got %d", len(listed.Epochs))
				}
				if listed.Epochs[0].AttestationCount != len(hashes) {
					t.Fatalf("expected %d leaves, got %d", len(hashes), listed.Epochs[0].AttestationCount)
				}
				epochID = listed.Epochs[0].ID.String()
			})
		})

		testutil.When(t, "requesting an inclusion proof for a sealed leaf", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet,
				"/v1/epochs/"+epochID+"/proof?hash="+hashes[2]))

			testutil.Then(t, "a proof against the epoch root is returned", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				proof := testutil.UnmarshalResponse[epoch.InclusionProof](t, rr)
				if !proof.Proof.Verify(proof.MerkleRoot) {
					t.Fatal("proof does not verify against the returned root")
				}
			})
		})

		testutil.When(t, "requesting a proof for a hash outside the epoch", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet,
				"/v1/epochs/"+epochID+"/proof?hash=feedface"))

			testutil.Then(t, "the proof is refused", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
			})
		})
	})
}

func TestProveValidation(t *testing.T) {
	router, _, _ := sealOne(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/epochs/not-a-uuid/proof?hash=aa"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet,
		"/v1/epochs/"+uuid.NewString()+"/proof"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
}
