package attestation_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gns/internal/attestation"
	"gns/internal/attestation/ratelimit"
	storagemem "gns/internal/storage/memory"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/geocell"
)

type AttestationServiceSuite struct {
	suite.Suite
	ledger  *storagemem.Ledger
	service *attestation.Service
	ctx     context.Context
	clock   time.Time

	publicKey string
	priv      ed25519.PrivateKey
}

func TestAttestationServiceSuite(t *testing.T) {
	suite.Run(t, new(AttestationServiceSuite))
}

func (s *AttestationServiceSuite) SetupTest() {
	s.ledger = storagemem.NewLedger()
	s.clock = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.ctx = context.Background()

	limiter := ratelimit.NewMemoryLimiter(0)
	s.service = attestation.NewService(s.ledger, limiter, attestation.NewGuard(1000, 5),
		attestation.WithClock(func() time.Time { return s.clock }))

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.publicKey = hex.EncodeToString(pub)
	s.priv = priv
}

func (s *AttestationServiceSuite) cell(lat, lng float64) string {
	cell, err := geocell.FromLatLng(lat, lng, 8)
	s.Require().NoError(err)
	return cell.String()
}

func (s *AttestationServiceSuite) signedRequest(cell string, ts time.Time, prevHash string) attestation.AppendRequest {
	sig := ed25519.Sign(s.priv, attestation.SigningBytes(prevHash, cell, ts))
	return attestation.AppendRequest{
		Identity:  s.publicKey,
		Geocell:   cell,
		Timestamp: ts,
		PrevHash:  prevHash,
		Signature: hex.EncodeToString(sig),
	}
}

func (s *AttestationServiceSuite) append(cell string, ts time.Time, prevHash string) (*attestation.AppendResult, error) {
	s.clock = ts
	return s.service.Append(s.ctx, s.signedRequest(cell, ts, prevHash))
}

func (s *AttestationServiceSuite) TestFirstAttestation() {
	cell := s.cell(52.52, 13.405)
	ts := s.clock

	result, err := s.append(cell, ts, "")
	s.Require().NoError(err)
	s.Equal(attestation.ChainHash(cell, ts, ""), result.Hash)
	s.Greater(result.TrustScore, 0.0)

	chain := s.ledger.Chain(s.publicKey)
	s.Require().Len(chain, 1)
	s.Equal("", chain[0].PrevHash)

	id, err := s.ledger.GetIdentity(s.ctx, s.publicKey)
	s.Require().NoError(err)
	s.Equal(1, id.AttestationCount)
	s.Equal(result.Hash, id.ChainTip)
}

func (s *AttestationServiceSuite) TestChainExtendsAndStaysLinked() {
	prev := ""
	ts := s.clock
	for i := 0; i < 5; i++ {
		cell := s.cell(52.52+float64(i)*0.01, 13.405)
		result, err := s.append(cell, ts, prev)
		s.Require().NoError(err)
		prev = result.Hash
		ts = ts.Add(10 * time.Minute)
	}

	chain := s.ledger.Chain(s.publicKey)
	s.Require().Len(chain, 5)
	for i := 1; i < len(chain); i++ {
		s.Equal(chain[i-1].Hash, chain[i].PrevHash, "link %d", i)
		s.Equal(attestation.ChainHash(chain[i].Geocell, chain[i].Timestamp, chain[i].PrevHash), chain[i].Hash)
	}

	id, err := s.ledger.GetIdentity(s.ctx, s.publicKey)
	s.Require().NoError(err)
	s.Equal(5, id.AttestationCount)
	s.Equal(5, id.UniqueCells)
}

func (s *AttestationServiceSuite) TestStalePrevHashRejected() {
	cell := s.cell(52.52, 13.405)
	first, err := s.append(cell, s.clock, "")
	s.Require().NoError(err)

	// Fork attempt: replays the genesis prev hash instead of the tip.
	_, err = s.append(cell, s.clock.Add(time.Minute), "")
	s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))

	chain := s.ledger.Chain(s.publicKey)
	s.Require().Len(chain, 1)
	s.Equal(first.Hash, chain[0].Hash)
}

func (s *AttestationServiceSuite) TestInvalidSignatureRejected() {
	cell := s.cell(52.52, 13.405)
	req := s.signedRequest(cell, s.clock, "")
	req.Signature = hex.EncodeToString(make([]byte, ed25519.SignatureSize))

	_, err := s.service.Append(s.ctx, req)
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
	s.Empty(s.ledger.Chain(s.publicKey))
}

func (s *AttestationServiceSuite) TestSignatureOverWrongPayloadRejected() {
	cell := s.cell(52.52, 13.405)
	other := s.cell(48.86, 2.35)
	req := s.signedRequest(other, s.clock, "")
	req.Geocell = cell // payload no longer matches the signature

	_, err := s.service.Append(s.ctx, req)
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
}

func (s *AttestationServiceSuite) TestImpossibleVelocityRejected() {
	berlin := s.cell(52.52, 13.405)
	far := s.cell(48.0, 13.405) // ~500 km away

	first, err := s.append(berlin, s.clock, "")
	s.Require().NoError(err)

	idBefore, err := s.ledger.GetIdentity(s.ctx, s.publicKey)
	s.Require().NoError(err)

	_, err = s.append(far, s.clock.Add(time.Minute), first.Hash)
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))

	checks := s.ledger.VelocityChecks(s.publicKey)
	s.Require().Len(checks, 1)
	s.False(checks[0].Valid)
	s.Equal(attestation.FraudVelocity, checks[0].Reason)

	frauds := s.ledger.FraudEvents(s.publicKey)
	s.Require().Len(frauds, 1)
	s.Equal(attestation.SeverityHigh, frauds[0].Severity)

	// The rejected breadcrumb must not advance chain or trust.
	s.Len(s.ledger.Chain(s.publicKey), 1)
	idAfter, err := s.ledger.GetIdentity(s.ctx, s.publicKey)
	s.Require().NoError(err)
	s.Equal(idBefore.TrustScore, idAfter.TrustScore)
	s.Equal(idBefore.AttestationCount, idAfter.AttestationCount)
}

func (s *AttestationServiceSuite) TestClockRegressionRejected() {
	berlin := s.cell(52.52, 13.405)
	first, err := s.append(berlin, s.clock, "")
	s.Require().NoError(err)

	_, err = s.append(berlin, s.clock.Add(-time.Minute), first.Hash)
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))

	frauds := s.ledger.FraudEvents(s.publicKey)
	s.Require().Len(frauds, 1)
	s.Equal(attestation.FraudClockRegression, frauds[0].Type)
}

func (s *AttestationServiceSuite) TestValidMovementRecordsPassingCheck() {
	berlin := s.cell(52.52, 13.405)
	nearby := s.cell(53.4, 13.405)

	first, err := s.append(berlin, s.clock, "")
	s.Require().NoError(err)
	_, err = s.append(nearby, s.clock.Add(time.Hour), first.Hash)
	s.Require().NoError(err)

	checks := s.ledger.VelocityChecks(s.publicKey)
	s.Require().Len(checks, 1)
	s.True(checks[0].Valid)
	s.Empty(s.ledger.FraudEvents(s.publicKey))
}

func (s *AttestationServiceSuite) TestRateLimit() {
	clock := s.clock
	limiter := ratelimit.NewMemoryLimiter(30 * time.Second).WithClock(func() time.Time { return clock })
	service := attestation.NewService(s.ledger, limiter, attestation.NewGuard(1000, 5),
		attestation.WithClock(func() time.Time { return clock }))

	berlin := s.cell(52.52, 13.405)
	first, err := service.Append(s.ctx, s.signedRequest(berlin, clock, ""))
	s.Require().NoError(err)

	_, err = service.Append(s.ctx, s.signedRequest(berlin, clock.Add(10*time.Second), first.Hash))
	s.True(domainerrors.HasCode(err, domainerrors.CodeRateLimited))

	clock = clock.Add(time.Minute)
	_, err = service.Append(s.ctx, s.signedRequest(berlin, clock, first.Hash))
	s.NoError(err)
}

func (s *AttestationServiceSuite) TestList() {
	prev := ""
	ts := s.clock
	for i := 0; i < 3; i++ {
		result, err := s.append(s.cell(52.52, 13.405+float64(i)*0.01), ts, prev)
		s.Require().NoError(err)
		prev = result.Hash
		ts = ts.Add(time.Hour)
	}

	s.Run("newest first", func() {
		atts, err := s.service.List(s.ctx, s.publicKey, 2)
		s.Require().NoError(err)
		s.Require().Len(atts, 2)
		s.Equal(prev, atts[0].Hash)
	})

	s.Run("limit clamped to default", func() {
		atts, err := s.service.List(s.ctx, s.publicKey, -4)
		s.Require().NoError(err)
		s.Len(atts, 3)
	})
}

func TestChainHashDeterminism(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 0, 0, 123456789, time.UTC)
	h1 := attestation.ChainHash("00080000c800012c", ts, "")
	h2 := attestation.ChainHash("00080000c800012c", ts.In(time.FixedZone("X", 3600)), "")
	if h1 != h2 {
		t.Fatalf("hash must be timezone independent: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
	if h1 == attestation.ChainHash("00080000c800012c", ts, h1) {
		t.Fatal("prev hash must alter the chain hash")
	}
}
