//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gns/internal/attestation"
	"gns/internal/epoch"
	"gns/internal/storage"
	"gns/internal/storage/postgres"
	"gns/pkg/merkle"
	"gns/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	ledger *postgres.Ledger
	ctx    context.Context
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T(), "../../../migrations")
	s.ledger = postgres.NewLedger(s.pg.DB)
	s.ctx = context.Background()
}

func (s *PostgresLedgerSuite) SetupTest() {
	for _, table := range []string{"epochs", "fraud_events", "velocity_checks", "attestations", "identities"} {
		_, err := s.pg.DB.ExecContext(s.ctx, "TRUNCATE TABLE "+table+" CASCADE")
		s.Require().NoError(err)
	}
}

func (s *PostgresLedgerSuite) newAttestation(pk, cell, prevHash string, ts time.Time) *attestation.Attestation {
	return &attestation.Attestation{
		ID:        uuid.New(),
		Identity:  pk,
		Geocell:   cell,
		Timestamp: ts,
		PrevHash:  prevHash,
		Hash:      attestation.ChainHash(cell, ts, prevHash),
		Signature: "sig",
		CreatedAt: ts,
	}
}

func (s *PostgresLedgerSuite) TestChainTipCAS() {
	pk := "pk-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := s.ledger.EnsureIdentity(s.ctx, pk, now)
	s.Require().NoError(err)

	first := s.newAttestation(pk, "cell-a", "", now)
	s.Require().NoError(s.ledger.AppendAttestation(s.ctx, first, 5, true))

	s.Run("stale prev hash loses", func() {
		stale := s.newAttestation(pk, "cell-b", "", now.Add(time.Minute))
		s.Require().ErrorIs(s.ledger.AppendAttestation(s.ctx, stale, 6, true), storage.ErrChainConflict)
	})

	s.Run("current tip advances", func() {
		next := s.newAttestation(pk, "cell-b", first.Hash, now.Add(time.Minute))
		s.Require().NoError(s.ledger.AppendAttestation(s.ctx, next, 6, true))

		id, err := s.ledger.GetIdentity(s.ctx, pk)
		s.Require().NoError(err)
		s.Equal(next.Hash, id.ChainTip)
		s.Equal(2, id.AttestationCount)
		s.Equal(2, id.UniqueCells)
		s.Equal(6.0, id.TrustScore)
	})

	s.Run("trust score never regresses", func() {
		latest, err := s.ledger.LatestAttestation(s.ctx, pk)
		s.Require().NoError(err)
		next := s.newAttestation(pk, "cell-b", latest.Hash, now.Add(2*time.Minute))
		s.Require().NoError(s.ledger.AppendAttestation(s.ctx, next, 3, false))

		id, err := s.ledger.GetIdentity(s.ctx, pk)
		s.Require().NoError(err)
		s.Equal(6.0, id.TrustScore)
		s.Equal(2, id.UniqueCells)
	})
}

func (s *PostgresLedgerSuite) TestConcurrentAppendsFromSameTip() {
	pk := "pk-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := s.ledger.EnsureIdentity(s.ctx, pk, now)
	s.Require().NoError(err)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			att := s.newAttestation(pk, fmt.Sprintf("cell-%d", i), "", now.Add(time.Duration(i)*time.Second))
			errs[i] = s.ledger.AppendAttestation(s.ctx, att, 5, true)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			s.Require().ErrorIs(err, storage.ErrChainConflict)
		}
	}
	s.Equal(1, wins)

	id, err := s.ledger.GetIdentity(s.ctx, pk)
	s.Require().NoError(err)
	s.Equal(1, id.AttestationCount)
}

func (s *PostgresLedgerSuite) TestClaimHandle() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	pk1 := "pk-" + uuid.NewString()
	pk2 := "pk-" + uuid.NewString()
	for _, pk := range []string{pk1, pk2} {
		_, err := s.ledger.EnsureIdentity(s.ctx, pk, now)
		s.Require().NoError(err)
	}

	s.Require().NoError(s.ledger.ClaimHandle(s.ctx, pk1, "alice"))
	s.Require().ErrorIs(s.ledger.ClaimHandle(s.ctx, pk1, "other"), storage.ErrHandleSet)
	s.Require().ErrorIs(s.ledger.ClaimHandle(s.ctx, pk2, "alice"), storage.ErrHandleTaken)

	id, err := s.ledger.GetIdentity(s.ctx, pk1)
	s.Require().NoError(err)
	s.Equal("alice", id.Handle)
}

func (s *PostgresLedgerSuite) TestEpochSequenceUniqueness() {
	pk := "pk-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := s.ledger.EnsureIdentity(s.ctx, pk, now)
	s.Require().NoError(err)

	sealed := &epoch.Epoch{
		ID:               uuid.New(),
		Identity:         pk,
		Sequence:         1,
		PeriodStart:      now.Add(-time.Hour),
		PeriodEnd:        now,
		MerkleRoot:       merkle.Root([]string{"leaf"}),
		PrevEpochHash:    merkle.EmptyRoot,
		AttestationCount: 1,
		Signature:        "sig",
		CreatedAt:        now,
	}
	sealed.Hash = epoch.SealHash(pk, 1, sealed.MerkleRoot, sealed.PrevEpochHash, sealed.PeriodEnd)
	s.Require().NoError(s.ledger.InsertEpoch(s.ctx, sealed))

	rival := *sealed
	rival.ID = uuid.New()
	s.Require().ErrorIs(s.ledger.InsertEpoch(s.ctx, &rival), storage.ErrChainConflict)

	id, err := s.ledger.GetIdentity(s.ctx, pk)
	s.Require().NoError(err)
	s.Equal(1, id.EpochCount)

	latest, err := s.ledger.LatestEpoch(s.ctx, pk)
	s.Require().NoError(err)
	s.Equal(sealed.Hash, latest.Hash)
}
