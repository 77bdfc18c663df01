// Package memory holds the in-process ledger store backing tests and
// single-node runs. One Ledger serves the identity, attestation and epoch
// services so the trust projection stays consistent across them.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gns/internal/attestation"
	"gns/internal/epoch"
	"gns/internal/identity"
	"gns/internal/storage"
)

// Ledger is a mutex-guarded in-memory ledger.
type Ledger struct {
	mu           sync.RWMutex
	identities   map[string]*identity.Identity
	attestations map[string][]attestation.Attestation
	cells        map[string]map[string]struct{}
	velocity     map[string][]attestation.VelocityCheck
	fraud        map[string][]attestation.FraudEvent
	epochs       map[string][]epoch.Epoch
	epochByID    map[uuid.UUID]epoch.Epoch
}

// NewLedger builds an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		identities:   make(map[string]*identity.Identity),
		attestations: make(map[string][]attestation.Attestation),
		cells:        make(map[string]map[string]struct{}),
		velocity:     make(map[string][]attestation.VelocityCheck),
		fraud:        make(map[string][]attestation.FraudEvent),
		epochs:       make(map[string][]epoch.Epoch),
		epochByID:    make(map[uuid.UUID]epoch.Epoch),
	}
}

// GetIdentity implements identity.Store.
func (l *Ledger) GetIdentity(_ context.Context, publicKey string) (*identity.Identity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.identities[publicKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

// ClaimHandle implements identity.Store.
func (l *Ledger) ClaimHandle(_ context.Context, publicKey, handle string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.identities[publicKey]
	if !ok {
		return storage.ErrNotFound
	}
	if id.Handle != "" {
		return storage.ErrHandleSet
	}
	for _, other := range l.identities {
		if other.Handle == handle {
			return storage.ErrHandleTaken
		}
	}
	id.Handle = handle
	return nil
}

// EnsureIdentity implements attestation.Store.
func (l *Ledger) EnsureIdentity(_ context.Context, publicKey string, now time.Time) (*identity.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.identities[publicKey]
	if !ok {
		id = &identity.Identity{PublicKey: publicKey, CreatedAt: now}
		l.identities[publicKey] = id
	}
	cp := *id
	return &cp, nil
}

// LatestAttestation implements attestation.Store.
func (l *Ledger) LatestAttestation(_ context.Context, publicKey string) (*attestation.Attestation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.attestations[publicKey]
	if len(chain) == 0 {
		return nil, storage.ErrNotFound
	}
	cp := chain[len(chain)-1]
	return &cp, nil
}

// CellSeen implements attestation.Store.
func (l *Ledger) CellSeen(_ context.Context, publicKey, cell string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.cells[publicKey][cell]
	return ok, nil
}

// AppendAttestation implements attestation.Store. The chain-tip comparison
// and the projection update happen under one lock, mirroring the single
// transaction the SQL store uses.
func (l *Ledger) AppendAttestation(_ context.Context, att *attestation.Attestation, newScore float64, cellIsNew bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.identities[att.Identity]
	if !ok {
		return storage.ErrNotFound
	}
	if id.ChainTip != att.PrevHash {
		return storage.ErrChainConflict
	}

	l.attestations[att.Identity] = append(l.attestations[att.Identity], *att)
	if l.cells[att.Identity] == nil {
		l.cells[att.Identity] = make(map[string]struct{})
	}
	if _, seen := l.cells[att.Identity][att.Geocell]; !seen {
		l.cells[att.Identity][att.Geocell] = struct{}{}
		if cellIsNew {
			id.UniqueCells++
		}
	}

	ts := att.Timestamp
	id.ChainTip = att.Hash
	id.AttestationCount++
	id.LastAttestationAt = &ts
	if id.FirstAttestationAt == nil {
		id.FirstAttestationAt = &ts
	}
	if newScore > id.TrustScore {
		id.TrustScore = newScore
	}
	return nil
}

// RecordVelocityCheck implements attestation.Store.
func (l *Ledger) RecordVelocityCheck(_ context.Context, check attestation.VelocityCheck) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.velocity[check.Identity] = append(l.velocity[check.Identity], check)
	return nil
}

// RecordFraudEvent implements attestation.Store.
func (l *Ledger) RecordFraudEvent(_ context.Context, event attestation.FraudEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fraud[event.Identity] = append(l.fraud[event.Identity], event)
	return nil
}

// ListAttestations implements attestation.Store, newest first.
func (l *Ledger) ListAttestations(_ context.Context, publicKey string, limit int) ([]attestation.Attestation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.attestations[publicKey]
	out := make([]attestation.Attestation, 0, limit)
	for i := len(chain) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, chain[i])
	}
	return out, nil
}

// VelocityChecks returns the recorded checks for an identity, for tests.
func (l *Ledger) VelocityChecks(publicKey string) []attestation.VelocityCheck {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]attestation.VelocityCheck, len(l.velocity[publicKey]))
	copy(out, l.velocity[publicKey])
	return out
}

// FraudEvents returns the recorded fraud events for an identity, for tests.
func (l *Ledger) FraudEvents(publicKey string) []attestation.FraudEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]attestation.FraudEvent, len(l.fraud[publicKey]))
	copy(out, l.fraud[publicKey])
	return out
}

// Chain returns an identity's full attestation chain, oldest first, for tests.
func (l *Ledger) Chain(publicKey string) []attestation.Attestation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]attestation.Attestation, len(l.attestations[publicKey]))
	copy(out, l.attestations[publicKey])
	return out
}

// ActiveIdentities implements epoch.Store: identities whose newest
// attestation postdates their latest sealed epoch.
func (l *Ledger) ActiveIdentities(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for pk, id := range l.identities {
		if id.LastAttestationAt == nil {
			continue
		}
		if es := l.epochs[pk]; len(es) > 0 && !id.LastAttestationAt.After(es[len(es)-1].PeriodEnd) {
			continue
		}
		out = append(out, pk)
	}
	return out, nil
}

// LatestEpoch implements epoch.Store.
func (l *Ledger) LatestEpoch(_ context.Context, publicKey string) (*epoch.Epoch, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	es := l.epochs[publicKey]
	if len(es) == 0 {
		return nil, storage.ErrNotFound
	}
	cp := es[len(es)-1]
	return &cp, nil
}

// AttestationHashes implements epoch.Store: hashes with a claimed timestamp
// in (after, until], chronological.
func (l *Ledger) AttestationHashes(_ context.Context, publicKey string, after, until time.Time) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for _, att := range l.attestations[publicKey] {
		if att.Timestamp.After(after) && !att.Timestamp.After(until) {
			out = append(out, att.Hash)
		}
	}
	return out, nil
}

// InsertEpoch implements epoch.Store.
func (l *Ledger) InsertEpoch(_ context.Context, e *epoch.Epoch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	es := l.epochs[e.Identity]
	if len(es) > 0 && es[len(es)-1].Sequence >= e.Sequence {
		return storage.ErrChainConflict
	}
	l.epochs[e.Identity] = append(es, *e)
	l.epochByID[e.ID] = *e
	if id, ok := l.identities[e.Identity]; ok {
		id.EpochCount++
	}
	return nil
}

// ListEpochs implements epoch.Store, newest first.
func (l *Ledger) ListEpochs(_ context.Context, publicKey string, limit int) ([]epoch.Epoch, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	es := l.epochs[publicKey]
	out := make([]epoch.Epoch, 0, limit)
	for i := len(es) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, es[i])
	}
	return out, nil
}

// GetEpoch implements epoch.Store.
func (l *Ledger) GetEpoch(_ context.Context, id uuid.UUID) (*epoch.Epoch, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.epochByID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &e, nil
}
