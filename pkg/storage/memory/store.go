// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package memory is an in-process implementation of storage.Store backed
// by mutex-guarded maps. It is suitable for tests and single-node
// deployments; it does not survive process restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trustmesh/msgauth/pkg/storage"
)

// Store implements storage.Store. All state lives under a single mutex:
// because every operation is in-process and cheap, one coarse lock gives
// WithinTx true serializability without a separate transaction log.
type Store struct {
	mu sync.Mutex

	keyStates  map[string]storage.KeyState
	challenges map[string]storage.Challenge
	nonces     map[replayKey]storage.ReplayNonce
	envelopes  map[string]storage.Envelope
	allow      map[string]map[string]storage.ListEntry
	deny       map[string]map[string]storage.ListEntry
}

type replayKey struct {
	keyID string
	nonce string
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		keyStates:  make(map[string]storage.KeyState),
		challenges: make(map[string]storage.Challenge),
		nonces:     make(map[replayKey]storage.ReplayNonce),
		envelopes:  make(map[string]storage.Envelope),
		allow:      make(map[string]map[string]storage.ListEntry),
		deny:       make(map[string]map[string]storage.ListEntry),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

// WithinTx acquires the store's lock for the duration of fn, which is
// enough to make fn's sequence of operations atomic with respect to every
// other Store method.
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn((*txHandle)(s))
}

// txHandle is Store re-typed so its methods can be reused without
// re-acquiring the lock WithinTx already holds.
type txHandle Store

// --- KeyStateStore ---

func (s *Store) Register(ctx context.Context, ks storage.KeyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(ks)
}

func (s *Store) registerLocked(ks storage.KeyState) error {
	if _, ok := s.keyStates[ks.AID]; ok {
		return storage.ErrConflict
	}
	s.keyStates[ks.AID] = ks
	return nil
}

func (s *Store) Lookup(ctx context.Context, aid string) (storage.KeyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(aid)
}

func (s *Store) lookupLocked(aid string) (storage.KeyState, error) {
	ks, ok := s.keyStates[aid]
	if !ok {
		return storage.KeyState{}, storage.ErrNotFound
	}
	return ks, nil
}

func (s *Store) Rotate(ctx context.Context, aid string, oldKsn uint64, next storage.KeyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked(aid, oldKsn, next)
}

func (s *Store) rotateLocked(aid string, oldKsn uint64, next storage.KeyState) error {
	current, ok := s.keyStates[aid]
	if !ok {
		return storage.ErrNotFound
	}
	if current.KSN != oldKsn {
		return storage.ErrConflict
	}
	s.keyStates[aid] = next
	return nil
}

// --- ChallengeStore ---

func (s *Store) Insert(ctx context.Context, c storage.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertChallengeLocked(c)
}

func (s *Store) insertChallengeLocked(c storage.Challenge) error {
	if _, ok := s.challenges[c.ID]; ok {
		return storage.ErrConflict
	}
	s.challenges[c.ID] = c
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (storage.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getChallengeLocked(id)
}

func (s *Store) getChallengeLocked(id string) (storage.Challenge, error) {
	c, ok := s.challenges[id]
	if !ok {
		return storage.Challenge{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) MarkUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markUsedLocked(id)
}

func (s *Store) markUsedLocked(id string) error {
	c, ok := s.challenges[id]
	if !ok {
		return storage.ErrNotFound
	}
	if c.Used {
		return storage.ErrConflict
	}
	c.Used = true
	s.challenges[id] = c
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteExpiredChallengesLocked(before, limit)
}

func (s *Store) deleteExpiredChallengesLocked(before time.Time, limit int) (int, error) {
	n := 0
	for id, c := range s.challenges {
		if n >= limit {
			break
		}
		if c.ExpiresAt.Before(before) {
			delete(s.challenges, id)
			n++
		}
	}
	return n, nil
}

// --- ReplayStore ---

func (s *Store) CheckAndInsert(ctx context.Context, n storage.ReplayNonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkAndInsertLocked(n)
}

func (s *Store) checkAndInsertLocked(n storage.ReplayNonce) error {
	k := replayKey{keyID: n.KeyID, nonce: n.Nonce}
	if _, ok := s.nonces[k]; ok {
		return storage.ErrConflict
	}
	s.nonces[k] = n
	return nil
}

func (s *Store) DeleteExpiredNonces(ctx context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteExpiredNoncesLocked(before, limit)
}

func (s *Store) deleteExpiredNoncesLocked(before time.Time, limit int) (int, error) {
	n := 0
	for k, v := range s.nonces {
		if n >= limit {
			break
		}
		if v.ExpiresAt.Before(before) {
			delete(s.nonces, k)
			n++
		}
	}
	return n, nil
}

// --- EnvelopeStore ---

func (s *Store) InsertEnvelope(ctx context.Context, e storage.Envelope) (storage.Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEnvelopeLocked(e)
}

func (s *Store) insertEnvelopeLocked(e storage.Envelope) (storage.Envelope, bool, error) {
	if existing, ok := s.envelopes[e.ID]; ok {
		return existing, false, nil
	}
	s.envelopes[e.ID] = e
	return e, true, nil
}

func (s *Store) GetEnvelope(ctx context.Context, id string) (storage.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEnvelopeLocked(id)
}

func (s *Store) getEnvelopeLocked(id string) (storage.Envelope, error) {
	e, ok := s.envelopes[id]
	if !ok {
		return storage.Envelope{}, storage.ErrNotFound
	}
	return e, nil
}

func (s *Store) MarkEnvelopeRetrieved(ctx context.Context, id string, receiptSig []string, receiptKSN uint64, receiptEvtSAID string) (storage.Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markRetrievedLocked(id, receiptSig, receiptKSN, receiptEvtSAID)
}

func (s *Store) markRetrievedLocked(id string, receiptSig []string, receiptKSN uint64, receiptEvtSAID string) (storage.Envelope, bool, error) {
	e, ok := s.envelopes[id]
	if !ok {
		return storage.Envelope{}, false, storage.ErrNotFound
	}
	if e.Retrieved {
		return e, false, nil
	}
	e.Retrieved = true
	e.ReceiptSig = receiptSig
	e.ReceiptKSN = receiptKSN
	e.ReceiptEvtSAID = receiptEvtSAID
	s.envelopes[id] = e
	return e, true, nil
}

func (s *Store) ListUnread(ctx context.Context, recipientAID string, limit int) ([]storage.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listUnreadLocked(recipientAID, limit)
}

func (s *Store) listUnreadLocked(recipientAID string, limit int) ([]storage.Envelope, error) {
	out := make([]storage.Envelope, 0, limit)
	for _, e := range s.envelopes {
		if e.RecipientAID == recipientAID && !e.Retrieved {
			out = append(out, e)
		}
	}
	sortEnvelopesByCreatedAt(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListSince(ctx context.Context, recipientAID string, since time.Time, limit int) ([]storage.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listSinceLocked(recipientAID, since, limit)
}

func (s *Store) listSinceLocked(recipientAID string, since time.Time, limit int) ([]storage.Envelope, error) {
	out := make([]storage.Envelope, 0, limit)
	for _, e := range s.envelopes {
		if e.RecipientAID == recipientAID && e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	sortEnvelopesByCreatedAt(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortEnvelopesByCreatedAt(es []storage.Envelope) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].ID < es[j].ID
		}
		return es[i].CreatedAt.Before(es[j].CreatedAt)
	})
}

func (s *Store) DeleteExpiredRetrieved(ctx context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteExpiredRetrievedLocked(before, limit)
}

func (s *Store) deleteExpiredRetrievedLocked(before time.Time, limit int) (int, error) {
	n := 0
	for id, e := range s.envelopes {
		if n >= limit {
			break
		}
		if e.Retrieved && e.ExpiresAt.Before(before) {
			delete(s.envelopes, id)
			n++
		}
	}
	return n, nil
}

// --- ListStore ---

func (s *Store) AddAllow(ctx context.Context, e storage.ListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEntryLocked(s.allow, e)
}

func (s *Store) RemoveAllow(ctx context.Context, ownerAID, targetAID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeEntryLocked(s.allow, ownerAID, targetAID)
}

func (s *Store) ClearAllow(ctx context.Context, ownerAID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allow, ownerAID)
	return nil
}

func (s *Store) AddDeny(ctx context.Context, e storage.ListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEntryLocked(s.deny, e)
}

func (s *Store) RemoveDeny(ctx context.Context, ownerAID, targetAID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeEntryLocked(s.deny, ownerAID, targetAID)
}

func (s *Store) ClearDeny(ctx context.Context, ownerAID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deny, ownerAID)
	return nil
}

func (s *Store) addEntryLocked(m map[string]map[string]storage.ListEntry, e storage.ListEntry) error {
	bucket, ok := m[e.OwnerAID]
	if !ok {
		bucket = make(map[string]storage.ListEntry)
		m[e.OwnerAID] = bucket
	}
	bucket[e.TargetAID] = e
	return nil
}

func (s *Store) removeEntryLocked(m map[string]map[string]storage.ListEntry, ownerAID, targetAID string) error {
	if bucket, ok := m[ownerAID]; ok {
		delete(bucket, targetAID)
	}
	return nil
}

func (s *Store) IsAllowListActive(ctx context.Context, ownerAID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allow[ownerAID]) > 0, nil
}

func (s *Store) IsAllowed(ctx context.Context, ownerAID, targetAID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.allow[ownerAID][targetAID]
	return ok, nil
}

func (s *Store) IsDenied(ctx context.Context, ownerAID, targetAID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deny[ownerAID][targetAID]
	return ok, nil
}

// --- txHandle: unlocked variants bound to an already-held lock ---

func (t *txHandle) Register(ctx context.Context, ks storage.KeyState) error {
	return (*Store)(t).registerLocked(ks)
}
func (t *txHandle) Lookup(ctx context.Context, aid string) (storage.KeyState, error) {
	return (*Store)(t).lookupLocked(aid)
}
func (t *txHandle) Rotate(ctx context.Context, aid string, oldKsn uint64, next storage.KeyState) error {
	return (*Store)(t).rotateLocked(aid, oldKsn, next)
}
func (t *txHandle) Insert(ctx context.Context, c storage.Challenge) error {
	return (*Store)(t).insertChallengeLocked(c)
}
func (t *txHandle) Get(ctx context.Context, id string) (storage.Challenge, error) {
	return (*Store)(t).getChallengeLocked(id)
}
func (t *txHandle) MarkUsed(ctx context.Context, id string) error {
	return (*Store)(t).markUsedLocked(id)
}
func (t *txHandle) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	return (*Store)(t).deleteExpiredChallengesLocked(before, limit)
}
func (t *txHandle) CheckAndInsert(ctx context.Context, n storage.ReplayNonce) error {
	return (*Store)(t).checkAndInsertLocked(n)
}
func (t *txHandle) DeleteExpiredNonces(ctx context.Context, before time.Time, limit int) (int, error) {
	return (*Store)(t).deleteExpiredNoncesLocked(before, limit)
}

func (t *txHandle) InsertEnvelope(ctx context.Context, e storage.Envelope) (storage.Envelope, bool, error) {
	return (*Store)(t).insertEnvelopeLocked(e)
}
func (t *txHandle) GetEnvelope(ctx context.Context, id string) (storage.Envelope, error) {
	return (*Store)(t).getEnvelopeLocked(id)
}
func (t *txHandle) MarkEnvelopeRetrieved(ctx context.Context, id string, receiptSig []string, receiptKSN uint64, receiptEvtSAID string) (storage.Envelope, bool, error) {
	return (*Store)(t).markRetrievedLocked(id, receiptSig, receiptKSN, receiptEvtSAID)
}
func (t *txHandle) ListUnread(ctx context.Context, recipientAID string, limit int) ([]storage.Envelope, error) {
	return (*Store)(t).listUnreadLocked(recipientAID, limit)
}
func (t *txHandle) ListSince(ctx context.Context, recipientAID string, since time.Time, limit int) ([]storage.Envelope, error) {
	return (*Store)(t).listSinceLocked(recipientAID, since, limit)
}
func (t *txHandle) DeleteExpiredRetrieved(ctx context.Context, before time.Time, limit int) (int, error) {
	return (*Store)(t).deleteExpiredRetrievedLocked(before, limit)
}
func (t *txHandle) AddAllow(ctx context.Context, e storage.ListEntry) error {
	return (*Store)(t).addEntryLocked((*Store)(t).allow, e)
}
func (t *txHandle) RemoveAllow(ctx context.Context, ownerAID, targetAID string) error {
	return (*Store)(t).removeEntryLocked((*Store)(t).allow, ownerAID, targetAID)
}
func (t *txHandle) ClearAllow(ctx context.Context, ownerAID string) error {
	delete((*Store)(t).allow, ownerAID)
	return nil
}
func (t *txHandle) AddDeny(ctx context.Context, e storage.ListEntry) error {
	return (*Store)(t).addEntryLocked((*Store)(t).deny, e)
}
func (t *txHandle) RemoveDeny(ctx context.Context, ownerAID, targetAID string) error {
	return (*Store)(t).removeEntryLocked((*Store)(t).deny, ownerAID, targetAID)
}
func (t *txHandle) ClearDeny(ctx context.Context, ownerAID string) error {
	delete((*Store)(t).deny, ownerAID)
	return nil
}
func (t *txHandle) IsAllowListActive(ctx context.Context, ownerAID string) (bool, error) {
	return len((*Store)(t).allow[ownerAID]) > 0, nil
}
func (t *txHandle) IsAllowed(ctx context.Context, ownerAID, targetAID string) (bool, error) {
	_, ok := (*Store)(t).allow[ownerAID][targetAID]
	return ok, nil
}
func (t *txHandle) IsDenied(ctx context.Context, ownerAID, targetAID string) (bool, error) {
	_, ok := (*Store)(t).deny[ownerAID][targetAID]
	return ok, nil
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*txHandle)(nil)
