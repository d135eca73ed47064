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

// Package storage defines the abstract transactional document store every
// msgauth verification and mutation path runs against. The package never
// implements policy (replay windows, thresholds, TTLs) itself — it only
// persists and atomically transitions the records those policies operate
// on. Two implementations are provided: an in-memory store for tests and
// single-node deployments, and a Postgres-backed store for production.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Lookup/Get methods when no matching record
// exists. Callers translate this into mauth.KindNotFound with the
// appropriate subject.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when an atomic CAS-style transition (ksn
// advance, challenge used-flag, nonce insert) loses a race to a
// concurrent writer.
var ErrConflict = errors.New("storage: conflict")

// KeyStateStore is the authoritative AID -> key-state mapping.
type KeyStateStore interface {
	// Register inserts the initial key state for aid. Returns
	// ErrConflict if a key state already exists for aid.
	Register(ctx context.Context, ks KeyState) error
	// Lookup returns the current key state for aid, or ErrNotFound.
	Lookup(ctx context.Context, aid string) (KeyState, error)
	// Rotate atomically replaces the key state for aid, but only if the
	// stored ksn equals oldKsn; otherwise returns ErrConflict.
	Rotate(ctx context.Context, aid string, oldKsn uint64, next KeyState) error
}

// ChallengeStore manages ephemeral challenge-response tokens.
type ChallengeStore interface {
	Insert(ctx context.Context, c Challenge) error
	Get(ctx context.Context, id string) (Challenge, error)
	// MarkUsed atomically transitions used=false -> true. Returns
	// ErrConflict if the challenge was already used.
	MarkUsed(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// ReplayStore is the per-(keyID, nonce) seen-set for the per-request
// signature protocol. DeleteExpiredNonces is named distinctly from
// ChallengeStore.DeleteExpired so the two don't collapse into a single
// promoted method when both are embedded in Tx/Store.
type ReplayStore interface {
	// CheckAndInsert atomically checks for an existing (keyID, nonce)
	// entry and inserts a new one if absent. Returns ErrConflict if the
	// pair is already present (a replay).
	CheckAndInsert(ctx context.Context, n ReplayNonce) error
	DeleteExpiredNonces(ctx context.Context, before time.Time, limit int) (int, error)
}

// EnvelopeStore persists one-to-one ciphertext messages. Methods are
// named *Envelope to avoid colliding with ChallengeStore's Insert/Get
// when both are embedded in Tx/Store.
type EnvelopeStore interface {
	// InsertEnvelope is idempotent on Envelope.ID: if a row with the
	// same id already exists, it is returned unmodified and inserted=false.
	InsertEnvelope(ctx context.Context, e Envelope) (stored Envelope, inserted bool, err error)
	GetEnvelope(ctx context.Context, id string) (Envelope, error)
	// MarkEnvelopeRetrieved atomically transitions retrieved=false ->
	// true and writes the receipt fields. If already retrieved, it is a
	// no-op that returns the existing envelope and transitioned=false.
	MarkEnvelopeRetrieved(ctx context.Context, id string, receiptSig []string, receiptKSN uint64, receiptEvtSAID string) (stored Envelope, transitioned bool, err error)
	ListUnread(ctx context.Context, recipientAID string, limit int) ([]Envelope, error)
	ListSince(ctx context.Context, recipientAID string, since time.Time, limit int) ([]Envelope, error)
	DeleteExpiredRetrieved(ctx context.Context, before time.Time, limit int) (int, error)
}

// ListStore manages per-AID allow-list and deny-list entries.
type ListStore interface {
	AddAllow(ctx context.Context, e ListEntry) error
	RemoveAllow(ctx context.Context, ownerAID, targetAID string) error
	ClearAllow(ctx context.Context, ownerAID string) error
	AddDeny(ctx context.Context, e ListEntry) error
	RemoveDeny(ctx context.Context, ownerAID, targetAID string) error
	ClearDeny(ctx context.Context, ownerAID string) error

	IsAllowListActive(ctx context.Context, ownerAID string) (bool, error)
	IsAllowed(ctx context.Context, ownerAID, targetAID string) (bool, error)
	IsDenied(ctx context.Context, ownerAID, targetAID string) (bool, error)
}

// Tx is a store handle scoped to one serializable transaction. Every
// mutation that must be atomic with a replay-nonce insert or a
// challenge/ksn/retrieved transition runs its whole body through
// Store.WithinTx using the Tx it receives, never the outer Store.
type Tx interface {
	KeyStateStore
	ChallengeStore
	ReplayStore
	EnvelopeStore
	ListStore
}

// Store is the full document store: direct read access plus transactional
// mutation access via WithinTx.
type Store interface {
	KeyStateStore
	ChallengeStore
	ReplayStore
	EnvelopeStore
	ListStore

	// WithinTx runs fn against a Tx bound to one serializable transaction.
	// If fn returns an error, the transaction is rolled back and the
	// error is propagated unchanged.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}
