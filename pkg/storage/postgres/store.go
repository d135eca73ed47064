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

// Package postgres implements storage.Store on top of a pgxpool-managed
// Postgres connection pool. Every WithinTx body runs inside one
// serializable transaction so that replay-nonce inserts, challenge
// used-flag transitions, ksn rotations, and envelope retrieved-flag
// transitions are atomic with the rest of the mutation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trustmesh/msgauth/pkg/storage"
)

// Store is a Postgres-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database identified by dsn and pings the pool; it
// does not check that the schema created by Migrate has been applied.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *Store) Close() error                   { s.pool.Close(); return nil }

// queryer abstracts over *pgxpool.Pool and pgx.Tx so the same query
// helpers back both the outer Store and the Tx handed to WithinTx.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) Register(ctx context.Context, ks storage.KeyState) error {
	return register(ctx, s.pool, ks)
}
func (s *Store) Lookup(ctx context.Context, aid string) (storage.KeyState, error) {
	return lookup(ctx, s.pool, aid)
}
func (s *Store) Rotate(ctx context.Context, aid string, oldKsn uint64, next storage.KeyState) error {
	return rotate(ctx, s.pool, aid, oldKsn, next)
}
func (s *Store) Insert(ctx context.Context, c storage.Challenge) error {
	return insertChallenge(ctx, s.pool, c)
}
func (s *Store) Get(ctx context.Context, id string) (storage.Challenge, error) {
	return getChallenge(ctx, s.pool, id)
}
func (s *Store) MarkUsed(ctx context.Context, id string) error {
	return markUsed(ctx, s.pool, id)
}
func (s *Store) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	return deleteExpiredChallenges(ctx, s.pool, before, limit)
}
func (s *Store) CheckAndInsert(ctx context.Context, n storage.ReplayNonce) error {
	return checkAndInsert(ctx, s.pool, n)
}
func (s *Store) DeleteExpiredNonces(ctx context.Context, before time.Time, limit int) (int, error) {
	return deleteExpiredNonces(ctx, s.pool, before, limit)
}
func (s *Store) InsertEnvelope(ctx context.Context, e storage.Envelope) (storage.Envelope, bool, error) {
	return insertEnvelope(ctx, s.pool, e)
}
func (s *Store) GetEnvelope(ctx context.Context, id string) (storage.Envelope, error) {
	return getEnvelope(ctx, s.pool, id)
}
func (s *Store) MarkEnvelopeRetrieved(ctx context.Context, id string, receiptSig []string, receiptKSN uint64, receiptEvtSAID string) (storage.Envelope, bool, error) {
	return markEnvelopeRetrieved(ctx, s.pool, id, receiptSig, receiptKSN, receiptEvtSAID)
}
func (s *Store) ListUnread(ctx context.Context, recipientAID string, limit int) ([]storage.Envelope, error) {
	return listUnread(ctx, s.pool, recipientAID, limit)
}
func (s *Store) ListSince(ctx context.Context, recipientAID string, since time.Time, limit int) ([]storage.Envelope, error) {
	return listSince(ctx, s.pool, recipientAID, since, limit)
}
func (s *Store) DeleteExpiredRetrieved(ctx context.Context, before time.Time, limit int) (int, error) {
	return deleteExpiredRetrieved(ctx, s.pool, before, limit)
}
func (s *Store) AddAllow(ctx context.Context, e storage.ListEntry) error {
	return addEntry(ctx, s.pool, "allow_list", e)
}
func (s *Store) RemoveAllow(ctx context.Context, ownerAID, targetAID string) error {
	return removeEntry(ctx, s.pool, "allow_list", ownerAID, targetAID)
}
func (s *Store) ClearAllow(ctx context.Context, ownerAID string) error {
	return clearEntries(ctx, s.pool, "allow_list", ownerAID)
}
func (s *Store) AddDeny(ctx context.Context, e storage.ListEntry) error {
	return addEntry(ctx, s.pool, "deny_list", e)
}
func (s *Store) RemoveDeny(ctx context.Context, ownerAID, targetAID string) error {
	return removeEntry(ctx, s.pool, "deny_list", ownerAID, targetAID)
}
func (s *Store) ClearDeny(ctx context.Context, ownerAID string) error {
	return clearEntries(ctx, s.pool, "deny_list", ownerAID)
}
func (s *Store) IsAllowListActive(ctx context.Context, ownerAID string) (bool, error) {
	return isListActive(ctx, s.pool, "allow_list", ownerAID)
}
func (s *Store) IsAllowed(ctx context.Context, ownerAID, targetAID string) (bool, error) {
	return hasEntry(ctx, s.pool, "allow_list", ownerAID, targetAID)
}
func (s *Store) IsDenied(ctx context.Context, ownerAID, targetAID string) (bool, error) {
	return hasEntry(ctx, s.pool, "deny_list", ownerAID, targetAID)
}

// tx is the storage.Tx handle bound to one pgx.Tx.
type tx struct {
	t pgx.Tx
}

func (s *Store) WithinTx(ctx context.Context, fn func(storage.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	if err := fn(&tx{t: pgtx}); err != nil {
		_ = pgtx.Rollback(ctx)
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *tx) Register(ctx context.Context, ks storage.KeyState) error { return register(ctx, t.t, ks) }
func (t *tx) Lookup(ctx context.Context, aid string) (storage.KeyState, error) {
	return lookup(ctx, t.t, aid)
}
func (t *tx) Rotate(ctx context.Context, aid string, oldKsn uint64, next storage.KeyState) error {
	return rotate(ctx, t.t, aid, oldKsn, next)
}
func (t *tx) Insert(ctx context.Context, c storage.Challenge) error { return insertChallenge(ctx, t.t, c) }
func (t *tx) Get(ctx context.Context, id string) (storage.Challenge, error) {
	return getChallenge(ctx, t.t, id)
}
func (t *tx) MarkUsed(ctx context.Context, id string) error { return markUsed(ctx, t.t, id) }
func (t *tx) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	return deleteExpiredChallenges(ctx, t.t, before, limit)
}
func (t *tx) CheckAndInsert(ctx context.Context, n storage.ReplayNonce) error {
	return checkAndInsert(ctx, t.t, n)
}
func (t *tx) DeleteExpiredNonces(ctx context.Context, before time.Time, limit int) (int, error) {
	return deleteExpiredNonces(ctx, t.t, before, limit)
}
func (t *tx) InsertEnvelope(ctx context.Context, e storage.Envelope) (storage.Envelope, bool, error) {
	return insertEnvelope(ctx, t.t, e)
}
func (t *tx) GetEnvelope(ctx context.Context, id string) (storage.Envelope, error) {
	return getEnvelope(ctx, t.t, id)
}
func (t *tx) MarkEnvelopeRetrieved(ctx context.Context, id string, receiptSig []string, receiptKSN uint64, receiptEvtSAID string) (storage.Envelope, bool, error) {
	return markEnvelopeRetrieved(ctx, t.t, id, receiptSig, receiptKSN, receiptEvtSAID)
}
func (t *tx) ListUnread(ctx context.Context, recipientAID string, limit int) ([]storage.Envelope, error) {
	return listUnread(ctx, t.t, recipientAID, limit)
}
func (t *tx) ListSince(ctx context.Context, recipientAID string, since time.Time, limit int) ([]storage.Envelope, error) {
	return listSince(ctx, t.t, recipientAID, since, limit)
}
func (t *tx) DeleteExpiredRetrieved(ctx context.Context, before time.Time, limit int) (int, error) {
	return deleteExpiredRetrieved(ctx, t.t, before, limit)
}
func (t *tx) AddAllow(ctx context.Context, e storage.ListEntry) error {
	return addEntry(ctx, t.t, "allow_list", e)
}
func (t *tx) RemoveAllow(ctx context.Context, ownerAID, targetAID string) error {
	return removeEntry(ctx, t.t, "allow_list", ownerAID, targetAID)
}
func (t *tx) ClearAllow(ctx context.Context, ownerAID string) error {
	return clearEntries(ctx, t.t, "allow_list", ownerAID)
}
func (t *tx) AddDeny(ctx context.Context, e storage.ListEntry) error {
	return addEntry(ctx, t.t, "deny_list", e)
}
func (t *tx) RemoveDeny(ctx context.Context, ownerAID, targetAID string) error {
	return removeEntry(ctx, t.t, "deny_list", ownerAID, targetAID)
}
func (t *tx) ClearDeny(ctx context.Context, ownerAID string) error {
	return clearEntries(ctx, t.t, "deny_list", ownerAID)
}
func (t *tx) IsAllowListActive(ctx context.Context, ownerAID string) (bool, error) {
	return isListActive(ctx, t.t, "allow_list", ownerAID)
}
func (t *tx) IsAllowed(ctx context.Context, ownerAID, targetAID string) (bool, error) {
	return hasEntry(ctx, t.t, "allow_list", ownerAID, targetAID)
}
func (t *tx) IsDenied(ctx context.Context, ownerAID, targetAID string) (bool, error) {
	return hasEntry(ctx, t.t, "deny_list", ownerAID, targetAID)
}

var errNoRows = pgx.ErrNoRows

func mapNotFound(err error) error {
	if errors.Is(err, errNoRows) {
		return storage.ErrNotFound
	}
	return err
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*tx)(nil)
