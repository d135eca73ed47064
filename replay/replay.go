// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package replay guards the per-request signature protocol's nonce
// ledger: a (keyID, nonce) pair may be accepted at most once within its
// TTL. The ledger itself is persisted through storage.ReplayStore so its
// insert can share the caller's transaction with the mutation it guards;
// this package only adds the TTL policy and a single-pass Sweep helper
// that the gc package's loop calls.
package replay

import (
	"context"
	"time"

	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// DefaultTTL is the retention window for accepted nonces.
const DefaultTTL = 10 * time.Minute

// Ledger checks and records nonces against a storage.ReplayStore.
type Ledger struct {
	ttl time.Duration
}

// New returns a Ledger using ttl as the nonce retention window.
func New(ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{ttl: ttl}
}

// CheckAndInsert records (keyID, nonce) as seen at now, failing with
// mauth.ErrNonceReplay if the pair was already recorded and its record
// has not yet been deleted by Sweep, whether or not it has expired.
// Callers MUST invoke this against the same storage.Tx as the
// mutation it guards so the two commit or roll back together.
func (l *Ledger) CheckAndInsert(ctx context.Context, store storage.ReplayStore, keyID, nonce string, now time.Time) error {
	err := store.CheckAndInsert(ctx, storage.ReplayNonce{
		KeyID:     keyID,
		Nonce:     nonce,
		UsedAt:    now,
		ExpiresAt: now.Add(l.ttl),
	})
	if err == storage.ErrConflict {
		return mauth.ErrNonceReplay
	}
	if err != nil {
		return mauth.Wrap(err, "replay ledger insert")
	}
	return nil
}

// Sweep deletes all expired nonce records, at most limit per call. It is
// idempotent and safe to call from a periodic gc task.
func Sweep(ctx context.Context, store storage.ReplayStore, now time.Time, limit int) (int, error) {
	n, err := store.DeleteExpiredNonces(ctx, now, limit)
	if err != nil {
		return 0, mauth.Wrap(err, "replay ledger sweep")
	}
	return n, nil
}
