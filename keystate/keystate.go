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

// Package keystate wraps the storage layer's key-state store with a
// short-lived read cache. Reads are cached up to a configurable TTL;
// every write (register or rotate) invalidates its AID's cache line
// synchronously so a reader can never observe a key state older than the
// write that just completed in its own goroutine.
package keystate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// Store is a caching facade over storage.KeyStateStore.
type Store struct {
	backend storage.KeyStateStore
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry

	group singleflight.Group
}

type cacheEntry struct {
	value    storage.KeyState
	cachedAt time.Time
}

// New returns a caching key-state store with the given TTL (60s per the
// configuration default).
func New(backend storage.KeyStateStore, ttl time.Duration) *Store {
	return &Store{backend: backend, ttl: ttl, cache: make(map[string]cacheEntry)}
}

// Lookup returns the key state for aid, preferring a fresh cache entry.
// Concurrent lookups for the same AID that miss the cache are collapsed
// into a single backend call via singleflight, so a cache-stampede on a
// popular AID costs one query rather than N.
func (s *Store) Lookup(ctx context.Context, aid string) (storage.KeyState, error) {
	if ks, ok := s.readCache(aid); ok {
		return ks, nil
	}

	v, err, _ := s.group.Do(aid, func() (interface{}, error) {
		if ks, ok := s.readCache(aid); ok {
			return ks, nil
		}
		ks, err := s.backend.Lookup(ctx, aid)
		if err != nil {
			if err == storage.ErrNotFound {
				return storage.KeyState{}, mauth.ErrKeyStateNotFound
			}
			return storage.KeyState{}, mauth.Wrap(err, "key state lookup")
		}
		s.writeCache(aid, ks)
		return ks, nil
	})
	if err != nil {
		return storage.KeyState{}, err
	}
	return v.(storage.KeyState), nil
}

// LookupIn is Lookup reading through an explicit backend handle on a
// cache miss, for callers already inside a storage transaction: a miss
// must not reach back out to the outer store while the transaction
// holds its isolation (against the in-memory store that is a deadlock),
// so the mutation's own Tx is read instead. Singleflight is skipped,
// the transaction already serializes the read.
func (s *Store) LookupIn(ctx context.Context, backend storage.KeyStateStore, aid string) (storage.KeyState, error) {
	if ks, ok := s.readCache(aid); ok {
		return ks, nil
	}
	ks, err := backend.Lookup(ctx, aid)
	if err != nil {
		if err == storage.ErrNotFound {
			return storage.KeyState{}, mauth.ErrKeyStateNotFound
		}
		return storage.KeyState{}, mauth.Wrap(err, "key state lookup")
	}
	s.writeCache(aid, ks)
	return ks, nil
}

// Register inserts the initial key state for aid and primes the cache.
func (s *Store) Register(ctx context.Context, ks storage.KeyState) error {
	if err := s.backend.Register(ctx, ks); err != nil {
		if err == storage.ErrConflict {
			return mauth.ErrUserAlreadyExists
		}
		return mauth.Wrap(err, "key state register")
	}
	s.writeCache(ks.AID, ks)
	return nil
}

// Rotate advances the key state for aid and invalidates its cache line
// regardless of outcome, so a failed rotation never leaves a stale
// cached entry racing a concurrent retry.
func (s *Store) Rotate(ctx context.Context, aid string, oldKsn uint64, next storage.KeyState) error {
	s.invalidate(aid)
	if err := s.backend.Rotate(ctx, aid, oldKsn, next); err != nil {
		if err == storage.ErrNotFound {
			return mauth.ErrKeyStateNotFound
		}
		if err == storage.ErrConflict {
			return mauth.ErrKsnStale
		}
		return mauth.Wrap(err, "key state rotate")
	}
	s.writeCache(aid, next)
	return nil
}

func (s *Store) readCache(aid string) (storage.KeyState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[aid]
	if !ok || time.Since(e.cachedAt) > s.ttl {
		return storage.KeyState{}, false
	}
	return e.value, true
}

func (s *Store) writeCache(aid string, ks storage.KeyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[aid] = cacheEntry{value: ks, cachedAt: time.Now()}
}

func (s *Store) invalidate(aid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, aid)
}

// Invalidate drops aid's cache line. Callers that rotate or register a key
// state directly through a storage.Tx (bypassing Store's own
// Register/Rotate, because the write must share a transaction with some
// other check) call this afterward so a stale cached read can never
// survive a write it didn't know about.
func (s *Store) Invalidate(aid string) { s.invalidate(aid) }
