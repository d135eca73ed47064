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

// Package gc runs the periodic, idempotent, bounded-batch sweep that
// deletes expired challenges, expired replay nonces, and expired
// retrieved envelopes. Sweeps never run concurrently with a
// verification transaction on the same record: the store's transaction
// isolation, not this package, enforces that.
package gc

import (
	"context"
	"time"

	"github.com/trustmesh/msgauth/challenge"
	"github.com/trustmesh/msgauth/internal/logger"
	"github.com/trustmesh/msgauth/internal/metrics"
	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/replay"
)

// DefaultBatchLimit bounds how many rows a single sweep pass deletes
// per ledger, so one sweep tick can never block the store for an
// unbounded duration.
const DefaultBatchLimit = 1000

// DefaultInterval is how often Sweeper.Run fires a sweep pass when run
// as a background loop.
const DefaultInterval = time.Minute

// Result summarizes one sweep pass.
type Result struct {
	ChallengesDeleted int
	NoncesDeleted     int
	EnvelopesDeleted  int
}

// Sweeper periodically clears expired ledger and envelope rows.
type Sweeper struct {
	store sweepStore
	limit int
}

// sweepStore is the subset of storage.Store the sweeper needs; named so a
// caller can pass either the full Store or a narrower fake in tests.
type sweepStore interface {
	storage.ChallengeStore
	storage.ReplayStore
	storage.EnvelopeStore
}

// New returns a Sweeper bounded to limit deletions per ledger per pass
// (DefaultBatchLimit if non-positive).
func New(store sweepStore, limit int) *Sweeper {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &Sweeper{store: store, limit: limit}
}

// SweepOnce runs a single bounded-batch pass over all three ledgers.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	metrics.SweepRuns.Inc()

	n, err := challenge.Sweep(ctx, s.store, now, s.limit)
	if err != nil {
		return res, err
	}
	res.ChallengesDeleted = n
	metrics.SweepRowsDeleted.WithLabelValues("challenge").Add(float64(n))

	n, err = replay.Sweep(ctx, s.store, now, s.limit)
	if err != nil {
		return res, err
	}
	res.NoncesDeleted = n
	metrics.SweepRowsDeleted.WithLabelValues("nonce").Add(float64(n))

	n, err = s.store.DeleteExpiredRetrieved(ctx, now, s.limit)
	if err != nil {
		return res, err
	}
	res.EnvelopesDeleted = n
	metrics.SweepRowsDeleted.WithLabelValues("envelope").Add(float64(n))

	return res, nil
}

// Run fires SweepOnce on interval until ctx is cancelled, logging each
// pass. It is meant to be launched as its own goroutine from cmd/.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			res, err := s.SweepOnce(ctx, t)
			if err != nil {
				logger.ErrorMsg("sweep pass failed", logger.Error(err))
				continue
			}
			logger.Debug("sweep pass complete",
				logger.Int("challengesDeleted", res.ChallengesDeleted),
				logger.Int("noncesDeleted", res.NoncesDeleted),
				logger.Int("envelopesDeleted", res.EnvelopesDeleted))
		}
	}
}
