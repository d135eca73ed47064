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

// Package subscribe implements the cursor-based push adapter that fans
// out newly delivered envelopes to a recipient's live subscribers. It is
// write-rare (subscribe/unsubscribe) and read-streaming (one unbounded
// logical queue per subscriber, backed by a bounded channel with
// drop-oldest overflow).
package subscribe

import (
	"context"
	"sync"
	"time"

	"github.com/trustmesh/msgauth/internal/logger"
	"github.com/trustmesh/msgauth/internal/metrics"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// DefaultBacklog bounds how many undelivered envelopes a subscriber may
// accumulate before the oldest is dropped.
const DefaultBacklog = 256

// Subscription is a single consumer's live feed of envelopes for one
// recipient AID.
type Subscription struct {
	recipientAID string
	cursor       time.Time
	events       chan storage.Envelope
	registry     *Registry

	mu     sync.Mutex
	closed bool
}

// Events returns the channel of delivered envelopes. It is closed when
// the subscription is cancelled.
func (s *Subscription) Events() <-chan storage.Envelope { return s.events }

// Cursor returns the subscriber's current watermark: the created-at of
// the last envelope handed to it.
func (s *Subscription) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close cancels the subscription and releases its slot in the registry.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.registry.remove(s)
	metrics.SubscriptionsActive.Dec()
	close(s.events)
}

func (s *Subscription) deliver(e storage.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- e:
		s.cursor = e.CreatedAt
	default:
		// Backlog full: drop the oldest queued envelope to make room,
		// per the bounded-backlog, drop-oldest overflow policy.
		select {
		case dropped := <-s.events:
			logger.Warn("subscription backlog full, dropping oldest envelope",
				logger.AID(s.recipientAID),
				logger.EnvelopeID(dropped.ID))
		default:
		}
		select {
		case s.events <- e:
			s.cursor = e.CreatedAt
		default:
		}
	}
}

// Seed delivers already-stored envelopes into the subscription, for the
// cursor-replay a fresh subscriber expects before live events take over.
// Envelopes at or before the current cursor are skipped, so a Notify
// racing the backfill can never double-deliver.
func (s *Subscription) Seed(envs []storage.Envelope) {
	for _, e := range envs {
		if !e.CreatedAt.After(s.Cursor()) {
			continue
		}
		s.deliver(e)
	}
}

// Registry is the live subscriber table: recipient AID -> its active
// subscriptions.
type Registry struct {
	mu      sync.RWMutex
	byAID   map[string][]*Subscription
	backlog int
}

// New returns an empty Registry with the given per-subscriber backlog
// size (DefaultBacklog if non-positive).
func New(backlog int) *Registry {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Registry{byAID: make(map[string][]*Subscription), backlog: backlog}
}

// Subscribe registers a new live subscription for recipientAID, seeded
// at sinceCursor. The caller MUST call Subscription.Close when done
// (typically via ctx cancellation) to release the slot.
func (r *Registry) Subscribe(ctx context.Context, recipientAID string, sinceCursor time.Time) *Subscription {
	sub := &Subscription{
		recipientAID: recipientAID,
		cursor:       sinceCursor,
		events:       make(chan storage.Envelope, r.backlog),
		registry:     r,
	}

	r.mu.Lock()
	r.byAID[recipientAID] = append(r.byAID[recipientAID], sub)
	r.mu.Unlock()
	metrics.SubscriptionsActive.Inc()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub
}

// Notify implements envelope.Notifier: it fans e out to every live
// subscriber of e.RecipientAID whose cursor precedes e.CreatedAt.
func (r *Registry) Notify(recipientAID string, e storage.Envelope) {
	r.mu.RLock()
	subs := append([]*Subscription(nil), r.byAID[recipientAID]...)
	r.mu.RUnlock()

	for _, sub := range subs {
		if !sub.Cursor().Before(e.CreatedAt) {
			continue
		}
		sub.deliver(e)
	}
}

func (r *Registry) remove(target *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.byAID[target.recipientAID]
	for i, s := range subs {
		if s == target {
			r.byAID[target.recipientAID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.byAID[target.recipientAID]) == 0 {
		delete(r.byAID, target.recipientAID)
	}
}

// Count returns the number of live subscriptions for recipientAID.
func (r *Registry) Count(recipientAID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAID[recipientAID])
}
