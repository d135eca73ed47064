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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnvelopesSent counts send operations, labeled by outcome
	// ("inserted" for a new envelope, "idempotent" for a resend that
	// collapsed onto an existing SAID, or a mauth.Kind on rejection).
	EnvelopesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "sent_total",
			Help:      "Total number of envelope send attempts",
		},
		[]string{"outcome"},
	)

	// EnvelopesAcked counts acknowledge operations, labeled by outcome
	// ("retrieved" for a first ack, "idempotent" for a re-ack, or a
	// mauth.Kind on rejection).
	EnvelopesAcked = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "acked_total",
			Help:      "Total number of envelope acknowledge attempts",
		},
		[]string{"outcome"},
	)

	// ReadUnreadQueries counts read-unread calls.
	ReadUnreadQueries = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "read_unread_total",
			Help:      "Total number of read-unread queries",
		},
	)

	// SubscriptionsActive tracks the number of live push subscriptions.
	SubscriptionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "envelope",
			Name:      "subscriptions_active",
			Help:      "Number of currently open subscription streams",
		},
	)
)
