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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerificationAttempts counts every authentication attempt, labeled
	// by protocol ("per-request" or "challenge-response") and outcome
	// ("success" or the mauth.Kind of the rejection).
	VerificationAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "attempts_total",
			Help:      "Total number of mutation authentication attempts",
		},
		[]string{"protocol", "outcome"},
	)

	// VerificationDuration observes how long signature/threshold
	// verification took, labeled by protocol.
	VerificationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "duration_seconds",
			Help:      "Authentication verification latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)
)

// ObserveVerification records the outcome of one authentication attempt
// and its wall-clock duration.
func ObserveVerification(protocol, outcome string, duration time.Duration) {
	VerificationAttempts.WithLabelValues(protocol, outcome).Inc()
	VerificationDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}
