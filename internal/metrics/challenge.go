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
	// ChallengesIssued counts challenge-response tokens issued, labeled
	// by purpose.
	ChallengesIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "issued_total",
			Help:      "Total number of challenges issued",
		},
		[]string{"purpose"},
	)

	// ChallengesProved counts proof attempts against an issued
	// challenge, labeled by purpose and outcome ("accepted" or the
	// mauth.Kind of the rejection).
	ChallengesProved = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "proved_total",
			Help:      "Total number of challenge proof attempts",
		},
		[]string{"purpose", "outcome"},
	)
)
