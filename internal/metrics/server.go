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
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPath is the scrape path when the metrics.path configuration
// knob is empty.
const DefaultPath = "/metrics"

// Handler serves the msgauth metric families registered in this
// package (verification, challenge, envelope, and sweep) from the
// package-private Registry, so embedding processes never see msgauth's
// series mixed into the Prometheus global default.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewServer returns an http.Server exposing Handler at path on addr.
// The caller owns the server's lifecycle: the serve command runs it
// alongside the main listener and shuts both down behind the same
// drain barrier, so a scrape can never observe a process whose ledgers
// are already torn down.
func NewServer(addr, path string) *http.Server {
	if path == "" {
		path = DefaultPath
	}
	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

// StartServer runs a fire-and-forget metrics server at DefaultPath, for
// one-shot tools that have no shutdown sequence of their own.
func StartServer(addr string) error {
	return NewServer(addr, DefaultPath).ListenAndServe()
}
