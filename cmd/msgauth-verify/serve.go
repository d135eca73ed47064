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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trustmesh/msgauth/authn"
	"github.com/trustmesh/msgauth/config"
	"github.com/trustmesh/msgauth/gc"
	"github.com/trustmesh/msgauth/internal/logger"
	"github.com/trustmesh/msgauth/internal/metrics"
	"github.com/trustmesh/msgauth/service"
	"github.com/trustmesh/msgauth/subscribe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the msgauth server: HTTP subscribe endpoint, metrics, and the sweep loop",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configureLogging(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	subs := subscribe.New(subscribe.DefaultBacklog)
	svc := service.New(store, cfg.Server.Origin, cfg.KeyStateCacheTTL(), cfg.ChallengeTTL(), cfg.NonceTTL(), nil, subs)

	mux := http.NewServeMux()
	mux.Handle("/ws/subscribe", subscribe.NewServer(svc, subscribeResolver(svc)).Handler())

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path)
		go func() {
			logger.Info("metrics server starting",
				logger.String("addr", cfg.Metrics.Addr),
				logger.String("path", cfg.Metrics.Path))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorMsg("metrics server stopped", logger.Error(err))
			}
		}()
	}

	sweeper := gc.New(store, gc.DefaultBatchLimit)
	go sweeper.Run(ctx, gc.DefaultInterval)

	go func() {
		logger.Info("msgauth server starting", logger.String("addr", cfg.Server.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorMsg("server stopped", logger.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.ErrorMsg("in-flight verifications did not drain before deadline", logger.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return srv.Shutdown(shutdownCtx)
}

// configureLogging replaces the default logger with one built from the
// loaded logging configuration.
func configureLogging(cfg *config.Config) {
	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}
	logger.SetDefaultLogger(logger.NewLogger(out,
		logger.ParseLevel(cfg.Logging.Level),
		logger.ParseFormat(cfg.Logging.Format)))
}

// subscribeResolver builds the AIDResolver the websocket endpoint uses to
// bind an upgrade request to a caller identity: the caller signs a
// fixed "receive"-purpose statement the same way it would frame any
// other per-request signature, carried as query parameters since a
// WebSocket upgrade request has no body.
func subscribeResolver(svc *service.Service) subscribe.AIDResolver {
	return func(r *http.Request) (string, time.Time, error) {
		q := r.URL.Query()
		ts, err := strconv.ParseInt(q.Get("timestamp"), 10, 64)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("subscribe: malformed timestamp")
		}
		sig := authn.Sig{
			KeyID:     q.Get("keyId"),
			Nonce:     q.Get("nonce"),
			Timestamp: ts,
			Signature: q.Get("signature"),
		}

		aid, err := svc.AuthenticateSubscribe(r.Context(), sig, time.Now())
		if err != nil {
			return "", time.Time{}, err
		}

		since := time.Now()
		if sinceMS, err := strconv.ParseInt(q.Get("since"), 10, 64); err == nil {
			since = time.UnixMilli(sinceMS)
		}
		return aid, since, nil
	}
}
