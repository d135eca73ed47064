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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trustmesh/msgauth/gc"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single bounded-batch GC pass over expired challenges, nonces, and retrieved envelopes",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sweeper := gc.New(store, gc.DefaultBatchLimit)
	res, err := sweeper.SweepOnce(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	fmt.Printf("challenges deleted: %d\n", res.ChallengesDeleted)
	fmt.Printf("nonces deleted:     %d\n", res.NoncesDeleted)
	fmt.Printf("envelopes deleted:  %d\n", res.EnvelopesDeleted)
	return nil
}
