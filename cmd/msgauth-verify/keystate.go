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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trustmesh/msgauth/keystate"
	"github.com/trustmesh/msgauth/mauth"
)

var keystateCmd = &cobra.Command{
	Use:   "keystate",
	Short: "Inspect key state records",
}

var keystateInspectCmd = &cobra.Command{
	Use:   "inspect <aid>",
	Short: "Print the current key state for an AID",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyStateInspect,
}

func init() {
	rootCmd.AddCommand(keystateCmd)
	keystateCmd.AddCommand(keystateInspectCmd)
}

func runKeyStateInspect(cmd *cobra.Command, args []string) error {
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

	keys := keystate.New(store, cfg.KeyStateCacheTTL())
	ks, err := keys.Lookup(ctx, args[0])
	if err != nil {
		if mauth.Is(err, mauth.KindNotFound) {
			return fmt.Errorf("keystate: no record for %s", args[0])
		}
		return err
	}

	out, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
