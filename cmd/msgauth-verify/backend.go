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

	"github.com/trustmesh/msgauth/config"
	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/pkg/storage/memory"
	"github.com/trustmesh/msgauth/pkg/storage/postgres"
)

// openBackend picks the storage.Store implementation named by
// cfg.Backend.URL: "memory://" (or empty) selects the in-process store,
// anything else is handed to the Postgres driver as a DSN.
func openBackend(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Backend.URL == "" || cfg.Backend.URL == "memory://" {
		return memory.New(), nil
	}

	pg, err := postgres.Open(ctx, cfg.Backend.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres backend: %w", err)
	}
	return pg, nil
}

func loadConfig() (*config.Config, error) {
	config.LoadDotEnv("")
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
