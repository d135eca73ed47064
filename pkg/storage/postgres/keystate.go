// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trustmesh/msgauth/pkg/storage"
)

func register(ctx context.Context, q queryer, ks storage.KeyState) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO key_states (aid, ksn, keys, threshold, last_event_said, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (aid) DO NOTHING`,
		ks.AID, ks.KSN, ks.Keys, ks.Threshold, ks.LastEventSAID, ks.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: register key state: %w", err)
	}
	if rowsAffected(tag) == 0 {
		return storage.ErrConflict
	}
	return nil
}

func lookup(ctx context.Context, q queryer, aid string) (storage.KeyState, error) {
	row := q.QueryRow(ctx, `
		SELECT aid, ksn, keys, threshold, last_event_said, updated_at
		FROM key_states WHERE aid = $1`, aid)
	var ks storage.KeyState
	if err := row.Scan(&ks.AID, &ks.KSN, &ks.Keys, &ks.Threshold, &ks.LastEventSAID, &ks.UpdatedAt); err != nil {
		return storage.KeyState{}, mapNotFound(err)
	}
	return ks, nil
}

func rotate(ctx context.Context, q queryer, aid string, oldKsn uint64, next storage.KeyState) error {
	tag, err := q.Exec(ctx, `
		UPDATE key_states
		SET ksn = $1, keys = $2, threshold = $3, last_event_said = $4, updated_at = $5
		WHERE aid = $6 AND ksn = $7`,
		next.KSN, next.Keys, next.Threshold, next.LastEventSAID, next.UpdatedAt, aid, oldKsn)
	if err != nil {
		return fmt.Errorf("postgres: rotate key state: %w", err)
	}
	if rowsAffected(tag) == 0 {
		if _, lookupErr := lookup(ctx, q, aid); errors.Is(lookupErr, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

func rowsAffected(tag pgconn.CommandTag) int64 { return tag.RowsAffected() }
