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
	"fmt"

	"github.com/trustmesh/msgauth/pkg/storage"
)

// table must be "allow_list" or "deny_list"; both share a schema, so the
// list kind is parameterized rather than duplicating the SQL twice.

func addEntry(ctx context.Context, q queryer, table string, e storage.ListEntry) error {
	_, err := q.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (owner_aid, target_aid, note, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_aid, target_aid) DO UPDATE SET note = EXCLUDED.note`, table),
		e.OwnerAID, e.TargetAID, e.Note, e.AddedAt)
	if err != nil {
		return fmt.Errorf("postgres: add %s entry: %w", table, err)
	}
	return nil
}

func removeEntry(ctx context.Context, q queryer, table, ownerAID, targetAID string) error {
	_, err := q.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE owner_aid = $1 AND target_aid = $2`, table),
		ownerAID, targetAID)
	if err != nil {
		return fmt.Errorf("postgres: remove %s entry: %w", table, err)
	}
	return nil
}

func clearEntries(ctx context.Context, q queryer, table, ownerAID string) error {
	_, err := q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE owner_aid = $1`, table), ownerAID)
	if err != nil {
		return fmt.Errorf("postgres: clear %s: %w", table, err)
	}
	return nil
}

func isListActive(ctx context.Context, q queryer, table, ownerAID string) (bool, error) {
	row := q.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE owner_aid = $1)`, table), ownerAID)
	var active bool
	if err := row.Scan(&active); err != nil {
		return false, fmt.Errorf("postgres: %s active check: %w", table, err)
	}
	return active, nil
}

func hasEntry(ctx context.Context, q queryer, table, ownerAID, targetAID string) (bool, error) {
	row := q.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS(SELECT 1 FROM %s WHERE owner_aid = $1 AND target_aid = $2)`, table),
		ownerAID, targetAID)
	var present bool
	if err := row.Scan(&present); err != nil {
		return false, fmt.Errorf("postgres: %s lookup: %w", table, err)
	}
	return present, nil
}
