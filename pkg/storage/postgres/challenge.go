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
	"time"

	"github.com/trustmesh/msgauth/pkg/storage"
)

func insertChallenge(ctx context.Context, q queryer, c storage.Challenge) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO challenges (id, aid, purpose, args_hash, nonce, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.AID, c.Purpose, c.ArgsHash, c.Nonce, c.CreatedAt, c.ExpiresAt, c.Used)
	if err != nil {
		return fmt.Errorf("postgres: insert challenge: %w", err)
	}
	if rowsAffected(tag) == 0 {
		return storage.ErrConflict
	}
	return nil
}

func getChallenge(ctx context.Context, q queryer, id string) (storage.Challenge, error) {
	row := q.QueryRow(ctx, `
		SELECT id, aid, purpose, args_hash, nonce, created_at, expires_at, used
		FROM challenges WHERE id = $1`, id)
	var c storage.Challenge
	if err := row.Scan(&c.ID, &c.AID, &c.Purpose, &c.ArgsHash, &c.Nonce, &c.CreatedAt, &c.ExpiresAt, &c.Used); err != nil {
		return storage.Challenge{}, mapNotFound(err)
	}
	return c, nil
}

func markUsed(ctx context.Context, q queryer, id string) error {
	tag, err := q.Exec(ctx, `
		UPDATE challenges SET used = true WHERE id = $1 AND used = false`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark challenge used: %w", err)
	}
	if rowsAffected(tag) == 0 {
		if _, lookupErr := getChallenge(ctx, q, id); lookupErr != nil {
			return lookupErr
		}
		return storage.ErrConflict
	}
	return nil
}

func deleteExpiredChallenges(ctx context.Context, q queryer, before time.Time, limit int) (int, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM challenges WHERE id IN (
			SELECT id FROM challenges WHERE expires_at < $1 LIMIT $2
		)`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("postgres: gc challenges: %w", err)
	}
	return int(rowsAffected(tag)), nil
}
