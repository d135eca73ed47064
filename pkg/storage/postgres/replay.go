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

func checkAndInsert(ctx context.Context, q queryer, n storage.ReplayNonce) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO replay_nonces (key_id, nonce, used_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key_id, nonce) DO NOTHING`,
		n.KeyID, n.Nonce, n.UsedAt, n.ExpiresAt)
	if err != nil {
		return fmt.Errorf("postgres: insert replay nonce: %w", err)
	}
	if rowsAffected(tag) == 0 {
		return storage.ErrConflict
	}
	return nil
}

func deleteExpiredNonces(ctx context.Context, q queryer, before time.Time, limit int) (int, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM replay_nonces WHERE (key_id, nonce) IN (
			SELECT key_id, nonce FROM replay_nonces WHERE expires_at < $1 LIMIT $2
		)`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("postgres: gc replay nonces: %w", err)
	}
	return int(rowsAffected(tag)), nil
}
