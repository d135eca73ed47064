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
)

const schema = `
CREATE TABLE IF NOT EXISTS key_states (
	aid             TEXT PRIMARY KEY,
	ksn             BIGINT NOT NULL,
	keys            TEXT[] NOT NULL,
	threshold       TEXT NOT NULL,
	last_event_said TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS challenges (
	id         TEXT PRIMARY KEY,
	aid        TEXT NOT NULL,
	purpose    TEXT NOT NULL,
	args_hash  TEXT NOT NULL,
	nonce      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	used       BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS challenges_expires_at_idx ON challenges (expires_at);

CREATE TABLE IF NOT EXISTS replay_nonces (
	key_id     TEXT NOT NULL,
	nonce      TEXT NOT NULL,
	used_at    TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (key_id, nonce)
);
CREATE INDEX IF NOT EXISTS replay_nonces_expires_at_idx ON replay_nonces (expires_at);

CREATE TABLE IF NOT EXISTS envelopes (
	id                TEXT PRIMARY KEY,
	sender_aid        TEXT NOT NULL,
	recipient_aid     TEXT NOT NULL,
	ct                BYTEA NOT NULL,
	ct_hash           TEXT NOT NULL,
	typ               TEXT NOT NULL DEFAULT '',
	alg               TEXT NOT NULL DEFAULT '',
	ek                TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ NOT NULL,
	retrieved         BOOLEAN NOT NULL DEFAULT false,
	sender_sig        TEXT[] NOT NULL,
	sender_ksn        BIGINT NOT NULL,
	sender_evt_said   TEXT NOT NULL DEFAULT '',
	envelope_hash     TEXT NOT NULL,
	used_challenge_id TEXT NOT NULL DEFAULT '',
	receipt_sig       TEXT[],
	receipt_ksn       BIGINT,
	receipt_evt_said  TEXT
);
CREATE INDEX IF NOT EXISTS envelopes_recipient_unread_idx ON envelopes (recipient_aid, retrieved, created_at);
CREATE INDEX IF NOT EXISTS envelopes_expires_at_idx ON envelopes (retrieved, expires_at);

CREATE TABLE IF NOT EXISTS allow_list (
	owner_aid  TEXT NOT NULL,
	target_aid TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	added_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner_aid, target_aid)
);

CREATE TABLE IF NOT EXISTS deny_list (
	owner_aid  TEXT NOT NULL,
	target_aid TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	added_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner_aid, target_aid)
);
`

// Migrate creates every table and index msgauth needs if they are not
// already present. Safe to call on every process start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
