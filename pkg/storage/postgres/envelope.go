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

	"github.com/jackc/pgx/v5"

	"github.com/trustmesh/msgauth/pkg/storage"
)

func insertEnvelope(ctx context.Context, q queryer, e storage.Envelope) (storage.Envelope, bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO envelopes (
			id, sender_aid, recipient_aid, ct, ct_hash, typ, alg, ek,
			created_at, expires_at, retrieved, sender_sig, sender_ksn,
			sender_evt_said, envelope_hash, used_challenge_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.SenderAID, e.RecipientAID, e.CT, e.CTHash, e.Typ, e.Alg, e.EK,
		e.CreatedAt, e.ExpiresAt, e.Retrieved, e.SenderSig, e.SenderKSN,
		e.SenderEvtSAID, e.EnvelopeHash, e.UsedChallengeID)
	if err != nil {
		return storage.Envelope{}, false, fmt.Errorf("postgres: insert envelope: %w", err)
	}
	if rowsAffected(tag) == 0 {
		existing, getErr := getEnvelope(ctx, q, e.ID)
		if getErr != nil {
			return storage.Envelope{}, false, getErr
		}
		return existing, false, nil
	}
	return e, true, nil
}

func getEnvelope(ctx context.Context, q queryer, id string) (storage.Envelope, error) {
	row := q.QueryRow(ctx, `
		SELECT id, sender_aid, recipient_aid, ct, ct_hash, typ, alg, ek,
			created_at, expires_at, retrieved, sender_sig, sender_ksn,
			sender_evt_said, envelope_hash, used_challenge_id,
			receipt_sig, receipt_ksn, receipt_evt_said
		FROM envelopes WHERE id = $1`, id)
	return scanEnvelope(row)
}

func scanEnvelope(row pgx.Row) (storage.Envelope, error) {
	var e storage.Envelope
	var receiptSig []string
	var receiptKSN *uint64
	var receiptEvtSAID *string
	if err := row.Scan(
		&e.ID, &e.SenderAID, &e.RecipientAID, &e.CT, &e.CTHash, &e.Typ, &e.Alg, &e.EK,
		&e.CreatedAt, &e.ExpiresAt, &e.Retrieved, &e.SenderSig, &e.SenderKSN,
		&e.SenderEvtSAID, &e.EnvelopeHash, &e.UsedChallengeID,
		&receiptSig, &receiptKSN, &receiptEvtSAID,
	); err != nil {
		return storage.Envelope{}, mapNotFound(err)
	}
	e.ReceiptSig = receiptSig
	if receiptKSN != nil {
		e.ReceiptKSN = *receiptKSN
	}
	if receiptEvtSAID != nil {
		e.ReceiptEvtSAID = *receiptEvtSAID
	}
	return e, nil
}

func markEnvelopeRetrieved(ctx context.Context, q queryer, id string, receiptSig []string, receiptKSN uint64, receiptEvtSAID string) (storage.Envelope, bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE envelopes
		SET retrieved = true, receipt_sig = $1, receipt_ksn = $2, receipt_evt_said = $3
		WHERE id = $4 AND retrieved = false`,
		receiptSig, receiptKSN, receiptEvtSAID, id)
	if err != nil {
		return storage.Envelope{}, false, fmt.Errorf("postgres: mark envelope retrieved: %w", err)
	}
	if rowsAffected(tag) == 0 {
		existing, getErr := getEnvelope(ctx, q, id)
		if getErr != nil {
			return storage.Envelope{}, false, getErr
		}
		return existing, false, nil
	}
	updated, getErr := getEnvelope(ctx, q, id)
	if getErr != nil {
		return storage.Envelope{}, false, getErr
	}
	return updated, true, nil
}

func listUnread(ctx context.Context, q queryer, recipientAID string, limit int) ([]storage.Envelope, error) {
	rows, err := q.Query(ctx, `
		SELECT id, sender_aid, recipient_aid, ct, ct_hash, typ, alg, ek,
			created_at, expires_at, retrieved, sender_sig, sender_ksn,
			sender_evt_said, envelope_hash, used_challenge_id,
			receipt_sig, receipt_ksn, receipt_evt_said
		FROM envelopes
		WHERE recipient_aid = $1 AND retrieved = false AND expires_at > now()
		ORDER BY created_at ASC
		LIMIT $2`, recipientAID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unread: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func listSince(ctx context.Context, q queryer, recipientAID string, since time.Time, limit int) ([]storage.Envelope, error) {
	rows, err := q.Query(ctx, `
		SELECT id, sender_aid, recipient_aid, ct, ct_hash, typ, alg, ek,
			created_at, expires_at, retrieved, sender_sig, sender_ksn,
			sender_evt_said, envelope_hash, used_challenge_id,
			receipt_sig, receipt_ksn, receipt_evt_said
		FROM envelopes
		WHERE recipient_aid = $1 AND created_at > $2
		ORDER BY created_at ASC
		LIMIT $3`, recipientAID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list since: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func scanEnvelopes(rows pgx.Rows) ([]storage.Envelope, error) {
	var out []storage.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func deleteExpiredRetrieved(ctx context.Context, q queryer, before time.Time, limit int) (int, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM envelopes WHERE id IN (
			SELECT id FROM envelopes WHERE retrieved = true AND expires_at < $1 LIMIT $2
		)`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("postgres: gc envelopes: %w", err)
	}
	return int(rowsAffected(tag)), nil
}
