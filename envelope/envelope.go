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

// Package envelope implements the one-to-one ciphertext delivery state
// machine: send, acknowledge, and read-unread, anchored by a
// self-addressing envelope hash.
package envelope

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/trustmesh/msgauth/canon"
	"github.com/trustmesh/msgauth/challenge"
	"github.com/trustmesh/msgauth/internal/metrics"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/mcrypto"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// DefaultTTL is the envelope lifetime when the sender does not specify
// one.
const DefaultTTL = 24 * time.Hour

// HeaderVersion is the "ver" field stamped into the hashed header.
const HeaderVersion = "envelope/1"

// MaxReadLimit bounds read-unread regardless of the caller-requested
// limit.
const MaxReadLimit = 1000

// DefaultReadLimit is used when the caller does not specify a limit.
const DefaultReadLimit = 100

// Notifier is notified of newly delivered envelopes so the subscription
// adapter can fan them out; it is an optional collaborator.
type Notifier interface {
	Notify(recipientAID string, e storage.Envelope)
}

// Engine implements the send/ack/read operations against a
// storage.Store and a configured server origin (the ack receipt
// audience).
type Engine struct {
	origin   string
	notifier Notifier
}

// New returns an Engine. notifier may be nil.
func New(origin string, notifier Notifier) *Engine {
	return &Engine{origin: origin, notifier: notifier}
}

// SendInput carries a send operation's logical fields, already
// authenticated; the caller supplies the verified sender identity
// separately since authentication happens upstream of the envelope
// engine.
type SendInput struct {
	RecipientAID string
	CT           []byte
	Typ          string
	EK           string
	Alg          string
	TTL          time.Duration
}

// header is the canonicalized, server-stamped structure whose hash is
// the envelope's SAID.
type header struct {
	Ver       string `json:"ver"`
	RecpAID   string `json:"recpAid"`
	SenderAID string `json:"senderAid"`
	CTHash    string `json:"ctHash"`
	Alg       string `json:"alg"`
	EK        string `json:"ek"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Send anchors and stores a ciphertext envelope from sender to
// in.RecipientAID. The insert is idempotent on the resulting id: a
// resend of byte-identical content (same sender, recipient, ct, alg,
// ek, and TTL) within the same millisecond of created-at collapses to the same
// SAID and is a no-op on the second call.
func (e *Engine) Send(ctx context.Context, tx storage.Tx, sender string, senderKSN uint64, senderEvtSAID, usedChallengeID string, senderSig []string, in SendInput, now time.Time) (storage.Envelope, error) {
	ttl := in.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctHash := mcrypto.SHA256B64(in.CT)
	createdAt := now
	expiresAt := now.Add(ttl)

	hb, err := canon.Canonicalize(header{
		Ver:       HeaderVersion,
		RecpAID:   in.RecipientAID,
		SenderAID: sender,
		CTHash:    ctHash,
		Alg:       in.Alg,
		EK:        in.EK,
		CreatedAt: createdAt.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
	})
	if err != nil {
		return storage.Envelope{}, mauth.Wrap(err, "envelope header canonicalize")
	}
	envelopeHash := sha256Hex(hb)
	id := envelopeHash

	stored, inserted, err := tx.InsertEnvelope(ctx, storage.Envelope{
		ID:              id,
		SenderAID:       sender,
		RecipientAID:    in.RecipientAID,
		CT:              in.CT,
		CTHash:          ctHash,
		Typ:             in.Typ,
		Alg:             in.Alg,
		EK:              in.EK,
		CreatedAt:       createdAt,
		ExpiresAt:       expiresAt,
		Retrieved:       false,
		SenderSig:       senderSig,
		SenderKSN:       senderKSN,
		SenderEvtSAID:   senderEvtSAID,
		EnvelopeHash:    envelopeHash,
		UsedChallengeID: usedChallengeID,
	})
	if err != nil {
		metrics.EnvelopesSent.WithLabelValues(string(mauth.KindInternal)).Inc()
		return storage.Envelope{}, mauth.Wrap(err, "envelope insert")
	}
	if inserted {
		metrics.EnvelopesSent.WithLabelValues("inserted").Inc()
	} else {
		metrics.EnvelopesSent.WithLabelValues("idempotent").Inc()
	}

	if inserted && e.notifier != nil {
		e.notifier.Notify(in.RecipientAID, stored)
	}
	return stored, nil
}

// receiptPayload is what each receipt signature is computed over.
type receiptPayload struct {
	EnvelopeHash string `json:"envelopeHash"`
	Aud          string `json:"aud"`
}

// ReceiptMessage returns the exact bytes a recipient signs to acknowledge
// an envelope: the canonical form of {envelopeHash, aud}. Exposed so
// clients and the Ack verifier can never drift on the signed payload.
func ReceiptMessage(envelopeHash, origin string) ([]byte, error) {
	return canon.Canonicalize(receiptPayload{EnvelopeHash: envelopeHash, Aud: origin})
}

// Ack verifies receiver's receipt signatures over the envelope's hash
// and transitions it to retrieved. A re-ack of an already-retrieved
// envelope is a no-op success that leaves the stored receipt fields
// untouched.
func (e *Engine) Ack(ctx context.Context, tx storage.Tx, id, receiver string, receiptSigs []string, receiverKSN uint64, receiverEvtSAID string) (_ storage.Envelope, err error) {
	outcome := "retrieved"
	defer func() {
		if err != nil {
			outcome = string(outcomeKind(err))
		}
		metrics.EnvelopesAcked.WithLabelValues(outcome).Inc()
	}()

	env, err := tx.GetEnvelope(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return storage.Envelope{}, mauth.ErrEnvelopeNotFound
		}
		return storage.Envelope{}, mauth.Wrap(err, "envelope lookup")
	}
	if env.RecipientAID != receiver {
		return storage.Envelope{}, mauth.ErrDenied
	}
	if env.Retrieved {
		outcome = "idempotent"
		return env, nil
	}

	ks, kErr := tx.Lookup(ctx, receiver)
	if kErr != nil {
		if kErr == storage.ErrNotFound {
			return storage.Envelope{}, mauth.ErrKeyStateNotFound
		}
		return storage.Envelope{}, mauth.Wrap(kErr, "key state lookup")
	}

	msg, cErr := ReceiptMessage(env.EnvelopeHash, e.origin)
	if cErr != nil {
		return storage.Envelope{}, mauth.Wrap(cErr, "receipt payload canonicalize")
	}

	threshold, tErr := challenge.ParseHexThreshold(ks.Threshold)
	if tErr != nil {
		return storage.Envelope{}, mauth.New(mauth.KindValidation, "threshold").WithDetail("threshold", ks.Threshold)
	}
	if vErr := challenge.VerifyThreshold(msg, receiptSigs, ks.Keys, threshold); vErr != nil {
		return storage.Envelope{}, vErr
	}

	stored, _, mErr := tx.MarkEnvelopeRetrieved(ctx, id, receiptSigs, receiverKSN, receiverEvtSAID)
	if mErr != nil {
		return storage.Envelope{}, mauth.Wrap(mErr, "mark envelope retrieved")
	}
	return stored, nil
}

// outcomeKind reduces err to the label recorded on envelope metrics: the
// mauth.Kind if err is a *mauth.Error, otherwise "internal".
func outcomeKind(err error) mauth.Kind {
	if e, ok := err.(*mauth.Error); ok {
		return e.Kind
	}
	return mauth.KindInternal
}

// ReadUnread returns the caller's unread envelopes, oldest first,
// capped at MaxReadLimit regardless of the requested limit.
func ReadUnread(ctx context.Context, store storage.EnvelopeStore, recipientAID string, limit int, now time.Time) ([]storage.Envelope, error) {
	metrics.ReadUnreadQueries.Inc()
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	if limit > MaxReadLimit {
		limit = MaxReadLimit
	}
	envs, err := store.ListUnread(ctx, recipientAID, limit)
	if err != nil {
		return nil, mauth.Wrap(err, "read unread")
	}
	out := envs[:0]
	for _, e := range envs {
		if now.Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	return out, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
