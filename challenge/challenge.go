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

// Package challenge implements the server side of the challenge-response
// authentication protocol: issuing single-use, purpose- and args-bound
// tokens, and proving control of one or more keys against a threshold.
package challenge

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trustmesh/msgauth/canon"
	"github.com/trustmesh/msgauth/internal/metrics"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/mcrypto"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// protocolName is the metrics label for the challenge-response protocol.
const protocolName = "challenge-response"

// DefaultTTL is the default challenge lifetime.
const DefaultTTL = 120 * time.Second

// MaxSkew is the maximum age a challenge may have when being proved,
// distinct from its TTL so the two can be tuned independently even
// though they share a default.
const MaxSkew = 2 * time.Minute

// ProtocolVersion is the "ver" field stamped into every issued payload.
const ProtocolVersion = "msg-auth/1"

// Payload is the document returned to the client on Issue; the client
// signs its canonical form (or, for threshold schemes, canonical forms
// signed by several keys).
type Payload struct {
	Ver      string `json:"ver"`
	Aud      string `json:"aud"`
	Ts       int64  `json:"ts"`
	Nonce    string `json:"nonce"`
	AID      string `json:"aid"`
	Purpose  string `json:"purpose"`
	ArgsHash string `json:"argsHash"`
}

// Issuer issues and proves challenges against a storage.Store and a
// configured server origin (the "aud" audience string).
type Issuer struct {
	origin string
	ttl    time.Duration
}

// New returns an Issuer. origin is stamped as "aud" in every payload.
func New(origin string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{origin: origin, ttl: ttl}
}

// Issued is the result of Issue: the opaque challenge id plus the payload
// the client must sign.
type Issued struct {
	ChallengeID string
	Payload     Payload
}

// Issue creates a new challenge for aid bound to purpose and argsHash.
// For purpose="registerUser" the caller is expected to have already
// validated that aid is derivable from the declared public key (see
// the registration bootstrap flow), since no key state exists yet.
func (i *Issuer) Issue(ctx context.Context, store storage.ChallengeStore, aid, purpose, argsHash string, now time.Time) (Issued, error) {
	nonce := uuid.NewString()
	id := uuid.NewString()

	c := storage.Challenge{
		ID:        id,
		AID:       aid,
		Purpose:   purpose,
		ArgsHash:  argsHash,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
		Used:      false,
	}
	if err := store.Insert(ctx, c); err != nil {
		return Issued{}, mauth.Wrap(err, "challenge issue")
	}
	metrics.ChallengesIssued.WithLabelValues(purpose).Inc()

	return Issued{
		ChallengeID: id,
		Payload: Payload{
			Ver:      ProtocolVersion,
			Aud:      i.origin,
			Ts:       now.UnixMilli(),
			Nonce:    nonce,
			AID:      aid,
			Purpose:  purpose,
			ArgsHash: argsHash,
		},
	}, nil
}

// Proof is the client's response to a previously issued challenge.
type Proof struct {
	ChallengeID string
	Sigs        []string
	KSN         uint64
}

// Verified is the outcome of a successful Prove.
type Verified struct {
	AID         string
	KSN         uint64
	EvtSAID     string
	ChallengeID string
}

// Prove validates p against the challenge it references and the given
// key state, consuming the challenge only on full success: a failed
// proof must not burn the challenge, so the caller can retry within
// its TTL.
func Prove(ctx context.Context, store storage.Tx, origin string, p Proof, expectedPurpose string, args map[string]interface{}, now time.Time) (_ Verified, err error) {
	start := time.Now()
	defer func() {
		outcome := "accepted"
		if err != nil {
			outcome = string(outcomeKind(err))
		}
		metrics.ChallengesProved.WithLabelValues(expectedPurpose, outcome).Inc()
		metrics.ObserveVerification(protocolName, outcome, time.Since(start))
	}()

	c, err := store.Get(ctx, p.ChallengeID)
	if err != nil {
		if err == storage.ErrNotFound {
			return Verified{}, mauth.ErrChallengeNotFound
		}
		return Verified{}, mauth.Wrap(err, "challenge lookup")
	}
	if c.Used {
		return Verified{}, mauth.ErrChallengeUsed
	}
	if now.After(c.ExpiresAt) {
		return Verified{}, mauth.ErrChallengeExpired
	}
	if now.Sub(c.CreatedAt) > MaxSkew {
		return Verified{}, mauth.ErrChallengeSkew
	}
	if c.Purpose != expectedPurpose {
		return Verified{}, mauth.ErrPurposeMismatch
	}

	argsHash, err := hashArgs(args)
	if err != nil {
		return Verified{}, mauth.Wrap(err, "args hash")
	}
	if argsHash != c.ArgsHash {
		return Verified{}, mauth.ErrArgsHash
	}

	ks, err := store.Lookup(ctx, c.AID)
	if err != nil {
		if err == storage.ErrNotFound {
			return Verified{}, mauth.ErrKeyStateNotFound
		}
		return Verified{}, mauth.Wrap(err, "key state lookup")
	}
	if ks.KSN != p.KSN {
		return Verified{}, mauth.ErrKsnMismatch
	}

	msg, err := CanonicalPayload(origin, c.AID, c.Purpose, c.ArgsHash, c.Nonce, c.CreatedAt.UnixMilli())
	if err != nil {
		return Verified{}, mauth.Wrap(err, "challenge payload canonicalize")
	}

	threshold, err := ParseHexThreshold(ks.Threshold)
	if err != nil {
		return Verified{}, mauth.New(mauth.KindValidation, "threshold").WithDetail("threshold", ks.Threshold)
	}

	if err := VerifyThreshold(msg, p.Sigs, ks.Keys, threshold); err != nil {
		return Verified{}, err
	}

	if err := store.MarkUsed(ctx, c.ID); err != nil {
		if err == storage.ErrConflict {
			return Verified{}, mauth.ErrChallengeUsed
		}
		return Verified{}, mauth.Wrap(err, "mark challenge used")
	}

	return Verified{AID: c.AID, KSN: ks.KSN, EvtSAID: ks.LastEventSAID, ChallengeID: c.ID}, nil
}

// Prove validates p against the issuer's own origin as audience. See the
// package-level Prove for the full contract.
func (i *Issuer) Prove(ctx context.Context, store storage.Tx, p Proof, expectedPurpose string, args map[string]interface{}, now time.Time) (Verified, error) {
	return Prove(ctx, store, i.origin, p, expectedPurpose, args, now)
}

// CanonicalPayload reconstructs the exact bytes a client signs for a
// challenge: the canonical form of its Payload. Issue and Prove both
// route through this so the signed and verified bytes can never drift.
func CanonicalPayload(origin, aid, purpose, argsHash, nonce string, ts int64) ([]byte, error) {
	return canon.Canonicalize(Payload{
		Ver:      ProtocolVersion,
		Aud:      origin,
		Ts:       ts,
		Nonce:    nonce,
		AID:      aid,
		Purpose:  purpose,
		ArgsHash: argsHash,
	})
}

func hashArgs(args map[string]interface{}) (string, error) {
	b, err := canon.CanonicalizeArgs(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashArgs exposes the argsHash computation used both at Issue time by
// the caller and here at Prove time, so both sides of the binding agree.
func HashArgs(args map[string]interface{}) (string, error) { return hashArgs(args) }

// SplitIndexedSig parses "{index}-{base64url-signature}", the wire form
// of a multisig contribution shared by the challenge and envelope
// protocols. It splits on the first hyphen only: the index is always
// plain digits, but the base64url signature may itself contain further
// hyphens.
func SplitIndexedSig(s string) (idx int, sig []byte, ok bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, nil, false
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 0 {
		return 0, nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return 0, nil, false
	}
	return n, raw, true
}

// ParseHexThreshold parses a key state's hex-encoded signature
// threshold.
func ParseHexThreshold(threshold string) (int, error) {
	v, err := strconv.ParseInt(threshold, 16, 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// VerifyThreshold checks that signatures from at least threshold
// DISTINCT keys verify msg against the indexed public keys in keys,
// returning mauth.ErrThresholdNotMet if not enough do. The threshold
// counts authorizing keys, not signature strings: a repeated index
// contributes once no matter how many times it appears in sigs, so a
// single cooperating key can never satisfy a multi-key threshold by
// duplicating its own entry.
func VerifyThreshold(msg []byte, sigs []string, keys []string, threshold int) error {
	counted := make([]bool, len(keys))
	valid := 0
	for _, s := range sigs {
		idx, sig, ok := SplitIndexedSig(s)
		if !ok || idx < 0 || idx >= len(keys) || counted[idx] {
			continue
		}
		if err := mcrypto.VerifyWithPublicKey(keys[idx], msg, sig); err == nil {
			counted[idx] = true
			valid++
		}
	}
	if valid < threshold {
		return mauth.ErrThresholdNotMet
	}
	return nil
}

// outcomeKind reduces err to the label recorded on the challenge-proof
// metric: the mauth.Kind if err is a *mauth.Error, otherwise "internal".
func outcomeKind(err error) mauth.Kind {
	if e, ok := err.(*mauth.Error); ok {
		return e.Kind
	}
	return mauth.KindInternal
}

// Sweep deletes expired challenges, at most limit per call.
func Sweep(ctx context.Context, store storage.ChallengeStore, now time.Time, limit int) (int, error) {
	n, err := store.DeleteExpired(ctx, now, limit)
	if err != nil {
		return 0, mauth.Wrap(err, "challenge sweep")
	}
	return n, nil
}
