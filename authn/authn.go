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

// Package authn implements the per-request signature protocol and a
// unified Authenticator that dispatches a mutation to either it or the
// challenge-response protocol, never accepting both for the same call.
package authn

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/trustmesh/msgauth/canon"
	"github.com/trustmesh/msgauth/challenge"
	"github.com/trustmesh/msgauth/internal/metrics"
	"github.com/trustmesh/msgauth/keystate"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/mcrypto"
	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/replay"
)

// protocolName is the metrics label for the per-request signature
// protocol, as opposed to challenge-response.
const protocolName = "per-request"

// MaxSkew is the maximum allowed difference between a request's
// timestamp and server time.
const MaxSkew = 5 * time.Minute

// Sig is the embedded per-request proof block: {keyId, nonce, timestamp,
// signature}. The signature covers a text-framed payload built from the
// remaining mutation arguments.
type Sig struct {
	KeyID     string `json:"keyId"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"` // base64url Ed25519 signature
}

// Verified is the outcome of a successful per-request verification.
type Verified struct {
	AID     string
	KSN     uint64
	EvtSAID string
}

// Verifier authenticates per-request-signed mutations against a
// keystate.Store for key lookups and a replay.Ledger for nonce
// protection.
type Verifier struct {
	keys   *keystate.Store
	replay *replay.Ledger
}

// New returns a Verifier.
func New(keys *keystate.Store, ledger *replay.Ledger) *Verifier {
	return &Verifier{keys: keys, replay: ledger}
}

// Verify runs the per-request protocol: args (with "sig" removed) are
// canonicalized into C, framed into the literal text payload, and
// checked against the key state for sig.KeyID. tx must be the same
// storage.Tx the caller's mutation runs under, so the replay-ledger
// insert commits or rolls back atomically with the mutation body.
func (v *Verifier) Verify(ctx context.Context, tx storage.Tx, args map[string]interface{}, sig Sig, now time.Time) (_ Verified, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(outcomeKind(err))
		}
		metrics.ObserveVerification(protocolName, outcome, time.Since(start))
	}()

	if sig.KeyID == "" || sig.Nonce == "" || sig.Signature == "" {
		return Verified{}, mauth.ErrSigMissing
	}

	c, cErr := canon.CanonicalizeArgs(args)
	if cErr != nil {
		return Verified{}, mauth.Wrap(cErr, "args canonicalize")
	}
	payload := framePayload(sig.Timestamp, sig.Nonce, sig.KeyID, c)

	ks, lErr := v.keys.LookupIn(ctx, tx, sig.KeyID)
	if lErr != nil {
		return Verified{}, lErr
	}

	skew := now.Sub(time.UnixMilli(sig.Timestamp))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxSkew {
		return Verified{}, mauth.ErrTimestampSkew
	}

	sigBytes, dErr := base64.RawURLEncoding.DecodeString(sig.Signature)
	if dErr != nil {
		return Verified{}, mauth.ErrSigMalformed
	}
	if len(ks.Keys) == 0 {
		return Verified{}, mauth.ErrSignatureInvalid
	}
	if vErr := mcrypto.VerifyWithPublicKey(ks.Keys[0], payload, sigBytes); vErr != nil {
		return Verified{}, mauth.ErrSignatureInvalid
	}

	if rErr := v.replay.CheckAndInsert(ctx, tx, sig.KeyID, sig.Nonce, now); rErr != nil {
		return Verified{}, rErr
	}

	return Verified{AID: sig.KeyID, KSN: ks.KSN, EvtSAID: ks.LastEventSAID}, nil
}

// outcomeKind reduces err to the label recorded on the verification
// metric: the mauth.Kind if err is a *mauth.Error, otherwise "internal".
func outcomeKind(err error) mauth.Kind {
	var e *mauth.Error
	if as, ok := err.(*mauth.Error); ok {
		e = as
		return e.Kind
	}
	return mauth.KindInternal
}

// framePayload builds the exact literal byte string the client signs.
func framePayload(timestamp int64, nonce, keyID string, canonicalArgs []byte) []byte {
	return []byte(fmt.Sprintf("timestamp: %d\nnonce: %s\nkeyId: %s\nargs: %s", timestamp, nonce, keyID, canonicalArgs))
}

// Auth is the challenge-response proof block carried on a mutation as
// the alternative to Sig.
type Auth struct {
	ChallengeID string   `json:"challengeId"`
	Sigs        []string `json:"sigs"`
	KSN         uint64   `json:"ksn"`
}

// Request is a mutation's proof-of-authorship: exactly one of Sig or
// Auth must be set.
type Request struct {
	Sig  *Sig
	Auth *Auth
}

// Authenticator dispatches a mutation's proof block to whichever
// protocol it carries. A request must never carry both.
type Authenticator struct {
	sig       *Verifier
	challenge *challenge.Issuer
}

// NewAuthenticator returns an Authenticator backed by both protocols.
func NewAuthenticator(sig *Verifier, ch *challenge.Issuer) *Authenticator {
	return &Authenticator{sig: sig, challenge: ch}
}

// Authenticate verifies req against args (the mutation's logical
// fields, proof block excluded) and purpose, returning the verified
// signer identity. purpose is only consulted for the challenge-response
// branch, which checks it and the hash of args against the issued
// challenge; the per-request branch signs over the framed args alone, so
// purpose is bound there only when the caller puts it into args.
func (a *Authenticator) Authenticate(ctx context.Context, tx storage.Tx, args map[string]interface{}, req Request, purpose string, now time.Time) (AID string, ksn uint64, evtSAID string, err error) {
	switch {
	case req.Sig != nil && req.Auth != nil:
		return "", 0, "", mauth.New(mauth.KindValidation, "sig").WithDetail("reason", "both sig and auth present")
	case req.Sig != nil:
		v, err := a.sig.Verify(ctx, tx, args, *req.Sig, now)
		if err != nil {
			return "", 0, "", err
		}
		return v.AID, v.KSN, v.EvtSAID, nil
	case req.Auth != nil:
		v, err := a.challenge.Prove(ctx, tx, challenge.Proof{ChallengeID: req.Auth.ChallengeID, Sigs: req.Auth.Sigs, KSN: req.Auth.KSN}, purpose, args, now)
		if err != nil {
			return "", 0, "", err
		}
		return v.AID, v.KSN, v.EvtSAID, nil
	default:
		return "", 0, "", mauth.ErrSigMissing
	}
}
