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

package service

import (
	"context"
	"time"

	"github.com/trustmesh/msgauth/challenge"
	"github.com/trustmesh/msgauth/internal/logger"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/mcrypto"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// RegisterInput declares the identity being onboarded: the AID the caller
// claims, the public keys backing it, and the threshold future mutations
// from this AID must meet.
type RegisterInput struct {
	AID       string
	Keys      []string
	Threshold string
}

// RegisterUser is the registration bootstrap: an AID has no key state
// yet, so it cannot be authenticated against a store lookup the way
// every other mutation is. Instead the caller proves
// control of the single declared key by proving a challenge issued for
// purpose=registerUser directly against that key, bypassing the
// key-state-must-exist precondition that challenge.Prove otherwise
// enforces. The key state is only persisted once that proof succeeds.
func (s *Service) RegisterUser(ctx context.Context, in RegisterInput, auth challenge.Proof, now time.Time) (storage.KeyState, error) {
	if in.AID == "" || len(in.Keys) == 0 || in.Threshold == "" {
		return storage.KeyState{}, mauth.New(mauth.KindValidation, "register, missing fields")
	}
	if _, err := mcrypto.PublicKeyFromAID(in.AID); err != nil {
		return storage.KeyState{}, mauth.New(mauth.KindValidation, "aid, malformed")
	}
	// The bootstrap key set is exactly the one key the AID
	// self-certifies; a declared key set that doesn't match the AID's
	// own encoded key could never be proved against with threshold 1.
	if len(in.Keys) != 1 || in.Keys[0] != in.AID[1:] {
		return storage.KeyState{}, mauth.New(mauth.KindValidation, "keys, must match aid")
	}

	if err := s.enter(); err != nil {
		return storage.KeyState{}, err
	}
	defer s.leave()

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	args := map[string]interface{}{"aid": in.AID, "keys": in.Keys, "threshold": in.Threshold}
	argsHash, err := challenge.HashArgs(args)
	if err != nil {
		return storage.KeyState{}, mauth.Wrap(err, "register args hash")
	}

	var ks storage.KeyState
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		v, err := s.verifyRegistration(ctx, tx, in.AID, argsHash, auth, now)
		if err != nil {
			return err
		}

		ks = storage.KeyState{
			AID:           in.AID,
			KSN:           0,
			Keys:          in.Keys,
			Threshold:     in.Threshold,
			LastEventSAID: v.ChallengeID,
			UpdatedAt:     now,
		}
		if err := tx.Register(ctx, ks); err != nil {
			if err == storage.ErrConflict {
				return mauth.ErrUserAlreadyExists
			}
			return mauth.Wrap(err, "key state register")
		}
		return nil
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = mauth.ErrVerificationTimeout
		}
		logger.Warn("registration rejected",
			logger.AID(in.AID),
			logger.Kind(string(kindOf(err))))
		return storage.KeyState{}, err
	}
	logger.Info("user registered", logger.AID(in.AID))
	return ks, nil
}

// verifyRegistration proves auth against the declared AID's own public key
// with an implicit threshold of one and ksn of zero, since no stored key
// state exists to read those values from.
func (s *Service) verifyRegistration(ctx context.Context, tx storage.Tx, aid, argsHash string, auth challenge.Proof, now time.Time) (challenge.Verified, error) {
	c, err := tx.Get(ctx, auth.ChallengeID)
	if err != nil {
		if err == storage.ErrNotFound {
			return challenge.Verified{}, mauth.ErrChallengeNotFound
		}
		return challenge.Verified{}, mauth.Wrap(err, "challenge lookup")
	}
	if c.Used {
		return challenge.Verified{}, mauth.ErrChallengeUsed
	}
	if now.After(c.ExpiresAt) {
		return challenge.Verified{}, mauth.ErrChallengeExpired
	}
	if now.Sub(c.CreatedAt) > challenge.MaxSkew {
		return challenge.Verified{}, mauth.ErrChallengeSkew
	}
	if c.Purpose != PurposeRegisterUser {
		return challenge.Verified{}, mauth.ErrPurposeMismatch
	}
	if c.AID != aid {
		return challenge.Verified{}, mauth.New(mauth.KindValidation, "aid, mismatch")
	}
	if c.ArgsHash != argsHash {
		return challenge.Verified{}, mauth.ErrArgsHash
	}
	if auth.KSN != 0 {
		return challenge.Verified{}, mauth.ErrKsnMismatch
	}

	msg, err := challenge.CanonicalPayload(s.origin, c.AID, c.Purpose, c.ArgsHash, c.Nonce, c.CreatedAt.UnixMilli())
	if err != nil {
		return challenge.Verified{}, mauth.Wrap(err, "challenge payload canonicalize")
	}
	if err := challenge.VerifyThreshold(msg, auth.Sigs, []string{aid[1:]}, 1); err != nil {
		return challenge.Verified{}, err
	}

	if err := tx.MarkUsed(ctx, c.ID); err != nil {
		if err == storage.ErrConflict {
			return challenge.Verified{}, mauth.ErrChallengeUsed
		}
		return challenge.Verified{}, mauth.Wrap(err, "mark challenge used")
	}

	return challenge.Verified{AID: aid, KSN: 0, ChallengeID: c.ID}, nil
}
