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

	"github.com/trustmesh/msgauth/canon"
	"github.com/trustmesh/msgauth/challenge"
	"github.com/trustmesh/msgauth/internal/logger"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// RotationInput names the new key set a caller wants to install for AID,
// and the indexed proof signatures authorizing the change.
type RotationInput struct {
	AID          string
	NewKSN       uint64
	NewKeys      []string
	NewThreshold string
	// ProofSigs are "{index}-{base64url-sig}" contributions over the
	// canonical rotation statement, indexed against the OLD key set.
	ProofSigs []string
}

// rotationStatement is exactly what the old key set signs to authorize a
// rotation: the AID, the new sequence number, the new keys, and the new
// threshold. Binding all four prevents a proof collected for one rotation
// from being replayed to install a different key set or a stale ksn.
type rotationStatement struct {
	AID       string   `json:"aid"`
	NewKSN    uint64   `json:"newKsn"`
	NewKeys   []string `json:"newKeys"`
	Threshold string   `json:"threshold"`
}

// RotateKey rotates an AID's key state: the new key set is only installed
// once enough of the CURRENT (pre-rotation) keys sign the rotation
// statement to meet the current threshold. new-ksn must be exactly one
// past the stored ksn; any other value is rejected before signatures are
// even checked, since a stale or skipped ksn can never be meaningfully
// authorized.
func (s *Service) RotateKey(ctx context.Context, in RotationInput, now time.Time) (storage.KeyState, error) {
	if in.AID == "" || len(in.NewKeys) == 0 || in.NewThreshold == "" {
		return storage.KeyState{}, mauth.New(mauth.KindValidation, "rotate, missing fields")
	}

	if err := s.enter(); err != nil {
		return storage.KeyState{}, err
	}
	defer s.leave()

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	var next storage.KeyState
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		current, err := tx.Lookup(ctx, in.AID)
		if err != nil {
			if err == storage.ErrNotFound {
				return mauth.ErrKeyStateNotFound
			}
			return mauth.Wrap(err, "key state lookup")
		}
		if in.NewKSN != current.KSN+1 {
			return mauth.New(mauth.KindValidation, "ksn, stale").WithDetail("reason", "stale").WithDetail("currentKsn", current.KSN)
		}

		threshold, err := challenge.ParseHexThreshold(current.Threshold)
		if err != nil {
			return mauth.New(mauth.KindValidation, "threshold").WithDetail("threshold", current.Threshold)
		}
		msg, err := canon.Canonicalize(rotationStatement{
			AID:       in.AID,
			NewKSN:    in.NewKSN,
			NewKeys:   in.NewKeys,
			Threshold: in.NewThreshold,
		})
		if err != nil {
			return mauth.Wrap(err, "rotation statement canonicalize")
		}
		if err := challenge.VerifyThreshold(msg, in.ProofSigs, current.Keys, threshold); err != nil {
			return err
		}

		next = storage.KeyState{
			AID:           in.AID,
			KSN:           in.NewKSN,
			Keys:          in.NewKeys,
			Threshold:     in.NewThreshold,
			LastEventSAID: current.LastEventSAID,
			UpdatedAt:     now,
		}
		if err := tx.Rotate(ctx, in.AID, current.KSN, next); err != nil {
			if err == storage.ErrConflict {
				return mauth.ErrKsnStale
			}
			return mauth.Wrap(err, "key state rotate")
		}
		return nil
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = mauth.ErrVerificationTimeout
		}
		logger.Warn("rotation rejected",
			logger.AID(in.AID),
			logger.Kind(string(kindOf(err))))
		return storage.KeyState{}, err
	}

	s.keys.Invalidate(in.AID)
	logger.Info("key rotated", logger.AID(in.AID), logger.Int("newKsn", int(in.NewKSN)))
	return next, nil
}
