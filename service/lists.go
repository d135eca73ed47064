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

	"github.com/trustmesh/msgauth/authn"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// ListEntryInput names the AID an owner is adding to one of their own
// lists. The owner itself is never an explicit argument: it is always the
// identity req authenticates as, so one caller can never mutate another
// AID's list.
type ListEntryInput struct {
	TargetAID string
	Note      string
}

// AddAllow adds targetAID to the caller's allow-list.
func (s *Service) AddAllow(ctx context.Context, req authn.Request, in ListEntryInput, now time.Time) error {
	args := map[string]interface{}{"targetAid": in.TargetAID, "note": in.Note}
	return s.store.WithinTx(ctx, func(tx storage.Tx) error {
		owner, _, _, err := s.authenticate(ctx, tx, args, req, PurposeAllowListAdd, now)
		if err != nil {
			return err
		}
		return tx.AddAllow(ctx, storage.ListEntry{OwnerAID: owner, TargetAID: in.TargetAID, Note: in.Note, AddedAt: now})
	})
}

// RemoveAllow removes targetAID from the caller's allow-list.
func (s *Service) RemoveAllow(ctx context.Context, req authn.Request, targetAID string, now time.Time) error {
	args := map[string]interface{}{"targetAid": targetAID}
	return s.store.WithinTx(ctx, func(tx storage.Tx) error {
		owner, _, _, err := s.authenticate(ctx, tx, args, req, PurposeAllowListRemove, now)
		if err != nil {
			return err
		}
		return tx.RemoveAllow(ctx, owner, targetAID)
	})
}

// ClearAllow empties the caller's entire allow-list.
func (s *Service) ClearAllow(ctx context.Context, req authn.Request, now time.Time) error {
	args := map[string]interface{}{}
	return s.store.WithinTx(ctx, func(tx storage.Tx) error {
		owner, _, _, err := s.authenticate(ctx, tx, args, req, PurposeAllowListClear, now)
		if err != nil {
			return err
		}
		return tx.ClearAllow(ctx, owner)
	})
}

// AddDeny adds targetAID to the caller's deny-list.
func (s *Service) AddDeny(ctx context.Context, req authn.Request, in ListEntryInput, now time.Time) error {
	args := map[string]interface{}{"targetAid": in.TargetAID, "note": in.Note}
	return s.store.WithinTx(ctx, func(tx storage.Tx) error {
		owner, _, _, err := s.authenticate(ctx, tx, args, req, PurposeDenyListAdd, now)
		if err != nil {
			return err
		}
		return tx.AddDeny(ctx, storage.ListEntry{OwnerAID: owner, TargetAID: in.TargetAID, Note: in.Note, AddedAt: now})
	})
}

// RemoveDeny removes targetAID from the caller's deny-list.
func (s *Service) RemoveDeny(ctx context.Context, req authn.Request, targetAID string, now time.Time) error {
	args := map[string]interface{}{"targetAid": targetAID}
	return s.store.WithinTx(ctx, func(tx storage.Tx) error {
		owner, _, _, err := s.authenticate(ctx, tx, args, req, PurposeDenyListRemove, now)
		if err != nil {
			return err
		}
		return tx.RemoveDeny(ctx, owner, targetAID)
	})
}

// ClearDeny empties the caller's entire deny-list.
func (s *Service) ClearDeny(ctx context.Context, req authn.Request, now time.Time) error {
	args := map[string]interface{}{}
	return s.store.WithinTx(ctx, func(tx storage.Tx) error {
		owner, _, _, err := s.authenticate(ctx, tx, args, req, PurposeDenyListClear, now)
		if err != nil {
			return err
		}
		return tx.ClearDeny(ctx, owner)
	})
}
