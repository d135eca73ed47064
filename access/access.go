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

// Package access implements the deny-list / allow-list / permission
// filter gating every envelope send. Deny strictly dominates allow.
package access

import (
	"context"

	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// Permission names recognized by the role-permission check.
const (
	PermissionMessageDirect = "can.message.direct"
	PermissionMessageGroups = "can.message.groups"
)

// PermissionChecker is an optional role-permission backend. When nil, the
// permission step of CheckSend is skipped entirely — permissions are an
// external collaborator the core treats as pluggable.
type PermissionChecker interface {
	HasPermission(ctx context.Context, aid, permission string) (bool, error)
}

// Filter evaluates deny-list, allow-list, and (optionally) permissions.
// List reads go through the storage handle the caller passes to
// CheckSend, so a send's access decision sees the same transaction as
// the rest of the mutation.
type Filter struct {
	permissions PermissionChecker
}

// New returns a Filter with an optional permission checker.
func New(permissions PermissionChecker) *Filter {
	return &Filter{permissions: permissions}
}

// CheckSend evaluates whether sender may send a message to recipient:
// deny first, then allow, then permission.
// lists is typically the storage.Tx the surrounding mutation runs under.
func (f *Filter) CheckSend(ctx context.Context, lists storage.ListStore, sender, recipient string, group bool) error {
	denied, err := lists.IsDenied(ctx, recipient, sender)
	if err != nil {
		return mauth.Wrap(err, "deny-list lookup")
	}
	if denied {
		return mauth.ErrDenied
	}

	active, err := lists.IsAllowListActive(ctx, recipient)
	if err != nil {
		return mauth.Wrap(err, "allow-list lookup")
	}
	if active {
		allowed, err := lists.IsAllowed(ctx, recipient, sender)
		if err != nil {
			return mauth.Wrap(err, "allow-list lookup")
		}
		if !allowed {
			return mauth.ErrNotAllowed
		}
	}

	if f.permissions != nil {
		permission := PermissionMessageDirect
		if group {
			permission = PermissionMessageGroups
		}
		ok, err := f.permissions.HasPermission(ctx, sender, permission)
		if err != nil {
			return mauth.Wrap(err, "permission check")
		}
		if !ok {
			return mauth.ErrNoPermission
		}
	}

	return nil
}
