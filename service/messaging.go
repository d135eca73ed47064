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
	"github.com/trustmesh/msgauth/envelope"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/subscribe"
)

// SendMessageInput is a Send mutation's logical fields, excluding the
// proof block carried separately in req.
type SendMessageInput struct {
	RecipientAID string
	CT           []byte
	Typ          string
	EK           string
	Alg          string
	TTL          time.Duration
	Group        bool
}

// Send authenticates req, applies the recipient's access-control filter,
// and stores the envelope, all inside one transaction so a caller can
// never observe a stored envelope whose sender failed authentication or
// whose send was denied.
func (s *Service) Send(ctx context.Context, req authn.Request, in SendMessageInput, now time.Time) (storage.Envelope, error) {
	args := map[string]interface{}{
		"recipientAid": in.RecipientAID,
		"ct":           in.CT,
		"typ":          in.Typ,
		"ek":           in.EK,
		"alg":          in.Alg,
	}

	var stored storage.Envelope
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		sender, ksn, evtSAID, err := s.authenticate(ctx, tx, args, req, PurposeSend, now)
		if err != nil {
			return err
		}

		if err := s.access.CheckSend(ctx, tx, sender, in.RecipientAID, in.Group); err != nil {
			return err
		}

		usedChallengeID := ""
		var senderSig []string
		if req.Auth != nil {
			usedChallengeID = req.Auth.ChallengeID
			senderSig = req.Auth.Sigs
		} else if req.Sig != nil {
			senderSig = []string{req.Sig.Signature}
		}

		stored, err = s.envelopes.Send(ctx, tx, sender, ksn, evtSAID, usedChallengeID, senderSig, envelope.SendInput{
			RecipientAID: in.RecipientAID,
			CT:           in.CT,
			Typ:          in.Typ,
			EK:           in.EK,
			Alg:          in.Alg,
			TTL:          in.TTL,
		}, now)
		return err
	})
	if err != nil {
		return storage.Envelope{}, err
	}
	return stored, nil
}

// Ack authenticates req as the envelope's recipient, verifies the
// supplied receipt signatures (indexed signatures over the envelope
// hash and server audience, distinct from the proof block), and
// transitions the envelope to retrieved.
func (s *Service) Ack(ctx context.Context, req authn.Request, envelopeID string, receiptSigs []string, now time.Time) (storage.Envelope, error) {
	args := map[string]interface{}{"envelopeId": envelopeID, "receiptSigs": receiptSigs}

	var stored storage.Envelope
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		receiver, ksn, evtSAID, err := s.authenticate(ctx, tx, args, req, PurposeAck, now)
		if err != nil {
			return err
		}

		stored, err = s.envelopes.Ack(ctx, tx, envelopeID, receiver, receiptSigs, ksn, evtSAID)
		return err
	})
	if err != nil {
		return storage.Envelope{}, err
	}
	return stored, nil
}

// ReadUnread is a read-only query: it does not authenticate the caller
// itself (the transport layer is expected to have already established
// recipientAID belongs to the caller, e.g. via a session) and runs
// outside any mutation transaction.
func (s *Service) ReadUnread(ctx context.Context, recipientAID string, limit int, now time.Time) ([]storage.Envelope, error) {
	return envelope.ReadUnread(ctx, s.store, recipientAID, limit, now)
}

// subscribeBackfillLimit bounds how many stored envelopes are replayed
// into a fresh subscription before live delivery takes over.
const subscribeBackfillLimit = subscribe.DefaultBacklog

// Subscribe opens a push feed of envelopes delivered to recipientAID
// with created-at past sinceCursor: stored envelopes are replayed first,
// then live deliveries follow. The caller must cancel ctx to release the
// subscription's slot; Subscribe itself never authenticates the caller,
// matching ReadUnread's contract that identity binding happens upstream.
func (s *Service) Subscribe(ctx context.Context, recipientAID string, sinceCursor time.Time) (*subscribe.Subscription, error) {
	if s.subs == nil {
		return nil, mauth.New(mauth.KindInternal, "subscribe, not configured")
	}
	sub := s.subs.Subscribe(ctx, recipientAID, sinceCursor)
	stored, err := s.store.ListSince(ctx, recipientAID, sinceCursor, subscribeBackfillLimit)
	if err != nil {
		sub.Close()
		return nil, mauth.Wrap(err, "subscribe backfill")
	}
	sub.Seed(stored)
	return sub, nil
}

// AuthenticateSubscribe verifies a per-request signature carrying no
// logical arguments beyond the fixed "receive" purpose, for transports
// (the websocket upgrade handshake) that need to bind a live subscription
// to a caller identity without a mutation body to sign over.
func (s *Service) AuthenticateSubscribe(ctx context.Context, sig authn.Sig, now time.Time) (string, error) {
	args := map[string]interface{}{"purpose": PurposeReceive}
	var aid string
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		a, _, _, err := s.authenticate(ctx, tx, args, authn.Request{Sig: &sig}, PurposeReceive, now)
		if err != nil {
			return err
		}
		aid = a
		return nil
	})
	if err != nil {
		return "", err
	}
	return aid, nil
}
