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

package subscribe

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trustmesh/msgauth/internal/logger"
	"github.com/trustmesh/msgauth/pkg/storage"
)

// wireEnvelope is the JSON shape pushed to a live subscriber.
type wireEnvelope struct {
	ID           string `json:"id"`
	SenderAID    string `json:"senderAid"`
	RecipientAID string `json:"recipientAid"`
	CTHash       string `json:"ctHash"`
	Typ          string `json:"typ,omitempty"`
	Alg          string `json:"alg,omitempty"`
	EK           string `json:"ek,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt"`
}

func toWireEnvelope(e storage.Envelope) wireEnvelope {
	return wireEnvelope{
		ID:           e.ID,
		SenderAID:    e.SenderAID,
		RecipientAID: e.RecipientAID,
		CTHash:       e.CTHash,
		Typ:          e.Typ,
		Alg:          e.Alg,
		EK:           e.EK,
		CreatedAt:    e.CreatedAt.UnixMilli(),
		ExpiresAt:    e.ExpiresAt.UnixMilli(),
	}
}

// AIDResolver authenticates the upgrade request and returns the
// recipient AID the caller is permitted to subscribe as. Implementors
// typically wrap an authn.Authenticator over a query-string or header
// proof block.
type AIDResolver func(r *http.Request) (aid string, sinceCursor time.Time, err error)

// Subscriber opens subscriptions for the websocket endpoint. The
// service layer satisfies it with its Subscribe operation, which
// replays stored envelopes past the cursor before live delivery.
type Subscriber interface {
	Subscribe(ctx context.Context, recipientAID string, sinceCursor time.Time) (*Subscription, error)
}

// Server adapts a Subscriber to an HTTP WebSocket endpoint.
type Server struct {
	subs         Subscriber
	resolve      AIDResolver
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// NewServer returns a Server pushing subscription events over WebSocket
// connections authenticated by resolve.
func NewServer(subs Subscriber, resolve AIDResolver) *Server {
	return &Server{
		subs:    subs,
		resolve: resolve,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeTimeout: 30 * time.Second,
	}
}

// Handler upgrades the connection, resolves the caller's AID, and
// streams envelopes until the client disconnects.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aid, cursor, err := s.resolve(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", logger.Error(err))
			return
		}
		defer func() { _ = conn.Close() }()

		ctx := r.Context()
		sub, err := s.subs.Subscribe(ctx, aid, cursor)
		if err != nil {
			logger.Warn("subscription open failed", logger.Error(err))
			return
		}
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(toWireEnvelope(e)); err != nil {
					return
				}
			}
		}
	})
}
