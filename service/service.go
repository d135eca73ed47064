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

// Package service is the mutation dispatcher that ties the
// authentication protocols, access control, key-state store, and
// envelope engine into the operations a transport (HTTP handler,
// CLI, test harness) actually calls: register, rotate, send, ack,
// read-unread, subscribe, and the allow/deny-list mutations. Every
// operation that authenticates a caller runs its verification and its
// body inside one storage.Tx so neither can commit without the other.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/trustmesh/msgauth/access"
	"github.com/trustmesh/msgauth/authn"
	"github.com/trustmesh/msgauth/challenge"
	"github.com/trustmesh/msgauth/envelope"
	"github.com/trustmesh/msgauth/internal/logger"
	"github.com/trustmesh/msgauth/keystate"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/replay"
	"github.com/trustmesh/msgauth/subscribe"
)

// Purpose tags, the closed set of operations a challenge can be bound to.
const (
	PurposeSend             = "send"
	PurposeReceive          = "receive"
	PurposeAck              = "ack"
	PurposeRegisterUser     = "registerUser"
	PurposeManageGroup      = "manageGroup"
	PurposeSendGroup        = "sendGroup"
	PurposeAllowListAdd     = "allowList.add"
	PurposeAllowListRemove  = "allowList.remove"
	PurposeAllowListClear   = "allowList.clear"
	PurposeDenyListAdd      = "denyList.add"
	PurposeDenyListRemove   = "denyList.remove"
	PurposeDenyListClear    = "denyList.clear"
	PurposePermissionsAdmin = "permissions.admin"
)

// Service wires the core components behind the mutation pipeline.
type Service struct {
	store      storage.Store
	keys       *keystate.Store
	authn      *authn.Authenticator
	sig        *authn.Verifier
	challenges *challenge.Issuer
	access     *access.Filter
	envelopes  *envelope.Engine
	subs       *subscribe.Registry
	origin     string

	// shutdown is the graceful-shutdown barrier for the process-wide
	// key-state cache, replay ledger, and challenge
	// ledger: every mutation entry point registers itself here before
	// touching those ledgers, so Shutdown can wait for in-flight
	// verifications to finish before the caller tears the ledgers down.
	shutdownMu sync.RWMutex
	draining   bool
	inFlight   sync.WaitGroup
}

// New returns a Service. permissions may be nil (the permission check is
// entirely optional; allow/deny lists are always evaluated, through the
// sending mutation's own transaction). subs, if non-nil, both receives
// delivery notifications and backs the Subscribe operation's live push
// feed.
func New(store storage.Store, origin string, keyStateCacheTTL time.Duration, challengeTTL time.Duration, replayTTL time.Duration, permissions access.PermissionChecker, subs *subscribe.Registry) *Service {
	keys := keystate.New(store, keyStateCacheTTL)
	ledger := replay.New(replayTTL)
	sig := authn.New(keys, ledger)
	ch := challenge.New(origin, challengeTTL)
	var notifier envelope.Notifier
	if subs != nil {
		notifier = subs
	}
	return &Service{
		store:      store,
		keys:       keys,
		authn:      authn.NewAuthenticator(sig, ch),
		sig:        sig,
		challenges: ch,
		access:     access.New(permissions),
		envelopes:  envelope.New(origin, notifier),
		subs:       subs,
		origin:     origin,
	}
}

// KeyState exposes the caching key-state reader for callers (e.g. a
// "keystate inspect" CLI command) that only need a lookup.
func (s *Service) KeyState() *keystate.Store { return s.keys }

// IssueChallenge issues a challenge for the given purpose and args, to
// be proved by a subsequent mutation call. argsHash is computed by the
// caller via challenge.HashArgs over the mutation's logical fields.
func (s *Service) IssueChallenge(ctx context.Context, aid, purpose, argsHash string, now time.Time) (challenge.Issued, error) {
	return s.challenges.Issue(ctx, s.store, aid, purpose, argsHash, now)
}

// verifyTimeout bounds how long a single verification may run before it
// aborts with a Timeout error.
const verifyTimeout = 30 * time.Second

// authenticate runs req against args and purpose inside tx, logging the
// outcome with the AID and error kind only (never key material).
func (s *Service) authenticate(ctx context.Context, tx storage.Tx, args map[string]interface{}, req authn.Request, purpose string, now time.Time) (aid string, ksn uint64, evtSAID string, err error) {
	if err := s.enter(); err != nil {
		return "", 0, "", err
	}
	defer s.leave()

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	aid, ksn, evtSAID, err = s.authn.Authenticate(ctx, tx, args, req, purpose, now)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = mauth.ErrVerificationTimeout
		}
		logger.Warn("mutation authentication rejected",
			logger.Purpose(purpose),
			logger.Kind(string(kindOf(err))))
		return "", 0, "", err
	}
	logger.Info("mutation authenticated",
		logger.AID(aid),
		logger.Purpose(purpose))
	return aid, ksn, evtSAID, nil
}

// enter registers one in-flight verification against the process-wide
// key-state cache, replay ledger, and challenge ledger, refusing new
// work once Shutdown has started draining. RegisterUser and RotateKey
// call this directly since they authenticate against those ledgers
// without routing through authenticate.
func (s *Service) enter() error {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.draining {
		return mauth.New(mauth.KindInternal, "server shutting down")
	}
	s.inFlight.Add(1)
	return nil
}

func (s *Service) leave() { s.inFlight.Done() }

// Shutdown stops accepting new verifications and blocks until every
// in-flight one completes or ctx is cancelled, so a caller can safely
// tear down the key-state cache, replay ledger, and challenge ledger
// afterward: the ledgers are initialized before the dispatcher and
// torn down only after every in-flight request completes.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.draining = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func kindOf(err error) mauth.Kind {
	if e, ok := err.(*mauth.Error); ok {
		return e.Kind
	}
	return mauth.KindInternal
}
