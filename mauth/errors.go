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

// Package mauth holds the structured error kinds shared by every
// verification and mutation path in msgauth. Every error returned across
// a component boundary is one of these kinds so handlers can map them to
// the wire representation without string matching.
package mauth

import "fmt"

// Kind classifies a msgauth error.
type Kind string

const (
	KindNotFound      Kind = "NotFound"
	KindAlreadyExists Kind = "AlreadyExists"
	KindValidation    Kind = "Validation"
	KindSignature     Kind = "Signature"
	KindChallenge     Kind = "Challenge"
	KindAuthorization Kind = "Authorization"
	KindTimeout       Kind = "Timeout"
	KindInternal      Kind = "Internal"
)

// Error is a structured msgauth error. Details must never carry private
// key material, full signatures, or raw ciphertext; AIDs and public keys
// are safe to include.
type Error struct {
	Kind    Kind
	Hint    string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Hint == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Hint)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// WithDetail returns e with an additional detail key set, copying the
// receiver so callers can build a base error once and specialize it.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New constructs an Error of the given kind and hint.
func New(kind Kind, hint string) *Error {
	return &Error{Kind: kind, Hint: hint}
}

// Wrap constructs an Internal error wrapping cause, for storage and other
// infrastructure failures that are not themselves security-relevant.
func Wrap(cause error, hint string) *Error {
	return &Error{Kind: KindInternal, Hint: hint, cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else if err != nil {
		type unwrapper interface{ Unwrap() error }
		for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
			err = u.Unwrap()
			if as, ok := err.(*Error); ok {
				e = as
				break
			}
		}
	}
	return e != nil && e.Kind == kind
}

// Common pre-built errors for the NotFound/Validation/Signature/Challenge/
// Authorization/Timeout kinds used throughout the verification pipeline.
var (
	ErrKeyStateNotFound  = New(KindNotFound, "keyState").WithDetail("subject", "keyState")
	ErrChallengeNotFound = New(KindNotFound, "challenge").WithDetail("subject", "challenge")
	ErrEnvelopeNotFound  = New(KindNotFound, "envelope").WithDetail("subject", "envelope")
	ErrUserNotFound      = New(KindNotFound, "user").WithDetail("subject", "user")

	ErrUserAlreadyExists     = New(KindAlreadyExists, "user")
	ErrEnvelopeAlreadyExists = New(KindAlreadyExists, "envelope-id")

	ErrTimestampSkew   = New(KindValidation, "timestamp")
	ErrNonceReplay     = New(KindValidation, "nonce, replay").WithDetail("reason", "replay")
	ErrNonceFormat     = New(KindValidation, "nonce, format").WithDetail("reason", "format")
	ErrArgsHash        = New(KindValidation, "argsHash")
	ErrKsnStale        = New(KindValidation, "ksn, stale").WithDetail("reason", "stale")
	ErrKsnMismatch     = New(KindValidation, "ksn, mismatch").WithDetail("reason", "mismatch")
	ErrPurposeMismatch = New(KindValidation, "purpose")
	ErrSigMissing      = New(KindValidation, "sig, missing")
	ErrSigMalformed    = New(KindValidation, "sig, malformed")

	ErrSignatureInvalid = New(KindSignature, "signature invalid")
	ErrThresholdNotMet  = New(KindSignature, "threshold not met")

	ErrChallengeUsed    = New(KindChallenge, "used")
	ErrChallengeExpired = New(KindChallenge, "expired")
	ErrChallengeSkew    = New(KindChallenge, "skew")

	ErrDenied       = New(KindAuthorization, "denied")
	ErrNotAllowed   = New(KindAuthorization, "not-allowed")
	ErrNoPermission = New(KindAuthorization, "permission")

	ErrVerificationTimeout = New(KindTimeout, "verification exceeded deadline")
)
