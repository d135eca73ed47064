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

// Package mcrypto provides the Ed25519 primitives and AID derivation used
// throughout msgauth: key pairs, signing, verification, and the mapping
// from a public key to its self-certifying autonomic identifier.
package mcrypto

import (
	"crypto"
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeyType identifies the signature algorithm a KeyPair implements. msgauth
// speaks exactly one: Ed25519. The type exists so key material can be
// tagged consistently in storage and logs without hard-coding the string.
type KeyType string

// KeyTypeEd25519 is the only algorithm msgauth's AID scheme recognizes.
const KeyTypeEd25519 KeyType = "Ed25519"

// Common errors returned by this package.
var (
	ErrInvalidSignature = errors.New("mcrypto: invalid signature")
	ErrInvalidAID       = errors.New("mcrypto: malformed AID")
	ErrInvalidPublicKey = errors.New("mcrypto: malformed public key")
)

// KeyPair is an Ed25519 signing key pair.
type KeyPair interface {
	PublicKey() crypto.PublicKey
	PrivateKey() crypto.PrivateKey
	Type() KeyType
	Sign(message []byte) ([]byte, error)
	Verify(message, signature []byte) error
	// AID returns the self-certifying identifier derived from the public key.
	AID() string
}

type ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	aid        string
}

// GenerateKeyPair creates a fresh Ed25519 key pair and its AID.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mcrypto: generate key: %w", err)
	}
	return &ed25519KeyPair{privateKey: priv, publicKey: pub, aid: AIDFromPublicKey(pub)}, nil
}

// NewKeyPairFromSeed reconstructs a key pair from a 32-byte Ed25519 seed,
// primarily for tests and deterministic fixtures.
func NewKeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("mcrypto: seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &ed25519KeyPair{privateKey: priv, publicKey: pub, aid: AIDFromPublicKey(pub)}, nil
}

func (kp *ed25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *ed25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *ed25519KeyPair) Type() KeyType                 { return KeyTypeEd25519 }
func (kp *ed25519KeyPair) AID() string                   { return kp.aid }

func (kp *ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

func (kp *ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// AIDFromPublicKey derives the AID for a raw 32-byte Ed25519 public key:
// the ASCII prefix "D" followed by the unpadded base64url encoding of the
// key. The prefix distinguishes the identifier namespace from a bare key
// encoding and leaves room for future non-Ed25519 prefixes without
// colliding with existing AIDs.
func AIDFromPublicKey(pub ed25519.PublicKey) string {
	return "D" + base64.RawURLEncoding.EncodeToString(pub)
}

// PublicKeyFromAID inverts AIDFromPublicKey, validating the prefix and
// the decoded key length.
func PublicKeyFromAID(aid string) (ed25519.PublicKey, error) {
	if len(aid) < 2 || aid[0] != 'D' {
		return nil, ErrInvalidAID
	}
	raw, err := base64.RawURLEncoding.DecodeString(aid[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAID, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(raw), nil
}

// VerifyDetached verifies a detached Ed25519 signature over message using
// the public key packed inside the given AID. The protocol verifiers check
// signatures against stored key-state keys with VerifyWithPublicKey.
func VerifyDetached(aid string, message, signature []byte) error {
	pub, err := PublicKeyFromAID(aid)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyWithPublicKey verifies a detached signature using an explicit
// base64url-encoded public key, for the multi-key case where a KeyState
// entry (rather than the AID itself) names the signer.
func VerifyWithPublicKey(pubB64 string, message, signature []byte) error {
	raw, err := base64.RawURLEncoding.DecodeString(pubB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	if !ed25519.Verify(ed25519.PublicKey(raw), message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// SHA256B64 returns the base64url (unpadded) SHA-256 digest of data, the
// encoding used for envelope content hashes (ctHash); envelope SAIDs and
// argument hashes are hex-encoded instead.
func SHA256B64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
