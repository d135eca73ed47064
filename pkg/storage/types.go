// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package storage

import "time"

// KeyState is the authoritative current key material for an AID.
type KeyState struct {
	AID           string    `json:"aid"`
	KSN           uint64    `json:"ksn"`
	Keys          []string  `json:"keys"` // base64url-encoded Ed25519 public keys
	Threshold     string    `json:"threshold"` // hex integer
	LastEventSAID string    `json:"last_event_said"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Challenge is an ephemeral, single-use, purpose- and args-bound token.
type Challenge struct {
	ID        string    `json:"id"`
	AID       string    `json:"aid"`
	Purpose   string    `json:"purpose"`
	ArgsHash  string    `json:"args_hash"`
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// ReplayNonce records a (keyID, nonce) pair accepted by the per-request verifier.
type ReplayNonce struct {
	KeyID     string    `json:"key_id"`
	Nonce     string    `json:"nonce"`
	UsedAt    time.Time `json:"used_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Envelope is a persisted one-to-one ciphertext message.
type Envelope struct {
	ID              string    `json:"id"` // SAID: sha256 over the canonical header
	SenderAID       string    `json:"sender_aid"`
	RecipientAID    string    `json:"recipient_aid"`
	CT              []byte    `json:"ct"`
	CTHash          string    `json:"ct_hash"`
	Typ             string    `json:"typ,omitempty"`
	Alg             string    `json:"alg,omitempty"`
	EK              string    `json:"ek,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Retrieved       bool      `json:"retrieved"`
	SenderSig       []string  `json:"sender_sig"`
	SenderKSN       uint64    `json:"sender_ksn"`
	SenderEvtSAID   string    `json:"sender_evt_said"`
	EnvelopeHash    string    `json:"envelope_hash"`
	UsedChallengeID string    `json:"used_challenge_id,omitempty"`
	ReceiptSig      []string  `json:"receipt_sig,omitempty"`
	ReceiptKSN      uint64    `json:"receipt_ksn,omitempty"`
	ReceiptEvtSAID  string    `json:"receipt_evt_said,omitempty"`
}

// ListEntry is one allow-list or deny-list row.
type ListEntry struct {
	OwnerAID  string    `json:"owner_aid"`
	TargetAID string    `json:"target_aid"`
	Note      string    `json:"note,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}
