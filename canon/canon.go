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

// Package canon implements the JSON canonicalization msgauth uses as the
// bit-exact interop boundary for hashing and signing: object keys sorted
// recursively, array order preserved, and top-level undefined fields
// omitted rather than nulled. It delegates the RFC 8785 transform itself
// to github.com/gowebpki/jcs so the byte-level behavior matches the
// published algorithm rather than a hand-rolled approximation.
package canon

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the canonical JSON encoding of v: v is first
// marshaled with the standard library (respecting struct tags), then
// passed through jcs.Transform to sort object keys and normalize number
// formatting per RFC 8785.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canon: transform: %w", err)
	}
	return out, nil
}

// CanonicalizeArgs canonicalizes a request-argument map, omitting any key
// whose value is nil, so an absent argument and an explicit null produce
// the same signed payload.
func CanonicalizeArgs(args map[string]interface{}) ([]byte, error) {
	filtered := make(map[string]interface{}, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		filtered[k] = v
	}
	return Canonicalize(filtered)
}

// String is a convenience wrapper returning the canonical form as a string.
func String(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
