// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package keys defines the fixed-size digests used as identity (CKey) and
// storage address (EKey) throughout the CAS engine.
package keys

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/cockroachdb/errors"
)

// Size is the byte length of every Hash in this package.
const Size = 16

// Hash is a fixed 16-byte digest. The zero Hash is the distinguished "empty"
// value (mirrors Value == null in the source); IsEmpty reports it.
type Hash [Size]byte

// EmptyHash is the distinguished empty hash. Operations on it short-circuit:
// encoding lookups report a miss, writers skip it.
var EmptyHash Hash

// IsEmpty reports whether h is the distinguished empty hash.
func (h Hash) IsEmpty() bool { return h == EmptyHash }

// Compare returns -1, 0, or 1 comparing h and other lexicographically as
// unsigned bytes. This is the ordering every index page and encoding page
// relies on for binary search.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// Less reports whether h sorts strictly before other.
func (h Hash) Less(other Hash) bool { return h.Compare(other) < 0 }

// String renders h as lowercase hex.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ParseHash parses a 32-character hex string (either case) into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != Size*2 {
		return h, errors.Wrapf(base.ErrBadHash, "want %d hex chars, got %d", Size*2, len(s))
	}
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil {
		return Hash{}, errors.Wrapf(base.ErrBadHash, "invalid hex: %v", err)
	}
	if n != Size {
		return Hash{}, errors.Wrapf(base.ErrBadHash, "decoded %d bytes, want %d", n, Size)
	}
	return h, nil
}

// BytesToHash copies exactly Size bytes of b into a Hash.
func BytesToHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, errors.Wrapf(base.ErrBadHash, "want %d bytes, got %d", Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// CKey identifies plaintext content: MD5-truncated digest of the decoded
// bytes.
type CKey = Hash

// EKey identifies encoded (BLTE) content: MD5-truncated digest of the
// encoded byte stream that a CKey resolves to.
type EKey = Hash

// SortHashes sorts hs in place by ascending Compare order. Both the index
// engine's packing rule and the encoding table's page layout depend on
// EKeys/CKeys being iterated in this order.
func SortHashes(hs []Hash) {
	sort.Slice(hs, func(i, j int) bool { return hs[i].Less(hs[j]) })
}
