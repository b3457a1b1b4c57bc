// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// Sentinel errors shared across the hashing, BLTE, index, and encoding
// packages. Components wrap these with errors.Wrapf to attach file/offset
// context; callers compare with errors.Is.
var (
	// ErrBadHash is returned when a hex string is not a well-formed 16-byte
	// hash (32 hex characters).
	ErrBadHash = errors.New("tactcas: malformed hash")

	// ErrBadMagic is returned when a file's magic bytes don't match the
	// format it was opened as.
	ErrBadMagic = errors.New("tactcas: bad magic")

	// ErrUnsupportedVersion is returned when a file declares a format
	// version this build doesn't know how to read.
	ErrUnsupportedVersion = errors.New("tactcas: unsupported version")

	// ErrCorrupt is returned when a page, TOC or footer checksum doesn't
	// match the bytes it covers, or a structure is truncated or malformed.
	// BLTE frame checksums use ErrBlteChecksumMismatch instead.
	ErrCorrupt = errors.New("tactcas: corrupt")

	// ErrBlteChecksumMismatch is returned when a BLTE frame's streamed MD5
	// doesn't match the checksum recorded in the frame table.
	ErrBlteChecksumMismatch = errors.New("tactcas: blte checksum mismatch")

	// ErrBlteUnknownMode is returned for a frame mode byte other than
	// 'N', 'Z', 'F', 'E'.
	ErrBlteUnknownMode = errors.New("tactcas: blte unknown frame mode")

	// ErrMissingKey is returned when an encrypted frame names a key the
	// injected KeyService doesn't know.
	ErrMissingKey = errors.New("tactcas: missing decryption key")

	// ErrDuplicateEKey is logged and returned when two distinct records are
	// enqueued under the same EKey; the second record is dropped.
	ErrDuplicateEKey = errors.New("tactcas: duplicate EKey on write")

	// ErrNotFound means a lookup found no entry for the given key.
	ErrNotFound = errors.New("tactcas: not found")
)
