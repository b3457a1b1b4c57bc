// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package index implements the paged EKey -> (archive, offset, size) map
// persisted as one .index file per archive blob, and the archive-packing
// engine that fills those archives.
package index

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/cockroachdb/errors"
)

// PageSizeKB is the fixed page size in kilobytes this format writes.
const PageSizeKB = 4

// PageSize is the fixed page size in bytes.
const PageSize = PageSizeKB * 1024

// entrySize is the on-disk size of one IndexEntry row: EKey(16) + size(4) +
// offset(4).
const entrySize = keys.Size + 4 + 4

// entriesPerPage is how many entries fit in one page before padding.
const entriesPerPage = PageSize / entrySize

// tocRowSize is the on-disk size of one TOC row: last_EKey(16) + page
// checksum(8).
const tocRowSize = keys.Size + 8

// Entry is one row of the index: an EKey and the (offset, size) of its
// slice inside the archive blob this index describes.
type Entry struct {
	EKey   keys.EKey
	Offset uint32
	Size   uint32
}

func encodeEntry(dst []byte, e Entry) {
	copy(dst[0:keys.Size], e.EKey[:])
	binary.BigEndian.PutUint32(dst[keys.Size:keys.Size+4], e.Size)
	binary.BigEndian.PutUint32(dst[keys.Size+4:keys.Size+8], e.Offset)
}

func decodeEntry(b []byte) (Entry, error) {
	ekey, err := keys.BytesToHash(b[0:keys.Size])
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		EKey:   ekey,
		Size:   binary.BigEndian.Uint32(b[keys.Size : keys.Size+4]),
		Offset: binary.BigEndian.Uint32(b[keys.Size+4 : keys.Size+8]),
	}, nil
}

// pageChecksum truncates MD5(pageBody) to 8 bytes, per spec.
func pageChecksum(pageBody []byte) [8]byte {
	sum := md5.Sum(pageBody)
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// encodePage renders up to entriesPerPage entries into a zero-padded
// PageSize-byte page, plus that page's checksum.
func encodePage(entries []Entry) ([]byte, [8]byte, error) {
	if len(entries) > entriesPerPage {
		return nil, [8]byte{}, errors.Newf("index: page holds at most %d entries, got %d", entriesPerPage, len(entries))
	}
	page := make([]byte, PageSize)
	for i, e := range entries {
		encodeEntry(page[i*entrySize:(i+1)*entrySize], e)
	}
	return page, pageChecksum(page), nil
}

// decodePage decodes n entries out of a PageSize-byte page.
func decodePage(page []byte, n int) ([]Entry, error) {
	if len(page) != PageSize {
		return nil, errors.Wrapf(base.ErrCorrupt, "index: page is %d bytes, want %d", len(page), PageSize)
	}
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		e, err := decodeEntry(page[i*entrySize : (i+1)*entrySize])
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}
