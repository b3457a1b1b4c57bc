// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package encoding

import (
	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/cockroachdb/errors"
)

const ekeyRecordSize = keys.Size + 4 + 5 // EKey + espec_index + encoded_size(40-bit)

func ckeyRecordSize(keyCount int) int {
	return 1 + 5 + keys.Size + keyCount*keys.Size
}

func encodeCKeyRecord(r ckeyRecord) []byte {
	buf := make([]byte, ckeyRecordSize(len(r.EKeys)))
	buf[0] = byte(len(r.EKeys))
	uint40(buf[1:6], r.PlainSize)
	copy(buf[6:6+keys.Size], r.CKey[:])
	off := 6 + keys.Size
	for _, ek := range r.EKeys {
		copy(buf[off:off+keys.Size], ek[:])
		off += keys.Size
	}
	return buf
}

// decodeCKeyRecord decodes one record starting at b[0]. A leading zero
// key_count means "no more records in this page" — the rest of the page
// is zero padding, which naturally produces the same byte and needs no
// distinct terminator encoding.
func decodeCKeyRecord(b []byte) (rec ckeyRecord, consumed int, ok bool, err error) {
	if len(b) < 1 {
		return ckeyRecord{}, 0, false, errors.Wrap(base.ErrCorrupt, "encoding: short ckey record")
	}
	keyCount := int(b[0])
	if keyCount == 0 {
		return ckeyRecord{}, 0, false, nil
	}
	size := ckeyRecordSize(keyCount)
	if len(b) < size {
		return ckeyRecord{}, 0, false, errors.Wrap(base.ErrCorrupt, "encoding: truncated ckey record")
	}
	plainSize := getUint40(b[1:6])
	ck, err := keys.BytesToHash(b[6 : 6+keys.Size])
	if err != nil {
		return ckeyRecord{}, 0, false, err
	}
	off := 6 + keys.Size
	eks := make([]keys.EKey, keyCount)
	for i := 0; i < keyCount; i++ {
		ek, err := keys.BytesToHash(b[off : off+keys.Size])
		if err != nil {
			return ckeyRecord{}, 0, false, err
		}
		eks[i] = ek
		off += keys.Size
	}
	return ckeyRecord{CKey: ck, PlainSize: plainSize, EKeys: eks}, size, true, nil
}

func encodeEKeyRecord(r ekeyRecord) []byte {
	buf := make([]byte, ekeyRecordSize)
	copy(buf[:keys.Size], r.EKey[:])
	off := keys.Size
	buf[off] = byte(r.ESpecIndex >> 24)
	buf[off+1] = byte(r.ESpecIndex >> 16)
	buf[off+2] = byte(r.ESpecIndex >> 8)
	buf[off+3] = byte(r.ESpecIndex)
	uint40(buf[off+4:off+9], r.EncodedSize)
	return buf
}

func decodeEKeyRecord(b []byte) (ekeyRecord, error) {
	if len(b) < ekeyRecordSize {
		return ekeyRecord{}, errors.Wrap(base.ErrCorrupt, "encoding: short ekey record")
	}
	ek, err := keys.BytesToHash(b[:keys.Size])
	if err != nil {
		return ekeyRecord{}, err
	}
	off := keys.Size
	specIdx := uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
	encodedSize := getUint40(b[off+4 : off+9])
	return ekeyRecord{EKey: ek, ESpecIndex: specIdx, EncodedSize: encodedSize}, nil
}

// packCKeyPages greedily fills fixed-size pages with variable-length
// records, zero-padding whatever's left in each page.
func packCKeyPages(records []ckeyRecord, pageSize int) [][]byte {
	var pages [][]byte
	page := make([]byte, 0, pageSize)
	for _, r := range records {
		enc := encodeCKeyRecord(r)
		if len(page)+len(enc) > pageSize {
			pages = append(pages, padTo(page, pageSize))
			page = make([]byte, 0, pageSize)
		}
		page = append(page, enc...)
	}
	if len(page) > 0 {
		pages = append(pages, padTo(page, pageSize))
	}
	return pages
}

func packEKeyPages(records []ekeyRecord, pageSize int) [][]byte {
	perPage := pageSize / ekeyRecordSize
	var pages [][]byte
	for len(records) > 0 {
		n := perPage
		if n > len(records) {
			n = len(records)
		}
		page := make([]byte, 0, pageSize)
		for _, r := range records[:n] {
			page = append(page, encodeEKeyRecord(r)...)
		}
		pages = append(pages, padTo(page, pageSize))
		records = records[n:]
	}
	return pages
}

func padTo(b []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, b)
	return out
}

func decodeCKeyPage(page []byte) ([]ckeyRecord, error) {
	var out []ckeyRecord
	off := 0
	for off < len(page) {
		rec, consumed, ok, err := decodeCKeyRecord(page[off:])
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, rec)
		off += consumed
	}
	return out, nil
}

func decodeEKeyPage(page []byte) ([]ekeyRecord, error) {
	var out []ekeyRecord
	for off := 0; off+ekeyRecordSize <= len(page); off += ekeyRecordSize {
		rec, err := decodeEKeyRecord(page[off : off+ekeyRecordSize])
		if err != nil {
			return nil, err
		}
		if rec.EKey.IsEmpty() && rec.ESpecIndex == 0 && rec.EncodedSize == 0 {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}
