// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package index

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/cockroachdb/errors"
)

// Kind classifies what an index describes: Data (an archive blob), Patch
// (a patch archive), or Loose (a single loose file, not archived).
type Kind uint8

const (
	KindData Kind = iota
	KindPatch
	KindLoose
)

const (
	flagPatch      byte = 1 << 0
	flagLoose      byte = 1 << 1
	flagGroupIndex byte = 1 << 2
)

const (
	formatVersion   = 1
	footerKeySize   = 16
	footerCheckSize = 8

	// footerBodySize is toc_checksum(8)+version(1)+key_size(1)+
	// checksum_size(1)+flags_0(1)+flags_1(1)+page_size_kb(2)+num_pages(4).
	footerBodySize = 8 + 1 + 1 + 1 + 1 + 1 + 2 + 4
	// FooterSize is the total on-disk footer size, footerBodySize plus the
	// 16-byte footer_checksum.
	FooterSize = footerBodySize + 16
)

// footer is the parsed trailer of an .index file.
type footer struct {
	tocChecksum [8]byte
	kind        Kind
	groupIndex  bool
	numPages    uint32
}

func (f footer) flags() (byte, byte) {
	var f0 byte
	switch f.kind {
	case KindPatch:
		f0 |= flagPatch
	case KindLoose:
		f0 |= flagLoose
	}
	if f.groupIndex {
		f0 |= flagGroupIndex
	}
	return f0, 0
}

func encodeFooter(f footer) []byte {
	body := make([]byte, footerBodySize)
	copy(body[0:8], f.tocChecksum[:])
	body[8] = formatVersion
	body[9] = footerKeySize
	body[10] = footerCheckSize
	f0, f1 := f.flags()
	body[11] = f0
	body[12] = f1
	binary.LittleEndian.PutUint16(body[13:15], PageSizeKB)
	binary.LittleEndian.PutUint32(body[15:19], f.numPages)

	sum := md5.Sum(body)
	out := make([]byte, FooterSize)
	copy(out, body)
	copy(out[footerBodySize:], sum[:])
	return out
}

func decodeFooter(b []byte) (footer, error) {
	if len(b) != FooterSize {
		return footer{}, errors.Wrapf(base.ErrCorrupt, "index: footer is %d bytes, want %d", len(b), FooterSize)
	}
	body := b[:footerBodySize]
	wantSum := md5.Sum(body)
	var gotSum [16]byte
	copy(gotSum[:], b[footerBodySize:])
	if wantSum != gotSum {
		return footer{}, errors.Wrap(base.ErrCorrupt, "index: footer checksum mismatch")
	}

	version := body[8]
	if version != formatVersion {
		return footer{}, errors.Wrapf(base.ErrUnsupportedVersion, "index: version %d", version)
	}
	if body[9] != footerKeySize {
		return footer{}, errors.Wrapf(base.ErrCorrupt, "index: key_size %d", body[9])
	}
	if body[10] != footerCheckSize {
		return footer{}, errors.Wrapf(base.ErrCorrupt, "index: checksum_size %d", body[10])
	}
	pageSizeKB := binary.LittleEndian.Uint16(body[13:15])
	if pageSizeKB != PageSizeKB {
		return footer{}, errors.Wrapf(base.ErrCorrupt, "index: page_size_kb %d", pageSizeKB)
	}

	f0 := body[11]
	var f footer
	copy(f.tocChecksum[:], body[0:8])
	f.numPages = binary.LittleEndian.Uint32(body[15:19])
	f.groupIndex = f0&flagGroupIndex != 0
	switch {
	case f0&flagPatch != 0:
		f.kind = KindPatch
	case f0&flagLoose != 0:
		f.kind = KindLoose
	default:
		f.kind = KindData
	}
	return f, nil
}

// tocChecksum truncates MD5(tocBytes) to 8 bytes, mirroring pageChecksum.
func tocChecksum(toc []byte) [8]byte {
	sum := md5.Sum(toc)
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}
