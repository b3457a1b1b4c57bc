// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blte

import (
	"encoding/binary"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/cockroachdb/errors"
)

// header is the parsed form of a multi-frame BLTE container's frame table.
type header struct {
	frames []FrameTableEntry
}

// parseHeader reads the magic and frame table (if any) from the front of an
// encoded BLTE stream. It returns the header (nil frames if this is the
// single-raw-frame form, i.e. header_size == 0) and the number of bytes
// consumed, which is where the frame bytes begin.
func parseHeader(b []byte) (header, int, error) {
	if len(b) < 8 {
		return header{}, 0, errors.Wrap(base.ErrCorrupt, "blte: truncated container header")
	}
	if b[0] != Magic[0] || b[1] != Magic[1] || b[2] != Magic[2] || b[3] != Magic[3] {
		return header{}, 0, errors.Wrapf(base.ErrBadMagic, "blte: got %q", b[:4])
	}
	headerSize := binary.BigEndian.Uint32(b[4:8])
	if headerSize == 0 {
		// Single raw frame: everything past the 8-byte prefix is the frame.
		return header{}, 8, nil
	}
	if uint64(len(b)) < 8+uint64(headerSize) {
		return header{}, 0, errors.Wrap(base.ErrCorrupt, "blte: truncated frame table")
	}
	table := b[8 : 8+headerSize]
	if len(table) < 4 {
		return header{}, 0, errors.Wrap(base.ErrCorrupt, "blte: truncated frame table flags")
	}
	flagsCount := binary.BigEndian.Uint32(table[:4])
	if flagsByte := byte(flagsCount >> 24); flagsByte != 0x0F {
		return header{}, 0, errors.Wrapf(base.ErrCorrupt, "blte: bad frame table flags byte 0x%02x", flagsByte)
	}
	frameCount := int(flagsCount & 0x00FFFFFF)
	table = table[4:]
	if len(table) != frameCount*tableEntrySize {
		return header{}, 0, errors.Wrapf(base.ErrCorrupt,
			"blte: frame table size %d does not match frame_count %d", len(table), frameCount)
	}
	frames := make([]FrameTableEntry, frameCount)
	for i := range frames {
		row := table[i*tableEntrySize:]
		frames[i].EncodedSize = binary.BigEndian.Uint32(row[0:4])
		frames[i].PlainSize = binary.BigEndian.Uint32(row[4:8])
		copy(frames[i].Checksum[:], row[8:24])
	}
	return header{frames: frames}, 8 + int(headerSize), nil
}

// encodeHeader renders the 8-byte magic+header_size prefix and, when frames
// has more than one entry, the frame table bytes that follow it.
func encodeHeader(frames []FrameTableEntry) []byte {
	if len(frames) <= 1 {
		out := make([]byte, 8)
		copy(out[0:4], Magic[:])
		// header_size stays zero: single raw frame, rest is payload.
		return out
	}
	tableSize := 4 + len(frames)*tableEntrySize
	out := make([]byte, 8+tableSize)
	copy(out[0:4], Magic[:])
	binary.BigEndian.PutUint32(out[4:8], uint32(tableSize))
	binary.BigEndian.PutUint32(out[8:12], 0x0F000000|uint32(len(frames)))
	for i, f := range frames {
		row := out[12+i*tableEntrySize:]
		binary.BigEndian.PutUint32(row[0:4], f.EncodedSize)
		binary.BigEndian.PutUint32(row[4:8], f.PlainSize)
		copy(row[8:24], f.Checksum[:])
	}
	return out
}
