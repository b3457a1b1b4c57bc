// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blte

import (
	"bytes"
	"crypto/md5"
	"io"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zlib"
)

// Reader streams BLTE-decoded plaintext. It computes each frame's encoded
// MD5 as it consumes the frame and fails at the frame boundary if it
// doesn't match the frame table, per the codec's streaming contract.
type Reader struct {
	src       io.ReaderAt
	ks        KeyService
	frames    []frameLocation
	plainSize int64
	frameIdx  int
	frameData []byte // decoded plaintext of the current frame
	frameOff  int    // read position within frameData
}

type frameLocation struct {
	fileOffset  int64 // offset of the frame's first byte (mode byte) within src
	encodedSize int64
	plainSize   int64
	checksum    [16]byte
	hasChecksum bool
}

// Open parses the container header of src (an encoded BLTE stream of
// encodedLen bytes starting at offset 0) and returns a Reader positioned at
// the start of the plaintext. The header and the first frame are read and
// decoded eagerly; later frames are pulled from src lazily, one frame at a
// time, as the caller reads.
func Open(src io.ReaderAt, encodedLen int64, ks KeyService) (*Reader, error) {
	// Peek enough to learn header_size, then read exactly the header.
	peek := make([]byte, 8)
	n, err := src.ReadAt(peek, 0)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "blte: read container prefix")
	}
	if n < 8 {
		return nil, errors.Wrap(base.ErrCorrupt, "blte: truncated container header")
	}
	headerSize := int64(0)
	if peek[4]|peek[5]|peek[6]|peek[7] != 0 {
		headerSize = int64(peek[4])<<24 | int64(peek[5])<<16 | int64(peek[6])<<8 | int64(peek[7])
	}
	full := make([]byte, 8+headerSize)
	if headerSize > 0 {
		if _, err := src.ReadAt(full, 0); err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "blte: read frame table")
		}
	} else {
		copy(full, peek)
	}
	hdr, bodyOffset, err := parseHeader(full)
	if err != nil {
		return nil, err
	}

	r := &Reader{src: src, ks: ks}
	if hdr.frames == nil {
		// Single raw frame: everything past the 8-byte prefix.
		r.frames = []frameLocation{{
			fileOffset:  int64(bodyOffset),
			encodedSize: encodedLen - int64(bodyOffset),
		}}
	} else {
		offset := int64(bodyOffset)
		r.frames = make([]frameLocation, len(hdr.frames))
		for i, f := range hdr.frames {
			r.frames[i] = frameLocation{
				fileOffset:  offset,
				encodedSize: int64(f.EncodedSize),
				plainSize:   int64(f.PlainSize),
				checksum:    f.Checksum,
				hasChecksum: true,
			}
			offset += int64(f.EncodedSize)
		}
	}
	for _, f := range r.frames {
		if f.hasChecksum {
			r.plainSize += f.plainSize
		}
	}
	if err := r.loadFrame(0); err != nil {
		return nil, err
	}
	return r, nil
}

// Len returns the total decoded plaintext size. For the single-raw-frame
// form (no frame table) this is only known once the frame has been decoded.
func (r *Reader) Len() int64 {
	if r.plainSize == 0 && len(r.frames) == 1 && !r.frames[0].hasChecksum {
		return int64(len(r.frameData))
	}
	return r.plainSize
}

// loadFrame decodes frame i from scratch into r.frameData, verifying its
// checksum against the frame table when present.
func (r *Reader) loadFrame(i int) error {
	if i >= len(r.frames) {
		r.frameIdx = i
		r.frameData = nil
		r.frameOff = 0
		return nil
	}
	loc := r.frames[i]
	raw := make([]byte, loc.encodedSize)
	if _, err := r.src.ReadAt(raw, loc.fileOffset); err != nil && err != io.EOF {
		return errors.Wrapf(err, "blte: read frame %d", i)
	}
	if loc.hasChecksum {
		if got := md5.Sum(raw); got != loc.checksum {
			return errors.Wrapf(base.ErrBlteChecksumMismatch, "frame %d", i)
		}
	}
	plain, err := decodeFramePayload(raw, i, r.ks)
	if err != nil {
		return errors.Wrapf(err, "blte: frame %d", i)
	}
	r.frameIdx = i
	r.frameData = plain
	r.frameOff = 0
	return nil
}

// decodeFramePayload interprets raw (mode byte + payload) according to its
// mode, recursing through 'E' (decrypt then re-decode) and 'F' (nested
// BLTE stream).
func decodeFramePayload(raw []byte, frameIndex int, ks KeyService) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.Wrap(base.ErrCorrupt, "blte: empty frame")
	}
	mode, payload := raw[0], raw[1:]
	switch mode {
	case ModeRaw:
		return payload, nil
	case ModeZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(err, "blte: zlib open")
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, errors.Wrap(err, "blte: zlib inflate")
		}
		return out, nil
	case ModeEncrypted:
		inner, err := decryptFrame(payload, frameIndex, ks)
		if err != nil {
			return nil, err
		}
		return decodeFramePayload(inner, frameIndex, ks)
	case ModeRecursive:
		nested, err := Open(bytes.NewReader(payload), int64(len(payload)), ks)
		if err != nil {
			return nil, err
		}
		return io.ReadAll(nestedReader{nested})
	default:
		return nil, errors.Wrapf(base.ErrBlteUnknownMode, "0x%02x", mode)
	}
}

type nestedReader struct{ r *Reader }

func (n nestedReader) Read(p []byte) (int, error) { return n.r.Read(p) }

// Read implements io.Reader, advancing through frames as each is exhausted.
func (r *Reader) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if r.frameOff >= len(r.frameData) {
			if r.frameIdx+1 >= len(r.frames) {
				if total > 0 {
					return total, nil
				}
				return 0, io.EOF
			}
			if err := r.loadFrame(r.frameIdx + 1); err != nil {
				return total, err
			}
			continue
		}
		n := copy(p[total:], r.frameData[r.frameOff:])
		r.frameOff += n
		total += n
	}
	return total, nil
}

// Seek repositions to an absolute plaintext offset. Seeking into a frame
// other than the current one decodes that frame from its start; seeking
// within the current frame reuses its already-decoded plaintext.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return 0, errors.New("blte: only io.SeekStart is supported")
	}
	if offset < 0 {
		return 0, errors.New("blte: negative seek offset")
	}
	// Walk the frame table to find which frame contains offset. This only
	// works for the frame-table form; the single-raw-frame form has one
	// frame covering everything.
	var base int64
	for i, f := range r.frames {
		size := f.plainSize
		if !f.hasChecksum {
			// single-frame form: size is only known after decode.
			if i != r.frameIdx {
				if err := r.loadFrame(i); err != nil {
					return 0, err
				}
			}
			size = int64(len(r.frameData))
		}
		if offset < base+size || i == len(r.frames)-1 {
			if i != r.frameIdx || offset < base {
				if err := r.loadFrame(i); err != nil {
					return 0, err
				}
			}
			r.frameOff = int(offset - base)
			if r.frameOff > len(r.frameData) {
				r.frameOff = len(r.frameData)
			}
			return offset, nil
		}
		base += size
	}
	return 0, errors.New("blte: seek past end of stream")
}

// DecodeAll reads src fully and returns the decoded plaintext.
func DecodeAll(src io.ReaderAt, encodedLen int64, ks KeyService) ([]byte, error) {
	r, err := Open(src, encodedLen, ks)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
