// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blte

import (
	"bytes"
	"crypto/md5"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zlib"
)

// singleFrameThreshold is the "Default policy" boundary from the codec
// spec: below this, DefaultESpec picks a single zlib frame; at or above it,
// a block-split schedule.
const singleFrameThreshold = 1 << 20 // 1 MiB

// defaultBlockSize is the block size DefaultESpec uses for large payloads.
const defaultBlockSize = 256 * 1024

// DefaultESpec chooses an ESpec for a caller that has no schedule
// preference of its own: a single zlib frame under 1 MiB, otherwise a
// 256 KiB block schedule.
func DefaultESpec(plainSize int64) keys.ESpec {
	if plainSize < singleFrameThreshold {
		return "z"
	}
	return "b:{256K*=z}"
}

// Result is the outcome of encoding one plaintext blob.
type Result struct {
	Encoded []byte
	CKey    keys.CKey
	EKey    keys.EKey
}

// Encode BLTE-encodes plaintext according to spec, honoring the ESpec's
// literal frame mode ("n" or "z") or block schedule ("b:{...}"). It never
// encrypts on the write path — the codec's 'E' mode is decode-only here,
// since encryption key material belongs to the collaborator that owns the
// build, not the CAS writer (cas.Options.KeyService is only used by
// cas.Reader).
func Encode(plaintext []byte, spec keys.ESpec) (Result, error) {
	frames, err := planFrames(plaintext, spec)
	if err != nil {
		return Result{}, err
	}

	var (
		frameBytes [][]byte
		table      []FrameTableEntry
	)
	for _, f := range frames {
		fb, err := encodeFrame(f.mode, f.data)
		if err != nil {
			return Result{}, err
		}
		frameBytes = append(frameBytes, fb)
		table = append(table, FrameTableEntry{
			EncodedSize: uint32(len(fb)),
			PlainSize:   uint32(len(f.data)),
			Checksum:    md5.Sum(fb),
		})
	}

	var buf bytes.Buffer
	buf.Write(encodeHeader(table))
	for _, fb := range frameBytes {
		buf.Write(fb)
	}
	encoded := buf.Bytes()

	return Result{
		Encoded: encoded,
		CKey:    md5.Sum(plaintext),
		EKey:    md5.Sum(encoded),
	}, nil
}

type framePlan struct {
	mode byte
	data []byte
}

// planFrames splits plaintext into (mode, data) chunks per the ESpec.
func planFrames(plaintext []byte, spec keys.ESpec) ([]framePlan, error) {
	switch spec {
	case "n":
		return []framePlan{{mode: ModeRaw, data: plaintext}}, nil
	case "z":
		return []framePlan{{mode: ModeZlib, data: plaintext}}, nil
	}

	rules, err := keys.ParseBlockSchedule(spec)
	if err != nil {
		return nil, errors.Wrapf(err, "blte: unrecognized ESpec %q", spec)
	}
	return blockPlan(rules, plaintext)
}

// blockPlan walks the schedule's terms in order, consuming plaintext from
// the front of the input as it goes: a Count-bounded term emits exactly
// that many fixed-size frames, a Star term with a fixed size repeats that
// size for as much of the remaining input as fits (its own last frame may
// be a shorter tail), and a bare-mode term (Star, no fixed size) takes
// whatever plaintext is left as one final frame. Every term is honored in
// sequence — a multi-term schedule is never collapsed to its first sized
// term.
func blockPlan(rules []keys.BlockRule, plaintext []byte) ([]framePlan, error) {
	var plans []framePlan
	remaining := plaintext
	for _, rule := range rules {
		if len(remaining) == 0 {
			break
		}
		mode := blockModeByte(rule.Mode)

		if rule.FixedSize <= 0 {
			// Bare mode term: whatever plaintext is still unconsumed
			// becomes exactly one frame.
			plans = append(plans, framePlan{mode: mode, data: remaining})
			remaining = nil
			continue
		}

		if rule.Star {
			for int64(len(remaining)) > rule.FixedSize {
				plans = append(plans, framePlan{mode: mode, data: remaining[:rule.FixedSize]})
				remaining = remaining[rule.FixedSize:]
			}
			if len(remaining) > 0 {
				plans = append(plans, framePlan{mode: mode, data: remaining})
				remaining = nil
			}
			continue
		}

		count := rule.Count
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count && len(remaining) > 0; i++ {
			n := rule.FixedSize
			if int64(len(remaining)) < n {
				n = int64(len(remaining))
			}
			plans = append(plans, framePlan{mode: mode, data: remaining[:n]})
			remaining = remaining[n:]
		}
	}
	if len(remaining) > 0 {
		// The schedule's terms are all Count-bounded and were exhausted
		// before the input was: keep encoding with the last term's mode
		// so no plaintext is silently dropped.
		mode := blockModeByte(rules[len(rules)-1].Mode)
		plans = append(plans, framePlan{mode: mode, data: remaining})
	}
	if len(plans) == 0 {
		// Empty input still produces one (empty) frame.
		mode := blockModeByte(rules[len(rules)-1].Mode)
		plans = append(plans, framePlan{mode: mode, data: plaintext})
	}
	return plans, nil
}

func blockModeByte(m byte) byte {
	if m == 'n' {
		return ModeRaw
	}
	return ModeZlib
}

// encodeFrame renders one frame's on-disk bytes: mode byte + payload.
func encodeFrame(mode byte, data []byte) ([]byte, error) {
	switch mode {
	case ModeRaw:
		out := make([]byte, 1+len(data))
		out[0] = ModeRaw
		copy(out[1:], data)
		return out, nil
	case ModeZlib:
		var buf bytes.Buffer
		buf.WriteByte(ModeZlib)
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, errors.Wrap(err, "blte: zlib compress")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "blte: zlib compress")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Wrapf(base.ErrBlteUnknownMode, "0x%02x", mode)
	}
}
