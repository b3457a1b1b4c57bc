// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package keys

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ESpec is an ASCII string describing the block layout used to encode a
// file, e.g. "n", "z", "b:{1M*,z}". It is interned by index in the
// encoding table's string pool.
type ESpec string

// BlockRule is one term of a "b:{...}" block-size schedule: encode `Count`
// blocks of `FixedSize` plaintext bytes each using `Mode`. A zero Count with
// Star set means "consume the remainder of the input with this mode".
type BlockRule struct {
	FixedSize int64
	Count     int
	Star      bool
	Mode      byte // 'n' or 'z'
}

// ParseBlockSchedule parses the block-size schedule out of a "b:{...}"
// ESpec, e.g. "b:{256K*=z,1M*}" -> two rules. A bare "n" or "z" ESpec
// (single frame, whole-input) is not a block schedule and is rejected, as
// is any spec without the "b:{...}" shape.
func ParseBlockSchedule(spec ESpec) ([]BlockRule, error) {
	s := string(spec)
	if !strings.HasPrefix(s, "b:{") || !strings.HasSuffix(s, "}") {
		return nil, errors.Newf("espec: %q is not a block schedule", s)
	}
	body := s[len("b:{") : len(s)-1]
	if body == "" {
		return nil, errors.Newf("espec: empty block schedule %q", s)
	}
	var rules []BlockRule
	for _, term := range strings.Split(body, ",") {
		term = strings.TrimSpace(term)
		rule, err := parseBlockTerm(term)
		if err != nil {
			return nil, errors.Wrapf(err, "espec %q", s)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// parseBlockTerm parses one comma-separated term of a "{fixed_size × count,
// …, *}" schedule. Shapes accepted:
//
//   - a bare mode letter ("n" or "z"): no fixed size, consume whatever
//     plaintext remains as a single frame using that mode. This is how a
//     trailing catch-all term like the "z" in "b:{1M*,z}" is expressed.
//   - SIZE[*[COUNT|MODE]][=MODE]: SIZE is a decimal integer optionally
//     suffixed with K or M. A bare trailing '*' means "repeat this size for
//     the rest of the input"; '*' followed by a digit count means "exactly
//     that many blocks of this size" (e.g. "256K*4"); '*' followed
//     immediately by a mode letter (no '=') is another spelling of the
//     open-ended catch-all ("*z"). MODE defaults to 'z'.
func parseBlockTerm(term string) (BlockRule, error) {
	if term == "n" || term == "z" {
		return BlockRule{Star: true, Mode: term[0]}, nil
	}

	mode := byte('z')
	if i := strings.IndexByte(term, '='); i >= 0 {
		modeStr := term[i+1:]
		if modeStr != "n" && modeStr != "z" {
			return BlockRule{}, errors.Newf("unsupported block mode %q", modeStr)
		}
		mode = modeStr[0]
		term = term[:i]
	}

	star := false
	count := 0
	if i := strings.IndexByte(term, '*'); i >= 0 {
		rest := term[i+1:]
		term = term[:i]
		switch {
		case rest == "":
			star = true
		case rest == "n" || rest == "z":
			star = true
			mode = rest[0]
		default:
			n, err := strconv.Atoi(rest)
			if err != nil {
				return BlockRule{}, errors.Wrapf(err, "bad block count %q", rest)
			}
			count = n
		}
	} else {
		count = 1
	}

	if term == "" {
		// A bare "*" (or "*n"/"*z"): no fixed size, same open-ended
		// catch-all as the "n"/"z" special case above.
		return BlockRule{Count: count, Star: star, Mode: mode}, nil
	}

	mult := int64(1)
	switch {
	case strings.HasSuffix(term, "K"):
		mult = 1024
		term = strings.TrimSuffix(term, "K")
	case strings.HasSuffix(term, "M"):
		mult = 1024 * 1024
		term = strings.TrimSuffix(term, "M")
	}
	size, err := strconv.ParseInt(term, 10, 64)
	if err != nil {
		return BlockRule{}, errors.Wrapf(err, "bad block size %q", term)
	}
	return BlockRule{FixedSize: size * mult, Count: count, Star: star, Mode: mode}, nil
}
