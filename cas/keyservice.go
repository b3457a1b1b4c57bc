// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cas

import (
	"bufio"
	"encoding/hex"
	"io"
	"strings"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/cockroachdb/errors"
)

// StaticKeyService implements blte.KeyService from a flat text keyring:
// one "keyname,hexkey" pair per line, both hex-encoded (8-byte key name,
// 16-byte key). Blank lines and lines starting with '#' are ignored. Real
// TACT key distribution (fetching from Blizzard's key service, caching,
// rotation) is a collaborator this repo doesn't implement; this is the
// static, offline stand-in the spec's decode path needs to be testable.
type StaticKeyService map[[8]byte][16]byte

// ParseKeyring reads a StaticKeyService from r.
func ParseKeyring(r io.Reader) (StaticKeyService, error) {
	ks := make(StaticKeyService)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			return nil, errors.Newf("cas: malformed keyring line %q", line)
		}
		nameBytes, err := hex.DecodeString(strings.TrimSpace(parts[0]))
		if err != nil || len(nameBytes) != 8 {
			return nil, errors.Wrapf(base.ErrCorrupt, "cas: keyring keyname %q", parts[0])
		}
		keyBytes, err := hex.DecodeString(strings.TrimSpace(parts[1]))
		if err != nil || len(keyBytes) != 16 {
			return nil, errors.Wrapf(base.ErrCorrupt, "cas: keyring key %q", parts[1])
		}
		var name [8]byte
		var key [16]byte
		copy(name[:], nameBytes)
		copy(key[:], keyBytes)
		ks[name] = key
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "cas: read keyring")
	}
	return ks, nil
}

// Lookup implements blte.KeyService.
func (ks StaticKeyService) Lookup(name [8]byte) ([16]byte, bool) {
	k, ok := ks[name]
	return k, ok
}
