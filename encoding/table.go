// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package encoding implements the two-section paged encoding table:
// CKey -> (size, [EKey...]) and EKey -> ESpec index, plus the ESpec string
// pool that backs both.
package encoding

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/cockroachdb/errors"
)

const (
	magic0 = 'E'
	magic1 = 'N'

	formatVersion = 1
	hashSize      = keys.Size

	// DefaultPageSizeKB is used for both the CKey and EKey page sections
	// unless Options overrides it.
	DefaultPageSizeKB = 4
)

// CKeyEntry is what TryGetCKey returns: the plaintext size and the set of
// equivalent encodings (EKeys) for a content key.
type CKeyEntry struct {
	Size  int64
	EKeys []keys.EKey
}

// Options configures a Table.
type Options struct {
	CKeyPageSizeKB uint16
	EKeyPageSizeKB uint16
	Logger         base.Logger
}

func (o *Options) ensureDefaults() {
	if o.CKeyPageSizeKB == 0 {
		o.CKeyPageSizeKB = DefaultPageSizeKB
	}
	if o.EKeyPageSizeKB == 0 {
		o.EKeyPageSizeKB = DefaultPageSizeKB
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
}

// stagedCKey is one row staged for the CKey section.
type stagedCKey struct {
	CKey  keys.CKey
	Size  int64
	EKeys []keys.EKey
	Spec  keys.ESpec
}

// Table is the loaded, queryable encoding table plus its write-side
// staging structure. Two binary searches (page, then record) resolve a
// lookup, per the spec.
type Table struct {
	opts Options

	// Loaded (persisted) view.
	ckeyPages    [][]ckeyRecord
	ckeyFirstKey []keys.CKey
	ekeyPages    [][]ekeyRecord
	ekeyFirstKey []keys.EKey
	especPool    []keys.ESpec // append-only across rewrites; see DESIGN.md

	mu      sync.RWMutex
	writeMu sync.Mutex
	staging map[keys.CKey]stagedCKey
}

type ckeyRecord struct {
	CKey      keys.CKey
	PlainSize int64
	EKeys     []keys.EKey
}

type ekeyRecord struct {
	EKey        keys.EKey
	ESpecIndex  uint32
	EncodedSize int64
}

// New returns an empty table, ready to stage records via Add.
func New(opts Options) *Table {
	opts.ensureDefaults()
	return &Table{opts: opts, staging: make(map[keys.CKey]stagedCKey)}
}

// TryGetCKey looks up a content key: page-index binary search by first
// key, then a binary search of that page's records.
func (t *Table) TryGetCKey(ck keys.CKey) (CKeyEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ck.IsEmpty() {
		return CKeyEntry{}, false
	}
	pageIdx := sort.Search(len(t.ckeyFirstKey), func(i int) bool {
		return t.ckeyFirstKey[i].Compare(ck) > 0
	}) - 1
	if pageIdx < 0 {
		return CKeyEntry{}, false
	}
	page := t.ckeyPages[pageIdx]
	i := sort.Search(len(page), func(i int) bool { return !page[i].CKey.Less(ck) })
	if i < len(page) && page[i].CKey == ck {
		return CKeyEntry{Size: page[i].PlainSize, EKeys: append([]keys.EKey(nil), page[i].EKeys...)}, true
	}
	return CKeyEntry{}, false
}

// TryGetESpec looks up the ESpec a given EKey was encoded with.
func (t *Table) TryGetESpec(ek keys.EKey) (keys.ESpec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ek.IsEmpty() {
		return "", false
	}
	pageIdx := sort.Search(len(t.ekeyFirstKey), func(i int) bool {
		return t.ekeyFirstKey[i].Compare(ek) > 0
	}) - 1
	if pageIdx < 0 {
		return "", false
	}
	page := t.ekeyPages[pageIdx]
	i := sort.Search(len(page), func(i int) bool { return !page[i].EKey.Less(ek) })
	if i < len(page) && page[i].EKey == ek {
		if int(page[i].ESpecIndex) >= len(t.especPool) {
			return "", false
		}
		return t.especPool[page[i].ESpecIndex], true
	}
	return "", false
}

// Add stages a (CKey, size, EKeys, ESpec) record for the next Save. Like
// the index engine's Enqueue, a repeat of an already-staged or
// already-persisted CKey is a no-op.
func (t *Table) Add(ck keys.CKey, size int64, eks []keys.EKey, spec keys.ESpec) {
	if ck.IsEmpty() {
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, ok := t.staging[ck]; ok {
		return
	}
	if _, ok := t.TryGetCKey(ck); ok {
		return
	}
	t.staging[ck] = stagedCKey{CKey: ck, Size: size, EKeys: append([]keys.EKey(nil), eks...), Spec: spec}
}

func uint40(b []byte, v int64) {
	if v < 0 || v >= 1<<40 {
		panic("encoding: value does not fit in 40 bits")
	}
	b[0] = byte(v >> 32)
	binary.BigEndian.PutUint32(b[1:5], uint32(v))
}

func getUint40(b []byte) int64 {
	return int64(b[0])<<32 | int64(binary.BigEndian.Uint32(b[1:5]))
}

// espec header

func encodeESpecPool(pool []keys.ESpec) []byte {
	var buf bytes.Buffer
	for _, s := range pool {
		buf.WriteString(string(s))
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func decodeESpecPool(b []byte) []keys.ESpec {
	var pool []keys.ESpec
	start := 0
	for i, c := range b {
		if c == 0 {
			pool = append(pool, keys.ESpec(b[start:i]))
			start = i + 1
		}
	}
	return pool
}

// internPool appends any ESpec in additions not already present in pool,
// preserving pool's existing order (see the ESpec-ordering Open Question
// resolution in DESIGN.md: append-only, never reordered).
func internPool(pool []keys.ESpec, additions []keys.ESpec) ([]keys.ESpec, map[keys.ESpec]uint32) {
	index := make(map[keys.ESpec]uint32, len(pool)+len(additions))
	for i, s := range pool {
		index[s] = uint32(i)
	}
	for _, s := range additions {
		if _, ok := index[s]; ok {
			continue
		}
		index[s] = uint32(len(pool))
		pool = append(pool, s)
	}
	return pool, index
}

var errShortRead = errors.New("encoding: truncated table")

func checkLen(b []byte, n int, what string) error {
	if len(b) < n {
		return errors.Wrapf(errShortRead, "%s: need %d bytes, have %d", what, n, len(b))
	}
	return nil
}

// md5sum16 is a small helper so callers don't repeat the array-slice dance.
func md5sum16(b []byte) [16]byte { return md5.Sum(b) }
