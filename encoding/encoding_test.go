// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package encoding

import (
	"crypto/md5"
	"testing"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/WoWTrace/tactcas/vfs"
	"github.com/stretchr/testify/require"
)

func fakeHash(n int) keys.Hash {
	var b [16]byte
	b[0] = byte(n >> 8)
	b[1] = byte(n)
	return md5.Sum(b[:])
}

// S6: a CKey with two equivalent EKeys resolves to both, and each EKey
// individually resolves back to the ESpec it was encoded with.
func TestTwoEKeysPerCKey(t *testing.T) {
	tbl := New(Options{})
	ck := fakeHash(1)
	ek1, ek2 := fakeHash(101), fakeHash(102)
	tbl.Add(ck, 4096, []keys.EKey{ek1, ek2}, "z")

	fsys := vfs.NewMem()
	_, err := tbl.Save(fsys, "/repo", "n")
	require.NoError(t, err)

	entry, ok := tbl.TryGetCKey(ck)
	require.True(t, ok)
	require.EqualValues(t, 4096, entry.Size)
	require.ElementsMatch(t, []keys.EKey{ek1, ek2}, entry.EKeys)

	spec1, ok := tbl.TryGetESpec(ek1)
	require.True(t, ok)
	require.Equal(t, keys.ESpec("z"), spec1)

	spec2, ok := tbl.TryGetESpec(ek2)
	require.True(t, ok)
	require.Equal(t, keys.ESpec("z"), spec2)
}

func TestManyRecordsSpanPages(t *testing.T) {
	tbl := New(Options{CKeyPageSizeKB: 1, EKeyPageSizeKB: 1})
	const n = 200
	for i := 0; i < n; i++ {
		ck := fakeHash(i)
		ek := fakeHash(i + 10000)
		tbl.Add(ck, int64(i), []keys.EKey{ek}, "n")
	}
	fsys := vfs.NewMem()
	ekey, err := tbl.Save(fsys, "/repo", "n")
	require.NoError(t, err)
	require.False(t, ekey.IsEmpty())

	for i := 0; i < n; i++ {
		ck := fakeHash(i)
		entry, ok := tbl.TryGetCKey(ck)
		require.True(t, ok, "ckey %d", i)
		require.EqualValues(t, i, entry.Size)
	}
	_, ok := tbl.TryGetCKey(fakeHash(n + 500))
	require.False(t, ok)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	tbl := New(Options{})
	ck := fakeHash(5)
	ek := fakeHash(6)
	tbl.Add(ck, 10, []keys.EKey{ek}, "z")
	raw, err := tbl.bytesLocked()
	require.NoError(t, err)

	loaded, err := Load(raw, Options{})
	require.NoError(t, err)
	entry, ok := loaded.TryGetCKey(ck)
	require.True(t, ok)
	require.EqualValues(t, 10, entry.Size)
	spec, ok := loaded.TryGetESpec(ek)
	require.True(t, ok)
	require.Equal(t, keys.ESpec("z"), spec)
}

// S4-style: corrupting a byte inside the EKey page region must fail Load
// with Corrupt, mirroring index.TestCorruptPageSkipsOnlyThatFile for the
// sibling package's index pages.
func TestCorruptEKeyPageDetected(t *testing.T) {
	tbl := New(Options{})
	ck := fakeHash(1)
	ek := fakeHash(2)
	tbl.Add(ck, 10, []keys.EKey{ek}, "z")
	raw, err := tbl.bytesLocked()
	require.NoError(t, err)

	corrupt := append([]byte(nil), raw...)
	corrupt[len(corrupt)-1] ^= 0xff // last byte belongs to the ekey page region

	_, err = Load(corrupt, Options{})
	require.Error(t, err)
	require.ErrorIs(t, err, base.ErrCorrupt)
}

func TestAddIsIdempotent(t *testing.T) {
	tbl := New(Options{})
	ck := fakeHash(1)
	ek := fakeHash(2)
	tbl.Add(ck, 10, []keys.EKey{ek}, "n")
	tbl.Add(ck, 999, []keys.EKey{fakeHash(3)}, "z") // dropped: ck already staged

	fsys := vfs.NewMem()
	_, err := tbl.Save(fsys, "/repo", "n")
	require.NoError(t, err)

	entry, ok := tbl.TryGetCKey(ck)
	require.True(t, ok)
	require.EqualValues(t, 10, entry.Size)
}
