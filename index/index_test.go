// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package index

import (
	"bytes"
	"crypto/md5"
	"sort"
	"strings"
	"testing"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/WoWTrace/tactcas/vfs"
	"github.com/stretchr/testify/require"
)

func fakeEKey(n int) keys.EKey {
	var b [16]byte
	b[0] = byte(n >> 8)
	b[1] = byte(n)
	sum := md5.Sum(b[:])
	return sum
}

func TestBuildAndLoadRoundTrip(t *testing.T) {
	entries := []Entry{
		{EKey: fakeEKey(1), Offset: 0, Size: 100},
		{EKey: fakeEKey(2), Offset: 100, Size: 200},
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EKey.Less(entries[j].EKey) })

	f, data, err := Build(KindData, entries)
	require.NoError(t, err)

	loaded, err := parse(data, f.Checksum.String()+".index")
	require.NoError(t, err)
	require.Equal(t, f.Checksum, loaded.Checksum)

	for _, e := range entries {
		got, ok := loaded.TryGet(e.EKey)
		require.True(t, ok)
		require.Equal(t, e, got)
	}
	_, ok := loaded.TryGet(fakeEKey(3))
	require.False(t, ok)
}

// S3: pack 300 records of 1,000,000 bytes into archives; expect one archive
// of exactly 256,000,000 bytes and one of 44,000,000, both strictly ordered.
func TestPackingScenarioS3(t *testing.T) {
	const recordSize = 1_000_000
	records := make([]StagedRecord, 300)
	for i := range records {
		records[i] = StagedRecord{EKey: fakeEKey(i), Data: make([]byte, recordSize), EncodedSize: recordSize}
	}
	sortRecordsByEKey(records)

	partitions := partition(records, ArchiveMaxBytes)
	require.Len(t, partitions, 2)

	sizes := make([]int64, len(partitions))
	for i, p := range partitions {
		var sum int64
		for _, r := range p {
			sum += r.EncodedSize
		}
		sizes[i] = sum
	}
	require.EqualValues(t, 256_000_000, sizes[0])
	require.EqualValues(t, 44_000_000, sizes[1])

	for _, p := range partitions {
		for i := 1; i < len(p); i++ {
			require.True(t, p[i-1].EKey.Less(p[i].EKey))
		}
	}
}

func sortRecordsByEKey(records []StagedRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].EKey.Less(records[j-1].EKey); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

func TestSetEnqueueSaveOpen(t *testing.T) {
	fsys := vfs.NewMem()
	set, err := Open(fsys, "/repo/data", Options{Logger: base.NoopLogger{}})
	require.NoError(t, err)

	rec := StagedRecord{EKey: fakeEKey(1), Data: []byte("encoded-bytes"), EncodedSize: 13}
	require.NoError(t, set.Enqueue(rec))
	require.NoError(t, set.Save(CleanupPolicy{}))

	e, ok := set.TryGet(rec.EKey)
	require.True(t, ok)
	require.EqualValues(t, 13, e.Size)

	// S5: idempotent re-enqueue + save changes nothing on disk.
	before, err := walkIndexFiles(fsys, "/repo/data")
	require.NoError(t, err)
	require.NoError(t, set.Enqueue(rec))
	require.NoError(t, set.Save(CleanupPolicy{}))
	after, err := walkIndexFiles(fsys, "/repo/data")
	require.NoError(t, err)
	require.ElementsMatch(t, before, after)
}

// Save's top-off step: an under-filled archive is rewritten (new checksum)
// to fold in the next save's staged records rather than always sealing a
// brand-new archive from scratch. The superseded index disappears
// regardless of policy; the superseded blob is only removed when
// DisposeOldBlobs is set.
func TestSaveTopsOffUnderfilledArchive(t *testing.T) {
	fsys := vfs.NewMem()
	dir := "/repo/data"
	set, err := Open(fsys, dir, Options{ArchiveMaxBytes: 30, Logger: base.NoopLogger{}})
	require.NoError(t, err)

	require.NoError(t, set.Enqueue(StagedRecord{EKey: fakeEKey(1), Data: bytes.Repeat([]byte{1}, 10), EncodedSize: 10}))
	require.NoError(t, set.Save(CleanupPolicy{}))

	firstFiles, err := walkIndexFiles(fsys, dir)
	require.NoError(t, err)
	require.Len(t, firstFiles, 1)
	firstBlob := strings.TrimSuffix(firstFiles[0], ".index")

	require.NoError(t, set.Enqueue(StagedRecord{EKey: fakeEKey(2), Data: bytes.Repeat([]byte{2}, 10), EncodedSize: 10}))
	require.NoError(t, set.Save(CleanupPolicy{}))

	secondFiles, err := walkIndexFiles(fsys, dir)
	require.NoError(t, err)
	require.Len(t, secondFiles, 1, "topping off must not leave the superseded index behind")
	require.NotEqual(t, firstFiles[0], secondFiles[0])
	secondBlob := strings.TrimSuffix(secondFiles[0], ".index")

	// dispose=false: the superseded blob is orphaned, not deleted.
	_, err = fsys.Stat(firstBlob)
	require.NoError(t, err)

	e1, ok := set.TryGet(fakeEKey(1))
	require.True(t, ok)
	require.EqualValues(t, 10, e1.Size)
	e2, ok := set.TryGet(fakeEKey(2))
	require.True(t, ok)
	require.EqualValues(t, 10, e2.Size)

	require.NoError(t, set.Enqueue(StagedRecord{EKey: fakeEKey(3), Data: bytes.Repeat([]byte{3}, 10), EncodedSize: 10}))
	require.NoError(t, set.Save(CleanupPolicy{DisposeOldBlobs: true}))

	thirdFiles, err := walkIndexFiles(fsys, dir)
	require.NoError(t, err)
	require.Len(t, thirdFiles, 1)

	// dispose=true: the archive superseded by this save is actually removed.
	_, err = fsys.Stat(secondBlob)
	require.Error(t, err)

	for _, n := range []int{1, 2, 3} {
		e, ok := set.TryGet(fakeEKey(n))
		require.True(t, ok, "key %d", n)
		require.EqualValues(t, 10, e.Size)
	}
}

func TestSetReopenAfterSave(t *testing.T) {
	fsys := vfs.NewMem()
	dir := "/repo/data"
	set, err := Open(fsys, dir, Options{Logger: base.NoopLogger{}})
	require.NoError(t, err)
	require.NoError(t, set.Enqueue(StagedRecord{EKey: fakeEKey(42), Data: []byte("hello world"), EncodedSize: 11}))
	require.NoError(t, set.Save(CleanupPolicy{}))

	reopened, err := Open(fsys, dir, Options{Logger: base.NoopLogger{}})
	require.NoError(t, err)
	e, ok := reopened.TryGet(fakeEKey(42))
	require.True(t, ok)
	require.EqualValues(t, 11, e.Size)
}

// S4: corrupting a page in one index file fails only that file's Open.
func TestCorruptPageSkipsOnlyThatFile(t *testing.T) {
	fsys := vfs.NewMem()
	dir := "/repo/data"
	set, err := Open(fsys, dir, Options{Logger: base.NoopLogger{}})
	require.NoError(t, err)
	require.NoError(t, set.Enqueue(StagedRecord{EKey: fakeEKey(1), Data: []byte("aaa"), EncodedSize: 3}))
	require.NoError(t, set.Save(CleanupPolicy{}))

	paths, err := walkIndexFiles(fsys, dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	f, err := fsys.Open(paths[0])
	require.NoError(t, err)
	data := make([]byte, PageSize+64)
	n, _ := f.Read(data)
	data = data[:n]
	require.NoError(t, f.Close())

	corrupted := append([]byte{}, data...)
	corrupted[17] ^= 0xFF
	wf, err := fsys.Create(paths[0])
	require.NoError(t, err)
	_, err = wf.Write(corrupted)
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	reopened, err := Open(fsys, dir, Options{Logger: base.NoopLogger{}})
	require.NoError(t, err)
	require.Empty(t, reopened.files)
}
