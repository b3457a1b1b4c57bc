// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package cas is the orchestration layer that ties keys, blte, index, and
// encoding together into a content-addressed store: Put a blob by its
// content, Get it back by CKey or EKey, Save durably.
package cas

import (
	"bytes"
	"io"

	"github.com/WoWTrace/tactcas/blte"
	"github.com/WoWTrace/tactcas/encoding"
	"github.com/WoWTrace/tactcas/index"
	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/WoWTrace/tactcas/vfs"
	"github.com/cockroachdb/errors"
)

// BlobSource resolves an EKey to the raw (BLTE-encoded) bytes of the blob
// stored under it. cas.Reader never assumes local index/archive files are
// the only place bytes can come from: an implementation might fetch from
// a remote CDN mirror instead. LocalBlobSource (blobsource.go) is the
// only implementation this repo provides.
type BlobSource interface {
	Fetch(ekey keys.EKey) (io.ReadCloser, int64, error)
}

// ManifestView is the read side of whatever owns the build config /
// manifest that names this repo's root CKeys (e.g. an install manifest's
// root directory listing). It is a narrow interface because the
// component that actually parses build configs and manifests is a
// collaborator outside this module's scope (see SPEC_FULL.md). No type in
// this package takes a ManifestView; it names only the lookup of a root
// to a CKey.
type ManifestView interface {
	RootCKey(name string) (keys.CKey, bool)
}

// Options configures both Reader and Writer.
type Options struct {
	Logger      base.Logger
	KeyService  blte.KeyService
	DefaultSpec func(plainSize int64) keys.ESpec
}

func (o *Options) ensureDefaults() {
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.DefaultSpec == nil {
		o.DefaultSpec = blte.DefaultESpec
	}
}

// Reader resolves CKeys/EKeys to plaintext bytes through the encoding
// table and a BlobSource.
type Reader struct {
	table  *encoding.Table
	blobs  BlobSource
	opts   Options
}

// NewReader builds a Reader over an already-loaded encoding table and a
// blob source that can fetch archive/loose bytes by EKey.
func NewReader(table *encoding.Table, blobs BlobSource, opts Options) *Reader {
	opts.ensureDefaults()
	return &Reader{table: table, blobs: blobs, opts: opts}
}

// OpenByCKey resolves a content key to its plaintext, trying each of its
// equivalent EKeys in order until one is fetchable and decodes cleanly.
func (r *Reader) OpenByCKey(ck keys.CKey) (io.ReadCloser, error) {
	entry, ok := r.table.TryGetCKey(ck)
	if !ok {
		return nil, errors.Wrapf(base.ErrNotFound, "cas: ckey %s", ck)
	}
	var lastErr error
	for _, ek := range entry.EKeys {
		rc, err := r.OpenByEKey(ek)
		if err == nil {
			return rc, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "cas: ckey %s: no fetchable EKey", ck)
}

// OpenByEKey fetches the encoded blob for ek and returns a streaming BLTE
// decoder over it.
func (r *Reader) OpenByEKey(ek keys.EKey) (io.ReadCloser, error) {
	rc, size, err := r.blobs.Fetch(ek)
	if err != nil {
		return nil, errors.Wrapf(err, "cas: fetch %s", ek)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "cas: read %s", ek)
	}
	if int64(len(data)) != size && size >= 0 {
		return nil, errors.Wrapf(base.ErrCorrupt, "cas: %s: fetched %d bytes, want %d", ek, len(data), size)
	}
	br, err := blte.Open(bytes.NewReader(data), int64(len(data)), r.opts.KeyService)
	if err != nil {
		return nil, errors.Wrapf(err, "cas: open blte for %s", ek)
	}
	return readCloser{br}, nil
}

type readCloser struct{ r io.Reader }

func (readCloser) Close() error       { return nil }
func (rc readCloser) Read(p []byte) (int, error) { return rc.r.Read(p) }

// Writer ingests plaintext blobs, BLTE-encoding and staging them for the
// index engine and the encoding table in one call. Nothing is durable
// until Repo.Save flushes both.
type Writer struct {
	set   *index.Set
	table *encoding.Table
	opts  Options
}

// NewWriter composes a Writer over an index.Set and an encoding.Table
// that a Repo will later Save together.
func NewWriter(set *index.Set, table *encoding.Table, opts Options) *Writer {
	opts.ensureDefaults()
	return &Writer{set: set, table: table, opts: opts}
}

// Put BLTE-encodes plaintext (with spec, or opts.DefaultSpec if spec is
// empty), stages the resulting bytes into the index engine, and records
// the CKey/EKey pair in the encoding table. It returns the content key.
func (w *Writer) Put(plaintext []byte, spec keys.ESpec) (keys.CKey, error) {
	if spec == "" {
		spec = w.opts.DefaultSpec(int64(len(plaintext)))
	}
	result, err := blte.Encode(plaintext, spec)
	if err != nil {
		return keys.CKey{}, errors.Wrap(err, "cas: encode")
	}
	if err := w.set.Enqueue(index.StagedRecord{
		EKey:        result.EKey,
		Data:        result.Encoded,
		EncodedSize: int64(len(result.Encoded)),
	}); err != nil {
		return keys.CKey{}, errors.Wrap(err, "cas: enqueue")
	}
	w.table.Add(result.CKey, int64(len(plaintext)), []keys.EKey{result.EKey}, spec)
	return result.CKey, nil
}

// Repo owns one index.Set and one encoding.Table rooted at the same
// directory and coordinates their Save so the on-disk order matches the
// spec's durability guarantee: index files (and the archives they name)
// land before the encoding table that points into them, so a reader can
// never observe an encoding entry whose EKey isn't yet resolvable.
type Repo struct {
	FS    vfs.FS
	Dir   string
	Set   *index.Set
	Table *encoding.Table
	opts  Options
}

// OpenRepo loads (or initializes) the index set rooted at dir and starts
// an empty encoding table. A previously saved encoding table is not read
// back from dir.
func OpenRepo(fsys vfs.FS, dir string, opts Options) (*Repo, error) {
	opts.ensureDefaults()
	set, err := index.Open(fsys, dir, index.Options{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	table := encoding.New(encoding.Options{Logger: opts.Logger})
	return &Repo{FS: fsys, Dir: dir, Set: set, Table: table, opts: opts}, nil
}

// NewWriter returns a Writer bound to this repo's staging areas.
func (r *Repo) NewWriter() *Writer {
	return NewWriter(r.Set, r.Table, r.opts)
}

// NewReader returns a Reader that resolves blobs through this repo's own
// archives.
func (r *Repo) NewReader() *Reader {
	return NewReader(r.Table, LocalBlobSource{FS: r.FS, Set: r.Set, Dir: r.Dir}, r.opts)
}

// Save flushes the index engine first (archives renamed into place only
// after their .index is fsynced, per index.Set.Save's own guarantee),
// then writes the encoding table — the last artifact of a save — and
// returns its EKey for the caller's manifest/build-config layer to record.
// policy is passed straight through to index.Set.Save; Repo holds no
// cleanup state of its own.
func (r *Repo) Save(spec keys.ESpec, policy index.CleanupPolicy) (keys.EKey, error) {
	if err := r.Set.Save(policy); err != nil {
		return keys.EKey{}, errors.Wrap(err, "cas: save index")
	}
	if spec == "" {
		spec = "z"
	}
	ekey, err := r.Table.Save(r.FS, r.Dir, spec)
	if err != nil {
		return keys.EKey{}, errors.Wrap(err, "cas: save encoding table")
	}
	return ekey, nil
}
