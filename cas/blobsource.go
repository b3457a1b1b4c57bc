// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cas

import (
	"bytes"
	"io"

	"github.com/WoWTrace/tactcas/index"
	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/WoWTrace/tactcas/vfs"
	"github.com/cockroachdb/errors"
)

// LocalBlobSource resolves an EKey against a local index.Set (archive
// blobs) and, failing that, a loose-file CDN layout rooted at Dir:
// <Dir>/<kind>/<hash[0:2]>/<hash[2:4]>/<hash>. This is the "collaborator"
// stub the spec calls out as out of scope to build fully (a real CDN
// mirror/cache); it exists so cas.Reader has something concrete to run
// against in this repo's own tests.
type LocalBlobSource struct {
	FS   vfs.FS
	Set  *index.Set
	Dir  string
	Kind string // defaults to "data"
}

// Fetch implements BlobSource.
func (l LocalBlobSource) Fetch(ekey keys.EKey) (io.ReadCloser, int64, error) {
	if l.Set != nil {
		if _, ok := l.Set.TryGet(ekey); ok {
			data, err := l.Set.ReadArchiveRange(ekey)
			if err != nil {
				return nil, 0, err
			}
			return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
		}
	}
	if l.FS == nil {
		return nil, 0, errors.Wrapf(base.ErrNotFound, "cas: %s", ekey)
	}
	kind := l.Kind
	if kind == "" {
		kind = "data"
	}
	hex := ekey.String()
	path := l.FS.PathJoin(l.Dir, kind, hex[0:2], hex[2:4], hex)
	f, err := l.FS.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(base.ErrNotFound, "cas: %s not found locally: %v", ekey, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, errors.Wrapf(err, "cas: stat %s", path)
	}
	return f, info.Size(), nil
}
