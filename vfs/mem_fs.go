// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"bytes"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// MemFS is an in-memory FS, used by tests that want to exercise the
// index/archive save path without touching disk.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memNode
}

type memNode struct {
	mu      sync.Mutex
	data    []byte
	modTime time.Time
	isDir   bool
}

// NewMem returns an empty in-memory FS.
func NewMem() *MemFS {
	return &MemFS{files: make(map[string]*memNode)}
}

func clean(name string) string {
	return path.Clean(strings.ReplaceAll(name, `\`, "/"))
}

func (fs *MemFS) Create(name string) (File, error) {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := &memNode{modTime: time.Now()}
	fs.files[name] = n
	return &memFile{name: name, node: n, fs: fs}, nil
}

func (fs *MemFS) Open(name string) (File, error) {
	name = clean(name)
	fs.mu.Lock()
	n, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok || n.isDir {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return &memFile{name: name, node: n, fs: fs}, nil
}

func (fs *MemFS) OpenDir(name string) (File, error) {
	name = clean(name)
	fs.mu.Lock()
	n, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok || !n.isDir {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return &memFile{name: name, node: n, fs: fs}, nil
}

func (fs *MemFS) Remove(name string) error {
	name = clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) Rename(oldname, newname string) error {
	oldname, newname = clean(oldname), clean(newname)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.files[oldname]
	if !ok {
		return &os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist}
	}
	delete(fs.files, oldname)
	fs.files[newname] = n
	return nil
}

func (fs *MemFS) MkdirAll(dir string, perm os.FileMode) error {
	dir = clean(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for d := dir; d != "" && d != "." && d != "/"; d = path.Dir(d) {
		if n, ok := fs.files[d]; ok {
			if !n.isDir {
				return errors.Newf("vfs: %q exists and is not a directory", d)
			}
			continue
		}
		fs.files[d] = &memNode{isDir: true, modTime: time.Now()}
	}
	return nil
}

func (fs *MemFS) List(dir string) ([]string, error) {
	dir = clean(dir)
	prefix := dir
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []string
	seen := map[string]bool{}
	for name := range fs.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rel := strings.TrimPrefix(name, prefix)
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			rel = rel[:i]
		}
		if rel == "" || seen[rel] {
			continue
		}
		seen[rel] = true
		out = append(out, rel)
	}
	sort.Strings(out)
	return out, nil
}

func (fs *MemFS) Stat(name string) (os.FileInfo, error) {
	name = clean(name)
	fs.mu.Lock()
	n, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}
	return memFileInfo{name: fs.Default().PathBase(name), node: n}, nil
}

// Default exists so MemFS can reuse FS.PathBase/PathJoin/PathDir without
// re-implementing filepath semantics for the (slash-only) in-memory paths.
func (fs *MemFS) Default() slashFS { return slashFS{} }

func (fs *MemFS) PathBase(p string) string { return slashFS{}.PathBase(p) }
func (fs *MemFS) PathJoin(elem ...string) string { return slashFS{}.PathJoin(elem...) }
func (fs *MemFS) PathDir(p string) string { return slashFS{}.PathDir(p) }

type slashFS struct{}

func (slashFS) PathBase(p string) string { return path.Base(p) }
func (slashFS) PathJoin(elem ...string) string { return path.Join(elem...) }
func (slashFS) PathDir(p string) string { return path.Dir(p) }

type memFileInfo struct {
	name string
	node *memNode
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return int64(len(fi.node.data)) }
func (fi memFileInfo) Mode() os.FileMode  { return 0o666 }
func (fi memFileInfo) ModTime() time.Time { return fi.node.modTime }
func (fi memFileInfo) IsDir() bool        { return fi.node.isDir }
func (fi memFileInfo) Sys() any           { return nil }

type memFile struct {
	name string
	node *memNode
	fs   *MemFS
	pos  int64
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Read(p []byte) (int, error) {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	if f.pos >= int64(len(f.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.node.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	if off >= int64(len(f.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.node.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	if f.pos < int64(len(f.node.data)) {
		f.node.data = append(f.node.data[:f.pos], p...)
	} else {
		pad := int(f.pos) - len(f.node.data)
		if pad > 0 {
			f.node.data = append(f.node.data, bytes.Repeat([]byte{0}, pad)...)
		}
		f.node.data = append(f.node.data, p...)
	}
	f.pos += int64(len(p))
	f.node.modTime = time.Now()
	return len(p), nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	return memFileInfo{name: f.fs.PathBase(f.name), node: f.node}, nil
}

func (f *memFile) Sync() error { return nil }
