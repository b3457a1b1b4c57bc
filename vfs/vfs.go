// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package vfs abstracts the filesystem so that the index and archive engine
// can run against the real disk or against an in-memory namespace in tests.
package vfs

import (
	"io"
	"os"
	"path/filepath"
)

// File is a readable, writable, syncable sequence of bytes.
//
// Typically it will be an *os.File, but tests substitute a memory-backed
// implementation so the CAS engine's save/open path can be exercised without
// touching disk.
type File interface {
	io.Closer
	io.Reader
	io.ReaderAt
	io.Writer
	Stat() (os.FileInfo, error)
	Sync() error
}

// FS is a namespace for files. Names are filepath names: they may be
// / separated or \ separated, depending on the underlying operating system.
type FS interface {
	// Create creates the named file for writing, truncating it if it exists.
	Create(name string) (File, error)

	// Open opens the named file for reading.
	Open(name string) (File, error)

	// OpenDir opens the named directory, for fsyncing directory entries after
	// a rename.
	OpenDir(name string) (File, error)

	// Remove removes the named file.
	Remove(name string) error

	// Rename renames oldname to newname, overwriting newname if it exists.
	Rename(oldname, newname string) error

	// MkdirAll creates dir and any necessary parents. It is a no-op if dir
	// already exists.
	MkdirAll(dir string, perm os.FileMode) error

	// List returns the names of the entries of dir, relative to dir.
	List(dir string) ([]string, error)

	// Stat returns os.FileInfo describing the named file.
	Stat(name string) (os.FileInfo, error)

	PathBase(path string) string
	PathJoin(elem ...string) string
	PathDir(path string) string
}

// Default is the FS backed by the host operating system.
var Default FS = defaultFS{}

type defaultFS struct{}

func (defaultFS) Create(name string) (File, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (defaultFS) Open(name string) (File, error) {
	return os.OpenFile(name, os.O_RDONLY, 0)
}

func (defaultFS) OpenDir(name string) (File, error) {
	return os.OpenFile(name, os.O_RDONLY, 0)
}

func (defaultFS) Remove(name string) error {
	return os.Remove(name)
}

func (defaultFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

func (defaultFS) MkdirAll(dir string, perm os.FileMode) error {
	return os.MkdirAll(dir, perm)
}

func (defaultFS) List(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

func (defaultFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (defaultFS) PathBase(path string) string { return filepath.Base(path) }

func (defaultFS) PathJoin(elem ...string) string { return filepath.Join(elem...) }

func (defaultFS) PathDir(path string) string { return filepath.Dir(path) }
