// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package index

import (
	"crypto/md5"
	"io"
	"sort"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/WoWTrace/tactcas/vfs"
	"github.com/cockroachdb/errors"
)

// File is a fully validated, in-memory .index file: one page/TOC/footer
// structure covering one archive blob (or a patch/loose variant).
//
// Files are read in full on Open rather than genuinely memory-mapped —
// index files are small (a few hundred KB at the 256 MB archive cap) — but
// the page/TOC layout is preserved exactly as specified so the on-disk
// format stays wire-compatible with a real mmap-based reader.
type File struct {
	Kind       Kind
	GroupIndex bool
	Checksum   keys.Hash // MD5 of the entire file; also its filename
	Path       string

	pages      [][]Entry   // entries per page, in file order; nil for group indices
	pageLastEK []keys.Hash // last EKey of each page, mirrors the TOC
}

// EntryCount returns the number of entries this file holds (0 for a group
// index, which this engine never reads entries out of).
func (f *File) EntryCount() int {
	n := 0
	for _, p := range f.pages {
		n += len(p)
	}
	return n
}

// AllEntries flattens every page's entries into one EKey-sorted slice (nil
// for a group index).
func (f *File) AllEntries() []Entry {
	if f.GroupIndex {
		return nil
	}
	var out []Entry
	for _, p := range f.pages {
		out = append(out, p...)
	}
	return out
}

// lastEKey returns the file's highest EKey, the TOC key of its last page.
// The zero Hash for an empty or group-index file sorts before every real
// key, so it never wins a topOff candidate comparison.
func (f *File) lastEKey() keys.Hash {
	if len(f.pageLastEK) == 0 {
		return keys.Hash{}
	}
	return f.pageLastEK[len(f.pageLastEK)-1]
}

// TryGet binary-searches the TOC to find the candidate page, then binary
// searches within that page.
func (f *File) TryGet(ekey keys.EKey) (Entry, bool) {
	if f.GroupIndex {
		return Entry{}, false
	}
	pageIdx := sort.Search(len(f.pageLastEK), func(i int) bool {
		return !f.pageLastEK[i].Less(ekey)
	})
	if pageIdx == len(f.pageLastEK) {
		return Entry{}, false
	}
	page := f.pages[pageIdx]
	i := sort.Search(len(page), func(i int) bool {
		return !page[i].EKey.Less(ekey)
	})
	if i < len(page) && page[i].EKey == ekey {
		return page[i], true
	}
	return Entry{}, false
}

// Build assembles the page/TOC/footer bytes for a sorted, deduplicated list
// of entries, and returns both the parsed File and its on-disk bytes.
// entries must already be sorted by EKey (invariant 1).
func Build(kind Kind, entries []Entry) (*File, []byte, error) {
	var pages [][]Entry
	for len(entries) > 0 {
		n := entriesPerPage
		if n > len(entries) {
			n = len(entries)
		}
		pages = append(pages, entries[:n])
		entries = entries[n:]
	}

	var body []byte
	var toc []byte
	lastKeys := make([]keys.Hash, len(pages))
	for i, p := range pages {
		pageBytes, checksum, err := encodePage(p)
		if err != nil {
			return nil, nil, err
		}
		body = append(body, pageBytes...)
		row := make([]byte, tocRowSize)
		copy(row[:keys.Size], p[len(p)-1].EKey[:])
		copy(row[keys.Size:], checksum[:])
		toc = append(toc, row...)
		lastKeys[i] = p[len(p)-1].EKey
	}

	ft := footer{
		tocChecksum: tocChecksum(toc),
		kind:        kind,
		numPages:    uint32(len(pages)),
	}
	footerBytes := encodeFooter(ft)

	full := make([]byte, 0, len(body)+len(toc)+len(footerBytes))
	full = append(full, body...)
	full = append(full, toc...)
	full = append(full, footerBytes...)

	checksum := keys.Hash(md5.Sum(full))
	return &File{
		Kind:       kind,
		Checksum:   checksum,
		pages:      pages,
		pageLastEK: lastKeys,
	}, full, nil
}

// Load reads and fully validates an .index file. A checksum mismatch
// (footer, TOC, or any page) fails with an error wrapping base.ErrCorrupt;
// the caller (Set.Open) is responsible for not letting one bad file abort
// a directory scan.
func Load(fsys vfs.FS, path string) (*File, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "index: open %s", path)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "index: read %s", path)
	}
	return parse(data, path)
}

func parse(data []byte, path string) (*File, error) {
	if len(data) < FooterSize {
		return nil, errors.Wrapf(base.ErrCorrupt, "index %s: file too short (%d bytes)", path, len(data))
	}
	ft, err := decodeFooter(data[len(data)-FooterSize:])
	if err != nil {
		return nil, errors.Wrapf(err, "index %s", path)
	}

	checksum := keys.Hash(md5.Sum(data))

	if ft.groupIndex {
		return &File{Kind: ft.kind, GroupIndex: true, Checksum: checksum, Path: path}, nil
	}

	tocSize := int(ft.numPages) * tocRowSize
	pagesSize := int(ft.numPages) * PageSize
	want := pagesSize + tocSize + FooterSize
	if len(data) != want {
		return nil, errors.Wrapf(base.ErrCorrupt, "index %s: length %d, want %d for %d pages", path, len(data), want, ft.numPages)
	}

	tocBytes := data[pagesSize : pagesSize+tocSize]
	if tocChecksum(tocBytes) != ft.tocChecksum {
		return nil, errors.Wrapf(base.ErrCorrupt, "index %s: toc checksum mismatch", path)
	}

	pages := make([][]Entry, ft.numPages)
	lastKeys := make([]keys.Hash, ft.numPages)
	for i := 0; i < int(ft.numPages); i++ {
		pageBytes := data[i*PageSize : (i+1)*PageSize]
		row := tocBytes[i*tocRowSize : (i+1)*tocRowSize]
		lastKey, err := keys.BytesToHash(row[:keys.Size])
		if err != nil {
			return nil, errors.Wrapf(err, "index %s: page %d TOC key", path, i)
		}
		var wantChecksum [8]byte
		copy(wantChecksum[:], row[keys.Size:])
		if pageChecksum(pageBytes) != wantChecksum {
			return nil, errors.Wrapf(base.ErrCorrupt, "index %s: page %d checksum mismatch", path, i)
		}

		entries, err := decodeNonEmptyEntries(pageBytes)
		if err != nil {
			return nil, errors.Wrapf(err, "index %s: page %d", path, i)
		}
		pages[i] = entries
		lastKeys[i] = lastKey
	}

	return &File{
		Kind:       ft.kind,
		Checksum:   checksum,
		Path:       path,
		pages:      pages,
		pageLastEK: lastKeys,
	}, nil
}

// decodeNonEmptyEntries decodes entries out of a page, stopping at the
// first all-zero slot: real entries never key on the distinguished empty
// hash, so a zero EKey unambiguously marks the start of zero padding.
func decodeNonEmptyEntries(page []byte) ([]Entry, error) {
	var entries []Entry
	for i := 0; i < entriesPerPage; i++ {
		e, err := decodeEntry(page[i*entrySize : (i+1)*entrySize])
		if err != nil {
			return nil, err
		}
		if e.EKey.IsEmpty() && e.Size == 0 && e.Offset == 0 {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}
