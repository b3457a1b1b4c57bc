// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package encoding

import (
	"encoding/binary"
	"sort"

	"github.com/WoWTrace/tactcas/blte"
	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/WoWTrace/tactcas/vfs"
	"github.com/cockroachdb/errors"
)

const headerFixedSize = 2 + 1 + 1 + 1 + 2 + 2 + 4 + 4 + 1 + 4

type pageIndexRow struct {
	FirstKey keys.Hash
	PageMD5  [16]byte
}

// bytesLocked serializes the table's current staging batch merged with
// whatever was loaded, into the on-disk encoding-table format. It does not
// mutate t; commit is what swaps the staging batch into the loaded view.
func (t *Table) bytesLocked() ([]byte, error) {
	all := t.mergedRecordsLocked()

	sort.Slice(all, func(i, j int) bool { return all[i].CKey.Less(all[j].CKey) })

	pool := append([]keys.ESpec(nil), t.especPool...)
	ckeyRecs := make([]ckeyRecord, len(all))
	ekeyRecs := make(map[keys.EKey]ekeyRecord)
	for i, r := range all {
		pool, _ = internPool(pool, []keys.ESpec{r.Spec})
		ckeyRecs[i] = ckeyRecord{CKey: r.CKey, PlainSize: r.Size, EKeys: r.EKeys}
	}
	_, poolIdx := internPool(nil, pool)
	for _, r := range all {
		for _, ek := range r.EKeys {
			if _, ok := ekeyRecs[ek]; ok {
				continue
			}
			ekeyRecs[ek] = ekeyRecord{EKey: ek, ESpecIndex: poolIdx[r.Spec], EncodedSize: r.Size}
		}
	}
	ekeyList := make([]ekeyRecord, 0, len(ekeyRecs))
	for _, r := range ekeyRecs {
		ekeyList = append(ekeyList, r)
	}
	sort.Slice(ekeyList, func(i, j int) bool { return ekeyList[i].EKey.Less(ekeyList[j].EKey) })

	ckeyPageSize := int(t.opts.CKeyPageSizeKB) * 1024
	ekeyPageSize := int(t.opts.EKeyPageSizeKB) * 1024
	ckeyPages := packCKeyPages(ckeyRecs, ckeyPageSize)
	ekeyPages := packEKeyPages(ekeyList, ekeyPageSize)

	ckeyPageIdx := buildCKeyPageIndex(ckeyPages)
	ekeyPageIdx := buildEKeyPageIndex(ekeyList, ekeyPages, ekeyPageSize)

	especBlock := encodeESpecPool(pool)

	var buf []byte
	buf = append(buf, magic0, magic1, formatVersion, hashSize, hashSize)
	buf = appendUint16(buf, t.opts.CKeyPageSizeKB)
	buf = appendUint16(buf, t.opts.EKeyPageSizeKB)
	buf = appendUint32(buf, uint32(len(ckeyPages)))
	buf = appendUint32(buf, uint32(len(ekeyPages)))
	buf = append(buf, 0)
	buf = appendUint32(buf, uint32(len(especBlock)))
	buf = append(buf, especBlock...)
	for _, row := range ckeyPageIdx {
		buf = append(buf, row.FirstKey[:]...)
		buf = append(buf, row.PageMD5[:]...)
	}
	for _, p := range ckeyPages {
		buf = append(buf, p...)
	}
	for _, row := range ekeyPageIdx {
		buf = append(buf, row.FirstKey[:]...)
		buf = append(buf, row.PageMD5[:]...)
	}
	for _, p := range ekeyPages {
		buf = append(buf, p...)
	}
	return buf, nil
}

// mergedRecordsLocked returns the union of the loaded view and the staged
// batch, as stagedCKey rows. Callers need not hold t.mu, since this only
// reads t.staging plus the already-decoded t.ckeyPages, both of which are
// stable outside of a concurrent Save.
func (t *Table) mergedRecordsLocked() []stagedCKey {
	seen := make(map[keys.CKey]bool, len(t.staging))
	var out []stagedCKey
	for _, page := range t.ckeyPages {
		for _, r := range page {
			spec, _ := t.TryGetESpec(firstOrEmpty(r.EKeys))
			out = append(out, stagedCKey{CKey: r.CKey, Size: r.PlainSize, EKeys: r.EKeys, Spec: spec})
			seen[r.CKey] = true
		}
	}
	for _, s := range t.staging {
		if seen[s.CKey] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func firstOrEmpty(eks []keys.EKey) keys.EKey {
	if len(eks) == 0 {
		return keys.EmptyHash
	}
	return eks[0]
}

// buildCKeyPageIndex derives each page's first key by decoding it: pages
// hold a variable number of variable-length records, so the record
// boundaries aren't recoverable from a flat record list and a page size
// alone.
func buildCKeyPageIndex(pages [][]byte) []pageIndexRow {
	rows := make([]pageIndexRow, len(pages))
	for i, p := range pages {
		recs, _ := decodeCKeyPage(p)
		if len(recs) > 0 {
			rows[i].FirstKey = recs[0].CKey
		}
		rows[i].PageMD5 = md5sum16(p)
	}
	return rows
}

func buildEKeyPageIndex(records []ekeyRecord, pages [][]byte, pageSize int) []pageIndexRow {
	rows := make([]pageIndexRow, 0, len(pages))
	perPage := pageSize / ekeyRecordSize
	for i, p := range pages {
		var first keys.Hash
		start := i * perPage
		if start < len(records) {
			first = records[start].EKey
		}
		rows = append(rows, pageIndexRow{FirstKey: first, PageMD5: md5sum16(p)})
	}
	return rows
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// commit finalizes the staged batch into the table's loaded, queryable
// view. Save (below) calls this after a successful write so a Table kept
// around in memory reflects what was just persisted.
func (t *Table) commit(raw []byte) error {
	loaded, err := parseTable(raw, t.opts)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.ckeyPages = loaded.ckeyPages
	t.ckeyFirstKey = loaded.ckeyFirstKey
	t.ekeyPages = loaded.ekeyPages
	t.ekeyFirstKey = loaded.ekeyFirstKey
	t.especPool = loaded.especPool
	t.mu.Unlock()
	t.staging = make(map[keys.CKey]stagedCKey)
	return nil
}

// Save serializes the table (loaded view plus everything staged via Add),
// BLTE-encodes it with spec, and writes the result directly into the CDN
// layout under dir (kind "config", per the persisted-files table) rather
// than through the archive/index engine — the encoding file is addressed
// and fetched exactly like any other CDN blob, but it is never itself an
// index-managed archive member. It returns the file's own EKey, which the
// caller's build-config/manifest layer is responsible for recording; that
// layer is out of scope here (see SPEC_FULL.md's collaborator stubs).
func (t *Table) Save(fsys vfs.FS, dir string, spec keys.ESpec) (keys.EKey, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	raw, err := t.bytesLocked()
	if err != nil {
		return keys.EKey{}, err
	}
	result, err := blte.Encode(raw, spec)
	if err != nil {
		return keys.EKey{}, errors.Wrap(err, "encoding: blte-encode table")
	}
	if err := t.commit(raw); err != nil {
		return keys.EKey{}, err
	}

	hex := result.EKey.String()
	blobDir := fsys.PathJoin(dir, "config", hex[0:2], hex[2:4])
	if err := fsys.MkdirAll(blobDir, 0o755); err != nil {
		return keys.EKey{}, errors.Wrapf(err, "encoding: mkdir %s", blobDir)
	}
	path := fsys.PathJoin(blobDir, hex)
	tmp := path + ".tmp"
	f, err := fsys.Create(tmp)
	if err != nil {
		return keys.EKey{}, errors.Wrapf(err, "encoding: create %s", tmp)
	}
	if _, err := f.Write(result.Encoded); err != nil {
		_ = f.Close()
		return keys.EKey{}, errors.Wrapf(err, "encoding: write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return keys.EKey{}, errors.Wrapf(err, "encoding: sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return keys.EKey{}, errors.Wrapf(err, "encoding: close %s", tmp)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		return keys.EKey{}, errors.Wrapf(err, "encoding: rename %s", path)
	}

	// Fsync the containing directory so the rename itself is durable, the
	// same idiom pebble uses for its own data directory after a rename.
	d, err := fsys.OpenDir(blobDir)
	if err != nil {
		return keys.EKey{}, errors.Wrapf(err, "encoding: open dir %s", blobDir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return keys.EKey{}, errors.Wrapf(err, "encoding: sync dir %s", blobDir)
	}
	if err := t.commit(raw); err != nil {
		return keys.EKey{}, err
	}
	return result.EKey, nil
}

// Load reads and validates a previously saved (BLTE-wrapped) encoding
// table from raw bytes already extracted from a CAS blob.
func Load(raw []byte, opts Options) (*Table, error) {
	return parseTable(raw, opts)
}

func parseTable(data []byte, opts Options) (*Table, error) {
	opts.ensureDefaults()
	if len(data) < headerFixedSize {
		return nil, errors.Wrap(base.ErrCorrupt, "encoding: header truncated")
	}
	if data[0] != magic0 || data[1] != magic1 {
		return nil, errors.Wrap(base.ErrBadMagic, "encoding: bad magic")
	}
	if data[2] != formatVersion {
		return nil, errors.Wrapf(base.ErrUnsupportedVersion, "encoding: version %d", data[2])
	}
	if data[3] != hashSize || data[4] != hashSize {
		return nil, errors.Wrap(base.ErrCorrupt, "encoding: unexpected hash size")
	}
	ckeyPageSizeKB := binary.BigEndian.Uint16(data[5:7])
	ekeyPageSizeKB := binary.BigEndian.Uint16(data[7:9])
	ckeyPageCount := binary.BigEndian.Uint32(data[9:13])
	ekeyPageCount := binary.BigEndian.Uint32(data[13:17])
	// data[17] is the unknown/reserved byte.
	especBlockSize := binary.BigEndian.Uint32(data[18:22])

	off := headerFixedSize
	if err := checkLen(data[off:], int(especBlockSize), "espec block"); err != nil {
		return nil, err
	}
	pool := decodeESpecPool(data[off : off+int(especBlockSize)])
	off += int(especBlockSize)

	ckeyPageSize := int(ckeyPageSizeKB) * 1024
	ekeyPageSize := int(ekeyPageSizeKB) * 1024

	ckeyIdxSize := int(ckeyPageCount) * (keys.Size + 16)
	if err := checkLen(data[off:], ckeyIdxSize, "ckey page index"); err != nil {
		return nil, err
	}
	ckeyIdxBytes := data[off : off+ckeyIdxSize]
	off += ckeyIdxSize

	ckeyPagesSize := int(ckeyPageCount) * ckeyPageSize
	if err := checkLen(data[off:], ckeyPagesSize, "ckey pages"); err != nil {
		return nil, err
	}
	ckeyPagesBytes := data[off : off+ckeyPagesSize]
	off += ckeyPagesSize

	ekeyIdxSize := int(ekeyPageCount) * (keys.Size + 16)
	if err := checkLen(data[off:], ekeyIdxSize, "ekey page index"); err != nil {
		return nil, err
	}
	ekeyIdxBytes := data[off : off+ekeyIdxSize]
	off += ekeyIdxSize

	ekeyPagesSize := int(ekeyPageCount) * ekeyPageSize
	if err := checkLen(data[off:], ekeyPagesSize, "ekey pages"); err != nil {
		return nil, err
	}
	ekeyPagesBytes := data[off : off+ekeyPagesSize]
	off += ekeyPagesSize

	ckeyPages := make([][]ckeyRecord, ckeyPageCount)
	ckeyFirstKey := make([]keys.Hash, ckeyPageCount)
	for i := 0; i < int(ckeyPageCount); i++ {
		pageBytes := ckeyPagesBytes[i*ckeyPageSize : (i+1)*ckeyPageSize]
		row := ckeyIdxBytes[i*(keys.Size+16) : (i+1)*(keys.Size+16)]
		if md5sum16(pageBytes) != mustSlice16(row[keys.Size:]) {
			return nil, errors.Wrapf(base.ErrCorrupt, "encoding: ckey page %d checksum mismatch", i)
		}
		recs, err := decodeCKeyPage(pageBytes)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding: ckey page %d", i)
		}
		ckeyPages[i] = recs
		firstKey, err := keys.BytesToHash(row[:keys.Size])
		if err != nil {
			return nil, err
		}
		ckeyFirstKey[i] = firstKey
	}

	ekeyPages := make([][]ekeyRecord, ekeyPageCount)
	ekeyFirstKey := make([]keys.Hash, ekeyPageCount)
	for i := 0; i < int(ekeyPageCount); i++ {
		pageBytes := ekeyPagesBytes[i*ekeyPageSize : (i+1)*ekeyPageSize]
		row := ekeyIdxBytes[i*(keys.Size+16) : (i+1)*(keys.Size+16)]
		if md5sum16(pageBytes) != mustSlice16(row[keys.Size:]) {
			return nil, errors.Wrapf(base.ErrCorrupt, "encoding: ekey page %d checksum mismatch", i)
		}
		recs, err := decodeEKeyPage(pageBytes)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding: ekey page %d", i)
		}
		ekeyPages[i] = recs
		if len(recs) > 0 {
			ekeyFirstKey[i] = recs[0].EKey
		}
	}

	return &Table{
		opts:         opts,
		ckeyPages:    ckeyPages,
		ckeyFirstKey: ckeyFirstKey,
		ekeyPages:    ekeyPages,
		ekeyFirstKey: ekeyFirstKey,
		especPool:    pool,
		staging:      make(map[keys.CKey]stagedCKey),
	}, nil
}

func mustSlice16(b []byte) [16]byte {
	var out [16]byte
	copy(out[:], b)
	return out
}
