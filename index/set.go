// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package index

import (
	"bytes"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/WoWTrace/tactcas/keys"
	"github.com/WoWTrace/tactcas/vfs"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// ArchiveMaxBytes is the default archive size cap from the spec: no
// archive blob exceeds this many bytes unless a single record does.
const ArchiveMaxBytes = 256_000_000

// Options configures a Set.
type Options struct {
	// ArchiveMaxBytes bounds the size of a sealed archive partition.
	ArchiveMaxBytes int64
	Logger          base.Logger
}

func (o *Options) ensureDefaults() {
	if o.ArchiveMaxBytes == 0 {
		o.ArchiveMaxBytes = ArchiveMaxBytes
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
}

// StagedRecord is what Enqueue stages: enough to write the record's slice
// into a sealed archive and its row into that archive's index.
type StagedRecord struct {
	EKey        keys.EKey
	Data        []byte // encoded (BLTE) bytes
	EncodedSize int64
}

// CleanupPolicy controls whether Save removes the archive blob that a
// top-off (see topOffLocked) supersedes. The superseded .index file is
// always removed; its blob is removed only when DisposeOldBlobs is set and
// is otherwise left on disk, unreferenced by any loaded index.
type CleanupPolicy struct {
	DisposeOldBlobs bool
}

// Set is the loaded view of every .index file under a directory, plus the
// staging map new records are enqueued into before Save flushes them.
type Set struct {
	fsys vfs.FS
	dir  string
	opts Options

	mu    sync.RWMutex // guards files; swapped atomically on Save
	files []*File

	writeMu sync.Mutex // serializes Enqueue/Save, per the concurrency model
	staging map[keys.EKey]StagedRecord
}

// Open scans dir recursively for *.index files and loads (and fully
// validates) each one. A corrupt file is logged and excluded from the set;
// it does not abort the scan of the rest of the directory.
func Open(fsys vfs.FS, dir string, opts Options) (*Set, error) {
	opts.ensureDefaults()
	files, err := loadAll(fsys, dir, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Set{
		fsys:    fsys,
		dir:     dir,
		opts:    opts,
		files:   files,
		staging: make(map[keys.EKey]StagedRecord),
	}, nil
}

func loadAll(fsys vfs.FS, dir string, logger base.Logger) ([]*File, error) {
	paths, err := walkIndexFiles(fsys, dir)
	if err != nil {
		return nil, err
	}
	var files []*File
	for _, p := range paths {
		f, err := Load(fsys, p)
		if err != nil {
			logger.Infof("tactcas/index: skipping %s: %v", p, err)
			continue
		}
		files = append(files, f)
	}
	return files, nil
}

// walkIndexFiles recursively lists every "*.index" file under dir.
func walkIndexFiles(fsys vfs.FS, dir string) ([]string, error) {
	entries, err := fsys.List(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "index: list %s", dir)
	}
	var out []string
	for _, name := range entries {
		full := fsys.PathJoin(dir, name)
		info, err := fsys.Stat(full)
		if err != nil {
			return nil, errors.Wrapf(err, "index: stat %s", full)
		}
		if info.IsDir() {
			sub, err := walkIndexFiles(fsys, full)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if strings.HasSuffix(name, ".index") {
			out = append(out, full)
		}
	}
	return out, nil
}

// TryGet looks up ekey across every loaded (non-group) index file.
func (s *Set) TryGet(ekey keys.EKey) (Entry, bool) {
	if ekey.IsEmpty() {
		return Entry{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tryGetLocked(ekey)
}

func (s *Set) tryGetLocked(ekey keys.EKey) (Entry, bool) {
	for _, f := range s.files {
		if e, ok := f.TryGet(ekey); ok {
			return e, true
		}
	}
	return Entry{}, false
}

// ReadArchiveRange opens the archive blob backing ekey's index file and
// reads out the entry's slice. It re-resolves ekey against the loaded
// files rather than trusting entry's origin, so a stale Entry from before
// a concurrent Save can't be used to read the wrong archive.
func (s *Set) ReadArchiveRange(ekey keys.EKey) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.files {
		e, ok := f.TryGet(ekey)
		if !ok {
			continue
		}
		archivePath := strings.TrimSuffix(f.Path, ".index")
		af, err := s.fsys.Open(archivePath)
		if err != nil {
			return nil, errors.Wrapf(err, "index: open archive %s", archivePath)
		}
		defer af.Close()
		buf := make([]byte, e.Size)
		n, err := af.ReadAt(buf, int64(e.Offset))
		if err != nil && !(err == io.EOF && n == len(buf)) {
			return nil, errors.Wrapf(err, "index: read %s at %d", archivePath, e.Offset)
		}
		return buf, nil
	}
	return nil, errors.Wrapf(base.ErrNotFound, "index: %s", ekey)
}

// Enqueue stages rec for the next Save. Re-enqueuing a key that is already
// staged or already persisted is a no-op (first write wins, per the
// commutativity guarantee). Enqueuing a different record under an EKey
// that's already staged is the invariant violation it looks like: the
// record is dropped and Enqueue returns base.ErrDuplicateEKey wrapped
// with the offending key.
func (s *Set) Enqueue(rec StagedRecord) error {
	if rec.EKey.IsEmpty() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if existing, ok := s.staging[rec.EKey]; ok {
		if !bytes.Equal(existing.Data, rec.Data) {
			s.opts.Logger.Infof("tactcas/index: duplicate EKey %s with differing data, dropping", rec.EKey)
			return errors.Wrapf(base.ErrDuplicateEKey, "index: %s", rec.EKey)
		}
		return nil
	}
	if _, ok := s.TryGet(rec.EKey); ok {
		return nil
	}
	s.staging[rec.EKey] = rec
	return nil
}

// Save first tops off the data archive with the highest last EKey if it's under
// the cap (rewriting its blob and index under a new checksum, per §4.3's
// "rewrite any data index that was mutated" step), then partitions
// whatever staged records remain into new size-bounded archives (see
// packing.go), writes each partition's archive blob and .index file, and
// atomically republishes the loaded file list. On success the staging map
// is cleared; on failure it is left untouched so the caller can retry.
func (s *Set) Save(policy CleanupPolicy) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.fsys.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "index: mkdir %s", s.dir)
	}

	records := make([]StagedRecord, 0, len(s.staging))
	for _, r := range s.staging {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].EKey.Less(records[j].EKey) })

	toppedOff, records, err := s.topOffLocked(records, policy)
	if err != nil {
		return err
	}

	partitions := partition(records, s.opts.ArchiveMaxBytes)
	if err := s.flushPartitions(partitions); err != nil {
		return err
	}

	newFiles, err := loadAll(s.fsys, s.dir, s.opts.Logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.files = newFiles
	s.mu.Unlock()

	total := len(partitions)
	if toppedOff {
		total++
	}
	s.staging = make(map[keys.EKey]StagedRecord)
	s.opts.Logger.Infof("tactcas/index: save complete: %d archives, %d records", total, len(records))
	return nil
}

// topOffLocked rewrites the data archive chosen by candidateForTopOffLocked
// into a new, larger one if it's under the cap, folding in as many of records (taken
// from the front of the EKey-sorted slice) as fit. It returns whether a
// top-off happened and the records slice with any consumed prefix removed.
// Callers must hold writeMu.
func (s *Set) topOffLocked(records []StagedRecord, policy CleanupPolicy) (bool, []StagedRecord, error) {
	if len(records) == 0 {
		return false, records, nil
	}
	s.mu.RLock()
	best := s.candidateForTopOffLocked()
	s.mu.RUnlock()
	if best == nil {
		return false, records, nil
	}

	oldRecords, err := s.readFileRecords(best)
	if err != nil {
		return false, records, err
	}
	var total int64
	for _, r := range oldRecords {
		total += r.EncodedSize
	}
	if total >= s.opts.ArchiveMaxBytes {
		return false, records, nil
	}

	merged := append([]StagedRecord(nil), oldRecords...)
	n := 0
	for _, r := range records {
		if total > 0 && total+r.EncodedSize > s.opts.ArchiveMaxBytes {
			break
		}
		merged = append(merged, r)
		total += r.EncodedSize
		n++
	}
	if n == 0 {
		return false, records, nil
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].EKey.Less(merged[j].EKey) })

	if err := s.flushPartition(merged); err != nil {
		return false, records, err
	}

	// The old index is superseded by the topped-off archive's new checksum
	// regardless of policy; only removing the now-orphaned blob is gated
	// on DisposeOldBlobs.
	if err := s.fsys.Remove(best.Path); err != nil {
		return false, records, errors.Wrapf(err, "index: remove superseded index %s", best.Path)
	}
	if policy.DisposeOldBlobs {
		oldBlobPath := strings.TrimSuffix(best.Path, ".index")
		if err := s.fsys.Remove(oldBlobPath); err != nil {
			return false, records, errors.Wrapf(err, "index: remove old blob %s", oldBlobPath)
		}
	}
	return true, records[n:], nil
}

// candidateForTopOffLocked returns the loaded data file with the highest
// last EKey. Within one save's partitions that is the last one sealed, the
// only one the greedy packing rule leaves well under the cap; across saves
// it need not be the most recently written archive, and other under-filled
// archives are not considered. Callers must hold mu.
func (s *Set) candidateForTopOffLocked() *File {
	var best *File
	var bestLast keys.Hash
	for _, f := range s.files {
		if f.GroupIndex || f.Kind != KindData {
			continue
		}
		last := f.lastEKey()
		if best == nil || bestLast.Less(last) {
			best, bestLast = f, last
		}
	}
	return best
}

// readFileRecords reads f's archive blob back into StagedRecords so its
// entries can be folded into a topped-off replacement archive.
func (s *Set) readFileRecords(f *File) ([]StagedRecord, error) {
	entries := f.AllEntries()
	if len(entries) == 0 {
		return nil, nil
	}
	archivePath := strings.TrimSuffix(f.Path, ".index")
	af, err := s.fsys.Open(archivePath)
	if err != nil {
		return nil, errors.Wrapf(err, "index: open archive %s", archivePath)
	}
	defer af.Close()
	out := make([]StagedRecord, len(entries))
	for i, e := range entries {
		buf := make([]byte, e.Size)
		n, err := af.ReadAt(buf, int64(e.Offset))
		if err != nil && !(err == io.EOF && n == len(buf)) {
			return nil, errors.Wrapf(err, "index: read %s at %d", archivePath, e.Offset)
		}
		out[i] = StagedRecord{EKey: e.EKey, Data: buf, EncodedSize: int64(e.Size)}
	}
	return out, nil
}

// flushPartitions writes each partition's archive blob and index file
// concurrently, with at most GOMAXPROCS partitions in flight at once.
func (s *Set) flushPartitions(partitions [][]StagedRecord) error {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, part := range partitions {
		part := part
		g.Go(func() error { return s.flushPartition(part) })
	}
	return g.Wait()
}

func (s *Set) flushPartition(records []StagedRecord) error {
	entries := make([]Entry, len(records))
	var blob bytes.Buffer
	for i, r := range records {
		entries[i] = Entry{EKey: r.EKey, Offset: uint32(blob.Len()), Size: uint32(len(r.Data))}
		blob.Write(r.Data)
	}

	idxFile, idxBytes, err := Build(KindData, entries)
	if err != nil {
		return err
	}
	checksumHex := idxFile.Checksum.String()

	// Archive blobs and their .index files live at the CDN layout the spec
	// mandates: <dir>/data/<hash[0:2]>/<hash[2:4]>/<hash>[.index]. This
	// path is wire-visible to other clients and must match exactly.
	blobDir := s.fsys.PathJoin(s.dir, "data", checksumHex[0:2], checksumHex[2:4])
	if err := s.fsys.MkdirAll(blobDir, 0o755); err != nil {
		return errors.Wrapf(err, "index: mkdir %s", blobDir)
	}

	archiveTmp := s.fsys.PathJoin(blobDir, checksumHex+".tmp")
	if err := writeFile(s.fsys, archiveTmp, blob.Bytes()); err != nil {
		return err
	}

	indexTmp := s.fsys.PathJoin(blobDir, checksumHex+".index.tmp")
	if err := writeFileSynced(s.fsys, indexTmp, idxBytes); err != nil {
		return err
	}

	// The index is fsynced above before the archive blob is renamed into
	// place, per the write-ordering guarantee: readers must never observe
	// an archive whose index isn't durable yet.
	archivePath := s.fsys.PathJoin(blobDir, checksumHex)
	if err := s.fsys.Rename(archiveTmp, archivePath); err != nil {
		return errors.Wrapf(err, "index: rename %s", archivePath)
	}
	indexPath := s.fsys.PathJoin(blobDir, checksumHex+".index")
	if err := s.fsys.Rename(indexTmp, indexPath); err != nil {
		return errors.Wrapf(err, "index: rename %s", indexPath)
	}

	return syncDir(s.fsys, blobDir)
}

// syncDir fsyncs a directory's entries after a rename into it, per the
// durability idiom pebble uses for its own data directory (see
// pebble.Open's d.dataDir).
func syncDir(fsys vfs.FS, dir string) error {
	d, err := fsys.OpenDir(dir)
	if err != nil {
		return errors.Wrapf(err, "index: open dir %s", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrapf(err, "index: sync dir %s", dir)
	}
	return nil
}

func writeFile(fsys vfs.FS, name string, data []byte) error {
	f, err := fsys.Create(name)
	if err != nil {
		return errors.Wrapf(err, "index: create %s", name)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "index: write %s", name)
	}
	return nil
}

func writeFileSynced(fsys vfs.FS, name string, data []byte) error {
	f, err := fsys.Create(name)
	if err != nil {
		return errors.Wrapf(err, "index: create %s", name)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "index: write %s", name)
	}
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "index: sync %s", name)
	}
	return nil
}
