// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package index

// partition applies the packing rule from the spec to a staging batch
// that's already sorted by EKey: emit archives greedily, sealing the
// current one and starting a new one whenever the next record would push
// it past maxBytes, without re-sorting. A record whose own size exceeds
// maxBytes still lands alone in its own partition.
func partition(records []StagedRecord, maxBytes int64) [][]StagedRecord {
	if len(records) == 0 {
		return nil
	}
	var (
		partitions []([]StagedRecord)
		current    []StagedRecord
		currentSz  int64
	)
	for _, r := range records {
		if currentSz > 0 && currentSz+r.EncodedSize > maxBytes {
			partitions = append(partitions, current)
			current = nil
			currentSz = 0
		}
		current = append(current, r)
		currentSz += r.EncodedSize
	}
	if len(current) > 0 {
		partitions = append(partitions, current)
	}
	return partitions
}
