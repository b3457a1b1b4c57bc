// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blte

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/WoWTrace/tactcas/keys"
	"github.com/cockroachdb/datadriven"
)

// TestDataDriven exercises the container encode/decode paths the way
// pebble's sstable package drives its block format tests: a small command
// language over testdata files rather than one Go func per case.
func TestDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/blte", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "encode":
			var spec string
			td.ScanArgs(t, "espec", &spec)
			result, err := Encode([]byte(td.Input), keys.ESpec(spec))
			if err != nil {
				return err.Error()
			}
			return hex.EncodeToString(result.Encoded)

		case "decode":
			raw, err := hex.DecodeString(td.Input)
			if err != nil {
				return err.Error()
			}
			r, err := Open(bytes.NewReader(raw), int64(len(raw)), nil)
			if err != nil {
				return err.Error()
			}
			var buf bytes.Buffer
			if _, err := buf.ReadFrom(r); err != nil {
				return err.Error()
			}
			return buf.String()

		default:
			t.Fatalf("unknown command %q", td.Cmd)
			return ""
		}
	})
}
