// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blte

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"io"
	"testing"

	"github.com/WoWTrace/tactcas/keys"
	"github.com/stretchr/testify/require"
)

// S1 from the spec: "Hello" encoded with ESpec "n" produces an exact byte
// sequence and stable CKey/EKey.
func TestEncodeRawFrame(t *testing.T) {
	res, err := Encode([]byte("Hello"), "n")
	require.NoError(t, err)

	want := []byte{
		0x42, 0x4C, 0x54, 0x45, 0x00, 0x00, 0x00, 0x00, // "BLTE" + header_size=0
		0x4E, 0x48, 0x65, 0x6C, 0x6C, 0x6F, // 'N' + "Hello"
	}
	require.Equal(t, want, res.Encoded)

	wantCKey, err := keys.ParseHash("8B1A9953C4611296A827ABF8C47804D7")
	require.NoError(t, err)
	require.Equal(t, wantCKey, res.CKey)

	wantEKey := keys.Hash(md5.Sum(want))
	require.Equal(t, wantEKey, res.EKey)
}

func TestRoundTripRaw(t *testing.T) {
	res, err := Encode([]byte("Hello, TACT"), "n")
	require.NoError(t, err)

	got, err := DecodeAll(bytes.NewReader(res.Encoded), int64(len(res.Encoded)), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("Hello, TACT"), got)
}

func TestRoundTripZlib(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox "), 1000)
	res, err := Encode(payload, "z")
	require.NoError(t, err)
	require.Equal(t, byte(ModeZlib), res.Encoded[8])

	got, err := DecodeAll(bytes.NewReader(res.Encoded), int64(len(res.Encoded)), nil)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// S2 from the spec: three 1 MiB random payloads with a "b:{1M*,z}" block
// schedule produce three Z frames totalling 3 MiB of plaintext.
func TestBlockSchedule(t *testing.T) {
	payload := make([]byte, 3*1<<20)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	res, err := Encode(payload, "b:{1M*,z}")
	require.NoError(t, err)

	hdr, bodyOffset, err := parseHeader(res.Encoded)
	require.NoError(t, err)
	require.Len(t, hdr.frames, 3)

	var totalPlain int64
	offset := bodyOffset
	for _, f := range hdr.frames {
		frame := res.Encoded[offset : offset+int(f.EncodedSize)]
		require.Equal(t, byte(ModeZlib), frame[0])
		require.Equal(t, md5.Sum(frame), f.Checksum)
		totalPlain += int64(f.PlainSize)
		offset += int(f.EncodedSize)
	}
	require.EqualValues(t, 3*1<<20, totalPlain)

	got, err := DecodeAll(bytes.NewReader(res.Encoded), int64(len(res.Encoded)), nil)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

// A multi-term schedule must honor every term in order, not just the
// first sized one: 2 blocks of 64 KiB, then 1 block of 128 KiB, then
// whatever remains as a final Z frame.
func TestMultiTermBlockSchedule(t *testing.T) {
	const (
		block1 = 64 * 1024
		block2 = 128 * 1024
		tail   = 50 * 1024
	)
	payload := make([]byte, 2*block1+block2+tail)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	res, err := Encode(payload, "b:{64K*2=z,128K*1=z,*z}")
	require.NoError(t, err)

	hdr, bodyOffset, err := parseHeader(res.Encoded)
	require.NoError(t, err)
	require.Len(t, hdr.frames, 4)

	wantPlainSizes := []uint32{block1, block1, block2, tail}
	offset := bodyOffset
	for i, f := range hdr.frames {
		require.EqualValues(t, wantPlainSizes[i], f.PlainSize)
		frame := res.Encoded[offset : offset+int(f.EncodedSize)]
		require.Equal(t, byte(ModeZlib), frame[0])
		offset += int(f.EncodedSize)
	}

	got, err := DecodeAll(bytes.NewReader(res.Encoded), int64(len(res.Encoded)), nil)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

func TestChecksumMismatchDetected(t *testing.T) {
	res, err := Encode(bytes.Repeat([]byte{1}, 2<<20), "b:{1M*,z}")
	require.NoError(t, err)

	corrupted := append([]byte{}, res.Encoded...)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err = DecodeAll(bytes.NewReader(corrupted), int64(len(corrupted)), nil)
	require.Error(t, err)
}

func TestEncryptedFrameRoundTrip(t *testing.T) {
	var keyName [8]byte
	copy(keyName[:], "TESTKEY1")
	var key [16]byte
	copy(key[:], "0123456789ABCDEF")
	ks := MapKeyService{keyName: key}

	plaintext := []byte("secret payload")
	inner, err := encodeFrame(ModeRaw, plaintext)
	require.NoError(t, err)

	var iv [4]byte
	copy(iv[:], "1234")
	encPayload, err := encryptFrame(inner, keyName, key, iv, subModeSalsa20, 0)
	require.NoError(t, err)

	frame := append([]byte{ModeEncrypted}, encPayload...)
	got, err := decodeFramePayload(frame, 0, ks)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestEncryptedFrameMissingKey(t *testing.T) {
	var keyName [8]byte
	copy(keyName[:], "UNKNOWN1")
	var key [16]byte
	var iv [4]byte
	inner, err := encodeFrame(ModeRaw, []byte("x"))
	require.NoError(t, err)
	encPayload, err := encryptFrame(inner, keyName, key, iv, subModeArc4, 0)
	require.NoError(t, err)

	frame := append([]byte{ModeEncrypted}, encPayload...)
	_, err = decodeFramePayload(frame, 0, MapKeyService{})
	require.Error(t, err)
}

func TestSeek(t *testing.T) {
	payload := make([]byte, 2*1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	res, err := Encode(payload, "b:{1M*,z}")
	require.NoError(t, err)

	r, err := Open(bytes.NewReader(res.Encoded), int64(len(res.Encoded)), nil)
	require.NoError(t, err)

	_, err = r.Seek(1<<20+100, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	require.Equal(t, payload[1<<20+100:1<<20+110], buf)

	// Seek backwards, forcing a frame re-decode.
	_, err = r.Seek(5, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	require.Equal(t, payload[5:15], buf)
}

func TestDefaultESpec(t *testing.T) {
	require.EqualValues(t, "z", DefaultESpec(1024))
	require.EqualValues(t, "b:{256K*=z}", DefaultESpec(4<<20))
}

