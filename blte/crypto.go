// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blte

import (
	"crypto/rc4"
	"encoding/binary"

	"github.com/WoWTrace/tactcas/internal/base"
	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/salsa20"
)

// Encryption sub-modes carried in the 'E' frame payload.
const (
	subModeSalsa20 = 'S'
	subModeArc4    = 'A'
)

// KeyService resolves an 8-byte TACT key name to its 16-byte decryption key.
// It is injected by the caller; the codec never fetches keys itself.
type KeyService interface {
	Lookup(keyName [8]byte) (key [16]byte, ok bool)
}

// MapKeyService is the simplest KeyService: a static in-memory table.
type MapKeyService map[[8]byte][16]byte

// Lookup implements KeyService.
func (m MapKeyService) Lookup(name [8]byte) ([16]byte, bool) {
	k, ok := m[name]
	return k, ok
}

// encryptedPayload is the parsed body of an 'E' frame:
// keyname_len(1) | keyname[8] | iv_len(1) | iv[4] | mode(1) | ciphertext.
type encryptedPayload struct {
	keyName    [8]byte
	iv         [4]byte
	subMode    byte
	ciphertext []byte
}

func parseEncryptedPayload(b []byte) (encryptedPayload, error) {
	var p encryptedPayload
	if len(b) < 1 {
		return p, errors.New("blte: truncated encrypted frame")
	}
	keyNameLen := int(b[0])
	b = b[1:]
	if keyNameLen != 8 || len(b) < keyNameLen {
		return p, errors.Newf("blte: bad key name length %d", keyNameLen)
	}
	copy(p.keyName[:], b[:8])
	b = b[8:]
	if len(b) < 1 {
		return p, errors.New("blte: truncated encrypted frame")
	}
	ivLen := int(b[0])
	b = b[1:]
	if ivLen != 4 || len(b) < ivLen {
		return p, errors.Newf("blte: bad IV length %d", ivLen)
	}
	copy(p.iv[:], b[:4])
	b = b[4:]
	if len(b) < 1 {
		return p, errors.New("blte: truncated encrypted frame")
	}
	p.subMode = b[0]
	p.ciphertext = b[1:]
	return p, nil
}

func encodeEncryptedPayload(p encryptedPayload) []byte {
	out := make([]byte, 0, 1+8+1+4+1+len(p.ciphertext))
	out = append(out, 8)
	out = append(out, p.keyName[:]...)
	out = append(out, 4)
	out = append(out, p.iv[:]...)
	out = append(out, p.subMode)
	out = append(out, p.ciphertext...)
	return out
}

// frameIV XORs the frame's declared IV with the little-endian frame index,
// per the container spec ("the IV XORs with the frame index before
// decryption").
func frameIV(iv [4]byte, frameIndex int) [4]byte {
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], uint32(frameIndex))
	var out [4]byte
	for i := range out {
		out[i] = iv[i] ^ idx[i]
	}
	return out
}

// decryptFrame decrypts an 'E' frame's payload, returning the plaintext of
// the frame it wraps (which the caller still runs back through
// decodeFramePayload for the inner mode, since encryption wraps another
// mode's payload).
func decryptFrame(payload []byte, frameIndex int, ks KeyService) ([]byte, error) {
	p, err := parseEncryptedPayload(payload)
	if err != nil {
		return nil, err
	}
	if ks == nil {
		return nil, errors.Wrapf(base.ErrMissingKey, "keyname %x", p.keyName)
	}
	key, ok := ks.Lookup(p.keyName)
	if !ok {
		return nil, errors.Wrapf(base.ErrMissingKey, "keyname %x", p.keyName)
	}
	iv := frameIV(p.iv, frameIndex)

	switch p.subMode {
	case subModeSalsa20:
		return salsa20Decrypt(p.ciphertext, iv, key), nil
	case subModeArc4:
		return arc4Decrypt(p.ciphertext, iv, key)
	default:
		return nil, errors.Wrapf(base.ErrBlteUnknownMode, "encryption sub-mode %q", p.subMode)
	}
}

// encryptFrame builds an 'E' frame payload wrapping innerFrame (the mode
// byte plus payload of the frame being encrypted).
func encryptFrame(innerFrame []byte, keyName [8]byte, key [16]byte, iv [4]byte, subMode byte, frameIndex int) ([]byte, error) {
	effIV := frameIV(iv, frameIndex)
	var ciphertext []byte
	switch subMode {
	case subModeSalsa20:
		ciphertext = salsa20Decrypt(innerFrame, effIV, key) // XOR ciphers: encrypt == decrypt
	case subModeArc4:
		var err error
		ciphertext, err = arc4Decrypt(innerFrame, effIV, key)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(base.ErrBlteUnknownMode, "encryption sub-mode %q", subMode)
	}
	return encodeEncryptedPayload(encryptedPayload{keyName: keyName, iv: iv, subMode: subMode, ciphertext: ciphertext}), nil
}

// salsa20Decrypt expands the 16-byte TACT key into a 32-byte Salsa20 key
// (by repetition) and the 4-byte effective IV into an 8-byte nonce (zero
// padded), then runs the stream cipher. Salsa20 is symmetric: the same call
// encrypts or decrypts.
func salsa20Decrypt(data []byte, iv [4]byte, key [16]byte) []byte {
	var salsaKey [32]byte
	copy(salsaKey[:16], key[:])
	copy(salsaKey[16:], key[:])
	var nonce [8]byte
	copy(nonce[:4], iv[:])

	out := make([]byte, len(data))
	salsa20.XORKeyStream(out, data, nonce[:], &salsaKey)
	return out
}

// arc4Decrypt derives an RC4 keystream from the TACT key salted with the
// effective IV. RC4 is symmetric: the same call encrypts or decrypts.
func arc4Decrypt(data []byte, iv [4]byte, key [16]byte) ([]byte, error) {
	salted := append(append([]byte{}, key[:]...), iv[:]...)
	c, err := rc4.NewCipher(salted)
	if err != nil {
		return nil, errors.Wrap(err, "blte: rc4 key setup")
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}
