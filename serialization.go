// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/zeebo/blake3"
)

var keySetMagic = [4]byte{'K', 'K', 'S', '1'}

// ========== Key Set Serialization ==========

// MarshalBinary serializes the key set as a magic header followed by the
// length-prefixed secret, public and relinearization keys.
func (ks *KeySet) MarshalBinary() ([]byte, error) {
	if ks.SK == nil || ks.PK == nil || ks.RLK == nil {
		return nil, fmt.Errorf("%w: incomplete key set", ErrInvalidParameter)
	}

	var buf bytes.Buffer
	buf.Write(keySetMagic[:])

	for _, part := range []struct {
		name string
		key  encoding.BinaryMarshaler
	}{
		{"secret key", ks.SK},
		{"public key", ks.PK},
		{"relinearization key", ks.RLK},
	} {
		if err := writeSection(&buf, part.key); err != nil {
			return nil, fmt.Errorf("serialize %s: %w", part.name, err)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary deserializes a key set written by MarshalBinary
func (ks *KeySet) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != keySetMagic {
		return fmt.Errorf("%w: not a key set", ErrInvalidParameter)
	}

	sk := new(rlwe.SecretKey)
	if err := readSection(r, sk); err != nil {
		return fmt.Errorf("deserialize secret key: %w", err)
	}
	pk := new(rlwe.PublicKey)
	if err := readSection(r, pk); err != nil {
		return fmt.Errorf("deserialize public key: %w", err)
	}
	rlk := new(rlwe.RelinearizationKey)
	if err := readSection(r, rlk); err != nil {
		return fmt.Errorf("deserialize relinearization key: %w", err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidParameter, r.Len())
	}

	ks.SK, ks.PK, ks.RLK = sk, pk, rlk
	return nil
}

func writeSection(w io.Writer, m encoding.BinaryMarshaler) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(data)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readSection(r *bytes.Reader, u encoding.BinaryUnmarshaler) error {
	var n [8]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return fmt.Errorf("%w: truncated length", ErrInvalidParameter)
	}
	size := binary.LittleEndian.Uint64(n[:])
	if size > uint64(r.Len()) {
		return fmt.Errorf("%w: section of %d bytes, %d left", ErrInvalidParameter, size, r.Len())
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return u.UnmarshalBinary(data)
}

// ========== Parameter Fingerprint ==========

// Fingerprint returns a short identifier of the parameter set, used to keep
// persisted keys apart across presets.
func (p Parameters) Fingerprint() (string, error) {
	data, err := p.Parameters.MarshalBinary()
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}
