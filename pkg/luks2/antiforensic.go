// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import (
	"encoding/binary"
	"fmt"
	"hash"
)

// afMerge recovers a key from its anti-forensic stripes
func afMerge(split []byte, stripes, blockSize int, hashName string) ([]byte, error) {
	if stripes < 1 || blockSize < 1 || len(split) != blockSize*stripes {
		return nil, fmt.Errorf("invalid anti-forensic split: %d bytes for %d x %d", len(split), stripes, blockSize)
	}

	newHash, err := hashByName(hashName)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, blockSize)
	defer clearBytes(buf)

	for i := 0; i < stripes-1; i++ {
		xorInto(buf, split[i*blockSize:(i+1)*blockSize])
		diffuse(buf, newHash())
	}

	key := make([]byte, blockSize)
	copy(key, split[(stripes-1)*blockSize:])
	xorInto(key, buf)
	return key, nil
}

// diffuse replaces each digest-sized chunk of buf with H(be32(i) || chunk),
// truncating the final chunk hash to the chunk length
func diffuse(buf []byte, h hash.Hash) {
	size := h.Size()
	var iv [4]byte
	var sum []byte

	for i, start := 0, 0; start < len(buf); i, start = i+1, start+size {
		end := min(start+size, len(buf))

		h.Reset()
		binary.BigEndian.PutUint32(iv[:], uint32(i)) // #nosec G115 - bounded by key size
		h.Write(iv[:])
		h.Write(buf[start:end])
		sum = h.Sum(sum[:0])

		copy(buf[start:end], sum)
	}
	clearBytes(sum)
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
