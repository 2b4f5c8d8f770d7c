// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import (
	"crypto/aes"
	"crypto/subtle"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"

	"golang.org/x/crypto/xts"
)

type keyslotRef struct {
	id   int
	slot *Keyslot
}

// orderedKeyslots returns the usable keyslots, high priority first, then by
// slot number. Slots with priority 0 are never tried
func orderedKeyslots(metadata *Metadata) []keyslotRef {
	refs := make([]keyslotRef, 0, len(metadata.Keyslots))
	for key, slot := range metadata.Keyslots {
		id, err := strconv.Atoi(key)
		if err != nil || slot == nil || slot.priority() == PriorityIgnore {
			continue
		}
		refs = append(refs, keyslotRef{id: id, slot: slot})
	}

	sort.Slice(refs, func(i, j int) bool {
		pi, pj := refs[i].slot.priority(), refs[j].slot.priority()
		if pi != pj {
			return pi > pj
		}
		return refs[i].id < refs[j].id
	})
	return refs
}

// recoverVolumeKey tries every usable keyslot with the passphrase and returns
// the first volume key that matches its digest. It fails with
// ErrUnsupported when no keyslot could be tried at all
func recoverVolumeKey(r io.ReaderAt, metadata *Metadata, passphrase []byte) ([]byte, error) {
	var unsupported error
	tried := 0
	for _, ref := range orderedKeyslots(metadata) {
		if err := checkKeyslot(ref); err != nil {
			unsupported = err
			continue
		}
		tried++
		key, err := openKeyslot(r, ref, metadata.Digests, passphrase)
		if err == nil {
			return key, nil
		}
	}
	if tried == 0 {
		if unsupported == nil {
			unsupported = fmt.Errorf("%w: no usable keyslot", ErrUnsupported)
		}
		return nil, unsupported
	}
	return nil, ErrInvalidPassphrase
}

// checkKeyslot reports keyslot parameters this engine cannot open
func checkKeyslot(ref keyslotRef) error {
	ks := ref.slot
	if ks.Type != "luks2" || ks.Area == nil || ks.KDF == nil || ks.AF == nil {
		return fmt.Errorf("%w: keyslot %d", ErrUnsupported, ref.id)
	}
	if ks.Area.Type != "raw" {
		return fmt.Errorf("%w: keyslot %d area type %q", ErrUnsupported, ref.id, ks.Area.Type)
	}
	if ks.Area.Encryption != "aes-xts-plain64" {
		return fmt.Errorf("%w: keyslot %d encryption %q", ErrUnsupported, ref.id, ks.Area.Encryption)
	}
	if ks.AF.Type != "luks1" || ks.AF.Stripes < 1 || ks.KeySize < 1 {
		return fmt.Errorf("%w: keyslot %d anti-forensic parameters", ErrUnsupported, ref.id)
	}
	if _, err := hashByName(ks.AF.Hash); err != nil {
		return fmt.Errorf("keyslot %d: %w", ref.id, err)
	}

	switch ks.KDF.Type {
	case "pbkdf2":
		if _, err := hashByName(ks.KDF.Hash); err != nil {
			return fmt.Errorf("keyslot %d: %w", ref.id, err)
		}
	case "argon2i", "argon2id":
	default:
		return fmt.Errorf("%w: keyslot %d KDF %q", ErrUnsupported, ref.id, ks.KDF.Type)
	}
	return nil
}

// openKeyslot derives the area key, decrypts and merges the key material
// and verifies the result. The keyslot must have passed checkKeyslot
func openKeyslot(r io.ReaderAt, ref keyslotRef, digests map[string]*Digest, passphrase []byte) ([]byte, error) {
	ks := ref.slot

	areaKeySize := ks.Area.KeySize
	if areaKeySize == 0 {
		areaKeySize = ks.KeySize
	}

	offset, err := parseSize(ks.Area.Offset)
	if err != nil {
		return nil, fmt.Errorf("keyslot %d: invalid area offset: %w", ref.id, err)
	}
	areaSize, err := parseSize(ks.Area.Size)
	if err != nil {
		return nil, fmt.Errorf("keyslot %d: invalid area size: %w", ref.id, err)
	}

	splitSize := ks.KeySize * ks.AF.Stripes
	readSize := alignTo(int64(splitSize), SectorSize)
	if readSize > areaSize {
		return nil, fmt.Errorf("keyslot %d: area too small: %d < %d", ref.id, areaSize, readSize)
	}

	areaKey, err := deriveKey(passphrase, ks.KDF, areaKeySize)
	if err != nil {
		return nil, fmt.Errorf("keyslot %d: %w", ref.id, err)
	}
	defer clearBytes(areaKey)

	material := make([]byte, readSize)
	defer clearBytes(material)
	if _, err := r.ReadAt(material, offset); err != nil {
		return nil, fmt.Errorf("keyslot %d: failed to read key material: %w", ref.id, err)
	}

	if err := decryptKeyMaterial(material, areaKey, ks.Area.Encryption); err != nil {
		return nil, fmt.Errorf("keyslot %d: %w", ref.id, err)
	}

	key, err := afMerge(material[:splitSize], ks.AF.Stripes, ks.KeySize, ks.AF.Hash)
	if err != nil {
		return nil, fmt.Errorf("keyslot %d: %w", ref.id, err)
	}

	if err := verifyVolumeKey(key, ref.id, digests); err != nil {
		clearBytes(key)
		return nil, err
	}
	return key, nil
}

// decryptKeyMaterial decrypts keyslot material in place, one 512-byte
// sector at a time with the sector index as tweak
func decryptKeyMaterial(data, key []byte, encryption string) error {
	if encryption != "aes-xts-plain64" {
		return fmt.Errorf("%w: keyslot encryption %q", ErrUnsupported, encryption)
	}
	if len(data)%SectorSize != 0 {
		return fmt.Errorf("key material is not sector aligned: %d bytes", len(data))
	}

	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return fmt.Errorf("failed to create XTS cipher: %w", err)
	}

	for i := 0; i < len(data)/SectorSize; i++ {
		sector := data[i*SectorSize : (i+1)*SectorSize]
		c.Decrypt(sector, sector, uint64(i)) // #nosec G115 - bounded by area size
	}
	return nil
}

// verifyVolumeKey checks a candidate key against the digests bound to the
// keyslot, or against every digest when none names it
func verifyVolumeKey(key []byte, keyslot int, digests map[string]*Digest) error {
	id := strconv.Itoa(keyslot)

	var candidates []*Digest
	for _, d := range digests {
		if d != nil && slices.Contains(d.Keyslots, id) {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		for _, d := range digests {
			if d != nil {
				candidates = append(candidates, d)
			}
		}
	}

	for _, d := range candidates {
		if d.Type != "pbkdf2" {
			continue
		}
		expected, err := decodeBase64(d.Digest)
		if err != nil || len(expected) == 0 {
			continue
		}

		iterations := d.Iterations
		derived, err := deriveKey(key, &KDF{
			Type:       "pbkdf2",
			Hash:       d.Hash,
			Salt:       d.Salt,
			Iterations: &iterations,
		}, len(expected))
		if err != nil {
			continue
		}

		match := subtle.ConstantTimeCompare(derived, expected) == 1
		clearBytes(derived)
		if match {
			return nil
		}
	}

	return fmt.Errorf("keyslot %d: volume key digest mismatch", keyslot)
}
