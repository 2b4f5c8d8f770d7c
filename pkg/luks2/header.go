// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ReadHeader reads and validates the LUKS2 header of a device, falling back
// to the backup header when the primary one is damaged
func ReadHeader(device string) (*Header, *Metadata, error) {
	if err := ValidateDevicePath(device); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(device) // #nosec G304 -- device path validated above
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer func() { _ = f.Close() }()

	return readHeader(f)
}

// ProbeUUID reads identity properties from a LUKS2 header, in the same
// shape udev reports them for an attached container
func ProbeUUID(device string) (map[string]string, error) {
	hdr, _, err := ReadHeader(device)
	if err != nil {
		return nil, err
	}

	props := map[string]string{
		"ID_FS_UUID":    hdr.VolumeUUID(),
		"ID_FS_TYPE":    "crypto_LUKS",
		"ID_FS_VERSION": strconv.Itoa(int(hdr.Version)),
	}
	if label := hdr.VolumeLabel(); label != "" {
		props["ID_FS_LABEL"] = label
	}
	return props, nil
}

func readHeader(r io.ReaderAt) (*Header, *Metadata, error) {
	hdr, metadata, err := readHeaderAt(r, 0, Magic)
	if err == nil {
		return hdr, metadata, nil
	}

	for _, offset := range backupHeaderOffsets {
		backup, backupMetadata, backupErr := readHeaderAt(r, offset, BackupMagic)
		if backupErr == nil {
			return backup, backupMetadata, nil
		}
	}

	return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
}

// readHeaderAt reads one header copy at offset and verifies its magic,
// version, position and checksum
func readHeaderAt(r io.ReaderAt, offset int64, magic string) (*Header, *Metadata, error) {
	raw := make([]byte, HeaderSize)
	if _, err := r.ReadAt(raw, offset); err != nil {
		return nil, nil, fmt.Errorf("failed to read header at %#x: %w", offset, err)
	}

	var hdr Header
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &hdr); err != nil {
		return nil, nil, fmt.Errorf("failed to decode header at %#x: %w", offset, err)
	}

	if !bytes.Equal(hdr.Magic[:], []byte(magic)) {
		return nil, nil, fmt.Errorf("no LUKS2 magic at %#x", offset)
	}
	if hdr.Version != Version {
		return nil, nil, fmt.Errorf("unsupported LUKS version %d at %#x", hdr.Version, offset)
	}
	if hdr.HeaderOffset != uint64(offset) { // #nosec G115 - offsets are non-negative constants
		return nil, nil, fmt.Errorf("header at %#x claims offset %#x", offset, hdr.HeaderOffset)
	}
	if hdr.HeaderSize <= HeaderSize || hdr.HeaderSize > MaxHeaderSize {
		return nil, nil, fmt.Errorf("invalid header size %d at %#x", hdr.HeaderSize, offset)
	}

	area := make([]byte, hdr.HeaderSize)
	if _, err := r.ReadAt(area, offset); err != nil {
		return nil, nil, fmt.Errorf("failed to read header area at %#x: %w", offset, err)
	}

	if err := verifyHeaderChecksum(&hdr, area); err != nil {
		return nil, nil, fmt.Errorf("header at %#x: %w", offset, err)
	}

	metadata, err := parseMetadata(area[HeaderSize:])
	if err != nil {
		return nil, nil, fmt.Errorf("header at %#x: %w", offset, err)
	}

	return &hdr, metadata, nil
}

// verifyHeaderChecksum hashes the whole header area with the checksum field
// zeroed. area is modified
func verifyHeaderChecksum(hdr *Header, area []byte) error {
	algorithm := cString(hdr.ChecksumAlgorithm[:])
	newHash, err := hashByName(algorithm)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}

	clear(area[checksumOffset : checksumOffset+checksumLen])

	h := newHash()
	h.Write(area)
	calculated := h.Sum(nil)

	if !bytes.Equal(calculated, hdr.Checksum[:len(calculated)]) {
		return fmt.Errorf("%s checksum mismatch", algorithm)
	}
	return nil
}

// parseMetadata decodes the NUL-terminated JSON area
func parseMetadata(jsonArea []byte) (*Metadata, error) {
	if i := bytes.IndexByte(jsonArea, 0); i != -1 {
		jsonArea = jsonArea[:i]
	}

	var metadata Metadata
	if err := json.Unmarshal(jsonArea, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse JSON metadata: %w", err)
	}
	return &metadata, nil
}
