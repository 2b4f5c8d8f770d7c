// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

// LUKS2 on-disk format constants
const (
	Magic       = "LUKS\xba\xbe"
	BackupMagic = "SKUL\xba\xbe"
	MagicLen    = 6
	Version     = 2
	SectorSize  = 512
	HeaderSize  = 4096 // binary header, JSON area follows

	// MaxHeaderSize bounds the binary header plus JSON area (4 MiB)
	MaxHeaderSize = 0x400000

	checksumOffset = 0x1C0
	checksumLen    = 64
)

// Keyslot priorities
const (
	PriorityIgnore = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// backupHeaderOffsets lists the offsets where a secondary header may live,
// one per supported JSON area size
var backupHeaderOffsets = []int64{
	0x4000, 0x8000, 0x10000, 0x20000, 0x40000,
	0x80000, 0x100000, 0x200000, 0x400000,
}

// Header is the binary LUKS2 header (4096 bytes, big-endian)
type Header struct {
	Magic             [6]byte
	Version           uint16
	HeaderSize        uint64 // binary header + JSON area
	SequenceID        uint64
	Label             [48]byte
	ChecksumAlgorithm [32]byte
	Salt              [64]byte
	UUID              [40]byte
	SubsystemLabel    [48]byte
	HeaderOffset      uint64
	_                 [184]byte
	Checksum          [64]byte
	_                 [3584]byte
}

// VolumeUUID returns the header UUID as text
func (h *Header) VolumeUUID() string {
	return cString(h.UUID[:])
}

// VolumeLabel returns the header label as text
func (h *Header) VolumeLabel() string {
	return cString(h.Label[:])
}

// Metadata is the JSON area of a LUKS2 header. Only the objects needed to
// activate a volume are decoded
type Metadata struct {
	Keyslots map[string]*Keyslot `json:"keyslots"`
	Segments map[string]*Segment `json:"segments"`
	Digests  map[string]*Digest  `json:"digests"`
	Config   *Config             `json:"config"`
}

// Keyslot is one passphrase slot
type Keyslot struct {
	Type     string        `json:"type"`     // "luks2"
	KeySize  int           `json:"key_size"` // volume key size in bytes
	Priority *int          `json:"priority,omitempty"`
	Area     *KeyslotArea  `json:"area"`
	KDF      *KDF          `json:"kdf"`
	AF       *AntiForensic `json:"af"`
}

// priority returns the effective priority (normal when unset)
func (k *Keyslot) priority() int {
	if k.Priority == nil {
		return PriorityNormal
	}
	return *k.Priority
}

// KeyslotArea locates the encrypted key material of a keyslot
type KeyslotArea struct {
	Type       string `json:"type"`     // "raw"
	KeySize    int    `json:"key_size"` // key size of the area cipher
	Offset     string `json:"offset"`
	Size       string `json:"size"`
	Encryption string `json:"encryption"` // e.g. "aes-xts-plain64"
}

// KDF holds key derivation parameters
type KDF struct {
	Type       string `json:"type"` // "pbkdf2", "argon2i" or "argon2id"
	Hash       string `json:"hash,omitempty"`
	Salt       string `json:"salt"` // base64
	Iterations *int   `json:"iterations,omitempty"`
	Time       *int   `json:"time,omitempty"`
	Memory     *int   `json:"memory,omitempty"` // KiB
	CPUs       *int   `json:"cpus,omitempty"`
}

// AntiForensic describes the stripe splitting of the key material
type AntiForensic struct {
	Type    string `json:"type"` // "luks1"
	Stripes int    `json:"stripes"`
	Hash    string `json:"hash"`
}

// Segment is an encrypted data area
type Segment struct {
	Type       string `json:"type"` // "crypt"
	Offset     string `json:"offset"`
	Size       string `json:"size"` // bytes or "dynamic"
	IVTweak    string `json:"iv_tweak"`
	Encryption string `json:"encryption"`
	SectorSize int    `json:"sector_size"`

	Integrity *SegmentIntegrity `json:"integrity,omitempty"`
}

// SegmentIntegrity marks a segment stacked on dm-integrity
type SegmentIntegrity struct {
	Type              string `json:"type"` // e.g. "hmac(sha256)"
	JournalEncryption string `json:"journal_encryption"`
	JournalIntegrity  string `json:"journal_integrity"`
}

// Digest verifies a recovered volume key
type Digest struct {
	Type       string   `json:"type"` // "pbkdf2"
	Keyslots   []string `json:"keyslots"`
	Segments   []string `json:"segments"`
	Hash       string   `json:"hash"`
	Iterations int      `json:"iterations"`
	Salt       string   `json:"salt"`
	Digest     string   `json:"digest"`
}

// Config is the global config object of the JSON area
type Config struct {
	JSONSize     string        `json:"json_size"`
	KeyslotsSize string        `json:"keyslots_size"`
	Flags        []string      `json:"flags,omitempty"`
	Requirements *Requirements `json:"requirements,omitempty"`
}

// Requirements lists features a reader must implement to use the container
type Requirements struct {
	Mandatory []string `json:"mandatory,omitempty"`
}
