// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/xts"
)

const (
	testUUID        = "b472bee4-4c67-4103-b491-c1b3e869cb81"
	testLabel       = "usbkey"
	testHeaderArea  = 0x4000
	testAreaOffset  = 0x8000
	testAreaSize    = 131072
	testStripes     = 4000
	testIterations  = 1000
	testDataSize    = 1 << 20
	testPassphrase  = "correct horse battery staple"
	testPassphrase2 = "second slot"
)

// testKeyslot describes one keyslot of a synthetic volume
type testKeyslot struct {
	passphrase string
	kdf        KDF
	priority   *int
}

func pbkdf2Slot(passphrase string) testKeyslot {
	iterations := testIterations
	return testKeyslot{
		passphrase: passphrase,
		kdf:        KDF{Type: "pbkdf2", Hash: "sha256", Iterations: &iterations},
	}
}

func argon2Slot(passphrase string, priority int) testKeyslot {
	t, m, p := 1, 64, 1
	return testKeyslot{
		passphrase: passphrase,
		kdf:        KDF{Type: "argon2id", Time: &t, Memory: &m, CPUs: &p},
		priority:   &priority,
	}
}

// testVolume is a LUKS2 container image in a temp file
type testVolume struct {
	path          string
	key           []byte
	segmentOffset int64
}

type volumeBuilder struct {
	keySize  int
	checksum string
	slots    []testKeyslot
	mutate   func(*Metadata)
}

// newTestVolume builds a LUKS2 image with a 256-bit volume key
func newTestVolume(t *testing.T, slots ...testKeyslot) *testVolume {
	t.Helper()
	b := &volumeBuilder{keySize: 32, checksum: "sha256", slots: slots}
	return b.build(t)
}

func (b *volumeBuilder) build(t *testing.T) *testVolume {
	t.Helper()

	path := filepath.Join(t.TempDir(), "container.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	defer func() { _ = f.Close() }()

	key := randomTestBytes(t, b.keySize)
	metadata := &Metadata{
		Keyslots: map[string]*Keyslot{},
		Segments: map[string]*Segment{},
		Digests:  map[string]*Digest{},
		Config: &Config{
			JSONSize:     strconv.Itoa(testHeaderArea - HeaderSize),
			KeyslotsSize: strconv.Itoa(len(b.slots) * testAreaSize),
		},
	}

	var slotIDs []string
	for i, slot := range b.slots {
		offset := int64(testAreaOffset + i*testAreaSize)
		id := strconv.Itoa(i)
		slotIDs = append(slotIDs, id)

		kdf := slot.kdf
		kdf.Salt = base64.StdEncoding.EncodeToString(randomTestBytes(t, 32))

		areaKey, err := deriveKey([]byte(slot.passphrase), &kdf, 32)
		if err != nil {
			t.Fatalf("deriveKey() error = %v", err)
		}

		material := afSplit(t, key, testStripes, "sha256")
		material = append(material, make([]byte, int(alignTo(int64(len(material)), SectorSize))-len(material))...)
		encryptKeyMaterial(t, material, areaKey)
		if _, err := f.WriteAt(material, offset); err != nil {
			t.Fatalf("Failed to write key material: %v", err)
		}

		metadata.Keyslots[id] = &Keyslot{
			Type:     "luks2",
			KeySize:  b.keySize,
			Priority: slot.priority,
			Area: &KeyslotArea{
				Type:       "raw",
				KeySize:    32,
				Offset:     strconv.FormatInt(offset, 10),
				Size:       strconv.Itoa(testAreaSize),
				Encryption: "aes-xts-plain64",
			},
			KDF: &kdf,
			AF:  &AntiForensic{Type: "luks1", Stripes: testStripes, Hash: "sha256"},
		}
	}

	digestSalt := randomTestBytes(t, 32)
	metadata.Digests["0"] = &Digest{
		Type:       "pbkdf2",
		Keyslots:   slotIDs,
		Segments:   []string{"0"},
		Hash:       "sha256",
		Iterations: testIterations,
		Salt:       base64.StdEncoding.EncodeToString(digestSalt),
		Digest:     base64.StdEncoding.EncodeToString(pbkdf2.Key(key, digestSalt, testIterations, 32, sha256.New)),
	}

	segmentOffset := int64(testAreaOffset + len(b.slots)*testAreaSize)
	metadata.Segments["0"] = &Segment{
		Type:       "crypt",
		Offset:     strconv.FormatInt(segmentOffset, 10),
		Size:       "dynamic",
		IVTweak:    "0",
		Encryption: "aes-xts-plain64",
		SectorSize: SectorSize,
	}

	if b.mutate != nil {
		b.mutate(metadata)
	}

	jsonData, err := json.Marshal(metadata)
	if err != nil {
		t.Fatalf("Failed to marshal metadata: %v", err)
	}

	writeHeaderCopy(t, f, 0, Magic, b.checksum, jsonData)
	writeHeaderCopy(t, f, testHeaderArea, BackupMagic, b.checksum, jsonData)

	if err := f.Truncate(segmentOffset + testDataSize); err != nil {
		t.Fatalf("Failed to size image: %v", err)
	}

	return &testVolume{path: path, key: key, segmentOffset: segmentOffset}
}

// writeHeaderCopy writes one checksummed header copy at offset
func writeHeaderCopy(t *testing.T, f *os.File, offset int64, magic, checksum string, jsonData []byte) {
	t.Helper()

	hdr := Header{
		Version:      Version,
		HeaderSize:   testHeaderArea,
		SequenceID:   1,
		HeaderOffset: uint64(offset),
	}
	copy(hdr.Magic[:], magic)
	copy(hdr.ChecksumAlgorithm[:], checksum)
	copy(hdr.UUID[:], testUUID)
	copy(hdr.Label[:], testLabel)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &hdr); err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}

	area := make([]byte, testHeaderArea)
	copy(area, buf.Bytes())
	copy(area[HeaderSize:], jsonData)

	var sum []byte
	switch checksum {
	case "sha512":
		s := sha512.Sum512(area)
		sum = s[:]
	default:
		s := sha256.Sum256(area)
		sum = s[:]
	}
	copy(area[checksumOffset:], sum)

	if _, err := f.WriteAt(area, offset); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
}

// corrupt flips one byte of the image at offset
func (v *testVolume) corrupt(t *testing.T, offset int64) {
	t.Helper()
	f, err := os.OpenFile(v.path, os.O_RDWR, 0600)
	if err != nil {
		t.Fatalf("Failed to open image: %v", err)
	}
	defer func() { _ = f.Close() }()

	b := make([]byte, 1)
	if _, err := f.ReadAt(b, offset); err != nil {
		t.Fatalf("Failed to read image: %v", err)
	}
	b[0] ^= 0xff
	if _, err := f.WriteAt(b, offset); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
}

// afSplit is the inverse of afMerge
func afSplit(t *testing.T, key []byte, stripes int, hashName string) []byte {
	t.Helper()

	newHash, err := hashByName(hashName)
	if err != nil {
		t.Fatalf("hashByName() error = %v", err)
	}

	size := len(key)
	out := make([]byte, size*stripes)
	if _, err := rand.Read(out[:size*(stripes-1)]); err != nil {
		t.Fatalf("Failed to generate stripes: %v", err)
	}

	buf := make([]byte, size)
	for i := 0; i < stripes-1; i++ {
		xorInto(buf, out[i*size:(i+1)*size])
		diffuse(buf, newHash())
	}

	last := out[(stripes-1)*size:]
	copy(last, key)
	xorInto(last, buf)
	return out
}

func encryptKeyMaterial(t *testing.T, data, key []byte) {
	t.Helper()
	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		t.Fatalf("xts.NewCipher() error = %v", err)
	}
	for i := 0; i < len(data)/SectorSize; i++ {
		sector := data[i*SectorSize : (i+1)*SectorSize]
		c.Encrypt(sector, sector, uint64(i))
	}
}

func randomTestBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("Failed to generate random bytes: %v", err)
	}
	return b
}
