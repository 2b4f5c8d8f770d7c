// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import (
	"crypto/sha1" // #nosec G505 -- legacy LUKS headers may still name sha1
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// deriveKey derives keySize bytes from a passphrase using the keyslot KDF
func deriveKey(passphrase []byte, kdf *KDF, keySize int) ([]byte, error) {
	if keySize <= 0 {
		return nil, fmt.Errorf("%w: key size %d", ErrUnsupported, keySize)
	}

	salt, err := decodeBase64(kdf.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt: %w", err)
	}

	switch kdf.Type {
	case "pbkdf2":
		return derivePBKDF2(passphrase, salt, kdf, keySize)
	case "argon2i", "argon2id":
		return deriveArgon2(passphrase, salt, kdf, keySize)
	default:
		return nil, fmt.Errorf("%w: KDF type %q", ErrUnsupported, kdf.Type)
	}
}

func derivePBKDF2(passphrase, salt []byte, kdf *KDF, keySize int) ([]byte, error) {
	if kdf.Iterations == nil || *kdf.Iterations < 1 {
		return nil, fmt.Errorf("PBKDF2 requires iterations")
	}

	newHash, err := hashByName(kdf.Hash)
	if err != nil {
		return nil, err
	}

	return pbkdf2.Key(passphrase, salt, *kdf.Iterations, keySize, newHash), nil
}

func deriveArgon2(passphrase, salt []byte, kdf *KDF, keySize int) ([]byte, error) {
	if kdf.Time == nil || kdf.Memory == nil || kdf.CPUs == nil {
		return nil, fmt.Errorf("%s requires time, memory, and cpus parameters", kdf.Type)
	}

	cpus := *kdf.CPUs
	if cpus < 1 || cpus > 255 {
		return nil, fmt.Errorf("%s cpus must be between 1 and 255", kdf.Type)
	}
	if *kdf.Time < 1 || *kdf.Memory < 1 {
		return nil, fmt.Errorf("%s time and memory must be positive", kdf.Type)
	}

	// #nosec G115 - bounds checked above
	t, m, p, n := uint32(*kdf.Time), uint32(*kdf.Memory), uint8(cpus), uint32(keySize)
	if kdf.Type == "argon2i" {
		return argon2.Key(passphrase, salt, t, m, p, n), nil
	}
	return argon2.IDKey(passphrase, salt, t, m, p, n), nil
}

// hashByName maps a LUKS hash name to a constructor
func hashByName(name string) (func() hash.Hash, error) {
	switch name {
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: hash %q", ErrUnsupported, name)
	}
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
