// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import (
	"bytes"
	"strconv"

	"github.com/awnumar/memguard"
)

// clearBytes zeros key material
func clearBytes(b []byte) {
	memguard.WipeBytes(b)
}

// cString returns the text of a NUL-padded header field
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i != -1 {
		b = b[:i]
	}
	return string(b)
}

// parseSize parses a JSON size or offset string
func parseSize(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func alignTo(value, alignment int64) int64 {
	if value%alignment == 0 {
		return value
	}
	return (value/alignment + 1) * alignment
}

func parseIVTweak(s string) uint64 {
	val, _ := strconv.ParseUint(s, 10, 64)
	return val
}
