// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer is a fixed-capacity passphrase buffer. The backing array is
// allocated once and never grown or copied, so Wipe reaches every byte
// that was ever written to it
type Buffer struct {
	data []byte
	n    int
}

// pending holds the buffers being filled while echo is off, so the
// interrupt handler can wipe them before the process exits
var pending = struct {
	sync.Mutex
	bufs map[*Buffer]struct{}
}{bufs: make(map[*Buffer]struct{})}

// NewBuffer allocates a zeroed buffer holding at most capacity bytes
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Bytes returns the filled portion. The slice aliases the buffer and must
// not be retained past Wipe
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data[:b.n]
}

// Wipe overwrites the whole backing array, including unfilled bytes
func (b *Buffer) Wipe() {
	if b == nil {
		return
	}
	memguard.WipeBytes(b.data)
	b.n = 0
}

// IsZero reports whether every byte of the backing array is zero
func (b *Buffer) IsZero() bool {
	if b == nil {
		return true
	}
	var acc byte
	for _, c := range b.data {
		acc |= c
	}
	return acc == 0
}

func (b *Buffer) capacity() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

func (b *Buffer) filled() int {
	if b == nil {
		return 0
	}
	return b.n
}

// append adds one byte, reporting false when the buffer is full
func (b *Buffer) append(c byte) bool {
	if b.filled() >= b.capacity() {
		return false
	}
	b.data[b.n] = c
	b.n++
	return true
}

// trimCarriageReturn drops a trailing '\r' left by CRLF terminals
func (b *Buffer) trimCarriageReturn() {
	if b.n > 0 && b.data[b.n-1] == '\r' {
		b.n--
		b.data[b.n] = 0
	}
}

// hold registers b with wipePending until the returned function is called
func hold(b *Buffer) func() {
	if b == nil {
		return func() {}
	}
	pending.Lock()
	pending.bufs[b] = struct{}{}
	pending.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			pending.Lock()
			delete(pending.bufs, b)
			pending.Unlock()
		})
	}
}

// wipePending wipes every buffer registered with hold
func wipePending() {
	pending.Lock()
	defer pending.Unlock()
	for b := range pending.bufs {
		b.Wipe()
	}
}
