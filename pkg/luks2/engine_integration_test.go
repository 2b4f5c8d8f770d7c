// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build integration

package luks2

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"
)

const integrationMapping = "luks-usb-itest"

func waitForNode(t *testing.T, inspector *Inspector, want bool) {
	t.Helper()
	for i := 0; i < 50; i++ {
		if inspector.IsUnlocked() == want {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("IsUnlocked() never became %v", want)
}

func TestEngine_ActivateDeactivate(t *testing.T) {
	requireRoot(t)

	vol := newTestVolume(t, pbkdf2Slot(testPassphrase))
	loop := attachLoop(t, vol.path)

	engine := NewEngine(DefaultMapperDir)
	inspector := NewInspector(DefaultMapperDir, integrationMapping)

	session, err := engine.Open(loop)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = session.Close() }()

	if err := session.Activate(integrationMapping, []byte("wrong")); !errors.Is(err, ErrInvalidPassphrase) {
		t.Fatalf("Activate() with wrong passphrase error = %v", err)
	}
	if inspector.IsUnlocked() {
		t.Fatal("mapping present after a rejected passphrase")
	}

	if err := session.Activate(integrationMapping, []byte(testPassphrase)); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	t.Cleanup(func() { _ = session.Deactivate(integrationMapping) })
	waitForNode(t, inspector, true)

	if err := session.Activate(integrationMapping, []byte(testPassphrase)); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second Activate() error = %v, want ErrAlreadyActive", err)
	}

	// Write through the mapping and check the ciphertext on the image
	plaintext := bytes.Repeat([]byte("usb!"), SectorSize/4)
	mapped, err := os.OpenFile(inspector.Path(), os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		t.Fatalf("Failed to open mapping: %v", err)
	}
	if _, err := mapped.WriteAt(plaintext, 0); err != nil {
		t.Fatalf("Failed to write mapping: %v", err)
	}
	_ = mapped.Close()

	image, err := os.Open(vol.path)
	if err != nil {
		t.Fatalf("Failed to open image: %v", err)
	}
	sector := make([]byte, SectorSize)
	_, err = image.ReadAt(sector, vol.segmentOffset)
	_ = image.Close()
	if err != nil {
		t.Fatalf("Failed to read ciphertext: %v", err)
	}
	if bytes.Equal(sector, plaintext) {
		t.Fatal("data reached the image unencrypted")
	}
	if err := decryptKeyMaterial(sector, vol.key, "aes-xts-plain64"); err != nil {
		t.Fatalf("decrypt error = %v", err)
	}
	if !bytes.Equal(sector, plaintext) {
		t.Error("ciphertext does not decrypt with the volume key")
	}

	byName, err := engine.OpenByName(integrationMapping)
	if err != nil {
		t.Fatalf("OpenByName() error = %v", err)
	}
	defer func() { _ = byName.Close() }()

	if err := byName.Deactivate(integrationMapping); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	waitForNode(t, inspector, false)

	if _, err := engine.OpenByName(integrationMapping); !errors.Is(err, ErrNotActive) {
		t.Errorf("OpenByName() after Deactivate error = %v, want ErrNotActive", err)
	}
}

func TestEngine_DeactivateBusy(t *testing.T) {
	requireRoot(t)

	vol := newTestVolume(t, argon2Slot(testPassphrase, PriorityHigh))
	loop := attachLoop(t, vol.path)

	engine := NewEngine(DefaultMapperDir)
	session, err := engine.Open(loop)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = session.Close() }()

	if err := session.Activate(integrationMapping, []byte(testPassphrase)); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	inspector := NewInspector(DefaultMapperDir, integrationMapping)
	waitForNode(t, inspector, true)

	holder, err := os.OpenFile(inspector.Path(), os.O_RDONLY|os.O_EXCL, 0)
	if err != nil {
		_ = session.Deactivate(integrationMapping)
		t.Fatalf("Failed to hold mapping open: %v", err)
	}

	if err := session.Deactivate(integrationMapping); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("Deactivate() while held error = %v, want ErrDeviceBusy", err)
	}

	_ = holder.Close()
	if err := session.Deactivate(integrationMapping); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
}
