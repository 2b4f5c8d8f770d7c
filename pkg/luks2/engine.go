// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/anatol/devmapper.go"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// DefaultMapperDir is where device-mapper nodes appear
const DefaultMapperDir = "/dev/mapper"

// deviceMapper is the subset of the kernel device-mapper used by the engine
type deviceMapper interface {
	create(name, uuid string, table devmapper.CryptTable) error
	remove(name string) error
	devNo(name string) (uint64, error)
}

type kernelMapper struct{}

func (kernelMapper) create(name, uuid string, table devmapper.CryptTable) error {
	return devmapper.CreateAndLoad(name, uuid, 0, table)
}

func (kernelMapper) remove(name string) error {
	return devmapper.Remove(name)
}

func (kernelMapper) devNo(name string) (uint64, error) {
	info, err := devmapper.InfoByName(name)
	if err != nil {
		return 0, err
	}
	return uint64(info.DevNo), nil
}

// Engine opens LUKS2 containers and manages their device-mapper mappings
type Engine struct {
	MapperDir string

	dm    deviceMapper
	mknod func(path string, mode uint32, dev int) error
}

// NewEngine returns an engine backed by the kernel device-mapper
func NewEngine(mapperDir string) *Engine {
	if mapperDir == "" {
		mapperDir = DefaultMapperDir
	}
	return &Engine{
		MapperDir: mapperDir,
		dm:        kernelMapper{},
		mknod:     unix.Mknod,
	}
}

// Session is an open context against one container or one mapping. It must
// be closed on every path
type Session struct {
	engine   *Engine
	device   string
	name     string
	file     *os.File
	header   *Header
	metadata *Metadata
}

// Open loads the header of the container at device
func (e *Engine) Open(device string) (*Session, error) {
	if err := ValidateDevicePath(device); err != nil {
		return nil, err
	}

	f, err := os.Open(device) // #nosec G304 -- device path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}

	hdr, metadata, err := readHeader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := checkContainer(metadata); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Session{
		engine:   e,
		device:   device,
		file:     f,
		header:   hdr,
		metadata: metadata,
	}, nil
}

// OpenByName attaches to an existing mapping, for deactivation
func (e *Engine) OpenByName(name string) (*Session, error) {
	if err := ValidateMappingName(name); err != nil {
		return nil, err
	}
	if _, err := e.dm.devNo(name); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotActive, name, err)
	}
	return &Session{engine: e, name: name}, nil
}

// Device returns the container path of a session opened with Open
func (s *Session) Device() string {
	return s.device
}

// UUID returns the container UUID of a session opened with Open
func (s *Session) UUID() string {
	if s.header == nil {
		return ""
	}
	return s.header.VolumeUUID()
}

// Activate unlocks the container with passphrase and creates mapping name.
// On failure no mapping is left behind
func (s *Session) Activate(name string, passphrase []byte) error {
	if s.header == nil || s.file == nil {
		return fmt.Errorf("%w: session has no container header", ErrInvalidHeader)
	}
	if err := ValidateMappingName(name); err != nil {
		return err
	}
	if _, err := s.engine.dm.devNo(name); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, name)
	}

	key, err := recoverVolumeKey(s.file, s.metadata, passphrase)
	if err != nil {
		return err
	}
	defer clearBytes(key)

	table, err := s.cryptTable(key)
	if err != nil {
		return err
	}

	dmUUID, err := mapperUUID(s.header.VolumeUUID(), name)
	if err != nil {
		return err
	}

	if err := s.engine.dm.create(name, dmUUID, table); err != nil {
		_ = s.engine.dm.remove(name)
		return fmt.Errorf("failed to create device-mapper: %w", err)
	}

	// Non-fatal, udev normally creates the node
	_ = s.engine.ensureDeviceNode(name)

	return nil
}

// Deactivate removes mapping name. It fails with ErrDeviceBusy while the
// mapping is held open, for example while mounted
func (s *Session) Deactivate(name string) error {
	if err := s.engine.dm.remove(name); err != nil {
		switch {
		case errors.Is(err, unix.EBUSY):
			return fmt.Errorf("%w: %s", ErrDeviceBusy, name)
		case errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
			return fmt.Errorf("%w: %s", ErrNotActive, name)
		default:
			return fmt.Errorf("failed to remove device-mapper: %w", err)
		}
	}

	s.engine.removeDeviceNode(name)
	return nil
}

// Close releases the session. It is safe to call more than once
func (s *Session) Close() error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	return f.Close()
}

// cryptTable builds the dm-crypt table of the data segment. Lengths and
// offsets are in bytes
func (s *Session) cryptTable(key []byte) (devmapper.CryptTable, error) {
	seg, err := cryptSegment(s.metadata)
	if err != nil {
		return devmapper.CryptTable{}, err
	}

	offset, err := parseSize(seg.Offset)
	if err != nil {
		return devmapper.CryptTable{}, fmt.Errorf("%w: invalid segment offset: %v", ErrInvalidHeader, err)
	}

	var size int64
	if seg.Size == "dynamic" {
		end, err := s.file.Seek(0, io.SeekEnd)
		if err != nil {
			return devmapper.CryptTable{}, fmt.Errorf("failed to get device size: %w", err)
		}
		size = end - offset
	} else if size, err = parseSize(seg.Size); err != nil {
		return devmapper.CryptTable{}, fmt.Errorf("%w: invalid segment size: %v", ErrInvalidHeader, err)
	}
	if size <= 0 {
		return devmapper.CryptTable{}, fmt.Errorf("%w: empty data segment", ErrInvalidHeader)
	}

	sectorSize := seg.SectorSize
	if sectorSize == 0 {
		sectorSize = SectorSize
	}

	length, err := SafeInt64ToUint64(size)
	if err != nil {
		return devmapper.CryptTable{}, err
	}
	backendOffset, err := SafeInt64ToUint64(offset)
	if err != nil {
		return devmapper.CryptTable{}, err
	}

	return devmapper.CryptTable{
		Start:         0,
		Length:        length,
		BackendDevice: s.device,
		BackendOffset: backendOffset,
		Encryption:    seg.Encryption,
		Key:           key,
		IVTweak:       parseIVTweak(seg.IVTweak),
		SectorSize:    uint64(sectorSize), // #nosec G115 - positive
	}, nil
}

// cryptSegment returns the lowest numbered crypt segment
func cryptSegment(metadata *Metadata) (*Segment, error) {
	var found *Segment
	best := -1
	for key, seg := range metadata.Segments {
		id, err := parseSize(key)
		if err != nil || seg == nil || seg.Type != "crypt" {
			continue
		}
		if best == -1 || int(id) < best {
			best, found = int(id), seg
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no crypt segment", ErrInvalidHeader)
	}
	if found.Integrity != nil {
		return nil, fmt.Errorf("%w: segment integrity %q", ErrUnsupported, found.Integrity.Type)
	}
	return found, nil
}

// checkContainer rejects containers the engine cannot activate, so they fail
// at Open rather than at passphrase time
func checkContainer(metadata *Metadata) error {
	if req := metadata.Config; req != nil && req.Requirements != nil && len(req.Requirements.Mandatory) > 0 {
		return fmt.Errorf("%w: mandatory requirements %v", ErrUnsupported, req.Requirements.Mandatory)
	}

	refs := orderedKeyslots(metadata)
	if len(refs) == 0 {
		return fmt.Errorf("%w: no usable keyslot", ErrInvalidHeader)
	}
	var firstErr error
	for _, ref := range refs {
		err := checkKeyslot(ref)
		if err == nil {
			firstErr = nil
			break
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	_, err := cryptSegment(metadata)
	return err
}

// mapperUUID formats the device-mapper UUID the way cryptsetup does
func mapperUUID(volumeUUID, name string) (string, error) {
	u, err := uuid.Parse(volumeUUID)
	if err != nil {
		return "", fmt.Errorf("%w: malformed volume UUID %q", ErrInvalidHeader, volumeUUID)
	}
	return "CRYPT-LUKS2-" + strings.ReplaceAll(u.String(), "-", "") + "-" + name, nil
}

// ensureDeviceNode creates MapperDir/name when udev did not
func (e *Engine) ensureDeviceNode(name string) error {
	path := filepath.Join(e.MapperDir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	devNo, err := e.dm.devNo(name)
	if err != nil {
		return err
	}
	dev, err := SafeUint64ToInt(unix.Mkdev(unix.Major(devNo), unix.Minor(devNo)))
	if err != nil {
		return fmt.Errorf("invalid device number: %w", err)
	}

	if err := os.MkdirAll(e.MapperDir, 0755); err != nil { // #nosec G301 -- standard /dev/mapper mode
		return err
	}
	return e.mknod(path, unix.S_IFBLK|0600, dev)
}

// removeDeviceNode deletes a node left by ensureDeviceNode. udev symlinks
// are left to udev
func (e *Engine) removeDeviceNode(name string) {
	path := filepath.Join(e.MapperDir, name)
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink != 0 {
		return
	}
	_ = os.Remove(path)
}
