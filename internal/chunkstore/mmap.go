package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"unsafe"
)

// segmentMap is a single memory-mapped backing file for one segment,
// adapted from internal/memory/mmap.go MemoryMap: same
// mmap/munmap/msync/resize lifecycle, narrowed to this module's
// one-file-per-segment layout.
type segmentMap struct {
	mu sync.RWMutex
	file *os.File
	data []byte
	size int64
	path string
	readOnly bool
}

func openSegmentMap(path string, size int64, readOnly bool) (*segmentMap, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}

	var file *os.File
	var err error
	if readOnly {
		file, err = os.OpenFile(path, os.O_RDONLY, 0o644)
	} else {
		file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err == nil && size > 0 {
			if terr := file.Truncate(size); terr != nil {
				file.Close()
				return nil, fmt.Errorf("truncate segment: %w", terr)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open segment file: %w", err)
	}

	if size == 0 {
		stat, serr := file.Stat()
		if serr != nil {
			file.Close()
			return nil, fmt.Errorf("stat segment file: %w", serr)
		}
		size = stat.Size()
	}
	if size == 0 {
		// Nothing to map yet; caller grows it via Resize on first alloc.
		return &segmentMap{file: file, path: path, readOnly: readOnly}, nil
	}

	prot := syscall.PROT_READ
	if !readOnly {
		prot |= syscall.PROT_WRITE
	}
	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), prot, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap segment file: %w", err)
	}

	return &segmentMap{file: file, data: data, size: size, path: path, readOnly: readOnly}, nil
}

func (m *segmentMap) Data() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

func (m *segmentMap) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *segmentMap) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil || m.readOnly {
		return nil
	}
	_, _, errno := syscall.Syscall(syscall.SYS_MSYNC,
		uintptr(unsafe.Pointer(&m.data[0])), uintptr(m.size), syscall.MS_SYNC)
	if errno != 0 {
		return fmt.Errorf("msync: %v", errno)
	}
	return nil
}

func (m *segmentMap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.data != nil {
		if uerr := syscall.Munmap(m.data); uerr != nil {
			err = fmt.Errorf("munmap: %w", uerr)
		}
		m.data = nil
	}
	if m.file != nil {
		if cerr := m.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close segment file: %w", cerr)
		}
		m.file = nil
	}
	return err
}

// Resize grows (never shrinks) the mapping to at least newSize bytes.
// Callers must ensure no chunk is pinned before calling this (
// invariant c): a pinned borrow prevents its chunk from being
// truncated or remapped.
func (m *segmentMap) Resize(newSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return fmt.Errorf("cannot resize read-only mapping")
	}
	if m.data != nil {
		if newSize <= m.size {
			return nil
		}
		if err := syscall.Munmap(m.data); err != nil {
			return fmt.Errorf("munmap for resize: %w", err)
		}
		m.data = nil
	}
	if err := m.file.Truncate(newSize); err != nil {
		return fmt.Errorf("truncate for resize: %w", err)
	}
	data, err := syscall.Mmap(int(m.file.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("remap after resize: %w", err)
	}
	m.data = data
	m.size = newSize
	return nil
}
