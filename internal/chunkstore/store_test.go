package chunkstore

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestMemoryStoreAllocReadWrite(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "idx"), OpenOptions{Storage: MEMORY})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h, err := s.AllocChunk("hnsw.vectors", TypeVectors, 16)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("0123456789abcdef")
	if _, err := h.Write(0, payload); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 16)
	if _, err := h.Read(0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestGetChunkByOrdinal(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "idx"), OpenOptions{Storage: MEMORY})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h0, _ := s.AllocChunk("seg", TypeOther, 8)
	h0.Write(0, []byte("aaaaaaaa"))
	h1, _ := s.AllocChunk("seg", TypeOther, 8)
	h1.Write(0, []byte("bbbbbbbb"))

	got0 := s.GetChunk("seg", 0)
	buf := make([]byte, 8)
	got0.Read(0, buf)
	if string(buf) != "aaaaaaaa" {
		t.Fatalf("ordinal 0: got %q", buf)
	}

	got1 := s.GetChunk("seg", 1)
	got1.Read(0, buf)
	if string(buf) != "bbbbbbbb" {
		t.Fatalf("ordinal 1: got %q", buf)
	}
}

func TestGetChunkMissingPanics(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "idx"), OpenOptions{Storage: MEMORY})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown segment")
		}
	}()
	s.GetChunk("does-not-exist", 0)
}

func TestPinnedBorrowBlocksGrowth(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "idx"), OpenOptions{Storage: MEMORY})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h, _ := s.AllocChunk("seg", TypeOther, 8)
	pinned, err := h.AsBytes(0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AllocChunk("seg", TypeOther, 8); err == nil {
		t.Fatal("expected alloc to fail while a chunk is pinned")
	}
	pinned.Release()
	if _, err := s.AllocChunk("seg", TypeOther, 8); err != nil {
		t.Fatalf("alloc should succeed after release: %v", err)
	}
}

func TestMMAPWriterLockExclusive(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, OpenOptions{Storage: MMAP})
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()

	_, err = Open(dir, OpenOptions{Storage: MMAP})
	if err == nil {
		t.Fatal("expected second writer-mode open to fail")
	}
}

func TestDirectoryReportsSegments(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "idx"), OpenOptions{Storage: MEMORY})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.AllocChunk("hnsw.vectors", TypeVectors, 32)
	s.AllocChunk("hnsw.keys", TypeKeys, 8)

	dir := s.Directory()
	if len(dir) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(dir))
	}
}
