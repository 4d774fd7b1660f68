package format

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/codingwatching/zvec-sub004/internal/chunkstore"
)

func TestDumpLoadRoundTrip(t *testing.T) {
	store, err := chunkstore.Open(filepath.Join(t.TempDir(), "idx"), chunkstore.OpenOptions{Storage: chunkstore.MEMORY})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	h1, _ := store.AllocChunk("hnsw.vectors", chunkstore.TypeVectors, 8)
	h1.Write(0, []byte("vectors!"))
	h2, _ := store.AllocChunk("hnsw.keys", chunkstore.TypeKeys, 4)
	h2.Write(0, []byte{1, 2, 3, 4})

	var buf bytes.Buffer
	if err := Dump(store, &buf); err != nil {
		t.Fatal(err)
	}

	reader := bytes.NewReader(buf.Bytes())
	segments, err := Load(reader, int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}

	if got := segments["hnsw.vectors"].Data; string(got) != "vectors!" {
		t.Fatalf("hnsw.vectors: got %q", got)
	}
	if got := segments["hnsw.keys"].Data; !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("hnsw.keys: got %v", got)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	junk := make([]byte, 64)
	_, err := Load(bytes.NewReader(junk), int64(len(junk)))
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestLoadRejectsTooSmall(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("short")), 5)
	if err == nil {
		t.Fatal("expected error for too-small file")
	}
}
