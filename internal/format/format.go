// Package format implements the on-disk container: a sequence of
// named byte segments, a trailing directory, and a fixed footer.
package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sort"

	"github.com/codingwatching/zvec-sub004/internal/chunkstore"
	"github.com/codingwatching/zvec-sub004/internal/zvecerr"
)

const (
	// Magic is the 8-byte ASCII footer magic, "ZVECIDX\0".
	Magic = "ZVECIDX\x00"
	// Version is the current on-disk format version.
	Version uint32 = 1
	alignment = 8
	footerSize = 28 // magic(8) + version(4) + dir_offset(8) + dir_length(8) ... crc appended separately
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// DirEntry describes one segment's placement and checksum.
type DirEntry struct {
	Name string
	Offset uint64
	Length uint64
	TypeTag uint32
	CRC32C uint32
}

func pad(n int64) int64 {
	rem := n % alignment
	if rem == 0 {
		return 0
	}
	return alignment - rem
}

// Dump writes every segment in store to w, in deterministic
// lexicographic segment-name order, followed by the directory and
// footer, per the rule above.
func Dump(store *chunkstore.Store, w io.Writer) error {
	infos := store.Directory()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	var offset int64
	entries := make([]DirEntry, 0, len(infos))

	counting := &countingWriter{w: w}

	for _, info := range infos {
		if p := pad(offset); p > 0 {
			if _, err := counting.Write(make([]byte, p)); err != nil {
				return zvecerr.Wrap("format.Dump", zvecerr.IO, err)
			}
			offset += p
		}
		data := store.RawSegmentBytes(info.Name)
		if _, err := counting.Write(data); err != nil {
			return zvecerr.Wrap("format.Dump", zvecerr.IO, err)
		}
		tag := uint32(0)
		if len(info.TypeTags) > 0 {
			tag = uint32(info.TypeTags[0])
		}
		entries = append(entries, DirEntry{
			Name: info.Name,
			Offset: uint64(offset),
			Length: uint64(len(data)),
			TypeTag: tag,
			CRC32C: crc32.Checksum(data, castagnoli),
		})
		offset += int64(len(data))
	}

	dirOffset := offset
	dirBuf := &bytes.Buffer{}
	if err := binary.Write(dirBuf, binary.LittleEndian, uint32(len(entries))); err != nil {
		return zvecerr.Wrap("format.Dump", zvecerr.Internal, err)
	}
	for _, e := range entries {
		if err := binary.Write(dirBuf, binary.LittleEndian, uint16(len(e.Name))); err != nil {
			return zvecerr.Wrap("format.Dump", zvecerr.Internal, err)
		}
		dirBuf.WriteString(e.Name)
		binary.Write(dirBuf, binary.LittleEndian, e.Offset)
		binary.Write(dirBuf, binary.LittleEndian, e.Length)
		binary.Write(dirBuf, binary.LittleEndian, e.TypeTag)
		binary.Write(dirBuf, binary.LittleEndian, e.CRC32C)
	}
	if _, err := counting.Write(dirBuf.Bytes()); err != nil {
		return zvecerr.Wrap("format.Dump", zvecerr.IO, err)
	}
	dirLength := int64(dirBuf.Len())

	footer := &bytes.Buffer{}
	footer.WriteString(Magic)
	binary.Write(footer, binary.LittleEndian, Version)
	binary.Write(footer, binary.LittleEndian, uint64(dirOffset))
	binary.Write(footer, binary.LittleEndian, uint64(dirLength))
	crc := crc32.Checksum(footer.Bytes(), castagnoli)
	binary.Write(footer, binary.LittleEndian, crc)

	if _, err := counting.Write(footer.Bytes()); err != nil {
		return zvecerr.Wrap("format.Dump", zvecerr.IO, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Segment is one loaded segment's raw bytes plus its recorded type tag.
type Segment struct {
	Data []byte
	TypeTag uint32
}

// Load parses the footer and directory from r (total length size) and
// returns every segment's raw bytes keyed by name.
func Load(r io.ReaderAt, size int64) (map[string]Segment, error) {
	if size < 32 {
		return nil, zvecerr.New("format.Load", zvecerr.InvalidFormat).WithContext("reason", "file too small")
	}

	footerWithoutCRC := make([]byte, 28)
	if _, err := r.ReadAt(footerWithoutCRC, size-32); err != nil {
		return nil, zvecerr.Wrap("format.Load", zvecerr.IO, err)
	}
	magic := footerWithoutCRC[0:8]
	if string(magic) != Magic {
		return nil, zvecerr.New("format.Load", zvecerr.InvalidFormat).WithContext("reason", "bad magic")
	}
	version := binary.LittleEndian.Uint32(footerWithoutCRC[8:12])
	if version != Version {
		return nil, zvecerr.New("format.Load", zvecerr.InvalidFormat).WithContext("reason", fmt.Sprintf("unsupported version %d", version))
	}
	dirOffset := binary.LittleEndian.Uint64(footerWithoutCRC[12:20])
	dirLength := binary.LittleEndian.Uint64(footerWithoutCRC[20:28])

	var storedCRC [4]byte
	if _, err := r.ReadAt(storedCRC[:], size-4); err != nil {
		return nil, zvecerr.Wrap("format.Load", zvecerr.IO, err)
	}
	wantCRC := binary.LittleEndian.Uint32(storedCRC[:])
	gotCRC := crc32.Checksum(footerWithoutCRC, castagnoli)
	if gotCRC != wantCRC {
		return nil, zvecerr.New("format.Load", zvecerr.InvalidFormat).WithContext("reason", "footer crc32c mismatch")
	}

	dirBytes := make([]byte, dirLength)
	if _, err := r.ReadAt(dirBytes, int64(dirOffset)); err != nil {
		return nil, zvecerr.Wrap("format.Load", zvecerr.IO, err)
	}
	br := bytes.NewReader(dirBytes)
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, zvecerr.Wrap("format.Load", zvecerr.InvalidFormat, err)
	}

	segments := make(map[string]Segment, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(br, binary.LittleEndian, &nameLen); err != nil {
			return nil, zvecerr.Wrap("format.Load", zvecerr.InvalidFormat, err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(br, nameBuf); err != nil {
			return nil, zvecerr.Wrap("format.Load", zvecerr.InvalidFormat, err)
		}
		var entryOffset, entryLength uint64
		var typeTag, entryCRC uint32
		binary.Read(br, binary.LittleEndian, &entryOffset)
		binary.Read(br, binary.LittleEndian, &entryLength)
		binary.Read(br, binary.LittleEndian, &typeTag)
		binary.Read(br, binary.LittleEndian, &entryCRC)

		if int64(entryOffset+entryLength) > size {
			return nil, zvecerr.New("format.Load", zvecerr.InvalidFormat).WithContext("reason", "segment offset out of range")
		}
		data := make([]byte, entryLength)
		if entryLength > 0 {
			if _, err := r.ReadAt(data, int64(entryOffset)); err != nil {
				return nil, zvecerr.Wrap("format.Load", zvecerr.IO, err)
			}
		}
		if crc32.Checksum(data, castagnoli) != entryCRC {
			return nil, zvecerr.New("format.Load", zvecerr.InvalidFormat).WithContext("reason", fmt.Sprintf("segment %s crc32c mismatch", nameBuf))
		}
		segments[string(nameBuf)] = Segment{Data: data, TypeTag: typeTag}
	}

	return segments, nil
}
