// Package b3f implements the blocked binary container spec.md §4.H names
// ("B3F"): import-data (.if, tag HYIF) and artifact (.bf, tag HYAF) files
// share this one container format, differing only in what they put in
// which block.
package b3f

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/foundryforge/foundry/internal/ferrors"
)

const headerFixedSize = 4 + 2 + 4 // tag + version + block_count

// Writer accumulates blocks and serializes them into the container layout
// spec.md §4.H specifies: a fixed header, two offset/length tables, then
// 8-byte-aligned block payloads.
type Writer struct {
	tag     [4]byte
	version uint16
	blocks  [][]byte
}

func NewWriter(tag [4]byte, version uint16) *Writer {
	return &Writer{tag: tag, version: version}
}

// AddBlock appends a block and returns its index.
func (w *Writer) AddBlock(payload []byte) int {
	w.blocks = append(w.blocks, payload)
	return len(w.blocks) - 1
}

// WriteTo renders the full container to dst.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	n := len(w.blocks)
	tableSize := int64(headerFixedSize) + int64(n)*8*2

	offsets := make([]uint64, n)
	lengths := make([]uint64, n)
	pos := align8(tableSize)
	for i, b := range w.blocks {
		offsets[i] = uint64(pos)
		lengths[i] = uint64(len(b))
		pos = align8(pos + int64(len(b)))
	}

	var buf bytes.Buffer
	buf.Write(w.tag[:])
	writeU16(&buf, w.version)
	writeU32(&buf, uint32(n))
	for _, o := range offsets {
		writeU64(&buf, o)
	}
	for _, l := range lengths {
		writeU64(&buf, l)
	}
	if pad := align8(int64(buf.Len())) - int64(buf.Len()); pad > 0 {
		buf.Write(make([]byte, pad))
	}

	for i, b := range w.blocks {
		if gap := int64(offsets[i]) - int64(buf.Len()); gap > 0 {
			buf.Write(make([]byte, gap))
		}
		buf.Write(b)
	}
	if pad := align8(int64(buf.Len())) - int64(buf.Len()); pad > 0 {
		buf.Write(make([]byte, pad))
	}

	return buf.WriteTo(dst)
}

// Reader parses a container's header and offset/length tables, then reads
// blocks on demand from the backing ReaderAt.
type Reader struct {
	tag     [4]byte
	version uint16
	offsets []uint64
	lengths []uint64
}

// NewReader reads and validates the header of a container backed by r,
// which must expose at least the full header and tables (the caller knows
// the file's total size; ReadAt errors past EOF propagate as read errors).
func NewReader(r io.ReaderAt) (*Reader, error) {
	var fixed [headerFixedSize]byte
	if _, err := r.ReadAt(fixed[:], 0); err != nil {
		return nil, ferrors.Wrap(ferrors.IO, err, "", "b3f: read container header")
	}

	rd := &Reader{}
	copy(rd.tag[:], fixed[0:4])
	rd.version = binary.LittleEndian.Uint16(fixed[4:6])
	count := binary.LittleEndian.Uint32(fixed[6:10])

	tableBytes := make([]byte, int(count)*8*2)
	if len(tableBytes) > 0 {
		if _, err := r.ReadAt(tableBytes, headerFixedSize); err != nil {
			return nil, ferrors.Wrap(ferrors.IO, err, "", "b3f: read block tables")
		}
	}

	rd.offsets = make([]uint64, count)
	rd.lengths = make([]uint64, count)
	for i := 0; i < int(count); i++ {
		rd.offsets[i] = binary.LittleEndian.Uint64(tableBytes[i*8 : i*8+8])
	}
	lenBase := int(count) * 8
	for i := 0; i < int(count); i++ {
		rd.lengths[i] = binary.LittleEndian.Uint64(tableBytes[lenBase+i*8 : lenBase+i*8+8])
	}
	return rd, nil
}

func (r *Reader) Tag() [4]byte    { return r.tag }
func (r *Reader) Version() uint16 { return r.version }
func (r *Reader) BlockCount() int { return len(r.offsets) }

// ReadBlock reads block i's payload from the backing ReaderAt.
func (r *Reader) ReadBlock(ra io.ReaderAt, i int) ([]byte, error) {
	if i < 0 || i >= len(r.offsets) {
		return nil, ferrors.Wrap(ferrors.IO, ferrors.ErrBlockIndexOutOfRange, "", "")
	}
	buf := make([]byte, r.lengths[i])
	if len(buf) == 0 {
		return buf, nil
	}
	if _, err := ra.ReadAt(buf, int64(r.offsets[i])); err != nil {
		return nil, ferrors.Wrap(ferrors.IO, err, "", "b3f: read block payload")
	}
	return buf, nil
}

func align8(n int64) int64 { return (n + 7) &^ 7 }

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
