// Package fhash holds the content-addressing primitives shared by the
// Schema Registry (fingerprints) and the Job Executor (job/artifact ids):
// a 128-bit BLAKE3 digest, plus ordered/unordered combinators used by
// Data Set's hash_properties (spec.md §4.B, §9).
package fhash

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

// Digest128 is a 128-bit content hash, used for Schema Fingerprints,
// JobIds and artifact ids.
type Digest128 [16]byte

func (d Digest128) IsZero() bool { return d == Digest128{} }

// String renders the digest as 32 lowercase hex characters, the form used
// by manifest lines, asset/artifact file paths, and JSON persistence.
func (d Digest128) String() string { return hex.EncodeToString(d[:]) }

// ParseDigest128 parses the 32-hex-character form produced by String.
func ParseDigest128(s string) (Digest128, error) {
	var d Digest128
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return Digest128{}, errInvalidDigest
	}
	copy(d[:], b)
	return d, nil
}

var errInvalidDigest = digestFormatError{}

type digestFormatError struct{}

func (digestFormatError) Error() string { return "fhash: invalid 128-bit digest string" }

// Sum128 truncates a BLAKE3-256 digest to its first 16 bytes. BLAKE3 is a
// tree hash with no known structural weaknesses at truncated output
// lengths, and is already the teacher's hashing dependency of choice.
func Sum128(parts ...[]byte) Digest128 {
	h := blake3.New(32, nil)
	for _, p := range parts {
		lenPrefix(h, p)
	}
	full := h.Sum(nil)
	var out Digest128
	copy(out[:], full[:16])
	return out
}

// lenPrefix writes a length-prefixed chunk so that Sum128("ab","c") and
// Sum128("a","bc") never collide.
func lenPrefix(h *blake3.Hasher, p []byte) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(p)))
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(p)
}

// NamePlaceholder returns the stable cycle-break placeholder for a named
// type, per spec.md §4.A: "substituting a stable placeholder on cycles
// ... placeholder = the SHA of the type's name." We use the same Sum128
// primitive rather than introducing a second hash function for this one
// case.
func NamePlaceholder(name string) Digest128 {
	return Sum128([]byte("cycle-placeholder:"), []byte(name))
}

// UnorderedCombinator accumulates a set of xxhash digests commutatively
// (XOR), so the result does not depend on the iteration order of a Go map
// or a golang-set/v2 set — used for map-typed field entries, enum symbol
// sets, import-data bags, and dependency sets.
type UnorderedCombinator struct {
	acc uint64
}

func (c *UnorderedCombinator) Add(parts ...[]byte) {
	h := xxhash.New()
	for _, p := range parts {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(p)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(p)
	}
	c.acc ^= h.Sum64()
}

func (c *UnorderedCombinator) Sum64() uint64 { return c.acc }

// OrderedCombinator hashes a sequence where order matters — record field
// order, dynamic-array entry order — as a single running xxhash digest
// over a canonical byte stream.
type OrderedCombinator struct {
	h *xxhash.Digest
}

func NewOrderedCombinator() *OrderedCombinator {
	return &OrderedCombinator{h: xxhash.New()}
}

func (c *OrderedCombinator) Add(parts ...[]byte) {
	for _, p := range parts {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(p)))
		_, _ = c.h.Write(lenBuf[:])
		_, _ = c.h.Write(p)
	}
}

func (c *OrderedCombinator) Sum64() uint64 { return c.h.Sum64() }

// SortedKeys returns the keys of a string-keyed map in sorted order, used
// whenever a map must be traversed deterministically before being folded
// into an OrderedCombinator (e.g. record field maps keyed by name, where
// the schema itself fixes an order elsewhere, or ad hoc diagnostic dumps).
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
