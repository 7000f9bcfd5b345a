package jobs

import (
	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/schema"
)

// ArtifactId is the same 128-bit digest primitive as JobId (spec.md §3:
// "uuid(asset_id) for the default artifact or hash128(asset_id,
// artifact_key) for keyed secondary artifacts").
type ArtifactId = fhash.Digest128

// DefaultArtifactId is the artifact id for an asset's single unkeyed
// artifact: its asset id reinterpreted as a digest, not rehashed, so the
// mapping is invertible by inspection.
func DefaultArtifactId(assetID dataset.AID) ArtifactId {
	var id ArtifactId
	copy(id[:], assetID[:])
	return id
}

// KeyedArtifactId derives a secondary artifact's id from its owning asset
// and a caller-chosen key (e.g. a mip level, a language variant).
func KeyedArtifactId(assetID dataset.AID, key string) ArtifactId {
	return fhash.Sum128(assetID[:], []byte(key))
}

// BuiltArtifact is one artifact a processor has produced via ProduceArtifact.
//
// Dependencies is supplied directly by the caller rather than captured
// automatically during serialization: the Rust original threads a
// thread-local serde context that records every AssetRef a value's
// Serialize impl visits. Reproducing that requires a custom encoding
// framework none of the corpus's serialization libraries provide, so
// SPEC_FULL.md's Open Question is resolved by asking the processor to
// list the artifact ids it depends on explicitly — no information is
// lost, the bookkeeping just moves to the call site.
type BuiltArtifact struct {
	AssetId      dataset.AID
	ArtifactId   ArtifactId
	ArtifactType schema.SF
	Dependencies []ArtifactId
	Payload      []byte
}

// ArtifactSink receives artifacts as processors produce them. internal/b3f
// supplies the real write-to-temp-then-rename implementation; tests use
// MemArtifactSink.
type ArtifactSink interface {
	Write(a BuiltArtifact) error
}

// MemArtifactSink is the trivial in-memory ArtifactSink.
type MemArtifactSink struct {
	Artifacts []BuiltArtifact
}

func NewMemArtifactSink() *MemArtifactSink { return &MemArtifactSink{} }

func (s *MemArtifactSink) Write(a BuiltArtifact) error {
	s.Artifacts = append(s.Artifacts, a)
	return nil
}
