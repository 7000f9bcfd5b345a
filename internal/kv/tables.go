// Package kv wraps the embedded erigontech/mdbx-go key-value store used to
// persist the Job Executor's job history. Table naming follows the teacher's erigon-lib/kv/tables.go
// convention: a flat list of named string constants, one per logical
// table, each documented with its key/value shape.
package kv

// Table names. Adapted from erigon-lib/kv/tables.go's naming convention:
// a short PascalCase Go identifier paired with a comment describing the
// key and value layout, rather than a typed schema per table.
const (
	// JobHistory: JobId (16 bytes) -> bincoded(CBOR) JobHistoryRecord.
	// Persists cache-reuse metadata across process restarts (spec.md §4.F
	// algorithm step 1-3; Testable Scenario 5 requires this to survive a
	// stop/restart with zero edits).
	JobHistory = "JobHistory"

	// SchemaCacheIndex: SchemaFingerprint (16 bytes) -> offset+length into
	// the schema cache file. Created by Open; no package in this module
	// reads or writes it (the schema cache is a standalone CBOR file).
	SchemaCacheIndex = "SchemaCacheIndex"

	// ArtifactIndex: artifact_id (16 bytes) -> artifact content hash (16
	// bytes). Created by Open; no package in this module reads or writes
	// it.
	ArtifactIndex = "ArtifactIndex"
)

// Tables lists every table this project opens, so Store.Open can create
// them all up front the way erigon's kv.ChaindataTablesCfg does.
var Tables = []string{JobHistory, SchemaCacheIndex, ArtifactIndex}
