// Package importer implements the Importer Framework (spec.md §4.E): a
// plugin interface for turning a source file into one or more generated
// assets, plus a DFS-recursive orchestrator that imports a file's
// references before the file itself.
package importer

import (
	"github.com/spf13/afero"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/schema"
)

// CanonicalPathReference is spec.md §4.E's namespace-relative file
// reference: "namespace://relative/path#importable", resolved to an
// absolute filesystem path (and back) by a Resolver so that moving a
// project directory does not invalidate references.
type CanonicalPathReference struct {
	Namespace      string
	Path           string
	ImportableName string
}

// Resolver turns a CanonicalPathReference into an absolute path. Supplied
// by internal/project, since both the Importer Framework and Data Source
// need namespace resolution.
type Resolver interface {
	Resolve(ref CanonicalPathReference) (string, error)
}

// Importable is one unit scan() reports: a candidate asset, its declared
// schema, and any other source files/importers it references (spec.md
// §4.E). No bulk data is read at scan time.
type Importable struct {
	Name                string
	AssetSchema         schema.SF
	ReferencedPaths     map[string]CanonicalPathReference
	ReferencedImporters map[string]fhash.Digest128
}

// ScanResult is what scan() reports for one source file.
type ScanResult struct {
	Importables []Importable
}

// ImportedAsset is what import() produces for one requested importable:
// a property bag matching its declared schema, plus an optional
// (possibly large, possibly binary) import-data bag.
type ImportedAsset struct {
	DefaultAsset map[dataset.Path]dataset.Value
	ImportData   map[dataset.Path]dataset.Value
}

// ScanContext is the handle an Importer's Scan uses to open the source
// file without reading its bulk contents.
type ScanContext struct {
	Fs   afero.Fs
	Path string
}

// ImportContext is the handle Import uses to actually read and decode the
// source file for the subset of importables the orchestrator requested.
// AssignedIDs carries the asset id the orchestrator has already committed
// to using for every importable named in Requested (and only those), so
// an importer producing several cross-referencing importables in one pass
// (an asset plus its imported-data companion) can embed a forward
// reference to a sibling importable's real id instead of minting its own.
type ImportContext struct {
	Fs          afero.Fs
	Path        string
	Requested   []string
	AssignedIDs map[string]dataset.AID
}

// Importer is a plugin declaring {importer_id, supported_extensions,
// asset_types_produced} (spec.md §4.E).
type Importer interface {
	ID() fhash.Digest128
	SupportedExtensions() []string
	AssetTypesProduced() []schema.SF
	Scan(ctx ScanContext) (*ScanResult, error)
	Import(ctx ImportContext) (map[string]ImportedAsset, error)
}
