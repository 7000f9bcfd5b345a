// Package project implements project configuration and namespace
// resolution (spec.md §6): a JSON config file whose relative paths
// resolve against the config file's own directory, and the namespace
// resolver that turns "namespace://relative/path#importable" references
// into absolute filesystem paths and back.
package project

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"github.com/foundryforge/foundry/internal/datasource"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/importer"
)

// NamePathPair is one named root in the config, grounded on
// original_source/hydrate-pipeline/src/project.rs's NamePathPairJson.
type NamePathPair struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// SchemaCodegenJob names a schema-to-code generation pass; recorded but
// not acted on (spec.md's Non-goals exclude codegen tooling), kept only
// so a project file the original wrote still round-trips.
type SchemaCodegenJob struct {
	Name                string   `json:"name"`
	SchemaPath          string   `json:"schema_path"`
	IncludedSchemaPaths []string `json:"included_schema_paths"`
	Outfile             string   `json:"outfile"`
}

// configJSON is the literal on-disk shape of the project file (spec.md §6).
type configJSON struct {
	SchemaDefPaths        []string           `json:"schema_def_paths"`
	SchemaCacheFilePath   string             `json:"schema_cache_file_path"`
	ImportDataPath        string             `json:"import_data_path"`
	BuildDataPath         string             `json:"build_data_path"`
	JobDataPath           string             `json:"job_data_path"`
	IDBasedAssetSources   []NamePathPair     `json:"id_based_asset_sources"`
	PathBasedAssetSources []NamePathPair     `json:"path_based_asset_sources"`
	SourceFileLocations   []NamePathPair     `json:"source_file_locations"`
	SchemaCodegenJobs     []SchemaCodegenJob `json:"schema_codegen_jobs"`
}

// Config is the resolved, directory-creating form of the project file:
// every path below is absolute, and every directory it names (other than
// SchemaCacheFilePath, which names a file) exists once Load returns.
type Config struct {
	SchemaDefPaths      []string
	SchemaCacheFilePath string
	ImportDataPath      string
	BuildDataPath       string
	JobDataPath         string

	IDBasedAssetSources   []NamePathPair
	PathBasedAssetSources []NamePathPair
	SourceFileLocations   []NamePathPair
	SchemaCodegenJobs     []SchemaCodegenJob
}

// SourceRoots returns every named root across all three source lists,
// for callers (like internal/datasource's multi-source loader) that
// need to enumerate sources without caring which list a name came from.
func (c *Config) SourceRoots() []NamePathPair {
	all := make([]NamePathPair, 0, len(c.IDBasedAssetSources)+len(c.PathBasedAssetSources)+len(c.SourceFileLocations))
	all = append(all, c.IDBasedAssetSources...)
	all = append(all, c.PathBasedAssetSources...)
	all = append(all, c.SourceFileLocations...)
	return all
}

// ProjectFileName is the conventional name LocateAndLoad searches parent
// directories for, matching the original's hydrate_project.json.
const ProjectFileName = "foundry_project.json"

// unverifiedAbsolutePath joins a possibly-relative json path onto root,
// leaving an already-absolute path untouched.
func unverifiedAbsolutePath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// resolveDir joins p onto root if relative, then creates it (and its
// parents) if missing — spec.md §6: "All relative paths resolve against
// the project file's directory; missing dirs are created."
func resolveDir(fs afero.Fs, root, p string) (string, error) {
	joined := unverifiedAbsolutePath(root, p)
	if err := fs.MkdirAll(joined, 0o755); err != nil {
		return "", ferrors.WrapIO(joined, err)
	}
	return joined, nil
}

// resolveFile is resolveDir's counterpart for a single file path (the
// schema cache): only its parent directory is created.
func resolveFile(fs afero.Fs, root, p string) (string, error) {
	joined := unverifiedAbsolutePath(root, p)
	if err := fs.MkdirAll(filepath.Dir(joined), 0o755); err != nil {
		return "", ferrors.WrapIO(joined, err)
	}
	return joined, nil
}

func resolvePairs(fs afero.Fs, root string, pairs []NamePathPair) ([]NamePathPair, error) {
	out := make([]NamePathPair, len(pairs))
	for i, p := range pairs {
		resolved, err := resolveDir(fs, root, p.Path)
		if err != nil {
			return nil, err
		}
		out[i] = NamePathPair{Name: p.Name, Path: resolved}
	}
	return out, nil
}

// Load reads and resolves the project file at path. fs is the afero
// filesystem every directory gets created through and every later
// Data Source/B3F read or write goes through — tests pass an
// afero.NewMemMapFs(), production code an afero.NewOsFs().
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, ferrors.WrapIO(path, err)
	}
	var cj configJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, ferrors.Wrap(ferrors.IO, err, path, "parse project file")
	}

	root := filepath.Dir(path)

	schemaCacheFilePath, err := resolveFile(fs, root, cj.SchemaCacheFilePath)
	if err != nil {
		return nil, err
	}
	importDataPath, err := resolveDir(fs, root, cj.ImportDataPath)
	if err != nil {
		return nil, err
	}
	buildDataPath, err := resolveDir(fs, root, cj.BuildDataPath)
	if err != nil {
		return nil, err
	}
	jobDataPath, err := resolveDir(fs, root, cj.JobDataPath)
	if err != nil {
		return nil, err
	}

	schemaDefPaths := make([]string, len(cj.SchemaDefPaths))
	for i, p := range cj.SchemaDefPaths {
		resolved, err := resolveDir(fs, root, p)
		if err != nil {
			return nil, err
		}
		schemaDefPaths[i] = resolved
	}

	idBased, err := resolvePairs(fs, root, cj.IDBasedAssetSources)
	if err != nil {
		return nil, err
	}
	pathBased, err := resolvePairs(fs, root, cj.PathBasedAssetSources)
	if err != nil {
		return nil, err
	}
	sourceFileLocations, err := resolvePairs(fs, root, cj.SourceFileLocations)
	if err != nil {
		return nil, err
	}

	// Codegen paths are recorded unverified: spec.md's Non-goals exclude
	// actually running codegen, so there's nothing here that needs the
	// directory to exist yet.
	codegen := make([]SchemaCodegenJob, len(cj.SchemaCodegenJobs))
	for i, j := range cj.SchemaCodegenJobs {
		included := make([]string, len(j.IncludedSchemaPaths))
		for k, ip := range j.IncludedSchemaPaths {
			included[k] = unverifiedAbsolutePath(root, ip)
		}
		codegen[i] = SchemaCodegenJob{
			Name:                j.Name,
			SchemaPath:          unverifiedAbsolutePath(root, j.SchemaPath),
			IncludedSchemaPaths: included,
			Outfile:             unverifiedAbsolutePath(root, j.Outfile),
		}
	}

	return &Config{
		SchemaDefPaths:        schemaDefPaths,
		SchemaCacheFilePath:   schemaCacheFilePath,
		ImportDataPath:        importDataPath,
		BuildDataPath:         buildDataPath,
		JobDataPath:           jobDataPath,
		IDBasedAssetSources:   idBased,
		PathBasedAssetSources: pathBased,
		SourceFileLocations:   sourceFileLocations,
		SchemaCodegenJobs:     codegen,
	}, nil
}

// LocateAndLoad walks up from searchDir looking for ProjectFileName,
// the same parent-directory search locate_project_file does.
func LocateAndLoad(fs afero.Fs, searchDir string) (*Config, string, error) {
	dir := searchDir
	for {
		candidate := filepath.Join(dir, ProjectFileName)
		if exists, _ := afero.Exists(fs, candidate); exists {
			cfg, err := Load(fs, candidate)
			return cfg, candidate, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, "", ferrors.Wrap(ferrors.IO, os.ErrNotExist, searchDir,
				ProjectFileName+" not found in this directory or any parent")
		}
		dir = parent
	}
}

// ImportDataFilePath is spec.md §6's fan-out path for an import-data
// file: "<import_data_path>/<aid[0]>/<aid[1..3]>/<aid[3..32]>.if".
func (c *Config) ImportDataFilePath(aid [16]byte) string {
	return filepath.Join(c.ImportDataPath, datasource.HexUUIDPath(aid, ".if"))
}

// ArtifactFilePath is spec.md §6's fan-out path for an artifact file:
// "<build_data_path>/<artifact_id[0]>/<artifact_id[1..3]>/<artifact_id[3..32]>.bf".
func (c *Config) ArtifactFilePath(artifactID [16]byte) string {
	return filepath.Join(c.BuildDataPath, datasource.HexUUIDPath(artifactID, ".bf"))
}

// ManifestDir is where manifest files live, spec.md §4.H:
// "<build_data_path>/manifests/".
func (c *Config) ManifestDir() string {
	return filepath.Join(c.BuildDataPath, "manifests")
}

var _ importer.Resolver = (*Resolver)(nil)

func strip(prefix, full string) (string, bool) {
	rel, err := filepath.Rel(prefix, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
