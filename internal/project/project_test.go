package project

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/foundryforge/foundry/internal/importer"
)

const testProjectJSON = `{
  "schema_def_paths": ["schemas"],
  "schema_cache_file_path": "cache/schema_cache.json",
  "import_data_path": "import_data",
  "build_data_path": "build",
  "job_data_path": "job_data",
  "id_based_asset_sources": [{"name": "assets", "path": "assets"}],
  "path_based_asset_sources": [{"name": "content", "path": "content"}],
  "source_file_locations": [{"name": "raw", "path": "../raw_sources"}],
  "schema_codegen_jobs": []
}`

func writeTestProject(t *testing.T) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/foundry_project.json", []byte(testProjectJSON), 0o644))
	return fs, "/proj/foundry_project.json"
}

func TestLoad_ResolvesRelativePathsAndCreatesDirs(t *testing.T) {
	fs, path := writeTestProject(t)
	cfg, err := Load(fs, path)
	require.NoError(t, err)

	require.Equal(t, "/proj/import_data", cfg.ImportDataPath)
	require.Equal(t, "/proj/build", cfg.BuildDataPath)
	require.Equal(t, "/proj/job_data", cfg.JobDataPath)
	require.Equal(t, "/proj/cache/schema_cache.json", cfg.SchemaCacheFilePath)
	require.Equal(t, []string{"/proj/schemas"}, cfg.SchemaDefPaths)
	require.Equal(t, "/raw_sources", cfg.SourceFileLocations[0].Path)

	for _, dir := range []string{cfg.ImportDataPath, cfg.BuildDataPath, cfg.JobDataPath, "/proj/cache", cfg.SchemaDefPaths[0]} {
		exists, err := afero.DirExists(fs, dir)
		require.NoError(t, err)
		require.True(t, exists, "expected %s to be created", dir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "/nope/foundry_project.json")
	require.Error(t, err)
}

func TestLocateAndLoad_WalksParentDirectories(t *testing.T) {
	fs, _ := writeTestProject(t)
	require.NoError(t, fs.MkdirAll("/proj/sub/deeper", 0o755))

	cfg, found, err := LocateAndLoad(fs, "/proj/sub/deeper")
	require.NoError(t, err)
	require.Equal(t, "/proj/foundry_project.json", found)
	require.Equal(t, "/proj/build", cfg.BuildDataPath)
}

func TestLocateAndLoad_NotFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/somewhere/deep", 0o755))
	_, _, err := LocateAndLoad(fs, "/somewhere/deep")
	require.Error(t, err)
}

func TestResolver_ResolveKnownNamespace(t *testing.T) {
	fs, path := writeTestProject(t)
	cfg, err := Load(fs, path)
	require.NoError(t, err)
	r := NewResolver(cfg)

	resolved, err := r.Resolve(importer.CanonicalPathReference{Namespace: "content", Path: "textures/rock.png"})
	require.NoError(t, err)
	require.Equal(t, "/proj/content/textures/rock.png", resolved)
}

func TestResolver_ResolveUnknownNamespace(t *testing.T) {
	fs, path := writeTestProject(t)
	cfg, err := Load(fs, path)
	require.NoError(t, err)
	r := NewResolver(cfg)

	_, err = r.Resolve(importer.CanonicalPathReference{Namespace: "ghost", Path: "x"})
	require.Error(t, err)
}

func TestResolver_ResolveEmptyNamespacePassesThrough(t *testing.T) {
	fs, path := writeTestProject(t)
	cfg, err := Load(fs, path)
	require.NoError(t, err)
	r := NewResolver(cfg)

	resolved, err := r.Resolve(importer.CanonicalPathReference{Namespace: "", Path: "/already/absolute/path.png"})
	require.NoError(t, err)
	require.Equal(t, "/already/absolute/path.png", resolved)
}

func TestResolver_SimplifyRoundTrip(t *testing.T) {
	fs, path := writeTestProject(t)
	cfg, err := Load(fs, path)
	require.NoError(t, err)
	r := NewResolver(cfg)

	abs, err := r.Resolve(importer.CanonicalPathReference{Namespace: "assets", Path: "foo/bar.mat"})
	require.NoError(t, err)

	ns, rel, ok := r.Simplify(abs)
	require.True(t, ok)
	require.Equal(t, "assets", ns)
	require.Equal(t, "foo/bar.mat", rel)
}

func TestResolver_SimplifyNoMatch(t *testing.T) {
	fs, path := writeTestProject(t)
	cfg, err := Load(fs, path)
	require.NoError(t, err)
	r := NewResolver(cfg)

	_, _, ok := r.Simplify("/totally/unrelated/path")
	require.False(t, ok)
}

func TestConfig_ArtifactAndImportDataFanoutPaths(t *testing.T) {
	fs, path := writeTestProject(t)
	cfg, err := Load(fs, path)
	require.NoError(t, err)

	var id [16]byte
	for i := range id {
		id[i] = byte(i)
	}
	importPath := cfg.ImportDataFilePath(id)
	artifactPath := cfg.ArtifactFilePath(id)
	require.Contains(t, importPath, cfg.ImportDataPath)
	require.Contains(t, artifactPath, cfg.BuildDataPath)
	require.True(t, len(importPath) > len(cfg.ImportDataPath))
	require.Equal(t, "/proj/build/manifests", cfg.ManifestDir())
}
