package engine

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/importer"
	"github.com/foundryforge/foundry/internal/jobs"
	"github.com/foundryforge/foundry/internal/kv"
	"github.com/foundryforge/foundry/internal/schema"
)

func testImageSchemas(t *testing.T) (*schema.Registry, schema.SF, schema.SF) {
	t.Helper()
	defs := []*schema.NamedTypeDef{
		{Kind: schema.RecordKind, Name: "ImageAsset", Fields: []schema.FieldDef{
			{Name: "compress", Type: schema.FieldTypeDef{Kind: schema.DefPrimitive, Primitive: schema.Bool}},
			{Name: "imported_data", Type: schema.FieldTypeDef{Kind: schema.DefAssetRef, RefName: "ImageImportedData"}},
		}},
		{Kind: schema.RecordKind, Name: "ImageImportedData", Fields: []schema.FieldDef{
			{Name: "width", Type: schema.FieldTypeDef{Kind: schema.DefPrimitive, Primitive: schema.U32}},
			{Name: "height", Type: schema.FieldTypeDef{Kind: schema.DefPrimitive, Primitive: schema.U32}},
		}},
	}
	reg := schema.NewRegistry()
	require.NoError(t, reg.Link(defs))
	imageSF, ok := reg.Find("ImageAsset")
	require.True(t, ok)
	importedDataSF, ok := reg.Find("ImageImportedData")
	require.True(t, ok)
	return reg, imageSF, importedDataSF
}

// noopImporter never has anything queued against it in these tests; it
// exists only so Engine.New has something satisfying the Importer
// interface.
type noopImporter struct{}

func (noopImporter) Import(ctx context.Context, path string) (map[string]dataset.AID, error) {
	return nil, nil
}

var _ Importer = noopImporter{}
var _ Importer = (*importer.Orchestrator)(nil)

func setupImageEngine(t *testing.T) (*Engine, *dataset.DataSet, dataset.AID, *importer.MemImportDataStore, afero.Fs) {
	t.Helper()
	reg, imageSF, importedDataSF := testImageSchemas(t)
	ds := dataset.New(reg)

	importedID, err := ds.NewAsset(nil, dataset.NilAID, importedDataSF)
	require.NoError(t, err)
	_, err = ds.SetProperty(importedID, "width", dataset.U32Value(4))
	require.NoError(t, err)
	_, err = ds.SetProperty(importedID, "height", dataset.U32Value(8))
	require.NoError(t, err)
	require.NoError(t, ds.MarkGenerated(importedID))

	importData := importer.NewMemImportDataStore()
	require.NoError(t, importData.Put(importedID, map[dataset.Path]dataset.Value{
		"image_bytes": dataset.BytesValue([]byte{1, 2, 3, 4}),
	}))

	imageID, err := ds.NewAsset(nil, dataset.NilAID, imageSF)
	require.NoError(t, err)
	_, err = ds.SetProperty(imageID, "compress", dataset.BoolValue(true))
	require.NoError(t, err)
	_, err = ds.SetProperty(imageID, "imported_data", dataset.AssetRefValue(importedID))
	require.NoError(t, err)

	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sink := jobs.NewMemArtifactSink()
	exec := jobs.New(store, sink, zap.NewNop(), nil)

	builders := NewBuilderRegistry()
	builders.Register(NewImageBuilder(imageSF, importedDataSF))

	fs := afero.NewMemMapFs()
	eng := New(ds, reg, noopImporter{}, exec, builders, importData, fs, "/build", zap.NewNop())
	eng.RegisterBuilders()
	exec.Start(context.Background(), 2, ds, reg, importData)
	t.Cleanup(exec.Stop)

	return eng, ds, imageID, importData, fs
}

func TestEngine_BuildCycleProducesManifest(t *testing.T) {
	eng, _, imageID, _, fs := setupImageEngine(t)

	logs, err := eng.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Idle, eng.State())

	var sawEnqueue, sawManifest bool
	for _, l := range logs {
		if l.AssetId != nil && *l.AssetId == imageID {
			sawEnqueue = true
		}
		if l.Level == "info" && l.SourcePath == "" && l.AssetId == nil {
			sawManifest = true
		}
	}
	assert.True(t, sawEnqueue, "expected a log entry for the built asset")
	assert.True(t, sawManifest, "expected a manifest log entry")

	entries, err := afero.ReadDir(fs, "/build/manifests")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestEngine_SecondTickWithNoChangesBuildsNothing(t *testing.T) {
	eng, _, _, _, fs := setupImageEngine(t)

	_, err := eng.Tick(context.Background())
	require.NoError(t, err)
	first, err := afero.ReadDir(fs, "/build/manifests")
	require.NoError(t, err)
	require.Len(t, first, 1)

	logs, err := eng.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, logs, "an unchanged asset set should produce no log entries on the next tick")

	second, err := afero.ReadDir(fs, "/build/manifests")
	require.NoError(t, err)
	assert.Len(t, second, 1, "no new manifest should be written when nothing is stale")
}

func TestEngine_PropertyEditMarksAssetStaleAgain(t *testing.T) {
	eng, ds, imageID, _, fs := setupImageEngine(t)

	_, err := eng.Tick(context.Background())
	require.NoError(t, err)

	_, err = ds.SetProperty(imageID, "compress", dataset.BoolValue(false))
	require.NoError(t, err)

	logs, err := eng.Tick(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, logs, "editing a built asset's property should make it stale again")

	entries, err := afero.ReadDir(fs, "/build/manifests")
	require.NoError(t, err)
	assert.Len(t, entries, 2, "a second distinct manifest should be written")
}

func TestEngine_ImportCycleRunsBeforeBuildCycle(t *testing.T) {
	eng, _, _, _, _ := setupImageEngine(t)
	eng.RequestImport("/proj/new.png")

	logs, err := eng.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "/proj/new.png", logs[0].SourcePath)
	assert.Equal(t, Idle, eng.State())
}

func TestCombinedBuildHash_OrderIndependent(t *testing.T) {
	a := dataset.NewAID()
	b := dataset.NewAID()
	h1 := fhashOf(a)
	h2 := fhashOf(b)

	recs1 := []ManifestRecord{{AssetId: a, ArtifactHash: h1}, {AssetId: b, ArtifactHash: h2}}
	recs2 := []ManifestRecord{{AssetId: b, ArtifactHash: h2}, {AssetId: a, ArtifactHash: h1}}

	assert.Equal(t, CombinedBuildHash(recs1), CombinedBuildHash(recs2))
}

func TestEngine_RunUntilIdleTimeoutIsRespected(t *testing.T) {
	// Sanity check that the executor wiring in these tests actually
	// drains within the timeout used by runBuildCycle, so a hang here
	// would fail loudly instead of silently passing an empty-logs test.
	eng, _, _, _, _ := setupImageEngine(t)
	done := make(chan struct{})
	go func() {
		_, _ = eng.Tick(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine Tick did not return in time")
	}
}

func fhashOf(aid dataset.AID) (d [16]byte) {
	copy(d[:], aid[:])
	return d
}
