package importer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/schema"
)

// testAssetSchemas links the two record types ImageImporter produces.
func testAssetSchemas(t *testing.T) (*schema.Registry, schema.SF, schema.SF) {
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

func writeTestPNG(t *testing.T, fs afero.Fs, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func TestImageImporter_ScanReportsAssetAndImportedDataPair(t *testing.T) {
	_, imageSF, importedDataSF := testAssetSchemas(t)
	imp := NewImageImporter(imageSF, importedDataSF)
	fs := afero.NewMemMapFs()
	writeTestPNG(t, fs, "/proj/tex.png", 4, 8)

	res, err := imp.Scan(ScanContext{Fs: fs, Path: "/proj/tex.png"})
	require.NoError(t, err)
	require.Len(t, res.Importables, 2)
	require.Equal(t, "tex.png", res.Importables[0].Name)
	require.Equal(t, "tex.png#imported_data", res.Importables[1].Name)
}

func TestImageImporter_ImportProducesConsistentCrossReference(t *testing.T) {
	_, imageSF, importedDataSF := testAssetSchemas(t)
	imp := NewImageImporter(imageSF, importedDataSF)
	fs := afero.NewMemMapFs()
	writeTestPNG(t, fs, "/proj/tex.png", 4, 8)

	importedDataID := dataset.NewAID()
	out, err := imp.Import(ImportContext{
		Fs:        fs,
		Path:      "/proj/tex.png",
		Requested: []string{"tex.png", "tex.png#imported_data"},
		AssignedIDs: map[string]dataset.AID{
			"tex.png":                dataset.NewAID(),
			"tex.png#imported_data": importedDataID,
		},
	})
	require.NoError(t, err)

	asset, ok := out["tex.png"]
	require.True(t, ok)
	ref := asset.DefaultAsset["imported_data"]
	require.Equal(t, dataset.VAssetRef, ref.Kind)
	require.Equal(t, importedDataID, ref.AssetRef, "the asset-ref value must match the pre-assigned id of the companion importable")

	data, ok := out["tex.png#imported_data"]
	require.True(t, ok)
	require.Equal(t, dataset.U32Value(4), data.DefaultAsset["width"])
	require.Equal(t, dataset.U32Value(8), data.DefaultAsset["height"])
	require.NotEmpty(t, data.ImportData["image_bytes"].Bytes)
}

// stubResolver resolves a namespace-relative reference to a path directly
// under a fixed root, enough to exercise the orchestrator's recursion
// without a real internal/project namespace resolver.
type stubResolver struct{ root string }

func (r stubResolver) Resolve(ref CanonicalPathReference) (string, error) {
	return r.root + "/" + ref.Path, nil
}

// countingImporter wraps an Importer and counts Import calls per path, to
// assert the orchestrator's single-flight dedup actually prevents a
// concurrently-referenced file from being imported twice.
type countingImporter struct {
	Importer
	imports *int32
}

func (c countingImporter) Import(ctx ImportContext) (map[string]ImportedAsset, error) {
	atomic.AddInt32(c.imports, 1)
	return c.Importer.Import(ctx)
}

func TestOrchestrator_ImportSingleFile(t *testing.T) {
	_, imageSF, importedDataSF := testAssetSchemas(t)
	fs := afero.NewMemMapFs()
	writeTestPNG(t, fs, "/proj/tex.png", 2, 2)

	reg := NewRegistry()
	reg.Register(NewImageImporter(imageSF, importedDataSF))

	schemaReg, _, _ := testAssetSchemas(t)
	ds := dataset.New(schemaReg)

	orch := NewOrchestrator(reg, ds, fs, stubResolver{root: "/proj"}, NewMemImportDataStore(), 4)
	result, err := orch.Import(context.Background(), "/proj/tex.png")
	require.NoError(t, err)
	require.Len(t, result, 2)

	assetID := result["tex.png"]
	dataID := result["tex.png#imported_data"]
	require.True(t, ds.Exists(assetID))
	require.True(t, ds.Exists(dataID))

	ref, err := ds.ResolveProperty(assetID, "imported_data")
	require.NoError(t, err)
	require.Equal(t, dataID, ref.AssetRef)
}

func TestOrchestrator_ConcurrentReferencesToSameFileImportOnce(t *testing.T) {
	_, imageSF, importedDataSF := testAssetSchemas(t)
	fs := afero.NewMemMapFs()
	writeTestPNG(t, fs, "/proj/shared.png", 2, 2)

	var imports int32
	reg := NewRegistry()
	reg.Register(countingImporter{Importer: NewImageImporter(imageSF, importedDataSF), imports: &imports})

	schemaReg, _, _ := testAssetSchemas(t)
	ds := dataset.New(schemaReg)

	orch := NewOrchestrator(reg, ds, fs, stubResolver{root: "/proj"}, NewMemImportDataStore(), 4)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := orch.Import(context.Background(), "/proj/shared.png")
			errs <- err
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	require.EqualValues(t, 1, atomic.LoadInt32(&imports), "two concurrent Import calls for one path must import it only once")
}
