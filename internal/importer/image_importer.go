package importer

import (
	"bytes"
	"image"
	_ "image/png"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/schema"
)

// ImageImporter is the reference importer grounded on
// original_source/m3/src/importers/image_importer.rs: a .png file becomes
// an ImageAsset (with a "compress" flag and a reference to its imported
// pixel data) plus a companion ImageImportedData asset carrying the raw
// decoded bytes. Dimension decoding uses the standard library's
// image/png decoder: no importer in the retrieval pack brings in a
// third-party image codec, and Go's own is the only one available.
type ImageImporter struct {
	id               fhash.Digest128
	imageAssetSF     schema.SF
	importedDataSF   schema.SF
}

func NewImageImporter(imageAssetSF, importedDataSF schema.SF) *ImageImporter {
	return &ImageImporter{
		id:             fhash.Sum128([]byte("importer:image")),
		imageAssetSF:   imageAssetSF,
		importedDataSF: importedDataSF,
	}
}

func (i *ImageImporter) ID() fhash.Digest128            { return i.id }
func (i *ImageImporter) SupportedExtensions() []string  { return []string{"png"} }
func (i *ImageImporter) AssetTypesProduced() []schema.SF { return []schema.SF{i.imageAssetSF, i.importedDataSF} }

// Scan reports the asset and its companion imported-data importable.
// Images don't reference other source files, matching the Rust
// reference's empty scan_file.
func (i *ImageImporter) Scan(ctx ScanContext) (*ScanResult, error) {
	name := filepath.Base(ctx.Path)
	return &ScanResult{
		Importables: []Importable{
			{Name: name, AssetSchema: i.imageAssetSF},
			{Name: name + "#imported_data", AssetSchema: i.importedDataSF},
		},
	}, nil
}

func (i *ImageImporter) Import(ctx ImportContext) (map[string]ImportedAsset, error) {
	raw, err := afero.ReadFile(ctx.Fs, ctx.Path)
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	name := filepath.Base(ctx.Path)
	importedDataName := name + "#imported_data"
	importedDataRef := ctx.AssignedIDs[importedDataName]

	out := map[string]ImportedAsset{
		name: {
			DefaultAsset: map[dataset.Path]dataset.Value{
				"compress":      dataset.BoolValue(true),
				"imported_data": dataset.AssetRefValue(importedDataRef),
			},
		},
		importedDataName: {
			DefaultAsset: map[dataset.Path]dataset.Value{
				"width":  dataset.U32Value(uint32(cfg.Width)),
				"height": dataset.U32Value(uint32(cfg.Height)),
			},
			ImportData: map[dataset.Path]dataset.Value{
				"image_bytes": dataset.BytesValue(raw),
			},
		},
	}
	return out, nil
}
