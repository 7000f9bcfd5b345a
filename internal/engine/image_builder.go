package engine

import (
	"context"

	"github.com/golang/snappy"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/jobs"
	"github.com/foundryforge/foundry/internal/schema"
)

// ImageBuilder is the reference Builder pairing internal/importer's
// ImageImporter, grounded on original_source/m3/src/pipeline/build.rs's
// Builder trait: its one dependency is the companion ImageImportedData
// asset referenced by the "imported_data" property, and its artifact
// payload is the imported pixel bytes, Snappy-encoded when the asset's
// "compress" property is true and passed through unchanged otherwise —
// no other codec transform, since no image-processing library appears
// anywhere in the retrieval pack beyond the standard library already used
// for decoding in internal/importer.
type ImageBuilder struct {
	imageAssetSF   schema.SF
	importedDataSF schema.SF
}

func NewImageBuilder(imageAssetSF, importedDataSF schema.SF) *ImageBuilder {
	return &ImageBuilder{imageAssetSF: imageAssetSF, importedDataSF: importedDataSF}
}

func (b *ImageBuilder) AssetType() schema.SF { return b.imageAssetSF }
func (b *ImageBuilder) Version() uint32      { return 1 }

func (b *ImageBuilder) Dependencies(aid dataset.AID, ds *dataset.DataSet, reg *schema.Registry) []dataset.AID {
	ref, err := ds.ResolveProperty(aid, "imported_data")
	if err != nil || ref.Kind != dataset.VAssetRef || ref.AssetRef == dataset.NilAID {
		return nil
	}
	return []dataset.AID{ref.AssetRef}
}

func (b *ImageBuilder) Build(ctx context.Context, aid dataset.AID, ds *dataset.DataSet, reg *schema.Registry, fetch jobs.Fetch) ([]byte, error) {
	ref, err := ds.ResolveProperty(aid, "imported_data")
	if err != nil {
		return nil, err
	}
	if ref.Kind != dataset.VAssetRef || ref.AssetRef == dataset.NilAID {
		return nil, ferrors.Wrap(ferrors.Build, ferrors.ErrMissingImportData, aid.String(), "image asset has no imported_data reference")
	}

	bag, err := fetch.ImportData(ref.AssetRef)
	if err != nil {
		return nil, err
	}
	pixels, ok := bag["image_bytes"]
	if !ok || pixels.Kind != dataset.VBytes {
		return nil, ferrors.Wrap(ferrors.Build, ferrors.ErrMissingImportData, ref.AssetRef.String(), "imported data missing image_bytes")
	}
	compress, err := ds.ResolveProperty(aid, "compress")
	if err != nil {
		return nil, err
	}
	if compress.Kind == dataset.VBool && compress.B {
		return snappy.Encode(nil, pixels.Bytes), nil
	}
	return pixels.Bytes, nil
}
